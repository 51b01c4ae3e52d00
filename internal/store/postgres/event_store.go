package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/deedmarket/deedmarket/internal/domain"
)

// EventStore implements domain.EventStore using PostgreSQL. The table is
// append-only; events are written inside the same transaction as the state
// change they describe.
type EventStore struct {
	client *Client
}

// NewEventStore creates an EventStore backed by the given client.
func NewEventStore(client *Client) *EventStore {
	return &EventStore{client: client}
}

// Append writes one event with the full record of the state it describes.
func (s *EventStore) Append(ctx context.Context, category domain.EventCategory, detail map[string]any) error {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal event detail: %w", err)
	}

	const query = `INSERT INTO events (category, detail) VALUES ($1, $2)`
	if _, err := s.client.db(ctx).Exec(ctx, query, string(category), detailJSON); err != nil {
		return fmt.Errorf("postgres: append event %s: %w", category, err)
	}
	return nil
}

// List returns events, newest first, optionally filtered to one category.
func (s *EventStore) List(ctx context.Context, category domain.EventCategory, opts domain.ListOpts) ([]domain.Event, error) {
	query := `SELECT id, category, detail, created_at FROM events WHERE 1=1`
	args := []any{}
	argIdx := 1

	if category != "" {
		query += fmt.Sprintf(" AND category = $%d", argIdx)
		args = append(args, string(category))
		argIdx++
	}
	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC, id DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.client.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ListBefore returns all events recorded strictly before the cutoff, oldest
// first, for archival.
func (s *EventStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Event, error) {
	rows, err := s.client.db(ctx).Query(ctx,
		`SELECT id, category, detail, created_at FROM events
		 WHERE created_at < $1 ORDER BY created_at, id`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events before %s: %w", before, err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanEvents(rows rowScanner) ([]domain.Event, error) {
	var events []domain.Event
	for rows.Next() {
		var e domain.Event
		var category string
		var detailJSON []byte

		if err := rows.Scan(&e.ID, &category, &detailJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		e.Category = domain.EventCategory(category)

		if detailJSON != nil {
			if err := json.Unmarshal(detailJSON, &e.Detail); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal event detail: %w", err)
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: event rows: %w", err)
	}
	return events, nil
}

// Compile-time interface check.
var _ domain.EventStore = (*EventStore)(nil)
