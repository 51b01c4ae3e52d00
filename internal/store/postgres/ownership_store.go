package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/deedmarket/deedmarket/internal/domain"
)

// OwnershipStore implements domain.OwnershipStore using PostgreSQL. The
// (owner, item_name) primary key enforces the one-record-per-name invariant
// within each account's index.
type OwnershipStore struct {
	client *Client
}

// NewOwnershipStore creates an OwnershipStore backed by the given client.
func NewOwnershipStore(client *Client) *OwnershipStore {
	return &OwnershipStore{client: client}
}

// Insert adds a record to the owner's index.
func (s *OwnershipStore) Insert(ctx context.Context, rec domain.OwnershipRecord) error {
	const query = `
		INSERT INTO ownership_records (owner, item_name, amount, created_at)
		VALUES ($1, $2, $3, $4)`

	_, err := s.client.db(ctx).Exec(ctx, query,
		rec.Owner, rec.ItemName, int64(rec.Amount), rec.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: ownership %s/%q: %w",
				rec.Owner, rec.ItemName, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: insert ownership %s/%q: %w", rec.Owner, rec.ItemName, err)
	}
	return nil
}

// Get returns the owner's record for itemName.
func (s *OwnershipStore) Get(ctx context.Context, owner, itemName string) (domain.OwnershipRecord, error) {
	const query = `
		SELECT owner, item_name, amount, created_at
		FROM ownership_records WHERE owner = $1 AND item_name = $2`

	var rec domain.OwnershipRecord
	var amount int64
	err := s.client.db(ctx).QueryRow(ctx, query, owner, itemName).Scan(
		&rec.Owner, &rec.ItemName, &amount, &rec.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.OwnershipRecord{}, fmt.Errorf("postgres: ownership %s/%q: %w",
				owner, itemName, domain.ErrNotFound)
		}
		return domain.OwnershipRecord{}, fmt.Errorf("postgres: get ownership %s/%q: %w", owner, itemName, err)
	}
	rec.Amount = uint64(amount)
	return rec, nil
}

// Delete removes the owner's record for itemName.
func (s *OwnershipStore) Delete(ctx context.Context, owner, itemName string) error {
	tag, err := s.client.db(ctx).Exec(ctx,
		`DELETE FROM ownership_records WHERE owner = $1 AND item_name = $2`,
		owner, itemName)
	if err != nil {
		return fmt.Errorf("postgres: delete ownership %s/%q: %w", owner, itemName, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: ownership %s/%q: %w", owner, itemName, domain.ErrNotFound)
	}
	return nil
}

// HasIndex reports whether the owner's index holds any record.
func (s *OwnershipStore) HasIndex(ctx context.Context, owner string) (bool, error) {
	var exists bool
	err := s.client.db(ctx).QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM ownership_records WHERE owner = $1)`, owner,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: has index %s: %w", owner, err)
	}
	return exists, nil
}

// ListByOwner returns every record in the owner's index.
func (s *OwnershipStore) ListByOwner(ctx context.Context, owner string) ([]domain.OwnershipRecord, error) {
	rows, err := s.client.db(ctx).Query(ctx,
		`SELECT owner, item_name, amount, created_at
		 FROM ownership_records WHERE owner = $1 ORDER BY item_name`, owner)
	if err != nil {
		return nil, fmt.Errorf("postgres: list ownership %s: %w", owner, err)
	}
	defer rows.Close()

	var recs []domain.OwnershipRecord
	for rows.Next() {
		var rec domain.OwnershipRecord
		var amount int64
		if err := rows.Scan(&rec.Owner, &rec.ItemName, &amount, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan ownership: %w", err)
		}
		rec.Amount = uint64(amount)
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list ownership rows: %w", err)
	}
	return recs, nil
}

// Compile-time interface check.
var _ domain.OwnershipStore = (*OwnershipStore)(nil)
