package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/deedmarket/deedmarket/internal/domain"
)

// ListingStore implements domain.ListingStore using PostgreSQL. The
// item_name primary key is what enforces the one-listing-per-name registry
// invariant at the storage level.
type ListingStore struct {
	client *Client
}

// NewListingStore creates a ListingStore backed by the given client.
func NewListingStore(client *Client) *ListingStore {
	return &ListingStore{client: client}
}

// NextID draws the next value from the monotonic listing id sequence.
func (s *ListingStore) NextID(ctx context.Context) (uint64, error) {
	var id int64
	err := s.client.db(ctx).QueryRow(ctx, `SELECT nextval('listing_id_seq')`).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: next listing id: %w", err)
	}
	return uint64(id), nil
}

// Insert adds a listing to the registry.
func (s *ListingStore) Insert(ctx context.Context, l domain.Listing) error {
	const query = `
		INSERT INTO listings (item_name, price, listing_id, seller, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.client.db(ctx).Exec(ctx, query,
		l.ItemName, int64(l.Price), int64(l.ListingID), l.Seller, l.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: listing %q: %w", l.ItemName, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: insert listing %q: %w", l.ItemName, err)
	}
	return nil
}

// Get returns the active listing for itemName.
func (s *ListingStore) Get(ctx context.Context, itemName string) (domain.Listing, error) {
	const query = `
		SELECT item_name, price, listing_id, seller, created_at
		FROM listings WHERE item_name = $1`

	var l domain.Listing
	var price, id int64
	err := s.client.db(ctx).QueryRow(ctx, query, itemName).Scan(
		&l.ItemName, &price, &id, &l.Seller, &l.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Listing{}, fmt.Errorf("postgres: listing %q: %w", itemName, domain.ErrNotFound)
		}
		return domain.Listing{}, fmt.Errorf("postgres: get listing %q: %w", itemName, err)
	}
	l.Price = uint64(price)
	l.ListingID = uint64(id)
	return l, nil
}

// Delete removes the listing for itemName.
func (s *ListingStore) Delete(ctx context.Context, itemName string) error {
	tag, err := s.client.db(ctx).Exec(ctx,
		`DELETE FROM listings WHERE item_name = $1`, itemName)
	if err != nil {
		return fmt.Errorf("postgres: delete listing %q: %w", itemName, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: listing %q: %w", itemName, domain.ErrNotFound)
	}
	return nil
}

// List returns active listings, newest first.
func (s *ListingStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Listing, error) {
	query := `
		SELECT item_name, price, listing_id, seller, created_at
		FROM listings ORDER BY created_at DESC`
	args := []any{}
	argIdx := 1

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
		return nil, fmt.Errorf("postgres: list listings: %w", err)
	}
	defer rows.Close()

	var listings []domain.Listing
	for rows.Next() {
		var l domain.Listing
		var price, id int64
		if err := rows.Scan(&l.ItemName, &price, &id, &l.Seller, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan listing: %w", err)
		}
		l.Price = uint64(price)
		l.ListingID = uint64(id)
		listings = append(listings, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list listings rows: %w", err)
	}
	return listings, nil
}

// Compile-time interface check.
var _ domain.ListingStore = (*ListingStore)(nil)
