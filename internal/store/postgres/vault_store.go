package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/deedmarket/deedmarket/internal/domain"
)

// VaultStore implements domain.VaultStore using PostgreSQL. The singleton
// CHECK constraint guarantees at most one vault record exists.
type VaultStore struct {
	client *Client
}

// NewVaultStore creates a VaultStore backed by the given client.
func NewVaultStore(client *Client) *VaultStore {
	return &VaultStore{client: client}
}

// Put stores the vault record exactly once.
func (s *VaultStore) Put(ctx context.Context, rec domain.VaultRecord) error {
	const query = `
		INSERT INTO vault (agent_address, key_blob, created_at)
		VALUES ($1, $2, $3)`

	_, err := s.client.db(ctx).Exec(ctx, query, rec.AgentAddress, rec.KeyBlob, rec.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: vault: %w", domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: put vault record: %w", err)
	}
	return nil
}

// Get returns the vault record.
func (s *VaultStore) Get(ctx context.Context) (domain.VaultRecord, error) {
	const query = `SELECT agent_address, key_blob, created_at FROM vault`

	var rec domain.VaultRecord
	err := s.client.db(ctx).QueryRow(ctx, query).Scan(
		&rec.AgentAddress, &rec.KeyBlob, &rec.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.VaultRecord{}, fmt.Errorf("postgres: vault: %w", domain.ErrNotFound)
		}
		return domain.VaultRecord{}, fmt.Errorf("postgres: get vault record: %w", err)
	}
	return rec, nil
}

// Compile-time interface check.
var _ domain.VaultStore = (*VaultStore)(nil)
