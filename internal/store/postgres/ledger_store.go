package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/deedmarket/deedmarket/internal/domain"
)

// LedgerStore implements domain.LedgerStore using PostgreSQL.
type LedgerStore struct {
	client *Client
}

// NewLedgerStore creates a LedgerStore backed by the given client.
func NewLedgerStore(client *Client) *LedgerStore {
	return &LedgerStore{client: client}
}

// CreateAsset records the singleton settlement asset.
func (s *LedgerStore) CreateAsset(ctx context.Context, a domain.Asset) error {
	const query = `
		INSERT INTO asset (name, symbol, decimals, monitor_supply, total_supply, cap_holder)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.client.db(ctx).Exec(ctx, query,
		a.Name, a.Symbol, int16(a.Decimals), a.MonitorSupply, int64(a.TotalSupply), a.CapHolder,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: asset: %w", domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create asset: %w", err)
	}
	return nil
}

// GetAsset returns the asset record.
func (s *LedgerStore) GetAsset(ctx context.Context) (domain.Asset, error) {
	const query = `
		SELECT name, symbol, decimals, monitor_supply, total_supply, cap_holder, created_at
		FROM asset`

	var a domain.Asset
	var decimals int16
	var supply int64
	err := s.client.db(ctx).QueryRow(ctx, query).Scan(
		&a.Name, &a.Symbol, &decimals, &a.MonitorSupply, &supply, &a.CapHolder, &a.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Asset{}, fmt.Errorf("postgres: asset: %w", domain.ErrNotFound)
		}
		return domain.Asset{}, fmt.Errorf("postgres: get asset: %w", err)
	}
	a.Decimals = uint8(decimals)
	a.TotalSupply = uint64(supply)
	return a, nil
}

// AdjustSupply moves total supply by delta. The CHECK constraint rejects a
// burn below zero.
func (s *LedgerStore) AdjustSupply(ctx context.Context, delta int64) error {
	tag, err := s.client.db(ctx).Exec(ctx,
		`UPDATE asset SET total_supply = total_supply + $1`, delta)
	if err != nil {
		return fmt.Errorf("postgres: adjust supply by %d: %w", delta, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: asset: %w", domain.ErrNotFound)
	}
	return nil
}

// CreateHolding opens a zero balance for account; re-registration is a
// no-op.
func (s *LedgerStore) CreateHolding(ctx context.Context, account string) (bool, error) {
	const query = `
		INSERT INTO holdings (account) VALUES ($1)
		ON CONFLICT (account) DO NOTHING`

	tag, err := s.client.db(ctx).Exec(ctx, query, account)
	if err != nil {
		return false, fmt.Errorf("postgres: create holding %s: %w", account, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *LedgerStore) getHolding(ctx context.Context, account string, forUpdate bool) (domain.Holding, error) {
	query := `
		SELECT account, balance, frozen, created_at, updated_at
		FROM holdings WHERE account = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var h domain.Holding
	var balance int64
	err := s.client.db(ctx).QueryRow(ctx, query, account).Scan(
		&h.Account, &balance, &h.Frozen, &h.CreatedAt, &h.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Holding{}, fmt.Errorf("postgres: holding %s: %w", account, domain.ErrNotFound)
		}
		return domain.Holding{}, fmt.Errorf("postgres: get holding %s: %w", account, err)
	}
	h.Balance = uint64(balance)
	return h, nil
}

// GetHolding returns the holding for account.
func (s *LedgerStore) GetHolding(ctx context.Context, account string) (domain.Holding, error) {
	return s.getHolding(ctx, account, false)
}

// GetHoldingForUpdate returns the holding with a row lock held for the rest
// of the enclosing transaction.
func (s *LedgerStore) GetHoldingForUpdate(ctx context.Context, account string) (domain.Holding, error) {
	return s.getHolding(ctx, account, true)
}

// Credit adds amount to account's balance.
func (s *LedgerStore) Credit(ctx context.Context, account string, amount uint64) error {
	h, err := s.getHolding(ctx, account, txFromContext(ctx) != nil)
	if err != nil {
		return err
	}
	if h.Frozen {
		return fmt.Errorf("postgres: holding %s is frozen: %w", account, domain.ErrInvalidState)
	}

	_, err = s.client.db(ctx).Exec(ctx,
		`UPDATE holdings SET balance = balance + $1, updated_at = NOW() WHERE account = $2`,
		int64(amount), account)
	if err != nil {
		return fmt.Errorf("postgres: credit %s: %w", account, err)
	}
	return nil
}

// Debit subtracts amount from account's balance.
func (s *LedgerStore) Debit(ctx context.Context, account string, amount uint64) error {
	h, err := s.getHolding(ctx, account, txFromContext(ctx) != nil)
	if err != nil {
		return err
	}
	if h.Frozen {
		return fmt.Errorf("postgres: holding %s is frozen: %w", account, domain.ErrInvalidState)
	}
	if h.Balance < amount {
		return fmt.Errorf("postgres: debit %s by %d: %w", account, amount, domain.ErrInsufficientFunds)
	}

	tag, err := s.client.db(ctx).Exec(ctx,
		`UPDATE holdings SET balance = balance - $1, updated_at = NOW()
		 WHERE account = $2 AND balance >= $1`,
		int64(amount), account)
	if err != nil {
		return fmt.Errorf("postgres: debit %s: %w", account, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: debit %s by %d: %w", account, amount, domain.ErrInsufficientFunds)
	}
	return nil
}

// SetFrozen toggles whether account's holding accepts balance mutation.
func (s *LedgerStore) SetFrozen(ctx context.Context, account string, frozen bool) error {
	tag, err := s.client.db(ctx).Exec(ctx,
		`UPDATE holdings SET frozen = $1, updated_at = NOW() WHERE account = $2`,
		frozen, account)
	if err != nil {
		return fmt.Errorf("postgres: set frozen %s: %w", account, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: holding %s: %w", account, domain.ErrNotFound)
	}
	return nil
}

// Compile-time interface check.
var _ domain.LedgerStore = (*LedgerStore)(nil)
