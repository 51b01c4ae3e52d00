package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// Transactor runs fn inside a single database transaction. Every store call
// made with the context passed to fn joins that transaction; if fn returns
// an error the whole unit rolls back with no visible effect. Nested calls
// join the enclosing transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// LedgerStore persists the settlement asset identity and per-account
// holdings.
type LedgerStore interface {
	// CreateAsset records the singleton asset. It returns ErrAlreadyExists
	// if the asset has already been initialized.
	CreateAsset(ctx context.Context, a Asset) error

	// GetAsset returns the asset record, or ErrNotFound before init.
	GetAsset(ctx context.Context) (Asset, error)

	// AdjustSupply moves total supply by delta (positive on mint, negative
	// on burn).
	AdjustSupply(ctx context.Context, delta int64) error

	// CreateHolding opens a zero balance for account. It reports whether a
	// new holding was created; re-registration is a no-op.
	CreateHolding(ctx context.Context, account string) (bool, error)

	// GetHolding returns the holding for account, or ErrNotFound.
	GetHolding(ctx context.Context, account string) (Holding, error)

	// GetHoldingForUpdate is GetHolding with a row lock; it must be called
	// inside a transaction.
	GetHoldingForUpdate(ctx context.Context, account string) (Holding, error)

	// Credit adds amount to account's balance. It returns ErrNotFound for
	// an unregistered account and ErrInvalidState for a frozen one.
	Credit(ctx context.Context, account string, amount uint64) error

	// Debit subtracts amount from account's balance. It returns ErrNotFound
	// for an unregistered account, ErrInvalidState for a frozen one, and
	// ErrInsufficientFunds when the balance does not cover amount.
	Debit(ctx context.Context, account string, amount uint64) error

	// SetFrozen toggles whether account's holding accepts balance mutation.
	SetFrozen(ctx context.Context, account string, frozen bool) error
}

// ListingStore persists the global listing registry keyed by item name.
type ListingStore interface {
	// NextID draws the next value from the monotonic listing id sequence.
	NextID(ctx context.Context) (uint64, error)

	// Insert adds a listing. It returns ErrAlreadyExists when the item name
	// is already listed.
	Insert(ctx context.Context, l Listing) error

	// Get returns the active listing for itemName, or ErrNotFound.
	Get(ctx context.Context, itemName string) (Listing, error)

	// Delete removes the listing for itemName, or returns ErrNotFound.
	Delete(ctx context.Context, itemName string) error

	// List returns active listings ordered by creation time descending.
	List(ctx context.Context, opts ListOpts) ([]Listing, error)
}

// OwnershipStore persists the per-account ownership indexes.
type OwnershipStore interface {
	// Insert adds a record to owner's index. It returns ErrAlreadyExists
	// when the index already holds a record for the item name.
	Insert(ctx context.Context, rec OwnershipRecord) error

	// Get returns owner's record for itemName, or ErrNotFound.
	Get(ctx context.Context, owner, itemName string) (OwnershipRecord, error)

	// Delete removes owner's record for itemName, or returns ErrNotFound.
	Delete(ctx context.Context, owner, itemName string) error

	// HasIndex reports whether owner's index holds any record at all.
	HasIndex(ctx context.Context, owner string) (bool, error)

	// ListByOwner returns every record in owner's index.
	ListByOwner(ctx context.Context, owner string) ([]OwnershipRecord, error)
}

// EventStore persists the append-only exchange log.
type EventStore interface {
	// Append writes one event. Called inside the same transaction as the
	// state change the event describes.
	Append(ctx context.Context, category EventCategory, detail map[string]any) error

	// List returns events, newest first, optionally filtered to one
	// category (empty category means all).
	List(ctx context.Context, category EventCategory, opts ListOpts) ([]Event, error)

	// ListBefore returns all events recorded strictly before the cutoff,
	// oldest first, for archival.
	ListBefore(ctx context.Context, before time.Time) ([]Event, error)
}

// VaultRecord is the persisted state of the capability vault: the module
// agent's address and its delegated signing key, encrypted at rest.
type VaultRecord struct {
	AgentAddress string
	KeyBlob      []byte
	CreatedAt    time.Time
}

// VaultStore persists the singleton capability vault record.
type VaultStore interface {
	// Put stores the vault record. It returns ErrAlreadyExists if the vault
	// has already been initialized.
	Put(ctx context.Context, rec VaultRecord) error

	// Get returns the vault record, or ErrNotFound before init.
	Get(ctx context.Context) (VaultRecord, error)
}
