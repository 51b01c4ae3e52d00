// Package memory provides an in-memory implementation of the store
// interfaces for tests and local development. A single Store backs every
// interface, and InTx gives real rollback semantics by snapshotting state
// before the transactional body runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/deedmarket/deedmarket/internal/domain"
)

// Store is an in-memory, mutex-guarded backend implementing the ledger,
// listing, ownership, event, and vault stores plus the Transactor.
type Store struct {
	mu sync.Mutex

	asset     *domain.Asset
	holdings  map[string]domain.Holding
	listings  map[string]domain.Listing
	nextID    uint64
	ownership map[string]map[string]domain.OwnershipRecord
	events    []domain.Event
	nextEvent int64
	vaultRec  *domain.VaultRecord

	txDepth int

	// FailOn aborts the named operation with ErrInjected, for exercising
	// rollback paths. Supported names: "ownership.Insert", "events.Append",
	// "listings.Delete".
	FailOn string
}

// ErrInjected is returned when an operation named by FailOn runs.
var ErrInjected = fmt.Errorf("memory: injected failure")

// New creates an empty Store.
func New() *Store {
	return &Store{
		holdings:  make(map[string]domain.Holding),
		listings:  make(map[string]domain.Listing),
		ownership: make(map[string]map[string]domain.OwnershipRecord),
	}
}

type snapshot struct {
	asset     *domain.Asset
	holdings  map[string]domain.Holding
	listings  map[string]domain.Listing
	nextID    uint64
	ownership map[string]map[string]domain.OwnershipRecord
	events    []domain.Event
	nextEvent int64
	vaultRec  *domain.VaultRecord
}

func (s *Store) snapshot() snapshot {
	snap := snapshot{
		nextID:    s.nextID,
		nextEvent: s.nextEvent,
		holdings:  make(map[string]domain.Holding, len(s.holdings)),
		listings:  make(map[string]domain.Listing, len(s.listings)),
		ownership: make(map[string]map[string]domain.OwnershipRecord, len(s.ownership)),
		events:    append([]domain.Event(nil), s.events...),
	}
	if s.asset != nil {
		a := *s.asset
		snap.asset = &a
	}
	if s.vaultRec != nil {
		r := *s.vaultRec
		snap.vaultRec = &r
	}
	for k, v := range s.holdings {
		snap.holdings[k] = v
	}
	for k, v := range s.listings {
		snap.listings[k] = v
	}
	for owner, recs := range s.ownership {
		cp := make(map[string]domain.OwnershipRecord, len(recs))
		for k, v := range recs {
			cp[k] = v
		}
		snap.ownership[owner] = cp
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.asset = snap.asset
	s.holdings = snap.holdings
	s.listings = snap.listings
	s.nextID = snap.nextID
	s.ownership = snap.ownership
	s.events = snap.events
	s.nextEvent = snap.nextEvent
	s.vaultRec = snap.vaultRec
}

// InTx runs fn, rolling every mutation back if it fails. Nested calls join
// the outermost transaction.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	s.txDepth++
	nested := s.txDepth > 1
	var snap snapshot
	if !nested {
		snap = s.snapshot()
	}
	s.mu.Unlock()

	err := fn(ctx)

	s.mu.Lock()
	s.txDepth--
	if err != nil && !nested {
		s.restore(snap)
	}
	s.mu.Unlock()
	return err
}

func (s *Store) fail(op string) error {
	if s.FailOn == op {
		return ErrInjected
	}
	return nil
}

// --- LedgerStore ---

func (s *Store) CreateAsset(_ context.Context, a domain.Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.asset != nil {
		return domain.ErrAlreadyExists
	}
	s.asset = &a
	return nil
}

func (s *Store) GetAsset(_ context.Context) (domain.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.asset == nil {
		return domain.Asset{}, domain.ErrNotFound
	}
	return *s.asset, nil
}

func (s *Store) AdjustSupply(_ context.Context, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.asset == nil {
		return domain.ErrNotFound
	}
	if delta < 0 && s.asset.TotalSupply < uint64(-delta) {
		return domain.ErrInsufficientFunds
	}
	if delta < 0 {
		s.asset.TotalSupply -= uint64(-delta)
	} else {
		s.asset.TotalSupply += uint64(delta)
	}
	return nil
}

func (s *Store) CreateHolding(_ context.Context, account string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.holdings[account]; ok {
		return false, nil
	}
	now := time.Now().UTC()
	s.holdings[account] = domain.Holding{Account: account, CreatedAt: now, UpdatedAt: now}
	return true, nil
}

func (s *Store) GetHolding(_ context.Context, account string) (domain.Holding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holdings[account]
	if !ok {
		return domain.Holding{}, domain.ErrNotFound
	}
	return h, nil
}

func (s *Store) GetHoldingForUpdate(ctx context.Context, account string) (domain.Holding, error) {
	return s.GetHolding(ctx, account)
}

func (s *Store) Credit(_ context.Context, account string, amount uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holdings[account]
	if !ok {
		return domain.ErrNotFound
	}
	if h.Frozen {
		return domain.ErrInvalidState
	}
	h.Balance += amount
	h.UpdatedAt = time.Now().UTC()
	s.holdings[account] = h
	return nil
}

func (s *Store) Debit(_ context.Context, account string, amount uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holdings[account]
	if !ok {
		return domain.ErrNotFound
	}
	if h.Frozen {
		return domain.ErrInvalidState
	}
	if h.Balance < amount {
		return domain.ErrInsufficientFunds
	}
	h.Balance -= amount
	h.UpdatedAt = time.Now().UTC()
	s.holdings[account] = h
	return nil
}

func (s *Store) SetFrozen(_ context.Context, account string, frozen bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holdings[account]
	if !ok {
		return domain.ErrNotFound
	}
	h.Frozen = frozen
	h.UpdatedAt = time.Now().UTC()
	s.holdings[account] = h
	return nil
}

// Listings returns the ListingStore view of the backend.
func (s *Store) Listings() domain.ListingStore { return listingView{s} }

// Ownership returns the OwnershipStore view of the backend.
func (s *Store) Ownership() domain.OwnershipStore { return ownershipView{s} }

// Events returns the EventStore view of the backend.
func (s *Store) Events() domain.EventStore { return eventView{s} }

// Vault returns the VaultStore view of the backend.
func (s *Store) Vault() domain.VaultStore { return vaultView{s} }

type listingView struct{ s *Store }

func (v listingView) NextID(_ context.Context) (uint64, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	v.s.nextID++
	return v.s.nextID, nil
}

func (v listingView) Insert(_ context.Context, l domain.Listing) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if _, ok := v.s.listings[l.ItemName]; ok {
		return domain.ErrAlreadyExists
	}
	v.s.listings[l.ItemName] = l
	return nil
}

func (v listingView) Get(_ context.Context, itemName string) (domain.Listing, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	l, ok := v.s.listings[itemName]
	if !ok {
		return domain.Listing{}, domain.ErrNotFound
	}
	return l, nil
}

func (v listingView) Delete(_ context.Context, itemName string) error {
	if err := v.s.fail("listings.Delete"); err != nil {
		return err
	}
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if _, ok := v.s.listings[itemName]; !ok {
		return domain.ErrNotFound
	}
	delete(v.s.listings, itemName)
	return nil
}

func (v listingView) List(_ context.Context, opts domain.ListOpts) ([]domain.Listing, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	out := make([]domain.Listing, 0, len(v.s.listings))
	for _, l := range v.s.listings {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ListingID > out[j].ListingID })
	return paginate(out, opts), nil
}

type ownershipView struct{ s *Store }

func (v ownershipView) Insert(_ context.Context, rec domain.OwnershipRecord) error {
	if err := v.s.fail("ownership.Insert"); err != nil {
		return err
	}
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	recs, ok := v.s.ownership[rec.Owner]
	if !ok {
		recs = make(map[string]domain.OwnershipRecord)
		v.s.ownership[rec.Owner] = recs
	}
	if _, ok := recs[rec.ItemName]; ok {
		return domain.ErrAlreadyExists
	}
	recs[rec.ItemName] = rec
	return nil
}

func (v ownershipView) Get(_ context.Context, owner, itemName string) (domain.OwnershipRecord, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	rec, ok := v.s.ownership[owner][itemName]
	if !ok {
		return domain.OwnershipRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (v ownershipView) Delete(_ context.Context, owner, itemName string) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if _, ok := v.s.ownership[owner][itemName]; !ok {
		return domain.ErrNotFound
	}
	delete(v.s.ownership[owner], itemName)
	return nil
}

func (v ownershipView) HasIndex(_ context.Context, owner string) (bool, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	return len(v.s.ownership[owner]) > 0, nil
}

func (v ownershipView) ListByOwner(_ context.Context, owner string) ([]domain.OwnershipRecord, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	out := make([]domain.OwnershipRecord, 0, len(v.s.ownership[owner]))
	for _, rec := range v.s.ownership[owner] {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemName < out[j].ItemName })
	return out, nil
}

type eventView struct{ s *Store }

func (v eventView) Append(_ context.Context, category domain.EventCategory, detail map[string]any) error {
	if err := v.s.fail("events.Append"); err != nil {
		return err
	}
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	v.s.nextEvent++
	v.s.events = append(v.s.events, domain.Event{
		ID:        v.s.nextEvent,
		Category:  category,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (v eventView) List(_ context.Context, category domain.EventCategory, opts domain.ListOpts) ([]domain.Event, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	out := make([]domain.Event, 0, len(v.s.events))
	for i := len(v.s.events) - 1; i >= 0; i-- {
		ev := v.s.events[i]
		if category != "" && ev.Category != category {
			continue
		}
		if opts.Since != nil && ev.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && !ev.CreatedAt.Before(*opts.Until) {
			continue
		}
		out = append(out, ev)
	}
	return paginate(out, opts), nil
}

func (v eventView) ListBefore(_ context.Context, before time.Time) ([]domain.Event, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	var out []domain.Event
	for _, ev := range v.s.events {
		if ev.CreatedAt.Before(before) {
			out = append(out, ev)
		}
	}
	return out, nil
}

type vaultView struct{ s *Store }

func (v vaultView) Put(_ context.Context, rec domain.VaultRecord) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if v.s.vaultRec != nil {
		return domain.ErrAlreadyExists
	}
	v.s.vaultRec = &rec
	return nil
}

func (v vaultView) Get(_ context.Context) (domain.VaultRecord, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if v.s.vaultRec == nil {
		return domain.VaultRecord{}, domain.ErrNotFound
	}
	return *v.s.vaultRec, nil
}

func paginate[T any](in []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(in) {
			return nil
		}
		in = in[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(in) {
		in = in[:opts.Limit]
	}
	return in
}
