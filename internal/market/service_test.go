package market

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/deedmarket/deedmarket/internal/domain"
	"github.com/deedmarket/deedmarket/internal/ledger"
	"github.com/deedmarket/deedmarket/internal/store/memory"
	"github.com/deedmarket/deedmarket/internal/vault"
)

const (
	testAdmin = "0x1111111111111111111111111111111111111111"
	seller    = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	buyer     = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"

	testFee = uint64(5)
)

type testEnv struct {
	market *Service
	ledger *ledger.Service
	vault  *vault.Vault
	mem    *memory.Store
	agent  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	mem := memory.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	v := vault.New(mem.Vault(), testAdmin, "test seed material", "test-password")
	led := ledger.NewService(mem, mem.Events(), mem, nil, v, logger)
	mkt := NewService(
		mem.Listings(), mem.Ownership(), mem, mem.Events(), mem,
		led, v, nil, nil, nil,
		Config{PlatformFee: testFee, LockTTL: time.Second},
		logger,
	)

	if err := mkt.Initialize(ctx, testAdmin); err != nil {
		t.Fatalf("market init: %v", err)
	}
	if err := led.InitializeAsset(ctx, testAdmin, "Deed Settlement Coin", "DSC", 6, true); err != nil {
		t.Fatalf("asset init: %v", err)
	}
	agent, err := v.Agent(ctx)
	if err != nil {
		t.Fatalf("agent: %v", err)
	}

	for acct, amount := range map[string]uint64{seller: 1000, buyer: 2000} {
		if err := led.Register(ctx, acct); err != nil {
			t.Fatal(err)
		}
		if err := led.Mint(ctx, testAdmin, acct, amount); err != nil {
			t.Fatal(err)
		}
	}

	return &testEnv{market: mkt, ledger: led, vault: v, mem: mem, agent: agent.Address()}
}

func (e *testEnv) balance(t *testing.T, account string) uint64 {
	t.Helper()
	bal, err := e.ledger.Balance(context.Background(), account)
	if err != nil {
		t.Fatalf("balance of %s: %v", account, err)
	}
	return bal
}

func TestInitialize_NonAdmin(t *testing.T) {
	mem := memory.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	v := vault.New(mem.Vault(), testAdmin, "seed", "pw")
	mkt := NewService(mem.Listings(), mem.Ownership(), mem, mem.Events(), mem,
		nil, v, nil, nil, nil, Config{PlatformFee: testFee}, logger)

	err := mkt.Initialize(context.Background(), seller)
	if !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("got %v, want ErrPermissionDenied", err)
	}
}

func TestList_FreshNameSucceeds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.market.List(ctx, seller, "blackacre", 100); err != nil {
		t.Fatalf("list: %v", err)
	}

	l, err := env.market.Listing(ctx, "blackacre")
	if err != nil {
		t.Fatalf("get listing: %v", err)
	}
	if l.Seller != seller || l.Price != 100 || l.ListingID == 0 {
		t.Fatalf("unexpected listing: %+v", l)
	}

	// Listing fee moved to the marketplace agent.
	if got := env.balance(t, seller); got != 1000-testFee {
		t.Fatalf("seller balance = %d, want %d", got, 1000-testFee)
	}
	if got := env.balance(t, env.agent); got != testFee {
		t.Fatalf("agent balance = %d, want %d", got, testFee)
	}

	recs, err := env.market.Ownership(ctx, seller)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].ItemName != "blackacre" || recs[0].Amount != 100 {
		t.Fatalf("unexpected ownership: %+v", recs)
	}

	evs, err := env.market.Events(ctx, domain.EventListed, domain.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) != 1 {
		t.Fatalf("listed events = %d, want 1", len(evs))
	}
}

func TestList_DuplicateName(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.market.List(ctx, seller, "blackacre", 100); err != nil {
		t.Fatal(err)
	}
	err := env.market.List(ctx, buyer, "blackacre", 250)
	if !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("duplicate list: got %v, want ErrAlreadyExists", err)
	}
	// The rejected attempt charged no fee.
	if got := env.balance(t, buyer); got != 2000 {
		t.Fatalf("buyer balance = %d, want 2000", got)
	}
}

func TestList_InsufficientFee(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	broke := "0xcccccccccccccccccccccccccccccccccccccccc"
	if err := env.ledger.Register(ctx, broke); err != nil {
		t.Fatal(err)
	}
	err := env.market.List(ctx, broke, "whiteacre", 10)
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("got %v, want ErrInsufficientFunds", err)
	}
}

func TestList_InvalidInput(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if err := env.market.List(ctx, seller, "", 10); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("empty name: got %v, want ErrInvalidState", err)
	}
	if err := env.market.List(ctx, seller, "blackacre", 0); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("zero price: got %v, want ErrInvalidState", err)
	}
}

func TestDelist_BySellerAllowsRelist(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.market.List(ctx, seller, "blackacre", 100); err != nil {
		t.Fatal(err)
	}
	if err := env.market.Delist(ctx, seller, "blackacre"); err != nil {
		t.Fatalf("delist: %v", err)
	}

	if _, err := env.market.Listing(ctx, "blackacre"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("listing after delist: got %v, want ErrNotFound", err)
	}
	recs, err := env.market.Ownership(ctx, seller)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 0 {
		t.Fatalf("ownership after delist: %+v", recs)
	}

	// No fee refund on delist.
	if got := env.balance(t, seller); got != 1000-testFee {
		t.Fatalf("seller balance = %d, want %d", got, 1000-testFee)
	}

	// The cleared name is listable again, charging a second fee.
	if err := env.market.List(ctx, seller, "blackacre", 150); err != nil {
		t.Fatalf("relist: %v", err)
	}
	if got := env.balance(t, seller); got != 1000-2*testFee {
		t.Fatalf("seller balance after relist = %d, want %d", got, 1000-2*testFee)
	}
}

func TestDelist_NotSeller(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if err := env.market.List(ctx, seller, "blackacre", 100); err != nil {
		t.Fatal(err)
	}
	err := env.market.Delist(ctx, buyer, "blackacre")
	if !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("got %v, want ErrPermissionDenied", err)
	}
}

func TestDelist_Unlisted(t *testing.T) {
	env := newTestEnv(t)
	err := env.market.Delist(context.Background(), seller, "ghost")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestBuy_MovesFundsAndOwnership(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.market.List(ctx, seller, "blackacre", 100); err != nil {
		t.Fatal(err)
	}
	if err := env.market.Buy(ctx, buyer, "blackacre"); err != nil {
		t.Fatalf("buy: %v", err)
	}

	settlement := uint64(100 * domain.PriceMultiplier)
	if got := env.balance(t, buyer); got != 2000-settlement-testFee {
		t.Fatalf("buyer balance = %d, want %d", got, 2000-settlement-testFee)
	}
	if got := env.balance(t, seller); got != 1000-testFee+settlement {
		t.Fatalf("seller balance = %d, want %d", got, 1000-testFee+settlement)
	}
	if got := env.balance(t, env.agent); got != 2*testFee {
		t.Fatalf("agent balance = %d, want %d", got, 2*testFee)
	}

	if _, err := env.market.Listing(ctx, "blackacre"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("listing survives purchase: %v", err)
	}
	if recs, _ := env.market.Ownership(ctx, seller); len(recs) != 0 {
		t.Fatalf("seller still owns: %+v", recs)
	}
	recs, err := env.market.Ownership(ctx, buyer)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].ItemName != "blackacre" || recs[0].Amount != 100 {
		t.Fatalf("buyer ownership: %+v", recs)
	}

	evs, err := env.market.Events(ctx, domain.EventPurchased, domain.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) != 1 {
		t.Fatalf("purchased events = %d, want 1", len(evs))
	}
}

func TestBuy_SelfPurchase(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if err := env.market.List(ctx, seller, "blackacre", 100); err != nil {
		t.Fatal(err)
	}
	err := env.market.Buy(ctx, seller, "blackacre")
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("got %v, want ErrInvalidState", err)
	}
}

func TestBuy_InsufficientFunds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	// Settlement 3000 + fee exceeds the buyer's 2000.
	if err := env.market.List(ctx, seller, "blackacre", 300); err != nil {
		t.Fatal(err)
	}
	err := env.market.Buy(ctx, buyer, "blackacre")
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("got %v, want ErrInsufficientFunds", err)
	}
	// Nothing moved.
	if got := env.balance(t, buyer); got != 2000 {
		t.Fatalf("buyer balance = %d, want 2000", got)
	}
	if _, err := env.market.Listing(ctx, "blackacre"); err != nil {
		t.Fatalf("listing should survive: %v", err)
	}
}

func TestBuy_Unlisted(t *testing.T) {
	env := newTestEnv(t)
	err := env.market.Buy(context.Background(), buyer, "ghost")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestBuy_RollsBackOnFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if err := env.market.List(ctx, seller, "blackacre", 100); err != nil {
		t.Fatal(err)
	}

	sellerBefore := env.balance(t, seller)
	buyerBefore := env.balance(t, buyer)

	// Fail the last write of the purchase transaction; every earlier step
	// must roll back with it.
	env.mem.FailOn = "ownership.Insert"
	err := env.market.Buy(ctx, buyer, "blackacre")
	env.mem.FailOn = ""
	if !errors.Is(err, memory.ErrInjected) {
		t.Fatalf("got %v, want injected failure", err)
	}

	if got := env.balance(t, buyer); got != buyerBefore {
		t.Fatalf("buyer balance = %d, want %d", got, buyerBefore)
	}
	if got := env.balance(t, seller); got != sellerBefore {
		t.Fatalf("seller balance = %d, want %d", got, sellerBefore)
	}
	if _, err := env.market.Listing(ctx, "blackacre"); err != nil {
		t.Fatalf("listing should survive rollback: %v", err)
	}
	recs, _ := env.market.Ownership(ctx, seller)
	if len(recs) != 1 {
		t.Fatalf("seller ownership after rollback: %+v", recs)
	}
	// The aborted purchase left no event behind.
	if evs, _ := env.market.Events(ctx, domain.EventPurchased, domain.ListOpts{}); len(evs) != 0 {
		t.Fatalf("purchased events after rollback: %d", len(evs))
	}
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return false, nil
}

func TestThrottle(t *testing.T) {
	env := newTestEnv(t)
	env.market.limiter = denyLimiter{}
	env.market.rateLimit = 1

	err := env.market.List(context.Background(), seller, "blackacre", 100)
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("got %v, want ErrRateLimited", err)
	}
}

type heldLocks struct{}

func (heldLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, domain.ErrLockHeld
}

func TestLockContention(t *testing.T) {
	env := newTestEnv(t)
	env.market.locks = heldLocks{}

	err := env.market.Buy(context.Background(), buyer, "blackacre")
	if !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("got %v, want ErrLockHeld", err)
	}
}

func TestListings_Pagination(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for _, name := range []string{"one", "two", "three"} {
		if err := env.market.List(ctx, seller, name, 10); err != nil {
			t.Fatal(err)
		}
	}

	page, err := env.market.Listings(ctx, domain.ListOpts{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 {
		t.Fatalf("page size = %d, want 2", len(page))
	}
	// Newest first.
	if page[0].ItemName != "three" {
		t.Fatalf("first item = %q, want newest", page[0].ItemName)
	}
}
