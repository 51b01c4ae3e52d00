package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/deedmarket/deedmarket/internal/domain"
	"github.com/deedmarket/deedmarket/internal/store/memory"
	"github.com/deedmarket/deedmarket/internal/vault"
)

const (
	testAdmin = "0x1111111111111111111111111111111111111111"
	alice     = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	bob       = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	mem := memory.New()
	v := vault.New(mem.Vault(), testAdmin, "test seed material", "test-password")
	if err := v.Initialize(context.Background(), testAdmin); err != nil {
		t.Fatalf("vault init: %v", err)
	}
	return NewService(mem, mem.Events(), mem, nil, v, discardLogger()), mem
}

func initAsset(t *testing.T, svc *Service) {
	t.Helper()
	err := svc.InitializeAsset(context.Background(), testAdmin, "Deed Settlement Coin", "DSC", 6, true)
	if err != nil {
		t.Fatalf("initialize asset: %v", err)
	}
}

func TestInitializeAsset(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	initAsset(t, svc)

	meta, err := svc.Meta(ctx)
	if err != nil {
		t.Fatalf("meta: %v", err)
	}
	if meta.Name != "Deed Settlement Coin" || meta.Symbol != "DSC" || meta.Decimals != 6 {
		t.Fatalf("unexpected meta: %+v", meta)
	}
	if meta.CapHolder == "" {
		t.Fatal("capability holder not recorded")
	}
	if supply, err := svc.TotalSupply(ctx); err != nil || supply != 0 {
		t.Fatalf("fresh supply = %d, err %v", supply, err)
	}

	// The administrator's holding opens with initialization.
	if bal, err := svc.Balance(ctx, testAdmin); err != nil || bal != 0 {
		t.Fatalf("admin balance = %d, err %v", bal, err)
	}
}

func TestInitializeAsset_Twice(t *testing.T) {
	svc, _ := newTestService(t)
	initAsset(t, svc)
	err := svc.InitializeAsset(context.Background(), testAdmin, "Again", "AGN", 0, false)
	if !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("second init: got %v, want ErrAlreadyExists", err)
	}
}

func TestInitializeAsset_NonAdmin(t *testing.T) {
	svc, _ := newTestService(t)
	err := svc.InitializeAsset(context.Background(), alice, "Coin", "C", 0, false)
	if !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("got %v, want ErrPermissionDenied", err)
	}
}

func TestRegister_Idempotent(t *testing.T) {
	svc, mem := newTestService(t)
	ctx := context.Background()
	initAsset(t, svc)

	if err := svc.Register(ctx, alice); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := svc.Register(ctx, alice); err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if bal, err := svc.Balance(ctx, alice); err != nil || bal != 0 {
		t.Fatalf("balance = %d, err %v", bal, err)
	}

	// A registration event is recorded on every call, created or not.
	evs, err := mem.Events().List(ctx, domain.EventRegistered, domain.ListOpts{})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(evs) != 2 {
		t.Fatalf("registered events = %d, want 2", len(evs))
	}
}

func TestRegister_BeforeAssetInit(t *testing.T) {
	svc, _ := newTestService(t)
	err := svc.Register(context.Background(), alice)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestMintAndBurn_SupplyRoundTrip(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	initAsset(t, svc)
	if err := svc.Register(ctx, alice); err != nil {
		t.Fatal(err)
	}

	if err := svc.Mint(ctx, testAdmin, alice, 500); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if bal, _ := svc.Balance(ctx, alice); bal != 500 {
		t.Fatalf("balance after mint = %d", bal)
	}
	if supply, _ := svc.TotalSupply(ctx); supply != 500 {
		t.Fatalf("supply after mint = %d", supply)
	}

	if err := svc.BurnFrom(ctx, testAdmin, alice, 500); err != nil {
		t.Fatalf("burn_from: %v", err)
	}
	if bal, _ := svc.Balance(ctx, alice); bal != 0 {
		t.Fatalf("balance after burn = %d", bal)
	}
	if supply, _ := svc.TotalSupply(ctx); supply != 0 {
		t.Fatalf("supply after burn = %d", supply)
	}
}

func TestMint_NonAdmin(t *testing.T) {
	svc, _ := newTestService(t)
	initAsset(t, svc)
	err := svc.Mint(context.Background(), alice, alice, 100)
	if !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("got %v, want ErrPermissionDenied", err)
	}
}

func TestMint_UnregisteredTarget(t *testing.T) {
	svc, _ := newTestService(t)
	initAsset(t, svc)
	err := svc.Mint(context.Background(), testAdmin, alice, 100)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestTransfer(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	initAsset(t, svc)
	for _, acct := range []string{alice, bob} {
		if err := svc.Register(ctx, acct); err != nil {
			t.Fatal(err)
		}
	}
	if err := svc.Mint(ctx, testAdmin, alice, 300); err != nil {
		t.Fatal(err)
	}

	if err := svc.Transfer(ctx, alice, bob, 120); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if bal, _ := svc.Balance(ctx, alice); bal != 180 {
		t.Fatalf("sender balance = %d", bal)
	}
	if bal, _ := svc.Balance(ctx, bob); bal != 120 {
		t.Fatalf("recipient balance = %d", bal)
	}
}

func TestTransfer_Insufficient(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	initAsset(t, svc)
	for _, acct := range []string{alice, bob} {
		if err := svc.Register(ctx, acct); err != nil {
			t.Fatal(err)
		}
	}
	err := svc.Transfer(ctx, alice, bob, 1)
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("got %v, want ErrInsufficientFunds", err)
	}
}

func TestFreeze_BlocksMovement(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	initAsset(t, svc)
	for _, acct := range []string{alice, bob} {
		if err := svc.Register(ctx, acct); err != nil {
			t.Fatal(err)
		}
	}
	if err := svc.Mint(ctx, testAdmin, alice, 100); err != nil {
		t.Fatal(err)
	}

	if err := svc.Freeze(ctx, testAdmin, alice, true); err != nil {
		t.Fatalf("freeze: %v", err)
	}
	if err := svc.Transfer(ctx, alice, bob, 10); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("debit from frozen: got %v, want ErrInvalidState", err)
	}
	if err := svc.Mint(ctx, testAdmin, alice, 10); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("credit to frozen: got %v, want ErrInvalidState", err)
	}

	if err := svc.Freeze(ctx, testAdmin, alice, false); err != nil {
		t.Fatalf("unfreeze: %v", err)
	}
	if err := svc.Transfer(ctx, alice, bob, 10); err != nil {
		t.Fatalf("transfer after unfreeze: %v", err)
	}
}

func TestFreeze_NonAdmin(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	initAsset(t, svc)
	if err := svc.Register(ctx, alice); err != nil {
		t.Fatal(err)
	}
	err := svc.Freeze(ctx, alice, alice, true)
	if !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("got %v, want ErrPermissionDenied", err)
	}
}

func TestBurn_SelfIsAdminGated(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	initAsset(t, svc)
	if err := svc.Register(ctx, alice); err != nil {
		t.Fatal(err)
	}
	if err := svc.Mint(ctx, testAdmin, alice, 50); err != nil {
		t.Fatal(err)
	}

	if err := svc.Burn(ctx, alice, 10); !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("non-admin self burn: got %v, want ErrPermissionDenied", err)
	}

	if err := svc.Mint(ctx, testAdmin, testAdmin, 30); err != nil {
		t.Fatal(err)
	}
	if err := svc.Burn(ctx, testAdmin, 30); err != nil {
		t.Fatalf("admin self burn: %v", err)
	}
	if supply, _ := svc.TotalSupply(ctx); supply != 50 {
		t.Fatalf("supply = %d, want 50", supply)
	}
}

func TestBurnFrom_ExceedsBalance(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	initAsset(t, svc)
	if err := svc.Register(ctx, alice); err != nil {
		t.Fatal(err)
	}
	if err := svc.Mint(ctx, testAdmin, alice, 20); err != nil {
		t.Fatal(err)
	}

	err := svc.BurnFrom(ctx, testAdmin, alice, 21)
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("got %v, want ErrInsufficientFunds", err)
	}
	// The failed burn left balance and supply untouched.
	if bal, _ := svc.Balance(ctx, alice); bal != 20 {
		t.Fatalf("balance = %d, want 20", bal)
	}
	if supply, _ := svc.TotalSupply(ctx); supply != 20 {
		t.Fatalf("supply = %d, want 20", supply)
	}
}

func TestBalance_Unregistered(t *testing.T) {
	svc, _ := newTestService(t)
	initAsset(t, svc)
	if _, err := svc.Balance(context.Background(), bob); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}
