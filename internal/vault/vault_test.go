package vault

import (
	"context"
	"errors"
	"testing"

	"github.com/deedmarket/deedmarket/internal/domain"
	"github.com/deedmarket/deedmarket/internal/store/memory"
)

const admin = "0x1111111111111111111111111111111111111111"

func newVault(t *testing.T) (*Vault, *memory.Store) {
	t.Helper()
	mem := memory.New()
	return New(mem.Vault(), admin, "deterministic test seed", "test-password"), mem
}

func TestInitialize_NonAdmin(t *testing.T) {
	v, _ := newVault(t)
	err := v.Initialize(context.Background(), "0x2222222222222222222222222222222222222222")
	if !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("got %v, want ErrPermissionDenied", err)
	}
}

func TestInitialize_Idempotent(t *testing.T) {
	v, _ := newVault(t)
	ctx := context.Background()
	if err := v.Initialize(ctx, admin); err != nil {
		t.Fatalf("first init: %v", err)
	}
	first, err := v.Agent(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := v.Initialize(ctx, admin); err != nil {
		t.Fatalf("second init: %v", err)
	}
	second, err := v.Agent(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if first.Address() != second.Address() {
		t.Fatalf("agent address changed across re-init: %s vs %s", first.Address(), second.Address())
	}
}

func TestInitialize_ReassertsAdminGate(t *testing.T) {
	v, _ := newVault(t)
	ctx := context.Background()
	if err := v.Initialize(ctx, admin); err != nil {
		t.Fatal(err)
	}
	// Even with state present, a non-administrator caller is refused.
	err := v.Initialize(ctx, "0x3333333333333333333333333333333333333333")
	if !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("got %v, want ErrPermissionDenied", err)
	}
}

func TestAgent_BeforeInitialize(t *testing.T) {
	v, _ := newVault(t)
	if _, err := v.Agent(context.Background()); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("got %v, want ErrInvalidState", err)
	}
}

func TestAgent_DeterministicAcrossRestart(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()

	v1 := New(mem.Vault(), admin, "deterministic test seed", "test-password")
	if err := v1.Initialize(ctx, admin); err != nil {
		t.Fatal(err)
	}
	a1, err := v1.Agent(ctx)
	if err != nil {
		t.Fatal(err)
	}

	// A fresh Vault over the same store recovers the same agent.
	v2 := New(mem.Vault(), admin, "deterministic test seed", "test-password")
	a2, err := v2.Agent(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if a1.Address() != a2.Address() {
		t.Fatalf("agent not stable across restart: %s vs %s", a1.Address(), a2.Address())
	}
}

func TestAgent_WrongPassword(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	v1 := New(mem.Vault(), admin, "deterministic test seed", "test-password")
	if err := v1.Initialize(ctx, admin); err != nil {
		t.Fatal(err)
	}

	v2 := New(mem.Vault(), admin, "deterministic test seed", "wrong-password")
	if _, err := v2.Agent(ctx); err == nil {
		t.Fatal("agent recovered with the wrong password")
	}
}

func TestAgent_Sign(t *testing.T) {
	v, _ := newVault(t)
	ctx := context.Background()
	if err := v.Initialize(ctx, admin); err != nil {
		t.Fatal(err)
	}
	agent, err := v.Agent(ctx)
	if err != nil {
		t.Fatal(err)
	}
	digest := make([]byte, 32)
	sig, err := agent.Sign(digest)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("signature length = %d, want 65", len(sig))
	}
}

func TestAssetHolder_DistinctFromAgent(t *testing.T) {
	v, _ := newVault(t)
	ctx := context.Background()
	if err := v.Initialize(ctx, admin); err != nil {
		t.Fatal(err)
	}
	agent, err := v.Agent(ctx)
	if err != nil {
		t.Fatal(err)
	}
	holder, err := v.AssetHolderAddress()
	if err != nil {
		t.Fatal(err)
	}
	if holder == agent.Address() {
		t.Fatal("asset holder and agent derived to the same address")
	}
}

func TestGrantCapabilities(t *testing.T) {
	v, _ := newVault(t)
	ctx := context.Background()

	if _, err := v.GrantCapabilities(ctx, admin); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("grant before init: got %v, want ErrInvalidState", err)
	}

	if err := v.Initialize(ctx, admin); err != nil {
		t.Fatal(err)
	}
	if _, err := v.GrantCapabilities(ctx, "0x4444444444444444444444444444444444444444"); !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("grant to non-admin: got %v, want ErrPermissionDenied", err)
	}

	caps, err := v.GrantCapabilities(ctx, admin)
	if err != nil {
		t.Fatal(err)
	}
	holder, err := v.AssetHolderAddress()
	if err != nil {
		t.Fatal(err)
	}
	if caps.Mint().Holder() != holder || caps.Burn().Holder() != holder || caps.Freeze().Holder() != holder {
		t.Fatal("capabilities not parked at the asset holder account")
	}
}

func TestKeyBlob_RoundTrip(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	blob, err := sealKey(secret, "pw")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	out, err := openKey(blob, "pw")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if string(out) != string(secret) {
		t.Fatal("round trip mismatch")
	}
	if _, err := openKey(blob, "other"); err == nil {
		t.Fatal("opened with wrong password")
	}
}
