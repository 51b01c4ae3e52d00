// Package vault implements the capability vault: a module-owned agent
// account derived deterministically from a fixed seed, whose delegated
// signing key is held encrypted at rest and never exposed to callers. The
// agent lets the exchange act as an independent ledger participant (fee
// recipient, capability holder, registry host) without a human-controlled
// key.
package vault

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/deedmarket/deedmarket/internal/domain"
)

// Derivation salts. The primary agent hosts the registry and receives fees;
// the asset holder account keeps the mint/burn/freeze capabilities.
const (
	agentSalt       = "deedmarket/agent/v1"
	assetHolderSalt = "deedmarket/asset-holder/v1"
)

// Agent is a resolved signing context for the module-owned account. The
// private key never leaves this package.
type Agent struct {
	address common.Address
	key     *ecdsa.PrivateKey
}

// Address returns the agent's account identifier in hex form.
func (a *Agent) Address() string {
	return a.address.Hex()
}

// Sign signs a 32-byte digest with the delegated key.
func (a *Agent) Sign(digest []byte) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("vault: digest must be 32 bytes, got %d", len(digest))
	}
	sig, err := ethcrypto.Sign(digest, a.key)
	if err != nil {
		return nil, fmt.Errorf("vault: sign: %w", err)
	}
	return sig, nil
}

// MintCap authorizes supply increases. Only the vault creates one, and only
// the ledger service ever holds it.
type MintCap struct{ holder string }

// BurnCap authorizes supply decreases.
type BurnCap struct{ holder string }

// FreezeCap authorizes toggling holdings frozen.
type FreezeCap struct{ holder string }

// Holder returns the module-owned account the capability lives at.
func (c MintCap) Holder() string   { return c.holder }
func (c BurnCap) Holder() string   { return c.holder }
func (c FreezeCap) Holder() string { return c.holder }

// Capabilities bundles the three administrative capabilities. The bundle is
// created exactly once per deployment and never serialized.
type Capabilities struct {
	mint   MintCap
	burn   BurnCap
	freeze FreezeCap
}

func (c *Capabilities) Mint() MintCap     { return c.mint }
func (c *Capabilities) Burn() BurnCap     { return c.burn }
func (c *Capabilities) Freeze() FreezeCap { return c.freeze }

// Vault owns the delegated signing capability for the module agent.
type Vault struct {
	store    domain.VaultStore
	admin    string
	seed     string
	password string

	mu     sync.Mutex
	cached *Agent
}

// New creates a Vault bound to the designated administrator identity.
func New(store domain.VaultStore, adminAddress, seed, password string) *Vault {
	return &Vault{
		store:    store,
		admin:    adminAddress,
		seed:     seed,
		password: password,
	}
}

// IsAdmin reports whether caller is the designated administrator.
func (v *Vault) IsAdmin(caller string) bool {
	return caller != "" && strings.EqualFold(caller, v.admin)
}

// Initialize derives the module agent from the fixed seed and persists the
// delegated signing capability. It is callable exactly once; re-invocation
// with state already present is a no-op, but the administrator check is
// re-asserted on every call, so non-administrator callers always fail with
// a permission error regardless of prior state.
func (v *Vault) Initialize(ctx context.Context, caller string) error {
	if !v.IsAdmin(caller) {
		return fmt.Errorf("vault: initialize by %q: %w", caller, domain.ErrPermissionDenied)
	}

	key, err := deriveKey(v.seed, agentSalt)
	if err != nil {
		return fmt.Errorf("vault: derive agent key: %w", err)
	}
	address := ethcrypto.PubkeyToAddress(key.PublicKey)

	if _, err := v.store.Get(ctx); err == nil {
		return nil // already initialized
	} else if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("vault: check existing state: %w", err)
	}

	blob, err := sealKey(ethcrypto.FromECDSA(key), v.password)
	if err != nil {
		return err
	}

	rec := domain.VaultRecord{
		AgentAddress: address.Hex(),
		KeyBlob:      blob,
		CreatedAt:    time.Now().UTC(),
	}
	if err := v.store.Put(ctx, rec); err != nil {
		// A concurrent initialize won the race; the state is present either
		// way.
		if errors.Is(err, domain.ErrAlreadyExists) {
			return nil
		}
		return fmt.Errorf("vault: store record: %w", err)
	}
	return nil
}

// Agent reconstructs the module agent's signing context from the stored
// capability. It returns ErrInvalidState before Initialize has run.
func (v *Vault) Agent(ctx context.Context) (*Agent, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.cached != nil {
		return v.cached, nil
	}

	rec, err := v.store.Get(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("vault: not initialized: %w", domain.ErrInvalidState)
		}
		return nil, fmt.Errorf("vault: load record: %w", err)
	}

	raw, err := openKey(rec.KeyBlob, v.password)
	if err != nil {
		return nil, err
	}
	key, err := ethcrypto.HexToECDSA(keyHex(raw))
	if err != nil {
		return nil, fmt.Errorf("vault: parse stored key: %w", err)
	}

	address := ethcrypto.PubkeyToAddress(key.PublicKey)
	if !strings.EqualFold(address.Hex(), rec.AgentAddress) {
		return nil, fmt.Errorf("vault: stored address %s does not match derived %s: %w",
			rec.AgentAddress, address.Hex(), domain.ErrInvalidState)
	}

	v.cached = &Agent{address: address, key: key}
	return v.cached, nil
}

// AssetHolderAddress returns the second module-owned account, where the
// asset's administrative capabilities live. Derivation is deterministic, so
// the address is stable across restarts.
func (v *Vault) AssetHolderAddress() (string, error) {
	key, err := deriveKey(v.seed, assetHolderSalt)
	if err != nil {
		return "", fmt.Errorf("vault: derive asset holder: %w", err)
	}
	return ethcrypto.PubkeyToAddress(key.PublicKey).Hex(), nil
}

// GrantCapabilities mints the administrative capability bundle for the asset
// holder account. Only the ledger service calls this, during asset
// initialization; the bundle is never handed to external callers.
func (v *Vault) GrantCapabilities(ctx context.Context, caller string) (*Capabilities, error) {
	if !v.IsAdmin(caller) {
		return nil, fmt.Errorf("vault: grant capabilities to %q: %w", caller, domain.ErrPermissionDenied)
	}
	if _, err := v.Agent(ctx); err != nil {
		return nil, err
	}
	holder, err := v.AssetHolderAddress()
	if err != nil {
		return nil, err
	}
	return &Capabilities{
		mint:   MintCap{holder: holder},
		burn:   BurnCap{holder: holder},
		freeze: FreezeCap{holder: holder},
	}, nil
}

// deriveKey maps seed material onto a secp256k1 private key. Keccak output
// is rehashed until it lands inside the curve order, keeping derivation
// deterministic.
func deriveKey(seed, salt string) (*ecdsa.PrivateKey, error) {
	material := ethcrypto.Keccak256([]byte(seed), []byte(":"), []byte(salt))
	for i := 0; i < 8; i++ {
		key, err := ethcrypto.ToECDSA(material)
		if err == nil {
			return key, nil
		}
		material = ethcrypto.Keccak256(material)
	}
	return nil, errors.New("vault: could not derive a valid key from seed")
}
