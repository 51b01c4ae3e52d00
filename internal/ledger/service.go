// Package ledger implements the settlement asset: a single fungible coin
// with administrator-gated mint, burn, and freeze, balance holdings per
// account, and read-only metadata queries. Administrative authority is
// exercised through capability tokens granted by the vault, never through a
// raw key handed to callers.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/deedmarket/deedmarket/internal/domain"
	"github.com/deedmarket/deedmarket/internal/vault"
)

// Service is the settlement asset ledger.
type Service struct {
	store  domain.LedgerStore
	events domain.EventStore
	tx     domain.Transactor
	bus    domain.SignalBus
	vault  *vault.Vault
	logger *slog.Logger

	mu   sync.Mutex
	caps *vault.Capabilities
}

// NewService creates the ledger service.
func NewService(
	store domain.LedgerStore,
	events domain.EventStore,
	tx domain.Transactor,
	bus domain.SignalBus,
	v *vault.Vault,
	logger *slog.Logger,
) *Service {
	return &Service{
		store:  store,
		events: events,
		tx:     tx,
		bus:    bus,
		vault:  v,
		logger: logger.With(slog.String("component", "ledger")),
	}
}

// capabilities resolves the administrative capability bundle for caller.
// Non-administrator callers fail with a permission error; this doubles as
// the admin gate on every administrative operation.
func (s *Service) capabilities(ctx context.Context, caller string) (*vault.Capabilities, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.vault.IsAdmin(caller) {
		return nil, fmt.Errorf("ledger: caller %q: %w", caller, domain.ErrPermissionDenied)
	}
	if s.caps != nil {
		return s.caps, nil
	}
	caps, err := s.vault.GrantCapabilities(ctx, caller)
	if err != nil {
		return nil, err
	}
	s.caps = caps
	return caps, nil
}

// InitializeAsset registers the settlement asset exactly once: it records
// the asset identity, places the mint/burn/freeze capabilities at the
// module-owned holder account, and opens holdings for the administrator and
// the fee-recipient agent. Administrator only.
func (s *Service) InitializeAsset(ctx context.Context, caller, name, symbol string, decimals uint8, monitorSupply bool) error {
	caps, err := s.capabilities(ctx, caller)
	if err != nil {
		return err
	}
	agent, err := s.vault.Agent(ctx)
	if err != nil {
		return err
	}

	asset := domain.Asset{
		Name:          name,
		Symbol:        symbol,
		Decimals:      decimals,
		MonitorSupply: monitorSupply,
		CapHolder:     caps.Mint().Holder(),
		CreatedAt:     time.Now().UTC(),
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.store.CreateAsset(ctx, asset); err != nil {
			return err
		}
		if _, err := s.store.CreateHolding(ctx, caller); err != nil {
			return err
		}
		if _, err := s.store.CreateHolding(ctx, agent.Address()); err != nil {
			return err
		}
		return s.events.Append(ctx, domain.EventAssetInitialized, map[string]any{
			"name":           asset.Name,
			"symbol":         asset.Symbol,
			"decimals":       asset.Decimals,
			"monitor_supply": asset.MonitorSupply,
			"cap_holder":     asset.CapHolder,
			"timestamp":      asset.CreatedAt,
		})
	})
	if err != nil {
		return fmt.Errorf("ledger: initialize asset: %w", err)
	}

	s.publish(ctx, domain.EventAssetInitialized, map[string]any{
		"name":   asset.Name,
		"symbol": asset.Symbol,
	})
	s.logger.InfoContext(ctx, "asset initialized",
		slog.String("name", name),
		slog.String("symbol", symbol),
		slog.String("cap_holder", asset.CapHolder),
	)
	return nil
}

// Register opens a zero balance holding for account. Re-registration is a
// no-op at the ledger level; a registration event is emitted either way.
func (s *Service) Register(ctx context.Context, account string) error {
	if account == "" {
		return fmt.Errorf("ledger: register: empty account: %w", domain.ErrInvalidState)
	}

	var created bool
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.store.GetAsset(ctx); err != nil {
			return err
		}
		var err error
		created, err = s.store.CreateHolding(ctx, account)
		if err != nil {
			return err
		}
		return s.events.Append(ctx, domain.EventRegistered, map[string]any{
			"account":   account,
			"created":   created,
			"timestamp": time.Now().UTC(),
		})
	})
	if err != nil {
		return fmt.Errorf("ledger: register %s: %w", account, err)
	}

	s.publish(ctx, domain.EventRegistered, map[string]any{"account": account})
	return nil
}

// Mint increases total supply and credits the target account.
// Administrator only.
func (s *Service) Mint(ctx context.Context, caller, to string, amount uint64) error {
	if _, err := s.capabilities(ctx, caller); err != nil {
		return err
	}
	if amount == 0 {
		return fmt.Errorf("ledger: mint zero: %w", domain.ErrInvalidState)
	}

	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.store.Credit(ctx, to, amount); err != nil {
			return err
		}
		if err := s.store.AdjustSupply(ctx, int64(amount)); err != nil {
			return err
		}
		return s.events.Append(ctx, domain.EventMinted, map[string]any{
			"to":        to,
			"amount":    amount,
			"timestamp": time.Now().UTC(),
		})
	})
	if err != nil {
		return fmt.Errorf("ledger: mint %d to %s: %w", amount, to, err)
	}

	s.publish(ctx, domain.EventMinted, map[string]any{"to": to, "amount": amount})
	s.logger.InfoContext(ctx, "minted",
		slog.String("to", to),
		slog.Uint64("amount", amount),
	)
	return nil
}

// Transfer moves amount from one holder to another. Any holder may move
// their own balance; a frozen holding on either side aborts, as does an
// insufficient source balance.
func (s *Service) Transfer(ctx context.Context, from, to string, amount uint64) error {
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		return s.Move(ctx, from, to, amount)
	})
	if err != nil {
		return fmt.Errorf("ledger: transfer %d %s->%s: %w", amount, from, to, err)
	}

	s.publish(ctx, domain.EventTransferred, map[string]any{
		"from": from, "to": to, "amount": amount,
	})
	return nil
}

// Move performs the balance movement and event append of a transfer without
// opening its own transaction or publishing to the bus. It must run inside
// an enclosing transaction; the purchase orchestrator composes several
// moves into one atomic unit this way.
func (s *Service) Move(ctx context.Context, from, to string, amount uint64) error {
	if from == to {
		return fmt.Errorf("ledger: self transfer: %w", domain.ErrInvalidState)
	}
	if err := s.store.Debit(ctx, from, amount); err != nil {
		return err
	}
	if err := s.store.Credit(ctx, to, amount); err != nil {
		return err
	}
	return s.events.Append(ctx, domain.EventTransferred, map[string]any{
		"from":      from,
		"to":        to,
		"amount":    amount,
		"timestamp": time.Now().UTC(),
	})
}

// Freeze toggles whether target's holding accepts further balance mutation.
// Administrator only.
func (s *Service) Freeze(ctx context.Context, caller, target string, frozen bool) error {
	caps, err := s.capabilities(ctx, caller)
	if err != nil {
		return err
	}
	_ = caps.Freeze()

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.store.SetFrozen(ctx, target, frozen); err != nil {
			return err
		}
		return s.events.Append(ctx, domain.EventFrozenToggled, map[string]any{
			"target":    target,
			"frozen":    frozen,
			"timestamp": time.Now().UTC(),
		})
	})
	if err != nil {
		return fmt.Errorf("ledger: freeze %s=%t: %w", target, frozen, err)
	}

	s.publish(ctx, domain.EventFrozenToggled, map[string]any{
		"target": target, "frozen": frozen,
	})
	return nil
}

// Burn decreases supply from the caller's own holding. The caller must be
// the administrator, which restricts self-burn to the administrator's own
// holding.
func (s *Service) Burn(ctx context.Context, caller string, amount uint64) error {
	if _, err := s.capabilities(ctx, caller); err != nil {
		return err
	}
	return s.burn(ctx, caller, amount)
}

// BurnFrom decreases supply from an arbitrary target holding.
// Administrator only.
func (s *Service) BurnFrom(ctx context.Context, caller, target string, amount uint64) error {
	if _, err := s.capabilities(ctx, caller); err != nil {
		return err
	}
	return s.burn(ctx, target, amount)
}

func (s *Service) burn(ctx context.Context, target string, amount uint64) error {
	if amount == 0 {
		return fmt.Errorf("ledger: burn zero: %w", domain.ErrInvalidState)
	}

	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.store.Debit(ctx, target, amount); err != nil {
			return err
		}
		if err := s.store.AdjustSupply(ctx, -int64(amount)); err != nil {
			return err
		}
		return s.events.Append(ctx, domain.EventBurned, map[string]any{
			"target":    target,
			"amount":    amount,
			"timestamp": time.Now().UTC(),
		})
	})
	if err != nil {
		return fmt.Errorf("ledger: burn %d from %s: %w", amount, target, err)
	}

	s.publish(ctx, domain.EventBurned, map[string]any{
		"target": target, "amount": amount,
	})
	s.logger.InfoContext(ctx, "burned",
		slog.String("target", target),
		slog.Uint64("amount", amount),
	)
	return nil
}

// Balance returns the settlement balance of account.
func (s *Service) Balance(ctx context.Context, account string) (uint64, error) {
	h, err := s.store.GetHolding(ctx, account)
	if err != nil {
		return 0, fmt.Errorf("ledger: balance of %s: %w", account, err)
	}
	return h.Balance, nil
}

// Meta returns the asset identity record.
func (s *Service) Meta(ctx context.Context) (domain.Asset, error) {
	a, err := s.store.GetAsset(ctx)
	if err != nil {
		return domain.Asset{}, fmt.Errorf("ledger: asset meta: %w", err)
	}
	return a, nil
}

// TotalSupply returns the current total supply.
func (s *Service) TotalSupply(ctx context.Context) (uint64, error) {
	a, err := s.store.GetAsset(ctx)
	if err != nil {
		return 0, fmt.Errorf("ledger: total supply: %w", err)
	}
	return a.TotalSupply, nil
}

// publish fans a committed event out on the signal bus, best effort.
func (s *Service) publish(ctx context.Context, category domain.EventCategory, detail map[string]any) {
	if s.bus == nil {
		return
	}
	payload, _ := json.Marshal(map[string]any{
		"event":  string(category),
		"detail": detail,
	})
	if err := s.bus.Publish(ctx, "events:"+string(category), payload); err != nil {
		s.logger.WarnContext(ctx, "publish event failed",
			slog.String("category", string(category)),
			slog.String("error", err.Error()),
		)
	}
	if err := s.bus.StreamAppend(ctx, "events", payload); err != nil {
		s.logger.WarnContext(ctx, "stream append failed",
			slog.String("category", string(category)),
			slog.String("error", err.Error()),
		)
	}
}
