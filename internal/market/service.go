// Package market implements the listing marketplace: named indivisible
// items are listed for a settlement price, delisted by their seller, and
// purchased atomically with coin movement. Every mutation takes a per-item
// distributed lock and runs inside a single database transaction, so a
// failed purchase leaves no partial state behind.
package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/deedmarket/deedmarket/internal/domain"
	"github.com/deedmarket/deedmarket/internal/ledger"
	"github.com/deedmarket/deedmarket/internal/vault"
)

// Service is the marketplace orchestrator.
type Service struct {
	listings  domain.ListingStore
	ownership domain.OwnershipStore
	holdings  domain.LedgerStore
	events    domain.EventStore
	tx        domain.Transactor
	ledger    *ledger.Service
	vault     *vault.Vault
	locks     domain.LockManager
	limiter   domain.RateLimiter
	bus       domain.SignalBus

	fee       uint64
	lockTTL   time.Duration
	rateLimit int
	logger    *slog.Logger
}

// Config carries the marketplace tunables.
type Config struct {
	PlatformFee   uint64
	LockTTL       time.Duration
	RatePerMinute int
}

// NewService creates the marketplace service.
func NewService(
	listings domain.ListingStore,
	ownership domain.OwnershipStore,
	holdings domain.LedgerStore,
	events domain.EventStore,
	tx domain.Transactor,
	led *ledger.Service,
	v *vault.Vault,
	locks domain.LockManager,
	limiter domain.RateLimiter,
	bus domain.SignalBus,
	cfg Config,
	logger *slog.Logger,
) *Service {
	return &Service{
		listings:  listings,
		ownership: ownership,
		holdings:  holdings,
		events:    events,
		tx:        tx,
		ledger:    led,
		vault:     v,
		locks:     locks,
		limiter:   limiter,
		bus:       bus,
		fee:       cfg.PlatformFee,
		lockTTL:   cfg.LockTTL,
		rateLimit: cfg.RatePerMinute,
		logger:    logger.With(slog.String("component", "market")),
	}
}

// PlatformFee returns the flat fee charged on listing and purchase.
func (s *Service) PlatformFee() uint64 { return s.fee }

// Initialize provisions the marketplace agent identity. Administrator only,
// idempotent.
func (s *Service) Initialize(ctx context.Context, caller string) error {
	if err := s.vault.Initialize(ctx, caller); err != nil {
		return fmt.Errorf("market: initialize: %w", err)
	}
	holder, err := s.vault.AssetHolderAddress()
	if err != nil {
		return fmt.Errorf("market: initialize: %w", err)
	}
	s.logger.InfoContext(ctx, "marketplace initialized",
		slog.String("asset_holder", holder),
	)
	return nil
}

// List puts a named item up for sale. The item name must be unlisted, and
// the seller must hold at least the platform fee, which is charged to the
// marketplace agent up front.
func (s *Service) List(ctx context.Context, seller, itemName string, price uint64) error {
	if itemName == "" || price == 0 {
		return fmt.Errorf("market: list: empty name or zero price: %w", domain.ErrInvalidState)
	}
	if err := s.throttle(ctx, seller); err != nil {
		return err
	}

	unlock, err := s.lockItem(ctx, itemName)
	if err != nil {
		return err
	}
	defer unlock()

	var listing domain.Listing
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		agent, err := s.vault.Agent(ctx)
		if err != nil {
			return err
		}
		if _, err := s.listings.Get(ctx, itemName); err == nil {
			return fmt.Errorf("item %q already listed: %w", itemName, domain.ErrAlreadyExists)
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		h, err := s.holdings.GetHoldingForUpdate(ctx, seller)
		if err != nil {
			return err
		}
		if h.Balance < s.fee {
			return fmt.Errorf("listing fee %d exceeds balance %d: %w", s.fee, h.Balance, domain.ErrInsufficientFunds)
		}

		id, err := s.listings.NextID(ctx)
		if err != nil {
			return err
		}
		listing = domain.Listing{
			ItemName:  itemName,
			Price:     price,
			CreatedAt: time.Now().UTC(),
			ListingID: id,
			Seller:    seller,
		}
		if err := s.listings.Insert(ctx, listing); err != nil {
			return err
		}
		if err := s.ownership.Insert(ctx, domain.OwnershipRecord{
			ItemName:  itemName,
			Amount:    price,
			Owner:     seller,
			CreatedAt: listing.CreatedAt,
		}); err != nil {
			return err
		}
		if err := s.ledger.Move(ctx, seller, agent.Address(), s.fee); err != nil {
			return err
		}
		return s.events.Append(ctx, domain.EventListed, listedDetail(listing, s.fee))
	})
	if err != nil {
		return fmt.Errorf("market: list %q: %w", itemName, err)
	}

	s.publish(ctx, domain.EventListed, listedDetail(listing, s.fee))
	s.logger.InfoContext(ctx, "item listed",
		slog.String("item", itemName),
		slog.String("seller", seller),
		slog.Uint64("price", price),
		slog.Uint64("listing_id", listing.ListingID),
	)
	return nil
}

// Delist removes the caller's own listing and its ownership record. Only
// the listing's seller may delist; no fee is refunded.
func (s *Service) Delist(ctx context.Context, seller, itemName string) error {
	unlock, err := s.lockItem(ctx, itemName)
	if err != nil {
		return err
	}
	defer unlock()

	var listing domain.Listing
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		listing, err = s.listings.Get(ctx, itemName)
		if err != nil {
			return err
		}
		if listing.Seller != seller {
			return fmt.Errorf("caller %s is not the seller: %w", seller, domain.ErrPermissionDenied)
		}
		has, err := s.ownership.HasIndex(ctx, seller)
		if err != nil {
			return err
		}
		if !has {
			return fmt.Errorf("no ownership index for %s: %w", seller, domain.ErrPermissionDenied)
		}
		if err := s.listings.Delete(ctx, itemName); err != nil {
			return err
		}
		if err := s.ownership.Delete(ctx, seller, itemName); err != nil {
			return err
		}
		return s.events.Append(ctx, domain.EventDelisted, map[string]any{
			"item_name":  listing.ItemName,
			"price":      listing.Price,
			"created_at": listing.CreatedAt,
			"listing_id": listing.ListingID,
			"seller":     listing.Seller,
			"timestamp":  time.Now().UTC(),
		})
	})
	if err != nil {
		return fmt.Errorf("market: delist %q: %w", itemName, err)
	}

	s.publish(ctx, domain.EventDelisted, map[string]any{
		"item_name": itemName, "seller": seller,
	})
	s.logger.InfoContext(ctx, "item delisted",
		slog.String("item", itemName),
		slog.String("seller", seller),
	)
	return nil
}

// Buy purchases a listed item. The buyer pays the settlement amount (price
// times the settlement multiplier) to the seller and the platform fee to
// the marketplace agent; ownership moves to the buyer. All of it commits or
// none of it does.
func (s *Service) Buy(ctx context.Context, buyer, itemName string) error {
	if err := s.throttle(ctx, buyer); err != nil {
		return err
	}

	unlock, err := s.lockItem(ctx, itemName)
	if err != nil {
		return err
	}
	defer unlock()

	var (
		listing domain.Listing
		total   uint64
	)
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		agent, err := s.vault.Agent(ctx)
		if err != nil {
			return err
		}
		listing, err = s.listings.Get(ctx, itemName)
		if err != nil {
			return err
		}
		if listing.Seller == buyer {
			return fmt.Errorf("buyer is the seller: %w", domain.ErrInvalidState)
		}

		settlement := listing.SettlementAmount()
		total = settlement + s.fee
		h, err := s.holdings.GetHoldingForUpdate(ctx, buyer)
		if err != nil {
			return err
		}
		if h.Balance < total {
			return fmt.Errorf("purchase total %d exceeds balance %d: %w", total, h.Balance, domain.ErrInsufficientFunds)
		}

		rec, err := s.ownership.Get(ctx, listing.Seller, itemName)
		if err != nil {
			return err
		}
		if err := s.listings.Delete(ctx, itemName); err != nil {
			return err
		}
		if err := s.ledger.Move(ctx, buyer, listing.Seller, settlement); err != nil {
			return err
		}
		if err := s.ledger.Move(ctx, buyer, agent.Address(), s.fee); err != nil {
			return err
		}
		if err := s.ownership.Delete(ctx, listing.Seller, itemName); err != nil {
			return err
		}
		if err := s.ownership.Insert(ctx, domain.OwnershipRecord{
			ItemName:  itemName,
			Amount:    rec.Amount,
			Owner:     buyer,
			CreatedAt: time.Now().UTC(),
		}); err != nil {
			return err
		}
		return s.events.Append(ctx, domain.EventPurchased, map[string]any{
			"item_name":  itemName,
			"amount":     rec.Amount,
			"buyer":      buyer,
			"seller":     listing.Seller,
			"price":      listing.Price,
			"settlement": settlement,
			"fee":        s.fee,
			"timestamp":  time.Now().UTC(),
		})
	})
	if err != nil {
		return fmt.Errorf("market: buy %q: %w", itemName, err)
	}

	s.publish(ctx, domain.EventPurchased, map[string]any{
		"item_name": itemName,
		"buyer":     buyer,
		"seller":    listing.Seller,
		"total":     total,
	})
	s.logger.InfoContext(ctx, "item purchased",
		slog.String("item", itemName),
		slog.String("buyer", buyer),
		slog.String("seller", listing.Seller),
		slog.Uint64("total", total),
	)
	return nil
}

// Listing returns a single live listing by item name.
func (s *Service) Listing(ctx context.Context, itemName string) (domain.Listing, error) {
	l, err := s.listings.Get(ctx, itemName)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("market: listing %q: %w", itemName, err)
	}
	return l, nil
}

// Listings returns live listings, newest first.
func (s *Service) Listings(ctx context.Context, opts domain.ListOpts) ([]domain.Listing, error) {
	ls, err := s.listings.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("market: listings: %w", err)
	}
	return ls, nil
}

// Ownership returns the ownership records held by owner.
func (s *Service) Ownership(ctx context.Context, owner string) ([]domain.OwnershipRecord, error) {
	recs, err := s.ownership.ListByOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("market: ownership of %s: %w", owner, err)
	}
	return recs, nil
}

// Events returns the durable event log, optionally filtered by category.
func (s *Service) Events(ctx context.Context, category domain.EventCategory, opts domain.ListOpts) ([]domain.Event, error) {
	evs, err := s.events.List(ctx, category, opts)
	if err != nil {
		return nil, fmt.Errorf("market: events: %w", err)
	}
	return evs, nil
}

func (s *Service) lockItem(ctx context.Context, itemName string) (func(), error) {
	if s.locks == nil {
		return func() {}, nil
	}
	unlock, err := s.locks.Acquire(ctx, "lock:listing:"+itemName, s.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("market: lock %q: %w", itemName, err)
	}
	return unlock, nil
}

func (s *Service) throttle(ctx context.Context, caller string) error {
	if s.limiter == nil || s.rateLimit <= 0 {
		return nil
	}
	allowed, err := s.limiter.Allow(ctx, "market:"+caller, s.rateLimit, time.Minute)
	if err != nil {
		// Rate limiting is advisory; a cache outage must not halt trading.
		s.logger.WarnContext(ctx, "rate limiter unavailable", slog.String("error", err.Error()))
		return nil
	}
	if !allowed {
		return fmt.Errorf("market: caller %s: %w", caller, domain.ErrRateLimited)
	}
	return nil
}

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

func listedDetail(l domain.Listing, fee uint64) map[string]any {
	return map[string]any{
		"item_name":  l.ItemName,
		"price":      l.Price,
		"created_at": l.CreatedAt,
		"listing_id": l.ListingID,
		"seller":     l.Seller,
		"fee":        fee,
	}
}
