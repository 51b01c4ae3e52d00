package domain

import "time"

// EventCategory names one append-only event stream in the exchange log.
type EventCategory string

// Marketplace event categories. PriceChanged is declared for external
// indexers but no current operation emits it; price mutation is a non-goal.
const (
	EventListed       EventCategory = "listed"
	EventDelisted     EventCategory = "delisted"
	EventPriceChanged EventCategory = "price_changed"
	EventPurchased    EventCategory = "purchased"
)

// Settlement asset event categories.
const (
	EventAssetInitialized EventCategory = "asset_initialized"
	EventMinted           EventCategory = "minted"
	EventTransferred      EventCategory = "transferred"
	EventFrozenToggled    EventCategory = "frozen_toggled"
	EventBurned           EventCategory = "burned"
	EventRegistered       EventCategory = "registered"
)

// Valid reports whether c is a known event category.
func (c EventCategory) Valid() bool {
	switch c {
	case EventListed, EventDelisted, EventPriceChanged, EventPurchased,
		EventAssetInitialized, EventMinted, EventTransferred,
		EventFrozenToggled, EventBurned, EventRegistered:
		return true
	}
	return false
}

// Event is one entry in the append-only exchange log. Detail carries the
// full record of the state the event describes, for external indexing and
// audit.
type Event struct {
	ID        int64
	Category  EventCategory
	Detail    map[string]any
	CreatedAt time.Time
}
