package domain

import "time"

// PriceMultiplier converts a quoted listing price into settlement units at
// purchase time. Listings are quoted in coarse units; the buyer pays
// price × PriceMultiplier to the seller.
const PriceMultiplier = 10

// Listing is an active offer to sell a named parcel. The item name is the
// primary identity: at most one listing exists per name at any time.
// Listings are never mutated in place; they are created by List and
// destroyed by Delist or Buy.
type Listing struct {
	ItemName  string
	Price     uint64
	CreatedAt time.Time
	// ListingID is assigned from a monotonically increasing sequence owned
	// by the module agent.
	ListingID uint64
	Seller    string
}

// SettlementAmount is the amount transferred buyer→seller on purchase.
func (l Listing) SettlementAmount() uint64 {
	return l.Price * PriceMultiplier
}

// OwnershipRecord ties an item name to its current owner. Each owner's index
// maps an item name to at most one record. A record is created when an
// account lists or buys a parcel and removed when it delists or sells it.
type OwnershipRecord struct {
	ItemName  string
	Amount    uint64
	Owner     string
	CreatedAt time.Time
}
