// Package domain defines the core types, errors, and store interfaces for
// the deedmarket exchange: a single fungible settlement asset plus a
// marketplace of named indivisible parcels priced in that asset.
package domain

import "time"

// Asset is the identity and supply record of the settlement asset. Exactly
// one asset exists per deployment; it carries identity metadata, not
// balances.
type Asset struct {
	Name          string
	Symbol        string
	Decimals      uint8
	MonitorSupply bool
	TotalSupply   uint64
	// CapHolder is the module-owned account that holds the mint, burn, and
	// freeze capabilities.
	CapHolder string
	CreatedAt time.Time
}

// Holding is one account's balance of the settlement asset. A frozen holding
// rejects every balance mutation until unfrozen.
type Holding struct {
	Account   string
	Balance   uint64
	Frozen    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
