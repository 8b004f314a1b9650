// Package domain provides core domain models and types.
package domain

import "time"

// Currency represents a currency code
type Currency string

const (
	CurrencyEUR Currency = "EUR"
	CurrencyUSD Currency = "USD"
	CurrencyGBP Currency = "GBP"
	CurrencyCHF Currency = "CHF"
)

// Fineness classifies a precious-metal asset by metal and purity.
// It is the lookup key into spot price responses.
type Fineness string

const (
	FinenessGold999   Fineness = "gold_999"
	FinenessGold916   Fineness = "gold_916" // 22k
	FinenessGold750   Fineness = "gold_750" // 18k
	FinenessGold585   Fineness = "gold_585" // 14k
	FinenessSilver999 Fineness = "silver_999"
	FinenessSilver925 Fineness = "silver_925" // sterling
	FinenessPlatinum  Fineness = "platinum_999"
	FinenessPalladium Fineness = "palladium_999"
)

// Valid reports whether f is one of the known fineness values.
func (f Fineness) Valid() bool {
	switch f {
	case FinenessGold999, FinenessGold916, FinenessGold750, FinenessGold585,
		FinenessSilver999, FinenessSilver925, FinenessPlatinum, FinenessPalladium:
		return true
	}
	return false
}

// Asset represents a tracked precious-metal holding.
//
// RetailerItemID is present only for assets priced via the retailer
// catalog; an empty value means the asset is priced via the spot API
// from its fineness and the configured currency.
//
// CurrentPrice is a denormalized cache of the most recent price history
// row's sell price. Only the sync coordinator writes it.
type Asset struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	Fineness       Fineness  `json:"fineness"`
	Quantity       float64   `json:"quantity"`
	UnitCost       float64   `json:"unit_cost"`
	RetailerItemID string    `json:"retailer_item_id,omitempty"`
	CurrentPrice   float64   `json:"current_price"`
	CreatedAt      time.Time `json:"created_at"`
}

// IsRetailerPriced reports whether the asset is priced via the retailer catalog.
func (a *Asset) IsRetailerPriced() bool {
	return a.RetailerItemID != ""
}

// PricePoint is one observation in an asset's append-only price history.
// Rows are immutable once written.
//
// BuyPrice <= SellPrice is expected but not enforced; a violation is
// valid data, not an error.
type PricePoint struct {
	AssetID   int64     `json:"asset_id"`
	Timestamp time.Time `json:"timestamp"`
	SellPrice float64   `json:"sell_price"`
	BuyPrice  float64   `json:"buy_price"`
}

// Quote is a normalized (sell, buy) price pair produced by either source.
// The coordinator is source-agnostic past this point.
type Quote struct {
	SellPrice float64 `json:"sell_price"`
	BuyPrice  float64 `json:"buy_price"`
}
