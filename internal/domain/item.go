package domain

import "time"

// Marketplace identifies the storefront a tracked URL belongs to.
type Marketplace string

const (
	MarketplaceAmazon  Marketplace = "amazon"
	MarketplaceNoon    Marketplace = "noon"
	MarketplaceUnknown Marketplace = "unknown"
)

// Availability is the stock state reported by a marketplace page.
type Availability string

const (
	InStock    Availability = "in_stock"
	OutOfStock Availability = "out_of_stock"
)

// Normalize maps anything that is not explicitly out of stock to in stock,
// which is how the catalog service treats missing values.
func (a Availability) Normalize() Availability {
	if a == OutOfStock {
		return OutOfStock
	}
	return InStock
}

// DefaultCurrency is used when a page or the catalog does not report one.
const DefaultCurrency = "USD"

// UnknownProductName is shown for items whose title could not be extracted.
const UnknownProductName = "Unknown Product"

// AllowedIntervals lists the refresh cadences (in hours) a user can pick.
var AllowedIntervals = []int{1, 6, 12, 24}

// ValidInterval reports whether hours is one of AllowedIntervals.
func ValidInterval(hours int) bool {
	for _, h := range AllowedIntervals {
		if h == hours {
			return true
		}
	}
	return false
}

// TrackedItem is the local projection of a product tracked by the catalog service.
//
// The catalog service owns the durable record. This struct is what the engine
// keeps for offline resilience and fast reads; a sync pass always overwrites it.
type TrackedItem struct {
	// ─────────────────────────────
	// Identity (immutable)
	// ─────────────────────────────

	// ID is derived from URL by GenerateID.
	// Example: amazon_B0ABCDEFGH
	ID string `json:"id"`

	// URL is the normalized product URL.
	URL string `json:"url"`

	Marketplace Marketplace `json:"marketplace"`

	// ─────────────────────────────
	// Last known product state
	// ─────────────────────────────

	Name          string       `json:"name"`
	Currency      string       `json:"currency"`
	CurrentPrice  *float64     `json:"currentPrice"`
	OriginalPrice *float64     `json:"originalPrice,omitempty"`
	Availability  Availability `json:"availability"`
	Image         string       `json:"image,omitempty"`

	// ─────────────────────────────
	// Scheduling
	// ─────────────────────────────

	// UpdateIntervalHours is one of AllowedIntervals.
	UpdateIntervalHours int `json:"updateIntervalHours"`

	// NextRunAt is the server-computed next refresh time (UTC), nil when unknown.
	NextRunAt *time.Time `json:"nextRunAt,omitempty"`

	LastUpdatedAt time.Time `json:"lastUpdatedAt"`
}

// Clone returns a deep copy so callers can mutate it without racing readers.
func (it *TrackedItem) Clone() *TrackedItem {
	if it == nil {
		return nil
	}
	c := *it
	if it.CurrentPrice != nil {
		p := *it.CurrentPrice
		c.CurrentPrice = &p
	}
	if it.OriginalPrice != nil {
		p := *it.OriginalPrice
		c.OriginalPrice = &p
	}
	if it.NextRunAt != nil {
		t := *it.NextRunAt
		c.NextRunAt = &t
	}
	return &c
}

// Overdue reports whether the item's next run is at or before now.
func (it *TrackedItem) Overdue(now time.Time) bool {
	return it.NextRunAt != nil && !it.NextRunAt.After(now)
}

// Snapshot is the structured result of one extraction.
type Snapshot struct {
	Name         string       `json:"name"`
	Price        *float64     `json:"price"`
	Currency     string       `json:"currency"`
	Availability Availability `json:"availability"`
	Image        string       `json:"image,omitempty"`
	SKU          string       `json:"sku,omitempty"`
}

// SyncMeta links a local item id to its remote identifiers.
type SyncMeta struct {
	RemoteID     string    `json:"remoteId"`
	LastSyncedAt time.Time `json:"lastSyncedAt"`
}

// InvalidID reports ids left behind by broken writes ("undefined", "null", ...).
func InvalidID(id string) bool {
	switch id {
	case "", "undefined", "null", "NaN":
		return true
	}
	return false
}
