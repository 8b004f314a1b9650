package clientcache

import "time"

// Cache TTLs per source. Spot quotes move continuously during market hours
// so they expire quickly; retailer catalogs are scraped pages that change
// at most a few times a day.
const (
	TTLSpotQuote       = 15 * time.Minute
	TTLRetailerCatalog = 4 * time.Hour
)
