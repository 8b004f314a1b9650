// Package retailer provides a scraping client for a bullion retailer's
// product catalog. One fetch returns the retailer's full priced catalog;
// individual items are matched by the retailer's own item id.
package retailer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ingotlab/ingot/internal/clientcache"
	"github.com/ingotlab/ingot/internal/domain"
)

// The catalog page embeds its product feed as a JSON array assigned to a
// global, the same feed the retailer's own frontend renders from. Scraping
// that blob is far more stable than walking the DOM, but it still breaks
// when the site changes its bundling - that surfaces as a parse failure.
const (
	feedMarker = "window.__PRODUCT_FEED__ ="
	feedEnd    = ";</script>"
)

// Client scrapes a retailer catalog page
type Client struct {
	catalogURL string
	client     *http.Client
	log        zerolog.Logger
	cacheRepo  *clientcache.Repository
}

// NewClient creates a new retailer catalog client.
// cacheRepo is optional - if nil, caching is disabled.
func NewClient(catalogURL string, timeout time.Duration, cacheRepo *clientcache.Repository, log zerolog.Logger) *Client {
	return &Client{
		catalogURL: catalogURL,
		client:     &http.Client{Timeout: timeout},
		log:        log.With().Str("client", "retailer").Logger(),
		cacheRepo:  cacheRepo,
	}
}

// feedItem is one product entry in the embedded feed
type feedItem struct {
	ItemID    string  `json:"item_id" msgpack:"item_id"`
	SellPrice float64 `json:"sell_price" msgpack:"sell_price"`
	BuyPrice  float64 `json:"buy_price" msgpack:"buy_price"`
}

// cachedCatalog is the structure stored in the cache
type cachedCatalog struct {
	Items []feedItem `msgpack:"items"`
}

// FetchCatalog fetches and parses the retailer's full priced catalog.
// The result maps retailer item id to its quoted (sell, buy) prices.
//
// If the fetch or parse fails, a stale cached catalog is returned if
// available (stale data > no data).
func (c *Client) FetchCatalog(ctx context.Context) (map[string]domain.Quote, error) {
	// Check persistent cache for fresh data
	if c.cacheRepo != nil {
		var cached cachedCatalog
		ok, err := c.cacheRepo.GetIfFresh("retailer_catalog", c.catalogURL, &cached)
		if err == nil && ok {
			c.log.Debug().Int("items", len(cached.Items)).Msg("Cache hit")
			return toQuoteMap(cached.Items), nil
		}
	}

	c.log.Debug().Str("url", c.catalogURL).Msg("Fetching retailer catalog")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.catalogURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build catalog request: %w", err)
	}
	// Some retailers serve a bot-wall to the default Go user agent.
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) ingot/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		if stale, ok := c.getStaleFromCache(); ok {
			c.log.Warn().Err(err).Msg("Fetch failed, using stale cached catalog")
			return toQuoteMap(stale), nil
		}
		return nil, fmt.Errorf("catalog fetch failed: %w: %w", domain.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("catalog fetch returned status %d: %w", resp.StatusCode, domain.ErrSourceRejected)
		}
		if stale, ok := c.getStaleFromCache(); ok {
			c.log.Warn().Int("status", resp.StatusCode).Msg("Fetch error, using stale cached catalog")
			return toQuoteMap(stale), nil
		}
		return nil, fmt.Errorf("catalog fetch returned status %d: %w", resp.StatusCode, domain.ErrSourceUnavailable)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if stale, ok := c.getStaleFromCache(); ok {
			c.log.Warn().Err(err).Msg("Read failed, using stale cached catalog")
			return toQuoteMap(stale), nil
		}
		return nil, fmt.Errorf("failed to read catalog page: %w: %w", domain.ErrSourceUnavailable, err)
	}

	items, err := parseFeed(string(body))
	if err != nil {
		// Parse failure means the site structure changed - stale data keeps
		// the sync alive while the operator fixes the scraper.
		if stale, ok := c.getStaleFromCache(); ok {
			c.log.Warn().Err(err).Msg("Parse failed, using stale cached catalog")
			return toQuoteMap(stale), nil
		}
		return nil, fmt.Errorf("failed to parse catalog: %w: %w", domain.ErrSourceUnavailable, err)
	}

	if len(items) == 0 {
		// An empty feed on a page that parsed fine almost always means the
		// marker matched a placeholder - treat it like a parse failure.
		if stale, ok := c.getStaleFromCache(); ok {
			c.log.Warn().Msg("Empty catalog, using stale cached catalog")
			return toQuoteMap(stale), nil
		}
		return nil, fmt.Errorf("catalog is empty: %w", domain.ErrSourceUnavailable)
	}

	// Cache persistently
	if c.cacheRepo != nil {
		if err := c.cacheRepo.Store("retailer_catalog", c.catalogURL, cachedCatalog{Items: items}, clientcache.TTLRetailerCatalog); err != nil {
			c.log.Warn().Err(err).Msg("Failed to cache catalog")
		}
	}

	c.log.Info().Int("items", len(items)).Msg("Fetched retailer catalog")

	return toQuoteMap(items), nil
}

// getStaleFromCache retrieves a cached catalog even if expired.
func (c *Client) getStaleFromCache() ([]feedItem, bool) {
	if c.cacheRepo == nil {
		return nil, false
	}

	var cached cachedCatalog
	ok, err := c.cacheRepo.Get("retailer_catalog", c.catalogURL, &cached)
	if err != nil || !ok || len(cached.Items) == 0 {
		return nil, false
	}

	return cached.Items, true
}

// parseFeed extracts and decodes the embedded JSON product feed from the
// catalog page HTML.
func parseFeed(page string) ([]feedItem, error) {
	start := strings.Index(page, feedMarker)
	if start == -1 {
		return nil, fmt.Errorf("product feed marker not found")
	}
	start += len(feedMarker)

	end := strings.Index(page[start:], feedEnd)
	if end == -1 {
		return nil, fmt.Errorf("product feed terminator not found")
	}

	raw := strings.TrimSpace(page[start : start+end])

	var items []feedItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("product feed is not valid JSON: %w", err)
	}

	return items, nil
}

func toQuoteMap(items []feedItem) map[string]domain.Quote {
	out := make(map[string]domain.Quote, len(items))
	for _, item := range items {
		if item.ItemID == "" {
			continue
		}
		out[item.ItemID] = domain.Quote{
			SellPrice: item.SellPrice,
			BuyPrice:  item.BuyPrice,
		}
	}
	return out
}
