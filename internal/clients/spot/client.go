// Package spot provides a client for market-wide precious metal spot prices.
// Quotes are fetched per currency with the full set of needed purities in a
// single call, cached persistently, and served stale when the API is down.
package spot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ingotlab/ingot/internal/clientcache"
	"github.com/ingotlab/ingot/internal/domain"
)

// Client for the spot price API
type Client struct {
	baseURL   string
	apiKey    string
	client    *http.Client
	log       zerolog.Logger
	cacheRepo *clientcache.Repository
}

// NewClient creates a new spot price client.
// cacheRepo is optional - if nil, caching is disabled.
func NewClient(baseURL, apiKey string, timeout time.Duration, cacheRepo *clientcache.Repository, log zerolog.Logger) *Client {
	return &Client{
		baseURL:   baseURL,
		apiKey:    apiKey,
		client:    &http.Client{Timeout: timeout},
		log:       log.With().Str("client", "spot").Logger(),
		cacheRepo: cacheRepo,
	}
}

// cachedPrices is the structure stored in the cache
type cachedPrices struct {
	Prices map[string]float64 `msgpack:"prices"`
}

// GetPrices fetches per-unit sell prices for the given purities in one call.
// The returned map is keyed by fineness; a purity the API does not quote is
// simply absent from the map (the caller decides what that means per asset).
//
// If the API fails, stale cached data is returned if available
// (stale data > no data).
func (c *Client) GetPrices(ctx context.Context, currency domain.Currency, purities []domain.Fineness) (map[domain.Fineness]float64, error) {
	cacheKey := string(currency)

	// Check persistent cache for fresh data
	if c.cacheRepo != nil {
		var cached cachedPrices
		ok, err := c.cacheRepo.GetIfFresh("spot_quotes", cacheKey, &cached)
		if err == nil && ok {
			c.log.Debug().
				Str("currency", string(currency)).
				Int("purities", len(cached.Prices)).
				Msg("Cache hit")
			return filterPurities(cached.Prices, purities), nil
		}
	}

	reqURL := fmt.Sprintf("%s/latest?currency=%s&purities=%s",
		c.baseURL, url.QueryEscape(string(currency)), url.QueryEscape(joinPurities(purities)))
	c.log.Debug().Str("url", reqURL).Msg("Fetching spot prices")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build spot request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		// API failed - try stale cached data as fallback
		if stale, ok := c.getStaleFromCache(cacheKey); ok {
			c.log.Warn().
				Err(err).
				Str("currency", string(currency)).
				Msg("API failed, using stale cached spot prices")
			return filterPurities(stale, purities), nil
		}
		return nil, fmt.Errorf("spot API request failed: %w: %w", domain.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if isRejection(resp.StatusCode) {
			// Credentials/quota problems are never served from stale cache:
			// the operator has to act, hiding it behind old data helps nobody.
			return nil, fmt.Errorf("spot API returned status %d: %w", resp.StatusCode, domain.ErrSourceRejected)
		}
		if stale, ok := c.getStaleFromCache(cacheKey); ok {
			c.log.Warn().
				Int("status", resp.StatusCode).
				Str("currency", string(currency)).
				Msg("API error, using stale cached spot prices")
			return filterPurities(stale, purities), nil
		}
		return nil, fmt.Errorf("spot API returned status %d: %w", resp.StatusCode, domain.ErrSourceUnavailable)
	}

	var result struct {
		Prices map[string]float64 `json:"prices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		if stale, ok := c.getStaleFromCache(cacheKey); ok {
			c.log.Warn().
				Err(err).
				Str("currency", string(currency)).
				Msg("Failed to parse API response, using stale cached spot prices")
			return filterPurities(stale, purities), nil
		}
		return nil, fmt.Errorf("failed to parse spot response: %w: %w", domain.ErrSourceUnavailable, err)
	}

	if len(result.Prices) == 0 {
		return nil, fmt.Errorf("spot response contains no prices: %w", domain.ErrNoQuote)
	}

	// Cache persistently
	if c.cacheRepo != nil {
		cached := cachedPrices{Prices: result.Prices}
		if err := c.cacheRepo.Store("spot_quotes", cacheKey, cached, clientcache.TTLSpotQuote); err != nil {
			c.log.Warn().Err(err).Str("currency", string(currency)).Msg("Failed to cache spot prices")
		}
	}

	c.log.Info().
		Str("currency", string(currency)).
		Int("purities", len(result.Prices)).
		Msg("Fetched spot prices")

	return filterPurities(result.Prices, purities), nil
}

// getStaleFromCache retrieves cached prices even if expired.
// Use this as a fallback when API calls fail - stale data is better than no data.
func (c *Client) getStaleFromCache(cacheKey string) (map[string]float64, bool) {
	if c.cacheRepo == nil {
		return nil, false
	}

	var cached cachedPrices
	ok, err := c.cacheRepo.Get("spot_quotes", cacheKey, &cached)
	if err != nil || !ok || len(cached.Prices) == 0 {
		return nil, false
	}

	return cached.Prices, true
}

// isRejection reports whether a status code indicates a credentials or
// quota problem rather than a transient failure.
func isRejection(status int) bool {
	return status == http.StatusUnauthorized ||
		status == http.StatusForbidden ||
		status == http.StatusTooManyRequests
}

// filterPurities narrows a raw price map to the requested purities.
func filterPurities(prices map[string]float64, purities []domain.Fineness) map[domain.Fineness]float64 {
	out := make(map[domain.Fineness]float64, len(purities))
	for _, p := range purities {
		if v, ok := prices[string(p)]; ok {
			out[p] = v
		}
	}
	return out
}

func joinPurities(purities []domain.Fineness) string {
	parts := make([]string, len(purities))
	for i, p := range purities {
		parts[i] = string(p)
	}
	return strings.Join(parts, ",")
}
