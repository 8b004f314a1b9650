package retailer

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	_ "modernc.org/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ingotlab/ingot/internal/clientcache"
	"github.com/ingotlab/ingot/internal/domain"
)

const catalogPage = `<!DOCTYPE html><html><head></head><body>
<script>window.__PRODUCT_FEED__ = [
  {"item_id": "krug-1oz", "sell_price": 2105.5, "buy_price": 2010.0},
  {"item_id": "phil-1oz", "sell_price": 2098.0, "buy_price": 2005.0},
  {"item_id": "", "sell_price": 1.0, "buy_price": 1.0}
];</script>
</body></html>`

func newCacheRepo(t *testing.T) *clientcache.Repository {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE retailer_catalog (
		cache_key TEXT PRIMARY KEY, data BLOB NOT NULL, expires_at INTEGER NOT NULL)`)
	require.NoError(t, err)

	return clientcache.NewRepository(db)
}

func TestFetchCatalogParsesEmbeddedFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(catalogPage))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second, nil, zerolog.Nop())

	catalog, err := client.FetchCatalog(context.Background())
	require.NoError(t, err)
	require.Len(t, catalog, 2) // the empty-id entry is dropped
	assert.Equal(t, domain.Quote{SellPrice: 2105.5, BuyPrice: 2010.0}, catalog["krug-1oz"])
	assert.Equal(t, domain.Quote{SellPrice: 2098.0, BuyPrice: 2005.0}, catalog["phil-1oz"])
}

func TestFetchCatalogBotWall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second, nil, zerolog.Nop())

	_, err := client.FetchCatalog(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrSourceRejected))
}

func TestFetchCatalogServerDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	client := NewClient(srv.URL, time.Second, nil, zerolog.Nop())

	_, err := client.FetchCatalog(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrSourceUnavailable))
}

func TestFetchCatalogMissingFeedMarker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>maintenance page</body></html>"))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second, nil, zerolog.Nop())

	_, err := client.FetchCatalog(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrSourceUnavailable))
}

func TestFetchCatalogEmptyFeedIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><script>window.__PRODUCT_FEED__ = [];</script></html>`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second, nil, zerolog.Nop())

	_, err := client.FetchCatalog(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrSourceUnavailable))
}

func TestFetchCatalogStaleFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	cache := newCacheRepo(t)
	client := NewClient(srv.URL, time.Second, cache, zerolog.Nop())

	// Seed an expired catalog for this URL, as if a past fetch succeeded
	stale := cachedCatalog{Items: []feedItem{
		{ItemID: "krug-1oz", SellPrice: 2000, BuyPrice: 1900},
	}}
	require.NoError(t, cache.Store("retailer_catalog", srv.URL, stale, -time.Minute))

	catalog, err := client.FetchCatalog(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.Quote{SellPrice: 2000, BuyPrice: 1900}, catalog["krug-1oz"])
}

func TestFetchCatalogServedFromFreshCache(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(catalogPage))
	}))
	defer srv.Close()

	cache := newCacheRepo(t)
	client := NewClient(srv.URL, time.Second, cache, zerolog.Nop())

	_, err := client.FetchCatalog(context.Background())
	require.NoError(t, err)
	_, err = client.FetchCatalog(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
}
