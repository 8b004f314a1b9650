package spot

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

func newCacheRepo(t *testing.T) *clientcache.Repository {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE spot_quotes (
		cache_key TEXT PRIMARY KEY, data BLOB NOT NULL, expires_at INTEGER NOT NULL)`)
	require.NoError(t, err)

	return clientcache.NewRepository(db)
}

func TestGetPricesFiltersToRequestedPurities(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "EUR", r.URL.Query().Get("currency"))
		w.Write([]byte(`{"prices": {"gold_999": 2000.5, "silver_999": 25.1, "platinum_999": 900.0}}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key", time.Second, nil, zerolog.Nop())

	prices, err := client.GetPrices(context.Background(), domain.CurrencyEUR,
		[]domain.Fineness{domain.FinenessGold999, domain.FinenessPalladium})
	require.NoError(t, err)

	// Only the requested purities come back; an unquoted purity is absent
	require.Len(t, prices, 1)
	assert.Equal(t, 2000.5, prices[domain.FinenessGold999])
	_, ok := prices[domain.FinenessPalladium]
	assert.False(t, ok)
}

func TestGetPricesRejectedCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "bad-key", time.Second, nil, zerolog.Nop())

	_, err := client.GetPrices(context.Background(), domain.CurrencyEUR, []domain.Fineness{domain.FinenessGold999})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrSourceRejected))
}

func TestGetPricesEmptyResponseIsNoQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"prices": {}}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", time.Second, nil, zerolog.Nop())

	_, err := client.GetPrices(context.Background(), domain.CurrencyEUR, []domain.Fineness{domain.FinenessGold999})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNoQuote))
}

func TestGetPricesServerDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	client := NewClient(srv.URL, "", time.Second, nil, zerolog.Nop())

	_, err := client.GetPrices(context.Background(), domain.CurrencyEUR, []domain.Fineness{domain.FinenessGold999})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrSourceUnavailable))
}

func TestGetPricesStaleFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	cache := newCacheRepo(t)
	client := NewClient(srv.URL, "", time.Second, cache, zerolog.Nop())

	stale := cachedPrices{Prices: map[string]float64{"gold_999": 1990.0}}
	require.NoError(t, cache.Store("spot_quotes", "EUR", stale, -time.Minute))

	prices, err := client.GetPrices(context.Background(), domain.CurrencyEUR, []domain.Fineness{domain.FinenessGold999})
	require.NoError(t, err)
	assert.Equal(t, 1990.0, prices[domain.FinenessGold999])
}

func TestGetPricesServedFromFreshCache(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"prices": {"gold_999": 2000.0}}`))
	}))
	defer srv.Close()

	cache := newCacheRepo(t)
	client := NewClient(srv.URL, "", time.Second, cache, zerolog.Nop())

	_, err := client.GetPrices(context.Background(), domain.CurrencyEUR, []domain.Fineness{domain.FinenessGold999})
	require.NoError(t, err)
	_, err = client.GetPrices(context.Background(), domain.CurrencyEUR, []domain.Fineness{domain.FinenessGold999})
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
}
