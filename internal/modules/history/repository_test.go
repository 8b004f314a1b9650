package history

import (
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ingotlab/ingot/internal/domain"
)

const testSchema = `
CREATE TABLE price_history (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    asset_id   INTEGER NOT NULL,
    timestamp  INTEGER NOT NULL,
    sell_price REAL    NOT NULL,
    buy_price  REAL    NOT NULL
);
`

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(testSchema)
	require.NoError(t, err)

	return db
}

func insert(t *testing.T, repo *Repository, db *sql.DB, points ...domain.PricePoint) {
	tx, err := db.Begin()
	require.NoError(t, err)
	for _, p := range points {
		require.NoError(t, repo.InsertTx(tx, p))
	}
	require.NoError(t, tx.Commit())
}

func at(day int) time.Time {
	return time.Date(2026, 2, day, 9, 0, 0, 0, time.UTC)
}

func TestInsertAndGetForAsset(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db, zerolog.Nop())

	insert(t, repo, db,
		domain.PricePoint{AssetID: 1, Timestamp: at(2), SellPrice: 110, BuyPrice: 107},
		domain.PricePoint{AssetID: 1, Timestamp: at(1), SellPrice: 100, BuyPrice: 97},
		domain.PricePoint{AssetID: 2, Timestamp: at(1), SellPrice: 50, BuyPrice: 48},
	)

	series, err := repo.GetForAsset(1)
	require.NoError(t, err)
	require.Len(t, series, 2)

	// Ascending by timestamp regardless of insert order
	assert.Equal(t, at(1), series[0].Timestamp)
	assert.Equal(t, 100.0, series[0].SellPrice)
	assert.Equal(t, at(2), series[1].Timestamp)
	assert.Equal(t, 110.0, series[1].SellPrice)
}

func TestGetForAssetEmpty(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db, zerolog.Nop())

	series, err := repo.GetForAsset(1)
	require.NoError(t, err)
	assert.Empty(t, series)
}

func TestGetAllGroupsByAsset(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db, zerolog.Nop())

	insert(t, repo, db,
		domain.PricePoint{AssetID: 1, Timestamp: at(1), SellPrice: 100, BuyPrice: 97},
		domain.PricePoint{AssetID: 2, Timestamp: at(1), SellPrice: 50, BuyPrice: 48},
		domain.PricePoint{AssetID: 2, Timestamp: at(2), SellPrice: 55, BuyPrice: 53},
	)

	byAsset, err := repo.GetAll()
	require.NoError(t, err)
	require.Len(t, byAsset, 2)
	assert.Len(t, byAsset[1], 1)
	require.Len(t, byAsset[2], 2)
	assert.Equal(t, 50.0, byAsset[2][0].SellPrice)
	assert.Equal(t, 55.0, byAsset[2][1].SellPrice)
}

func TestGetLatestForAsset(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db, zerolog.Nop())

	latest, err := repo.GetLatestForAsset(1)
	require.NoError(t, err)
	assert.Nil(t, latest)

	insert(t, repo, db,
		domain.PricePoint{AssetID: 1, Timestamp: at(1), SellPrice: 100, BuyPrice: 97},
		domain.PricePoint{AssetID: 1, Timestamp: at(3), SellPrice: 120, BuyPrice: 117},
		domain.PricePoint{AssetID: 1, Timestamp: at(2), SellPrice: 110, BuyPrice: 107},
	)

	latest, err = repo.GetLatestForAsset(1)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, at(3), latest.Timestamp)
	assert.Equal(t, 120.0, latest.SellPrice)
}

func TestInsertManyTx(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db, zerolog.Nop())

	points := []domain.PricePoint{
		{AssetID: 1, Timestamp: at(1), SellPrice: 100, BuyPrice: 97},
		{AssetID: 1, Timestamp: at(2), SellPrice: 105, BuyPrice: 102},
		{AssetID: 2, Timestamp: at(1), SellPrice: 50, BuyPrice: 48},
	}

	tx, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, repo.InsertManyTx(tx, points))
	require.NoError(t, tx.Commit())

	n, err := repo.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestDuplicateTimestampsKeepInsertOrder(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRepository(db, zerolog.Nop())

	insert(t, repo, db,
		domain.PricePoint{AssetID: 1, Timestamp: at(1), SellPrice: 100, BuyPrice: 97},
		domain.PricePoint{AssetID: 1, Timestamp: at(1), SellPrice: 101, BuyPrice: 98},
	)

	series, err := repo.GetForAsset(1)
	require.NoError(t, err)
	require.Len(t, series, 2)
	assert.Equal(t, 100.0, series[0].SellPrice)
	assert.Equal(t, 101.0, series[1].SellPrice)
}
