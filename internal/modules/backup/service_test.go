package backup

import (
	"bytes"
	"compress/gzip"
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ingotlab/ingot/internal/domain"
	"github.com/ingotlab/ingot/internal/modules/assets"
	"github.com/ingotlab/ingot/internal/modules/history"
)

const testSchema = `
CREATE TABLE assets (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    name             TEXT    NOT NULL,
    fineness         TEXT    NOT NULL,
    quantity         REAL    NOT NULL DEFAULT 1,
    unit_cost        REAL    NOT NULL DEFAULT 0,
    retailer_item_id TEXT,
    current_price    REAL    NOT NULL DEFAULT 0,
    created_at       INTEGER NOT NULL
);

CREATE TABLE price_history (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    asset_id   INTEGER NOT NULL REFERENCES assets(id) ON DELETE CASCADE,
    timestamp  INTEGER NOT NULL,
    sell_price REAL    NOT NULL,
    buy_price  REAL    NOT NULL
);
`

type fakeStore struct {
	objects map[string][]byte
	deleted []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte)}
}

func (f *fakeStore) Upload(ctx context.Context, key string, body []byte) error {
	f.objects[key] = body
	return nil
}

func (f *fakeStore) List(ctx context.Context, prefix string) ([]StoredObject, error) {
	var out []StoredObject
	for key, body := range f.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, StoredObject{Key: key, SizeBytes: int64(len(body))})
		}
	}
	return out, nil
}

func (f *fakeStore) Delete(ctx context.Context, key string) error {
	delete(f.objects, key)
	f.deleted = append(f.deleted, key)
	return nil
}

type fakeEmitter struct {
	events []string
}

func (f *fakeEmitter) Emit(event string, data any) {
	f.events = append(f.events, event)
}

type testFixture struct {
	db          *sql.DB
	assetRepo   *assets.Repository
	historyRepo *history.Repository
	store       *fakeStore
	emitter     *fakeEmitter
	service     *Service
}

func setup(t *testing.T) *testFixture {
	db, err := sql.Open("sqlite", "file::memory:?_pragma=foreign_keys(1)")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(testSchema)
	require.NoError(t, err)

	assetRepo := assets.NewRepository(db, zerolog.Nop())
	historyRepo := history.NewRepository(db, zerolog.Nop())
	store := newFakeStore()
	emitter := &fakeEmitter{}

	service := NewService(Config{
		Assets:         assetRepo,
		AssetRestorer:  assetRepo,
		History:        historyRepo,
		HistoryRestore: historyRepo,
		DB:             db,
		Store:          store,
		Emitter:        emitter,
		Log:            zerolog.Nop(),
	})

	return &testFixture{
		db:          db,
		assetRepo:   assetRepo,
		historyRepo: historyRepo,
		store:       store,
		emitter:     emitter,
		service:     service,
	}
}

func (f *testFixture) seed(t *testing.T) {
	gold, err := f.assetRepo.Create(domain.Asset{Name: "Gold bar", Fineness: domain.FinenessGold999, Quantity: 2, UnitCost: 1500})
	require.NoError(t, err)
	silver, err := f.assetRepo.Create(domain.Asset{Name: "Silver coin", Fineness: domain.FinenessSilver999, Quantity: 10, UnitCost: 25, RetailerItemID: "sc-1"})
	require.NoError(t, err)

	tx, err := f.db.Begin()
	require.NoError(t, err)
	require.NoError(t, f.historyRepo.InsertManyTx(tx, []domain.PricePoint{
		{AssetID: gold.ID, Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), SellPrice: 2000, BuyPrice: 1940},
		{AssetID: gold.ID, Timestamp: time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC), SellPrice: 2050, BuyPrice: 1988},
		{AssetID: silver.ID, Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), SellPrice: 30, BuyPrice: 29},
	}))
	require.NoError(t, tx.Commit())
}

func TestExportRestoreRoundTrip(t *testing.T) {
	f := setup(t)
	f.seed(t)

	bundle, err := f.service.Export()
	require.NoError(t, err)
	assert.Equal(t, BundleVersion, bundle.Version)
	assert.NotEmpty(t, bundle.ID)
	require.Len(t, bundle.Assets, 2)
	require.Len(t, bundle.History, 3)

	// Mutate the store after export, then restore over it
	_, err = f.assetRepo.Create(domain.Asset{Name: "Extra", Fineness: domain.FinenessPlatinum, Quantity: 1})
	require.NoError(t, err)

	require.NoError(t, f.service.Restore(bundle))

	all, err := f.assetRepo.GetAll()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Gold bar", all[0].Name)
	assert.Equal(t, bundle.Assets[0].ID, all[0].ID)
	assert.Equal(t, "sc-1", all[1].RetailerItemID)

	n, err := f.historyRepo.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	// History rows still point at the restored asset ids
	series, err := f.historyRepo.GetForAsset(all[0].ID)
	require.NoError(t, err)
	assert.Len(t, series, 2)
}

func TestRestoreRejectsUnknownVersion(t *testing.T) {
	f := setup(t)
	f.seed(t)

	bundle, err := f.service.Export()
	require.NoError(t, err)
	bundle.Version = 2

	err = f.service.Restore(bundle)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported bundle version")

	// The failed restore touched nothing
	all, err := f.assetRepo.GetAll()
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestUploadWritesCompressedBundle(t *testing.T) {
	f := setup(t)
	f.seed(t)

	require.NoError(t, f.service.Upload(context.Background()))

	require.Len(t, f.store.objects, 1)
	for key, body := range f.store.objects {
		assert.True(t, strings.HasPrefix(key, backupKeyPrefix))
		assert.True(t, strings.HasSuffix(key, backupKeySuffix))

		gz, err := gzip.NewReader(bytes.NewReader(body))
		require.NoError(t, err)
		var bundle Bundle
		require.NoError(t, json.NewDecoder(gz).Decode(&bundle))
		assert.Equal(t, BundleVersion, bundle.Version)
		assert.Len(t, bundle.Assets, 2)
	}

	assert.Equal(t, []string{"BackupCompleted"}, f.emitter.events)
}

func TestUploadWithoutStoreConfigured(t *testing.T) {
	f := setup(t)
	noStore := NewService(Config{
		Assets:  f.assetRepo,
		History: f.historyRepo,
		DB:      f.db,
		Log:     zerolog.Nop(),
	})

	err := noStore.Upload(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}

func TestListUploadsNewestFirst(t *testing.T) {
	f := setup(t)

	f.store.objects["ingot-backup-2026-03-01-120000.json.gz"] = []byte("a")
	f.store.objects["ingot-backup-2026-03-03-120000.json.gz"] = []byte("bb")
	f.store.objects["ingot-backup-2026-03-02-120000.json.gz"] = []byte("ccc")
	f.store.objects["ingot-backup-garbage.json.gz"] = []byte("skip") // unparsable timestamp

	backups, err := f.service.ListUploads(context.Background())
	require.NoError(t, err)
	require.Len(t, backups, 3)
	assert.Equal(t, "ingot-backup-2026-03-03-120000.json.gz", backups[0].Filename)
	assert.Equal(t, "ingot-backup-2026-03-01-120000.json.gz", backups[2].Filename)
	assert.Equal(t, int64(2), backups[0].SizeBytes)
}

func TestRotateUploadsKeepsMinimum(t *testing.T) {
	f := setup(t)

	// All three are ancient but below the minimum count, so none go
	f.store.objects["ingot-backup-2020-01-01-120000.json.gz"] = []byte("a")
	f.store.objects["ingot-backup-2020-01-02-120000.json.gz"] = []byte("b")
	f.store.objects["ingot-backup-2020-01-03-120000.json.gz"] = []byte("c")

	require.NoError(t, f.service.RotateUploads(context.Background(), 30))
	assert.Empty(t, f.store.deleted)
}

func TestRotateUploadsDeletesExpired(t *testing.T) {
	f := setup(t)

	recent := time.Now().Add(-time.Hour)
	f.store.objects[backupKeyPrefix+recent.Format(backupTimeLayout)+backupKeySuffix] = []byte("r")
	f.store.objects["ingot-backup-2020-01-01-120000.json.gz"] = []byte("a")
	f.store.objects["ingot-backup-2020-01-02-120000.json.gz"] = []byte("b")
	f.store.objects["ingot-backup-2020-01-03-120000.json.gz"] = []byte("c")
	f.store.objects["ingot-backup-2020-01-04-120000.json.gz"] = []byte("d")

	require.NoError(t, f.service.RotateUploads(context.Background(), 30))

	// Newest three survive regardless of age, the two oldest expire
	assert.ElementsMatch(t, []string{
		"ingot-backup-2020-01-01-120000.json.gz",
		"ingot-backup-2020-01-02-120000.json.gz",
	}, f.store.deleted)
	assert.Len(t, f.store.objects, 3)
}

func TestRotateUploadsZeroRetentionKeepsEverything(t *testing.T) {
	f := setup(t)

	for _, day := range []string{"01", "02", "03", "04", "05"} {
		f.store.objects["ingot-backup-2020-01-"+day+"-120000.json.gz"] = []byte("x")
	}

	require.NoError(t, f.service.RotateUploads(context.Background(), 0))
	assert.Empty(t, f.store.deleted)
	assert.Len(t, f.store.objects, 5)
}
