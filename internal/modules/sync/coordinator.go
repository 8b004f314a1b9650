// Package sync implements the price synchronization coordinator.
//
// One cycle obtains a fresh price for every tracked asset from its source -
// the retailer catalog for assets with a retailer item id, the spot API for
// the rest - and commits each (history append + current-price update) as a
// single transaction. One asset's failure never blocks the others.
package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	stdsync "sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ingotlab/ingot/internal/database"
	"github.com/ingotlab/ingot/internal/domain"
	"github.com/ingotlab/ingot/internal/events"
)

// SpotSource fetches spot prices for a set of purities in one call.
type SpotSource interface {
	GetPrices(ctx context.Context, currency domain.Currency, purities []domain.Fineness) (map[domain.Fineness]float64, error)
}

// RetailerSource fetches the retailer's full priced catalog in one call.
type RetailerSource interface {
	FetchCatalog(ctx context.Context) (map[string]domain.Quote, error)
}

// HistoryWriter appends price points inside a transaction.
type HistoryWriter interface {
	InsertTx(tx *sql.Tx, p domain.PricePoint) error
}

// AssetPriceWriter updates the denormalized current price inside a transaction.
type AssetPriceWriter interface {
	UpdateCurrentPriceTx(tx *sql.Tx, id int64, price float64) error
}

// EventEmitter notifies listeners after a cycle completes.
// Notification is layered on top of the coordinator, never inside it.
type EventEmitter interface {
	Emit(event string, data any)
}

// Coordinator orchestrates per-asset price refresh across both source types.
type Coordinator struct {
	spot     SpotSource
	retailer RetailerSource
	history  HistoryWriter
	assets   AssetPriceWriter
	db       *sql.DB

	currency      domain.Currency
	spread        float64 // buy/sell spread applied to spot quotes
	sourceTimeout time.Duration

	emitter EventEmitter // optional
	log     zerolog.Logger

	// Per-asset commit locks. A sync in flight for asset A must not
	// interleave with another sync's commit for A, but must not block B.
	locks stdsync.Map // int64 -> *stdsync.Mutex

	mu         stdsync.Mutex
	lastReport *Report
}

// Config holds coordinator configuration
type Config struct {
	Spot          SpotSource
	Retailer      RetailerSource
	History       HistoryWriter
	Assets        AssetPriceWriter
	DB            *sql.DB
	Currency      domain.Currency
	Spread        float64
	SourceTimeout time.Duration
	Emitter       EventEmitter
	Log           zerolog.Logger
}

// NewCoordinator creates a new sync coordinator
func NewCoordinator(cfg Config) *Coordinator {
	return &Coordinator{
		spot:          cfg.Spot,
		retailer:      cfg.Retailer,
		history:       cfg.History,
		assets:        cfg.Assets,
		db:            cfg.DB,
		currency:      cfg.Currency,
		spread:        cfg.Spread,
		sourceTimeout: cfg.SourceTimeout,
		emitter:       cfg.Emitter,
		log:           cfg.Log.With().Str("service", "sync").Logger(),
	}
}

// sourceResult carries one source group's fetch outcome.
type sourceResult[T any] struct {
	data T
	err  error
}

// SyncAll runs one sync cycle over the given assets.
//
// The two source fetches run concurrently; spot requests are coalesced
// into one call per currency carrying the distinct purity set before
// anything is issued. Each refreshed asset is committed independently
// under its own lock; a failure degrades that asset to the report's
// failed list and the cycle continues.
//
// Re-running immediately with unchanged upstream prices is safe and
// intentional: it appends another history point with the same price
// (history is a time series, not a diff log).
//
// On cancellation the partial report is returned together with the
// context error; committed assets stay committed.
func (c *Coordinator) SyncAll(ctx context.Context, allAssets []domain.Asset) (*Report, error) {
	report := &Report{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}

	scraped, spotPriced := partition(allAssets)

	c.log.Info().
		Int("assets", len(allAssets)).
		Int("scraped", len(scraped)).
		Int("spot_priced", len(spotPriced)).
		Msg("Starting sync cycle")

	// Fetch both source groups concurrently. Each call carries its own
	// timeout so a hung source cannot stall the whole cycle.
	var wg stdsync.WaitGroup
	var catalogRes sourceResult[map[string]domain.Quote]
	var spotRes sourceResult[map[domain.Fineness]float64]

	if len(scraped) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fetchCtx, cancel := context.WithTimeout(ctx, c.sourceTimeout)
			defer cancel()
			catalogRes.data, catalogRes.err = c.retailer.FetchCatalog(fetchCtx)
		}()
	}

	if len(spotPriced) > 0 {
		purities := distinctPurities(spotPriced)
		wg.Add(1)
		go func() {
			defer wg.Done()
			fetchCtx, cancel := context.WithTimeout(ctx, c.sourceTimeout)
			defer cancel()
			spotRes.data, spotRes.err = c.spot.GetPrices(fetchCtx, c.currency, purities)
		}()
	}

	wg.Wait()

	now := time.Now().UTC()

	// Decide and commit per asset. Commit order is deterministic but
	// unimportant; what matters is that each commit is atomic and guarded.
	err := c.applyCatalog(ctx, scraped, catalogRes, now, report)
	if err == nil {
		err = c.applySpot(ctx, spotPriced, spotRes, now, report)
	}

	report.FinishedAt = time.Now().UTC()
	sortReport(report)

	c.mu.Lock()
	c.lastReport = report
	c.mu.Unlock()

	c.log.Info().
		Int("updated", len(report.Updated)).
		Int("missing", len(report.Missing)).
		Int("failed", len(report.Failed)).
		Msg("Sync cycle complete")

	if c.emitter != nil && len(report.Updated) > 0 {
		c.emitter.Emit(string(events.PricesSynced), &events.PricesSyncedData{
			ReportID: report.ID,
			Updated:  len(report.Updated),
			Missing:  len(report.Missing),
			Failed:   len(report.Failed),
		})
	}

	return report, err
}

// LastReport returns the most recent cycle's report, or nil before the
// first cycle.
func (c *Coordinator) LastReport() *Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastReport
}

// applyCatalog resolves and commits the retailer-priced group.
func (c *Coordinator) applyCatalog(ctx context.Context, scraped []domain.Asset, res sourceResult[map[string]domain.Quote], now time.Time, report *Report) error {
	if len(scraped) == 0 {
		return nil
	}

	if res.err != nil {
		// The whole group shares one call, so the whole group shares its fate.
		c.log.Error().Err(res.err).Int("assets", len(scraped)).Msg("Retailer catalog fetch failed")
		for _, a := range scraped {
			report.Failed = append(report.Failed, Failure{AssetID: a.ID, Reason: res.err.Error()})
		}
		return nil
	}

	for _, a := range scraped {
		if err := ctx.Err(); err != nil {
			return err
		}

		quote, ok := res.data[a.RetailerItemID]
		if !ok {
			// Not an error: no update for this asset this cycle.
			report.Missing = append(report.Missing, a.ID)
			continue
		}

		if err := c.commit(a.ID, quote, now); err != nil {
			c.log.Error().Err(err).Int64("asset_id", a.ID).Msg("Failed to commit price")
			report.Failed = append(report.Failed, Failure{AssetID: a.ID, Reason: err.Error()})
			continue
		}
		report.Updated = append(report.Updated, a.ID)
	}

	return nil
}

// applySpot resolves and commits the spot-priced group.
func (c *Coordinator) applySpot(ctx context.Context, spotPriced []domain.Asset, res sourceResult[map[domain.Fineness]float64], now time.Time, report *Report) error {
	if len(spotPriced) == 0 {
		return nil
	}

	if res.err != nil {
		if errors.Is(res.err, domain.ErrNoQuote) {
			// Well-formed response without usable quotes: benign per-cycle gap.
			report.Missing = append(report.Missing, assetIDs(spotPriced)...)
			return nil
		}
		c.log.Error().Err(res.err).Int("assets", len(spotPriced)).Msg("Spot price fetch failed")
		for _, a := range spotPriced {
			report.Failed = append(report.Failed, Failure{AssetID: a.ID, Reason: res.err.Error()})
		}
		return nil
	}

	for _, a := range spotPriced {
		if err := ctx.Err(); err != nil {
			return err
		}

		sell, ok := res.data[a.Fineness]
		if !ok {
			report.Missing = append(report.Missing, a.ID)
			continue
		}

		quote := domain.Quote{
			SellPrice: sell,
			BuyPrice:  sell * (1 - c.spread),
		}

		if err := c.commit(a.ID, quote, now); err != nil {
			c.log.Error().Err(err).Int64("asset_id", a.ID).Msg("Failed to commit price")
			report.Failed = append(report.Failed, Failure{AssetID: a.ID, Reason: err.Error()})
			continue
		}
		report.Updated = append(report.Updated, a.ID)
	}

	return nil
}

// commit appends the history point and updates the denormalized current
// price as one transaction, under the asset's commit lock. Both writes
// become visible together or not at all.
func (c *Coordinator) commit(assetID int64, quote domain.Quote, now time.Time) error {
	lock := c.lockFor(assetID)
	lock.Lock()
	defer lock.Unlock()

	return database.WithTransaction(c.db, func(tx *sql.Tx) error {
		point := domain.PricePoint{
			AssetID:   assetID,
			Timestamp: now,
			SellPrice: quote.SellPrice,
			BuyPrice:  quote.BuyPrice,
		}

		if err := c.history.InsertTx(tx, point); err != nil {
			return fmt.Errorf("history append: %w", err)
		}

		if err := c.assets.UpdateCurrentPriceTx(tx, assetID, quote.SellPrice); err != nil {
			return fmt.Errorf("current price update: %w", err)
		}

		return nil
	})
}

func (c *Coordinator) lockFor(assetID int64) *stdsync.Mutex {
	actual, _ := c.locks.LoadOrStore(assetID, &stdsync.Mutex{})
	return actual.(*stdsync.Mutex)
}

// partition splits assets into the retailer-priced and spot-priced groups.
func partition(all []domain.Asset) (scraped, spotPriced []domain.Asset) {
	for _, a := range all {
		if a.IsRetailerPriced() {
			scraped = append(scraped, a)
		} else {
			spotPriced = append(spotPriced, a)
		}
	}
	return scraped, spotPriced
}

// distinctPurities collects the distinct finenesses of the spot group, so
// one coalesced call covers every asset sharing a quote key.
func distinctPurities(assets []domain.Asset) []domain.Fineness {
	seen := make(map[domain.Fineness]bool)
	var purities []domain.Fineness
	for _, a := range assets {
		if !seen[a.Fineness] {
			seen[a.Fineness] = true
			purities = append(purities, a.Fineness)
		}
	}
	sort.Slice(purities, func(i, j int) bool { return purities[i] < purities[j] })
	return purities
}

func assetIDs(assets []domain.Asset) []int64 {
	ids := make([]int64, len(assets))
	for i, a := range assets {
		ids[i] = a.ID
	}
	return ids
}

func sortReport(r *Report) {
	sort.Slice(r.Updated, func(i, j int) bool { return r.Updated[i] < r.Updated[j] })
	sort.Slice(r.Missing, func(i, j int) bool { return r.Missing[i] < r.Missing[j] })
	sort.Slice(r.Failed, func(i, j int) bool { return r.Failed[i].AssetID < r.Failed[j].AssetID })
}
