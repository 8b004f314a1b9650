// Package main is the entry point for the Ingot precious-metal portfolio
// tracker. It keeps a local price history for every tracked asset, refreshed
// periodically from the retailer catalog and the spot price API, and serves
// portfolio analytics over HTTP.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ingotlab/ingot/internal/clientcache"
	"github.com/ingotlab/ingot/internal/clients/retailer"
	"github.com/ingotlab/ingot/internal/clients/spot"
	"github.com/ingotlab/ingot/internal/config"
	"github.com/ingotlab/ingot/internal/database"
	"github.com/ingotlab/ingot/internal/domain"
	"github.com/ingotlab/ingot/internal/events"
	"github.com/ingotlab/ingot/internal/modules/assets"
	"github.com/ingotlab/ingot/internal/modules/backup"
	"github.com/ingotlab/ingot/internal/modules/history"
	syncmod "github.com/ingotlab/ingot/internal/modules/sync"
	"github.com/ingotlab/ingot/internal/scheduler"
	"github.com/ingotlab/ingot/internal/server"
	"github.com/ingotlab/ingot/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().Msg("Starting Ingot")

	// The asset registry and its price history share one database so a
	// price commit (history append + current price update) is a single
	// transaction. The source-response cache is ephemeral and lives apart.
	bullionDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "bullion.db"),
		Profile: database.ProfileLedger,
		Name:    "bullion",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open bullion database")
	}
	defer bullionDB.Close()

	cacheDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "cache.db"),
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open cache database")
	}
	defer cacheDB.Close()

	for _, db := range []*database.DB{bullionDB, cacheDB} {
		if err := db.Migrate(); err != nil {
			log.Fatal().Err(err).Str("database", db.Name()).Msg("Migration failed")
		}
	}

	// Repositories
	assetRepo := assets.NewRepository(bullionDB.Conn(), log)
	historyRepo := history.NewRepository(bullionDB.Conn(), log)
	cacheRepo := clientcache.NewRepository(cacheDB.Conn())

	// Event bus
	bus := events.NewBus(log)

	// Price source clients
	sourceTimeout := time.Duration(cfg.SourceTimeoutSeconds) * time.Second
	spotClient := spot.NewClient(cfg.SpotAPIBaseURL, cfg.SpotAPIKey, sourceTimeout, cacheRepo, log)
	retailerClient := retailer.NewClient(cfg.RetailerBaseURL, sourceTimeout, cacheRepo, log)

	// Sync coordinator
	coordinator := syncmod.NewCoordinator(syncmod.Config{
		Spot:          spotClient,
		Retailer:      retailerClient,
		History:       historyRepo,
		Assets:        assetRepo,
		DB:            bullionDB.Conn(),
		Currency:      domain.Currency(cfg.Currency),
		Spread:        cfg.SpotSpread,
		SourceTimeout: sourceTimeout,
		Emitter:       bus,
		Log:           log,
	})

	// Backup service, with off-site storage when configured
	backupCfg := backup.Config{
		Assets:         assetRepo,
		AssetRestorer:  assetRepo,
		History:        historyRepo,
		HistoryRestore: historyRepo,
		DB:             bullionDB.Conn(),
		Emitter:        bus,
		Log:            log,
	}
	if cfg.Backup.Enabled() {
		store, err := backup.NewS3Client(context.Background(), cfg.Backup, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create backup storage client")
		}
		backupCfg.Store = store
		log.Info().Str("bucket", cfg.Backup.Bucket).Msg("Off-site backup enabled")
	}
	backupSvc := backup.NewService(backupCfg)

	// Background jobs
	sched := scheduler.New(log)

	syncJob := scheduler.NewSyncJob(assetRepo, coordinator, 5*time.Minute, log)
	if err := sched.AddJob(cfg.SyncSchedule, syncJob); err != nil {
		log.Fatal().Err(err).Msg("Failed to register sync job")
	}

	if err := sched.AddJob("@hourly", scheduler.NewCacheCleanupJob(cacheRepo, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to register cache cleanup job")
	}

	maintenanceJob := scheduler.NewMaintenanceJob([]*database.DB{bullionDB, cacheDB}, log)
	if err := sched.AddJob("0 0 3 * * *", maintenanceJob); err != nil {
		log.Fatal().Err(err).Msg("Failed to register maintenance job")
	}

	if cfg.Backup.Enabled() {
		backupJob := scheduler.NewBackupJob(backupSvc, cfg.Backup.RetentionDays, log)
		if err := sched.AddJob(cfg.Backup.Schedule, backupJob); err != nil {
			log.Fatal().Err(err).Msg("Failed to register backup job")
		}
	}

	// HTTP server
	srv := server.New(server.Config{
		Log:         log,
		BullionDB:   bullionDB,
		CacheDB:     cacheDB,
		Config:      cfg,
		Port:        cfg.Port,
		DevMode:     cfg.DevMode,
		AssetRepo:   assetRepo,
		HistoryRepo: historyRepo,
		Coordinator: coordinator,
		BackupSvc:   backupSvc,
		Bus:         bus,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	sched.Start()

	log.Info().Int("port", cfg.Port).Msg("Ingot started")

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Flush the WAL before the deferred Close calls run
	for _, db := range []*database.DB{bullionDB, cacheDB} {
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			log.Error().Err(err).Str("database", db.Name()).Msg("Final WAL checkpoint failed")
		}
	}

	log.Info().Msg("Ingot stopped")
}
