package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ingotlab/ingot/internal/database"
	"github.com/ingotlab/ingot/internal/domain"
	syncmod "github.com/ingotlab/ingot/internal/modules/sync"
)

// AssetLister provides the asset set a sync cycle covers.
type AssetLister interface {
	GetAll() ([]domain.Asset, error)
}

// Syncer runs one full price synchronization cycle.
type Syncer interface {
	SyncAll(ctx context.Context, assets []domain.Asset) (*syncmod.Report, error)
}

// SyncJob refreshes every tracked asset's price on schedule.
type SyncJob struct {
	assets  AssetLister
	syncer  Syncer
	timeout time.Duration
	log     zerolog.Logger
}

// NewSyncJob creates a new sync job
func NewSyncJob(assets AssetLister, syncer Syncer, timeout time.Duration, log zerolog.Logger) *SyncJob {
	return &SyncJob{
		assets:  assets,
		syncer:  syncer,
		timeout: timeout,
		log:     log.With().Str("job", "price_sync").Logger(),
	}
}

// Name returns the job name
func (j *SyncJob) Name() string {
	return "price_sync"
}

// Run executes one sync cycle over all tracked assets
func (j *SyncJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	all, err := j.assets.GetAll()
	if err != nil {
		return fmt.Errorf("failed to list assets: %w", err)
	}

	if len(all) == 0 {
		j.log.Debug().Msg("No assets to sync")
		return nil
	}

	report, err := j.syncer.SyncAll(ctx, all)
	if err != nil {
		return fmt.Errorf("sync cycle: %w", err)
	}

	if len(report.Failed) > 0 {
		j.log.Warn().
			Int("failed", len(report.Failed)).
			Str("report_id", report.ID).
			Msg("Sync cycle finished with failures")
	}

	return nil
}

// CacheCleaner removes expired cache entries.
type CacheCleaner interface {
	DeleteAllExpired() (map[string]int64, error)
}

// CacheCleanupJob prunes expired source-response cache rows.
type CacheCleanupJob struct {
	cache CacheCleaner
	log   zerolog.Logger
}

// NewCacheCleanupJob creates a new cache cleanup job
func NewCacheCleanupJob(cache CacheCleaner, log zerolog.Logger) *CacheCleanupJob {
	return &CacheCleanupJob{
		cache: cache,
		log:   log.With().Str("job", "cache_cleanup").Logger(),
	}
}

// Name returns the job name
func (j *CacheCleanupJob) Name() string {
	return "cache_cleanup"
}

// Run deletes expired entries from all cache tables
func (j *CacheCleanupJob) Run() error {
	deleted, err := j.cache.DeleteAllExpired()
	if err != nil {
		return fmt.Errorf("cache cleanup: %w", err)
	}

	total := int64(0)
	for _, n := range deleted {
		total += n
	}

	if total > 0 {
		j.log.Info().Int64("deleted", total).Msg("Expired cache entries removed")
	}

	return nil
}

// MaintenanceJob checkpoints the WAL and verifies database integrity.
type MaintenanceJob struct {
	databases []*database.DB
	log       zerolog.Logger
}

// NewMaintenanceJob creates a new maintenance job
func NewMaintenanceJob(databases []*database.DB, log zerolog.Logger) *MaintenanceJob {
	return &MaintenanceJob{
		databases: databases,
		log:       log.With().Str("job", "db_maintenance").Logger(),
	}
}

// Name returns the job name
func (j *MaintenanceJob) Name() string {
	return "db_maintenance"
}

// Run checkpoints each database's WAL and runs a quick integrity check.
// Problems are logged per database; the job keeps going so one bad
// database does not skip maintenance on the others.
func (j *MaintenanceJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	for _, db := range j.databases {
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			j.log.Error().Err(err).Str("database", db.Name()).Msg("WAL checkpoint failed")
		}

		if err := db.QuickCheck(ctx); err != nil {
			j.log.Error().Err(err).Str("database", db.Name()).Msg("Integrity check failed")
		}
	}

	return nil
}

// Backuper uploads and rotates off-site backups.
type Backuper interface {
	Upload(ctx context.Context) error
	RotateUploads(ctx context.Context, retentionDays int) error
}

// BackupJob uploads a backup bundle off-site and rotates old ones.
type BackupJob struct {
	backup        Backuper
	retentionDays int
	log           zerolog.Logger
}

// NewBackupJob creates a new backup job
func NewBackupJob(backup Backuper, retentionDays int, log zerolog.Logger) *BackupJob {
	return &BackupJob{
		backup:        backup,
		retentionDays: retentionDays,
		log:           log.With().Str("job", "backup").Logger(),
	}
}

// Name returns the job name
func (j *BackupJob) Name() string {
	return "backup"
}

// Run exports, uploads and rotates backups
func (j *BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if err := j.backup.Upload(ctx); err != nil {
		return fmt.Errorf("backup upload: %w", err)
	}

	// Rotation failure is not worth failing the job over: the upload
	// itself succeeded.
	if err := j.backup.RotateUploads(ctx, j.retentionDays); err != nil {
		j.log.Error().Err(err).Msg("Backup rotation failed")
	}

	return nil
}
