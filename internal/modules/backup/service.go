// Package backup provides versioned full-state export and restore, plus
// optional off-site upload to S3-compatible storage.
package backup

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ingotlab/ingot/internal/database"
	"github.com/ingotlab/ingot/internal/domain"
	"github.com/ingotlab/ingot/internal/events"
)

// BundleVersion is the current export format version. Restore rejects any
// other version outright - a future format must never be half-interpreted.
const BundleVersion = 1

// Bundle is a full snapshot of all assets and their price history.
type Bundle struct {
	Version    int                 `json:"version"`
	ID         string              `json:"id"`
	ExportedAt time.Time           `json:"exported_at"`
	Assets     []domain.Asset      `json:"assets"`
	History    []domain.PricePoint `json:"history"`
}

// AssetReader provides the full asset set for export.
type AssetReader interface {
	GetAll() ([]domain.Asset, error)
}

// AssetRestorer writes assets back during restore.
type AssetRestorer interface {
	DeleteAllTx(tx *sql.Tx) error
	CreateTx(tx *sql.Tx, asset domain.Asset) error
}

// HistoryReader provides the full price history for export.
type HistoryReader interface {
	GetAll() (map[int64][]domain.PricePoint, error)
}

// HistoryRestorer writes history back during restore.
type HistoryRestorer interface {
	InsertManyTx(tx *sql.Tx, points []domain.PricePoint) error
}

// ObjectStore is the off-site storage the service uploads bundles to.
type ObjectStore interface {
	Upload(ctx context.Context, key string, body []byte) error
	List(ctx context.Context, prefix string) ([]StoredObject, error)
	Delete(ctx context.Context, key string) error
}

// StoredObject describes one object in the off-site store.
type StoredObject struct {
	Key       string
	SizeBytes int64
}

// Info describes one off-site backup for listing.
type Info struct {
	Filename  string    `json:"filename"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
	AgeHours  int64     `json:"age_hours"`
}

// EventEmitter notifies listeners after backup operations.
type EventEmitter interface {
	Emit(event string, data any)
}

// Service produces and consumes backup bundles.
type Service struct {
	assets         AssetReader
	assetRestorer  AssetRestorer
	history        HistoryReader
	historyRestore HistoryRestorer
	db             *sql.DB
	store          ObjectStore // nil when off-site backup is not configured
	emitter        EventEmitter
	log            zerolog.Logger
}

// Config holds backup service dependencies
type Config struct {
	Assets         AssetReader
	AssetRestorer  AssetRestorer
	History        HistoryReader
	HistoryRestore HistoryRestorer
	DB             *sql.DB
	Store          ObjectStore
	Emitter        EventEmitter
	Log            zerolog.Logger
}

// NewService creates a new backup service
func NewService(cfg Config) *Service {
	return &Service{
		assets:         cfg.Assets,
		assetRestorer:  cfg.AssetRestorer,
		history:        cfg.History,
		historyRestore: cfg.HistoryRestore,
		db:             cfg.DB,
		store:          cfg.Store,
		emitter:        cfg.Emitter,
		log:            cfg.Log.With().Str("service", "backup").Logger(),
	}
}

// Export reads the full store into a versioned bundle.
func (s *Service) Export() (*Bundle, error) {
	allAssets, err := s.assets.GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read assets for export: %w", err)
	}

	byAsset, err := s.history.GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read history for export: %w", err)
	}

	// Flatten per-asset series in stable order
	assetIDs := make([]int64, 0, len(byAsset))
	for id := range byAsset {
		assetIDs = append(assetIDs, id)
	}
	sort.Slice(assetIDs, func(i, j int) bool { return assetIDs[i] < assetIDs[j] })

	var points []domain.PricePoint
	for _, id := range assetIDs {
		points = append(points, byAsset[id]...)
	}

	bundle := &Bundle{
		Version:    BundleVersion,
		ID:         uuid.NewString(),
		ExportedAt: time.Now().UTC(),
		Assets:     allAssets,
		History:    points,
	}

	s.log.Info().
		Str("bundle_id", bundle.ID).
		Int("assets", len(bundle.Assets)).
		Int("points", len(bundle.History)).
		Msg("Exported backup bundle")

	return bundle, nil
}

// Restore replaces the store's contents with the bundle's, in one
// transaction. Asset ids are preserved so restored history rows keep
// pointing at the right assets. Unknown bundle versions are rejected.
func (s *Service) Restore(bundle *Bundle) error {
	if bundle.Version != BundleVersion {
		return fmt.Errorf("unsupported bundle version %d (expected %d)", bundle.Version, BundleVersion)
	}

	err := database.WithTransaction(s.db, func(tx *sql.Tx) error {
		if err := s.assetRestorer.DeleteAllTx(tx); err != nil {
			return err
		}

		for _, a := range bundle.Assets {
			if err := s.assetRestorer.CreateTx(tx, a); err != nil {
				return err
			}
		}

		return s.historyRestore.InsertManyTx(tx, bundle.History)
	})
	if err != nil {
		return fmt.Errorf("restore failed: %w", err)
	}

	s.log.Info().
		Str("bundle_id", bundle.ID).
		Int("assets", len(bundle.Assets)).
		Int("points", len(bundle.History)).
		Msg("Restored backup bundle")

	return nil
}

// backupKeyPrefix and time layout for off-site object names,
// e.g. ingot-backup-2026-08-31-140502.json.gz
const (
	backupKeyPrefix  = "ingot-backup-"
	backupKeySuffix  = ".json.gz"
	backupTimeLayout = "2006-01-02-150405"
	minBackupsToKeep = 3
)

// Upload exports a bundle and uploads it gzip-compressed to the off-site
// store.
func (s *Service) Upload(ctx context.Context) error {
	if s.store == nil {
		return fmt.Errorf("off-site backup is not configured")
	}

	startTime := time.Now()

	bundle, err := s.Export()
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if err := json.NewEncoder(gz).Encode(bundle); err != nil {
		return fmt.Errorf("failed to encode bundle: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to compress bundle: %w", err)
	}

	key := backupKeyPrefix + bundle.ExportedAt.Format(backupTimeLayout) + backupKeySuffix
	checksum := sha256.Sum256(buf.Bytes())

	if err := s.store.Upload(ctx, key, buf.Bytes()); err != nil {
		return fmt.Errorf("failed to upload backup: %w", err)
	}

	s.log.Info().
		Str("key", key).
		Str("checksum", fmt.Sprintf("sha256:%x", checksum)).
		Int("size_bytes", buf.Len()).
		Dur("duration_ms", time.Since(startTime)).
		Msg("Backup uploaded")

	if s.emitter != nil {
		s.emitter.Emit(string(events.BackupCompleted), &events.BackupCompletedData{
			BundleID: bundle.ID,
			Assets:   len(bundle.Assets),
			Points:   len(bundle.History),
			Uploaded: true,
		})
	}

	return nil
}

// ListUploads lists all backups in the off-site store, newest first.
func (s *Service) ListUploads(ctx context.Context) ([]Info, error) {
	if s.store == nil {
		return nil, fmt.Errorf("off-site backup is not configured")
	}

	objects, err := s.store.List(ctx, backupKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	backups := make([]Info, 0, len(objects))
	now := time.Now()

	for _, obj := range objects {
		if !strings.HasPrefix(obj.Key, backupKeyPrefix) || !strings.HasSuffix(obj.Key, backupKeySuffix) {
			continue
		}

		timestampStr := strings.TrimPrefix(obj.Key, backupKeyPrefix)
		timestampStr = strings.TrimSuffix(timestampStr, backupKeySuffix)

		timestamp, err := time.Parse(backupTimeLayout, timestampStr)
		if err != nil {
			s.log.Warn().Str("key", obj.Key).Msg("Failed to parse timestamp from backup key")
			continue
		}

		backups = append(backups, Info{
			Filename:  obj.Key,
			Timestamp: timestamp,
			SizeBytes: obj.SizeBytes,
			AgeHours:  int64(now.Sub(timestamp).Hours()),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})

	return backups, nil
}

// RotateUploads deletes off-site backups older than the retention period.
// Keeps a minimum of 3 backups regardless of age; retention 0 keeps
// everything beyond that minimum.
func (s *Service) RotateUploads(ctx context.Context, retentionDays int) error {
	backups, err := s.ListUploads(ctx)
	if err != nil {
		return err
	}

	if len(backups) <= minBackupsToKeep {
		s.log.Info().Int("count", len(backups)).Msg("Too few backups to rotate")
		return nil
	}

	var cutoffTime time.Time
	if retentionDays > 0 {
		cutoffTime = time.Now().AddDate(0, 0, -retentionDays)
	}

	deleted := 0
	for i, b := range backups {
		if i < minBackupsToKeep || retentionDays == 0 {
			continue
		}

		if b.Timestamp.Before(cutoffTime) {
			if err := s.store.Delete(ctx, b.Filename); err != nil {
				s.log.Error().Err(err).Str("key", b.Filename).Msg("Failed to delete old backup")
				continue
			}
			s.log.Info().Str("key", b.Filename).Time("timestamp", b.Timestamp).Msg("Deleted old backup")
			deleted++
		}
	}

	s.log.Info().
		Int("deleted", deleted).
		Int("remaining", len(backups)-deleted).
		Msg("Backup rotation completed")

	return nil
}
