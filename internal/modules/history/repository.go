// Package history provides the append-only price history store.
//
// Rows are never updated. The read path always returns points in ascending
// timestamp order; the analytics layer depends on that contract and does
// not sort.
package history

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ingotlab/ingot/internal/domain"
)

// Repository provides access to the price_history table
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new price history repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "history").Logger(),
	}
}

// InsertTx appends a price point inside an open transaction.
// The sync coordinator pairs this with the asset's current-price update.
func (r *Repository) InsertTx(tx *sql.Tx, p domain.PricePoint) error {
	_, err := tx.Exec(`
		INSERT INTO price_history (asset_id, timestamp, sell_price, buy_price)
		VALUES (?, ?, ?, ?)
	`, p.AssetID, p.Timestamp.Unix(), p.SellPrice, p.BuyPrice)
	if err != nil {
		return fmt.Errorf("failed to insert price point for asset %d: %w", p.AssetID, err)
	}

	return nil
}

// GetForAsset returns an asset's full price history, ascending by timestamp.
func (r *Repository) GetForAsset(assetID int64) ([]domain.PricePoint, error) {
	rows, err := r.db.Query(`
		SELECT asset_id, timestamp, sell_price, buy_price
		FROM price_history
		WHERE asset_id = ?
		ORDER BY timestamp ASC, id ASC
	`, assetID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history for asset %d: %w", assetID, err)
	}
	defer rows.Close()

	return scanPoints(rows)
}

// GetAll returns the entire price history across all assets, ascending by
// timestamp per asset. Used by the portfolio curve builder and the backup
// export.
func (r *Repository) GetAll() (map[int64][]domain.PricePoint, error) {
	rows, err := r.db.Query(`
		SELECT asset_id, timestamp, sell_price, buy_price
		FROM price_history
		ORDER BY asset_id ASC, timestamp ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query price history: %w", err)
	}
	defer rows.Close()

	points, err := scanPoints(rows)
	if err != nil {
		return nil, err
	}

	byAsset := make(map[int64][]domain.PricePoint)
	for _, p := range points {
		byAsset[p.AssetID] = append(byAsset[p.AssetID], p)
	}

	return byAsset, nil
}

// GetLatestForAsset returns the most recent price point for an asset,
// or nil if the asset has no history yet.
func (r *Repository) GetLatestForAsset(assetID int64) (*domain.PricePoint, error) {
	row := r.db.QueryRow(`
		SELECT asset_id, timestamp, sell_price, buy_price
		FROM price_history
		WHERE asset_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT 1
	`, assetID)

	var p domain.PricePoint
	var ts int64
	err := row.Scan(&p.AssetID, &ts, &p.SellPrice, &p.BuyPrice)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest price point for asset %d: %w", assetID, err)
	}

	p.Timestamp = time.Unix(ts, 0).UTC()
	return &p, nil
}

// Count returns the total number of history rows.
func (r *Repository) Count() (int64, error) {
	var n int64
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM price_history`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count price history: %w", err)
	}
	return n, nil
}

// InsertManyTx appends a batch of price points inside an open transaction.
// Used by the backup restore path.
func (r *Repository) InsertManyTx(tx *sql.Tx, points []domain.PricePoint) error {
	stmt, err := tx.Prepare(`
		INSERT INTO price_history (asset_id, timestamp, sell_price, buy_price)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare history insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range points {
		if _, err := stmt.Exec(p.AssetID, p.Timestamp.Unix(), p.SellPrice, p.BuyPrice); err != nil {
			return fmt.Errorf("failed to insert price point for asset %d: %w", p.AssetID, err)
		}
	}

	return nil
}

func scanPoints(rows *sql.Rows) ([]domain.PricePoint, error) {
	var points []domain.PricePoint
	for rows.Next() {
		var p domain.PricePoint
		var ts int64

		if err := rows.Scan(&p.AssetID, &ts, &p.SellPrice, &p.BuyPrice); err != nil {
			return nil, fmt.Errorf("failed to scan price point: %w", err)
		}

		p.Timestamp = time.Unix(ts, 0).UTC()
		points = append(points, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating price points: %w", err)
	}

	return points, nil
}
