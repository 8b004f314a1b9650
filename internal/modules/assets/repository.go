// Package assets provides persistence for tracked precious-metal holdings.
package assets

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ingotlab/ingot/internal/domain"
)

// Repository provides CRUD access to the assets table.
//
// current_price is deliberately absent from Update: it is owned by the
// sync coordinator's commit step (UpdateCurrentPriceTx) so the cache can
// never drift from the history log through ordinary edits.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new asset repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "assets").Logger(),
	}
}

// Create inserts a new asset and returns it with its assigned id.
func (r *Repository) Create(asset domain.Asset) (*domain.Asset, error) {
	if asset.CreatedAt.IsZero() {
		asset.CreatedAt = time.Now()
	}

	var retailerID sql.NullString
	if asset.RetailerItemID != "" {
		retailerID = sql.NullString{String: asset.RetailerItemID, Valid: true}
	}

	result, err := r.db.Exec(`
		INSERT INTO assets (name, fineness, quantity, unit_cost, retailer_item_id, current_price, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, asset.Name, string(asset.Fineness), asset.Quantity, asset.UnitCost, retailerID, asset.CurrentPrice, asset.CreatedAt.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to insert asset: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get inserted asset id: %w", err)
	}

	asset.ID = id
	return &asset, nil
}

// GetByID returns a single asset, or nil if it does not exist.
func (r *Repository) GetByID(id int64) (*domain.Asset, error) {
	row := r.db.QueryRow(`
		SELECT id, name, fineness, quantity, unit_cost, retailer_item_id, current_price, created_at
		FROM assets WHERE id = ?
	`, id)

	asset, err := scanAsset(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get asset %d: %w", id, err)
	}

	return asset, nil
}

// GetAll returns all tracked assets ordered by creation.
func (r *Repository) GetAll() ([]domain.Asset, error) {
	rows, err := r.db.Query(`
		SELECT id, name, fineness, quantity, unit_cost, retailer_item_id, current_price, created_at
		FROM assets ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query assets: %w", err)
	}
	defer rows.Close()

	var assets []domain.Asset
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		assets = append(assets, *asset)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating assets: %w", err)
	}

	return assets, nil
}

// Update modifies the user-editable fields of an asset.
func (r *Repository) Update(id int64, name string, fineness domain.Fineness, quantity, unitCost float64, retailerItemID string) error {
	var retailerID sql.NullString
	if retailerItemID != "" {
		retailerID = sql.NullString{String: retailerItemID, Valid: true}
	}

	result, err := r.db.Exec(`
		UPDATE assets
		SET name = ?, fineness = ?, quantity = ?, unit_cost = ?, retailer_item_id = ?
		WHERE id = ?
	`, name, string(fineness), quantity, unitCost, retailerID, id)
	if err != nil {
		return fmt.Errorf("failed to update asset %d: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("asset %d not found", id)
	}

	return nil
}

// Delete removes an asset. Its price history rows cascade.
func (r *Repository) Delete(id int64) error {
	result, err := r.db.Exec(`DELETE FROM assets WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete asset %d: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("asset %d not found", id)
	}

	return nil
}

// UpdateCurrentPriceTx sets the denormalized current price inside an open
// transaction. The sync coordinator calls this in the same transaction as
// the history append so the two writes commit as one unit.
func (r *Repository) UpdateCurrentPriceTx(tx *sql.Tx, id int64, price float64) error {
	result, err := tx.Exec(`UPDATE assets SET current_price = ? WHERE id = ?`, price, id)
	if err != nil {
		return fmt.Errorf("failed to update current price for asset %d: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("asset %d not found", id)
	}

	return nil
}

// CreateTx inserts an asset with an explicit id inside an open transaction.
// Used by the backup restore path, which must preserve ids so that restored
// history rows keep pointing at the right assets.
func (r *Repository) CreateTx(tx *sql.Tx, asset domain.Asset) error {
	var retailerID sql.NullString
	if asset.RetailerItemID != "" {
		retailerID = sql.NullString{String: asset.RetailerItemID, Valid: true}
	}

	_, err := tx.Exec(`
		INSERT INTO assets (id, name, fineness, quantity, unit_cost, retailer_item_id, current_price, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, asset.ID, asset.Name, string(asset.Fineness), asset.Quantity, asset.UnitCost, retailerID, asset.CurrentPrice, asset.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert asset %d: %w", asset.ID, err)
	}

	return nil
}

// DeleteAllTx clears the assets table inside an open transaction.
// History rows cascade. Used only by the backup restore path.
func (r *Repository) DeleteAllTx(tx *sql.Tx) error {
	if _, err := tx.Exec(`DELETE FROM assets`); err != nil {
		return fmt.Errorf("failed to clear assets: %w", err)
	}
	return nil
}

// scanner covers both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAsset(s scanner) (*domain.Asset, error) {
	var a domain.Asset
	var fineness string
	var retailerID sql.NullString
	var createdUnix int64

	if err := s.Scan(&a.ID, &a.Name, &fineness, &a.Quantity, &a.UnitCost, &retailerID, &a.CurrentPrice, &createdUnix); err != nil {
		return nil, err
	}

	a.Fineness = domain.Fineness(fineness)
	if retailerID.Valid {
		a.RetailerItemID = retailerID.String
	}
	a.CreatedAt = time.Unix(createdUnix, 0).UTC()

	return &a, nil
}
