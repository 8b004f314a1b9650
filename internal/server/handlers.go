package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/ingotlab/ingot/internal/config"
	"github.com/ingotlab/ingot/internal/domain"
	"github.com/ingotlab/ingot/internal/events"
	"github.com/ingotlab/ingot/internal/modules/analytics"
	"github.com/ingotlab/ingot/internal/modules/assets"
	"github.com/ingotlab/ingot/internal/modules/backup"
	"github.com/ingotlab/ingot/internal/modules/history"
	syncmod "github.com/ingotlab/ingot/internal/modules/sync"
)

// Handlers serves the asset, portfolio, sync and backup endpoints.
type Handlers struct {
	log         zerolog.Logger
	assetRepo   *assets.Repository
	historyRepo *history.Repository
	coordinator *syncmod.Coordinator
	backupSvc   *backup.Service
	bus         *events.Bus
	backupCfg   *config.BackupConfig
}

// HandlersConfig holds handler dependencies
type HandlersConfig struct {
	Log         zerolog.Logger
	AssetRepo   *assets.Repository
	HistoryRepo *history.Repository
	Coordinator *syncmod.Coordinator
	BackupSvc   *backup.Service
	Bus         *events.Bus
	Backup      *config.BackupConfig
}

// NewHandlers creates the API handlers
func NewHandlers(cfg HandlersConfig) *Handlers {
	return &Handlers{
		log:         cfg.Log.With().Str("component", "handlers").Logger(),
		assetRepo:   cfg.AssetRepo,
		historyRepo: cfg.HistoryRepo,
		coordinator: cfg.Coordinator,
		backupSvc:   cfg.BackupSvc,
		bus:         cfg.Bus,
		backupCfg:   cfg.Backup,
	}
}

// assetRequest is the create/update payload for an asset.
type assetRequest struct {
	Name           string  `json:"name"`
	Fineness       string  `json:"fineness"`
	Quantity       float64 `json:"quantity"`
	UnitCost       float64 `json:"unit_cost"`
	RetailerItemID string  `json:"retailer_item_id"`
}

func (req *assetRequest) validate() error {
	if req.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !domain.Fineness(req.Fineness).Valid() {
		return fmt.Errorf("unknown fineness %q", req.Fineness)
	}
	if req.Quantity <= 0 {
		return fmt.Errorf("quantity must be positive")
	}
	if req.UnitCost < 0 {
		return fmt.Errorf("unit_cost must not be negative")
	}
	return nil
}

// HandleListAssets returns all tracked assets
// GET /api/assets
func (h *Handlers) HandleListAssets(w http.ResponseWriter, r *http.Request) {
	all, err := h.assetRepo.GetAll()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list assets")
		writeError(w, http.StatusInternalServerError, "failed to list assets")
		return
	}

	writeJSON(w, http.StatusOK, all)
}

// HandleCreateAsset creates a new asset
// POST /api/assets
func (h *Handlers) HandleCreateAsset(w http.ResponseWriter, r *http.Request) {
	var req assetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := h.assetRepo.Create(domain.Asset{
		Name:           req.Name,
		Fineness:       domain.Fineness(req.Fineness),
		Quantity:       req.Quantity,
		UnitCost:       req.UnitCost,
		RetailerItemID: req.RetailerItemID,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to create asset")
		writeError(w, http.StatusInternalServerError, "failed to create asset")
		return
	}

	h.bus.Emit(string(events.AssetAdded), &events.AssetAddedData{
		AssetID:  created.ID,
		Name:     created.Name,
		Fineness: string(created.Fineness),
	})

	writeJSON(w, http.StatusCreated, created)
}

// HandleGetAsset returns one asset by id
// GET /api/assets/{id}
func (h *Handlers) HandleGetAsset(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	asset, err := h.assetRepo.GetByID(id)
	if err != nil {
		h.log.Error().Err(err).Int64("asset_id", id).Msg("Failed to get asset")
		writeError(w, http.StatusInternalServerError, "failed to get asset")
		return
	}
	if asset == nil {
		writeError(w, http.StatusNotFound, "asset not found")
		return
	}

	writeJSON(w, http.StatusOK, asset)
}

// HandleUpdateAsset updates an asset's user-editable fields
// PUT /api/assets/{id}
func (h *Handlers) HandleUpdateAsset(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var req assetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	existing, err := h.assetRepo.GetByID(id)
	if err != nil {
		h.log.Error().Err(err).Int64("asset_id", id).Msg("Failed to get asset")
		writeError(w, http.StatusInternalServerError, "failed to get asset")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "asset not found")
		return
	}

	err = h.assetRepo.Update(id, req.Name, domain.Fineness(req.Fineness), req.Quantity, req.UnitCost, req.RetailerItemID)
	if err != nil {
		h.log.Error().Err(err).Int64("asset_id", id).Msg("Failed to update asset")
		writeError(w, http.StatusInternalServerError, "failed to update asset")
		return
	}

	updated, err := h.assetRepo.GetByID(id)
	if err != nil {
		h.log.Error().Err(err).Int64("asset_id", id).Msg("Failed to reload asset")
		writeError(w, http.StatusInternalServerError, "failed to reload asset")
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

// HandleDeleteAsset deletes an asset and its history
// DELETE /api/assets/{id}
func (h *Handlers) HandleDeleteAsset(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	existing, err := h.assetRepo.GetByID(id)
	if err != nil {
		h.log.Error().Err(err).Int64("asset_id", id).Msg("Failed to get asset")
		writeError(w, http.StatusInternalServerError, "failed to get asset")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "asset not found")
		return
	}

	if err := h.assetRepo.Delete(id); err != nil {
		h.log.Error().Err(err).Int64("asset_id", id).Msg("Failed to delete asset")
		writeError(w, http.StatusInternalServerError, "failed to delete asset")
		return
	}

	h.bus.Emit(string(events.AssetRemoved), &events.AssetRemovedData{AssetID: id})

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// HandleAssetHistory returns an asset's full price history
// GET /api/assets/{id}/history
func (h *Handlers) HandleAssetHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	series, err := h.historyRepo.GetForAsset(id)
	if err != nil {
		h.log.Error().Err(err).Int64("asset_id", id).Msg("Failed to get history")
		writeError(w, http.StatusInternalServerError, "failed to get history")
		return
	}

	writeJSON(w, http.StatusOK, series)
}

// HandleAssetStats returns historical statistics for one asset
// GET /api/assets/{id}/stats
func (h *Handlers) HandleAssetStats(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	series, err := h.historyRepo.GetForAsset(id)
	if err != nil {
		h.log.Error().Err(err).Int64("asset_id", id).Msg("Failed to get history")
		writeError(w, http.StatusInternalServerError, "failed to get history")
		return
	}

	writeJSON(w, http.StatusOK, analytics.Compute(series))
}

// HandlePortfolioCurve returns the portfolio value curve. An optional
// ?smooth=N parameter applies an N-point moving average.
// GET /api/portfolio/curve
func (h *Handlers) HandlePortfolioCurve(w http.ResponseWriter, r *http.Request) {
	curve, _, err := h.buildCurve()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to build portfolio curve")
		writeError(w, http.StatusInternalServerError, "failed to build curve")
		return
	}

	if raw := r.URL.Query().Get("smooth"); raw != "" {
		window, err := strconv.Atoi(raw)
		if err != nil || window < 2 {
			writeError(w, http.StatusBadRequest, "smooth must be an integer >= 2")
			return
		}
		curve = analytics.SmoothCurve(curve, window)
	}

	writeJSON(w, http.StatusOK, curve)
}

// HandlePortfolioStats returns aggregated portfolio statistics
// GET /api/portfolio/stats
func (h *Handlers) HandlePortfolioStats(w http.ResponseWriter, r *http.Request) {
	curve, allAssets, err := h.buildCurve()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to build portfolio curve")
		writeError(w, http.StatusInternalServerError, "failed to aggregate portfolio")
		return
	}

	writeJSON(w, http.StatusOK, analytics.Aggregate(allAssets, curve))
}

func (h *Handlers) buildCurve() ([]analytics.CurvePoint, []domain.Asset, error) {
	allAssets, err := h.assetRepo.GetAll()
	if err != nil {
		return nil, nil, err
	}

	perAsset, err := h.historyRepo.GetAll()
	if err != nil {
		return nil, nil, err
	}

	holdings := make(map[int64]float64, len(allAssets))
	for _, a := range allAssets {
		holdings[a.ID] = a.Quantity
	}

	return analytics.BuildCurve(perAsset, holdings), allAssets, nil
}

// HandleTriggerSync runs one sync cycle and returns its report
// POST /api/sync
func (h *Handlers) HandleTriggerSync(w http.ResponseWriter, r *http.Request) {
	h.log.Info().Msg("Manual sync triggered")

	all, err := h.assetRepo.GetAll()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list assets")
		writeError(w, http.StatusInternalServerError, "failed to list assets")
		return
	}

	report, err := h.coordinator.SyncAll(r.Context(), all)
	if err != nil {
		// The report still reflects everything committed before the error.
		h.log.Error().Err(err).Msg("Sync cycle aborted")
		writeJSON(w, http.StatusOK, map[string]any{
			"report": report,
			"error":  err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"report": report})
}

// HandleSyncReport returns the most recent sync report
// GET /api/sync/report
func (h *Handlers) HandleSyncReport(w http.ResponseWriter, r *http.Request) {
	report := h.coordinator.LastReport()
	if report == nil {
		writeError(w, http.StatusNotFound, "no sync cycle has run yet")
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// HandleBackupExport returns a full backup bundle
// GET /api/backup/export
func (h *Handlers) HandleBackupExport(w http.ResponseWriter, r *http.Request) {
	bundle, err := h.backupSvc.Export()
	if err != nil {
		h.log.Error().Err(err).Msg("Backup export failed")
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}

	writeJSON(w, http.StatusOK, bundle)
}

// HandleBackupRestore replaces all data with the posted bundle
// POST /api/backup/restore
func (h *Handlers) HandleBackupRestore(w http.ResponseWriter, r *http.Request) {
	var bundle backup.Bundle
	if err := json.NewDecoder(r.Body).Decode(&bundle); err != nil {
		writeError(w, http.StatusBadRequest, "invalid bundle")
		return
	}

	if err := h.backupSvc.Restore(&bundle); err != nil {
		h.log.Error().Err(err).Msg("Backup restore failed")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "restored"})
}

// HandleBackupUpload exports and uploads a bundle off-site
// POST /api/backup/upload
func (h *Handlers) HandleBackupUpload(w http.ResponseWriter, r *http.Request) {
	if !h.backupCfg.Enabled() {
		writeError(w, http.StatusConflict, "off-site backup is not configured")
		return
	}

	if err := h.backupSvc.Upload(r.Context()); err != nil {
		h.log.Error().Err(err).Msg("Backup upload failed")
		writeError(w, http.StatusInternalServerError, "upload failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "uploaded"})
}

// HandleBackupList lists off-site backups
// GET /api/backup/list
func (h *Handlers) HandleBackupList(w http.ResponseWriter, r *http.Request) {
	if !h.backupCfg.Enabled() {
		writeError(w, http.StatusConflict, "off-site backup is not configured")
		return
	}

	backups, err := h.backupSvc.ListUploads(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Backup list failed")
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}

	writeJSON(w, http.StatusOK, backups)
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid asset id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
