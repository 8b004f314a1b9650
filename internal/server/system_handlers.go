package server

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/ingotlab/ingot/internal/database"
)

// SystemHandlers serves system monitoring endpoints.
type SystemHandlers struct {
	log         zerolog.Logger
	dataDir     string
	startupTime time.Time
	bullionDB   *database.DB
	cacheDB     *database.DB
}

// NewSystemHandlers creates a new system handlers instance
func NewSystemHandlers(log zerolog.Logger, dataDir string, bullionDB, cacheDB *database.DB) *SystemHandlers {
	return &SystemHandlers{
		log:         log.With().Str("component", "system_handlers").Logger(),
		dataDir:     dataDir,
		startupTime: time.Now(),
		bullionDB:   bullionDB,
		cacheDB:     cacheDB,
	}
}

// HealthResponse reports per-database health
type HealthResponse struct {
	Status    string            `json:"status"` // "healthy" or "unhealthy"
	Databases map[string]string `json:"databases"`
}

// SystemStatsResponse reports process and host statistics
type SystemStatsResponse struct {
	UptimeHours   float64 `json:"uptime_hours"`
	CPUPercent    float64 `json:"cpu_percent"`
	RAMPercent    float64 `json:"ram_percent"`
	DiskUsedMB    float64 `json:"disk_used_mb"`
	DiskFreeMB    float64 `json:"disk_free_mb"`
	DiskPercent   float64 `json:"disk_percent"`
	DataDirectory string  `json:"data_directory"`
}

// DBStatsEntry describes one database's on-disk footprint
type DBStatsEntry struct {
	Name         string  `json:"name"`
	SizeMB       float64 `json:"size_mb"`
	WALSizeMB    float64 `json:"wal_size_mb"`
	PageCount    int64   `json:"page_count"`
	PageSizeByte int64   `json:"page_size_bytes"`
}

// HandleHealth runs an integrity check on each database
// GET /api/system/health
func (h *SystemHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Databases: make(map[string]string),
	}

	for _, db := range []*database.DB{h.bullionDB, h.cacheDB} {
		if err := db.HealthCheck(r.Context()); err != nil {
			h.log.Error().Err(err).Str("database", db.Name()).Msg("Database health check failed")
			response.Databases[db.Name()] = err.Error()
			response.Status = "unhealthy"
			continue
		}
		response.Databases[db.Name()] = "ok"
	}

	status := http.StatusOK
	if response.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, response)
}

// HandleStats returns process and host statistics
// GET /api/system/stats
func (h *SystemHandlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	response := SystemStatsResponse{
		UptimeHours:   time.Since(h.startupTime).Hours(),
		DataDirectory: h.dataDir,
	}

	// Short sample interval to keep the endpoint responsive
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
	} else if len(cpuPercent) > 0 {
		response.CPUPercent = cpuPercent[0]
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
	} else {
		response.RAMPercent = memStat.UsedPercent
	}

	diskStat, err := disk.Usage(h.dataDir)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get disk usage")
	} else {
		response.DiskUsedMB = float64(diskStat.Used) / 1024 / 1024
		response.DiskFreeMB = float64(diskStat.Free) / 1024 / 1024
		response.DiskPercent = diskStat.UsedPercent
	}

	writeJSON(w, http.StatusOK, response)
}

// HandleDatabaseStats returns per-database size statistics
// GET /api/system/database/stats
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	var entries []DBStatsEntry

	for _, db := range []*database.DB{h.bullionDB, h.cacheDB} {
		stats, err := db.GetStats()
		if err != nil {
			h.log.Error().Err(err).Str("database", db.Name()).Msg("Failed to get database stats")
			continue
		}

		entries = append(entries, DBStatsEntry{
			Name:         db.Name(),
			SizeMB:       float64(stats.SizeBytes) / 1024 / 1024,
			WALSizeMB:    float64(stats.WALSizeBytes) / 1024 / 1024,
			PageCount:    stats.PageCount,
			PageSizeByte: stats.PageSize,
		})
	}

	writeJSON(w, http.StatusOK, entries)
}
