// Package analytics turns ordered price series into portfolio statistics.
//
// Everything in this package is a pure function of its inputs: no I/O, no
// shared state, safe to call concurrently. Input series must already be
// ascending by timestamp - that is the history store's read-path contract,
// and it is not re-validated here.
package analytics

import (
	"time"

	"github.com/ingotlab/ingot/internal/domain"
)

// HistoricalStats summarizes one asset's price series.
// Recomputed on demand, never persisted.
type HistoricalStats struct {
	AllTimeHigh     float64   `json:"all_time_high"`
	AllTimeHighDate time.Time `json:"all_time_high_date"`
	AllTimeLow      float64   `json:"all_time_low"`
	AllTimeLowDate  time.Time `json:"all_time_low_date"`

	BestDay        float64   `json:"best_day"`
	BestDayPercent float64   `json:"best_day_percent"`
	BestDayDate    time.Time `json:"best_day_date"`

	WorstDay        float64   `json:"worst_day"`
	WorstDayPercent float64   `json:"worst_day_percent"`
	WorstDayDate    time.Time `json:"worst_day_date"`

	MaxDrawdownPercent float64 `json:"max_drawdown_percent"`
	TotalReturnPercent float64 `json:"total_return_percent"`
}

// Compute reduces an ascending price series into historical statistics.
// Total function: a series with fewer than 2 points yields zero-valued
// stats (for exactly 1 point the extremes are that point, the rest zero).
//
// Two O(n) passes: one for extremes and adjacent-pair moves, one for the
// peak-to-trough drawdown.
func Compute(series []domain.PricePoint) HistoricalStats {
	var stats HistoricalStats

	if len(series) == 0 {
		return stats
	}

	// Extremes. Strict comparisons keep the earliest timestamp on ties.
	stats.AllTimeHigh = series[0].SellPrice
	stats.AllTimeHighDate = series[0].Timestamp
	stats.AllTimeLow = series[0].SellPrice
	stats.AllTimeLowDate = series[0].Timestamp

	for _, p := range series[1:] {
		if p.SellPrice > stats.AllTimeHigh {
			stats.AllTimeHigh = p.SellPrice
			stats.AllTimeHighDate = p.Timestamp
		}
		if p.SellPrice < stats.AllTimeLow {
			stats.AllTimeLow = p.SellPrice
			stats.AllTimeLowDate = p.Timestamp
		}
	}

	if len(series) < 2 {
		return stats
	}

	// Best/worst adjacent-pair move. A pair whose previous price is exactly
	// zero has no defined percent change and is skipped entirely.
	havePair := false
	for i := 1; i < len(series); i++ {
		prev := series[i-1].SellPrice
		if prev == 0 {
			continue
		}

		change := series[i].SellPrice - prev
		changePct := change / prev * 100

		if !havePair || changePct > stats.BestDayPercent {
			stats.BestDay = change
			stats.BestDayPercent = changePct
			stats.BestDayDate = series[i].Timestamp
		}
		if !havePair || changePct < stats.WorstDayPercent {
			stats.WorstDay = change
			stats.WorstDayPercent = changePct
			stats.WorstDayDate = series[i].Timestamp
		}
		havePair = true
	}

	// Max drawdown: decline from the running peak to any later point.
	// The reference peak moves only when a new all-time high is reached.
	peak := series[0].SellPrice
	for _, p := range series[1:] {
		if p.SellPrice > peak {
			peak = p.SellPrice
			continue
		}
		if peak > 0 {
			drawdown := (peak - p.SellPrice) / peak * 100
			if drawdown > stats.MaxDrawdownPercent {
				stats.MaxDrawdownPercent = drawdown
			}
		}
	}

	// Total return depends on the endpoints only.
	first := series[0].SellPrice
	if first != 0 {
		stats.TotalReturnPercent = (series[len(series)-1].SellPrice - first) / first * 100
	}

	return stats
}
