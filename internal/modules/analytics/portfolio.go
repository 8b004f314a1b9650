package analytics

import (
	"gonum.org/v1/gonum/stat"

	"github.com/ingotlab/ingot/internal/domain"
)

// AssetAllocation is one asset's share of the current portfolio value.
type AssetAllocation struct {
	AssetID int64   `json:"asset_id"`
	Name    string  `json:"name"`
	Value   float64 `json:"value"`
	Percent float64 `json:"percent"`
}

// PortfolioStats summarizes the current holdings and the value curve.
type PortfolioStats struct {
	TotalValue            float64           `json:"total_value"`
	TotalCost             float64           `json:"total_cost"`
	UnrealizedGain        float64           `json:"unrealized_gain"`
	UnrealizedGainPercent float64           `json:"unrealized_gain_percent"`
	Allocations           []AssetAllocation `json:"allocations"`

	// Sample standard deviation of the curve's point-to-point returns, in
	// percent. Zero when the curve has fewer than 3 points.
	VolatilityPercent float64 `json:"volatility_percent"`
}

// Aggregate reduces current holdings and the portfolio curve into summary
// figures. Pure function of already-computed inputs; an empty portfolio
// yields all-zero stats.
//
// Allocation percentages cover only assets with non-zero current value and
// sum to 100 across them.
func Aggregate(assets []domain.Asset, curve []CurvePoint) PortfolioStats {
	var stats PortfolioStats

	for _, a := range assets {
		stats.TotalValue += a.Quantity * a.CurrentPrice
		stats.TotalCost += a.Quantity * a.UnitCost
	}

	stats.UnrealizedGain = stats.TotalValue - stats.TotalCost
	if stats.TotalCost != 0 {
		stats.UnrealizedGainPercent = stats.UnrealizedGain / stats.TotalCost * 100
	}

	if stats.TotalValue != 0 {
		for _, a := range assets {
			value := a.Quantity * a.CurrentPrice
			if value == 0 {
				continue
			}
			stats.Allocations = append(stats.Allocations, AssetAllocation{
				AssetID: a.ID,
				Name:    a.Name,
				Value:   value,
				Percent: value / stats.TotalValue * 100,
			})
		}
	}

	stats.VolatilityPercent = curveVolatility(curve)

	return stats
}

// curveVolatility computes the sample standard deviation of the curve's
// point-to-point percent returns. Zero-valued points are skipped as return
// bases (an empty portfolio segment has no defined return).
func curveVolatility(curve []CurvePoint) float64 {
	if len(curve) < 3 {
		return 0
	}

	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Value
		if prev == 0 {
			continue
		}
		returns = append(returns, (curve[i].Value-prev)/prev*100)
	}

	if len(returns) < 2 {
		return 0
	}

	return stat.StdDev(returns, nil)
}
