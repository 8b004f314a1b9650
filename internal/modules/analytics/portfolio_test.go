package analytics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ingotlab/ingot/internal/domain"
)

func TestAggregateEmptyPortfolio(t *testing.T) {
	stats := Aggregate(nil, nil)

	assert.Zero(t, stats.TotalValue)
	assert.Zero(t, stats.TotalCost)
	assert.Zero(t, stats.UnrealizedGain)
	assert.Zero(t, stats.UnrealizedGainPercent)
	assert.Empty(t, stats.Allocations)
}

func TestAggregateTotalsAndGain(t *testing.T) {
	assets := []domain.Asset{
		{ID: 1, Name: "Krugerrand", Quantity: 2, UnitCost: 1500, CurrentPrice: 1800},
		{ID: 2, Name: "Silver bar", Quantity: 10, UnitCost: 25, CurrentPrice: 30},
	}

	stats := Aggregate(assets, nil)

	assert.InDelta(t, 3900.0, stats.TotalValue, 1e-9) // 2*1800 + 10*30
	assert.InDelta(t, 3250.0, stats.TotalCost, 1e-9)  // 2*1500 + 10*25
	assert.InDelta(t, 650.0, stats.UnrealizedGain, 1e-9)
	assert.InDelta(t, 20.0, stats.UnrealizedGainPercent, 1e-9)
}

func TestAggregateAllocationsSumTo100(t *testing.T) {
	assets := []domain.Asset{
		{ID: 1, Name: "Gold", Quantity: 1, CurrentPrice: 3000},
		{ID: 2, Name: "Silver", Quantity: 20, CurrentPrice: 50},
		{ID: 3, Name: "Unpriced", Quantity: 5, CurrentPrice: 0}, // excluded
	}

	stats := Aggregate(assets, nil)

	require.Len(t, stats.Allocations, 2)

	var sum float64
	for _, a := range stats.Allocations {
		sum += a.Percent
	}
	assert.InDelta(t, 100.0, sum, 1e-9)

	assert.Equal(t, int64(1), stats.Allocations[0].AssetID)
	assert.InDelta(t, 75.0, stats.Allocations[0].Percent, 1e-9)
	assert.InDelta(t, 25.0, stats.Allocations[1].Percent, 1e-9)
}

func TestAggregateVolatility(t *testing.T) {
	curve := []CurvePoint{
		{Timestamp: ts(1), Value: 100},
		{Timestamp: ts(2), Value: 110},
		{Timestamp: ts(3), Value: 99},
	}

	stats := Aggregate(nil, curve)

	// Returns: +10%, -10%; sample stddev of {10, -10}
	assert.InDelta(t, 14.1421356, stats.VolatilityPercent, 1e-6)
}

func TestAggregateVolatilityShortCurve(t *testing.T) {
	curve := []CurvePoint{
		{Timestamp: ts(1), Value: 100},
		{Timestamp: ts(2), Value: 120},
	}

	stats := Aggregate(nil, curve)
	assert.Zero(t, stats.VolatilityPercent)
}
