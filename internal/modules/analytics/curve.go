package analytics

import (
	"sort"
	"time"

	"github.com/markcheno/go-talib"

	"github.com/ingotlab/ingot/internal/domain"
)

// CurvePoint is one point on the aligned total-portfolio value curve.
type CurvePoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// priceEvent is one asset's observation becoming effective at a timestamp.
type priceEvent struct {
	assetID int64
	price   float64
}

// BuildCurve merges independently-timestamped per-asset price series into a
// single total-value time series.
//
// The timeline is the sorted union of all observation timestamps. At each
// timestamp an asset contributes its last observation at or before that
// time, held constant until a newer one appears (step-hold); an asset with
// no observation yet contributes zero. This means adding a new asset never
// retroactively changes totals before its first observation.
//
// Cost is O(N log N) for the union sort plus a single O(N) sweep: the
// running total is adjusted only by the assets that actually observe a new
// price at each timestamp, never by rescanning every series.
func BuildCurve(perAssetSeries map[int64][]domain.PricePoint, holdings map[int64]float64) []CurvePoint {
	// Group observations by timestamp
	events := make(map[int64][]priceEvent)
	for assetID, series := range perAssetSeries {
		for _, p := range series {
			ts := p.Timestamp.Unix()
			events[ts] = append(events[ts], priceEvent{assetID: assetID, price: p.SellPrice})
		}
	}

	if len(events) == 0 {
		return nil
	}

	timestamps := make([]int64, 0, len(events))
	for ts := range events {
		timestamps = append(timestamps, ts)
	}
	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i] < timestamps[j] })

	// Sweep forward adjusting the running total by each asset's price delta.
	lastPrice := make(map[int64]float64, len(perAssetSeries))
	var total float64

	curve := make([]CurvePoint, 0, len(timestamps))
	for _, ts := range timestamps {
		for _, ev := range events[ts] {
			qty := holdings[ev.assetID]
			total += qty * (ev.price - lastPrice[ev.assetID])
			lastPrice[ev.assetID] = ev.price
		}

		curve = append(curve, CurvePoint{
			Timestamp: time.Unix(ts, 0).UTC(),
			Value:     total,
		})
	}

	return curve
}

// SmoothCurve overlays a simple moving average on a portfolio curve for
// charting. Returns only the points where the window is fully populated;
// a curve shorter than the window yields nil.
func SmoothCurve(curve []CurvePoint, window int) []CurvePoint {
	if window < 2 || len(curve) < window {
		return nil
	}

	values := make([]float64, len(curve))
	for i, p := range curve {
		values[i] = p.Value
	}

	sma := talib.Sma(values, window)

	smoothed := make([]CurvePoint, 0, len(curve)-window+1)
	for i := window - 1; i < len(curve); i++ {
		smoothed = append(smoothed, CurvePoint{
			Timestamp: curve[i].Timestamp,
			Value:     sma[i],
		})
	}

	return smoothed
}
