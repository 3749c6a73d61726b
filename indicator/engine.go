package indicator

import (
	"math"

	"tradeflow/config"
	"tradeflow/models"
)

// Engine computes the indicator vector for a bar window. It is stateless;
// every call works from the window alone, so one engine serves all symbols.
type Engine struct {
	config config.IndicatorConfig
}

func NewEngine(cfg config.IndicatorConfig) *Engine {
	return &Engine{config: cfg}
}

// MinBars is the shortest window Compute will produce a snapshot for: the
// longest lookback any indicator needs.
func (e *Engine) MinBars() int {
	if e.config.AvgVolumeLong > e.config.VWAPPeriod {
		return e.config.AvgVolumeLong
	}
	return e.config.VWAPPeriod
}

// Compute evaluates every indicator over the window, most-recent-last. A
// window shorter than MinBars yields an empty snapshot with Ready=false.
func (e *Engine) Compute(w models.BarWindow) models.IndicatorSnapshot {
	n := w.Len()
	if n < e.MinBars() {
		return models.IndicatorSnapshot{}
	}

	obv := obvSeries(w.Closes, w.Volumes)

	snap := models.IndicatorSnapshot{
		OBV:           obv[n-1],
		OBVMA:         tailMean(obv, e.config.OBVPeriod),
		OBVTrailAvg:   trailMean(obv, 10, 5),
		VROC:          vroc(w.Volumes, e.config.VROCPeriod),
		VWAP:          vwap(w.Highs, w.Lows, w.Closes, w.Volumes),
		ADLine:        adLine(w.Highs, w.Lows, w.Closes, w.Volumes),
		AvgVolume20:   tailMean(w.Volumes, e.config.AvgVolumeShort),
		AvgVolume50:   tailMean(w.Volumes, e.config.AvgVolumeLong),
		ATR:           atr(w.Highs, w.Lows, w.Closes, e.config.ATRPeriod),
		Resistance:    resistance(w.Highs),
		Support:       support(w.Lows),
		CurrentPrice:  w.Closes[n-1],
		CurrentVolume: w.Volumes[n-1],
		Ready:         true,
	}

	profile := volumeProfile(w, e.config.VolumeProfileWindow, e.config.VolumeProfileLevels, e.config.ValueAreaFraction)
	snap.POC = profile.POC
	snap.ValueAreaHigh = profile.ValueAreaHigh
	snap.ValueAreaLow = profile.ValueAreaLow
	if profile.POC == 0 {
		snap.POC = snap.CurrentPrice
	}
	return snap
}

// obvSeries is the running on-balance volume: +volume on a rising close,
// -volume on a falling close, carried flat otherwise.
func obvSeries(closes, volumes []float64) []float64 {
	out := make([]float64, len(closes))
	for i := 1; i < len(closes); i++ {
		switch {
		case closes[i] > closes[i-1]:
			out[i] = out[i-1] + volumes[i]
		case closes[i] < closes[i-1]:
			out[i] = out[i-1] - volumes[i]
		default:
			out[i] = out[i-1]
		}
	}
	return out
}

// tailMean averages the last period values, or the whole series when it is
// shorter than the period.
func tailMean(series []float64, period int) float64 {
	if len(series) == 0 {
		return 0
	}
	if period > len(series) {
		period = len(series)
	}
	var sum float64
	for _, v := range series[len(series)-period:] {
		sum += v
	}
	return sum / float64(period)
}

// trailMean averages series[n-from : n-to], the lagged slice the OBV
// divergence check compares the current value against.
func trailMean(series []float64, from, to int) float64 {
	n := len(series)
	if n < from {
		return 0
	}
	var sum float64
	for _, v := range series[n-from : n-to] {
		sum += v
	}
	return sum / float64(from-to)
}

// vroc is the percentage change in volume over the lookback period.
func vroc(volumes []float64, period int) float64 {
	n := len(volumes)
	if n <= period {
		return 0
	}
	base := volumes[n-1-period]
	if base == 0 {
		return 0
	}
	return (volumes[n-1] - base) / base * 100
}

// vwap is the cumulative typical-price-weighted average over the window.
func vwap(highs, lows, closes, volumes []float64) float64 {
	var pv, vol float64
	for i := range closes {
		typical := (highs[i] + lows[i] + closes[i]) / 3
		pv += typical * volumes[i]
		vol += volumes[i]
	}
	if vol == 0 {
		return 0
	}
	return pv / vol
}

// adLine is the cumulative accumulation/distribution index.
func adLine(highs, lows, closes, volumes []float64) float64 {
	var sum float64
	for i := range closes {
		span := highs[i] - lows[i]
		if span == 0 {
			continue
		}
		mfm := ((closes[i] - lows[i]) - (highs[i] - closes[i])) / span
		sum += mfm * volumes[i]
	}
	return sum
}

// atr is Wilder's average true range: a simple average of the first period
// true ranges, then smoothed with weight 1/period.
func atr(highs, lows, closes []float64, period int) float64 {
	n := len(closes)
	if n < 2 {
		return 0
	}
	trs := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		tr := highs[i] - lows[i]
		if hc := math.Abs(highs[i] - closes[i-1]); hc > tr {
			tr = hc
		}
		if lc := math.Abs(lows[i] - closes[i-1]); lc > tr {
			tr = lc
		}
		trs = append(trs, tr)
	}
	if len(trs) <= period {
		return tailMean(trs, len(trs))
	}
	value := tailMean(trs[:period], period)
	for _, tr := range trs[period:] {
		value = (value*float64(period-1) + tr) / float64(period)
	}
	return value
}

// resistance is the 95th percentile of the last 20 highs, falling back to
// the window maximum when fewer bars exist.
func resistance(highs []float64) float64 {
	if len(highs) == 0 {
		return 0
	}
	if len(highs) < 20 {
		max := highs[0]
		for _, h := range highs[1:] {
			if h > max {
				max = h
			}
		}
		return max
	}
	return percentile(highs[len(highs)-20:], 95)
}

// support is the 5th percentile of the last 20 lows, falling back to the
// window minimum when fewer bars exist.
func support(lows []float64) float64 {
	if len(lows) == 0 {
		return 0
	}
	if len(lows) < 20 {
		min := lows[0]
		for _, l := range lows[1:] {
			if l < min {
				min = l
			}
		}
		return min
	}
	return percentile(lows[len(lows)-20:], 5)
}

// percentile computes the p-th percentile with linear interpolation between
// the two nearest ranks.
func percentile(values []float64, p float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j] < sorted[j-1]; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
