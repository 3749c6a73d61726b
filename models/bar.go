package models

import "time"

// Timeframe identifies one of the supported candle resolutions.
type Timeframe string

const (
	Timeframe1Min  Timeframe = "1min"
	Timeframe5Min  Timeframe = "5min"
	Timeframe15Min Timeframe = "15min"
	TimeframeDaily Timeframe = "daily"
)

// Timeframes lists every resolution the aggregator maintains, in order.
var Timeframes = []Timeframe{Timeframe1Min, Timeframe5Min, Timeframe15Min, TimeframeDaily}

// Duration returns the bucket length for fixed-duration timeframes and
// zero for the daily timeframe, which rolls on calendar-date change.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case Timeframe1Min:
		return time.Minute
	case Timeframe5Min:
		return 5 * time.Minute
	case Timeframe15Min:
		return 15 * time.Minute
	default:
		return 0
	}
}

// Bar is one OHLCV candle for a (symbol, timeframe) pair.
type Bar struct {
	Symbol    string    `json:"symbol"`
	Timeframe Timeframe `json:"timeframe"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Start     time.Time `json:"start"`
}

// BarWindow exposes a bar history as parallel arrays, most recent last,
// the shape the indicator engine consumes.
type BarWindow struct {
	Highs   []float64
	Lows    []float64
	Closes  []float64
	Volumes []float64
}

// Len returns the number of bars in the window.
func (w BarWindow) Len() int { return len(w.Closes) }

// WindowFromBars flattens a bar slice into parallel arrays.
func WindowFromBars(bars []Bar) BarWindow {
	w := BarWindow{
		Highs:   make([]float64, len(bars)),
		Lows:    make([]float64, len(bars)),
		Closes:  make([]float64, len(bars)),
		Volumes: make([]float64, len(bars)),
	}
	for i, b := range bars {
		w.Highs[i] = b.High
		w.Lows[i] = b.Low
		w.Closes[i] = b.Close
		w.Volumes[i] = b.Volume
	}
	return w
}
