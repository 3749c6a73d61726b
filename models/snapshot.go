package models

// IndicatorSnapshot holds the indicator vector computed from a bar window
// at evaluation time. A zero-valued snapshot with Ready=false means the
// window was too short for a decision; callers must treat that as "no
// decision possible", not as an error.
type IndicatorSnapshot struct {
	OBV           float64 `json:"obv"`
	OBVMA         float64 `json:"obv_ma"`
	OBVTrailAvg   float64 `json:"obv_trail_avg"`
	VROC          float64 `json:"vroc"`
	VWAP          float64 `json:"vwap"`
	ADLine        float64 `json:"ad_line"`
	AvgVolume20   float64 `json:"avg_volume_20"`
	AvgVolume50   float64 `json:"avg_volume_50"`
	ATR           float64 `json:"atr"`
	POC           float64 `json:"poc"`
	ValueAreaHigh float64 `json:"value_area_high"`
	ValueAreaLow  float64 `json:"value_area_low"`
	Resistance    float64 `json:"resistance"`
	Support       float64 `json:"support"`
	CurrentPrice  float64 `json:"current_price"`
	CurrentVolume float64 `json:"current_volume"`
	Ready         bool    `json:"ready"`
}

// Empty reports whether the snapshot carries no usable indicator values.
func (s IndicatorSnapshot) Empty() bool { return !s.Ready }
