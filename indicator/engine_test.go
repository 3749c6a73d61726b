package indicator

import (
	"math"
	"testing"

	"tradeflow/config"
	"tradeflow/models"
)

func defaultIndicatorConfig() config.IndicatorConfig {
	return config.IndicatorConfig{
		OBVPeriod:           20,
		VROCPeriod:          14,
		VWAPPeriod:          20,
		ATRPeriod:           14,
		AvgVolumeShort:      20,
		AvgVolumeLong:       50,
		VolumeProfileWindow: 30,
		VolumeProfileLevels: 20,
		ValueAreaFraction:   0.7,
	}
}

// window builds n bars with per-bar close and volume functions. Highs and
// lows hug the close so tests stay easy to reason about.
func window(n int, closeAt, volumeAt func(i int) float64) models.BarWindow {
	w := models.BarWindow{
		Highs:   make([]float64, n),
		Lows:    make([]float64, n),
		Closes:  make([]float64, n),
		Volumes: make([]float64, n),
	}
	for i := 0; i < n; i++ {
		c := closeAt(i)
		w.Closes[i] = c
		w.Highs[i] = c + 1
		w.Lows[i] = c - 1
		w.Volumes[i] = volumeAt(i)
	}
	return w
}

func TestComputeShortWindowNotReady(t *testing.T) {
	e := NewEngine(defaultIndicatorConfig())
	w := window(49, func(i int) float64 { return 100 }, func(i int) float64 { return 100 })
	snap := e.Compute(w)
	if snap.Ready {
		t.Fatal("windows shorter than the longest lookback must not be ready")
	}
	if !snap.Empty() {
		t.Fatal("short-window snapshot should report empty")
	}
}

func TestOBVRisingPricesConstantVolume(t *testing.T) {
	e := NewEngine(defaultIndicatorConfig())
	// price climbs steadily on constant volume
	w := window(60, func(i int) float64 { return 100 + float64(i)/3 }, func(i int) float64 { return 100 })
	snap := e.Compute(w)
	if !snap.Ready {
		t.Fatal("expected a ready snapshot")
	}
	if snap.OBV != 5900 {
		t.Errorf("expected OBV to accumulate every bar's volume, got %f", snap.OBV)
	}
	if snap.OBV <= snap.OBVTrailAvg {
		t.Error("rising closes should put OBV above its trailing average")
	}
	if snap.VROC != 0 {
		t.Errorf("constant volume should give VROC 0, got %f", snap.VROC)
	}
	if snap.AvgVolume20 != 100 || snap.AvgVolume50 != 100 {
		t.Errorf("unexpected volume averages: %f %f", snap.AvgVolume20, snap.AvgVolume50)
	}
}

func TestVROCSpike(t *testing.T) {
	e := NewEngine(defaultIndicatorConfig())
	w := window(60, func(i int) float64 { return 100 }, func(i int) float64 {
		if i == 59 {
			return 300
		}
		return 100
	})
	snap := e.Compute(w)
	if snap.VROC != 200 {
		t.Errorf("volume tripling over the lookback should give VROC 200, got %f", snap.VROC)
	}
}

func TestVWAPFlatMarket(t *testing.T) {
	e := NewEngine(defaultIndicatorConfig())
	w := window(60, func(i int) float64 { return 100 }, func(i int) float64 { return 50 })
	snap := e.Compute(w)
	// typical price is (101+99+100)/3 = 100 on every bar
	if math.Abs(snap.VWAP-100) > 1e-9 {
		t.Errorf("expected VWAP 100 in a flat market, got %f", snap.VWAP)
	}
	if math.Abs(snap.ATR-2) > 1e-9 {
		t.Errorf("constant 2-point range should give ATR 2, got %f", snap.ATR)
	}
}

func TestResistanceSupportPercentiles(t *testing.T) {
	e := NewEngine(defaultIndicatorConfig())
	w := window(60, func(i int) float64 { return 100 + float64(i%20) }, func(i int) float64 { return 100 })
	snap := e.Compute(w)
	if snap.Resistance <= snap.Support {
		t.Fatalf("resistance %f should sit above support %f", snap.Resistance, snap.Support)
	}
	// last 20 highs span 101..120, last 20 lows span 99..118
	if snap.Resistance > 120 || snap.Resistance < 118 {
		t.Errorf("resistance should be near the top of the recent highs, got %f", snap.Resistance)
	}
	if snap.Support < 99 || snap.Support > 101 {
		t.Errorf("support should be near the bottom of the recent lows, got %f", snap.Support)
	}
}

func TestPercentileInterpolation(t *testing.T) {
	values := []float64{10, 20, 30, 40}
	if got := percentile(values, 50); got != 25 {
		t.Errorf("expected median 25, got %f", got)
	}
	if got := percentile(values, 0); got != 10 {
		t.Errorf("expected 0th percentile 10, got %f", got)
	}
	if got := percentile(values, 100); got != 40 {
		t.Errorf("expected 100th percentile 40, got %f", got)
	}
}

func TestVolumeProfilePOC(t *testing.T) {
	// all heavy volume trades at 110, the rest at 100
	w := window(60, func(i int) float64 {
		if i >= 40 {
			return 110
		}
		return 100
	}, func(i int) float64 {
		if i >= 40 {
			return 1000
		}
		return 10
	})
	profile := volumeProfile(w, 30, 20, 0.7)
	if math.Abs(profile.POC-110) > 1.5 {
		t.Errorf("POC should sit at the heavy-volume price, got %f", profile.POC)
	}
	if profile.ValueAreaLow > profile.POC || profile.ValueAreaHigh < profile.POC {
		t.Errorf("value area [%f, %f] should bracket the POC %f",
			profile.ValueAreaLow, profile.ValueAreaHigh, profile.POC)
	}
}

func TestVolumeProfileTieFavorsLowerSide(t *testing.T) {
	// symmetric volume around the POC level: expansion must pick the
	// lower neighbour first
	w := models.BarWindow{}
	n := 30
	for i := 0; i < n; i++ {
		var c, v float64
		switch {
		case i < 10:
			c, v = 95, 100
		case i < 20:
			c, v = 100, 300
		default:
			c, v = 105, 100
		}
		w.Closes = append(w.Closes, c)
		w.Highs = append(w.Highs, 110)
		w.Lows = append(w.Lows, 90)
		w.Volumes = append(w.Volumes, v)
	}
	profile := volumeProfile(w, 30, 20, 0.7)
	if profile.ValueAreaLow >= profile.POC {
		t.Errorf("tie should expand the value area downward first: low %f poc %f",
			profile.ValueAreaLow, profile.POC)
	}
}
