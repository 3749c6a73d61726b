package strategy

import (
	"testing"

	"tradeflow/config"
	"tradeflow/indicator"
	"tradeflow/models"
)

func indicatorEngine() *indicator.Engine {
	return indicator.NewEngine(config.IndicatorConfig{
		OBVPeriod:           20,
		VROCPeriod:          14,
		VWAPPeriod:          20,
		ATRPeriod:           14,
		AvgVolumeShort:      20,
		AvgVolumeLong:       50,
		VolumeProfileWindow: 30,
		VolumeProfileLevels: 20,
		ValueAreaFraction:   0.7,
	})
}

func newPVA(t *testing.T) *PVA {
	t.Helper()
	return NewPVA(testStrategyConfig(), indicatorEngine(), tradingClock())
}

// allLongMet satisfies every one of the seven LONG conditions.
func allLongMet() models.IndicatorSnapshot {
	return models.IndicatorSnapshot{
		CurrentPrice:  120,
		CurrentVolume: 200,
		AvgVolume20:   100,
		Resistance:    110,
		Support:       90,
		POC:           100,
		VROC:          250,
		VWAP:          105,
		OBV:           1000,
		OBVTrailAvg:   500,
		ATR:           2,
		Ready:         true,
	}
}

func TestPVALongSignal(t *testing.T) {
	s := newPVA(t)
	sig := s.GenerateSignal("NIFTY24SEPFUT", allLongMet())
	if sig == nil {
		t.Fatal("all seven conditions met, expected a LONG signal")
	}
	if sig.Type != models.TradeLong {
		t.Errorf("expected LONG, got %s", sig.Type)
	}
	if sig.Strength != 250 {
		t.Errorf("strength should be the current VROC, got %f", sig.Strength)
	}
	if sig.Price != 120 || sig.Symbol != "NIFTY24SEPFUT" || sig.StrategyID != "pva-test" {
		t.Errorf("unexpected signal: %+v", sig)
	}
	if sig.ID == "" {
		t.Error("signal should carry an id")
	}
}

func TestPVASignalIsStrictConjunction(t *testing.T) {
	s := newPVA(t)

	flips := map[string]func(*models.IndicatorSnapshot){
		"price below resistance": func(snap *models.IndicatorSnapshot) { snap.Resistance = 121 },
		"volume not 1.5x avg":    func(snap *models.IndicatorSnapshot) { snap.CurrentVolume = 140 },
		"obv below trail avg":    func(snap *models.IndicatorSnapshot) { snap.OBVTrailAvg = 1500 },
		"price below poc":        func(snap *models.IndicatorSnapshot) { snap.POC = 125 },
		"vroc below breakout":    func(snap *models.IndicatorSnapshot) { snap.VROC = 150 },
		"price below vwap":       func(snap *models.IndicatorSnapshot) { snap.VWAP = 125 },
		"volume below avg":       func(snap *models.IndicatorSnapshot) { snap.CurrentVolume = 90 },
	}
	for name, flip := range flips {
		snap := allLongMet()
		flip(&snap)
		if sig := s.GenerateSignal("NIFTY24SEPFUT", snap); sig != nil {
			t.Errorf("%s: flipping one condition must suppress the signal, got %+v", name, sig)
		}
	}
}

func TestPVAShortMirror(t *testing.T) {
	s := newPVA(t)
	snap := models.IndicatorSnapshot{
		CurrentPrice:  80,
		CurrentVolume: 200,
		AvgVolume20:   100,
		Resistance:    110,
		Support:       90,
		POC:           100,
		VROC:          250,
		VWAP:          95,
		OBV:           -1000,
		OBVTrailAvg:   -500,
		ATR:           2,
		Ready:         true,
	}
	sig := s.GenerateSignal("NIFTY24SEPFUT", snap)
	if sig == nil || sig.Type != models.TradeShort {
		t.Fatalf("expected a SHORT signal, got %+v", sig)
	}
}

func TestPVANoSignalOnEmptySnapshot(t *testing.T) {
	s := newPVA(t)
	if sig := s.GenerateSignal("NIFTY24SEPFUT", models.IndicatorSnapshot{}); sig != nil {
		t.Fatalf("empty snapshot must not signal, got %+v", sig)
	}
}

func TestPVAPriceBreakoutWithoutVolumeIsSuppressed(t *testing.T) {
	// rising prices on flat volume: VROC stays 0 so no signal even though
	// the price clears every level
	s := newPVA(t)
	w := models.BarWindow{}
	for i := 0; i < 60; i++ {
		c := 100 + float64(i)/3
		w.Closes = append(w.Closes, c)
		w.Highs = append(w.Highs, c+0.1)
		w.Lows = append(w.Lows, c-0.1)
		w.Volumes = append(w.Volumes, 100)
	}
	snap := s.Analyze(w)
	if !snap.Ready {
		t.Fatal("expected a ready snapshot")
	}
	if snap.VROC != 0 {
		t.Fatalf("flat volume should give VROC 0, got %f", snap.VROC)
	}
	if sig := s.GenerateSignal("NIFTY24SEPFUT", snap); sig != nil {
		t.Fatalf("VROC condition fails, signal must be suppressed: %+v", sig)
	}
}

func TestPVAExitEscalationOrder(t *testing.T) {
	s := newPVA(t)
	pos := models.Position{
		Type:        models.TradeLong,
		EntryPrice:  100,
		EntryVolume: 1000,
	}

	// volume climax wins over everything
	snap := allLongMet()
	snap.VROC = 350
	snap.CurrentPrice = 110 // also a 2xATR move
	if reason, ok := s.ExitEscalation(pos, snap); !ok || reason != models.ExitVolumeClimax {
		t.Fatalf("expected VOLUME_CLIMAX first, got %q %v", reason, ok)
	}

	// favorable 2xATR move
	snap = allLongMet()
	snap.VROC = 100
	snap.CurrentPrice = 104 // ATR 2 -> move of 4 = 2xATR
	snap.CurrentVolume = 10000
	if reason, ok := s.ExitEscalation(pos, snap); !ok || reason != models.ExitTarget2ATR {
		t.Fatalf("expected TARGET_2ATR, got %q %v", reason, ok)
	}

	// volume fade below 80% of entry volume
	snap = allLongMet()
	snap.VROC = 100
	snap.CurrentPrice = 101
	snap.CurrentVolume = 700
	if reason, ok := s.ExitEscalation(pos, snap); !ok || reason != models.ExitLowVolume {
		t.Fatalf("expected LOW_VOLUME fade, got %q %v", reason, ok)
	}

	// nothing fires
	snap = allLongMet()
	snap.VROC = 100
	snap.CurrentPrice = 101
	snap.CurrentVolume = 900
	if reason, ok := s.ExitEscalation(pos, snap); ok {
		t.Fatalf("no escalation expected, got %q", reason)
	}
}

func TestPVAExitEscalationShort(t *testing.T) {
	s := newPVA(t)
	pos := models.Position{
		Type:        models.TradeShort,
		EntryPrice:  100,
		EntryVolume: 1000,
	}
	snap := allLongMet()
	snap.VROC = 100
	snap.CurrentPrice = 96 // 2xATR in favor of the short
	snap.CurrentVolume = 10000
	if reason, ok := s.ExitEscalation(pos, snap); !ok || reason != models.ExitTarget2ATR {
		t.Fatalf("expected TARGET_2ATR for the short, got %q %v", reason, ok)
	}
}
