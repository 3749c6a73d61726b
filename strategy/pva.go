package strategy

import (
	"time"

	"github.com/google/uuid"

	"tradeflow/config"
	"tradeflow/indicator"
	"tradeflow/internal/clock"
	"tradeflow/models"
)

// PVA thresholds. Strength tiers in PositionSize are expressed against the
// same VROC scale.
const (
	volumeBreakoutRatio = 1.5
	vrocBreakout        = 200.0
	vrocClimax          = 300.0
	favorableATRMove    = 2.0
	volumeFadeRatio     = 0.8
)

// PVA is the price-volume-action strategy: it trades breakouts through
// support or resistance confirmed by a volume surge, OBV divergence, the
// volume profile and VWAP. All seven conditions must hold at once; partial
// matches never emit a signal.
type PVA struct {
	*Base
	engine *indicator.Engine
}

func NewPVA(cfg config.StrategyConfig, engine *indicator.Engine, clk clock.Clock) *PVA {
	return &PVA{
		Base:   NewBase("Price Volume Action", cfg, clk),
		engine: engine,
	}
}

// Analyze computes the indicator snapshot for the window. An empty snapshot
// means the window was too short for a decision.
func (s *PVA) Analyze(window models.BarWindow) models.IndicatorSnapshot {
	return s.engine.Compute(window)
}

// GenerateSignal evaluates the seven-way conjunction for LONG and its exact
// mirror for SHORT. Signal strength is the current VROC, which also drives
// position sizing.
func (s *PVA) GenerateSignal(symbol string, snap models.IndicatorSnapshot) *models.Signal {
	if snap.Empty() || snap.CurrentPrice == 0 || snap.CurrentVolume == 0 {
		return nil
	}

	long := snap.CurrentPrice > snap.Resistance &&
		snap.CurrentVolume > volumeBreakoutRatio*snap.AvgVolume20 &&
		snap.OBV > snap.OBVTrailAvg &&
		snap.CurrentPrice > snap.POC &&
		snap.VROC > vrocBreakout &&
		snap.CurrentPrice > snap.VWAP &&
		snap.CurrentVolume > snap.AvgVolume20

	short := snap.CurrentPrice < snap.Support &&
		snap.CurrentVolume > volumeBreakoutRatio*snap.AvgVolume20 &&
		snap.OBV < snap.OBVTrailAvg &&
		snap.CurrentPrice < snap.POC &&
		snap.VROC > vrocBreakout &&
		snap.CurrentPrice < snap.VWAP &&
		snap.CurrentVolume > snap.AvgVolume20

	var tradeType models.TradeType
	switch {
	case long:
		tradeType = models.TradeLong
	case short:
		tradeType = models.TradeShort
	default:
		return nil
	}

	return &models.Signal{
		ID:         uuid.New().String(),
		StrategyID: s.ID(),
		Symbol:     symbol,
		Type:       tradeType,
		Strength:   snap.VROC,
		Price:      snap.CurrentPrice,
		Indicators: snap,
		Timestamp:  time.Now(),
	}
}

// ExitEscalation applies the PVA-specific exit ladder, first match wins:
// volume climax, a favorable move of two ATRs, then volume fading below 80%
// of the entry-time volume.
func (s *PVA) ExitEscalation(pos models.Position, snap models.IndicatorSnapshot) (string, bool) {
	if snap.Empty() {
		return "", false
	}

	if snap.VROC > vrocClimax {
		return models.ExitVolumeClimax, true
	}

	atr := snap.ATR
	if atr == 0 {
		atr = snap.CurrentPrice * 0.02
	}
	move := snap.CurrentPrice - pos.EntryPrice
	if pos.Type == models.TradeShort {
		move = -move
	}
	if move >= favorableATRMove*atr {
		return models.ExitTarget2ATR, true
	}

	if pos.EntryVolume > 0 && snap.CurrentVolume < volumeFadeRatio*pos.EntryVolume {
		return models.ExitLowVolume, true
	}
	return "", false
}
