package strategy

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradeflow/config"
	"tradeflow/internal/clock"
	"tradeflow/logger"
	"tradeflow/models"
)

// Risk defaults applied when the strategy config leaves a field zero.
const (
	defaultPositionFraction = 0.02
	defaultMaxOpenTrades    = 3
	defaultMaxDailyLoss     = 0.06
	defaultCooldown         = 30 * time.Minute
	defaultEODExit          = "15:15"

	stopATRMultiplier   = 1.5
	targetATRMultiplier = 2.0
)

// Base carries the risk and position machinery shared by every strategy
// family. Concrete strategies embed it; the orchestrator drives it through
// the Strategy interface. All methods are safe for concurrent use, though
// the orchestrator serializes calls per symbol.
type Base struct {
	id     string
	name   string
	config config.StrategyConfig
	clock  clock.Clock
	log    *logger.Entry

	eodMinute int // minutes past midnight

	mu            sync.Mutex
	simulating    bool
	live          bool
	positions     []*models.Position
	pnl           float64
	tradeCount    int
	winCount      int
	lastTradeTime map[string]time.Time
}

func NewBase(name string, cfg config.StrategyConfig, clk clock.Clock) *Base {
	if cfg.MaxPositionSize == 0 {
		cfg.MaxPositionSize = defaultPositionFraction
	}
	if cfg.MaxOpenTrades == 0 {
		cfg.MaxOpenTrades = defaultMaxOpenTrades
	}
	if cfg.MaxDailyLoss == 0 {
		cfg.MaxDailyLoss = defaultMaxDailyLoss
	}
	if cfg.ReentryCooldown == 0 {
		cfg.ReentryCooldown = defaultCooldown
	}
	if cfg.EODExit == "" {
		cfg.EODExit = defaultEODExit
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Base{
		id:            cfg.ID,
		name:          name,
		config:        cfg,
		clock:         clk,
		log:           logger.GetLogger().WithComponent("strategy").WithFields(logger.Fields{"strategy_id": cfg.ID}),
		eodMinute:     parseEOD(cfg.EODExit),
		lastTradeTime: make(map[string]time.Time),
	}
}

func parseEOD(value string) int {
	parts := strings.SplitN(value, ":", 2)
	if len(parts) != 2 {
		return 15*60 + 15
	}
	hour, err1 := strconv.Atoi(parts[0])
	min, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 15*60 + 15
	}
	return hour*60 + min
}

func (b *Base) ID() string            { return b.id }
func (b *Base) Name() string          { return b.name }
func (b *Base) Instruments() []string { return b.config.Instruments }

func (b *Base) Simulating() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.simulating
}

func (b *Base) Live() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.live
}

func (b *Base) SetSimulating(on bool) {
	b.mu.Lock()
	b.simulating = on
	b.mu.Unlock()
}

func (b *Base) SetLive(on bool) {
	b.mu.Lock()
	b.live = on
	b.mu.Unlock()
}

// CanEnterTrade applies the entry gates: open-position cap, per-symbol
// re-entry cooldown and the daily loss limit. A nil return means entry is
// allowed; otherwise the error wraps ErrRiskRejected with the failing gate.
func (b *Base) CanEnterTrade(symbol string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	open := 0
	for _, p := range b.positions {
		if p.Status == models.PositionOpen {
			open++
		}
	}
	if open >= b.config.MaxOpenTrades {
		return fmt.Errorf("%w: %d positions already open", ErrRiskRejected, open)
	}

	if last, ok := b.lastTradeTime[symbol]; ok {
		if since := b.clock.Now().Sub(last); since < b.config.ReentryCooldown {
			return fmt.Errorf("%w: %s in cooldown for %s", ErrRiskRejected, symbol, b.config.ReentryCooldown-since)
		}
	}

	if abs(b.pnl) >= b.config.MaxDailyLoss*b.config.Capital {
		return fmt.Errorf("%w: daily loss limit reached (pnl %.2f)", ErrRiskRejected, b.pnl)
	}
	return nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// PositionSize converts signal strength into a quantity: a fixed fraction
// of capital scaled by the three strength tiers, floored at one unit.
func (b *Base) PositionSize(strength, price float64) int {
	if price <= 0 {
		return 0
	}
	multiplier := 0.5
	switch {
	case strength > 250:
		multiplier = 1.0
	case strength >= 150:
		multiplier = 0.75
	}
	quantity := int(b.config.Capital * b.config.MaxPositionSize * multiplier / price)
	if quantity < 1 {
		quantity = 1
	}
	return quantity
}

// OpenPosition creates a position from an accepted signal, with stop and
// target derived from the snapshot's ATR, and starts the symbol's re-entry
// cooldown. ATR falls back to 2% of price when the snapshot carries none.
func (b *Base) OpenPosition(signal *models.Signal) *models.Position {
	quantity := b.PositionSize(signal.Strength, signal.Price)
	if quantity == 0 {
		return nil
	}

	atr := signal.Indicators.ATR
	if atr == 0 {
		atr = signal.Price * 0.02
	}

	pos := &models.Position{
		ID:          uuid.New().String(),
		StrategyID:  b.id,
		Symbol:      signal.Symbol,
		Type:        signal.Type,
		Mode:        models.ModeVirtual,
		EntryTime:   signal.Timestamp,
		EntryPrice:  signal.Price,
		Quantity:    quantity,
		EntryVolume: signal.Indicators.CurrentVolume,
		Status:      models.PositionOpen,
	}
	if signal.Type == models.TradeLong {
		pos.StopLoss = signal.Price - stopATRMultiplier*atr
		pos.TargetPrice = signal.Price + targetATRMultiplier*atr
	} else {
		pos.StopLoss = signal.Price + stopATRMultiplier*atr
		pos.TargetPrice = signal.Price - targetATRMultiplier*atr
	}

	b.mu.Lock()
	if b.live {
		pos.Mode = models.ModeLive
	}
	b.positions = append(b.positions, pos)
	b.lastTradeTime[signal.Symbol] = b.clock.Now()
	b.mu.Unlock()

	b.log.WithFields(logger.Fields{
		"position_id": pos.ID,
		"symbol":      pos.Symbol,
		"type":        string(pos.Type),
		"quantity":    pos.Quantity,
		"stop":        pos.StopLoss,
		"target":      pos.TargetPrice,
	}).Info("Position opened")

	out := *pos
	return &out
}

// OpenPositions returns copies of the open positions for a symbol, or all
// open positions when symbol is empty.
func (b *Base) OpenPositions(symbol string) []models.Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []models.Position
	for _, p := range b.positions {
		if p.Status != models.PositionOpen {
			continue
		}
		if symbol != "" && p.Symbol != symbol {
			continue
		}
		out = append(out, *p)
	}
	return out
}

// ClosePosition closes an open position exactly once and settles its P&L.
// The bool reports whether a close happened.
func (b *Base) ClosePosition(id string, price float64, reason string) (models.Position, bool) {
	b.mu.Lock()
	var pos *models.Position
	for _, p := range b.positions {
		if p.ID == id && p.Status == models.PositionOpen {
			pos = p
			break
		}
	}
	if pos == nil {
		b.mu.Unlock()
		return models.Position{}, false
	}

	pos.ExitTime = b.clock.Now()
	pos.ExitPrice = price
	pos.ExitReason = reason
	pos.Status = models.PositionClosed
	if pos.Type == models.TradeLong {
		pos.PnL = (price - pos.EntryPrice) * float64(pos.Quantity)
	} else {
		pos.PnL = (pos.EntryPrice - price) * float64(pos.Quantity)
	}

	b.pnl += pos.PnL
	b.tradeCount++
	if pos.PnL > 0 {
		b.winCount++
	}
	closed := *pos
	b.mu.Unlock()

	b.log.WithFields(logger.Fields{
		"position_id": closed.ID,
		"symbol":      closed.Symbol,
		"reason":      reason,
		"pnl":         closed.PnL,
	}).Info("Position closed")
	logger.IncrementTradeExecuted()
	return closed, true
}

// CheckExits applies the shared per-tick exit checks to every open position
// on the symbol, in priority order: target/stop hit, volume collapse below
// half the rolling average, then the end-of-day cutoff. The first matching
// condition closes the position. Closed positions are returned.
func (b *Base) CheckExits(symbol string, snap models.IndicatorSnapshot) []models.Position {
	price := snap.CurrentPrice
	pastEOD := b.pastEOD()

	var closed []models.Position
	for _, open := range b.OpenPositions(symbol) {
		reason := ""
		switch {
		case open.Type == models.TradeLong && price >= open.TargetPrice:
			reason = models.ExitTarget
		case open.Type == models.TradeLong && price <= open.StopLoss:
			reason = models.ExitStopLoss
		case open.Type == models.TradeShort && price <= open.TargetPrice:
			reason = models.ExitTarget
		case open.Type == models.TradeShort && price >= open.StopLoss:
			reason = models.ExitStopLoss
		case snap.AvgVolume20 > 0 && snap.CurrentVolume < 0.5*snap.AvgVolume20:
			reason = models.ExitLowVolume
		case pastEOD:
			reason = models.ExitEOD
		}
		if reason == "" {
			continue
		}
		if done, ok := b.ClosePosition(open.ID, price, reason); ok {
			closed = append(closed, done)
		}
	}
	return closed
}

func (b *Base) pastEOD() bool {
	now := b.clock.Now()
	return now.Hour()*60+now.Minute() >= b.eodMinute
}

// FlattenPastEOD force-closes every open position once past the end-of-day
// cutoff, pricing each at the last known price for its symbol. Positions
// whose symbol has no known price are skipped until one arrives.
func (b *Base) FlattenPastEOD(lastPrice func(symbol string) (float64, bool)) []models.Position {
	if !b.pastEOD() {
		return nil
	}
	var closed []models.Position
	for _, open := range b.OpenPositions("") {
		price, ok := lastPrice(open.Symbol)
		if !ok {
			price = open.EntryPrice
		}
		if done, ok := b.ClosePosition(open.ID, price, models.ExitEOD); ok {
			closed = append(closed, done)
		}
	}
	return closed
}

// Validate runs the live-mode promotion gates against the simulated record.
func (b *Base) Validate() ValidationReport {
	b.mu.Lock()
	defer b.mu.Unlock()

	winRate := 0.0
	if b.tradeCount > 0 {
		winRate = float64(b.winCount) / float64(b.tradeCount)
	}
	report := ValidationReport{
		PositivePnL: b.pnl > 0,
		MinTrades:   b.tradeCount >= 10,
		MinWinRate:  winRate >= 0.5,
		PnL:         b.pnl,
		TradeCount:  b.tradeCount,
		WinRate:     winRate,
	}
	report.Passed = report.PositivePnL && report.MinTrades && report.MinWinRate
	return report
}

// Performance snapshots the current record for persistence and broadcast.
func (b *Base) Performance() models.PerformanceSummary {
	b.mu.Lock()
	defer b.mu.Unlock()

	winRate := 0.0
	if b.tradeCount > 0 {
		winRate = float64(b.winCount) / float64(b.tradeCount)
	}
	open := 0
	for _, p := range b.positions {
		if p.Status == models.PositionOpen {
			open++
		}
	}
	return models.PerformanceSummary{
		StrategyID:    b.id,
		Name:          b.name,
		Simulating:    b.simulating,
		Live:          b.live,
		PnL:           b.pnl,
		TradeCount:    b.tradeCount,
		WinRate:       winRate,
		OpenPositions: open,
		GeneratedAt:   b.clock.Now(),
	}
}

// SetBrokerOrder records the broker-assigned identifier on a position after
// a live order is placed.
func (b *Base) SetBrokerOrder(positionID, orderID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range b.positions {
		if p.ID == positionID {
			p.BrokerOrderID = orderID
			return
		}
	}
}
