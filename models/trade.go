package models

import "time"

// TradeType is the direction of a signal or position.
type TradeType string

const (
	TradeLong  TradeType = "LONG"
	TradeShort TradeType = "SHORT"
)

// TradeMode distinguishes paper executions from broker-routed ones.
type TradeMode string

const (
	ModeVirtual TradeMode = "VIRTUAL"
	ModeLive    TradeMode = "LIVE"
)

// Position status values. A position transitions OPEN -> CLOSED exactly once.
const (
	PositionOpen   = "OPEN"
	PositionClosed = "CLOSED"
)

// Exit reasons recorded when a position is closed.
const (
	ExitTarget       = "TARGET"
	ExitStopLoss     = "STOP_LOSS"
	ExitLowVolume    = "LOW_VOLUME"
	ExitEOD          = "EOD"
	ExitVolumeClimax = "VOLUME_CLIMAX"
	ExitTarget2ATR   = "TARGET_2ATR"
)

// Signal is a trading opportunity detected by a strategy. Immutable once
// created; consumed exactly once by the orchestrator.
type Signal struct {
	ID         string            `json:"id"`
	StrategyID string            `json:"strategy_id"`
	Symbol     string            `json:"symbol"`
	Type       TradeType         `json:"type"`
	Strength   float64           `json:"strength"`
	Price      float64           `json:"price"`
	Indicators IndicatorSnapshot `json:"indicators"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Position is a simulated or live holding. EntryPrice and Quantity are
// immutable after creation; PnL is set only when Status is CLOSED.
type Position struct {
	ID            string    `json:"id"`
	StrategyID    string    `json:"strategy_id"`
	Symbol        string    `json:"symbol"`
	Type          TradeType `json:"type"`
	Mode          TradeMode `json:"mode"`
	EntryTime     time.Time `json:"entry_time"`
	EntryPrice    float64   `json:"entry_price"`
	Quantity      int       `json:"quantity"`
	StopLoss      float64   `json:"stop_loss"`
	TargetPrice   float64   `json:"target_price"`
	EntryVolume   float64   `json:"entry_volume"`
	ExitTime      time.Time `json:"exit_time,omitempty"`
	ExitPrice     float64   `json:"exit_price,omitempty"`
	ExitReason    string    `json:"exit_reason,omitempty"`
	PnL           float64   `json:"pnl,omitempty"`
	Status        string    `json:"status"`
	BrokerOrderID string    `json:"broker_order_id,omitempty"`
}

// PerformanceSummary is the periodic per-strategy report persisted and
// broadcast by the orchestrator.
type PerformanceSummary struct {
	StrategyID    string    `json:"strategy_id"`
	Name          string    `json:"name"`
	Simulating    bool      `json:"is_simulation_active"`
	Live          bool      `json:"is_live_mode"`
	PnL           float64   `json:"pnl"`
	TradeCount    int       `json:"trade_count"`
	WinRate       float64   `json:"win_rate"`
	OpenPositions int       `json:"open_positions"`
	GeneratedAt   time.Time `json:"generated_at"`
}

// AffectedStrategy names one strategy halted by an emergency stop.
type AffectedStrategy struct {
	StrategyID string `json:"strategy_id"`
	Name       string `json:"name"`
	WasLive    bool   `json:"was_live"`
}

// EmergencyStopRecord is the audit entry written whenever the global halt
// is triggered.
type EmergencyStopRecord struct {
	TriggeredBy string             `json:"triggered_by"`
	Reason      string             `json:"reason"`
	Affected    []AffectedStrategy `json:"affected_strategies"`
	StoppedAt   time.Time          `json:"stopped_at"`
}
