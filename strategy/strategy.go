package strategy

import (
	"errors"

	"tradeflow/models"
)

// ErrRiskRejected marks a signal refused by the entry rules. Callers discard
// the signal and log at debug level; it is not a failure.
var ErrRiskRejected = errors.New("entry rejected by risk rules")

// Strategy is the contract every strategy family implements. Analyze and
// GenerateSignal carry the family-specific logic; the remaining methods are
// the shared risk and position machinery promoted from Base.
type Strategy interface {
	ID() string
	Name() string
	Instruments() []string

	// Analyze computes the indicator snapshot for a bar window.
	Analyze(window models.BarWindow) models.IndicatorSnapshot

	// GenerateSignal evaluates entry conditions against a snapshot and
	// returns nil when they are not all met.
	GenerateSignal(symbol string, snap models.IndicatorSnapshot) *models.Signal

	// ExitEscalation evaluates family-specific exit conditions for an open
	// position, returning the exit reason and true when one fires.
	ExitEscalation(pos models.Position, snap models.IndicatorSnapshot) (string, bool)

	// Shared machinery (Base).
	Simulating() bool
	Live() bool
	SetSimulating(on bool)
	SetLive(on bool)
	CanEnterTrade(symbol string) error
	PositionSize(strength, price float64) int
	OpenPosition(signal *models.Signal) *models.Position
	OpenPositions(symbol string) []models.Position
	ClosePosition(id string, price float64, reason string) (models.Position, bool)
	CheckExits(symbol string, snap models.IndicatorSnapshot) []models.Position
	FlattenPastEOD(lastPrice func(symbol string) (float64, bool)) []models.Position
	Validate() ValidationReport
	Performance() models.PerformanceSummary
	SetBrokerOrder(positionID, orderID string)
}

// ValidationReport carries the per-criterion outcome of a live-mode
// promotion check together with the metrics behind it, so callers can see
// exactly which gate failed.
type ValidationReport struct {
	Passed      bool    `json:"passed"`
	PositivePnL bool    `json:"positive_pnl"`
	MinTrades   bool    `json:"min_trades"`
	MinWinRate  bool    `json:"min_win_rate"`
	PnL         float64 `json:"pnl"`
	TradeCount  int     `json:"trade_count"`
	WinRate     float64 `json:"win_rate"`
}
