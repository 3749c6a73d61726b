package writer

import (
	"context"

	"tradeflow/models"
)

// Store is the persistence sink for everything the pipeline produces.
// Writes are append-only except UpdateTrade, which settles a close. All
// calls are fire-and-forget from the hot path's perspective: callers log
// failures and move on.
type Store interface {
	SaveSignal(ctx context.Context, signal models.Signal) error
	SaveTrade(ctx context.Context, pos models.Position) error
	UpdateTrade(ctx context.Context, pos models.Position) error
	SaveBar(ctx context.Context, bar models.Bar) error
	SavePerformance(ctx context.Context, perf models.PerformanceSummary) error
	SaveEmergencyStop(ctx context.Context, record models.EmergencyStopRecord) error
	RecentBars(ctx context.Context, symbol string, tf models.Timeframe, limit int) ([]models.Bar, error)
	Close() error
}

// NopStore discards everything. Used when postgres is disabled.
type NopStore struct{}

func (NopStore) SaveSignal(context.Context, models.Signal) error                     { return nil }
func (NopStore) SaveTrade(context.Context, models.Position) error                    { return nil }
func (NopStore) UpdateTrade(context.Context, models.Position) error                  { return nil }
func (NopStore) SaveBar(context.Context, models.Bar) error                           { return nil }
func (NopStore) SavePerformance(context.Context, models.PerformanceSummary) error    { return nil }
func (NopStore) SaveEmergencyStop(context.Context, models.EmergencyStopRecord) error { return nil }
func (NopStore) RecentBars(context.Context, string, models.Timeframe, int) ([]models.Bar, error) {
	return nil, nil
}
func (NopStore) Close() error { return nil }
