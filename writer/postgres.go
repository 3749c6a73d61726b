package writer

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"

	"tradeflow/logger"
	"tradeflow/models"
)

// PostgresStore implements Store on postgres. Schema is created on first
// connect; all writes are single-statement and idempotent where the data
// allows it.
type PostgresStore struct {
	db  *sql.DB
	log *logger.Entry
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}

	store := &PostgresStore{
		db:  db,
		log: logger.GetLogger().WithComponent("postgres"),
	}
	if err := store.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	store.log.Info("Postgres store initialized")
	return store, nil
}

func (s *PostgresStore) ensureSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS signals (
			id TEXT PRIMARY KEY,
			strategy_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			type TEXT NOT NULL,
			strength DOUBLE PRECISION NOT NULL,
			price DOUBLE PRECISION NOT NULL,
			indicators JSONB,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS trades (
			id TEXT PRIMARY KEY,
			strategy_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			type TEXT NOT NULL,
			mode TEXT NOT NULL,
			entry_time TIMESTAMPTZ NOT NULL,
			entry_price DOUBLE PRECISION NOT NULL,
			quantity INTEGER NOT NULL,
			stop_loss DOUBLE PRECISION,
			target_price DOUBLE PRECISION,
			entry_volume DOUBLE PRECISION,
			exit_time TIMESTAMPTZ,
			exit_price DOUBLE PRECISION,
			exit_reason TEXT,
			pnl DOUBLE PRECISION,
			status TEXT NOT NULL,
			broker_order_id TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS bars (
			symbol TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			open DOUBLE PRECISION NOT NULL,
			high DOUBLE PRECISION NOT NULL,
			low DOUBLE PRECISION NOT NULL,
			close DOUBLE PRECISION NOT NULL,
			volume DOUBLE PRECISION NOT NULL,
			start_time TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (symbol, timeframe, start_time)
		)`,
		`CREATE TABLE IF NOT EXISTS performance (
			strategy_id TEXT NOT NULL,
			name TEXT NOT NULL,
			simulating BOOLEAN NOT NULL,
			live BOOLEAN NOT NULL,
			pnl DOUBLE PRECISION NOT NULL,
			trade_count INTEGER NOT NULL,
			win_rate DOUBLE PRECISION NOT NULL,
			open_positions INTEGER NOT NULL,
			generated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS emergency_stops (
			triggered_by TEXT NOT NULL,
			reason TEXT NOT NULL,
			affected JSONB,
			stopped_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveSignal(ctx context.Context, signal models.Signal) error {
	indicators, err := json.Marshal(signal.Indicators)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO signals (id, strategy_id, symbol, type, strength, price, indicators, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) ON CONFLICT (id) DO NOTHING`,
		signal.ID, signal.StrategyID, signal.Symbol, string(signal.Type),
		signal.Strength, signal.Price, indicators, signal.Timestamp)
	if err == nil {
		logger.IncrementPersistWrite(1)
	}
	return err
}

func (s *PostgresStore) SaveTrade(ctx context.Context, pos models.Position) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trades (id, strategy_id, symbol, type, mode, entry_time, entry_price,
			quantity, stop_loss, target_price, entry_volume, status, broker_order_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (id) DO NOTHING`,
		pos.ID, pos.StrategyID, pos.Symbol, string(pos.Type), string(pos.Mode),
		pos.EntryTime, pos.EntryPrice, pos.Quantity, pos.StopLoss, pos.TargetPrice,
		pos.EntryVolume, pos.Status, pos.BrokerOrderID)
	if err == nil {
		logger.IncrementPersistWrite(1)
	}
	return err
}

func (s *PostgresStore) UpdateTrade(ctx context.Context, pos models.Position) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE trades SET exit_time = $2, exit_price = $3, exit_reason = $4, pnl = $5,
			status = $6, broker_order_id = $7 WHERE id = $1`,
		pos.ID, pos.ExitTime, pos.ExitPrice, pos.ExitReason, pos.PnL, pos.Status, pos.BrokerOrderID)
	return err
}

func (s *PostgresStore) SaveBar(ctx context.Context, bar models.Bar) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bars (symbol, timeframe, open, high, low, close, volume, start_time)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (symbol, timeframe, start_time) DO NOTHING`,
		bar.Symbol, string(bar.Timeframe), bar.Open, bar.High, bar.Low, bar.Close,
		bar.Volume, bar.Start)
	if err == nil {
		logger.IncrementPersistWrite(1)
	}
	return err
}

func (s *PostgresStore) SavePerformance(ctx context.Context, perf models.PerformanceSummary) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO performance (strategy_id, name, simulating, live, pnl, trade_count,
			win_rate, open_positions, generated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		perf.StrategyID, perf.Name, perf.Simulating, perf.Live, perf.PnL,
		perf.TradeCount, perf.WinRate, perf.OpenPositions, perf.GeneratedAt)
	return err
}

func (s *PostgresStore) SaveEmergencyStop(ctx context.Context, record models.EmergencyStopRecord) error {
	affected, err := json.Marshal(record.Affected)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO emergency_stops (triggered_by, reason, affected, stopped_at)
		 VALUES ($1, $2, $3, $4)`,
		record.TriggeredBy, record.Reason, affected, record.StoppedAt)
	return err
}

// RecentBars returns the most recent bars for a symbol and timeframe,
// oldest first, for warming indicator windows on startup.
func (s *PostgresStore) RecentBars(ctx context.Context, symbol string, tf models.Timeframe, limit int) ([]models.Bar, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT symbol, timeframe, open, high, low, close, volume, start_time
		 FROM bars WHERE symbol = $1 AND timeframe = $2
		 ORDER BY start_time DESC LIMIT $3`,
		symbol, string(tf), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bars []models.Bar
	for rows.Next() {
		var bar models.Bar
		var timeframe string
		if err := rows.Scan(&bar.Symbol, &timeframe, &bar.Open, &bar.High, &bar.Low,
			&bar.Close, &bar.Volume, &bar.Start); err != nil {
			return nil, err
		}
		bar.Timeframe = models.Timeframe(timeframe)
		bars = append(bars, bar)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// newest-first from the query, callers want oldest-first
	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}
	return bars, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }
