package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tradeflow/broker"
	"tradeflow/config"
	"tradeflow/internal/channel"
	"tradeflow/internal/clock"
	"tradeflow/logger"
	"tradeflow/models"
	"tradeflow/processor"
	"tradeflow/strategy"
)

var (
	// ErrUnknownStrategy is returned for operations on an unregistered id.
	ErrUnknownStrategy = errors.New("unknown strategy")

	// ErrValidationFailed rejects a live-mode promotion; the report carries
	// the failing criteria and the strategy stays in simulation.
	ErrValidationFailed = errors.New("live-mode validation failed")

	// ErrHalted rejects state changes while the emergency stop is active.
	ErrHalted = errors.New("emergency stop active")
)

// Persister is the subset of the persistence sink the orchestrator writes
// to. Failures are logged and never propagate into trading decisions.
type Persister interface {
	SaveSignal(ctx context.Context, signal models.Signal) error
	SaveTrade(ctx context.Context, pos models.Position) error
	UpdateTrade(ctx context.Context, pos models.Position) error
	SaveBar(ctx context.Context, bar models.Bar) error
	SavePerformance(ctx context.Context, perf models.PerformanceSummary) error
	SaveEmergencyStop(ctx context.Context, record models.EmergencyStopRecord) error
}

// BarReader reads previously persisted bars, used to warm up windows when
// no historical-data endpoint is configured.
type BarReader interface {
	RecentBars(ctx context.Context, symbol string, tf models.Timeframe, limit int) ([]models.Bar, error)
}

// Broadcaster pushes events to websocket listeners, fire-and-forget.
type Broadcaster interface {
	Publish(channelName string, event models.Event)
}

// OrderPlacer routes live orders to the broker.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, order broker.Order) (string, error)
}

// BarFetcher supplies historical bars for warm-up seeding.
type BarFetcher interface {
	FetchBars(ctx context.Context, symbol string, tf models.Timeframe, from, to time.Time) ([]models.Bar, error)
}

// Orchestrator owns the strategy registry and drives the tick pipeline:
// aggregate, analyze, maintain open positions, then execute any signal the
// risk gates accept. It is the single owner of the emergency-stop flag;
// registry mutation and stop-flag flips exclude tick dispatch, while ticks
// for different symbols evaluate concurrently under per-symbol locks.
type Orchestrator struct {
	config      *config.Config
	channels    *channel.Channels
	aggregator  *processor.Aggregator
	clock       clock.Clock
	store       Persister
	broadcaster Broadcaster
	orders      OrderPlacer

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	log     *logger.Entry

	regMu      sync.RWMutex
	strategies map[string]strategy.Strategy
	halted     bool

	symMu       sync.Mutex
	symbolLocks map[string]*sync.Mutex

	priceMu    sync.RWMutex
	lastPrices map[string]float64
}

func NewOrchestrator(
	cfg *config.Config,
	channels *channel.Channels,
	aggregator *processor.Aggregator,
	clk clock.Clock,
	store Persister,
	broadcaster Broadcaster,
	orders OrderPlacer,
) *Orchestrator {
	if clk == nil {
		clk = clock.System{}
	}
	return &Orchestrator{
		config:      cfg,
		channels:    channels,
		aggregator:  aggregator,
		clock:       clk,
		store:       store,
		broadcaster: broadcaster,
		orders:      orders,
		log:         logger.GetLogger().WithComponent("engine"),
		strategies:  make(map[string]strategy.Strategy),
		symbolLocks: make(map[string]*sync.Mutex),
		lastPrices:  make(map[string]float64),
	}
}

// Register adds a strategy to the registry in the registered (inactive)
// state. Ids must be unique.
func (o *Orchestrator) Register(s strategy.Strategy) error {
	o.regMu.Lock()
	defer o.regMu.Unlock()
	if _, dup := o.strategies[s.ID()]; dup {
		return fmt.Errorf("strategy %s already registered", s.ID())
	}
	o.strategies[s.ID()] = s
	o.log.WithFields(logger.Fields{"strategy_id": s.ID(), "name": s.Name()}).Info("Strategy registered")
	return nil
}

// Unregister removes a strategy. Its open positions stay with it; callers
// flatten first if that matters.
func (o *Orchestrator) Unregister(id string) {
	o.regMu.Lock()
	delete(o.strategies, id)
	o.regMu.Unlock()
}

// Lookup returns the registered strategy for an id.
func (o *Orchestrator) Lookup(id string) (strategy.Strategy, bool) {
	o.regMu.RLock()
	defer o.regMu.RUnlock()
	s, ok := o.strategies[id]
	return s, ok
}

// StartSimulation moves a registered strategy into the simulating state.
func (o *Orchestrator) StartSimulation(id string) error {
	o.regMu.RLock()
	defer o.regMu.RUnlock()
	if o.halted {
		return ErrHalted
	}
	s, ok := o.strategies[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStrategy, id)
	}
	s.SetSimulating(true)
	o.log.WithFields(logger.Fields{"strategy_id": id}).Info("Simulation started")
	return nil
}

// StopSimulation clears both the simulating and live flags.
func (o *Orchestrator) StopSimulation(id string) error {
	o.regMu.RLock()
	defer o.regMu.RUnlock()
	s, ok := o.strategies[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStrategy, id)
	}
	s.SetLive(false)
	s.SetSimulating(false)
	return nil
}

// EnableLive promotes a strategy to live trading. The promotion only goes
// through when the validation gates pass; the report is returned either way
// so callers can surface which criterion failed.
func (o *Orchestrator) EnableLive(id string) (strategy.ValidationReport, error) {
	o.regMu.RLock()
	defer o.regMu.RUnlock()
	if o.halted {
		return strategy.ValidationReport{}, ErrHalted
	}
	s, ok := o.strategies[id]
	if !ok {
		return strategy.ValidationReport{}, fmt.Errorf("%w: %s", ErrUnknownStrategy, id)
	}

	report := s.Validate()
	if !report.Passed {
		return report, fmt.Errorf("%w: pnl>0=%t trades>=10=%t winrate>=0.5=%t",
			ErrValidationFailed, report.PositivePnL, report.MinTrades, report.MinWinRate)
	}
	s.SetSimulating(true)
	s.SetLive(true)
	o.log.WithFields(logger.Fields{"strategy_id": id}).Info("Live mode enabled")
	return report, nil
}

// DisableLive drops a strategy back to simulation.
func (o *Orchestrator) DisableLive(id string) error {
	o.regMu.RLock()
	defer o.regMu.RUnlock()
	s, ok := o.strategies[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStrategy, id)
	}
	s.SetLive(false)
	return nil
}

// EmergencyStop synchronously halts every strategy: flags are cleared, an
// audit record naming the trigger and affected strategies is persisted and
// broadcast, and all signals are dropped until ClearEmergencyStop.
func (o *Orchestrator) EmergencyStop(reason, triggeredBy string) models.EmergencyStopRecord {
	o.regMu.Lock()
	o.halted = true
	var affected []models.AffectedStrategy
	for _, s := range o.strategies {
		if !s.Simulating() && !s.Live() {
			continue
		}
		affected = append(affected, models.AffectedStrategy{
			StrategyID: s.ID(),
			Name:       s.Name(),
			WasLive:    s.Live(),
		})
		s.SetLive(false)
		s.SetSimulating(false)
	}
	o.regMu.Unlock()

	record := models.EmergencyStopRecord{
		TriggeredBy: triggeredBy,
		Reason:      reason,
		Affected:    affected,
		StoppedAt:   o.clock.Now(),
	}

	o.log.WithFields(logger.Fields{
		"reason":       reason,
		"triggered_by": triggeredBy,
		"affected":     len(affected),
	}).Error("EMERGENCY STOP")

	o.persist(func(ctx context.Context) error { return o.store.SaveEmergencyStop(ctx, record) }, "emergency_stop")
	o.broadcast(models.ChannelSystemStatus, models.NewEvent("emergency_stop", record, record.StoppedAt))
	return record
}

// ClearEmergencyStop re-arms the engine. Strategies stay halted until an
// operator restarts their simulation explicitly.
func (o *Orchestrator) ClearEmergencyStop() {
	o.regMu.Lock()
	o.halted = false
	o.regMu.Unlock()
	o.log.Warn("Emergency stop cleared")
}

// Halted reports whether the emergency stop is active.
func (o *Orchestrator) Halted() bool {
	o.regMu.RLock()
	defer o.regMu.RUnlock()
	return o.halted
}

// Backfill seeds the aggregator windows from historical bars so indicators
// are ready before the first live tick. A failed fetch for one instrument
// is logged and skipped; the remaining instruments still warm up.
func (o *Orchestrator) Backfill(ctx context.Context, fetcher BarFetcher, from, to time.Time) {
	for _, symbol := range o.config.Feed.Instruments {
		for _, tf := range models.Timeframes {
			bars, err := fetcher.FetchBars(ctx, symbol, tf, from, to)
			if err != nil {
				o.log.WithError(err).WithFields(logger.Fields{
					"symbol":    symbol,
					"timeframe": tf,
				}).Warn("Historical backfill failed")
				continue
			}
			o.aggregator.Seed(symbol, tf, bars)
			if len(bars) > 0 {
				o.priceMu.Lock()
				if _, ok := o.lastPrices[symbol]; !ok {
					o.lastPrices[symbol] = bars[len(bars)-1].Close
				}
				o.priceMu.Unlock()
			}
		}
	}
}

// BackfillFromStore seeds windows from previously persisted bars, the
// fallback warm-up path when no historical-data endpoint is configured.
func (o *Orchestrator) BackfillFromStore(ctx context.Context, store BarReader, limit int) {
	for _, symbol := range o.config.Feed.Instruments {
		for _, tf := range models.Timeframes {
			bars, err := store.RecentBars(ctx, symbol, tf, limit)
			if err != nil {
				o.log.WithError(err).WithFields(logger.Fields{
					"symbol":    symbol,
					"timeframe": tf,
				}).Warn("Stored-bar backfill failed")
				continue
			}
			o.aggregator.Seed(symbol, tf, bars)
		}
	}
}

func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator already running")
	}
	o.running = true
	o.ctx, o.cancel = context.WithCancel(ctx)
	o.mu.Unlock()

	o.wg.Add(3)
	go o.tickWorker()
	go o.indexWorker()
	go o.maintenanceWorker()

	o.log.Info("Orchestrator started")
	return nil
}

func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	o.mu.Unlock()

	o.cancel()
	o.wg.Wait()
	o.log.Info("Orchestrator stopped")
}

func (o *Orchestrator) tickWorker() {
	defer o.wg.Done()
	for {
		select {
		case <-o.ctx.Done():
			return
		case tick, ok := <-o.channels.Ticks:
			if !ok {
				return
			}
			o.HandleTick(tick)
		}
	}
}

func (o *Orchestrator) indexWorker() {
	defer o.wg.Done()
	for {
		select {
		case <-o.ctx.Done():
			return
		case idx, ok := <-o.channels.Index:
			if !ok {
				return
			}
			o.broadcast(models.ChannelMarketData, models.NewEvent("index", idx, idx.Timestamp))
		}
	}
}

// HandleTick runs the full pipeline for one tick. Ticks for the same symbol
// are serialized by the symbol lock; different symbols evaluate in parallel.
func (o *Orchestrator) HandleTick(tick models.Tick) {
	lock := o.symbolLock(tick.Symbol)
	lock.Lock()
	defer lock.Unlock()

	o.priceMu.Lock()
	o.lastPrices[tick.Symbol] = tick.LTP
	o.priceMu.Unlock()

	for _, bar := range o.aggregator.Apply(o.runCtx(), tick) {
		o.persist(func(ctx context.Context) error { return o.store.SaveBar(ctx, bar) }, "bar")
	}
	window := o.evaluationWindow(tick.Symbol)

	o.broadcast(models.ChannelMarketData, models.NewEvent("tick", tick, tick.Timestamp))

	for _, s := range o.activeStrategies(tick.Symbol) {
		o.evaluate(s, tick.Symbol, window)
	}
}

// evaluationWindow is the finalized one-minute history plus the open bar,
// so the newest price action is always part of the evaluation.
func (o *Orchestrator) evaluationWindow(symbol string) models.BarWindow {
	bars := o.aggregator.Window(symbol, models.Timeframe1Min)
	if open, ok := o.aggregator.OpenBar(symbol, models.Timeframe1Min); ok {
		bars = append(bars, open)
	}
	return models.WindowFromBars(bars)
}

func (o *Orchestrator) activeStrategies(symbol string) []strategy.Strategy {
	o.regMu.RLock()
	defer o.regMu.RUnlock()
	var out []strategy.Strategy
	for _, s := range o.strategies {
		if !s.Simulating() {
			continue
		}
		for _, inst := range s.Instruments() {
			if inst == symbol {
				out = append(out, s)
				break
			}
		}
	}
	return out
}

func (o *Orchestrator) evaluate(s strategy.Strategy, symbol string, window models.BarWindow) {
	snap := s.Analyze(window)
	if snap.Empty() {
		return
	}

	// shared exit checks, then the strategy's own escalation ladder
	for _, closed := range s.CheckExits(symbol, snap) {
		o.settleClose(closed)
	}
	for _, open := range s.OpenPositions(symbol) {
		reason, exit := s.ExitEscalation(open, snap)
		if !exit {
			continue
		}
		if closed, ok := s.ClosePosition(open.ID, snap.CurrentPrice, reason); ok {
			o.settleClose(closed)
		}
	}

	signal := s.GenerateSignal(symbol, snap)
	if signal == nil {
		return
	}
	logger.IncrementSignalEmitted()

	if o.Halted() {
		o.log.WithFields(logger.Fields{"signal_id": signal.ID}).Warn("Signal dropped, emergency stop active")
		return
	}
	if err := s.CanEnterTrade(symbol); err != nil {
		o.log.WithError(err).Debug("Signal discarded by risk rules")
		return
	}

	o.persist(func(ctx context.Context) error { return o.store.SaveSignal(ctx, *signal) }, "signal")

	pos := s.OpenPosition(signal)
	if pos == nil {
		return
	}

	if s.Live() && o.orders != nil {
		orderID, err := o.orders.PlaceOrder(o.runCtx(), broker.OrderFor(*pos))
		if err != nil {
			o.log.WithError(err).WithFields(logger.Fields{"position_id": pos.ID}).Error("Live order failed")
		} else {
			s.SetBrokerOrder(pos.ID, orderID)
			pos.BrokerOrderID = orderID
		}
	}

	o.persist(func(ctx context.Context) error { return o.store.SaveTrade(ctx, *pos) }, "trade")
	o.broadcast(models.ChannelTrades, models.NewEvent("position_opened", *pos, pos.EntryTime))
}

func (o *Orchestrator) settleClose(closed models.Position) {
	o.persist(func(ctx context.Context) error { return o.store.UpdateTrade(ctx, closed) }, "trade_close")
	o.broadcast(models.ChannelTrades, models.NewEvent("position_closed", closed, closed.ExitTime))
}

func (o *Orchestrator) maintenanceWorker() {
	defer o.wg.Done()

	interval := o.config.Engine.MaintenanceInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			o.RunMaintenance()
		}
	}
}

// RunMaintenance flattens positions past the end-of-day cutoff and
// publishes fresh performance summaries for every registered strategy.
func (o *Orchestrator) RunMaintenance() {
	o.regMu.RLock()
	strategies := make([]strategy.Strategy, 0, len(o.strategies))
	for _, s := range o.strategies {
		strategies = append(strategies, s)
	}
	o.regMu.RUnlock()

	for _, s := range strategies {
		for _, closed := range s.FlattenPastEOD(o.lastPrice) {
			o.settleClose(closed)
		}

		perf := s.Performance()
		o.persist(func(ctx context.Context) error { return o.store.SavePerformance(ctx, perf) }, "performance")
		o.broadcast(models.ChannelSystemStatus, models.NewEvent("performance", perf, perf.GeneratedAt))
	}
}

func (o *Orchestrator) lastPrice(symbol string) (float64, bool) {
	o.priceMu.RLock()
	defer o.priceMu.RUnlock()
	price, ok := o.lastPrices[symbol]
	return price, ok
}

func (o *Orchestrator) runCtx() context.Context {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ctx != nil {
		return o.ctx
	}
	return context.Background()
}

func (o *Orchestrator) symbolLock(symbol string) *sync.Mutex {
	o.symMu.Lock()
	defer o.symMu.Unlock()
	lock, ok := o.symbolLocks[symbol]
	if !ok {
		lock = &sync.Mutex{}
		o.symbolLocks[symbol] = lock
	}
	return lock
}

// persist runs one sink write with a bounded context. Failures are logged
// and swallowed; persistence never blocks or aborts trading.
func (o *Orchestrator) persist(write func(context.Context) error, kind string) {
	if o.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(o.runCtx()), 5*time.Second)
	defer cancel()
	if err := write(ctx); err != nil {
		o.log.WithError(err).WithFields(logger.Fields{"kind": kind}).Warn("Persistence write failed")
	}
}

func (o *Orchestrator) broadcast(channelName string, event models.Event) {
	if o.broadcaster == nil {
		return
	}
	o.broadcaster.Publish(channelName, event)
}
