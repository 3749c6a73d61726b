package processor

import (
	"context"
	"sync"
	"time"

	"tradeflow/config"
	"tradeflow/internal/channel"
	"tradeflow/logger"
	"tradeflow/models"
)

type barKey struct {
	symbol    string
	timeframe models.Timeframe
}

// Aggregator folds ticks into OHLCV bars across all configured timeframes
// and keeps a bounded rolling window of finalized bars per (symbol,
// timeframe). It is passive: the orchestrator calls Apply from its tick
// pipeline so per-symbol ordering is preserved upstream.
type Aggregator struct {
	config   *config.Config
	channels *channel.Channels
	loc      *time.Location
	log      *logger.Entry

	mu      sync.RWMutex
	open    map[barKey]*models.Bar
	windows map[barKey][]models.Bar
}

func NewAggregator(cfg *config.Config, channels *channel.Channels, loc *time.Location) *Aggregator {
	if loc == nil {
		loc = time.Local
	}
	return &Aggregator{
		config:   cfg,
		channels: channels,
		loc:      loc,
		log:      logger.GetLogger().WithComponent("aggregator"),
		open:     make(map[barKey]*models.Bar),
		windows:  make(map[barKey][]models.Bar),
	}
}

// Apply folds one tick into the open bars for its symbol and returns the
// bars it finalized, if any. Finalized bars are also pushed onto the bar
// channel for persistence and archival.
func (a *Aggregator) Apply(ctx context.Context, tick models.Tick) []models.Bar {
	a.mu.Lock()
	var finalized []models.Bar
	for _, tf := range models.Timeframes {
		key := barKey{symbol: tick.Symbol, timeframe: tf}
		bar, ok := a.open[key]
		if !ok {
			a.open[key] = openBar(tick, tf)
			continue
		}

		if a.startsNewBar(bar, tick, tf) {
			done := *bar
			a.appendWindow(key, done)
			finalized = append(finalized, done)
			a.open[key] = openBar(tick, tf)
			continue
		}

		if tick.High > bar.High {
			bar.High = tick.High
		}
		if tick.Low < bar.Low {
			bar.Low = tick.Low
		}
		bar.Close = tick.LTP
		bar.Volume += tick.Volume
	}
	a.mu.Unlock()

	for _, bar := range finalized {
		a.channels.SendBar(ctx, bar)
	}
	return finalized
}

func openBar(tick models.Tick, tf models.Timeframe) *models.Bar {
	return &models.Bar{
		Symbol:    tick.Symbol,
		Timeframe: tf,
		Open:      tick.LTP,
		High:      tick.High,
		Low:       tick.Low,
		Close:     tick.LTP,
		Volume:    tick.Volume,
		Start:     tick.Timestamp,
	}
}

func (a *Aggregator) startsNewBar(bar *models.Bar, tick models.Tick, tf models.Timeframe) bool {
	if tf == models.TimeframeDaily {
		by, bm, bd := bar.Start.In(a.loc).Date()
		ty, tm, td := tick.Timestamp.In(a.loc).Date()
		return by != ty || bm != tm || bd != td
	}
	return tick.Timestamp.Sub(bar.Start) >= tf.Duration()
}

func (a *Aggregator) appendWindow(key barKey, bar models.Bar) {
	window := append(a.windows[key], bar)
	if excess := len(window) - a.config.Aggregator.WindowSize; excess > 0 {
		window = window[excess:]
	}
	a.windows[key] = window
}

// Seed preloads the rolling window for a symbol and timeframe, oldest bar
// first. Used by the historical backfill so indicators are ready before the
// live feed has produced enough bars.
func (a *Aggregator) Seed(symbol string, tf models.Timeframe, bars []models.Bar) {
	key := barKey{symbol: symbol, timeframe: tf}
	a.mu.Lock()
	for _, bar := range bars {
		a.appendWindow(key, bar)
	}
	a.mu.Unlock()
}

// Window returns a copy of the finalized bars for (symbol, timeframe),
// oldest first.
func (a *Aggregator) Window(symbol string, tf models.Timeframe) []models.Bar {
	a.mu.RLock()
	defer a.mu.RUnlock()
	window := a.windows[barKey{symbol: symbol, timeframe: tf}]
	out := make([]models.Bar, len(window))
	copy(out, window)
	return out
}

// OpenBar returns the current unfinalized bar for (symbol, timeframe) and
// whether one exists.
func (a *Aggregator) OpenBar(symbol string, tf models.Timeframe) (models.Bar, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	bar, ok := a.open[barKey{symbol: symbol, timeframe: tf}]
	if !ok {
		return models.Bar{}, false
	}
	return *bar, true
}
