package reader

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"tradeflow/config"
	"tradeflow/internal/channel"
	"tradeflow/logger"
	"tradeflow/models"
)

// wsConn is the subset of *websocket.Conn the feed uses. Tests swap in a
// scripted connection through the dial hook.
type wsConn interface {
	WriteJSON(v interface{}) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	ReadMessage() (messageType int, p []byte, err error)
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

type dialFunc func(ctx context.Context, url string, header http.Header) (wsConn, error)

func gorillaDial(ctx context.Context, url string, header http.Header) (wsConn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// subscriptionFrame is the upstream subscription request. Field names are
// fixed by the feed protocol.
type subscriptionFrame struct {
	RequestCode     int      `json:"RequestCode"`
	InstrumentCount int      `json:"InstrumentCount"`
	InstrumentList  []string `json:"InstrumentList"`
	MarketDataPort  string   `json:"Xts-Market-Data-Port"`
}

const subscribeRequestCode = 15

// Feed maintains the websocket stream to the market-data provider and
// forwards raw frames into the pipeline. Connection loss is handled with a
// bounded exponential-backoff reconnect; when the budget is exhausted the
// failure is surfaced on Fatal().
type Feed struct {
	config   *config.Config
	channels *channel.Channels
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Entry

	connMu sync.Mutex
	conn   wsConn

	subsMu sync.Mutex
	subs   map[string]struct{}

	fatal chan error

	// test seams
	dial dialFunc
	wait func(ctx context.Context, d time.Duration) error
}

func NewFeed(cfg *config.Config, channels *channel.Channels) *Feed {
	return &Feed{
		config:   cfg,
		channels: channels,
		log:      logger.GetLogger().WithComponent("feed"),
		subs:     make(map[string]struct{}),
		fatal:    make(chan error, 1),
		dial:     gorillaDial,
		wait:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Fatal delivers at most one terminal feed error, after which the transport
// has given up reconnecting.
func (f *Feed) Fatal() <-chan error {
	return f.fatal
}

// Start connects, subscribes the configured instruments and launches the
// read loop. The initial connection failing is returned directly; failures
// after that go through the reconnect path.
func (f *Feed) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return fmt.Errorf("feed already running")
	}
	f.running = true
	f.ctx, f.cancel = context.WithCancel(ctx)
	f.mu.Unlock()

	if err := f.Connect(f.ctx); err != nil {
		f.mu.Lock()
		f.running = false
		f.mu.Unlock()
		return fmt.Errorf("initial feed connection failed: %w", err)
	}
	if err := f.Subscribe(f.config.Feed.Instruments); err != nil {
		f.mu.Lock()
		f.running = false
		f.mu.Unlock()
		return fmt.Errorf("initial subscription failed: %w", err)
	}

	f.wg.Add(1)
	go f.readLoop()

	f.log.WithFields(logger.Fields{
		"url":         f.config.Feed.URL,
		"instruments": len(f.config.Feed.Instruments),
	}).Info("Feed started")
	return nil
}

// Stop tears the connection down and waits for the read loop to exit.
func (f *Feed) Stop() {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return
	}
	f.running = false
	f.mu.Unlock()

	f.cancel()
	f.Disconnect()
	f.wg.Wait()
	f.log.Info("Feed stopped")
}

// Connect dials the feed endpoint with the configured credentials. It does
// not subscribe; callers follow up with Subscribe.
func (f *Feed) Connect(ctx context.Context) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+f.config.Feed.AccessToken)
	header.Set("Client-Id", f.config.Feed.ClientID)

	conn, err := f.dial(ctx, f.config.Feed.URL, header)
	if err != nil {
		return fmt.Errorf("connection rejected by %s: %w", f.config.Feed.URL, err)
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(f.config.Feed.KeepaliveInterval + f.config.Feed.KeepaliveTimeout))
	})
	_ = conn.SetReadDeadline(time.Now().Add(f.config.Feed.KeepaliveInterval + f.config.Feed.KeepaliveTimeout))

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()
	return nil
}

// Disconnect closes the current connection. Safe to call when not connected.
func (f *Feed) Disconnect() {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		_ = f.conn.Close()
		f.conn = nil
	}
}

// Subscribe records the instruments locally and sends one subscription frame
// for those not already held. Instruments already subscribed are skipped on
// the wire so resubscription stays idempotent.
func (f *Feed) Subscribe(instruments []string) error {
	if len(instruments) == 0 {
		return nil
	}

	f.subsMu.Lock()
	fresh := make([]string, 0, len(instruments))
	for _, inst := range instruments {
		if _, held := f.subs[inst]; held {
			continue
		}
		f.subs[inst] = struct{}{}
		fresh = append(fresh, inst)
	}
	f.subsMu.Unlock()

	if len(fresh) == 0 {
		return nil
	}
	return f.sendSubscription(fresh)
}

func (f *Feed) sendSubscription(instruments []string) error {
	f.connMu.Lock()
	conn := f.conn
	f.connMu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	frame := subscriptionFrame{
		RequestCode:     subscribeRequestCode,
		InstrumentCount: len(instruments),
		InstrumentList:  instruments,
		MarketDataPort:  f.config.Feed.MarketDataPort,
	}
	if err := conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("failed to send subscription: %w", err)
	}
	f.log.WithFields(logger.Fields{"instruments": len(instruments)}).Info("Subscription sent")
	return nil
}

// resubscribe replays the full held set after a reconnect.
func (f *Feed) resubscribe() error {
	f.subsMu.Lock()
	held := make([]string, 0, len(f.subs))
	for inst := range f.subs {
		held = append(held, inst)
	}
	f.subsMu.Unlock()

	if len(held) == 0 {
		return nil
	}
	return f.sendSubscription(held)
}

func (f *Feed) readLoop() {
	defer f.wg.Done()

	f.wg.Add(1)
	go f.keepalive()

	for {
		f.connMu.Lock()
		conn := f.conn
		f.connMu.Unlock()
		if conn == nil {
			if !f.recover() {
				return
			}
			continue
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-f.ctx.Done():
				return
			default:
			}
			f.log.WithError(err).Warn("Feed read failed, reconnecting")
			f.Disconnect()
			if !f.recover() {
				return
			}
			continue
		}

		f.channels.SendRaw(f.ctx, models.RawFeedMessage{
			Data:     data,
			Received: time.Now(),
		})
	}
}

// recover runs the bounded reconnect loop: delays of unit, 2x, 4x, 8x, 16x
// before attempts two through five. Exhausting the budget raises
// ErrFeedUnavailable on the fatal channel and returns false.
func (f *Feed) recover() bool {
	b := &backoff.Backoff{
		Min:    f.config.Feed.Reconnect.BackoffUnit,
		Max:    f.config.Feed.Reconnect.BackoffUnit << uint(f.config.Feed.Reconnect.MaxAttempts-1),
		Factor: 2,
		Jitter: false,
	}

	for attempt := 1; attempt <= f.config.Feed.Reconnect.MaxAttempts; attempt++ {
		if err := f.wait(f.ctx, b.Duration()); err != nil {
			return false
		}

		f.log.WithFields(logger.Fields{
			"attempt": attempt,
			"max":     f.config.Feed.Reconnect.MaxAttempts,
		}).Info("Reconnecting to feed")

		if err := f.Connect(f.ctx); err != nil {
			f.log.WithError(err).Warn("Reconnect attempt failed")
			continue
		}
		if err := f.resubscribe(); err != nil {
			f.log.WithError(err).Warn("Resubscription after reconnect failed")
			f.Disconnect()
			continue
		}
		f.log.Info("Feed reconnected")
		return true
	}

	f.log.Error("Feed reconnect budget exhausted")
	select {
	case f.fatal <- ErrFeedUnavailable:
	default:
	}
	return false
}

func (f *Feed) keepalive() {
	defer f.wg.Done()

	ticker := time.NewTicker(f.config.Feed.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.ctx.Done():
			return
		case <-ticker.C:
			f.connMu.Lock()
			conn := f.conn
			f.connMu.Unlock()
			if conn == nil {
				continue
			}
			deadline := time.Now().Add(f.config.Feed.KeepaliveTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				f.log.WithError(err).Debug("Keepalive ping failed")
			}
		}
	}
}
