package reader

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"tradeflow/config"
	"tradeflow/internal/channel"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []subscriptionFrame
	reads  chan []byte
	done   chan struct{}
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{reads: make(chan []byte, 16), done: make(chan struct{})}
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("connection closed")
	}
	frame, ok := v.(subscriptionFrame)
	if !ok {
		return fmt.Errorf("unexpected frame type %T", v)
	}
	c.frames = append(c.frames, frame)
	return nil
}

func (c *fakeConn) WriteControl(messageType int, data []byte, deadline time.Time) error {
	return nil
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data, ok := <-c.reads:
		if !ok {
			return 0, nil, errors.New("connection reset")
		}
		return 1, data, nil
	case <-c.done:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) SetReadDeadline(t time.Time) error   { return nil }
func (c *fakeConn) SetPongHandler(h func(string) error) {}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	return nil
}

func (c *fakeConn) sentFrames() []subscriptionFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]subscriptionFrame, len(c.frames))
	copy(out, c.frames)
	return out
}

func feedConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Feed.URL = "wss://feed.test/marketfeed"
	cfg.Feed.AccessToken = "token"
	cfg.Feed.ClientID = "client"
	cfg.Feed.MarketDataPort = "12002"
	cfg.Feed.Instruments = []string{"NIFTY24SEPFUT"}
	cfg.Feed.KeepaliveInterval = time.Minute
	cfg.Feed.KeepaliveTimeout = time.Second
	cfg.Feed.Reconnect = config.ReconnectConfig{MaxAttempts: 5, BackoffUnit: time.Millisecond}
	return cfg
}

func TestFeedSubscribeFrame(t *testing.T) {
	ch := channel.NewChannels(8, 8, 8, 8)
	defer ch.Close()

	conn := newFakeConn()
	feed := NewFeed(feedConfig(), ch)
	feed.dial = func(ctx context.Context, url string, header http.Header) (wsConn, error) {
		if got := header.Get("Authorization"); got != "Bearer token" {
			t.Errorf("expected bearer auth header, got %q", got)
		}
		if got := header.Get("Client-Id"); got != "client" {
			t.Errorf("expected client id header, got %q", got)
		}
		return conn, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := feed.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer feed.Stop()

	frames := conn.sentFrames()
	if len(frames) != 1 {
		t.Fatalf("expected 1 subscription frame, got %d", len(frames))
	}
	frame := frames[0]
	if frame.RequestCode != 15 {
		t.Errorf("expected request code 15, got %d", frame.RequestCode)
	}
	if frame.InstrumentCount != 1 || len(frame.InstrumentList) != 1 {
		t.Errorf("expected a single instrument, got %+v", frame)
	}
	if frame.MarketDataPort != "12002" {
		t.Errorf("expected market data port 12002, got %s", frame.MarketDataPort)
	}
}

func TestFeedSubscribeIdempotent(t *testing.T) {
	ch := channel.NewChannels(8, 8, 8, 8)
	defer ch.Close()

	conn := newFakeConn()
	feed := NewFeed(feedConfig(), ch)
	feed.dial = func(ctx context.Context, url string, header http.Header) (wsConn, error) {
		return conn, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := feed.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer feed.Stop()

	if err := feed.Subscribe([]string{"NIFTY24SEPFUT"}); err != nil {
		t.Fatalf("resubscribe failed: %v", err)
	}
	if got := len(conn.sentFrames()); got != 1 {
		t.Fatalf("resubscribing a held instrument should not hit the wire, got %d frames", got)
	}

	if err := feed.Subscribe([]string{"NIFTY24SEPFUT", "BANKNIFTY24SEPFUT"}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	frames := conn.sentFrames()
	if len(frames) != 2 {
		t.Fatalf("expected a second frame for the new instrument, got %d", len(frames))
	}
	if frames[1].InstrumentCount != 1 || frames[1].InstrumentList[0] != "BANKNIFTY24SEPFUT" {
		t.Errorf("second frame should carry only the new instrument: %+v", frames[1])
	}
}

func TestFeedForwardsRawFrames(t *testing.T) {
	ch := channel.NewChannels(8, 8, 8, 8)
	defer ch.Close()

	conn := newFakeConn()
	feed := NewFeed(feedConfig(), ch)
	feed.dial = func(ctx context.Context, url string, header http.Header) (wsConn, error) {
		return conn, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := feed.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer feed.Stop()

	conn.reads <- []byte(`{"MessageCode":4,"symbol":"NIFTY","Ltp":100}`)

	select {
	case msg := <-ch.Raw:
		if string(msg.Data) != `{"MessageCode":4,"symbol":"NIFTY","Ltp":100}` {
			t.Errorf("unexpected raw payload: %s", msg.Data)
		}
		if msg.Received.IsZero() {
			t.Error("expected receive timestamp to be set")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for raw frame")
	}
}

func TestFeedReconnectExhaustion(t *testing.T) {
	ch := channel.NewChannels(8, 8, 8, 8)
	defer ch.Close()

	cfg := feedConfig()
	feed := NewFeed(cfg, ch)

	var dialMu sync.Mutex
	dials := 0
	feed.dial = func(ctx context.Context, url string, header http.Header) (wsConn, error) {
		dialMu.Lock()
		defer dialMu.Unlock()
		dials++
		if dials == 1 {
			conn := newFakeConn()
			close(conn.reads) // first read fails immediately
			return conn, nil
		}
		return nil, errors.New("refused")
	}

	var waitMu sync.Mutex
	var waits []time.Duration
	feed.wait = func(ctx context.Context, d time.Duration) error {
		waitMu.Lock()
		waits = append(waits, d)
		waitMu.Unlock()
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := feed.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	select {
	case err := <-feed.Fatal():
		if !errors.Is(err, ErrFeedUnavailable) {
			t.Fatalf("expected ErrFeedUnavailable, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for fatal feed error")
	}
	feed.Stop()

	waitMu.Lock()
	defer waitMu.Unlock()
	want := []time.Duration{
		1 * time.Millisecond,
		2 * time.Millisecond,
		4 * time.Millisecond,
		8 * time.Millisecond,
		16 * time.Millisecond,
	}
	if len(waits) != len(want) {
		t.Fatalf("expected %d backoff waits, got %d: %v", len(want), len(waits), waits)
	}
	for i, d := range want {
		if waits[i] != d {
			t.Errorf("wait %d: expected %v, got %v", i, d, waits[i])
		}
	}

	dialMu.Lock()
	defer dialMu.Unlock()
	if dials != 6 {
		t.Errorf("expected 1 initial dial plus 5 reconnect attempts, got %d", dials)
	}
}

func TestFeedResubscribesAfterReconnect(t *testing.T) {
	ch := channel.NewChannels(8, 8, 8, 8)
	defer ch.Close()

	cfg := feedConfig()
	feed := NewFeed(cfg, ch)

	second := newFakeConn()
	var dialMu sync.Mutex
	dials := 0
	feed.dial = func(ctx context.Context, url string, header http.Header) (wsConn, error) {
		dialMu.Lock()
		defer dialMu.Unlock()
		dials++
		if dials == 1 {
			conn := newFakeConn()
			close(conn.reads)
			return conn, nil
		}
		return second, nil
	}
	feed.wait = func(ctx context.Context, d time.Duration) error { return nil }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := feed.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer feed.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if frames := second.sentFrames(); len(frames) == 1 {
			if frames[0].InstrumentList[0] != "NIFTY24SEPFUT" {
				t.Errorf("expected held instrument to be replayed, got %+v", frames[0])
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for resubscription on the new connection")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
