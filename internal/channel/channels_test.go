package channel

import (
	"context"
	"testing"
	"time"

	"tradeflow/models"
)

func TestSendAndStats(t *testing.T) {
	ch := NewChannels(1, 1, 1, 1)
	ctx := context.Background()

	if !ch.SendRaw(ctx, models.RawFeedMessage{Data: []byte("{}"), Received: time.Now()}) {
		t.Fatal("expected raw send to succeed")
	}
	// Buffer of one is now full; the next send must drop, not block.
	if ch.SendRaw(ctx, models.RawFeedMessage{}) {
		t.Fatal("expected raw send to drop on full buffer")
	}
	if !ch.SendTick(ctx, models.Tick{Symbol: "NIFTY"}) {
		t.Fatal("expected tick send to succeed")
	}
	if !ch.SendBar(ctx, models.Bar{Symbol: "NIFTY"}) {
		t.Fatal("expected bar send to succeed")
	}

	stats := ch.GetStats()
	if stats.RawSent != 1 || stats.RawDropped != 1 || stats.TickSent != 1 || stats.BarSent != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestSendCancelledContext(t *testing.T) {
	ch := NewChannels(0, 0, 0, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Unbuffered and no receiver: only the cancelled context or the
	// default case can fire, never a block.
	if ch.SendTick(ctx, models.Tick{}) {
		t.Fatal("expected tick send to fail")
	}
}

func TestClose(t *testing.T) {
	ch := NewChannels(1, 1, 1, 1)
	ch.Close()
	if _, ok := <-ch.Ticks; ok {
		t.Fatal("expected ticks channel to be closed")
	}
}
