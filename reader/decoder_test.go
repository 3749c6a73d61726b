package reader

import (
	"context"
	"testing"
	"time"

	"tradeflow/config"
	"tradeflow/internal/channel"
	"tradeflow/models"
)

func TestDecodeTick(t *testing.T) {
	now := time.Now()
	frame := []byte(`{"MessageCode":4,"symbol":"NIFTY24SEPFUT","Ltp":25012.5,"Volume":1250,"High":25100,"Low":24900,"Open":24950,"Oi":18000,"BidPrice":25012,"AskPrice":25013}`)

	decoded, err := Decode(frame, now)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	tick, ok := decoded.(models.Tick)
	if !ok {
		t.Fatalf("expected models.Tick, got %T", decoded)
	}
	if tick.Symbol != "NIFTY24SEPFUT" {
		t.Errorf("expected symbol NIFTY24SEPFUT, got %s", tick.Symbol)
	}
	if tick.LTP != 25012.5 {
		t.Errorf("expected ltp 25012.5, got %f", tick.LTP)
	}
	if tick.High != 25100 || tick.Low != 24900 || tick.Open != 24950 {
		t.Errorf("unexpected ohl: %f %f %f", tick.Open, tick.High, tick.Low)
	}
	if !tick.Timestamp.Equal(now) {
		t.Errorf("expected receive timestamp to be preserved")
	}
}

func TestDecodeTickDefaultsToLTP(t *testing.T) {
	frame := []byte(`{"MessageCode":4,"symbol":"NIFTY","Ltp":100.5,"Volume":10}`)

	decoded, err := Decode(frame, time.Now())
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	tick := decoded.(models.Tick)
	if tick.High != 100.5 || tick.Low != 100.5 || tick.Open != 100.5 {
		t.Errorf("expected ohl to default to ltp, got %f %f %f", tick.Open, tick.High, tick.Low)
	}
}

func TestDecodeIndex(t *testing.T) {
	frame := []byte(`{"MessageCode":5,"symbol":"NIFTY 50","IndexValue":24890.2,"NetChange":-55.4,"PercentChange":-0.22}`)

	decoded, err := Decode(frame, time.Now())
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	idx, ok := decoded.(models.IndexTick)
	if !ok {
		t.Fatalf("expected models.IndexTick, got %T", decoded)
	}
	if idx.Value != 24890.2 || idx.NetChange != -55.4 {
		t.Errorf("unexpected index values: %f %f", idx.Value, idx.NetChange)
	}
}

func TestDecodeIgnoresUnknownCode(t *testing.T) {
	decoded, err := Decode([]byte(`{"MessageCode":8,"symbol":"NIFTY"}`), time.Now())
	if err != nil {
		t.Fatalf("unknown codes should not error: %v", err)
	}
	if decoded != nil {
		t.Fatalf("expected nil for unknown code, got %v", decoded)
	}
}

func TestDecodeMalformed(t *testing.T) {
	cases := [][]byte{
		[]byte(`not json`),
		[]byte(`{"MessageCode":4}`),
		[]byte(`{"MessageCode":5,"IndexValue":1}`),
	}
	for _, frame := range cases {
		if _, err := Decode(frame, time.Now()); err == nil {
			t.Errorf("expected error for frame %s", frame)
		}
	}
}

func TestDecoderForwardsTicks(t *testing.T) {
	ch := channel.NewChannels(8, 8, 8, 8)
	defer ch.Close()

	decoder := NewDecoder(&config.Config{}, ch)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := decoder.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer decoder.Stop()

	ch.SendRaw(ctx, models.RawFeedMessage{
		Data:     []byte(`{"MessageCode":4,"symbol":"NIFTY","Ltp":100,"Volume":5}`),
		Received: time.Now(),
	})
	ch.SendRaw(ctx, models.RawFeedMessage{
		Data:     []byte(`garbage`),
		Received: time.Now(),
	})

	select {
	case tick := <-ch.Ticks:
		if tick.Symbol != "NIFTY" || tick.LTP != 100 {
			t.Errorf("unexpected tick: %+v", tick)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for decoded tick")
	}

	select {
	case tick := <-ch.Ticks:
		t.Fatalf("malformed frame should be dropped, got %+v", tick)
	case <-time.After(100 * time.Millisecond):
	}
}
