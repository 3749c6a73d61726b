package reader

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"tradeflow/config"
	"tradeflow/internal/channel"
	"tradeflow/logger"
	"tradeflow/models"
)

// Wire message codes used by the feed.
const (
	messageCodeTick  = 4
	messageCodeIndex = 5
)

type wireEnvelope struct {
	MessageCode int `json:"MessageCode"`
}

type wireTick struct {
	Symbol   string   `json:"symbol"`
	LTP      float64  `json:"Ltp"`
	Volume   float64  `json:"Volume"`
	High     *float64 `json:"High"`
	Low      *float64 `json:"Low"`
	Open     *float64 `json:"Open"`
	OI       float64  `json:"Oi"`
	BidPrice float64  `json:"BidPrice"`
	AskPrice float64  `json:"AskPrice"`
}

type wireIndex struct {
	Symbol        string  `json:"symbol"`
	IndexValue    float64 `json:"IndexValue"`
	NetChange     float64 `json:"NetChange"`
	PercentChange float64 `json:"PercentChange"`
}

// Decoder turns raw feed frames into typed ticks. Malformed frames are
// dropped with a warning; unknown message codes are ignored silently since
// the feed multiplexes frames this pipeline has no use for.
type Decoder struct {
	config   *config.Config
	channels *channel.Channels
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
	log      *logger.Entry
}

func NewDecoder(cfg *config.Config, channels *channel.Channels) *Decoder {
	return &Decoder{
		config:   cfg,
		channels: channels,
		log:      logger.GetLogger().WithComponent("decoder"),
	}
}

func (d *Decoder) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return fmt.Errorf("decoder already running")
	}
	d.running = true
	d.ctx, d.cancel = context.WithCancel(ctx)

	d.wg.Add(1)
	go d.run()

	d.log.Info("Decoder started")
	return nil
}

func (d *Decoder) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
	d.log.Info("Decoder stopped")
}

func (d *Decoder) run() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case msg, ok := <-d.channels.Raw:
			if !ok {
				return
			}
			d.handle(msg)
		}
	}
}

func (d *Decoder) handle(msg models.RawFeedMessage) {
	decoded, err := Decode(msg.Data, msg.Received)
	if err != nil {
		logger.IncrementFrameDropped()
		d.log.WithError(err).Warn("Dropping malformed frame")
		return
	}

	switch v := decoded.(type) {
	case models.Tick:
		if d.channels.SendTick(d.ctx, v) {
			logger.IncrementTickDecoded(len(msg.Data))
		}
	case models.IndexTick:
		d.channels.SendIndex(d.ctx, v)
	case nil:
		// unknown message code, nothing to forward
	}
}

// Decode parses a single wire frame. It returns a models.Tick for market
// ticks, a models.IndexTick for index updates, and (nil, nil) for message
// codes this pipeline ignores. High, low and open default to the last traded
// price when the frame omits them, which happens on the first update after
// the session opens.
func Decode(data []byte, received time.Time) (interface{}, error) {
	var env wireEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unparseable frame: %w", err)
	}

	switch env.MessageCode {
	case messageCodeTick:
		var w wireTick
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("malformed tick frame: %w", err)
		}
		if w.Symbol == "" {
			return nil, fmt.Errorf("tick frame missing symbol")
		}
		tick := models.Tick{
			Symbol:       w.Symbol,
			LTP:          w.LTP,
			Volume:       w.Volume,
			High:         w.LTP,
			Low:          w.LTP,
			Open:         w.LTP,
			OpenInterest: w.OI,
			Bid:          w.BidPrice,
			Ask:          w.AskPrice,
			Timestamp:    received,
		}
		if w.High != nil {
			tick.High = *w.High
		}
		if w.Low != nil {
			tick.Low = *w.Low
		}
		if w.Open != nil {
			tick.Open = *w.Open
		}
		return tick, nil

	case messageCodeIndex:
		var w wireIndex
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("malformed index frame: %w", err)
		}
		if w.Symbol == "" {
			return nil, fmt.Errorf("index frame missing symbol")
		}
		return models.IndexTick{
			Symbol:        w.Symbol,
			Value:         w.IndexValue,
			NetChange:     w.NetChange,
			PercentChange: w.PercentChange,
			Timestamp:     received,
		}, nil
	}

	return nil, nil
}
