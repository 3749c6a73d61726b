package channel

import (
	"context"
	"sync"

	"tradeflow/logger"
	"tradeflow/models"
)

type ChannelStats struct {
	RawSent      int64
	TickSent     int64
	IndexSent    int64
	BarSent      int64
	RawDropped   int64
	TickDropped  int64
	IndexDropped int64
	BarDropped   int64
}

// Channels carries the typed buffered queues between pipeline stages:
// raw frames from the feed socket, decoded ticks and index updates, and
// finalized bars headed for persistence.
type Channels struct {
	Raw   chan models.RawFeedMessage
	Ticks chan models.Tick
	Index chan models.IndexTick
	Bars  chan models.Bar

	stats      ChannelStats
	statsMutex sync.RWMutex
	log        *logger.Log
}

func NewChannels(rawBuffer, tickBuffer, indexBuffer, barBuffer int) *Channels {
	log := logger.GetLogger()
	c := &Channels{
		Raw:   make(chan models.RawFeedMessage, rawBuffer),
		Ticks: make(chan models.Tick, tickBuffer),
		Index: make(chan models.IndexTick, indexBuffer),
		Bars:  make(chan models.Bar, barBuffer),
		log:   log,
	}

	log.WithComponent("channels").WithFields(logger.Fields{
		"raw_buffer":   rawBuffer,
		"tick_buffer":  tickBuffer,
		"index_buffer": indexBuffer,
		"bar_buffer":   barBuffer,
	}).Info("pipeline channels initialized")

	return c
}

func (c *Channels) Close() {
	close(c.Raw)
	close(c.Ticks)
	close(c.Index)
	close(c.Bars)
	c.log.WithComponent("channels").Info("pipeline channels closed")
}

// SendRaw forwards a raw feed frame, dropping it when the buffer is full.
func (c *Channels) SendRaw(ctx context.Context, msg models.RawFeedMessage) bool {
	select {
	case c.Raw <- msg:
		c.increment(func(s *ChannelStats) { s.RawSent++ })
		return true
	case <-ctx.Done():
		return false
	default:
		c.increment(func(s *ChannelStats) { s.RawDropped++ })
		return false
	}
}

func (c *Channels) SendTick(ctx context.Context, tick models.Tick) bool {
	select {
	case c.Ticks <- tick:
		c.increment(func(s *ChannelStats) { s.TickSent++ })
		return true
	case <-ctx.Done():
		return false
	default:
		c.increment(func(s *ChannelStats) { s.TickDropped++ })
		return false
	}
}

func (c *Channels) SendIndex(ctx context.Context, tick models.IndexTick) bool {
	select {
	case c.Index <- tick:
		c.increment(func(s *ChannelStats) { s.IndexSent++ })
		return true
	case <-ctx.Done():
		return false
	default:
		c.increment(func(s *ChannelStats) { s.IndexDropped++ })
		return false
	}
}

func (c *Channels) SendBar(ctx context.Context, bar models.Bar) bool {
	select {
	case c.Bars <- bar:
		c.increment(func(s *ChannelStats) { s.BarSent++ })
		return true
	case <-ctx.Done():
		return false
	default:
		c.increment(func(s *ChannelStats) { s.BarDropped++ })
		return false
	}
}

func (c *Channels) increment(fn func(*ChannelStats)) {
	c.statsMutex.Lock()
	fn(&c.stats)
	c.statsMutex.Unlock()
}

func (c *Channels) GetStats() ChannelStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}
