package models

import "time"

// Broadcast channel names understood by the websocket hub.
const (
	ChannelMarketData   = "market_data"
	ChannelSystemStatus = "system_status"
	ChannelTrades       = "trades"
)

// Event is the JSON shape pushed to broadcast listeners.
type Event struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewEvent builds a broadcast event stamped with the given time.
func NewEvent(eventType string, data interface{}, ts time.Time) Event {
	return Event{Type: eventType, Data: data, Timestamp: ts}
}
