package models

import "time"

// RawFeedMessage represents one unparsed frame from the market feed socket.
type RawFeedMessage struct {
	Data     []byte
	Received time.Time
}

// Tick is a single market-data update for one instrument.
type Tick struct {
	Symbol       string    `json:"symbol"`
	LTP          float64   `json:"ltp"`
	Volume       float64   `json:"volume"`
	High         float64   `json:"high"`
	Low          float64   `json:"low"`
	Open         float64   `json:"open"`
	OpenInterest float64   `json:"oi"`
	Bid          float64   `json:"bid"`
	Ask          float64   `json:"ask"`
	Timestamp    time.Time `json:"timestamp"`
}

// IndexTick is an index-level update (message code 5 on the wire).
type IndexTick struct {
	Symbol        string    `json:"symbol"`
	Value         float64   `json:"value"`
	NetChange     float64   `json:"net_change"`
	PercentChange float64   `json:"percent_change"`
	Timestamp     time.Time `json:"timestamp"`
}
