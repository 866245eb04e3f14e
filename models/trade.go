package models

import (
	"strings"
	"time"
)

// RawTradeEvent represents a single trade as received from a venue stream
type RawTradeEvent struct {
	Venue       string    `json:"venue"`
	MarketID    string    `json:"market_id"`
	Question    string    `json:"question"`
	TradeID     string    `json:"trade_id"`
	Price       float64   `json:"price"`
	Size        float64   `json:"size"`
	Side        string    `json:"side"` // "buy" or "sell"
	Wallet      string    `json:"wallet,omitempty"` // acting address when the venue exposes one
	NotionalUSD float64   `json:"notional_usd"`
	Timestamp   time.Time `json:"timestamp"`
}

// Normalize brings venue quirks onto the common shape: sides become
// buy/sell and a missing notional is backfilled as price*size. Prices
// must already be fractional dollars; cent-quoting venues convert in
// their readers.
func (t *RawTradeEvent) Normalize() {
	switch strings.ToLower(t.Side) {
	case "buy", "bid", "yes", "taker_buy":
		t.Side = "buy"
	case "sell", "ask", "no", "taker_sell":
		t.Side = "sell"
	default:
		t.Side = strings.ToLower(t.Side)
	}
	if t.NotionalUSD == 0 && t.Price > 0 && t.Size > 0 {
		t.NotionalUSD = t.Price * t.Size
	}
}

// TradeRecord is the enriched pipeline output, persisted once per
// distinct (venue, trade_id)
type TradeRecord struct {
	RawTradeEvent
	Classification  MarketClassification `json:"classification"`
	Interesting     bool                 `json:"interesting"`
	ClusterID       *int64               `json:"cluster_id"`
	MarketVolumeUSD float64              `json:"market_volume_usd"`
	ProcessedAt     time.Time            `json:"processed_at"`
}
