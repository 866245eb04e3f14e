// Package detector flags anomalous trading activity from the live trade
// stream: per-market size spikes, rapid one-sided sweeps, wallets
// accumulating volume, and one-sided yes buying on Kalshi.
package detector

import (
	"sync"
	"time"

	appconfig "predflow/config"
	"predflow/models"
)

type AlertKind string

const (
	AlertSizeSpike       AlertKind = "size_spike"
	AlertSweep           AlertKind = "sweep"
	AlertWalletVolume    AlertKind = "wallet_volume"
	AlertYesAccumulation AlertKind = "yes_accumulation"
)

// Alert describes one anomaly raised by a detector. Venue and MarketID
// name the trade that tripped it; the remaining fields depend on the kind.
type Alert struct {
	Kind     AlertKind
	Venue    string
	MarketID string
	Side     string
	Wallet   string
	ZScore   float64
	TotalUSD float64
	Trades   int
}

type marketKey struct {
	venue  string
	market string
}

type sweepKey struct {
	venue  string
	market string
	side   string
}

type sweepItem struct {
	at    time.Time
	price float64
	usd   float64
}

// Detector runs every anomaly check over the normalized trade stream.
// One mutex serializes Observe, the windows are not safe on their own.
type Detector struct {
	cfg appconfig.DetectorConfig

	mu         sync.Mutex
	sizeStats  map[marketKey]*rollingStats
	sizeAlert  map[marketKey]time.Time
	sweeps     map[sweepKey][]sweepItem
	sweepAlert map[sweepKey]time.Time
	wallets    map[string]*slidingSum
	flagged    map[string]bool
	yesWindow  *slidingSum
	yesActive  bool
}

func New(cfg appconfig.DetectorConfig) *Detector {
	return &Detector{
		cfg:        cfg,
		sizeStats:  make(map[marketKey]*rollingStats),
		sizeAlert:  make(map[marketKey]time.Time),
		sweeps:     make(map[sweepKey][]sweepItem),
		sweepAlert: make(map[sweepKey]time.Time),
		wallets:    make(map[string]*slidingSum),
		flagged:    make(map[string]bool),
		yesWindow:  newSlidingSum(cfg.YesWindow),
	}
}

// Observe feeds one trade through every detector and returns the alerts it
// raised, usually none. Trades without a positive notional are ignored.
func (d *Detector) Observe(t models.RawTradeEvent) []Alert {
	if t.NotionalUSD <= 0 {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var alerts []Alert
	if a, ok := d.observeSize(t); ok {
		alerts = append(alerts, a)
	}
	if a, ok := d.observeSweep(t); ok {
		alerts = append(alerts, a)
	}
	if a, ok := d.observeWallet(t); ok {
		alerts = append(alerts, a)
	}
	if a, ok := d.observeYes(t); ok {
		alerts = append(alerts, a)
	}
	return alerts
}

// observeSize scores the trade's notional against the market's recent
// distribution and alerts on outliers, with a per-market cooldown.
func (d *Detector) observeSize(t models.RawTradeEvent) (Alert, bool) {
	key := marketKey{venue: t.Venue, market: t.MarketID}
	stats := d.sizeStats[key]
	if stats == nil {
		stats = newRollingStats(d.cfg.ZScoreWindow, d.cfg.ZScoreMinSamples)
		d.sizeStats[key] = stats
	}
	z, ok := stats.add(t.Timestamp, t.NotionalUSD)
	if !ok || z < d.cfg.ZScoreThreshold {
		return Alert{}, false
	}
	if last, seen := d.sizeAlert[key]; seen && t.Timestamp.Sub(last) < d.cfg.ZScoreCooldown {
		return Alert{}, false
	}
	d.sizeAlert[key] = t.Timestamp
	return Alert{
		Kind:     AlertSizeSpike,
		Venue:    t.Venue,
		MarketID: t.MarketID,
		ZScore:   z,
		TotalUSD: t.NotionalUSD,
	}, true
}

// observeSweep alerts when enough same-side trades land inside a short
// window at more than one price level.
func (d *Detector) observeSweep(t models.RawTradeEvent) (Alert, bool) {
	key := sweepKey{venue: t.Venue, market: t.MarketID, side: t.Side}
	buf := append(d.sweeps[key], sweepItem{at: t.Timestamp, price: t.Price, usd: t.NotionalUSD})
	cutoff := t.Timestamp.Add(-d.cfg.SweepWindow)
	for len(buf) > 0 && buf[0].at.Before(cutoff) {
		buf = buf[1:]
	}
	d.sweeps[key] = buf

	if len(buf) < d.cfg.SweepMinTrades {
		return Alert{}, false
	}
	var low, high float64
	priced := 0
	for _, item := range buf {
		if item.price <= 0 {
			continue
		}
		if priced == 0 || item.price < low {
			low = item.price
		}
		if priced == 0 || item.price > high {
			high = item.price
		}
		priced++
	}
	if priced < 2 || low == high {
		return Alert{}, false
	}
	if last, seen := d.sweepAlert[key]; seen && t.Timestamp.Sub(last) < d.cfg.SweepCooldown {
		return Alert{}, false
	}
	total := 0.0
	for _, item := range buf {
		total += item.usd
	}
	d.sweepAlert[key] = t.Timestamp
	return Alert{
		Kind:     AlertSweep,
		Venue:    t.Venue,
		MarketID: t.MarketID,
		Side:     t.Side,
		TotalUSD: total,
		Trades:   len(buf),
	}, true
}

// observeWallet tracks per-wallet rolling volume and alerts once when a
// wallet crosses the threshold. The flag clears when the window drains
// below it, so the wallet can alert again later.
func (d *Detector) observeWallet(t models.RawTradeEvent) (Alert, bool) {
	if t.Wallet == "" {
		return Alert{}, false
	}
	window := d.wallets[t.Wallet]
	if window == nil {
		window = newSlidingSum(d.cfg.WalletWindow)
		d.wallets[t.Wallet] = window
	}
	total := window.add(t.Timestamp, t.NotionalUSD)
	if total >= d.cfg.WalletThresholdUSD {
		if d.flagged[t.Wallet] {
			return Alert{}, false
		}
		d.flagged[t.Wallet] = true
		return Alert{
			Kind:     AlertWalletVolume,
			Venue:    t.Venue,
			MarketID: t.MarketID,
			Wallet:   t.Wallet,
			TotalUSD: total,
		}, true
	}
	delete(d.flagged, t.Wallet)
	return Alert{}, false
}

// observeYes accumulates Kalshi yes-side notional in one venue-wide window
// and alerts on crossing the threshold. Normalization maps yes takers to
// the buy side.
func (d *Detector) observeYes(t models.RawTradeEvent) (Alert, bool) {
	if t.Venue != "kalshi" || t.Side != "buy" {
		return Alert{}, false
	}
	total := d.yesWindow.add(t.Timestamp, t.NotionalUSD)
	if total >= d.cfg.YesThresholdUSD {
		if d.yesActive {
			return Alert{}, false
		}
		d.yesActive = true
		return Alert{
			Kind:     AlertYesAccumulation,
			Venue:    t.Venue,
			MarketID: t.MarketID,
			Side:     t.Side,
			TotalUSD: total,
		}, true
	}
	d.yesActive = false
	return Alert{}, false
}
