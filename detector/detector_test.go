package detector

import (
	"testing"
	"time"

	appconfig "predflow/config"
	"predflow/models"
)

func testDetectorConfig() appconfig.DetectorConfig {
	return appconfig.DetectorConfig{
		Enabled:            true,
		ZScoreWindow:       time.Hour,
		ZScoreThreshold:    3.0,
		ZScoreMinSamples:   30,
		ZScoreCooldown:     30 * time.Second,
		SweepWindow:        50 * time.Millisecond,
		SweepMinTrades:     5,
		SweepCooldown:      time.Second,
		WalletWindow:       6 * time.Hour,
		WalletThresholdUSD: 10000,
		YesWindow:          time.Hour,
		YesThresholdUSD:    50000,
	}
}

func trade(venue, market, side string, at time.Time, notional float64) models.RawTradeEvent {
	return models.RawTradeEvent{
		Venue:       venue,
		MarketID:    market,
		Side:        side,
		Price:       0.5,
		NotionalUSD: notional,
		Timestamp:   at,
	}
}

func onlyKind(alerts []Alert, kind AlertKind) []Alert {
	var out []Alert
	for _, a := range alerts {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}

func TestSizeSpikeAlertsOnOutlier(t *testing.T) {
	d := New(testDetectorConfig())
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// alternate two sizes so the window has variance
	for i := 0; i < 30; i++ {
		size := 100.0
		if i%2 == 1 {
			size = 200.0
		}
		at := base.Add(time.Duration(i) * time.Second)
		if got := onlyKind(d.Observe(trade("polymarket", "m1", "buy", at, size)), AlertSizeSpike); len(got) != 0 {
			t.Fatalf("baseline trade %d raised %+v", i, got)
		}
	}

	spike := d.Observe(trade("polymarket", "m1", "buy", base.Add(31*time.Second), 10000))
	got := onlyKind(spike, AlertSizeSpike)
	if len(got) != 1 {
		t.Fatalf("expected one size spike alert, got %+v", spike)
	}
	if got[0].ZScore < 3.0 || got[0].TotalUSD != 10000 {
		t.Fatalf("unexpected alert: %+v", got[0])
	}

	// inside the cooldown a second outlier stays silent
	again := d.Observe(trade("polymarket", "m1", "buy", base.Add(32*time.Second), 12000))
	if len(onlyKind(again, AlertSizeSpike)) != 0 {
		t.Fatalf("cooldown did not suppress alert: %+v", again)
	}
}

func TestSweepAlertNeedsPriceSpread(t *testing.T) {
	d := New(testDetectorConfig())
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// five same-side trades within the window at distinct price levels
	prices := []float64{0.50, 0.51, 0.52, 0.53, 0.54}
	var last []Alert
	for i, p := range prices {
		ev := trade("polymarket", "m1", "buy", base.Add(time.Duration(i)*5*time.Millisecond), 500)
		ev.Price = p
		last = d.Observe(ev)
	}
	got := onlyKind(last, AlertSweep)
	if len(got) != 1 {
		t.Fatalf("expected a sweep alert, got %+v", last)
	}
	if got[0].Trades != 5 || got[0].TotalUSD != 2500 || got[0].Side != "buy" {
		t.Fatalf("unexpected sweep alert: %+v", got[0])
	}

	// a flat burst at one price is a resting order filling, not a sweep
	flat := New(testDetectorConfig())
	for i := 0; i < 5; i++ {
		ev := trade("polymarket", "m2", "buy", base.Add(time.Duration(i)*5*time.Millisecond), 500)
		last = flat.Observe(ev)
	}
	if len(onlyKind(last, AlertSweep)) != 0 {
		t.Fatalf("flat-price burst raised a sweep: %+v", last)
	}
}

func TestWalletVolumeFlagsOnce(t *testing.T) {
	d := New(testDetectorConfig())
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	ev := trade("polymarket", "m1", "buy", base, 6000)
	ev.Wallet = "0xabc"
	if got := onlyKind(d.Observe(ev), AlertWalletVolume); len(got) != 0 {
		t.Fatalf("below-threshold wallet flagged: %+v", got)
	}

	ev2 := trade("polymarket", "m1", "buy", base.Add(time.Minute), 6000)
	ev2.Wallet = "0xabc"
	got := onlyKind(d.Observe(ev2), AlertWalletVolume)
	if len(got) != 1 || got[0].Wallet != "0xabc" || got[0].TotalUSD != 12000 {
		t.Fatalf("expected wallet alert, got %+v", got)
	}

	// already flagged, stays quiet until the window drains
	ev3 := trade("polymarket", "m1", "buy", base.Add(2*time.Minute), 1000)
	ev3.Wallet = "0xabc"
	if got := onlyKind(d.Observe(ev3), AlertWalletVolume); len(got) != 0 {
		t.Fatalf("flagged wallet alerted again: %+v", got)
	}
}

func TestYesAccumulationKalshiOnly(t *testing.T) {
	d := New(testDetectorConfig())
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// polymarket buys never feed the yes window
	if got := onlyKind(d.Observe(trade("polymarket", "m1", "buy", base, 60000)), AlertYesAccumulation); len(got) != 0 {
		t.Fatalf("polymarket trade raised yes accumulation: %+v", got)
	}
	// kalshi sells do not either
	if got := onlyKind(d.Observe(trade("kalshi", "k1", "sell", base, 60000)), AlertYesAccumulation); len(got) != 0 {
		t.Fatalf("sell side raised yes accumulation: %+v", got)
	}

	if got := onlyKind(d.Observe(trade("kalshi", "k1", "buy", base, 30000)), AlertYesAccumulation); len(got) != 0 {
		t.Fatalf("below threshold raised alert: %+v", got)
	}
	got := onlyKind(d.Observe(trade("kalshi", "k2", "buy", base.Add(time.Minute), 30000)), AlertYesAccumulation)
	if len(got) != 1 || got[0].TotalUSD != 60000 {
		t.Fatalf("expected yes accumulation alert, got %+v", got)
	}
	// active alert stays latched while the total holds above threshold
	if got := onlyKind(d.Observe(trade("kalshi", "k2", "buy", base.Add(2*time.Minute), 1000)), AlertYesAccumulation); len(got) != 0 {
		t.Fatalf("latched alert fired again: %+v", got)
	}
}

func TestSlidingSumPrunes(t *testing.T) {
	s := newSlidingSum(time.Minute)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.add(base, 100)
	s.add(base.Add(30*time.Second), 50)
	if total := s.add(base.Add(70*time.Second), 10); total != 60 {
		t.Fatalf("expected expired value pruned, total = %v", total)
	}
}

func TestRollingStatsNeedsSamplesAndVariance(t *testing.T) {
	w := newRollingStats(time.Hour, 3)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if _, ok := w.add(base, 100); ok {
		t.Fatal("score available below min samples")
	}
	if _, ok := w.add(base.Add(time.Second), 100); ok {
		t.Fatal("score available below min samples")
	}
	// three identical samples, zero variance
	if _, ok := w.add(base.Add(2*time.Second), 100); ok {
		t.Fatal("score available with zero variance")
	}
	z, ok := w.add(base.Add(3*time.Second), 200)
	if !ok || z <= 0 {
		t.Fatalf("expected positive z-score, got %v ok=%v", z, ok)
	}
}
