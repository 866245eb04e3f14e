package processor

import "testing"

func TestIsInteresting(t *testing.T) {
	cases := []struct {
		name           string
		notional       float64
		volume         float64
		usdThreshold   float64
		shareThreshold float64
		want           bool
	}{
		{"large notional, no volume", 6000, 0, 5000, 0.05, true},
		{"large share of volume", 100, 1000, 5000, 0.05, true},
		{"small trade", 100, 100000, 5000, 0.05, false},
		{"exactly at usd threshold", 5000, 0, 5000, 0.05, true},
		{"exactly at share threshold", 50, 1000, 5000, 0.05, true},
		{"zero volume guards share test", 100, 0, 5000, 0.05, false},
		{"negative volume guards share test", 100, -1, 5000, 0.05, false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := IsInteresting(c.notional, c.volume, c.usdThreshold, c.shareThreshold)
			if got != c.want {
				t.Errorf("IsInteresting(%v, %v, %v, %v) = %v, want %v",
					c.notional, c.volume, c.usdThreshold, c.shareThreshold, got, c.want)
			}
		})
	}
}
