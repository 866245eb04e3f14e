package processor

// IsInteresting flags a trade as noteworthy by absolute notional size or by
// its share of the market's total volume. An unknown or zero market volume
// disables the share test rather than dividing by zero.
func IsInteresting(notionalUSD, marketVolumeUSD, usdThreshold, shareThreshold float64) bool {
	if notionalUSD >= usdThreshold {
		return true
	}
	if marketVolumeUSD <= 0 {
		return false
	}
	return notionalUSD/marketVolumeUSD >= shareThreshold
}
