package detector

import (
	"math"
	"time"
)

type timedValue struct {
	at    time.Time
	value float64
}

// slidingSum keeps a rolling total over a fixed age window
type slidingSum struct {
	maxAge time.Duration
	items  []timedValue
	total  float64
}

func newSlidingSum(maxAge time.Duration) *slidingSum {
	return &slidingSum{maxAge: maxAge}
}

// add records a value and returns the total of the window as of at
func (s *slidingSum) add(at time.Time, value float64) float64 {
	s.items = append(s.items, timedValue{at: at, value: value})
	s.total += value
	s.prune(at)
	return s.total
}

func (s *slidingSum) prune(now time.Time) {
	cutoff := now.Add(-s.maxAge)
	for len(s.items) > 0 && s.items[0].at.Before(cutoff) {
		s.total -= s.items[0].value
		s.items = s.items[1:]
	}
}

// rollingStats tracks mean and variance over a fixed age window and scores
// new samples against them
type rollingStats struct {
	maxAge     time.Duration
	minSamples int
	items      []timedValue
	sum        float64
	sumSq      float64
}

func newRollingStats(maxAge time.Duration, minSamples int) *rollingStats {
	return &rollingStats{maxAge: maxAge, minSamples: minSamples}
}

// add records a sample and returns its z-score against the window. The
// score is unavailable until minSamples have accumulated or while the
// window has zero variance.
func (w *rollingStats) add(at time.Time, value float64) (float64, bool) {
	w.items = append(w.items, timedValue{at: at, value: value})
	w.sum += value
	w.sumSq += value * value
	w.prune(at)

	count := len(w.items)
	if count < w.minSamples {
		return 0, false
	}
	mean := w.sum / float64(count)
	variance := w.sumSq/float64(count) - mean*mean
	if variance <= 0 {
		return 0, false
	}
	return (value - mean) / math.Sqrt(variance), true
}

func (w *rollingStats) prune(now time.Time) {
	cutoff := now.Add(-w.maxAge)
	for len(w.items) > 0 && w.items[0].at.Before(cutoff) {
		w.sum -= w.items[0].value
		w.sumSq -= w.items[0].value * w.items[0].value
		w.items = w.items[1:]
	}
}
