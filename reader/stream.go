// Package reader defines the capability shared by all venue connectors.
// Each venue implements one Stream per ingestion mode (order-book push,
// trade push, REST polling); failures stay isolated per stream.
package reader

import (
	"context"
	"time"
)

// Stream is one venue connector in one ingestion mode. Start launches the
// stream's goroutines and returns; Stop waits for them to finish.
type Stream interface {
	Start(ctx context.Context) error
	Stop()
}

// Backoff produces reconnect delays doubling from min up to a cap. Not
// safe for concurrent use; each stream owns its own.
type Backoff struct {
	min     time.Duration
	max     time.Duration
	current time.Duration
}

func NewBackoff(min, max time.Duration) *Backoff {
	if min <= 0 {
		min = time.Second
	}
	if max < min {
		max = min
	}
	return &Backoff{min: min, max: max, current: min}
}

// Next returns the delay to wait before the next attempt and doubles the
// internal delay, capped at the maximum.
func (b *Backoff) Next() time.Duration {
	d := b.current
	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}
	return d
}

// Reset restores the delay to the minimum after a successful connection.
func (b *Backoff) Reset() {
	b.current = b.min
}

// Sleep waits for the given duration or until the context is cancelled.
// It reports false when the context ended first.
func Sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
