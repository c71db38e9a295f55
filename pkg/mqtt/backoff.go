package mqtt

import "time"

// Backoff produces reconnect delays that double from a floor up to a
// ceiling, then hold at the ceiling until reset.
type Backoff struct {
	floor   time.Duration
	ceiling time.Duration
	next    time.Duration
}

// NewBackoff creates a Backoff starting at floor and capped at ceiling.
func NewBackoff(floor, ceiling time.Duration) *Backoff {
	if floor <= 0 {
		floor = time.Second
	}
	if ceiling < floor {
		ceiling = floor
	}
	return &Backoff{
		floor:   floor,
		ceiling: ceiling,
		next:    floor,
	}
}

// Next returns the delay to wait before the next connection attempt and
// advances the sequence.
func (b *Backoff) Next() time.Duration {
	delay := b.next

	b.next *= 2
	if b.next > b.ceiling {
		b.next = b.ceiling
	}

	return delay
}

// Reset returns the sequence to the floor delay. Called after a connection
// has stayed up past the stability threshold.
func (b *Backoff) Reset() {
	b.next = b.floor
}
