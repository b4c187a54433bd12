package syncclient

import "time"

// Reconnect backoff defaults: 2s base, doubling per attempt, capped at 30s,
// giving up after 5 attempts.
const (
	defaultBaseDelay   = 2 * time.Second
	defaultMaxDelay    = 30 * time.Second
	defaultMaxAttempts = 5
)

// backoff computes the reconnect delay schedule. It is a plain value-state
// machine so tests can step it without timers.
type backoff struct {
	base        time.Duration
	max         time.Duration
	maxAttempts int
	attempts    int
}

func newBackoff() *backoff {
	return &backoff{
		base:        defaultBaseDelay,
		max:         defaultMaxDelay,
		maxAttempts: defaultMaxAttempts,
	}
}

// next returns the delay before the following attempt, or false when the
// attempt budget is exhausted. Delays are non-decreasing and capped.
func (b *backoff) next() (time.Duration, bool) {
	if b.attempts >= b.maxAttempts {
		return 0, false
	}
	delay := b.base << b.attempts
	if delay > b.max || delay <= 0 {
		delay = b.max
	}
	b.attempts++
	return delay, true
}

// reset clears the attempt counter, e.g. after a successful open or a manual
// Reconnect call.
func (b *backoff) reset() {
	b.attempts = 0
}

func (b *backoff) attempt() int {
	return b.attempts
}
