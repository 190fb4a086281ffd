package base

import (
	"context"
	"time"
)

const (
	// DefaultReconnectInterval is the first delay after a failed session.
	DefaultReconnectInterval = time.Second

	// DefaultMaxReconnectInterval caps the delay between attempts.
	DefaultMaxReconnectInterval = 30 * time.Second

	// stableSession is how long a session must last for the next failure
	// to start again from the initial delay.
	stableSession = 30 * time.Second
)

// Backoff grows the delay between reconnection attempts by half each time,
// up to Max.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration

	current time.Duration
}

// Next returns the delay to wait before the next attempt.
func (b *Backoff) Next() time.Duration {
	if b.Initial <= 0 {
		b.Initial = DefaultReconnectInterval
	}
	if b.Max < b.Initial {
		b.Max = DefaultMaxReconnectInterval
		if b.Max < b.Initial {
			b.Max = b.Initial
		}
	}
	if b.current == 0 {
		b.current = b.Initial
		return b.current
	}
	b.current = time.Duration(float64(b.current) * 1.5)
	if b.current > b.Max {
		b.current = b.Max
	}
	return b.current
}

// Reset starts the sequence again from Initial.
func (b *Backoff) Reset() {
	b.current = 0
}

// SessionFunc connects to a device and serves it until the connection is
// lost or ctx is cancelled.
type SessionFunc func(ctx context.Context) error

// Supervise runs session until ctx is cancelled, waiting with backoff
// between failed sessions. It returns when ctx is done.
func Supervise(ctx context.Context, logger Logger, adapter, device string, backoff Backoff, session SessionFunc) {
	if logger == nil {
		logger = noopLogger{}
	}

	for attempt := 1; ; attempt++ {
		started := time.Now()
		err := session(ctx)
		if ctx.Err() != nil {
			return
		}
		if time.Since(started) >= stableSession {
			backoff.Reset()
			attempt = 1
		}

		wait := backoff.Next()
		logger.Warn("device session ended, reconnecting",
			"adapter", adapter, "device", device, "attempt", attempt,
			"backoff", wait.String(), "error", err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
