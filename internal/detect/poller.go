package detect

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-iobridge/internal/iopoint"
)

// FetchFunc reads a device's current state. Returned observations must be in
// payload order. Errors should be *iopoint.TransportError or
// *iopoint.MalformedResponseError.
type FetchFunc func(ctx context.Context) ([]iopoint.Observation, error)

// PollConfig sets the poll cadence. Each delay is Interval ± Jitter*Interval,
// drawn uniformly.
type PollConfig struct {
	Interval time.Duration
	Jitter   float64
	Timeout  time.Duration
}

// Poller samples one device on a jittered interval.
type Poller struct {
	adapter  string
	deviceID string
	cfg      PollConfig
	fetch    FetchFunc
	sink     BatchSink
	metrics  Metrics
	logger   Logger

	rngMu sync.Mutex
	rng   *rand.Rand
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// PollWithMetrics sets the metrics receiver.
func PollWithMetrics(m Metrics) PollerOption {
	return func(p *Poller) {
		if m != nil {
			p.metrics = m
		}
	}
}

// PollWithLogger sets the logger.
func PollWithLogger(l Logger) PollerOption {
	return func(p *Poller) {
		if l != nil {
			p.logger = l
		}
	}
}

// PollWithSeed makes the jitter sequence deterministic.
func PollWithSeed(seed uint64) PollerOption {
	return func(p *Poller) { p.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

// NewPoller validates cfg and creates a poller for one device.
func NewPoller(adapter, deviceID string, cfg PollConfig, fetch FetchFunc, sink BatchSink, opts ...PollerOption) (*Poller, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("detect: poll interval must be positive, got %v", cfg.Interval)
	}
	if cfg.Jitter < 0 || cfg.Jitter >= 1 {
		return nil, fmt.Errorf("detect: jitter must be in [0,1), got %v", cfg.Jitter)
	}
	if fetch == nil || sink == nil {
		return nil, errors.New("detect: fetch and sink are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = cfg.Interval
	}

	p := &Poller{
		adapter:  adapter,
		deviceID: deviceID,
		cfg:      cfg,
		fetch:    fetch,
		sink:     sink,
		metrics:  noopMetrics{},
		logger:   noopLogger{},
		rng:      rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// NextDelay draws the wait before the next cycle.
func (p *Poller) NextDelay() time.Duration {
	if p.cfg.Jitter == 0 {
		return p.cfg.Interval
	}
	p.rngMu.Lock()
	offset := (p.rng.Float64()*2 - 1) * p.cfg.Jitter
	p.rngMu.Unlock()
	return time.Duration(float64(p.cfg.Interval) * (1 + offset))
}

// PollOnce runs one fetch bounded by the poll timeout. On success the
// observations go to the sink; on failure nothing is delivered and the
// error is returned after being logged and counted.
func (p *Poller) PollOnce(ctx context.Context) error {
	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	obs, err := p.fetch(fetchCtx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		reason := failureReason(err)
		p.metrics.PollFailed(p.adapter, reason)
		p.logger.Warn("poll failed",
			"adapter", p.adapter, "device", p.deviceID, "reason", reason, "error", err)
		return err
	}

	p.metrics.PollSucceeded(p.adapter)
	if len(obs) > 0 {
		p.sink.Deliver(p.deviceID, obs)
	}
	return nil
}

// Run polls until ctx is cancelled. Cycles are scheduled from their start
// time, so a slow or failed fetch does not push later cycles back beyond
// the fetch itself.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Debug("poller started", "adapter", p.adapter, "device", p.deviceID, "interval", p.cfg.Interval)

	timer := time.NewTimer(p.NextDelay())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		started := time.Now()
		_ = p.PollOnce(ctx) //nolint:errcheck // logged and counted in PollOnce

		wait := p.NextDelay() - time.Since(started)
		if wait < 0 {
			wait = 0
		}
		timer.Reset(wait)
	}
}

func failureReason(err error) string {
	var te *iopoint.TransportError
	var me *iopoint.MalformedResponseError
	switch {
	case errors.As(err, &me):
		return "malformed"
	case errors.As(err, &te):
		return "transport"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "other"
	}
}
