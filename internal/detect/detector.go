package detect

import (
	"time"

	"github.com/nerrad567/gray-logic-iobridge/internal/iopoint"
	"github.com/nerrad567/gray-logic-iobridge/internal/registry"
)

// Logger is the logging surface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Metrics receives poll and emission counts. diagnostics.Counters
// implements it.
type Metrics interface {
	PollSucceeded(adapter string)
	PollFailed(adapter, reason string)
	EventEmitted(adapter string)
	InboxDropped(adapter string)
}

type noopMetrics struct{}

func (noopMetrics) PollSucceeded(string)      {}
func (noopMetrics) PollFailed(string, string) {}
func (noopMetrics) EventEmitted(string)       {}
func (noopMetrics) InboxDropped(string)       {}

// BatchSink accepts the observations of one device, in observation order.
type BatchSink interface {
	Deliver(deviceID string, batch []iopoint.Observation)
}

// Detector applies observations to a registry and emits events for the
// points whose raw value changed.
type Detector struct {
	reg     *registry.Registry
	sink    iopoint.EventSink
	metrics Metrics
	logger  Logger
	now     func() time.Time
}

// DetectorOption configures a Detector.
type DetectorOption func(*Detector)

// WithMetrics sets the metrics receiver.
func WithMetrics(m Metrics) DetectorOption {
	return func(d *Detector) {
		if m != nil {
			d.metrics = m
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l Logger) DetectorOption {
	return func(d *Detector) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) DetectorOption {
	return func(d *Detector) { d.now = now }
}

// NewDetector creates a Detector writing to reg and emitting on sink.
func NewDetector(reg *registry.Registry, sink iopoint.EventSink, opts ...DetectorOption) *Detector {
	d := &Detector{
		reg:     reg,
		sink:    sink,
		metrics: noopMetrics{},
		logger:  noopLogger{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Deliver implements BatchSink synchronously. Callers must not deliver for
// the same device from two goroutines at once; use an Inbox for that.
func (d *Detector) Deliver(deviceID string, batch []iopoint.Observation) {
	d.Apply(deviceID, batch)
}

// Apply processes a batch and returns how many events were emitted.
func (d *Detector) Apply(deviceID string, batch []iopoint.Observation) int {
	adapter := d.reg.Adapter()
	emitted := 0

	for _, obs := range batch {
		changed, err := d.reg.Update(deviceID, obs.Point, obs.Raw, obs.Value)
		if err != nil {
			d.logger.Warn("observation rejected",
				"adapter", adapter, "device", deviceID, "point", obs.Point, "error", err)
			continue
		}
		if !changed {
			continue
		}

		kind := obs.Kind
		if kind == "" {
			kind = iopoint.KindFloat
		}
		d.sink.Emit(iopoint.Event{
			Adapter:  adapter,
			DeviceID: deviceID,
			Point:    obs.Point,
			Value:    obs.Value,
			Kind:     kind,
			Mode:     obs.Mode,
			At:       d.now(),
		})
		d.metrics.EventEmitted(adapter)
		emitted++
	}
	return emitted
}
