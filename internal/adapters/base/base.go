// Package base holds what every device adapter shares: the registry,
// detector and dispatcher trio, range configuration and the reconnect
// loop.
package base

import (
	"github.com/nerrad567/gray-logic-iobridge/internal/detect"
	"github.com/nerrad567/gray-logic-iobridge/internal/dispatch"
	"github.com/nerrad567/gray-logic-iobridge/internal/iopoint"
	"github.com/nerrad567/gray-logic-iobridge/internal/registry"
)

// Logger is the logging surface adapters use.
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

// Metrics is everything an adapter counts. diagnostics.Counters
// implements it.
type Metrics interface {
	detect.Metrics
	dispatch.Metrics
}

type noopMetrics struct{}

func (noopMetrics) PollSucceeded(string)          {}
func (noopMetrics) PollFailed(string, string)     {}
func (noopMetrics) EventEmitted(string)           {}
func (noopMetrics) InboxDropped(string)           {}
func (noopMetrics) CommandHandled(string)         {}
func (noopMetrics) CommandFailed(string)          {}
func (noopMetrics) CommandDropped(string, string) {}

// Deps are the collaborators handed to every adapter.
type Deps struct {
	Sink    iopoint.EventSink
	Metrics Metrics
	Logger  Logger
}

// Base wires one adapter's registry, detector and dispatcher.
type Base struct {
	name string

	reg  *registry.Registry
	det  *detect.Detector
	disp *dispatch.Dispatcher

	Logger  Logger
	Metrics Metrics
}

// New creates the shared parts of an adapter called name.
func New(name string, deps Deps) *Base {
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	sink := deps.Sink
	if sink == nil {
		sink = iopoint.Fanout(nil)
	}

	reg := registry.New(name)
	reg.SetLogger(logger)

	return &Base{
		name:    name,
		reg:     reg,
		det:     detect.NewDetector(reg, sink, detect.WithMetrics(metrics), detect.WithLogger(logger)),
		disp:    dispatch.New(reg, dispatch.WithMetrics(metrics), dispatch.WithLogger(logger)),
		Logger:  logger,
		Metrics: metrics,
	}
}

// Name returns the adapter name.
func (b *Base) Name() string { return b.name }

// Registry returns the adapter's device registry.
func (b *Base) Registry() *registry.Registry { return b.reg }

// Dispatcher returns the adapter's command dispatcher.
func (b *Base) Dispatcher() *dispatch.Dispatcher { return b.disp }

// Detector returns the adapter's change detector.
func (b *Base) Detector() *detect.Detector { return b.det }

// Inbox creates a per-device inbox feeding the detector.
func (b *Base) Inbox() *detect.Inbox {
	return detect.NewInbox(b.name, b.det, 0, b.Metrics)
}

// Poller creates a poller for one device, delivering to sink.
func (b *Base) Poller(deviceID string, cfg detect.PollConfig, fetch detect.FetchFunc, sink detect.BatchSink) (*detect.Poller, error) {
	return detect.NewPoller(b.name, deviceID, cfg, fetch, sink,
		detect.PollWithMetrics(b.Metrics), detect.PollWithLogger(b.Logger))
}
