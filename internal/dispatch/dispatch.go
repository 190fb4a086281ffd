package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-iobridge/internal/iopoint"
	"github.com/nerrad567/gray-logic-iobridge/internal/registry"
	"github.com/nerrad567/gray-logic-iobridge/internal/valuemap"
)

// DefaultCommandTimeout bounds a single handler invocation.
const DefaultCommandTimeout = 5 * time.Second

// ErrClosed is returned by Dispatch after Close.
var ErrClosed = errors.New("dispatch: dispatcher closed")

// Handler performs one command against a connected device. cmd.Value is
// already resolved to an absolute canonical value for relative modes.
type Handler func(ctx context.Context, dev registry.View, cmd iopoint.Command) error

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

// Metrics receives command outcomes. diagnostics.Counters implements it.
type Metrics interface {
	CommandHandled(adapter string)
	CommandFailed(adapter string)
	CommandDropped(adapter, reason string)
}

type noopMetrics struct{}

func (noopMetrics) CommandHandled(string)         {}
func (noopMetrics) CommandFailed(string)          {}
func (noopMetrics) CommandDropped(string, string) {}

type key struct {
	point string
	mode  iopoint.Mode
}

// Dispatcher routes commands for the devices of one registry.
type Dispatcher struct {
	reg     *registry.Registry
	adapter string
	timeout time.Duration
	metrics Metrics
	logger  Logger

	handlersMu sync.RWMutex
	handlers   map[key]Handler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed chan struct{}
	once   sync.Once
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMetrics sets the metrics receiver.
func WithMetrics(m Metrics) Option {
	return func(d *Dispatcher) {
		if m != nil {
			d.metrics = m
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithTimeout overrides DefaultCommandTimeout.
func WithTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.timeout = t
		}
	}
}

// New creates a dispatcher for the devices in reg.
func New(reg *registry.Registry, opts ...Option) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		reg:      reg,
		adapter:  reg.Adapter(),
		timeout:  DefaultCommandTimeout,
		metrics:  noopMetrics{},
		logger:   noopLogger{},
		handlers: make(map[key]Handler),
		ctx:      ctx,
		cancel:   cancel,
		closed:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Handle registers h for commands on point with the given mode, replacing
// any previous handler.
func (d *Dispatcher) Handle(point string, mode iopoint.Mode, h Handler) {
	d.handlersMu.Lock()
	d.handlers[key{point, mode}] = h
	d.handlersMu.Unlock()
}

// Adapter returns the adapter name the dispatcher serves.
func (d *Dispatcher) Adapter() string {
	return d.adapter
}

func (d *Dispatcher) lookup(point string, mode iopoint.Mode) (Handler, iopoint.Mode, bool) {
	d.handlersMu.RLock()
	defer d.handlersMu.RUnlock()

	if h, ok := d.handlers[key{point, mode}]; ok {
		return h, mode, true
	}
	if mode.Relative() {
		if h, ok := d.handlers[key{point, iopoint.ModeAbsolute}]; ok {
			return h, iopoint.ModeAbsolute, true
		}
	}
	return nil, "", false
}

// Dispatch validates cmd and starts its handler. It returns once the
// handler has been started; the returned error only describes why a
// command was dropped, and is already counted and logged.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd iopoint.Command) error {
	select {
	case <-d.closed:
		return ErrClosed
	default:
	}

	dev, ok := d.reg.Get(cmd.DeviceID)
	if !ok {
		return d.drop(cmd, iopoint.ReasonUnknownDevice)
	}
	if !dev.Connected {
		return d.drop(cmd, iopoint.ReasonNotConnected)
	}
	if p, ok := dev.Point(cmd.Point); !ok || p.Direction == iopoint.DirectionOutput {
		return d.drop(cmd, iopoint.ReasonUnmapped)
	}

	h, via, ok := d.lookup(cmd.Point, cmd.Mode)
	if !ok {
		return d.drop(cmd, iopoint.ReasonUnmapped)
	}

	resolved := cmd
	if cmd.Mode.Relative() && via == iopoint.ModeAbsolute {
		current, _ := dev.Value(cmd.Point)
		resolved.Value = valuemap.ApplyMode(current, cmd.Value, cmd.Mode)
		resolved.Mode = iopoint.ModeAbsolute
	}
	resolved.Value = valuemap.Clamp(resolved.Value)
	if err := d.reg.Remember(cmd.DeviceID, cmd.Point, resolved.Value); err != nil {
		d.logger.Warn("remember command value", "adapter", d.adapter, "device", cmd.DeviceID, "error", err)
	}

	d.wg.Add(1)
	go d.run(ctx, h, dev, resolved)
	return nil
}

func (d *Dispatcher) run(parent context.Context, h Handler, dev registry.View, cmd iopoint.Command) {
	defer d.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			d.metrics.CommandFailed(d.adapter)
			d.logger.Error("command handler panicked",
				"adapter", d.adapter, "device", cmd.DeviceID, "point", cmd.Point, "panic", fmt.Sprint(r))
		}
	}()

	ctx, cancel := context.WithTimeout(d.ctx, d.timeout)
	defer cancel()
	stop := context.AfterFunc(parent, cancel)
	defer stop()

	if err := h(ctx, dev, cmd); err != nil {
		d.metrics.CommandFailed(d.adapter)
		d.logger.Warn("command failed",
			"adapter", d.adapter, "device", cmd.DeviceID, "point", cmd.Point,
			"mode", string(cmd.Mode), "error", err)
		return
	}
	d.metrics.CommandHandled(d.adapter)
	d.logger.Debug("command handled",
		"adapter", d.adapter, "device", cmd.DeviceID, "point", cmd.Point, "value", cmd.Value)
}

func (d *Dispatcher) drop(cmd iopoint.Command, reason string) error {
	d.metrics.CommandDropped(d.adapter, reason)
	err := &iopoint.UnknownCommandError{
		DeviceID: cmd.DeviceID,
		Point:    cmd.Point,
		Mode:     cmd.Mode,
		Reason:   reason,
	}
	d.logger.Debug("command dropped", "adapter", d.adapter, "error", err)
	return err
}

// Wait blocks until every started handler has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Close stops accepting commands, cancels running handlers and waits for
// them to return.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		close(d.closed)
		d.cancel()
		d.wg.Wait()
	})
}
