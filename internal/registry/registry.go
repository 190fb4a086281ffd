// Package registry is the single owner of device connection handles and
// last-known point values for one adapter.
//
// Pollers, decoders and event listeners report through Update; the command
// dispatcher reads through Get and records outbound values with Remember.
// Nothing else holds device state.
package registry

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"sort"
	"sync"

	"github.com/nerrad567/gray-logic-iobridge/internal/iopoint"
)

// Logger defines the logging interface used by the Registry.
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

// Registry holds the devices of one adapter. All methods are safe for
// concurrent use; each device has its own lock so a slow device never
// blocks another.
type Registry struct {
	adapter string

	devices map[string]*entry
	order   []string
	mu      sync.RWMutex

	logger Logger
}

type entry struct {
	id     string
	points []iopoint.Point

	mu     sync.RWMutex
	handle any
	last   map[string]sample
}

// sample is the last value seen for a point. known is false until the
// first observation and again after an outbound command, so the next
// observation is always reported.
type sample struct {
	raw   any
	value float64
	known bool
}

// New creates an empty registry for the named adapter.
func New(adapter string) *Registry {
	return &Registry{
		adapter: adapter,
		devices: make(map[string]*entry),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	r.logger = logger
}

// Adapter returns the adapter name the registry was created for.
func (r *Registry) Adapter() string {
	return r.adapter
}

// Add creates a device entry with its static set of points. The device
// starts without a connection handle.
func (r *Registry) Add(id string, points ...iopoint.Point) error {
	if id == "" {
		return ErrInvalidID
	}
	for _, p := range points {
		if p.Name == "" {
			return fmt.Errorf("%w: empty point name on %s", ErrInvalidID, id)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.devices[id]; exists {
		return fmt.Errorf("%w: %s", ErrDeviceExists, id)
	}

	r.devices[id] = &entry{
		id:     id,
		points: append([]iopoint.Point(nil), points...),
		last:   make(map[string]sample, len(points)),
	}
	r.order = append(r.order, id)
	return nil
}

func (r *Registry) lookup(id string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.devices[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return e, nil
}

// Get returns a read-only snapshot of a device.
func (r *Registry) Get(id string) (View, bool) {
	e, err := r.lookup(id)
	if err != nil {
		return View{}, false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	values := make(map[string]float64, len(e.last))
	for name, s := range e.last {
		values[name] = s.value
	}
	return View{
		ID:        e.id,
		Adapter:   r.adapter,
		Connected: e.handle != nil,
		Handle:    e.handle,
		points:    e.points,
		values:    values,
	}, true
}

// Update records an observed raw value and its canonical form. changed is
// true when raw differs (exactly, by ==) from the previous observation or
// when there was none; only then is the stored sample replaced.
func (r *Registry) Update(id, point string, raw any, value float64) (changed bool, err error) {
	e, err := r.lookup(id)
	if err != nil {
		return false, err
	}
	if raw != nil && !reflect.TypeOf(raw).Comparable() {
		return false, fmt.Errorf("%w: %s/%s (%T)", ErrIncomparable, id, point, raw)
	}
	if !e.hasPoint(point) {
		return false, fmt.Errorf("%w: %s/%s", ErrUnknownPoint, id, point)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	prev, ok := e.last[point]
	if ok && prev.known && prev.raw == raw {
		return false, nil
	}
	e.last[point] = sample{raw: raw, value: value, known: true}
	return true, nil
}

// Remember records the canonical value of an outbound command. The raw
// sample is invalidated so the device's next report is emitted even if it
// matches what was seen before the command.
func (r *Registry) Remember(id, point string, value float64) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}
	if !e.hasPoint(point) {
		return fmt.Errorf("%w: %s/%s", ErrUnknownPoint, id, point)
	}

	e.mu.Lock()
	e.last[point] = sample{value: value}
	e.mu.Unlock()
	return nil
}

// SetHandle stores the device's connection handle, marking it connected.
// A previous handle implementing io.Closer is closed.
func (r *Registry) SetHandle(id string, handle any) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	prev := e.handle
	e.handle = handle
	e.mu.Unlock()

	if prev != nil && prev != handle {
		closeHandle(prev, r.logger, id)
	}
	if handle != nil {
		r.logger.Info("device connected", "adapter", r.adapter, "device", id)
	}
	return nil
}

// ClearHandle marks the device disconnected and returns the handle it held,
// without closing it.
func (r *Registry) ClearHandle(id string) (any, error) {
	e, err := r.lookup(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	prev := e.handle
	e.handle = nil
	e.mu.Unlock()

	if prev != nil {
		r.logger.Warn("device disconnected", "adapter", r.adapter, "device", id)
	}
	return prev, nil
}

// Handle returns the device's connection handle; ok is false while the
// device is unknown or still connecting.
func (r *Registry) Handle(id string) (any, bool) {
	e, err := r.lookup(id)
	if err != nil {
		return nil, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.handle, e.handle != nil
}

// IDs returns device ids in insertion order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Registration is one (device, point, direction) triple, with the point's
// value kind.
type Registration struct {
	DeviceID  string
	Point     string
	Direction iopoint.Direction
	Kind      iopoint.ValueKind
}

// Registrations lists every declared point, ordered by device then point.
func (r *Registry) Registrations() []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Registration
	for _, id := range r.order {
		e := r.devices[id]
		pts := append([]iopoint.Point(nil), e.points...)
		sort.Slice(pts, func(i, j int) bool { return pts[i].Name < pts[j].Name })
		for _, p := range pts {
			dir := p.Direction
			if dir == "" {
				dir = iopoint.DirectionDefault
			}
			kind := p.Kind
			if kind == "" {
				kind = iopoint.KindFloat
			}
			out = append(out, Registration{DeviceID: id, Point: p.Name, Direction: dir, Kind: kind})
		}
	}
	return out
}

// Close releases every connection handle that implements io.Closer.
func (r *Registry) Close() error {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.order))
	for _, id := range r.order {
		entries = append(entries, r.devices[id])
	}
	r.mu.RUnlock()

	var errs []error
	for _, e := range entries {
		e.mu.Lock()
		h := e.handle
		e.handle = nil
		e.mu.Unlock()

		if c, ok := h.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing %s: %w", e.id, err))
			}
		}
	}
	return errors.Join(errs...)
}

func (e *entry) hasPoint(name string) bool {
	for _, p := range e.points {
		if p.Name == name {
			return true
		}
	}
	return false
}

func closeHandle(h any, logger Logger, id string) {
	if c, ok := h.(io.Closer); ok {
		if err := c.Close(); err != nil {
			logger.Warn("closing replaced handle failed", "device", id, "error", err)
		}
	}
}
