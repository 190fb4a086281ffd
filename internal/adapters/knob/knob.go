// Package knob reads rotary encoders with a push button wired to GPIO
// pins.
//
// Rotation is reported on the position point, either as the absolute
// position or, with output "relative", as one increase/decrease step per
// detent. Pressing the button toggles the switch point.
package knob

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-iobridge/internal/adapters/base"
	"github.com/nerrad567/gray-logic-iobridge/internal/gpio"
	"github.com/nerrad567/gray-logic-iobridge/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-iobridge/internal/iopoint"
	"github.com/nerrad567/gray-logic-iobridge/internal/quadrature"
	"github.com/nerrad567/gray-logic-iobridge/internal/registry"
	"github.com/nerrad567/gray-logic-iobridge/internal/valuemap"
)

// Point names.
const (
	PointPosition = "position"
	PointSwitch   = "switch"
)

// Output modes.
const (
	OutputAbsolute = "absolute"
	OutputRelative = "relative"
)

// DefaultDebounce is the minimum time between two accepted button presses.
const DefaultDebounce = 50 * time.Millisecond

var errPinsReleased = errors.New("knob: pins released")

// knob is the registry handle of one encoder.
type knob struct {
	decoder *quadrature.Decoder
	a, b    gpio.Pin
	button  gpio.Pin
}

func (k *knob) Close() error {
	return errors.Join(k.a.Close(), k.b.Close(), k.button.Close())
}

// Adapter serves the configured knobs.
type Adapter struct {
	*base.Base

	devices   []config.DeviceConfig
	driver    gpio.Driver
	relative  bool
	debounce  time.Duration
	reconnect base.Backoff
	now       func() time.Time
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) Option {
	return func(a *Adapter) {
		if d >= 0 {
			a.debounce = d
		}
	}
}

// WithReconnect sets the backoff used after the pins fail.
func WithReconnect(b base.Backoff) Option {
	return func(a *Adapter) { a.reconnect = b }
}

// New creates the adapter. The driver is shared with other GPIO adapters
// and is not closed by this one.
func New(cfg config.AdapterConfig, driver gpio.Driver, deps base.Deps, opts ...Option) (*Adapter, error) {
	if driver == nil {
		return nil, fmt.Errorf("knob adapter %s: no gpio driver", cfg.Name)
	}
	switch cfg.Output {
	case "", OutputAbsolute, OutputRelative:
	default:
		return nil, fmt.Errorf("knob adapter %s: unknown output %q", cfg.Name, cfg.Output)
	}

	a := &Adapter{
		Base:     base.New(cfg.Name, deps),
		devices:  cfg.Devices,
		driver:   driver,
		relative: cfg.Output == OutputRelative,
		debounce: DefaultDebounce,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}

	for _, d := range cfg.Devices {
		if err := a.Registry().Add(d.ID,
			iopoint.Point{Name: PointPosition},
			iopoint.Point{Name: PointSwitch, Kind: iopoint.KindDiscrete},
		); err != nil {
			return nil, fmt.Errorf("knob adapter %s: %w", cfg.Name, err)
		}
	}
	a.registerHandlers()
	return a, nil
}

// Run watches every knob until ctx is cancelled.
func (a *Adapter) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, d := range a.devices {
		wg.Add(1)
		go func() {
			defer wg.Done()
			base.Supervise(ctx, a.Logger, a.Name(), d.ID, a.reconnect, func(ctx context.Context) error {
				return a.session(ctx, d)
			})
		}()
	}
	wg.Wait()
	return nil
}

func (a *Adapter) open(d config.DeviceConfig) (*knob, error) {
	dec, err := quadrature.New(quadrature.Config{
		StepSize:          d.StepSize,
		QuartersPerDetent: d.QuartersPerDetent,
	})
	if err != nil {
		return nil, err
	}

	var opened []gpio.Pin
	pin := func(n int) (gpio.Pin, error) {
		p, err := a.driver.Open(n, gpio.PullUp)
		if err != nil {
			for _, o := range opened {
				_ = o.Close()
			}
			return nil, err
		}
		opened = append(opened, p)
		return p, nil
	}

	k := &knob{decoder: dec}
	if k.a, err = pin(d.Pins.A); err != nil {
		return nil, err
	}
	if k.b, err = pin(d.Pins.B); err != nil {
		return nil, err
	}
	if k.button, err = pin(d.Pins.Button); err != nil {
		return nil, err
	}
	return k, nil
}

// state is what the edge loop of one knob tracks between edges.
type state struct {
	id        string
	k         *knob
	a, b      gpio.Level
	lastPress time.Time
	seq       uint64
}

func (a *Adapter) session(ctx context.Context, d config.DeviceConfig) error {
	k, err := a.open(d)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = a.Registry().ClearHandle(d.ID)
		_ = k.Close()
	}()

	st := &state{id: d.ID, k: k}
	if st.a, err = k.a.Read(); err != nil {
		return err
	}
	if st.b, err = k.b.Read(); err != nil {
		return err
	}
	k.decoder.Seed(bool(st.a), bool(st.b))

	// Keep the position across reconnects.
	if v, ok := a.position(d.ID); ok {
		k.decoder.SetPosition(v)
	}
	if err := a.Registry().SetHandle(d.ID, k); err != nil {
		return err
	}

	edges, errs := gpio.WatchAll(ctx, k.a, k.b, k.button)
	for e := range edges {
		if obs, ok := a.edge(st, e); ok {
			a.Detector().Deliver(d.ID, []iopoint.Observation{obs})
		}
	}

	select {
	case err := <-errs:
		return err
	default:
	}
	if ctx.Err() != nil {
		return nil
	}
	return errPinsReleased
}

func (a *Adapter) position(id string) (float64, bool) {
	if a.relative {
		return 0, false
	}
	view, ok := a.Registry().Get(id)
	if !ok {
		return 0, false
	}
	return view.Value(PointPosition)
}

// edge applies one level change and returns the observation it produces.
func (a *Adapter) edge(st *state, e gpio.Edge) (iopoint.Observation, bool) {
	switch e.Pin {
	case st.k.a.Number():
		st.a = e.Level
	case st.k.b.Number():
		st.b = e.Level
	case st.k.button.Number():
		return a.press(st, e.Level)
	default:
		return iopoint.Observation{}, false
	}

	step, ok := st.k.decoder.Update(bool(st.a), bool(st.b))
	if !ok {
		return iopoint.Observation{}, false
	}
	if !a.relative {
		return iopoint.Observation{Point: PointPosition, Raw: step.Position, Value: step.Position}, true
	}

	st.seq++
	mode := iopoint.ModeIncrease
	if step.Direction == quadrature.CounterClockwise {
		mode = iopoint.ModeDecrease
	}
	return iopoint.Observation{
		Point: PointPosition,
		Raw:   st.seq,
		Value: math.Abs(step.Delta),
		Mode:  mode,
	}, true
}

// press toggles the switch on a falling edge of the pulled-up button.
func (a *Adapter) press(st *state, level gpio.Level) (iopoint.Observation, bool) {
	if level != gpio.Low {
		return iopoint.Observation{}, false
	}
	now := a.now()
	if !st.lastPress.IsZero() && now.Sub(st.lastPress) < a.debounce {
		return iopoint.Observation{}, false
	}
	st.lastPress = now

	current := 0.0
	if view, ok := a.Registry().Get(st.id); ok {
		current, _ = view.Value(PointSwitch)
	}
	on := !valuemap.Discrete(current)
	return iopoint.Observation{Point: PointSwitch, Raw: on, Value: valuemap.Bool(on), Kind: iopoint.KindDiscrete}, true
}

func (a *Adapter) registerHandlers() {
	disp := a.Dispatcher()

	disp.Handle(PointPosition, iopoint.ModeAbsolute, func(_ context.Context, dev registry.View, cmd iopoint.Command) error {
		k, ok := dev.Handle.(*knob)
		if !ok {
			return fmt.Errorf("knob: device %s has no pins", dev.ID)
		}
		k.decoder.SetPosition(cmd.Value)
		return nil
	})

	// The switch has no actuator; the dispatcher remembers the commanded
	// value so the next press toggles from it.
	accept := func(context.Context, registry.View, iopoint.Command) error { return nil }
	disp.Handle(PointSwitch, iopoint.ModeAbsolute, accept)
	disp.Handle(PointSwitch, iopoint.ModeDiscrete, accept)
}
