// Package pswitch reads two-button wall switches wired to GPIO pins: one
// button turns the switch point on, the other turns it off. Buttons pull
// the pin low when pressed.
package pswitch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nerrad567/gray-logic-iobridge/internal/adapters/base"
	"github.com/nerrad567/gray-logic-iobridge/internal/gpio"
	"github.com/nerrad567/gray-logic-iobridge/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-iobridge/internal/iopoint"
	"github.com/nerrad567/gray-logic-iobridge/internal/registry"
	"github.com/nerrad567/gray-logic-iobridge/internal/valuemap"
)

// PointSwitch is the only point of a switch.
const PointSwitch = "switch"

var errPinsReleased = errors.New("switch: pins released")

type buttons struct {
	on, off gpio.Pin
}

func (b *buttons) Close() error {
	return errors.Join(b.on.Close(), b.off.Close())
}

// Adapter serves the configured switches.
type Adapter struct {
	*base.Base

	devices   []config.DeviceConfig
	driver    gpio.Driver
	reconnect base.Backoff
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithReconnect sets the backoff used after the pins fail.
func WithReconnect(b base.Backoff) Option {
	return func(a *Adapter) { a.reconnect = b }
}

// New creates the adapter on a shared driver.
func New(cfg config.AdapterConfig, driver gpio.Driver, deps base.Deps, opts ...Option) (*Adapter, error) {
	if driver == nil {
		return nil, fmt.Errorf("switch adapter %s: no gpio driver", cfg.Name)
	}
	a := &Adapter{
		Base:    base.New(cfg.Name, deps),
		devices: cfg.Devices,
		driver:  driver,
	}
	for _, opt := range opts {
		opt(a)
	}

	for _, d := range cfg.Devices {
		if d.Pins.On == d.Pins.Off {
			return nil, fmt.Errorf("switch adapter %s: device %s uses pin %d for both buttons", cfg.Name, d.ID, d.Pins.On)
		}
		if err := a.Registry().Add(d.ID, iopoint.Point{Name: PointSwitch, Kind: iopoint.KindDiscrete}); err != nil {
			return nil, fmt.Errorf("switch adapter %s: %w", cfg.Name, err)
		}
	}

	// Nothing to drive; accepting the command lets the dispatcher record it.
	accept := func(context.Context, registry.View, iopoint.Command) error { return nil }
	a.Dispatcher().Handle(PointSwitch, iopoint.ModeAbsolute, accept)
	a.Dispatcher().Handle(PointSwitch, iopoint.ModeDiscrete, accept)
	return a, nil
}

// Run watches every switch until ctx is cancelled.
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

func (a *Adapter) session(ctx context.Context, d config.DeviceConfig) error {
	on, err := a.driver.Open(d.Pins.On, gpio.PullUp)
	if err != nil {
		return err
	}
	off, err := a.driver.Open(d.Pins.Off, gpio.PullUp)
	if err != nil {
		_ = on.Close()
		return err
	}
	b := &buttons{on: on, off: off}
	defer func() {
		_, _ = a.Registry().ClearHandle(d.ID)
		_ = b.Close()
	}()
	if err := a.Registry().SetHandle(d.ID, b); err != nil {
		return err
	}

	edges, errs := gpio.WatchAll(ctx, on, off)
	for e := range edges {
		if e.Level != gpio.Low {
			continue
		}
		pressed := e.Pin == d.Pins.On
		a.Detector().Deliver(d.ID, []iopoint.Observation{{
			Point: PointSwitch,
			Raw:   pressed,
			Value: valuemap.Bool(pressed),
			Kind:  iopoint.KindDiscrete,
		}})
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
