// Package adapters builds the configured device adapters.
package adapters

import (
	"errors"
	"fmt"
	"sync"

	"github.com/nerrad567/gray-logic-iobridge/internal/adapters/base"
	"github.com/nerrad567/gray-logic-iobridge/internal/adapters/hue"
	"github.com/nerrad567/gray-logic-iobridge/internal/adapters/knob"
	"github.com/nerrad567/gray-logic-iobridge/internal/adapters/kodi"
	"github.com/nerrad567/gray-logic-iobridge/internal/adapters/mpd"
	"github.com/nerrad567/gray-logic-iobridge/internal/adapters/pswitch"
	"github.com/nerrad567/gray-logic-iobridge/internal/bridge"
	"github.com/nerrad567/gray-logic-iobridge/internal/gpio"
	"github.com/nerrad567/gray-logic-iobridge/internal/infrastructure/config"
)

// OpenGPIOFunc opens the driver for a backend name.
type OpenGPIOFunc func(backend string) (gpio.Driver, error)

// GPIO hands out one driver per backend, shared by every GPIO adapter.
type GPIO struct {
	open OpenGPIOFunc

	mu      sync.Mutex
	drivers map[string]gpio.Driver
}

// NewGPIO creates a driver pool. A nil open uses gpio.Open with logger.
func NewGPIO(open OpenGPIOFunc, logger gpio.Logger) *GPIO {
	if open == nil {
		open = func(backend string) (gpio.Driver, error) {
			return gpio.Open(backend, logger)
		}
	}
	return &GPIO{open: open, drivers: make(map[string]gpio.Driver)}
}

// Driver returns the driver for backend, opening it on first use.
func (g *GPIO) Driver(backend string) (gpio.Driver, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if d, ok := g.drivers[backend]; ok {
		return d, nil
	}
	d, err := g.open(backend)
	if err != nil {
		return nil, err
	}
	g.drivers[backend] = d
	return d, nil
}

// Close closes every driver opened so far.
func (g *GPIO) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	var errs []error
	for name, d := range g.drivers {
		if err := d.Close(); err != nil {
			errs = append(errs, fmt.Errorf("gpio %s: %w", name, err))
		}
		delete(g.drivers, name)
	}
	return errors.Join(errs...)
}

// Build creates one adapter per configuration entry, in order. An invalid
// range or unknown type fails the whole build.
func Build(cfgs []config.AdapterConfig, deps base.Deps, pins *GPIO) ([]bridge.Adapter, error) {
	out := make([]bridge.Adapter, 0, len(cfgs))
	for _, cfg := range cfgs {
		a, err := build(cfg, deps, pins)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func build(cfg config.AdapterConfig, deps base.Deps, pins *GPIO) (bridge.Adapter, error) {
	switch cfg.Type {
	case config.AdapterHue:
		return hue.New(cfg, deps)
	case config.AdapterKodi:
		return kodi.New(cfg, deps)
	case config.AdapterMPD:
		return mpd.New(cfg, deps)
	case config.AdapterKnob, config.AdapterSwitch:
		if pins == nil {
			return nil, fmt.Errorf("adapter %s: gpio is not available", cfg.Name)
		}
		drv, err := pins.Driver(cfg.GPIO)
		if err != nil {
			return nil, fmt.Errorf("adapter %s: %w", cfg.Name, err)
		}
		if cfg.Type == config.AdapterKnob {
			return knob.New(cfg, drv, deps)
		}
		return pswitch.New(cfg, drv, deps)
	}
	return nil, fmt.Errorf("adapter %s: unknown type %q", cfg.Name, cfg.Type)
}
