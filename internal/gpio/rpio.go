package gpio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/stianeikeland/go-rpio/v4"
)

// DefaultSampleInterval is how often the rpio backend checks for edges.
const DefaultSampleInterval = time.Millisecond

// RPIO drives pins through the memory-mapped GPIO registers. The mapping
// is process-wide, so only one RPIO driver should be open at a time.
type RPIO struct {
	interval time.Duration
	logger   Logger

	mu     sync.Mutex
	mapped bool
	pins   map[int]*rpioPin
	closed bool
}

// NewRPIO creates an rpio driver. The registers are mapped on the first
// Open. interval <= 0 selects DefaultSampleInterval.
func NewRPIO(interval time.Duration, logger Logger) *RPIO {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &RPIO{
		interval: interval,
		logger:   logger,
		pins:     make(map[int]*rpioPin),
	}
}

// Open configures the pin as an input with the requested pull resistor
// and enables edge detection on both edges.
func (r *RPIO) Open(number int, pull Pull) (Pin, error) {
	if err := validPin(number); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}
	if _, busy := r.pins[number]; busy {
		return nil, fmt.Errorf("%w: %d", ErrPinBusy, number)
	}
	if !r.mapped {
		if err := rpio.Open(); err != nil {
			return nil, fmt.Errorf("mapping gpio registers: %w", err)
		}
		r.mapped = true
	}

	pin := rpio.Pin(number)
	pin.Input()
	switch pull {
	case PullUp:
		pin.PullUp()
	case PullDown:
		pin.PullDown()
	default:
		pin.PullOff()
	}
	pin.Detect(rpio.AnyEdge)

	p := &rpioPin{
		driver: r,
		pin:    pin,
		done:   make(chan struct{}),
	}
	r.pins[number] = p
	r.logger.Debug("gpio pin opened", "pin", number, "backend", BackendRPIO)
	return p, nil
}

// Close releases every pin and unmaps the registers.
func (r *RPIO) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	pins := make([]*rpioPin, 0, len(r.pins))
	for _, p := range r.pins {
		pins = append(pins, p)
	}
	mapped := r.mapped
	r.mu.Unlock()

	var errs []error
	for _, p := range pins {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if mapped {
		if err := rpio.Close(); err != nil {
			errs = append(errs, fmt.Errorf("unmapping gpio registers: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (r *RPIO) release(number int) {
	r.mu.Lock()
	delete(r.pins, number)
	r.mu.Unlock()
}

type rpioPin struct {
	driver *RPIO
	pin    rpio.Pin

	done     chan struct{}
	once     sync.Once
	watchers sync.WaitGroup
}

func (p *rpioPin) Number() int { return int(p.pin) }

func (p *rpioPin) Read() (Level, error) {
	return p.pin.Read() == rpio.High, nil
}

// Watch samples the edge-detect status register. A level change seen
// between samples is reported even when the edge bit was missed.
func (p *rpioPin) Watch(ctx context.Context, fn func(Level)) error {
	select {
	case <-p.done:
		return nil
	default:
	}
	p.watchers.Add(1)
	defer p.watchers.Done()

	last := p.pin.Read() == rpio.High
	p.pin.EdgeDetected()

	ticker := time.NewTicker(p.driver.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.done:
			return nil
		case <-ticker.C:
		}

		edge := p.pin.EdgeDetected()
		level := p.pin.Read() == rpio.High
		if !edge && level == last {
			continue
		}
		last = level
		fn(Level(level))
	}
}

func (p *rpioPin) Close() error {
	p.once.Do(func() {
		close(p.done)
		p.watchers.Wait()
		p.pin.Detect(rpio.NoEdge)
		p.driver.release(int(p.pin))
	})
	return nil
}
