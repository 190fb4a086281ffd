package gpio

import (
	"context"
	"fmt"
	"sync"
)

// Fake is an in-memory Driver. Tests drive pin levels with Set.
type Fake struct {
	mu      sync.Mutex
	pins    map[int]*FakePin
	openErr map[int]error
	closed  bool
}

// NewFake creates an empty fake driver.
func NewFake() *Fake {
	return &Fake{
		pins:    make(map[int]*FakePin),
		openErr: make(map[int]error),
	}
}

// FailOpen makes the next Open of number fail with err.
func (f *Fake) FailOpen(number int, err error) {
	f.mu.Lock()
	f.openErr[number] = err
	f.mu.Unlock()
}

// Open implements Driver. A pulled-up pin starts high.
func (f *Fake) Open(number int, pull Pull) (Pin, error) {
	if err := validPin(number); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, ErrClosed
	}
	if err, ok := f.openErr[number]; ok {
		delete(f.openErr, number)
		return nil, err
	}
	if p, ok := f.pins[number]; ok && !p.isClosed() {
		return nil, fmt.Errorf("%w: %d", ErrPinBusy, number)
	}

	p := &FakePin{
		number: number,
		pull:   pull,
		level:  pull == PullUp,
		edges:  make(chan Level, 256),
		done:   make(chan struct{}),
	}
	f.pins[number] = p
	return p, nil
}

// Close implements Driver.
func (f *Fake) Close() error {
	f.mu.Lock()
	f.closed = true
	pins := make([]*FakePin, 0, len(f.pins))
	for _, p := range f.pins {
		pins = append(pins, p)
	}
	f.mu.Unlock()

	for _, p := range pins {
		_ = p.Close()
	}
	return nil
}

// Pin returns the pin opened as number, or nil.
func (f *Fake) Pin(number int) *FakePin {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pins[number]
}

// FakePin is a pin of the fake driver.
type FakePin struct {
	number int
	pull   Pull

	mu     sync.Mutex
	level  Level
	edges  chan Level
	done   chan struct{}
	closed bool
}

// Set changes the level and queues an edge for watchers. Setting the
// current level again does nothing.
func (p *FakePin) Set(level Level) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.level == level {
		return
	}
	p.level = level
	p.edges <- level
}

// Pull returns the resistor the pin was opened with.
func (p *FakePin) Pull() Pull { return p.pull }

func (p *FakePin) Number() int { return p.number }

func (p *FakePin) Read() (Level, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level, nil
}

func (p *FakePin) Watch(ctx context.Context, fn func(Level)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.done:
			return nil
		case level := <-p.edges:
			fn(level)
		}
	}
}

func (p *FakePin) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.done)
	}
	return nil
}

func (p *FakePin) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
