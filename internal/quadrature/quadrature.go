// Package quadrature decodes the two-phase signal of a rotary encoder into
// detent steps and an absolute position in [0,1].
//
// Each pair of pin levels is folded into a state code A*4 + B*2 + (A XOR B).
// The difference between successive codes, taken mod 4, is 1 for a
// clockwise quarter-step, 3 for counterclockwise, 2 when a transition was
// missed (resolved using the last known direction) and 0 when nothing
// moved. Quarter-steps accumulate until a full detent is reached.
package quadrature

import (
	"fmt"
	"sync"

	"github.com/nerrad567/gray-logic-iobridge/internal/valuemap"
)

// Direction of rotation.
type Direction int

const (
	None             Direction = 0
	Clockwise        Direction = 1
	CounterClockwise Direction = -1
)

func (d Direction) String() string {
	switch d {
	case Clockwise:
		return "clockwise"
	case CounterClockwise:
		return "counterclockwise"
	default:
		return "none"
	}
}

// Defaults.
const (
	DefaultStepSize          = 0.01
	DefaultQuartersPerDetent = 4
)

// Config configures a Decoder. Zero fields take the defaults.
type Config struct {
	// StepSize is the change in position per detent, as a fraction of full
	// scale.
	StepSize float64
	// QuartersPerDetent is how many quarter-steps make one reported step.
	// Common mechanical encoders click once per full cycle (4).
	QuartersPerDetent int
	// InitialPosition is the starting absolute position.
	InitialPosition float64
}

// Step is the outcome of a transition that completed at least one detent.
type Step struct {
	Direction Direction
	// Count is the number of detents, always positive.
	Count int
	// Delta is the signed change in position before clamping.
	Delta float64
	// Position is the absolute position after the step, clamped to [0,1].
	Position float64
}

// Decoder tracks one encoder. Safe for concurrent use; separate decoders
// share nothing.
type Decoder struct {
	stepSize float64
	quarters int

	mu            sync.Mutex
	lastState     int
	lastDirection Direction
	pending       int
	position      float64
}

// New validates cfg and creates a decoder whose last state is (0,0).
func New(cfg Config) (*Decoder, error) {
	if cfg.StepSize == 0 {
		cfg.StepSize = DefaultStepSize
	}
	if cfg.QuartersPerDetent == 0 {
		cfg.QuartersPerDetent = DefaultQuartersPerDetent
	}
	if cfg.StepSize < 0 || cfg.StepSize > 1 {
		return nil, fmt.Errorf("quadrature: step size must be in (0,1], got %v", cfg.StepSize)
	}
	if cfg.QuartersPerDetent < 1 || cfg.QuartersPerDetent > 4 {
		return nil, fmt.Errorf("quadrature: quarters per detent must be 1..4, got %d", cfg.QuartersPerDetent)
	}
	return &Decoder{
		stepSize: cfg.StepSize,
		quarters: cfg.QuartersPerDetent,
		position: valuemap.Clamp(cfg.InitialPosition),
	}, nil
}

// StateCode folds the two pin levels into the code used for decoding.
func StateCode(a, b bool) int {
	code := 0
	if a {
		code += 4
	}
	if b {
		code += 2
	}
	if a != b {
		code++
	}
	return code
}

// Seed sets the last state from the current pin levels without producing
// a step. Call it once after reading the pins at startup.
func (d *Decoder) Seed(a, b bool) {
	d.mu.Lock()
	d.lastState = StateCode(a, b)
	d.pending = 0
	d.mu.Unlock()
}

// Update feeds one sample of the pins. ok is true when the transition
// completed one or more detents.
func (d *Decoder) Update(a, b bool) (Step, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	state := StateCode(a, b)
	delta := ((state-d.lastState)%4 + 4) % 4
	d.lastState = state

	switch delta {
	case 1:
		d.lastDirection = Clockwise
		d.pending++
	case 3:
		d.lastDirection = CounterClockwise
		d.pending--
	case 2:
		// A transition was missed; assume the knob kept turning.
		d.pending += 2 * int(d.lastDirection)
	default:
		return Step{}, false
	}

	detents := d.pending / d.quarters
	if detents == 0 {
		return Step{}, false
	}
	d.pending -= detents * d.quarters

	dir := Clockwise
	count := detents
	if detents < 0 {
		dir = CounterClockwise
		count = -detents
	}
	change := float64(detents) * d.stepSize
	d.position = valuemap.Clamp(d.position + change)

	return Step{
		Direction: dir,
		Count:     count,
		Delta:     change,
		Position:  d.position,
	}, true
}

// Position returns the current absolute position.
func (d *Decoder) Position() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.position
}

// SetPosition moves the absolute position, e.g. after the automation
// server commands the knob's value. Partial quarter-steps are kept.
func (d *Decoder) SetPosition(p float64) {
	d.mu.Lock()
	d.position = valuemap.Clamp(p)
	d.mu.Unlock()
}

// StepSize returns the configured change per detent.
func (d *Decoder) StepSize() float64 {
	return d.stepSize
}
