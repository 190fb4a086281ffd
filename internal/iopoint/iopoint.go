// Package iopoint defines the vocabulary shared by every part of the bridge:
// IO points, inbound commands, outbound events and the error taxonomy.
package iopoint

import (
	"fmt"
	"strings"
	"time"
)

// Direction says which way a point carries values.
type Direction string

const (
	// DirectionDefault points report values and accept commands.
	DirectionDefault Direction = "default"
	// DirectionOutput points only report values to the server.
	DirectionOutput Direction = "output"
)

// Point is a named, typed channel on a device.
type Point struct {
	Name      string
	Direction Direction
	Kind      ValueKind
}

// ValueKind tells the server how to interpret a canonical value.
type ValueKind string

const (
	KindFloat    ValueKind = "float"
	KindDiscrete ValueKind = "discrete"
)

// Mode qualifies a command value.
type Mode string

const (
	ModeAbsolute Mode = "absolute"
	ModeIncrease Mode = "increase"
	ModeDecrease Mode = "decrease"
	ModeDiscrete Mode = "discrete"
)

// ParseMode accepts the mode names and the single-letter forms older
// automation servers send (f, d, p, n).
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "absolute", "f", "":
		return ModeAbsolute, nil
	case "discrete", "d":
		return ModeDiscrete, nil
	case "increase", "p":
		return ModeIncrease, nil
	case "decrease", "n":
		return ModeDecrease, nil
	}
	return "", fmt.Errorf("iopoint: unknown mode %q", s)
}

// Relative reports whether m adjusts the current value.
func (m Mode) Relative() bool {
	return m == ModeIncrease || m == ModeDecrease
}

// Command is an inbound request from the automation server.
type Command struct {
	DeviceID string
	Point    string
	Value    float64
	Mode     Mode
}

// Event is an outbound normalized value. Mode is set only for knobs
// reporting relative steps.
type Event struct {
	Adapter  string
	DeviceID string
	Point    string
	Value    float64
	Kind     ValueKind
	Mode     Mode
	At       time.Time
}

// Observation is one raw field read from a device, already mapped to its
// canonical value. Raw must be comparable; it is the value change detection
// compares.
type Observation struct {
	Point string
	Raw   any
	Value float64
	Kind  ValueKind
	Mode  Mode
}

// EventSink receives normalized events. Implementations must not block for
// long; they run on the device's consumer goroutine.
type EventSink interface {
	Emit(Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(Event)

// Emit calls f(e).
func (f EventSinkFunc) Emit(e Event) { f(e) }

// Fanout delivers each event to every sink in order.
type Fanout []EventSink

// Emit implements EventSink.
func (f Fanout) Emit(e Event) {
	for _, s := range f {
		if s != nil {
			s.Emit(e)
		}
	}
}
