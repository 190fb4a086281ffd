// Package gpio reads Raspberry Pi input pins for the knob and switch
// adapters.
//
// Two backends are provided. "sysfs" exports pins through
// /sys/class/gpio and waits for edges with poll(2); it needs no special
// privileges beyond the gpio group. "rpio" memory-maps the BCM2835
// registers with go-rpio, can enable pull resistors, and samples edges
// on a short interval. Fake is an in-memory driver for tests.
package gpio

import (
	"context"
	"errors"
	"fmt"
)

// Level is the electrical state of a pin.
type Level bool

const (
	Low  Level = false
	High Level = true
)

func (l Level) String() string {
	if l {
		return "high"
	}
	return "low"
}

// Pull selects the internal resistor of an input pin.
type Pull int

const (
	PullNone Pull = iota
	PullUp
	PullDown
)

// Pin is one input pin.
type Pin interface {
	// Number returns the BCM pin number.
	Number() int

	// Read returns the current level.
	Read() (Level, error)

	// Watch calls fn with the new level after every edge, on the calling
	// goroutine, until ctx is cancelled or the pin is closed. It returns
	// nil in both of those cases.
	Watch(ctx context.Context, fn func(Level)) error

	// Close releases the pin. A running Watch returns.
	Close() error
}

// Driver opens pins on one backend.
type Driver interface {
	Open(number int, pull Pull) (Pin, error)
	Close() error
}

// Backend names accepted by Open.
const (
	BackendSysfs = "sysfs"
	BackendRPIO  = "rpio"
)

// Errors returned by drivers. Check with errors.Is().
var (
	ErrUnknownBackend = errors.New("gpio: unknown backend")
	ErrInvalidPin     = errors.New("gpio: invalid pin number")
	ErrPinBusy        = errors.New("gpio: pin already open")
	ErrClosed         = errors.New("gpio: driver closed")
)

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

// Open returns a driver for the named backend.
func Open(backend string, logger Logger) (Driver, error) {
	switch backend {
	case BackendSysfs, "":
		return NewSysfs("", logger), nil
	case BackendRPIO:
		return NewRPIO(0, logger), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

// maxPin is the highest BCM number on the 40-pin header SoCs.
const maxPin = 53

func validPin(n int) error {
	if n < 0 || n > maxPin {
		return fmt.Errorf("%w: %d", ErrInvalidPin, n)
	}
	return nil
}
