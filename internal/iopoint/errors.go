package iopoint

import (
	"errors"
	"fmt"
)

// TransportError is a network or connection failure talking to a device.
// Recovered locally: the cycle or command is skipped.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// MalformedResponseError means a device answered with a payload that could
// not be parsed. Recovered the same way as TransportError.
type MalformedResponseError struct {
	What string
	Err  error
}

func (e *MalformedResponseError) Error() string {
	if e.Err == nil {
		return "malformed response: " + e.What
	}
	return fmt.Sprintf("malformed response: %s: %v", e.What, e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// RangeError reports a configured mapping with max <= min. Fatal at startup.
type RangeError struct {
	Min, Max float64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("invalid range: max %v must be greater than min %v", e.Max, e.Min)
}

// UnknownCommandError describes a command nothing handles. It is counted
// and logged, never returned to the command's sender.
type UnknownCommandError struct {
	DeviceID string
	Point    string
	Mode     Mode
	Reason   string
}

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("unknown command %s/%s (%s): %s", e.DeviceID, e.Point, e.Mode, e.Reason)
}

// Reasons carried by UnknownCommandError.
const (
	ReasonUnknownDevice  = "unknown_device"
	ReasonNotConnected   = "not_connected"
	ReasonUnmapped       = "unmapped"
	ReasonUnknownAdapter = "unknown_adapter"
	ReasonMalformed      = "malformed"
)

// Transport wraps err as a TransportError unless it already is one.
func Transport(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}

// Recoverable reports whether err belongs to a single cycle or command and
// must not stop the loop that produced it.
func Recoverable(err error) bool {
	var te *TransportError
	var me *MalformedResponseError
	return errors.As(err, &te) || errors.As(err, &me)
}
