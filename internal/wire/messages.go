package wire

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-iobridge/internal/iopoint"
)

// EventMessage carries one normalized value to the automation server.
// Topic: {prefix}/state/{adapter}/{device}/{point}, retained.
type EventMessage struct {
	DeviceID  string    `json:"device_id"`
	Point     string    `json:"point"`
	Value     float64   `json:"value"`
	Kind      string    `json:"kind"`
	Mode      string    `json:"mode,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEventMessage converts an event.
func NewEventMessage(e iopoint.Event) EventMessage {
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	return EventMessage{
		DeviceID:  e.DeviceID,
		Point:     e.Point,
		Value:     e.Value,
		Kind:      string(e.Kind),
		Mode:      string(e.Mode),
		Timestamp: at.UTC(),
	}
}

// CommandMessage is an inbound command body. Device and point come from
// the topic: {prefix}/command/{adapter}/{device}/{point}.
type CommandMessage struct {
	ID    string  `json:"id,omitempty"`
	Value float64 `json:"value"`
	Mode  string  `json:"mode,omitempty"`
}

// ErrEmptyPayload is returned for a command without a body.
var ErrEmptyPayload = errors.New("wire: empty command payload")

// ErrNonFiniteValue is returned for a NaN or infinite command value.
var ErrNonFiniteValue = errors.New("wire: command value is not finite")

// DecodeCommand parses a command body. A bare number is accepted as an
// absolute value, for clients that publish plain text.
func DecodeCommand(c Codec, deviceID, point string, payload []byte) (iopoint.Command, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return iopoint.Command{}, ErrEmptyPayload
	}

	var msg CommandMessage
	if v, err := strconv.ParseFloat(string(trimmed), 64); err == nil {
		msg.Value = v
	} else if err := c.Unmarshal(payload, &msg); err != nil {
		return iopoint.Command{}, fmt.Errorf("decode command: %w", err)
	}
	if math.IsNaN(msg.Value) || math.IsInf(msg.Value, 0) {
		return iopoint.Command{}, ErrNonFiniteValue
	}

	mode, err := iopoint.ParseMode(msg.Mode)
	if err != nil {
		return iopoint.Command{}, err
	}
	return iopoint.Command{
		DeviceID: deviceID,
		Point:    point,
		Value:    msg.Value,
		Mode:     mode,
	}, nil
}

// RegistrationMessage declares one IO point.
// Topic: {prefix}/io/{adapter}/{device}/{point}, retained.
type RegistrationMessage struct {
	Adapter   string `json:"adapter"`
	DeviceID  string `json:"device_id"`
	Point     string `json:"point"`
	Direction string `json:"direction"`
	Kind      string `json:"kind,omitempty"`
	Session   string `json:"session"`
}

// CompleteMessage ends a registration run.
// Topic: {prefix}/io/{adapter}/complete.
type CompleteMessage struct {
	Adapter   string    `json:"adapter"`
	Session   string    `json:"session"`
	Points    int       `json:"points"`
	Cleared   int       `json:"cleared"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthStatus is the bridge's operational state.
type HealthStatus string

const (
	HealthStarting HealthStatus = "starting"
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStopping HealthStatus = "stopping"
	HealthOffline  HealthStatus = "offline"
)

// HealthMessage reports the bridge's state.
// Topic: {prefix}/health/{bridge}, retained.
type HealthMessage struct {
	Bridge        string                   `json:"bridge"`
	Timestamp     time.Time                `json:"timestamp"`
	Status        HealthStatus             `json:"status"`
	Version       string                   `json:"version"`
	UptimeSeconds int64                    `json:"uptime_seconds"`
	Adapters      map[string]AdapterHealth `json:"adapters,omitempty"`
	Reason        string                   `json:"reason,omitempty"`

	// Dependencies maps a backing service to "ok" or its last error. Only
	// the monitor's /healthz fills it in.
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

// AdapterHealth summarizes one adapter.
type AdapterHealth struct {
	Devices         int    `json:"devices"`
	Connected       int    `json:"connected"`
	Events          uint64 `json:"events"`
	PollsFailed     uint64 `json:"polls_failed"`
	CommandsHandled uint64 `json:"commands_handled"`
	CommandsDropped uint64 `json:"commands_dropped"`
}
