package registration

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-iobridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-iobridge/internal/registry"
	"github.com/nerrad567/gray-logic-iobridge/internal/wire"
)

// Publisher sends MQTT messages. *mqtt.Client implements it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Logger is the logging surface used by this package.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// Result summarizes one run.
type Result struct {
	Session   string
	Published int
	Cleared   int
}

// Registrar publishes registration runs.
type Registrar struct {
	store  Store
	pub    Publisher
	topics mqtt.Topics
	codec  wire.Codec
	qos    byte
	logger Logger
	now    func() time.Time
}

// Options configures a Registrar.
type Options struct {
	Store     Store
	Publisher Publisher
	Topics    mqtt.Topics
	Codec     wire.Codec
	QoS       byte
	Logger    Logger
}

// New creates a registrar.
func New(opts Options) (*Registrar, error) {
	if opts.Store == nil || opts.Publisher == nil {
		return nil, fmt.Errorf("registration: store and publisher are required")
	}
	r := &Registrar{
		store:  opts.Store,
		pub:    opts.Publisher,
		topics: opts.Topics,
		codec:  opts.Codec,
		qos:    opts.QoS,
		logger: opts.Logger,
		now:    time.Now,
	}
	if r.codec == nil {
		r.codec = wire.JSON{}
	}
	if r.logger == nil {
		r.logger = noopLogger{}
	}
	return r, nil
}

type pointKey struct{ device, point string }

// Register announces points for adapter. The stored run is only replaced
// once every message was published, so a failed run is retried in full.
func (r *Registrar) Register(ctx context.Context, adapter string, points []registry.Registration) (Result, error) {
	res := Result{Session: uuid.NewString()}

	previous, err := r.store.Previous(ctx, adapter)
	if err != nil {
		return res, err
	}

	current := make(map[pointKey]bool, len(points))
	for _, p := range points {
		current[pointKey{p.DeviceID, p.Point}] = true

		payload, err := r.codec.Marshal(wire.RegistrationMessage{
			Adapter:   adapter,
			DeviceID:  p.DeviceID,
			Point:     p.Point,
			Direction: string(p.Direction),
			Kind:      string(p.Kind),
			Session:   res.Session,
		})
		if err != nil {
			return res, fmt.Errorf("encoding registration: %w", err)
		}
		if err := r.pub.Publish(r.topics.IO(adapter, p.DeviceID, p.Point), payload, r.qos, true); err != nil {
			return res, fmt.Errorf("publishing registration %s/%s: %w", p.DeviceID, p.Point, err)
		}
		res.Published++
	}

	for _, p := range previous {
		if current[pointKey{p.DeviceID, p.Point}] {
			continue
		}
		if err := r.pub.Publish(r.topics.IO(adapter, p.DeviceID, p.Point), nil, r.qos, true); err != nil {
			return res, fmt.Errorf("clearing registration %s/%s: %w", p.DeviceID, p.Point, err)
		}
		r.logger.Info("stale io point withdrawn", "adapter", adapter, "device", p.DeviceID, "point", p.Point)
		res.Cleared++
	}

	at := r.now()
	payload, err := r.codec.Marshal(wire.CompleteMessage{
		Adapter:   adapter,
		Session:   res.Session,
		Points:    res.Published,
		Cleared:   res.Cleared,
		Timestamp: at.UTC(),
	})
	if err != nil {
		return res, fmt.Errorf("encoding registration complete: %w", err)
	}
	if err := r.pub.Publish(r.topics.IOComplete(adapter), payload, r.qos, false); err != nil {
		return res, fmt.Errorf("publishing registration complete: %w", err)
	}

	run := Run{Adapter: adapter, Session: res.Session, PointCount: res.Published, CompletedAt: at}
	if err := r.store.Replace(ctx, run, points); err != nil {
		return res, err
	}

	r.logger.Info("registration complete",
		"adapter", adapter, "session", res.Session, "points", res.Published, "cleared", res.Cleared)
	return res, nil
}
