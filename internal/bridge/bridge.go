package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-iobridge/internal/dispatch"
	"github.com/nerrad567/gray-logic-iobridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-iobridge/internal/iopoint"
	"github.com/nerrad567/gray-logic-iobridge/internal/registration"
	"github.com/nerrad567/gray-logic-iobridge/internal/registry"
	"github.com/nerrad567/gray-logic-iobridge/internal/wire"
)

// registerTimeout bounds one adapter's registration run.
const registerTimeout = 30 * time.Second

// MQTTClient is the subset of *mqtt.Client the bridge uses.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// Adapter is one device integration (hue, kodi, mpd, knob, switch).
type Adapter interface {
	// Name is the adapter segment of the MQTT topics.
	Name() string
	// Registry owns the adapter's devices.
	Registry() *registry.Registry
	// Dispatcher routes the adapter's commands.
	Dispatcher() *dispatch.Dispatcher
	// Run connects to the devices and reports their state until ctx is
	// cancelled. Connection failures are retried inside Run.
	Run(ctx context.Context) error
}

// Registrar publishes registration runs. *registration.Registrar
// implements it.
type Registrar interface {
	Register(ctx context.Context, adapter string, points []registry.Registration) (registration.Result, error)
}

// DropCounter counts commands dropped before reaching a dispatcher.
type DropCounter interface {
	CommandDropped(adapter, reason string)
}

// Logger is the logging surface used by the bridge.
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

type noopDrops struct{}

func (noopDrops) CommandDropped(string, string) {}

// Options holds what a Bridge needs.
type Options struct {
	MQTT      MQTTClient
	Topics    mqtt.Topics
	Codec     wire.Codec
	QoS       byte
	Adapters  []Adapter
	Registrar Registrar
	Drops     DropCounter
	Health    *HealthReporter
	Logger    Logger
}

// Bridge ties adapters to MQTT.
type Bridge struct {
	mqtt      MQTTClient
	topics    mqtt.Topics
	codec     wire.Codec
	qos       byte
	adapters  map[string]Adapter
	order     []string
	registrar Registrar
	drops     DropCounter
	health    *HealthReporter
	logger    Logger

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New validates opts and creates a bridge. Call Start to begin.
func New(opts Options) (*Bridge, error) {
	if opts.MQTT == nil {
		return nil, errors.New("bridge: MQTT client is required")
	}
	if len(opts.Adapters) == 0 {
		return nil, errors.New("bridge: at least one adapter is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		mqtt:      opts.MQTT,
		topics:    opts.Topics,
		codec:     opts.Codec,
		qos:       opts.QoS,
		adapters:  make(map[string]Adapter, len(opts.Adapters)),
		registrar: opts.Registrar,
		drops:     opts.Drops,
		health:    opts.Health,
		logger:    opts.Logger,
		ctx:       ctx,
		cancel:    cancel,
	}
	if b.codec == nil {
		b.codec = wire.JSON{}
	}
	if b.drops == nil {
		b.drops = noopDrops{}
	}
	if b.logger == nil {
		b.logger = noopLogger{}
	}

	for _, a := range opts.Adapters {
		name := a.Name()
		if !mqtt.ValidSegment(name) {
			cancel()
			return nil, fmt.Errorf("bridge: invalid adapter name %q", name)
		}
		if _, dup := b.adapters[name]; dup {
			cancel()
			return nil, fmt.Errorf("bridge: duplicate adapter %q", name)
		}
		b.adapters[name] = a
		b.order = append(b.order, name)
	}
	return b, nil
}

// Start subscribes to commands, registers every adapter's points, starts
// health reporting and runs the adapters.
func (b *Bridge) Start(ctx context.Context) error {
	if b.health != nil {
		if err := b.health.PublishStarting(); err != nil {
			b.logger.Warn("failed to publish starting status", "error", err)
		}
	}

	topic := b.topics.AllCommands()
	if err := b.mqtt.Subscribe(topic, b.qos, b.handleCommand); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logger.Info("subscribed to commands", "topic", topic)

	b.RegisterAll(ctx)

	for _, name := range b.order {
		a := b.adapters[name]
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			if err := a.Run(b.ctx); err != nil && !errors.Is(err, context.Canceled) {
				b.logger.Error("adapter stopped", "adapter", name, "error", err)
			}
		}()
	}

	if b.health != nil {
		b.health.Start(b.ctx)
	}

	b.logger.Info("bridge started", "adapters", b.order)
	return nil
}

// RegisterAll runs a registration for every adapter. Failures are logged
// and retried on the next call; the MQTT reconnect hook calls it again.
func (b *Bridge) RegisterAll(ctx context.Context) {
	if b.registrar == nil {
		return
	}
	for _, name := range b.order {
		regCtx, cancel := context.WithTimeout(ctx, registerTimeout)
		_, err := b.registrar.Register(regCtx, name, b.adapters[name].Registry().Registrations())
		cancel()
		if err != nil {
			b.logger.Warn("registration failed", "adapter", name, "error", err)
		}
	}
}

// handleCommand decodes a command topic and payload and hands the command
// to the adapter's dispatcher. Nothing is sent back to the publisher.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	adapterName, deviceID, point, ok := b.topics.ParseCommand(topic)
	if !ok {
		b.drops.CommandDropped("", iopoint.ReasonMalformed)
		b.logger.Debug("ignoring command on unexpected topic", "topic", topic)
		return nil
	}

	a, ok := b.adapters[adapterName]
	if !ok {
		b.drops.CommandDropped(adapterName, iopoint.ReasonUnknownAdapter)
		b.logger.Debug("command for unknown adapter", "adapter", adapterName, "topic", topic)
		return nil
	}

	cmd, err := wire.DecodeCommand(b.codec, deviceID, point, payload)
	if err != nil {
		b.drops.CommandDropped(adapterName, iopoint.ReasonMalformed)
		b.logger.Debug("malformed command", "topic", topic, "error", err)
		return nil
	}

	b.logger.Debug("received command",
		"adapter", adapterName, "device", deviceID, "point", point,
		"value", cmd.Value, "mode", string(cmd.Mode))

	// Drops are counted and logged by the dispatcher.
	_ = a.Dispatcher().Dispatch(b.ctx, cmd) //nolint:errcheck // see above
	return nil
}

// Inject dispatches a command as if it had arrived over MQTT. Used by the
// debug console.
func (b *Bridge) Inject(adapterName string, cmd iopoint.Command) error {
	a, ok := b.adapters[adapterName]
	if !ok {
		b.drops.CommandDropped(adapterName, iopoint.ReasonUnknownAdapter)
		return &iopoint.UnknownCommandError{
			DeviceID: cmd.DeviceID, Point: cmd.Point, Mode: cmd.Mode,
			Reason: iopoint.ReasonUnknownAdapter,
		}
	}
	return a.Dispatcher().Dispatch(b.ctx, cmd)
}

// Adapters returns the adapters in configuration order.
func (b *Bridge) Adapters() []Adapter {
	out := make([]Adapter, 0, len(b.order))
	for _, name := range b.order {
		out = append(out, b.adapters[name])
	}
	return out
}

// Stop cancels the adapters, waits for them and their in-flight commands,
// publishes a final health status and releases device handles.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.cancel()
		b.wg.Wait()

		for _, name := range b.order {
			b.adapters[name].Dispatcher().Close()
		}
		if b.health != nil {
			b.health.Stop()
		}
		for _, name := range b.order {
			if err := b.adapters[name].Registry().Close(); err != nil {
				b.logger.Warn("closing device handles", "adapter", name, "error", err)
			}
		}
		b.logger.Info("bridge stopped")
	})
}
