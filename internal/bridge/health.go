package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-iobridge/internal/diagnostics"
	"github.com/nerrad567/gray-logic-iobridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-iobridge/internal/registry"
	"github.com/nerrad567/gray-logic-iobridge/internal/wire"
)

// DefaultHealthInterval is used when no interval is configured.
const DefaultHealthInterval = 30 * time.Second

// HealthPublisher is the MQTT surface the reporter needs.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// HealthRecorder mirrors health snapshots to a time-series store.
// *influxdb.Client implements it.
type HealthRecorder interface {
	WriteBridgeHealth(bridgeID, status string, fields map[string]any, at time.Time)
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	BridgeID  string
	Version   string
	Interval  time.Duration
	Topics    mqtt.Topics
	Codec     wire.Codec
	QoS       byte
	Publisher HealthPublisher

	// Registries are the adapters' registries, keyed by adapter name.
	Registries map[string]*registry.Registry

	// Counters provides per-adapter totals. Optional.
	Counters *diagnostics.Counters

	// Recorder receives every published snapshot. Optional.
	Recorder HealthRecorder
}

// HealthReporter publishes the bridge's health on a fixed interval.
type HealthReporter struct {
	cfg       HealthReporterConfig
	startTime time.Time
	now       func() time.Time

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// NewHealthReporter creates a reporter; call Start to begin.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultHealthInterval
	}
	if cfg.Codec == nil {
		cfg.Codec = wire.JSON{}
	}
	return &HealthReporter{
		cfg:       cfg,
		startTime: time.Now(),
		now:       time.Now,
		done:      make(chan struct{}),
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

func (h *HealthReporter) log() Logger {
	h.loggerMu.RLock()
	defer h.loggerMu.RUnlock()
	return h.logger
}

// Start begins periodic reporting until ctx is cancelled or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends reporting and publishes a final "stopping" status. Safe to
// call more than once.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()
		//nolint:errcheck // best effort during shutdown
		h.publish(wire.HealthStopping, "bridge stopping")
	})
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publish(wire.HealthStarting, "bridge starting")
}

// PublishNow publishes the current status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.Status()
	return h.publish(status, reason)
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.log().Warn("failed to publish initial health", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.log().Warn("failed to publish health", "error", err)
			}
		}
	}
}

// Status evaluates the bridge: degraded while MQTT is down or any
// configured device has no connection.
func (h *HealthReporter) Status() (wire.HealthStatus, string) {
	if h.cfg.Publisher == nil || !h.cfg.Publisher.IsConnected() {
		return wire.HealthDegraded, "MQTT disconnected"
	}
	for name, reg := range h.cfg.Registries {
		for _, id := range reg.IDs() {
			if _, ok := reg.Handle(id); !ok {
				return wire.HealthDegraded, name + "/" + id + " not connected"
			}
		}
	}
	return wire.HealthHealthy, ""
}

// Snapshot builds the health message for status.
func (h *HealthReporter) Snapshot(status wire.HealthStatus, reason string) wire.HealthMessage {
	at := h.now()
	msg := wire.HealthMessage{
		Bridge:        h.cfg.BridgeID,
		Timestamp:     at.UTC(),
		Status:        status,
		Version:       h.cfg.Version,
		UptimeSeconds: int64(at.Sub(h.startTime).Seconds()),
		Adapters:      make(map[string]wire.AdapterHealth, len(h.cfg.Registries)),
		Reason:        reason,
	}
	for name, reg := range h.cfg.Registries {
		ah := wire.AdapterHealth{}
		for _, id := range reg.IDs() {
			ah.Devices++
			if _, ok := reg.Handle(id); ok {
				ah.Connected++
			}
		}
		if h.cfg.Counters != nil {
			s := h.cfg.Counters.Snapshot(name)
			ah.Events = s.Events
			ah.PollsFailed = s.PollsFailed
			ah.CommandsHandled = s.CommandsHandled
			ah.CommandsDropped = s.CommandsDropped
		}
		msg.Adapters[name] = ah
	}
	return msg
}

func (h *HealthReporter) publish(status wire.HealthStatus, reason string) error {
	msg := h.Snapshot(status, reason)

	if h.cfg.Recorder != nil {
		devices, connected := 0, 0
		for _, a := range msg.Adapters {
			devices += a.Devices
			connected += a.Connected
		}
		h.cfg.Recorder.WriteBridgeHealth(h.cfg.BridgeID, string(status), map[string]any{
			"uptime_seconds":    msg.UptimeSeconds,
			"devices":           int64(devices),
			"devices_connected": int64(connected),
		}, msg.Timestamp)
	}

	if h.cfg.Publisher == nil {
		return nil
	}
	payload, err := h.cfg.Codec.Marshal(msg)
	if err != nil {
		return err
	}
	return h.cfg.Publisher.Publish(h.cfg.Topics.Health(h.cfg.BridgeID), payload, h.cfg.QoS, true)
}
