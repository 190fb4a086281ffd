package bridge

import (
	"github.com/nerrad567/gray-logic-iobridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-iobridge/internal/iopoint"
	"github.com/nerrad567/gray-logic-iobridge/internal/wire"
)

// Publisher sends MQTT messages.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// EventPublisher is the iopoint.EventSink that forwards events to the
// automation server as retained state messages.
type EventPublisher struct {
	pub    Publisher
	topics mqtt.Topics
	codec  wire.Codec
	qos    byte
	logger Logger
}

// NewEventPublisher creates the MQTT event sink.
func NewEventPublisher(pub Publisher, topics mqtt.Topics, codec wire.Codec, qos byte, logger Logger) *EventPublisher {
	if codec == nil {
		codec = wire.JSON{}
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &EventPublisher{pub: pub, topics: topics, codec: codec, qos: qos, logger: logger}
}

// Emit implements iopoint.EventSink. Publish failures are logged; the
// registry already holds the value, so the next change is still reported.
func (p *EventPublisher) Emit(e iopoint.Event) {
	payload, err := p.codec.Marshal(wire.NewEventMessage(e))
	if err != nil {
		p.logger.Error("encoding event", "adapter", e.Adapter, "device", e.DeviceID, "point", e.Point, "error", err)
		return
	}
	topic := p.topics.State(e.Adapter, e.DeviceID, e.Point)
	if err := p.pub.Publish(topic, payload, p.qos, true); err != nil {
		p.logger.Warn("publishing event", "topic", topic, "error", err)
	}
}
