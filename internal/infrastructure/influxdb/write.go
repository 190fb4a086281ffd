package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the bridge.
const (
	MeasurementBridgeHealth = "iobridge_health"
	MeasurementAdapter      = "iobridge_adapter"
)

// WriteBridgeHealth records one health snapshot for the bridge instance.
// Fields are counters and gauges keyed by name.
func (c *Client) WriteBridgeHealth(bridgeID, status string, fields map[string]any, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.points.WritePoint(write.NewPoint(
		MeasurementBridgeHealth,
		map[string]string{"bridge_id": bridgeID, "status": status},
		fields,
		at,
	))
}

// WriteAdapterCounters records per-adapter totals (polls, events, commands).
func (c *Client) WriteAdapterCounters(bridgeID, adapter string, fields map[string]any, at time.Time) {
	if !c.IsConnected() || len(fields) == 0 {
		return
	}
	c.points.WritePoint(write.NewPoint(
		MeasurementAdapter,
		map[string]string{"bridge_id": bridgeID, "adapter": adapter},
		fields,
		at,
	))
}
