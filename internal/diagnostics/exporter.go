package diagnostics

import (
	"context"
	"time"
)

// DefaultExportInterval is how often counters are written to the
// time-series store.
const DefaultExportInterval = time.Minute

// SeriesWriter accepts per-adapter counter points. *influxdb.Client
// implements it.
type SeriesWriter interface {
	WriteAdapterCounters(bridgeID, adapter string, fields map[string]any, at time.Time)
}

// Exporter periodically writes counter snapshots to a SeriesWriter.
type Exporter struct {
	counters *Counters
	writer   SeriesWriter
	bridgeID string
	interval time.Duration
	now      func() time.Time
}

// NewExporter creates an exporter. interval <= 0 selects the default.
func NewExporter(counters *Counters, writer SeriesWriter, bridgeID string, interval time.Duration) *Exporter {
	if interval <= 0 {
		interval = DefaultExportInterval
	}
	return &Exporter{
		counters: counters,
		writer:   writer,
		bridgeID: bridgeID,
		interval: interval,
		now:      time.Now,
	}
}

// ExportOnce writes one point per adapter.
func (e *Exporter) ExportOnce() {
	at := e.now()
	for _, name := range e.counters.Adapters() {
		e.writer.WriteAdapterCounters(e.bridgeID, name, e.counters.Snapshot(name).Fields(), at)
	}
}

// Run exports on every tick until ctx is cancelled, then writes a final
// snapshot.
func (e *Exporter) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.ExportOnce()
			return
		case <-ticker.C:
			e.ExportOnce()
		}
	}
}
