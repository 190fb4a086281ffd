package diagnostics

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-iobridge/internal/detect"
	"github.com/nerrad567/gray-logic-iobridge/internal/dispatch"
)

var (
	_ detect.Metrics   = (*Counters)(nil)
	_ dispatch.Metrics = (*Counters)(nil)
)

func TestCounters_PrometheusAndSnapshot(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCounters(reg)

	c.PollSucceeded("hue")
	c.PollSucceeded("hue")
	c.PollFailed("hue", "transport")
	c.EventEmitted("hue")
	c.CommandDropped("kodi", "not_connected")
	c.CommandDropped("kodi", "unmapped")
	c.CommandDropped("kodi", "unmapped")
	c.CommandHandled("kodi")
	c.CommandFailed("kodi")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.polls.WithLabelValues("hue", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.pollFailures.WithLabelValues("hue", "transport")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.dropped.WithLabelValues("kodi", "unmapped")))

	expected := `
# HELP iobridge_events_total Change events emitted to the automation server.
# TYPE iobridge_events_total counter
iobridge_events_total{adapter="hue"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "iobridge_events_total"))

	hue := c.Snapshot("hue")
	assert.Equal(t, uint64(2), hue.PollsOK)
	assert.Equal(t, uint64(1), hue.PollsFailed)
	assert.Equal(t, uint64(1), hue.FailuresByReason["transport"])

	kodi := c.Snapshot("kodi")
	assert.Equal(t, uint64(3), kodi.CommandsDropped)
	assert.Equal(t, uint64(2), kodi.DroppedByReason["unmapped"])
	assert.Equal(t, int64(1), kodi.Fields()["dropped_not_connected"])

	assert.Equal(t, []string{"hue", "kodi"}, c.Adapters())
	totals := c.Totals()
	assert.Equal(t, uint64(1), totals.Events)
	assert.Equal(t, uint64(1), totals.CommandsHandled)

	assert.Equal(t, AdapterCounts{}, c.Snapshot("mpd"))
}

func TestCounters_Concurrent(t *testing.T) {
	c := NewCounters(nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.EventEmitted("knob")
				c.CommandDropped("knob", "unmapped")
			}
		}()
	}
	wg.Wait()

	s := c.Snapshot("knob")
	assert.Equal(t, uint64(800), s.Events)
	assert.Equal(t, uint64(800), s.DroppedByReason["unmapped"])
}

type recordedPoint struct {
	bridgeID, adapter string
	fields            map[string]any
}

type fakeWriter struct {
	mu     sync.Mutex
	points []recordedPoint
}

func (w *fakeWriter) WriteAdapterCounters(bridgeID, adapter string, fields map[string]any, _ time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.points = append(w.points, recordedPoint{bridgeID, adapter, fields})
}

func (w *fakeWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.points)
}

func TestExporter(t *testing.T) {
	c := NewCounters(nil)
	c.EventEmitted("hue")
	c.EventEmitted("mpd")

	w := &fakeWriter{}
	e := NewExporter(c, w, "iobridge-01", 10*time.Millisecond)
	e.ExportOnce()

	require.Len(t, w.points, 2)
	assert.Equal(t, "hue", w.points[0].adapter)
	assert.Equal(t, "iobridge-01", w.points[0].bridgeID)
	assert.Equal(t, int64(1), w.points[0].fields["events"])

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()
	assert.Eventually(t, func() bool { return w.count() >= 4 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}
