// Package diagnostics counts what the bridge does (polls, events, commands)
// and exports the totals to Prometheus and, optionally, InfluxDB.
package diagnostics

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "iobridge"

// AdapterCounts is a snapshot of one adapter's totals.
type AdapterCounts struct {
	PollsOK          uint64
	PollsFailed      uint64
	Events           uint64
	InboxDropped     uint64
	CommandsHandled  uint64
	CommandsFailed   uint64
	CommandsDropped  uint64
	DroppedByReason  map[string]uint64
	FailuresByReason map[string]uint64
}

// Fields flattens the snapshot for a time-series point.
func (a AdapterCounts) Fields() map[string]any {
	f := map[string]any{
		"polls_ok":         int64(a.PollsOK),
		"polls_failed":     int64(a.PollsFailed),
		"events":           int64(a.Events),
		"inbox_dropped":    int64(a.InboxDropped),
		"commands_handled": int64(a.CommandsHandled),
		"commands_failed":  int64(a.CommandsFailed),
		"commands_dropped": int64(a.CommandsDropped),
	}
	for reason, n := range a.DroppedByReason {
		f["dropped_"+reason] = int64(n)
	}
	return f
}

type adapterCounters struct {
	pollsOK, pollsFailed, events, inboxDropped atomic.Uint64
	handled, failed, dropped                   atomic.Uint64

	mu        sync.Mutex
	byReason  map[string]uint64
	byFailure map[string]uint64
}

// Counters implements the metrics interfaces of the detect and dispatch
// packages. Safe for concurrent use.
type Counters struct {
	polls        *prometheus.CounterVec
	pollFailures *prometheus.CounterVec
	events       *prometheus.CounterVec
	inboxDropped *prometheus.CounterVec
	commands     *prometheus.CounterVec
	dropped      *prometheus.CounterVec

	mu       sync.RWMutex
	adapters map[string]*adapterCounters
}

// NewCounters creates the collectors and registers them with reg. A nil
// reg leaves them unregistered.
func NewCounters(reg prometheus.Registerer) *Counters {
	c := &Counters{
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Completed device poll cycles.",
		}, []string{"adapter", "result"}),
		pollFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_failures_total",
			Help:      "Failed device poll cycles by reason.",
		}, []string{"adapter", "reason"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Change events emitted to the automation server.",
		}, []string{"adapter"}),
		inboxDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbox_dropped_total",
			Help:      "Observation batches dropped after a device inbox stopped.",
		}, []string{"adapter"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands run by a handler, by outcome.",
		}, []string{"adapter", "outcome"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_dropped_total",
			Help:      "Commands dropped before reaching a handler, by reason.",
		}, []string{"adapter", "reason"}),
		adapters: make(map[string]*adapterCounters),
	}
	if reg != nil {
		reg.MustRegister(c.polls, c.pollFailures, c.events, c.inboxDropped, c.commands, c.dropped)
	}
	return c
}

func (c *Counters) adapter(name string) *adapterCounters {
	c.mu.RLock()
	a, ok := c.adapters[name]
	c.mu.RUnlock()
	if ok {
		return a
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if a, ok = c.adapters[name]; !ok {
		a = &adapterCounters{
			byReason:  make(map[string]uint64),
			byFailure: make(map[string]uint64),
		}
		c.adapters[name] = a
	}
	return a
}

// PollSucceeded counts a completed poll.
func (c *Counters) PollSucceeded(adapter string) {
	c.polls.WithLabelValues(adapter, "ok").Inc()
	c.adapter(adapter).pollsOK.Add(1)
}

// PollFailed counts a failed poll.
func (c *Counters) PollFailed(adapter, reason string) {
	c.polls.WithLabelValues(adapter, "failed").Inc()
	c.pollFailures.WithLabelValues(adapter, reason).Inc()
	a := c.adapter(adapter)
	a.pollsFailed.Add(1)
	a.mu.Lock()
	a.byFailure[reason]++
	a.mu.Unlock()
}

// EventEmitted counts an emitted event.
func (c *Counters) EventEmitted(adapter string) {
	c.events.WithLabelValues(adapter).Inc()
	c.adapter(adapter).events.Add(1)
}

// InboxDropped counts a batch dropped by a stopped inbox.
func (c *Counters) InboxDropped(adapter string) {
	c.inboxDropped.WithLabelValues(adapter).Inc()
	c.adapter(adapter).inboxDropped.Add(1)
}

// CommandHandled counts a command whose handler succeeded.
func (c *Counters) CommandHandled(adapter string) {
	c.commands.WithLabelValues(adapter, "ok").Inc()
	c.adapter(adapter).handled.Add(1)
}

// CommandFailed counts a command whose handler returned an error.
func (c *Counters) CommandFailed(adapter string) {
	c.commands.WithLabelValues(adapter, "failed").Inc()
	c.adapter(adapter).failed.Add(1)
}

// CommandDropped counts a command dropped before dispatch.
func (c *Counters) CommandDropped(adapter, reason string) {
	c.dropped.WithLabelValues(adapter, reason).Inc()
	a := c.adapter(adapter)
	a.dropped.Add(1)
	a.mu.Lock()
	a.byReason[reason]++
	a.mu.Unlock()
}

// Snapshot returns the totals of one adapter.
func (c *Counters) Snapshot(adapter string) AdapterCounts {
	c.mu.RLock()
	a, ok := c.adapters[adapter]
	c.mu.RUnlock()
	if !ok {
		return AdapterCounts{}
	}

	a.mu.Lock()
	byReason := make(map[string]uint64, len(a.byReason))
	for k, v := range a.byReason {
		byReason[k] = v
	}
	byFailure := make(map[string]uint64, len(a.byFailure))
	for k, v := range a.byFailure {
		byFailure[k] = v
	}
	a.mu.Unlock()

	return AdapterCounts{
		PollsOK:          a.pollsOK.Load(),
		PollsFailed:      a.pollsFailed.Load(),
		Events:           a.events.Load(),
		InboxDropped:     a.inboxDropped.Load(),
		CommandsHandled:  a.handled.Load(),
		CommandsFailed:   a.failed.Load(),
		CommandsDropped:  a.dropped.Load(),
		DroppedByReason:  byReason,
		FailuresByReason: byFailure,
	}
}

// Adapters returns the names of adapters with at least one count, sorted.
func (c *Counters) Adapters() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.adapters))
	for name := range c.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Totals sums every adapter's snapshot.
func (c *Counters) Totals() AdapterCounts {
	var t AdapterCounts
	t.DroppedByReason = make(map[string]uint64)
	t.FailuresByReason = make(map[string]uint64)
	for _, name := range c.Adapters() {
		s := c.Snapshot(name)
		t.PollsOK += s.PollsOK
		t.PollsFailed += s.PollsFailed
		t.Events += s.Events
		t.InboxDropped += s.InboxDropped
		t.CommandsHandled += s.CommandsHandled
		t.CommandsFailed += s.CommandsFailed
		t.CommandsDropped += s.CommandsDropped
		for k, v := range s.DroppedByReason {
			t.DroppedByReason[k] += v
		}
		for k, v := range s.FailuresByReason {
			t.FailuresByReason[k] += v
		}
	}
	return t
}
