package detect

import (
	"context"
	"sync"

	"github.com/nerrad567/gray-logic-iobridge/internal/iopoint"
)

const defaultInboxSize = 64

type message struct {
	deviceID string
	batch    []iopoint.Observation
}

// Inbox is a device's message queue. Transport callbacks push batches from
// any goroutine; Run applies them one at a time, in push order.
type Inbox struct {
	adapter string
	sink    BatchSink
	metrics Metrics

	ch      chan message
	stopped chan struct{}
	once    sync.Once
}

// NewInbox creates an inbox feeding sink. size <= 0 selects the default
// buffer.
func NewInbox(adapter string, sink BatchSink, size int, metrics Metrics) *Inbox {
	if size <= 0 {
		size = defaultInboxSize
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Inbox{
		adapter: adapter,
		sink:    sink,
		metrics: metrics,
		ch:      make(chan message, size),
		stopped: make(chan struct{}),
	}
}

// Deliver implements BatchSink by queueing the batch. It blocks while the
// buffer is full and drops the batch once the inbox has stopped.
func (in *Inbox) Deliver(deviceID string, batch []iopoint.Observation) {
	if len(batch) == 0 {
		return
	}
	select {
	case in.ch <- message{deviceID: deviceID, batch: batch}:
	case <-in.stopped:
		in.metrics.InboxDropped(in.adapter)
	}
}

// Push queues observations for one device.
func (in *Inbox) Push(deviceID string, obs ...iopoint.Observation) {
	in.Deliver(deviceID, obs)
}

// Run consumes batches until ctx is cancelled. Batches still queued at that
// point are dropped.
func (in *Inbox) Run(ctx context.Context) {
	defer in.once.Do(func() { close(in.stopped) })

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-in.ch:
			in.sink.Deliver(msg.deviceID, msg.batch)
		}
	}
}

// Len reports the number of queued batches.
func (in *Inbox) Len() int {
	return len(in.ch)
}
