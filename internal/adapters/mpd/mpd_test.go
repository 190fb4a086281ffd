package mpd

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/fhs/gompd/v2/mpd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-iobridge/internal/adapters/base"
	"github.com/nerrad567/gray-logic-iobridge/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-iobridge/internal/iopoint"
)

// daemon is an in-memory MPD shared by every connection the fake dialer
// hands out.
type daemon struct {
	mu       sync.Mutex
	volume   int
	state    string
	calls    []string
	dials    int
	watchers []*fakeWatcher
	dialErr  error
}

func (d *daemon) set(volume int, state string) {
	d.mu.Lock()
	d.volume, d.state = volume, state
	d.mu.Unlock()
}

func (d *daemon) record(call string) {
	d.mu.Lock()
	d.calls = append(d.calls, call)
	d.mu.Unlock()
}

func (d *daemon) callLog() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

func (d *daemon) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *daemon) watcher() *fakeWatcher {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.watchers[len(d.watchers)-1]
}

func (d *daemon) Dial(addr, password string) (Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	return &fakeClient{d: d}, nil
}

func (d *daemon) Watch(addr, password string, subsystems ...string) (Watcher, error) {
	w := &fakeWatcher{events: make(chan string, 8), errs: make(chan error, 1)}
	d.mu.Lock()
	d.watchers = append(d.watchers, w)
	d.mu.Unlock()
	return w, nil
}

type fakeClient struct{ d *daemon }

func (c *fakeClient) Status() (mpd.Attrs, error) {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	return mpd.Attrs{"volume": strconv.Itoa(c.d.volume), "state": c.d.state}, nil
}

func (c *fakeClient) SetVolume(v int) error {
	c.d.record("setvol " + strconv.Itoa(v))
	return nil
}

func (c *fakeClient) Play(pos int) error {
	c.d.record("play " + strconv.Itoa(pos))
	return nil
}

func (c *fakeClient) Pause(p bool) error {
	c.d.record("pause " + strconv.FormatBool(p))
	return nil
}

func (c *fakeClient) Stop() error  { c.d.record("stop"); return nil }
func (c *fakeClient) Ping() error  { return nil }
func (c *fakeClient) Close() error { return nil }

type fakeWatcher struct {
	events chan string
	errs   chan error
}

func (w *fakeWatcher) Events() <-chan string { return w.events }
func (w *fakeWatcher) Errors() <-chan error  { return w.errs }
func (w *fakeWatcher) Close() error          { return nil }

type recorder struct {
	mu     sync.Mutex
	events []iopoint.Event
}

func (r *recorder) Emit(e iopoint.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) values(point string) []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []float64
	for _, e := range r.events {
		if e.Point == point {
			out = append(out, e.Value)
		}
	}
	return out
}

func newAdapter(t *testing.T, d *daemon) (*Adapter, *recorder) {
	t.Helper()
	cfg := config.AdapterConfig{
		Type:    config.AdapterMPD,
		Name:    "mpd",
		Devices: []config.DeviceConfig{{ID: "kitchen", Host: "localhost", Port: 6600}},
	}
	rec := &recorder{}
	a, err := New(cfg, base.Deps{Sink: rec},
		WithDialer(d),
		WithReconnect(base.Backoff{Initial: 10 * time.Millisecond, Max: 20 * time.Millisecond}),
	)
	require.NoError(t, err)
	return a, rec
}

func run(t *testing.T, a *Adapter) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = a.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		a.Dispatcher().Close()
	})
}

func startAdapter(t *testing.T, d *daemon) (*Adapter, *recorder) {
	t.Helper()
	a, rec := newAdapter(t, d)
	run(t, a)
	require.Eventually(t, func() bool {
		_, ok := a.Registry().Handle("kitchen")
		return ok
	}, time.Second, 5*time.Millisecond, "mpd never connected")
	return a, rec
}

func TestInitialStatusReported(t *testing.T) {
	d := &daemon{volume: 40, state: "pause"}
	_, rec := startAdapter(t, d)

	require.Eventually(t, func() bool {
		return len(rec.values(PointVolume)) == 1 && len(rec.values(PointPlayStop)) == 1
	}, time.Second, 5*time.Millisecond)
	assert.InDelta(t, 0.4, rec.values(PointVolume)[0], 1e-12)
	assert.Equal(t, []float64{0.5}, rec.values(PointPlayStop))
}

func TestIdleEventsRefreshOnlyTheirSubsystem(t *testing.T) {
	d := &daemon{volume: 40, state: "stop"}
	_, rec := startAdapter(t, d)
	require.Eventually(t, func() bool { return len(rec.values(PointPlayStop)) == 1 }, time.Second, 5*time.Millisecond)

	d.set(55, "play")
	d.watcher().events <- subsystemPlayer
	require.Eventually(t, func() bool { return len(rec.values(PointPlayStop)) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []float64{0, 1}, rec.values(PointPlayStop))
	assert.Len(t, rec.values(PointVolume), 1, "player event does not report volume")

	d.watcher().events <- subsystemMixer
	require.Eventually(t, func() bool { return len(rec.values(PointVolume)) == 2 }, time.Second, 5*time.Millisecond)
	assert.InDelta(t, 0.55, rec.values(PointVolume)[1], 1e-12)

	// Unchanged volume is not reported again.
	d.watcher().events <- subsystemMixer
	time.Sleep(30 * time.Millisecond)
	assert.Len(t, rec.values(PointVolume), 2)
}

func TestNoMixerSkipsVolume(t *testing.T) {
	d := &daemon{volume: -1, state: "play"}
	_, rec := startAdapter(t, d)

	require.Eventually(t, func() bool { return len(rec.values(PointPlayStop)) == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, rec.values(PointVolume))
}

func TestTriStateCommands(t *testing.T) {
	d := &daemon{volume: 10, state: "stop"}
	a, _ := startAdapter(t, d)

	for _, tc := range []struct {
		value float64
		want  string
	}{
		{0.2, "stop"},
		{0.5, "pause true"},
		{0.9, "play -1"},
	} {
		require.NoError(t, a.Dispatcher().Dispatch(context.Background(), iopoint.Command{
			DeviceID: "kitchen", Point: PointPlayStop, Value: tc.value, Mode: iopoint.ModeAbsolute,
		}))
		a.Dispatcher().Wait()
		calls := d.callLog()
		require.NotEmpty(t, calls)
		assert.Equal(t, tc.want, calls[len(calls)-1], "value %v", tc.value)
	}
}

func TestVolumeIncreaseClampsAtFull(t *testing.T) {
	d := &daemon{volume: 95, state: "play"}
	a, rec := startAdapter(t, d)
	require.Eventually(t, func() bool { return len(rec.values(PointVolume)) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, a.Dispatcher().Dispatch(context.Background(), iopoint.Command{
		DeviceID: "kitchen", Point: PointVolume, Value: 0.1, Mode: iopoint.ModeIncrease,
	}))
	a.Dispatcher().Wait()
	assert.Equal(t, []string{"setvol 100"}, d.callLog())
}

func TestCommandsDroppedUntilConnected(t *testing.T) {
	d := &daemon{dialErr: errors.New("connection refused")}
	a, _ := newAdapter(t, d)
	run(t, a)
	require.Eventually(t, func() bool { return d.dialCount() >= 2 }, time.Second, 5*time.Millisecond, "dial is retried")

	err := a.Dispatcher().Dispatch(context.Background(), iopoint.Command{
		DeviceID: "kitchen", Point: PointVolume, Value: 0.5, Mode: iopoint.ModeAbsolute,
	})
	var uc *iopoint.UnknownCommandError
	require.ErrorAs(t, err, &uc)
	assert.Equal(t, iopoint.ReasonNotConnected, uc.Reason)
	assert.Empty(t, d.callLog())
}

func TestWatcherErrorReconnects(t *testing.T) {
	d := &daemon{volume: 10, state: "stop"}
	a, _ := startAdapter(t, d)
	first, _ := a.Registry().Handle("kitchen")

	d.watcher().errs <- errors.New("connection reset")

	require.Eventually(t, func() bool {
		h, ok := a.Registry().Handle("kitchen")
		return ok && h != first
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, d.dialCount())
}
