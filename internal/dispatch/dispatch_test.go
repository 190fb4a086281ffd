package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-iobridge/internal/iopoint"
	"github.com/nerrad567/gray-logic-iobridge/internal/registry"
)

type fakeMetrics struct {
	mu      sync.Mutex
	handled int
	failed  int
	dropped map[string]int
}

func newFakeMetrics() *fakeMetrics { return &fakeMetrics{dropped: make(map[string]int)} }

func (m *fakeMetrics) CommandHandled(string) { m.mu.Lock(); m.handled++; m.mu.Unlock() }
func (m *fakeMetrics) CommandFailed(string)  { m.mu.Lock(); m.failed++; m.mu.Unlock() }
func (m *fakeMetrics) CommandDropped(_ string, reason string) {
	m.mu.Lock()
	m.dropped[reason]++
	m.mu.Unlock()
}

// player is a stand-in for a media player connection with several active
// players.
type player struct {
	mu      sync.Mutex
	active  []int
	actions []string
	volume  float64
}

func (p *player) record(action string) {
	p.mu.Lock()
	p.actions = append(p.actions, action)
	p.mu.Unlock()
}

func (p *player) Actions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.actions...)
}

func newPlayerRegistry(t *testing.T) (*registry.Registry, *player) {
	t.Helper()
	reg := registry.New("kodi")
	require.NoError(t, reg.Add("lounge",
		iopoint.Point{Name: "volume"},
		iopoint.Point{Name: "playStop"},
		iopoint.Point{Name: "dim", Direction: iopoint.DirectionOutput},
	))
	p := &player{active: []int{0, 1}}
	require.NoError(t, reg.SetHandle("lounge", p))
	return reg, p
}

func playerDispatcher(reg *registry.Registry, metrics Metrics) *Dispatcher {
	d := New(reg, WithMetrics(metrics))

	each := func(action string) func(context.Context, registry.View) error {
		return func(ctx context.Context, dev registry.View) error {
			p := dev.Handle.(*player)
			return ForEach(ctx,
				func(context.Context) ([]int, error) { return p.active, nil },
				func(_ context.Context, id int) error {
					p.record(action)
					return nil
				})
		}
	}
	d.Handle("playStop", iopoint.ModeAbsolute, TriStateHandler(TriStateActions{
		Stop:  each("stop"),
		Pause: each("pause"),
		Play:  each("play"),
	}))
	d.Handle("volume", iopoint.ModeAbsolute, func(_ context.Context, dev registry.View, cmd iopoint.Command) error {
		p := dev.Handle.(*player)
		p.mu.Lock()
		p.volume = cmd.Value
		p.mu.Unlock()
		return nil
	})
	return d
}

func TestDispatch_TriStateActsOnAllPlayers(t *testing.T) {
	tests := []struct {
		value float64
		want  string
	}{
		{0.2, "stop"},
		{0.5, "pause"},
		{0.9, "play"},
		{0.33, "pause"},
		{0.66, "play"},
	}

	for _, tc := range tests {
		reg, p := newPlayerRegistry(t)
		d := playerDispatcher(reg, nil)

		require.NoError(t, d.Dispatch(context.Background(),
			iopoint.Command{DeviceID: "lounge", Point: "playStop", Value: tc.value, Mode: iopoint.ModeAbsolute}))
		d.Wait()

		assert.Equal(t, []string{tc.want, tc.want}, p.Actions(), "value %v", tc.value)
	}
}

func TestDispatch_IncreaseSaturates(t *testing.T) {
	reg, p := newPlayerRegistry(t)
	_, err := reg.Update("lounge", "volume", 95, 0.95)
	require.NoError(t, err)
	d := playerDispatcher(reg, nil)

	require.NoError(t, d.Dispatch(context.Background(),
		iopoint.Command{DeviceID: "lounge", Point: "volume", Value: 0.1, Mode: iopoint.ModeIncrease}))
	d.Wait()

	assert.Equal(t, 1.0, p.volume)
	view, _ := reg.Get("lounge")
	v, _ := view.Value("volume")
	assert.Equal(t, 1.0, v, "remembered for the next relative command")

	// The device reporting its old raw value again is re-emitted.
	changed, err := reg.Update("lounge", "volume", 95, 0.95)
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestDispatch_ClampsOutOfRangeValues(t *testing.T) {
	reg, p := newPlayerRegistry(t)
	d := playerDispatcher(reg, nil)

	require.NoError(t, d.Dispatch(context.Background(),
		iopoint.Command{DeviceID: "lounge", Point: "volume", Value: 7, Mode: iopoint.ModeAbsolute}))
	d.Wait()

	assert.Equal(t, 1.0, p.volume)
	view, _ := reg.Get("lounge")
	v, _ := view.Value("volume")
	assert.Equal(t, 1.0, v)

	require.NoError(t, d.Dispatch(context.Background(),
		iopoint.Command{DeviceID: "lounge", Point: "volume", Value: -3, Mode: iopoint.ModeAbsolute}))
	d.Wait()
	require.NoError(t, d.Dispatch(context.Background(),
		iopoint.Command{DeviceID: "lounge", Point: "volume", Value: 0.2, Mode: iopoint.ModeIncrease}))
	d.Wait()

	view, _ = reg.Get("lounge")
	v, _ = view.Value("volume")
	assert.InDelta(t, 0.2, v, 1e-9, "increase starts from the clamped floor")
	assert.InDelta(t, 0.2, p.volume, 1e-9)
}

func TestDispatch_SuccessiveDecreasesCompound(t *testing.T) {
	reg, p := newPlayerRegistry(t)
	_, err := reg.Update("lounge", "volume", 50, 0.5)
	require.NoError(t, err)
	d := playerDispatcher(reg, nil)

	for i := 0; i < 3; i++ {
		require.NoError(t, d.Dispatch(context.Background(),
			iopoint.Command{DeviceID: "lounge", Point: "volume", Value: 0.1, Mode: iopoint.ModeDecrease}))
	}
	d.Wait()

	view, _ := reg.Get("lounge")
	v, _ := view.Value("volume")
	assert.InDelta(t, 0.2, v, 1e-9)
	// Handlers run concurrently; whichever finished last wrote the device.
	assert.GreaterOrEqual(t, p.volume, 0.2-1e-9)
	assert.LessOrEqual(t, p.volume, 0.4+1e-9)
}

func TestDispatch_Drops(t *testing.T) {
	reg, _ := newPlayerRegistry(t)
	require.NoError(t, reg.Add("bedroom", iopoint.Point{Name: "volume"}))
	metrics := newFakeMetrics()
	d := playerDispatcher(reg, metrics)

	tests := []struct {
		name   string
		cmd    iopoint.Command
		reason string
	}{
		{"unknown device", iopoint.Command{DeviceID: "attic", Point: "volume"}, iopoint.ReasonUnknownDevice},
		{"not connected", iopoint.Command{DeviceID: "bedroom", Point: "volume"}, iopoint.ReasonNotConnected},
		{"unknown point", iopoint.Command{DeviceID: "lounge", Point: "bass"}, iopoint.ReasonUnmapped},
		{"output point", iopoint.Command{DeviceID: "lounge", Point: "dim"}, iopoint.ReasonUnmapped},
		{"unmapped mode", iopoint.Command{DeviceID: "lounge", Point: "volume", Mode: iopoint.ModeDiscrete}, iopoint.ReasonUnmapped},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := d.Dispatch(context.Background(), tc.cmd)
			var uce *iopoint.UnknownCommandError
			require.ErrorAs(t, err, &uce)
			assert.Equal(t, tc.reason, uce.Reason)
		})
	}

	assert.Equal(t, 1, metrics.dropped[iopoint.ReasonUnknownDevice])
	assert.Equal(t, 1, metrics.dropped[iopoint.ReasonNotConnected])
	assert.Equal(t, 3, metrics.dropped[iopoint.ReasonUnmapped])
	assert.Zero(t, metrics.handled)
}

func TestDispatch_HandlerFailureIsCounted(t *testing.T) {
	reg, _ := newPlayerRegistry(t)
	metrics := newFakeMetrics()
	d := New(reg, WithMetrics(metrics))
	d.Handle("volume", iopoint.ModeAbsolute, func(context.Context, registry.View, iopoint.Command) error {
		return iopoint.Transport("Application.SetVolume", errors.New("broken pipe"))
	})
	d.Handle("playStop", iopoint.ModeAbsolute, func(context.Context, registry.View, iopoint.Command) error {
		panic("boom")
	})

	assert.NoError(t, d.Dispatch(context.Background(), iopoint.Command{DeviceID: "lounge", Point: "volume", Value: 0.3}))
	assert.NoError(t, d.Dispatch(context.Background(), iopoint.Command{DeviceID: "lounge", Point: "playStop", Value: 1}))
	d.Wait()

	assert.Equal(t, 2, metrics.failed)
}

func TestDispatch_FailedCommandStaysRememberedUntilDeviceReports(t *testing.T) {
	reg, _ := newPlayerRegistry(t)
	_, err := reg.Update("lounge", "volume", 40, 0.4)
	require.NoError(t, err)
	d := New(reg)
	d.Handle("volume", iopoint.ModeAbsolute, func(context.Context, registry.View, iopoint.Command) error {
		return iopoint.Transport("Application.SetVolume", errors.New("broken pipe"))
	})

	require.NoError(t, d.Dispatch(context.Background(),
		iopoint.Command{DeviceID: "lounge", Point: "volume", Value: 0.9, Mode: iopoint.ModeAbsolute}))
	d.Wait()

	view, _ := reg.Get("lounge")
	v, _ := view.Value("volume")
	assert.Equal(t, 0.9, v, "last command written wins")

	changed, err := reg.Update("lounge", "volume", 40, 0.4)
	require.NoError(t, err)
	assert.True(t, changed, "device report restores its own value")
	view, _ = reg.Get("lounge")
	v, _ = view.Value("volume")
	assert.Equal(t, 0.4, v)
}

func TestDispatch_HandlersDoNotBlockEachOther(t *testing.T) {
	reg, _ := newPlayerRegistry(t)
	d := New(reg)

	release := make(chan struct{})
	done := make(chan struct{})
	d.Handle("playStop", iopoint.ModeAbsolute, func(ctx context.Context, _ registry.View, _ iopoint.Command) error {
		<-release
		return nil
	})
	d.Handle("volume", iopoint.ModeAbsolute, func(context.Context, registry.View, iopoint.Command) error {
		close(done)
		return nil
	})

	require.NoError(t, d.Dispatch(context.Background(), iopoint.Command{DeviceID: "lounge", Point: "playStop", Value: 1}))
	require.NoError(t, d.Dispatch(context.Background(), iopoint.Command{DeviceID: "lounge", Point: "volume", Value: 0.5}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("volume handler waited for playStop handler")
	}
	close(release)
	d.Wait()
}

func TestDispatch_CloseCancelsHandlers(t *testing.T) {
	reg, _ := newPlayerRegistry(t)
	d := New(reg, WithTimeout(time.Minute))

	started := make(chan struct{})
	d.Handle("volume", iopoint.ModeAbsolute, func(ctx context.Context, _ registry.View, _ iopoint.Command) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})

	require.NoError(t, d.Dispatch(context.Background(), iopoint.Command{DeviceID: "lounge", Point: "volume", Value: 0.5}))
	<-started
	d.Close()

	assert.ErrorIs(t, d.Dispatch(context.Background(), iopoint.Command{DeviceID: "lounge", Point: "volume"}), ErrClosed)
}

func TestDiscreteHandler(t *testing.T) {
	var got []bool
	h := DiscreteHandler(func(_ context.Context, _ registry.View, on bool) error {
		got = append(got, on)
		return nil
	})
	for _, v := range []float64{0, 0.49, 0.5, 1} {
		require.NoError(t, h(context.Background(), registry.View{}, iopoint.Command{Value: v}))
	}
	assert.Equal(t, []bool{false, false, true, true}, got)
}

func TestForEach_ContinuesPastFailures(t *testing.T) {
	var seen []int
	err := ForEach(context.Background(),
		func(context.Context) ([]int, error) { return []int{1, 2, 3}, nil },
		func(_ context.Context, id int) error {
			seen = append(seen, id)
			if id == 2 {
				return errors.New("player 2 gone")
			}
			return nil
		})
	assert.Error(t, err)
	assert.Equal(t, []int{1, 2, 3}, seen)
}
