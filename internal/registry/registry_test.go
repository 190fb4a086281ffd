package registry

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-iobridge/internal/iopoint"
)

var huePoints = []iopoint.Point{
	{Name: "onOff", Kind: iopoint.KindDiscrete},
	{Name: "brightness", Kind: iopoint.KindFloat},
	{Name: "hue", Kind: iopoint.KindFloat},
}

type closer struct {
	closed int
	err    error
}

func (c *closer) Close() error {
	c.closed++
	return c.err
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := New("philipsHue")
	require.NoError(t, r.Add("Light1", huePoints...))
	return r
}

func TestAdd(t *testing.T) {
	r := newTestRegistry(t)

	assert.ErrorIs(t, r.Add("Light1"), ErrDeviceExists)
	assert.ErrorIs(t, r.Add(""), ErrInvalidID)
	assert.ErrorIs(t, r.Add("Light2", iopoint.Point{}), ErrInvalidID)

	require.NoError(t, r.Add("Light2"))
	assert.Equal(t, []string{"Light1", "Light2"}, r.IDs())
	assert.Equal(t, "philipsHue", r.Adapter())
}

func TestUpdate_DiffsOnRawValue(t *testing.T) {
	r := newTestRegistry(t)

	changed, err := r.Update("Light1", "brightness", uint8(50), 49.0/253)
	require.NoError(t, err)
	assert.True(t, changed, "first observation")

	changed, err = r.Update("Light1", "brightness", uint8(50), 49.0/253)
	require.NoError(t, err)
	assert.False(t, changed, "identical raw value")

	changed, err = r.Update("Light1", "brightness", uint8(51), 50.0/253)
	require.NoError(t, err)
	assert.True(t, changed)

	view, ok := r.Get("Light1")
	require.True(t, ok)
	v, ok := view.Value("brightness")
	require.True(t, ok)
	assert.InDelta(t, 50.0/253, v, 1e-12)
}

func TestUpdate_Errors(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Update("Nope", "hue", 1, 0)
	assert.ErrorIs(t, err, ErrDeviceNotFound)

	_, err = r.Update("Light1", "volume", 1, 0)
	assert.ErrorIs(t, err, ErrUnknownPoint)

	_, err = r.Update("Light1", "hue", []int{1}, 0)
	assert.ErrorIs(t, err, ErrIncomparable)
}

func TestRemember_ForcesNextReport(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Update("Light1", "hue", uint16(100), 100.0/65535)
	require.NoError(t, err)

	require.NoError(t, r.Remember("Light1", "hue", 0.5))
	view, _ := r.Get("Light1")
	v, _ := view.Value("hue")
	assert.Equal(t, 0.5, v)

	changed, err := r.Update("Light1", "hue", uint16(100), 100.0/65535)
	require.NoError(t, err)
	assert.True(t, changed, "device truth is re-reported after a command")

	assert.ErrorIs(t, r.Remember("Light1", "volume", 1), ErrUnknownPoint)
	assert.ErrorIs(t, r.Remember("Nope", "hue", 1), ErrDeviceNotFound)
}

func TestHandles(t *testing.T) {
	r := newTestRegistry(t)

	view, _ := r.Get("Light1")
	assert.False(t, view.Connected)
	_, ok := r.Handle("Light1")
	assert.False(t, ok)

	first := &closer{}
	require.NoError(t, r.SetHandle("Light1", first))
	h, ok := r.Handle("Light1")
	assert.True(t, ok)
	assert.Same(t, first, h)

	second := &closer{}
	require.NoError(t, r.SetHandle("Light1", second))
	assert.Equal(t, 1, first.closed, "replaced handle is closed")

	prev, err := r.ClearHandle("Light1")
	require.NoError(t, err)
	assert.Same(t, second, prev)
	assert.Equal(t, 0, second.closed, "ClearHandle does not close")

	view, _ = r.Get("Light1")
	assert.False(t, view.Connected)

	assert.ErrorIs(t, r.SetHandle("Nope", first), ErrDeviceNotFound)
	_, err = r.ClearHandle("Nope")
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestClose_ReleasesHandles(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Add("Light2"))
	require.NoError(t, r.Add("Light3"))

	ok := &closer{}
	failing := &closer{err: errors.New("socket already closed")}
	require.NoError(t, r.SetHandle("Light1", ok))
	require.NoError(t, r.SetHandle("Light2", failing))
	require.NoError(t, r.SetHandle("Light3", "not a closer"))

	err := r.Close()
	assert.ErrorContains(t, err, "Light2")
	assert.Equal(t, 1, ok.closed)
	assert.Equal(t, 1, failing.closed)

	_, connected := r.Handle("Light3")
	assert.False(t, connected)
}

func TestRegistrations(t *testing.T) {
	r := New("kodi")
	require.NoError(t, r.Add("lounge",
		iopoint.Point{Name: "volume"},
		iopoint.Point{Name: "dim", Direction: iopoint.DirectionOutput},
	))

	assert.Equal(t, []Registration{
		{DeviceID: "lounge", Point: "dim", Direction: iopoint.DirectionOutput, Kind: iopoint.KindFloat},
		{DeviceID: "lounge", Point: "volume", Direction: iopoint.DirectionDefault, Kind: iopoint.KindFloat},
	}, r.Registrations())

	view, _ := r.Get("lounge")
	p, ok := view.Point("dim")
	assert.True(t, ok)
	assert.Equal(t, iopoint.DirectionOutput, p.Direction)
	assert.Len(t, view.Points(), 2)
}

func TestGet_SnapshotIsIsolated(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Update("Light1", "hue", 1, 0.1)
	require.NoError(t, err)

	view, _ := r.Get("Light1")
	_, err = r.Update("Light1", "hue", 2, 0.2)
	require.NoError(t, err)

	v, _ := view.Value("hue")
	assert.Equal(t, 0.1, v, "earlier view is unaffected by later updates")

	_, ok := r.Get("Nope")
	assert.False(t, ok)
}

func TestConcurrentAccess(t *testing.T) {
	r := New("knob")
	for i := 0; i < 4; i++ {
		require.NoError(t, r.Add(fmt.Sprintf("knob%d", i), iopoint.Point{Name: "position"}))
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("knob%d", i)
		wg.Add(2)
		go func() {
			defer wg.Done()
			for n := 0; n < 200; n++ {
				if _, err := r.Update(id, "position", n, float64(n)/200); err != nil {
					t.Error(err)
					return
				}
			}
		}()
		go func() {
			defer wg.Done()
			for n := 0; n < 200; n++ {
				_ = r.Remember(id, "position", 0.5)
				r.Get(id)
			}
		}()
	}
	wg.Wait()
}
