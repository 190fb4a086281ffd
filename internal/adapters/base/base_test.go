package base

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-iobridge/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-iobridge/internal/iopoint"
	"github.com/nerrad567/gray-logic-iobridge/internal/valuemap"
)

func TestRangesOverride(t *testing.T) {
	defaults := map[string]valuemap.Range{
		"volume": valuemap.MustRange(0, 100, valuemap.Floor),
		"hue":    valuemap.MustRange(0, 65535, valuemap.Floor),
	}

	got, err := Ranges(map[string]config.RangeConfig{
		"volume": {Min: 0, Max: 87, Rounding: "nearest"},
	}, defaults)
	require.NoError(t, err)

	assert.Equal(t, valuemap.Range{Min: 0, Max: 87, Rounding: valuemap.Nearest}, got["volume"])
	assert.Equal(t, defaults["hue"], got["hue"])
	assert.Equal(t, 100.0, defaults["volume"].Max, "defaults must not be modified")
}

func TestRangesRejectsBadConfig(t *testing.T) {
	defaults := map[string]valuemap.Range{"volume": valuemap.MustRange(0, 100, valuemap.Floor)}

	_, err := Ranges(map[string]config.RangeConfig{"volume": {Min: 10, Max: 10}}, defaults)
	var re *iopoint.RangeError
	assert.ErrorAs(t, err, &re)

	_, err = Ranges(map[string]config.RangeConfig{"bass": {Min: 0, Max: 1}}, defaults)
	assert.Error(t, err)

	_, err = Ranges(map[string]config.RangeConfig{"volume": {Min: 0, Max: 1, Rounding: "ceil"}}, defaults)
	assert.Error(t, err)
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	b := Backoff{Initial: 100 * time.Millisecond, Max: 300 * time.Millisecond}

	assert.Equal(t, 100*time.Millisecond, b.Next())
	assert.Equal(t, 150*time.Millisecond, b.Next())
	assert.Equal(t, 225*time.Millisecond, b.Next())
	assert.Equal(t, 300*time.Millisecond, b.Next())
	assert.Equal(t, 300*time.Millisecond, b.Next())

	b.Reset()
	assert.Equal(t, 100*time.Millisecond, b.Next())
}

func TestBackoffDefaults(t *testing.T) {
	var b Backoff
	assert.Equal(t, DefaultReconnectInterval, b.Next())
	assert.Equal(t, DefaultMaxReconnectInterval, b.Max)
}

func TestSuperviseRetriesUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var sessions atomic.Int32

	done := make(chan struct{})
	go func() {
		defer close(done)
		Supervise(ctx, nil, "mpd", "living-room", Backoff{Initial: time.Millisecond, Max: 2 * time.Millisecond},
			func(context.Context) error {
				if sessions.Add(1) == 3 {
					cancel()
				}
				return errors.New("connection refused")
			})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Supervise did not return after cancel")
	}
	assert.Equal(t, int32(3), sessions.Load())
}

func TestNewWiresParts(t *testing.T) {
	var got []iopoint.Event
	b := New("hue", Deps{Sink: iopoint.EventSinkFunc(func(e iopoint.Event) { got = append(got, e) })})

	require.NoError(t, b.Registry().Add("desk", iopoint.Point{Name: "brightness"}))
	assert.Equal(t, "hue", b.Name())
	assert.Equal(t, "hue", b.Dispatcher().Adapter())

	n := b.Detector().Apply("desk", []iopoint.Observation{{Point: "brightness", Raw: 128, Value: 0.5}})
	assert.Equal(t, 1, n)
	require.Len(t, got, 1)
	assert.Equal(t, "hue", got[0].Adapter)
}
