package quadrature

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pins struct{ a, b bool }

var (
	cwCycle  = []pins{{true, false}, {true, true}, {false, true}, {false, false}}
	ccwCycle = []pins{{false, true}, {true, true}, {true, false}, {false, false}}
)

func feed(d *Decoder, seq []pins) []Step {
	var steps []Step
	for _, p := range seq {
		if s, ok := d.Update(p.a, p.b); ok {
			steps = append(steps, s)
		}
	}
	return steps
}

func newDecoder(t *testing.T, cfg Config) *Decoder {
	t.Helper()
	d, err := New(cfg)
	require.NoError(t, err)
	return d
}

func TestStateCode(t *testing.T) {
	assert.Equal(t, 0, StateCode(false, false))
	assert.Equal(t, 5, StateCode(true, false))
	assert.Equal(t, 6, StateCode(true, true))
	assert.Equal(t, 3, StateCode(false, true))
}

func TestFullCycleClockwise(t *testing.T) {
	d := newDecoder(t, Config{InitialPosition: 0.5})

	steps := feed(d, cwCycle)
	require.Len(t, steps, 1)
	assert.Equal(t, Clockwise, steps[0].Direction)
	assert.Equal(t, 1, steps[0].Count)
	assert.InDelta(t, 0.01, steps[0].Delta, 1e-12)
	assert.InDelta(t, 0.51, steps[0].Position, 1e-12)

	assert.Empty(t, feed(d, []pins{{false, false}}), "back at start, nothing moves")
}

func TestFullCycleCounterClockwise(t *testing.T) {
	d := newDecoder(t, Config{InitialPosition: 0.5})

	steps := feed(d, ccwCycle)
	require.Len(t, steps, 1)
	assert.Equal(t, CounterClockwise, steps[0].Direction)
	assert.InDelta(t, -0.01, steps[0].Delta, 1e-12)
	assert.InDelta(t, 0.49, d.Position(), 1e-12)
}

func TestBounceCancels(t *testing.T) {
	d := newDecoder(t, Config{QuartersPerDetent: 1, InitialPosition: 0.5})

	steps := feed(d, []pins{{true, false}, {false, false}})
	require.Len(t, steps, 2)
	assert.Equal(t, Clockwise, steps[0].Direction)
	assert.Equal(t, CounterClockwise, steps[1].Direction)
	assert.InDelta(t, 0.5, d.Position(), 1e-12)

	d4 := newDecoder(t, Config{InitialPosition: 0.5})
	assert.Empty(t, feed(d4, []pins{{true, false}, {false, false}, {true, false}, {false, false}}))
	assert.InDelta(t, 0.5, d4.Position(), 1e-12)
}

func TestDoubleStepUsesLastDirection(t *testing.T) {
	d := newDecoder(t, Config{QuartersPerDetent: 1, InitialPosition: 0.5})

	// Prime the direction with one clockwise quarter, then skip a state.
	first := feed(d, []pins{{true, false}})
	require.Len(t, first, 1)

	steps := feed(d, []pins{{false, true}})
	require.Len(t, steps, 1)
	assert.Equal(t, Clockwise, steps[0].Direction)
	assert.Equal(t, 2, steps[0].Count)
	assert.InDelta(t, 0.03, steps[0].Position-0.5, 1e-12)
}

func TestDoubleStepWithoutDirectionIsIgnored(t *testing.T) {
	d := newDecoder(t, Config{QuartersPerDetent: 1, InitialPosition: 0.5})

	assert.Empty(t, feed(d, []pins{{true, true}}))
	assert.InDelta(t, 0.5, d.Position(), 1e-12)

	// The state still advanced, so the next quarter is decoded from (1,1).
	steps := feed(d, []pins{{false, true}})
	require.Len(t, steps, 1)
	assert.Equal(t, Clockwise, steps[0].Direction)
}

func TestPositionClamps(t *testing.T) {
	d := newDecoder(t, Config{StepSize: 0.3, InitialPosition: 0.9})

	steps := feed(d, cwCycle)
	require.Len(t, steps, 1)
	assert.InDelta(t, 0.3, steps[0].Delta, 1e-12)
	assert.Equal(t, 1.0, steps[0].Position)

	d.SetPosition(-4)
	assert.Equal(t, 0.0, d.Position())
}

func TestSeed(t *testing.T) {
	d := newDecoder(t, Config{InitialPosition: 0.5})
	d.Seed(true, true)

	steps := feed(d, []pins{{false, true}, {false, false}, {true, false}, {true, true}})
	require.Len(t, steps, 1)
	assert.Equal(t, Clockwise, steps[0].Direction)
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{StepSize: -0.1})
	assert.Error(t, err)
	_, err = New(Config{QuartersPerDetent: 5})
	assert.Error(t, err)

	d := newDecoder(t, Config{})
	assert.Equal(t, DefaultStepSize, d.StepSize())
}

func TestDecodersAreIndependent(t *testing.T) {
	left := newDecoder(t, Config{InitialPosition: 0.5})
	right := newDecoder(t, Config{InitialPosition: 0.5})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 10; i++ {
			feed(left, cwCycle)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 10; i++ {
			feed(right, ccwCycle)
		}
	}()
	wg.Wait()

	assert.InDelta(t, 0.6, left.Position(), 1e-9)
	assert.InDelta(t, 0.4, right.Position(), 1e-9)
}
