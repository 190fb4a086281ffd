package gpio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenBackend(t *testing.T) {
	d, err := Open(BackendSysfs, nil)
	require.NoError(t, err)
	assert.IsType(t, &Sysfs{}, d)

	d, err = Open(BackendRPIO, nil)
	require.NoError(t, err)
	assert.IsType(t, &RPIO{}, d)

	_, err = Open("spi", nil)
	assert.ErrorIs(t, err, ErrUnknownBackend)
}

// fakeSysfs lays out an already exported pin under a temp root.
func fakeSysfs(t *testing.T, pin int, value string) string {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "gpio"+strconv.Itoa(pin))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "value"), []byte(value+"\n"), 0o644))
	return root
}

func TestSysfsOpenConfiguresPin(t *testing.T) {
	root := fakeSysfs(t, 17, "1")
	s := NewSysfs(root, nil)

	p, err := s.Open(17, PullUp)
	require.NoError(t, err)
	assert.Equal(t, 17, p.Number())

	dir := filepath.Join(root, "gpio17")
	direction, err := os.ReadFile(filepath.Join(dir, "direction"))
	require.NoError(t, err)
	assert.Equal(t, "in", string(direction))
	edge, err := os.ReadFile(filepath.Join(dir, "edge"))
	require.NoError(t, err)
	assert.Equal(t, "both", string(edge))

	_, err = os.Stat(filepath.Join(root, "export"))
	assert.True(t, errors.Is(err, os.ErrNotExist), "an exported pin must not be exported again")

	level, err := p.Read()
	require.NoError(t, err)
	assert.Equal(t, High, level)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "value"), []byte("0\n"), 0o644))
	level, err = p.Read()
	require.NoError(t, err)
	assert.Equal(t, Low, level)

	require.NoError(t, s.Close())
}

func TestSysfsPinBusy(t *testing.T) {
	root := fakeSysfs(t, 22, "0")
	s := NewSysfs(root, nil)
	t.Cleanup(func() { _ = s.Close() })

	p, err := s.Open(22, PullNone)
	require.NoError(t, err)

	_, err = s.Open(22, PullNone)
	assert.ErrorIs(t, err, ErrPinBusy)

	require.NoError(t, p.Close())
	_, err = s.Open(22, PullNone)
	assert.NoError(t, err, "a closed pin can be reopened")
}

func TestSysfsWatchStopsOnCancel(t *testing.T) {
	root := fakeSysfs(t, 23, "0")
	s := NewSysfs(root, nil)
	t.Cleanup(func() { _ = s.Close() })

	p, err := s.Open(23, PullNone)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Watch(ctx, func(Level) {}) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestInvalidPin(t *testing.T) {
	for _, d := range []Driver{NewSysfs(t.TempDir(), nil), NewRPIO(0, nil), NewFake()} {
		_, err := d.Open(-1, PullNone)
		assert.ErrorIs(t, err, ErrInvalidPin)
		_, err = d.Open(99, PullNone)
		assert.ErrorIs(t, err, ErrInvalidPin)
	}
}

func TestFakeEdges(t *testing.T) {
	f := NewFake()
	p, err := f.Open(4, PullUp)
	require.NoError(t, err)

	level, _ := p.Read()
	assert.Equal(t, High, level, "pull-up pins idle high")

	var (
		mu   sync.Mutex
		seen []Level
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Watch(ctx, func(l Level) {
			mu.Lock()
			seen = append(seen, l)
			mu.Unlock()
		})
	}()

	fp := f.Pin(4)
	fp.Set(Low)
	fp.Set(Low)
	fp.Set(High)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []Level{Low, High}, seen)
	mu.Unlock()

	cancel()
	<-done
}

func TestFakeFailOpenAndClose(t *testing.T) {
	f := NewFake()
	boom := errors.New("boom")
	f.FailOpen(3, boom)

	_, err := f.Open(3, PullUp)
	assert.ErrorIs(t, err, boom)

	p, err := f.Open(3, PullUp)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- p.Watch(context.Background(), func(Level) {}) }()

	require.NoError(t, f.Close())
	assert.NoError(t, <-done)

	_, err = f.Open(5, PullNone)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "high", High.String())
	assert.Equal(t, "low", Low.String())
}

func TestWatchAllMergesPins(t *testing.T) {
	f := NewFake()
	a, err := f.Open(2, PullUp)
	require.NoError(t, err)
	b, err := f.Open(4, PullUp)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	edges, errs := WatchAll(ctx, a, b)

	f.Pin(2).Set(Low)
	assert.Equal(t, Edge{Pin: 2, Level: Low}, <-edges)
	f.Pin(4).Set(Low)
	assert.Equal(t, Edge{Pin: 4, Level: Low}, <-edges)

	cancel()
	for range edges {
	}
	select {
	case err := <-errs:
		t.Fatalf("unexpected watch error: %v", err)
	default:
	}
}
