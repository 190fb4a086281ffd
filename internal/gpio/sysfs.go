package gpio

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

const (
	defaultSysfsRoot = "/sys/class/gpio"

	// pollSlice bounds each poll(2) so cancellation is noticed.
	pollSlice = 100 * time.Millisecond

	// udev fixes permissions on a freshly exported pin asynchronously.
	exportWait  = time.Second
	exportRetry = 20 * time.Millisecond
)

// Sysfs drives pins through the legacy sysfs interface.
type Sysfs struct {
	root   string
	logger Logger

	mu       sync.Mutex
	pins     map[int]*sysfsPin
	exported []int
	closed   bool
}

// NewSysfs creates a sysfs driver rooted at root ("" selects
// /sys/class/gpio).
func NewSysfs(root string, logger Logger) *Sysfs {
	if root == "" {
		root = defaultSysfsRoot
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Sysfs{
		root:   root,
		logger: logger,
		pins:   make(map[int]*sysfsPin),
	}
}

// Open exports the pin if needed, configures it as an input with edge
// interrupts on both edges and opens its value file.
func (s *Sysfs) Open(number int, pull Pull) (Pin, error) {
	if err := validPin(number); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if _, busy := s.pins[number]; busy {
		return nil, fmt.Errorf("%w: %d", ErrPinBusy, number)
	}

	dir := filepath.Join(s.root, "gpio"+strconv.Itoa(number))
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		if err := writeFile(filepath.Join(s.root, "export"), strconv.Itoa(number)); err != nil {
			return nil, fmt.Errorf("exporting gpio %d: %w", number, err)
		}
		s.exported = append(s.exported, number)
	}

	if err := retryWrite(filepath.Join(dir, "direction"), "in"); err != nil {
		return nil, fmt.Errorf("configuring gpio %d direction: %w", number, err)
	}
	if err := retryWrite(filepath.Join(dir, "edge"), "both"); err != nil {
		return nil, fmt.Errorf("configuring gpio %d edge: %w", number, err)
	}
	if pull != PullNone {
		s.logger.Debug("sysfs cannot set pull resistors, using board defaults", "pin", number)
	}

	f, err := os.Open(filepath.Join(dir, "value"))
	if err != nil {
		return nil, fmt.Errorf("opening gpio %d value: %w", number, err)
	}

	p := &sysfsPin{
		driver: s,
		number: number,
		file:   f,
		done:   make(chan struct{}),
	}
	s.pins[number] = p
	return p, nil
}

// Close closes every open pin and unexports the pins this driver
// exported.
func (s *Sysfs) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	pins := make([]*sysfsPin, 0, len(s.pins))
	for _, p := range s.pins {
		pins = append(pins, p)
	}
	exported := s.exported
	s.exported = nil
	s.mu.Unlock()

	var errs []error
	for _, p := range pins {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, n := range exported {
		if err := writeFile(filepath.Join(s.root, "unexport"), strconv.Itoa(n)); err != nil {
			errs = append(errs, fmt.Errorf("unexporting gpio %d: %w", n, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Sysfs) release(number int) {
	s.mu.Lock()
	delete(s.pins, number)
	s.mu.Unlock()
}

type sysfsPin struct {
	driver *Sysfs
	number int
	file   *os.File

	readMu   sync.Mutex
	done     chan struct{}
	once     sync.Once
	watchers sync.WaitGroup
}

func (p *sysfsPin) Number() int { return p.number }

func (p *sysfsPin) Read() (Level, error) {
	p.readMu.Lock()
	defer p.readMu.Unlock()

	var buf [1]byte
	if _, err := p.file.ReadAt(buf[:], 0); err != nil {
		return Low, fmt.Errorf("reading gpio %d: %w", p.number, err)
	}
	switch buf[0] {
	case '0':
		return Low, nil
	case '1':
		return High, nil
	default:
		return Low, fmt.Errorf("reading gpio %d: unexpected value %q", p.number, buf[0])
	}
}

func (p *sysfsPin) Watch(ctx context.Context, fn func(Level)) error {
	select {
	case <-p.done:
		return nil
	default:
	}
	p.watchers.Add(1)
	defer p.watchers.Done()

	// The first read acknowledges any interrupt pending from configuration.
	if _, err := p.Read(); err != nil {
		return err
	}

	fds := []unix.PollFd{{
		Fd:     int32(p.file.Fd()),
		Events: unix.POLLPRI | unix.POLLERR,
	}}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.done:
			return nil
		default:
		}

		fds[0].Revents = 0
		n, err := unix.Poll(fds, int(pollSlice.Milliseconds()))
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("polling gpio %d: %w", p.number, err)
		}
		if n == 0 || fds[0].Revents&(unix.POLLPRI|unix.POLLERR) == 0 {
			continue
		}

		level, err := p.Read()
		if err != nil {
			return err
		}
		fn(level)
	}
}

func (p *sysfsPin) Close() error {
	var err error
	p.once.Do(func() {
		close(p.done)
		p.watchers.Wait()
		err = p.file.Close()
		p.driver.release(p.number)
	})
	return err
}

func writeFile(path, value string) error {
	return os.WriteFile(path, []byte(value), 0o644)
}

// retryWrite tolerates the permission errors seen while udev is still
// adjusting a newly exported pin.
func retryWrite(path, value string) error {
	deadline := time.Now().Add(exportWait)
	for {
		err := writeFile(path, value)
		if err == nil {
			return nil
		}
		if !errors.Is(err, fs.ErrPermission) && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(exportRetry)
	}
}
