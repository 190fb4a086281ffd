// Package mpd follows Music Player Daemon instances through the idle
// protocol and sends volume and transport commands back.
package mpd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/fhs/gompd/v2/mpd"

	"github.com/nerrad567/gray-logic-iobridge/internal/adapters/base"
	"github.com/nerrad567/gray-logic-iobridge/internal/detect"
	"github.com/nerrad567/gray-logic-iobridge/internal/dispatch"
	"github.com/nerrad567/gray-logic-iobridge/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-iobridge/internal/iopoint"
	"github.com/nerrad567/gray-logic-iobridge/internal/registry"
	"github.com/nerrad567/gray-logic-iobridge/internal/valuemap"
)

// Point names.
const (
	PointVolume   = "volume"
	PointPlayStop = "playStop"
)

// Idle subsystems the adapter follows.
const (
	subsystemMixer  = "mixer"
	subsystemPlayer = "player"
)

// DefaultKeepalive is the interval between pings on the command connection.
// MPD drops clients idle for longer than its connection_timeout (60s).
const DefaultKeepalive = 30 * time.Second

var errWatcherClosed = errors.New("mpd: idle watcher closed")

// DefaultRanges returns the native volume range.
func DefaultRanges() map[string]valuemap.Range {
	return map[string]valuemap.Range{
		PointVolume: valuemap.MustRange(0, 100, valuemap.Floor),
	}
}

// Client is the part of *mpd.Client the adapter uses.
type Client interface {
	Status() (mpd.Attrs, error)
	SetVolume(volume int) error
	Play(pos int) error
	Pause(pause bool) error
	Stop() error
	Ping() error
	Close() error
}

// Watcher delivers the names of changed subsystems.
type Watcher interface {
	Events() <-chan string
	Errors() <-chan error
	Close() error
}

// Dialer opens command and idle connections.
type Dialer interface {
	Dial(addr, password string) (Client, error)
	Watch(addr, password string, subsystems ...string) (Watcher, error)
}

type gompdDialer struct{}

func (gompdDialer) Dial(addr, password string) (Client, error) {
	var (
		c   *mpd.Client
		err error
	)
	if password == "" {
		c, err = mpd.Dial("tcp", addr)
	} else {
		c, err = mpd.DialAuthenticated("tcp", addr, password)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (gompdDialer) Watch(addr, password string, subsystems ...string) (Watcher, error) {
	w, err := mpd.NewWatcher("tcp", addr, password, subsystems...)
	if err != nil {
		return nil, err
	}
	return gompdWatcher{w}, nil
}

type gompdWatcher struct{ w *mpd.Watcher }

func (g gompdWatcher) Events() <-chan string { return g.w.Event }
func (g gompdWatcher) Errors() <-chan error  { return g.w.Error }
func (g gompdWatcher) Close() error          { return g.w.Close() }

// conn serialises use of one command connection. It is the registry handle.
type conn struct {
	mu     sync.Mutex
	client Client
}

func (c *conn) do(op string, fn func(Client) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := fn(c.client); err != nil {
		return iopoint.Transport(op, err)
	}
	return nil
}

func (c *conn) status() (mpd.Attrs, error) {
	var attrs mpd.Attrs
	err := c.do("status", func(cl Client) error {
		var err error
		attrs, err = cl.Status()
		return err
	})
	return attrs, err
}

func (c *conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client.Close()
}

// Adapter serves the configured MPD instances.
type Adapter struct {
	*base.Base

	ranges    map[string]valuemap.Range
	devices   []config.DeviceConfig
	dialer    Dialer
	reconnect base.Backoff
	keepalive time.Duration
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithDialer replaces the gompd dialer.
func WithDialer(d Dialer) Option {
	return func(a *Adapter) {
		if d != nil {
			a.dialer = d
		}
	}
}

// WithReconnect sets the reconnect backoff.
func WithReconnect(b base.Backoff) Option {
	return func(a *Adapter) { a.reconnect = b }
}

// WithKeepalive overrides DefaultKeepalive.
func WithKeepalive(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.keepalive = d
		}
	}
}

// New creates the adapter and registers its devices.
func New(cfg config.AdapterConfig, deps base.Deps, opts ...Option) (*Adapter, error) {
	ranges, err := base.Ranges(cfg.Ranges, DefaultRanges())
	if err != nil {
		return nil, fmt.Errorf("mpd adapter %s: %w", cfg.Name, err)
	}

	a := &Adapter{
		Base:      base.New(cfg.Name, deps),
		ranges:    ranges,
		devices:   cfg.Devices,
		dialer:    gompdDialer{},
		keepalive: DefaultKeepalive,
	}
	for _, opt := range opts {
		opt(a)
	}

	for _, d := range cfg.Devices {
		if err := a.Registry().Add(d.ID,
			iopoint.Point{Name: PointVolume},
			iopoint.Point{Name: PointPlayStop},
		); err != nil {
			return nil, fmt.Errorf("mpd adapter %s: %w", cfg.Name, err)
		}
	}
	a.registerHandlers()
	return a, nil
}

// Run keeps a session open to every instance until ctx is cancelled.
func (a *Adapter) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, d := range a.devices {
		inbox := a.Inbox()
		wg.Add(2)
		go func() {
			defer wg.Done()
			inbox.Run(ctx)
		}()
		go func() {
			defer wg.Done()
			base.Supervise(ctx, a.Logger, a.Name(), d.ID, a.reconnect, func(ctx context.Context) error {
				return a.session(ctx, d, inbox)
			})
		}()
	}
	wg.Wait()
	return nil
}

func address(d config.DeviceConfig) string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

func (a *Adapter) session(ctx context.Context, d config.DeviceConfig, inbox *detect.Inbox) error {
	addr := address(d)
	client, err := a.dialer.Dial(addr, d.Password)
	if err != nil {
		return iopoint.Transport("dial "+addr, err)
	}
	c := &conn{client: client}

	w, err := a.dialer.Watch(addr, d.Password, subsystemMixer, subsystemPlayer)
	if err != nil {
		_ = c.Close()
		return iopoint.Transport("watch "+addr, err)
	}
	defer func() {
		_, _ = a.Registry().ClearHandle(d.ID)
		_ = w.Close()
		_ = c.Close()
	}()

	if err := a.refresh(c, d.ID, inbox, subsystemMixer, subsystemPlayer); err != nil {
		return err
	}
	if err := a.Registry().SetHandle(d.ID, c); err != nil {
		return err
	}

	ping := time.NewTicker(a.keepalive)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case name, ok := <-w.Events():
			if !ok {
				return errWatcherClosed
			}
			if err := a.refresh(c, d.ID, inbox, name); err != nil {
				return err
			}
		case err, ok := <-w.Errors():
			if !ok {
				return errWatcherClosed
			}
			return iopoint.Transport("idle", err)
		case <-ping.C:
			if err := c.do("ping", Client.Ping); err != nil {
				return err
			}
		}
	}
}

// refresh queries status and pushes the points of the named subsystems.
func (a *Adapter) refresh(c *conn, id string, inbox *detect.Inbox, subsystems ...string) error {
	attrs, err := c.status()
	if err != nil {
		return err
	}

	var obs []iopoint.Observation
	for _, s := range subsystems {
		switch s {
		case subsystemMixer:
			o, ok, err := a.volume(attrs)
			if err != nil {
				a.Logger.Warn("mpd status", "adapter", a.Name(), "device", id, "error", err)
				continue
			}
			if ok {
				obs = append(obs, o)
			}
		case subsystemPlayer:
			st, ok := valuemap.ParseTriState(attrs["state"])
			if !ok {
				a.Logger.Warn("mpd status", "adapter", a.Name(), "device", id,
					"error", &iopoint.MalformedResponseError{What: "state " + strconv.Quote(attrs["state"])})
				continue
			}
			obs = append(obs, iopoint.Observation{Point: PointPlayStop, Raw: st, Value: st.Canonical()})
		}
	}
	if len(obs) > 0 {
		inbox.Push(id, obs...)
	}
	return nil
}

// volume reads the volume attribute; ok is false when the daemon has no
// mixer and reports -1.
func (a *Adapter) volume(attrs mpd.Attrs) (iopoint.Observation, bool, error) {
	raw, err := strconv.Atoi(attrs["volume"])
	if err != nil {
		return iopoint.Observation{}, false, &iopoint.MalformedResponseError{What: "volume", Err: err}
	}
	if raw < 0 {
		return iopoint.Observation{}, false, nil
	}
	return iopoint.Observation{
		Point: PointVolume,
		Raw:   raw,
		Value: a.ranges[PointVolume].ToCanonical(float64(raw)),
	}, true, nil
}

func connOf(dev registry.View) (*conn, error) {
	c, ok := dev.Handle.(*conn)
	if !ok {
		return nil, fmt.Errorf("mpd: device %s has no connection", dev.ID)
	}
	return c, nil
}

func (a *Adapter) registerHandlers() {
	disp := a.Dispatcher()

	disp.Handle(PointVolume, iopoint.ModeAbsolute, func(_ context.Context, dev registry.View, cmd iopoint.Command) error {
		c, err := connOf(dev)
		if err != nil {
			return err
		}
		volume := int(a.ranges[PointVolume].FromCanonical(cmd.Value))
		return c.do("setvol", func(cl Client) error { return cl.SetVolume(volume) })
	})

	action := func(op string, fn func(Client) error) func(context.Context, registry.View) error {
		return func(_ context.Context, dev registry.View) error {
			c, err := connOf(dev)
			if err != nil {
				return err
			}
			return c.do(op, fn)
		}
	}
	transport := dispatch.TriStateHandler(dispatch.TriStateActions{
		Stop:  action("stop", Client.Stop),
		Pause: action("pause", func(cl Client) error { return cl.Pause(true) }),
		Play:  action("play", func(cl Client) error { return cl.Play(-1) }),
	})
	disp.Handle(PointPlayStop, iopoint.ModeAbsolute, transport)
	disp.Handle(PointPlayStop, iopoint.ModeDiscrete, transport)
}
