// Package kodi follows Kodi media centers over their JSON-RPC websocket and
// polls the ambilight colour endpoint some builds expose over HTTP.
//
// Volume and transport state arrive as notifications; a command on
// playStop applies to every active player.
package kodi

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

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
	PointVolume     = "volume"
	PointPlayStop   = "playStop"
	PointDim        = "dim"
	PointHue        = "hue"
	PointSaturation = "saturation"
	PointBrightness = "brightness"
)

// Dim levels reported while playing and while stopped.
const (
	dimPlaying = 0.5
	dimStopped = 1.0
)

const (
	callTimeout       = 5 * time.Second
	notificationQueue = 16
)

// DefaultRanges returns the native ranges of the volume and colour points.
func DefaultRanges() map[string]valuemap.Range {
	return map[string]valuemap.Range{
		PointVolume:     valuemap.MustRange(0, 100, valuemap.Floor),
		PointHue:        valuemap.MustRange(0, 65535, valuemap.Floor),
		PointBrightness: valuemap.MustRange(1, 254, valuemap.Floor),
		PointSaturation: valuemap.MustRange(0, 254, valuemap.Floor),
	}
}

// DialFunc opens a JSON-RPC session.
type DialFunc func(ctx context.Context, url string, notify func(Notification)) (*Conn, error)

// Adapter serves the configured Kodi instances.
type Adapter struct {
	*base.Base

	poll      detect.PollConfig
	ranges    map[string]valuemap.Range
	devices   []config.DeviceConfig
	http      *http.Client
	reconnect base.Backoff
	dial      DialFunc
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithHTTPClient sets the client used for colour polling.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Adapter) {
		if c != nil {
			a.http = c
		}
	}
}

// WithReconnect sets the reconnect backoff.
func WithReconnect(b base.Backoff) Option {
	return func(a *Adapter) { a.reconnect = b }
}

// New creates the adapter and registers its devices.
func New(cfg config.AdapterConfig, deps base.Deps, opts ...Option) (*Adapter, error) {
	ranges, err := base.Ranges(cfg.Ranges, DefaultRanges())
	if err != nil {
		return nil, fmt.Errorf("kodi adapter %s: %w", cfg.Name, err)
	}

	a := &Adapter{
		Base: base.New(cfg.Name, deps),
		poll: detect.PollConfig{
			Interval: cfg.Poll.Interval,
			Jitter:   cfg.Poll.Jitter,
			Timeout:  cfg.Poll.Timeout,
		},
		ranges:  ranges,
		devices: cfg.Devices,
		http:    &http.Client{},
		dial:    Dial,
	}
	for _, opt := range opts {
		opt(a)
	}

	for _, d := range cfg.Devices {
		err := a.Registry().Add(d.ID,
			iopoint.Point{Name: PointVolume},
			iopoint.Point{Name: PointPlayStop},
			iopoint.Point{Name: PointDim, Direction: iopoint.DirectionOutput},
			iopoint.Point{Name: PointHue, Direction: iopoint.DirectionOutput},
			iopoint.Point{Name: PointSaturation, Direction: iopoint.DirectionOutput},
			iopoint.Point{Name: PointBrightness, Direction: iopoint.DirectionOutput},
		)
		if err != nil {
			return nil, fmt.Errorf("kodi adapter %s: %w", cfg.Name, err)
		}
	}
	a.registerHandlers()
	return a, nil
}

// Run keeps a session open to every instance and polls colour where a
// colour port is configured.
func (a *Adapter) Run(ctx context.Context) error {
	type instance struct {
		dev    config.DeviceConfig
		inbox  *detect.Inbox
		poller *detect.Poller
	}
	instances := make([]instance, 0, len(a.devices))
	for _, d := range a.devices {
		in := instance{dev: d, inbox: a.Inbox()}
		if d.ColorPort != 0 {
			p, err := a.Poller(d.ID, a.poll, a.colorFetcher(d), in.inbox)
			if err != nil {
				return fmt.Errorf("kodi adapter %s: %w", a.Name(), err)
			}
			in.poller = p
		}
		instances = append(instances, in)
	}

	var wg sync.WaitGroup
	for _, in := range instances {
		wg.Add(2)
		go func() {
			defer wg.Done()
			in.inbox.Run(ctx)
		}()
		go func() {
			defer wg.Done()
			base.Supervise(ctx, a.Logger, a.Name(), in.dev.ID, a.reconnect, func(ctx context.Context) error {
				return a.session(ctx, in.dev, in.inbox)
			})
		}()
		if in.poller != nil {
			wg.Add(1)
			go func() {
				defer wg.Done()
				in.poller.Run(ctx)
			}()
		}
	}
	wg.Wait()
	return nil
}

func rpcURL(d config.DeviceConfig) string {
	return "ws://" + net.JoinHostPort(d.Host, strconv.Itoa(d.Port)) + "/jsonrpc"
}

// session serves one connection until it drops.
func (a *Adapter) session(ctx context.Context, d config.DeviceConfig, inbox *detect.Inbox) error {
	notes := make(chan Notification, notificationQueue)
	conn, err := a.dial(ctx, rpcURL(d), func(n Notification) {
		select {
		case notes <- n:
		default:
			a.Logger.Warn("kodi notification dropped", "adapter", a.Name(), "device", d.ID, "method", n.Method)
		}
	})
	if err != nil {
		return err
	}
	defer func() {
		_, _ = a.Registry().ClearHandle(d.ID)
		_ = conn.Close()
	}()

	if err := a.refreshVolume(ctx, conn, d.ID, inbox); err != nil {
		return err
	}
	if err := a.Registry().SetHandle(d.ID, conn); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-conn.Done():
			return conn.Err()
		case n := <-notes:
			a.handleNotification(ctx, conn, d.ID, inbox, n)
		}
	}
}

func (a *Adapter) handleNotification(ctx context.Context, conn *Conn, id string, inbox *detect.Inbox, n Notification) {
	switch n.Method {
	case "Application.OnVolumeChanged":
		if err := a.refreshVolume(ctx, conn, id, inbox); err != nil {
			a.Logger.Warn("kodi volume query failed", "adapter", a.Name(), "device", id, "error", err)
		}
	case "Player.OnPlay", "Player.OnResume":
		inbox.Push(id, playStop(valuemap.Play), dim(dimPlaying))
	case "Player.OnPause":
		inbox.Push(id, playStop(valuemap.Pause))
	case "Player.OnStop":
		inbox.Push(id, playStop(valuemap.Stop), dim(dimStopped))
	default:
		a.Logger.Debug("kodi notification ignored", "adapter", a.Name(), "device", id, "method", n.Method)
	}
}

func playStop(s valuemap.TriState) iopoint.Observation {
	return iopoint.Observation{Point: PointPlayStop, Raw: s, Value: s.Canonical()}
}

func dim(v float64) iopoint.Observation {
	return iopoint.Observation{Point: PointDim, Raw: v, Value: v}
}

func (a *Adapter) refreshVolume(ctx context.Context, conn *Conn, id string, inbox *detect.Inbox) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	var props struct {
		Volume *float64 `json:"volume"`
	}
	params := map[string]any{"properties": []string{"volume"}}
	if err := conn.Call(ctx, "Application.GetProperties", params, &props); err != nil {
		return err
	}
	if props.Volume == nil {
		return &iopoint.MalformedResponseError{What: "Application.GetProperties: no volume"}
	}

	raw := int(*props.Volume)
	inbox.Push(id, iopoint.Observation{
		Point: PointVolume,
		Raw:   raw,
		Value: a.ranges[PointVolume].ToCanonical(float64(raw)),
	})
	return nil
}

// color is the ambilight endpoint payload.
type color struct {
	H *float64 `json:"h"`
	S *float64 `json:"s"`
	V *float64 `json:"v"`
}

func (a *Adapter) colorFetcher(d config.DeviceConfig) detect.FetchFunc {
	url := "http://" + net.JoinHostPort(d.Host, strconv.Itoa(d.ColorPort)) + d.ColorPath
	return func(ctx context.Context) ([]iopoint.Observation, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("building colour request: %w", err)
		}
		resp, err := a.http.Do(req)
		if err != nil {
			return nil, iopoint.Transport("get colour", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, iopoint.Transport("get colour", fmt.Errorf("status %d", resp.StatusCode))
		}

		var c color
		if err := json.NewDecoder(resp.Body).Decode(&c); err != nil {
			return nil, &iopoint.MalformedResponseError{What: "colour", Err: err}
		}
		if c.H == nil || c.S == nil || c.V == nil {
			return nil, &iopoint.MalformedResponseError{What: "colour: h, s and v are required"}
		}

		r := a.ranges
		return []iopoint.Observation{
			{Point: PointHue, Raw: *c.H, Value: r[PointHue].ToCanonical(*c.H)},
			{Point: PointBrightness, Raw: *c.V, Value: r[PointBrightness].ToCanonical(*c.V)},
			{Point: PointSaturation, Raw: *c.S, Value: r[PointSaturation].ToCanonical(*c.S)},
		}, nil
	}
}

type player struct {
	ID   int    `json:"playerid"`
	Type string `json:"type"`
}

func sessionOf(dev registry.View) (*Conn, error) {
	c, ok := dev.Handle.(*Conn)
	if !ok {
		return nil, fmt.Errorf("kodi: device %s has no session", dev.ID)
	}
	return c, nil
}

func (a *Adapter) registerHandlers() {
	disp := a.Dispatcher()

	volume := func(ctx context.Context, dev registry.View, cmd iopoint.Command) error {
		c, err := sessionOf(dev)
		if err != nil {
			return err
		}
		volume := int(a.ranges[PointVolume].FromCanonical(cmd.Value))
		return c.Call(ctx, "Application.SetVolume", map[string]any{"volume": volume}, nil)
	}
	disp.Handle(PointVolume, iopoint.ModeAbsolute, volume)
	// Legacy "d" on volume carries an absolute level.
	disp.Handle(PointVolume, iopoint.ModeDiscrete, volume)

	eachPlayer := func(action func(ctx context.Context, c *Conn, p player) error) func(context.Context, registry.View) error {
		return func(ctx context.Context, dev registry.View) error {
			c, err := sessionOf(dev)
			if err != nil {
				return err
			}
			list := func(ctx context.Context) ([]player, error) {
				var players []player
				err := c.Call(ctx, "Player.GetActivePlayers", nil, &players)
				return players, err
			}
			return dispatch.ForEach(ctx, list, func(ctx context.Context, p player) error {
				return action(ctx, c, p)
			})
		}
	}

	transport := dispatch.TriStateHandler(dispatch.TriStateActions{
		Stop: eachPlayer(func(ctx context.Context, c *Conn, p player) error {
			return c.Call(ctx, "Player.Stop", map[string]any{"playerid": p.ID}, nil)
		}),
		Pause: eachPlayer(func(ctx context.Context, c *Conn, p player) error {
			return c.Call(ctx, "Player.PlayPause", map[string]any{"playerid": p.ID, "play": false}, nil)
		}),
		Play: eachPlayer(func(ctx context.Context, c *Conn, p player) error {
			return c.Call(ctx, "Player.PlayPause", map[string]any{"playerid": p.ID, "play": true}, nil)
		}),
	})
	disp.Handle(PointPlayStop, iopoint.ModeAbsolute, transport)
	disp.Handle(PointPlayStop, iopoint.ModeDiscrete, transport)
}
