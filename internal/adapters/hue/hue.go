// Package hue polls Philips Hue lights through the bridge REST API and turns
// commands into light state changes.
package hue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"

	"github.com/amimof/huego"

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
	PointOnOff      = "onOff"
	PointHue        = "hue"
	PointBrightness = "brightness"
	PointSaturation = "saturation"
)

// transitionTime is in units of 100 ms.
const transitionTime = 2

// failuresBeforeOffline is how many consecutive failed polls mark a light
// disconnected.
const failuresBeforeOffline = 3

// DefaultRanges returns the native ranges of the bridge API.
func DefaultRanges() map[string]valuemap.Range {
	return map[string]valuemap.Range{
		PointHue:        valuemap.MustRange(0, 65535, valuemap.Floor),
		PointBrightness: valuemap.MustRange(1, 254, valuemap.Floor),
		PointSaturation: valuemap.MustRange(0, 254, valuemap.Floor),
	}
}

// Client is the part of *huego.Bridge the adapter uses.
type Client interface {
	GetLightContext(ctx context.Context, id int) (*huego.Light, error)
	SetLightStateContext(ctx context.Context, id int, state huego.State) (*huego.Response, error)
}

// NewClientFunc creates the client for one bridge.
type NewClientFunc func(host, username string) Client

func newHuegoClient(host, username string) Client {
	return huego.New(host, username)
}

// light is the connection handle stored in the registry.
type light struct {
	client Client
	number int
}

// Adapter serves the configured lights.
type Adapter struct {
	*base.Base

	poll      detect.PollConfig
	ranges    map[string]valuemap.Range
	devices   []config.DeviceConfig
	newClient NewClientFunc
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithClient replaces the huego client constructor.
func WithClient(fn NewClientFunc) Option {
	return func(a *Adapter) {
		if fn != nil {
			a.newClient = fn
		}
	}
}

// New creates the adapter and registers its lights. Range errors are
// returned here, before anything runs.
func New(cfg config.AdapterConfig, deps base.Deps, opts ...Option) (*Adapter, error) {
	ranges, err := base.Ranges(cfg.Ranges, DefaultRanges())
	if err != nil {
		return nil, fmt.Errorf("hue adapter %s: %w", cfg.Name, err)
	}

	a := &Adapter{
		Base: base.New(cfg.Name, deps),
		poll: detect.PollConfig{
			Interval: cfg.Poll.Interval,
			Jitter:   cfg.Poll.Jitter,
			Timeout:  cfg.Poll.Timeout,
		},
		ranges:    ranges,
		devices:   cfg.Devices,
		newClient: newHuegoClient,
	}
	for _, opt := range opts {
		opt(a)
	}

	for _, d := range cfg.Devices {
		err := a.Registry().Add(d.ID,
			iopoint.Point{Name: PointOnOff, Kind: iopoint.KindDiscrete},
			iopoint.Point{Name: PointHue},
			iopoint.Point{Name: PointBrightness},
			iopoint.Point{Name: PointSaturation},
		)
		if err != nil {
			return nil, fmt.Errorf("hue adapter %s: %w", cfg.Name, err)
		}
	}
	a.registerHandlers()
	return a, nil
}

// Run polls every light until ctx is cancelled.
func (a *Adapter) Run(ctx context.Context) error {
	pollers := make([]*detect.Poller, 0, len(a.devices))
	for _, d := range a.devices {
		dev := &device{
			id:      d.ID,
			adapter: a,
			light:   &light{client: a.newClient(bridgeHost(d), d.Username), number: d.Light},
		}
		p, err := a.Poller(d.ID, a.poll, dev.fetch, a.Detector())
		if err != nil {
			return fmt.Errorf("hue adapter %s: %w", a.Name(), err)
		}
		pollers = append(pollers, p)
	}

	var wg sync.WaitGroup
	for _, p := range pollers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Run(ctx)
		}()
	}
	wg.Wait()
	return nil
}

func bridgeHost(d config.DeviceConfig) string {
	if d.Port == 0 {
		return d.Host
	}
	return d.Host + ":" + strconv.Itoa(d.Port)
}

// device is the poll state of one light. Only its poller touches it.
type device struct {
	id       string
	adapter  *Adapter
	light    *light
	online   bool
	failures int
}

func (d *device) fetch(ctx context.Context) ([]iopoint.Observation, error) {
	l, err := d.light.client.GetLightContext(ctx, d.light.number)
	if err != nil {
		d.failed()
		return nil, classify("get light", err)
	}
	if l == nil || l.State == nil {
		return nil, &iopoint.MalformedResponseError{What: "light " + strconv.Itoa(d.light.number) + " has no state"}
	}
	d.reachable()

	s := l.State
	r := d.adapter.ranges
	return []iopoint.Observation{
		{Point: PointOnOff, Raw: s.On, Value: valuemap.Bool(s.On), Kind: iopoint.KindDiscrete},
		{Point: PointHue, Raw: s.Hue, Value: r[PointHue].ToCanonical(float64(s.Hue))},
		{Point: PointBrightness, Raw: s.Bri, Value: r[PointBrightness].ToCanonical(float64(s.Bri))},
		{Point: PointSaturation, Raw: s.Sat, Value: r[PointSaturation].ToCanonical(float64(s.Sat))},
	}, nil
}

func (d *device) reachable() {
	d.failures = 0
	if d.online {
		return
	}
	if err := d.adapter.Registry().SetHandle(d.id, d.light); err == nil {
		d.online = true
	}
}

func (d *device) failed() {
	d.failures++
	if d.online && d.failures >= failuresBeforeOffline {
		_, _ = d.adapter.Registry().ClearHandle(d.id)
		d.online = false
	}
}

// classify separates undecodable bridge answers from network failures.
func classify(op string, err error) error {
	var syntax *json.SyntaxError
	var typ *json.UnmarshalTypeError
	if errors.As(err, &syntax) || errors.As(err, &typ) {
		return &iopoint.MalformedResponseError{What: op, Err: err}
	}
	return iopoint.Transport(op, err)
}

func (a *Adapter) registerHandlers() {
	disp := a.Dispatcher()

	onOff := dispatch.DiscreteHandler(func(ctx context.Context, dev registry.View, on bool) error {
		return a.set(ctx, dev, huego.State{On: on})
	})
	disp.Handle(PointOnOff, iopoint.ModeAbsolute, onOff)
	disp.Handle(PointOnOff, iopoint.ModeDiscrete, onOff)

	// Legacy clients send "d" for continuous points too; the value is
	// taken as-is.
	continuous := func(point string, h dispatch.Handler) {
		disp.Handle(point, iopoint.ModeAbsolute, h)
		disp.Handle(point, iopoint.ModeDiscrete, h)
	}

	continuous(PointHue, func(ctx context.Context, dev registry.View, cmd iopoint.Command) error {
		st := huego.State{On: true, Hue: uint16(native(a.ranges[PointHue], cmd.Value, math.MaxUint16))}
		if st.Hue == 0 {
			// huego omits a zero hue; the bridge treats 65535 as the same red.
			st.Hue = math.MaxUint16
		}
		return a.set(ctx, dev, st)
	})

	continuous(PointBrightness, func(ctx context.Context, dev registry.View, cmd iopoint.Command) error {
		bri := uint8(native(a.ranges[PointBrightness], cmd.Value, 254))
		if bri == 0 {
			bri = 1
		}
		return a.set(ctx, dev, huego.State{On: true, Bri: bri})
	})

	continuous(PointSaturation, func(ctx context.Context, dev registry.View, cmd iopoint.Command) error {
		st := huego.State{On: true, Sat: uint8(native(a.ranges[PointSaturation], cmd.Value, 254))}
		if st.Sat == 0 {
			// A zero sat is omitted on the wire; step down to the floor instead.
			st.SatInc = -254
		}
		return a.set(ctx, dev, st)
	})
}

// native converts a canonical value and bounds it to what the API field
// can carry.
func native(r valuemap.Range, canonical, limit float64) float64 {
	v := r.FromCanonical(canonical)
	switch {
	case v < 0:
		return 0
	case v > limit:
		return limit
	}
	return v
}

func (a *Adapter) set(ctx context.Context, dev registry.View, st huego.State) error {
	l, ok := dev.Handle.(*light)
	if !ok {
		return fmt.Errorf("hue: device %s has no light handle", dev.ID)
	}
	st.TransitionTime = transitionTime
	if _, err := l.client.SetLightStateContext(ctx, l.number, st); err != nil {
		return classify("set light state", err)
	}
	return nil
}
