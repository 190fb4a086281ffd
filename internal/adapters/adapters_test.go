package adapters

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-iobridge/internal/adapters/base"
	"github.com/nerrad567/gray-logic-iobridge/internal/gpio"
	"github.com/nerrad567/gray-logic-iobridge/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-iobridge/internal/iopoint"
)

func fakeGPIO() (*GPIO, *int) {
	opened := 0
	return NewGPIO(func(backend string) (gpio.Driver, error) {
		if backend != gpio.BackendSysfs {
			return nil, gpio.ErrUnknownBackend
		}
		opened++
		return gpio.NewFake(), nil
	}, nil), &opened
}

func TestBuildEveryType(t *testing.T) {
	pins, opened := fakeGPIO()
	cfgs := []config.AdapterConfig{
		{Type: config.AdapterHue, Name: "hue", Devices: []config.DeviceConfig{{ID: "desk", Host: "bridge", Username: "u", Light: 1}}},
		{Type: config.AdapterKodi, Name: "kodi", Devices: []config.DeviceConfig{{ID: "tv", Host: "tv", Port: 9090}}},
		{Type: config.AdapterMPD, Name: "mpd", Devices: []config.DeviceConfig{{ID: "kitchen", Host: "pi", Port: 6600}}},
		{Type: config.AdapterKnob, Name: "knob", GPIO: gpio.BackendSysfs, Output: "absolute",
			Devices: []config.DeviceConfig{{ID: "dial", Pins: config.PinsConfig{A: 2, B: 4, Button: 3}}}},
		{Type: config.AdapterSwitch, Name: "switch", GPIO: gpio.BackendSysfs,
			Devices: []config.DeviceConfig{{ID: "hall", Pins: config.PinsConfig{On: 17, Off: 27}}}},
	}

	got, err := Build(cfgs, base.Deps{}, pins)
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i, a := range got {
		assert.Equal(t, cfgs[i].Name, a.Name())
		assert.Equal(t, []string{cfgs[i].Devices[0].ID}, a.Registry().IDs())
	}
	assert.Equal(t, 1, *opened, "gpio adapters share one driver per backend")
	assert.NoError(t, pins.Close())
}

func TestBuildErrors(t *testing.T) {
	pins, _ := fakeGPIO()

	_, err := Build([]config.AdapterConfig{{Type: "zigbee", Name: "z"}}, base.Deps{}, pins)
	assert.Error(t, err)

	_, err = Build([]config.AdapterConfig{{
		Type: config.AdapterHue, Name: "hue",
		Ranges: map[string]config.RangeConfig{"hue": {Min: 10, Max: 10}},
	}}, base.Deps{}, pins)
	var re *iopoint.RangeError
	assert.ErrorAs(t, err, &re)

	_, err = Build([]config.AdapterConfig{{Type: config.AdapterKnob, Name: "knob", GPIO: gpio.BackendRPIO}}, base.Deps{}, pins)
	assert.True(t, errors.Is(err, gpio.ErrUnknownBackend))

	_, err = Build([]config.AdapterConfig{{Type: config.AdapterSwitch, Name: "switch"}}, base.Deps{}, nil)
	assert.Error(t, err)
}
