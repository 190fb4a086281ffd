package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
bridge:
  id: "test-bridge"
  codec: cbor
database:
  path: "/tmp/test.db"
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
adapters:
  - type: hue
    name: philipsHue
    devices:
      - id: Light1
        host: 192.168.1.20
        username: newdeveloper
  - type: kodi
    poll:
      interval: 250ms
    devices:
      - id: livingRoom
        host: 192.168.1.30
        color_port: 8080
  - type: knob
    output: relative
    devices:
      - id: knob1
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Bridge.ID != "test-bridge" {
		t.Errorf("Bridge.ID = %q, want %q", cfg.Bridge.ID, "test-bridge")
	}
	if cfg.Bridge.Codec != "cbor" {
		t.Errorf("Bridge.Codec = %q, want cbor", cfg.Bridge.Codec)
	}
	if len(cfg.Adapters) != 3 {
		t.Fatalf("len(Adapters) = %d, want 3", len(cfg.Adapters))
	}

	hue := cfg.Adapters[0]
	if hue.Poll.Interval != time.Second || hue.Poll.Jitter != 0.25 {
		t.Errorf("hue poll = %v ± %v, want 1s ± 0.25", hue.Poll.Interval, hue.Poll.Jitter)
	}
	if hue.Devices[0].Light != 1 {
		t.Errorf("hue light = %d, want default 1", hue.Devices[0].Light)
	}

	kodi := cfg.Adapters[1]
	if kodi.Name != "kodi" {
		t.Errorf("kodi name = %q, want type as default name", kodi.Name)
	}
	if kodi.Poll.Interval != 250*time.Millisecond {
		t.Errorf("kodi poll interval = %v, want 250ms", kodi.Poll.Interval)
	}
	if kodi.Poll.Jitter != 0 {
		t.Errorf("kodi jitter = %v, want 0 when interval is set explicitly", kodi.Poll.Jitter)
	}
	if kodi.Devices[0].Port != 9090 || kodi.Devices[0].ColorPath != "/color" {
		t.Errorf("kodi device defaults = %+v", kodi.Devices[0])
	}

	knob := cfg.Adapters[2]
	if knob.GPIO != "sysfs" {
		t.Errorf("knob gpio = %q, want sysfs", knob.GPIO)
	}
	pins := knob.Devices[0].Pins
	if pins.A != 2 || pins.B != 4 || pins.Button != 3 {
		t.Errorf("knob pins = %+v, want a=2 b=4 button=3", pins)
	}
	if knob.Devices[0].StepSize != 0.01 || knob.Devices[0].QuartersPerDetent != 4 {
		t.Errorf("knob step defaults = %v/%d", knob.Devices[0].StepSize, knob.Devices[0].QuartersPerDetent)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
bridge:
  id: ""
adapters:
  - type: toaster
    devices:
      - id: t1
`
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Fatal("Load() expected validation error, got nil")
	}
	for _, want := range []string{"bridge.id is required", `unknown adapter type "toaster"`} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := defaultConfig()
		cfg.Adapters = []AdapterConfig{{
			Type: AdapterMPD,
			Name: "mpd",
			Devices: []DeviceConfig{{
				ID:   "kitchen",
				Host: "127.0.0.1",
			}},
		}}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{name: "missing bridge ID", mutate: func(c *Config) { c.Bridge.ID = "" }, wantErr: true},
		{name: "missing database path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "invalid QoS", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: true},
		{name: "unknown codec", mutate: func(c *Config) { c.Bridge.Codec = "xml" }, wantErr: true},
		{name: "monitor port", mutate: func(c *Config) { c.Monitor.Enabled = true; c.Monitor.Port = 0 }, wantErr: true},
		{name: "no adapters", mutate: func(c *Config) { c.Adapters = nil }, wantErr: true},
		{name: "no devices", mutate: func(c *Config) { c.Adapters[0].Devices = nil }, wantErr: true},
		{name: "missing host", mutate: func(c *Config) { c.Adapters[0].Devices[0].Host = "" }, wantErr: true},
		{
			name: "duplicate device",
			mutate: func(c *Config) {
				c.Adapters[0].Devices = append(c.Adapters[0].Devices, c.Adapters[0].Devices[0])
			},
			wantErr: true,
		},
		{
			name:    "duplicate adapter name",
			mutate:  func(c *Config) { c.Adapters = append(c.Adapters, c.Adapters[0]) },
			wantErr: true,
		},
		{name: "wildcard in name", mutate: func(c *Config) { c.Adapters[0].Name = "mpd/#" }, wantErr: true},
		{name: "jitter too large", mutate: func(c *Config) { c.Adapters[0].Poll.Jitter = 1.5 }, wantErr: true},
		{
			name: "bad rounding",
			mutate: func(c *Config) {
				c.Adapters[0].Ranges = map[string]RangeConfig{"volume": {Min: 0, Max: 100, Rounding: "ceil"}}
			},
			wantErr: true,
		},
		{
			name: "knob output",
			mutate: func(c *Config) {
				c.Adapters[0] = AdapterConfig{Type: AdapterKnob, Name: "knob", GPIO: "rpio", Output: "sideways",
					Devices: []DeviceConfig{{ID: "k", StepSize: 0.01}}}
			},
			wantErr: true,
		},
		{
			name: "switch gpio backend",
			mutate: func(c *Config) {
				c.Adapters[0] = AdapterConfig{Type: AdapterSwitch, Name: "switch", GPIO: "i2c",
					Devices: []DeviceConfig{{ID: "s"}}}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetDurations(t *testing.T) {
	cfg := &Config{Bridge: BridgeConfig{HealthInterval: 30, ShutdownTimeout: 5}}

	if got := cfg.GetHealthInterval(); got != 30*time.Second {
		t.Errorf("GetHealthInterval() = %v, want 30s", got)
	}
	if got := cfg.GetShutdownTimeout(); got != 5*time.Second {
		t.Errorf("GetShutdownTimeout() = %v, want 5s", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("IOBRIDGE_BRIDGE_ID", "bridge-env")
	t.Setenv("IOBRIDGE_DATABASE_PATH", "/custom/path.db")
	t.Setenv("IOBRIDGE_MQTT_HOST", "mqtt.example.com")
	t.Setenv("IOBRIDGE_MQTT_PORT", "8883")
	t.Setenv("IOBRIDGE_MQTT_USERNAME", "testuser")
	t.Setenv("IOBRIDGE_MQTT_PASSWORD", "testpass")
	t.Setenv("IOBRIDGE_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("IOBRIDGE_LOG_LEVEL", "debug")

	applyEnvOverrides(cfg)

	if cfg.Bridge.ID != "bridge-env" {
		t.Errorf("Bridge.ID = %q, want %q", cfg.Bridge.ID, "bridge-env")
	}
	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}
	if cfg.MQTT.Broker.Port != 8883 {
		t.Errorf("MQTT.Broker.Port = %d, want 8883", cfg.MQTT.Broker.Port)
	}
	if cfg.MQTT.Auth.Username != "testuser" || cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth = %+v", cfg.MQTT.Auth)
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Bridge.ID == "" {
		t.Error("defaultConfig should have non-empty Bridge.ID")
	}
	if cfg.Database.Path == "" {
		t.Error("defaultConfig should have non-empty Database.Path")
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.Monitor.Enabled {
		t.Error("defaultConfig should leave the monitor disabled")
	}
}
