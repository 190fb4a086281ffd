package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Adapter types understood by the bridge.
const (
	AdapterHue    = "hue"
	AdapterKodi   = "kodi"
	AdapterMPD    = "mpd"
	AdapterKnob   = "knob"
	AdapterSwitch = "switch"
)

// Config is the root configuration structure for the IO bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Bridge   BridgeConfig    `yaml:"bridge"`
	Database DatabaseConfig  `yaml:"database"`
	MQTT     MQTTConfig      `yaml:"mqtt"`
	Monitor  MonitorConfig   `yaml:"monitor"`
	InfluxDB InfluxDBConfig  `yaml:"influxdb"`
	Logging  LoggingConfig   `yaml:"logging"`
	Adapters []AdapterConfig `yaml:"adapters"`
}

// BridgeConfig identifies this bridge instance and tunes its outer loops.
type BridgeConfig struct {
	ID              string `yaml:"id"`
	TopicPrefix     string `yaml:"topic_prefix"`
	Codec           string `yaml:"codec"`            // json | cbor
	HealthInterval  int    `yaml:"health_interval"`  // seconds
	ShutdownTimeout int    `yaml:"shutdown_timeout"` // seconds
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// MonitorConfig contains the local monitoring HTTP server settings
// (health, metrics and the event websocket).
type MonitorConfig struct {
	Enabled   bool            `yaml:"enabled"`
	Host      string          `yaml:"host"`
	Port      int             `yaml:"port"`
	WebSocket WebSocketConfig `yaml:"websocket"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// AdapterConfig describes one active device adapter. Every entry in the
// adapters list is constructed at startup; there is no enable flag.
type AdapterConfig struct {
	Type string `yaml:"type"`
	Name string `yaml:"name"`

	Poll PollConfig `yaml:"poll"`

	// Ranges overrides the native range of a point, keyed by point name.
	Ranges map[string]RangeConfig `yaml:"ranges,omitempty"`

	// Output selects how a knob reports rotation: "absolute" or "relative".
	Output string `yaml:"output,omitempty"`

	// GPIO selects the pin backend for knob and switch adapters: "sysfs" or "rpio".
	GPIO string `yaml:"gpio,omitempty"`

	Devices []DeviceConfig `yaml:"devices"`
}

// PollConfig tunes a poll loop. Jitter is a fraction of Interval.
type PollConfig struct {
	Interval time.Duration `yaml:"interval"`
	Jitter   float64       `yaml:"jitter"`
	Timeout  time.Duration `yaml:"timeout"`
}

// RangeConfig is a native value range and its rounding rule
// ("floor", "nearest" or "none").
type RangeConfig struct {
	Min      float64 `yaml:"min"`
	Max      float64 `yaml:"max"`
	Rounding string  `yaml:"rounding"`
}

// DeviceConfig is the static description of one device. Fields apply
// per adapter type; unused ones are left empty.
type DeviceConfig struct {
	ID string `yaml:"id"`

	// Network devices (hue, kodi, mpd).
	Host     string `yaml:"host,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`

	// Hue light number on the bridge.
	Light int `yaml:"light,omitempty"`

	// Kodi ambilight colour endpoint.
	ColorPort int    `yaml:"color_port,omitempty"`
	ColorPath string `yaml:"color_path,omitempty"`

	// GPIO devices (knob, switch).
	Pins              PinsConfig `yaml:"pins,omitempty"`
	StepSize          float64    `yaml:"step_size,omitempty"`
	QuartersPerDetent int        `yaml:"quarters_per_detent,omitempty"`
}

// PinsConfig holds BCM pin numbers.
type PinsConfig struct {
	A      int `yaml:"a,omitempty"`
	B      int `yaml:"b,omitempty"`
	Button int `yaml:"button,omitempty"`
	On     int `yaml:"on,omitempty"`
	Off    int `yaml:"off,omitempty"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//  4. Per-adapter defaults (poll intervals, pins, ports)
//
// Environment variables follow the pattern: IOBRIDGE_SECTION_KEY
// For example: IOBRIDGE_DATABASE_PATH, IOBRIDGE_MQTT_HOST
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)
	for i := range cfg.Adapters {
		applyAdapterDefaults(&cfg.Adapters[i])
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			ID:              "iobridge-001",
			TopicPrefix:     "iobridge",
			Codec:           "json",
			HealthInterval:  30,
			ShutdownTimeout: 5,
		},
		Database: DatabaseConfig{
			Path:        "./data/iobridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "iobridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Monitor: MonitorConfig{
			Host: "0.0.0.0",
			Port: 8090,
			WebSocket: WebSocketConfig{
				Path:           "/ws",
				MaxMessageSize: 8192,
				PingInterval:   30,
				PongTimeout:    10,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyAdapterDefaults fills in the per-type defaults the devices were
// originally wired with.
func applyAdapterDefaults(a *AdapterConfig) {
	if a.Name == "" {
		a.Name = a.Type
	}

	switch a.Type {
	case AdapterHue:
		defaultPoll(&a.Poll, time.Second, 0.25)
	case AdapterKodi:
		defaultPoll(&a.Poll, 500*time.Millisecond, 0.1)
	case AdapterKnob, AdapterSwitch:
		if a.GPIO == "" {
			a.GPIO = "sysfs"
		}
		if a.Type == AdapterKnob && a.Output == "" {
			a.Output = "absolute"
		}
	}

	for i := range a.Devices {
		d := &a.Devices[i]
		switch a.Type {
		case AdapterHue:
			if d.Light == 0 {
				d.Light = 1
			}
		case AdapterKodi:
			if d.Port == 0 {
				d.Port = 9090
			}
			if d.ColorPath == "" {
				d.ColorPath = "/color"
			}
		case AdapterMPD:
			if d.Port == 0 {
				d.Port = 6600
			}
		case AdapterKnob:
			if d.Pins.A == d.Pins.B {
				d.Pins.A, d.Pins.B, d.Pins.Button = 2, 4, 3
			}
			if d.StepSize == 0 {
				d.StepSize = 0.01
			}
			if d.QuartersPerDetent == 0 {
				d.QuartersPerDetent = 4
			}
		case AdapterSwitch:
			if d.Pins.On == d.Pins.Off {
				d.Pins.On, d.Pins.Off = 4, 3
			}
		}
	}
}

func defaultPoll(p *PollConfig, interval time.Duration, jitter float64) {
	if p.Interval == 0 {
		p.Interval = interval
		if p.Jitter == 0 {
			p.Jitter = jitter
		}
	}
	if p.Timeout == 0 {
		p.Timeout = p.Interval
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("IOBRIDGE_BRIDGE_ID"); v != "" {
		cfg.Bridge.ID = v
	}
	if v := os.Getenv("IOBRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("IOBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("IOBRIDGE_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("IOBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("IOBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("IOBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("IOBRIDGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
// Range errors (max <= min) are reported by the adapters themselves at construction.
func (c *Config) Validate() error {
	var errs []string

	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}
	if c.Bridge.TopicPrefix == "" {
		errs = append(errs, "bridge.topic_prefix is required")
	}
	if c.Bridge.Codec != "json" && c.Bridge.Codec != "cbor" {
		errs = append(errs, "bridge.codec must be json or cbor")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.Monitor.Enabled && (c.Monitor.Port < 1 || c.Monitor.Port > 65535) {
		errs = append(errs, "monitor.port must be between 1 and 65535")
	}

	if len(c.Adapters) == 0 {
		errs = append(errs, "at least one adapter is required")
	}

	names := make(map[string]bool)
	for i, a := range c.Adapters {
		prefix := fmt.Sprintf("adapters[%d]", i)
		if names[a.Name] {
			errs = append(errs, fmt.Sprintf("%s: duplicate adapter name %q", prefix, a.Name))
		}
		names[a.Name] = true
		errs = append(errs, a.validate(prefix)...)
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (a AdapterConfig) validate(prefix string) []string {
	var errs []string

	switch a.Type {
	case AdapterHue, AdapterKodi, AdapterMPD, AdapterKnob, AdapterSwitch:
	default:
		return []string{fmt.Sprintf("%s: unknown adapter type %q", prefix, a.Type)}
	}

	if strings.ContainsAny(a.Name, "/+#") {
		errs = append(errs, fmt.Sprintf("%s: name must not contain MQTT wildcards or '/'", prefix))
	}
	if a.Poll.Jitter < 0 || a.Poll.Jitter >= 1 {
		errs = append(errs, fmt.Sprintf("%s: poll.jitter must be in [0,1)", prefix))
	}
	if a.Type == AdapterKnob && a.Output != "absolute" && a.Output != "relative" {
		errs = append(errs, fmt.Sprintf("%s: output must be absolute or relative", prefix))
	}
	if (a.Type == AdapterKnob || a.Type == AdapterSwitch) && a.GPIO != "sysfs" && a.GPIO != "rpio" {
		errs = append(errs, fmt.Sprintf("%s: gpio must be sysfs or rpio", prefix))
	}
	for point, r := range a.Ranges {
		switch r.Rounding {
		case "", "floor", "nearest", "none":
		default:
			errs = append(errs, fmt.Sprintf("%s: ranges.%s.rounding %q is invalid", prefix, point, r.Rounding))
		}
	}

	if len(a.Devices) == 0 {
		errs = append(errs, fmt.Sprintf("%s: at least one device is required", prefix))
	}

	ids := make(map[string]bool)
	for j, d := range a.Devices {
		dp := fmt.Sprintf("%s.devices[%d]", prefix, j)
		if d.ID == "" {
			errs = append(errs, dp+": id is required")
		} else if ids[d.ID] {
			errs = append(errs, fmt.Sprintf("%s: duplicate device id %q", dp, d.ID))
		}
		ids[d.ID] = true

		switch a.Type {
		case AdapterHue:
			if d.Host == "" || d.Username == "" {
				errs = append(errs, dp+": host and username are required")
			}
		case AdapterKodi, AdapterMPD:
			if d.Host == "" {
				errs = append(errs, dp+": host is required")
			}
		case AdapterKnob:
			if d.StepSize <= 0 || d.StepSize > 1 {
				errs = append(errs, dp+": step_size must be in (0,1]")
			}
		}
	}

	return errs
}

// GetHealthInterval returns the health publish interval as a Duration.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Bridge.HealthInterval) * time.Second
}

// GetShutdownTimeout returns the bounded shutdown wait as a Duration.
func (c *Config) GetShutdownTimeout() time.Duration {
	return time.Duration(c.Bridge.ShutdownTimeout) * time.Second
}
