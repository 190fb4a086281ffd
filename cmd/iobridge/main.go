// IO Bridge - device state sync for the Gray Logic automation server.
//
// The bridge connects Kodi, MPD, Philips Hue, rotary knobs and two-button
// switches to the automation server over MQTT. Device values are
// normalised to [0,1] and published only when they change; commands from
// the server are mapped back to each device's native range.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nerrad567/gray-logic-iobridge/internal/adapters"
	"github.com/nerrad567/gray-logic-iobridge/internal/adapters/base"
	"github.com/nerrad567/gray-logic-iobridge/internal/bridge"
	"github.com/nerrad567/gray-logic-iobridge/internal/console"
	"github.com/nerrad567/gray-logic-iobridge/internal/diagnostics"
	"github.com/nerrad567/gray-logic-iobridge/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-iobridge/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-iobridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-iobridge/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-iobridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-iobridge/internal/iopoint"
	"github.com/nerrad567/gray-logic-iobridge/internal/monitor"
	"github.com/nerrad567/gray-logic-iobridge/internal/registration"
	"github.com/nerrad567/gray-logic-iobridge/internal/registry"
	"github.com/nerrad567/gray-logic-iobridge/internal/wire"
	"github.com/nerrad567/gray-logic-iobridge/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// options are the command-line flags.
type options struct {
	console bool
}

func main() {
	var opts options
	flag.BoolVar(&opts.console, "console", false, "start an interactive console on the terminal")
	flag.Parse()

	// Cancel on Ctrl+C and SIGTERM for a graceful shutdown.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cancel, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
// cancel lets the console end the process.
func run(ctx context.Context, cancel context.CancelFunc, opts options) error {
	log := logging.Default()
	log.Info("starting IO bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath, "adapters", len(cfg.Adapters))

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	codec, err := wire.ForName(cfg.Bridge.Codec)
	if err != nil {
		return fmt.Errorf("selecting codec: %w", err)
	}
	topics := mqtt.Topics{Prefix: cfg.Bridge.TopicPrefix}
	qos := byte(cfg.MQTT.QoS)

	// Metrics come first: adapters count into them from construction.
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	counters := diagnostics.NewCounters(promRegistry)

	// Adapters are built before any connection so that a bad range or
	// pin configuration refuses to start without side effects.
	var (
		publisher atomic.Pointer[bridge.EventPublisher]
		hub       atomic.Pointer[monitor.Hub]
		con       atomic.Pointer[console.Console]
	)
	sink := iopoint.EventSinkFunc(func(e iopoint.Event) {
		if p := publisher.Load(); p != nil {
			p.Emit(e)
		}
		if h := hub.Load(); h != nil {
			h.Emit(e)
		}
		if c := con.Load(); c != nil {
			c.Emit(e)
		}
	})

	pins := adapters.NewGPIO(nil, log.Component("gpio"))
	defer func() {
		if closeErr := pins.Close(); closeErr != nil {
			log.Error("error closing gpio", "error", closeErr)
		}
	}()
	built, err := adapters.Build(cfg.Adapters, base.Deps{
		Sink:    sink,
		Metrics: counters,
		Logger:  log.Component("adapter"),
	}, pins)
	if err != nil {
		return fmt.Errorf("building adapters: %w", err)
	}
	registries := make(map[string]*registry.Registry, len(built))
	for _, a := range built {
		registries[a.Name()] = a.Registry()
	}

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	mqttClient, err := mqtt.Connect(cfg.MQTT, mqtt.Presence{
		Topic:    topics.Status(cfg.MQTT.Broker.ClientID),
		ClientID: cfg.MQTT.Broker.ClientID,
	})
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.Component("mqtt"))
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	influxClient, err := connectInflux(ctx, cfg, log)
	if err != nil {
		return err
	}
	if influxClient != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
	}

	publisher.Store(bridge.NewEventPublisher(mqttClient, topics, codec, qos, log.Component("events")))

	registrar, err := registration.New(registration.Options{
		Store:     registration.NewSQLiteStore(db.DB),
		Publisher: mqttClient,
		Topics:    topics,
		Codec:     codec,
		QoS:       qos,
		Logger:    log.Component("registration"),
	})
	if err != nil {
		return fmt.Errorf("creating registrar: %w", err)
	}

	healthCfg := bridge.HealthReporterConfig{
		BridgeID:   cfg.Bridge.ID,
		Version:    version,
		Interval:   cfg.GetHealthInterval(),
		Topics:     topics,
		Codec:      codec,
		QoS:        qos,
		Publisher:  mqttClient,
		Registries: registries,
		Counters:   counters,
	}
	if influxClient != nil {
		healthCfg.Recorder = influxClient
	}
	health := bridge.NewHealthReporter(healthCfg)
	health.SetLogger(log.Component("health"))

	br, err := bridge.New(bridge.Options{
		MQTT:      mqttClient,
		Topics:    topics,
		Codec:     codec,
		QoS:       qos,
		Adapters:  built,
		Registrar: registrar,
		Drops:     counters,
		Health:    health,
		Logger:    log.Component("bridge"),
	})
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}

	// Registration is repeated after every reconnect; the broker may have
	// lost retained messages.
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
		br.RegisterAll(ctx)
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	if cfg.Monitor.Enabled {
		checks := map[string]monitor.Checker{"mqtt": mqttClient, "database": db}
		if influxClient != nil {
			checks["influxdb"] = influxClient
		}
		srv, err := monitor.New(monitor.Deps{
			Config:     cfg.Monitor,
			Logger:     log.Component("monitor"),
			Health:     health,
			Gatherer:   promRegistry,
			Registries: registries,
			Checks:     checks,
		})
		if err != nil {
			return fmt.Errorf("creating monitor server: %w", err)
		}
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("starting monitor server: %w", err)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing monitor server", "error", closeErr)
			}
		}()
		hub.Store(srv.Hub())
	} else {
		log.Info("monitor server disabled")
	}

	if influxClient != nil {
		exporter := diagnostics.NewExporter(counters, influxClient, cfg.Bridge.ID, cfg.GetHealthInterval())
		go exporter.Run(ctx)
	}

	if err := br.Start(ctx); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	defer stopBridge(br, cfg.GetShutdownTimeout(), log)

	if opts.console {
		c, err := console.New(br)
		if err != nil {
			return fmt.Errorf("starting console: %w", err)
		}
		con.Store(c)
		log = logging.NewWithWriter(cfg.Logging, version, c.Stdout())
		go c.Run(ctx, cancel)
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: bridge, monitor, InfluxDB,
	// MQTT, database, GPIO.
	return nil
}

// getConfigPath returns the configuration file path.
// Uses IOBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("IOBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// connectInflux connects to InfluxDB when enabled. It returns nil when
// disabled.
func connectInflux(ctx context.Context, cfg *config.Config, log *logging.Logger) (*influxdb.Client, error) {
	if !cfg.InfluxDB.Enabled {
		log.Info("InfluxDB disabled")
		return nil, nil
	}
	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", cfg.InfluxDB.URL,
		"org", cfg.InfluxDB.Org,
		"bucket", cfg.InfluxDB.Bucket,
	)
	return client, nil
}

// stopBridge stops the bridge, giving up after timeout so a stuck device
// cannot hold the process.
func stopBridge(br *bridge.Bridge, timeout time.Duration, log *logging.Logger) {
	done := make(chan struct{})
	go func() {
		br.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		log.Warn("bridge did not stop in time", "timeout", timeout.String())
	}
}
