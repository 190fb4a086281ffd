package monitor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/gray-logic-iobridge/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-iobridge/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-iobridge/internal/registry"
	"github.com/nerrad567/gray-logic-iobridge/internal/wire"
)

const (
	gracefulShutdownTimeout = 5 * time.Second
	readHeaderTimeout       = 5 * time.Second
	checkTimeout            = 3 * time.Second
)

// HealthSource reports the bridge's health. *bridge.HealthReporter
// implements it.
type HealthSource interface {
	Status() (wire.HealthStatus, string)
	Snapshot(status wire.HealthStatus, reason string) wire.HealthMessage
}

// Checker is a backing service that can report its own health. The MQTT,
// database and InfluxDB clients implement it.
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies of the monitor server.
type Deps struct {
	Config     config.MonitorConfig
	Logger     *logging.Logger
	Health     HealthSource
	Gatherer   prometheus.Gatherer
	Registries map[string]*registry.Registry
	Hub        *Hub

	// Checks are probed on every /healthz request, keyed by name.
	Checks map[string]Checker
}

// Server is the monitoring HTTP server.
type Server struct {
	cfg        config.MonitorConfig
	logger     *logging.Logger
	health     HealthSource
	gatherer   prometheus.Gatherer
	registries map[string]*registry.Registry
	hub        *Hub
	checks     map[string]Checker

	server *http.Server
	cancel context.CancelFunc
}

// New creates a monitor server. It is not listening until Start.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	s := &Server{
		cfg:        deps.Config,
		logger:     deps.Logger,
		health:     deps.Health,
		gatherer:   deps.Gatherer,
		registries: deps.Registries,
		hub:        deps.Hub,
		checks:     deps.Checks,
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}
	if s.hub == nil {
		s.hub = NewHub(deps.Config.WebSocket, deps.Logger)
	}
	return s, nil
}

// Hub returns the websocket hub, which is also the event sink feeding it.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.Route("/devices", func(r chi.Router) {
		r.Get("/", s.handleListDevices)
		r.Get("/{adapter}/{device}", s.handleGetDevice)
	})

	wsPath := s.cfg.WebSocket.Path
	if wsPath == "" {
		wsPath = "/ws"
	}
	r.Get(wsPath, s.hub.ServeHTTP)
	return r
}

// Start listens in the background until Close.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("monitor listen on %s: %w", addr, err)
	}

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("monitor server error", "error", err)
		}
	}()

	s.logger.Info("monitor server listening", "address", ln.Addr().String())
	return nil
}

// Close stops the hub and shuts the listener down.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down monitor server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, reason := wire.HealthHealthy, ""
	if s.health != nil {
		status, reason = s.health.Status()
	}

	deps, failed := s.probe(r.Context())
	if failed != "" && status == wire.HealthHealthy {
		status, reason = wire.HealthDegraded, failed
	}

	msg := wire.HealthMessage{Status: status, Reason: reason}
	if s.health != nil {
		msg = s.health.Snapshot(status, reason)
	}
	msg.Dependencies = deps

	code := http.StatusOK
	if status != wire.HealthHealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, msg)
}

// probe runs every check in name order. failed describes the first failure.
func (s *Server) probe(ctx context.Context) (results map[string]string, failed string) {
	if len(s.checks) == 0 {
		return nil, ""
	}
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	results = make(map[string]string, len(names))
	for _, name := range names {
		if err := s.checks[name].HealthCheck(ctx); err != nil {
			results[name] = err.Error()
			if failed == "" {
				failed = name + ": " + err.Error()
			}
			continue
		}
		results[name] = "ok"
	}
	return results, failed
}

// DeviceResponse is one device in the /devices listing.
type DeviceResponse struct {
	Adapter   string             `json:"adapter"`
	ID        string             `json:"id"`
	Connected bool               `json:"connected"`
	Points    []PointResponse    `json:"points"`
	Values    map[string]float64 `json:"values"`
}

// PointResponse describes a declared point.
type PointResponse struct {
	Name      string `json:"name"`
	Direction string `json:"direction"`
	Kind      string `json:"kind,omitempty"`
}

func deviceResponse(v registry.View) DeviceResponse {
	resp := DeviceResponse{
		Adapter:   v.Adapter,
		ID:        v.ID,
		Connected: v.Connected,
		Values:    make(map[string]float64),
	}
	for _, p := range v.Points() {
		dir := p.Direction
		if dir == "" {
			dir = "default"
		}
		resp.Points = append(resp.Points, PointResponse{Name: p.Name, Direction: string(dir), Kind: string(p.Kind)})
		if val, ok := v.Value(p.Name); ok {
			resp.Values[p.Name] = val
		}
	}
	return resp
}

func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	names := make([]string, 0, len(s.registries))
	for name := range s.registries {
		names = append(names, name)
	}
	sort.Strings(names)

	devices := []DeviceResponse{}
	for _, name := range names {
		reg := s.registries[name]
		for _, id := range reg.IDs() {
			if v, ok := reg.Get(id); ok {
				devices = append(devices, deviceResponse(v))
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	reg, ok := s.registries[chi.URLParam(r, "adapter")]
	if !ok {
		writeNotFound(w, "adapter not found")
		return
	}
	v, ok := reg.Get(chi.URLParam(r, "device"))
	if !ok {
		writeNotFound(w, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, deviceResponse(v))
}
