package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/daikin-cloud-core/internal/engine"
	"github.com/nerrad567/daikin-cloud-core/internal/infrastructure/config"
	"github.com/nerrad567/daikin-cloud-core/internal/infrastructure/logging"
	"github.com/nerrad567/daikin-cloud-core/internal/infrastructure/metrics"
	"github.com/nerrad567/daikin-cloud-core/internal/unit"
)

// gracefulShutdownTimeout bounds how long Close waits for in-flight
// requests to drain.
const gracefulShutdownTimeout = 10 * time.Second

// Dispatcher submits commands on behalf of API clients.
type Dispatcher interface {
	SetPower(ctx context.Context, unitID string, on bool) (*unit.Command, error)
	SetMode(ctx context.Context, unitID string, mode unit.Mode) (*unit.Command, error)
	SetTargetTemperature(ctx context.Context, unitID string, tempC float64) (*unit.Command, error)
	SetFanSpeed(ctx context.Context, unitID string, speed unit.FanSpeed) (*unit.Command, error)
}

// Synchronizer exposes the poll loop controls the API surfaces.
type Synchronizer interface {
	Refresh()
	Rediscover(ctx context.Context) error
}

// SessionInfo reports cloud session health for the status endpoint.
type SessionInfo interface {
	Unstable() bool
}

// Deps contains everything the server needs. Config, Logger and Registry
// are required, the rest may be nil and the matching endpoints degrade.
type Deps struct {
	Config       *config.Config
	Logger       *logging.Logger
	Registry     *unit.Registry
	Dispatcher   Dispatcher
	Synchronizer Synchronizer
	Sessions     SessionInfo
	Metrics      *metrics.Metrics
	Version      string
}

// Server is the HTTP and WebSocket front end.
type Server struct {
	config       *config.Config
	logger       *logging.Logger
	registry     *unit.Registry
	dispatcher   Dispatcher
	synchronizer Synchronizer
	sessions     SessionInfo
	metrics      *metrics.Metrics
	version      string

	httpServer *http.Server
	hub        *Hub
	started    time.Time

	ctx       context.Context
	ctxCancel context.CancelFunc
}

// New creates a Server from its dependencies. It does not start listening.
func New(deps Deps) (*Server, error) {
	if deps.Config == nil {
		return nil, errors.New("api: config is required")
	}
	if deps.Logger == nil {
		return nil, errors.New("api: logger is required")
	}
	if deps.Registry == nil {
		return nil, errors.New("api: registry is required")
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		config:       deps.Config,
		logger:       deps.Logger.With("component", "api"),
		registry:     deps.Registry,
		dispatcher:   deps.Dispatcher,
		synchronizer: deps.Synchronizer,
		sessions:     deps.Sessions,
		metrics:      deps.Metrics,
		version:      deps.Version,
		ctx:          ctx,
		ctxCancel:    cancel,
	}
	s.hub = newHub(s.logger, deps.Config.API.WebSocket)

	addr := fmt.Sprintf("%s:%d", deps.Config.API.Host, deps.Config.API.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.buildRouter(),
		ReadTimeout:  deps.Config.GetReadTimeout(),
		WriteTimeout: deps.Config.GetWriteTimeout(),
		IdleTimeout:  deps.Config.GetIdleTimeout(),
	}

	return s, nil
}

// Start runs the hub, the registry event forwarder and the HTTP listener.
// It blocks until the listener stops.
func (s *Server) Start() error {
	s.started = time.Now()

	go s.hub.run(s.ctx)
	go s.forwardRegistryEvents()

	tls := s.config.API.TLS
	s.logger.Info("api server starting", "addr", s.httpServer.Addr, "tls", tls.Enabled)

	var err error
	if tls.Enabled {
		err = s.httpServer.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
	} else {
		err = s.httpServer.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api: server failed: %w", err)
	}
	return nil
}

// Close drains in-flight requests and shuts everything down.
func (s *Server) Close() error {
	s.logger.Info("api server shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	err := s.httpServer.Shutdown(ctx)

	s.ctxCancel()
	s.hub.closeAll()

	return err
}

// HealthCheck reports whether the server is in a usable state.
func (s *Server) HealthCheck() error {
	if s.httpServer == nil {
		return errors.New("api: server not initialised")
	}
	return nil
}

// forwardRegistryEvents streams registry events to WebSocket subscribers.
func (s *Server) forwardRegistryEvents() {
	events, cancel := s.registry.Subscribe(64)
	defer cancel()

	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.hub.broadcastEvent(ev)
		}
	}
}

var _ Dispatcher = (*engine.Dispatcher)(nil)
var _ Synchronizer = (*engine.Synchronizer)(nil)
