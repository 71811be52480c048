package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/carousel-core/internal/account"
	"github.com/nerrad567/carousel-core/internal/audit"
	"github.com/nerrad567/carousel-core/internal/carousel"
	"github.com/nerrad567/carousel-core/internal/content"
	"github.com/nerrad567/carousel-core/internal/device"
	"github.com/nerrad567/carousel-core/internal/infrastructure/config"
	"github.com/nerrad567/carousel-core/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// RunControl is the slice of the dispatcher the API needs for operator
// actions. *carousel.Dispatcher satisfies it.
type RunControl interface {
	Activate(ctx context.Context, carouselID string) (*carousel.Run, error)
	Cancel(ctx context.Context, runID string) error
	Resume(ctx context.Context, runID string) (*carousel.Run, error)
}

// HealthChecker reports the health of an infrastructure component.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	WS        config.WebSocketConfig
	Defaults  config.CarouselDefaults
	Logger    *logging.Logger
	Devices   device.Repository
	Accounts  account.Repository
	Content   content.Repository
	Carousels carousel.Repository
	Runs      RunControl
	Audit     audit.Repository

	// ExternalHub lets the caller share one hub between the API and the
	// run telemetry reporter. If unset the server creates its own.
	ExternalHub *Hub

	// Checks are named health probes included in the system status
	// response (database, mqtt, influxdb, driver agent).
	Checks map[string]HealthChecker

	Version string
}

// Server is the HTTP control surface: entity registries, carousel and
// run lifecycle operations, audit queries, and the WebSocket feed.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	defaults  config.CarouselDefaults
	logger    *logging.Logger
	devices   device.Repository
	accounts  account.Repository
	content   content.Repository
	carousels carousel.Repository
	runs      RunControl
	auditRepo audit.Repository
	checks    map[string]HealthChecker
	version   string

	server      *http.Server
	hub         *Hub
	externalHub bool
	auditCh     chan *audit.AuditLog
	cancel      context.CancelFunc
	startedAt   time.Time
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Carousels == nil {
		return nil, fmt.Errorf("carousel repository is required")
	}
	if deps.Runs == nil {
		return nil, fmt.Errorf("run control is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		defaults:  deps.Defaults,
		logger:    deps.Logger,
		devices:   deps.Devices,
		accounts:  deps.Accounts,
		content:   deps.Content,
		carousels: deps.Carousels,
		runs:      deps.Runs,
		auditRepo: deps.Audit,
		checks:    deps.Checks,
		version:   deps.Version,
	}

	if deps.ExternalHub != nil {
		s.hub = deps.ExternalHub
		s.externalHub = true
	}

	return s, nil
}

// Start begins listening for HTTP connections.
//
// It sets up the router, starts the WebSocket hub, and launches the HTTP
// listener in a background goroutine. The server is stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
		go s.hub.Run(srvCtx)
	}

	if s.auditRepo != nil {
		s.auditCh = make(chan *audit.AuditLog, auditChanSize)
		go s.drainAuditLog(srvCtx)
	}

	s.startedAt = time.Now()
	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server. It waits up to 10 seconds
// for in-flight requests to complete, then forcefully closes remaining
// connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}

// Hub returns the WebSocket hub, or nil before Start when none was injected.
func (s *Server) Hub() *Hub {
	return s.hub
}
