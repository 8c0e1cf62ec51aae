package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/drivetrain-rt/drivetrain/internal/config"
	"github.com/drivetrain-rt/drivetrain/internal/export"
	"github.com/drivetrain-rt/drivetrain/internal/instrument"
	"github.com/drivetrain-rt/drivetrain/internal/logging"
	"github.com/drivetrain-rt/drivetrain/internal/middleware"
	"github.com/drivetrain-rt/drivetrain/internal/ws"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ErrUnknownDriver is returned by DriverSet implementations when the
// named driver does not exist.
var ErrUnknownDriver = errors.New("unknown driver")

// DriverInfo is one driver's externally visible state.
type DriverInfo struct {
	Name     string `json:"name"`
	State    string `json:"state"`
	Produced uint64 `json:"produced"`
	Faults   uint64 `json:"faults"`
}

// DriverSet is the control surface the runtime hands the server.
type DriverSet interface {
	List() []DriverInfo
	Reset(name string) error
}

// Deps are the runtime components the server reads from.
type Deps struct {
	Registry *instrument.Registry
	Bridge   *export.Bridge
	Gatherer prometheus.Gatherer
	Streamer *ws.Streamer
	Drivers  DriverSet
}

// Server wraps the HTTP server and its dependencies.
type Server struct {
	cfg    *config.Config
	router *gin.Engine
	deps   Deps
	log    *logging.Logger
	start  time.Time

	httpSrv *http.Server
}

// New creates a server and registers all routes.
func New(cfg *config.Config, deps Deps, log *logging.Logger) *Server {
	if log == nil {
		log = logging.NewNop()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	s := &Server{
		cfg:    cfg,
		router: router,
		deps:   deps,
		log:    log,
		start:  time.Now(),
	}

	router.GET("/", s.root)
	router.GET("/health", s.health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	router.GET("/status", s.status)
	router.GET("/units", s.units)
	router.GET("/channels", s.channels)
	router.GET("/drivers", s.drivers)
	router.POST("/drivers/:name/reset", s.resetDriver)
	if deps.Streamer != nil {
		router.GET("/stream", deps.Streamer.HandleConnection)
	}

	return s
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := s.cfg.Server.Host + ":" + s.cfg.Server.Port
	s.httpSrv = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", zap.String("addr", addr))
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}

func (s *Server) root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "drivetrain",
		"version": "1.0.0",
	})
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"uptime_seconds": time.Since(s.start).Seconds(),
	})
}

func (s *Server) status(c *gin.Context) {
	snap := s.deps.Bridge.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"export":              snap,
		"sampler_lag_seconds": s.deps.Registry.SamplerLag().Seconds(),
		"sampler_runs":        s.deps.Registry.SamplerRuns(),
		"subscribers":         s.subscribers(),
	})
}

func (s *Server) subscribers() int {
	if s.deps.Streamer == nil {
		return 0
	}
	return s.deps.Streamer.Subscribers()
}

func (s *Server) units(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"units": s.deps.Registry.Snapshots()})
}

func (s *Server) channels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"channels": s.deps.Registry.ChannelStats()})
}

func (s *Server) drivers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"drivers": s.deps.Drivers.List()})
}

func (s *Server) resetDriver(c *gin.Context) {
	name := c.Param("name")
	if err := s.deps.Drivers.Reset(name); err != nil {
		status := http.StatusConflict
		if errors.Is(err, ErrUnknownDriver) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	s.log.Info("driver reset", zap.String("driver", name))
	c.JSON(http.StatusOK, gin.H{"reset": name})
}
