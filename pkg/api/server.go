// Package api serves the operator-facing HTTP surface: liveness and status
// reads, the daily budget view, the runtime-config admin endpoints, the live
// event stream, and the Prometheus scrape handler. Simulation state only
// mutates through the runtime-config service, so every admin write lands in
// the audit table.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/polis-labs/polis/pkg/budget"
	"github.com/polis-labs/polis/pkg/config"
	"github.com/polis-labs/polis/pkg/database"
	"github.com/polis-labs/polis/pkg/events"
	"github.com/polis-labs/polis/pkg/runtimeconfig"
	"github.com/polis-labs/polis/pkg/store"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 15 * time.Second
)

// Server wires the HTTP handlers to the services they read from.
type Server struct {
	cfg     *config.Config
	db      *database.Client
	store   *store.Store
	runtime *runtimeconfig.Service
	budget  *budget.Service
	broker  *events.Broker
	poller  *events.Poller
	log     *slog.Logger

	providers []string
	allowlist []netip.Prefix
	startedAt time.Time
}

// NewServer creates the API server. The CIDR allowlist is parsed once here;
// config validation already rejected malformed entries.
func NewServer(
	cfg *config.Config,
	db *database.Client,
	st *store.Store,
	runtime *runtimeconfig.Service,
	budgetSvc *budget.Service,
	broker *events.Broker,
	poller *events.Poller,
) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:       cfg,
		db:        db,
		store:     st,
		runtime:   runtime,
		budget:    budgetSvc,
		broker:    broker,
		poller:    poller,
		log:       slog.With("component", "api"),
		startedAt: time.Now().UTC(),
	}
	for _, cidr := range cfg.Admin.AllowedCIDRs {
		prefix, err := netip.ParsePrefix(cidr)
		if err != nil {
			s.log.Warn("Skipping unparseable admin CIDR", "cidr", cidr, "error", err)
			continue
		}
		s.allowlist = append(s.allowlist, prefix)
	}
	return s
}

// SetProviders records the wired provider names reported by GET /api/v1/status.
func (s *Server) SetProviders(names []string) {
	s.providers = names
}

// Router builds the route table.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog(), securityHeaders())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	v1.GET("/healthz", s.healthzHandler)
	v1.GET("/status", s.statusHandler)
	v1.GET("/budget", s.budgetHandler)
	v1.GET("/events/stream", s.eventStreamHandler)

	admin := v1.Group("/admin", s.requireAdmin())
	admin.GET("/config", s.runtimeConfigHandler)

	write := admin.Group("", s.requireWriteEnabled())
	write.PUT("/config", s.updateRuntimeConfigHandler)
	write.POST("/simulation/start", s.simulationStartHandler)
	write.POST("/simulation/stop", s.simulationStopHandler)

	return r
}

// Run serves until ctx is canceled, then drains in-flight requests. Open SSE
// connections close when their request contexts die with the listener.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: readHeaderTimeout,
		// Request contexts descend from ctx so open event streams unwind
		// as soon as shutdown starts instead of stalling the drain.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	s.log.Info("HTTP server stopped")
	return nil
}

// requestLog logs completed requests. The scrape and liveness paths are
// polled constantly and stay out of the log.
func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if path == "/metrics" || path == "/api/v1/healthz" {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		s.log.Info("Request completed",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	}
}

// securityHeaders sets standard security response headers.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}
