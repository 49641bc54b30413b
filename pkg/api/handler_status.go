package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/polis-labs/polis/pkg/database"
	"github.com/polis-labs/polis/pkg/models"
	"github.com/polis-labs/polis/pkg/runtimeconfig"
	"github.com/polis-labs/polis/pkg/version"
)

const (
	simStatusRunning = "running"
	simStatusPaused  = "paused"
	simStatusStopped = "stopped"
)

// --- Response types ---

// HealthzResponse is returned by GET /api/v1/healthz.
type HealthzResponse struct {
	Status   string                 `json:"status"`
	Version  string                 `json:"version"`
	Database *database.HealthStatus `json:"database"`
}

// StatusResponse is returned by GET /api/v1/status.
type StatusResponse struct {
	Status           string                 `json:"status"`
	Version          string                 `json:"version"`
	Environment      string                 `json:"environment"`
	CurrentRunID     string                 `json:"current_run_id,omitempty"`
	PauseReason      string                 `json:"pause_reason,omitempty"`
	UptimeSeconds    int64                  `json:"uptime_seconds"`
	Providers        []string               `json:"providers"`
	Models           int                    `json:"models"`
	EventSubscribers int                    `json:"event_subscribers"`
	LastEventID      int64                  `json:"last_event_id"`
	Database         *database.HealthStatus `json:"database"`
}

// BudgetResponse is returned by GET /api/v1/budget.
type BudgetResponse struct {
	Snapshot      *models.UsageSnapshot `json:"snapshot"`
	SoftBudgetUSD float64               `json:"soft_budget_usd"`
	HardBudgetUSD float64               `json:"hard_budget_usd"`
	SoftExceeded  bool                  `json:"soft_exceeded"`
	HardExceeded  bool                  `json:"hard_exceeded"`
}

// --- Handlers ---

// healthzHandler handles GET /api/v1/healthz. Unauthenticated liveness:
// only the database is checked, so a broken model provider cannot get the
// process restarted by the orchestrator.
func (s *Server) healthzHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	health, err := s.db.Health(ctx)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, &HealthzResponse{
			Status:   "unhealthy",
			Version:  version.GitCommit,
			Database: health,
		})
		return
	}
	c.JSON(http.StatusOK, &HealthzResponse{
		Status:   "healthy",
		Version:  version.GitCommit,
		Database: health,
	})
}

// statusHandler handles GET /api/v1/status.
func (s *Server) statusHandler(c *gin.Context) {
	ctx := c.Request.Context()

	active, err := s.runtime.Bool(ctx, runtimeconfig.KeySimulationActive)
	if err != nil {
		s.respondError(c, err)
		return
	}
	paused, err := s.runtime.Bool(ctx, runtimeconfig.KeySimulationPaused)
	if err != nil {
		s.respondError(c, err)
		return
	}
	runID, err := s.runtime.String(ctx, runtimeconfig.KeyCurrentRunID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	pauseReason, err := s.runtime.String(ctx, runtimeconfig.KeyPauseReason)
	if err != nil {
		s.respondError(c, err)
		return
	}

	status := simStatusStopped
	switch {
	case paused:
		status = simStatusPaused
	case active:
		status = simStatusRunning
	}
	if !paused {
		pauseReason = ""
	}

	// A failed health probe still reports: the struct carries the
	// unhealthy marker.
	health, _ := s.db.Health(ctx)

	providers := s.providers
	if providers == nil {
		providers = []string{}
	}

	c.JSON(http.StatusOK, &StatusResponse{
		Status:           status,
		Version:          version.GitCommit,
		Environment:      s.cfg.Environment,
		CurrentRunID:     runID,
		PauseReason:      pauseReason,
		UptimeSeconds:    int64(time.Since(s.startedAt).Seconds()),
		Providers:        providers,
		Models:           s.cfg.Models.Len(),
		EventSubscribers: s.broker.SubscriberCount(),
		LastEventID:      s.poller.LastSeen(),
		Database:         health,
	})
}

// budgetHandler handles GET /api/v1/budget. Limits come from runtime config,
// so an operator raising the ceiling sees it reflected here immediately.
func (s *Server) budgetHandler(c *gin.Context) {
	ctx := c.Request.Context()

	snap, err := s.budget.TodaySnapshot(ctx)
	if err != nil {
		s.respondError(c, err)
		return
	}
	soft, err := s.runtime.Float(ctx, runtimeconfig.KeySoftBudgetUSD)
	if err != nil {
		s.respondError(c, err)
		return
	}
	hard, err := s.runtime.Float(ctx, runtimeconfig.KeyHardBudgetUSD)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, &BudgetResponse{
		Snapshot:      snap,
		SoftBudgetUSD: soft,
		HardBudgetUSD: hard,
		SoftExceeded:  snap.EstimatedCostUSD >= soft,
		HardExceeded:  snap.EstimatedCostUSD >= hard,
	})
}
