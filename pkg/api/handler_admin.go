package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/polis-labs/polis/pkg/runtimeconfig"
	"github.com/polis-labs/polis/pkg/store"
)

// --- Request/response types ---

// RuntimeConfigEntry is one allowlisted key with its effective value.
type RuntimeConfigEntry struct {
	Key        string `json:"key"`
	Value      string `json:"value"`
	Default    string `json:"default"`
	Overridden bool   `json:"overridden"`
}

// RuntimeConfigResponse is returned by GET and PUT /api/v1/admin/config.
type RuntimeConfigResponse struct {
	Entries []RuntimeConfigEntry `json:"entries"`
}

// UpdateConfigRequest is the body of PUT /api/v1/admin/config.
type UpdateConfigRequest struct {
	Updates map[string]string `json:"updates" binding:"required"`
	Reason  string            `json:"reason"`
}

// SimulationControlRequest is the optional body of the simulation start and
// stop endpoints.
type SimulationControlRequest struct {
	RunID  string `json:"run_id"`
	Reason string `json:"reason"`
}

// SimulationControlResponse reports the state after a control call.
type SimulationControlResponse struct {
	Status string `json:"status"`
}

// --- Handlers ---

// runtimeConfigHandler handles GET /api/v1/admin/config. Every allowlisted
// key is listed with its effective value so operators see overrides and
// defaults in one read.
func (s *Server) runtimeConfigHandler(c *gin.Context) {
	ctx := c.Request.Context()

	keys := s.runtime.Keys()
	entries := make([]RuntimeConfigEntry, 0, len(keys))
	for _, key := range keys {
		value, err := s.runtime.EffectiveValue(ctx, key)
		if err != nil {
			s.respondError(c, err)
			return
		}
		def, err := s.runtime.Default(key)
		if err != nil {
			s.respondError(c, err)
			return
		}
		overridden := true
		if _, err := s.store.GetConfigOverride(ctx, key); err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				s.respondError(c, err)
				return
			}
			overridden = false
		}
		entries = append(entries, RuntimeConfigEntry{
			Key:        key,
			Value:      value,
			Default:    def,
			Overridden: overridden,
		})
	}
	c.JSON(http.StatusOK, &RuntimeConfigResponse{Entries: entries})
}

// updateRuntimeConfigHandler handles PUT /api/v1/admin/config. Unknown keys
// reject the whole batch before anything commits.
func (s *Server) updateRuntimeConfigHandler(c *gin.Context) {
	var req UpdateConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	reason := req.Reason
	if reason == "" {
		reason = "admin api update"
	}
	if err := s.runtime.UpdateSettings(c.Request.Context(), req.Updates, changedBy(c), reason); err != nil {
		s.respondError(c, err)
		return
	}

	// Respond with the refreshed table so callers read their writes.
	s.runtimeConfigHandler(c)
}

// simulationStartHandler handles POST /api/v1/admin/simulation/start.
func (s *Server) simulationStartHandler(c *gin.Context) {
	var req SimulationControlRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	updates := map[string]string{
		runtimeconfig.KeySimulationActive: "true",
		runtimeconfig.KeySimulationPaused: "false",
		runtimeconfig.KeyPauseReason:      "",
	}
	if req.RunID != "" {
		updates[runtimeconfig.KeyCurrentRunID] = req.RunID
	}
	reason := req.Reason
	if reason == "" {
		reason = "manual start"
	}

	if err := s.runtime.UpdateSettings(c.Request.Context(), updates, changedBy(c), reason); err != nil {
		s.respondError(c, err)
		return
	}
	s.log.Info("Simulation started via admin API", "run_id", req.RunID)
	c.JSON(http.StatusOK, &SimulationControlResponse{Status: simStatusRunning})
}

// simulationStopHandler handles POST /api/v1/admin/simulation/stop. Stop only
// clears the active flag; a guardrail pause and its reason stay untouched so
// the pause trail survives a manual stop.
func (s *Server) simulationStopHandler(c *gin.Context) {
	var req SimulationControlRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	reason := req.Reason
	if reason == "" {
		reason = "manual stop"
	}
	updates := map[string]string{runtimeconfig.KeySimulationActive: "false"}

	if err := s.runtime.UpdateSettings(c.Request.Context(), updates, changedBy(c), reason); err != nil {
		s.respondError(c, err)
		return
	}
	s.log.Info("Simulation stopped via admin API")
	c.JSON(http.StatusOK, &SimulationControlResponse{Status: simStatusStopped})
}
