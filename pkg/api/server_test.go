package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polis-labs/polis/pkg/budget"
	"github.com/polis-labs/polis/pkg/config"
	"github.com/polis-labs/polis/pkg/events"
	"github.com/polis-labs/polis/pkg/identity"
	"github.com/polis-labs/polis/pkg/metrics"
	"github.com/polis-labs/polis/pkg/runtimeconfig"
	"github.com/polis-labs/polis/pkg/store"
	"github.com/polis-labs/polis/test/util"
)

const testAdminToken = "ops-shared-secret"

// newTestServer builds a server against a real database with admin writes
// enabled. The step clock pins the budget day so seeded usage rows land in
// today's snapshot.
func newTestServer(t *testing.T, mutate func(*config.Config)) (*Server, *store.Store, *identity.StepClock) {
	t.Helper()
	db, st := util.SetupTestDatabase(t)

	cfg, err := config.Initialize(context.Background(), t.TempDir())
	require.NoError(t, err)
	cfg.Admin.Token = testAdminToken
	cfg.Admin.WriteEnabled = true
	if mutate != nil {
		mutate(cfg)
	}

	clock := identity.NewStepClock(time.Date(2026, 5, 12, 9, 30, 0, 0, time.UTC))
	runtime := runtimeconfig.NewService(st, cfg, clock)
	budgetSvc := budget.NewService(st, cfg.Models, runtime, clock)
	broker := events.NewBroker(16)
	poller := events.NewPoller(st, broker, 50*time.Millisecond)

	return NewServer(cfg, db, st, runtime, budgetSvc, broker, poller), st, clock
}

// newBareServer builds a server with no backing services, for middleware
// paths that never reach a handler.
func newBareServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()
	cfg := &config.Config{
		Environment: "development",
		Server:      config.DefaultServerConfig(),
		Admin:       &config.AdminConfig{Token: testAdminToken},
		Reports:     config.DefaultReportsConfig(),
	}
	if mutate != nil {
		mutate(cfg)
	}
	return NewServer(cfg, nil, nil, nil, nil, nil, nil)
}

// doRequest runs one request through the router with optional bearer auth
// and JSON body.
func doRequest(t *testing.T, router http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestSecurityHeaders(t *testing.T) {
	s := newBareServer(t, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", rec.Header().Get("Referrer-Policy"))
}

func TestMetricsEndpointServesCollectors(t *testing.T) {
	s := newBareServer(t, nil)
	metrics.RecordGuardrailTrip("scrape_probe")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "polis_guardrail_trips_total")
}
