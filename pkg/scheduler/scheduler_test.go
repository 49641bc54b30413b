package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/polis-labs/polis/pkg/config"
	"github.com/polis-labs/polis/pkg/identity"
	"github.com/polis-labs/polis/pkg/models"
	"github.com/polis-labs/polis/pkg/runtimeconfig"
	"github.com/polis-labs/polis/pkg/store"
	"github.com/polis-labs/polis/test/util"
)

func newTestScheduler(t *testing.T, mutate func(*config.Config)) (*Service, *store.Store, *identity.StepClock, *runtimeconfig.Service) {
	t.Helper()
	_, st := util.SetupTestDatabase(t)
	cfg, err := config.Initialize(context.Background(), t.TempDir())
	require.NoError(t, err)
	if mutate != nil {
		mutate(cfg)
	}
	clock := identity.NewStepClock(time.Date(2026, 5, 12, 9, 30, 0, 0, time.UTC))
	runtime := runtimeconfig.NewService(st, cfg, clock)
	return NewService(st, cfg, runtime, clock), st, clock, runtime
}

func seedAgent(t *testing.T, st *store.Store, n int, inv models.Inventory) *models.Agent {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.CreateAgent(ctx, &models.Agent{
		AgentNumber:     n,
		DisplayName:     identity.Codename(n),
		ModelType:       "gpt-4o-mini",
		Tier:            "economy",
		PersonalityType: "baseline",
		Status:          models.AgentStatusActive,
		SystemPrompt:    "you are a careful planner",
	}))
	for rt, q := range inv {
		require.NoError(t, st.SetInventory(ctx, n, rt, q))
	}
	got, err := st.GetAgent(ctx, n)
	require.NoError(t, err)
	return got
}

func listEvents(t *testing.T, st *store.Store) []*models.Event {
	t.Helper()
	events, err := st.ListEventsSince(context.Background(), 0, 100)
	require.NoError(t, err)
	return events
}

func intPtr(i int) *int { return &i }

func TestDailyConsumptionDebitsOncePerDate(t *testing.T) {
	svc, st, clock, _ := newTestScheduler(t, nil)
	ctx := context.Background()
	seedAgent(t, st, 1, models.Inventory{models.ResourceFood: 10})
	seedAgent(t, st, 2, models.Inventory{models.ResourceFood: 5})

	require.NoError(t, svc.runDailyConsumption(ctx, clock.Now()))
	require.NoError(t, svc.runDailyConsumption(ctx, clock.Now()))

	inv, err := st.GetInventory(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 8, inv[models.ResourceFood])
	inv, err = st.GetInventory(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, inv[models.ResourceFood])

	// Later the same date: the day is already claimed.
	clock.Advance(4 * time.Hour)
	require.NoError(t, svc.runDailyConsumption(ctx, clock.Now()))
	inv, err = st.GetInventory(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 8, inv[models.ResourceFood])

	// The next date debits again.
	clock.Advance(24 * time.Hour)
	require.NoError(t, svc.runDailyConsumption(ctx, clock.Now()))
	inv, err = st.GetInventory(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 6, inv[models.ResourceFood])

	n, err := st.CountTransactionsSince(ctx, models.TransactionConsumption,
		time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 4, n, "two agents across two days")
}

func TestDailyConsumptionStarvationLifecycle(t *testing.T) {
	svc, st, clock, _ := newTestScheduler(t, func(cfg *config.Config) {
		cfg.Simulation.StarvationDormantThreshold = 2
		cfg.Simulation.StarvationDeathThreshold = 3
	})
	ctx := context.Background()
	seedAgent(t, st, 1, nil)

	require.NoError(t, svc.runDailyConsumption(ctx, clock.Now()))
	a, err := st.GetAgent(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, a.StarvationCycles)
	assert.Equal(t, models.AgentStatusActive, a.Status)
	assert.Empty(t, listEvents(t, st))

	clock.Advance(24 * time.Hour)
	require.NoError(t, svc.runDailyConsumption(ctx, clock.Now()))
	a, err = st.GetAgent(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, a.StarvationCycles)
	assert.Equal(t, models.AgentStatusDormant, a.Status)
	events := listEvents(t, st)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventAgentDormant, events[0].EventType)
	assert.Equal(t, 1, *events[0].AgentNumber)

	// Dormancy is not a reprieve: the counter keeps climbing to death.
	clock.Advance(24 * time.Hour)
	require.NoError(t, svc.runDailyConsumption(ctx, clock.Now()))
	a, err = st.GetAgent(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.AgentStatusDead, a.Status)
	require.NotNil(t, a.DeathCause)
	assert.Equal(t, "starvation", *a.DeathCause)
	assert.NotNil(t, a.DiedAt)
	events = listEvents(t, st)
	require.Len(t, events, 2)
	assert.Equal(t, models.EventAgentDied, events[1].EventType)

	// The dead are out of the loop entirely.
	clock.Advance(24 * time.Hour)
	require.NoError(t, svc.runDailyConsumption(ctx, clock.Now()))
	a, err = st.GetAgent(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, a.StarvationCycles)
	assert.Len(t, listEvents(t, st), 2)
}

func TestDailyConsumptionPartialMealHoldsCounter(t *testing.T) {
	svc, st, clock, _ := newTestScheduler(t, nil)
	ctx := context.Background()
	seedAgent(t, st, 1, models.Inventory{models.ResourceFood: 1})
	_, err := st.IncrementStarvation(ctx, 1)
	require.NoError(t, err)

	require.NoError(t, svc.runDailyConsumption(ctx, clock.Now()))

	a, err := st.GetAgent(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, a.StarvationCycles, "a short meal neither advances nor clears the counter")
	inv, err := st.GetInventory(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, inv[models.ResourceFood])
}

func TestDailyConsumptionFullMealResetsCounter(t *testing.T) {
	svc, st, clock, _ := newTestScheduler(t, nil)
	ctx := context.Background()
	seedAgent(t, st, 1, models.Inventory{models.ResourceFood: 7})
	for i := 0; i < 2; i++ {
		_, err := st.IncrementStarvation(ctx, 1)
		require.NoError(t, err)
	}

	require.NoError(t, svc.runDailyConsumption(ctx, clock.Now()))

	a, err := st.GetAgent(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, a.StarvationCycles)
	inv, err := st.GetInventory(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 5, inv[models.ResourceFood])
}

func TestRunAppliesJobsUntilCancelled(t *testing.T) {
	svc, st, _, runtime := newTestScheduler(t, func(cfg *config.Config) {
		cfg.Simulation.SchedulerTickSeconds = 1
	})
	// Snapshot after the fixture: the connection pool's own goroutines live
	// until t.Cleanup, which runs after this defer fires.
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	seedAgent(t, st, 1, models.Inventory{models.ResourceFood: 10})

	require.NoError(t, runtime.UpdateSettings(ctx, map[string]string{
		runtimeconfig.KeySimulationActive: "true",
	}, "test", "start"))
	require.NoError(t, runtime.Refresh(ctx))

	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.Eventually(t, func() bool {
		inv, err := st.GetInventory(ctx, 1)
		return err == nil && inv[models.ResourceFood] == 8
	}, 10*time.Second, 100*time.Millisecond, "first tick applies the daily debit")

	cancel()
	require.NoError(t, <-done)
}
