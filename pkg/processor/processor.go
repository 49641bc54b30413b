// Package processor runs the per-agent turn loop. A pool of workers claims
// due agents one at a time (FOR UPDATE SKIP LOCKED, so concurrent workers
// never double-claim), and each claim advances the agent's checkpoint before
// the turn body runs. The turn order is fixed: backoff guard, hourly rate
// limit, guardrail consult, context build, model dispatch, validate, execute,
// memory fold. The engine owns action semantics; this package owns pacing
// and event emission.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/polis-labs/polis/pkg/config"
	"github.com/polis-labs/polis/pkg/contextbuilder"
	"github.com/polis-labs/polis/pkg/dispatch"
	"github.com/polis-labs/polis/pkg/engine"
	"github.com/polis-labs/polis/pkg/guardrail"
	"github.com/polis-labs/polis/pkg/identity"
	"github.com/polis-labs/polis/pkg/metrics"
	"github.com/polis-labs/polis/pkg/models"
	"github.com/polis-labs/polis/pkg/runtimeconfig"
	"github.com/polis-labs/polis/pkg/salience"
	"github.com/polis-labs/polis/pkg/store"
)

const (
	// turnTimeout bounds one whole turn including model retries.
	turnTimeout = 3 * time.Minute

	// memoryWindowLimit caps how many ledger events one turn folds into
	// the agent's memory.
	memoryWindowLimit = 200
)

// errNoAgentsDue signals an idle poll; workers sleep instead of spinning.
var errNoAgentsDue = errors.New("no agents due for a turn")

// Decider is the decision source for a turn. *dispatch.Dispatcher implements
// it; tests substitute a scripted one.
type Decider interface {
	Decide(ctx context.Context, in dispatch.DecideInput) dispatch.Decision
}

// Guard is the pre-dispatch stop check. *guardrail.Service implements it.
type Guard interface {
	Evaluate(ctx context.Context) (guardrail.StopDecision, error)
}

// Pool claims due agents and runs their turns on a fixed set of workers.
type Pool struct {
	store   *store.Store
	engine  *engine.Engine
	builder *contextbuilder.Builder
	memory  *salience.Service
	decide  Decider
	guard   Guard
	runtime *runtimeconfig.Service
	sim     *config.SimulationConfig
	clock   identity.Clock
	backoff *backoffMap
	log     *slog.Logger
}

// NewPool wires a processor pool. The engine, context builder, and memory
// service are built here because nothing else uses them.
func NewPool(st *store.Store, cfg *config.Config, decide Decider, guard Guard, runtime *runtimeconfig.Service, clock identity.Clock) *Pool {
	return &Pool{
		store:   st,
		engine:  engine.NewEngine(st, cfg.Simulation, clock),
		builder: contextbuilder.NewBuilder(st, runtime, clock),
		memory:  salience.NewService(st),
		decide:  decide,
		guard:   guard,
		runtime: runtime,
		sim:     cfg.Simulation,
		clock:   clock,
		backoff: newBackoffMap(),
		log:     slog.With("component", "processor"),
	}
}

// Run starts the configured number of workers and blocks until the context
// is cancelled. Cancellation is a clean exit: workers finish the turn in
// flight and return nil.
func (p *Pool) Run(ctx context.Context) error {
	workers := p.sim.ProcessorWorkers
	if workers < 1 {
		workers = 1
	}
	p.log.Info("Processor pool started", "workers", workers)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		id := i
		g.Go(func() error { return p.runWorker(ctx, id) })
	}
	err := g.Wait()
	p.log.Info("Processor pool stopped")
	return err
}

// runWorker is one claim-and-process loop.
func (p *Pool) runWorker(ctx context.Context, id int) error {
	log := p.log.With("worker", id)
	log.Info("Worker started")

	for {
		select {
		case <-ctx.Done():
			log.Info("Worker shutting down")
			return nil
		default:
		}

		if !p.simulationRunning() {
			p.sleep(ctx, p.pollInterval())
			continue
		}

		if err := p.processNext(ctx); err != nil {
			if errors.Is(err, errNoAgentsDue) {
				p.sleep(ctx, p.pollInterval())
				continue
			}
			if ctx.Err() != nil {
				log.Info("Worker shutting down")
				return nil
			}
			log.Error("Turn failed", "error", err)
			p.sleep(ctx, time.Second)
		}
	}
}

// simulationRunning reads the activation flags through the cache; a few
// seconds of staleness on start or stop is acceptable.
func (p *Pool) simulationRunning() bool {
	return p.runtime.CachedBool(runtimeconfig.KeySimulationActive) &&
		!p.runtime.CachedBool(runtimeconfig.KeySimulationPaused)
}

// processNext claims the next due agent and runs its turn. Claiming already
// advances the checkpoint and schedules the next one, so a crash mid-turn
// costs the agent one turn instead of wedging it.
func (p *Pool) processNext(ctx context.Context) error {
	now := p.clock.Now()
	agent, err := p.store.ClaimDueAgent(ctx, now, now.Add(p.checkpointInterval()))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errNoAgentsDue
		}
		return fmt.Errorf("failed to claim due agent: %w", err)
	}

	turnCtx, cancel := context.WithTimeout(ctx, turnTimeout)
	defer cancel()
	return p.turn(turnCtx, agent)
}

func (p *Pool) checkpointInterval() time.Duration {
	hours := p.runtime.CachedInt(runtimeconfig.KeyCheckpointIntervalHours)
	if hours <= 0 {
		hours = p.sim.CheckpointIntervalHours
	}
	return time.Duration(hours) * time.Hour
}

// turn runs one claimed checkpoint. The claim has already advanced
// agent.CheckpointNumber, so usage attribution and the memory fold are keyed
// to the turn in flight.
func (p *Pool) turn(ctx context.Context, agent *models.Agent) error {
	now := p.clock.Now()
	log := p.log.With("agent_number", agent.AgentNumber, "checkpoint_number", agent.CheckpointNumber)

	if p.backoff.Active(agent.AgentNumber, now) {
		log.Debug("Agent in backoff, skipping turn")
		return nil
	}

	maxActions := p.runtime.CachedInt(runtimeconfig.KeyMaxActionsPerHour)
	if maxActions > 0 {
		used, err := p.store.CountActionsSince(ctx, agent.AgentNumber, identity.WindowStart(now, time.Hour))
		if err != nil {
			return fmt.Errorf("failed to count recent actions: %w", err)
		}
		if used >= maxActions {
			return p.rateLimited(ctx, agent, now, used, maxActions)
		}
	}

	stop, err := p.guard.Evaluate(ctx)
	if err != nil {
		return fmt.Errorf("guardrail evaluation failed: %w", err)
	}
	if stop.ShouldStop {
		log.Warn("Guardrail requested stop, skipping turn", "reason", stop.Reason)
		return nil
	}

	// Everything the turn appends lands after this id; the memory fold
	// reads the window back at the end.
	windowStart, err := p.store.LatestEventID(ctx)
	if err != nil {
		return fmt.Errorf("failed to read event cursor: %w", err)
	}

	prompt, err := p.builder.Build(ctx, agent)
	if err != nil {
		return fmt.Errorf("failed to build context for agent %d: %w", agent.AgentNumber, err)
	}
	inv, err := p.store.GetInventory(ctx, agent.AgentNumber)
	if err != nil {
		return fmt.Errorf("failed to load inventory for agent %d: %w", agent.AgentNumber, err)
	}

	dec := p.decide.Decide(ctx, dispatch.DecideInput{
		AgentNumber:   agent.AgentNumber,
		ModelType:     agent.ModelType,
		SystemPrompt:  agent.SystemPrompt,
		ContextPrompt: prompt,
		Inventory:     inv,
		Attribution:   p.attribution(agent),
	})
	if dec.FallbackUsed {
		p.appendEvent(ctx, log, &models.Event{
			EventType:   models.EventModelFallback,
			AgentNumber: &agent.AgentNumber,
			Description: fmt.Sprintf("%s fell back to a routine action (%s)", agent.DisplayName, dec.FallbackReason),
			Metadata: map[string]any{
				"reason":   dec.FallbackReason,
				"action":   dec.Action.Label(),
				"attempts": dec.Attempts,
			},
			SimulationDay: identity.SimulationDay(now),
		})
	}

	verdict, err := p.engine.Validate(ctx, agent, dec.Action)
	if err != nil {
		return fmt.Errorf("failed to validate action for agent %d: %w", agent.AgentNumber, err)
	}
	if !verdict.Valid {
		return p.rejected(ctx, log, agent, dec.Action, verdict.Reason, now)
	}

	res, err := p.engine.Execute(ctx, agent, dec.Action)
	if err != nil {
		return fmt.Errorf("failed to execute action for agent %d: %w", agent.AgentNumber, err)
	}
	if res.Success {
		p.appendEvent(ctx, log, &models.Event{
			EventType:     models.EventActionExecuted,
			AgentNumber:   &agent.AgentNumber,
			Description:   fmt.Sprintf("%s: %s", agent.DisplayName, res.Description),
			Metadata:      executedMetadata(dec.Action, res),
			SimulationDay: identity.SimulationDay(now),
		})
		if evt := domainEvent(agent, dec.Action, res, now); evt != nil {
			p.appendEvent(ctx, log, evt)
		}
		metrics.RecordTurn(agent.ModelType, "executed")
		log.Info("Action executed", "action", dec.Action.Label())
	} else {
		// Rolled back mid-execution: state the agent relied on changed
		// between validate and apply. The attempt row is already written.
		p.backoff.Set(agent.AgentNumber, now.Add(p.cooldown()))
		p.appendEvent(ctx, log, &models.Event{
			EventType:   models.EventInvalidAction,
			AgentNumber: &agent.AgentNumber,
			Description: fmt.Sprintf("%s attempted %s: %s", agent.DisplayName, dec.Action.Label(), res.Description),
			Metadata: map[string]any{
				"action": dec.Action.Label(),
				"reason": res.Description,
			},
			SimulationDay: identity.SimulationDay(now),
		})
		metrics.RecordTurn(agent.ModelType, "rolled_back")
		log.Info("Action rolled back", "action", dec.Action.Label(), "reason", res.Description)
	}

	p.rememberTurn(ctx, log, agent, windowStart)
	return nil
}

// rateLimited handles a turn that hit the hourly cap: install the backoff
// through the next slot plus the cooldown buffer, then append exactly one
// invalid_action event. The backoff goes in first so a failed append cannot
// double-emit on the next turn. No attempt row is written; a rate-limited
// turn must not extend its own window.
func (p *Pool) rateLimited(ctx context.Context, agent *models.Agent, now time.Time, used, max int) error {
	reset := identity.NextHourSlot(now)
	p.backoff.Set(agent.AgentNumber, reset.Add(p.cooldown()))

	if err := p.store.AppendEvent(ctx, &models.Event{
		EventType:   models.EventInvalidAction,
		AgentNumber: &agent.AgentNumber,
		Description: fmt.Sprintf("%s exceeded the hourly action limit (%d/%d)", agent.DisplayName, used, max),
		Metadata: map[string]any{
			"reason":   "rate_limited",
			"used":     used,
			"max":      max,
			"reset_at": reset.Format(time.RFC3339),
		},
		SimulationDay: identity.SimulationDay(now),
	}); err != nil {
		return fmt.Errorf("failed to append rate limit event: %w", err)
	}
	metrics.RecordTurn(agent.ModelType, "rate_limited")
	p.log.Info("Agent rate limited",
		"agent_number", agent.AgentNumber, "used", used, "max", max, "reset_at", reset)
	return nil
}

// rejected handles a validation failure: record the attempt, install a short
// backoff, append the invalid_action event.
func (p *Pool) rejected(ctx context.Context, log *slog.Logger, agent *models.Agent, act *engine.Action, reason string, now time.Time) error {
	if err := p.store.RecordAction(ctx, &models.AgentAction{
		AgentNumber: agent.AgentNumber,
		ActionType:  act.Label(),
		Success:     false,
		Detail:      reason,
	}); err != nil {
		return fmt.Errorf("failed to record rejected action: %w", err)
	}
	p.backoff.Set(agent.AgentNumber, now.Add(p.cooldown()))
	p.appendEvent(ctx, log, &models.Event{
		EventType:   models.EventInvalidAction,
		AgentNumber: &agent.AgentNumber,
		Description: fmt.Sprintf("%s attempted %s: %s", agent.DisplayName, act.Label(), reason),
		Metadata: map[string]any{
			"action": act.Label(),
			"reason": reason,
		},
		SimulationDay: identity.SimulationDay(now),
	})
	metrics.RecordTurn(agent.ModelType, "rejected")
	log.Info("Action rejected", "action", act.Label(), "reason", reason)
	return nil
}

// rememberTurn folds the events appended while the turn was in flight into
// the agent's long-term memory. Best effort: memory loss is not worth
// failing a committed turn over.
func (p *Pool) rememberTurn(ctx context.Context, log *slog.Logger, agent *models.Agent, sinceID int64) {
	window, err := p.store.ListEventsSince(ctx, sinceID, memoryWindowLimit)
	if err != nil {
		log.Warn("Failed to read memory window", "error", err)
		return
	}
	if err := p.memory.RememberCheckpoint(ctx, agent.AgentNumber, agent.CheckpointNumber, window); err != nil {
		log.Warn("Failed to update memory", "error", err)
	}
}

func (p *Pool) attribution(agent *models.Agent) dispatch.Attribution {
	attr := dispatch.Attribution{CheckpointNumber: &agent.CheckpointNumber}
	if runID := p.runtime.CachedValue(runtimeconfig.KeyCurrentRunID); runID != "" {
		attr.RunID = &runID
	}
	return attr
}

// appendEvent writes one ledger row, logging instead of failing the turn.
func (p *Pool) appendEvent(ctx context.Context, log *slog.Logger, e *models.Event) {
	if err := p.store.AppendEvent(ctx, e); err != nil {
		log.Error("Failed to append event", "event_type", e.EventType, "error", err)
	}
}

func (p *Pool) cooldown() time.Duration {
	return time.Duration(p.sim.BackoffCooldownSec) * time.Second
}

// pollInterval returns the idle poll duration with jitter so workers spread
// out instead of stampeding the claim query together.
func (p *Pool) pollInterval() time.Duration {
	base := time.Duration(p.sim.ProcessorPollSeconds) * time.Second
	if base <= 0 {
		base = 20 * time.Second
	}
	jitter := base / 4
	if jitter <= 0 {
		return base
	}
	return base - jitter + time.Duration(rand.Int64N(int64(2*jitter)))
}

// sleep waits for d or until the context is cancelled.
func (p *Pool) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// executedMetadata shapes the action_executed event payload.
func executedMetadata(act *engine.Action, res *engine.Result) map[string]any {
	md := map[string]any{"action": act.Label()}
	for k, v := range res.Data {
		md[k] = v
	}
	return md
}

// domainEvent maps a successful governance action onto its own ledger event
// so observers can follow motions without parsing action_executed payloads.
func domainEvent(agent *models.Agent, act *engine.Action, res *engine.Result, now time.Time) *models.Event {
	switch act.Type {
	case engine.ActionPropose:
		return &models.Event{
			EventType:   models.EventProposalCreated,
			AgentNumber: &agent.AgentNumber,
			Description: fmt.Sprintf("%s put %q to a vote", agent.DisplayName, act.Title),
			Metadata: map[string]any{
				"proposal_id":      res.Data["proposal_id"],
				"proposal_type":    res.Data["proposal_type"],
				"voting_closes_at": res.Data["voting_closes_at"],
			},
			SimulationDay: identity.SimulationDay(now),
		}
	case engine.ActionEnforceInitiate:
		return &models.Event{
			EventType:   models.EventEnforcementCreated,
			AgentNumber: &agent.AgentNumber,
			Description: fmt.Sprintf("%s moved to enforce law %d against agent %d",
				agent.DisplayName, act.LawID, *act.TargetAgentNumber),
			Metadata: map[string]any{
				"enforcement_id":      res.Data["enforcement_id"],
				"enforcement_type":    res.Data["enforcement_type"],
				"target_agent_number": res.Data["target_agent_number"],
				"law_id":              res.Data["law_id"],
				"votes_required":      res.Data["votes_required"],
				"voting_closes_at":    res.Data["voting_closes_at"],
			},
			SimulationDay: identity.SimulationDay(now),
		}
	default:
		return nil
	}
}
