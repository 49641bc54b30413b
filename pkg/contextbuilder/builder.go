// Package contextbuilder renders the textual snapshot an agent sees before
// deciding. The output is deterministic for a given ledger state and clock:
// the same rows always produce the same prompt, so decision replays are
// comparable across runs.
package contextbuilder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/polis-labs/polis/pkg/identity"
	"github.com/polis-labs/polis/pkg/models"
	"github.com/polis-labs/polis/pkg/runtimeconfig"
	"github.com/polis-labs/polis/pkg/salience"
	"github.com/polis-labs/polis/pkg/store"
)

const (
	// maxPerceptions bounds the messages section.
	maxPerceptions = 10

	// eventLookback is how far back the salience scan reaches.
	eventLookback = 24 * time.Hour

	// maxSalientEvents bounds the events section.
	maxSalientEvents = 8
)

// Builder assembles per-agent context snapshots.
type Builder struct {
	store   *store.Store
	runtime *runtimeconfig.Service
	clock   identity.Clock
	log     *slog.Logger
}

func NewBuilder(st *store.Store, runtime *runtimeconfig.Service, clock identity.Clock) *Builder {
	return &Builder{
		store:   st,
		runtime: runtime,
		clock:   clock,
		log:     slog.With("component", "contextbuilder"),
	}
}

// Build renders the agent's decision context. Perceptions are lagged by
// PERCEPTION_LAG_SECONDS so an agent never sees writes committed in the
// same wall-clock instant as its own turn.
func (b *Builder) Build(ctx context.Context, agent *models.Agent) (string, error) {
	now := b.clock.Now()

	lagSeconds, err := b.runtime.Int(ctx, runtimeconfig.KeyPerceptionLagSeconds)
	if err != nil {
		return "", fmt.Errorf("failed to read perception lag: %w", err)
	}
	maxActions, err := b.runtime.Int(ctx, runtimeconfig.KeyMaxActionsPerHour)
	if err != nil {
		return "", fmt.Errorf("failed to read hourly action limit: %w", err)
	}
	horizon := now.Add(-time.Duration(lagSeconds) * time.Second)

	var sb strings.Builder
	fmt.Fprintf(&sb, "You are %s (agent %d). Current time (UTC): %s\n",
		agent.DisplayName, agent.AgentNumber, now.Format(time.RFC3339))

	if err := b.writeInventory(ctx, &sb, agent.AgentNumber); err != nil {
		return "", err
	}
	if err := b.writeWorldPools(ctx, &sb); err != nil {
		return "", err
	}
	if err := b.writeMemory(ctx, &sb, agent.AgentNumber); err != nil {
		return "", err
	}
	if err := b.writePerceptions(ctx, &sb, agent.AgentNumber, horizon); err != nil {
		return "", err
	}
	if err := b.writeSalientEvents(ctx, &sb, agent.AgentNumber, horizon); err != nil {
		return "", err
	}
	if err := b.writeLaws(ctx, &sb); err != nil {
		return "", err
	}
	if err := b.writeVotableProposals(ctx, &sb, agent.AgentNumber, now); err != nil {
		return "", err
	}
	b.writeIntent(&sb, agent)
	if err := b.writeActionBudget(ctx, &sb, agent.AgentNumber, now, maxActions); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func (b *Builder) writeInventory(ctx context.Context, sb *strings.Builder, agentNumber int) error {
	inv, err := b.store.GetInventory(ctx, agentNumber)
	if err != nil {
		return fmt.Errorf("failed to load inventory: %w", err)
	}
	sb.WriteString("\nYour inventory:\n")
	for _, rt := range models.ResourceTypes {
		fmt.Fprintf(sb, "- %s: %d\n", rt, inv[rt])
	}
	return nil
}

func (b *Builder) writeWorldPools(ctx context.Context, sb *strings.Builder) error {
	pools, err := b.store.GetGlobalResources(ctx)
	if err != nil {
		return fmt.Errorf("failed to load global pools: %w", err)
	}
	sb.WriteString("\nShared world pools (work draws from these):\n")
	for _, rt := range models.ResourceTypes {
		fmt.Fprintf(sb, "- %s: %d\n", rt, pools.Amount(rt))
	}
	return nil
}

func (b *Builder) writeMemory(ctx context.Context, sb *strings.Builder, agentNumber int) error {
	mem, err := b.store.GetAgentMemory(ctx, agentNumber)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to load memory: %w", err)
	}
	if mem.Summary == "" {
		return nil
	}
	sb.WriteString("\nYour memory of past checkpoints:\n")
	sb.WriteString(mem.Summary)
	sb.WriteString("\n")
	return nil
}

func (b *Builder) writePerceptions(ctx context.Context, sb *strings.Builder, agentNumber int, horizon time.Time) error {
	msgs, err := b.store.ListMessagesFor(ctx, agentNumber, horizon, maxPerceptions)
	if err != nil {
		return fmt.Errorf("failed to load messages: %w", err)
	}
	sb.WriteString("\nRecent messages (newest first):\n")
	if len(msgs) == 0 {
		sb.WriteString("- none\n")
		return nil
	}
	for _, m := range msgs {
		scope := "to you"
		if m.Broadcast() {
			scope = "broadcast"
		}
		fmt.Fprintf(sb, "- [%s] agent %d (%s): %s\n",
			m.CreatedAt.UTC().Format(time.RFC3339), m.SenderAgentNumber, scope, m.Body)
	}
	return nil
}

func (b *Builder) writeSalientEvents(ctx context.Context, sb *strings.Builder, agentNumber int, horizon time.Time) error {
	events, err := b.store.ListEventsBetween(ctx, horizon.Add(-eventLookback), horizon)
	if err != nil {
		return fmt.Errorf("failed to load events: %w", err)
	}
	ranked := salience.Rank(events, agentNumber, maxSalientEvents)
	sb.WriteString("\nNotable recent events:\n")
	wrote := false
	for _, sc := range ranked {
		if sc.Score <= 0 {
			continue
		}
		fmt.Fprintf(sb, "- [%s] %s\n",
			sc.Event.CreatedAt.UTC().Format(time.RFC3339), sc.Event.Description)
		wrote = true
	}
	if !wrote {
		sb.WriteString("- none\n")
	}
	return nil
}

func (b *Builder) writeLaws(ctx context.Context, sb *strings.Builder) error {
	laws, err := b.store.ListActiveLaws(ctx)
	if err != nil {
		return fmt.Errorf("failed to load laws: %w", err)
	}
	sb.WriteString("\nActive laws:\n")
	if len(laws) == 0 {
		sb.WriteString("- none\n")
		return nil
	}
	for _, l := range laws {
		carried := ""
		if l.CarriedFromSeasonID != nil {
			carried = " (carried from a prior season)"
		}
		fmt.Fprintf(sb, "- [law %d] %s, authored by agent %d%s\n",
			l.ID, l.Title, l.AuthorAgentNumber, carried)
	}
	return nil
}

func (b *Builder) writeVotableProposals(ctx context.Context, sb *strings.Builder, agentNumber int, now time.Time) error {
	open, err := b.store.ListOpenProposals(ctx)
	if err != nil {
		return fmt.Errorf("failed to load proposals: %w", err)
	}
	sb.WriteString("\nProposals you can vote on:\n")
	wrote := false
	for _, p := range open {
		if !p.VotingClosesAt.After(now) {
			continue
		}
		voted, err := b.store.HasVoted(ctx, p.ID, agentNumber)
		if err != nil {
			return fmt.Errorf("failed to check vote on proposal %d: %w", p.ID, err)
		}
		if voted {
			continue
		}
		fmt.Fprintf(sb, "- [proposal %d] %s %q by agent %d, %d yes / %d no, closes %s\n",
			p.ID, p.ProposalType, p.Title, p.AuthorAgentNumber,
			p.YesCount, p.NoCount, p.VotingClosesAt.UTC().Format(time.RFC3339))
		wrote = true
	}
	if !wrote {
		sb.WriteString("- none\n")
	}
	return nil
}

func (b *Builder) writeIntent(sb *strings.Builder, agent *models.Agent) {
	sb.WriteString("\nYour standing intent: ")
	if agent.CurrentIntent != nil && *agent.CurrentIntent != "" {
		sb.WriteString(*agent.CurrentIntent)
	} else {
		sb.WriteString("none declared")
	}
	sb.WriteString("\n")
	if agent.NextCheckpointAt != nil {
		fmt.Fprintf(sb, "Next checkpoint (UTC): %s (checkpoint %d)\n",
			agent.NextCheckpointAt.UTC().Format(time.RFC3339), agent.CheckpointNumber+1)
	}
}

func (b *Builder) writeActionBudget(ctx context.Context, sb *strings.Builder, agentNumber int, now time.Time, maxActions int) error {
	used, err := b.store.CountActionsSince(ctx, agentNumber, identity.WindowStart(now, time.Hour))
	if err != nil {
		return fmt.Errorf("failed to count recent actions: %w", err)
	}
	remaining := maxActions - used
	if remaining < 0 {
		remaining = 0
	}
	sb.WriteString("\nAction budget:\n")
	fmt.Fprintf(sb, "- Actions used this hour: %d/%d\n", used, maxActions)
	fmt.Fprintf(sb, "- Remaining actions this hour: %d\n", remaining)
	fmt.Fprintf(sb, "- Next action slot reset (UTC): %s\n",
		identity.NextHourSlot(now).Format(time.RFC3339))
	return nil
}
