package scheduler

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/polis-labs/polis/pkg/identity"
	"github.com/polis-labs/polis/pkg/metrics"
	"github.com/polis-labs/polis/pkg/models"
	"github.com/polis-labs/polis/pkg/store"
)

// snapshotEmergence writes the completed day's population metrics once the
// date rolls over. The snapshot table's unique day index is the natural key,
// so the insert-or-skip makes re-runs free. Days whose ledger recorded no
// events at all (the world was down or not yet launched) get no snapshot.
func (s *Service) snapshotEmergence(ctx context.Context, now time.Time) error {
	prev := now.AddDate(0, 0, -1)
	day := identity.DayKey(prev)

	if _, err := s.store.GetMetricSnapshot(ctx, day); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	events, err := s.store.ListEventsByDay(ctx, day)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	snap, err := s.computeEmergence(ctx, identity.StartOfDay(prev), day)
	if err != nil {
		return err
	}
	inserted, err := s.store.InsertMetricSnapshot(ctx, snap)
	if err != nil {
		return err
	}
	if inserted {
		metrics.SetPopulation(snap.ActiveAgents, snap.TotalWealth, snap.GiniCoefficient)
		s.log.Info("Emergence snapshot written", "day", day,
			"participation", snap.ParticipationRate, "gini", snap.GiniCoefficient,
			"active_agents", snap.ActiveAgents, "total_wealth", snap.TotalWealth)
	}
	return nil
}

// computeEmergence derives the day's population metrics. Window reads are
// trailing (created_at >= since); the few post-midnight seconds before the
// tick fires add noise well under the metric granularity.
func (s *Service) computeEmergence(ctx context.Context, since time.Time, day string) (*models.EmergenceMetricSnapshot, error) {
	active, err := s.store.ListAgentsByStatus(ctx, models.AgentStatusActive)
	if err != nil {
		return nil, err
	}
	actors, err := s.store.CountDistinctActorsSince(ctx, since)
	if err != nil {
		return nil, err
	}

	wealth, err := s.store.SumWealth(ctx)
	if err != nil {
		return nil, err
	}
	var total int64
	for _, w := range wealth {
		total += int64(w)
	}

	resolved, err := s.store.CountEventsByTypeSince(ctx, models.EventEnforcementResolved, since)
	if err != nil {
		return nil, err
	}
	executed, err := s.store.CountEventsByTypeSince(ctx, models.EventEnforcementExecuted, since)
	if err != nil {
		return nil, err
	}
	tradeLegs, err := s.store.CountTransactionsSince(ctx, models.TransactionTrade, since)
	if err != nil {
		return nil, err
	}

	churn, err := s.coalitionChurn(ctx, since)
	if err != nil {
		return nil, err
	}

	population := float64(len(active))
	if population == 0 {
		population = 1
	}
	return &models.EmergenceMetricSnapshot{
		SimulationDay:     day,
		ParticipationRate: float64(actors) / population,
		GiniCoefficient:   giniCoefficient(wealth),
		// Executed motions count on top of their resolution: a dispute that
		// actually stripped someone weighs more than a rejected motion.
		ConflictRate: float64(resolved+executed) / population,
		// Every completed trade writes two legs.
		CooperationRate: float64(tradeLegs/2) / population,
		CoalitionChurn:  churn,
		ActiveAgents:    len(active),
		TotalWealth:     total,
	}, nil
}

// pair is an undirected message edge between two agents.
type pair struct{ low, high int }

func makePair(a, b int) pair {
	if a > b {
		a, b = b, a
	}
	return pair{low: a, high: b}
}

// coalitionChurn compares the day's direct-message graph against the prior
// day's as a Jaccard distance between edge sets: 0 means the same pairings
// kept talking, 1 means an entirely new set of ties. Broadcasts are not
// pairwise ties and do not count.
func (s *Service) coalitionChurn(ctx context.Context, dayStart time.Time) (float64, error) {
	msgs, err := s.store.ListMessagesSince(ctx, dayStart.AddDate(0, 0, -1))
	if err != nil {
		return 0, err
	}

	today := map[pair]struct{}{}
	prior := map[pair]struct{}{}
	for _, m := range msgs {
		if m.TargetAgentNumber == nil {
			continue
		}
		p := makePair(m.SenderAgentNumber, *m.TargetAgentNumber)
		if m.CreatedAt.Before(dayStart) {
			prior[p] = struct{}{}
		} else {
			today[p] = struct{}{}
		}
	}

	union := len(prior)
	shared := 0
	for p := range today {
		if _, ok := prior[p]; ok {
			shared++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0, nil
	}
	return 1 - float64(shared)/float64(union), nil
}

// giniCoefficient measures wealth concentration across the living
// population: 0 is perfect equality, values near 1 mean a single agent
// holds nearly everything.
func giniCoefficient(wealth map[int]int) float64 {
	if len(wealth) == 0 {
		return 0
	}
	values := make([]float64, 0, len(wealth))
	var sum float64
	for _, w := range wealth {
		v := float64(w)
		values = append(values, v)
		sum += v
	}
	if sum == 0 {
		return 0
	}
	sort.Float64s(values)

	var weighted float64
	for i, v := range values {
		weighted += float64(i+1) * v
	}
	n := float64(len(values))
	return 2*weighted/(n*sum) - (n+1)/n
}
