// Package salience scores events for attention. Scoring is deterministic
// so two context builds over the same ledger rows pick the same events,
// and the memory service folds each checkpoint's top events into the
// running summary an agent carries between checkpoints.
package salience

import (
	"sort"
	"strings"

	"github.com/polis-labs/polis/pkg/models"
)

// salientTypes is the fixed set of event types worth +3 on sight.
var salientTypes = map[string]struct{}{
	models.EventProposalResolved:    {},
	models.EventLawPassed:           {},
	models.EventLawRepealed:         {},
	models.EventEnforcementExecuted: {},
	models.EventAgentDied:           {},
	models.EventCrisisDeclared:      {},
	models.EventSimulationPaused:    {},
}

// lexicon is the fixed keyword list, +1 per keyword found in the
// description. Stems catch inflections (starv covers starving and
// starvation).
var lexicon = []string{
	"law",
	"vote",
	"exile",
	"sanction",
	"seizure",
	"starv",
	"death",
	"died",
	"crisis",
}

// interruptPrefix marks checkpoint reasons that are independently salient.
const interruptPrefix = "interrupt_"

// Score computes the deterministic salience of one event for a focal agent.
func Score(e *models.Event, focalAgent int) int {
	score := 0
	if _, ok := salientTypes[e.EventType]; ok {
		score += 3
	}
	if e.AgentNumber != nil && *e.AgentNumber == focalAgent {
		score++
	}
	desc := strings.ToLower(e.Description)
	for _, kw := range lexicon {
		if strings.Contains(desc, kw) {
			score++
		}
	}
	if crisis, ok := e.Metadata["crisis"].(bool); ok && crisis {
		score += 2
	}
	if reason, ok := e.Metadata["reason"].(string); ok && strings.HasPrefix(reason, interruptPrefix) {
		score += 2
	}
	return score
}

// Scored pairs an event with its computed salience.
type Scored struct {
	Event *models.Event
	Score int
}

// Rank returns the top-k events for the focal agent, highest score first.
// Ties keep their original order, so equal-scored events surface oldest
// first when the input is chronological.
func Rank(events []*models.Event, focalAgent, k int) []Scored {
	scored := make([]Scored, 0, len(events))
	for _, e := range events {
		scored = append(scored, Scored{Event: e, Score: Score(e, focalAgent)})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if k >= 0 && len(scored) > k {
		scored = scored[:k]
	}
	return scored
}
