package season

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/polis-labs/polis/pkg/models"
)

// ScorePolicyV1 is the fixed epoch scoring policy: hours survived inside the
// season's run window, plus total wealth, plus 10 per law authored, minus 5
// per enforcement executed against the agent.
const ScorePolicyV1 = "epoch_score_v1"

const (
	lawAuthorshipWeight   = 10.0
	enforcementPenalty    = 5.0
	defaultChampionsCount = 3
)

// EpochRequest selects which seasons compete and how many champions advance.
// An empty SeasonIDs means every season with lineage rows. MaxChampions of
// zero means no cap on the combined list.
type EpochRequest struct {
	EpochID            string
	SeasonIDs          []string
	ChampionsPerSeason int
	MaxChampions       int
}

// SelectChampions ranks each season's members under ScorePolicyV1 and
// returns the top ChampionsPerSeason of each, grouped by season with rank
// ascending. Ties break on agent number, so identical inputs always produce
// the identical champion list. When MaxChampions caps the total, the
// combined list is cut by score (season id, then agent number on ties)
// before regrouping.
func (s *Service) SelectChampions(ctx context.Context, req EpochRequest) ([]models.EpochChampion, error) {
	if req.EpochID == "" {
		return nil, fmt.Errorf("epoch id required")
	}

	seasons := req.SeasonIDs
	if len(seasons) == 0 {
		var err error
		seasons, err = s.store.ListSeasonIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list seasons: %w", err)
		}
	}
	perSeason := req.ChampionsPerSeason
	if perSeason <= 0 {
		perSeason = defaultChampionsCount
	}

	wealth, err := s.store.SumWealth(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read wealth: %w", err)
	}

	champions := make([]models.EpochChampion, 0, len(seasons)*perSeason)
	order := make(map[string]int, len(seasons))
	seen := make(map[string]bool, len(seasons))
	for _, seasonID := range seasons {
		if seen[seasonID] {
			continue
		}
		seen[seasonID] = true
		order[seasonID] = len(order)

		ranked, err := s.scoreSeason(ctx, seasonID, wealth)
		if err != nil {
			return nil, err
		}
		if len(ranked) > perSeason {
			ranked = ranked[:perSeason]
		}
		for i := range ranked {
			ranked[i].EpochID = req.EpochID
		}
		champions = append(champions, ranked...)
	}

	if req.MaxChampions > 0 && len(champions) > req.MaxChampions {
		sort.Slice(champions, func(i, j int) bool {
			a, b := champions[i], champions[j]
			if a.Score != b.Score {
				return a.Score > b.Score
			}
			if a.SeasonID != b.SeasonID {
				return a.SeasonID < b.SeasonID
			}
			return a.AgentNumber < b.AgentNumber
		})
		champions = champions[:req.MaxChampions]
		sort.Slice(champions, func(i, j int) bool {
			a, b := champions[i], champions[j]
			if a.SeasonID != b.SeasonID {
				return order[a.SeasonID] < order[b.SeasonID]
			}
			return a.Rank < b.Rank
		})
	}

	s.log.Info("Epoch champions selected",
		"epoch_id", req.EpochID, "seasons", len(order), "champions", len(champions))
	return champions, nil
}

// scoreSeason scores every lineage member of one season, highest first.
func (s *Service) scoreSeason(ctx context.Context, seasonID string, wealth map[int]int) ([]models.EpochChampion, error) {
	lineages, err := s.store.ListLineageBySeason(ctx, seasonID)
	if err != nil {
		return nil, fmt.Errorf("failed to list lineage for season %s: %w", seasonID, err)
	}
	runs, err := s.store.ListRunsBySeason(ctx, seasonID)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs for season %s: %w", seasonID, err)
	}
	start, end, hasWindow := seasonWindow(runs, s.clock.Now().UTC())

	ranked := make([]models.EpochChampion, 0, len(lineages))
	for _, l := range lineages {
		agent, err := s.store.GetAgent(ctx, l.ChildAgentNumber)
		if err != nil {
			return nil, fmt.Errorf("failed to load agent %d: %w", l.ChildAgentNumber, err)
		}
		laws, err := s.store.CountLawsAuthoredBy(ctx, agent.AgentNumber)
		if err != nil {
			return nil, err
		}
		executed, err := s.store.CountEnforcementsAgainst(ctx, agent.AgentNumber)
		if err != nil {
			return nil, err
		}

		score := float64(wealth[agent.AgentNumber]) +
			lawAuthorshipWeight*float64(laws) -
			enforcementPenalty*float64(executed)
		if hasWindow {
			score += survivalHours(agent, start, end)
		}

		ranked = append(ranked, models.EpochChampion{
			SeasonID:    seasonID,
			AgentNumber: agent.AgentNumber,
			DisplayName: agent.DisplayName,
			Score:       score,
		})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].AgentNumber < ranked[j].AgentNumber
	})
	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	return ranked, nil
}

// seasonWindow spans a season's runs: earliest start to latest end, with any
// still-open run extending the window to now. A season with no registered
// runs has no window and contributes no survival hours.
func seasonWindow(runs []*models.SimulationRun, now time.Time) (start, end time.Time, ok bool) {
	if len(runs) == 0 {
		return time.Time{}, time.Time{}, false
	}
	start = runs[0].StartedAt
	for _, r := range runs {
		if r.StartedAt.Before(start) {
			start = r.StartedAt
		}
		stop := now
		if r.EndedAt != nil {
			stop = *r.EndedAt
		}
		if stop.After(end) {
			end = stop
		}
	}
	return start, end, true
}

// survivalHours measures how long the agent lived inside [start, end].
func survivalHours(a *models.Agent, start, end time.Time) float64 {
	stop := end
	if a.DiedAt != nil && a.DiedAt.Before(end) {
		stop = *a.DiedAt
	}
	if stop.Before(start) {
		return 0
	}
	return stop.Sub(start).Hours()
}
