package reports

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/polis-labs/polis/pkg/models"
	"github.com/polis-labs/polis/pkg/store"
)

// RunReport is the run_report_v1 document. The run's own registry row is
// embedded whole so linkage metadata (season, mirror control run, protocol
// deviation) always reaches the reader.
type RunReport struct {
	GeneratedAt time.Time                       `json:"generated_at"`
	Run         *models.SimulationRun           `json:"run"`
	Population  PopulationTotals                `json:"population"`
	Governance  GovernanceTotals                `json:"governance"`
	Economy     EconomyTotals                   `json:"economy"`
	Activity    ActivityTotals                  `json:"activity"`
	Usage       UsageTotals                     `json:"llm_usage"`
	Metrics     *models.EmergenceMetricSnapshot `json:"latest_metrics,omitempty"`
}

// PopulationTotals summarizes the population at export time.
type PopulationTotals struct {
	Total     int            `json:"total"`
	ByStatus  map[string]int `json:"by_status"`
	Exiled    int            `json:"exiled"`
	Survivors int            `json:"survivors"`
}

// GovernanceTotals summarizes proposals, laws, and enforcements.
type GovernanceTotals struct {
	ProposalsByStatus    map[string]int `json:"proposals_by_status"`
	LawsTotal            int            `json:"laws_total"`
	LawsActive           int            `json:"laws_active"`
	EnforcementsByStatus map[string]int `json:"enforcements_by_status"`
}

// EconomyTotals summarizes holdings and trade volume over the run window.
type EconomyTotals struct {
	TotalWealth    int64 `json:"total_wealth"`
	TradesExecuted int   `json:"trades_executed"`
}

// ActivityTotals is the event breakdown over the run window.
type ActivityTotals struct {
	TotalEvents  int            `json:"total_events"`
	EventsByType map[string]int `json:"events_by_type"`
}

// UsageTotals aggregates every model call attributed to the run.
type UsageTotals struct {
	Calls            int            `json:"calls"`
	FailedCalls      int            `json:"failed_calls"`
	TotalTokens      int64          `json:"total_tokens"`
	EstimatedCostUSD float64        `json:"estimated_cost_usd"`
	FallbackCalls    int            `json:"fallback_calls"`
	ByokCalls        int            `json:"byok_calls"`
	CallsByProvider  map[string]int `json:"calls_by_provider"`
}

// ExportRunReport builds the run_report_v1 pair for one run and registers
// it. Unknown runs return store.ErrNotFound.
func (s *Service) ExportRunReport(ctx context.Context, runID string) (*models.RunReportArtifact, error) {
	report, err := s.buildRunReport(ctx, runID)
	if err != nil {
		return nil, err
	}
	return s.writePair(ctx, s.runDir(runID), "run_report", runID,
		ArtifactRunReportV1, report, runReportMarkdown(report))
}

// buildRunReport gathers the aggregates. Windowed counts cover
// [started_at, ended_at); a run still open extends to now.
func (s *Service) buildRunReport(ctx context.Context, runID string) (*RunReport, error) {
	run, err := s.store.GetSimulationRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}
	now := s.clock.Now().UTC()
	windowEnd := now
	if run.EndedAt != nil {
		windowEnd = *run.EndedAt
	}

	agents, err := s.store.ListAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	pop := PopulationTotals{ByStatus: map[string]int{}}
	for _, a := range agents {
		pop.Total++
		pop.ByStatus[string(a.Status)]++
		if a.Exiled {
			pop.Exiled++
		}
		if a.Status != models.AgentStatusDead && !a.Exiled {
			pop.Survivors++
		}
	}

	proposals, err := s.store.CountProposalsByStatus(ctx)
	if err != nil {
		return nil, err
	}
	lawsTotal, lawsActive, err := s.store.CountLaws(ctx)
	if err != nil {
		return nil, err
	}
	enforcements, err := s.store.CountEnforcementsByStatus(ctx)
	if err != nil {
		return nil, err
	}

	wealth, err := s.store.SumWealth(ctx)
	if err != nil {
		return nil, err
	}
	var totalWealth int64
	for _, w := range wealth {
		totalWealth += int64(w)
	}
	trades, err := s.store.CountTransactionsBetween(ctx, models.TransactionTrade, run.StartedAt, windowEnd)
	if err != nil {
		return nil, err
	}

	eventCounts, err := s.store.CountEventsByTypeBetween(ctx, run.StartedAt, windowEnd)
	if err != nil {
		return nil, err
	}
	totalEvents := 0
	for _, n := range eventCounts {
		totalEvents += n
	}

	usage, err := s.store.SummarizeUsageForRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	metrics, err := s.store.LatestMetricSnapshot(ctx)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	return &RunReport{
		GeneratedAt: now,
		Run:         run,
		Population:  pop,
		Governance: GovernanceTotals{
			ProposalsByStatus:    statusCounts(proposals),
			LawsTotal:            lawsTotal,
			LawsActive:           lawsActive,
			EnforcementsByStatus: statusCounts(enforcements),
		},
		Economy: EconomyTotals{
			TotalWealth:    totalWealth,
			TradesExecuted: trades,
		},
		Activity: ActivityTotals{
			TotalEvents:  totalEvents,
			EventsByType: eventCounts,
		},
		Usage: UsageTotals{
			Calls:            usage.Calls,
			FailedCalls:      usage.FailedCalls,
			TotalTokens:      usage.TotalTokens,
			EstimatedCostUSD: usage.EstimatedCostUSD,
			FallbackCalls:    usage.FallbackCount,
			ByokCalls:        usage.ByokCalls,
			CallsByProvider:  usage.CallsByProvider,
		},
		Metrics: metrics,
	}, nil
}

// statusCounts flattens typed status keys to strings for the document.
func statusCounts[K ~string](m map[K]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, n := range m {
		out[string(k)] = n
	}
	return out
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func runReportMarkdown(r *RunReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Run report: %s\n\n", r.Run.RunID)
	fmt.Fprintf(&b, "Generated %s.\n\n", r.GeneratedAt.Format(time.RFC3339))

	fmt.Fprintf(&b, "## Run\n\n")
	fmt.Fprintf(&b, "- Mode: %s\n", r.Run.RunMode)
	fmt.Fprintf(&b, "- Class: %s\n", r.Run.RunClass)
	fmt.Fprintf(&b, "- Protocol: %s\n", r.Run.ProtocolVersion)
	if r.Run.SeasonID != nil {
		fmt.Fprintf(&b, "- Season: %s\n", *r.Run.SeasonID)
	}
	if r.Run.MirrorControlRunID != nil {
		fmt.Fprintf(&b, "- Mirror control run: %s\n", *r.Run.MirrorControlRunID)
	}
	if r.Run.ProtocolDeviation != nil {
		fmt.Fprintf(&b, "- Protocol deviation: %s\n", *r.Run.ProtocolDeviation)
	}
	fmt.Fprintf(&b, "- Started: %s\n", r.Run.StartedAt.UTC().Format(time.RFC3339))
	if r.Run.EndedAt != nil {
		fmt.Fprintf(&b, "- Ended: %s\n", r.Run.EndedAt.UTC().Format(time.RFC3339))
	} else {
		fmt.Fprintf(&b, "- Ended: still running\n")
	}

	fmt.Fprintf(&b, "\n## Population\n\n")
	fmt.Fprintf(&b, "- Agents: %d (%d survivors, %d exiled)\n",
		r.Population.Total, r.Population.Survivors, r.Population.Exiled)
	for _, status := range sortedKeys(r.Population.ByStatus) {
		fmt.Fprintf(&b, "- %s: %d\n", status, r.Population.ByStatus[status])
	}

	fmt.Fprintf(&b, "\n## Governance\n\n")
	fmt.Fprintf(&b, "- Laws: %d active of %d passed\n", r.Governance.LawsActive, r.Governance.LawsTotal)
	for _, status := range sortedKeys(r.Governance.ProposalsByStatus) {
		fmt.Fprintf(&b, "- Proposals %s: %d\n", status, r.Governance.ProposalsByStatus[status])
	}
	for _, status := range sortedKeys(r.Governance.EnforcementsByStatus) {
		fmt.Fprintf(&b, "- Enforcements %s: %d\n", status, r.Governance.EnforcementsByStatus[status])
	}

	fmt.Fprintf(&b, "\n## Economy\n\n")
	fmt.Fprintf(&b, "- Total wealth: %d\n", r.Economy.TotalWealth)
	fmt.Fprintf(&b, "- Trades executed: %d\n", r.Economy.TradesExecuted)

	fmt.Fprintf(&b, "\n## Activity\n\n")
	fmt.Fprintf(&b, "- Events: %d\n", r.Activity.TotalEvents)
	if len(r.Activity.EventsByType) > 0 {
		fmt.Fprintf(&b, "\n| Event type | Count |\n|---|---|\n")
		for _, et := range sortedKeys(r.Activity.EventsByType) {
			fmt.Fprintf(&b, "| %s | %d |\n", et, r.Activity.EventsByType[et])
		}
	}

	fmt.Fprintf(&b, "\n## LLM usage\n\n")
	fmt.Fprintf(&b, "- Calls: %d (%d failed, %d fallback, %d byok)\n",
		r.Usage.Calls, r.Usage.FailedCalls, r.Usage.FallbackCalls, r.Usage.ByokCalls)
	fmt.Fprintf(&b, "- Tokens: %d\n", r.Usage.TotalTokens)
	fmt.Fprintf(&b, "- Estimated cost: $%.4f\n", r.Usage.EstimatedCostUSD)
	for _, provider := range sortedKeys(r.Usage.CallsByProvider) {
		fmt.Fprintf(&b, "- %s: %d calls\n", provider, r.Usage.CallsByProvider[provider])
	}

	if r.Metrics != nil {
		fmt.Fprintf(&b, "\n## Latest emergence snapshot (%s)\n\n", r.Metrics.SimulationDay)
		fmt.Fprintf(&b, "- Participation: %.3f\n", r.Metrics.ParticipationRate)
		fmt.Fprintf(&b, "- Gini: %.3f\n", r.Metrics.GiniCoefficient)
		fmt.Fprintf(&b, "- Conflict rate: %.3f\n", r.Metrics.ConflictRate)
		fmt.Fprintf(&b, "- Cooperation rate: %.3f\n", r.Metrics.CooperationRate)
	}
	return b.String()
}
