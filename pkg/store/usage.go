package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/polis-labs/polis/pkg/models"
)

// RecordUsage inserts one model-call accounting row. The id is assigned
// here if the caller left it empty.
func (s *Store) RecordUsage(ctx context.Context, u *models.LLMUsage) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	_, err := s.q.Exec(ctx, `
		INSERT INTO llm_usage (id, usage_day, provider, model_type, resolved_model,
			prompt_tokens, completion_tokens, total_tokens, estimated_cost_usd,
			latency_ms, success, error_type, fallback_used, byok_used,
			run_id, agent_number, checkpoint_number)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		u.ID, u.UsageDay, u.Provider, u.ModelType, u.ResolvedModel,
		u.PromptTokens, u.CompletionTokens, u.TotalTokens, u.EstimatedCostUSD,
		u.LatencyMs, u.Success, u.ErrorType, u.FallbackUsed, u.ByokUsed,
		u.RunID, u.AgentNumber, u.CheckpointNumber)
	if err != nil {
		return fmt.Errorf("failed to record llm usage: %w", err)
	}
	return nil
}

// UsageSummary aggregates one usage day.
func (s *Store) UsageSummary(ctx context.Context, day string) (*models.UsageSnapshot, error) {
	snap := &models.UsageSnapshot{
		UsageDay:        day,
		CallsByProvider: map[string]int{},
	}
	err := s.q.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE NOT success),
		       COALESCE(SUM(prompt_tokens), 0),
		       COALESCE(SUM(completion_tokens), 0),
		       COALESCE(SUM(total_tokens), 0),
		       COALESCE(SUM(estimated_cost_usd), 0),
		       COUNT(*) FILTER (WHERE fallback_used),
		       COUNT(*) FILTER (WHERE byok_used)
		FROM llm_usage WHERE usage_day = $1`, day).
		Scan(&snap.Calls, &snap.FailedCalls, &snap.PromptTokens, &snap.CompletionTokens,
			&snap.TotalTokens, &snap.EstimatedCostUSD, &snap.FallbackCount, &snap.ByokCalls)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize usage for %s: %w", day, err)
	}

	rows, err := s.q.Query(ctx, `
		SELECT provider, COUNT(*) FROM llm_usage
		WHERE usage_day = $1 GROUP BY provider`, day)
	if err != nil {
		return nil, fmt.Errorf("failed to group usage by provider for %s: %w", day, err)
	}
	defer rows.Close()
	for rows.Next() {
		var provider string
		var n int
		if err := rows.Scan(&provider, &n); err != nil {
			return nil, fmt.Errorf("failed to scan provider usage: %w", err)
		}
		snap.CallsByProvider[provider] = n
	}
	return snap, rows.Err()
}

// SummarizeUsageForRun aggregates every call attributed to one run. The
// returned snapshot carries no usage day; callers report it against the
// run's own window.
func (s *Store) SummarizeUsageForRun(ctx context.Context, runID string) (*models.UsageSnapshot, error) {
	snap := &models.UsageSnapshot{
		CallsByProvider: map[string]int{},
	}
	err := s.q.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE NOT success),
		       COALESCE(SUM(prompt_tokens), 0),
		       COALESCE(SUM(completion_tokens), 0),
		       COALESCE(SUM(total_tokens), 0),
		       COALESCE(SUM(estimated_cost_usd), 0),
		       COUNT(*) FILTER (WHERE fallback_used),
		       COUNT(*) FILTER (WHERE byok_used)
		FROM llm_usage WHERE run_id = $1`, runID).
		Scan(&snap.Calls, &snap.FailedCalls, &snap.PromptTokens, &snap.CompletionTokens,
			&snap.TotalTokens, &snap.EstimatedCostUSD, &snap.FallbackCount, &snap.ByokCalls)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize usage for run %s: %w", runID, err)
	}

	rows, err := s.q.Query(ctx, `
		SELECT provider, COUNT(*) FROM llm_usage
		WHERE run_id = $1 GROUP BY provider`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to group usage by provider for run %s: %w", runID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var provider string
		var n int
		if err := rows.Scan(&provider, &n); err != nil {
			return nil, fmt.Errorf("failed to scan provider usage: %w", err)
		}
		snap.CallsByProvider[provider] = n
	}
	return snap, rows.Err()
}

// ListUsageForDay returns every accounting row for one usage day in
// insertion order.
func (s *Store) ListUsageForDay(ctx context.Context, day string) ([]*models.LLMUsage, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, usage_day, provider, model_type, resolved_model,
		       prompt_tokens, completion_tokens, total_tokens, estimated_cost_usd,
		       latency_ms, success, error_type, fallback_used, byok_used,
		       run_id, agent_number, checkpoint_number, created_at
		FROM llm_usage WHERE usage_day = $1 ORDER BY created_at, id`, day)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage for %s: %w", day, err)
	}
	defer rows.Close()

	var out []*models.LLMUsage
	for rows.Next() {
		u := &models.LLMUsage{}
		if err := rows.Scan(&u.ID, &u.UsageDay, &u.Provider, &u.ModelType, &u.ResolvedModel,
			&u.PromptTokens, &u.CompletionTokens, &u.TotalTokens, &u.EstimatedCostUSD,
			&u.LatencyMs, &u.Success, &u.ErrorType, &u.FallbackUsed, &u.ByokUsed,
			&u.RunID, &u.AgentNumber, &u.CheckpointNumber, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan usage row: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// CountCallsByModelType returns per-model-type call counts for one usage
// day. Free-tier utilization is computed against these.
func (s *Store) CountCallsByModelType(ctx context.Context, day string) (map[string]int, error) {
	rows, err := s.q.Query(ctx, `
		SELECT model_type, COUNT(*) FROM llm_usage
		WHERE usage_day = $1 GROUP BY model_type`, day)
	if err != nil {
		return nil, fmt.Errorf("failed to count usage by model type for %s: %w", day, err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var modelType string
		var n int
		if err := rows.Scan(&modelType, &n); err != nil {
			return nil, fmt.Errorf("failed to scan model type usage: %w", err)
		}
		counts[modelType] = n
	}
	return counts, rows.Err()
}

// CountProviderFailuresSince counts failed calls with created_at >= since.
// The guardrail's provider_failures condition reads this.
func (s *Store) CountProviderFailuresSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.q.QueryRow(ctx, `
		SELECT COUNT(*) FROM llm_usage
		WHERE NOT success AND created_at >= $1`, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count provider failures: %w", err)
	}
	return n, nil
}
