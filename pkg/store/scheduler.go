package store

import (
	"context"
	"fmt"
)

// ClaimDailyJob records that the named job ran for the given UTC day. Returns
// true when this call won the claim and false when the (job, day) pair was
// already claimed; the scheduler runs the job body only on true, which makes
// every daily job idempotent across restarts and replicas.
func (s *Store) ClaimDailyJob(ctx context.Context, job, day string) (bool, error) {
	tag, err := s.q.Exec(ctx, `
		INSERT INTO scheduler_runs (job_name, run_day)
		VALUES ($1, $2)
		ON CONFLICT (job_name, run_day) DO NOTHING`, job, day)
	if err != nil {
		return false, fmt.Errorf("failed to claim daily job %s for %s: %w", job, day, err)
	}
	return tag.RowsAffected() == 1, nil
}
