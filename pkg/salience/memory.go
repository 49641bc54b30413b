package salience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/polis-labs/polis/pkg/models"
	"github.com/polis-labs/polis/pkg/store"
)

const (
	// maxMemoryEvents bounds how many events one checkpoint contributes.
	maxMemoryEvents = 5

	// maxSummaryLen bounds the stored summary. Oldest checkpoint lines
	// drop off the front when it overflows.
	maxSummaryLen = 4000
)

// Service maintains per-agent running memory summaries.
type Service struct {
	store *store.Store
	log   *slog.Logger
}

func NewService(st *store.Store) *Service {
	return &Service{store: st, log: slog.With("component", "salience")}
}

// RememberCheckpoint folds the checkpoint's salient events into the
// agent's memory, keyed to the checkpoint number. Checkpoints at or below
// the last remembered one are skipped, so a retried turn cannot
// double-write.
func (s *Service) RememberCheckpoint(ctx context.Context, agentNumber, checkpointNumber int, events []*models.Event) error {
	prev := ""
	mem, err := s.store.GetAgentMemory(ctx, agentNumber)
	switch {
	case err == nil:
		if mem.LastCheckpointNumber >= checkpointNumber {
			return nil
		}
		prev = mem.Summary
	case errors.Is(err, store.ErrNotFound):
	default:
		return err
	}

	summary := prev
	if line := summaryLine(checkpointNumber, Rank(events, agentNumber, maxMemoryEvents)); line != "" {
		if summary != "" {
			summary += "\n"
		}
		summary += line
	}
	summary = trimFront(summary, maxSummaryLen)

	if err := s.store.UpsertAgentMemory(ctx, agentNumber, summary, checkpointNumber); err != nil {
		return err
	}
	s.log.Debug("Memory updated", "agent_number", agentNumber, "checkpoint_number", checkpointNumber)
	return nil
}

// summaryLine renders one checkpoint's salient events as a single line.
// Zero-score events are noise and never make it into memory.
func summaryLine(checkpointNumber int, top []Scored) string {
	parts := make([]string, 0, len(top))
	for _, sc := range top {
		if sc.Score <= 0 {
			continue
		}
		parts = append(parts, sc.Event.Description)
	}
	if len(parts) == 0 {
		return ""
	}
	return fmt.Sprintf("[checkpoint %d] %s", checkpointNumber, strings.Join(parts, "; "))
}

// trimFront drops oldest lines until the summary fits max.
func trimFront(s string, max int) string {
	for len(s) > max {
		nl := strings.IndexByte(s, '\n')
		if nl < 0 {
			return s[len(s)-max:]
		}
		s = s[nl+1:]
	}
	return s
}
