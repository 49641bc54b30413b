package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/polis-labs/polis/pkg/metrics"
	"github.com/polis-labs/polis/pkg/store"
)

// pollBatch caps how many rows one poll round reads per query. The poller
// keeps draining until a short page, so bursts larger than the batch still
// deliver in order within the same round.
const pollBatch = 200

// Poller is the single producer feeding the broker: it tails the events
// table by id and publishes every new row in ledger order.
type Poller struct {
	store    *store.Store
	broker   *Broker
	interval time.Duration
	log      *slog.Logger

	mu     sync.Mutex
	lastID int64
}

// NewPoller creates a poller that wakes on the given interval.
func NewPoller(st *store.Store, broker *Broker, interval time.Duration) *Poller {
	return &Poller{
		store:    st,
		broker:   broker,
		interval: interval,
		log:      slog.With("component", "event_poller"),
	}
}

// LastSeen returns the highest event id delivered so far.
func (p *Poller) LastSeen() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastID
}

// Run tails the ledger until the context is cancelled. The cursor seeds
// from the current ledger head: a restarted daemon streams new events only,
// catchup for reconnecting clients is served from the store by the API.
func (p *Poller) Run(ctx context.Context) error {
	head, err := p.store.LatestEventID(ctx)
	if err != nil {
		return fmt.Errorf("failed to seed event poller cursor: %w", err)
	}
	p.mu.Lock()
	p.lastID = head
	p.mu.Unlock()

	p.log.Info("Event poller started", "interval", p.interval, "cursor", head)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info("Event poller stopped", "cursor", p.LastSeen())
			return nil
		case <-ticker.C:
			if err := p.poll(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				p.log.Error("Event poll failed", "error", err)
			}
		}
	}
}

// poll drains everything past the cursor, in id order, possibly over
// multiple pages.
func (p *Poller) poll(ctx context.Context) error {
	for {
		p.mu.Lock()
		cursor := p.lastID
		p.mu.Unlock()

		batch, err := p.store.ListEventsSince(ctx, cursor, pollBatch)
		if err != nil {
			return err
		}
		for _, e := range batch {
			p.broker.Publish(e)
			metrics.RecordEventPublished(e.EventType)
			p.mu.Lock()
			p.lastID = e.ID
			p.mu.Unlock()
		}
		if len(batch) < pollBatch {
			return nil
		}
	}
}
