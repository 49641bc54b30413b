// Package metrics defines the process-wide Prometheus collectors. Everything
// registers with the default registry in init and is served by the API's
// /metrics endpoint.
//
// Naming follows Prometheus conventions:
//   - polis_ prefix for all custom metrics
//   - _total suffix for counters
//   - _seconds suffix for duration histograms
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// TurnsTotal counts agent turns by model type and outcome.
	TurnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polis_turns_total",
			Help: "Total agent turns by model type and outcome.",
		},
		[]string{"model_type", "outcome"},
	)

	// ModelCallsTotal counts provider attempts by provider, model type, and
	// status ("ok" or the error type).
	ModelCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polis_model_calls_total",
			Help: "Total model provider attempts by provider, model type, and status.",
		},
		[]string{"provider", "model_type", "status"},
	)

	// ModelCallLatencySeconds is a histogram of provider attempt latency.
	ModelCallLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "polis_model_call_latency_seconds",
			Help:    "Latency of model provider attempts in seconds.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"provider"},
	)

	// ModelTokensTotal counts tokens consumed by provider and model type.
	ModelTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polis_model_tokens_total",
			Help: "Total tokens consumed by provider and model type.",
		},
		[]string{"provider", "model_type"},
	)

	// ModelCostUSDTotal accumulates estimated spend by provider.
	ModelCostUSDTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polis_model_cost_usd_total",
			Help: "Estimated model spend in USD by provider.",
		},
		[]string{"provider"},
	)

	// ModelFallbacksTotal counts decisions that degraded to the routine
	// action, by reason.
	ModelFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polis_model_fallbacks_total",
			Help: "Total decisions that fell back to the routine action.",
		},
		[]string{"reason"},
	)

	// GuardrailTripsTotal counts simulation pauses by stop reason.
	GuardrailTripsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polis_guardrail_trips_total",
			Help: "Total guardrail-initiated simulation pauses.",
		},
		[]string{"reason"},
	)

	// ProposalsResolvedTotal counts settled proposals by terminal status.
	ProposalsResolvedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polis_proposals_resolved_total",
			Help: "Total proposals settled by terminal status.",
		},
		[]string{"status"},
	)

	// EnforcementsResolvedTotal counts settled enforcement motions by
	// terminal status.
	EnforcementsResolvedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polis_enforcements_resolved_total",
			Help: "Total enforcement motions settled by terminal status.",
		},
		[]string{"status"},
	)

	// ConsumptionOutcomesTotal counts daily survival debit outcomes per
	// agent-day.
	ConsumptionOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polis_consumption_outcomes_total",
			Help: "Total daily consumption outcomes per agent-day.",
		},
		[]string{"outcome"},
	)

	// ActiveAgents is the active population from the latest emergence
	// snapshot.
	ActiveAgents = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "polis_active_agents",
			Help: "Active agents as of the latest emergence snapshot.",
		},
	)

	// TotalWealth is the living population's summed holdings from the latest
	// emergence snapshot.
	TotalWealth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "polis_total_wealth",
			Help: "Total living-agent holdings as of the latest emergence snapshot.",
		},
	)

	// GiniCoefficient is the wealth concentration from the latest emergence
	// snapshot.
	GiniCoefficient = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "polis_gini_coefficient",
			Help: "Wealth Gini coefficient as of the latest emergence snapshot.",
		},
	)

	// EventStreamSubscribers is the number of attached event stream
	// consumers.
	EventStreamSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "polis_event_stream_subscribers",
			Help: "Attached event stream subscribers.",
		},
	)

	// EventsPublishedTotal counts ledger events fanned out to subscribers.
	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polis_events_published_total",
			Help: "Total ledger events published to the event stream.",
		},
		[]string{"event_type"},
	)

	// EventsDroppedTotal counts events discarded from slow subscriber
	// buffers.
	EventsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "polis_events_dropped_total",
			Help: "Total buffered events dropped from slow event stream subscribers.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		TurnsTotal,
		ModelCallsTotal,
		ModelCallLatencySeconds,
		ModelTokensTotal,
		ModelCostUSDTotal,
		ModelFallbacksTotal,
		GuardrailTripsTotal,
		ProposalsResolvedTotal,
		EnforcementsResolvedTotal,
		ConsumptionOutcomesTotal,
		ActiveAgents,
		TotalWealth,
		GiniCoefficient,
		EventStreamSubscribers,
		EventsPublishedTotal,
		EventsDroppedTotal,
	)
}

// RecordTurn records one completed agent turn.
func RecordTurn(modelType, outcome string) {
	TurnsTotal.WithLabelValues(modelType, outcome).Inc()
}

// RecordModelCall records one provider attempt. Status is "ok" for a
// successful call, otherwise the error type.
func RecordModelCall(provider, modelType, status string, latency time.Duration, tokens int, costUSD float64) {
	ModelCallsTotal.WithLabelValues(provider, modelType, status).Inc()
	ModelCallLatencySeconds.WithLabelValues(provider).Observe(latency.Seconds())
	ModelTokensTotal.WithLabelValues(provider, modelType).Add(float64(tokens))
	ModelCostUSDTotal.WithLabelValues(provider).Add(costUSD)
}

// RecordModelFallback records one decision degraded to the routine action.
func RecordModelFallback(reason string) {
	ModelFallbacksTotal.WithLabelValues(reason).Inc()
}

// RecordGuardrailTrip records one guardrail-initiated pause.
func RecordGuardrailTrip(reason string) {
	GuardrailTripsTotal.WithLabelValues(reason).Inc()
}

// RecordProposalResolved records one settled proposal.
func RecordProposalResolved(status string) {
	ProposalsResolvedTotal.WithLabelValues(status).Inc()
}

// RecordEnforcementResolved records one settled enforcement motion.
func RecordEnforcementResolved(status string) {
	EnforcementsResolvedTotal.WithLabelValues(status).Inc()
}

// RecordConsumptionOutcomes records one day's survival debit tallies.
func RecordConsumptionOutcomes(outcomes map[string]int) {
	for outcome, n := range outcomes {
		ConsumptionOutcomesTotal.WithLabelValues(outcome).Add(float64(n))
	}
}

// SetPopulation updates the population gauges from an emergence snapshot.
func SetPopulation(activeAgents int, totalWealth int64, gini float64) {
	ActiveAgents.Set(float64(activeAgents))
	TotalWealth.Set(float64(totalWealth))
	GiniCoefficient.Set(gini)
}

// SetEventStreamSubscribers updates the subscriber gauge.
func SetEventStreamSubscribers(n int) {
	EventStreamSubscribers.Set(float64(n))
}

// RecordEventPublished records one event fanned out to subscribers.
func RecordEventPublished(eventType string) {
	EventsPublishedTotal.WithLabelValues(eventType).Inc()
}

// RecordEventDropped records one event discarded from a slow subscriber.
func RecordEventDropped() {
	EventsDroppedTotal.Inc()
}
