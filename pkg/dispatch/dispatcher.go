package dispatch

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/polis-labs/polis/pkg/budget"
	"github.com/polis-labs/polis/pkg/config"
	"github.com/polis-labs/polis/pkg/engine"
	"github.com/polis-labs/polis/pkg/identity"
	"github.com/polis-labs/polis/pkg/metrics"
	"github.com/polis-labs/polis/pkg/models"
	"github.com/polis-labs/polis/pkg/runtimeconfig"
	"github.com/polis-labs/polis/pkg/store"
)

const (
	defaultCallTimeout = 30 * time.Second
	defaultMaxTokens   = 1024
	defaultTemperature = 0.7
)

// Attribution ties usage rows back to the run and checkpoint that spent
// the tokens.
type Attribution struct {
	RunID            *string
	CheckpointNumber *int
}

// DecideInput is one decision request from the agent processor.
type DecideInput struct {
	AgentNumber   int
	ModelType     string
	SystemPrompt  string
	ContextPrompt string

	// Inventory feeds the routine fallback's job choice.
	Inventory models.Inventory

	// Critical exempts the call from the soft-budget throttle. Interrupt
	// checkpoints must still reach a model when routine ones are shed.
	Critical bool

	Attribution Attribution
}

// Decision is what dispatch hands back. Action is always set: either the
// model's parsed choice or the routine fallback.
type Decision struct {
	Action        *engine.Action
	RawText       string
	Provider      string
	ResolvedModel string
	Attempts      int
	FallbackUsed  bool

	// FallbackReason names what exhausted dispatch, for the caller's
	// model_fallback event. Empty unless FallbackUsed.
	FallbackReason string
}

// Dispatcher resolves model types to providers and turns prompts into
// actions. Failures degrade to the routine action with the usage trail
// already written; the caller never sees an error.
type Dispatcher struct {
	store     *store.Store
	models    *config.ModelRegistry
	providers *config.ProviderRegistry
	runtime   *runtimeconfig.Service
	budget    *budget.Service
	clock     identity.Clock
	clients   map[string]providerClient
	policy    retryPolicy
	log       *slog.Logger
}

// NewDispatcher wires an adapter for every configured provider whose API
// key is present in the environment. Providers without a key stay unwired
// and surface as auth failures at dispatch time.
func NewDispatcher(ctx context.Context, st *store.Store, cfg *config.Config, runtime *runtimeconfig.Service, bdg *budget.Service, clock identity.Clock) *Dispatcher {
	d := &Dispatcher{
		store:     st,
		models:    cfg.Models,
		providers: cfg.Providers,
		runtime:   runtime,
		budget:    bdg,
		clock:     clock,
		clients:   make(map[string]providerClient),
		policy:    defaultRetryPolicy,
		log:       slog.With("component", "dispatch"),
	}
	for name, pc := range cfg.Providers.GetAll() {
		if pc.APIKeyEnv == "" {
			d.log.Warn("Provider has no api_key_env configured, leaving unwired", "provider", name)
			continue
		}
		key := os.Getenv(pc.APIKeyEnv)
		if key == "" {
			d.log.Warn("Provider API key not set, leaving unwired", "provider", name, "env", pc.APIKeyEnv)
			continue
		}
		client, err := buildClient(ctx, name, pc, key)
		if err != nil {
			d.log.Error("Failed to build provider client", "provider", name, "error", err)
			continue
		}
		d.clients[name] = client
		d.log.Info("Provider wired", "provider", name, "type", string(pc.Type))
	}
	return d
}

// WiredProviders returns the names of providers with a working adapter.
func (d *Dispatcher) WiredProviders() []string {
	names := make([]string, 0, len(d.clients))
	for name := range d.clients {
		names = append(names, name)
	}
	return names
}

// Decide asks the agent's model for its next action. Every provider
// attempt lands in llm_usage before this returns.
func (d *Dispatcher) Decide(ctx context.Context, in DecideInput) Decision {
	spec, err := d.resolveModel(in.ModelType)
	if err != nil {
		d.log.Error("Model resolution failed", "agent_number", in.AgentNumber, "model_type", in.ModelType, "error", err)
		return d.fallback(in, Decision{}, "unresolved_model")
	}
	dec := Decision{Provider: spec.Provider, ResolvedModel: spec.ResolvedModel}

	if !in.Critical && !d.budget.AllowNonCritical(ctx) {
		return d.fallback(in, dec, "soft_budget_exceeded")
	}

	providerCfg, err := d.providers.Get(spec.Provider)
	if err != nil {
		d.log.Error("Model table names an unconfigured provider", "model_type", in.ModelType, "provider", spec.Provider, "error", err)
		return d.fallback(in, dec, "unknown_provider")
	}
	client, ok := d.clients[spec.Provider]
	if !ok {
		// No adapter means a missing key. Record the attempt as an auth
		// failure so the guardrail's provider failure window sees the
		// misconfiguration instead of silence.
		et := models.LLMErrorAuth
		d.recordAttempt(ctx, spec, providerCfg.Byok, in, attemptOutcome{errType: &et, fallback: true})
		return d.fallback(in, dec, string(et))
	}

	timeout := defaultCallTimeout
	if providerCfg.TimeoutSeconds > 0 {
		timeout = time.Duration(providerCfg.TimeoutSeconds) * time.Second
	}
	req := CompletionRequest{
		Model:        spec.ResolvedModel,
		SystemPrompt: in.SystemPrompt,
		UserPrompt:   in.ContextPrompt,
		MaxTokens:    defaultMaxTokens,
		Temperature:  defaultTemperature,
	}

	var lastErrType models.LLMErrorType
	for attempt := 1; attempt <= d.policy.maxAttempts; attempt++ {
		dec.Attempts = attempt
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		start := time.Now()
		comp, callErr := client.Complete(callCtx, req)
		cancel()
		latency := int(time.Since(start).Milliseconds())

		if callErr != nil {
			ce := asCallError(spec.Provider, callErr)
			lastErrType = ce.Type
			final := !ce.Retryable || attempt == d.policy.maxAttempts || ctx.Err() != nil
			d.recordAttempt(ctx, spec, providerCfg.Byok, in, attemptOutcome{
				latencyMs: latency,
				errType:   &ce.Type,
				fallback:  final,
			})
			if final {
				break
			}
			d.log.Warn("Provider call failed, retrying",
				"agent_number", in.AgentNumber,
				"provider", spec.Provider,
				"attempt", attempt,
				"error_type", string(ce.Type),
				"error", callErr)
			if sleepCtx(ctx, d.policy.delay(attempt)) != nil {
				break
			}
			continue
		}

		raw, perr := extractActionJSON(comp.Text)
		var act *engine.Action
		if perr == nil {
			act, perr = engine.ParseAction(raw)
		}
		if perr != nil {
			// The call itself succeeded, so tokens and cost still count.
			et := models.LLMErrorMalformed
			lastErrType = et
			final := attempt == d.policy.maxAttempts || ctx.Err() != nil
			d.recordAttempt(ctx, spec, providerCfg.Byok, in, attemptOutcome{
				promptTokens:     comp.PromptTokens,
				completionTokens: comp.CompletionTokens,
				latencyMs:        latency,
				errType:          &et,
				fallback:         final,
			})
			if final {
				break
			}
			d.log.Warn("Model returned an unusable action, retrying",
				"agent_number", in.AgentNumber,
				"provider", spec.Provider,
				"attempt", attempt,
				"error", perr)
			if sleepCtx(ctx, d.policy.delay(attempt)) != nil {
				break
			}
			continue
		}

		d.recordAttempt(ctx, spec, providerCfg.Byok, in, attemptOutcome{
			promptTokens:     comp.PromptTokens,
			completionTokens: comp.CompletionTokens,
			latencyMs:        latency,
		})
		dec.Action = act
		dec.RawText = comp.Text
		return dec
	}

	reason := string(lastErrType)
	if reason == "" {
		reason = "provider_exhausted"
	}
	return d.fallback(in, dec, reason)
}

// resolveModel maps the public model type through the table, honoring the
// MODEL_OVERRIDES runtime redirect. Unknown redirect targets keep the
// original type.
func (d *Dispatcher) resolveModel(modelType string) (*config.ModelSpec, error) {
	effective := modelType
	if raw := d.runtime.CachedValue(runtimeconfig.KeyModelOverrides); raw != "" {
		if to, ok := parseOverrides(raw)[modelType]; ok {
			if d.models.Has(to) {
				effective = to
			} else {
				d.log.Warn("Model override targets an unknown model type, keeping original", "from", modelType, "to", to)
			}
		}
	}
	return d.models.Resolve(effective)
}

// parseOverrides reads comma-separated "from=to" pairs; malformed pairs
// are skipped.
func parseOverrides(raw string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		from, to, ok := strings.Cut(pair, "=")
		from = strings.TrimSpace(from)
		to = strings.TrimSpace(to)
		if !ok || from == "" || to == "" {
			continue
		}
		out[from] = to
	}
	return out
}

// attemptOutcome is the accounting for one provider attempt.
type attemptOutcome struct {
	promptTokens     int
	completionTokens int
	latencyMs        int
	errType          *models.LLMErrorType
	fallback         bool
}

// recordAttempt writes the llm_usage row for one attempt. The row must
// land even when the turn's context is already gone, so the write runs on
// a detached context with its own deadline.
func (d *Dispatcher) recordAttempt(ctx context.Context, spec *config.ModelSpec, byok bool, in DecideInput, out attemptOutcome) {
	cost := 0.0
	if !byok {
		cost = spec.EstimateCostUSD(out.promptTokens, out.completionTokens)
	}
	agentNumber := in.AgentNumber
	row := &models.LLMUsage{
		UsageDay:         identity.DayKey(d.clock.Now()),
		Provider:         spec.Provider,
		ModelType:        spec.ModelType,
		ResolvedModel:    spec.ResolvedModel,
		PromptTokens:     out.promptTokens,
		CompletionTokens: out.completionTokens,
		TotalTokens:      out.promptTokens + out.completionTokens,
		EstimatedCostUSD: cost,
		LatencyMs:        out.latencyMs,
		Success:          out.errType == nil,
		ErrorType:        out.errType,
		FallbackUsed:     out.fallback,
		ByokUsed:         byok,
		RunID:            in.Attribution.RunID,
		AgentNumber:      &agentNumber,
		CheckpointNumber: in.Attribution.CheckpointNumber,
	}
	status := "ok"
	if out.errType != nil {
		status = string(*out.errType)
	}
	metrics.RecordModelCall(spec.Provider, spec.ModelType, status,
		time.Duration(out.latencyMs)*time.Millisecond, row.TotalTokens, cost)

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := d.store.RecordUsage(wctx, row); err != nil {
		d.log.Error("Failed to record llm usage", "provider", spec.Provider, "agent_number", in.AgentNumber, "error", err)
	}
}

func (d *Dispatcher) fallback(in DecideInput, dec Decision, reason string) Decision {
	dec.Action = RoutineAction(in.Inventory)
	dec.FallbackUsed = true
	dec.FallbackReason = reason
	metrics.RecordModelFallback(reason)
	d.log.Info("Dispatch fell back to routine action",
		"agent_number", in.AgentNumber,
		"reason", reason,
		"action", dec.Action.Label())
	return dec
}
