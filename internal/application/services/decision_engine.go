package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/zatekoja/clinicalcopilot/internal/domain/entities"
	"github.com/zatekoja/clinicalcopilot/internal/domain/providers"
	"github.com/zatekoja/clinicalcopilot/internal/infrastructure/observability"
	"github.com/zatekoja/clinicalcopilot/pkg/config"
	apperrors "github.com/zatekoja/clinicalcopilot/pkg/errors"
	"github.com/zatekoja/clinicalcopilot/pkg/retry"
)

// DecideOptions customises a single Decide call
type DecideOptions struct {
	// PreferredProvider is tried before the configured order. Empty uses
	// the configured preferred provider.
	PreferredProvider string
	// Context carries recent conversation lines sent with the request
	Context []string
}

// DecisionRequest is one request of a DecideAll fan-out
type DecisionRequest struct {
	Kind    entities.DecisionKind
	Input   interface{}
	Options DecideOptions
}

// DecisionEngine routes generation requests through the configured text
// providers with retry, ordered fallback and circuit breaking. It never
// returns an error: every outcome is a DecisionResponse.
type DecisionEngine struct {
	providers map[string]providers.TextProvider
	preferred string
	fallbacks []string

	breakers    *BreakerRegistry
	maxRetries  int
	backoffBase time.Duration
	backoffMax  time.Duration
	metrics     *observability.Metrics
}

// DecisionEngineOption customises a DecisionEngine
type DecisionEngineOption func(*DecisionEngine)

// WithDecisionMetrics records provider attempts and fallbacks
func WithDecisionMetrics(m *observability.Metrics) DecisionEngineOption {
	return func(e *DecisionEngine) { e.metrics = m }
}

// NewDecisionEngine creates a gateway over textProviders. Providers are
// addressed by Name().
func NewDecisionEngine(cfg config.GatewayConfig, textProviders []providers.TextProvider, breakers *BreakerRegistry, opts ...DecisionEngineOption) *DecisionEngine {
	e := &DecisionEngine{
		providers:   make(map[string]providers.TextProvider, len(textProviders)),
		preferred:   cfg.PreferredProvider,
		fallbacks:   cfg.FallbackProviders,
		breakers:    breakers,
		maxRetries:  cfg.MaxRetries,
		backoffBase: cfg.BackoffBase,
		backoffMax:  cfg.BackoffMax,
	}
	if e.maxRetries < 0 {
		e.maxRetries = 0
	}
	for _, p := range textProviders {
		e.providers[p.Name()] = p
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Providers returns the registered providers in candidate order followed by
// any provider not named in the configured order
func (e *DecisionEngine) Providers() []providers.TextProvider {
	names := e.candidates("")
	seen := make(map[string]bool, len(names))
	out := make([]providers.TextProvider, 0, len(e.providers))
	for _, name := range names {
		seen[name] = true
		out = append(out, e.providers[name])
	}
	for name, p := range e.providers {
		if !seen[name] {
			out = append(out, p)
		}
	}
	return out
}

// Breakers returns the registry consulted before each dispatch
func (e *DecisionEngine) Breakers() *BreakerRegistry {
	return e.breakers
}

// candidates returns preferred followed by the configured order,
// de-duplicated and limited to registered providers
func (e *DecisionEngine) candidates(preferred string) []string {
	if preferred == "" {
		preferred = e.preferred
	}
	ordered := append([]string{preferred, e.preferred}, e.fallbacks...)
	seen := make(map[string]bool, len(ordered))
	out := make([]string, 0, len(ordered))
	for _, name := range ordered {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		if _, ok := e.providers[name]; ok {
			out = append(out, name)
		}
	}
	return out
}

// Decide dispatches one request of kind to the first candidate that
// produces a well-formed payload.
func (e *DecisionEngine) Decide(ctx context.Context, kind entities.DecisionKind, input interface{}, opts DecideOptions) *entities.DecisionResponse {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "DecisionEngine.Decide")
	defer span.End()
	observability.SetSpanAttributes(span, attribute.String("decision.kind", string(kind)))
	logger := observability.DecisionLogger(ctx, string(kind))

	userInput, err := BuildTaskEnvelope(kind, input, opts.Context)
	if err != nil {
		observability.RecordError(span, err)
		return e.fallback(ctx, kind, err, "", 0, start)
	}
	system := SystemInstruction(kind)

	var (
		lastErr  error
		lastRaw  string
		attempts int
	)
	for _, name := range e.candidates(opts.PreferredProvider) {
		provider := e.providers[name]
		if !provider.IsAvailable() {
			lastErr = apperrors.NewProviderError(name, fmt.Errorf("provider unavailable"))
			continue
		}
		// Checked lazily so a half-open trial is only claimed by the
		// candidate that is about to be called.
		if !e.breakers.CanCall(name) {
			logger.Debug().Str("provider", name).Msg("skipping provider with open circuit")
			lastErr = apperrors.NewCircuitOpenError(name)
			continue
		}

		decision, raw, n, err := e.tryProvider(ctx, provider, kind, system, userInput)
		attempts += n
		if err == nil {
			e.breakers.RecordSuccess(name)
			observability.SetSpanAttributes(span, attribute.String("decision.provider", name), attribute.Int("decision.attempts", attempts))
			return &entities.DecisionResponse{
				Success:    true,
				Kind:       kind,
				Decision:   decision,
				Confidence: DecisionConfidence(decision),
				Latency:    time.Since(start),
				Provider:   name,
				Attempts:   attempts,
			}
		}

		if isCancellation(ctx, err) {
			e.breakers.ReleaseTrial(name)
			logger.Info().Str("provider", name).Msg("decision cancelled")
			return &entities.DecisionResponse{
				Kind:      kind,
				Decision:  FallbackDecision(kind),
				Latency:   time.Since(start),
				Provider:  name,
				Attempts:  attempts,
				Cancelled: true,
				Error:     apperrors.NewCancelledError(ctx.Err()).Error(),
			}
		}

		e.breakers.RecordFailure(name)
		logger.Warn().Err(err).Str("provider", name).Int("attempts", n).Msg("provider exhausted, trying next candidate")
		lastErr = err
		if raw != "" {
			lastRaw = raw
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no providers configured")
	}
	observability.RecordError(span, lastErr)
	return e.fallback(ctx, kind, lastErr, lastRaw, attempts, start)
}

// tryProvider makes up to maxRetries+1 attempts against provider. A reply
// that does not parse counts as a failed attempt; the last raw reply is
// returned so it can be preserved.
func (e *DecisionEngine) tryProvider(ctx context.Context, provider providers.TextProvider, kind entities.DecisionKind, system, userInput string) (entities.Decision, string, int, error) {
	var (
		decision entities.Decision
		raw      string
		attempts int
	)
	cfg := retry.Exponential(e.maxRetries+1, e.backoffBase, e.backoffMax)
	err := retry.DoWithLog(ctx, cfg, provider.Name(), func() error {
		attempts++
		began := time.Now()
		text, err := provider.MakeRequest(ctx, system, userInput)
		if err == nil {
			decision, err = ParseDecision(kind, text)
			var parseErr *apperrors.ParseError
			if errors.As(err, &parseErr) {
				raw = parseErr.Raw
			}
		}
		observability.RecordProviderAttempt(ctx, e.metrics, provider.Name(), string(kind), time.Since(began), err)

		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return retry.Permanent(apperrors.NewCancelledError(err))
		}
		return apperrors.NewProviderError(provider.Name(), err)
	}, func(attempt int, err error, nextDelay time.Duration) {
		log.Debug().
			Err(err).
			Str("provider", provider.Name()).
			Str("kind", string(kind)).
			Int("attempt", attempt).
			Dur("next_delay", nextDelay).
			Msg("provider attempt failed, retrying")
	})
	if err != nil {
		return nil, raw, attempts, err
	}
	return decision, "", attempts, nil
}

func (e *DecisionEngine) fallback(ctx context.Context, kind entities.DecisionKind, err error, raw string, attempts int, start time.Time) *entities.DecisionResponse {
	observability.RecordFallbackDecision(ctx, e.metrics, string(kind))
	logger := observability.DecisionLogger(ctx, string(kind))
	logger.Error().Err(err).Int("attempts", attempts).Msg("all providers exhausted, returning fallback decision")

	resp := &entities.DecisionResponse{
		Kind:     kind,
		Decision: FallbackDecision(kind),
		Latency:  time.Since(start),
		Provider: "fallback",
		Attempts: attempts,
		Fallback: true,
		Error:    err.Error(),
	}
	if raw != "" {
		resp.RawText = raw
		resp.ParsingError = true
	}
	return resp
}

// DecideAll runs every request concurrently and waits for all of them.
// Responses are returned in request order.
func (e *DecisionEngine) DecideAll(ctx context.Context, requests []DecisionRequest) []*entities.DecisionResponse {
	responses := make([]*entities.DecisionResponse, len(requests))
	var wg sync.WaitGroup
	for i, req := range requests {
		wg.Add(1)
		go func(i int, req DecisionRequest) {
			defer wg.Done()
			responses[i] = e.Decide(ctx, req.Kind, req.Input, req.Options)
		}(i, req)
	}
	wg.Wait()
	return responses
}

// HealthReport describes one provider for the health endpoint
type HealthReport struct {
	Name      string                `json:"name"`
	Available bool                  `json:"available"`
	Healthy   bool                  `json:"healthy"`
	Breaker   entities.BreakerState `json:"breaker"`
}

// Health probes every provider concurrently
func (e *DecisionEngine) Health(ctx context.Context) []HealthReport {
	all := e.Providers()
	reports := make([]HealthReport, len(all))
	var wg sync.WaitGroup
	for i, p := range all {
		reports[i] = HealthReport{Name: p.Name(), Available: p.IsAvailable(), Breaker: e.breakers.State(p.Name())}
		if !reports[i].Available {
			continue
		}
		wg.Add(1)
		go func(i int, p providers.TextProvider) {
			defer wg.Done()
			reports[i].Healthy = p.HealthCheck(ctx)
		}(i, p)
	}
	wg.Wait()
	return reports
}

func isCancellation(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return errors.Is(err, context.Canceled) || apperrors.IsType(err, apperrors.ErrorTypeCancelled)
}
