package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zatekoja/clinicalcopilot/internal/domain/entities"
	"github.com/zatekoja/clinicalcopilot/internal/infrastructure/observability"
	"github.com/zatekoja/clinicalcopilot/pkg/config"
)

// BreakerRegistry tracks one circuit breaker per provider or agent id.
//
// closed → open once consecutive failures reach the threshold. open →
// half-open on the first CanCall after NextRetry, which lets one trial call
// through. A success closes the breaker and resets the counter; a failure
// while half-open, or any failure past the threshold, re-opens it with a
// cooldown of base * 2^(failures-threshold).
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*entities.BreakerState

	threshold    int
	baseCooldown time.Duration
	maxCooldown  time.Duration
	now          func() time.Time
	metrics      *observability.Metrics
}

// BreakerOption customises a BreakerRegistry
type BreakerOption func(*BreakerRegistry)

// WithBreakerClock replaces the wall clock
func WithBreakerClock(now func() time.Time) BreakerOption {
	return func(r *BreakerRegistry) { r.now = now }
}

// WithBreakerMetrics records state transitions
func WithBreakerMetrics(m *observability.Metrics) BreakerOption {
	return func(r *BreakerRegistry) { r.metrics = m }
}

// NewBreakerRegistry creates a closed breaker for every known id
func NewBreakerRegistry(cfg config.BreakerConfig, ids []string, opts ...BreakerOption) *BreakerRegistry {
	r := &BreakerRegistry{
		breakers:     make(map[string]*entities.BreakerState, len(ids)),
		threshold:    cfg.FailureThreshold,
		baseCooldown: cfg.BaseCooldown,
		maxCooldown:  cfg.MaxCooldown,
		now:          time.Now,
	}
	if r.threshold <= 0 {
		r.threshold = 3
	}
	if r.baseCooldown <= 0 {
		r.baseCooldown = 30 * time.Second
	}
	for _, opt := range opts {
		opt(r)
	}
	for _, id := range ids {
		r.breakers[id] = &entities.BreakerState{ID: id, State: entities.CircuitClosed}
	}
	return r
}

// CanCall reports whether a call to id may be attempted. It performs the
// open → half-open transition when the cooldown has elapsed.
func (r *BreakerRegistry) CanCall(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.getLocked(id)
	switch b.State {
	case entities.CircuitClosed:
		return true
	case entities.CircuitOpen:
		if r.now().Before(b.NextRetry) {
			return false
		}
		r.transitionLocked(b, entities.CircuitHalfOpen)
		b.TrialInFlight = true
		return true
	case entities.CircuitHalfOpen:
		if b.TrialInFlight {
			return false
		}
		b.TrialInFlight = true
		return true
	}
	return false
}

// RecordSuccess closes the breaker and resets its counters
func (r *BreakerRegistry) RecordSuccess(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.getLocked(id)
	b.ConsecutiveFailures = 0
	b.TrialInFlight = false
	b.NextRetry = time.Time{}
	if b.State != entities.CircuitClosed {
		r.transitionLocked(b, entities.CircuitClosed)
	}
}

// RecordFailure counts a failure and opens the breaker when warranted
func (r *BreakerRegistry) RecordFailure(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.getLocked(id)
	now := r.now()
	b.ConsecutiveFailures++
	b.LastFailure = now
	b.TrialInFlight = false

	if b.State == entities.CircuitHalfOpen || b.ConsecutiveFailures >= r.threshold {
		b.NextRetry = now.Add(r.cooldown(b.ConsecutiveFailures))
		if b.State != entities.CircuitOpen {
			r.transitionLocked(b, entities.CircuitOpen)
		}
	}
}

// ReleaseTrial gives back a half-open trial slot that was never used, for
// example when the caller cancelled before the call completed
func (r *BreakerRegistry) ReleaseTrial(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.getLocked(id).TrialInFlight = false
}

// State returns a copy of the breaker for id
func (r *BreakerRegistry) State(id string) entities.BreakerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.getLocked(id)
}

// Snapshot returns every breaker ordered by id
func (r *BreakerRegistry) Snapshot() []entities.BreakerState {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]entities.BreakerState, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *BreakerRegistry) cooldown(failures int) time.Duration {
	exp := failures - r.threshold
	if exp < 0 {
		exp = 0
	}
	if exp > 30 {
		exp = 30
	}
	d := r.baseCooldown * time.Duration(1<<uint(exp))
	if r.maxCooldown > 0 && d > r.maxCooldown {
		d = r.maxCooldown
	}
	return d
}

func (r *BreakerRegistry) getLocked(id string) *entities.BreakerState {
	b, ok := r.breakers[id]
	if !ok {
		b = &entities.BreakerState{ID: id, State: entities.CircuitClosed}
		r.breakers[id] = b
	}
	return b
}

func (r *BreakerRegistry) transitionLocked(b *entities.BreakerState, to entities.CircuitState) {
	from := b.State
	b.State = to
	log.Info().
		Str("breaker", b.ID).
		Str("from", string(from)).
		Str("to", string(to)).
		Int("consecutive_failures", b.ConsecutiveFailures).
		Msg("circuit breaker transition")
	observability.RecordBreakerTransition(context.Background(), r.metrics, b.ID, string(from), string(to))
}
