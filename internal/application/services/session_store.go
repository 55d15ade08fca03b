package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/zatekoja/clinicalcopilot/internal/domain/entities"
	"github.com/zatekoja/clinicalcopilot/internal/domain/providers"
	"github.com/zatekoja/clinicalcopilot/internal/infrastructure/observability"
	"github.com/zatekoja/clinicalcopilot/pkg/config"
)

// EvictionReason explains why a session left the store
type EvictionReason string

const (
	EvictionExpired  EvictionReason = "expired"
	EvictionCapacity EvictionReason = "capacity"
)

// Eviction describes one session removed by a sweep or by capacity pressure
type Eviction struct {
	SessionID  string
	Reason     EvictionReason
	LastAccess time.Time
}

// Sweep partitions sessions into those still within ttl at now and those
// that expired. It does not mutate its input.
func Sweep(now time.Time, sessions map[string]*entities.Session, ttl time.Duration) (map[string]*entities.Session, []Eviction) {
	survivors := make(map[string]*entities.Session, len(sessions))
	var evicted []Eviction
	for id, s := range sessions {
		if now.Sub(s.LastAccess) > ttl {
			evicted = append(evicted, Eviction{SessionID: id, Reason: EvictionExpired, LastAccess: s.LastAccess})
			continue
		}
		survivors[id] = s
	}
	return survivors, evicted
}

// SessionStore is a bounded, TTL-expiring in-memory store with one session
// per conversation.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*entities.Session

	ttl           time.Duration
	maxSessions   int
	activeWindow  time.Duration
	sweepInterval time.Duration
	now           func() time.Time

	eventBus providers.EventBus
	metrics  *observability.Metrics

	hooksMu sync.RWMutex
	hooks   []func(Eviction)

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// SessionStoreOption customises a SessionStore
type SessionStoreOption func(*SessionStore)

// WithSessionClock replaces the wall clock
func WithSessionClock(now func() time.Time) SessionStoreOption {
	return func(s *SessionStore) { s.now = now }
}

// WithSessionEventBus publishes lifecycle events on the bus
func WithSessionEventBus(bus providers.EventBus) SessionStoreOption {
	return func(s *SessionStore) { s.eventBus = bus }
}

// WithSessionMetrics records evictions
func WithSessionMetrics(m *observability.Metrics) SessionStoreOption {
	return func(s *SessionStore) { s.metrics = m }
}

// WithSessionEvictionHook calls hook for every expired or evicted session
func WithSessionEvictionHook(hook func(Eviction)) SessionStoreOption {
	return func(s *SessionStore) { s.hooks = append(s.hooks, hook) }
}

// AddEvictionHook registers hook after construction. Hooks run outside the
// store lock.
func (s *SessionStore) AddEvictionHook(hook func(Eviction)) {
	s.hooksMu.Lock()
	s.hooks = append(s.hooks, hook)
	s.hooksMu.Unlock()
}

// NewSessionStore creates a store and starts its background sweeper. A
// non-positive sweep interval disables the sweeper.
func NewSessionStore(cfg config.SessionConfig, opts ...SessionStoreOption) *SessionStore {
	s := &SessionStore{
		sessions:      make(map[string]*entities.Session),
		ttl:           cfg.TTL,
		maxSessions:   cfg.MaxSessions,
		activeWindow:  cfg.ActiveWindow,
		sweepInterval: cfg.SweepInterval,
		now:           time.Now,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	if s.ttl <= 0 {
		s.ttl = time.Hour
	}
	if s.maxSessions <= 0 {
		s.maxSessions = 1000
	}
	if s.activeWindow <= 0 {
		s.activeWindow = 5 * time.Minute
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.sweepInterval > 0 {
		go s.sweepLoop()
	} else {
		close(s.done)
	}
	return s
}

func (s *SessionStore) sweepLoop() {
	defer close(s.done)
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.SweepNow()
		}
	}
}

// SweepNow drops every expired session and returns what was removed
func (s *SessionStore) SweepNow() []Eviction {
	s.mu.Lock()
	evicted := s.sweepLocked()
	s.mu.Unlock()
	s.report(evicted)
	return evicted
}

func (s *SessionStore) sweepLocked() []Eviction {
	survivors, evicted := Sweep(s.now(), s.sessions, s.ttl)
	if len(evicted) > 0 {
		s.sessions = survivors
	}
	return evicted
}

// GetOrCreate returns the session for id, creating it with empty
// sub-structures when absent, and refreshes its last access time.
func (s *SessionStore) GetOrCreate(id string) (*entities.Session, bool) {
	s.mu.Lock()
	evicted := s.sweepLocked()

	now := s.now()
	session, ok := s.sessions[id]
	created := false
	if !ok {
		evicted = append(evicted, s.makeRoomLocked()...)
		session = entities.NewSession(id, now)
		s.sessions[id] = session
		created = true
	}
	session.LastAccess = now
	out := session.Clone()
	s.mu.Unlock()

	s.report(evicted)
	if created {
		log.Debug().Str("session_id", id).Msg("session created")
		s.publish(id, entities.SessionEventCreated, nil)
	}
	return out, created
}

// Get returns a copy of the session without refreshing its last access.
func (s *SessionStore) Get(id string) (*entities.Session, bool) {
	s.mu.Lock()
	evicted := s.sweepLocked()
	session, ok := s.sessions[id]
	var out *entities.Session
	if ok {
		out = session.Clone()
	}
	s.mu.Unlock()

	s.report(evicted)
	return out, ok
}

// Update stores session under id and refreshes its last access time. A
// session evicted while its turn was running is re-admitted within capacity.
func (s *SessionStore) Update(id string, session *entities.Session) {
	if session == nil {
		return
	}
	stored := session.Clone()
	stored.ID = id

	s.mu.Lock()
	var evicted []Eviction
	if _, ok := s.sessions[id]; !ok {
		evicted = s.makeRoomLocked()
	}
	stored.LastAccess = s.now()
	s.sessions[id] = stored
	s.mu.Unlock()

	s.report(evicted)
}

// Delete removes the session and reports whether it existed
func (s *SessionStore) Delete(id string) bool {
	s.mu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if ok {
		s.publish(id, entities.SessionEventDeleted, nil)
	}
	return ok
}

// Len returns the number of stored sessions
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Stats returns total, active and idle counts
func (s *SessionStore) Stats() entities.SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	stats := entities.SessionStats{Total: len(s.sessions)}
	for _, session := range s.sessions {
		if now.Sub(session.LastAccess) <= s.activeWindow {
			stats.Active++
		}
	}
	stats.Idle = stats.Total - stats.Active
	return stats
}

// Shutdown stops the background sweeper
func (s *SessionStore) Shutdown() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

// makeRoomLocked evicts least recently used sessions until one more fits
func (s *SessionStore) makeRoomLocked() []Eviction {
	var evicted []Eviction
	for len(s.sessions) >= s.maxSessions {
		victim, found := s.oldestLocked()
		if !found {
			break
		}
		delete(s.sessions, victim.SessionID)
		evicted = append(evicted, victim)
	}
	return evicted
}

func (s *SessionStore) oldestLocked() (Eviction, bool) {
	var victim Eviction
	found := false
	for id, session := range s.sessions {
		if !found || session.LastAccess.Before(victim.LastAccess) {
			victim = Eviction{SessionID: id, Reason: EvictionCapacity, LastAccess: session.LastAccess}
			found = true
		}
	}
	return victim, found
}

func (s *SessionStore) report(evicted []Eviction) {
	if len(evicted) == 0 {
		return
	}
	s.hooksMu.RLock()
	hooks := append(([]func(Eviction))(nil), s.hooks...)
	s.hooksMu.RUnlock()

	for _, e := range evicted {
		log.Info().
			Str("session_id", e.SessionID).
			Str("reason", string(e.Reason)).
			Time("last_access", e.LastAccess).
			Msg("session removed from store")
		observability.RecordSessionEviction(context.Background(), s.metrics, string(e.Reason))

		eventType := entities.SessionEventExpired
		if e.Reason == EvictionCapacity {
			eventType = entities.SessionEventEvicted
		}
		s.publish(e.SessionID, eventType, map[string]interface{}{"last_access": e.LastAccess})
		for _, hook := range hooks {
			hook(e)
		}
	}
}

func (s *SessionStore) publish(sessionID string, eventType entities.SessionEventType, detail map[string]interface{}) {
	if s.eventBus == nil {
		return
	}
	publishSessionEvent(context.Background(), s.eventBus, &entities.SessionEvent{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Type:      eventType,
		Timestamp: s.now(),
		Detail:    detail,
	})
}

func publishSessionEvent(ctx context.Context, bus providers.EventBus, event *entities.SessionEvent) {
	for _, channel := range []string{providers.EventChannelSessions, providers.GetSessionChannel(event.SessionID)} {
		if err := bus.Publish(ctx, channel, event); err != nil {
			log.Warn().Err(err).Str("channel", channel).Str("session_id", event.SessionID).Msg("failed to publish session event")
		}
	}
}
