package services_test

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/zatekoja/clinicalcopilot/internal/domain/entities"
	"github.com/zatekoja/clinicalcopilot/pkg/config"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// MockTextProvider for testing
type MockTextProvider struct {
	mock.Mock
	name string
}

func NewMockTextProvider(name string) *MockTextProvider {
	return &MockTextProvider{name: name}
}

func (m *MockTextProvider) Name() string { return m.name }

func (m *MockTextProvider) IsAvailable() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockTextProvider) MakeRequest(ctx context.Context, systemInstruction, userInput string) (string, error) {
	args := m.Called(ctx, systemInstruction, userInput)
	return args.String(0), args.Error(1)
}

func (m *MockTextProvider) HealthCheck(ctx context.Context) bool {
	args := m.Called(ctx)
	return args.Bool(0)
}

// MockEventBus records published events
type MockEventBus struct {
	mu        sync.Mutex
	published map[string][]*entities.SessionEvent
}

func NewMockEventBus() *MockEventBus {
	return &MockEventBus{published: make(map[string][]*entities.SessionEvent)}
}

func (m *MockEventBus) Publish(ctx context.Context, channel string, event *entities.SessionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published[channel] = append(m.published[channel], event)
	return nil
}

func (m *MockEventBus) Subscribe(ctx context.Context, channel string) (<-chan *entities.SessionEvent, error) {
	return make(chan *entities.SessionEvent), nil
}

func (m *MockEventBus) Close() error { return nil }

func (m *MockEventBus) Types(channel string) []entities.SessionEventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []entities.SessionEventType
	for _, e := range m.published[channel] {
		out = append(out, e.Type)
	}
	return out
}

// MockCacheProvider keeps values in memory
type MockCacheProvider struct {
	mu   sync.Mutex
	data map[string][]byte
}

func NewMockCacheProvider() *MockCacheProvider {
	return &MockCacheProvider{data: make(map[string][]byte)}
}

func (m *MockCacheProvider) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key], nil
}

func (m *MockCacheProvider) Set(ctx context.Context, key string, value []byte, expirationSeconds int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *MockCacheProvider) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MockCacheProvider) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok
}

// MockAuditRepository records appended action events
type MockAuditRepository struct {
	mu     sync.Mutex
	events map[string][]entities.ActionEvent
}

func NewMockAuditRepository() *MockAuditRepository {
	return &MockAuditRepository{events: make(map[string][]entities.ActionEvent)}
}

func (m *MockAuditRepository) Append(ctx context.Context, sessionID string, events []entities.ActionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[sessionID] = append(m.events[sessionID], events...)
	return nil
}

func (m *MockAuditRepository) ListBySession(ctx context.Context, sessionID string, limit int) ([]entities.ActionEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.events[sessionID]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return append([]entities.ActionEvent(nil), out...), nil
}

func testExtractionConfig() config.ExtractionConfig {
	return config.ExtractionConfig{MaxIterations: 5, ReadyThreshold: 70, ConfirmThreshold: 60, RecentContext: 5}
}

func testGatewayConfig(preferred string, fallbacks ...string) config.GatewayConfig {
	return config.GatewayConfig{
		PreferredProvider: preferred,
		FallbackProviders: fallbacks,
		MaxRetries:        0,
		BackoffBase:       time.Millisecond,
		BackoffMax:        2 * time.Millisecond,
	}
}
