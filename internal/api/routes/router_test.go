package routes

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/clinicalcopilot/internal/adapters/providers/llm"
	"github.com/zatekoja/clinicalcopilot/internal/api/handlers"
	"github.com/zatekoja/clinicalcopilot/internal/application/services"
	"github.com/zatekoja/clinicalcopilot/internal/domain/entities"
	"github.com/zatekoja/clinicalcopilot/internal/domain/providers"
	"github.com/zatekoja/clinicalcopilot/pkg/config"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := config.Config{
		Gateway:    config.GatewayConfig{PreferredProvider: llm.HeuristicProviderName, BackoffBase: time.Millisecond, BackoffMax: time.Millisecond},
		Breaker:    config.BreakerConfig{FailureThreshold: 3, BaseCooldown: time.Second, MaxCooldown: time.Minute},
		Session:    config.SessionConfig{TTL: time.Hour, MaxSessions: 10},
		Extraction: config.ExtractionConfig{MaxIterations: 5, ReadyThreshold: 70, ConfirmThreshold: 60, RecentContext: 5},
	}
	textProviders := []providers.TextProvider{llm.NewHeuristicProvider()}
	engine := services.NewDecisionEngine(cfg.Gateway, textProviders, services.NewBreakerRegistry(cfg.Breaker, llm.ProviderNames(textProviders)))
	scorer := services.NewCompletenessScorer(cfg.Extraction)
	store := services.NewSessionStore(cfg.Session)
	t.Cleanup(store.Shutdown)
	orchestrator := services.NewOrchestrator(store, engine, scorer, services.NewValidationService(scorer), cfg)

	router := NewRouter(handlers.NewSessionHandler(orchestrator, engine), nil, nil, nil)
	server := httptest.NewServer(router.SetupRoutes())
	t.Cleanup(server.Close)
	return server
}

func TestRouter_Health(t *testing.T) {
	server := newTestServer(t)

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRouter_SessionLifecycle(t *testing.T) {
	server := newTestServer(t)

	resp, err := http.Post(server.URL+"/api/sessions/abc/turns", "application/json", strings.NewReader(`{"text":"35 year old female with headache"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(server.URL + "/api/sessions/stats")
	require.NoError(t, err)
	var stats entities.SessionStats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	resp.Body.Close()
	assert.Equal(t, 1, stats.Total)

	req, _ := http.NewRequest(http.MethodDelete, server.URL+"/api/sessions/abc", nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(server.URL + "/api/sessions/abc")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRouter_EmptyTurnRejected(t *testing.T) {
	server := newTestServer(t)

	resp, err := http.Post(server.URL+"/api/sessions/abc/turns", "application/json", strings.NewReader(`{"text":"   "}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRouter_ProviderHealth(t *testing.T) {
	server := newTestServer(t)

	resp, err := http.Get(server.URL + "/api/providers/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Total   int `json:"total"`
		Healthy int `json:"healthy"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 1, body.Total)
	assert.Equal(t, 1, body.Healthy)
}

func TestRouter_EventsRouteNeedsBus(t *testing.T) {
	server := newTestServer(t)

	resp, err := http.Get(server.URL + "/api/sessions/abc/events")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
