package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/zatekoja/clinicalcopilot/internal/application/services"
	"github.com/zatekoja/clinicalcopilot/internal/domain/entities"
	"github.com/zatekoja/clinicalcopilot/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/clinicalcopilot/pkg/errors"
)

const maxTurnBodyBytes = 64 << 10

// SessionService defines the session operations used by the handler.
type SessionService interface {
	SubmitTurn(ctx context.Context, sessionID, text string) (*services.TurnResult, error)
	GetSession(sessionID string) (*entities.SessionSnapshot, bool)
	DeleteSession(ctx context.Context, sessionID string) bool
	GetStats() entities.SessionStats
	AuditTrail(ctx context.Context, sessionID string, limit int) ([]entities.ActionEvent, error)
}

// ProviderHealthService reports provider availability and breaker state.
type ProviderHealthService interface {
	Health(ctx context.Context) []services.HealthReport
}

// SessionHandler handles clinician conversations.
type SessionHandler struct {
	service SessionService
	health  ProviderHealthService
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(service SessionService, health ProviderHealthService) *SessionHandler {
	return &SessionHandler{service: service, health: health}
}

type turnRequest struct {
	Text string `json:"text"`
}

// SubmitTurn handles POST /api/sessions/{id}/turns
func (h *SessionHandler) SubmitTurn(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if sessionID == "" {
		respondWithError(w, http.StatusBadRequest, "session ID is required")
		return
	}

	var payload turnRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTurnBodyBytes)).Decode(&payload); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request payload")
		return
	}

	result, err := h.service.SubmitTurn(r.Context(), sessionID, payload.Text)
	if err != nil {
		logger := observability.SessionLogger(r.Context(), sessionID)
		logger.Warn().Err(err).Msg("turn failed")
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

// GetSession handles GET /api/sessions/{id}
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	snapshot, ok := h.service.GetSession(sessionID)
	if !ok {
		respondWithError(w, http.StatusNotFound, "session not found")
		return
	}
	respondWithJSON(w, http.StatusOK, snapshot)
}

// DeleteSession handles DELETE /api/sessions/{id}
func (h *SessionHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	deleted := h.service.DeleteSession(r.Context(), sessionID)
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"deleted":    deleted,
	})
}

// GetStats handles GET /api/sessions/stats
func (h *SessionHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.service.GetStats())
}

// GetAuditTrail handles GET /api/sessions/{id}/audit?limit=N
func (h *SessionHandler) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			respondWithError(w, http.StatusBadRequest, "invalid limit parameter")
			return
		}
		limit = parsed
	}

	events, err := h.service.AuditTrail(r.Context(), sessionID, limit)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	if events == nil {
		events = []entities.ActionEvent{}
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"events":     events,
	})
}

// GetProviderHealth handles GET /api/providers/health
func (h *SessionHandler) GetProviderHealth(w http.ResponseWriter, r *http.Request) {
	if h.health == nil {
		respondWithError(w, http.StatusServiceUnavailable, "provider health is not available")
		return
	}
	reports := h.health.Health(r.Context())
	healthy := 0
	for _, report := range reports {
		if report.Healthy {
			healthy++
		}
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"providers": reports,
		"healthy":   healthy,
		"total":     len(reports),
	})
}

// respondWithAppError maps application errors onto HTTP status codes
func respondWithAppError(w http.ResponseWriter, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		respondWithError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	switch appErr.Type {
	case apperrors.ErrorTypeValidation:
		respondWithError(w, http.StatusBadRequest, appErr.Message)
	case apperrors.ErrorTypeNotFound:
		respondWithError(w, http.StatusNotFound, appErr.Message)
	case apperrors.ErrorTypeCancelled:
		respondWithError(w, http.StatusRequestTimeout, appErr.Message)
	case apperrors.ErrorTypeProvider, apperrors.ErrorTypeExternal:
		respondWithError(w, http.StatusBadGateway, appErr.Message)
	case apperrors.ErrorTypeCircuitOpen:
		respondWithError(w, http.StatusServiceUnavailable, appErr.Message)
	default:
		respondWithError(w, http.StatusInternalServerError, "internal server error")
	}
}

func respondWithJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(payload)
}

func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	respondWithJSON(w, statusCode, map[string]string{
		"error": message,
	})
}
