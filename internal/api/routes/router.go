package routes

import (
	"net/http"

	"github.com/zatekoja/clinicalcopilot/internal/api/handlers"
	"github.com/zatekoja/clinicalcopilot/internal/api/middleware"
	"github.com/zatekoja/clinicalcopilot/internal/infrastructure/observability"
)

// Router holds all route handlers
type Router struct {
	mux *http.ServeMux

	sessionHandler *handlers.SessionHandler
	sseHandler     *handlers.SSEHandler

	allowedOrigins []string
	metrics        *observability.Metrics
}

// NewRouter creates a new router. sseHandler may be nil when no event bus
// is configured.
func NewRouter(
	sessionHandler *handlers.SessionHandler,
	sseHandler *handlers.SSEHandler,
	allowedOrigins []string,
	metrics *observability.Metrics,
) *Router {
	return &Router{
		mux:            http.NewServeMux(),
		sessionHandler: sessionHandler,
		sseHandler:     sseHandler,
		allowedOrigins: allowedOrigins,
		metrics:        metrics,
	}
}

// SetupRoutes configures all application routes
func (r *Router) SetupRoutes() http.Handler {
	r.mux.HandleFunc("GET /health", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			return
		}
	})

	// Session endpoints
	r.mux.HandleFunc("GET /api/sessions/stats", r.sessionHandler.GetStats)
	r.mux.HandleFunc("POST /api/sessions/{id}/turns", r.sessionHandler.SubmitTurn)
	r.mux.HandleFunc("GET /api/sessions/{id}", r.sessionHandler.GetSession)
	r.mux.HandleFunc("DELETE /api/sessions/{id}", r.sessionHandler.DeleteSession)
	r.mux.HandleFunc("GET /api/sessions/{id}/audit", r.sessionHandler.GetAuditTrail)

	// Provider endpoints
	r.mux.HandleFunc("GET /api/providers/health", r.sessionHandler.GetProviderHealth)

	// Event streams
	if r.sseHandler != nil {
		r.mux.HandleFunc("GET /api/sessions/{id}/events", r.sseHandler.StreamSessionEvents)
		r.mux.HandleFunc("GET /api/stream/sessions", r.sseHandler.StreamAllSessions)
	}

	// Apply middleware in reverse order (last middleware wraps first)
	var handler http.Handler = r.mux
	handler = middleware.LoggingMiddleware(handler)
	handler = middleware.ObservabilityMiddleware(r.metrics)(handler)
	handler = middleware.CORSMiddleware(r.allowedOrigins)(handler)

	return handler
}
