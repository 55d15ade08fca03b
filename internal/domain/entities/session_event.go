package entities

import "time"

// SessionEventType names a session lifecycle event
type SessionEventType string

const (
	SessionEventCreated       SessionEventType = "created"
	SessionEventExpired       SessionEventType = "expired"
	SessionEventEvicted       SessionEventType = "evicted"
	SessionEventDeleted       SessionEventType = "deleted"
	SessionEventTurnCompleted SessionEventType = "turn_completed"
	SessionEventPlanGenerated SessionEventType = "plan_generated"
)

// SessionEvent is published on the event bus for diagnostics and dashboards
type SessionEvent struct {
	ID        string                 `json:"id"`
	SessionID string                 `json:"session_id"`
	Type      SessionEventType       `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Detail    map[string]interface{} `json:"detail,omitempty"`
}
