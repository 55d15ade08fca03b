package repositories

import (
	"context"

	"github.com/zatekoja/clinicalcopilot/internal/domain/entities"
)

// ActionAuditRepository records the action history of sessions for audit.
type ActionAuditRepository interface {
	// Append stores the given action events for a session
	Append(ctx context.Context, sessionID string, events []entities.ActionEvent) error

	// ListBySession returns the stored events for a session, oldest first
	ListBySession(ctx context.Context, sessionID string, limit int) ([]entities.ActionEvent, error)
}
