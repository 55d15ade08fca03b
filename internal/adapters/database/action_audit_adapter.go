package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/zatekoja/clinicalcopilot/internal/domain/entities"
	"github.com/zatekoja/clinicalcopilot/internal/domain/repositories"
	"github.com/zatekoja/clinicalcopilot/internal/infrastructure/clients/postgres"
	apperrors "github.com/zatekoja/clinicalcopilot/pkg/errors"
)

const actionEventsTable = "session_action_events"

// ActionAuditAdapter persists session action history in Postgres.
type ActionAuditAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

// NewActionAuditAdapter creates a new audit adapter.
func NewActionAuditAdapter(client *postgres.Client) repositories.ActionAuditRepository {
	return &ActionAuditAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
	}
}

// Append inserts the events in one statement. Rows get their seq from the
// column default in VALUES order, which keeps the history order.
func (a *ActionAuditAdapter) Append(ctx context.Context, sessionID string, events []entities.ActionEvent) error {
	if len(events) == 0 {
		return nil
	}
	if sessionID == "" {
		return apperrors.NewValidationError("session id is required")
	}

	rows := make([]interface{}, 0, len(events))
	for _, e := range events {
		rows = append(rows, goqu.Record{
			"id":               e.ID,
			"session_id":       sessionID,
			"event_type":       string(e.Type),
			"detail":           sql.NullString{String: e.Detail, Valid: e.Detail != ""},
			"message_count":    e.Snapshot.MessageCount,
			"completeness_pct": e.Snapshot.CompletenessPct,
			"phase":            string(e.Snapshot.Phase),
			"created_at":       e.Timestamp,
		})
	}

	query, args, err := a.db.Insert(actionEventsTable).Rows(rows...).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build audit insert query", err)
	}
	if _, err := a.client.DB().ExecContext(ctx, query, args...); err != nil {
		return apperrors.NewInternalError(fmt.Sprintf("failed to append %d audit events", len(events)), err)
	}
	return nil
}

// ListBySession returns a session's events in insertion order. A
// non-positive limit returns every event.
func (a *ActionAuditAdapter) ListBySession(ctx context.Context, sessionID string, limit int) ([]entities.ActionEvent, error) {
	ds := a.db.From(actionEventsTable).
		Select("id", "event_type", "detail", "message_count", "completeness_pct", "phase", "created_at").
		Where(goqu.Ex{"session_id": sessionID}).
		Order(goqu.I("seq").Asc())
	if limit > 0 {
		ds = ds.Limit(uint(limit))
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build audit query", err)
	}

	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list audit events", err)
	}
	defer rows.Close()

	var events []entities.ActionEvent
	for rows.Next() {
		var (
			e         entities.ActionEvent
			eventType string
			detail    sql.NullString
			phase     string
			createdAt time.Time
		)
		if err := rows.Scan(&e.ID, &eventType, &detail, &e.Snapshot.MessageCount, &e.Snapshot.CompletenessPct, &phase, &createdAt); err != nil {
			return nil, apperrors.NewInternalError("failed to scan audit event", err)
		}
		e.Type = entities.ActionType(eventType)
		e.Detail = detail.String
		e.Snapshot.Phase = entities.SessionPhase(phase)
		e.Timestamp = createdAt
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewInternalError("failed to iterate audit events", err)
	}
	return events, nil
}
