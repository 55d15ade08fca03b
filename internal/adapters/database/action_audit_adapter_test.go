package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/clinicalcopilot/internal/domain/entities"
	"github.com/zatekoja/clinicalcopilot/internal/infrastructure/clients/postgres"
	apperrors "github.com/zatekoja/clinicalcopilot/pkg/errors"
)

func setupAuditAdapter(t *testing.T) (*ActionAuditAdapter, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	adapter := NewActionAuditAdapter(postgres.NewClientFromDB(db)).(*ActionAuditAdapter)
	return adapter, mock
}

func TestActionAuditAdapter_AppendInsertsAllEvents(t *testing.T) {
	adapter, mock := setupAuditAdapter(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	events := []entities.ActionEvent{
		{ID: "11111111-1111-1111-1111-111111111111", Type: entities.ActionMessageReceived, Timestamp: now,
			Snapshot: entities.StateSnapshot{MessageCount: 1, Phase: entities.PhaseExtraction}},
		{ID: "22222222-2222-2222-2222-222222222222", Type: entities.ActionStopEvaluated, Detail: "proceed_to_next_stage", Timestamp: now,
			Snapshot: entities.StateSnapshot{MessageCount: 1, CompletenessPct: 75, Phase: entities.PhasePlanning}},
	}

	mock.ExpectExec(`INSERT INTO "session_action_events"`).
		WillReturnResult(sqlmock.NewResult(0, 2))

	err := adapter.Append(context.Background(), "session-1", events)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestActionAuditAdapter_AppendEmptyIsNoop(t *testing.T) {
	adapter, mock := setupAuditAdapter(t)

	require.NoError(t, adapter.Append(context.Background(), "session-1", nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestActionAuditAdapter_AppendRequiresSessionID(t *testing.T) {
	adapter, _ := setupAuditAdapter(t)

	err := adapter.Append(context.Background(), "", []entities.ActionEvent{{ID: "x"}})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}

func TestActionAuditAdapter_AppendWrapsDatabaseErrors(t *testing.T) {
	adapter, mock := setupAuditAdapter(t)

	mock.ExpectExec(`INSERT INTO "session_action_events"`).
		WillReturnError(errors.New("connection reset"))

	err := adapter.Append(context.Background(), "session-1", []entities.ActionEvent{{ID: "x", Type: entities.ActionSessionCreated}})
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeInternal))
}

func TestActionAuditAdapter_ListBySession(t *testing.T) {
	adapter, mock := setupAuditAdapter(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "event_type", "detail", "message_count", "completeness_pct", "phase", "created_at"}).
		AddRow("a", "session_created", nil, 0, 0, "extraction", now).
		AddRow("b", "stop_evaluated", "continue_extraction", 1, 40, "extraction", now.Add(time.Second))

	mock.ExpectQuery(`SELECT .* FROM "session_action_events" WHERE \("session_id" = 'session-1'\) ORDER BY "seq" ASC LIMIT 10`).
		WillReturnRows(rows)

	events, err := adapter.ListBySession(context.Background(), "session-1", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, entities.ActionSessionCreated, events[0].Type)
	assert.Empty(t, events[0].Detail)
	assert.Equal(t, entities.ActionStopEvaluated, events[1].Type)
	assert.Equal(t, "continue_extraction", events[1].Detail)
	assert.Equal(t, 40, events[1].Snapshot.CompletenessPct)
	assert.Equal(t, entities.PhaseExtraction, events[1].Snapshot.Phase)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestActionAuditAdapter_ListBySessionKeepsTurnOrder(t *testing.T) {
	adapter, mock := setupAuditAdapter(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	// every event of one turn shares created_at
	rows := sqlmock.NewRows([]string{"id", "event_type", "detail", "message_count", "completeness_pct", "phase", "created_at"}).
		AddRow("c", "message_received", nil, 1, 0, "extraction", now).
		AddRow("a", "extraction_merged", nil, 1, 75, "extraction", now).
		AddRow("b", "stop_evaluated", "proceed_to_next_stage", 1, 75, "planning", now)

	mock.ExpectQuery(`SELECT .* FROM "session_action_events" WHERE \("session_id" = 'session-1'\) ORDER BY "seq" ASC$`).
		WillReturnRows(rows)

	events, err := adapter.ListBySession(context.Background(), "session-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, entities.ActionMessageReceived, events[0].Type)
	assert.Equal(t, entities.ActionExtractionMerged, events[1].Type)
	assert.Equal(t, entities.ActionStopEvaluated, events[2].Type)
	assert.NoError(t, mock.ExpectationsWereMet())
}
