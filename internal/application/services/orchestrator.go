package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/zatekoja/clinicalcopilot/internal/domain/entities"
	"github.com/zatekoja/clinicalcopilot/internal/domain/providers"
	"github.com/zatekoja/clinicalcopilot/internal/domain/repositories"
	"github.com/zatekoja/clinicalcopilot/internal/infrastructure/observability"
	"github.com/zatekoja/clinicalcopilot/pkg/config"
	apperrors "github.com/zatekoja/clinicalcopilot/pkg/errors"
)

const pediatricAgeLimit = 18

// TurnResult is returned for every submitted turn
type TurnResult struct {
	SessionID          string                      `json:"session_id"`
	Record             entities.ExtractionRecord   `json:"accumulated_record"`
	StopDecision       entities.StopDecision       `json:"stop_decision"`
	FollowUpQuestions  []string                    `json:"follow_up_questions"`
	Phase              entities.SessionPhase       `json:"phase"`
	ExtractionProvider string                      `json:"extraction_provider"`
	ExtractionFallback bool                        `json:"extraction_fallback"`
	ParsingError       bool                        `json:"parsing_error,omitempty"`
	Plan               *PlanResult                 `json:"plan,omitempty"`
	Urgency            *entities.UrgencyAssessment `json:"urgency,omitempty"`
}

// PlanResult holds the decisions generated once extraction is complete
type PlanResult struct {
	Diagnosis *entities.DecisionResponse `json:"diagnosis"`
	Triage    *entities.DecisionResponse `json:"triage"`
	Treatment *entities.DecisionResponse `json:"treatment"`
	SOAP      *entities.DecisionResponse `json:"soap"`
}

// Orchestrator is the session boundary: it runs one turn end to end and
// serialises turns per session id.
type Orchestrator struct {
	store       *SessionStore
	engine      *DecisionEngine
	accumulator *ExtractionAccumulator
	scorer      *CompletenessScorer
	validator   *ValidationService
	soap        *SOAPMerger
	locks       *sessionLocks

	recentContext int
	snapshotTTL   time.Duration

	cache    providers.CacheProvider
	eventBus providers.EventBus
	audit    repositories.ActionAuditRepository
	metrics  *observability.Metrics
	now      func() time.Time
}

// OrchestratorOption customises an Orchestrator
type OrchestratorOption func(*Orchestrator)

// WithSnapshotCache mirrors session snapshots into cache after each turn
func WithSnapshotCache(cache providers.CacheProvider) OrchestratorOption {
	return func(o *Orchestrator) { o.cache = cache }
}

// WithEventBus publishes turn events
func WithEventBus(bus providers.EventBus) OrchestratorOption {
	return func(o *Orchestrator) { o.eventBus = bus }
}

// WithAuditRepository persists action history entries
func WithAuditRepository(repo repositories.ActionAuditRepository) OrchestratorOption {
	return func(o *Orchestrator) { o.audit = repo }
}

// WithOrchestratorMetrics records turn metrics
func WithOrchestratorMetrics(m *observability.Metrics) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithOrchestratorClock replaces the wall clock
func WithOrchestratorClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator wires the turn pipeline
func NewOrchestrator(
	store *SessionStore,
	engine *DecisionEngine,
	scorer *CompletenessScorer,
	validator *ValidationService,
	cfg config.Config,
	opts ...OrchestratorOption,
) *Orchestrator {
	o := &Orchestrator{
		store:         store,
		engine:        engine,
		accumulator:   NewExtractionAccumulator(scorer, validator),
		scorer:        scorer,
		validator:     validator,
		soap:          NewSOAPMerger(),
		locks:         newSessionLocks(),
		recentContext: cfg.Extraction.RecentContext,
		snapshotTTL:   cfg.Session.TTL,
		now:           time.Now,
	}
	if o.recentContext <= 0 {
		o.recentContext = 5
	}
	if o.snapshotTTL <= 0 {
		o.snapshotTTL = time.Hour
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.cache != nil {
		store.AddEvictionHook(o.dropSnapshot)
	}
	return o
}

// dropSnapshot removes the mirrored snapshot of a session that left the store
func (o *Orchestrator) dropSnapshot(e Eviction) {
	ctx := context.Background()
	if err := o.cache.Delete(ctx, providers.SessionSnapshotKey(e.SessionID)); err != nil {
		logger := observability.SessionLogger(ctx, e.SessionID)
		logger.Warn().Err(err).Str("reason", string(e.Reason)).Msg("failed to delete evicted session snapshot")
	}
}

// SubmitTurn processes one clinician message for sessionID
func (o *Orchestrator) SubmitTurn(ctx context.Context, sessionID, text string) (*TurnResult, error) {
	sessionID = strings.TrimSpace(sessionID)
	text = strings.TrimSpace(text)
	if sessionID == "" {
		return nil, apperrors.NewValidationError("session id is required")
	}
	if text == "" {
		return nil, apperrors.NewValidationError("turn text is required")
	}

	start := o.now()
	ctx, span := observability.StartSpan(ctx, "Orchestrator.SubmitTurn")
	defer span.End()
	observability.SetSpanAttributes(span, attribute.String("session.id", sessionID))
	logger := observability.SessionLogger(ctx, sessionID)

	unlock := o.locks.Lock(sessionID)
	defer unlock()

	session, created := o.store.GetOrCreate(sessionID)
	firstNew := len(session.ActionHistory)
	if created {
		o.appendAction(session, entities.ActionSessionCreated, "")
	}
	session.Messages = append(session.Messages, entities.Message{Role: entities.RoleUser, Content: text, Timestamp: o.now()})
	o.appendAction(session, entities.ActionMessageReceived, "")
	session.Iteration++

	recent := recentMessages(session.Messages, o.recentContext)
	input := ExtractionInput{
		FreeText:        text,
		ExistingRecord:  session.Extraction,
		IterationNumber: session.Iteration,
		MaxIterations:   o.scorer.MaxIterations(),
		RecentContext:   recent,
	}
	resp := o.engine.Decide(ctx, entities.KindExtraction, input, DecideOptions{Context: recent})
	if resp.Cancelled {
		logger.Info().Msg("turn cancelled during extraction")
		return nil, apperrors.NewCancelledError(ctx.Err())
	}

	result := &TurnResult{
		SessionID:          sessionID,
		ExtractionProvider: resp.Provider,
		ExtractionFallback: resp.Fallback,
		ParsingError:       resp.ParsingError,
	}

	var record entities.ExtractionRecord
	extraction, ok := resp.Decision.(*entities.ExtractionDecision)
	if resp.Success && ok {
		incoming := extraction.Record
		incoming.Metadata.Iteration = session.Iteration
		incoming.Metadata.Timestamp = o.now()
		record = o.accumulator.Merge(session.Extraction, incoming)
		o.appendActionWith(session, &record, entities.ActionExtractionMerged, fmt.Sprintf("provider=%s confidence=%d", resp.Provider, resp.Confidence))
	} else {
		if session.Extraction != nil {
			record = *session.Extraction.Clone()
		}
		record.Metadata.Iteration = session.Iteration
		record.Metadata.Timestamp = o.now()
		o.accumulator.Recompute(&record)
		o.appendActionWith(session, &record, entities.ActionExtractionFailed, resp.Error)
		logger.Warn().Str("error", resp.Error).Bool("parsing_error", resp.ParsingError).Msg("extraction fell back, keeping previous record")
	}

	validation := o.validator.Validate(&record)
	stop := o.scorer.Evaluate(&record, validation)
	session.Extraction = &record
	session.Phase = stop.Action.Phase()
	syncPatientInfo(&session.PatientInfo, &record)
	o.appendAction(session, entities.ActionStopEvaluated, string(stop.Action))

	result.Record = *record.Clone()
	result.StopDecision = stop
	result.FollowUpQuestions = FollowUpQuestions(&record, stop)
	if len(result.FollowUpQuestions) > 0 {
		o.appendAction(session, entities.ActionFollowUpRequested, strings.Join(result.FollowUpQuestions, " | "))
	}

	if stop.Action == entities.StopProceed {
		result.Plan = o.generatePlan(ctx, session, &record)
	}

	session.Messages = append(session.Messages, entities.Message{
		Role:      entities.RoleAssistant,
		Content:   assistantReply(stop, result.FollowUpQuestions),
		Timestamp: o.now(),
	})
	result.Phase = session.Phase
	if session.Urgency != nil {
		u := *session.Urgency
		result.Urgency = &u
	}

	o.store.Update(sessionID, session)
	o.afterTurn(ctx, session, session.ActionHistory[firstNew:], result)

	observability.RecordTurn(ctx, o.metrics, string(stop.Action), o.now().Sub(start))
	logger.Info().
		Int("iteration", session.Iteration).
		Int("completeness", record.Metadata.CompletenessPct).
		Bool("compliant", record.Metadata.Compliant).
		Str("action", string(stop.Action)).
		Msg("turn processed")
	return result, nil
}

// generatePlan fans out the plan decisions and folds them into the session
func (o *Orchestrator) generatePlan(ctx context.Context, session *entities.Session, record *entities.ExtractionRecord) *PlanResult {
	input := PlanInput{
		Record:      *record.Clone(),
		PatientInfo: session.PatientInfo,
		Transcript:  recentMessages(session.Messages, len(session.Messages)),
	}
	kinds := []entities.DecisionKind{entities.KindDiagnosis, entities.KindTriage, entities.KindTreatment, entities.KindSOAP}
	requests := make([]DecisionRequest, len(kinds))
	for i, kind := range kinds {
		requests[i] = DecisionRequest{Kind: kind, Input: input}
	}
	responses := o.engine.DecideAll(ctx, requests)
	plan := &PlanResult{Diagnosis: responses[0], Triage: responses[1], Treatment: responses[2], SOAP: responses[3]}

	for _, resp := range responses {
		if resp.Cancelled {
			continue
		}
		if !resp.Success {
			o.appendAction(session, entities.ActionDecisionFailed, fmt.Sprintf("%s: %s", resp.Kind, resp.Error))
		}
		switch d := resp.Decision.(type) {
		case *entities.DiagnosisDecision:
			session.DiagnosticState.Differentials = cloneList(d.Differentials)
			session.DiagnosticState.RecommendedTests = cloneList(d.RecommendedTests)
		case *entities.TreatmentDecision:
			session.DiagnosticState.TreatmentPlan = d.Plan
		case *entities.TriageDecision:
			session.Urgency = FoldUrgency(d, record)
			session.DiagnosticState.UrgencyLevel = session.Urgency.Level
			o.appendAction(session, entities.ActionUrgencyAssessed, string(session.Urgency.Level))
		case *entities.SOAPDecision:
			var changed []SOAPSection
			session.SOAP, changed = o.soap.MergeNote(session.SOAP, *d)
			if len(changed) > 0 {
				names := make([]string, len(changed))
				for i, s := range changed {
					names[i] = string(s)
				}
				o.appendAction(session, entities.ActionSOAPUpdated, strings.Join(names, ","))
			}
		}
	}
	o.appendAction(session, entities.ActionPlanGenerated, "")
	return plan
}

// FoldUrgency converts a triage decision into the session urgency. The
// pediatric flag falls back to the patient's age when the provider omits it.
func FoldUrgency(d *entities.TriageDecision, record *entities.ExtractionRecord) *entities.UrgencyAssessment {
	u := &entities.UrgencyAssessment{
		Level:     d.Level,
		Protocol:  d.Protocol,
		Actions:   cloneList(d.Actions),
		Reasoning: d.Reasoning,
	}
	if !u.Level.Valid() {
		u.Level = entities.UrgencyHigh
	}
	switch {
	case d.Pediatric != nil:
		u.Pediatric = *d.Pediatric
	case record != nil && record.HasAge():
		u.Pediatric = record.Demographics.Age.Value < pediatricAgeLimit
	}
	return u
}

// GetSession returns a snapshot of the session without refreshing it
func (o *Orchestrator) GetSession(sessionID string) (*entities.SessionSnapshot, bool) {
	session, ok := o.store.Get(sessionID)
	if !ok {
		return nil, false
	}
	return session.Snapshot(), true
}

// DeleteSession removes the session and its mirrored snapshot
func (o *Orchestrator) DeleteSession(ctx context.Context, sessionID string) bool {
	unlock := o.locks.Lock(sessionID)
	defer unlock()

	deleted := o.store.Delete(sessionID)
	if o.cache != nil {
		if err := o.cache.Delete(ctx, providers.SessionSnapshotKey(sessionID)); err != nil {
			logger := observability.SessionLogger(ctx, sessionID)
			logger.Warn().Err(err).Msg("failed to delete session snapshot from cache")
		}
	}
	return deleted
}

// GetStats returns store counts
func (o *Orchestrator) GetStats() entities.SessionStats {
	return o.store.Stats()
}

// AuditTrail returns the persisted action history for a session
func (o *Orchestrator) AuditTrail(ctx context.Context, sessionID string, limit int) ([]entities.ActionEvent, error) {
	if o.audit == nil {
		return nil, apperrors.NewNotFoundError("audit trail is not enabled")
	}
	return o.audit.ListBySession(ctx, sessionID, limit)
}

// Engine exposes the gateway for health reporting
func (o *Orchestrator) Engine() *DecisionEngine {
	return o.engine
}

// afterTurn runs the side effects of a stored turn. None of them can fail
// the turn.
func (o *Orchestrator) afterTurn(ctx context.Context, session *entities.Session, added []entities.ActionEvent, result *TurnResult) {
	logger := observability.SessionLogger(ctx, session.ID)

	if o.cache != nil {
		if data, err := json.Marshal(session.Snapshot()); err != nil {
			logger.Warn().Err(err).Msg("failed to encode session snapshot")
		} else if err := o.cache.Set(ctx, providers.SessionSnapshotKey(session.ID), data, int(o.snapshotTTL.Seconds())); err != nil {
			logger.Warn().Err(err).Msg("failed to mirror session snapshot")
		}
	}

	if o.audit != nil && len(added) > 0 {
		if err := o.audit.Append(ctx, session.ID, added); err != nil {
			logger.Warn().Err(err).Int("events", len(added)).Msg("failed to append audit trail")
		}
	}

	if o.eventBus != nil {
		detail := map[string]interface{}{
			"iteration":    session.Iteration,
			"completeness": result.Record.Metadata.CompletenessPct,
			"action":       string(result.StopDecision.Action),
			"phase":        string(session.Phase),
		}
		o.publish(ctx, session.ID, entities.SessionEventTurnCompleted, detail)
		if result.Plan != nil {
			planDetail := map[string]interface{}{}
			if result.Urgency != nil {
				planDetail["urgency"] = string(result.Urgency.Level)
			}
			o.publish(ctx, session.ID, entities.SessionEventPlanGenerated, planDetail)
		}
	}
}

func (o *Orchestrator) publish(ctx context.Context, sessionID string, eventType entities.SessionEventType, detail map[string]interface{}) {
	publishSessionEvent(ctx, o.eventBus, &entities.SessionEvent{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Type:      eventType,
		Timestamp: o.now(),
		Detail:    detail,
	})
}

func (o *Orchestrator) appendAction(session *entities.Session, t entities.ActionType, detail string) {
	session.ActionHistory = append(session.ActionHistory, entities.ActionEvent{
		ID:        uuid.NewString(),
		Type:      t,
		Detail:    detail,
		Timestamp: o.now(),
		Snapshot:  session.CurrentSnapshot(),
	})
}

// appendActionWith records an action whose snapshot reflects record before
// it is stored on the session
func (o *Orchestrator) appendActionWith(session *entities.Session, record *entities.ExtractionRecord, t entities.ActionType, detail string) {
	snapshot := session.CurrentSnapshot()
	snapshot.CompletenessPct = record.Metadata.CompletenessPct
	session.ActionHistory = append(session.ActionHistory, entities.ActionEvent{
		ID:        uuid.NewString(),
		Type:      t,
		Detail:    detail,
		Timestamp: o.now(),
		Snapshot:  snapshot,
	})
}

func syncPatientInfo(info *entities.PatientInfo, r *entities.ExtractionRecord) {
	if r.HasAge() {
		age := r.Demographics.Age.Value
		info.Age = &age
	}
	if r.HasGender() {
		info.Gender = r.Demographics.Gender
	}
	if len(r.ClinicalPresentation.Symptoms) > 0 {
		info.Symptoms = cloneList(r.ClinicalPresentation.Symptoms)
	}
	if !entities.IsUnknown(r.SymptomCharacteristics.Duration) {
		info.Duration = r.SymptomCharacteristics.Duration
	}
}

func recentMessages(messages []entities.Message, n int) []string {
	if n > len(messages) {
		n = len(messages)
	}
	out := make([]string, 0, n)
	for _, m := range messages[len(messages)-n:] {
		out = append(out, string(m.Role)+": "+m.Content)
	}
	return out
}

func assistantReply(stop entities.StopDecision, questions []string) string {
	switch stop.Action {
	case entities.StopProceed:
		return "Enough information collected; plan generated."
	case entities.StopManualReview:
		return "Extraction budget exhausted; case flagged for manual review."
	}
	if len(questions) == 0 {
		return stop.Reason
	}
	return strings.Join(questions, "\n")
}

func cloneList(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}
