package entities

import "time"

// MessageRole identifies the author of a turn message
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message is a single turn in the conversation
type Message struct {
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
}

// PatientInfo is the flattened patient view kept alongside the record
type PatientInfo struct {
	Age      *int     `json:"age,omitempty"`
	Gender   string   `json:"gender,omitempty"`
	Symptoms []string `json:"symptoms,omitempty"`
	Duration string   `json:"duration,omitempty"`
	History  string   `json:"history,omitempty"`
}

// DiagnosticState holds the generated plan
type DiagnosticState struct {
	Differentials    []string     `json:"differentials,omitempty"`
	RecommendedTests []string     `json:"recommended_tests,omitempty"`
	TreatmentPlan    string       `json:"treatment_plan,omitempty"`
	UrgencyLevel     UrgencyLevel `json:"urgency_level,omitempty"`
}

// SOAPState holds the four clinical note sections
type SOAPState struct {
	Subjective string `json:"subjective,omitempty"`
	Objective  string `json:"objective,omitempty"`
	Analysis   string `json:"analysis,omitempty"`
	Plan       string `json:"plan,omitempty"`
}

// UrgencyLevel is the triage level
type UrgencyLevel string

const (
	UrgencyCritical UrgencyLevel = "CRITICAL"
	UrgencyHigh     UrgencyLevel = "HIGH"
	UrgencyModerate UrgencyLevel = "MODERATE"
	UrgencyLow      UrgencyLevel = "LOW"
)

// Valid reports whether the level is one of the four known levels
func (l UrgencyLevel) Valid() bool {
	switch l {
	case UrgencyCritical, UrgencyHigh, UrgencyModerate, UrgencyLow:
		return true
	}
	return false
}

// UrgencyAssessment is the folded result of a triage decision
type UrgencyAssessment struct {
	Level     UrgencyLevel `json:"level"`
	Protocol  string       `json:"protocol,omitempty"`
	Actions   []string     `json:"actions,omitempty"`
	Pediatric bool         `json:"pediatric"`
	Reasoning string       `json:"reasoning,omitempty"`
}

// SessionPhase is the coarse position of a session in the workflow
type SessionPhase string

const (
	PhaseExtraction   SessionPhase = "extraction"
	PhaseConfirmation SessionPhase = "confirmation"
	PhasePlanning     SessionPhase = "planning"
	PhaseManualReview SessionPhase = "manual_review"
)

// ActionType names an entry in the action history
type ActionType string

const (
	ActionSessionCreated    ActionType = "session_created"
	ActionMessageReceived   ActionType = "message_received"
	ActionExtractionMerged  ActionType = "extraction_merged"
	ActionExtractionFailed  ActionType = "extraction_failed"
	ActionStopEvaluated     ActionType = "stop_evaluated"
	ActionPlanGenerated     ActionType = "plan_generated"
	ActionDecisionFailed    ActionType = "decision_failed"
	ActionSOAPUpdated       ActionType = "soap_updated"
	ActionUrgencyAssessed   ActionType = "urgency_assessed"
	ActionFollowUpRequested ActionType = "follow_up_requested"
)

// StateSnapshot is the derived state captured with each action
type StateSnapshot struct {
	MessageCount    int          `json:"message_count"`
	CompletenessPct int          `json:"completeness_percentage"`
	Phase           SessionPhase `json:"phase"`
}

// ActionEvent is an append-only history entry
type ActionEvent struct {
	ID        string        `json:"id"`
	Type      ActionType    `json:"type"`
	Detail    string        `json:"detail,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Snapshot  StateSnapshot `json:"snapshot"`
}

// Session is the within-TTL record of one conversation
type Session struct {
	ID              string             `json:"id"`
	Messages        []Message          `json:"messages"`
	PatientInfo     PatientInfo        `json:"patient_info"`
	DiagnosticState DiagnosticState    `json:"diagnostic_state"`
	SOAP            SOAPState          `json:"soap"`
	Urgency         *UrgencyAssessment `json:"urgency,omitempty"`
	ActionHistory   []ActionEvent      `json:"action_history"`
	Extraction      *ExtractionRecord  `json:"extraction,omitempty"`
	Iteration       int                `json:"iteration"`
	Phase           SessionPhase       `json:"phase"`
	CreatedAt       time.Time          `json:"created_at"`
	LastAccess      time.Time          `json:"last_access"`
}

// NewSession creates a session with empty sub-structures
func NewSession(id string, now time.Time) *Session {
	return &Session{
		ID:            id,
		Messages:      []Message{},
		ActionHistory: []ActionEvent{},
		Phase:         PhaseExtraction,
		CreatedAt:     now,
		LastAccess:    now,
	}
}

// Completeness returns the record completeness or 0 before the first merge
func (s *Session) Completeness() int {
	if s.Extraction == nil {
		return 0
	}
	return s.Extraction.Metadata.CompletenessPct
}

// CurrentSnapshot derives the state captured by action events
func (s *Session) CurrentSnapshot() StateSnapshot {
	return StateSnapshot{
		MessageCount:    len(s.Messages),
		CompletenessPct: s.Completeness(),
		Phase:           s.Phase,
	}
}

// Clone returns a deep copy so callers never share the stored instance
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Messages = append([]Message(nil), s.Messages...)
	out.ActionHistory = append([]ActionEvent(nil), s.ActionHistory...)
	out.PatientInfo.Symptoms = cloneStrings(s.PatientInfo.Symptoms)
	if s.PatientInfo.Age != nil {
		age := *s.PatientInfo.Age
		out.PatientInfo.Age = &age
	}
	out.DiagnosticState.Differentials = cloneStrings(s.DiagnosticState.Differentials)
	out.DiagnosticState.RecommendedTests = cloneStrings(s.DiagnosticState.RecommendedTests)
	if s.Urgency != nil {
		u := *s.Urgency
		u.Actions = cloneStrings(s.Urgency.Actions)
		out.Urgency = &u
	}
	out.Extraction = s.Extraction.Clone()
	return &out
}

// SessionSnapshot is the read model exposed at the session boundary
type SessionSnapshot struct {
	ID              string             `json:"id"`
	MessageCount    int                `json:"message_count"`
	Messages        []Message          `json:"messages"`
	PatientInfo     PatientInfo        `json:"patient_info"`
	DiagnosticState DiagnosticState    `json:"diagnostic_state"`
	SOAP            SOAPState          `json:"soap"`
	Urgency         *UrgencyAssessment `json:"urgency,omitempty"`
	Extraction      *ExtractionRecord  `json:"extraction,omitempty"`
	ActionHistory   []ActionEvent      `json:"action_history"`
	CompletenessPct int                `json:"completeness_percentage"`
	Iteration       int                `json:"iteration"`
	Phase           SessionPhase       `json:"phase"`
	CreatedAt       time.Time          `json:"created_at"`
	LastAccess      time.Time          `json:"last_access"`
}

// Snapshot builds the boundary read model from a session
func (s *Session) Snapshot() *SessionSnapshot {
	c := s.Clone()
	return &SessionSnapshot{
		ID:              c.ID,
		MessageCount:    len(c.Messages),
		Messages:        c.Messages,
		PatientInfo:     c.PatientInfo,
		DiagnosticState: c.DiagnosticState,
		SOAP:            c.SOAP,
		Urgency:         c.Urgency,
		Extraction:      c.Extraction,
		ActionHistory:   c.ActionHistory,
		CompletenessPct: c.Completeness(),
		Iteration:       c.Iteration,
		Phase:           c.Phase,
		CreatedAt:       c.CreatedAt,
		LastAccess:      c.LastAccess,
	}
}

// SessionStats summarises the store
type SessionStats struct {
	Total  int `json:"total"`
	Active int `json:"active"`
	Idle   int `json:"idle"`
}
