package entities

// Severity grades a validation issue
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// ValidationLayer names the check that raised an issue
type ValidationLayer string

const (
	LayerCompliance      ValidationLayer = "compliance"
	LayerRange           ValidationLayer = "range"
	LayerCompleteness    ValidationLayer = "completeness"
	LayerIterationBudget ValidationLayer = "iteration_budget"
)

// ValidationIssue is returned as data, never raised
type ValidationIssue struct {
	Layer      ValidationLayer `json:"layer"`
	Severity   Severity        `json:"severity"`
	Field      string          `json:"field"`
	Message    string          `json:"message"`
	Suggestion string          `json:"suggestion,omitempty"`
}

// StopAction is the outcome of stop-condition evaluation
type StopAction string

const (
	StopContinueExtraction StopAction = "continue_extraction"
	StopUserConfirmation   StopAction = "user_confirmation"
	StopProceed            StopAction = "proceed_to_next_stage"
	StopManualReview       StopAction = "manual_review"
)

// Phase maps a stop action to the session phase it puts the session in
func (a StopAction) Phase() SessionPhase {
	switch a {
	case StopProceed:
		return PhasePlanning
	case StopUserConfirmation:
		return PhaseConfirmation
	case StopManualReview:
		return PhaseManualReview
	default:
		return PhaseExtraction
	}
}

// ValidationResult is the outcome of a full validation pass
type ValidationResult struct {
	Issues         []ValidationIssue `json:"issues"`
	Confidence     float64           `json:"confidence"`
	Recommendation StopAction        `json:"recommendation"`
}

// CriticalCount counts critical issues
func (r ValidationResult) CriticalCount() int {
	return r.count(SeverityCritical)
}

// WarningCount counts warnings
func (r ValidationResult) WarningCount() int {
	return r.count(SeverityWarning)
}

func (r ValidationResult) count(s Severity) int {
	n := 0
	for _, issue := range r.Issues {
		if issue.Severity == s {
			n++
		}
	}
	return n
}

// StopDecision is returned to the caller with every turn
type StopDecision struct {
	Action     StopAction        `json:"action"`
	Reason     string            `json:"reason"`
	Score      int               `json:"score"`
	Compliant  bool              `json:"compliant"`
	Iteration  int               `json:"iteration"`
	Issues     []ValidationIssue `json:"issues"`
	Confidence float64           `json:"confidence"`
}
