package entities

import "time"

// DecisionKind tags the payload carried by a DecisionResponse.
type DecisionKind string

const (
	KindExtraction DecisionKind = "extraction"
	KindDiagnosis  DecisionKind = "diagnosis"
	KindTriage     DecisionKind = "triage"
	KindTreatment  DecisionKind = "treatment"
	KindSOAP       DecisionKind = "soap"
)

// AllDecisionKinds lists every kind the gateway knows how to parse.
var AllDecisionKinds = []DecisionKind{KindExtraction, KindDiagnosis, KindTriage, KindTreatment, KindSOAP}

// Decision is the tagged union of decision payloads. Consumers type-switch
// over the concrete types below.
type Decision interface {
	Kind() DecisionKind
}

// ExtractionDecision wraps a partial extraction record.
type ExtractionDecision struct {
	Record ExtractionRecord `json:"record"`
}

// DiagnosisDecision is a differential diagnosis.
type DiagnosisDecision struct {
	Differentials    []string `json:"differentials"`
	RecommendedTests []string `json:"recommended_tests"`
	Reasoning        string   `json:"reasoning"`
}

// TriageDecision is an urgency assessment.
type TriageDecision struct {
	Level     UrgencyLevel `json:"urgency_level"`
	Protocol  string       `json:"protocol"`
	Actions   []string     `json:"actions"`
	Pediatric *bool        `json:"pediatric,omitempty"`
	Reasoning string       `json:"reasoning"`
}

// TreatmentDecision is a treatment plan.
type TreatmentDecision struct {
	Plan        string   `json:"treatment_plan"`
	Medications []string `json:"medications"`
	FollowUp    string   `json:"follow_up"`
}

// SOAPDecision is a generated clinical note.
type SOAPDecision struct {
	Subjective string `json:"subjective"`
	Objective  string `json:"objective"`
	Analysis   string `json:"analysis"`
	Plan       string `json:"plan"`
}

// ParseFailure keeps a provider reply that could not be interpreted as
// structured data for the requested kind.
type ParseFailure struct {
	Requested    DecisionKind `json:"requested_kind"`
	Raw          string       `json:"raw"`
	ParsingError bool         `json:"parsing_error"`
}

func (*ExtractionDecision) Kind() DecisionKind { return KindExtraction }
func (*DiagnosisDecision) Kind() DecisionKind  { return KindDiagnosis }
func (*TriageDecision) Kind() DecisionKind     { return KindTriage }
func (*TreatmentDecision) Kind() DecisionKind  { return KindTreatment }
func (*SOAPDecision) Kind() DecisionKind       { return KindSOAP }
func (p *ParseFailure) Kind() DecisionKind     { return p.Requested }

// DecisionResponse is always returned by the gateway, never an error.
type DecisionResponse struct {
	Success    bool          `json:"success"`
	Kind       DecisionKind  `json:"kind"`
	Decision   Decision      `json:"decision"`
	Confidence int           `json:"confidence"`
	Latency    time.Duration `json:"latency"`
	Provider   string        `json:"provider"`
	Attempts   int           `json:"attempts"`
	Fallback   bool          `json:"fallback"`
	Cancelled  bool          `json:"cancelled,omitempty"`
	Error      string        `json:"error,omitempty"`
	// RawText preserves an unparsable reply when every candidate failed.
	RawText      string `json:"raw_text,omitempty"`
	ParsingError bool   `json:"parsing_error,omitempty"`
}
