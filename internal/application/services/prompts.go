package services

import (
	"encoding/json"
	"fmt"

	"github.com/zatekoja/clinicalcopilot/internal/domain/entities"
)

// TaskEnvelope is the user input sent to every provider. Task names the
// decision kind so providers that do not read the system instruction can
// still tell requests apart.
type TaskEnvelope struct {
	Task    entities.DecisionKind `json:"task"`
	Input   interface{}           `json:"input"`
	Context []string              `json:"recent_context,omitempty"`
}

// ExtractionInput is the payload of an extraction request
type ExtractionInput struct {
	FreeText        string                     `json:"free_text"`
	ExistingRecord  *entities.ExtractionRecord `json:"existing_record,omitempty"`
	IterationNumber int                        `json:"iteration_number"`
	MaxIterations   int                        `json:"max_iterations"`
	RecentContext   []string                   `json:"recent_context"`
}

// PlanInput is the payload of diagnosis, triage, treatment and SOAP requests
type PlanInput struct {
	Record      entities.ExtractionRecord `json:"record"`
	PatientInfo entities.PatientInfo      `json:"patient_info"`
	Transcript  []string                  `json:"transcript"`
}

const jsonOnly = "Respond with a single JSON object and nothing else."

var systemInstructions = map[entities.DecisionKind]string{
	entities.KindExtraction: "You extract structured clinical data from a clinician's free text. " +
		"Merge nothing yourself: report only what the latest text and context state, using \"unknown\" for anything not stated. " +
		"Return demographics, clinical_presentation, symptom_characteristics and medical_validation objects. " + jsonOnly,
	entities.KindDiagnosis: "You propose a differential diagnosis for the structured record. " +
		"Return differentials (most likely first), recommended_tests and reasoning. " + jsonOnly,
	entities.KindTriage: "You assess clinical urgency for the structured record. " +
		"Return urgency_level (CRITICAL, HIGH, MODERATE or LOW), protocol, actions, pediatric and reasoning. " + jsonOnly,
	entities.KindTreatment: "You draft a treatment plan for the structured record. " +
		"Return treatment_plan, medications and follow_up. " + jsonOnly,
	entities.KindSOAP: "You write a SOAP clinical note for the structured record. " +
		"Return subjective, objective, analysis and plan. " + jsonOnly,
}

// SystemInstruction returns the instruction sent with requests of kind
func SystemInstruction(kind entities.DecisionKind) string {
	if s, ok := systemInstructions[kind]; ok {
		return s
	}
	return jsonOnly
}

// BuildTaskEnvelope encodes input for kind
func BuildTaskEnvelope(kind entities.DecisionKind, input interface{}, recentContext []string) (string, error) {
	data, err := json.Marshal(TaskEnvelope{Task: kind, Input: input, Context: recentContext})
	if err != nil {
		return "", fmt.Errorf("failed to encode %s request: %w", kind, err)
	}
	return string(data), nil
}
