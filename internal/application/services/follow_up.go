package services

import (
	"github.com/zatekoja/clinicalcopilot/internal/domain/entities"
)

const maxFollowUpQuestions = 3

var followUpQuestions = map[FieldID]string{
	FieldAge:                "How old is the patient?",
	FieldGender:             "What is the patient's gender?",
	FieldChiefComplaint:     "What is the main reason for today's visit?",
	FieldSymptoms:           "What symptoms is the patient experiencing?",
	FieldDuration:           "How long have the symptoms been present?",
	FieldPainScale:          "On a scale of 1 to 10, how severe is the pain?",
	FieldCharacteristics:    "How would the patient describe the pain (sharp, dull, burning, pressure)?",
	FieldAggravatingFactors: "Does anything make the symptoms worse?",
	FieldRelievingFactors:   "Does anything make the symptoms better?",
	FieldTemporalPattern:    "Are the symptoms constant, or do they come and go?",
}

const confirmationQuestion = "Is the summary above accurate and complete enough to generate a plan?"

// FollowUpQuestions returns the questions to ask next: missing compliance
// fields, then clarifications requested by the provider, then the remaining
// missing fields. Nothing is asked once the stop decision leaves extraction.
func FollowUpQuestions(r *entities.ExtractionRecord, stop entities.StopDecision) []string {
	switch stop.Action {
	case entities.StopProceed, entities.StopManualReview:
		return nil
	case entities.StopUserConfirmation:
		return []string{confirmationQuestion}
	}

	var questions []string
	seen := make(map[string]bool)
	add := func(q string) {
		if q == "" || seen[q] || len(questions) >= maxFollowUpQuestions {
			return
		}
		seen[q] = true
		questions = append(questions, q)
	}

	var rest []string
	for _, field := range r.Metadata.MissingFields {
		switch FieldID(field) {
		case FieldAge, FieldGender, FieldChiefComplaint:
			add(followUpQuestions[FieldID(field)])
		default:
			rest = append(rest, followUpQuestions[FieldID(field)])
		}
	}
	for _, c := range r.MedicalValidation.ClarificationsNeeded {
		add(c)
	}
	for _, q := range rest {
		add(q)
	}
	return questions
}
