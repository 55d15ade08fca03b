package services_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/zatekoja/clinicalcopilot/internal/application/services"
	"github.com/zatekoja/clinicalcopilot/internal/domain/entities"
)

func compliantRecord() *entities.ExtractionRecord {
	r := &entities.ExtractionRecord{}
	r.Demographics.Age = entities.KnownInt(42)
	r.Demographics.Gender = "male"
	r.Demographics.AgeConfidence = 0.9
	r.Demographics.GenderConfidence = 0.9
	r.ClinicalPresentation.ChiefComplaint = "chest pain"
	r.ClinicalPresentation.Symptoms = []string{"chest pain"}
	r.ClinicalPresentation.Confidence = 0.9
	r.SymptomCharacteristics.Duration = "2 hours"
	r.Metadata.Iteration = 1
	return r
}

func TestCompletenessScorer_Score(t *testing.T) {
	scorer := services.NewCompletenessScorer(testExtractionConfig())

	assert.Equal(t, 0, scorer.Score(nil))
	assert.Equal(t, 0, scorer.Score(&entities.ExtractionRecord{Demographics: entities.Demographics{Gender: "unknown"}}))

	r := compliantRecord()
	assert.Equal(t, 75, scorer.Score(r))

	r.SymptomCharacteristics.PainScale = entities.KnownInt(7)
	r.SymptomCharacteristics.Characteristics = []string{"pressure"}
	r.SymptomCharacteristics.AggravatingFactors = []string{"exertion"}
	r.SymptomCharacteristics.RelievingFactors = []string{"rest"}
	r.SymptomCharacteristics.TemporalPattern = "constant"
	assert.Equal(t, 100, scorer.Score(r))
}

func TestCompletenessScorer_MissingFieldsOrder(t *testing.T) {
	scorer := services.NewCompletenessScorer(testExtractionConfig())

	missing := scorer.MissingFields(&entities.ExtractionRecord{})
	assert.Equal(t, []string{"age", "gender", "chief_complaint", "symptoms"}, missing[:4])
	assert.Len(t, missing, 10)

	assert.NotContains(t, scorer.MissingFields(compliantRecord()), "duration")
}

func TestCompletenessScorer_Evaluate(t *testing.T) {
	scorer := services.NewCompletenessScorer(testExtractionConfig())
	validator := services.NewValidationService(scorer)

	tests := []struct {
		name   string
		record func() *entities.ExtractionRecord
		action entities.StopAction
	}{
		{
			name:   "ready and compliant proceeds",
			record: compliantRecord,
			action: entities.StopProceed,
		},
		{
			name: "compliant but borderline asks for confirmation",
			record: func() *entities.ExtractionRecord {
				r := compliantRecord()
				r.ClinicalPresentation.Symptoms = nil
				r.SymptomCharacteristics.Duration = "unknown"
				r.SymptomCharacteristics.PainScale = entities.KnownInt(6)
				return r
			},
			action: entities.StopUserConfirmation,
		},
		{
			name: "critical range issue blocks confirmation",
			record: func() *entities.ExtractionRecord {
				r := compliantRecord()
				r.Demographics.Age = entities.KnownInt(200)
				r.SymptomCharacteristics.PainScale = entities.KnownInt(6)
				return r
			},
			action: entities.StopContinueExtraction,
		},
		{
			name: "missing compliance continues",
			record: func() *entities.ExtractionRecord {
				r := compliantRecord()
				r.Demographics.Gender = "not specified"
				return r
			},
			action: entities.StopContinueExtraction,
		},
		{
			name: "unknown demographics after budget needs manual review",
			record: func() *entities.ExtractionRecord {
				r := &entities.ExtractionRecord{}
				r.Metadata.Iteration = 5
				return r
			},
			action: entities.StopManualReview,
		},
		{
			name: "budget wins over readiness",
			record: func() *entities.ExtractionRecord {
				r := compliantRecord()
				r.Metadata.Iteration = 5
				return r
			},
			action: entities.StopManualReview,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := tt.record()
			validation := validator.Validate(r)
			decision := scorer.Evaluate(r, validation)

			assert.Equal(t, tt.action, decision.Action)
			assert.Equal(t, tt.action, validation.Recommendation)
			assert.NotEmpty(t, decision.Reason)
		})
	}
}

func TestValidationService_Issues(t *testing.T) {
	scorer := services.NewCompletenessScorer(testExtractionConfig())
	validator := services.NewValidationService(scorer)

	result := validator.Validate(&entities.ExtractionRecord{})
	assert.Equal(t, 3, result.CriticalCount())
	assert.Equal(t, 0.1, result.Confidence)

	r := compliantRecord()
	r.Demographics.Age = entities.KnownInt(200)
	r.SymptomCharacteristics.PainScale = entities.KnownInt(14)
	r.Demographics.GenderConfidence = 0.4
	result = validator.Validate(r)

	assert.Equal(t, 1, result.CriticalCount())
	assert.GreaterOrEqual(t, result.WarningCount(), 2)
	assert.Equal(t, entities.StopContinueExtraction, result.Recommendation)
}

func TestValidationService_ConfidenceBounds(t *testing.T) {
	scorer := services.NewCompletenessScorer(testExtractionConfig())
	validator := services.NewValidationService(scorer)

	r := compliantRecord()
	r.SymptomCharacteristics.Confidence = 1
	r.Demographics.AgeConfidence = 1
	r.Demographics.GenderConfidence = 1
	r.ClinicalPresentation.Confidence = 1
	result := validator.Validate(r)

	assert.LessOrEqual(t, result.Confidence, 1.0)
	assert.Greater(t, result.Confidence, 0.5)
}
