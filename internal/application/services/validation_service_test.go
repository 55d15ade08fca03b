package services_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/clinicalcopilot/internal/application/services"
	"github.com/zatekoja/clinicalcopilot/internal/domain/entities"
)

func issueFields(result entities.ValidationResult, severity entities.Severity) []string {
	var fields []string
	for _, issue := range result.Issues {
		if issue.Severity == severity {
			fields = append(fields, issue.Field)
		}
	}
	return fields
}

func TestValidationService_CleanRecord(t *testing.T) {
	validator := services.NewValidationService(services.NewCompletenessScorer(testExtractionConfig()))

	result := validator.Validate(compliantRecord())

	assert.Empty(t, result.Issues)
	assert.InDelta(t, 0.7125, result.Confidence, 1e-9)
	assert.Equal(t, entities.StopProceed, result.Recommendation)
}

func TestValidationService_IterationBudget(t *testing.T) {
	validator := services.NewValidationService(services.NewCompletenessScorer(testExtractionConfig()))

	tests := []struct {
		name      string
		iteration int
		warning   string
		action    entities.StopAction
	}{
		{"one left", 4, "one extraction iteration left", entities.StopProceed},
		{"exhausted", 5, "iteration budget of 5 exhausted", entities.StopManualReview},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := compliantRecord()
			r.Metadata.Iteration = tt.iteration
			result := validator.Validate(r)

			require.Len(t, result.Issues, 1)
			assert.Equal(t, entities.SeverityWarning, result.Issues[0].Severity)
			assert.Equal(t, tt.warning, result.Issues[0].Message)
			assert.InDelta(t, 0.6125, result.Confidence, 1e-9)
			assert.Equal(t, tt.action, result.Recommendation)
		})
	}
}

func TestValidationService_CompletenessLayer(t *testing.T) {
	validator := services.NewValidationService(services.NewCompletenessScorer(testExtractionConfig()))

	// age + gender + complaint only: 55%
	r := compliantRecord()
	r.ClinicalPresentation.Symptoms = nil
	r.SymptomCharacteristics.Duration = ""
	result := validator.Validate(r)
	assert.Equal(t, []string{"completeness"}, issueFields(result, entities.SeverityInfo))
	assert.Empty(t, issueFields(result, entities.SeverityWarning))
	assert.Equal(t, entities.StopContinueExtraction, result.Recommendation)

	// complaint only: 15%
	r = &entities.ExtractionRecord{}
	r.ClinicalPresentation.ChiefComplaint = "cough"
	r.Metadata.Iteration = 1
	result = validator.Validate(r)
	assert.Contains(t, issueFields(result, entities.SeverityWarning), "completeness")
	assert.ElementsMatch(t, []string{"age", "gender"}, issueFields(result, entities.SeverityCritical))
}

func TestValidationService_IssuesCarryLayer(t *testing.T) {
	validator := services.NewValidationService(services.NewCompletenessScorer(testExtractionConfig()))

	r := compliantRecord()
	r.Demographics.Age = entities.KnownInt(200)
	r.Demographics.Gender = ""
	r.Metadata.Iteration = 5
	result := validator.Validate(r)

	layers := map[entities.ValidationLayer]int{}
	for _, issue := range result.Issues {
		layers[issue.Layer]++
	}
	assert.Equal(t, 1, layers[entities.LayerCompliance])
	assert.Equal(t, 1, layers[entities.LayerRange])
	assert.Equal(t, 1, layers[entities.LayerCompleteness])
	assert.Equal(t, 1, layers[entities.LayerIterationBudget])
	assert.Equal(t, entities.StopManualReview, result.Recommendation)
}

func TestValidationService_RecommendMatchesEvaluator(t *testing.T) {
	scorer := services.NewCompletenessScorer(testExtractionConfig())
	validator := services.NewValidationService(scorer)

	borderline := compliantRecord()
	borderline.ClinicalPresentation.Symptoms = nil
	borderline.SymptomCharacteristics.PainScale = entities.KnownInt(6)

	outOfRange := compliantRecord()
	outOfRange.Demographics.Age = entities.KnownInt(200)

	partial := compliantRecord()
	partial.Demographics.Gender = "unknown"

	lastTurn := compliantRecord()
	lastTurn.Metadata.Iteration = 4

	exhausted := compliantRecord()
	exhausted.Metadata.Iteration = 5

	records := map[string]*entities.ExtractionRecord{
		"empty":        {},
		"ready":        compliantRecord(),
		"borderline":   borderline,
		"out of range": outOfRange,
		"partial":      partial,
		"last turn":    lastTurn,
		"exhausted":    exhausted,
	}
	for name, r := range records {
		result := validator.Validate(r)
		assert.Equal(t, scorer.Evaluate(r, result).Action, validator.Recommend(r, result), name)
	}
}
