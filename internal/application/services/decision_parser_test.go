package services_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/clinicalcopilot/internal/application/services"
	"github.com/zatekoja/clinicalcopilot/internal/domain/entities"
	apperrors "github.com/zatekoja/clinicalcopilot/pkg/errors"
)

func TestParseDecision_Extraction(t *testing.T) {
	text := `{"demographics":{"age":"42 years","gender":"male"},"clinical_presentation":{"chief_complaint":"chest pain","symptoms":["chest pain"]}}`

	d, err := services.ParseDecision(entities.KindExtraction, text)
	require.NoError(t, err)

	extraction, ok := d.(*entities.ExtractionDecision)
	require.True(t, ok)
	assert.Equal(t, entities.KnownInt(42), extraction.Record.Demographics.Age)
	assert.Equal(t, "chest pain", extraction.Record.ClinicalPresentation.ChiefComplaint)
}

func TestParseDecision_FencedAndEmbedded(t *testing.T) {
	fenced := "Here is the assessment:\n```json\n{\"urgency_level\": \"high\", \"protocol\": \"chest pain pathway\"}\n```\nLet me know."
	d, err := services.ParseDecision(entities.KindTriage, fenced)
	require.NoError(t, err)
	assert.Equal(t, entities.UrgencyHigh, d.(*entities.TriageDecision).Level)

	embedded := `Sure! {"differentials": ["acute coronary syndrome", "GERD"], "reasoning": "typical features"} Hope this helps.`
	d, err = services.ParseDecision(entities.KindDiagnosis, embedded)
	require.NoError(t, err)
	assert.Equal(t, []string{"acute coronary syndrome", "GERD"}, d.(*entities.DiagnosisDecision).Differentials)
}

func TestParseDecision_Failures(t *testing.T) {
	tests := []struct {
		name string
		kind entities.DecisionKind
		text string
	}{
		{"empty", entities.KindSOAP, "   "},
		{"prose", entities.KindDiagnosis, "I am unable to help with that."},
		{"wrong shape", entities.KindTreatment, `{"differentials": ["x"]}`},
		{"bad urgency", entities.KindTriage, `{"urgency_level": "SOMEWHAT"}`},
		{"truncated", entities.KindExtraction, `{"demographics": {"age": 4`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := services.ParseDecision(tt.kind, tt.text)
			assert.Nil(t, d)

			var parseErr *apperrors.ParseError
			require.True(t, errors.As(err, &parseErr))
			assert.Equal(t, tt.text, parseErr.Raw)
		})
	}
}

func TestDecisionConfidence(t *testing.T) {
	assert.Equal(t, 100, services.DecisionConfidence(&entities.SOAPDecision{Subjective: "s", Objective: "o", Analysis: "a", Plan: "p"}))
	assert.Equal(t, 50, services.DecisionConfidence(&entities.TriageDecision{Level: entities.UrgencyLow}))
	assert.Equal(t, 100, services.DecisionConfidence(&entities.DiagnosisDecision{
		Differentials:    []string{"a", "b", "c", "d"},
		RecommendedTests: []string{"ECG"},
		Reasoning:        "r",
	}))
	assert.Equal(t, 0, services.DecisionConfidence(&entities.TreatmentDecision{}))
}

func TestFallbackDecision(t *testing.T) {
	for _, kind := range entities.AllDecisionKinds {
		d := services.FallbackDecision(kind)
		require.NotNil(t, d)
		assert.Equal(t, kind, d.Kind())
	}

	triage := services.FallbackDecision(entities.KindTriage).(*entities.TriageDecision)
	assert.Equal(t, entities.UrgencyHigh, triage.Level)

	soap := services.FallbackDecision(entities.KindSOAP).(*entities.SOAPDecision)
	assert.Empty(t, soap.Subjective)
	assert.Contains(t, soap.Plan, "Plan pending")
}
