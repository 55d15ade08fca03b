package llm_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/clinicalcopilot/internal/adapters/providers/llm"
	"github.com/zatekoja/clinicalcopilot/internal/application/services"
	"github.com/zatekoja/clinicalcopilot/internal/domain/entities"
)

func TestExtractFromText(t *testing.T) {
	r := llm.ExtractFromText("42 year old male with crushing chest pain for 2 hours, 8/10, worse with exertion and shortness of breath")

	assert.Equal(t, entities.KnownInt(42), r.Demographics.Age)
	assert.Equal(t, "male", r.Demographics.Gender)
	assert.Equal(t, "chest pain", r.ClinicalPresentation.ChiefComplaint)
	assert.Equal(t, []string{"chest pain", "shortness of breath"}, r.ClinicalPresentation.Symptoms)
	assert.Equal(t, "chest", r.ClinicalPresentation.Location)
	assert.Equal(t, "2 hours", r.SymptomCharacteristics.Duration)
	assert.Equal(t, entities.KnownInt(8), r.SymptomCharacteristics.PainScale)
	assert.Equal(t, []string{"crushing"}, r.SymptomCharacteristics.Characteristics)
	assert.Equal(t, []string{"exertion"}, r.SymptomCharacteristics.AggravatingFactors)
}

func TestExtractFromText_Shorthand(t *testing.T) {
	r := llm.ExtractFromText("58F c/o CP and SOB x 3 hrs")

	assert.Equal(t, entities.KnownInt(58), r.Demographics.Age)
	assert.Equal(t, "female", r.Demographics.Gender)
	assert.Equal(t, "chest pain", r.ClinicalPresentation.ChiefComplaint)
	assert.Contains(t, r.ClinicalPresentation.Symptoms, "shortness of breath")
	assert.Equal(t, "3 hours", r.SymptomCharacteristics.Duration)
}

func TestExtractFromText_LeavesUnmentionedFieldsUnknown(t *testing.T) {
	r := llm.ExtractFromText("feeling unwell")

	assert.False(t, r.HasAge())
	assert.False(t, r.HasGender())
	assert.False(t, r.HasChiefComplaint())
	assert.True(t, entities.IsUnknown(r.SymptomCharacteristics.Duration))
	assert.Empty(t, r.ClinicalPresentation.Symptoms)
}

func TestExtractFromText_AgeVariants(t *testing.T) {
	tests := map[string]int{
		"7 yo girl with fever":       7,
		"aged 65, cough":             65,
		"a 30-year-old woman":        30,
		"patient 81 y/o, dizziness": 81,
	}
	for text, age := range tests {
		t.Run(text, func(t *testing.T) {
			r := llm.ExtractFromText(text)
			assert.Equal(t, entities.KnownInt(age), r.Demographics.Age)
		})
	}
}

func TestHeuristicProvider_AnswersEveryKind(t *testing.T) {
	provider := llm.NewHeuristicProvider()
	record := llm.ExtractFromText("6 year old boy with fever for 3 days")

	for _, kind := range entities.AllDecisionKinds {
		t.Run(string(kind), func(t *testing.T) {
			var input interface{} = services.PlanInput{Record: record}
			if kind == entities.KindExtraction {
				input = services.ExtractionInput{FreeText: "6 year old boy with fever for 3 days"}
			}
			envelope, err := services.BuildTaskEnvelope(kind, input, nil)
			require.NoError(t, err)

			reply, err := provider.MakeRequest(context.Background(), services.SystemInstruction(kind), envelope)
			require.NoError(t, err)

			decision, err := services.ParseDecision(kind, reply)
			require.NoError(t, err)
			assert.Equal(t, kind, decision.Kind())
		})
	}
}

func TestHeuristicProvider_TriageLevels(t *testing.T) {
	provider := llm.NewHeuristicProvider()

	tests := []struct {
		text  string
		level entities.UrgencyLevel
	}{
		{"crushing chest pain", entities.UrgencyCritical},
		{"palpitations since this morning", entities.UrgencyHigh},
		{"headache 8/10", entities.UrgencyHigh},
		{"sore throat", entities.UrgencyModerate},
		{"wants a check up", entities.UrgencyLow},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			envelope, err := services.BuildTaskEnvelope(entities.KindTriage, services.PlanInput{Record: llm.ExtractFromText(tt.text)}, nil)
			require.NoError(t, err)
			reply, err := provider.MakeRequest(context.Background(), "", envelope)
			require.NoError(t, err)

			var triage entities.TriageDecision
			require.NoError(t, json.Unmarshal([]byte(reply), &triage))
			assert.Equal(t, tt.level, triage.Level)
		})
	}
}

func TestHeuristicProvider_RejectsBadInput(t *testing.T) {
	provider := llm.NewHeuristicProvider()

	_, err := provider.MakeRequest(context.Background(), "", "not an envelope")
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = provider.MakeRequest(ctx, "", `{"task":"triage","input":{}}`)
	assert.ErrorIs(t, err, context.Canceled)
}
