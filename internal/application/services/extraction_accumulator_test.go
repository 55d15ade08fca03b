package services_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/clinicalcopilot/internal/application/services"
	"github.com/zatekoja/clinicalcopilot/internal/domain/entities"
)

func newTestAccumulator() *services.ExtractionAccumulator {
	scorer := services.NewCompletenessScorer(testExtractionConfig())
	return services.NewExtractionAccumulator(scorer, services.NewValidationService(scorer))
}

func TestExtractionAccumulator_NeverRegresses(t *testing.T) {
	acc := newTestAccumulator()
	existing := compliantRecord()
	existing.SymptomCharacteristics.PainScale = entities.KnownInt(7)

	incoming := entities.ExtractionRecord{}
	incoming.Demographics.Gender = "unknown"
	incoming.ClinicalPresentation.ChiefComplaint = "not provided"
	incoming.SymptomCharacteristics.TemporalPattern = "intermittent"
	incoming.Metadata.Iteration = 2

	merged := acc.Merge(existing, incoming)

	assert.Equal(t, entities.KnownInt(42), merged.Demographics.Age)
	assert.Equal(t, "male", merged.Demographics.Gender)
	assert.Equal(t, "chest pain", merged.ClinicalPresentation.ChiefComplaint)
	assert.Equal(t, entities.KnownInt(7), merged.SymptomCharacteristics.PainScale)
	assert.Equal(t, "intermittent", merged.SymptomCharacteristics.TemporalPattern)
	assert.Equal(t, 2, merged.Metadata.Iteration)
}

func TestExtractionAccumulator_NewerKnownValueWins(t *testing.T) {
	acc := newTestAccumulator()
	existing := compliantRecord()

	incoming := entities.ExtractionRecord{}
	incoming.Demographics.Age = entities.KnownInt(43)
	incoming.SymptomCharacteristics.Duration = "  3 hours "

	merged := acc.Merge(existing, incoming)

	assert.Equal(t, 43, merged.Demographics.Age.Value)
	assert.Equal(t, "3 hours", merged.SymptomCharacteristics.Duration)
}

func TestExtractionAccumulator_UnionsLists(t *testing.T) {
	acc := newTestAccumulator()
	existing := compliantRecord()
	existing.ClinicalPresentation.Symptoms = []string{"Chest pain", "nausea"}

	incoming := entities.ExtractionRecord{}
	incoming.ClinicalPresentation.Symptoms = []string{"chest pain", "sweating", "unknown", ""}

	merged := acc.Merge(existing, incoming)

	assert.Equal(t, []string{"Chest pain", "nausea", "sweating"}, merged.ClinicalPresentation.Symptoms)
	assert.Nil(t, merged.SymptomCharacteristics.RelievingFactors)
	assert.Equal(t, []string{"Chest pain", "nausea"}, existing.ClinicalPresentation.Symptoms, "inputs are not mutated")
}

func TestExtractionAccumulator_ConfidenceKeepsMax(t *testing.T) {
	acc := newTestAccumulator()
	existing := compliantRecord()

	incoming := entities.ExtractionRecord{}
	incoming.Demographics.AgeConfidence = 0.5
	incoming.ClinicalPresentation.Confidence = 0.95

	merged := acc.Merge(existing, incoming)

	assert.Equal(t, 0.9, merged.Demographics.AgeConfidence)
	assert.Equal(t, 0.95, merged.ClinicalPresentation.Confidence)
}

func TestExtractionAccumulator_Idempotent(t *testing.T) {
	acc := newTestAccumulator()
	existing := compliantRecord()
	existing.Metadata.Timestamp = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	incoming := entities.ExtractionRecord{}
	incoming.ClinicalPresentation.Symptoms = []string{"shortness of breath"}
	incoming.MedicalValidation.Alerts = []string{"possible ACS"}
	incoming.Metadata.Iteration = 2
	incoming.Metadata.Timestamp = existing.Metadata.Timestamp.Add(time.Minute)

	once := acc.Merge(existing, incoming)
	twice := acc.Merge(&once, incoming)

	assert.Equal(t, once, twice)
}

func TestExtractionAccumulator_IdempotentOnRawRecord(t *testing.T) {
	acc := newTestAccumulator()

	raw := entities.ExtractionRecord{}
	raw.Demographics.Gender = " Female "
	raw.ClinicalPresentation.Symptoms = []string{"Cough", "cough", " fever "}
	raw.SymptomCharacteristics.Duration = "not specified"
	raw.Metadata.Iteration = 1

	fromNil := acc.Merge(nil, raw)
	self := acc.Merge(&raw, raw)
	again := acc.Merge(&fromNil, raw)

	assert.Equal(t, []string{"Cough", "fever"}, fromNil.ClinicalPresentation.Symptoms)
	assert.Equal(t, "Female", fromNil.Demographics.Gender)
	assert.Equal(t, fromNil, self)
	assert.Equal(t, fromNil, again)
}

func TestExtractionAccumulator_NilExisting(t *testing.T) {
	acc := newTestAccumulator()

	incoming := entities.ExtractionRecord{}
	incoming.Demographics.Age = entities.KnownInt(30)
	incoming.ClinicalPresentation.Symptoms = []string{"cough", "Cough"}

	merged := acc.Merge(nil, incoming)

	assert.Equal(t, 30, merged.Demographics.Age.Value)
	assert.Equal(t, []string{"cough"}, merged.ClinicalPresentation.Symptoms)
	assert.Equal(t, 35, merged.Metadata.CompletenessPct)
	assert.False(t, merged.Metadata.Compliant)
}

func TestExtractionAccumulator_RecomputesMetadata(t *testing.T) {
	acc := newTestAccumulator()

	merged := acc.Merge(compliantRecord(), entities.ExtractionRecord{})

	assert.Equal(t, 75, merged.Metadata.CompletenessPct)
	assert.True(t, merged.Metadata.Compliant)
	assert.True(t, merged.Metadata.ReadyToEscalate)
	assert.True(t, merged.Metadata.SectionsComplete.Demographics)
	assert.True(t, merged.Metadata.SectionsComplete.Clinical)
	assert.False(t, merged.Metadata.SectionsComplete.Characteristics)
	require.NotEmpty(t, merged.Metadata.MissingFields)
	assert.Equal(t, "pain_scale", merged.Metadata.MissingFields[0])
}
