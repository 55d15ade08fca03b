package services_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/zatekoja/clinicalcopilot/internal/application/services"
	"github.com/zatekoja/clinicalcopilot/internal/domain/entities"
)

func TestFollowUpQuestions(t *testing.T) {
	record := &entities.ExtractionRecord{}
	record.Metadata.MissingFields = []string{"duration", "age", "pain_scale", "chief_complaint"}
	record.MedicalValidation.ClarificationsNeeded = []string{"Is the pain radiating?"}

	t.Run("compliance fields first then clarifications", func(t *testing.T) {
		questions := services.FollowUpQuestions(record, entities.StopDecision{Action: entities.StopContinueExtraction})

		assert.Equal(t, []string{
			"How old is the patient?",
			"What is the main reason for today's visit?",
			"Is the pain radiating?",
		}, questions)
	})

	t.Run("remaining fields fill the quota", func(t *testing.T) {
		r := &entities.ExtractionRecord{}
		r.Metadata.MissingFields = []string{"duration", "gender", "pain_scale", "temporal_pattern"}

		questions := services.FollowUpQuestions(r, entities.StopDecision{Action: entities.StopContinueExtraction})

		assert.Equal(t, []string{
			"What is the patient's gender?",
			"How long have the symptoms been present?",
			"On a scale of 1 to 10, how severe is the pain?",
		}, questions)
	})

	t.Run("duplicate clarifications are asked once", func(t *testing.T) {
		r := &entities.ExtractionRecord{}
		r.MedicalValidation.ClarificationsNeeded = []string{"Any fever?", "Any fever?"}

		questions := services.FollowUpQuestions(r, entities.StopDecision{Action: entities.StopContinueExtraction})

		assert.Equal(t, []string{"Any fever?"}, questions)
	})

	t.Run("confirmation asks a single question", func(t *testing.T) {
		questions := services.FollowUpQuestions(record, entities.StopDecision{Action: entities.StopUserConfirmation})

		assert.Len(t, questions, 1)
	})

	t.Run("nothing once extraction is over", func(t *testing.T) {
		assert.Nil(t, services.FollowUpQuestions(record, entities.StopDecision{Action: entities.StopProceed}))
		assert.Nil(t, services.FollowUpQuestions(record, entities.StopDecision{Action: entities.StopManualReview}))
	})
}
