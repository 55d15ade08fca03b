package services

import (
	"fmt"

	"github.com/zatekoja/clinicalcopilot/internal/domain/entities"
)

const (
	minFieldConfidence   = 0.7
	lowCompletenessFloor = 30
	criticalPenalty      = 0.3
	warningPenalty       = 0.1
	minPassConfidence    = 0.1
	maxPassConfidence    = 1.0

	// issue fields raised by the iteration budget layer
	fieldIterationsLeft      = "iteration"
	fieldIterationsExhausted = "iteration_budget"
)

// ValidationService runs independent check layers over an accumulated
// record. Issues are returned as data and never raised.
type ValidationService struct {
	scorer *CompletenessScorer
}

// NewValidationService creates a validation service sharing the scorer's
// thresholds
func NewValidationService(scorer *CompletenessScorer) *ValidationService {
	return &ValidationService{scorer: scorer}
}

// Validate runs every layer and derives confidence and a recommendation
func (v *ValidationService) Validate(r *entities.ExtractionRecord) entities.ValidationResult {
	if r == nil {
		r = &entities.ExtractionRecord{}
	}
	score := v.scorer.Score(r)

	var issues []entities.ValidationIssue
	issues = append(issues, v.checkCompliance(r)...)
	issues = append(issues, v.checkRanges(r)...)
	issues = append(issues, v.checkCompleteness(score)...)
	issues = append(issues, v.checkIterationBudget(r.Metadata.Iteration)...)

	result := entities.ValidationResult{Issues: issues}
	result.Confidence = v.confidence(r, score, result)
	result.Recommendation = v.Recommend(r, result)
	return result
}

// Recommend derives the next action from the issues and the score alone,
// so it can be audited against the evaluator's decision.
func (v *ValidationService) Recommend(r *entities.ExtractionRecord, result entities.ValidationResult) entities.StopAction {
	var exhausted, missingCompliance bool
	for _, issue := range result.Issues {
		switch {
		case issue.Layer == entities.LayerIterationBudget && issue.Field == fieldIterationsExhausted:
			exhausted = true
		case issue.Layer == entities.LayerCompliance:
			missingCompliance = true
		}
	}
	clean := !missingCompliance && result.CriticalCount() == 0
	score := v.scorer.Score(r)

	switch {
	case exhausted:
		return entities.StopManualReview
	case clean && score >= v.scorer.ReadyThreshold():
		return entities.StopProceed
	case clean && score >= v.scorer.ConfirmThreshold():
		return entities.StopUserConfirmation
	default:
		return entities.StopContinueExtraction
	}
}

func (v *ValidationService) checkCompliance(r *entities.ExtractionRecord) []entities.ValidationIssue {
	var issues []entities.ValidationIssue
	if !r.HasAge() {
		issues = append(issues, entities.ValidationIssue{
			Layer:      entities.LayerCompliance,
			Severity:   entities.SeverityCritical,
			Field:      string(FieldAge),
			Message:    "patient age is required",
			Suggestion: "ask for the patient's age",
		})
	}
	if !r.HasGender() {
		issues = append(issues, entities.ValidationIssue{
			Layer:      entities.LayerCompliance,
			Severity:   entities.SeverityCritical,
			Field:      string(FieldGender),
			Message:    "patient gender is required",
			Suggestion: "ask for the patient's gender",
		})
	}
	if !r.HasChiefComplaint() {
		issues = append(issues, entities.ValidationIssue{
			Layer:      entities.LayerCompliance,
			Severity:   entities.SeverityCritical,
			Field:      string(FieldChiefComplaint),
			Message:    "chief complaint is required",
			Suggestion: "ask what brought the patient in today",
		})
	}
	return issues
}

func (v *ValidationService) checkRanges(r *entities.ExtractionRecord) []entities.ValidationIssue {
	var issues []entities.ValidationIssue

	if age := r.Demographics.Age; age.Known && (age.Value < 0 || age.Value > 150) {
		issues = append(issues, entities.ValidationIssue{
			Layer:      entities.LayerRange,
			Severity:   entities.SeverityCritical,
			Field:      string(FieldAge),
			Message:    fmt.Sprintf("age %d is outside [0,150]", age.Value),
			Suggestion: "confirm the patient's age",
		})
	}
	if pain := r.SymptomCharacteristics.PainScale; pain.Known && (pain.Value < 1 || pain.Value > 10) {
		issues = append(issues, entities.ValidationIssue{
			Layer:      entities.LayerRange,
			Severity:   entities.SeverityWarning,
			Field:      string(FieldPainScale),
			Message:    fmt.Sprintf("pain scale %d is outside [1,10]", pain.Value),
			Suggestion: "ask the patient to rate pain from 1 to 10",
		})
	}

	lowConfidence := []struct {
		field      FieldID
		known      bool
		confidence float64
	}{
		{FieldAge, r.HasAge(), r.Demographics.AgeConfidence},
		{FieldGender, r.HasGender(), r.Demographics.GenderConfidence},
		{FieldChiefComplaint, r.HasChiefComplaint(), r.ClinicalPresentation.Confidence},
	}
	for _, c := range lowConfidence {
		if c.known && c.confidence < minFieldConfidence {
			issues = append(issues, entities.ValidationIssue{
				Layer:      entities.LayerRange,
				Severity:   entities.SeverityWarning,
				Field:      string(c.field),
				Message:    fmt.Sprintf("low confidence %.2f for %s", c.confidence, c.field),
				Suggestion: fmt.Sprintf("confirm %s with the patient", c.field),
			})
		}
	}
	return issues
}

func (v *ValidationService) checkCompleteness(score int) []entities.ValidationIssue {
	switch {
	case score < lowCompletenessFloor:
		return []entities.ValidationIssue{{
			Layer:      entities.LayerCompleteness,
			Severity:   entities.SeverityWarning,
			Field:      "completeness",
			Message:    fmt.Sprintf("completeness %d%% is very low", score),
			Suggestion: "gather basic demographics and the presenting complaint",
		}}
	case score < v.scorer.ReadyThreshold():
		return []entities.ValidationIssue{{
			Layer:      entities.LayerCompleteness,
			Severity:   entities.SeverityInfo,
			Field:      "completeness",
			Message:    fmt.Sprintf("completeness %d%% below ready threshold %d%%", score, v.scorer.ReadyThreshold()),
			Suggestion: "ask about duration, severity and modifying factors",
		}}
	}
	return nil
}

func (v *ValidationService) checkIterationBudget(iteration int) []entities.ValidationIssue {
	budget := v.scorer.MaxIterations()
	switch {
	case iteration >= budget:
		return []entities.ValidationIssue{{
			Layer:      entities.LayerIterationBudget,
			Severity:   entities.SeverityWarning,
			Field:      fieldIterationsExhausted,
			Message:    fmt.Sprintf("iteration budget of %d exhausted", budget),
			Suggestion: "hand the case to a clinician for manual review",
		}}
	case iteration == budget-1:
		return []entities.ValidationIssue{{
			Layer:      entities.LayerIterationBudget,
			Severity:   entities.SeverityWarning,
			Field:      fieldIterationsLeft,
			Message:    "one extraction iteration left",
			Suggestion: "prioritise compliance-critical questions",
		}}
	}
	return nil
}

func (v *ValidationService) confidence(r *entities.ExtractionRecord, score int, result entities.ValidationResult) float64 {
	fieldConfidences := []float64{
		r.Demographics.AgeConfidence,
		r.Demographics.GenderConfidence,
		r.ClinicalPresentation.Confidence,
		r.SymptomCharacteristics.Confidence,
	}
	sum := 0.0
	for _, c := range fieldConfidences {
		sum += c
	}
	mean := sum / float64(len(fieldConfidences))

	c := (float64(score)/100 + mean) / 2
	c -= criticalPenalty * float64(result.CriticalCount())
	c -= warningPenalty * float64(result.WarningCount())
	if c < minPassConfidence {
		return minPassConfidence
	}
	if c > maxPassConfidence {
		return maxPassConfidence
	}
	return c
}
