package services

import (
	"fmt"
	"math"

	"github.com/zatekoja/clinicalcopilot/internal/domain/entities"
	"github.com/zatekoja/clinicalcopilot/pkg/config"
)

const (
	agePoints            = 20
	genderPoints         = 20
	chiefComplaintPoints = 15
	symptomsPoints       = 15
	contextPoints        = 30
	contextIndicators    = 6
)

// CompletenessScorer computes the weighted completeness of a record and
// evaluates the stop condition for a turn.
type CompletenessScorer struct {
	maxIterations    int
	readyThreshold   int
	confirmThreshold int
}

// NewCompletenessScorer creates a scorer. One ready threshold is used for
// every call site.
func NewCompletenessScorer(cfg config.ExtractionConfig) *CompletenessScorer {
	s := &CompletenessScorer{
		maxIterations:    cfg.MaxIterations,
		readyThreshold:   cfg.ReadyThreshold,
		confirmThreshold: cfg.ConfirmThreshold,
	}
	if s.maxIterations <= 0 {
		s.maxIterations = 5
	}
	if s.readyThreshold <= 0 {
		s.readyThreshold = 70
	}
	if s.confirmThreshold <= 0 {
		s.confirmThreshold = 60
	}
	return s
}

// MaxIterations returns the iteration budget
func (s *CompletenessScorer) MaxIterations() int { return s.maxIterations }

// ReadyThreshold returns the score needed to proceed
func (s *CompletenessScorer) ReadyThreshold() int { return s.readyThreshold }

// ConfirmThreshold returns the score at which a compliant record is offered
// for confirmation
func (s *CompletenessScorer) ConfirmThreshold() int { return s.confirmThreshold }

// Score returns the weighted completeness in [0,100]
func (s *CompletenessScorer) Score(r *entities.ExtractionRecord) int {
	if r == nil {
		return 0
	}
	total := float64(demographicsScore(r) + clinicalScore(r))
	total += float64(contextCount(r)) / contextIndicators * contextPoints

	score := int(math.Round(total))
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// SectionsComplete reports which weighted sections are fully filled in. The
// characteristics section counts as complete with at least half of its
// context indicators.
func (s *CompletenessScorer) SectionsComplete(r *entities.ExtractionRecord) entities.SectionCompleteness {
	return entities.SectionCompleteness{
		Demographics:    r.HasAge() && r.HasGender(),
		Clinical:        r.HasChiefComplaint() && len(r.ClinicalPresentation.Symptoms) > 0,
		Characteristics: contextCount(r)*2 >= contextIndicators,
	}
}

// MissingFields lists the unknown fields, compliance-critical ones first
func (s *CompletenessScorer) MissingFields(r *entities.ExtractionRecord) []string {
	var missing []string
	if !r.HasAge() {
		missing = append(missing, string(FieldAge))
	}
	if !r.HasGender() {
		missing = append(missing, string(FieldGender))
	}
	if !r.HasChiefComplaint() {
		missing = append(missing, string(FieldChiefComplaint))
	}
	if len(r.ClinicalPresentation.Symptoms) == 0 {
		missing = append(missing, string(FieldSymptoms))
	}
	for _, ind := range contextIndicatorFields(r) {
		if !ind.present {
			missing = append(missing, string(ind.field))
		}
	}
	return missing
}

// Evaluate applies the stop-condition priority order; the first match wins.
func (s *CompletenessScorer) Evaluate(r *entities.ExtractionRecord, validation entities.ValidationResult) entities.StopDecision {
	if r == nil {
		r = &entities.ExtractionRecord{}
	}
	score := s.Score(r)
	compliant := r.IsCompliant()
	iteration := r.Metadata.Iteration
	decision := entities.StopDecision{
		Score:      score,
		Compliant:  compliant,
		Iteration:  iteration,
		Issues:     validation.Issues,
		Confidence: validation.Confidence,
	}

	action, reason := s.decide(score, compliant, iteration, validation.CriticalCount())
	decision.Action = action
	decision.Reason = reason
	return decision
}

func (s *CompletenessScorer) decide(score int, compliant bool, iteration, critical int) (entities.StopAction, string) {
	remaining := iteration < s.maxIterations

	switch {
	case !remaining:
		return entities.StopManualReview, fmt.Sprintf("iteration budget of %d exhausted", s.maxIterations)
	case score >= s.readyThreshold && compliant && critical == 0:
		return entities.StopProceed, fmt.Sprintf("completeness %d%% meets threshold %d%% with all compliance fields", score, s.readyThreshold)
	case compliant && score >= s.confirmThreshold && critical == 0:
		return entities.StopUserConfirmation, fmt.Sprintf("compliant with borderline completeness %d%%", score)
	case !compliant:
		return entities.StopContinueExtraction, "compliance-critical fields missing"
	case critical > 0:
		return entities.StopContinueExtraction, fmt.Sprintf("%d critical validation issue(s) must be resolved", critical)
	default:
		return entities.StopContinueExtraction, fmt.Sprintf("completeness %d%% below threshold %d%%", score, s.readyThreshold)
	}
}

func demographicsScore(r *entities.ExtractionRecord) int {
	score := 0
	if r.HasAge() {
		score += agePoints
	}
	if r.HasGender() {
		score += genderPoints
	}
	return score
}

func clinicalScore(r *entities.ExtractionRecord) int {
	score := 0
	if r.HasChiefComplaint() {
		score += chiefComplaintPoints
	}
	if len(r.ClinicalPresentation.Symptoms) > 0 {
		score += symptomsPoints
	}
	return score
}

type contextIndicator struct {
	field   FieldID
	present bool
}

func contextIndicatorFields(r *entities.ExtractionRecord) []contextIndicator {
	c := r.SymptomCharacteristics
	return []contextIndicator{
		{FieldDuration, !entities.IsUnknown(c.Duration)},
		{FieldPainScale, c.PainScale.Known},
		{FieldCharacteristics, len(c.Characteristics) > 0},
		{FieldAggravatingFactors, len(c.AggravatingFactors) > 0},
		{FieldRelievingFactors, len(c.RelievingFactors) > 0},
		{FieldTemporalPattern, !entities.IsUnknown(c.TemporalPattern)},
	}
}

func contextCount(r *entities.ExtractionRecord) int {
	n := 0
	for _, ind := range contextIndicatorFields(r) {
		if ind.present {
			n++
		}
	}
	return n
}
