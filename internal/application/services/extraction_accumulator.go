package services

import (
	"strings"

	"github.com/zatekoja/clinicalcopilot/internal/domain/entities"
)

// FieldID identifies one mergeable field of an extraction record
type FieldID string

const (
	FieldAge                       FieldID = "age"
	FieldGender                    FieldID = "gender"
	FieldAgeConfidence             FieldID = "age_confidence"
	FieldGenderConfidence          FieldID = "gender_confidence"
	FieldChiefComplaint            FieldID = "chief_complaint"
	FieldSymptoms                  FieldID = "symptoms"
	FieldLocation                  FieldID = "anatomical_location"
	FieldClinicalConfidence        FieldID = "clinical_confidence"
	FieldDuration                  FieldID = "duration"
	FieldPainScale                 FieldID = "pain_scale"
	FieldCharacteristics           FieldID = "characteristics"
	FieldAggravatingFactors        FieldID = "aggravating_factors"
	FieldRelievingFactors          FieldID = "relieving_factors"
	FieldAssociatedSymptoms        FieldID = "associated_symptoms"
	FieldTemporalPattern           FieldID = "temporal_pattern"
	FieldCharacteristicsConfidence FieldID = "characteristics_confidence"
	FieldContradictions            FieldID = "contradictions"
	FieldInconsistencies           FieldID = "inconsistencies"
	FieldClarificationsNeeded      FieldID = "clarifications_needed"
	FieldAlerts                    FieldID = "alerts"
)

// fieldMerge merges one field of incoming into dst, which starts as a copy
// of the existing record.
type fieldMerge func(dst, incoming *entities.ExtractionRecord)

// fieldMerges is the explicit merge rule for every data field. A field
// missing from this table is not carried across merges.
var fieldMerges = map[FieldID]fieldMerge{
	FieldAge: func(dst, in *entities.ExtractionRecord) {
		dst.Demographics.Age = keepKnownInt(dst.Demographics.Age, in.Demographics.Age)
	},
	FieldGender: func(dst, in *entities.ExtractionRecord) {
		dst.Demographics.Gender = keepKnownText(dst.Demographics.Gender, in.Demographics.Gender)
	},
	FieldAgeConfidence: func(dst, in *entities.ExtractionRecord) {
		dst.Demographics.AgeConfidence = maxConfidence(dst.Demographics.AgeConfidence, in.Demographics.AgeConfidence)
	},
	FieldGenderConfidence: func(dst, in *entities.ExtractionRecord) {
		dst.Demographics.GenderConfidence = maxConfidence(dst.Demographics.GenderConfidence, in.Demographics.GenderConfidence)
	},
	FieldChiefComplaint: func(dst, in *entities.ExtractionRecord) {
		dst.ClinicalPresentation.ChiefComplaint = keepKnownText(dst.ClinicalPresentation.ChiefComplaint, in.ClinicalPresentation.ChiefComplaint)
	},
	FieldSymptoms: func(dst, in *entities.ExtractionRecord) {
		dst.ClinicalPresentation.Symptoms = unionList(dst.ClinicalPresentation.Symptoms, in.ClinicalPresentation.Symptoms)
	},
	FieldLocation: func(dst, in *entities.ExtractionRecord) {
		dst.ClinicalPresentation.Location = keepKnownText(dst.ClinicalPresentation.Location, in.ClinicalPresentation.Location)
	},
	FieldClinicalConfidence: func(dst, in *entities.ExtractionRecord) {
		dst.ClinicalPresentation.Confidence = maxConfidence(dst.ClinicalPresentation.Confidence, in.ClinicalPresentation.Confidence)
	},
	FieldDuration: func(dst, in *entities.ExtractionRecord) {
		dst.SymptomCharacteristics.Duration = keepKnownText(dst.SymptomCharacteristics.Duration, in.SymptomCharacteristics.Duration)
	},
	FieldPainScale: func(dst, in *entities.ExtractionRecord) {
		dst.SymptomCharacteristics.PainScale = keepKnownInt(dst.SymptomCharacteristics.PainScale, in.SymptomCharacteristics.PainScale)
	},
	FieldCharacteristics: func(dst, in *entities.ExtractionRecord) {
		dst.SymptomCharacteristics.Characteristics = unionList(dst.SymptomCharacteristics.Characteristics, in.SymptomCharacteristics.Characteristics)
	},
	FieldAggravatingFactors: func(dst, in *entities.ExtractionRecord) {
		dst.SymptomCharacteristics.AggravatingFactors = unionList(dst.SymptomCharacteristics.AggravatingFactors, in.SymptomCharacteristics.AggravatingFactors)
	},
	FieldRelievingFactors: func(dst, in *entities.ExtractionRecord) {
		dst.SymptomCharacteristics.RelievingFactors = unionList(dst.SymptomCharacteristics.RelievingFactors, in.SymptomCharacteristics.RelievingFactors)
	},
	FieldAssociatedSymptoms: func(dst, in *entities.ExtractionRecord) {
		dst.SymptomCharacteristics.AssociatedSymptoms = unionList(dst.SymptomCharacteristics.AssociatedSymptoms, in.SymptomCharacteristics.AssociatedSymptoms)
	},
	FieldTemporalPattern: func(dst, in *entities.ExtractionRecord) {
		dst.SymptomCharacteristics.TemporalPattern = keepKnownText(dst.SymptomCharacteristics.TemporalPattern, in.SymptomCharacteristics.TemporalPattern)
	},
	FieldCharacteristicsConfidence: func(dst, in *entities.ExtractionRecord) {
		dst.SymptomCharacteristics.Confidence = maxConfidence(dst.SymptomCharacteristics.Confidence, in.SymptomCharacteristics.Confidence)
	},
	FieldContradictions: func(dst, in *entities.ExtractionRecord) {
		dst.MedicalValidation.Contradictions = unionList(dst.MedicalValidation.Contradictions, in.MedicalValidation.Contradictions)
	},
	FieldInconsistencies: func(dst, in *entities.ExtractionRecord) {
		dst.MedicalValidation.Inconsistencies = unionList(dst.MedicalValidation.Inconsistencies, in.MedicalValidation.Inconsistencies)
	},
	FieldClarificationsNeeded: func(dst, in *entities.ExtractionRecord) {
		dst.MedicalValidation.ClarificationsNeeded = unionList(dst.MedicalValidation.ClarificationsNeeded, in.MedicalValidation.ClarificationsNeeded)
	},
	FieldAlerts: func(dst, in *entities.ExtractionRecord) {
		dst.MedicalValidation.Alerts = unionList(dst.MedicalValidation.Alerts, in.MedicalValidation.Alerts)
	},
}

// ExtractionAccumulator merges partial extractions into the running record
// without ever regressing a known value to unknown.
type ExtractionAccumulator struct {
	scorer    *CompletenessScorer
	validator *ValidationService
}

// NewExtractionAccumulator creates an accumulator that recomputes metadata
// with the given scorer and validator
func NewExtractionAccumulator(scorer *CompletenessScorer, validator *ValidationService) *ExtractionAccumulator {
	return &ExtractionAccumulator{scorer: scorer, validator: validator}
}

// Merge folds incoming into existing. Both sides are normalised first
// (trimmed text, unknown spellings dropped, lists de-duplicated), so
// Merge(&r, r) equals Merge(nil, r) even for a raw provider record, and
// merging the same incoming twice changes nothing. The iteration counter and
// timestamp take the later of both sides.
func (a *ExtractionAccumulator) Merge(existing *entities.ExtractionRecord, incoming entities.ExtractionRecord) entities.ExtractionRecord {
	in := normalizeRecord(&incoming)
	base := &in
	if existing != nil {
		normalized := normalizeRecord(existing)
		base = &normalized
	}
	merged := *base.Clone()
	for _, merge := range fieldMerges {
		merge(&merged, &in)
	}

	iteration := base.Metadata.Iteration
	if incoming.Metadata.Iteration > iteration {
		iteration = incoming.Metadata.Iteration
	}
	timestamp := base.Metadata.Timestamp
	if incoming.Metadata.Timestamp.After(timestamp) {
		timestamp = incoming.Metadata.Timestamp
	}
	merged.Metadata = entities.ExtractionMetadata{Iteration: iteration, Timestamp: timestamp}

	a.Recompute(&merged)
	return merged
}

// Recompute derives the metadata block from the record's data. Iteration and
// timestamp are preserved.
func (a *ExtractionAccumulator) Recompute(r *entities.ExtractionRecord) entities.ValidationResult {
	score := a.scorer.Score(r)
	compliant := r.IsCompliant()

	r.Metadata.CompletenessPct = score
	r.Metadata.SectionsComplete = a.scorer.SectionsComplete(r)
	r.Metadata.Compliant = compliant
	r.Metadata.MissingFields = a.scorer.MissingFields(r)

	validation := a.validator.Validate(r)
	r.Metadata.ReadyToEscalate = compliant && score >= a.scorer.ReadyThreshold() && validation.CriticalCount() == 0
	return validation
}

// normalizeRecord folds r into an empty record so every field goes through
// its merge rule once. Metadata is copied as is.
func normalizeRecord(r *entities.ExtractionRecord) entities.ExtractionRecord {
	var out entities.ExtractionRecord
	for _, merge := range fieldMerges {
		merge(&out, r)
	}
	out.Metadata = r.Metadata
	out.Metadata.MissingFields = cloneList(r.Metadata.MissingFields)
	return out
}

func keepKnownText(existing, incoming string) string {
	if entities.IsUnknown(incoming) {
		return existing
	}
	return strings.TrimSpace(incoming)
}

func keepKnownInt(existing, incoming entities.OptionalInt) entities.OptionalInt {
	if !incoming.Known {
		return existing
	}
	return incoming
}

func maxConfidence(existing, incoming float64) float64 {
	if incoming > existing {
		return incoming
	}
	return existing
}

// unionList returns the de-duplicated union preserving first spelling and
// order. Two nil lists stay nil so "no data" differs from "confirmed empty".
func unionList(existing, incoming []string) []string {
	if existing == nil && incoming == nil {
		return nil
	}
	out := make([]string, 0, len(existing)+len(incoming))
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	for _, list := range [][]string{existing, incoming} {
		for _, item := range list {
			item = strings.TrimSpace(item)
			if entities.IsUnknown(item) {
				continue
			}
			key := strings.ToLower(item)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, item)
		}
	}
	return out
}
