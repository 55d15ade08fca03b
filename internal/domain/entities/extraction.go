package entities

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// UnknownValue is the sentinel providers use for a field they could not fill.
const UnknownValue = "unknown"

var unknownSpellings = map[string]struct{}{
	"":              {},
	"unknown":       {},
	"not specified": {},
	"not provided":  {},
	"n/a":           {},
	"none":          {},
	"null":          {},
}

// IsUnknown reports whether a scalar text value carries no information.
func IsUnknown(value string) bool {
	_, ok := unknownSpellings[strings.ToLower(strings.TrimSpace(value))]
	return ok
}

// OptionalInt is an integer field that may be unknown. Providers send it as
// a number, a numeric string, null or "unknown".
type OptionalInt struct {
	Value int
	Known bool
}

// KnownInt returns a known OptionalInt.
func KnownInt(v int) OptionalInt {
	return OptionalInt{Value: v, Known: true}
}

// MarshalJSON implements json.Marshaler.
func (o OptionalInt) MarshalJSON() ([]byte, error) {
	if !o.Known {
		return json.Marshal(UnknownValue)
	}
	return json.Marshal(o.Value)
}

// UnmarshalJSON implements json.Unmarshaler.
func (o *OptionalInt) UnmarshalJSON(data []byte) error {
	*o = OptionalInt{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*o = KnownInt(int(n))
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if IsUnknown(s) {
		return nil
	}
	// "42 years" and "7/10" still carry a usable leading number
	fields := strings.FieldsFunc(s, func(r rune) bool { return r < '0' || r > '9' })
	if len(fields) == 0 {
		return nil
	}
	v, err := strconv.Atoi(fields[0])
	if err != nil {
		return nil
	}
	*o = KnownInt(v)
	return nil
}

// Demographics is the 40% weighted section of an extraction.
type Demographics struct {
	Age              OptionalInt `json:"age"`
	Gender           string      `json:"gender"`
	AgeConfidence    float64     `json:"age_confidence"`
	GenderConfidence float64     `json:"gender_confidence"`
}

// ClinicalPresentation is the 30% weighted section of an extraction.
type ClinicalPresentation struct {
	ChiefComplaint string   `json:"chief_complaint"`
	Symptoms       []string `json:"symptoms"`
	Location       string   `json:"anatomical_location"`
	Confidence     float64  `json:"confidence"`
}

// SymptomCharacteristics is the 30% weighted context section of an extraction.
type SymptomCharacteristics struct {
	Duration           string      `json:"duration"`
	PainScale          OptionalInt `json:"pain_scale"`
	Characteristics    []string    `json:"characteristics"`
	AggravatingFactors []string    `json:"aggravating_factors"`
	RelievingFactors   []string    `json:"relieving_factors"`
	AssociatedSymptoms []string    `json:"associated_symptoms"`
	TemporalPattern    string      `json:"temporal_pattern"`
	Confidence         float64     `json:"confidence"`
}

// MedicalValidation carries the provider's own consistency notes.
type MedicalValidation struct {
	Contradictions       []string `json:"contradictions"`
	Inconsistencies      []string `json:"inconsistencies"`
	ClarificationsNeeded []string `json:"clarifications_needed"`
	Alerts               []string `json:"alerts"`
}

// SectionCompleteness flags which weighted sections are filled in.
type SectionCompleteness struct {
	Demographics    bool `json:"demographics"`
	Clinical        bool `json:"clinical_presentation"`
	Characteristics bool `json:"symptom_characteristics"`
}

// ExtractionMetadata is derived from the record; it is never merged.
type ExtractionMetadata struct {
	CompletenessPct  int                 `json:"completeness_percentage"`
	SectionsComplete SectionCompleteness `json:"sections_complete"`
	Compliant        bool                `json:"compliant"`
	ReadyToEscalate  bool                `json:"ready_to_escalate"`
	MissingFields    []string            `json:"missing_fields"`
	Iteration        int                 `json:"iteration"`
	Timestamp        time.Time           `json:"timestamp"`
}

// ExtractionRecord is the accumulating structured record for a session.
type ExtractionRecord struct {
	Demographics           Demographics           `json:"demographics"`
	ClinicalPresentation   ClinicalPresentation   `json:"clinical_presentation"`
	SymptomCharacteristics SymptomCharacteristics `json:"symptom_characteristics"`
	MedicalValidation      MedicalValidation      `json:"medical_validation"`
	Metadata               ExtractionMetadata     `json:"extraction_metadata"`
}

// Clone returns a deep copy of the record.
func (r *ExtractionRecord) Clone() *ExtractionRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.ClinicalPresentation.Symptoms = cloneStrings(r.ClinicalPresentation.Symptoms)
	out.SymptomCharacteristics.Characteristics = cloneStrings(r.SymptomCharacteristics.Characteristics)
	out.SymptomCharacteristics.AggravatingFactors = cloneStrings(r.SymptomCharacteristics.AggravatingFactors)
	out.SymptomCharacteristics.RelievingFactors = cloneStrings(r.SymptomCharacteristics.RelievingFactors)
	out.SymptomCharacteristics.AssociatedSymptoms = cloneStrings(r.SymptomCharacteristics.AssociatedSymptoms)
	out.MedicalValidation.Contradictions = cloneStrings(r.MedicalValidation.Contradictions)
	out.MedicalValidation.Inconsistencies = cloneStrings(r.MedicalValidation.Inconsistencies)
	out.MedicalValidation.ClarificationsNeeded = cloneStrings(r.MedicalValidation.ClarificationsNeeded)
	out.MedicalValidation.Alerts = cloneStrings(r.MedicalValidation.Alerts)
	out.Metadata.MissingFields = cloneStrings(r.Metadata.MissingFields)
	return &out
}

// HasAge reports whether the age is known.
func (r *ExtractionRecord) HasAge() bool {
	return r.Demographics.Age.Known
}

// HasGender reports whether the gender is known.
func (r *ExtractionRecord) HasGender() bool {
	return !IsUnknown(r.Demographics.Gender)
}

// HasChiefComplaint reports whether the chief complaint is known.
func (r *ExtractionRecord) HasChiefComplaint() bool {
	return !IsUnknown(r.ClinicalPresentation.ChiefComplaint)
}

// IsCompliant reports whether the regulator-mandated minimum is present.
func (r *ExtractionRecord) IsCompliant() bool {
	return r.HasAge() && r.HasGender() && r.HasChiefComplaint()
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
