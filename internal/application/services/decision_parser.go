package services

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/zatekoja/clinicalcopilot/internal/domain/entities"
	apperrors "github.com/zatekoja/clinicalcopilot/pkg/errors"
)

var fencedBlock = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(\\{.*?\\})\\s*```")

// requiredKeys lists the keys of which at least one must be present for a
// reply to count as a well-formed payload of that kind.
var requiredKeys = map[entities.DecisionKind][]string{
	entities.KindExtraction: {"demographics", "clinical_presentation", "symptom_characteristics"},
	entities.KindDiagnosis:  {"differentials"},
	entities.KindTriage:     {"urgency_level"},
	entities.KindTreatment:  {"treatment_plan"},
	entities.KindSOAP:       {"subjective", "objective", "analysis", "plan"},
}

// ParseDecision interprets a provider reply as a payload of kind. The whole
// reply is tried first, then a fenced code block, then the outermost braces.
// When nothing decodes, the raw text is kept in a *errors.ParseError.
func ParseDecision(kind entities.DecisionKind, text string) (entities.Decision, error) {
	var lastErr error
	for _, fragment := range jsonFragments(text) {
		d, err := decodeDecision(kind, []byte(fragment))
		if err == nil {
			return d, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no JSON object in reply")
	}
	return nil, &apperrors.ParseError{Raw: text, Err: lastErr}
}

func jsonFragments(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	fragments := []string{text}
	if m := fencedBlock.FindStringSubmatch(text); m != nil {
		fragments = append(fragments, m[1])
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		fragments = append(fragments, text[start:end+1])
	}
	return fragments
}

func decodeDecision(kind entities.DecisionKind, data []byte) (entities.Decision, error) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, err
	}
	if !hasAnyKey(keys, requiredKeys[kind]) {
		return nil, fmt.Errorf("%s reply is missing %s", kind, strings.Join(requiredKeys[kind], "/"))
	}

	switch kind {
	case entities.KindExtraction:
		var d entities.ExtractionDecision
		if err := json.Unmarshal(data, &d.Record); err != nil {
			return nil, err
		}
		return &d, nil
	case entities.KindDiagnosis:
		var d entities.DiagnosisDecision
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, err
		}
		return &d, nil
	case entities.KindTriage:
		var d entities.TriageDecision
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, err
		}
		d.Level = entities.UrgencyLevel(strings.ToUpper(strings.TrimSpace(string(d.Level))))
		if !d.Level.Valid() {
			return nil, fmt.Errorf("unknown urgency level %q", d.Level)
		}
		return &d, nil
	case entities.KindTreatment:
		var d entities.TreatmentDecision
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, err
		}
		return &d, nil
	case entities.KindSOAP:
		var d entities.SOAPDecision
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, err
		}
		return &d, nil
	}
	return nil, fmt.Errorf("unsupported decision kind %q", kind)
}

func hasAnyKey(keys map[string]json.RawMessage, want []string) bool {
	for _, k := range want {
		if _, ok := keys[k]; ok {
			return true
		}
	}
	return false
}

// DecisionConfidence scores a payload 0-100 from how much of it is filled in
func DecisionConfidence(d entities.Decision) int {
	score := 0
	switch p := d.(type) {
	case *entities.ExtractionDecision:
		r := p.Record
		present := []bool{
			r.HasAge(), r.HasGender(), r.HasChiefComplaint(),
			len(r.ClinicalPresentation.Symptoms) > 0,
			!entities.IsUnknown(r.SymptomCharacteristics.Duration),
		}
		for _, ok := range present {
			if ok {
				score += 100 / len(present)
			}
		}
	case *entities.DiagnosisDecision:
		n := len(p.Differentials)
		if n > 3 {
			n = 3
		}
		score = 40 + 10*n
		if len(p.RecommendedTests) > 0 {
			score += 15
		}
		if strings.TrimSpace(p.Reasoning) != "" {
			score += 15
		}
	case *entities.TriageDecision:
		score = 50
		if strings.TrimSpace(p.Protocol) != "" {
			score += 20
		}
		if len(p.Actions) > 0 {
			score += 15
		}
		if strings.TrimSpace(p.Reasoning) != "" {
			score += 15
		}
	case *entities.TreatmentDecision:
		if strings.TrimSpace(p.Plan) != "" {
			score += 50
		}
		if len(p.Medications) > 0 {
			score += 25
		}
		if strings.TrimSpace(p.FollowUp) != "" {
			score += 25
		}
	case *entities.SOAPDecision:
		for _, section := range []string{p.Subjective, p.Objective, p.Analysis, p.Plan} {
			if strings.TrimSpace(section) != "" {
				score += 25
			}
		}
	}
	if score > 100 {
		return 100
	}
	return score
}

const humanReview = "requires human review"

// FallbackDecision returns the deterministic payload used when every
// provider failed
func FallbackDecision(kind entities.DecisionKind) entities.Decision {
	switch kind {
	case entities.KindExtraction:
		return &entities.ExtractionDecision{Record: entities.ExtractionRecord{
			MedicalValidation: entities.MedicalValidation{Alerts: []string{"automated extraction unavailable, " + humanReview}},
		}}
	case entities.KindDiagnosis:
		return &entities.DiagnosisDecision{
			Differentials: []string{humanReview},
			Reasoning:     "no provider produced a differential diagnosis",
		}
	case entities.KindTriage:
		return &entities.TriageDecision{
			Level:     entities.UrgencyHigh,
			Protocol:  "manual triage",
			Actions:   []string{humanReview},
			Reasoning: "urgency could not be assessed automatically and defaults to HIGH",
		}
	case entities.KindTreatment:
		return &entities.TreatmentDecision{Plan: humanReview}
	case entities.KindSOAP:
		return &entities.SOAPDecision{Analysis: "Assessment pending: " + humanReview, Plan: "Plan pending: " + humanReview}
	}
	return &entities.ParseFailure{Requested: kind, Raw: humanReview}
}
