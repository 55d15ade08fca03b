package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/zatekoja/clinicalcopilot/internal/domain/entities"
	"github.com/zatekoja/clinicalcopilot/internal/domain/providers"
	"github.com/zatekoja/clinicalcopilot/pkg/utils"
)

// HeuristicProviderName identifies the offline provider in the gateway
const HeuristicProviderName = "heuristic"

var (
	agePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(\d{1,3})[\s-]*(?:years?|yrs?|y)[\s-]*old\b`),
		regexp.MustCompile(`(?i)\b(\d{1,3})\s*(?:yo|y/o|yoa)\b`),
		regexp.MustCompile(`(?i)\baged?\s*:?\s*(\d{1,3})\b`),
	}
	genderPattern   = regexp.MustCompile(`(?i)\b(male|female|man|woman|boy|girl|gentleman|lady)\b`)
	durationPattern = regexp.MustCompile(`(?i)\b(?:for|since|over|x)\s+(?:the\s+(?:past|last)\s+)?((?:\d+|a|an|one|two|three|four|five|six|seven|few|several|couple of)\s+(?:minute|hour|day|week|month|year)s?)\b`)
	painPattern     = regexp.MustCompile(`(?i)\b(\d{1,2})\s*(?:/|out of)\s*10\b`)
	worsePattern    = regexp.MustCompile(`(?i)\bworse\s+(?:with|when|on|after|during)\s+([a-z ]+?)(?:[.,;]|\band\b|$)`)
	betterPattern   = regexp.MustCompile(`(?i)\b(?:better|relieved|improves?|eased)\s+(?:with|by|when|after|on)\s+([a-z ]+?)(?:[.,;]|\band\b|$)`)
)

var shorthand = utils.NewClinicalNormalizer(utils.DefaultNormalizationConfig())

var genderWords = map[string]string{
	"male": "male", "man": "male", "boy": "male", "gentleman": "male",
	"female": "female", "woman": "female", "girl": "female", "lady": "female",
}

// complaintTerms maps recognised complaints to an anatomical location
var complaintTerms = map[string]string{
	"chest pain":          "chest",
	"abdominal pain":      "abdomen",
	"back pain":           "back",
	"headache":            "head",
	"shortness of breath": "chest",
	"sore throat":         "throat",
	"fever":               "",
	"cough":               "chest",
	"nausea":              "abdomen",
	"vomiting":            "abdomen",
	"dizziness":           "head",
	"rash":                "skin",
	"fatigue":             "",
	"palpitations":        "chest",
	"diarrhea":            "abdomen",
}

var characteristicTerms = []string{"sharp", "dull", "burning", "pressure", "crushing", "stabbing", "throbbing", "aching", "radiating", "cramping", "tight"}

var temporalTerms = []string{"constant", "intermittent", "comes and goes", "episodic", "worsening", "progressive", "sudden onset", "gradual onset"}

// redFlags raise triage urgency
var redFlags = map[string]entities.UrgencyLevel{
	"chest pain":          entities.UrgencyHigh,
	"shortness of breath": entities.UrgencyHigh,
	"palpitations":        entities.UrgencyHigh,
	"crushing":            entities.UrgencyCritical,
	"unconscious":         entities.UrgencyCritical,
}

var differentials = map[string][]string{
	"chest pain":          {"acute coronary syndrome", "pulmonary embolism", "gastro-oesophageal reflux", "musculoskeletal chest pain"},
	"shortness of breath": {"asthma exacerbation", "pneumonia", "heart failure", "pulmonary embolism"},
	"abdominal pain":      {"gastroenteritis", "appendicitis", "biliary colic", "peptic ulcer disease"},
	"headache":            {"tension-type headache", "migraine", "sinusitis"},
	"fever":               {"viral infection", "bacterial infection"},
	"cough":               {"upper respiratory tract infection", "bronchitis", "pneumonia"},
}

var recommendedTests = map[string][]string{
	"chest pain":          {"12-lead ECG", "troponin", "chest X-ray"},
	"shortness of breath": {"pulse oximetry", "chest X-ray", "D-dimer"},
	"abdominal pain":      {"full blood count", "lipase", "abdominal ultrasound"},
	"headache":            {"neurological examination", "blood pressure"},
	"fever":               {"full blood count", "C-reactive protein"},
	"cough":               {"chest auscultation", "chest X-ray"},
}

// HeuristicProvider is an offline text provider that answers task envelopes
// with pattern matching. It keeps the copilot usable without API keys and
// is the last resort in the fallback order.
type HeuristicProvider struct{}

// NewHeuristicProvider creates the offline provider
func NewHeuristicProvider() providers.TextProvider {
	return &HeuristicProvider{}
}

// Name implements providers.TextProvider
func (p *HeuristicProvider) Name() string { return HeuristicProviderName }

// IsAvailable is always true
func (p *HeuristicProvider) IsAvailable() bool { return true }

// HealthCheck is always true
func (p *HeuristicProvider) HealthCheck(ctx context.Context) bool { return true }

type envelope struct {
	Task  entities.DecisionKind `json:"task"`
	Input json.RawMessage       `json:"input"`
}

type extractionInput struct {
	FreeText string `json:"free_text"`
}

type planInput struct {
	Record entities.ExtractionRecord `json:"record"`
}

// MakeRequest answers the task named in the envelope
func (p *HeuristicProvider) MakeRequest(ctx context.Context, systemInstruction, userInput string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var env envelope
	if err := json.Unmarshal([]byte(userInput), &env); err != nil {
		return "", fmt.Errorf("heuristic provider needs a task envelope: %w", err)
	}

	var out interface{}
	switch env.Task {
	case entities.KindExtraction:
		var in extractionInput
		if err := json.Unmarshal(env.Input, &in); err != nil {
			return "", fmt.Errorf("invalid extraction input: %w", err)
		}
		out = ExtractFromText(in.FreeText)
	default:
		var in planInput
		if err := json.Unmarshal(env.Input, &in); err != nil {
			return "", fmt.Errorf("invalid %s input: %w", env.Task, err)
		}
		decision, err := planDecision(env.Task, &in.Record)
		if err != nil {
			return "", err
		}
		out = decision
	}

	data, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ExtractFromText builds a partial record from free text. Fields the text
// does not mention are left unknown.
func ExtractFromText(text string) entities.ExtractionRecord {
	var r entities.ExtractionRecord
	text = shorthand.Normalize(text).Text
	lower := strings.ToLower(text)

	for _, pattern := range agePatterns {
		if m := pattern.FindStringSubmatch(text); m != nil {
			if age, err := strconv.Atoi(m[1]); err == nil {
				r.Demographics.Age = entities.KnownInt(age)
				r.Demographics.AgeConfidence = 0.9
				break
			}
		}
	}
	if m := genderPattern.FindStringSubmatch(lower); m != nil {
		r.Demographics.Gender = genderWords[m[1]]
		r.Demographics.GenderConfidence = 0.9
	} else {
		r.Demographics.Gender = entities.UnknownValue
	}

	complaints := findComplaints(lower)
	if len(complaints) > 0 {
		r.ClinicalPresentation.ChiefComplaint = complaints[0]
		r.ClinicalPresentation.Symptoms = complaints
		r.ClinicalPresentation.Location = complaintTerms[complaints[0]]
		r.ClinicalPresentation.Confidence = 0.8
		if len(complaints) > 1 {
			r.SymptomCharacteristics.AssociatedSymptoms = complaints[1:]
		}
	} else {
		r.ClinicalPresentation.ChiefComplaint = entities.UnknownValue
	}
	if r.ClinicalPresentation.Location == "" {
		r.ClinicalPresentation.Location = entities.UnknownValue
	}

	c := &r.SymptomCharacteristics
	c.Duration = entities.UnknownValue
	c.TemporalPattern = entities.UnknownValue
	if m := durationPattern.FindStringSubmatch(text); m != nil {
		c.Duration = strings.ToLower(m[1])
	}
	if m := painPattern.FindStringSubmatch(text); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil {
			c.PainScale = entities.KnownInt(v)
		}
	}
	c.Characteristics = containedTerms(lower, characteristicTerms)
	c.AggravatingFactors = submatches(worsePattern, lower)
	c.RelievingFactors = submatches(betterPattern, lower)
	if t := containedTerms(lower, temporalTerms); len(t) > 0 {
		c.TemporalPattern = t[0]
	}
	if c.Duration != entities.UnknownValue || c.PainScale.Known || len(c.Characteristics) > 0 {
		c.Confidence = 0.75
	}

	return r
}

// findComplaints returns recognised complaints in order of appearance
func findComplaints(lower string) []string {
	type hit struct {
		term string
		pos  int
	}
	var hits []hit
	for term := range complaintTerms {
		if pos := strings.Index(lower, term); pos >= 0 {
			hits = append(hits, hit{term, pos})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].pos == hits[j].pos {
			return hits[i].term < hits[j].term
		}
		return hits[i].pos < hits[j].pos
	})
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.term)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func containedTerms(lower string, terms []string) []string {
	var out []string
	for _, t := range terms {
		if strings.Contains(lower, t) {
			out = append(out, t)
		}
	}
	return out
}

func submatches(pattern *regexp.Regexp, lower string) []string {
	var out []string
	for _, m := range pattern.FindAllStringSubmatch(lower, -1) {
		if v := strings.TrimSpace(m[1]); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func planDecision(kind entities.DecisionKind, r *entities.ExtractionRecord) (interface{}, error) {
	complaint := r.ClinicalPresentation.ChiefComplaint
	if entities.IsUnknown(complaint) {
		complaint = "undifferentiated presentation"
	}

	switch kind {
	case entities.KindDiagnosis:
		dx := differentials[complaint]
		if dx == nil {
			dx = []string{"undifferentiated " + complaint}
		}
		tests := recommendedTests[complaint]
		if tests == nil {
			tests = []string{"clinical examination"}
		}
		return entities.DiagnosisDecision{
			Differentials:    dx,
			RecommendedTests: tests,
			Reasoning:        fmt.Sprintf("pattern-based differential for %s", complaint),
		}, nil

	case entities.KindTriage:
		level := triageLevel(r)
		return entities.TriageDecision{
			Level:     level,
			Protocol:  fmt.Sprintf("%s pathway", complaint),
			Actions:   triageActions(level),
			Reasoning: fmt.Sprintf("%s triaged %s from presenting features", complaint, level),
		}, nil

	case entities.KindTreatment:
		return entities.TreatmentDecision{
			Plan:     fmt.Sprintf("Investigate and manage %s according to local protocol; reassess after results.", complaint),
			FollowUp: "Review within 24 hours or sooner if symptoms worsen.",
		}, nil

	case entities.KindSOAP:
		return entities.SOAPDecision{
			Subjective: subjectiveSummary(r),
			Objective:  "Pending examination",
			Analysis:   fmt.Sprintf("Presentation consistent with %s; differential to be refined.", complaint),
			Plan:       "Plan pending",
		}, nil
	}
	return nil, fmt.Errorf("heuristic provider does not handle task %q", kind)
}

func triageLevel(r *entities.ExtractionRecord) entities.UrgencyLevel {
	level := entities.UrgencyLow
	rank := map[entities.UrgencyLevel]int{entities.UrgencyLow: 0, entities.UrgencyModerate: 1, entities.UrgencyHigh: 2, entities.UrgencyCritical: 3}
	raise := func(l entities.UrgencyLevel) {
		if rank[l] > rank[level] {
			level = l
		}
	}

	terms := append([]string{r.ClinicalPresentation.ChiefComplaint}, r.ClinicalPresentation.Symptoms...)
	terms = append(terms, r.SymptomCharacteristics.Characteristics...)
	for _, t := range terms {
		if l, ok := redFlags[strings.ToLower(t)]; ok {
			raise(l)
		}
	}
	if p := r.SymptomCharacteristics.PainScale; p.Known && p.Value >= 7 {
		raise(entities.UrgencyHigh)
	} else if r.HasChiefComplaint() {
		raise(entities.UrgencyModerate)
	}
	return level
}

func triageActions(level entities.UrgencyLevel) []string {
	switch level {
	case entities.UrgencyCritical:
		return []string{"activate emergency response", "continuous monitoring"}
	case entities.UrgencyHigh:
		return []string{"see clinician within 15 minutes", "obtain vital signs"}
	case entities.UrgencyModerate:
		return []string{"see clinician within 1 hour"}
	default:
		return []string{"routine review"}
	}
}

func subjectiveSummary(r *entities.ExtractionRecord) string {
	var parts []string
	if r.HasAge() {
		parts = append(parts, fmt.Sprintf("%d-year-old", r.Demographics.Age.Value))
	}
	if r.HasGender() {
		parts = append(parts, r.Demographics.Gender)
	}
	if r.HasChiefComplaint() {
		parts = append(parts, "presenting with "+r.ClinicalPresentation.ChiefComplaint)
	}
	if d := r.SymptomCharacteristics.Duration; !entities.IsUnknown(d) {
		parts = append(parts, "for "+d)
	}
	if len(parts) == 0 {
		return "pending"
	}
	return strings.Join(parts, " ") + "."
}
