package utils

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// NormalizationConfig holds clinical shorthand and typo correction data
type NormalizationConfig struct {
	Abbreviations map[string]string `json:"abbreviations"`
	Typos         map[string]string `json:"typos"`
}

// DefaultNormalizationConfig covers shorthand common in triage notes
func DefaultNormalizationConfig() NormalizationConfig {
	return NormalizationConfig{
		Abbreviations: map[string]string{
			"SOB":      "shortness of breath",
			"DIB":      "shortness of breath",
			"CP":       "chest pain",
			"HA":       "headache",
			"N/V":      "nausea and vomiting",
			"N&V":      "nausea and vomiting",
			"abd pain": "abdominal pain",
			"palps":    "palpitations",
			"c/o":      "complaining of",
			"hx":       "history",
			"hrs":      "hours",
			"mins":     "minutes",
			"wks":      "weeks",
			"wk":       "week",
			"mths":     "months",
		},
		Typos: map[string]string{
			"diarrhoea":    "diarrhea",
			"feaver":       "fever",
			"naseau":       "nausea",
			"nausia":       "nausea",
			"vomitting":    "vomiting",
			"dizzyness":    "dizziness",
			"palpatations": "palpitations",
			"abdomenal":    "abdominal",
		},
	}
}

var sexShorthand = regexp.MustCompile(`\b(\d{1,3})\s*([MmFf])\b`)

type replacement struct {
	pattern *regexp.Regexp
	with    string
	from    string
}

// ClinicalNormalizer rewrites clinician shorthand into the plain phrases
// the extraction heuristics look for
type ClinicalNormalizer struct {
	typos         []replacement
	abbreviations []replacement
}

// NormalizedText is the result of a normalization pass
type NormalizedText struct {
	Original string
	Text     string
	Expanded []string
}

// NewClinicalNormalizer compiles cfg. All-uppercase abbreviations match
// case-sensitively so ordinary words such as "ha" are left alone.
func NewClinicalNormalizer(cfg NormalizationConfig) *ClinicalNormalizer {
	n := &ClinicalNormalizer{}
	for _, typo := range longestFirst(cfg.Typos) {
		n.typos = append(n.typos, replacement{
			pattern: regexp.MustCompile("(?i)" + regexp.QuoteMeta(typo)),
			with:    cfg.Typos[typo],
			from:    typo,
		})
	}
	for _, abbr := range longestFirst(cfg.Abbreviations) {
		flags := "(?i)"
		if isUpper(abbr) {
			flags = ""
		}
		n.abbreviations = append(n.abbreviations, replacement{
			pattern: regexp.MustCompile(flags + `(^|[^\w/&])` + regexp.QuoteMeta(abbr) + `($|[^\w/&])`),
			with:    cfg.Abbreviations[abbr],
			from:    abbr,
		})
	}
	return n
}

// NewClinicalNormalizerFromFile loads a JSON config from path
func NewClinicalNormalizerFromFile(path string) (*ClinicalNormalizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var cfg NormalizationConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return NewClinicalNormalizer(cfg), nil
}

// Normalize corrects typos, expands "42M" style demographics and then
// expands abbreviations
func (n *ClinicalNormalizer) Normalize(text string) NormalizedText {
	out := NormalizedText{Original: text}
	result := text

	for _, r := range n.typos {
		result = r.pattern.ReplaceAllString(result, r.with)
	}

	result = sexShorthand.ReplaceAllStringFunc(result, func(m string) string {
		parts := sexShorthand.FindStringSubmatch(m)
		sex := "male"
		if strings.EqualFold(parts[2], "f") {
			sex = "female"
		}
		out.Expanded = append(out.Expanded, m)
		return parts[1] + " year old " + sex
	})

	for _, r := range n.abbreviations {
		if !r.pattern.MatchString(result) {
			continue
		}
		// the separators are consumed, so adjacent matches need another pass
		for pass := 0; pass < 3 && r.pattern.MatchString(result); pass++ {
			result = r.pattern.ReplaceAllString(result, "${1}"+r.with+"${2}")
		}
		out.Expanded = append(out.Expanded, r.from)
	}

	out.Text = result
	return out
}

func longestFirst(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}

func isUpper(s string) bool {
	hasLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			hasLetter = true
			if !unicode.IsUpper(r) {
				return false
			}
		}
	}
	return hasLetter
}
