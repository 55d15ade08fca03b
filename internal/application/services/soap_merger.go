package services

import (
	"strings"

	"github.com/zatekoja/clinicalcopilot/internal/domain/entities"
)

const (
	// MaxSOAPSectionLength bounds the initial text of a section
	MaxSOAPSectionLength = 5000
	truncationMarker     = "... [truncated]"
)

// SOAPSection names one of the four note sections
type SOAPSection string

const (
	SectionSubjective SOAPSection = "subjective"
	SectionObjective  SOAPSection = "objective"
	SectionAnalysis   SOAPSection = "analysis"
	SectionPlan       SOAPSection = "plan"
)

// SectionStrategy decides how new text is folded into one section
type SectionStrategy interface {
	CanUpdate(newText, current string) bool
	Update(newText, current string) string
}

var basePlaceholders = []string{
	"pending",
	"not yet available",
	"to be determined",
	"tbd",
	"n/a",
	"unknown",
}

var findingsPlaceholders = append(append([]string(nil), basePlaceholders...),
	"pending examination",
	"awaiting results",
	"awaiting examination",
	"no findings yet",
	"assessment pending",
	"plan pending",
	"to be completed",
	"requires further evaluation",
)

var sectionMarkers = map[SOAPSection]string{
	SectionSubjective: "--- Subjective update ---",
	SectionObjective:  "--- Objective update ---",
	SectionAnalysis:   "--- Analysis update ---",
	SectionPlan:       "--- Plan update ---",
}

type sectionStrategy struct {
	marker       string
	placeholders []string
}

func newSectionStrategy(section SOAPSection) *sectionStrategy {
	s := &sectionStrategy{marker: sectionMarkers[section], placeholders: findingsPlaceholders}
	if section == SectionSubjective {
		s.placeholders = basePlaceholders
	}
	return s
}

func (s *sectionStrategy) isPlaceholder(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	t = strings.TrimRight(t, ".:!")
	if t == "" {
		return true
	}
	for _, p := range s.placeholders {
		if t == p || strings.HasPrefix(t, p+":") {
			return true
		}
	}
	return false
}

// CanUpdate reports whether Update would change current
func (s *sectionStrategy) CanUpdate(newText, current string) bool {
	newText = strings.TrimSpace(newText)
	if newText == "" {
		return false
	}
	if strings.TrimSpace(current) == "" {
		return true
	}
	if strings.Contains(current, newText) || strings.Contains(current, truncateSection(newText)) {
		return false
	}
	// a placeholder never overwrites or extends real content
	if s.isPlaceholder(newText) && !s.isPlaceholder(current) {
		return false
	}
	return true
}

// Update folds newText into current
func (s *sectionStrategy) Update(newText, current string) string {
	if !s.CanUpdate(newText, current) {
		return current
	}
	newText = strings.TrimSpace(newText)
	if s.isPlaceholder(current) {
		return truncateSection(newText)
	}
	return current + "\n\n" + s.marker + "\n" + newText
}

// truncateSection keeps the first MaxSOAPSectionLength characters (runes)
func truncateSection(text string) string {
	count := 0
	for i := range text {
		if count == MaxSOAPSectionLength {
			return text[:i] + truncationMarker
		}
		count++
	}
	return text
}

// SOAPMerger integrates generated notes into a session's SOAP state
type SOAPMerger struct {
	strategies map[SOAPSection]SectionStrategy
}

// NewSOAPMerger creates a merger with the default strategy per section
func NewSOAPMerger() *SOAPMerger {
	m := &SOAPMerger{strategies: make(map[SOAPSection]SectionStrategy, 4)}
	for _, section := range []SOAPSection{SectionSubjective, SectionObjective, SectionAnalysis, SectionPlan} {
		m.strategies[section] = newSectionStrategy(section)
	}
	return m
}

// Strategy returns the strategy used for section
func (m *SOAPMerger) Strategy(section SOAPSection) SectionStrategy {
	return m.strategies[section]
}

// MergeNote folds note into state and returns the updated state along with
// the sections that changed
func (m *SOAPMerger) MergeNote(state entities.SOAPState, note entities.SOAPDecision) (entities.SOAPState, []SOAPSection) {
	var changed []SOAPSection
	apply := func(section SOAPSection, current *string, newText string) {
		strategy := m.strategies[section]
		if !strategy.CanUpdate(newText, *current) {
			return
		}
		*current = strategy.Update(newText, *current)
		changed = append(changed, section)
	}
	apply(SectionSubjective, &state.Subjective, note.Subjective)
	apply(SectionObjective, &state.Objective, note.Objective)
	apply(SectionAnalysis, &state.Analysis, note.Analysis)
	apply(SectionPlan, &state.Plan, note.Plan)
	return state, changed
}
