// Package drift scores recent development activity against the requirements
// of approved plans. Requirements are extracted from plan text with simple
// structural and modal-verb heuristics; scoring is embedding similarity.
package drift

import (
	"regexp"
	"strings"
)

// fallbackParagraphs caps how much of an unstructured plan is treated as
// requirements when no explicit markers are found.
const fallbackParagraphs = 10

var (
	numberedRe = regexp.MustCompile(`^\d+[.)]\s+`)
	checkboxRe = regexp.MustCompile(`^[-*]\s+\[[ xX]\]\s+`)
	modalRe    = regexp.MustCompile(`(?i)\b(must|shall|should|requires?|required|implement|ensure|verify)\b`)
)

// ExtractRequirements pulls requirement statements out of plan content, in
// document order, without deduplication. It recognizes bullet items,
// checkboxes, numbered items, lines led by "objective:", and sentences using
// modal requirement verbs. A plan with none of these yields its leading
// paragraphs instead, so unstructured plans still participate in scoring.
func ExtractRequirements(planContent string) []string {
	var requirements []string

	for _, line := range strings.Split(planContent, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		switch {
		case checkboxRe.MatchString(trimmed):
			requirements = append(requirements, strings.TrimSpace(checkboxRe.ReplaceAllString(trimmed, "")))
		case strings.HasPrefix(trimmed, "- "), strings.HasPrefix(trimmed, "* "), strings.HasPrefix(trimmed, "• "):
			_, rest, _ := strings.Cut(trimmed, " ")
			requirements = append(requirements, strings.TrimSpace(rest))
		case numberedRe.MatchString(trimmed):
			requirements = append(requirements, strings.TrimSpace(numberedRe.ReplaceAllString(trimmed, "")))
		case strings.HasPrefix(strings.ToLower(trimmed), "objective:"):
			requirements = append(requirements, strings.TrimSpace(trimmed[len("objective:"):]))
		case modalRe.MatchString(trimmed):
			requirements = append(requirements, trimmed)
		}
	}

	if len(requirements) > 0 {
		return requirements
	}

	// Fallback: leading paragraphs of an unstructured plan.
	for _, para := range strings.Split(planContent, "\n\n") {
		trimmed := strings.TrimSpace(para)
		if trimmed == "" {
			continue
		}
		requirements = append(requirements, trimmed)
		if len(requirements) >= fallbackParagraphs {
			break
		}
	}
	return requirements
}
