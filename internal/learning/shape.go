package learning

import (
	"fmt"
	"regexp"
	"strings"
)

// conciseAnswerChars is the length under which an answer counts as concise
// for style-preference purposes.
const conciseAnswerChars = 400

var stepPattern = regexp.MustCompile(`(?m)^\s*(\d+[.)]|[-*])\s+`)

// hasCodeBlock reports whether an answer contains a fenced code example.
func hasCodeBlock(answer string) bool {
	return strings.Contains(answer, "```")
}

// hasStepStructure reports whether an answer is organized as numbered or
// bulleted steps.
func hasStepStructure(answer string) bool {
	return len(stepPattern.FindAllString(answer, 3)) >= 2
}

// normalizeQuestion collapses a question to its opening shape: the first
// few lowercase words, which capture the question's intent ("how do i",
// "what is the", "why does my").
func normalizeQuestion(question string) string {
	words := strings.Fields(strings.ToLower(question))
	if len(words) > 4 {
		words = words[:4]
	}
	return strings.Join(words, " ")
}

// describeShape renders a record's question and answer shape as a short
// pattern description. Records sharing a shape reinforce the same pattern
// row.
func describeShape(rec *EffectivenessRecord) string {
	var traits []string
	if hasCodeBlock(rec.Answer) {
		traits = append(traits, "code example")
	}
	if hasStepStructure(rec.Answer) {
		traits = append(traits, "step-by-step structure")
	}
	if len(rec.Answer) < conciseAnswerChars {
		traits = append(traits, "concise")
	}
	if len(traits) == 0 {
		traits = append(traits, "prose only")
	}
	return fmt.Sprintf("questions like %q answered with %s",
		normalizeQuestion(rec.Question), strings.Join(traits, ", "))
}

// suggestImprovement proposes a change for a failure-shaped answer based on
// what the answer lacked.
func suggestImprovement(rec *EffectivenessRecord) string {
	switch {
	case !hasCodeBlock(rec.Answer):
		return "include a concrete code example"
	case !hasStepStructure(rec.Answer):
		return "break the answer into explicit steps"
	case len(rec.Answer) >= conciseAnswerChars:
		return "shorten the answer to the essential fix"
	default:
		return "verify the answer against current documentation"
	}
}

// stylePreferences derives category-level preferences from aggregate
// statistics over completed records and corrections.
func (t *Tracker) stylePreferences(category string) ([]string, error) {
	recs, err := t.ledger.completedByCategory(category)
	if err != nil {
		return nil, err
	}
	if len(recs) < 3 {
		return nil, nil
	}

	var codeSum, codeN, plainSum, plainN, conciseSum, conciseN, longSum, longN float64
	for _, rec := range recs {
		if hasCodeBlock(rec.Answer) {
			codeSum += rec.Score
			codeN++
		} else {
			plainSum += rec.Score
			plainN++
		}
		if len(rec.Answer) < conciseAnswerChars {
			conciseSum += rec.Score
			conciseN++
		} else {
			longSum += rec.Score
			longN++
		}
	}

	var prefs []string
	if codeN > 0 && plainN > 0 {
		if codeSum/codeN > plainSum/plainN+0.1 {
			prefs = append(prefs, "needs more examples")
		} else if plainSum/plainN > codeSum/codeN+0.1 {
			prefs = append(prefs, "prefers plain explanations")
		}
	}
	if conciseN > 0 && longN > 0 && conciseSum/conciseN > longSum/longN+0.1 {
		prefs = append(prefs, "prefers concise answers")
	}

	corrections, err := t.ledger.correctionCount(category)
	if err != nil {
		return nil, err
	}
	if corrections >= 2 {
		prefs = append(prefs, "frequently corrected by humans; double-check facts")
	}
	return prefs, nil
}
