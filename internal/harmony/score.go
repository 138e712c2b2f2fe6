// ABOUTME: Pure scoring functions over the keyword tables
// ABOUTME: Classify, ScoreImpact, ScoreLove and the Resonance compatibility rule

package harmony

import "strings"

// Compatibility scores returned by Resonance.
const (
	ResonanceIdentical     = 1.0
	ResonanceComplementary = 0.8
	ResonanceFloor         = 0.6
)

// Classify returns the first category in table order with a keyword present in
// text, compared case-insensitively. Default is returned when nothing matches.
func (t *Tables) Classify(text string) Harmony {
	lower := strings.ToLower(text)
	for _, c := range t.Classification {
		if containsAny(lower, c.Keywords) {
			return c.Harmony
		}
	}
	return Default
}

// ScoreImpact computes a message's field impact in [0,1].
func (t *Tables) ScoreImpact(content, msgType string) float64 {
	lower := strings.ToLower(content)
	score := t.Impact.Base
	for _, c := range t.Impact.Clusters {
		if containsAny(lower, c.Keywords) {
			score += c.Weight
		}
	}
	score += t.Impact.TypeBonus[msgType]
	return Clamp01(score)
}

// ScoreLove computes a message's love quotient in [0,1].
func (t *Tables) ScoreLove(content string) float64 {
	lower := strings.ToLower(content)
	score := t.Love.Baseline
	for _, c := range t.Love.Clusters {
		for _, kw := range c.Keywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				score += c.Weight
			}
		}
	}
	return Clamp01(score)
}

// Resonance is the compatibility between two harmonies: identical, complementary, or the floor.
func (t *Tables) Resonance(a, b Harmony) float64 {
	if a == b {
		return ResonanceIdentical
	}
	if t.complements[a][b] {
		return ResonanceComplementary
	}
	return ResonanceFloor
}

// Complements reports whether a and b are declared complementary.
func (t *Tables) Complements(a, b Harmony) bool {
	return t.complements[a][b]
}

func containsAny(lower string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// Clamp01 limits v to [0,1].
func Clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
