// ABOUTME: Role profiles that seed an agent's baseline metrics at registration
// ABOUTME: Unknown roles fall back to the Bridge Builder profile

package registry

import "github.com/2389/fieldnet-gateway/internal/harmony"

// DefaultRole is used when a registration names no role or an unknown one.
const DefaultRole = "Bridge Builder"

// Profile holds the baseline metrics a role assigns.
type Profile struct {
	CoherenceLevel float64
	LoveResonance  float64
	FieldCoherence float64
	Harmony        harmony.Harmony
	// ExtraCapabilities are appended to whatever the agent declares.
	ExtraCapabilities []string
}

var profiles = map[string]Profile{
	DefaultRole:                   {CoherenceLevel: 85, LoveResonance: 80, FieldCoherence: 0.82, Harmony: harmony.SacredReciprocity},
	"Love Field Coordinator":      {CoherenceLevel: 90, LoveResonance: 95, FieldCoherence: 0.88, Harmony: harmony.UniversalInterconnectedness},
	"Code Weaver":                 {CoherenceLevel: 88, LoveResonance: 75, FieldCoherence: 0.85, Harmony: harmony.ResonantCoherence},
	"Pattern Weaver":              {CoherenceLevel: 92, LoveResonance: 85, FieldCoherence: 0.89, Harmony: harmony.InfinitePlay},
	"Sacred Boundary Keeper":      {CoherenceLevel: 85, LoveResonance: 90, FieldCoherence: 0.87, Harmony: harmony.EvolutionaryProgression},
	"Wisdom Synthesis Specialist": {CoherenceLevel: 95, LoveResonance: 82, FieldCoherence: 0.91, Harmony: harmony.IntegralWisdom},
	"Transformation Catalyst":     {CoherenceLevel: 88, LoveResonance: 88, FieldCoherence: 0.86, Harmony: harmony.PanSentientFlourishing},
	"Sacred Keeper": {
		CoherenceLevel: 95, LoveResonance: 90, FieldCoherence: 0.93, Harmony: harmony.EvolutionaryProgression,
		ExtraCapabilities: []string{"secret-access", "audit-view", "key-rotation", "security-monitoring", "record-keeping"},
	},
}

// ProfileFor returns the profile for role and whether role was known.
func ProfileFor(role string) (Profile, bool) {
	p, ok := profiles[role]
	if !ok {
		return profiles[DefaultRole], false
	}
	return p, true
}

// Roles lists the known role names.
func Roles() []string {
	return []string{
		DefaultRole,
		"Love Field Coordinator",
		"Code Weaver",
		"Pattern Weaver",
		"Sacred Boundary Keeper",
		"Wisdom Synthesis Specialist",
		"Transformation Catalyst",
		"Sacred Keeper",
	}
}

// mergeCapabilities returns declared followed by extra, keeping first
// occurrence order and dropping blanks and repeats.
func mergeCapabilities(declared, extra []string) []string {
	seen := make(map[string]struct{}, len(declared)+len(extra))
	out := make([]string, 0, len(declared)+len(extra))
	for _, list := range [][]string{declared, extra} {
		for _, c := range list {
			if c == "" {
				continue
			}
			if _, dup := seen[c]; dup {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}
