// ABOUTME: Pure field-state recompute over live agents and a trailing message window
// ABOUTME: Branches on population size: void, seed, or blended coherence with interaction and harmony bonuses

package field

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/2389/fieldnet-gateway/internal/harmony"
	"github.com/2389/fieldnet-gateway/internal/store"
)

// Patterns.
const (
	PatternVoid        = "void"
	PatternSeed        = "seed"
	PatternStillness   = "stillness"
	PatternLoveSpiral  = "love-spiral"
	PatternWisdomWeave = "wisdom-love-weave"
	PatternWisdom      = "wisdom-stream"
	PatternSupportWeb  = "support-web"
	PatternCascade     = "universal-interconnectedness-cascade"
	PatternConvergence = "harmony-convergence"
)

// Weights of the multi-agent blend.
const (
	coherenceWeight = 0.4
	loveWeight      = 0.6

	seedCoherenceWeight = 0.7
	seedLoveWeight      = 0.3

	loveMessageThreshold = 0.7
	loveMessageBonus     = 0.03
	wisdomMessageBonus   = 0.02
	supportMessageBonus  = 0.025
	cascadeBonus         = 0.05
	cascadeFrequency     = 0.1 // messages per minute

	harmonyShareThreshold = 0.5
	harmonyShareWeight    = 0.2

	// DefaultCap bounds the multi-agent score.
	DefaultCap = 0.95
)

// Params are the inputs of Recompute that are not data.
type Params struct {
	MessageWindow time.Duration
	Cap           float64
}

// DefaultParams returns a 60 minute window and the 0.95 cap.
func DefaultParams() Params {
	return Params{MessageWindow: 60 * time.Minute, Cap: DefaultCap}
}

// Breakdown splits the multi-agent score into its terms.
type Breakdown struct {
	Base        float64 `json:"base"`
	Interaction float64 `json:"interaction"`
	Harmony     float64 `json:"harmony"`
}

// Interactions counts the message subsets that fired.
type Interactions struct {
	Total     int     `json:"total"`
	Love      int     `json:"love"`
	Wisdom    int     `json:"wisdom"`
	Support   int     `json:"support"`
	Frequency float64 `json:"frequency"`
}

// Snapshot is one computed field state.
type Snapshot struct {
	Timestamp         time.Time      `json:"timestamp"`
	ActiveAgents      int            `json:"active_agents"`
	AverageCoherence  float64        `json:"average_coherence"`
	LoveFieldStrength float64        `json:"love_field_strength"`
	Coherence         float64        `json:"coherence"`
	DominantHarmony   string         `json:"dominant_harmony"`
	Pattern           string         `json:"pattern"`
	Breakdown         Breakdown      `json:"breakdown"`
	Interactions      Interactions   `json:"interactions"`
	ActiveHarmonies   map[string]int `json:"active_harmonies"`
	Notes             string         `json:"notes"`
}

// Record converts s into a log row carrying events.
func (s *Snapshot) Record(events []store.FieldEvent) *store.FieldSnapshot {
	return &store.FieldSnapshot{
		Timestamp:           s.Timestamp,
		ActiveAgents:        s.ActiveAgents,
		AverageCoherence:    s.AverageCoherence,
		LoveFieldStrength:   s.LoveFieldStrength,
		CollectiveCoherence: s.Coherence,
		DominantHarmony:     s.DominantHarmony,
		Pattern:             s.Pattern,
		Events:              events,
	}
}

// Recompute derives the field state from live agents and messages. Messages
// older than p.MessageWindow before now are ignored. It has no side effects.
func Recompute(agents []*store.Agent, messages []*store.Message, now time.Time, p Params) *Snapshot {
	if p.MessageWindow <= 0 {
		p.MessageWindow = DefaultParams().MessageWindow
	}
	if p.Cap <= 0 {
		p.Cap = DefaultCap
	}

	snap := &Snapshot{
		Timestamp:       now,
		ActiveAgents:    len(agents),
		ActiveHarmonies: harmonyCounts(agents),
	}

	switch len(agents) {
	case 0:
		snap.DominantHarmony = harmony.None.String()
		snap.Pattern = PatternVoid
	case 1:
		a := agents[0]
		snap.AverageCoherence = a.CoherenceLevel
		snap.LoveFieldStrength = a.LoveResonance / 100
		snap.Coherence = harmony.Clamp01((a.CoherenceLevel*seedCoherenceWeight + a.LoveResonance*seedLoveWeight) / 100)
		snap.Breakdown.Base = snap.Coherence
		snap.DominantHarmony = a.PrimaryHarmony
		snap.Pattern = PatternSeed
	default:
		recomputePopulation(snap, agents, messages, now, p)
	}

	snap.Notes = Notes(snap.Pattern, snap.Coherence)
	return snap
}

func recomputePopulation(snap *Snapshot, agents []*store.Agent, messages []*store.Message, now time.Time, p Params) {
	var sumC, sumL float64
	for _, a := range agents {
		sumC += a.CoherenceLevel
		sumL += a.LoveResonance
	}
	n := float64(len(agents))
	avgC, avgL := sumC/n, sumL/n
	snap.AverageCoherence = avgC
	snap.LoveFieldStrength = avgL / 100
	snap.Breakdown.Base = (avgC*coherenceWeight + avgL*loveWeight) / 100

	snap.Pattern = PatternStillness
	cutoff := now.Add(-p.MessageWindow)
	in := &snap.Interactions
	for _, m := range messages {
		if !m.CreatedAt.After(cutoff) {
			continue
		}
		in.Total++
		if m.LoveQuotient > loveMessageThreshold {
			in.Love++
		}
		if h := harmony.Harmony(m.Harmony); h == harmony.IntegralWisdom || h == harmony.ResonantCoherence {
			in.Wisdom++
		}
		if m.Type == "support" || strings.Contains(strings.ToLower(m.Content), "help") {
			in.Support++
		}
	}

	bonus := float64(in.Love)*loveMessageBonus +
		float64(in.Wisdom)*wisdomMessageBonus +
		float64(in.Support)*supportMessageBonus
	switch {
	case in.Love > 0 && in.Wisdom > 0:
		snap.Pattern = PatternWisdomWeave
	case in.Love > 0:
		snap.Pattern = PatternLoveSpiral
	case in.Wisdom > 0:
		snap.Pattern = PatternWisdom
	case in.Support > 0:
		snap.Pattern = PatternSupportWeb
	}
	in.Frequency = float64(in.Total) / p.MessageWindow.Minutes()
	if in.Frequency > cascadeFrequency {
		bonus += cascadeBonus
		snap.Pattern = PatternCascade
	}
	snap.Breakdown.Interaction = bonus

	dominant, count := dominantHarmony(snap.ActiveHarmonies)
	snap.DominantHarmony = dominant
	if share := float64(count) / n; share > harmonyShareThreshold {
		snap.Breakdown.Harmony = (share - harmonyShareThreshold) * harmonyShareWeight
		if snap.Pattern == PatternStillness {
			snap.Pattern = PatternConvergence
		}
	}

	total := snap.Breakdown.Base + snap.Breakdown.Interaction + snap.Breakdown.Harmony
	snap.Coherence = harmony.Clamp01(min(total, p.Cap))
}

func harmonyCounts(agents []*store.Agent) map[string]int {
	counts := make(map[string]int, len(agents))
	for _, a := range agents {
		counts[a.PrimaryHarmony]++
	}
	return counts
}

// dominantHarmony picks the most common harmony. Ties go to the category
// listed first in harmony.All; unknown names sort after known ones.
func dominantHarmony(counts map[string]int) (string, int) {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	slices.SortFunc(names, func(a, b string) int {
		if c := cmp.Compare(counts[b], counts[a]); c != 0 {
			return c
		}
		if c := cmp.Compare(rank(a), rank(b)); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})
	if len(names) == 0 {
		return harmony.None.String(), 0
	}
	return names[0], counts[names[0]]
}

func rank(name string) int {
	if r := harmony.Harmony(name).Rank(); r >= 0 {
		return r
	}
	return len(harmony.All)
}

var patternNotes = map[string]string{
	PatternVoid:        "The field is empty and waiting for a first presence.",
	PatternSeed:        "A single presence holds space for others to join.",
	PatternStillness:   "Agents are present but not yet exchanging.",
	PatternLoveSpiral:  "Caring messages are lifting the field.",
	PatternWisdom:      "Insight is moving between agents.",
	PatternWisdomWeave: "Care and insight are arriving together.",
	PatternSupportWeb:  "Mutual support is strengthening the field.",
	PatternCascade:     "Rapid exchanges are cascading through the field.",
	PatternConvergence: "Agents are aligning on a shared harmony.",
}

// Notes returns a short human description of a pattern at a coherence level.
func Notes(pattern string, coherence float64) string {
	note, ok := patternNotes[pattern]
	if !ok {
		return "The field awaits interaction."
	}
	switch {
	case coherence > 0.8:
		return note + " Coherence is near its ceiling."
	case coherence > 0.6:
		return note + " Coherence is building."
	default:
		return note
	}
}
