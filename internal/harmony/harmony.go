// ABOUTME: The seven harmony categories assigned to agents, messages and collectives
// ABOUTME: Fixed category order is the tie-break order everywhere a harmony is chosen

package harmony

import "fmt"

// Harmony is one of the seven fixed topic/affinity categories.
type Harmony string

const (
	IntegralWisdom              Harmony = "integral-wisdom-cultivation"
	ResonantCoherence           Harmony = "resonant-coherence"
	UniversalInterconnectedness Harmony = "universal-interconnectedness"
	EvolutionaryProgression     Harmony = "evolutionary-progression"
	PanSentientFlourishing      Harmony = "pan-sentient-flourishing"
	SacredReciprocity           Harmony = "sacred-reciprocity"
	InfinitePlay                Harmony = "infinite-play"

	// None marks the absence of a dominant harmony (an empty field).
	None Harmony = "none"
)

// All lists the categories in their fixed priority order.
var All = []Harmony{
	IntegralWisdom,
	ResonantCoherence,
	UniversalInterconnectedness,
	EvolutionaryProgression,
	PanSentientFlourishing,
	SacredReciprocity,
	InfinitePlay,
}

// Default is assigned when no keyword matches.
const Default = UniversalInterconnectedness

// Valid reports whether h is one of the seven categories.
func (h Harmony) Valid() bool {
	return h.Rank() >= 0
}

// Rank returns the position of h in All, or -1 if h is not a category.
func (h Harmony) Rank() int {
	for i, c := range All {
		if c == h {
			return i
		}
	}
	return -1
}

func (h Harmony) String() string { return string(h) }

// Parse converts a string to a Harmony, rejecting unknown values.
func Parse(s string) (Harmony, error) {
	h := Harmony(s)
	if !h.Valid() {
		return "", fmt.Errorf("unknown harmony %q", s)
	}
	return h, nil
}
