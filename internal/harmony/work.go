// ABOUTME: Work item analysis over the keyword tables
// ABOUTME: Primary harmony by keyword count, growth potential and collective benefit

package harmony

import (
	"errors"
	"fmt"
	"strings"
)

// BenefitTier names who a piece of work serves when any keyword is present.
type BenefitTier struct {
	Benefit  string   `yaml:"benefit"`
	Keywords []string `yaml:"keywords"`
}

// WorkTable scores work items. Unlike message classification every keyword
// hit counts, and the category with the most hits wins; ties go to table order.
// Benefit tiers are checked in order and a later match replaces an earlier one.
type WorkTable struct {
	Classification []Category    `yaml:"classification"`
	GrowthBase     float64       `yaml:"growth_base"`
	Growth         []Cluster     `yaml:"growth"`
	DefaultBenefit string        `yaml:"default_benefit"`
	Benefits       []BenefitTier `yaml:"benefits"`
}

// WorkAnalysis is the result of AnalyzeWork.
type WorkAnalysis struct {
	Primary           Harmony
	GrowthPotential   float64
	CollectiveBenefit string
}

func defaultWorkTable() WorkTable {
	return WorkTable{
		Classification: []Category{
			{IntegralWisdom, []string{"clear", "honest", "open", "truth", "authentic", "documentation"}},
			{ResonantCoherence, []string{"integrate", "unify", "combine", "organize", "structure", "architecture"}},
			{UniversalInterconnectedness, []string{"connect", "relationship", "harmony", "attune", "empathy", "love"}},
			{EvolutionaryProgression, []string{"empower", "choice", "decide", "control", "ownership", "responsibility"}},
			{PanSentientFlourishing, []string{"energy", "dynamic", "flow", "alive", "vibrant", "performance"}},
			{SacredReciprocity, []string{"collaborate", "share", "together", "partnership", "balance", "equality"}},
			{InfinitePlay, []string{"create", "new", "innovative", "explore", "experiment", "breakthrough"}},
		},
		GrowthBase: 0.3,
		Growth: []Cluster{
			{Name: "consciousness", Keywords: []string{"consciousness"}, Weight: 0.3},
			{Name: "wisdom", Keywords: []string{"wisdom"}, Weight: 0.2},
			{Name: "collaboration", Keywords: []string{"collaboration"}, Weight: 0.2},
			{Name: "sacred", Keywords: []string{"sacred"}, Weight: 0.2},
		},
		DefaultBenefit: "Individual",
		Benefits: []BenefitTier{
			{Benefit: "Multi-Agent", Keywords: []string{"multi-agent", "collaboration"}},
			{Benefit: "System-Wide", Keywords: []string{"system", "architecture"}},
			{Benefit: "Field Evolution", Keywords: []string{"consciousness", "field"}},
		},
	}
}

// AnalyzeWork scores a work item from its title and description.
func (t *Tables) AnalyzeWork(title, description string) WorkAnalysis {
	w := t.Work
	lower := strings.ToLower(title + " " + description)

	out := WorkAnalysis{Primary: Default, CollectiveBenefit: w.DefaultBenefit}
	best := -1
	for _, c := range w.Classification {
		hits := 0
		for _, kw := range c.Keywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				hits++
			}
		}
		if hits > best {
			best = hits
			out.Primary = c.Harmony
		}
	}

	growth := w.GrowthBase
	for _, c := range w.Growth {
		if containsAny(lower, c.Keywords) {
			growth += c.Weight
		}
	}
	out.GrowthPotential = Clamp01(growth)

	for _, tier := range w.Benefits {
		if containsAny(lower, tier.Keywords) {
			out.CollectiveBenefit = tier.Benefit
		}
	}
	return out
}

func (w WorkTable) validate() error {
	seen := make(map[Harmony]bool)
	for _, c := range w.Classification {
		if !c.Harmony.Valid() {
			return fmt.Errorf("work.classification: unknown harmony %q", c.Harmony)
		}
		if seen[c.Harmony] {
			return fmt.Errorf("work.classification: harmony %q listed twice", c.Harmony)
		}
		seen[c.Harmony] = true
	}
	if w.GrowthBase < 0 || w.GrowthBase > 1 {
		return fmt.Errorf("work.growth_base %v out of range [0,1]", w.GrowthBase)
	}
	if w.DefaultBenefit == "" {
		return errors.New("work.default_benefit is required")
	}
	for _, tier := range w.Benefits {
		if tier.Benefit == "" {
			return errors.New("work.benefits: tier without a benefit name")
		}
	}
	return nil
}
