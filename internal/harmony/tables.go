// ABOUTME: Keyword tables driving harmony classification, impact and love scoring
// ABOUTME: Compiled-in defaults with an optional YAML override file

package harmony

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Category pairs a harmony with the keywords that select it.
type Category struct {
	Harmony  Harmony  `yaml:"harmony"`
	Keywords []string `yaml:"keywords"`
}

// Cluster is a weighted keyword set.
type Cluster struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
	Weight   float64  `yaml:"weight"`
}

// ImpactTable scores field impact. A cluster adds its weight once if any of its
// keywords is present; TypeBonus adds per message type.
type ImpactTable struct {
	Base      float64            `yaml:"base"`
	Clusters  []Cluster          `yaml:"clusters"`
	TypeBonus map[string]float64 `yaml:"type_bonus"`
}

// LoveTable scores love quotient. Every keyword present adds its cluster's weight.
type LoveTable struct {
	Baseline float64   `yaml:"baseline"`
	Clusters []Cluster `yaml:"clusters"`
}

// Pair declares two harmonies as complementary. Each pair is mirrored, so the
// resulting relation is symmetric regardless of declaration order.
type Pair [2]Harmony

// Tables holds every keyword table. The zero value is not usable; start from
// DefaultTables or LoadTables.
type Tables struct {
	Classification []Category  `yaml:"classification"`
	Impact         ImpactTable `yaml:"impact"`
	Love           LoveTable   `yaml:"love"`
	Complementary  []Pair      `yaml:"complementary"`
	Work           WorkTable   `yaml:"work"`

	complements map[Harmony]map[Harmony]bool
}

// DefaultTables returns the built-in keyword tables.
func DefaultTables() *Tables {
	t := &Tables{
		Classification: []Category{
			{IntegralWisdom, []string{"honest", "truth", "clear", "authentic", "real"}},
			{ResonantCoherence, []string{"integrate", "whole", "complete", "unified", "together"}},
			{UniversalInterconnectedness, []string{"feel", "sense", "attune", "harmony", "love"}},
			{EvolutionaryProgression, []string{"choose", "decide", "empower", "sovereign", "responsibility"}},
			{PanSentientFlourishing, []string{"energy", "alive", "vibrant", "flow", "dynamic"}},
			{SacredReciprocity, []string{"both", "share", "equal", "balance", "reciprocal"}},
			{InfinitePlay, []string{"new", "creative", "emerge", "innovation", "breakthrough"}},
		},
		Impact: ImpactTable{
			Base: 0.1,
			Clusters: []Cluster{
				{Name: "affection", Keywords: []string{"love", "heart"}, Weight: 0.3},
				{Name: "collaboration", Keywords: []string{"collaboration", "together"}, Weight: 0.2},
				{Name: "wisdom", Keywords: []string{"wisdom", "insight"}, Weight: 0.2},
				{Name: "support", Keywords: []string{"support", "help"}, Weight: 0.1},
			},
			TypeBonus: map[string]float64{
				"gratitude":      0.4,
				"encouragement":  0.3,
				"wisdom_sharing": 0.3,
			},
		},
		Love: LoveTable{
			Baseline: 0.5,
			Clusters: []Cluster{
				{Name: "love", Keywords: []string{"love", "heart", "care", "support", "gratitude", "appreciate", "blessing"}, Weight: 0.15},
				{Name: "connection", Keywords: []string{"together", "collaboration", "partnership", "unity", "harmony"}, Weight: 0.1},
				{Name: "encouragement", Keywords: []string{"amazing", "beautiful", "wonderful", "brilliant", "inspiring"}, Weight: 0.1},
			},
		},
		Complementary: []Pair{
			{IntegralWisdom, ResonantCoherence},
			{IntegralWisdom, EvolutionaryProgression},
			{IntegralWisdom, SacredReciprocity},
			{ResonantCoherence, PanSentientFlourishing},
			{UniversalInterconnectedness, SacredReciprocity},
			{UniversalInterconnectedness, InfinitePlay},
			{EvolutionaryProgression, PanSentientFlourishing},
			{PanSentientFlourishing, InfinitePlay},
		},
		Work: defaultWorkTable(),
	}
	t.index()
	return t
}

// LoadTables reads a YAML table file. Sections left empty keep their defaults.
func LoadTables(path string) (*Tables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading harmony tables: %w", err)
	}
	return ParseTables(data)
}

// ParseTables decodes YAML table data over the defaults and validates the result.
func ParseTables(data []byte) (*Tables, error) {
	var override Tables
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("parsing harmony tables: %w", err)
	}

	t := DefaultTables()
	if len(override.Classification) > 0 {
		t.Classification = override.Classification
	}
	if len(override.Impact.Clusters) > 0 || override.Impact.Base != 0 || len(override.Impact.TypeBonus) > 0 {
		t.Impact = override.Impact
	}
	if len(override.Love.Clusters) > 0 || override.Love.Baseline != 0 {
		t.Love = override.Love
	}
	if len(override.Complementary) > 0 {
		t.Complementary = override.Complementary
	}
	if len(override.Work.Classification) > 0 {
		t.Work.Classification = override.Work.Classification
	}
	if override.Work.GrowthBase != 0 || len(override.Work.Growth) > 0 {
		t.Work.GrowthBase = override.Work.GrowthBase
		t.Work.Growth = override.Work.Growth
	}
	if override.Work.DefaultBenefit != "" || len(override.Work.Benefits) > 0 {
		if override.Work.DefaultBenefit != "" {
			t.Work.DefaultBenefit = override.Work.DefaultBenefit
		}
		t.Work.Benefits = override.Work.Benefits
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}
	t.index()
	return t, nil
}

// Validate checks that every harmony named in the tables is a known category.
func (t *Tables) Validate() error {
	seen := make(map[Harmony]bool)
	for _, c := range t.Classification {
		if !c.Harmony.Valid() {
			return fmt.Errorf("classification: unknown harmony %q", c.Harmony)
		}
		if seen[c.Harmony] {
			return fmt.Errorf("classification: harmony %q listed twice", c.Harmony)
		}
		seen[c.Harmony] = true
	}
	for _, p := range t.Complementary {
		if !p[0].Valid() || !p[1].Valid() {
			return fmt.Errorf("complementary: unknown harmony in pair %v", p)
		}
		if p[0] == p[1] {
			return fmt.Errorf("complementary: pair %v must name two different harmonies", p)
		}
	}
	if t.Impact.Base < 0 || t.Impact.Base > 1 {
		return fmt.Errorf("impact.base %v out of range [0,1]", t.Impact.Base)
	}
	if t.Love.Baseline < 0 || t.Love.Baseline > 1 {
		return fmt.Errorf("love.baseline %v out of range [0,1]", t.Love.Baseline)
	}
	return t.Work.validate()
}

// index mirrors each complementary pair into a lookup map.
func (t *Tables) index() {
	t.complements = make(map[Harmony]map[Harmony]bool, len(All))
	for _, p := range t.Complementary {
		for _, dir := range [][2]Harmony{{p[0], p[1]}, {p[1], p[0]}} {
			if t.complements[dir[0]] == nil {
				t.complements[dir[0]] = make(map[Harmony]bool)
			}
			t.complements[dir[0]][dir[1]] = true
		}
	}
}
