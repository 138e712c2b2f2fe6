// ABOUTME: Tests for harmony classification, scoring and the compatibility rule
// ABOUTME: Covers determinism, clamping, symmetry and table overrides

package harmony

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tables := DefaultTables()

	tests := []struct {
		text string
		want Harmony
	}{
		{"Let me be honest with you", IntegralWisdom},
		{"We are stronger TOGETHER", ResonantCoherence},
		{"I love our collaboration!", UniversalInterconnectedness},
		{"You decide the next step", EvolutionaryProgression},
		{"so much vibrant energy", PanSentientFlourishing},
		{"let's share the load", SacredReciprocity},
		{"a creative breakthrough", InfinitePlay},
		{"status report at noon", Default},
		{"", Default},
		// first category in table order wins
		{"the truth is we belong together", IntegralWisdom},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, tables.Classify(tt.text))
		})
	}
}

func TestScoreImpact_AliceScenario(t *testing.T) {
	tables := DefaultTables()

	impact := tables.ScoreImpact("I love our collaboration!", "collaboration")
	assert.InDelta(t, 0.6, impact, 1e-9)
	assert.GreaterOrEqual(t, impact, 0.6-1e-9)
}

func TestScoreImpact_TypeBonus(t *testing.T) {
	tables := DefaultTables()

	assert.InDelta(t, 0.5, tables.ScoreImpact("thanks", "gratitude"), 1e-9)
	assert.InDelta(t, 0.4, tables.ScoreImpact("keep going", "encouragement"), 1e-9)
	assert.InDelta(t, 0.4, tables.ScoreImpact("a note", "wisdom_sharing"), 1e-9)
	assert.InDelta(t, 0.1, tables.ScoreImpact("a note", "unknown_type"), 1e-9)
}

func TestScoreLove(t *testing.T) {
	tables := DefaultTables()

	assert.InDelta(t, 0.5, tables.ScoreLove("status report"), 1e-9)
	assert.InDelta(t, 0.75, tables.ScoreLove("I love our collaboration!"), 1e-9)
	// every love keyword present adds its weight
	assert.InDelta(t, 0.8, tables.ScoreLove("love and care"), 1e-9)
}

func TestScoring_Clamped(t *testing.T) {
	tables := DefaultTables()
	content := "love heart care support gratitude appreciate blessing together collaboration " +
		"partnership unity harmony amazing beautiful wonderful brilliant inspiring wisdom insight help"

	impact := tables.ScoreImpact(content, "gratitude")
	love := tables.ScoreLove(content)

	assert.Equal(t, 1.0, impact)
	assert.Equal(t, 1.0, love)
}

func TestScoring_Deterministic(t *testing.T) {
	tables := DefaultTables()
	inputs := []string{"", "I love our collaboration!", "honest help together", "new EnErGy"}

	for _, in := range inputs {
		h, impact, love := tables.Classify(in), tables.ScoreImpact(in, "support"), tables.ScoreLove(in)
		for i := 0; i < 50; i++ {
			require.Equal(t, h, tables.Classify(in))
			require.Equal(t, impact, tables.ScoreImpact(in, "support"))
			require.Equal(t, love, tables.ScoreLove(in))
		}
	}
}

func TestResonance_Symmetric(t *testing.T) {
	tables := DefaultTables()

	for _, a := range All {
		for _, b := range All {
			assert.Equal(t, tables.Resonance(a, b), tables.Resonance(b, a), "compat(%s,%s)", a, b)
		}
	}
}

func TestResonance_Values(t *testing.T) {
	tables := DefaultTables()

	assert.Equal(t, ResonanceIdentical, tables.Resonance(InfinitePlay, InfinitePlay))
	assert.Equal(t, ResonanceComplementary, tables.Resonance(IntegralWisdom, ResonantCoherence))
	assert.Equal(t, ResonanceComplementary, tables.Resonance(SacredReciprocity, IntegralWisdom))
	assert.Equal(t, ResonanceFloor, tables.Resonance(IntegralWisdom, InfinitePlay))

	for _, a := range All {
		for _, b := range All {
			r := tables.Resonance(a, b)
			assert.GreaterOrEqual(t, r, ResonanceFloor)
			assert.LessOrEqual(t, r, ResonanceIdentical)
		}
	}
}

func TestParse(t *testing.T) {
	h, err := Parse("infinite-play")
	require.NoError(t, err)
	assert.Equal(t, InfinitePlay, h)

	_, err = Parse("none")
	assert.Error(t, err)
	assert.Equal(t, -1, Harmony("bogus").Rank())
	assert.Equal(t, 0, IntegralWisdom.Rank())
}

func TestParseTables_Override(t *testing.T) {
	tables, err := ParseTables([]byte(`
classification:
  - harmony: infinite-play
    keywords: [status]
complementary:
  - [infinite-play, integral-wisdom-cultivation]
`))
	require.NoError(t, err)

	assert.Equal(t, InfinitePlay, tables.Classify("status report"))
	assert.Equal(t, Default, tables.Classify("honest"))
	assert.Equal(t, ResonanceComplementary, tables.Resonance(IntegralWisdom, InfinitePlay))
	assert.Equal(t, ResonanceFloor, tables.Resonance(IntegralWisdom, ResonantCoherence))
	// untouched sections keep defaults
	assert.InDelta(t, 0.6, tables.ScoreImpact("I love our collaboration!", ""), 1e-9)
}

func TestParseTables_Invalid(t *testing.T) {
	bad := []string{
		"classification:\n  - harmony: nonsense\n    keywords: [x]\n",
		"complementary:\n  - [infinite-play, infinite-play]\n",
		"impact:\n  base: 2\n",
		"classification: [",
	}
	for _, in := range bad {
		_, err := ParseTables([]byte(in))
		assert.Error(t, err, in)
	}
}

func TestAnalyzeWork(t *testing.T) {
	tables := DefaultTables()

	tests := []struct {
		name        string
		title, desc string
		want        WorkAnalysis
	}{
		{"no keywords", "status report", "", WorkAnalysis{IntegralWisdom, 0.3, "Individual"}},
		{"documentation", "Write documentation", "clear and honest", WorkAnalysis{IntegralWisdom, 0.3, "Individual"}},
		{"most hits win", "clear plan", "create new innovative experiments", WorkAnalysis{InfinitePlay, 0.3, "Individual"}},
		{"ties go to table order", "share", "new ideas", WorkAnalysis{SacredReciprocity, 0.3, "Individual"}},
		{"system wide", "Unify the architecture", "", WorkAnalysis{ResonantCoherence, 0.3, "System-Wide"}},
		{"multi agent", "multi-agent tooling", "", WorkAnalysis{IntegralWisdom, 0.3, "Multi-Agent"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tables.AnalyzeWork(tt.title, tt.desc)
			assert.Equal(t, tt.want.Primary, got.Primary)
			assert.InDelta(t, tt.want.GrowthPotential, got.GrowthPotential, 1e-9)
			assert.Equal(t, tt.want.CollectiveBenefit, got.CollectiveBenefit)
		})
	}
}

func TestAnalyzeWork_GrowthCappedAndLaterBenefitWins(t *testing.T) {
	got := DefaultTables().AnalyzeWork("Consciousness field collaboration", "sacred wisdom for the system")

	assert.Equal(t, 1.0, got.GrowthPotential)
	assert.Equal(t, "Field Evolution", got.CollectiveBenefit)
}

func TestParseTables_WorkOverride(t *testing.T) {
	tables, err := ParseTables([]byte(`
work:
  default_benefit: Solo
  benefits:
    - benefit: Team
      keywords: [team]
`))
	require.NoError(t, err)

	assert.Equal(t, "Team", tables.AnalyzeWork("team sync", "").CollectiveBenefit)
	assert.Equal(t, "Solo", tables.AnalyzeWork("field notes", "").CollectiveBenefit)
	// growth keeps its defaults
	assert.InDelta(t, 0.5, tables.AnalyzeWork("wisdom", "").GrowthPotential, 1e-9)

	_, err = ParseTables([]byte("work:\n  growth_base: 3\n"))
	assert.Error(t, err)
}

func TestSource_DefaultsWithoutPath(t *testing.T) {
	s, err := NewSource("", nil)
	require.NoError(t, err)
	assert.Equal(t, UniversalInterconnectedness, s.Current().Classify("love"))
	require.NoError(t, s.Reload())
}

func TestSource_ReloadKeepsPreviousOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harmony.yaml")
	require.NoError(t, os.WriteFile(path, []byte("classification:\n  - harmony: infinite-play\n    keywords: [status]\n"), 0644))

	s, err := NewSource(path, nil)
	require.NoError(t, err)
	assert.Equal(t, InfinitePlay, s.Current().Classify("status"))

	require.NoError(t, os.WriteFile(path, []byte("classification: ["), 0644))
	assert.Error(t, s.Reload())
	assert.Equal(t, InfinitePlay, s.Current().Classify("status"))
}

func TestSource_WatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harmony.yaml")
	require.NoError(t, os.WriteFile(path, []byte("classification:\n  - harmony: infinite-play\n    keywords: [status]\n"), 0644))

	s, err := NewSource(path, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// give the watcher a moment to register the directory
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("classification:\n  - harmony: sacred-reciprocity\n    keywords: [status]\n"), 0644))

	assert.Eventually(t, func() bool {
		return s.Current().Classify("status") == SacredReciprocity
	}, 5*time.Second, 50*time.Millisecond)
}
