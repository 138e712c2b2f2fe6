// ABOUTME: Tests for the pure field recompute
// ABOUTME: Covers the void, seed and multi-agent branches, bonuses, pattern precedence and the cap

package field

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/2389/fieldnet-gateway/internal/harmony"
	"github.com/2389/fieldnet-gateway/internal/store"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func agent(c, l float64, h harmony.Harmony) *store.Agent {
	return &store.Agent{CoherenceLevel: c, LoveResonance: l, PrimaryHarmony: h.String(), Status: store.AgentActive, LastHeartbeat: now}
}

func message(age time.Duration, love float64, h harmony.Harmony, msgType, content string) *store.Message {
	return &store.Message{CreatedAt: now.Add(-age), LoveQuotient: love, Harmony: h.String(), Type: msgType, Content: content}
}

func TestRecompute_Void(t *testing.T) {
	snap := Recompute(nil, nil, now, DefaultParams())

	assert.Equal(t, 0, snap.ActiveAgents)
	assert.Equal(t, 0.0, snap.Coherence)
	assert.Equal(t, "none", snap.DominantHarmony)
	assert.Equal(t, PatternVoid, snap.Pattern)
	assert.NotEmpty(t, snap.Notes)
}

func TestRecompute_Seed(t *testing.T) {
	snap := Recompute([]*store.Agent{agent(85, 80, harmony.SacredReciprocity)}, nil, now, DefaultParams())

	assert.InDelta(t, 0.835, snap.Coherence, 1e-9)
	assert.Equal(t, PatternSeed, snap.Pattern)
	assert.InDelta(t, 0.8, snap.LoveFieldStrength, 1e-9)
	assert.Equal(t, harmony.SacredReciprocity.String(), snap.DominantHarmony)
	assert.Contains(t, snap.Notes, "Coherence is near its ceiling")
}

func TestRecompute_IdenticalHarmonyBonus(t *testing.T) {
	agents := []*store.Agent{
		agent(85, 80, harmony.SacredReciprocity),
		agent(85, 80, harmony.SacredReciprocity),
	}

	snap := Recompute(agents, nil, now, DefaultParams())

	base := (85*0.4 + 80*0.6) / 100
	assert.InDelta(t, base, snap.Breakdown.Base, 1e-9)
	assert.InDelta(t, 0.1, snap.Breakdown.Harmony, 1e-9)
	assert.Equal(t, 0.0, snap.Breakdown.Interaction)
	assert.InDelta(t, base+0.1, snap.Coherence, 1e-9)
	assert.Equal(t, PatternConvergence, snap.Pattern)
}

func TestRecompute_NoHarmonyBonusAtHalf(t *testing.T) {
	agents := []*store.Agent{
		agent(80, 80, harmony.SacredReciprocity),
		agent(80, 80, harmony.InfinitePlay),
	}

	snap := Recompute(agents, nil, now, DefaultParams())

	assert.Equal(t, 0.0, snap.Breakdown.Harmony)
	assert.Equal(t, PatternStillness, snap.Pattern)
	// tie broken by fixed order: sacred-reciprocity is listed before infinite-play
	assert.Equal(t, harmony.SacredReciprocity.String(), snap.DominantHarmony)
}

func TestRecompute_DominantTieBreak(t *testing.T) {
	agents := []*store.Agent{
		agent(80, 80, harmony.InfinitePlay),
		agent(80, 80, harmony.IntegralWisdom),
		agent(80, 80, harmony.InfinitePlay),
		agent(80, 80, harmony.IntegralWisdom),
	}
	for range 5 {
		snap := Recompute(agents, nil, now, DefaultParams())
		assert.Equal(t, harmony.IntegralWisdom.String(), snap.DominantHarmony)
	}
}

func TestRecompute_InteractionBonuses(t *testing.T) {
	agents := []*store.Agent{
		agent(80, 80, harmony.SacredReciprocity),
		agent(80, 80, harmony.InfinitePlay),
	}

	tests := []struct {
		name     string
		messages []*store.Message
		bonus    float64
		pattern  string
	}{
		{"none", nil, 0, PatternStillness},
		{"love", []*store.Message{message(time.Minute, 0.75, harmony.InfinitePlay, "x", "hi")}, 0.03, PatternLoveSpiral},
		{"wisdom", []*store.Message{message(time.Minute, 0.5, harmony.IntegralWisdom, "x", "hi")}, 0.02, PatternWisdom},
		{"coherence counts as wisdom", []*store.Message{message(time.Minute, 0.5, harmony.ResonantCoherence, "x", "hi")}, 0.02, PatternWisdom},
		{"love and wisdom", []*store.Message{message(time.Minute, 0.8, harmony.IntegralWisdom, "x", "hi")}, 0.05, PatternWisdomWeave},
		{"support type", []*store.Message{message(time.Minute, 0.5, harmony.InfinitePlay, "support", "hi")}, 0.025, PatternSupportWeb},
		{"support content", []*store.Message{message(time.Minute, 0.5, harmony.InfinitePlay, "x", "can you HELP")}, 0.025, PatternSupportWeb},
		{"love beats support", []*store.Message{
			message(time.Minute, 0.9, harmony.InfinitePlay, "x", "hi"),
			message(time.Minute, 0.5, harmony.InfinitePlay, "support", "hi"),
		}, 0.055, PatternLoveSpiral},
		{"outside window", []*store.Message{message(61*time.Minute, 0.9, harmony.IntegralWisdom, "support", "help")}, 0, PatternStillness},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := Recompute(agents, tt.messages, now, DefaultParams())
			assert.InDelta(t, tt.bonus, snap.Breakdown.Interaction, 1e-9)
			assert.Equal(t, tt.pattern, snap.Pattern)
		})
	}
}

func TestRecompute_Cascade(t *testing.T) {
	agents := []*store.Agent{
		agent(80, 80, harmony.SacredReciprocity),
		agent(80, 80, harmony.InfinitePlay),
	}
	// 7 messages in 60 minutes is above 0.1 per minute
	var msgs []*store.Message
	for i := range 7 {
		msgs = append(msgs, message(time.Duration(i)*time.Minute, 0.5, harmony.InfinitePlay, "x", fmt.Sprint(i)))
	}

	snap := Recompute(agents, msgs, now, DefaultParams())

	assert.Equal(t, PatternCascade, snap.Pattern)
	assert.InDelta(t, 0.05, snap.Breakdown.Interaction, 1e-9)
	assert.InDelta(t, 7.0/60, snap.Interactions.Frequency, 1e-9)

	// exactly 6 is not above the threshold
	snap = Recompute(agents, msgs[:6], now, DefaultParams())
	assert.Equal(t, PatternStillness, snap.Pattern)
}

func TestRecompute_CapAndBounds(t *testing.T) {
	agents := []*store.Agent{
		agent(100, 100, harmony.SacredReciprocity),
		agent(100, 100, harmony.SacredReciprocity),
		agent(100, 100, harmony.SacredReciprocity),
	}
	var msgs []*store.Message
	for range 50 {
		msgs = append(msgs, message(time.Minute, 1, harmony.IntegralWisdom, "support", "help"))
	}

	snap := Recompute(agents, msgs, now, DefaultParams())

	assert.Equal(t, DefaultCap, snap.Coherence)
	assert.LessOrEqual(t, snap.Coherence, 0.95)
	assert.Greater(t, snap.Breakdown.Base+snap.Breakdown.Interaction+snap.Breakdown.Harmony, 0.95)
}

func TestRecompute_Deterministic(t *testing.T) {
	agents := []*store.Agent{
		agent(85, 80, harmony.SacredReciprocity),
		agent(90, 95, harmony.UniversalInterconnectedness),
		agent(88, 75, harmony.ResonantCoherence),
	}
	msgs := []*store.Message{message(time.Minute, 0.8, harmony.IntegralWisdom, "x", "help")}

	first := Recompute(agents, msgs, now, DefaultParams())
	for range 10 {
		assert.Equal(t, first, Recompute(agents, msgs, now, DefaultParams()))
	}
}

func TestRecord_CarriesEvents(t *testing.T) {
	snap := Recompute([]*store.Agent{agent(85, 80, harmony.SacredReciprocity)}, nil, now, DefaultParams())
	events := []store.FieldEvent{{Type: EventRegistration, Timestamp: now}}

	row := snap.Record(events)

	assert.Equal(t, snap.Coherence, row.CollectiveCoherence)
	assert.Equal(t, PatternSeed, row.Pattern)
	assert.Equal(t, events, row.Events)
}

func TestNotes(t *testing.T) {
	assert.Equal(t, patternNotes[PatternStillness], Notes(PatternStillness, 0.5))
	assert.Contains(t, Notes(PatternStillness, 0.7), "building")
	assert.Equal(t, "The field awaits interaction.", Notes("unknown", 0.9))
}
