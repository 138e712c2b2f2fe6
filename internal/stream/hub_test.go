// ABOUTME: Tests for the stream hub
// ABOUTME: Covers topic isolation, non-blocking publish and context cleanup

package stream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/fieldnet-gateway/internal/store"
)

func TestHub_DeliversToTopic(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bob, _ := h.Subscribe(ctx, AgentTopic("agent_bob"))
	carol, _ := h.Subscribe(ctx, AgentTopic("agent_carol"))

	h.PublishMessage(&store.Message{ID: "msg_1", ToAgent: "agent_bob"})

	select {
	case ev := <-bob:
		assert.Equal(t, KindMessage, ev.Kind)
		assert.Equal(t, "msg_1", ev.Message.ID)
	case <-time.After(time.Second):
		t.Fatal("bob did not receive message")
	}
	select {
	case <-carol:
		t.Fatal("carol received bob's message")
	default:
	}
}

func TestHub_FieldTopic(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, _ := h.Subscribe(ctx, FieldTopic)
	h.PublishField(&store.FieldSnapshot{Pattern: "seed"})

	ev := <-ch
	require.NotNil(t, ev.Field)
	assert.Equal(t, "seed", ev.Field.Pattern)
}

func TestHub_PublishNeverBlocks(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.Subscribe(ctx, FieldTopic)

	done := make(chan struct{})
	go func() {
		for range subscriberBufferSize * 3 {
			h.PublishField(&store.FieldSnapshot{})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}

func TestHub_UnsubscribeOnCancel(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()
	ctx, cancel := context.WithCancel(context.Background())

	ch, _ := h.Subscribe(ctx, FieldTopic)
	assert.Equal(t, 1, h.Subscribers(FieldTopic))

	cancel()

	assert.Eventually(t, func() bool { return h.Subscribers(FieldTopic) == 0 }, time.Second, 5*time.Millisecond)
	_, open := <-ch
	assert.False(t, open)
}
