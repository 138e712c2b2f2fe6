// ABOUTME: Tests for the keyed mutex
// ABOUTME: Covers same-key exclusion, independent keys and entry cleanup

package keylock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMap_SameKeyIsExclusive(t *testing.T) {
	var m Map
	var wg sync.WaitGroup
	counter := 0

	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := m.Lock("agent_1")
			defer unlock()
			v := counter
			time.Sleep(time.Microsecond)
			counter = v + 1
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Equal(t, 0, m.Len())
}

func TestMap_DifferentKeysDoNotBlock(t *testing.T) {
	var m Map
	unlockA := m.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := m.Lock("b")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}
}

func TestMap_UnlockTwiceIsSafe(t *testing.T) {
	var m Map
	unlock := m.Lock("k")
	unlock()
	unlock()
	assert.Equal(t, 0, m.Len())

	// still usable
	m.Lock("k")()
}
