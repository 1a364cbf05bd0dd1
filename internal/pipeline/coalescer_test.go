package pipeline

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegmentCoalescer_DebounceEmitsStable(t *testing.T) {
	var mu sync.Mutex
	var emitted []Segment
	c := NewSegmentCoalescer(CoalescerConfig{DebounceMs: 20, ForceCommitMs: 5000, MaxInactiveMs: 5000}, func(s Segment) {
		mu.Lock()
		emitted = append(emitted, s)
		mu.Unlock()
	})
	defer c.Close()

	c.Update(Segment{ID: "seg-1", Text: "hello"}, 0)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(emitted) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "hello", emitted[0].Text)
	assert.True(t, emitted[0].Stable)
	assert.False(t, emitted[0].IsFinal)
}

func TestSegmentCoalescer_RapidUpdatesResetDebounce(t *testing.T) {
	var mu sync.Mutex
	var emitted []Segment
	c := NewSegmentCoalescer(CoalescerConfig{DebounceMs: 40, ForceCommitMs: 5000, MaxInactiveMs: 5000}, func(s Segment) {
		mu.Lock()
		emitted = append(emitted, s)
		mu.Unlock()
	})
	defer c.Close()

	c.Update(Segment{ID: "seg-1", Text: "he"}, 0)
	time.Sleep(15 * time.Millisecond)
	c.Update(Segment{ID: "seg-1", Text: "hello"}, 15)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(emitted) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "hello", emitted[0].Text, "the debounce timer from the first update should have been reset by the second")
}

func TestSegmentCoalescer_FinalEmitsImmediately(t *testing.T) {
	var mu sync.Mutex
	var emitted []Segment
	c := NewSegmentCoalescer(CoalescerConfig{DebounceMs: 5000, ForceCommitMs: 5000, MaxInactiveMs: 5000}, func(s Segment) {
		mu.Lock()
		emitted = append(emitted, s)
		mu.Unlock()
	})
	defer c.Close()

	c.Update(Segment{ID: "seg-1", Text: "final text", IsFinal: true}, 0)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, emitted, 1)
	assert.True(t, emitted[0].IsFinal)
	assert.True(t, emitted[0].Stable)
}

func TestSegmentCoalescer_ForceCommitFiresOnLongRunningInterim(t *testing.T) {
	var mu sync.Mutex
	var emitted []Segment
	c := NewSegmentCoalescer(CoalescerConfig{DebounceMs: 5000, ForceCommitMs: 20, MaxInactiveMs: 5000}, func(s Segment) {
		mu.Lock()
		emitted = append(emitted, s)
		mu.Unlock()
	})
	defer c.Close()

	c.Update(Segment{ID: "seg-1", Text: "still talking"}, 0)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(emitted) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestDefaultCoalescerConfig(t *testing.T) {
	cfg := DefaultCoalescerConfig()
	assert.Equal(t, 160, cfg.DebounceMs)
	assert.Equal(t, 1100, cfg.ForceCommitMs)
	assert.Equal(t, 5000, cfg.MaxInactiveMs)
}
