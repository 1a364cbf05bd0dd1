package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSentenceCombiner_EmitsOnTerminator(t *testing.T) {
	var emitted []CombinedSentence
	c := NewSentenceCombiner(CombinerConfig{MaxSegments: 10, TimeoutMs: 5000, MinSegments: 1}, func(cs CombinedSentence) {
		emitted = append(emitted, cs)
	})

	c.AddFinal("seg-1", "Hello world.", 0, 500)

	require.Len(t, emitted, 1)
	assert.Equal(t, "Hello world.", emitted[0].SourceText)
	assert.Equal(t, []string{"seg-1"}, emitted[0].SegmentIDs)
}

func TestSentenceCombiner_ContinuationSuffixDoesNotClose(t *testing.T) {
	var emitted []CombinedSentence
	c := NewSentenceCombiner(CombinerConfig{MaxSegments: 10, TimeoutMs: 5000, MinSegments: 1}, func(cs CombinedSentence) {
		emitted = append(emitted, cs)
	})

	c.AddFinal("seg-1", "I went to the store, e.g.", 0, 500)
	assert.Empty(t, emitted, "an e.g. continuation suffix should not close the buffer even though it ends in a period")

	c.AddFinal("seg-2", "and bought milk.", 500, 900)
	require.Len(t, emitted, 1)
	assert.Equal(t, "I went to the store, e.g. and bought milk.", emitted[0].SourceText)
	assert.Equal(t, []string{"seg-1", "seg-2"}, emitted[0].SegmentIDs)
}

func TestSentenceCombiner_MaxSegmentsForcesEmit(t *testing.T) {
	var emitted []CombinedSentence
	c := NewSentenceCombiner(CombinerConfig{MaxSegments: 2, TimeoutMs: 5000, MinSegments: 1}, func(cs CombinedSentence) {
		emitted = append(emitted, cs)
	})

	c.AddFinal("seg-1", "no terminator here", 0, 100)
	assert.Empty(t, emitted)
	c.AddFinal("seg-2", "still none", 100, 200)
	require.Len(t, emitted, 1, "hitting maxSegments should force an emit even without a terminator")
	assert.Equal(t, 2, emitted[0].SegmentCount)
}

func TestSentenceCombiner_TimeoutForcesEmit(t *testing.T) {
	var emitted []CombinedSentence
	c := NewSentenceCombiner(CombinerConfig{MaxSegments: 10, TimeoutMs: 20, MinSegments: 1}, func(cs CombinedSentence) {
		emitted = append(emitted, cs)
	})

	c.AddFinal("seg-1", "dangling clause", 0, 100)

	require.Eventually(t, func() bool {
		return len(emitted) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "dangling clause", emitted[0].SourceText)
}

func TestSentenceCombiner_ForceEmitFlushesNonEmptyBuffer(t *testing.T) {
	var emitted []CombinedSentence
	c := NewSentenceCombiner(CombinerConfig{MaxSegments: 10, TimeoutMs: 5000, MinSegments: 1}, func(cs CombinedSentence) {
		emitted = append(emitted, cs)
	})

	c.AddFinal("seg-1", "incomplete", 0, 100)
	assert.Empty(t, emitted)

	c.ForceEmit()
	require.Len(t, emitted, 1)
	assert.Equal(t, "incomplete", emitted[0].SourceText)
}

func TestSentenceCombiner_ForceEmitOnEmptyBufferIsNoop(t *testing.T) {
	var emitted []CombinedSentence
	c := NewSentenceCombiner(CombinerConfig{MaxSegments: 10, TimeoutMs: 5000, MinSegments: 1}, func(cs CombinedSentence) {
		emitted = append(emitted, cs)
	})

	c.ForceEmit()
	assert.Empty(t, emitted)
}

func TestEndsWithTerminator(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"Hello world.", true},
		{"Is that so?", true},
		{"Amazing!", true},
		{"こんにちは。", true},
		{"no terminator", false},
		{"", false},
		{"Visit Dr.", false},
		{"a list, item one,", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, endsWithTerminator(tc.text), "text=%q", tc.text)
	}
}
