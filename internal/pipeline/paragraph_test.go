package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParagraphBuilder_ClosesOnMaxWords(t *testing.T) {
	type emission struct {
		id         string
		wordCount  int
		durationMs uint64
	}
	var emitted []emission
	p := NewParagraphBuilder(ParagraphConfig{MaxWords: 3, MaxDurationMs: 1_000_000}, func(id string, wc int, dur uint64) {
		emitted = append(emitted, emission{id, wc, dur})
	})

	p.Add(CombinedSentence{SourceText: "one two", TStartMs: 0, TEndMs: 500})
	assert.Empty(t, emitted)
	p.Add(CombinedSentence{SourceText: "three", TStartMs: 500, TEndMs: 900})

	require.Len(t, emitted, 1)
	assert.Equal(t, 3, emitted[0].wordCount)
	assert.Equal(t, uint64(900), emitted[0].durationMs)
}

func TestParagraphBuilder_ClosesOnMaxDuration(t *testing.T) {
	type emission struct{ wordCount int }
	var emitted []emission
	p := NewParagraphBuilder(ParagraphConfig{MaxWords: 10_000, MaxDurationMs: 1000}, func(id string, wc int, dur uint64) {
		emitted = append(emitted, emission{wc})
	})

	p.Add(CombinedSentence{SourceText: "a", TStartMs: 0, TEndMs: 200})
	p.Add(CombinedSentence{SourceText: "b", TStartMs: 200, TEndMs: 1200})

	require.Len(t, emitted, 1, "exceeding MaxDurationMs should close the paragraph")
}

func TestParagraphBuilder_ForceEmitFlushesPartial(t *testing.T) {
	var count int
	p := NewParagraphBuilder(DefaultParagraphConfig(), func(id string, wc int, dur uint64) {
		count++
	})

	p.Add(CombinedSentence{SourceText: "partial paragraph", TStartMs: 0, TEndMs: 500})
	assert.Equal(t, 0, count)
	p.ForceEmit(600)
	assert.Equal(t, 1, count)
}

func TestParagraphBuilder_ForceEmitOnEmptyIsNoop(t *testing.T) {
	var count int
	p := NewParagraphBuilder(DefaultParagraphConfig(), func(id string, wc int, dur uint64) {
		count++
	})
	p.ForceEmit(100)
	assert.Equal(t, 0, count)
}

func TestParagraphBuilder_StartsNewBufferAfterClose(t *testing.T) {
	var ids []string
	p := NewParagraphBuilder(ParagraphConfig{MaxWords: 1, MaxDurationMs: 1_000_000}, func(id string, wc int, dur uint64) {
		ids = append(ids, id)
	})

	p.Add(CombinedSentence{SourceText: "first", TStartMs: 0, TEndMs: 100})
	p.Add(CombinedSentence{SourceText: "second", TStartMs: 100, TEndMs: 200})

	require.Len(t, ids, 2)
	assert.NotEqual(t, ids[0], ids[1])
}
