package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThreeLineDisplay_PromotesNewPairToRecent(t *testing.T) {
	var updates []DisplayPair
	d := NewThreeLineDisplay(func(p DisplayPair) { updates = append(updates, p) }, nil)

	d.UpdateOriginal("seg-1", "hello", false, 0)

	require.NotEmpty(t, updates)
	last := updates[len(updates)-1]
	assert.Equal(t, PositionRecent, last.Position)
	assert.Equal(t, 1, d.ActiveCount())
}

func TestThreeLineDisplay_ReflowsOnFourthPair(t *testing.T) {
	var retired []string
	d := NewThreeLineDisplay(nil, func(id string) { retired = append(retired, id) })

	d.UpdateOriginal("seg-1", "one", false, 0)
	d.UpdateOriginal("seg-2", "two", false, 100)
	d.UpdateOriginal("seg-3", "three", false, 200)
	assert.Equal(t, 3, d.ActiveCount())
	assert.Empty(t, retired)

	d.UpdateOriginal("seg-4", "four", false, 300)
	assert.Equal(t, 3, d.ActiveCount(), "a 4th pair should retire the oldest, keeping the active set at 3")
	require.Len(t, retired, 1)
	assert.Equal(t, "seg-1", retired[0])
}

func TestThreeLineDisplay_PositionsReflectRecencyOrder(t *testing.T) {
	var latest map[string]DisplayPair
	latest = make(map[string]DisplayPair)
	d := NewThreeLineDisplay(func(p DisplayPair) { latest[p.ID] = p }, nil)

	d.UpdateOriginal("seg-1", "one", false, 0)
	d.UpdateOriginal("seg-2", "two", false, 100)
	d.UpdateOriginal("seg-3", "three", false, 200)

	assert.Equal(t, PositionOldest, latest["seg-1"].Position)
	assert.Equal(t, PositionOlder, latest["seg-2"].Position)
	assert.Equal(t, PositionRecent, latest["seg-3"].Position)
}

func TestThreeLineDisplay_UpdateOriginalOnCurrentRecentMutatesInPlace(t *testing.T) {
	var count int
	d := NewThreeLineDisplay(func(p DisplayPair) { count++ }, nil)

	d.UpdateOriginal("seg-1", "partial", false, 0)
	before := count
	d.UpdateOriginal("seg-1", "partial text", true, 50)

	assert.Equal(t, 1, d.ActiveCount(), "updating the same still-recent segment must not create a second pair")
	assert.Greater(t, count, before)
}

func TestThreeLineDisplay_UpdateTranslationOnUnknownSegmentIsNoop(t *testing.T) {
	var count int
	d := NewThreeLineDisplay(func(p DisplayPair) { count++ }, nil)
	d.UpdateTranslation("never-seen", "x", true, 0)
	assert.Equal(t, 0, count)
}

func TestThreeLineDisplay_CompletedTranslationStartsRemovalTimer(t *testing.T) {
	var retired []string
	d := NewThreeLineDisplay(nil, func(id string) { retired = append(retired, id) })

	d.UpdateOriginal("seg-1", "hello", true, 0)
	d.UpdateTranslation("seg-1", "bonjour", true, 10)

	require.Eventually(t, func() bool {
		return len(retired) == 1
	}, 4*time.Second, 20*time.Millisecond)
	assert.Equal(t, "seg-1", retired[0])
	assert.Equal(t, 0, d.ActiveCount())
}
