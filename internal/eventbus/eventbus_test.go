package eventbus

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_EmitCallsWriteFn(t *testing.T) {
	var got Event
	b := New(func(ev Event) error {
		got = ev
		return nil
	})
	defer b.Close()

	b.Emit(Event{Type: "status", State: "listening"})
	assert.Equal(t, "status", got.Type)
	assert.Equal(t, "listening", got.State)
}

func TestBus_EmitSwallowsWriteError(t *testing.T) {
	b := New(func(ev Event) error {
		return errors.New("connection closed")
	})
	defer b.Close()

	assert.NotPanics(t, func() {
		b.Emit(Event{Type: "status"})
	})
}

func TestBus_TrackAndLookup(t *testing.T) {
	b := New(func(ev Event) error { return nil })
	defer b.Close()

	b.Track("corr-1", "startListening", 42)
	cmd, tMs, ok := b.Lookup("corr-1")
	require.True(t, ok)
	assert.Equal(t, "startListening", cmd)
	assert.Equal(t, uint64(42), tMs)
}

func TestBus_LookupUnknownCorrelation(t *testing.T) {
	b := New(func(ev Event) error { return nil })
	defer b.Close()

	_, _, ok := b.Lookup("never-tracked")
	assert.False(t, ok)
}

func TestBus_SweepExpiredRemovesOldEntries(t *testing.T) {
	b := New(func(ev Event) error { return nil })
	defer b.Close()

	b.Track("corr-1", "startListening", 0)
	b.mu.Lock()
	e := b.correlations["corr-1"]
	e.addedAt = e.addedAt.Add(-61 * time.Second)
	b.correlations["corr-1"] = e
	b.mu.Unlock()

	b.sweepExpired()

	_, _, ok := b.Lookup("corr-1")
	assert.False(t, ok, "an entry older than 60s should be swept")
}
