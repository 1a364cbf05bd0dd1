package trace

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTracer_NilReceiverIsNoop(t *testing.T) {
	var tr *Tracer
	assert.NotPanics(t, func() {
		runID := tr.StartRun("realtime")
		assert.Equal(t, "", runID)
		tr.RecordSpan(runID, "translate:realtime", time.Now(), 12.5, "hello", "bonjour", "ok", "")
		tr.EndRun(runID, 5.0, 12.5, "hello", "bonjour", "ok")
		tr.Close()
	})
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "exactly10!", truncate("exactly10!", 10))
	assert.Equal(t, "toolongstr", truncate("toolongstring", 10))
}
