package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryouen/univoice-core/internal/eventbus"
)

type fakeAsrBackend struct {
	cb    AsrCallbacks
	state AsrState
}

func (f *fakeAsrBackend) Connect(ctx context.Context) error { f.state = AsrOpen; return nil }
func (f *fakeAsrBackend) Send(frame []byte)                 {}
func (f *fakeAsrBackend) Close()                             { f.state = AsrClosed }
func (f *fakeAsrBackend) State() AsrState                    { return f.state }

// echoBackend is a translateBackend + summarizeBackend that returns a fixed
// translated/summary string instantly, driving the controller's full
// dispatch path without any real provider.
type echoBackend struct{}

func (echoBackend) Translate(ctx context.Context, req TranslateRequest, cb TranslateCallbacks) (TranslateResult, error) {
	if cb.OnFirstToken != nil {
		cb.OnFirstToken()
	}
	return TranslateResult{Text: "[" + req.TargetLang + "] " + req.SourceText}, nil
}

func (echoBackend) Summarize(ctx context.Context, prompt string) (string, error) {
	return "summary: " + prompt, nil
}

func newTestController(t *testing.T) (*Controller, *fakeAsrBackend, *recordingBus) {
	t.Helper()
	rb := newRecordingBus()
	bus := eventbus.New(rb.write)
	t.Cleanup(bus.Close)

	var asr *fakeAsrBackend
	backend := echoBackend{}
	cfg := Config{
		Coalescer: DefaultCoalescerConfig(),
		Combiner:  DefaultCombinerConfig(),
		Queue:     DefaultQueueConfig(),
		Timeout:   DefaultTimeoutConfig(),
		History:   DefaultHistoryConfig(),

		Translator: NewTranslatorAdapter(backend, backend),
		Summarizer: NewTranslatorAdapter(backend, backend),

		NewAsrClient: func(cb AsrCallbacks) AsrBackend {
			asr = &fakeAsrBackend{cb: cb, state: AsrDisconnected}
			return asr
		},
	}

	c := New(cfg, bus)
	require.NoError(t, c.Start(context.Background(), "en", "ja", "corr-1"))
	require.NotNil(t, asr)
	return c, asr, rb
}

type recordingBus struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func newRecordingBus() *recordingBus { return &recordingBus{} }

func (r *recordingBus) write(ev eventbus.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingBus) byType(typ string) []eventbus.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []eventbus.Event
	for _, e := range r.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func TestController_StartEmitsListeningStatus(t *testing.T) {
	_, _, rb := newTestController(t)
	statuses := rb.byType("status")
	require.NotEmpty(t, statuses)
	assert.Equal(t, "listening", statuses[len(statuses)-1].State)
}

func TestController_StartTwiceReturnsAlreadyRunning(t *testing.T) {
	c, _, _ := newTestController(t)
	err := c.Start(context.Background(), "en", "ja", "corr-2")
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestController_FinalTranscriptFlowsToCombinedSentenceAndTranslation(t *testing.T) {
	c, asr, rb := newTestController(t)

	asr.cb.OnFinal(AsrFinal{SegmentID: "seg-1", Text: "Hello world.", StartMs: 0, EndMs: 500})

	require.Eventually(t, func() bool {
		return len(rb.byType("combinedSentence")) == 1
	}, time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(rb.byType("translation")) == 2 // realtime + history
	}, time.Second, 10*time.Millisecond)

	for _, ev := range rb.byType("translation") {
		assert.Contains(t, ev.TranslatedText, "[ja]")
		assert.Equal(t, "Hello world.", ev.SourceText)
	}
}

func TestController_StableSegmentEmitsSegmentEvent(t *testing.T) {
	_, asr, rb := newTestController(t)

	asr.cb.OnInterim(AsrInterim{SegmentID: "seg-1", Text: "Hel", Confidence: 0.4})

	require.Eventually(t, func() bool {
		return len(rb.byType("segment")) >= 1
	}, 2*time.Second, 10*time.Millisecond)

	seg := rb.byType("segment")[0]
	assert.Equal(t, "seg-1", seg.SegmentID)
	assert.Equal(t, "Hel", seg.Text)
}

func TestController_EmptyFinalTranscriptEmitsFormatError(t *testing.T) {
	c, asr, rb := newTestController(t)
	_ = c

	asr.cb.OnFinal(AsrFinal{SegmentID: "seg-1", Text: "   ", StartMs: 0, EndMs: 100})

	require.Eventually(t, func() bool {
		return len(rb.byType("error")) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, string(ErrorFormat), rb.byType("error")[0].Kind)
}

func TestController_GetHistoryReflectsCombinedSentences(t *testing.T) {
	c, asr, _ := newTestController(t)

	asr.cb.OnFinal(AsrFinal{SegmentID: "seg-1", Text: "First sentence.", StartMs: 0, EndMs: 500})

	require.Eventually(t, func() bool {
		return len(c.GetHistory()) == 1
	}, time.Second, 10*time.Millisecond)

	blocks := c.GetHistory()
	require.Len(t, blocks[0].Sentences, 1)
	assert.Equal(t, "First sentence.", blocks[0].Sentences[0].SourceText)
}

func TestController_ClearHistoryEmptiesSnapshot(t *testing.T) {
	c, asr, _ := newTestController(t)
	asr.cb.OnFinal(AsrFinal{SegmentID: "seg-1", Text: "First sentence.", StartMs: 0, EndMs: 500})

	require.Eventually(t, func() bool { return len(c.GetHistory()) == 1 }, time.Second, 10*time.Millisecond)

	c.ClearHistory()
	assert.Empty(t, c.GetHistory())
}

func TestController_StopIsIdempotent(t *testing.T) {
	c, _, rb := newTestController(t)
	c.Stop("corr-1")
	c.Stop("corr-1")

	stoppedCount := 0
	for _, ev := range rb.byType("status") {
		if ev.State == "stopped" {
			stoppedCount++
		}
	}
	assert.Equal(t, 1, stoppedCount, "a second Stop on an already-stopped controller must be a no-op")
}

func TestController_SendAudioDropsFramesBeforeStart(t *testing.T) {
	rb := newRecordingBus()
	bus := eventbus.New(rb.write)
	defer bus.Close()

	backend := echoBackend{}
	c := New(Config{
		Translator:   NewTranslatorAdapter(backend, backend),
		Summarizer:   NewTranslatorAdapter(backend, backend),
		NewAsrClient: func(cb AsrCallbacks) AsrBackend { return &fakeAsrBackend{cb: cb} },
	}, bus)

	assert.NotPanics(t, func() {
		c.SendAudio(make([]byte, 640))
	})
}

func TestController_GenerateVocabularyEmitsEvent(t *testing.T) {
	c, asr, rb := newTestController(t)
	asr.cb.OnFinal(AsrFinal{SegmentID: "seg-1", Text: "Some lecture content.", StartMs: 0, EndMs: 500})
	require.Eventually(t, func() bool { return len(c.GetHistory()) == 1 }, time.Second, 10*time.Millisecond)

	c.GenerateVocabulary(context.Background())

	require.Eventually(t, func() bool {
		return len(rb.byType("vocabulary")) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestController_GenerateFinalReportEmitsEvent(t *testing.T) {
	c, asr, rb := newTestController(t)
	asr.cb.OnFinal(AsrFinal{SegmentID: "seg-1", Text: "Some lecture content.", StartMs: 0, EndMs: 500})
	require.Eventually(t, func() bool { return len(c.GetHistory()) == 1 }, time.Second, 10*time.Millisecond)

	c.GenerateFinalReport(context.Background())

	require.Eventually(t, func() bool {
		return len(rb.byType("finalReport")) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Contains(t, rb.byType("finalReport")[0].Report, "summary:")
}
