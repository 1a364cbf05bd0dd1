package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ryouen/univoice-core/internal/audio"
	"github.com/ryouen/univoice-core/internal/eventbus"
	"github.com/ryouen/univoice-core/internal/metrics"
	"github.com/ryouen/univoice-core/internal/prompts"
	"github.com/ryouen/univoice-core/internal/trace"
)

// ControllerState is PipelineController's lifecycle state machine (spec
// §4.10). processing is entered whenever any translation is inflight.
type ControllerState string

const (
	StateIdle       ControllerState = "idle"
	StateStarting   ControllerState = "starting"
	StateListening  ControllerState = "listening"
	StateProcessing ControllerState = "processing"
	StateStopping   ControllerState = "stopping"
	StateStopped    ControllerState = "stopped"
)

// ErrAlreadyRunning is returned by Start when the controller is not in
// idle/stopped.
var ErrAlreadyRunning = fmt.Errorf("pipeline: already running")

// Config wires every dependency PipelineController needs. Tunables not
// provided fall back to the spec defaults of each component.
type Config struct {
	Coalescer CoalescerConfig
	Combiner  CombinerConfig
	Queue     QueueConfig
	Timeout   TimeoutConfig
	History   HistoryConfig

	Translator *TranslatorAdapter
	Summarizer SummaryTranslator

	// DeviceSampleRate is the microphone's native sample rate, fed to
	// AudioFramer for resampling to 16kHz (spec §4.1). Defaults to 16000
	// (no resampling) when zero.
	DeviceSampleRate int

	// Tracer records per-translation spans for observability (spec's
	// ambient trace store). Nil-safe: every Tracer method no-ops on a nil
	// receiver, so Tracer may be left unset when POSTGRES_URL is absent.
	Tracer *trace.Tracer

	// Paragraph enables the optional paragraph-grouping extension (spec
	// §9). Sentence-based history (HistoryGrouper) is canonical and runs
	// regardless; when Paragraph is non-nil, CombinedSentences are also
	// fed into a ParagraphBuilder that emits paragraphComplete events.
	Paragraph *ParagraphConfig

	NewAsrClient func(cb AsrCallbacks) AsrBackend
}

// Controller orchestrates the full pipeline: AudioFramer -> AsrClient ->
// SegmentCoalescer -> (ThreeLineDisplay, SentenceCombiner) ->
// (TranslationQueue, HistoryGrouper, SummaryEngine) -> TranslatorAdapter ->
// (ThreeLineDisplay, HistoryGrouper, EventBus). TimeoutRegistry observes
// both translation queues (spec §2).
type Controller struct {
	cfg Config
	bus *eventbus.Bus

	mu            sync.Mutex
	state         ControllerState
	inflightCount int

	sourceLang, targetLang string
	correlationID          string

	asr       AsrBackend
	coalescer *SegmentCoalescer
	combiner  *SentenceCombiner
	display   *ThreeLineDisplay
	history   *HistoryGrouper
	paragraph *ParagraphBuilder
	summary   *SummaryEngine
	queue     *TranslationQueue
	timeouts  *TimeoutRegistry
	framer    *audio.AudioFramer

	startedAtMs uint64
}

// New builds a stopped controller bound to bus for all outward events.
func New(cfg Config, bus *eventbus.Bus) *Controller {
	return &Controller{cfg: cfg, bus: bus, state: StateStopped}
}

func nowMs(base uint64) uint64 {
	return uint64(time.Now().UnixMilli()) - base
}

// Start transitions idle/stopped -> starting -> listening, wiring a fresh
// set of per-run components. Fails with ErrAlreadyRunning otherwise (spec
// §4.10).
func (c *Controller) Start(ctx context.Context, sourceLang, targetLang, correlationID string) error {
	c.mu.Lock()
	if c.state != StateIdle && c.state != StateStopped {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.state = StateStarting
	c.sourceLang, c.targetLang = sourceLang, targetLang
	c.correlationID = correlationID
	c.startedAtMs = uint64(time.Now().UnixMilli())
	c.mu.Unlock()

	c.emitStatus("starting")

	if c.cfg.Coalescer == (CoalescerConfig{}) {
		c.cfg.Coalescer = DefaultCoalescerConfig()
	}
	if c.cfg.Combiner == (CombinerConfig{}) {
		c.cfg.Combiner = DefaultCombinerConfig()
	}
	if c.cfg.Queue == (QueueConfig{}) {
		c.cfg.Queue = DefaultQueueConfig()
	}
	if c.cfg.Timeout == (TimeoutConfig{}) {
		c.cfg.Timeout = DefaultTimeoutConfig()
	}
	if c.cfg.History == (HistoryConfig{}) {
		c.cfg.History = DefaultHistoryConfig()
	}

	c.display =NewThreeLineDisplay(c.onDisplayUpdate, func(string) {})
	c.history = NewHistoryGrouper(c.cfg.History, c.onBlockCreated, c.onBlockUpdated)
	c.paragraph = nil
	if c.cfg.Paragraph != nil {
		c.paragraph = NewParagraphBuilder(*c.cfg.Paragraph, c.onParagraphComplete)
	}
	c.summary = NewSummaryEngine(c.cfg.Summarizer, targetLang, c.onSummary)
	c.queue = NewTranslationQueue(c.cfg.Queue, c.onTranslationDropped)
	c.timeouts = NewTimeoutRegistry(c.cfg.Timeout, c.onTranslationTimeout)
	c.combiner = NewSentenceCombiner(c.cfg.Combiner, c.onCombinedSentence)
	c.coalescer = NewSegmentCoalescer(c.cfg.Coalescer, c.onStableSegment)

	deviceRate := c.cfg.DeviceSampleRate
	if deviceRate <= 0 {
		deviceRate = audio.TargetSampleRate
	}
	framer, ferr := audio.NewAudioFramer(deviceRate)
	if ferr != nil {
		c.mu.Lock()
		c.state = StateStopped
		c.mu.Unlock()
		aerr := NewError(ErrorResource, "audio framer init failed", ferr)
		c.emitError("audio", *aerr)
		c.emitStatus("stopped")
		return aerr
	}
	c.framer = framer

	if c.cfg.NewAsrClient != nil {
		c.asr = c.cfg.NewAsrClient(AsrCallbacks{
			OnInterim: c.onAsrInterim,
			OnFinal:   c.onAsrFinal,
			OnError:   c.onAsrError,
		})
		if err := c.asr.Connect(ctx); err != nil {
			if aerr, ok := err.(*Error); ok && !aerr.Kind.Recoverable() {
				c.mu.Lock()
				c.state = StateStopped
				c.mu.Unlock()
				c.emitError("asr", *aerr)
				c.emitStatus("stopped")
				return aerr
			}
		}
	}

	c.mu.Lock()
	c.state = StateListening
	c.mu.Unlock()
	c.emitStatus("listening")
	metrics.SessionsTotal.Inc()
	metrics.SessionsActive.Inc()
	return nil
}

// Stop transitions listening/processing -> stopping -> stopped: it flushes
// SentenceCombiner, stops ASR with grace, and drains TranslationQueue with
// a 5s cap (spec §4.10). Stop is idempotent (spec §8).
func (c *Controller) Stop(correlationID string) {
	c.mu.Lock()
	if c.state == StateStopped || c.state == StateIdle {
		c.mu.Unlock()
		return
	}
	c.state = StateStopping
	c.mu.Unlock()
	c.emitStatus("stopping")

	c.combiner.ForceEmit()
	c.history.ForceClose()
	if c.paragraph != nil {
		c.paragraph.ForceEmit(nowMs(c.startedAtMs))
	}

	if c.asr != nil {
		c.asr.Close()
	}

	c.drainWithCap(5 * time.Second)
	if c.coalescer != nil {
		c.coalescer.Close()
	}
	if c.queue != nil {
		c.queue.Close()
	}
	if c.framer != nil {
		c.framer.Stop()
	}

	c.mu.Lock()
	c.state = StateStopped
	c.mu.Unlock()
	c.emitStatus("stopped")
	metrics.SessionsActive.Dec()
}

// SendAudio feeds one raw device-rate PCM16LE chunk into the session's
// AudioFramer, forwarding every resulting 640-byte 16kHz frame to the ASR
// backend. Frames arriving before Start or after Stop are silently dropped,
// matching AsrClient.Send's non-failing semantics.
func (c *Controller) SendAudio(raw []byte) {
	c.mu.Lock()
	framer, asr := c.framer, c.asr
	state := c.state
	c.mu.Unlock()
	if framer == nil || asr == nil || (state != StateListening && state != StateProcessing) {
		return
	}
	for _, frame := range framer.Push(raw) {
		asr.Send(frame.Bytes)
	}
}

func (c *Controller) drainWithCap(cap time.Duration) {
	deadline := time.Now().Add(cap)
	for time.Now().Before(deadline) {
		rt, hist := c.queue.Len()
		c.mu.Lock()
		inflight := c.inflightCount
		c.mu.Unlock()
		if rt == 0 && hist == 0 && inflight == 0 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// --- ASR callbacks ---

func (c *Controller) onAsrInterim(i AsrInterim) {
	seg := Segment{ID: i.SegmentID, Text: i.Text, Confidence: i.Confidence, IsFinal: false, Lang: c.sourceLang}
	c.emitAsr(seg)
	c.coalescer.Update(seg, nowMs(c.startedAtMs))
}

func (c *Controller) onAsrFinal(f AsrFinal) {
	start, end := f.StartMs, f.EndMs
	seg := Segment{ID: f.SegmentID, Text: f.Text, Confidence: f.Confidence, IsFinal: true, Lang: c.sourceLang, StartMs: &start, EndMs: &end}
	c.emitAsr(seg)
	c.coalescer.Update(seg, nowMs(c.startedAtMs))

	if strings.TrimSpace(f.Text) == "" {
		c.emitError("asr", *NewError(ErrorFormat, "empty final transcript", nil))
		return
	}
	c.combiner.AddFinal(f.SegmentID, f.Text, f.StartMs, f.EndMs)
}

func (c *Controller) onAsrError(err *Error) {
	c.emitError("asr", *err)
	if !err.Kind.Recoverable() {
		c.Stop(c.correlationID)
	}
}

func (c *Controller) onStableSegment(seg Segment) {
	c.display.UpdateOriginal(seg.ID, seg.Text, seg.IsFinal, nowMs(c.startedAtMs))

	isFinal := seg.IsFinal
	c.bus.Emit(eventbus.Event{
		Type:          "segment",
		CorrelationID: c.correlationID,
		TMs:           nowMs(c.startedAtMs),
		SegmentID:     seg.ID,
		Text:          seg.Text,
		IsFinal:       &isFinal,
		Confidence:    seg.Confidence,
		Lang:          seg.Lang,
		StartMs:       seg.StartMs,
		EndMs:         seg.EndMs,
	})
}

// --- SentenceCombiner -> downstream fan-out ---

func (c *Controller) onCombinedSentence(cs CombinedSentence) {
	c.bus.Emit(eventbus.Event{
		Type:          "combinedSentence",
		CorrelationID: c.correlationID,
		TMs:           nowMs(c.startedAtMs),
		CombinedID:    cs.ID,
		SegmentIDs:    cs.SegmentIDs,
		SourceText:    cs.SourceText,
		TStartMs:      cs.TStartMs,
		TEndMs:        cs.TEndMs,
	})

	c.history.AddSentence(cs)
	if c.paragraph != nil {
		c.paragraph.Add(cs)
	}
	go c.summary.AddSentence(context.Background(), cs)

	// realtime translation targets the last segment id in the sentence,
	// since display promotion keys on segmentId (spec §4.7).
	targetID := cs.SegmentIDs[len(cs.SegmentIDs)-1]
	c.dispatchTranslation(targetID, cs.SourceText, PriorityRealtime)
	c.dispatchTranslation("history_"+cs.ID, cs.SourceText, PriorityHistory)
}

func (c *Controller) dispatchTranslation(targetID, sourceText string, priority Priority) {
	c.enterProcessing()
	t :=&Translation{TargetID: targetID, SourceText: sourceText, Priority: priority}
	enqueuedAt := time.Now()
	runID := c.cfg.Tracer.StartRun(string(priority))

	var firstPaintMs float64
	cancel := c.queue.Enqueue(t, func(ctx context.Context, t *Translation) error {
		stageStart := time.Now()
		defer func() {
			metrics.StageDuration.WithLabelValues("translate:" + string(t.Priority)).Observe(time.Since(stageStart).Seconds())
		}()
		res, aerr := c.cfg.Translator.Translate(ctx, TranslateRequest{
			SourceText: t.SourceText,
			SourceLang: c.sourceLang,
			TargetLang: c.targetLang,
			Priority:   t.Priority,
		}, TranslateCallbacks{
			OnFirstToken: func() {
				firstPaintMs = time.Since(enqueuedAt).Seconds() * 1000
				c.onFirstToken(t, enqueuedAt)
			},
			OnDelta: func(delta string) { c.onDelta(t, delta) },
		})
		if aerr != nil {
			t.Error = aerr.Kind
			c.cfg.Tracer.RecordSpan(runID, "translate:"+string(t.Priority), stageStart, time.Since(stageStart).Seconds()*1000, t.SourceText, "", "error", aerr.Error())
			c.cfg.Tracer.EndRun(runID, firstPaintMs, time.Since(stageStart).Seconds()*1000, t.SourceText, "", "error")
			c.onTranslationFailed(t, aerr)
			return aerr
		}
		t.TranslatedText = res.Text
		t.IsFinal = true
		c.cfg.Tracer.RecordSpan(runID, "translate:"+string(t.Priority), stageStart, time.Since(stageStart).Seconds()*1000, t.SourceText, t.TranslatedText, "ok", "")
		c.cfg.Tracer.EndRun(runID, firstPaintMs, time.Since(stageStart).Seconds()*1000, t.SourceText, t.TranslatedText, "ok")
		c.onTranslationComplete(t, enqueuedAt)
		return nil
	})
	c.timeouts.Start(targetID, len(sourceText), cancel)
}

func (c *Controller) onFirstToken(t *Translation, enqueuedAt time.Time) {
	tMs := nowMs(c.startedAtMs)
	t.FirstPaintMs = &tMs
	if t.Priority == PriorityRealtime {
		metrics.TranslationFirstPaintDuration.Observe(time.Since(enqueuedAt).Seconds())
	}
}

func (c *Controller) onDelta(t *Translation, delta string) {
	t.TranslatedText += delta
	if t.Priority == PriorityRealtime {
		c.display.UpdateTranslation(t.TargetID, t.TranslatedText, false, nowMs(c.startedAtMs))
	}
}

func (c *Controller) onTranslationComplete(t *Translation, enqueuedAt time.Time) {
	c.timeouts.Complete(t.TargetID)
	c.exitProcessing()
	metrics.TranslationCompleteDuration.WithLabelValues(string(t.Priority)).Observe(time.Since(enqueuedAt).Seconds())

	tMs := nowMs(c.startedAtMs)
	t.CompleteMs = &tMs

	if t.Priority == PriorityRealtime {
		c.display.UpdateTranslation(t.TargetID, t.TranslatedText, true, tMs)
	} else {
		combinedID := strings.TrimPrefix(t.TargetID, "history_")
		c.history.MergeTranslation(combinedID, t.TranslatedText)
	}

	c.bus.Emit(eventbus.Event{
		Type:           "translation",
		CorrelationID:  c.correlationID,
		TMs:            tMs,
		TargetID:       t.TargetID,
		SourceText:     t.SourceText,
		TranslatedText: t.TranslatedText,
		IsFinal:        boolPtr(true),
		FirstPaintMs:   t.FirstPaintMs,
		CompleteMs:     t.CompleteMs,
		Priority:       string(t.Priority),
	})
}

func (c *Controller) onTranslationFailed(t *Translation, aerr *Error) {
	c.timeouts.Complete(t.TargetID)
	c.exitProcessing()
	c.applyPlaceholder(t.TargetID, t.Priority)
	c.bus.Emit(eventbus.Event{
		Type:           "translation",
		CorrelationID:  c.correlationID,
		TMs:            nowMs(c.startedAtMs),
		TargetID:       t.TargetID,
		SourceText:     t.SourceText,
		TranslatedText: "",
		IsFinal:        boolPtr(true),
		Priority:       string(t.Priority),
		Error:          string(aerr.Kind),
	})
}

func (c *Controller) onTranslationTimeout(targetID string) {
	c.exitProcessing()
	priority := PriorityRealtime
	if strings.HasPrefix(targetID, "history_") {
		priority = PriorityHistory
	}
	c.applyPlaceholder(targetID, priority)
	c.bus.Emit(eventbus.Event{
		Type:          "translation",
		CorrelationID: c.correlationID,
		TMs:           nowMs(c.startedAtMs),
		TargetID:      targetID,
		TranslatedText: placeholderText,
		IsFinal:       boolPtr(true),
		Priority:      string(priority),
		Error:         string(ErrorTransient),
	})
}

const placeholderText = "[translation timeout]"

func (c *Controller) applyPlaceholder(targetID string, priority Priority) {
	tMs := nowMs(c.startedAtMs)
	if priority == PriorityRealtime {
		c.display.CompleteTranslation(targetID, tMs)
	} else {
		combinedID := strings.TrimPrefix(targetID, "history_")
		c.history.MergeTranslation(combinedID, placeholderText)
	}
}

func (c *Controller) onTranslationDropped(t *Translation) {
	c.bus.Emit(eventbus.Event{
		Type:          "translation-dropped",
		CorrelationID: c.correlationID,
		TMs:           nowMs(c.startedAtMs),
		TargetID:      t.TargetID,
		Priority:      string(t.Priority),
	})
}

func (c *Controller) enterProcessing() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflightCount++
	if c.state == StateListening {
		c.state = StateProcessing
		go c.emitStatus("processing")
	}
}

func (c *Controller) exitProcessing() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflightCount > 0 {
		c.inflightCount--
	}
	if c.inflightCount == 0 && c.state == StateProcessing {
		c.state = StateListening
		go c.emitStatus("listening")
	}
}

// --- History/Summary event relays ---

func (c *Controller) onBlockCreated(b HistoryBlock) {
	c.bus.Emit(eventbus.Event{Type: "history-block-created", CorrelationID: c.correlationID, TMs: nowMs(c.startedAtMs), CombinedID: b.ID})
}

func (c *Controller) onBlockUpdated(b HistoryBlock) {
	c.bus.Emit(eventbus.Event{Type: "history-block-updated", CorrelationID: c.correlationID, TMs: nowMs(c.startedAtMs), CombinedID: b.ID})
}

// onParagraphComplete relays the optional paragraph-grouping extension
// (spec §9); HistoryGrouper's sentence-based blocks remain the canonical
// history path regardless of whether this fires.
func (c *Controller) onParagraphComplete(paragraphID string, wordCount int, durationMs uint64) {
	c.bus.Emit(eventbus.Event{
		Type:          "paragraphComplete",
		CorrelationID: c.correlationID,
		TMs:           nowMs(c.startedAtMs),
		ParagraphID:   paragraphID,
		WordCount:     wordCount,
		DurationMs:    durationMs,
	})
}

func (c *Controller) onSummary(s Summary) {
	c.bus.Emit(eventbus.Event{
		Type:          "progressiveSummary",
		CorrelationID: c.correlationID,
		TMs:           nowMs(c.startedAtMs),
		Threshold:     s.Threshold,
		SourceText:    s.SourceText,
		TargetText:    s.TargetText,
		WordCount:     s.WordCount,
		TStartMs:      s.TRangeStartMs,
		TEndMs:        s.TRangeEndMs,
	})
}

// --- direct event emissions ---

func (c *Controller) emitAsr(seg Segment) {
	isFinal := seg.IsFinal
	c.bus.Emit(eventbus.Event{
		Type:          "asr",
		CorrelationID: c.correlationID,
		TMs:           nowMs(c.startedAtMs),
		SegmentID:     seg.ID,
		Text:          seg.Text,
		IsFinal:       &isFinal,
		Confidence:    seg.Confidence,
		Lang:          seg.Lang,
		StartMs:       seg.StartMs,
		EndMs:         seg.EndMs,
	})
}

func (c *Controller) emitStatus(state string) {
	c.bus.Emit(eventbus.Event{Type: "status", CorrelationID: c.correlationID, TMs: nowMs(c.startedAtMs), State: state})
	metrics.PipelineState.WithLabelValues(state).Inc()
}

func (c *Controller) emitError(stage string, e Error) {
	recoverable := e.Kind.Recoverable()
	c.bus.Emit(eventbus.Event{
		Type:          "error",
		CorrelationID: c.correlationID,
		TMs:           nowMs(c.startedAtMs),
		Kind:          string(e.Kind),
		Message:       e.Message,
		Recoverable:   &recoverable,
	})
	metrics.Errors.WithLabelValues(stage, string(e.Kind)).Inc()
}

func (c *Controller) onDisplayUpdate(p DisplayPair) {
	// DisplayPair state changes are observable via the translation/asr
	// events already emitted; no separate display event exists in spec §6.
	_ = p
}

func boolPtr(b bool) *bool { return &b }

// GetHistory returns the current HistoryBlock snapshot (the getHistory
// command's synchronous response, spec §6).
func (c *Controller) GetHistory() []HistoryBlock {
	if c.history == nil {
		return nil
	}
	return c.history.Snapshot()
}

// ClearHistory resets history in place (the clearHistory command, spec
// §6).
func (c *Controller) ClearHistory() {
	if c.history != nil {
		c.history.Clear()
	}
}

// GenerateVocabulary runs one LLM call over the current history corpus and
// emits a vocabulary event (spec §6, SUPPLEMENTED FEATURES).
func (c *Controller) GenerateVocabulary(ctx context.Context) {
	corpus := c.corpusText()
	result, aerr := c.cfg.Translator.Translate(ctx, TranslateRequest{
		SourceText: prompts.Vocabulary(corpus),
		SourceLang: c.sourceLang,
		TargetLang: c.targetLang,
		Priority:   PriorityHistory,
	}, TranslateCallbacks{})
	if aerr != nil {
		c.emitError("vocabulary", *aerr)
		return
	}
	c.bus.Emit(eventbus.Event{
		Type:          "vocabulary",
		CorrelationID: c.correlationID,
		TMs:           nowMs(c.startedAtMs),
		Items:         parseVocabularyItems(result.Text),
	})
}

// GenerateFinalReport runs one LLM call summarizing the entire lecture
// history and emits a finalReport event (spec §6, SUPPLEMENTED FEATURES).
func (c *Controller) GenerateFinalReport(ctx context.Context) {
	corpus := c.corpusText()
	report, err := c.cfg.Summarizer.Summarize(ctx, prompts.FinalReport(corpus))
	if err != nil {
		c.emitError("finalReport", *NewError(ErrorTransient, "final report generation failed", err))
		return
	}
	c.bus.Emit(eventbus.Event{
		Type:           "finalReport",
		CorrelationID:  c.correlationID,
		TMs:            nowMs(c.startedAtMs),
		Report:         report,
		TotalWordCount: len(strings.Fields(corpus)),
	})
}

func (c *Controller) corpusText() string {
	var sb strings.Builder
	for _, b := range c.GetHistory() {
		for _, s := range b.Sentences {
			sb.WriteString(s.SourceText)
			sb.WriteString(" ")
		}
	}
	return strings.TrimSpace(sb.String())
}

func parseVocabularyItems(text string) []eventbus.VocabularyItem {
	var items []eventbus.VocabularyItem
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		items = append(items, eventbus.VocabularyItem{
			Term:       strings.TrimSpace(strings.TrimLeft(parts[0], "-•0123456789. ")),
			Definition: strings.TrimSpace(parts[1]),
		})
	}
	return items
}

// NewCorrelationID generates an opaque correlation id for commands issued
// without one.
func NewCorrelationID() string { return uuid.NewString() }
