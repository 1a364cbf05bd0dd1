// Package eventbus is the WebSocket transport carrying the command/event
// contract of spec §6 between PipelineController and a UI shell. It owns
// the only shared sink in the system: it is mutated exclusively by the
// pipeline task (spec §5).
package eventbus

import (
	"log/slog"
	"sync"
	"time"
)

// Event is the single outward JSON shape for every member of the event
// surface (spec §6): asr, translation, segment, combinedSentence,
// paragraphComplete, progressiveSummary, status, vocabulary, finalReport,
// error. Fields not relevant to Type are omitted.
type Event struct {
	Type          string `json:"type"`
	CorrelationID string `json:"correlationId"`
	TMs           uint64 `json:"tMs"`

	// asr
	SegmentID  string  `json:"segmentId,omitempty"`
	Text       string  `json:"text,omitempty"`
	IsFinal    *bool   `json:"isFinal,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Lang       string  `json:"lang,omitempty"`
	StartMs    *uint64 `json:"startMs,omitempty"`
	EndMs      *uint64 `json:"endMs,omitempty"`

	// translation
	TargetID       string  `json:"targetId,omitempty"`
	SourceText     string  `json:"sourceText,omitempty"`
	TranslatedText string  `json:"translatedText,omitempty"`
	FirstPaintMs   *uint64 `json:"firstPaintMs,omitempty"`
	CompleteMs     *uint64 `json:"completeMs,omitempty"`
	Priority       string  `json:"priority,omitempty"`
	Error          string  `json:"error,omitempty"`

	// combinedSentence
	CombinedID string   `json:"combinedId,omitempty"`
	SegmentIDs []string `json:"segmentIds,omitempty"`
	TStartMs   uint64   `json:"tStartMs,omitempty"`
	TEndMs     uint64   `json:"tEndMs,omitempty"`

	// paragraphComplete
	ParagraphID string `json:"paragraphId,omitempty"`
	WordCount   int    `json:"wordCount,omitempty"`
	DurationMs  uint64 `json:"durationMs,omitempty"`

	// progressiveSummary
	Threshold  int    `json:"threshold,omitempty"`
	TargetText string `json:"targetText,omitempty"`

	// status
	State string `json:"state,omitempty"`

	// vocabulary
	Items []VocabularyItem `json:"items,omitempty"`

	// finalReport
	Report         string `json:"report,omitempty"`
	TotalWordCount int    `json:"totalWordCount,omitempty"`

	// error
	Kind        string `json:"kind,omitempty"`
	Message     string `json:"message,omitempty"`
	Recoverable *bool  `json:"recoverable,omitempty"`

	// history: getHistory's synchronous response. Not part of spec §6's
	// push-event list, but getHistory needs a reply shape and this bus is
	// the only channel back to the UI shell, so it rides the same Event
	// envelope rather than opening a second transport.
	History []HistoryBlockView `json:"history,omitempty"`
}

// VocabularyItem is one entry of the vocabulary event.
type VocabularyItem struct {
	Term       string `json:"term"`
	Definition string `json:"definition"`
}

// HistorySentenceView is the wire projection of pipeline.HistorySentence,
// kept in eventbus so this package never imports pipeline.
type HistorySentenceView struct {
	CombinedID  string   `json:"combinedId"`
	SegmentIDs  []string `json:"segmentIds"`
	SourceText  string   `json:"sourceText"`
	Translation string   `json:"translation"`
	TStartMs    uint64   `json:"tStartMs"`
	TEndMs      uint64   `json:"tEndMs"`
}

// HistoryBlockView is the wire projection of pipeline.HistoryBlock.
type HistoryBlockView struct {
	ID          string                 `json:"id"`
	Sentences   []HistorySentenceView  `json:"sentences"`
	CreatedAtMs uint64                 `json:"createdAtMs"`
	DurationMs  uint64                 `json:"durationMs"`
	IsParagraph bool                   `json:"isParagraph"`
}

// Sink is the capability-set interface for the pipeline's outward side
// (spec §9's "EventSink"), kept narrow so tests can substitute a recording
// fake.
type Sink interface {
	Emit(Event)
}

// Bus fans typed events out to a single connected UI shell connection and
// tracks a correlationId -> (commandName, tMs) map with 60s expiry (spec
// §3's Correlation map).
type Bus struct {
	mu        sync.Mutex
	writeFn   func(Event) error
	correlations map[string]correlationEntry
	stopSweep chan struct{}
}

type correlationEntry struct {
	command string
	tMs     uint64
	addedAt time.Time
}

// New builds a Bus that writes events via writeFn (the WS connection's
// WriteMessage, wrapped by the caller).
func New(writeFn func(Event) error) *Bus {
	b := &Bus{
		writeFn:      writeFn,
		correlations: make(map[string]correlationEntry),
		stopSweep:    make(chan struct{}),
	}
	go b.sweepLoop()
	return b
}

// Emit sends one event. Emit is the only mutator of the bus's sink and
// must only ever be called from the pipeline task (spec §5).
func (b *Bus) Emit(ev Event) {
	if err := b.writeFn(ev); err != nil {
		slog.Error("eventbus write failed", "type", ev.Type, "error", err)
	}
}

// Track records a correlationId's originating command for 60s.
func (b *Bus) Track(correlationID, command string, tMs uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.correlations[correlationID] = correlationEntry{command: command, tMs: tMs, addedAt: time.Now()}
}

// Lookup returns the originating command for a correlationId, if not yet
// expired.
func (b *Bus) Lookup(correlationID string) (string, uint64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.correlations[correlationID]
	if !ok || time.Since(e.addedAt) > 60*time.Second {
		return "", 0, false
	}
	return e.command, e.tMs, true
}

func (b *Bus) sweepLoop() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-b.stopSweep:
			return
		case <-ticker.C:
			b.sweepExpired()
		}
	}
}

func (b *Bus) sweepExpired() {
	b.mu.Lock()
	defer b.mu.Unlock()
	cutoff := time.Now().Add(-60 * time.Second)
	for id, e := range b.correlations {
		if e.addedAt.Before(cutoff) {
			delete(b.correlations, id)
		}
	}
}

// Close stops the correlation-map sweep loop.
func (b *Bus) Close() {
	close(b.stopSweep)
}
