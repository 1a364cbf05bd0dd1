// Package pipeline implements the streaming speech-to-translation pipeline:
// audio framing, ASR coalescing, sentence combination, dual-quality
// translation, the rolling display, history grouping, and progressive
// summaries.
package pipeline

// Frame is a single 20ms/640-byte PCM16LE audio frame. Transient: owned by
// the framer until sent to the ASR client, then dropped.
type Frame struct {
	Bytes []byte
	Seq   uint64
	TMs   uint64
}

// Segment is one ASR result, mutated only by the coalescer (which adds
// Stable). Once IsFinal is true, Text is immutable.
type Segment struct {
	ID         string
	Text       string
	Confidence float64
	IsFinal    bool
	StartMs    *uint64
	EndMs      *uint64
	Lang       string
	Stable     bool
}

// CombinedSentence is one or more contiguous finals joined across a
// sentence boundary. Immutable after emission.
type CombinedSentence struct {
	ID            string
	SegmentIDs    []string
	SourceText    string
	TStartMs      uint64
	TEndMs        uint64
	SegmentCount  int
}

// Priority selects which FIFO a Translation enters.
type Priority string

const (
	PriorityRealtime Priority = "realtime"
	PriorityHistory  Priority = "history"
)

// TranslationStatus tracks a Translation's lifecycle.
type TranslationStatus string

const (
	TranslationQueued    TranslationStatus = "queued"
	TranslationInflight  TranslationStatus = "inflight"
	TranslationCompleted TranslationStatus = "completed"
	TranslationFailed    TranslationStatus = "failed"
	TranslationTimedOut  TranslationStatus = "timedOut"
)

// Translation is one source->target translation request/result. TargetID is
// either a bare segment id (realtime), "history_<combinedId>", or
// "paragraph_<paragraphId>".
type Translation struct {
	TargetID      string
	SourceText    string
	TranslatedText string
	IsFinal       bool
	FirstPaintMs  *uint64
	CompleteMs    *uint64
	Priority      Priority
	Attempts      int
	Status        TranslationStatus
	Error         ErrorKind
}

// Position is a DisplayPair's slot in the three-line rolling display.
type Position string

const (
	PositionOldest Position = "oldest"
	PositionOlder  Position = "older"
	PositionRecent Position = "recent"
)

// DisplayOriginal is the source-language half of a DisplayPair.
type DisplayOriginal struct {
	Text    string
	IsFinal bool
	TMs     uint64
}

// DisplayTranslation is the target-language half of a DisplayPair.
type DisplayTranslation struct {
	Text       string
	IsComplete bool
	TMs        uint64
}

// DisplayPair is one of at most three simultaneously active rolling-display
// rows. Exclusively owned by ThreeLineDisplay after dispatch.
type DisplayPair struct {
	ID                   string
	Original             DisplayOriginal
	Translation          DisplayTranslation
	Position             Position
	Opacity              float64
	Height               int
	StartTime            uint64
	TranslationCompleteTime *uint64
	fading               bool
}

// HistorySentence is a CombinedSentence projection living inside a
// HistoryBlock; Translation may be upgraded in place by a later
// retranslation merge.
type HistorySentence struct {
	CombinedID  string
	SegmentIDs  []string
	SourceText  string
	Translation string
	TStartMs    uint64
	TEndMs      uint64
}

// HistoryBlock groups HistorySentences. A sentence appears in exactly one
// block; order within a block equals emission order.
type HistoryBlock struct {
	ID          string
	Sentences   []HistorySentence
	CreatedAtMs uint64
	DurationMs  uint64
	IsParagraph bool
	emitted     bool
}

// Summary is one progressive-summary emission. Append-only.
type Summary struct {
	ID         string
	Threshold  int
	SourceText string
	TargetText string
	WordCount  int
	TRangeStartMs uint64
	TRangeEndMs   uint64
}
