package pipeline

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var sentenceEnders = map[rune]bool{
	'.': true, '?': true, '!': true,
	'。': true, '？': true, '！': true,
}

// continuationSuffixes are trailing tokens that indicate the apparent
// sentence boundary is actually a continuation (list item, conjunction,
// honorific) and should not close the buffer.
var continuationSuffixes = []string{
	",", "、", "，",
	" and", " or", " but", " so", " because",
	" Mr.", " Mrs.", " Dr.", " vs.", " e.g.", " i.e.",
}

func endsWithTerminator(text string) bool {
	t := strings.TrimRight(text, " \t\n")
	if t == "" {
		return false
	}
	r := []rune(t)
	last := r[len(r)-1]
	if !sentenceEnders[last] {
		return false
	}
	for _, suf := range continuationSuffixes {
		if strings.HasSuffix(t, suf) {
			return false
		}
	}
	return true
}

// CombinerConfig tunes SentenceCombiner (spec §4.4).
type CombinerConfig struct {
	MaxSegments int
	TimeoutMs   int
	MinSegments int
}

// DefaultCombinerConfig returns the spec defaults (minSegments=1, per the
// resolved Open Question in spec.md §9).
func DefaultCombinerConfig() CombinerConfig {
	return CombinerConfig{MaxSegments: 10, TimeoutMs: 2000, MinSegments: 1}
}

type combinerBuffer struct {
	segmentIDs []string
	texts      []string
	startMs    uint64
	endMs      uint64
	timer      *time.Timer
}

// SentenceCombiner buffers final segments and emits a CombinedSentence when
// the buffer ends with a sentence terminator, hits maxSegments, or goes
// timeoutMs without a new final.
type SentenceCombiner struct {
	cfg  CombinerConfig
	mu   sync.Mutex
	buf  *combinerBuffer
	emit func(CombinedSentence)
}

// NewSentenceCombiner builds a combiner that invokes emit for every
// CombinedSentence it forms.
func NewSentenceCombiner(cfg CombinerConfig, emit func(CombinedSentence)) *SentenceCombiner {
	return &SentenceCombiner{cfg: cfg, emit: emit}
}

// AddFinal appends one final segment's text to the buffer. endMs is the
// segment's end time, used for CombinedSentence.TEndMs.
func (sc *SentenceCombiner) AddFinal(segmentID, text string, startMs, endMs uint64) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.buf == nil {
		sc.buf = &combinerBuffer{startMs: startMs}
	}
	sc.buf.segmentIDs = append(sc.buf.segmentIDs, segmentID)
	sc.buf.texts = append(sc.buf.texts, text)
	sc.buf.endMs = endMs
	sc.resetTimerLocked()

	full := strings.Join(sc.buf.texts, " ")
	if endsWithTerminator(full) || len(sc.buf.segmentIDs) >= sc.cfg.MaxSegments {
		if len(sc.buf.segmentIDs) >= sc.cfg.MinSegments {
			sc.emitLocked()
		}
	}
}

func (sc *SentenceCombiner) resetTimerLocked() {
	if sc.buf.timer != nil {
		sc.buf.timer.Stop()
	}
	sc.buf.timer = time.AfterFunc(time.Duration(sc.cfg.TimeoutMs)*time.Millisecond, func() {
		sc.mu.Lock()
		defer sc.mu.Unlock()
		if sc.buf != nil && len(sc.buf.segmentIDs) >= sc.cfg.MinSegments {
			sc.emitLocked()
		}
	})
}

func (sc *SentenceCombiner) emitLocked() {
	b := sc.buf
	sc.buf = nil
	if b.timer != nil {
		b.timer.Stop()
	}
	cs := CombinedSentence{
		ID:           uuid.NewString(),
		SegmentIDs:   append([]string(nil), b.segmentIDs...),
		SourceText:   strings.TrimSpace(strings.Join(b.texts, " ")),
		TStartMs:     b.startMs,
		TEndMs:       b.endMs,
		SegmentCount: len(b.segmentIDs),
	}
	if sc.emit != nil {
		sc.emit(cs)
	}
}

// ForceEmit flushes a non-empty buffer unconditionally, invoked on stop().
func (sc *SentenceCombiner) ForceEmit() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.buf != nil && len(sc.buf.segmentIDs) > 0 {
		sc.emitLocked()
	}
}
