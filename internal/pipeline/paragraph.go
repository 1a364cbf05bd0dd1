package pipeline

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ParagraphConfig bounds a paragraph by accumulated word count or duration.
type ParagraphConfig struct {
	MaxWords      int
	MaxDurationMs uint64
}

// DefaultParagraphConfig closes a paragraph at 150 words or 120s, twice
// HistoryGrouper's 60s block cap, since paragraphs are a coarser optional
// grouping.
func DefaultParagraphConfig() ParagraphConfig {
	return ParagraphConfig{MaxWords: 150, MaxDurationMs: 120_000}
}

type paragraphBuffer struct {
	id        string
	sentences []CombinedSentence
	wordCount int
	startMs   uint64
}

// ParagraphBuilder groups CombinedSentences into paragraphs by word/time
// bounds. Optional: sentence-based history (HistoryGrouper) is canonical;
// PipelineController only instantiates this when Config.Paragraph is set.
type ParagraphBuilder struct {
	cfg  ParagraphConfig
	mu   sync.Mutex
	buf  *paragraphBuffer
	emit func(paragraphID string, wordCount int, durationMs uint64)
}

// NewParagraphBuilder builds a ParagraphBuilder that invokes emit on every
// paragraphComplete boundary (spec §6).
func NewParagraphBuilder(cfg ParagraphConfig, emit func(string, int, uint64)) *ParagraphBuilder {
	return &ParagraphBuilder{cfg: cfg, emit: emit}
}

// Add feeds one CombinedSentence into the current paragraph.
func (p *ParagraphBuilder) Add(cs CombinedSentence) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.buf == nil {
		p.buf = &paragraphBuffer{id: uuid.NewString(), startMs: cs.TStartMs}
	}
	p.buf.sentences = append(p.buf.sentences, cs)
	p.buf.wordCount += len(strings.Fields(cs.SourceText))

	duration := cs.TEndMs - p.buf.startMs
	if p.buf.wordCount >= p.cfg.MaxWords || duration >= p.cfg.MaxDurationMs {
		p.closeLocked(cs.TEndMs)
	}
}

func (p *ParagraphBuilder) closeLocked(endMs uint64) {
	b := p.buf
	p.buf = nil
	if p.emit != nil {
		p.emit(b.id, b.wordCount, endMs-b.startMs)
	}
}

// ForceEmit flushes a non-empty paragraph unconditionally.
func (p *ParagraphBuilder) ForceEmit(nowMs uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.buf != nil && len(p.buf.sentences) > 0 {
		p.closeLocked(nowMs)
	}
}
