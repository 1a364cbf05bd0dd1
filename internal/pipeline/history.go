package pipeline

import (
	"sync"

	"github.com/google/uuid"
)

// HistoryConfig tunes HistoryGrouper (spec §4.8).
type HistoryConfig struct {
	MaxSentencesPerBlock int
	MaxDurationMs        uint64
	SilenceGapMs         uint64
}

// DefaultHistoryConfig returns the spec defaults.
func DefaultHistoryConfig() HistoryConfig {
	return HistoryConfig{MaxSentencesPerBlock: 5, MaxDurationMs: 60_000, SilenceGapMs: 5_000}
}

// HistoryGrouper forms HistoryBlocks over CombinedSentences, closing a
// block on sentence count, elapsed time, or a silence gap, and merges
// late-arriving history-quality retranslations by sentence id.
type HistoryGrouper struct {
	cfg HistoryConfig

	mu         sync.Mutex
	blocks     []*HistoryBlock
	open       *HistoryBlock
	bySentence map[string]*HistoryBlock // combinedId -> owning block
	lastSentenceEndMs uint64

	onBlockCreated func(HistoryBlock)
	onBlockUpdated func(HistoryBlock)
}

// NewHistoryGrouper builds a grouper. onBlockCreated fires for a freshly
// closed block (spec's history-block-created); onBlockUpdated fires when a
// retranslation upgrades an already-emitted block's sentence
// (history-block-updated).
func NewHistoryGrouper(cfg HistoryConfig, onBlockCreated, onBlockUpdated func(HistoryBlock)) *HistoryGrouper {
	return &HistoryGrouper{
		cfg:            cfg,
		bySentence:     make(map[string]*HistoryBlock),
		onBlockCreated: onBlockCreated,
		onBlockUpdated: onBlockUpdated,
	}
}

// AddSentence appends one CombinedSentence to the open block, closing the
// previous block first if a silence gap has elapsed since the last
// sentence.
func (h *HistoryGrouper) AddSentence(cs CombinedSentence) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.open != nil && h.lastSentenceEndMs > 0 {
		gap := cs.TStartMs - h.lastSentenceEndMs
		if gap >= h.cfg.SilenceGapMs {
			h.closeOpenLocked()
		}
	}
	if h.open == nil {
		h.open = &HistoryBlock{ID: uuid.NewString(), CreatedAtMs: cs.TStartMs}
	}

	sentence := HistorySentence{
		CombinedID: cs.ID,
		SegmentIDs: cs.SegmentIDs,
		SourceText: cs.SourceText,
		TStartMs:   cs.TStartMs,
		TEndMs:     cs.TEndMs,
	}
	h.open.Sentences = append(h.open.Sentences, sentence)
	h.bySentence[cs.ID] = h.open
	h.lastSentenceEndMs = cs.TEndMs

	duration := cs.TEndMs - h.open.CreatedAtMs
	if len(h.open.Sentences) >= h.cfg.MaxSentencesPerBlock || duration >= h.cfg.MaxDurationMs {
		h.closeOpenLocked()
	}
}

func (h *HistoryGrouper) closeOpenLocked() {
	if h.open == nil || len(h.open.Sentences) == 0 {
		h.open = nil
		return
	}
	b := h.open
	b.DurationMs = h.lastSentenceEndMs - b.CreatedAtMs
	b.emitted = true
	h.blocks = append(h.blocks, b)
	h.open = nil
	if h.onBlockCreated != nil {
		h.onBlockCreated(*b)
	}
}

// MergeTranslation overwrites the HistorySentence.Translation field for
// combinedID, in whichever block owns it. If the owning block has already
// been emitted, a history-block-updated event fires with the block's
// current snapshot; if still open, the update is purely in-place.
func (h *HistoryGrouper) MergeTranslation(combinedID, translatedText string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	block, ok := h.bySentence[combinedID]
	if !ok {
		return
	}
	for i := range block.Sentences {
		if block.Sentences[i].CombinedID == combinedID {
			block.Sentences[i].Translation = translatedText
			break
		}
	}
	if block.emitted && h.onBlockUpdated != nil {
		h.onBlockUpdated(*block)
	}
}

// ForceClose closes the open block unconditionally, invoked on stop().
func (h *HistoryGrouper) ForceClose() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closeOpenLocked()
}

// Snapshot returns all blocks (closed, plus the still-open one if any) in
// emission order — the getHistory command's response (spec §6).
func (h *HistoryGrouper) Snapshot() []HistoryBlock {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]HistoryBlock, 0, len(h.blocks)+1)
	for _, b := range h.blocks {
		out = append(out, *b)
	}
	if h.open != nil {
		out = append(out, *h.open)
	}
	return out
}

// Clear resets all history, invoked by the clearHistory command (spec §6).
func (h *HistoryGrouper) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.blocks = nil
	h.open = nil
	h.bySentence = make(map[string]*HistoryBlock)
	h.lastSentenceEndMs = 0
}
