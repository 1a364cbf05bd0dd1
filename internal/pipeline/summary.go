package pipeline

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ryouen/univoice-core/internal/prompts"
)

// SummaryTranslator is the narrow surface SummaryEngine needs from
// TranslatorAdapter: a single non-streamed call for the summary itself and
// for its translation, since progressive summaries are not latency
// sensitive the way realtime display translation is.
type SummaryTranslator interface {
	Summarize(ctx context.Context, sourceText string) (string, error)
	Translate(ctx context.Context, req TranslateRequest, cb TranslateCallbacks) (TranslateResult, *Error)
}

// thresholdForN computes T(n) = 400 + 800*(n-1): 400, 1200, 2000, ... (spec
// §8 scenario 4 — the second summary must not fire until cumulative words
// cross 1200, i.e. 400 + 800). n < 1 is treated as n = 1.
func thresholdForN(n int) int {
	if n < 1 {
		n = 1
	}
	return 400 + 800*(n-1)
}

// SummaryEngine maintains a cumulative source-word counter across all
// CombinedSentences and emits a progressive summary every time the counter
// crosses the next threshold T(n).
type SummaryEngine struct {
	mu           sync.Mutex
	wordCount    int
	nextN        int
	sinceLastMs  uint64
	pending      []CombinedSentence
	lastSummary  string

	translator SummaryTranslator
	targetLang string
	onSummary  func(Summary)
}

// NewSummaryEngine builds a SummaryEngine. onSummary fires for every
// emitted progressiveSummary event (spec §6).
func NewSummaryEngine(translator SummaryTranslator, targetLang string, onSummary func(Summary)) *SummaryEngine {
	return &SummaryEngine{nextN: 1, translator: translator, targetLang: targetLang, onSummary: onSummary}
}

// AddSentence feeds one CombinedSentence's word count into the running
// total, triggering a summary request when a threshold is crossed.
// Threshold crossings are evaluated in the CombinedSentence emission order
// the caller feeds them in, so summaries are emitted strictly by threshold
// (spec §5).
func (s *SummaryEngine) AddSentence(ctx context.Context, cs CombinedSentence) {
	s.mu.Lock()
	s.pending = append(s.pending, cs)
	s.wordCount += len(strings.Fields(cs.SourceText))
	threshold := thresholdForN(s.nextN)
	crossed := s.wordCount >= threshold
	var batch []CombinedSentence
	var startMs, endMs uint64
	if crossed {
		batch = s.pending
		s.pending = nil
		if len(batch) > 0 {
			startMs = batch[0].TStartMs
			endMs = batch[len(batch)-1].TEndMs
		}
		s.nextN++
	}
	s.mu.Unlock()

	if !crossed {
		return
	}
	s.emit(ctx, threshold, batch, startMs, endMs)
}

func (s *SummaryEngine) emit(ctx context.Context, threshold int, batch []CombinedSentence, startMs, endMs uint64) {
	var sb strings.Builder
	s.mu.Lock()
	if s.lastSummary != "" {
		sb.WriteString(s.lastSummary)
		sb.WriteString(" ")
	}
	s.mu.Unlock()
	for _, cs := range batch {
		sb.WriteString(cs.SourceText)
		sb.WriteString(" ")
	}
	sourceText := strings.TrimSpace(sb.String())

	summaryText, err := s.translator.Summarize(ctx, prompts.Summarize(sourceText))
	if err != nil {
		summaryText = sourceText // degrade gracefully: summary call failed, fall back to raw excerpt
	}

	targetText := ""
	res, tErr := s.translator.Translate(ctx, TranslateRequest{
		SourceText: summaryText,
		TargetLang: s.targetLang,
		Priority:   PriorityHistory,
	}, TranslateCallbacks{})
	if tErr == nil {
		targetText = res.Text
	}

	s.mu.Lock()
	s.lastSummary = summaryText
	wordCount := s.wordCount
	s.mu.Unlock()

	if s.onSummary != nil {
		s.onSummary(Summary{
			ID:            uuid.NewString(),
			Threshold:     threshold,
			SourceText:    summaryText,
			TargetText:    targetText,
			WordCount:     wordCount,
			TRangeStartMs: startMs,
			TRangeEndMs:   endMs,
		})
	}
}
