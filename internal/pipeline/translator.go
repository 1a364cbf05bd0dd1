package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nlpodyssey/openai-agents-go/agents"
	"github.com/nlpodyssey/openai-agents-go/modelsettings"
	"github.com/openai/openai-go/v2/packages/param"
	"google.golang.org/genai"

	"github.com/ryouen/univoice-core/internal/metrics"
	"github.com/ryouen/univoice-core/internal/prompts"
)

// TranslateRequest is one TranslatorAdapter call (spec §4.5).
type TranslateRequest struct {
	SourceText string
	SourceLang string
	TargetLang string
	Priority   Priority
}

// TranslateCallbacks receives streamed translation events.
type TranslateCallbacks struct {
	OnFirstToken func()
	OnDelta      func(text string)
}

// TranslateResult is the aggregated output of one translation call.
type TranslateResult struct {
	Text            string
	TotalTokens     int
	ReasoningTokens int
}

// translateBackend is one pluggable translation engine.
type translateBackend interface {
	Translate(ctx context.Context, req TranslateRequest, cb TranslateCallbacks) (TranslateResult, error)
}

// TranslatorAdapter streams LLM translations at two quality classes: a
// nano-class fast model for realtime priority, and a mini-class
// higher-quality model for history priority (spec §4.5).
type TranslatorAdapter struct {
	realtimeBackend translateBackend
	historyBackend  translateBackend
}

// NewTranslatorAdapter wires the realtime (nano-class) and history
// (mini-class) backends. Both may be the same backend configured with
// different model names.
func NewTranslatorAdapter(realtime, history translateBackend) *TranslatorAdapter {
	return &TranslatorAdapter{realtimeBackend: realtime, historyBackend: history}
}

// Translate dispatches to the backend matching req.Priority, retrying
// inline on transient failure per spec §4.5 (250ms, 500ms, max 2 retries),
// extracting the canonical text per the output priority order (§4.5), and
// degrading to a Format error when the final text is empty with no error.
func (a *TranslatorAdapter) Translate(ctx context.Context, req TranslateRequest, cb TranslateCallbacks) (TranslateResult, *Error) {
	backend := a.realtimeBackend
	if req.Priority == PriorityHistory {
		backend = a.historyBackend
	}
	if backend == nil {
		return TranslateResult{}, NewError(ErrorLogic, "no translator backend registered", nil)
	}

	backoffs := []time.Duration{250 * time.Millisecond, 500 * time.Millisecond}
	var lastErr error
	for attempt := 0; attempt <= len(backoffs); attempt++ {
		res, err := backend.Translate(ctx, req, cb)
		if err == nil {
			if strings.TrimSpace(res.Text) == "" {
				return res, NewError(ErrorFormat, "empty translation with no provider error", nil)
			}
			return res, nil
		}
		lastErr = err
		if !isTransient(err) {
			return TranslateResult{}, classifyTranslateError(err)
		}
		if attempt < len(backoffs) {
			select {
			case <-time.After(backoffs[attempt]):
			case <-ctx.Done():
				return TranslateResult{}, NewError(ErrorTransient, "cancelled during retry backoff", ctx.Err())
			}
		}
	}
	return TranslateResult{}, NewError(ErrorTransient, "translation failed after retries", lastErr)
}

// summarizeBackend is implemented by translateBackends that can also run a
// plain completion under a caller-supplied prompt (no translate-specific
// system prompt).
type summarizeBackend interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}

// Summarize runs prompt through the history backend, letting
// TranslatorAdapter itself satisfy SummaryTranslator (spec §6,
// SUPPLEMENTED FEATURES: progressive summaries and the final report both
// route through the higher-quality history model, never the realtime one).
func (a *TranslatorAdapter) Summarize(ctx context.Context, prompt string) (string, error) {
	sb, ok := a.historyBackend.(summarizeBackend)
	if !ok {
		return "", fmt.Errorf("history backend does not support summarization")
	}
	return sb.Summarize(ctx, prompt)
}

func isTransient(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "503") ||
		strings.Contains(msg, "resource_exhausted") ||
		strings.Contains(msg, "unavailable") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection reset")
}

func classifyTranslateError(err error) *Error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "unauthorized") || strings.Contains(msg, "permission_denied"):
		return NewError(ErrorAuth, "translator rejected credentials", err)
	case strings.Contains(msg, "400") || strings.Contains(msg, "invalid_argument"):
		return NewError(ErrorBadRequest, "translator rejected request", err)
	default:
		return NewError(ErrorTransient, "translator call failed", err)
	}
}

// --- agents-go backend (OpenAI/Anthropic/Ollama-compatible providers) ---

// AgentTranslateBackend streams translation completions through the
// openai-agents-go SDK, generalizing AgentLLM's single-model Chat into a
// translation-specific system prompt per spec §6 ("translate <src> to
// <tgt>, output translation only").
type AgentTranslateBackend struct {
	provider  agents.ModelProvider
	model     string
	maxTokens int
}

// NewAgentTranslateBackend builds a backend bound to one provider/model
// pair (e.g. gpt-4.1-nano for realtime, gpt-4.1-mini for history).
func NewAgentTranslateBackend(provider agents.ModelProvider, model string, maxTokens int) *AgentTranslateBackend {
	return &AgentTranslateBackend{provider: provider, model: model, maxTokens: maxTokens}
}

func (b *AgentTranslateBackend) Translate(ctx context.Context, req TranslateRequest, cb TranslateCallbacks) (TranslateResult, error) {
	text, err := b.complete(ctx, prompts.Translate(req.SourceLang, req.TargetLang), req.SourceText, cb)
	if err != nil {
		return TranslateResult{}, err
	}
	return TranslateResult{Text: extractText(text)}, nil
}

// Summarize runs one completion under a summarizer system prompt rather
// than the translation one, letting the realtime/history split's
// underlying agent plumbing (agents.New/Runner.RunStreamedChan) serve the
// progressive-summary and final-report calls too (spec §6, SUPPLEMENTED
// FEATURES), not just translation.
func (b *AgentTranslateBackend) Summarize(ctx context.Context, prompt string) (string, error) {
	text, err := b.complete(ctx, "You are a precise, concise summarizer.", prompt, TranslateCallbacks{})
	if err != nil {
		return "", err
	}
	return extractText(text), nil
}

func (b *AgentTranslateBackend) complete(ctx context.Context, systemPrompt, userMessage string, cb TranslateCallbacks) (string, error) {
	agent := agents.New("translator").
		WithInstructions(systemPrompt).
		WithModel(b.model).
		WithModelSettings(modelsettings.ModelSettings{
			MaxTokens: param.NewOpt(int64(b.maxTokens)),
		})

	runner := agents.Runner{Config: agents.RunConfig{
		ModelProvider:   b.provider,
		MaxTurns:        1,
		TracingDisabled: true,
	}}

	events, errCh, err := runner.RunStreamedChan(ctx, agent, userMessage)
	if err != nil {
		return "", fmt.Errorf("completion stream start: %w", err)
	}

	var textBuf strings.Builder
	firstToken := false
	for ev := range events {
		raw, ok := ev.(agents.RawResponsesStreamEvent)
		if !ok || raw.Data.Type != "response.output_text.delta" {
			continue
		}
		if !firstToken {
			firstToken = true
			if cb.OnFirstToken != nil {
				cb.OnFirstToken()
			}
		}
		if cb.OnDelta != nil {
			cb.OnDelta(raw.Data.Delta)
		}
		textBuf.WriteString(raw.Data.Delta)
	}
	if streamErr := <-errCh; streamErr != nil {
		return "", fmt.Errorf("completion stream: %w", streamErr)
	}

	return textBuf.String(), nil
}

// extractText applies the canonical-field-first priority order of spec
// §4.5: here the SDK's delta-concatenated text is already the canonical
// field, so this is a pass-through trim kept as a named seam for providers
// whose structured content needs field-priority extraction.
func extractText(s string) string {
	return strings.TrimSpace(s)
}

// --- Gemini backend (google.golang.org/genai), with auto-degradation ---

// GeminiTranslateBackend wraps google.golang.org/genai with the
// degrade-on-429-then-auto-recover policy: on rate limiting it falls back
// to a cheaper model for 30s. The response text is returned as received;
// it is not checked for source-language leakage.
type GeminiTranslateBackend struct {
	client        *genai.Client
	model         string
	fallbackModel string
	degraded      atomic.Bool
	recoverAt     atomic.Int64
}

// NewGeminiTranslateBackend builds a Gemini-backed translator.
func NewGeminiTranslateBackend(ctx context.Context, apiKey, model, fallbackModel string) (*GeminiTranslateBackend, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiTranslateBackend{client: client, model: model, fallbackModel: fallbackModel}, nil
}

func (b *GeminiTranslateBackend) Translate(ctx context.Context, req TranslateRequest, cb TranslateCallbacks) (TranslateResult, error) {
	prompt := fmt.Sprintf(
		"Translate the following %s text to %s. Output ONLY the translation, nothing else.\n\n%s",
		req.SourceLang, req.TargetLang, req.SourceText,
	)
	text, err := b.generate(ctx, prompt)
	if err != nil {
		return TranslateResult{}, err
	}
	if cb.OnFirstToken != nil {
		cb.OnFirstToken()
	}
	if cb.OnDelta != nil && text != "" {
		cb.OnDelta(text)
	}
	return TranslateResult{Text: text}, nil
}

// Summarize runs prompt (already a complete summarization instruction from
// prompts.Summarize) through the same degrade-on-429 model selection as
// Translate, so progressive summaries share Gemini's rate-limit handling.
func (b *GeminiTranslateBackend) Summarize(ctx context.Context, prompt string) (string, error) {
	return b.generate(ctx, prompt)
}

func (b *GeminiTranslateBackend) generate(ctx context.Context, prompt string) (string, error) {
	model := b.activeModel()
	resp, err := b.client.Models.GenerateContent(ctx, model, genai.Text(prompt), nil)
	if err != nil {
		if isTransient(err) {
			b.degraded.Store(true)
			b.recoverAt.Store(time.Now().Add(30 * time.Second).UnixMilli())
			metrics.GeminiDegradeEvents.Inc()
			resp, err = b.client.Models.GenerateContent(ctx, b.fallbackModel, genai.Text(prompt), nil)
			if err != nil {
				return "", fmt.Errorf("gemini generate (fallback): %w", err)
			}
		} else {
			return "", fmt.Errorf("gemini generate: %w", err)
		}
	}
	return strings.TrimSpace(resp.Text()), nil
}

func (b *GeminiTranslateBackend) activeModel() string {
	if b.degraded.Load() {
		if time.Now().UnixMilli() >= b.recoverAt.Load() {
			b.degraded.Store(false)
			return b.model
		}
		return b.fallbackModel
	}
	return b.model
}
