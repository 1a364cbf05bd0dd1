package main

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ryouen/univoice-core/internal/config"
	"github.com/ryouen/univoice-core/internal/eventbus"
	"github.com/ryouen/univoice-core/internal/pipeline"
	"github.com/ryouen/univoice-core/internal/trace"
)

// sessionManager binds one PipelineController per connected eventbus.Bus,
// since SessionHandler's onCommand/onAudio/onClose closures are shared
// across every connection the gateway serves (spec §5: "the pipeline task"
// owns exactly one Controller per lecture session).
type sessionManager struct {
	dc         deployConfig
	translator *pipeline.TranslatorAdapter
	tunables   *config.HotTunables
	traceStore *trace.Store

	mu       sync.Mutex
	sessions map[*eventbus.Bus]*pipeline.Controller
}

func newSessionManager(dc deployConfig, translator *pipeline.TranslatorAdapter, tunables *config.HotTunables, traceStore *trace.Store) *sessionManager {
	return &sessionManager{
		dc:         dc,
		translator: translator,
		tunables:   tunables,
		traceStore: traceStore,
		sessions:   make(map[*eventbus.Bus]*pipeline.Controller),
	}
}

func (m *sessionManager) controllerFor(bus *eventbus.Bus) (*pipeline.Controller, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.sessions[bus]
	return c, ok
}

// onCommand dispatches one decoded command to the bus's session,
// lazily creating the PipelineController on startListening (spec §6's
// command surface).
func (m *sessionManager) onCommand(cmd eventbus.Command, bus *eventbus.Bus) {
	correlationID := cmd.CorrelationID
	if correlationID == "" {
		correlationID = pipeline.NewCorrelationID()
	}
	bus.Track(correlationID, cmd.Name, 0)

	switch cmd.Name {
	case "startListening":
		m.startListening(cmd, bus, correlationID)
	case "stopListening":
		if c, ok := m.controllerFor(bus); ok {
			c.Stop(correlationID)
		}
	case "getHistory":
		if c, ok := m.controllerFor(bus); ok {
			bus.Emit(eventbus.Event{
				Type:          "history",
				CorrelationID: correlationID,
				History:       toHistoryView(c.GetHistory()),
			})
		}
	case "clearHistory":
		if c, ok := m.controllerFor(bus); ok {
			c.ClearHistory()
		}
	case "generateVocabulary":
		if c, ok := m.controllerFor(bus); ok {
			go c.GenerateVocabulary(context.Background())
		}
	case "generateFinalReport":
		if c, ok := m.controllerFor(bus); ok {
			go c.GenerateFinalReport(context.Background())
		}
	default:
		slog.Warn("unknown command", "name", cmd.Name)
	}
}

func (m *sessionManager) startListening(cmd eventbus.Command, bus *eventbus.Bus, correlationID string) {
	tunables := m.tunables.Get()
	cfg := pipeline.Config{
		Coalescer:        tunables.Coalescer,
		Combiner:         tunables.Combiner,
		Queue:            tunables.Queue,
		Timeout:          tunables.Timeout,
		History:          tunables.History,
		Translator:       m.translator,
		Summarizer:       m.translator,
		DeviceSampleRate: m.dc.deviceSampleRate,
		NewAsrClient:     m.newAsrBackend,
	}
	if tunables.ParagraphEnabled {
		cfg.Paragraph = &tunables.Paragraph
	}

	if m.traceStore != nil {
		sessionID := correlationID
		if err := m.traceStore.CreateSession(sessionID, cmd.SourceLanguage+"->"+cmd.TargetLanguage); err != nil {
			slog.Warn("trace session create failed", "error", err)
		} else {
			cfg.Tracer = trace.NewTracer(m.traceStore, sessionID)
		}
	}

	c := pipeline.New(cfg, bus)

	m.mu.Lock()
	m.sessions[bus] = c
	m.mu.Unlock()

	ctx := context.Background()
	if err := c.Start(ctx, cmd.SourceLanguage, cmd.TargetLanguage, correlationID); err != nil {
		slog.Error("pipeline start failed", "error", err)
	}
}

// newAsrBackend selects the configured ASR provider (spec §4.2, DOMAIN
// STACK): cloud.google.com/go/speech by default, or a generic WebSocket
// ASR backend when ASR_PROVIDER=ws.
func (m *sessionManager) newAsrBackend(cb pipeline.AsrCallbacks) pipeline.AsrBackend {
	if m.dc.asrProvider == "ws" {
		return pipeline.NewAsrClient(pipeline.AsrConfig{
			URL:         m.dc.asrWSURL,
			Headers:     m.dc.asrHeaders,
			KeepAliveMs: 10000,
		}, cb)
	}
	backend, err := pipeline.NewGoogleAsrBackend(context.Background(), "en-US", nil, cb)
	if err != nil {
		slog.Error("google asr backend init failed", "error", err)
		return failedAsrBackend{err: err, cb: cb}
	}
	return backend
}

// failedAsrBackend satisfies pipeline.AsrBackend when the real backend
// could not be constructed (e.g. missing Google credentials), so
// Controller.Start still gets a clean Connect error instead of a nil
// interface panic.
type failedAsrBackend struct {
	err error
	cb  pipeline.AsrCallbacks
}

func (f failedAsrBackend) Connect(ctx context.Context) error {
	aerr := pipeline.NewError(pipeline.ErrorResource, "asr backend unavailable", f.err)
	if f.cb.OnError != nil {
		f.cb.OnError(aerr)
	}
	return aerr
}
func (f failedAsrBackend) Send(frame []byte)       {}
func (f failedAsrBackend) Close()                  {}
func (f failedAsrBackend) State() pipeline.AsrState { return pipeline.AsrDisconnected }

// onAudio routes one inbound PCM16LE chunk to the bus's active session.
func (m *sessionManager) onAudio(frame []byte, bus *eventbus.Bus) {
	if c, ok := m.controllerFor(bus); ok {
		c.SendAudio(frame)
	}
}

// onClose stops and forgets the bus's session when its connection ends,
// covering disconnects that never send stopListening.
func (m *sessionManager) onClose(bus *eventbus.Bus) {
	m.mu.Lock()
	c, ok := m.sessions[bus]
	delete(m.sessions, bus)
	m.mu.Unlock()
	if ok {
		c.Stop(pipeline.NewCorrelationID())
	}
}

// stopAll stops every live session, used during graceful shutdown.
func (m *sessionManager) stopAll() {
	m.mu.Lock()
	controllers := make([]*pipeline.Controller, 0, len(m.sessions))
	for _, c := range m.sessions {
		controllers = append(controllers, c)
	}
	m.mu.Unlock()
	for _, c := range controllers {
		c.Stop(pipeline.NewCorrelationID())
	}
}

func toHistoryView(blocks []pipeline.HistoryBlock) []eventbus.HistoryBlockView {
	views := make([]eventbus.HistoryBlockView, 0, len(blocks))
	for _, b := range blocks {
		sentences := make([]eventbus.HistorySentenceView, 0, len(b.Sentences))
		for _, s := range b.Sentences {
			sentences = append(sentences, eventbus.HistorySentenceView{
				CombinedID:  s.CombinedID,
				SegmentIDs:  s.SegmentIDs,
				SourceText:  s.SourceText,
				Translation: s.Translation,
				TStartMs:    s.TStartMs,
				TEndMs:      s.TEndMs,
			})
		}
		views = append(views, eventbus.HistoryBlockView{
			ID:          b.ID,
			Sentences:   sentences,
			CreatedAtMs: b.CreatedAtMs,
			DurationMs:  b.DurationMs,
			IsParagraph: b.IsParagraph,
		})
	}
	return views
}
