package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nlpodyssey/openai-agents-go/agents"
	"github.com/openai/openai-go/v2/packages/param"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ryouen/univoice-core/internal/config"
	"github.com/ryouen/univoice-core/internal/eventbus"
	"github.com/ryouen/univoice-core/internal/pipeline"
	"github.com/ryouen/univoice-core/internal/trace"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	dc := loadDeployConfig()
	tunables := config.NewHotTunables(dc.tunablesPath)
	if err := tunables.Watch(); err != nil {
		slog.Warn("tunables hot-reload disabled", "error", err)
	}

	translator := buildTranslator(dc, tunables.Get())

	var traceStore *trace.Store
	if dc.postgresURL != "" {
		var err error
		traceStore, err = trace.Open(dc.postgresURL)
		if err != nil {
			slog.Error("trace store open failed", "error", err)
		} else {
			slog.Info("tracing enabled", "postgres", dc.postgresURL)
		}
	}

	sessions := newSessionManager(dc, translator, tunables, traceStore)

	mux := http.NewServeMux()
	mux.Handle("/ws/lecture", eventbus.NewSessionHandler(sessions.onCommand, sessions.onAudio, sessions.onClose))
	mux.HandleFunc("/health", handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	registerTraceRoutes(mux, traceStore)

	addr := ":" + dc.port
	srv := &http.Server{Addr: addr, Handler: mux}

	go awaitShutdown(srv, sessions, traceStore)

	slog.Info("lecture-gateway starting", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("lecture-gateway stopped")
}

// buildTranslator wires the realtime (nano-class, agents-go/OpenAI) and
// history (mini-class, Gemini when credentialed, otherwise agents-go)
// backends into one TranslatorAdapter, the pairing SPEC_FULL.md's DOMAIN
// STACK calls for.
func buildTranslator(dc deployConfig, t *config.Tunables) *pipeline.TranslatorAdapter {
	provider := agents.NewOpenAIProvider(agents.OpenAIProviderParams{
		BaseURL:      param.NewOpt(dc.openaiURL + "/v1/"),
		APIKey:       param.NewOpt(dc.openaiAPIKey),
		UseResponses: param.NewOpt(true),
	})
	realtime := pipeline.NewAgentTranslateBackend(provider, t.Models.RealtimeModel, t.Models.RealtimeMaxTokens)

	var history translateBackend
	if dc.geminiAPIKey != "" {
		gemini, err := pipeline.NewGeminiTranslateBackend(context.Background(), dc.geminiAPIKey, t.Models.GeminiModel, t.Models.GeminiFallbackModel)
		if err != nil {
			slog.Error("gemini backend init failed, falling back to agents-go history model", "error", err)
			history = pipeline.NewAgentTranslateBackend(provider, t.Models.HistoryModel, t.Models.HistoryMaxTokens)
		} else {
			history = gemini
		}
	} else {
		history = pipeline.NewAgentTranslateBackend(provider, t.Models.HistoryModel, t.Models.HistoryMaxTokens)
	}

	return pipeline.NewTranslatorAdapter(realtime, history)
}

// translateBackend mirrors the unexported interface pipeline.TranslatorAdapter
// dispatches to; Go's structural typing lets *pipeline.AgentTranslateBackend
// and *pipeline.GeminiTranslateBackend satisfy it from outside that package.
type translateBackend interface {
	Translate(ctx context.Context, req pipeline.TranslateRequest, cb pipeline.TranslateCallbacks) (pipeline.TranslateResult, error)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// awaitShutdown blocks until SIGINT/SIGTERM, then stops every live session
// and closes shared resources before the HTTP server shuts down.
func awaitShutdown(srv *http.Server, sessions *sessionManager, traceStore *trace.Store) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sessions.stopAll()
	if traceStore != nil {
		traceStore.Close()
	}

	srv.Shutdown(ctx)
}
