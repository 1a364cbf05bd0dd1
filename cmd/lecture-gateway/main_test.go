package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryouen/univoice-core/internal/config"
	"github.com/ryouen/univoice-core/internal/pipeline"
)

func TestHandleHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	handleHealth(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestBuildTranslator_WithoutGeminiKeyFallsBackToAgentsGoForHistory(t *testing.T) {
	dc := deployConfig{
		openaiAPIKey: "test-key",
		openaiURL:    "https://api.openai.com",
		geminiAPIKey: "",
	}
	tunables := config.Default()

	translator := buildTranslator(dc, tunables)

	require.NotNil(t, translator)
	// TranslatorAdapter must satisfy SummaryTranslator so cmd/lecture-gateway
	// can wire the same instance as both Config.Translator and Config.Summarizer.
	var _ pipeline.SummaryTranslator = translator
	assert.NotNil(t, translator)
}
