package main

import (
	"net/http"

	"github.com/ryouen/univoice-core/internal/env"
)

// deployConfig holds deployment-layer settings from environment variables
// (URLs, ports, credentials): the first of the two configuration layers
// (SPEC_FULL.md's Configuration section).
type deployConfig struct {
	port string

	asrProvider string // "google" or "ws"
	asrWSURL    string
	asrHeaders  http.Header

	openaiAPIKey string
	openaiURL    string
	geminiAPIKey string

	postgresURL string

	deviceSampleRate int
	tunablesPath     string
}

func loadDeployConfig() deployConfig {
	return deployConfig{
		port: env.Str("GATEWAY_PORT", "8000"),

		asrProvider: env.Str("ASR_PROVIDER", "google"),
		asrWSURL:    env.Str("ASR_WS_URL", ""),

		openaiAPIKey: env.Str("OPENAI_API_KEY", ""),
		openaiURL:    env.Str("OPENAI_URL", "https://api.openai.com"),
		geminiAPIKey: env.Str("GEMINI_API_KEY", ""),

		postgresURL: env.Str("POSTGRES_URL", ""),

		deviceSampleRate: env.Int("AUDIO_DEVICE_SAMPLE_RATE", 16000),
		tunablesPath:     env.Str("LECTURE_TUNABLES_PATH", "lecture.json"),
	}
}
