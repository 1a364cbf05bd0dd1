// Package metrics registers the pipeline's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pipeline_sessions_active",
		Help: "Currently active lecture sessions",
	})

	SessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_sessions_total",
		Help: "Total lecture sessions started",
	})

	// PipelineState counts state-machine transitions (spec §4.10), labeled
	// by the entered state.
	PipelineState = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_state_transitions_total",
		Help: "PipelineController state transitions by entered state",
	}, []string{"state"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_stage_duration_seconds",
		Help:    "Per-stage latency",
		Buckets: []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.8, 1.0, 2.0, 5.0},
	}, []string{"stage"})

	TranslationFirstPaintDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "translation_first_paint_duration_seconds",
		Help:    "Latency from sentence completion to first translated token",
		Buckets: []float64{0.1, 0.2, 0.3, 0.5, 0.8, 1.0, 1.5, 2.0, 3.0},
	})

	TranslationCompleteDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "translation_complete_duration_seconds",
		Help:    "Latency from enqueue to translation completion, by priority",
		Buckets: []float64{0.2, 0.5, 1.0, 2.0, 3.0, 5.0, 7.0, 10.0},
	}, []string{"priority"})

	TranslationQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "translation_queue_depth",
		Help: "Pending translation queue depth, by priority",
	}, []string{"priority"})

	TranslationTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "translation_timeouts_total",
		Help: "Translations that exceeded their deadline, by priority",
	}, []string{"priority"})

	TranslationDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "translation_drops_total",
		Help: "Translations dropped at enqueue due to a full queue, by priority",
	}, []string{"priority"})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_errors_total",
		Help: "Error counts by stage and kind",
	}, []string{"stage", "kind"})

	AudioFramesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audio_frames_processed_total",
		Help: "Total 20ms audio frames produced by AudioFramer",
	})

	CoalescerCommits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coalescer_commits_total",
		Help: "Segments committed by SegmentCoalescer via debounce, force-commit, or flush",
	})

	ASRReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "asr_reconnects_total",
		Help: "AsrClient reconnect attempts",
	})

	GeminiDegradeEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gemini_backend_degrade_total",
		Help: "GeminiTranslateBackend transitions into the fallback model due to rate limiting",
	})
)
