package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ryouen/univoice-core/internal/metrics"
)

// TimeoutConfig tunes TimeoutRegistry (spec §4.6).
type TimeoutConfig struct {
	DefaultMs int
	MaxMs     int
}

// DefaultTimeoutConfig returns the spec defaults.
func DefaultTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{DefaultMs: 7000, MaxMs: 10000}
}

type registryEntry struct {
	timer     *time.Timer
	cancel    context.CancelFunc
	completed bool
}

// TimeoutRegistry starts a timer for every final segment entering
// translation. On timeout it cancels the inflight translation (best
// effort), completes the display with a placeholder, adds the placeholder
// to history, and frees the slot. A translation that completes before its
// timer fires is a no-op on fire; one that fires after completion is
// ignored.
type TimeoutRegistry struct {
	cfg TimeoutConfig
	mu  sync.Mutex
	byTarget map[string]*registryEntry

	onTimeout func(targetID string)
}

// NewTimeoutRegistry builds a registry that invokes onTimeout exactly once
// per targetID whose translation does not complete in time.
func NewTimeoutRegistry(cfg TimeoutConfig, onTimeout func(targetID string)) *TimeoutRegistry {
	return &TimeoutRegistry{cfg: cfg, byTarget: make(map[string]*registryEntry), onTimeout: onTimeout}
}

// Start begins a timeout timer for targetID. sourceTextLen lengthens the
// timeout up to MaxMs for long source text (spec §4.6: "dynamically
// extended to at most 10000 ms for long source text").
func (r *TimeoutRegistry) Start(targetID string, sourceTextLen int, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	timeoutMs := r.cfg.DefaultMs
	if extended := r.cfg.DefaultMs + sourceTextLen*2; extended > timeoutMs && extended <= r.cfg.MaxMs {
		timeoutMs = extended
	} else if extended > r.cfg.MaxMs {
		timeoutMs = r.cfg.MaxMs
	}

	e := &registryEntry{cancel: cancel}
	e.timer = time.AfterFunc(time.Duration(timeoutMs)*time.Millisecond, func() {
		r.fire(targetID)
	})
	r.byTarget[targetID] = e
}

// Complete marks targetID's translation as finished; if its timer has not
// yet fired, it is stopped and becomes a no-op.
func (r *TimeoutRegistry) Complete(targetID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byTarget[targetID]
	if !ok {
		return
	}
	e.completed = true
	e.timer.Stop()
	delete(r.byTarget, targetID)
}

func (r *TimeoutRegistry) fire(targetID string) {
	r.mu.Lock()
	e, ok := r.byTarget[targetID]
	if !ok || e.completed {
		r.mu.Unlock()
		return
	}
	delete(r.byTarget, targetID)
	r.mu.Unlock()

	priority := "realtime"
	if strings.HasPrefix(targetID, "history_") {
		priority = "history"
	}
	metrics.TranslationTimeouts.WithLabelValues(priority).Inc()

	if e.cancel != nil {
		e.cancel()
	}
	if r.onTimeout != nil {
		r.onTimeout(targetID)
	}
}

// Cancel stops targetID's timer without invoking onTimeout (used when the
// pipeline is stopping and the translation is being force-cancelled through
// a different path). A cancelled entry's timer must not fire twice.
func (r *TimeoutRegistry) Cancel(targetID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byTarget[targetID]
	if !ok {
		return
	}
	e.timer.Stop()
	delete(r.byTarget, targetID)
}
