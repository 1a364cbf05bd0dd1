package trace

import "time"

// Session represents one lecture run: the WebSocket connection spanning a
// startListening/stopListening pair.
type Session struct {
	ID        string    `json:"id"`
	Metadata  string    `json:"metadata"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	RunCount  int       `json:"run_count,omitempty"`
}

// Run represents one dispatched Translation (spec §3): a CombinedSentence
// fans out into two Runs, one per Priority, since realtime and history
// translations race independently through the TranslationQueue.
type Run struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	Priority     string    `json:"priority"`
	StartedAt    time.Time `json:"started_at"`
	FirstPaintMs float64   `json:"first_paint_ms,omitempty"`
	DurationMs   float64   `json:"duration_ms,omitempty"`
	Transcript   string    `json:"transcript,omitempty"`
	Response     string    `json:"response,omitempty"`
	Status       string    `json:"status"`
	SpanCount    int       `json:"span_count,omitempty"`
}

// Span represents one pipeline component's stage execution within a run
// (e.g. "combine", "translate:realtime", "translate:history").
type Span struct {
	ID         string    `json:"id"`
	RunID      string    `json:"run_id"`
	Name       string    `json:"name"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs float64   `json:"duration_ms"`
	Input      string    `json:"input,omitempty"`
	Output     string    `json:"output,omitempty"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
}
