// Package config loads lecture.json's tunable knobs (timing constants,
// model names, thresholds) and keeps them hot-reloadable via fsnotify.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/ryouen/univoice-core/internal/pipeline"
)

// ModelTunables names the two translator quality classes.
type ModelTunables struct {
	RealtimeModel         string `json:"realtimeModel"`
	HistoryModel          string `json:"historyModel"`
	GeminiModel           string `json:"geminiModel"`
	GeminiFallbackModel   string `json:"geminiFallbackModel"`
	RealtimeMaxTokens     int    `json:"realtimeMaxTokens"`
	HistoryMaxTokens      int    `json:"historyMaxTokens"`
}

// Tunables is the full set of retunable knobs, mirroring each pipeline
// component's *Config struct so lecture.json sections map 1:1 onto them.
type Tunables struct {
	Coalescer pipeline.CoalescerConfig `json:"coalescer"`
	Combiner  pipeline.CombinerConfig  `json:"combiner"`
	Queue     pipeline.QueueConfig     `json:"queue"`
	Timeout   pipeline.TimeoutConfig   `json:"timeout"`
	History   pipeline.HistoryConfig   `json:"history"`
	Paragraph pipeline.ParagraphConfig `json:"paragraph"`
	Models    ModelTunables            `json:"models"`

	// ParagraphEnabled gates the optional paragraph-grouping extension
	// (spec §9); sentence-based history stays canonical either way.
	ParagraphEnabled bool `json:"paragraphEnabled"`
}

// Default mirrors every component's own DefaultXConfig(), used when
// lecture.json is absent or fails to parse.
func Default() *Tunables {
	return &Tunables{
		Coalescer: pipeline.DefaultCoalescerConfig(),
		Combiner:  pipeline.DefaultCombinerConfig(),
		Queue:     pipeline.DefaultQueueConfig(),
		Timeout:   pipeline.DefaultTimeoutConfig(),
		History:   pipeline.DefaultHistoryConfig(),
		Paragraph: pipeline.DefaultParagraphConfig(),
		Models: ModelTunables{
			RealtimeModel:       "gpt-4.1-nano",
			HistoryModel:        "gpt-4.1-mini",
			GeminiModel:         "gemini-2.0-flash",
			GeminiFallbackModel: "gemini-2.0-flash-lite",
			RealtimeMaxTokens:   200,
			HistoryMaxTokens:    500,
		},
	}
}

// Load reads path and overlays it onto Default(); a missing or malformed
// file falls back to defaults rather than failing startup.
func Load(path string) *Tunables {
	t := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Info("no tunables file, using defaults", "path", path)
		return t
	}
	if err := json.Unmarshal(data, t); err != nil {
		slog.Warn("bad tunables file, using defaults", "path", path, "error", err)
		return Default()
	}
	slog.Info("loaded tunables", "path", path)
	return t
}

// HotTunables wraps a *Tunables behind an atomic.Pointer so readers never
// block on a reload, swapping the whole struct on every successful parse.
type HotTunables struct {
	path string
	cur  atomic.Pointer[Tunables]
	subs []func(*Tunables)
}

// NewHotTunables loads path once and returns a reader/watcher bound to it.
func NewHotTunables(path string) *HotTunables {
	hc := &HotTunables{path: path}
	hc.cur.Store(Load(path))
	return hc
}

// Get returns the current tunables snapshot. Safe for concurrent use.
func (hc *HotTunables) Get() *Tunables {
	return hc.cur.Load()
}

// OnReload registers a callback invoked with the new snapshot after every
// successful reload.
func (hc *HotTunables) OnReload(fn func(*Tunables)) {
	hc.subs = append(hc.subs, fn)
}

func (hc *HotTunables) reload() {
	t := Load(hc.path)
	hc.cur.Store(t)
	slog.Info("tunables reloaded", "path", hc.path)
	for _, fn := range hc.subs {
		fn(t)
	}
}

// Watch starts an fsnotify watcher on path, reloading on every write or
// create event. The watcher runs until the process exits.
func (hc *HotTunables) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("tunables watcher: %w", err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
					hc.reload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("tunables watcher error", "err", err)
			}
		}
	}()

	if err := watcher.Add(hc.path); err != nil {
		return fmt.Errorf("watch tunables file: %w", err)
	}
	return nil
}
