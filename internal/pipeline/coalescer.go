package pipeline

import (
	"sync"
	"time"

	"github.com/ryouen/univoice-core/internal/metrics"
)

// CoalescerConfig tunes SegmentCoalescer timing (spec §4.3).
type CoalescerConfig struct {
	DebounceMs     int
	ForceCommitMs  int
	MaxInactiveMs  int
}

// DefaultCoalescerConfig returns the spec defaults.
func DefaultCoalescerConfig() CoalescerConfig {
	return CoalescerConfig{DebounceMs: 160, ForceCommitMs: 1100, MaxInactiveMs: 5000}
}

type coalescerEntry struct {
	lastText     string
	lastUpdateMs uint64
	firstSeenMs  uint64
	debounce     *time.Timer
	forceCommit  *time.Timer
	lastActivity time.Time
}

// SegmentCoalescer bounds interim-update churn: it emits a "stable" segment
// when debounceMs has elapsed since the last update, or forceCommitMs has
// elapsed since the segment was first seen, or the segment is final.
type SegmentCoalescer struct {
	cfg     CoalescerConfig
	mu      sync.Mutex
	entries map[string]*coalescerEntry
	emit    func(Segment)
	gcStop  chan struct{}
}

// NewSegmentCoalescer builds a coalescer that invokes emit for every stable
// segment it produces.
func NewSegmentCoalescer(cfg CoalescerConfig, emit func(Segment)) *SegmentCoalescer {
	c := &SegmentCoalescer{
		cfg:     cfg,
		entries: make(map[string]*coalescerEntry),
		emit:    emit,
		gcStop:  make(chan struct{}),
	}
	go c.gcLoop()
	return c
}

// Update feeds one ASR result (interim or final) into the coalescer.
func (c *SegmentCoalescer) Update(seg Segment, nowMs uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[seg.ID]
	if !ok {
		e = &coalescerEntry{firstSeenMs: nowMs}
		c.entries[seg.ID] = e
		e.forceCommit = time.AfterFunc(time.Duration(c.cfg.ForceCommitMs)*time.Millisecond, func() {
			c.commit(seg.ID, nowMs)
		})
	}
	e.lastText = seg.Text
	e.lastUpdateMs = nowMs
	e.lastActivity = time.Now()

	if e.debounce != nil {
		e.debounce.Stop()
	}

	if seg.IsFinal {
		c.emitLocked(seg.ID, seg)
		return
	}

	segCopy := seg
	e.debounce = time.AfterFunc(time.Duration(c.cfg.DebounceMs)*time.Millisecond, func() {
		c.commit(seg.ID, nowMs)
		_ = segCopy
	})
}

func (c *SegmentCoalescer) commit(id string, nowMs uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return
	}
	c.emitLocked(id, Segment{ID: id, Text: e.lastText, IsFinal: false, Stable: true})
}

func (c *SegmentCoalescer) emitLocked(id string, seg Segment) {
	seg.Stable = true
	e := c.entries[id]
	if e != nil {
		if e.debounce != nil {
			e.debounce.Stop()
		}
		if seg.IsFinal {
			if e.forceCommit != nil {
				e.forceCommit.Stop()
			}
			delete(c.entries, id)
		}
	}
	metrics.CoalescerCommits.Inc()
	if c.emit != nil {
		c.emit(seg)
	}
}

func (c *SegmentCoalescer) gcLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-c.gcStop:
			return
		case <-ticker.C:
			c.gcInactive()
		}
	}
}

func (c *SegmentCoalescer) gcInactive() {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := time.Duration(c.cfg.MaxInactiveMs) * time.Millisecond
	now := time.Now()
	for id, e := range c.entries {
		if now.Sub(e.lastActivity) >= cutoff {
			if e.debounce != nil {
				e.debounce.Stop()
			}
			if e.forceCommit != nil {
				e.forceCommit.Stop()
			}
			delete(c.entries, id)
		}
	}
}

// Close stops the garbage-collection loop.
func (c *SegmentCoalescer) Close() {
	close(c.gcStop)
}
