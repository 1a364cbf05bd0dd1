package pipeline

import (
	"sync"
	"time"
)

const (
	opacityRecent = 1.0
	opacityOlder  = 0.6
	opacityOldest = 0.3
	fadeMultiplier = 0.6

	fadeDelayMs   = 1500
	retireDelayMs = 1500
)

// ThreeLineDisplay maintains at most 3 active DisplayPairs in positions
// {oldest, older, recent}, with a fade-then-retire timer per pair once its
// translation completes (spec §4.7).
type ThreeLineDisplay struct {
	mu    sync.Mutex
	pairs []*DisplayPair // ordered oldest-first, len <= 3
	byID  map[string]*DisplayPair
	timers map[string][]*time.Timer

	onUpdate func(DisplayPair)
	onRetire func(id string)
}

// NewThreeLineDisplay builds a display. onUpdate fires whenever a pair's
// visible state changes (position, opacity, text); onRetire fires when a
// pair leaves the active set.
func NewThreeLineDisplay(onUpdate func(DisplayPair), onRetire func(id string)) *ThreeLineDisplay {
	return &ThreeLineDisplay{
		byID:   make(map[string]*DisplayPair),
		timers: make(map[string][]*time.Timer),
		onUpdate: onUpdate,
		onRetire: onRetire,
	}
}

// UpdateOriginal attaches source text to the pair matching segmentID. If no
// pair matches segmentID, or the matching pair is not the current "recent"
// pair, a new pair is promoted (shifting recent->older->oldest and retiring
// the previous oldest).
func (d *ThreeLineDisplay) UpdateOriginal(segmentID, text string, isFinal bool, tMs uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if p, ok := d.byID[segmentID]; ok && len(d.pairs) > 0 && d.pairs[len(d.pairs)-1] == p {
		p.Original = DisplayOriginal{Text: text, IsFinal: isFinal, TMs: tMs}
		d.notifyLocked(p)
		return
	}

	p := &DisplayPair{
		ID:        segmentID,
		Original:  DisplayOriginal{Text: text, IsFinal: isFinal, TMs: tMs},
		Position:  PositionRecent,
		Opacity:   opacityRecent,
		StartTime: tMs,
	}
	d.byID[segmentID] = p
	d.promoteLocked(p)
}

func (d *ThreeLineDisplay) promoteLocked(newPair *DisplayPair) {
	d.pairs = append(d.pairs, newPair)
	for len(d.pairs) > 3 {
		retired := d.pairs[0]
		d.pairs = d.pairs[1:]
		d.retireLocked(retired)
	}
	d.reflowLocked()
}

// reflowLocked reassigns positions/opacity to the current up-to-3 pairs:
// last=recent, second-to-last=older, first=oldest.
func (d *ThreeLineDisplay) reflowLocked() {
	n := len(d.pairs)
	for i, p := range d.pairs {
		switch n - i {
		case 1:
			p.Position = PositionRecent
			p.Opacity = opacityRecent
		case 2:
			p.Position = PositionOlder
			p.Opacity = opacityOlder
		default:
			p.Position = PositionOldest
			p.Opacity = opacityOldest
		}
		if p.fading {
			p.Opacity *= fadeMultiplier
		}
		d.notifyLocked(p)
	}
}

// UpdateTranslation sets the translation text (the streamed text so far, or
// the final text) of the pair matching segmentID. Setting isComplete=true starts the fade-then-retire
// timer (1500ms + 1500ms, spec §4.7).
func (d *ThreeLineDisplay) UpdateTranslation(segmentID, text string, isComplete bool, tMs uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.byID[segmentID]
	if !ok {
		return
	}
	p.Translation.Text = text
	p.Translation.TMs = tMs
	if isComplete && !p.Translation.IsComplete {
		p.Translation.IsComplete = true
		complete := tMs
		p.TranslationCompleteTime = &complete
		d.startRemovalTimerLocked(p)
	}
	d.notifyLocked(p)
}

// CompleteTranslation marks a pair complete even with no further tokens
// (invoked by TimeoutRegistry on a timed-out translation).
func (d *ThreeLineDisplay) CompleteTranslation(segmentID string, nowMs uint64) {
	d.UpdateTranslation(segmentID, d.currentText(segmentID), true, nowMs)
}

func (d *ThreeLineDisplay) currentText(segmentID string) string {
	if p, ok := d.byID[segmentID]; ok {
		return p.Translation.Text
	}
	return ""
}

func (d *ThreeLineDisplay) startRemovalTimerLocked(p *DisplayPair) {
	fadeTimer := time.AfterFunc(fadeDelayMs*time.Millisecond, func() {
		d.mu.Lock()
		p.fading = true
		d.reflowLocked()
		d.mu.Unlock()
	})
	retireTimer := time.AfterFunc((fadeDelayMs+retireDelayMs)*time.Millisecond, func() {
		d.mu.Lock()
		d.removePairLocked(p.ID)
		d.mu.Unlock()
	})
	d.timers[p.ID] = []*time.Timer{fadeTimer, retireTimer}
}

func (d *ThreeLineDisplay) removePairLocked(id string) {
	for i, p := range d.pairs {
		if p.ID == id {
			d.pairs = append(d.pairs[:i], d.pairs[i+1:]...)
			break
		}
	}
	d.retireLocked(d.byID[id])
	d.reflowLocked()
}

func (d *ThreeLineDisplay) retireLocked(p *DisplayPair) {
	if p == nil {
		return
	}
	delete(d.byID, p.ID)
	for _, t := range d.timers[p.ID] {
		t.Stop()
	}
	delete(d.timers, p.ID)
	if d.onRetire != nil {
		d.onRetire(p.ID)
	}
}

func (d *ThreeLineDisplay) notifyLocked(p *DisplayPair) {
	if d.onUpdate != nil {
		d.onUpdate(*p)
	}
}

// ActiveCount returns the number of currently active pairs (always <= 3).
func (d *ThreeLineDisplay) ActiveCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pairs)
}
