package pipeline

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ryouen/univoice-core/internal/metrics"
)

// QueueConfig tunes TranslationQueue (spec §4.5).
type QueueConfig struct {
	Concurrency   int
	QmaxRealtime  int
	QmaxHistory   int
}

// DefaultQueueConfig returns the spec defaults.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{Concurrency: 3, QmaxRealtime: 64, QmaxHistory: 128}
}

type queueItem struct {
	translation *Translation
	run         func(ctx context.Context, t *Translation) error
	ctx         context.Context
	cancel      context.CancelFunc
}

// TranslationQueue is two FIFOs (realtime, history) dispatched under a
// shared concurrency cap that always reserves at least one realtime slot:
// history is admitted only when a realtime slot is free.
type TranslationQueue struct {
	cfg QueueConfig

	mu       sync.Mutex
	realtime []queueItem
	history  []queueItem

	inflightRealtime int
	inflightTotal    int

	onDrop func(t *Translation)

	dispatchCh chan struct{}
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// NewTranslationQueue starts a queue whose dispatch loop runs until Close.
// onDrop is invoked for shed history entries (spec's translation-dropped
// event).
func NewTranslationQueue(cfg QueueConfig, onDrop func(t *Translation)) *TranslationQueue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &TranslationQueue{
		cfg:        cfg,
		onDrop:     onDrop,
		dispatchCh: make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
	}
	q.wg.Add(1)
	go q.dispatchLoop()
	return q
}

// Enqueue submits a translation for execution. run performs the actual
// TranslatorAdapter call and must respect ctx cancellation. The returned
// CancelFunc lets a caller (TimeoutRegistry) interrupt this specific
// translation without affecting any other queued or inflight item.
func (q *TranslationQueue) Enqueue(t *Translation, run func(ctx context.Context, t *Translation) error) context.CancelFunc {
	q.mu.Lock()
	t.Status = TranslationQueued
	ctx, cancel := context.WithCancel(q.ctx)
	item := queueItem{translation: t, run: run, ctx: ctx, cancel: cancel}
	if t.Priority == PriorityRealtime {
		q.realtime = append(q.realtime, item)
		if len(q.realtime) > q.cfg.QmaxRealtime {
			// Realtime is never dropped; shedding happens on history only.
		}
	} else {
		q.history = append(q.history, item)
		for len(q.history) > q.cfg.QmaxHistory {
			dropped := q.history[0]
			q.history = q.history[1:]
			dropped.translation.Status = TranslationFailed
			dropped.cancel()
			metrics.TranslationDrops.WithLabelValues(string(dropped.translation.Priority)).Inc()
			if q.onDrop != nil {
				q.onDrop(dropped.translation)
			}
		}
	}
	metrics.TranslationQueueDepth.WithLabelValues("realtime").Set(float64(len(q.realtime)))
	metrics.TranslationQueueDepth.WithLabelValues("history").Set(float64(len(q.history)))
	q.mu.Unlock()
	q.wake()
	return cancel
}

func (q *TranslationQueue) wake() {
	select {
	case q.dispatchCh <- struct{}{}:
	default:
	}
}

func (q *TranslationQueue) dispatchLoop() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case <-q.dispatchCh:
			q.dispatchReady()
		}
	}
}

func (q *TranslationQueue) dispatchReady() {
	for {
		item, ok := q.popNext()
		if !ok {
			return
		}
		q.runItem(item)
	}
}

// popNext picks realtime if non-empty and a slot is free; otherwise history
// if a slot is free and at least one realtime slot remains reserved.
func (q *TranslationQueue) popNext() (queueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.inflightTotal >= q.cfg.Concurrency {
		return queueItem{}, false
	}

	if len(q.realtime) > 0 {
		item := q.realtime[0]
		q.realtime = q.realtime[1:]
		q.inflightRealtime++
		q.inflightTotal++
		return item, true
	}

	if len(q.history) > 0 {
		realtimeSlotsFree := q.cfg.Concurrency - q.inflightTotal
		reservedForRealtime := 1
		if q.inflightRealtime == 0 && realtimeSlotsFree <= reservedForRealtime {
			return queueItem{}, false
		}
		item := q.history[0]
		q.history = q.history[1:]
		q.inflightTotal++
		return item, true
	}

	return queueItem{}, false
}

func (q *TranslationQueue) runItem(item queueItem) {
	item.translation.Status = TranslationInflight
	var grp errgroup.Group
	grp.Go(func() error {
		defer item.cancel()
		defer q.release(item.translation)
		return item.run(item.ctx, item.translation)
	})
	// Fire-and-continue: the dispatch loop must not block on this
	// translation's completion, only on slot accounting via release().
	go func() {
		_ = grp.Wait()
		q.wake()
	}()
}

func (q *TranslationQueue) release(t *Translation) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.inflightTotal--
	if t.Priority == PriorityRealtime {
		q.inflightRealtime--
	}
}

// Close stops the dispatch loop and cancels the queue's context, which is
// the parent of every item's context, so inflight translations are
// cancelled too. It then waits for the dispatch loop to exit.
func (q *TranslationQueue) Close() {
	q.cancel()
	q.wg.Wait()
}

// Len reports the current (realtime, history) queue depths, for metrics.
func (q *TranslationQueue) Len() (realtime, history int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.realtime), len(q.history)
}
