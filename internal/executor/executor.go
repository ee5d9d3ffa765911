// Package executor implements the deferred limit-order executor
// (component C8): a tick -> resting-subaccount index plus a single FIFO
// queue, drained by a periodic background task that starts on first
// enqueue and stops once the queue runs dry.
package executor

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/btree"
	"gopkg.in/tomb.v2"

	"perpmatch/internal/common"
)

// DefaultInterval is how often the drain loop processes one queued
// conversion once it is running.
const DefaultInterval = 6 * time.Second

type tickSubs struct {
	tick uint64
	subs []common.Subaccount
}

// Executor tracks which subaccounts rest a limit position at which
// tick, and converts them to market positions once their tick is fully
// crossed by the swap engine.
//
// OnDrain is called from the drain loop's own goroutine, not the
// caller's serialized core goroutine; the owner (internal/market) is
// responsible for routing the call back onto its single serialization
// point, the same way the teacher's worker pool hands results back
// over a channel rather than mutating shared state from worker
// goroutines directly.
type Executor struct {
	mu       sync.Mutex
	index    *btree.BTreeG[*tickSubs]
	queue    []common.Subaccount
	interval time.Duration
	onDrain  func(common.Subaccount)

	running bool
	t       *tomb.Tomb
}

// New returns an executor with no pending work. The drain loop is not
// started until the first call to CrossTick.
func New(interval time.Duration, onDrain func(common.Subaccount)) *Executor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	index := btree.NewBTreeG(func(a, b *tickSubs) bool {
		return a.tick < b.tick
	})
	return &Executor{index: index, interval: interval, onDrain: onDrain}
}

// Register records that subaccount rests a limit position at tick, so
// it is found and queued when that tick is later fully crossed.
func (e *Executor) Register(tick uint64, sub common.Subaccount) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.index.Get(&tickSubs{tick: tick})
	if !ok {
		rec = &tickSubs{tick: tick}
		e.index.Set(rec)
	}
	rec.subs = append(rec.subs, sub)
}

// Unregister removes subaccount's entry at tick, used when a position
// closes or cancels before its tick is ever crossed.
func (e *Executor) Unregister(tick uint64, sub common.Subaccount) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.index.Get(&tickSubs{tick: tick})
	if !ok {
		return
	}
	for i, s := range rec.subs {
		if s == sub {
			rec.subs = append(rec.subs[:i], rec.subs[i+1:]...)
			break
		}
	}
	if len(rec.subs) == 0 {
		e.index.Delete(rec)
	}
}

// CrossTick moves every subaccount registered at tick onto the FIFO
// queue and, if the drain loop isn't already running, starts it.
func (e *Executor) CrossTick(tick uint64) {
	e.mu.Lock()
	rec, ok := e.index.Get(&tickSubs{tick: tick})
	if ok {
		e.queue = append(e.queue, rec.subs...)
		e.index.Delete(rec)
	}
	needStart := len(e.queue) > 0 && !e.running
	if needStart {
		e.running = true
		e.t = &tomb.Tomb{}
	}
	t := e.t
	e.mu.Unlock()

	if needStart {
		t.Go(func() error { return e.run(t) })
	}
}

// Pending reports the current queue depth, for diagnostics and
// snapshotting.
func (e *Executor) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// Stop kills the drain loop if running, for shutdown.
func (e *Executor) Stop() {
	e.mu.Lock()
	t := e.t
	e.mu.Unlock()
	if t != nil {
		t.Kill(nil)
		_ = t.Wait()
	}
}

func (e *Executor) run(t *tomb.Tomb) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.Dying():
			return nil
		case <-ticker.C:
			sub, ok := e.popOne()
			if !ok {
				e.mu.Lock()
				e.running = false
				e.mu.Unlock()
				return nil
			}
			log.Debug().Str("event", "executor_drain").Msg("converting limit position to market")
			e.onDrain(sub)
		}
	}
}

func (e *Executor) popOne() (common.Subaccount, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) == 0 {
		return common.Subaccount{}, false
	}
	sub := e.queue[0]
	e.queue = e.queue[1:]
	return sub, true
}
