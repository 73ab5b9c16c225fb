// Package epoch implements the epoch framework: a monotonically advancing
// global epoch, per-worker local epoch slots, and the fence rule that ties
// them together so commit TIDs can embed an epoch and payload buffers can
// be reclaimed once no live transaction can still observe them.
package epoch

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/navijation/njtxn/tid"
)

// LocalEpoch is a non-owning per-worker slot. A worker copies the global
// epoch into it on entering a transaction and marks itself inactive
// between transactions so the Advancer does not wait on an idle worker.
type LocalEpoch struct {
	value      atomic.Uint64
	active     atomic.Bool
	lastCommit atomic.Uint64
}

// Enter records that this worker is now live in epoch e.
func (l *LocalEpoch) Enter(e uint64) {
	l.value.Store(e)
	l.active.Store(true)
}

// Exit marks the worker idle; it no longer pins the reclamation fence.
func (l *LocalEpoch) Exit() {
	l.active.Store(false)
}

// Load returns the worker's last-published local epoch.
func (l *LocalEpoch) Load() uint64 {
	return l.value.Load()
}

// AdviseCommitTID advances this worker's own monotonic TID stream to be at
// least candidate, then returns a TID strictly greater than both the
// stream's previous value and candidate, composed with threadID. Without
// this, two transactions committed back-to-back by the same worker with
// disjoint key sets would both compute the same candidate and collide on
// the same commit TID.
func (l *LocalEpoch) AdviseCommitTID(candidate tid.TID, threadID uint32) tid.TID {
	for {
		old := tid.TID(l.lastCommit.Load())
		base := candidate
		if old.WithoutLock() > base.WithoutLock() {
			base = old
		}
		next := base.NextInEpoch(l.Load(), threadID)
		if l.lastCommit.CompareAndSwap(uint64(old), uint64(next)) {
			return next
		}
	}
}

// Framework owns the global epoch counter, the registry of live workers'
// LocalEpoch slots, and the per-epoch retirement list. A single Framework
// is shared by every worker of a Database.
type Framework struct {
	global atomic.Uint64

	mu     sync.Mutex
	locals []*LocalEpoch

	reclaimer Reclaimer

	durationMs uint64
	done       chan struct{}
	wg         sync.WaitGroup
	running    atomic.Bool
}

// New creates a Framework whose Advancer, once started, ticks roughly
// every durationMs milliseconds.
func New(durationMs uint64) *Framework {
	return &Framework{
		durationMs: durationMs,
		done:       make(chan struct{}),
	}
}

// Global returns the current global epoch.
func (f *Framework) Global() uint64 {
	return f.global.Load()
}

// Register adds a new LocalEpoch slot to the fence's registry and
// initializes it to the current global epoch. Call Unregister when the
// worker retires permanently (Database.Close); Enter/Exit handle the
// per-transaction in/out of the fence.
func (f *Framework) Register() *LocalEpoch {
	l := &LocalEpoch{}
	l.value.Store(f.global.Load())

	f.mu.Lock()
	f.locals = append(f.locals, l)
	f.mu.Unlock()

	return l
}

// Unregister removes a worker's slot from the registry so a retired
// worker never blocks the fence.
func (f *Framework) Unregister(l *LocalEpoch) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, candidate := range f.locals {
		if candidate == l {
			f.locals = append(f.locals[:i], f.locals[i+1:]...)
			return
		}
	}
}

// Advance applies the fence rule once: the global epoch may move from g to
// g+1 only once every live, active worker has published a local epoch
// already at g. It returns the (possibly unchanged) global epoch, and
// sweeps the retirement list for buffers now safe to drop.
func (f *Framework) Advance() uint64 {
	current := f.global.Load()

	if min, any := f.minActiveLocal(); !any || min >= current {
		f.global.CompareAndSwap(current, current+1)
	}

	f.reclaimer.Collect(f.global.Load())
	return f.global.Load()
}

func (f *Framework) minActiveLocal() (min uint64, any bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, l := range f.locals {
		if !l.active.Load() {
			continue
		}
		v := l.Load()
		if !any || v < min {
			min = v
			any = true
		}
	}
	return min, any
}

// Retire hands a payload buffer replaced during a commit in epoch e to the
// retirement list; it will not be dropped until the global epoch has
// advanced past e by at least two.
func (f *Framework) Retire(e uint64, buf []byte) {
	f.reclaimer.Retire(e, buf)
}

// Start spawns the background Advancer goroutine. Mirrors the
// goroutine/done-channel/WaitGroup shape used for background workers
// throughout this module.
func (f *Framework) Start() {
	if already := f.running.Swap(true); already {
		return
	}
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		ticker := time.NewTicker(time.Duration(f.durationMs) * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				f.Advance()
			case <-f.done:
				return
			}
		}
	}()
}

// Stop halts the Advancer goroutine and waits for it to exit.
func (f *Framework) Stop() {
	if !f.running.Swap(false) {
		return
	}
	close(f.done)
	f.wg.Wait()
}
