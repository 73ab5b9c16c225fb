// Package pool implements the dispatcher contract of spec.md §6: a fixed
// worker pool that constructs a Transaction per submitted procedure, runs
// it, calls Precommit, and reports the outcome through a callback.
// Grounded on the goroutine + channel + done-channel + sync.WaitGroup
// shape used throughout this module's background workers (see
// epoch.Framework's Advancer).
package pool

import (
	"sync"

	"github.com/navijation/njtxn/cc"
	"github.com/navijation/njtxn/epoch"
	"github.com/navijation/njtxn/pointindex"
	"github.com/navijation/njtxn/tid"
	"github.com/navijation/njtxn/txn"
	"github.com/navijation/njtxn/txnset"
)

// Result is delivered to a Job's Callback once its transaction has run
// Precommit, captured its write-set, and run PostProcessing. Writes is
// only populated when Committed is true; it is captured before
// PostProcessing resets the transaction's local state, so a caller that
// durably logs committed writes (see db.Database) can do so from the
// callback.
type Result struct {
	Committed bool
	CommitTID tid.TID
	Writes    []txnset.Snapshot
}

// Job is one transaction procedure submitted to the pool. Procedure
// receives a fresh Transaction; the pool calls Precommit on return and
// invokes Callback with the outcome. Callback runs on the worker
// goroutine — it must not block.
type Job struct {
	Procedure func(tx *txn.Transaction)
	Callback  func(Result)
}

// Pool is a fixed-size set of worker goroutines, each bound to its own
// epoch.LocalEpoch slot for its entire lifetime so that slot's monotonic
// commit-TID stream (epoch.LocalEpoch.AdviseCommitTID) covers every
// transaction that worker ever runs, not just one.
type Pool struct {
	jobs        chan Job
	done        chan struct{}
	wg          sync.WaitGroup
	index       *pointindex.Index
	epoch       *epoch.Framework
	kind        cc.Kind
	workerCount int
}

// New constructs a Pool of workerCount goroutines dispatching transactions
// of the given kind against idx, coordinated through framework. Call
// Start to spawn the workers.
func New(workerCount int, idx *pointindex.Index, framework *epoch.Framework, kind cc.Kind) *Pool {
	if workerCount <= 0 {
		workerCount = 1
	}
	return &Pool{
		jobs:        make(chan Job),
		done:        make(chan struct{}),
		index:       idx,
		epoch:       framework,
		kind:        kind,
		workerCount: workerCount,
	}
}

// Start spawns the worker goroutines. Call once before Submit.
func (p *Pool) Start() {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.runWorker(uint32(i))
	}
}

func (p *Pool) runWorker(threadID uint32) {
	defer p.wg.Done()

	local := p.epoch.Register()
	defer p.epoch.Unregister(local)

	for {
		select {
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			p.run(job, local, threadID)
		case <-p.done:
			return
		}
	}
}

func (p *Pool) run(job Job, local *epoch.LocalEpoch, threadID uint32) {
	local.Enter(p.epoch.Global())
	defer local.Exit()

	tx := txn.New(p.kind, p.index, local, p.epoch, threadID)
	job.Procedure(tx)
	committed := tx.Precommit()

	var writes []txnset.Snapshot
	if committed {
		writes = tx.Writes()
	}
	tx.PostProcessing()

	if job.Callback != nil {
		job.Callback(Result{Committed: committed, CommitTID: tx.CommitTID(), Writes: writes})
	}
}

// Submit enqueues job for a worker to run. Blocks if every worker is busy.
func (p *Pool) Submit(job Job) {
	p.jobs <- job
}

// Stop signals every worker to exit after its current job and waits for
// them to drain. Submit must not be called again afterward.
func (p *Pool) Stop() {
	close(p.done)
	p.wg.Wait()
}
