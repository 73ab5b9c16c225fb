// Package db exposes the public client surface (spec.md §1/§6): a
// Database handle that owns the Point Index, the Epoch Framework, the
// dispatcher pool, and (optionally) the durable commit log, and wires
// them together the way db/lsm.go's Open/Start/Close lifecycle wires an
// LSM tree's memtable, WAL, and compaction workers.
package db

import (
	"log"
	"sync"

	"github.com/navijation/njtxn/config"
	"github.com/navijation/njtxn/durlog"
	"github.com/navijation/njtxn/epoch"
	"github.com/navijation/njtxn/pointindex"
	"github.com/navijation/njtxn/pool"
	"github.com/navijation/njtxn/recovery"
	"github.com/navijation/njtxn/storage/keyvaluepair"
	"github.com/navijation/njtxn/txn"
	"github.com/navijation/njtxn/util"
	pkgerrors "github.com/pkg/errors"
)

// Database is the process-wide handle transactions run against. Open
// once, dispatch transactions with ExecuteTransaction, and Close when
// done. A Database is safe for concurrent use by any number of callers.
type Database struct {
	cfg   config.Config
	index *pointindex.Index
	epoch *epoch.Framework
	pool  *pool.Pool
	log   *durlog.CommitLog

	inFlight sync.WaitGroup

	closeOnce sync.Once
}

// Open constructs a Database per cfg. When cfg.EnableLogging, path names
// the durable commit log file, created if it does not already exist; when
// cfg.EnableRecovery as well, the log is replayed into the Point Index
// before the dispatcher pool starts, so no transaction ever observes a
// partially-recovered store.
func Open(cfg config.Config, path string) (*Database, error) {
	idx := pointindex.New(cfg.ShardCount)
	framework := epoch.New(cfg.EpochDurationMs)

	var commitLog *durlog.CommitLog
	if cfg.EnableLogging {
		exists, err := util.FileExists(path)
		if err != nil {
			return nil, pkgerrors.Wrapf(err, "db: stat %q", path)
		}

		opened, err := durlog.Open(durlog.OpenArgs{Path: path, Create: !exists})
		if err != nil {
			return nil, pkgerrors.Wrap(err, "db: open durable log")
		}
		commitLog = &opened

		if cfg.EnableRecovery {
			if err := recovery.Replay(idx, commitLog); err != nil {
				_ = commitLog.Close()
				return nil, pkgerrors.Wrap(err, "db: replay durable log")
			}
		}
	}

	workerPool := pool.New(cfg.WorkerCount, idx, framework, cfg.Kind())
	workerPool.Start()
	framework.Start()

	return &Database{
		cfg:   cfg,
		index: idx,
		epoch: framework,
		pool:  workerPool,
		log:   commitLog,
	}, nil
}

// ExecuteTransaction dispatches procedure to a worker and returns
// immediately; status, once the transaction has run Precommit and
// PostProcessing, is reported to callback on the worker goroutine, which
// must not block. If the transaction committed and logging is enabled,
// its writes are appended to the durable log and fsynced before callback
// runs. A failed append is logged and does not change the status: callback
// still receives true, and that transaction's writes are then absent from
// the durable log.
//
// Callers that need to wait for completion should use Fence, not a
// channel inside callback: Fence accounts for every dispatched
// transaction, not just the ones a particular caller is tracking.
func (d *Database) ExecuteTransaction(procedure func(tx *txn.Transaction), callback func(committed bool)) {
	d.inFlight.Add(1)
	d.pool.Submit(pool.Job{
		Procedure: procedure,
		Callback: func(r pool.Result) {
			defer d.inFlight.Done()

			if r.Committed && d.log != nil {
				if err := d.appendCommit(r); err != nil {
					log.Printf("db: append commit record %s: %v", r.CommitTID, err)
				}
			}

			if callback != nil {
				callback(r.Committed)
			}
		},
	})
}

func (d *Database) appendCommit(r pool.Result) error {
	writes := make([]keyvaluepair.KeyValuePair, len(r.Writes))
	for i, w := range r.Writes {
		writes[i] = keyvaluepair.KeyValuePair{Key: w.Key, Value: w.Value}
	}
	return d.log.AppendCommit(durlog.CommitRecord{TID: r.CommitTID, Writes: writes})
}

// Fence blocks until every transaction dispatched via ExecuteTransaction
// so far has terminated, committed or aborted.
func (d *Database) Fence() {
	d.inFlight.Wait()
}

// Close stops accepting new dispatches implicitly (callers must stop
// calling ExecuteTransaction themselves), drains in-flight transactions,
// stops the worker pool and epoch advancer, and closes the durable log.
// Close is idempotent.
func (d *Database) Close() error {
	var err error
	d.closeOnce.Do(func() {
		d.Fence()
		d.pool.Stop()
		d.epoch.Stop()
		if d.log != nil {
			err = d.log.Close()
		}
	})
	return err
}

// Index exposes the underlying Point Index for read-only inspection
// (tests, metrics). Not part of the transactional API.
func (d *Database) Index() *pointindex.Index { return d.index }
