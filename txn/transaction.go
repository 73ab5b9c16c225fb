// Package txn implements the per-transaction facade: a thin wrapper bound
// to one cc.Protocol instance that a user-supplied procedure calls
// Read/Write/Abort on, and the dispatcher calls Precommit on once the
// procedure returns (spec.md §4.5).
package txn

import (
	"github.com/navijation/njtxn/cc"
	"github.com/navijation/njtxn/epoch"
	"github.com/navijation/njtxn/pointindex"
	"github.com/navijation/njtxn/tid"
	"github.com/navijation/njtxn/txnset"
)

// Transaction is constructed at procedure entry, mutates its read/write
// sets while the user procedure runs, and is destroyed once
// PostProcessing has been called (spec.md §3 Lifecycle). It is not safe
// for concurrent use: exactly one worker owns a Transaction for its
// entire lifetime.
type Transaction struct {
	protocol cc.Protocol
}

// New constructs a Transaction bound to a freshly-embedded cc.Protocol of
// the given kind, the process-wide Point Index, the calling worker's
// epoch slot, and the epoch framework used for delayed reclamation.
func New(kind cc.Kind, idx *pointindex.Index, localEpoch *epoch.LocalEpoch, reclaimer *epoch.Framework, threadID uint32) *Transaction {
	return &Transaction{
		protocol: *cc.New(kind, idx, localEpoch, reclaimer, threadID),
	}
}

// Read returns the current value for key, or (nil, false) if the key has
// never been written or the transaction has been user-aborted.
func (t *Transaction) Read(key []byte) ([]byte, bool) {
	return t.protocol.Read(key)
}

// Write stages value for key; it becomes visible to this transaction
// immediately (read-your-own-writes) but to no one else until Precommit
// installs it.
func (t *Transaction) Write(key []byte, value []byte) {
	t.protocol.Write(key, value)
}

// Abort marks the transaction user-aborted. Subsequent Read/Write calls
// are no-ops and Precommit will report Aborted without touching the
// index.
func (t *Transaction) Abort() {
	t.protocol.Abort()
}

// Precommit runs the commit protocol and reports whether the transaction
// committed. The caller must still call PostProcessing afterward exactly
// once, regardless of the outcome.
func (t *Transaction) Precommit() bool {
	return t.protocol.Precommit()
}

// PostProcessing releases retired payload buffers to the epoch framework
// and resets transaction-local state. Must be called exactly once,
// whether Precommit committed or aborted.
func (t *Transaction) PostProcessing() {
	t.protocol.PostProcessing()
}

// Status reports the transaction's current state-machine state.
func (t *Transaction) Status() cc.Status {
	return t.protocol.Status()
}

// CommitTID returns the TID this transaction committed under; only
// meaningful once Status() == cc.StatusCommitted.
func (t *Transaction) CommitTID() tid.TID {
	return t.protocol.CommitTID()
}

// Writes exposes the write-set entries. Meaningful only between Precommit
// returning and PostProcessing running, since PostProcessing discards
// transaction-local state; callers durably logging a commit must read this
// before calling PostProcessing.
func (t *Transaction) Writes() []txnset.Snapshot {
	return t.protocol.Writes()
}
