// Package cc implements the concurrency-control protocol family: Silo and
// its SiloNWR refinement. A Protocol is constructed once per transaction,
// embedded by value (never behind an interface pointer) so that dispatching
// between variants costs a branch, not an allocation (spec §9's "avoid
// per-transaction heap allocation of the protocol object").
package cc

import (
	"bytes"
	"sort"

	"github.com/navijation/njtxn/epoch"
	"github.com/navijation/njtxn/pointindex"
	"github.com/navijation/njtxn/tid"
	"github.com/navijation/njtxn/txnset"
)

// Status is the per-transaction state machine of spec §4.4.5.
type Status int

const (
	StatusActive Status = iota
	StatusValidating
	StatusCommitted
	StatusAborted
)

// maxReadRetries bounds the Silo-style optimistic-read retry loop; a read
// that still sees a torn sample after this many attempts indicates a
// pathologically long lock hold rather than ordinary contention.
const maxReadRetries = 1000

type retiredBuffer struct {
	epoch uint64
	buf   []byte
}

// Protocol runs one transaction's Read/Write/Precommit/PostProcessing
// against the shared Point Index, dispatching on kind between Silo and
// SiloNWR at the points where they differ (validation and install).
type Protocol struct {
	kind       Kind
	index      *pointindex.Index
	localEpoch *epoch.LocalEpoch
	reclaimer  *epoch.Framework
	threadID   uint32

	readSet  txnset.Set
	writeSet txnset.Set

	status      Status
	userAborted bool
	commitTID   tid.TID

	retired []retiredBuffer
}

// New constructs a Protocol bound to idx, the calling worker's epoch slot,
// and reclaimer (for epoch-delayed buffer retirement); threadID is embedded
// in commit TIDs to make them unique across workers in the same epoch/seq.
func New(kind Kind, idx *pointindex.Index, localEpoch *epoch.LocalEpoch, reclaimer *epoch.Framework, threadID uint32) *Protocol {
	return &Protocol{
		kind:       kind,
		index:      idx,
		localEpoch: localEpoch,
		reclaimer:  reclaimer,
		threadID:   threadID,
	}
}

// Status reports the current state-machine state.
func (p *Protocol) Status() Status { return p.status }

// CommitTID returns the TID this transaction committed under. Only
// meaningful once Status() == StatusCommitted.
func (p *Protocol) CommitTID() tid.TID { return p.commitTID }

// Writes exposes the write-set entries, for callers (the durable log
// writer) that need the committed key/value pairs after Precommit but
// before PostProcessing discards local state.
func (p *Protocol) Writes() []txnset.Snapshot { return p.writeSet.Entries() }

// Read implements spec §4.4.1: write-set, then read-set, then a Silo-style
// optimistic sample of the Point Index.
func (p *Protocol) Read(key []byte) ([]byte, bool) {
	if p.userAborted {
		return nil, false
	}

	if w, ok := p.writeSet.Find(key); ok {
		return w.Value, true
	}
	if r, ok := p.readSet.Find(key); ok {
		return r.Value, len(r.Value) > 0 || r.SizeObservedTID != tid.Zero
	}

	rec := p.index.GetOrInsert(key)

	var tid1, tid2 tid.TID
	var payload []byte
	clean := false
	for i := 0; i < maxReadRetries; i++ {
		tid1 = rec.TIDWord()
		payload = rec.Payload()
		tid2 = rec.TIDWord()
		if tid1 == tid2 && !tid1.Locked() {
			clean = true
			break
		}
	}
	if !clean {
		panic("cc: read retry budget exhausted without observing a clean TID sample")
	}

	rec.ObserveRead(tid1.WithoutLock())

	owned := append([]byte(nil), payload...)
	p.readSet.Upsert(txnset.Snapshot{
		Key:             append([]byte(nil), key...),
		Value:           owned,
		SizeObservedTID: tid1.WithoutLock(),
	})

	if tid1.WithoutLock() == tid.Zero && len(owned) == 0 {
		return nil, false
	}
	return owned, true
}

// Write implements spec §4.4.1: mark read-modify-write if the key was
// already read this transaction, then stage the bytes in the write-set.
func (p *Protocol) Write(key []byte, value []byte) {
	if p.userAborted {
		return
	}

	isRMW := p.readSet.MarkReadModifyWrite(key)
	owned := append([]byte(nil), value...)
	p.writeSet.Upsert(txnset.Snapshot{
		Key:               append([]byte(nil), key...),
		Value:             owned,
		IsReadModifyWrite: isRMW,
	})
}

// Abort marks the transaction user-aborted; subsequent Read/Write are
// no-ops and Precommit short-circuits to Aborted.
func (p *Protocol) Abort() {
	p.userAborted = true
}

// Precommit runs the Silo commit protocol (lock, compute commit TID,
// validate, install), refined by SiloNWR at the validation step. Returns
// whether the transaction committed.
func (p *Protocol) Precommit() bool {
	if p.userAborted {
		p.status = StatusAborted
		return false
	}
	p.status = StatusValidating

	writes := p.writeSet.Entries()
	order := make([]int, len(writes))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return bytes.Compare(writes[order[a]].Key, writes[order[b]].Key) < 0
	})

	locked := make([]*pointindex.Record, 0, len(writes))
	preLockTIDs := make([]tid.TID, 0, len(writes))

	for _, i := range order {
		rec := p.index.GetOrInsert(writes[i].Key)
		expected := rec.TIDWord()
		if !rec.TryLock(expected) {
			p.releaseLocks(locked)
			p.status = StatusAborted
			return false
		}
		locked = append(locked, rec)
		preLockTIDs = append(preLockTIDs, expected)
	}

	commitTID := p.computeCommitTID(preLockTIDs)

	if !p.validateReadSet() {
		p.releaseLocks(locked)
		p.status = StatusAborted
		return false
	}

	p.install(order, writes, locked, commitTID)

	p.commitTID = commitTID
	p.status = StatusCommitted
	return true
}

// computeCommitTID implements spec §4.4.2 step 2: commit_tid = max(local
// epoch baseline, every read-set TID, every pre-lock write-set TID) + 1,
// with the thread id embedded in the low bits for uniqueness. The final
// bump is delegated to the worker's own LocalEpoch so two transactions
// committed back-to-back by the same worker never collide even when
// their key sets are disjoint (see epoch.LocalEpoch.AdviseCommitTID).
func (p *Protocol) computeCommitTID(preLockTIDs []tid.TID) tid.TID {
	candidate := tid.Compose(p.localEpoch.Load(), 0, 0)

	for _, r := range p.readSet.Entries() {
		if candidate.Less(r.SizeObservedTID) {
			candidate = r.SizeObservedTID
		}
	}
	for _, cur := range preLockTIDs {
		if candidate.Less(cur) {
			candidate = cur
		}
	}

	return p.localEpoch.AdviseCommitTID(candidate, p.threadID)
}

// validateReadSet implements spec §4.4.2 step 3, refined for SiloNWR by
// §4.4.3: a read-set entry whose current TID was superseded by a blind
// writer is not a validation failure, since this transaction can still be
// serialized before that writer. The commit TID already strictly exceeds
// every read-set and write-set TID seen during the lock phase (see
// computeCommitTID), so no further adjustment for the reordered position
// is needed here.
//
// Write-set membership only waives the "locked by another transaction"
// abort (the lock is this transaction's own, taken in the lock phase) — it
// never waives the TID-change check. A read-modify-write key whose TID
// moved between its Read and this lock phase means another transaction's
// write landed in between and must still abort, or the lost-update would
// silently overwrite it.
func (p *Protocol) validateReadSet() bool {
	for _, r := range p.readSet.Entries() {
		rec := p.index.GetOrInsert(r.Key)
		cur := rec.TIDWord()

		if cur.Locked() && !p.writeSet.Contains(r.Key) {
			return false
		}

		if cur.WithoutLock() == r.SizeObservedTID {
			continue
		}
		if p.kind == SiloNWR && rec.BlindWriterTID() == cur.WithoutLock() && cur.WithoutLock() != tid.Zero {
			continue
		}
		return false
	}
	return true
}

// install implements spec §4.4.2 step 4, tracking SiloNWR's blind-write
// metadata on each record so future validators can reorder around it.
func (p *Protocol) install(order []int, writes []txnset.Snapshot, locked []*pointindex.Record, commitTID tid.TID) {
	for j, i := range order {
		entry := writes[i]
		rec := locked[j]

		old := rec.Install(entry.Value, commitTID)
		if len(old) > 0 {
			p.retired = append(p.retired, retiredBuffer{epoch: commitTID.Epoch(), buf: old})
		}

		if p.kind == SiloNWR && !entry.IsReadModifyWrite {
			rec.MarkBlindWrite(commitTID)
		} else {
			rec.ClearBlindWrite()
		}
	}
}

func (p *Protocol) releaseLocks(locked []*pointindex.Record) {
	for _, rec := range locked {
		rec.Unlock()
	}
}

// PostProcessing implements spec §4.4.1's PostProcessing: hands retired
// payload buffers to the epoch framework for delayed reclamation and
// resets local state. Must be called exactly once per transaction,
// regardless of committed/aborted outcome.
func (p *Protocol) PostProcessing() {
	if p.reclaimer != nil {
		for _, r := range p.retired {
			p.reclaimer.Retire(r.epoch, r.buf)
		}
	}
	p.retired = nil
	p.readSet.Reset()
	p.writeSet.Reset()
}
