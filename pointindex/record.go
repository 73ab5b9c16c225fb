package pointindex

import (
	"sync/atomic"

	"github.com/navijation/njtxn/tid"
)

// Record is the versioned value stored per key: a payload buffer and a TID
// word with a colocated lock bit, so both can be sampled or CAS'd as a
// single atomic unit (spec: "a `locked` bit colocated so it can be
// atomically read and CAS-updated as one word"). A *Record is the "handle"
// the point index hands back from GetOrInsert; it stays valid for the
// lifetime of the Index.
type Record struct {
	tidWord atomic.Uint64
	payload atomic.Pointer[[]byte]

	// NWR metadata (spec §3's "optional NWR metadata"). pivotTID is bumped
	// by every successful Read to the TID under which this version was
	// observed; blindWriterTID records the commit TID of the most recent
	// installer whose write-set entry was blind (no prior read in that
	// transaction), and is the gate cc.Protocol's SiloNWR validation uses
	// to decide a read-set mismatch is reorderable rather than a conflict.
	pivotTID       atomic.Uint64
	blindWriterTID atomic.Uint64
}

// newRecord returns a freshly zero-initialized, unlocked record: empty
// payload, TID zero.
func newRecord() *Record {
	r := &Record{}
	empty := []byte{}
	r.payload.Store(&empty)
	return r
}

// TIDWord atomically samples the record's TID word.
func (r *Record) TIDWord() tid.TID {
	return tid.TID(r.tidWord.Load())
}

// Payload atomically samples the current payload. The returned slice is
// never mutated in place by Install (each Install stores a fresh slice),
// so it is safe to read without a copy; callers that need an owned buffer
// (read-set/write-set snapshots) copy it themselves.
func (r *Record) Payload() []byte {
	return *r.payload.Load()
}

// TryLock attempts to transition the record from (expected, locked=false)
// to (expected, locked=true) with a single CAS. Returns false if the
// record's current word does not match expected exactly (already locked,
// or a concurrent committer has moved the TID).
func (r *Record) TryLock(expected tid.TID) bool {
	if expected.Locked() {
		return false
	}
	return r.tidWord.CompareAndSwap(uint64(expected), uint64(expected.WithLock()))
}

// Install replaces the payload and publishes newTID (with the lock bit
// cleared). The caller must already hold the lock (TryLock succeeded and
// Unlock/Install not yet called). Returns the payload being replaced so
// the caller can hand it to the epoch reclaimer.
func (r *Record) Install(newPayload []byte, newTID tid.TID) []byte {
	current := tid.TID(r.tidWord.Load())
	if !current.Locked() {
		panic("pointindex: Install called without holding the lock")
	}

	old := *r.payload.Load()
	owned := append([]byte(nil), newPayload...)
	r.payload.Store(&owned)
	r.tidWord.Store(uint64(newTID.WithoutLock()))

	return old
}

// Unlock clears the lock bit without changing the TID; used to release a
// lock acquired during a transaction that ultimately aborts.
func (r *Record) Unlock() {
	for {
		old := tid.TID(r.tidWord.Load())
		if !old.Locked() {
			panic("pointindex: Unlock called on a record that is not locked")
		}
		if r.tidWord.CompareAndSwap(uint64(old), uint64(old.WithoutLock())) {
			return
		}
	}
}

// ObserveRead bumps pivotTID to at-least observed; called once per
// successful Read from the protocol layer.
func (r *Record) ObserveRead(observed tid.TID) {
	for {
		old := tid.TID(r.pivotTID.Load())
		if !old.Less(observed) {
			return
		}
		if r.pivotTID.CompareAndSwap(uint64(old), uint64(observed)) {
			return
		}
	}
}

// PivotTID returns the largest TID under which this record has been
// observed read.
func (r *Record) PivotTID() tid.TID {
	return tid.TID(r.pivotTID.Load())
}

// MarkBlindWrite records that commitTID was installed by a write-set entry
// with no prior read in its own transaction, making it eligible for
// NWR reordering against concurrent readers of the prior version.
func (r *Record) MarkBlindWrite(commitTID tid.TID) {
	r.blindWriterTID.Store(uint64(commitTID))
}

// ClearBlindWrite records that the most recent install was not blind
// (read-modify-write, or a plain Silo write), so it is not reorderable.
func (r *Record) ClearBlindWrite() {
	r.blindWriterTID.Store(0)
}

// BlindWriterTID returns the commit TID of the most recent blind-write
// installer, or the zero TID if the most recent install was not blind.
func (r *Record) BlindWriterTID() tid.TID {
	return tid.TID(r.blindWriterTID.Load())
}
