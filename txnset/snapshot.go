// Package txnset implements the per-transaction read-set and write-set
// buffers: small, linearly-scanned ordered sequences of Snapshot entries,
// exclusively owned by one transaction and discarded with it (spec §4.3).
package txnset

import (
	"bytes"

	"github.com/navijation/njtxn/tid"
	"github.com/navijation/njtxn/util"
)

// Snapshot is a single read-set or write-set entry. SizeObservedTID is only
// meaningful for read-set entries: the TID the value was read under.
type Snapshot struct {
	Key               []byte
	Value             []byte
	SizeObservedTID   tid.TID
	IsReadModifyWrite bool
}

// Set is an append-mostly, linearly-scanned ordered sequence of Snapshot
// entries. Duplicate keys are collapsed by in-place update rather than a
// second append (spec §4.3). Sizes are expected to be small enough that a
// linear scan beats the bookkeeping of a hash index.
type Set struct {
	entries []Snapshot
}

// Find returns the entry for key and true, or the zero Snapshot and false.
func (s *Set) Find(key []byte) (Snapshot, bool) {
	if i := s.indexOf(key); i >= 0 {
		return s.entries[i], true
	}
	return Snapshot{}, false
}

// Contains reports whether key is already present.
func (s *Set) Contains(key []byte) bool {
	return s.indexOf(key) >= 0
}

// Upsert appends a new entry for key, or overwrites the existing one in
// place, preserving its position.
func (s *Set) Upsert(entry Snapshot) {
	if i := s.indexOf(entry.Key); i >= 0 {
		s.entries[i] = entry
		return
	}
	s.entries = append(s.entries, entry)
}

// MarkReadModifyWrite flips IsReadModifyWrite on the entry for key, if
// present, and reports whether it found one.
func (s *Set) MarkReadModifyWrite(key []byte) bool {
	if i := s.indexOf(key); i >= 0 {
		s.entries[i].IsReadModifyWrite = true
		return true
	}
	return false
}

// Entries returns a defensive copy of the entries, in insertion order —
// safe to retain past Reset (the dispatcher pool captures a committed
// transaction's write-set this way, to durably log it after
// PostProcessing has already reset the transaction's own state).
func (s *Set) Entries() []Snapshot {
	return util.CloneSliceFunc(s.entries, func(e Snapshot) Snapshot { return e })
}

// Len reports the number of distinct keys currently staged.
func (s *Set) Len() int {
	return len(s.entries)
}

// Reset discards all entries; Protocol.PostProcessing calls it to drop a
// finished transaction's local state.
func (s *Set) Reset() {
	s.entries = s.entries[:0]
}

func (s *Set) indexOf(key []byte) int {
	for i := range s.entries {
		if bytes.Equal(s.entries[i].Key, key) {
			return i
		}
	}
	return -1
}
