// Package tid implements the packed transaction-id word shared by the
// point index and the concurrency-control protocol: epoch, sequence and
// thread-id are colocated with a lock bit in a single uint64 so the whole
// tuple can be sampled or CAS'd atomically.
package tid

import "fmt"

// TID is (epoch:33 | sequence:20 | thread:10 | locked:1), high bits first,
// so that plain unsigned comparison of two unlocked TIDs is equivalent to
// lexicographic (epoch, sequence, thread) comparison.
type TID uint64

const (
	lockBits   = 1
	threadBits = 10
	seqBits    = 20
	epochBits  = 33

	lockShift   = 0
	threadShift = lockShift + lockBits
	seqShift    = threadShift + threadBits
	epochShift  = seqShift + seqBits

	lockMask   = TID(1)<<lockBits - 1
	threadMask = TID(1)<<threadBits - 1
	seqMask    = TID(1)<<seqBits - 1
	epochMask  = TID(1)<<epochBits - 1
)

// MaxEpoch is the largest epoch value representable in a TID.
const MaxEpoch = uint64(epochMask)

// Zero is the initial TID stored in a freshly-inserted, never-written record.
const Zero TID = 0

// Compose builds an unlocked TID from its three ordered fields.
func Compose(epoch uint64, sequence uint64, threadID uint32) TID {
	return TID(epoch&uint64(epochMask))<<epochShift |
		TID(sequence&uint64(seqMask))<<seqShift |
		TID(threadID&uint32(threadMask))<<threadShift
}

// Epoch returns the epoch field.
func (t TID) Epoch() uint64 { return uint64(t>>epochShift) & uint64(epochMask) }

// Sequence returns the sequence field.
func (t TID) Sequence() uint64 { return uint64(t>>seqShift) & uint64(seqMask) }

// ThreadID returns the thread-id field.
func (t TID) ThreadID() uint32 { return uint32(t>>threadShift) & uint32(threadMask) }

// Locked reports whether the lock bit is set.
func (t TID) Locked() bool { return t&lockMask != 0 }

// WithLock returns t with the lock bit set.
func (t TID) WithLock() TID { return t | lockMask }

// WithoutLock returns t with the lock bit cleared; committed TIDs stored
// after Install are always already in this form.
func (t TID) WithoutLock() TID { return t &^ lockMask }

// Less reports whether t orders strictly before other, ignoring the lock bit.
func (t TID) Less(other TID) bool { return t.WithoutLock() < other.WithoutLock() }

// NextInEpoch returns an unlocked TID composed with threadID that is
// strictly greater than t and whose epoch is no less than
// epochFloor: the sequence bumps by one within the same epoch, or resets
// to zero when moving to a newer epoch. Used to derive a commit TID from
// a candidate "at least this large" TID (spec §4.4.2 step 2).
func (t TID) NextInEpoch(epochFloor uint64, threadID uint32) TID {
	e := t.Epoch()
	if epochFloor > e {
		e = epochFloor
	}
	seq := uint64(0)
	if t.Epoch() == e {
		seq = t.Sequence() + 1
	}
	return Compose(e, seq, threadID)
}

func (t TID) String() string {
	return fmt.Sprintf("TID(epoch=%d,seq=%d,thread=%d,locked=%v)",
		t.Epoch(), t.Sequence(), t.ThreadID(), t.Locked())
}
