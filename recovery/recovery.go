// Package recovery replays a durable commit log back into a fresh Point
// Index on startup — the "crash recovery path" collaborator referenced by
// spec.md §1/§6. Writes are re-installed at their original logged TID
// rather than a freshly minted one, so version order and commit-TID
// comparisons after recovery remain consistent with what committed before
// the crash.
package recovery

import (
	"github.com/navijation/njtxn/durlog"
	"github.com/navijation/njtxn/pointindex"
	"github.com/navijation/njtxn/tid"
	pkgerrors "github.com/pkg/errors"
)

// Replay reads log oldest-commit-first and re-installs every write at its
// original TID into idx. idx is expected to be freshly constructed: any
// key already present with a newer TID than a later-replayed write is
// still overwritten, since Open's caller guarantees idx has no prior
// state of its own.
func Replay(idx *pointindex.Index, log *durlog.CommitLog) error {
	return log.Replay(func(record durlog.CommitRecord) error {
		for _, w := range record.Writes {
			if err := installAtLoggedTID(idx, w.Key, w.Value, record.TID); err != nil {
				return pkgerrors.Wrapf(err, "recovery: replay key %q at %s", w.Key, record.TID)
			}
		}
		return nil
	})
}

// installAtLoggedTID re-acquires the record's lock (uncontended — recovery
// runs before any worker is dispatched) and installs value at loggedTID
// directly, bypassing the commit-TID computation normal transactions go
// through, since the TID here is the one already durably assigned at
// original commit time.
func installAtLoggedTID(idx *pointindex.Index, key, value []byte, loggedTID tid.TID) error {
	rec := idx.GetOrInsert(key)
	expected := rec.TIDWord()
	if !rec.TryLock(expected) {
		return pkgerrors.Errorf("recovery: record for key %q is unexpectedly contended during replay", key)
	}
	rec.Install(value, loggedTID)
	return nil
}
