package durlog

import (
	"bytes"
	"io"

	"github.com/navijation/njtxn/storage/keyvaluepair"
	"github.com/navijation/njtxn/tid"
	"github.com/navijation/njtxn/util"
	pkgerrors "github.com/pkg/errors"
)

// CommitRecord is the durable representation of one committed
// transaction: its commit TID and the ordered set of keys it installed.
// Database.ExecuteTransaction builds one of these from a transaction's
// write-set once cc.Protocol.Precommit reports committed, and Append's it
// to the CommitLog before invoking the caller's status callback.
type CommitRecord struct {
	TID    tid.TID
	Writes []keyvaluepair.KeyValuePair
}

// Encode serializes r the way CommitLog.Append expects: a TID word, a
// write count, then each write via StoredKeyValuePair's own framing.
func (r *CommitRecord) Encode() ([]byte, error) {
	var buf bytes.Buffer

	if _, err := util.WriteUint64(&buf, uint64(r.TID)); err != nil {
		return nil, pkgerrors.Wrap(err, "durlog: encode tid")
	}
	if _, err := util.WriteUint64(&buf, uint64(len(r.Writes))); err != nil {
		return nil, pkgerrors.Wrap(err, "durlog: encode write count")
	}
	for i := range r.Writes {
		stored := r.Writes[i].ToStoredKeyValuePair()
		if _, err := stored.WriteTo(&buf); err != nil {
			return nil, pkgerrors.Wrapf(err, "durlog: encode write %d", i)
		}
	}

	return buf.Bytes(), nil
}

// DecodeCommitRecord is the inverse of Encode, used by Replay to rebuild a
// CommitRecord from a LogEntry's content.
func DecodeCommitRecord(content []byte) (out CommitRecord, err error) {
	reader := bytes.NewReader(content)

	tidWord, _, err := util.ReadUint64(reader)
	if err != nil {
		return out, pkgerrors.Wrap(err, "durlog: decode tid")
	}
	out.TID = tid.TID(tidWord)

	count, _, err := util.ReadUint64(reader)
	if err != nil {
		return out, pkgerrors.Wrap(err, "durlog: decode write count")
	}

	out.Writes = make([]keyvaluepair.KeyValuePair, 0, count)
	for i := uint64(0); i < count; i++ {
		var stored keyvaluepair.StoredKeyValuePair
		if _, err := stored.ReadFrom(reader); err != nil {
			return out, pkgerrors.Wrapf(err, "durlog: decode write %d", i)
		}
		out.Writes = append(out.Writes, stored.ToKeyValuePair())
	}

	return out, nil
}

// AppendCommit encodes r and appends it to the log.
func (me *CommitLog) AppendCommit(r CommitRecord) error {
	content, err := r.Encode()
	if err != nil {
		return err
	}
	_, err = me.Append(content)
	return err
}

// Replay calls fn once per commit record, oldest first, stopping at the
// first decode error (which indicates the tail of the log was torn by a
// crash and was already truncated away by Open's checksum pass — any error
// here is unexpected and propagated).
func (me *CommitLog) Replay(fn func(CommitRecord) error) error {
	cursor := me.NewCursor(false)
	for {
		entry, exists, err := cursor.NextEntry()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return pkgerrors.Wrap(err, "durlog: replay")
		}
		if !exists {
			return nil
		}
		record, err := DecodeCommitRecord(entry.Content)
		if err != nil {
			return err
		}
		if err := fn(record); err != nil {
			return err
		}
	}
}
