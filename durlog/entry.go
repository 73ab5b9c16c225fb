package durlog

import (
	"hash"
	"io"

	"github.com/navijation/njtxn/util"
)

// LogEntry is a decoded record read back from a CommitLog: the raw
// commit-record bytes (see commit.go for their structure) plus their
// position and integrity signature.
type LogEntry struct {
	EntryNumber uint64
	Offset      uint64
	ContentSize uint64
	Content     []byte
	Signature   []byte
}

// internalLogEntry is the on-disk framing of one entry: a length-prefixed
// content blob followed by a running SHA-256 signature over every entry
// written so far (content included). The signature is only trusted if it
// is the last thing durably written, so a torn write during a crash is
// detected and the entry discarded on the next open.
type internalLogEntry struct {
	contentSize uint64
	content     []byte
	signature   [32]byte
}

func (me *LogEntry) Size() uint64 {
	return 8 + me.ContentSize + 32
}

func (me *LogEntry) EndOffset() uint64 {
	return me.Offset + me.Size()
}

func (me *internalLogEntry) Size() uint64 {
	return 8 + me.contentSize + 32
}

func (me *internalLogEntry) WriteTo(writer io.Writer) (n int64, err error) {
	if dn, err := util.WriteUint64(writer, me.contentSize); err != nil {
		return n + int64(dn), err
	} else {
		n += int64(dn)
	}

	if dn, err := writer.Write(me.content[:]); err != nil {
		return n + int64(dn), err
	} else {
		n += int64(dn)
	}

	if dn, err := writer.Write(me.signature[:]); err != nil {
		return n + int64(dn), err
	} else {
		n += int64(dn)
	}

	return n, nil
}

func (me *internalLogEntry) WriteHash(hash hash.Hash) {
	_, err := util.WriteUint64(hash, me.contentSize)
	util.AssertNoError(err)

	_, err = hash.Write(me.content)
	util.AssertNoError(err)
}

func (me *internalLogEntry) ReadSignature(hash hash.Hash) {
	hashBytes := hash.Sum(nil)
	copy(me.signature[:], hashBytes[:])
}
