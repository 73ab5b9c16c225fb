package durlog

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"errors"
	"hash"
	"io"

	"github.com/navijation/njtxn/util"
)

// LogCursor allows forward iteration over the commit entries of a CommitLog,
// used both to validate a log's checksum on open and to replay committed
// writes during recovery.
type LogCursor struct {
	parent         *CommitLog
	entryNumber    uint64
	offset         uint64
	buffer         *bufio.Reader
	shouldCheckSum bool
	hash           hash.Hash

	hasCurrentEntry bool
	currentEntry    LogEntry
}

func (me *CommitLog) NewCursor(checkSum bool) LogCursor {
	offset := me.header.Size()

	out := LogCursor{
		parent:         me,
		entryNumber:    me.header.start,
		offset:         offset,
		buffer:         me.fileBufferAt(offset),
		shouldCheckSum: checkSum,
	}

	if out.shouldCheckSum {
		out.hash = sha256.New()
		me.header.WriteHash(out.hash)
	}
	return out
}

func (me *LogCursor) NextEntry() (out LogEntry, exists bool, _ error) {
	if me.offset == me.parent.size {
		return out, false, nil
	}

	contentSize, _, err := util.ReadUint64(me.buffer)
	if err != nil {
		return out, false, err
	}

	if me.offset+contentSize > me.parent.size {
		return out, false, ErrInvalidContentSize
	}

	content := make([]byte, contentSize)
	if _, err := io.ReadAtLeast(me.buffer, content, int(contentSize)); err != nil {
		return out, false, err
	}

	if me.shouldCheckSum {
		contentSizeWord := util.Uint64ToWord64(contentSize)
		util.AssertNoError(writeAllNoErr(me.hash, contentSizeWord[:]))
		util.AssertNoError(writeAllNoErr(me.hash, content))
	}

	var signature [32]byte
	if _, err := io.ReadAtLeast(me.buffer, signature[:], len(signature)); err != nil {
		return out, false, err
	}

	internalEntry := internalLogEntry{
		contentSize: contentSize,
		content:     content,
		signature:   signature,
	}

	if me.shouldCheckSum && !bytes.Equal(me.hash.Sum(nil), signature[:]) {
		return out, true, ErrSignatureMismatch
	}

	me.currentEntry = LogEntry{
		EntryNumber: me.entryNumber,
		Offset:      me.offset,
		ContentSize: contentSize,
		Content:     content,
		Signature:   signature[:],
	}

	me.hasCurrentEntry = true
	me.entryNumber++
	me.offset += internalEntry.Size()

	return me.currentEntry, true, nil
}

func (me *LogCursor) Entry() (out LogEntry, _ error) {
	if !me.hasCurrentEntry {
		return out, errors.New("no entry")
	}
	return me.currentEntry, nil
}

func (me *LogCursor) HashState() hash.Hash {
	return me.hash
}

func writeAllNoErr(h hash.Hash, b []byte) error {
	_, err := h.Write(b)
	return err
}
