package txnset_test

import (
	"testing"

	"github.com/navijation/njtxn/tid"
	"github.com/navijation/njtxn/txnset"
	"github.com/stretchr/testify/assert"
)

func TestUpsert_InsertsThenOverwritesInPlace(t *testing.T) {
	t.Parallel()

	var s txnset.Set
	s.Upsert(txnset.Snapshot{Key: []byte("a"), Value: []byte("1")})
	s.Upsert(txnset.Snapshot{Key: []byte("b"), Value: []byte("2")})
	assert.Equal(t, 2, s.Len())

	s.Upsert(txnset.Snapshot{Key: []byte("a"), Value: []byte("1-updated")})
	assert.Equal(t, 2, s.Len(), "re-upserting an existing key must not grow the set")

	entries := s.Entries()
	assert.Equal(t, []byte("a"), entries[0].Key, "in-place update must preserve position")
	assert.Equal(t, []byte("1-updated"), entries[0].Value)
}

func TestFind_MissingKeyReturnsFalse(t *testing.T) {
	t.Parallel()

	var s txnset.Set
	_, ok := s.Find([]byte("missing"))
	assert.False(t, ok)
}

func TestMarkReadModifyWrite(t *testing.T) {
	t.Parallel()

	var s txnset.Set
	s.Upsert(txnset.Snapshot{Key: []byte("k"), SizeObservedTID: tid.Compose(1, 0, 0)})

	assert.False(t, s.MarkReadModifyWrite([]byte("missing")))
	assert.True(t, s.MarkReadModifyWrite([]byte("k")))

	entry, ok := s.Find([]byte("k"))
	assert.True(t, ok)
	assert.True(t, entry.IsReadModifyWrite)
}

func TestReset_ClearsEntries(t *testing.T) {
	t.Parallel()

	var s txnset.Set
	s.Upsert(txnset.Snapshot{Key: []byte("k")})
	s.Reset()

	assert.Equal(t, 0, s.Len())
	assert.False(t, s.Contains([]byte("k")))
}
