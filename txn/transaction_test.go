package txn_test

import (
	"testing"

	"github.com/navijation/njtxn/cc"
	"github.com/navijation/njtxn/epoch"
	"github.com/navijation/njtxn/pointindex"
	"github.com/navijation/njtxn/txn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransaction_ReadWritePrecommit(t *testing.T) {
	t.Parallel()

	idx := pointindex.New(4)
	fw := epoch.New(1000)
	local := fw.Register()
	local.Enter(fw.Global())
	defer fw.Unregister(local)

	tx := txn.New(cc.Silo, idx, local, fw, 1)
	tx.Write([]byte("k"), []byte("v"))

	v, ok := tx.Read([]byte("k"))
	require.True(t, ok)
	assert.Equal(t, []byte("v"), v)

	require.True(t, tx.Precommit())
	tx.PostProcessing()

	assert.Equal(t, cc.StatusCommitted, tx.Status())

	rec, ok := idx.Lookup([]byte("k"))
	require.True(t, ok)
	assert.Equal(t, tx.CommitTID(), rec.TIDWord())
}

func TestTransaction_UserAbort_ShortCircuitsReadAndWrite(t *testing.T) {
	t.Parallel()

	idx := pointindex.New(4)
	fw := epoch.New(1000)
	local := fw.Register()
	local.Enter(fw.Global())
	defer fw.Unregister(local)

	tx := txn.New(cc.Silo, idx, local, fw, 1)
	tx.Abort()

	tx.Write([]byte("k"), []byte("v"))
	v, ok := tx.Read([]byte("k"))
	assert.False(t, ok)
	assert.Nil(t, v)

	assert.False(t, tx.Precommit())
	tx.PostProcessing()

	assert.Equal(t, cc.StatusAborted, tx.Status())
	_, ok = idx.Lookup([]byte("k"))
	assert.False(t, ok)
}
