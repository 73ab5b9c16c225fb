package pool_test

import (
	"strconv"
	"sync"
	"testing"

	"github.com/navijation/njtxn/cc"
	"github.com/navijation/njtxn/epoch"
	"github.com/navijation/njtxn/pointindex"
	"github.com/navijation/njtxn/pool"
	"github.com/navijation/njtxn/txn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_RunsSubmittedProceduresAndReportsCommit(t *testing.T) {
	t.Parallel()

	idx := pointindex.New(4)
	fw := epoch.New(1000)
	p := pool.New(2, idx, fw, cc.Silo)
	p.Start()
	defer p.Stop()

	var wg sync.WaitGroup
	results := make(chan pool.Result, 1)

	wg.Add(1)
	p.Submit(pool.Job{
		Procedure: func(tx *txn.Transaction) {
			tx.Write([]byte("k"), []byte("v"))
		},
		Callback: func(r pool.Result) {
			defer wg.Done()
			results <- r
		},
	})
	wg.Wait()

	r := <-results
	assert.True(t, r.Committed)

	rec, ok := idx.Lookup([]byte("k"))
	require.True(t, ok)
	assert.Equal(t, []byte("v"), rec.Payload())
	assert.Equal(t, r.CommitTID, rec.TIDWord())
}

func TestPool_SameWorkerSuccessiveCommitsAreMonotonic(t *testing.T) {
	t.Parallel()

	idx := pointindex.New(4)
	fw := epoch.New(1000)
	p := pool.New(1, idx, fw, cc.Silo)
	p.Start()
	defer p.Stop()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var commitTIDs []string

	for i := 0; i < 5; i++ {
		wg.Add(1)
		key := []byte("key" + strconv.Itoa(i))
		p.Submit(pool.Job{
			Procedure: func(tx *txn.Transaction) {
				tx.Write(key, []byte("v"))
			},
			Callback: func(r pool.Result) {
				defer wg.Done()
				mu.Lock()
				commitTIDs = append(commitTIDs, r.CommitTID.String())
				mu.Unlock()
			},
		})
	}
	wg.Wait()

	assert.Len(t, commitTIDs, 5)

	seen := make(map[string]bool)
	for _, id := range commitTIDs {
		assert.False(t, seen[id], "a single worker must never reuse a commit TID across disjoint-key transactions")
		seen[id] = true
	}
}
