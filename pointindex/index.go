// Package pointindex implements the concurrent point index: a sharded
// mapping from byte-string keys to versioned Records. Finding a key's
// Record (GetOrInsert, Lookup) takes that key's shard mutex on every call;
// once a caller holds the *Record, every read, lock, install or unlock of
// it is lock-free, working directly against that Record's atomics
// (spec §4.1).
package pointindex

import (
	"hash/maphash"
	"sync"
)

const defaultShardCount = 64

// Index is the process-wide concurrent keyed record store. The zero value
// is not usable; construct with New.
type Index struct {
	seed   maphash.Seed
	shards []shard
	mask   uint64
}

type shard struct {
	mu      sync.Mutex
	records map[string]*Record
}

// New returns an Index with shardCount shards, rounded up to the next
// power of two (so shard selection is a mask, not a modulo). A skewed key
// distribution only ever contends the shard(s) its keys hash to, not the
// whole index.
func New(shardCount int) *Index {
	if shardCount <= 0 {
		shardCount = defaultShardCount
	}
	n := 1
	for n < shardCount {
		n <<= 1
	}

	idx := &Index{
		seed:   maphash.MakeSeed(),
		shards: make([]shard, n),
		mask:   uint64(n - 1),
	}
	for i := range idx.shards {
		idx.shards[i].records = make(map[string]*Record)
	}
	return idx
}

func (idx *Index) shardFor(key []byte) *shard {
	var h maphash.Hash
	h.SetSeed(idx.seed)
	_, _ = h.Write(key)
	return &idx.shards[h.Sum64()&idx.mask]
}

// GetOrInsert returns the stable *Record handle for key, inserting a
// fresh zero-initialized, unlocked record if one is not already present.
func (idx *Index) GetOrInsert(key []byte) *Record {
	s := idx.shardFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.records[string(key)]; ok {
		return r
	}

	r := newRecord()
	s.records[string(key)] = r
	return r
}

// Lookup returns the record for key without inserting one, for callers
// (e.g. tests and the CLI's final report) that need to distinguish "never
// written" from "written empty".
func (idx *Index) Lookup(key []byte) (*Record, bool) {
	s := idx.shardFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[string(key)]
	return r, ok
}

// Len reports the number of distinct keys currently tracked, for tests.
func (idx *Index) Len() int {
	n := 0
	for i := range idx.shards {
		idx.shards[i].mu.Lock()
		n += len(idx.shards[i].records)
		idx.shards[i].mu.Unlock()
	}
	return n
}
