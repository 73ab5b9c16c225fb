package cc_test

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/navijation/njtxn/cc"
	"github.com/navijation/njtxn/epoch"
	"github.com/navijation/njtxn/pointindex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests mirror the end-to-end scenarios used to validate that the
// protocol enforces strict serializability and the documented anomaly
// avoidance: increment races, dirty reads, repeatable reads, write skew,
// the Fekete et al. read-only anomaly, and SiloNWR's blind-write
// reordering.

func txOnce(idx *pointindex.Index, fw *epoch.Framework, kind cc.Kind, threadID uint32, body func(p *cc.Protocol)) bool {
	local := fw.Register()
	defer fw.Unregister(local)
	local.Enter(fw.Global())
	defer local.Exit()

	p := cc.New(kind, idx, local, fw, threadID)
	body(p)
	committed := p.Precommit()
	p.PostProcessing()
	return committed
}

func mustSetInt(idx *pointindex.Index, fw *epoch.Framework, threadID uint32, key string, v int) {
	ok := txOnce(idx, fw, cc.Silo, threadID, func(p *cc.Protocol) {
		p.Write([]byte(key), []byte(strconv.Itoa(v)))
	})
	if !ok {
		panic("seed write unexpectedly aborted")
	}
}

func readInt(idx *pointindex.Index, fw *epoch.Framework, threadID uint32, key string) int {
	var out int
	txOnce(idx, fw, cc.Silo, threadID, func(p *cc.Protocol) {
		v, ok := p.Read([]byte(key))
		if !ok {
			out = 0
			return
		}
		n, err := strconv.Atoi(string(v))
		if err != nil {
			panic(err)
		}
		out = n
	})
	return out
}

func TestScenario_IncrementRace(t *testing.T) {
	t.Parallel()

	idx := pointindex.New(8)
	fw := epoch.New(1000)
	mustSetInt(idx, fw, 0, "alice", 1)

	var wg sync.WaitGroup
	committed := make([]bool, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			committed[i] = txOnce(idx, fw, cc.Silo, uint32(i+1), func(p *cc.Protocol) {
				v, _ := p.Read([]byte("alice"))
				x, _ := strconv.Atoi(string(v))
				time.Sleep(time.Millisecond)
				p.Write([]byte("alice"), []byte(strconv.Itoa(x+1)))
			})
		}(i)
	}
	wg.Wait()

	c := 0
	for _, ok := range committed {
		if ok {
			c++
		}
	}

	final := readInt(idx, fw, 99, "alice")
	assert.Equal(t, 1+c, final)
}

func TestScenario_NoDirtyRead(t *testing.T) {
	t.Parallel()

	idx := pointindex.New(8)
	fw := epoch.New(1000)

	keys := make([]string, 11)
	for i := range keys {
		keys[i] = "alice" + strconv.Itoa(i)
	}

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		committed := txOnce(idx, fw, cc.Silo, 1, func(p *cc.Protocol) {
			for _, k := range keys {
				p.Write([]byte(k), []byte{0xBE, 0xEF})
			}
			time.Sleep(time.Millisecond)
			p.Abort()
		})
		assert.False(t, committed)
	}()

	observe := func(threadID uint32) {
		defer wg.Done()
		for _, k := range keys {
			txOnce(idx, fw, cc.Silo, threadID, func(p *cc.Protocol) {
				_, ok := p.Read([]byte(k))
				assert.False(t, ok, "an aborted writer's values must never be visible")
			})
		}
	}
	go observe(2)
	go observe(3)

	wg.Wait()
}

func TestScenario_RepeatableRead(t *testing.T) {
	t.Parallel()

	idx := pointindex.New(8)
	fw := epoch.New(1000)
	mustSetInt(idx, fw, 0, "alice", 0xBEEF)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		txOnce(idx, fw, cc.Silo, 1, func(p *cc.Protocol) {
			for i := 0; i < 11; i++ {
				p.Write([]byte("alice"), []byte(strconv.Itoa(0xBEEF+i)))
				time.Sleep(100 * time.Microsecond)
			}
		})
	}()

	go func() {
		defer wg.Done()
		txOnce(idx, fw, cc.Silo, 2, func(p *cc.Protocol) {
			var first []byte
			for i := 0; i < 11; i++ {
				v, ok := p.Read([]byte("alice"))
				require.True(t, ok)
				if i == 0 {
					first = v
				} else {
					assert.Equal(t, first, v, "all reads within one transaction must agree")
				}
				time.Sleep(100 * time.Microsecond)
			}
		})
	}()

	wg.Wait()
}

func TestScenario_AvoidsWriteSkew(t *testing.T) {
	t.Parallel()

	idx := pointindex.New(8)
	fw := epoch.New(1000)
	mustSetInt(idx, fw, 0, "alice", 0)
	mustSetInt(idx, fw, 0, "bob", 1)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(threadID uint32) {
			defer wg.Done()
			txOnce(idx, fw, cc.Silo, threadID, func(p *cc.Protocol) {
				v, _ := p.Read([]byte("alice"))
				b, _ := strconv.Atoi(string(v))
				p.Write([]byte("bob"), []byte(strconv.Itoa(b+1)))
			})
		}(uint32(10 + i))
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(threadID uint32) {
			defer wg.Done()
			txOnce(idx, fw, cc.Silo, threadID, func(p *cc.Protocol) {
				v, _ := p.Read([]byte("bob"))
				a, _ := strconv.Atoi(string(v))
				p.Write([]byte("alice"), []byte(strconv.Itoa(a+1)))
			})
		}(uint32(20 + i))
	}
	wg.Wait()

	alice := readInt(idx, fw, 99, "alice")
	bob := readInt(idx, fw, 99, "bob")

	diff := alice - bob
	if diff < 0 {
		diff = -diff
	}
	assert.Equal(t, 1, diff, "alice and bob must never drift more than one apart")
}

// TestScenario_AvoidsReadOnlyAnomaly reproduces Fekete et al.'s Example 1.3:
// T1 writes y from a read of y; T2 reads x and y and writes x; T3 is
// read-only and aborts itself unless it observes T1's write to y, so the
// only way T3 can commit is by observing the correct serial order (T1,
// T2, T3) even though T1 and T2's operations interleave.
func TestScenario_AvoidsReadOnlyAnomaly(t *testing.T) {
	t.Parallel()

	idx := pointindex.New(8)
	fw := epoch.New(1000)
	mustSetInt(idx, fw, 0, "x", 0)
	mustSetInt(idx, fw, 0, "y", 0)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for !txOnce(idx, fw, cc.Silo, 1, func(p *cc.Protocol) {
			p.Read([]byte("y"))
			p.Write([]byte("y"), []byte("20"))
		}) {
		}
	}()

	go func() {
		defer wg.Done()
		for !txOnce(idx, fw, cc.Silo, 2, func(p *cc.Protocol) {
			p.Read([]byte("x"))
			p.Read([]byte("y"))
			p.Write([]byte("x"), []byte("-11"))
		}) {
		}
	}()

	wg.Wait()

	var sawX, sawY string
	for {
		committed := txOnce(idx, fw, cc.Silo, 3, func(p *cc.Protocol) {
			x, _ := p.Read([]byte("x"))
			y, _ := p.Read([]byte("y"))
			sawX, sawY = string(x), string(y)
			if sawY != "20" {
				p.Abort()
			}
		})
		if committed {
			break
		}
	}

	assert.Equal(t, "-11", sawX)
	assert.Equal(t, "20", sawY)
}

// TestScenario_SiloNWR_AllowsReorderedBlindWrite reproduces the documented
// blind-write-reordering case: T_R reads k (committing read-only), T_W
// blind-writes k without reading it first. A baseline Silo validator
// would abort T_R if T_W's commit lands before T_R validates; SiloNWR
// instead lets both commit, serializing T_R before T_W.
func TestScenario_SiloNWR_AllowsReorderedBlindWrite(t *testing.T) {
	t.Parallel()

	idx := pointindex.New(8)
	fw := epoch.New(1000)
	mustSetInt(idx, fw, 0, "k", 0)

	local := fw.Register()
	defer fw.Unregister(local)
	local.Enter(fw.Global())
	defer local.Exit()

	reader := cc.New(cc.SiloNWR, idx, local, fw, 1)
	_, ok := reader.Read([]byte("k"))
	require.True(t, ok)

	writerCommitted := txOnce(idx, fw, cc.SiloNWR, 2, func(p *cc.Protocol) {
		p.Write([]byte("k"), []byte("1")) // blind: no prior read by this txn
	})
	require.True(t, writerCommitted, "the blind writer must commit")

	readerCommitted := reader.Precommit()
	reader.PostProcessing()
	assert.True(t, readerCommitted, "SiloNWR must let the reader commit despite the intervening blind write")
}

func TestScenario_BaselineSilo_AbortsOnTheSameInterleaving(t *testing.T) {
	t.Parallel()

	idx := pointindex.New(8)
	fw := epoch.New(1000)
	mustSetInt(idx, fw, 0, "k", 0)

	local := fw.Register()
	defer fw.Unregister(local)
	local.Enter(fw.Global())
	defer local.Exit()

	reader := cc.New(cc.Silo, idx, local, fw, 1)
	_, ok := reader.Read([]byte("k"))
	require.True(t, ok)

	writerCommitted := txOnce(idx, fw, cc.Silo, 2, func(p *cc.Protocol) {
		p.Write([]byte("k"), []byte("1"))
	})
	require.True(t, writerCommitted)

	readerCommitted := reader.Precommit()
	reader.PostProcessing()
	assert.False(t, readerCommitted, "without NWR, the same interleaving must abort the reader")
}
