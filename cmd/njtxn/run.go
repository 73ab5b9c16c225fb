package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/navijation/njtxn/config"
	"github.com/navijation/njtxn/db"
	"github.com/navijation/njtxn/txn"
	"github.com/urfave/cli/v3"
)

// runBatch opens a fresh store under a per-run scratch directory and
// dispatches --transactions increment-a-random-counter transactions
// across --workers workers, each reading a key's current integer value,
// incrementing it, and writing it back — the read-modify-write pattern
// spec.md §8's increment-race scenario exercises, here run at scale
// instead of as a fixed two-transaction unit test.
func runBatch(ctx context.Context, cmd *cli.Command) error {
	runID := uuid.NewString()
	dir, err := os.MkdirTemp("", "njtxn-"+runID)
	if err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	cfg := config.Default()
	cfg.ConcurrencyControlProtocol = cmd.String("protocol")
	cfg.WorkerCount = int(cmd.Uint("workers"))
	cfg.EnableLogging = cmd.Bool("logging")
	cfg.EnableRecovery = cfg.EnableLogging

	database, err := db.Open(cfg, filepath.Join(dir, "commit.log"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	keyCount := int(cmd.Uint("keys"))
	txnCount := int(cmd.Uint("transactions"))

	var committed, aborted atomic.Int64
	source := rand.New(rand.NewSource(time.Now().UnixNano()))

	var wg sync.WaitGroup
	for i := 0; i < txnCount; i++ {
		key := []byte("counter-" + strconv.Itoa(source.Intn(keyCount)))

		wg.Add(1)
		database.ExecuteTransaction(func(tx *txn.Transaction) {
			incrementCounter(tx, key)
		}, func(ok bool) {
			defer wg.Done()
			if ok {
				committed.Add(1)
			} else {
				aborted.Add(1)
			}
		})
	}
	wg.Wait()
	database.Fence()

	fmt.Printf("run %s: %d committed, %d aborted, %d keys, protocol=%s\n",
		runID, committed.Load(), aborted.Load(), keyCount, cfg.Kind())

	for i := 0; i < keyCount; i++ {
		key := []byte("counter-" + strconv.Itoa(i))
		if rec, ok := database.Index().Lookup(key); ok {
			fmt.Printf("  %s = %s\n", key, rec.Payload())
		}
	}

	return nil
}

func incrementCounter(tx *txn.Transaction, key []byte) {
	current := 0
	if value, ok := tx.Read(key); ok {
		parsed, err := strconv.Atoi(string(value))
		if err == nil {
			current = parsed
		}
	}
	tx.Write(key, []byte(strconv.Itoa(current+1)))
}
