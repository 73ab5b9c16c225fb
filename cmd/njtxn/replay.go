package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/navijation/njtxn/durlog"
	"github.com/urfave/cli/v3"
)

// replayLog reads a durable commit log in the format `run --logging`
// writes (run itself removes its scratch log when it exits) and prints
// every commit record in order, without going
// through recovery.Replay's Point Index reinstallation — useful for
// inspecting what a crash recovery pass would apply.
func replayLog(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return errors.New("usage: replay commit_log_path")
	}
	path := cmd.Args().First()

	log, err := durlog.Open(durlog.OpenArgs{Path: path})
	if err != nil {
		return fmt.Errorf("open %q: %w", path, err)
	}
	defer log.Close()

	count := 0
	err = log.Replay(func(record durlog.CommitRecord) error {
		count++
		fmt.Printf("commit %s: %d writes\n", record.TID, len(record.Writes))
		for _, w := range record.Writes {
			fmt.Printf("  %s = %s\n", w.Key, w.Value)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replay %q: %w", path, err)
	}

	fmt.Printf("%d commit records\n", count)
	return nil
}
