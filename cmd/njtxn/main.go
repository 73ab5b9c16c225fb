package main

import (
	"context"
	"log"
	"os"

	"github.com/urfave/cli/v3"
)

func main() {
	app := &cli.Command{
		Name:  "njtxn",
		Usage: "exercise the njtxn transactional key-value core",
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "dispatch a scripted batch of concurrent increment transactions",
				Action: runBatch,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "protocol",
						Value: "silo_nwr",
						Usage: "concurrency control protocol: silo or silo_nwr",
					},
					&cli.UintFlag{
						Name:  "workers",
						Value: 4,
						Usage: "number of dispatcher worker goroutines",
					},
					&cli.UintFlag{
						Name:  "keys",
						Value: 8,
						Usage: "number of distinct counter keys contended over",
					},
					&cli.UintFlag{
						Name:  "transactions",
						Value: 2000,
						Usage: "number of increment transactions to dispatch",
					},
					&cli.BoolFlag{
						Name:  "logging",
						Value: true,
						Usage: "append committed writes to a durable commit log",
					},
				},
			},
			{
				Name:   "replay",
				Usage:  "replay a durable commit log and print the resulting key/value pairs",
				Action: replayLog,
			},
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
