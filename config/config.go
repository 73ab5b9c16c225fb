// Package config defines the options surface consumed by the core and its
// external collaborators (spec.md §6 "Configuration surface").
package config

import "github.com/navijation/njtxn/cc"

// Config enumerates the options the core and its collaborators consume.
// Unknown ConcurrencyControlProtocol values default to SiloNWR, preserving
// the original implementation's default case (spec.md §9's "Open
// questions").
type Config struct {
	// ConcurrencyControlProtocol selects the protocol variant; parsed via
	// cc.ParseKind, which defaults unknown strings to SiloNWR.
	ConcurrencyControlProtocol string

	// EpochDurationMs is the advisory cadence the Epoch Advancer ticks at.
	EpochDurationMs uint64

	// EnableRecovery gates replaying the durable log into the Point Index
	// on Open.
	EnableRecovery bool

	// EnableLogging gates whether committed transactions are appended to
	// the durable log at all.
	EnableLogging bool

	// ShardCount is the number of Point Index shards; rounded up to the
	// next power of two. Zero selects pointindex's default.
	ShardCount int

	// WorkerCount is the number of goroutines in the dispatcher pool.
	WorkerCount int
}

// Kind resolves the configured protocol string to a cc.Kind.
func (c Config) Kind() cc.Kind {
	return cc.ParseKind(c.ConcurrencyControlProtocol)
}

// Default returns a Config with conservative, small-scale defaults:
// SiloNWR, a 40ms epoch cadence, recovery and logging both on, and a
// small fixed worker count — suitable for tests and the CLI demo.
func Default() Config {
	return Config{
		ConcurrencyControlProtocol: "silo_nwr",
		EpochDurationMs:            40,
		EnableRecovery:             true,
		EnableLogging:              true,
		ShardCount:                 64,
		WorkerCount:                4,
	}
}
