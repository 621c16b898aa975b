// Package wral is a segmented, append-only write-ahead log: a sequence of
// numbered journal files under one directory, each holding a run of CBOR
// batches. One dedicated goroutine owns all writes; AddOp and Commit hand
// their request to it over a channel and block for the reply, so callers
// never touch a journal file directly. Grounded on original_source's
// src/wral/{wral,wal,journal,journals}.rs.
package wral

// Config is a Wal's on-disk layout and durability policy.
type Config struct {
	Dir  string
	Name string

	// JournalLimit is the on-disk size, in bytes, past which the
	// working journal is rotated into a new file.
	JournalLimit int

	// Fsync forces every batch to be synced to disk before AddOp
	// returns, regardless of the writer loop's own periodic and
	// commit-triggered sync decisions.
	Fsync bool
}

// defaultJournalLimit mirrors wral.rs's default journal_limit of 1GB,
// scaled down since this is an embedded log, not a distributed one.
const defaultJournalLimit = 16 * 1024 * 1024

// NewConfig returns a Config with the library's defaults: a 16MB journal
// limit and fsync left to the writer loop's own periodic/commit triggers.
func NewConfig(dir, name string) Config {
	return Config{Dir: dir, Name: name, JournalLimit: defaultJournalLimit, Fsync: false}
}
