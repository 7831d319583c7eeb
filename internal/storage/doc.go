// Package storage provides the persistent key-value layer used by scrubber.
//
// It holds both the deletion schedule document and the transients themselves.
// Every value carries a per-key version so callers can do optimistic
// read-modify-write via CompareAndSwap.
//
// Drivers:
//   - "memory": process-local map (tests, ephemeral runs)
//   - "file":   JSON snapshot + append-only journal, compacted periodically
//   - "sqlite": single SQLite database file (modernc.org/sqlite, no cgo)
package storage
