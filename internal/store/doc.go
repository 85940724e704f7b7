// Package store provides SQLite-backed durable storage for a content node:
// users, their durable records, and per-user clock state.
//
// # Clock transactions
//
// AssignClocks runs one transaction per user. It reads the user's max clock
// and every unclocked record, sequences them with clock.Sequence, writes the
// per-record clocks and the new max clock, and commits. Any failure rolls the
// whole user back; the records stay unclocked for the next pass. Other users
// are unaffected.
//
// # Replication
//
// RecordsSince serves a secondary's pull ("everything after clock N").
// ApplyExport is the secondary side: it appends a contiguous delta and
// advances the local replicated clock in one transaction.
//
// # Deterministic Ordering
//
// Every query that returns records orders them explicitly, either by clock
// or by (created_at, seq, id COLLATE BINARY).
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
