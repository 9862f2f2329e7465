// Package store provides a SQLite-backed journal of test runs.
//
// A journal holds three tables:
//   - runs: one row per plan execution, keyed by a UUIDv7
//   - messages: every lifecycle message published during the run
//   - outcomes: pass/fail, elapsed seconds and failure text per test
//
// # Ordering
//
// Messages and outcomes are ordered by seq, a per-run logical clock assigned
// under the journal's write lock. Queries always ORDER BY seq ASC so reading
// a run back yields exactly the publish order.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
