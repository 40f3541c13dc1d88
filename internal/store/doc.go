// Package store provides SQLite-backed durable storage for checkout sessions,
// stocked items and orders.
//
// # Concurrency
//
// Sessions use optimistic concurrency: every row carries a version and
// UpdateSession only applies when the stored version matches the caller's.
//
// Order approval runs as a single immediate transaction over a single
// connection, so concurrent approvals serialize and each observes the
// quantities committed by the previous one. Item updates are additionally
// guarded by quantity_available >= requested and the CHECK constraint keeps
// stock non-negative even if a guard were bypassed.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//   - _txlock=immediate: Transactions take the write lock at BEGIN
//
// All timestamps are stored as unix milliseconds in UTC.
package store
