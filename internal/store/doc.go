// Package store provides SQLite-backed storage for optimized plans and
// pass traces.
//
// Two tables:
//   - plans: optimized plan documents keyed by the hash of the input plan
//     and the hash of the configuration that produced them
//   - pass_runs: one row per executed pass, grouped by run id
//
// Pass runs are ordered by seq, never by wall time, so a trace reads the
// same however long the passes took.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//
// Store implements optimizer.Tracer.
package store
