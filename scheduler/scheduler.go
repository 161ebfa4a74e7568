// Package scheduler wires the recurring sync and integrity jobs.
// It handles:
// - Daily price, minute price, institutional flow and option factor ingestion
// - Futures contract ingestion and continuous-series stitching
// - Nightly integrity checking with auto-repair
//
// Every job body runs under the persisted dedup guard, so overlapping
// triggers (a scheduler tick racing a manual trigger, or a second worker
// process on the same schedule) cannot double-run a job.
//
// The job table and trigger entry points are implemented in jobs.go.
package scheduler
