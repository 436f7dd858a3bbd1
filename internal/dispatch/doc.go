// Package dispatch runs delayed settlement attempts from the durable queue.
//
// The dispatcher polls the queue on a fixed interval, claims at most one due
// job per tick, and hands it to the payment orchestrator. Jobs are executed
// serially, so at most one retry attempt is in flight per process.
//
// Job outcomes:
//   - Attempt ran (transfer succeeded, failed, or was re-armed) -> succeeded
//   - Attempt refused (precondition, lost race, cycle already failed) -> failed
//   - Persistence error -> re-queued with doubling delay until max_attempts, then dead
//
// A settlement attempt that fails at the ledger is not a job failure: the
// orchestrator records it on the payment record and queues the next attempt
// itself under the bounty's dedupe key.
package dispatch
