// Package taskqueue implements the one-shot task lifecycle on top of the
// storage layer: enqueue, atomic claim, complete/fail reporting, retry,
// and crash recovery, plus the worker pool that drains the queue.
//
// The state machine is pending -> running -> {complete, failed}. All
// guarded transitions go through the store's conditional UPDATE, so a
// straggling worker can never overwrite a result a faster one already
// wrote.
package taskqueue
