// Package workers implements the worker pool that executes planning runs.
//
// The pool subscribes once to the run-requests topic and dispatches run IDs
// into a bounded queue; a fixed number of goroutines consume the queue and
// drive each run through the orchestrator. The health monitor tracks worker
// status and records metrics.
package workers
