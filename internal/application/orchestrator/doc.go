// Package orchestrator implements the run phase machine over a dependency DAG.
//
// The manager owns the run registry and lifecycle (submit, execute, cancel,
// timeout). Each run walks Routing, Initializing (strictly sequential
// exploration against the checkpoint store), Negotiating (two-phase contract
// exchange), Executing (concurrent fan-out with per-run single-flight
// memoization and recursive delegation) and Consolidating. Node failures are
// folded into per-node terminal states; only graph construction errors fail
// a run outright.
package orchestrator
