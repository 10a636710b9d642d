package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by stores when no record exists for a key.
// Corrupted or unreadable records are reported the same way so that
// initialization and negotiation are always safe to retry.
var ErrNotFound = errors.New("not found")

// graphError marks errors that abort a run before any phase starts.
type graphError interface {
	error
	graphError()
}

// IsGraphError reports whether err belongs to the fatal graph-construction
// class (cycle, unknown node).
func IsGraphError(err error) bool {
	var ge graphError
	return errors.As(err, &ge)
}

// CycleError indicates the submitted edge set is cyclic.
type CycleError struct {
	Nodes []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle involving nodes: %s", strings.Join(e.Nodes, ", "))
}

func (e *CycleError) graphError() {}

// UnknownNodeError indicates a reference to a node that was never declared.
type UnknownNodeError struct {
	Node         string
	ReferencedBy string
}

func (e *UnknownNodeError) Error() string {
	if e.ReferencedBy != "" {
		return fmt.Sprintf("unknown node %q referenced by %q", e.Node, e.ReferencedBy)
	}
	return fmt.Sprintf("unknown node %q", e.Node)
}

func (e *UnknownNodeError) graphError() {}

// ExecutorError captures a Task Executor call failure. It is node-local:
// the orchestrator folds it into the node's terminal status and never lets
// it abort unrelated nodes.
type ExecutorError struct {
	Node string
	Op   string // explore, declare_input_contract, declare_output_contract, run_task
	Err  error
}

func (e *ExecutorError) Error() string {
	return fmt.Sprintf("executor %s failed for node %s: %v", e.Op, e.Node, e.Err)
}

func (e *ExecutorError) Unwrap() error { return e.Err }

// ContractMissingError indicates a consumer needed a producer's output
// contract that was never generated. It surfaces as the consumer's Blocked
// status, not as a run failure.
type ContractMissingError struct {
	Producer string
	Consumer string
}

func (e *ContractMissingError) Error() string {
	return fmt.Sprintf("node %s is missing the output contract from %s", e.Consumer, e.Producer)
}

// DelegationCycleError indicates a node delegated, directly or through
// intermediates, to a node currently waiting on it within the same run.
type DelegationCycleError struct {
	Chain []string
}

func (e *DelegationCycleError) Error() string {
	return fmt.Sprintf("delegation cycle: %s", strings.Join(e.Chain, " -> "))
}
