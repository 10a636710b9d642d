// Package noop provides a metrics collector that discards everything.
// This is for testing purposes only.
package noop

import "time"

// Collector implements ports.MetricsCollector with no-ops.
type Collector struct{}

// NewCollector creates a no-op metrics collector.
func NewCollector() *Collector { return &Collector{} }

func (*Collector) RecordRunSubmitted(status string)                            {}
func (*Collector) RecordRunCompleted(status string, duration time.Duration)    {}
func (*Collector) RecordNodeExecuted(status string, duration time.Duration)    {}
func (*Collector) RecordExecutorCall(op, status string, d time.Duration)       {}
func (*Collector) RecordContractWritten(direction string)                      {}
func (*Collector) SetWorkerCounts(idle, busy, stopped int)                     {}
func (*Collector) SetActiveRuns(count int)                                     {}
