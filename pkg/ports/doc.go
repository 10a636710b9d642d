// Package ports defines the interfaces between the orchestration core and
// its infrastructure: durable stores, task executors, routing strategies,
// the event bus and metrics. Adapters under pkg/adapters implement them.
package ports
