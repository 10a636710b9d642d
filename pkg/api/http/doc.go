// Package http provides the HTTP REST API implementation.
//
// The HTTP server exposes endpoints for:
//   - Run submission, status and results
//   - Run cancellation
//   - Checkpoint administration (list, fork, clear)
//   - Contract inspection
//   - Health checks
//   - Prometheus metrics
package http
