// Package storage provides checkpoint and contract store implementations.
//
// Implementations:
//   - fs: versioned JSON files under a project tree
//   - redis: Redis with JSON serialization and leases
//   - memory: in-memory for testing
package storage
