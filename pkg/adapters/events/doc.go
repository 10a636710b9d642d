// Package events provides event bus implementations.
//
// Implementations:
//   - redis: Redis Streams with consumer groups
//   - memory: in-memory for testing
package events
