// Package websocket provides real-time event streaming via WebSocket.
//
// Clients can connect to /api/v1/runs/:id/ws to receive live run and node
// lifecycle events for one planning run.
package websocket
