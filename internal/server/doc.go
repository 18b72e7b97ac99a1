// ABOUTME: Package server hosts the HTTP surface: WebSocket endpoint and REST fallback
// ABOUTME: Owns process lifecycle, background sweeps, and graceful shutdown

// Package server wires the chat components behind HTTP. It exposes the
// WebSocket endpoint at GET /ws, a REST fallback for clients that cannot
// hold a socket, the admin claim queue, and the health check. The server
// also runs the background sweeps that enforce the idle timeout and the
// typing staleness ceiling.
//
// Endpoints:
//
//   - GET  /ws                      - WebSocket chat protocol
//   - POST /api/chat/start          - Open a session (customer)
//   - POST /api/chat/end            - End a session (participant)
//   - GET  /api/chat/session        - Fetch the caller's open session
//   - GET  /api/chat/history        - Read a session transcript
//   - GET  /api/admin/chat/waiting  - Claim queue (admin)
//   - POST /api/admin/chat/claim    - Claim a waiting session (admin)
//   - GET  /healthz                 - Liveness check
//
// All chat endpoints require a bearer token; WebSocket clients pass it as a
// "token" query parameter instead.
package server
