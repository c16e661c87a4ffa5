// Package api provides the HTTP REST API of the verification gate.
//
// The api package implements:
//   - Arrival, submission and departure endpoints for hosts without websockets
//   - Admin endpoints for kicking users, queueing actions and inspecting sessions
//   - Configuration inspection and hot reload
//   - WebSocket upgrade handling
//   - Prometheus metrics and health endpoints
//
// Endpoints:
//
// Users:
//   - POST /api/users/{id}/arrive - Start verification (201) or report a bypass (200)
//   - POST /api/users/{id}/submit - Submit a code: {"code": "K7Q2"}
//   - POST /api/users/{id}/actions - Queue an action released on success
//   - POST /api/users/{id}/kick - Revoke and disconnect: {"reason": "..."}
//   - GET /api/users/{id} - Current session of a user
//   - DELETE /api/users/{id} - Report a departure
//   - GET /api/users - List sessions (?status=pending&limit=10)
//
// Gate:
//   - GET /api/status - Counts, timing and connection totals
//   - GET /api/config - Effective configuration as YAML, secrets redacted
//   - POST /api/config/reload - Re-read the configuration file
//
// Transport:
//   - GET /ws?user={id} - User websocket
//   - GET /ws/watch - Watcher websocket for events and actions
//   - GET /metrics - Prometheus exposition
//   - GET /healthz - Liveness
//
// Error Handling:
//
// Wrong codes and missing sessions on submit are outcomes and return 200.
// Errors are returned as JSON with an appropriate status code:
//
//	{
//	  "error": "session not found"
//	}
//
// A rejected configuration on reload returns 422 with the list of problems.
package api
