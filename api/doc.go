// Package api provides the HTTP REST API of the bus tracker.
//
// The api package implements:
//   - Health and runtime status endpoints
//   - Listing and force-closing live connections
//   - Location and message history backed by the event store
//   - Mounting of the websocket endpoint
//
// Endpoints:
//
// Runtime:
//   - GET /api/health - Liveness probe
//   - GET /api/status - Connection counts, fan-out mode, store driver
//   - GET /api/connections?role= - Live connections, optionally by role
//   - DELETE /api/connections/{userId} - Close a user's connection
//
// History:
//   - GET /api/buses/{busId}/locations?limit= - Recent samples, oldest first
//   - GET /api/buses/{busId}/location - Latest sample
//   - GET /api/users/{userId}/messages?limit= - Messages sent or received
//   - POST /api/messages/{id}/read - Mark a message read, body {"userId": "..."}
//
// WebSocket:
//   - GET /ws - Event stream, see package transport/websocket
//
// Usage:
//
//	server := api.NewServer(trackingService, http.HandlerFunc(hub.ServeWS), logger)
//	http.ListenAndServe(":8080", server)
//
// Error Handling:
//
// Errors are returned as JSON with an HTTP status code derived from the
// service error: invalid arguments map to 400, unknown buses, messages and
// users to 404, anything else to 500 with a generic message.
//
//	{
//	  "error": "error message"
//	}
//
// Every request passes through the chi RequestID, RealIP and Recoverer
// middleware.
package api
