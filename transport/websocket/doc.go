// Package websocket provides the websocket transport for the bus tracker.
//
// The package implements:
//   - The server side Hub that accepts connections on /ws
//   - Per-connection read and write pumps with ping/pong keepalive
//   - Idle eviction of registry entries whose transport went silent
//   - A small Go client (Dial) used by the simulator and tests
//
// Architecture:
//
// Each accepted connection gets a Client with two goroutines. The read pump
// handles frames strictly in arrival order: each frame is routed, persisted
// if durable and fanned out before the next frame is read. The write pump is
// the only writer on the socket and drains a buffered channel; Client.Send
// never blocks, so one slow reader cannot stall a broadcast.
//
// Message Protocol:
//
//   - Incoming: {"type": "location_update", "data": {...}}
//   - Outgoing: {"type": "...", "data": {...}, "message": "...", "code": "..."}
//
// Usage:
//
//	hub := websocket.NewHub(reg, rt, websocket.WithLogger(logger))
//	go hub.Run(ctx)
//	http.HandleFunc("/ws", hub.ServeWS)
//
// Connection Lifecycle:
//
// 1. Client connects and sends auth
// 2. The router registers the connection
// 3. Client sends events, receives broadcasts
// 4. Close, eviction or supersession releases the registry entry
package websocket
