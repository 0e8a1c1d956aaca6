// Package mcp provides a Model Context Protocol server for the bus tracker.
//
// The mcp package implements:
//   - MCP server for AI agent and operator tooling
//   - Tool definitions over the tracker's REST API
//   - Stdio and HTTP transport modes
//
// MCP Tools:
//
// The package exposes the following tools:
//   - system_status: Connection counts per role, fan-out mode, store driver
//   - list_connections: Live connections, optionally filtered by role
//   - bus_locations: Recent location samples for a bus
//   - latest_bus_location: Newest location sample for a bus
//   - user_messages: Chat messages sent or received by a user
//   - mark_message_read: Mark a message read for its recipient
//   - disconnect_user: Close a user's live connection
//
// The tools only observe and administer. Events are sent over the
// websocket endpoint by authenticated clients.
//
// Transport Modes:
//
//   - Stdio: Direct stdio communication for local MCP clients
//   - HTTP: single JSON-RPC messages POSTed to /mcp
//
// Usage:
//
//	client := mcp.NewClient("http://localhost:8080", version)
//
//	// Stdio mode
//	server.ServeStdio(client.GetMCPServer())
//
//	// HTTP mode
//	mux.Handle("/mcp", client.HTTPHandler())
package mcp
