// Package service provides the administration and history layer of the bus
// tracker.
//
// The service package implements:
//   - Runtime status: connection counts per role, fan-out mode, store driver
//   - Listing and force-closing live connections
//   - Location history and latest position per bus
//   - Per-user message history and read receipts
//
// Architecture:
//
// The service layer sits between the outer surfaces (REST and MCP) and the
// tracker core. It reads the connection registry and the event store and
// never routes events itself; live traffic flows only through the
// websocket hub and the router.
//
// Usage:
//
//	svc := service.NewTrackingService(reg, events, hub, service.Options{
//		StoreDriver: "sqlite",
//		Fanout:      "scoped",
//	})
//	status, err := svc.Status(ctx)
package service
