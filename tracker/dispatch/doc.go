// Package dispatch delivers outbound frames to a computed set of live
// connections.
//
// Delivery is at-most-once. Each recipient's Handle.Send is non-blocking; a
// closed or saturated transport is recorded as a per-recipient failure in
// the Report and the fan-out continues with the next recipient. Reports
// are for logging only and are never surfaced to the sender.
package dispatch
