// Package presence mirrors the connection registry into Redis so other
// processes (and the REST status endpoint) can see who is online.
//
// The registry stays the routing authority; presence is advisory. Keys
// carry a TTL refreshed by heartbeats, so a crashed process's users drop
// out on their own.
package presence
