package router

import (
	"github.com/wricardo/schoolbus-tracker/tracker/registry"
)

// Peer is the router's view of one transport. It starts unauthenticated and
// holds the registry entry created by its last successful auth frame.
//
// A Peer belongs to the goroutine reading its transport and must not be
// shared.
type Peer struct {
	Handle registry.Handle
	conn   *registry.Connection
}

// NewPeer wraps a transport handle.
func NewPeer(h registry.Handle) *Peer {
	return &Peer{Handle: h}
}

// Connection returns the registry entry, or nil before auth.
func (p *Peer) Connection() *registry.Connection {
	return p.conn
}

// Authenticated reports whether an auth frame has succeeded.
func (p *Peer) Authenticated() bool {
	return p.conn != nil
}

// UserID returns the authenticated user id, or "".
func (p *Peer) UserID() string {
	if p.conn == nil {
		return ""
	}
	return p.conn.UserID
}
