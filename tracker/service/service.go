package service

import (
	"context"
	"errors"
	"time"

	"github.com/wricardo/schoolbus-tracker/tracker/directory"
	"github.com/wricardo/schoolbus-tracker/tracker/store"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotConnected    = errors.New("user not connected")
)

// TrackingService is the read and administration side of the tracker,
// shared by the REST and MCP surfaces.
type TrackingService interface {
	// Runtime state
	Status(ctx context.Context) (*Status, error)
	ListConnections(ctx context.Context, role directory.Role) ([]*ConnectionInfo, error)
	Disconnect(ctx context.Context, userID string) error

	// Durable history
	LocationHistory(ctx context.Context, busID int64, limit int) ([]store.LocationSample, error)
	LatestLocation(ctx context.Context, busID int64) (*store.LocationSample, error)
	Messages(ctx context.Context, userID string, limit int) ([]store.Message, error)
	MarkMessageRead(ctx context.Context, messageID int64, userID string) error
}

// Disconnector closes the live transport of a user.
type Disconnector interface {
	Disconnect(ctx context.Context, userID string) error
}

// PresenceReader reports cross-process presence.
type PresenceReader interface {
	OnlineByRole(ctx context.Context, role directory.Role) ([]string, error)
}

// Status is a snapshot of the running tracker.
type Status struct {
	Connections int                    `json:"connections"`
	ByRole      map[directory.Role]int `json:"by_role"`
	Fanout      string                 `json:"fanout"`
	Store       string                 `json:"store"`
	// Online counts users per role across every tracker process. It is
	// only set when a shared presence backend is configured.
	Online    map[directory.Role]int `json:"online,omitempty"`
	StartedAt time.Time              `json:"started_at"`
	Uptime    string                 `json:"uptime"`
}

// ConnectionInfo describes one registry entry.
type ConnectionInfo struct {
	ID          string         `json:"id"`
	UserID      string         `json:"user_id"`
	Role        directory.Role `json:"role"`
	BusIDs      []int64        `json:"bus_ids,omitempty"`
	StudentIDs  []string       `json:"student_ids,omitempty"`
	ConnectedAt time.Time      `json:"connected_at"`
	LastSeen    time.Time      `json:"last_seen"`
}
