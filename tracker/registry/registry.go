package registry

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/wricardo/schoolbus-tracker/tracker/directory"
)

var (
	ErrNotRegistered = errors.New("user not registered")
	ErrInvalidEntry  = errors.New("connection requires a user id and a valid role")
)

// Handle is the transport side of a live connection.
type Handle interface {
	// Send queues a frame for delivery. It must not block.
	Send(frame []byte) error
	// Close tears the transport down.
	Close() error
}

// Connection is an authenticated live connection.
type Connection struct {
	ID          uuid.UUID
	UserID      string
	Role        directory.Role
	Handle      Handle
	ConnectedAt time.Time

	busIDs     map[int64]struct{}
	studentIDs map[string]struct{}
	lastSeen   atomic.Int64
}

// NewConnection creates a connection for an authenticated user. The user's
// bus and student links are captured for subscription lookups.
func NewConnection(u directory.User, h Handle) *Connection {
	now := time.Now()
	c := &Connection{
		ID:          uuid.New(),
		UserID:      u.ID,
		Role:        u.Role,
		Handle:      h,
		ConnectedAt: now,
		busIDs:      make(map[int64]struct{}, len(u.BusIDs)),
		studentIDs:  make(map[string]struct{}, len(u.StudentIDs)),
	}
	for _, b := range u.BusIDs {
		c.busIDs[b] = struct{}{}
	}
	for _, s := range u.StudentIDs {
		c.studentIDs[s] = struct{}{}
	}
	c.lastSeen.Store(now.UnixNano())
	return c
}

// LastSeen is the time of the last inbound frame.
func (c *Connection) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

// FollowsBus reports whether the connection is linked to busID.
func (c *Connection) FollowsBus(busID int64) bool {
	_, ok := c.busIDs[busID]
	return ok
}

// GuardianOf reports whether the connection is linked to studentID.
func (c *Connection) GuardianOf(studentID string) bool {
	_, ok := c.studentIDs[studentID]
	return ok
}

// BusIDs returns the linked buses in ascending order.
func (c *Connection) BusIDs() []int64 {
	out := make([]int64, 0, len(c.busIDs))
	for b := range c.busIDs {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// StudentIDs returns the linked students in ascending order.
func (c *Connection) StudentIDs() []string {
	out := make([]string, 0, len(c.studentIDs))
	for s := range c.studentIDs {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Registry maps user ids to their live connection. At most one connection
// is held per user; registering again replaces the previous entry.
//
// Guardian connections are also indexed by bus and by student so scoped
// fan-out only visits interested recipients.
type Registry struct {
	conns     map[string]*Connection
	byBus     map[int64]map[string]*Connection
	byStudent map[string]map[string]*Connection
	mu        sync.RWMutex
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		conns:     make(map[string]*Connection),
		byBus:     make(map[int64]map[string]*Connection),
		byStudent: make(map[string]map[string]*Connection),
	}
}

// Register records c as the live connection of its user and returns the
// entry it replaced, if any. The replaced connection is not closed.
func (r *Registry) Register(c *Connection) (*Connection, error) {
	if c == nil || c.UserID == "" || !c.Role.Valid() {
		return nil, ErrInvalidEntry
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.conns[c.UserID]
	if prev == c {
		return nil, nil
	}
	if prev != nil {
		r.remove(prev)
	}
	r.add(c)
	return prev, nil
}

// Unregister removes the user's entry whatever connection it holds.
func (r *Registry) Unregister(userID string) (*Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[userID]
	if !ok {
		return nil, ErrNotRegistered
	}
	r.remove(c)
	return c, nil
}

// Release removes c only if it is still the registered connection of its
// user. A connection that was replaced by a newer one leaves the newer
// entry untouched.
func (r *Registry) Release(c *Connection) bool {
	if c == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.conns[c.UserID]; ok && cur == c {
		r.remove(c)
		return true
	}
	return false
}

// Lookup returns the live connection of a user.
func (r *Registry) Lookup(userID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[userID]
	return c, ok
}

// Touch marks c as active now.
func (r *Registry) Touch(c *Connection) {
	c.lastSeen.Store(time.Now().UnixNano())
}

// All returns a snapshot of every live connection ordered by user id.
func (r *Registry) All() []*Connection {
	return r.filter(func(*Connection) bool { return true })
}

// AllWithRole returns a snapshot of every connection holding one of roles.
func (r *Registry) AllWithRole(roles ...directory.Role) []*Connection {
	return r.filter(func(c *Connection) bool {
		for _, role := range roles {
			if c.Role == role {
				return true
			}
		}
		return false
	})
}

// Subscribers returns the guardian connections linked to busID.
func (r *Registry) Subscribers(busID int64) []*Connection {
	r.mu.RLock()
	out := snapshot(r.byBus[busID])
	r.mu.RUnlock()
	return sortByUser(out)
}

// GuardiansOf returns the guardian connections linked to studentID.
func (r *Registry) GuardiansOf(studentID string) []*Connection {
	r.mu.RLock()
	out := snapshot(r.byStudent[studentID])
	r.mu.RUnlock()
	return sortByUser(out)
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CountByRole returns the number of live connections per role. Every role
// is present in the result.
func (r *Registry) CountByRole() map[directory.Role]int {
	out := make(map[directory.Role]int, len(directory.Roles))
	for _, role := range directory.Roles {
		out[role] = 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.conns {
		out[c.Role]++
	}
	return out
}

// EvictIdle removes every connection with no inbound frame for maxIdle and
// returns them so the caller can close their transports.
func (r *Registry) EvictIdle(maxIdle time.Duration) []*Connection {
	cutoff := time.Now().Add(-maxIdle).UnixNano()

	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []*Connection
	for _, c := range r.conns {
		if c.lastSeen.Load() < cutoff {
			evicted = append(evicted, c)
		}
	}
	for _, c := range evicted {
		r.remove(c)
	}
	return evicted
}

// add and remove must be called with mu held for writing.
func (r *Registry) add(c *Connection) {
	r.conns[c.UserID] = c
	if c.Role != directory.RoleGuardian {
		return
	}
	for b := range c.busIDs {
		if r.byBus[b] == nil {
			r.byBus[b] = make(map[string]*Connection)
		}
		r.byBus[b][c.UserID] = c
	}
	for s := range c.studentIDs {
		if r.byStudent[s] == nil {
			r.byStudent[s] = make(map[string]*Connection)
		}
		r.byStudent[s][c.UserID] = c
	}
}

func (r *Registry) remove(c *Connection) {
	delete(r.conns, c.UserID)
	for b := range c.busIDs {
		if set := r.byBus[b]; set[c.UserID] == c {
			delete(set, c.UserID)
			if len(set) == 0 {
				delete(r.byBus, b)
			}
		}
	}
	for s := range c.studentIDs {
		if set := r.byStudent[s]; set[c.UserID] == c {
			delete(set, c.UserID)
			if len(set) == 0 {
				delete(r.byStudent, s)
			}
		}
	}
}

func (r *Registry) filter(keep func(*Connection) bool) []*Connection {
	r.mu.RLock()
	out := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		if keep(c) {
			out = append(out, c)
		}
	}
	r.mu.RUnlock()
	return sortByUser(out)
}

func snapshot(set map[string]*Connection) []*Connection {
	out := make([]*Connection, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

func sortByUser(conns []*Connection) []*Connection {
	sort.Slice(conns, func(i, j int) bool { return conns[i].UserID < conns[j].UserID })
	return conns
}
