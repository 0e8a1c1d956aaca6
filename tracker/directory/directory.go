package directory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrInvalidRole  = errors.New("invalid role")
)

// Role is one of the closed set of roles a connection can hold.
type Role string

const (
	RoleGuardian      Role = "guardian"
	RoleOperator      Role = "operator"
	RoleAdministrator Role = "administrator"
)

// Roles lists every valid role.
var Roles = []Role{RoleGuardian, RoleOperator, RoleAdministrator}

// ParseRole accepts the canonical role names and the aliases used by the
// surrounding application ("parent", "driver", "admin").
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "guardian", "parent":
		return RoleGuardian, nil
	case "operator", "driver":
		return RoleOperator, nil
	case "administrator", "admin":
		return RoleAdministrator, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleGuardian, RoleOperator, RoleAdministrator:
		return true
	}
	return false
}

// User is a directory entry together with its relationship data.
type User struct {
	ID         string
	Role       Role
	Name       string
	BusIDs     []int64
	StudentIDs []string
}

// Directory resolves identities to users.
type Directory interface {
	GetUser(ctx context.Context, id string) (User, error)
}

// Student links a student to its guardian and assigned bus.
type Student struct {
	ID         string `json:"id"`
	GuardianID string `json:"guardianId"`
	BusID      int64  `json:"busId,omitempty"`
}

// Static is an in-memory Directory.
type Static struct {
	mu    sync.RWMutex
	users map[string]User
}

// NewStatic creates a directory holding the given users.
func NewStatic(users ...User) *Static {
	s := &Static{users: make(map[string]User, len(users))}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

// Put adds or replaces a user.
func (s *Static) Put(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// Remove deletes a user.
func (s *Static) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, id)
}

// GetUser implements Directory.
func (s *Static) GetUser(ctx context.Context, id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

// Len returns the number of users.
func (s *Static) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

// LinkStudents fills in StudentIDs and BusIDs of guardians from the student
// list. Bus ids already present on a user are kept.
func LinkStudents(users map[string]User, students []Student) {
	for _, st := range students {
		u, ok := users[st.GuardianID]
		if !ok {
			continue
		}
		u.StudentIDs = appendUnique(u.StudentIDs, st.ID)
		if st.BusID != 0 {
			u.BusIDs = appendUniqueInt(u.BusIDs, st.BusID)
		}
		users[st.GuardianID] = u
	}
	for id, u := range users {
		sort.Strings(u.StudentIDs)
		sort.Slice(u.BusIDs, func(i, j int) bool { return u.BusIDs[i] < u.BusIDs[j] })
		users[id] = u
	}
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}

func appendUniqueInt(list []int64, v int64) []int64 {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}
