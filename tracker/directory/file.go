package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

var ErrInvalidRoster = errors.New("invalid roster")

// Roster mirrors the JSON schema of a roster file.
type Roster struct {
	Users    []RosterUser `json:"users"`
	Students []Student    `json:"students"`
}

// RosterUser is a user entry in a roster file.
type RosterUser struct {
	ID     string  `json:"id"`
	Role   string  `json:"role"`
	Name   string  `json:"name,omitempty"`
	BusIDs []int64 `json:"busIds,omitempty"`
}

// ParseRoster decodes a roster document.
func ParseRoster(data []byte) (*Roster, error) {
	var r Roster
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRoster, err)
	}
	return &r, nil
}

// Validate returns every problem found in the roster. An empty result means
// the roster can be loaded.
func (r *Roster) Validate() []error {
	var problems []error
	ids := make(map[string]Role, len(r.Users))
	for i, u := range r.Users {
		if strings.TrimSpace(u.ID) == "" {
			problems = append(problems, fmt.Errorf("users[%d]: missing id", i))
			continue
		}
		if _, dup := ids[u.ID]; dup {
			problems = append(problems, fmt.Errorf("users[%d]: duplicate id %q", i, u.ID))
			continue
		}
		role, err := ParseRole(u.Role)
		if err != nil {
			problems = append(problems, fmt.Errorf("users[%d]: %w", i, err))
			continue
		}
		ids[u.ID] = role
	}

	studentIDs := make(map[string]bool, len(r.Students))
	for i, st := range r.Students {
		if strings.TrimSpace(st.ID) == "" {
			problems = append(problems, fmt.Errorf("students[%d]: missing id", i))
			continue
		}
		if studentIDs[st.ID] {
			problems = append(problems, fmt.Errorf("students[%d]: duplicate id %q", i, st.ID))
		}
		studentIDs[st.ID] = true
		role, ok := ids[st.GuardianID]
		switch {
		case !ok:
			problems = append(problems, fmt.Errorf("students[%d]: unknown guardian %q", i, st.GuardianID))
		case role != RoleGuardian:
			problems = append(problems, fmt.Errorf("students[%d]: %q is a %s, not a guardian", i, st.GuardianID, role))
		}
		if st.BusID < 0 {
			problems = append(problems, fmt.Errorf("students[%d]: negative bus id", i))
		}
	}
	return problems
}

// Users builds the directory entries described by the roster.
func (r *Roster) Users() (map[string]User, error) {
	if problems := r.Validate(); len(problems) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRoster, errors.Join(problems...))
	}
	users := make(map[string]User, len(r.Users))
	for _, ru := range r.Users {
		role, _ := ParseRole(ru.Role)
		users[ru.ID] = User{
			ID:     ru.ID,
			Role:   role,
			Name:   ru.Name,
			BusIDs: append([]int64(nil), ru.BusIDs...),
		}
	}
	LinkStudents(users, r.Students)
	return users, nil
}

// File is a Directory backed by a roster file. The file is re-read on lookup
// when its modification time changes.
type File struct {
	path    string
	mu      sync.RWMutex
	users   map[string]User
	modTime time.Time
}

// NewFile loads the roster at path.
func NewFile(path string) (*File, error) {
	f := &File{path: path}
	if err := f.Reload(); err != nil {
		return nil, err
	}
	return f, nil
}

// Reload re-reads the roster file unconditionally.
func (f *File) Reload() error {
	info, err := os.Stat(f.path)
	if err != nil {
		return fmt.Errorf("failed to stat roster: %w", err)
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("failed to read roster: %w", err)
	}
	roster, err := ParseRoster(data)
	if err != nil {
		return err
	}
	users, err := roster.Users()
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.users = users
	f.modTime = info.ModTime()
	f.mu.Unlock()
	return nil
}

// GetUser implements Directory.
func (f *File) GetUser(ctx context.Context, id string) (User, error) {
	f.refresh()

	f.mu.RLock()
	defer f.mu.RUnlock()
	u, ok := f.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

// Len returns the number of users currently loaded.
func (f *File) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.users)
}

// refresh reloads the roster if the file changed. A broken edit keeps the
// last good roster in memory.
func (f *File) refresh() {
	info, err := os.Stat(f.path)
	if err != nil {
		return
	}
	f.mu.RLock()
	changed := !info.ModTime().Equal(f.modTime)
	f.mu.RUnlock()
	if changed {
		_ = f.Reload()
	}
}
