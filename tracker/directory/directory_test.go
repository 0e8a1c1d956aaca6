package directory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const testRoster = `{
  "users": [
    {"id": "driver-1", "role": "driver", "name": "Sam", "busIds": [42]},
    {"id": "parent-1", "role": "parent"},
    {"id": "parent-2", "role": "guardian"},
    {"id": "admin-1", "role": "admin"}
  ],
  "students": [
    {"id": "7", "guardianId": "parent-1", "busId": 42},
    {"id": "8", "guardianId": "parent-1", "busId": 43},
    {"id": "9", "guardianId": "parent-2", "busId": 42}
  ]
}`

func writeRoster(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "roster.json")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write roster: %v", err)
	}
	return path
}

func TestParseRole(t *testing.T) {
	tests := []struct {
		in   string
		want Role
	}{
		{"guardian", RoleGuardian},
		{"Parent", RoleGuardian},
		{"driver", RoleOperator},
		{"operator", RoleOperator},
		{" admin ", RoleAdministrator},
		{"administrator", RoleAdministrator},
	}
	for _, tt := range tests {
		got, err := ParseRole(tt.in)
		if err != nil {
			t.Errorf("ParseRole(%q) returned error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseRole(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}

	if _, err := ParseRole("janitor"); !errors.Is(err, ErrInvalidRole) {
		t.Errorf("Expected ErrInvalidRole, got %v", err)
	}
}

func TestStatic(t *testing.T) {
	dir := NewStatic(User{ID: "a", Role: RoleGuardian})
	ctx := context.Background()

	u, err := dir.GetUser(ctx, "a")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if u.Role != RoleGuardian {
		t.Errorf("Expected guardian, got %s", u.Role)
	}

	if _, err := dir.GetUser(ctx, "missing"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("Expected ErrUserNotFound, got %v", err)
	}

	dir.Put(User{ID: "b", Role: RoleOperator})
	if dir.Len() != 2 {
		t.Errorf("Expected 2 users, got %d", dir.Len())
	}
	dir.Remove("a")
	if _, err := dir.GetUser(ctx, "a"); !errors.Is(err, ErrUserNotFound) {
		t.Error("Expected removed user to be gone")
	}
}

func TestRosterUsers(t *testing.T) {
	roster, err := ParseRoster([]byte(testRoster))
	if err != nil {
		t.Fatalf("ParseRoster failed: %v", err)
	}
	users, err := roster.Users()
	if err != nil {
		t.Fatalf("Users failed: %v", err)
	}

	parent := users["parent-1"]
	if parent.Role != RoleGuardian {
		t.Errorf("Expected guardian role, got %s", parent.Role)
	}
	if len(parent.StudentIDs) != 2 || parent.StudentIDs[0] != "7" || parent.StudentIDs[1] != "8" {
		t.Errorf("Unexpected student ids: %v", parent.StudentIDs)
	}
	if len(parent.BusIDs) != 2 || parent.BusIDs[0] != 42 || parent.BusIDs[1] != 43 {
		t.Errorf("Unexpected bus ids: %v", parent.BusIDs)
	}

	driver := users["driver-1"]
	if driver.Role != RoleOperator || len(driver.BusIDs) != 1 || driver.BusIDs[0] != 42 {
		t.Errorf("Unexpected driver entry: %+v", driver)
	}
}

func TestRosterValidate(t *testing.T) {
	roster := &Roster{
		Users: []RosterUser{
			{ID: "a", Role: "guardian"},
			{ID: "a", Role: "guardian"},
			{ID: "", Role: "guardian"},
			{ID: "d", Role: "pilot"},
			{ID: "op", Role: "operator"},
		},
		Students: []Student{
			{ID: "1", GuardianID: "a"},
			{ID: "1", GuardianID: "a"},
			{ID: "2", GuardianID: "ghost"},
			{ID: "3", GuardianID: "op"},
			{ID: "", GuardianID: "a"},
		},
	}

	problems := roster.Validate()
	if len(problems) != 7 {
		t.Errorf("Expected 7 problems, got %d: %v", len(problems), problems)
	}

	if _, err := roster.Users(); !errors.Is(err, ErrInvalidRoster) {
		t.Errorf("Expected ErrInvalidRoster, got %v", err)
	}
}

func TestFile(t *testing.T) {
	dir := t.TempDir()
	path := writeRoster(t, dir, testRoster)

	f, err := NewFile(path)
	if err != nil {
		t.Fatalf("NewFile failed: %v", err)
	}
	if f.Len() != 4 {
		t.Errorf("Expected 4 users, got %d", f.Len())
	}

	u, err := f.GetUser(context.Background(), "admin-1")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if u.Role != RoleAdministrator {
		t.Errorf("Expected administrator, got %s", u.Role)
	}

	t.Run("reloads on change", func(t *testing.T) {
		writeRoster(t, dir, `{"users":[{"id":"new-1","role":"guardian"}]}`)
		future := time.Now().Add(time.Minute)
		if err := os.Chtimes(path, future, future); err != nil {
			t.Fatalf("Chtimes failed: %v", err)
		}

		if _, err := f.GetUser(context.Background(), "new-1"); err != nil {
			t.Errorf("Expected reloaded user, got %v", err)
		}
		if _, err := f.GetUser(context.Background(), "admin-1"); !errors.Is(err, ErrUserNotFound) {
			t.Errorf("Expected admin-1 to be gone after reload, got %v", err)
		}
	})

	t.Run("broken edit keeps last roster", func(t *testing.T) {
		writeRoster(t, dir, `{not json`)
		future := time.Now().Add(2 * time.Minute)
		if err := os.Chtimes(path, future, future); err != nil {
			t.Fatalf("Chtimes failed: %v", err)
		}

		if _, err := f.GetUser(context.Background(), "new-1"); err != nil {
			t.Errorf("Expected previous roster to stay loaded, got %v", err)
		}
	})
}

func TestNewFile_Missing(t *testing.T) {
	if _, err := NewFile("/non/existent/roster.json"); err == nil {
		t.Error("Expected error for missing roster file")
	}
}
