package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wricardo/schoolbus-tracker/tracker/directory"
)

func writeTempRoster(t *testing.T, content string) string {
	t.Helper()
	tmpfile, err := os.CreateTemp(t.TempDir(), "roster_*.json")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatalf("Failed to write roster: %v", err)
	}
	tmpfile.Close()
	return tmpfile.Name()
}

func TestValidateRoster_ValidRoster(t *testing.T) {
	validRoster := `{
		"users": [
			{"id": "driver-1", "role": "driver", "name": "Dana", "busIds": [42]},
			{"id": "parent-1", "role": "parent", "name": "Pat"},
			{"id": "admin-1", "role": "administrator"}
		],
		"students": [
			{"id": "101", "guardianId": "parent-1", "busId": 42}
		]
	}`
	path := writeTempRoster(t, validRoster)

	result := validateRoster(path)
	if !result.Valid {
		t.Errorf("Expected valid roster, but got errors: %v", result.Errors)
	}
	if result.File != filepath.Base(path) {
		t.Errorf("Expected file name %s, got %s", filepath.Base(path), result.File)
	}
	if !containsLine(result.Errors, "✓ Guardians: 1") {
		t.Errorf("Expected guardian count in report, got %v", result.Errors)
	}
}

func TestValidateRoster_InvalidJSON(t *testing.T) {
	path := writeTempRoster(t, `{"users": [invalid json}`)

	result := validateRoster(path)
	if result.Valid {
		t.Error("Expected invalid result for invalid JSON")
	}
	if len(result.Errors) == 0 || !strings.Contains(result.Errors[0], "Invalid JSON") {
		t.Errorf("Expected 'Invalid JSON' error, got %v", result.Errors)
	}
}

func TestValidateRoster_MissingFile(t *testing.T) {
	result := validateRoster(filepath.Join(t.TempDir(), "nope.json"))
	if result.Valid {
		t.Error("Expected invalid result for missing file")
	}
	if len(result.Errors) == 0 || !strings.Contains(result.Errors[0], "Failed to read file") {
		t.Errorf("Expected 'Failed to read file' error, got %v", result.Errors)
	}
}

func TestValidateRoster_Problems(t *testing.T) {
	tests := []struct {
		name   string
		roster string
		want   string
	}{
		{
			name:   "no users",
			roster: `{"users": [], "students": []}`,
			want:   "Roster has no users",
		},
		{
			name:   "unknown role",
			roster: `{"users": [{"id": "u1", "role": "janitor"}]}`,
			want:   "invalid role",
		},
		{
			name:   "duplicate user",
			roster: `{"users": [{"id": "u1", "role": "parent"}, {"id": "u1", "role": "driver"}]}`,
			want:   "duplicate id",
		},
		{
			name:   "unknown guardian",
			roster: `{"users": [{"id": "u1", "role": "parent"}], "students": [{"id": "s1", "guardianId": "ghost"}]}`,
			want:   "unknown guardian",
		},
		{
			name:   "guardian is an operator",
			roster: `{"users": [{"id": "d1", "role": "driver"}], "students": [{"id": "s1", "guardianId": "d1"}]}`,
			want:   "not a guardian",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := validateRoster(writeTempRoster(t, tt.roster))
			if result.Valid {
				t.Fatalf("Expected invalid roster")
			}
			if !containsLine(result.Errors, tt.want) {
				t.Errorf("Expected error containing %q, got %v", tt.want, result.Errors)
			}
		})
	}
}

func TestValidateRoster_UncoveredBus(t *testing.T) {
	roster := `{
		"users": [
			{"id": "driver-1", "role": "driver", "busIds": [1]},
			{"id": "parent-1", "role": "parent"}
		],
		"students": [
			{"id": "101", "guardianId": "parent-1", "busId": 1},
			{"id": "102", "guardianId": "parent-1", "busId": 7}
		]
	}`

	result := validateRoster(writeTempRoster(t, roster))
	if result.Valid {
		t.Fatal("Expected bus 7 without an operator to fail validation")
	}
	if !containsLine(result.Errors, "Uncovered: bus 7") {
		t.Errorf("Expected uncovered bus 7, got %v", result.Errors)
	}
}

func TestValidateCoverage_LonelyGuardian(t *testing.T) {
	users := map[string]directory.User{
		"parent-1": {ID: "parent-1", Role: directory.RoleGuardian},
		"driver-1": {ID: "driver-1", Role: directory.RoleOperator, BusIDs: []int64{3}},
	}

	result := validateCoverage(users, nil)
	if !result.Valid {
		t.Fatalf("Expected guardians without students to be informational, got %v", result.Errors)
	}
	if !containsLine(result.Errors, "Guardians without students: parent-1") {
		t.Errorf("Expected lonely guardian note, got %v", result.Errors)
	}
}

func TestRosterFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.json", "b.json", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	single := writeTempRoster(t, "{}")

	files, err := rosterFiles([]string{dir, single})
	if err != nil {
		t.Fatalf("rosterFiles failed: %v", err)
	}
	if len(files) != 3 {
		t.Errorf("Expected 3 files, got %v", files)
	}

	if _, err := rosterFiles([]string{filepath.Join(dir, "missing")}); err == nil {
		t.Error("Expected error for missing path")
	}
}

func containsLine(lines []string, substr string) bool {
	for _, l := range lines {
		if strings.Contains(l, substr) {
			return true
		}
	}
	return false
}
