package store

import (
	"context"
	"embed"
	"fmt"
	"strings"

	"github.com/wricardo/schoolbus-tracker/tracker/directory"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// statements splits the embedded schema for a dialect into single statements.
func statements(dialect string) ([]string, error) {
	raw, err := schemaFS.ReadFile("schema/" + dialect + ".sql")
	if err != nil {
		return nil, fmt.Errorf("read %s schema: %w", dialect, err)
	}
	var out []string
	for _, stmt := range strings.Split(string(raw), ";") {
		if s := strings.TrimSpace(stmt); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

// RosterImporter loads directory data into a SQL store.
type RosterImporter interface {
	PutUser(ctx context.Context, u directory.User) error
	PutStudent(ctx context.Context, st directory.Student) error
}

// ImportRoster writes every user and student of the roster through imp.
func ImportRoster(ctx context.Context, imp RosterImporter, roster *directory.Roster) error {
	users, err := roster.Users()
	if err != nil {
		return err
	}
	for _, ru := range roster.Users {
		u := users[ru.ID]
		// Guardian bus links are derived from students, so only the explicit
		// ones are written to user_buses.
		u.BusIDs = ru.BusIDs
		if err := imp.PutUser(ctx, u); err != nil {
			return fmt.Errorf("import user %s: %w", ru.ID, err)
		}
	}
	for _, st := range roster.Students {
		if err := imp.PutStudent(ctx, st); err != nil {
			return fmt.Errorf("import student %s: %w", st.ID, err)
		}
	}
	return nil
}
