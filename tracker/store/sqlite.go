package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/wricardo/schoolbus-tracker/tracker/directory"
	_ "modernc.org/sqlite"
)

// SQLite is a Store and directory.Directory backed by a SQLite database.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens the database at dsn and applies the schema. Use
// ":memory:" for a throwaway database.
func OpenSQLite(ctx context.Context, dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps ":memory:" databases alive and serialises writers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &SQLite{db: db, now: time.Now}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate applies the embedded schema. It is idempotent.
func (s *SQLite) Migrate(ctx context.Context) error {
	stmts, err := statements("sqlite")
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return nil
}

// DB exposes the underlying handle.
func (s *SQLite) DB() *sql.DB {
	return s.db
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) InsertLocationSample(ctx context.Context, ls LocationSample) (LocationSample, error) {
	if err := validateSample(ls); err != nil {
		return LocationSample{}, err
	}
	if ls.Status == "" {
		ls.Status = DefaultStatus
	}
	ls.RecordedAt = s.now().UTC()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO location_samples (bus_id, trip_id, latitude, longitude, speed, bearing, status, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ls.BusID, nullInt(ls.TripID), ls.Latitude, ls.Longitude,
		nullFloat(ls.Speed), nullFloat(ls.Bearing), ls.Status, ls.RecordedAt.UnixNano(),
	)
	if err != nil {
		return LocationSample{}, fmt.Errorf("insert location sample: %w", err)
	}
	if ls.ID, err = res.LastInsertId(); err != nil {
		return LocationSample{}, fmt.Errorf("insert location sample: %w", err)
	}
	return ls, nil
}

func (s *SQLite) InsertMessage(ctx context.Context, m Message) (Message, error) {
	if err := validateMessage(m); err != nil {
		return Message{}, err
	}
	m.Read = false
	m.CreatedAt = s.now().UTC()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (sender_id, recipient_id, body, is_read, created_at)
		VALUES (?, ?, ?, 0, ?)`,
		m.SenderID, m.RecipientID, m.Body, m.CreatedAt.UnixNano(),
	)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	if m.ID, err = res.LastInsertId(); err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	return m, nil
}

const sqliteSampleColumns = `id, bus_id, trip_id, latitude, longitude, speed, bearing, status, recorded_at`

func (s *SQLite) LocationSamples(ctx context.Context, busID int64, limit int) ([]LocationSample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteSampleColumns+` FROM (
			SELECT `+sqliteSampleColumns+` FROM location_samples
			WHERE bus_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`, busID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query location samples: %w", err)
	}
	defer rows.Close()

	var out []LocationSample
	for rows.Next() {
		ls, err := scanSQLiteSample(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ls)
	}
	return out, rows.Err()
}

func (s *SQLite) LatestLocation(ctx context.Context, busID int64) (LocationSample, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sqliteSampleColumns+` FROM location_samples
		WHERE bus_id = ? ORDER BY id DESC LIMIT 1`, busID)
	ls, err := scanSQLiteSample(row)
	if errors.Is(err, sql.ErrNoRows) {
		return LocationSample{}, ErrNotFound
	}
	return ls, err
}

func (s *SQLite) Messages(ctx context.Context, userID string, limit int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender_id, recipient_id, body, is_read, created_at FROM (
			SELECT id, sender_id, recipient_id, body, is_read, created_at FROM messages
			WHERE sender_id = ? OR recipient_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`, userID, userID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			m       Message
			read    int64
			created int64
		)
		if err := rows.Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.Body, &read, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Read = read != 0
		m.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLite) MarkMessageRead(ctx context.Context, id int64, recipientID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET is_read = 1 WHERE id = ? AND recipient_id = ?`, id, recipientID)
	if err != nil {
		return fmt.Errorf("mark message read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark message read: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetUser implements directory.Directory over the users and students tables.
func (s *SQLite) GetUser(ctx context.Context, id string) (directory.User, error) {
	var (
		u    directory.User
		role string
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, role, name FROM users WHERE id = ?`, id).
		Scan(&u.ID, &role, &u.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return directory.User{}, directory.ErrUserNotFound
	}
	if err != nil {
		return directory.User{}, fmt.Errorf("query user: %w", err)
	}
	if u.Role, err = directory.ParseRole(role); err != nil {
		return directory.User{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, bus_id FROM students WHERE guardian_id = ?
		UNION ALL
		SELECT '', bus_id FROM user_buses WHERE user_id = ?`, id, id)
	if err != nil {
		return directory.User{}, fmt.Errorf("query user relations: %w", err)
	}
	defer rows.Close()

	links := map[string]directory.User{u.ID: u}
	var students []directory.Student
	for rows.Next() {
		var (
			studentID string
			busID     sql.NullInt64
		)
		if err := rows.Scan(&studentID, &busID); err != nil {
			return directory.User{}, fmt.Errorf("scan user relation: %w", err)
		}
		students = append(students, directory.Student{ID: studentID, GuardianID: u.ID, BusID: busID.Int64})
	}
	if err := rows.Err(); err != nil {
		return directory.User{}, err
	}
	return linkRelations(links, u.ID, students), nil
}

// PutUser inserts or replaces a user and its explicit bus links.
func (s *SQLite) PutUser(ctx context.Context, u directory.User) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, role, name) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET role = excluded.role, name = excluded.name`,
		u.ID, string(u.Role), u.Name); err != nil {
		return fmt.Errorf("put user: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM user_buses WHERE user_id = ?`, u.ID); err != nil {
		return fmt.Errorf("put user buses: %w", err)
	}
	for _, bus := range u.BusIDs {
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO user_buses (user_id, bus_id) VALUES (?, ?)`, u.ID, bus); err != nil {
			return fmt.Errorf("put user buses: %w", err)
		}
	}
	return nil
}

// PutStudent inserts or replaces a student.
func (s *SQLite) PutStudent(ctx context.Context, st directory.Student) error {
	var bus any
	if st.BusID != 0 {
		bus = st.BusID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO students (id, guardian_id, bus_id) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET guardian_id = excluded.guardian_id, bus_id = excluded.bus_id`,
		st.ID, st.GuardianID, bus)
	if err != nil {
		return fmt.Errorf("put student: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteSample(row rowScanner) (LocationSample, error) {
	var (
		ls       LocationSample
		tripID   sql.NullInt64
		speed    sql.NullFloat64
		bearing  sql.NullFloat64
		recorded int64
	)
	if err := row.Scan(&ls.ID, &ls.BusID, &tripID, &ls.Latitude, &ls.Longitude,
		&speed, &bearing, &ls.Status, &recorded); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return LocationSample{}, err
		}
		return LocationSample{}, fmt.Errorf("scan location sample: %w", err)
	}
	if tripID.Valid {
		ls.TripID = &tripID.Int64
	}
	if speed.Valid {
		ls.Speed = &speed.Float64
	}
	if bearing.Valid {
		ls.Bearing = &bearing.Float64
	}
	ls.RecordedAt = time.Unix(0, recorded).UTC()
	return ls, nil
}

// linkRelations folds student and explicit bus rows into the user. Rows
// with an empty student id are explicit bus links.
func linkRelations(users map[string]directory.User, id string, rows []directory.Student) directory.User {
	var students []directory.Student
	u := users[id]
	for _, r := range rows {
		if r.ID == "" {
			if r.BusID != 0 {
				u.BusIDs = append(u.BusIDs, r.BusID)
			}
			continue
		}
		students = append(students, r)
	}
	users[id] = u
	directory.LinkStudents(users, students)
	return users[id]
}

func nullInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
