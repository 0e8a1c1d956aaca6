package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wricardo/schoolbus-tracker/tracker/directory"
)

// Postgres is a Store and directory.Directory backed by a pgx pool.
type Postgres struct {
	Pool *pgxpool.Pool
}

// OpenPostgres connects to databaseURL and applies the schema.
func OpenPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	p := &Postgres{Pool: pool}
	if err := p.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// Migrate applies the embedded schema inside one transaction.
func (p *Postgres) Migrate(ctx context.Context) error {
	stmts, err := statements("postgres")
	if err != nil {
		return err
	}
	return p.withTx(ctx, func(tx pgx.Tx) error {
		for _, stmt := range stmts {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("migrate postgres: %w", err)
			}
		}
		return nil
	})
}

func (p *Postgres) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := p.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func (p *Postgres) Close() error {
	p.Pool.Close()
	return nil
}

func (p *Postgres) InsertLocationSample(ctx context.Context, s LocationSample) (LocationSample, error) {
	if err := validateSample(s); err != nil {
		return LocationSample{}, err
	}
	if s.Status == "" {
		s.Status = DefaultStatus
	}
	err := p.Pool.QueryRow(ctx, `
		INSERT INTO location_samples (bus_id, trip_id, latitude, longitude, speed, bearing, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, recorded_at`,
		s.BusID, s.TripID, s.Latitude, s.Longitude, s.Speed, s.Bearing, s.Status,
	).Scan(&s.ID, &s.RecordedAt)
	if err != nil {
		return LocationSample{}, fmt.Errorf("insert location sample: %w", err)
	}
	s.RecordedAt = s.RecordedAt.UTC()
	return s, nil
}

func (p *Postgres) InsertMessage(ctx context.Context, m Message) (Message, error) {
	if err := validateMessage(m); err != nil {
		return Message{}, err
	}
	m.Read = false
	err := p.Pool.QueryRow(ctx, `
		INSERT INTO messages (sender_id, recipient_id, body)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`,
		m.SenderID, m.RecipientID, m.Body,
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	m.CreatedAt = m.CreatedAt.UTC()
	return m, nil
}

const pgSampleColumns = `id, bus_id, trip_id, latitude, longitude, speed, bearing, status, recorded_at`

func (p *Postgres) LocationSamples(ctx context.Context, busID int64, limit int) ([]LocationSample, error) {
	rows, err := p.Pool.Query(ctx, `
		SELECT `+pgSampleColumns+` FROM (
			SELECT `+pgSampleColumns+` FROM location_samples
			WHERE bus_id = $1 ORDER BY id DESC LIMIT $2
		) recent ORDER BY id ASC`, busID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query location samples: %w", err)
	}
	defer rows.Close()

	var out []LocationSample
	for rows.Next() {
		s, err := scanPgSample(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) LatestLocation(ctx context.Context, busID int64) (LocationSample, error) {
	row := p.Pool.QueryRow(ctx, `
		SELECT `+pgSampleColumns+` FROM location_samples
		WHERE bus_id = $1 ORDER BY id DESC LIMIT 1`, busID)
	s, err := scanPgSample(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return LocationSample{}, ErrNotFound
	}
	return s, err
}

func (p *Postgres) Messages(ctx context.Context, userID string, limit int) ([]Message, error) {
	rows, err := p.Pool.Query(ctx, `
		SELECT id, sender_id, recipient_id, body, is_read, created_at FROM (
			SELECT id, sender_id, recipient_id, body, is_read, created_at FROM messages
			WHERE sender_id = $1 OR recipient_id = $1 ORDER BY id DESC LIMIT $2
		) recent ORDER BY id ASC`, userID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.Body, &m.Read, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.CreatedAt = m.CreatedAt.UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

func (p *Postgres) MarkMessageRead(ctx context.Context, id int64, recipientID string) error {
	tag, err := p.Pool.Exec(ctx,
		`UPDATE messages SET is_read = TRUE WHERE id = $1 AND recipient_id = $2`, id, recipientID)
	if err != nil {
		return fmt.Errorf("mark message read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetUser implements directory.Directory.
func (p *Postgres) GetUser(ctx context.Context, id string) (directory.User, error) {
	var (
		u    directory.User
		role string
	)
	err := p.Pool.QueryRow(ctx, `SELECT id, role, name FROM users WHERE id = $1`, id).
		Scan(&u.ID, &role, &u.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return directory.User{}, directory.ErrUserNotFound
	}
	if err != nil {
		return directory.User{}, fmt.Errorf("query user: %w", err)
	}
	if u.Role, err = directory.ParseRole(role); err != nil {
		return directory.User{}, err
	}

	rows, err := p.Pool.Query(ctx, `
		SELECT id, bus_id FROM students WHERE guardian_id = $1
		UNION ALL
		SELECT '', bus_id FROM user_buses WHERE user_id = $1`, id)
	if err != nil {
		return directory.User{}, fmt.Errorf("query user relations: %w", err)
	}
	defer rows.Close()

	var students []directory.Student
	for rows.Next() {
		var (
			studentID string
			busID     *int64
		)
		if err := rows.Scan(&studentID, &busID); err != nil {
			return directory.User{}, fmt.Errorf("scan user relation: %w", err)
		}
		st := directory.Student{ID: studentID, GuardianID: u.ID}
		if busID != nil {
			st.BusID = *busID
		}
		students = append(students, st)
	}
	if err := rows.Err(); err != nil {
		return directory.User{}, err
	}
	return linkRelations(map[string]directory.User{u.ID: u}, u.ID, students), nil
}

// PutUser inserts or replaces a user and its explicit bus links.
func (p *Postgres) PutUser(ctx context.Context, u directory.User) error {
	return p.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO users (id, role, name) VALUES ($1, $2, $3)
			ON CONFLICT (id) DO UPDATE SET role = EXCLUDED.role, name = EXCLUDED.name`,
			u.ID, string(u.Role), u.Name); err != nil {
			return fmt.Errorf("put user: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM user_buses WHERE user_id = $1`, u.ID); err != nil {
			return fmt.Errorf("put user buses: %w", err)
		}
		for _, bus := range u.BusIDs {
			if _, err := tx.Exec(ctx,
				`INSERT INTO user_buses (user_id, bus_id) VALUES ($1, $2)`, u.ID, bus); err != nil {
				return fmt.Errorf("put user buses: %w", err)
			}
		}
		return nil
	})
}

// PutStudent inserts or replaces a student.
func (p *Postgres) PutStudent(ctx context.Context, st directory.Student) error {
	var bus *int64
	if st.BusID != 0 {
		bus = &st.BusID
	}
	_, err := p.Pool.Exec(ctx, `
		INSERT INTO students (id, guardian_id, bus_id) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET guardian_id = EXCLUDED.guardian_id, bus_id = EXCLUDED.bus_id`,
		st.ID, st.GuardianID, bus)
	if err != nil {
		return fmt.Errorf("put student: %w", err)
	}
	return nil
}

func scanPgSample(row pgx.Row) (LocationSample, error) {
	var (
		s        LocationSample
		recorded time.Time
	)
	if err := row.Scan(&s.ID, &s.BusID, &s.TripID, &s.Latitude, &s.Longitude,
		&s.Speed, &s.Bearing, &s.Status, &recorded); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LocationSample{}, err
		}
		return LocationSample{}, fmt.Errorf("scan location sample: %w", err)
	}
	s.RecordedAt = recorded.UTC()
	return s, nil
}
