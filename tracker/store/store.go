package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrInvalidRecord = errors.New("store: invalid record")
	ErrUnknownDriver = errors.New("store: unknown driver")
)

const (
	// DefaultStatus is recorded for location samples sent without a status.
	DefaultStatus = "active"

	DefaultQueryLimit = 50
	MaxQueryLimit     = 500
)

// LocationSample is a persisted bus position.
type LocationSample struct {
	ID         int64     `json:"id"`
	BusID      int64     `json:"busId"`
	TripID     *int64    `json:"tripId,omitempty"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Speed      *float64  `json:"speed,omitempty"`
	Bearing    *float64  `json:"bearing,omitempty"`
	Status     string    `json:"status"`
	RecordedAt time.Time `json:"recordedAt"`
}

// Message is a persisted chat message.
type Message struct {
	ID          int64     `json:"id"`
	SenderID    string    `json:"senderId"`
	RecipientID string    `json:"recipientId"`
	Body        string    `json:"body"`
	Read        bool      `json:"read"`
	CreatedAt   time.Time `json:"createdAt"`
}

// EventStore persists the durable event kinds. Insert methods assign ID and
// timestamp and return the stored record.
type EventStore interface {
	InsertLocationSample(ctx context.Context, s LocationSample) (LocationSample, error)
	InsertMessage(ctx context.Context, m Message) (Message, error)
}

// Reader serves the read side used by the REST surface.
type Reader interface {
	// LocationSamples returns up to limit of the most recent samples for a
	// bus, oldest first.
	LocationSamples(ctx context.Context, busID int64, limit int) ([]LocationSample, error)
	// LatestLocation returns the newest sample for a bus.
	LatestLocation(ctx context.Context, busID int64) (LocationSample, error)
	// Messages returns up to limit of the most recent messages sent or
	// received by a user, oldest first.
	Messages(ctx context.Context, userID string, limit int) ([]Message, error)
	// MarkMessageRead sets the read flag on a message addressed to recipientID.
	MarkMessageRead(ctx context.Context, id int64, recipientID string) error
}

// Store is a complete event store.
type Store interface {
	EventStore
	Reader
	Close() error
}

func validateSample(s LocationSample) error {
	if s.BusID <= 0 {
		return errors.Join(ErrInvalidRecord, errors.New("bus id required"))
	}
	if s.Latitude < -90 || s.Latitude > 90 || s.Longitude < -180 || s.Longitude > 180 {
		return errors.Join(ErrInvalidRecord, errors.New("coordinates out of range"))
	}
	return nil
}

func validateMessage(m Message) error {
	if m.SenderID == "" || m.RecipientID == "" {
		return errors.Join(ErrInvalidRecord, errors.New("sender and recipient required"))
	}
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		return MaxQueryLimit
	}
	return limit
}
