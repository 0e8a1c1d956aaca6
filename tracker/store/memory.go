package store

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Store. Records live for the lifetime of the
// process.
type Memory struct {
	mu        sync.RWMutex
	samples   []LocationSample
	messages  []Message
	nextID    int64
	now       func() time.Time
	failWrite error
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{now: time.Now}
}

// SetClock replaces the time source.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// FailWrites makes every insert return err until called again with nil.
func (m *Memory) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWrite = err
}

func (m *Memory) InsertLocationSample(ctx context.Context, s LocationSample) (LocationSample, error) {
	if err := validateSample(s); err != nil {
		return LocationSample{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrite != nil {
		return LocationSample{}, m.failWrite
	}

	m.nextID++
	s.ID = m.nextID
	if s.Status == "" {
		s.Status = DefaultStatus
	}
	s.RecordedAt = m.now().UTC()
	m.samples = append(m.samples, s)
	return s, nil
}

func (m *Memory) InsertMessage(ctx context.Context, msg Message) (Message, error) {
	if err := validateMessage(msg); err != nil {
		return Message{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrite != nil {
		return Message{}, m.failWrite
	}

	m.nextID++
	msg.ID = m.nextID
	msg.Read = false
	msg.CreatedAt = m.now().UTC()
	m.messages = append(m.messages, msg)
	return msg, nil
}

func (m *Memory) LocationSamples(ctx context.Context, busID int64, limit int) ([]LocationSample, error) {
	limit = clampLimit(limit)
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []LocationSample
	for i := len(m.samples) - 1; i >= 0 && len(out) < limit; i-- {
		if m.samples[i].BusID == busID {
			out = append(out, m.samples[i])
		}
	}
	reverseSamples(out)
	return out, nil
}

func (m *Memory) LatestLocation(ctx context.Context, busID int64) (LocationSample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.samples) - 1; i >= 0; i-- {
		if m.samples[i].BusID == busID {
			return m.samples[i], nil
		}
	}
	return LocationSample{}, ErrNotFound
}

func (m *Memory) Messages(ctx context.Context, userID string, limit int) ([]Message, error) {
	limit = clampLimit(limit)
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Message
	for i := len(m.messages) - 1; i >= 0 && len(out) < limit; i-- {
		msg := m.messages[i]
		if msg.SenderID == userID || msg.RecipientID == userID {
			out = append(out, msg)
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (m *Memory) MarkMessageRead(ctx context.Context, id int64, recipientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.messages {
		if m.messages[i].ID == id && m.messages[i].RecipientID == recipientID {
			m.messages[i].Read = true
			return nil
		}
	}
	return ErrNotFound
}

// Close is a no-op.
func (m *Memory) Close() error {
	return nil
}

func reverseSamples(s []LocationSample) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
