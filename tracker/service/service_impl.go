package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wricardo/schoolbus-tracker/tracker/directory"
	"github.com/wricardo/schoolbus-tracker/tracker/registry"
	"github.com/wricardo/schoolbus-tracker/tracker/store"
)

// Options describes the deployment for Status.
type Options struct {
	StoreDriver string
	Fanout      string
	Presence    PresenceReader
	Clock       func() time.Time
}

// trackingServiceImpl implements the TrackingService interface
type trackingServiceImpl struct {
	registry  *registry.Registry
	reader    store.Reader
	hub       Disconnector
	opts      Options
	startedAt time.Time
}

// NewTrackingService creates a service over the live registry and the
// event store. hub may be nil, in which case Disconnect only drops the
// registry entry.
func NewTrackingService(reg *registry.Registry, reader store.Reader, hub Disconnector, opts Options) TrackingService {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &trackingServiceImpl{
		registry:  reg,
		reader:    reader,
		hub:       hub,
		opts:      opts,
		startedAt: opts.Clock(),
	}
}

// Status reports connection counts and deployment settings.
func (s *trackingServiceImpl) Status(ctx context.Context) (*Status, error) {
	now := s.opts.Clock()
	st := &Status{
		Connections: s.registry.Count(),
		ByRole:      s.registry.CountByRole(),
		Fanout:      s.opts.Fanout,
		Store:       s.opts.StoreDriver,
		StartedAt:   s.startedAt,
		Uptime:      now.Sub(s.startedAt).Truncate(time.Second).String(),
	}
	if s.opts.Presence != nil {
		st.Online = make(map[directory.Role]int, len(directory.Roles))
		for _, role := range directory.Roles {
			users, err := s.opts.Presence.OnlineByRole(ctx, role)
			if err != nil {
				return nil, fmt.Errorf("presence for %s: %w", role, err)
			}
			st.Online[role] = len(users)
		}
	}
	return st, nil
}

// ListConnections returns the registry entries, optionally filtered by role.
func (s *trackingServiceImpl) ListConnections(ctx context.Context, role directory.Role) ([]*ConnectionInfo, error) {
	var conns []*registry.Connection
	if role == "" {
		conns = s.registry.All()
	} else {
		if !role.Valid() {
			return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, directory.ErrInvalidRole)
		}
		conns = s.registry.AllWithRole(role)
	}

	infos := make([]*ConnectionInfo, 0, len(conns))
	for _, c := range conns {
		infos = append(infos, &ConnectionInfo{
			ID:          c.ID.String(),
			UserID:      c.UserID,
			Role:        c.Role,
			BusIDs:      c.BusIDs(),
			StudentIDs:  c.StudentIDs(),
			ConnectedAt: c.ConnectedAt,
			LastSeen:    c.LastSeen(),
		})
	}
	return infos, nil
}

// Disconnect closes a user's connection.
func (s *trackingServiceImpl) Disconnect(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id required", ErrInvalidArgument)
	}

	var err error
	if s.hub != nil {
		err = s.hub.Disconnect(ctx, userID)
	} else {
		_, err = s.registry.Unregister(userID)
	}
	if errors.Is(err, registry.ErrNotRegistered) {
		return fmt.Errorf("%w: %s", ErrNotConnected, userID)
	}
	return err
}

// LocationHistory returns recent samples for a bus, oldest first.
func (s *trackingServiceImpl) LocationHistory(ctx context.Context, busID int64, limit int) ([]store.LocationSample, error) {
	if busID <= 0 {
		return nil, fmt.Errorf("%w: bus id must be positive", ErrInvalidArgument)
	}
	samples, err := s.reader.LocationSamples(ctx, busID, limit)
	if err != nil {
		return nil, fmt.Errorf("location history for bus %d: %w", busID, err)
	}
	return samples, nil
}

// LatestLocation returns the newest sample for a bus.
func (s *trackingServiceImpl) LatestLocation(ctx context.Context, busID int64) (*store.LocationSample, error) {
	if busID <= 0 {
		return nil, fmt.Errorf("%w: bus id must be positive", ErrInvalidArgument)
	}
	sample, err := s.reader.LatestLocation(ctx, busID)
	if err != nil {
		return nil, fmt.Errorf("latest location for bus %d: %w", busID, err)
	}
	return &sample, nil
}

// Messages returns a user's recent conversation, oldest first.
func (s *trackingServiceImpl) Messages(ctx context.Context, userID string, limit int) ([]store.Message, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id required", ErrInvalidArgument)
	}
	msgs, err := s.reader.Messages(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("messages for %s: %w", userID, err)
	}
	return msgs, nil
}

// MarkMessageRead marks a message as read by its recipient.
func (s *trackingServiceImpl) MarkMessageRead(ctx context.Context, messageID int64, userID string) error {
	userID = strings.TrimSpace(userID)
	if messageID <= 0 || userID == "" {
		return fmt.Errorf("%w: message id and user id required", ErrInvalidArgument)
	}
	if err := s.reader.MarkMessageRead(ctx, messageID, userID); err != nil {
		return fmt.Errorf("mark message %d read: %w", messageID, err)
	}
	return nil
}
