package router

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/wricardo/schoolbus-tracker/tracker/auth"
	"github.com/wricardo/schoolbus-tracker/tracker/directory"
	"github.com/wricardo/schoolbus-tracker/tracker/protocol"
	"github.com/wricardo/schoolbus-tracker/tracker/registry"
	"github.com/wricardo/schoolbus-tracker/tracker/store"
	"go.uber.org/zap"
)

// FanoutMode selects how location and student status recipients are
// computed.
type FanoutMode string

const (
	// FanoutScoped delivers only to guardians linked to the bus or student.
	FanoutScoped FanoutMode = "scoped"
	// FanoutBroadcast delivers to every guardian regardless of links.
	FanoutBroadcast FanoutMode = "broadcast"
)

// ParseFanout accepts "scoped" (or "") and "broadcast".
func ParseFanout(s string) (FanoutMode, error) {
	switch FanoutMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", FanoutScoped:
		return FanoutScoped, nil
	case FanoutBroadcast:
		return FanoutBroadcast, nil
	}
	return "", fmt.Errorf("unknown fanout mode %q", s)
}

// Outcome is the result of routing one inbound frame.
type Outcome struct {
	// Reply goes to the sender only.
	Reply *protocol.Outbound
	// Broadcast goes to Recipients. The sender is never among them.
	Broadcast  *protocol.Outbound
	Recipients []*registry.Connection
	// Err is the rejection behind an error Reply.
	Err error

	// Registered is set when an auth frame created a registry entry.
	Registered *registry.Connection
	// Replaced is the entry the new registration overwrote, possibly held
	// by another transport.
	Replaced *registry.Connection
	// Released is the sender's previous entry when it re-authenticated as a
	// different user.
	Released *registry.Connection
}

// Router classifies inbound frames, authorizes them against the sender's
// role, persists durable kinds and computes recipients. It does not deliver
// anything itself.
type Router struct {
	authn    *auth.Authenticator
	registry *registry.Registry
	events   store.EventStore
	fanout   FanoutMode
	logger   *zap.Logger
	now      func() time.Time
}

// Option configures a Router.
type Option func(*Router)

// WithFanout sets the fan-out mode. The default is FanoutScoped.
func WithFanout(mode FanoutMode) Option {
	return func(r *Router) { r.fanout = mode }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock replaces the time source used for non-durable event timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

// New creates a Router.
func New(authn *auth.Authenticator, reg *registry.Registry, events store.EventStore, opts ...Option) *Router {
	r := &Router{
		authn:    authn,
		registry: reg,
		events:   events,
		fanout:   FanoutScoped,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Fanout returns the configured fan-out mode.
func (r *Router) Fanout() FanoutMode {
	return r.fanout
}

// HandleFrame decodes raw and routes it.
func (r *Router) HandleFrame(ctx context.Context, p *Peer, raw []byte) Outcome {
	in, err := protocol.Decode(raw)
	if err != nil {
		return r.reject(p, "", fmt.Errorf("%w: %v", ErrInvalidPayload, err))
	}
	return r.Handle(ctx, p, in)
}

// Handle routes one decoded frame from p.
func (r *Router) Handle(ctx context.Context, p *Peer, in protocol.Inbound) Outcome {
	if in.Type == protocol.TypeAuth {
		return r.handleAuth(ctx, p, in)
	}
	if !p.Authenticated() {
		return r.reject(p, in.Type, fmt.Errorf("%w: send auth first", ErrAuthenticationRequired))
	}
	r.registry.Touch(p.conn)

	var (
		out Outcome
		err error
	)
	switch in.Type {
	case protocol.TypeLocationUpdate:
		out, err = r.handleLocation(ctx, p, in)
	case protocol.TypeChatMessage:
		out, err = r.handleChat(ctx, p, in)
	case protocol.TypeStudentStatus:
		out, err = r.handleStudentStatus(p, in)
	case protocol.TypeEmergency:
		out, err = r.handleEmergency(p, in)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownEventType, in.Type)
	}
	if err != nil {
		return r.reject(p, in.Type, err)
	}

	out.Recipients = exclude(out.Recipients, p.conn)
	r.logger.Debug("routed",
		zap.String("type", in.Type),
		zap.String("user", p.conn.UserID),
		zap.String("role", string(p.conn.Role)),
		zap.Int("recipients", len(out.Recipients)),
	)
	return out
}

func (r *Router) reject(p *Peer, typ string, err error) Outcome {
	fields := []zap.Field{zap.String("type", typ), zap.String("user", p.UserID()), zap.Error(err)}
	if Code(err) == protocol.CodeInternal {
		r.logger.Error("event failed", fields...)
	} else {
		r.logger.Info("event rejected", fields...)
	}
	return Outcome{Reply: errorReply(err), Err: err}
}

func (r *Router) handleAuth(ctx context.Context, p *Peer, in protocol.Inbound) Outcome {
	var data protocol.AuthData
	if err := in.DecodeData(&data); err != nil {
		return r.reject(p, in.Type, fmt.Errorf("%w: %v", ErrInvalidPayload, err))
	}

	u, err := r.authn.Authenticate(ctx, auth.Credentials{UserID: data.UserID, Token: data.Token})
	switch {
	case errors.Is(err, auth.ErrMissingIdentity):
		return r.reject(p, in.Type, fmt.Errorf("%w: userId required", ErrInvalidPayload))
	case errors.Is(err, auth.ErrUnknownUser), errors.Is(err, auth.ErrInvalidToken):
		return r.reject(p, in.Type, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err))
	case err != nil:
		return r.reject(p, in.Type, fmt.Errorf("%w: %v", ErrInternal, err))
	}

	conn := registry.NewConnection(u, p.Handle)
	replaced, err := r.registry.Register(conn)
	if err != nil {
		return r.reject(p, in.Type, fmt.Errorf("%w: %v", ErrInternal, err))
	}

	out := Outcome{Registered: conn, Replaced: replaced}
	if prev := p.conn; prev != nil && prev.UserID != conn.UserID {
		if r.registry.Release(prev) {
			out.Released = prev
		}
	}
	p.conn = conn

	r.logger.Info("authenticated",
		zap.String("user", u.ID),
		zap.String("role", string(u.Role)),
		zap.String("conn", conn.ID.String()),
	)
	out.Reply = &protocol.Outbound{
		Type: protocol.TypeAuthSuccess,
		Data: protocol.AuthSuccess{UserID: u.ID, Role: string(u.Role)},
	}
	return out
}

func (r *Router) handleLocation(ctx context.Context, p *Peer, in protocol.Inbound) (Outcome, error) {
	if err := requireRole(p, directory.RoleOperator, directory.RoleAdministrator); err != nil {
		return Outcome{}, err
	}
	var data protocol.LocationUpdateData
	if err := decode(in, &data); err != nil {
		return Outcome{}, err
	}
	switch {
	case data.BusID == nil || *data.BusID <= 0:
		return Outcome{}, fmt.Errorf("%w: busId required", ErrInvalidPayload)
	case data.Latitude == nil || data.Longitude == nil:
		return Outcome{}, fmt.Errorf("%w: latitude and longitude required", ErrInvalidPayload)
	case *data.Latitude < -90 || *data.Latitude > 90 || *data.Longitude < -180 || *data.Longitude > 180:
		return Outcome{}, fmt.Errorf("%w: coordinates out of range", ErrInvalidPayload)
	}

	sample, err := r.events.InsertLocationSample(ctx, store.LocationSample{
		BusID:     *data.BusID,
		TripID:    data.TripID,
		Latitude:  *data.Latitude,
		Longitude: *data.Longitude,
		Speed:     data.Speed,
		Bearing:   data.Bearing,
		Status:    strings.TrimSpace(data.Status),
	})
	if err != nil {
		return Outcome{}, storeError(err)
	}

	var recipients []*registry.Connection
	if r.fanout == FanoutBroadcast {
		recipients = r.registry.AllWithRole(directory.RoleGuardian, directory.RoleAdministrator)
	} else {
		recipients = union(
			r.registry.AllWithRole(directory.RoleAdministrator),
			r.registry.Subscribers(sample.BusID),
		)
	}
	return Outcome{
		Broadcast: &protocol.Outbound{
			Type: protocol.TypeLocationUpdate,
			Data: protocol.LocationEvent{
				ID:        sample.ID,
				BusID:     sample.BusID,
				TripID:    sample.TripID,
				Latitude:  sample.Latitude,
				Longitude: sample.Longitude,
				Speed:     sample.Speed,
				Bearing:   sample.Bearing,
				Status:    sample.Status,
				Timestamp: sample.RecordedAt,
			},
		},
		Recipients: recipients,
	}, nil
}

func (r *Router) handleChat(ctx context.Context, p *Peer, in protocol.Inbound) (Outcome, error) {
	var data protocol.ChatMessageData
	if err := decode(in, &data); err != nil {
		return Outcome{}, err
	}
	recipientID := strings.TrimSpace(data.RecipientID)
	switch {
	case recipientID == "":
		return Outcome{}, fmt.Errorf("%w: recipientId required", ErrInvalidPayload)
	case recipientID == p.conn.UserID:
		return Outcome{}, fmt.Errorf("%w: cannot message yourself", ErrInvalidPayload)
	case strings.TrimSpace(data.Content) == "":
		return Outcome{}, fmt.Errorf("%w: content required", ErrInvalidPayload)
	}

	msg, err := r.events.InsertMessage(ctx, store.Message{
		SenderID:    p.conn.UserID,
		RecipientID: recipientID,
		Body:        data.Content,
	})
	if err != nil {
		return Outcome{}, storeError(err)
	}

	var recipients []*registry.Connection
	if c, ok := r.registry.Lookup(recipientID); ok {
		recipients = append(recipients, c)
	}
	return Outcome{
		Reply: &protocol.Outbound{
			Type: protocol.TypeMessageSent,
			Data: protocol.MessageSent{
				ID:          msg.ID,
				RecipientID: msg.RecipientID,
				Delivered:   len(recipients) > 0,
				Timestamp:   msg.CreatedAt,
			},
		},
		Broadcast: &protocol.Outbound{
			Type: protocol.TypeChatMessage,
			Data: protocol.ChatEvent{
				ID:          msg.ID,
				SenderID:    msg.SenderID,
				RecipientID: msg.RecipientID,
				Content:     msg.Body,
				Read:        msg.Read,
				Timestamp:   msg.CreatedAt,
			},
		},
		Recipients: recipients,
	}, nil
}

func (r *Router) handleStudentStatus(p *Peer, in protocol.Inbound) (Outcome, error) {
	if err := requireRole(p, directory.RoleOperator, directory.RoleAdministrator); err != nil {
		return Outcome{}, err
	}
	var data protocol.StudentStatusData
	if err := decode(in, &data); err != nil {
		return Outcome{}, err
	}
	switch {
	case data.StudentID == nil || *data.StudentID <= 0:
		return Outcome{}, fmt.Errorf("%w: studentId required", ErrInvalidPayload)
	case strings.TrimSpace(data.Status) == "":
		return Outcome{}, fmt.Errorf("%w: status required", ErrInvalidPayload)
	}

	var recipients []*registry.Connection
	if r.fanout == FanoutBroadcast {
		recipients = r.registry.AllWithRole(directory.RoleGuardian)
	} else {
		recipients = r.registry.GuardiansOf(strconv.FormatInt(*data.StudentID, 10))
	}
	return Outcome{
		Broadcast: &protocol.Outbound{
			Type: protocol.TypeStudentStatus,
			Data: protocol.StudentStatusEvent{
				StudentID: *data.StudentID,
				Status:    strings.TrimSpace(data.Status),
				Message:   data.Message,
				UpdatedBy: p.conn.UserID,
				Timestamp: r.now().UTC(),
			},
		},
		Recipients: recipients,
	}, nil
}

// handleEmergency accepts every role.
func (r *Router) handleEmergency(p *Peer, in protocol.Inbound) (Outcome, error) {
	var data protocol.EmergencyData
	if err := decode(in, &data); err != nil {
		return Outcome{}, err
	}
	if strings.TrimSpace(data.EmergencyType) == "" {
		return Outcome{}, fmt.Errorf("%w: emergencyType required", ErrInvalidPayload)
	}

	recipients := r.registry.AllWithRole(directory.RoleAdministrator)
	for _, id := range data.AffectedStudentIDs {
		if c, ok := r.registry.Lookup(id); ok && c.Role == directory.RoleGuardian {
			recipients = union(recipients, []*registry.Connection{c})
		}
		if r.fanout == FanoutScoped {
			recipients = union(recipients, r.registry.GuardiansOf(id))
		}
	}
	return Outcome{
		Broadcast: &protocol.Outbound{
			Type: protocol.TypeEmergency,
			Data: protocol.EmergencyEvent{
				BusID:              data.BusID,
				TripID:             data.TripID,
				EmergencyType:      strings.TrimSpace(data.EmergencyType),
				Description:        data.Description,
				Location:           data.Location,
				AffectedStudentIDs: data.AffectedStudentIDs,
				ReportedBy:         p.conn.UserID,
				ReporterRole:       string(p.conn.Role),
				Timestamp:          r.now().UTC(),
			},
		},
		Recipients: recipients,
	}, nil
}

func requireRole(p *Peer, roles ...directory.Role) error {
	for _, role := range roles {
		if p.conn.Role == role {
			return nil
		}
	}
	return fmt.Errorf("%w: role %s may not send this event", ErrPermissionDenied, p.conn.Role)
}

func decode(in protocol.Inbound, v any) error {
	if err := in.DecodeData(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

func storeError(err error) error {
	if errors.Is(err, store.ErrInvalidRecord) {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return fmt.Errorf("%w: %v", ErrInternal, err)
}

// union appends the connections of b missing from a.
func union(a, b []*registry.Connection) []*registry.Connection {
	seen := make(map[*registry.Connection]bool, len(a)+len(b))
	for _, c := range a {
		seen[c] = true
	}
	for _, c := range b {
		if !seen[c] {
			seen[c] = true
			a = append(a, c)
		}
	}
	return a
}

func exclude(conns []*registry.Connection, sender *registry.Connection) []*registry.Connection {
	out := conns[:0]
	for _, c := range conns {
		if c != sender && c.UserID != sender.UserID {
			out = append(out, c)
		}
	}
	return out
}
