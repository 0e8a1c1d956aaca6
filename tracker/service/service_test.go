package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wricardo/schoolbus-tracker/tracker/directory"
	"github.com/wricardo/schoolbus-tracker/tracker/registry"
	"github.com/wricardo/schoolbus-tracker/tracker/service"
	"github.com/wricardo/schoolbus-tracker/tracker/store"
)

type nopHandle struct{ closed bool }

func (h *nopHandle) Send([]byte) error { return nil }
func (h *nopHandle) Close() error      { h.closed = true; return nil }

// MockDisconnector implements service.Disconnector for testing
type MockDisconnector struct {
	DisconnectFunc func(ctx context.Context, userID string) error
}

func (m *MockDisconnector) Disconnect(ctx context.Context, userID string) error {
	if m.DisconnectFunc != nil {
		return m.DisconnectFunc(ctx, userID)
	}
	return nil
}

// MockPresence implements service.PresenceReader for testing
type MockPresence struct {
	OnlineByRoleFunc func(ctx context.Context, role directory.Role) ([]string, error)
}

func (m *MockPresence) OnlineByRole(ctx context.Context, role directory.Role) ([]string, error) {
	if m.OnlineByRoleFunc != nil {
		return m.OnlineByRoleFunc(ctx, role)
	}
	return nil, nil
}

func register(t *testing.T, reg *registry.Registry, u directory.User) *nopHandle {
	t.Helper()
	h := &nopHandle{}
	if _, err := reg.Register(registry.NewConnection(u, h)); err != nil {
		t.Fatalf("register %s: %v", u.ID, err)
	}
	return h
}

func setup(t *testing.T, opts service.Options) (service.TrackingService, *registry.Registry, *store.Memory) {
	t.Helper()
	reg := registry.New()
	events := store.NewMemory()
	register(t, reg, directory.User{ID: "driver-1", Role: directory.RoleOperator, BusIDs: []int64{42}})
	register(t, reg, directory.User{ID: "parent-1", Role: directory.RoleGuardian, BusIDs: []int64{42}, StudentIDs: []string{"101"}})
	register(t, reg, directory.User{ID: "parent-2", Role: directory.RoleGuardian, BusIDs: []int64{42}, StudentIDs: []string{"102"}})
	return service.NewTrackingService(reg, events, nil, opts), reg, events
}

func TestStatus(t *testing.T) {
	start := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	now := start
	svc, _, _ := setup(t, service.Options{
		StoreDriver: "memory",
		Fanout:      "scoped",
		Clock:       func() time.Time { return now },
	})
	now = start.Add(90 * time.Second)

	st, err := svc.Status(context.Background())
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if st.Connections != 3 {
		t.Errorf("Expected 3 connections, got %d", st.Connections)
	}
	if st.ByRole[directory.RoleGuardian] != 2 || st.ByRole[directory.RoleOperator] != 1 {
		t.Errorf("Unexpected role counts %v", st.ByRole)
	}
	if st.Store != "memory" || st.Fanout != "scoped" {
		t.Errorf("Unexpected settings %+v", st)
	}
	if st.Uptime != "1m30s" {
		t.Errorf("Expected uptime 1m30s, got %s", st.Uptime)
	}
	if st.Online != nil {
		t.Error("Online should be empty without a presence backend")
	}
}

func TestStatus_Presence(t *testing.T) {
	presence := &MockPresence{
		OnlineByRoleFunc: func(ctx context.Context, role directory.Role) ([]string, error) {
			if role == directory.RoleGuardian {
				return []string{"parent-1", "parent-7"}, nil
			}
			return nil, nil
		},
	}
	svc, _, _ := setup(t, service.Options{Presence: presence})

	st, err := svc.Status(context.Background())
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if st.Online[directory.RoleGuardian] != 2 {
		t.Errorf("Expected 2 guardians online, got %d", st.Online[directory.RoleGuardian])
	}

	presence.OnlineByRoleFunc = func(context.Context, directory.Role) ([]string, error) {
		return nil, errors.New("redis down")
	}
	if _, err := svc.Status(context.Background()); err == nil {
		t.Error("Expected presence error to surface")
	}
}

func TestListConnections(t *testing.T) {
	svc, _, _ := setup(t, service.Options{})

	tests := []struct {
		name    string
		role    directory.Role
		want    []string
		wantErr error
	}{
		{"all", "", []string{"driver-1", "parent-1", "parent-2"}, nil},
		{"guardians", directory.RoleGuardian, []string{"parent-1", "parent-2"}, nil},
		{"administrators", directory.RoleAdministrator, []string{}, nil},
		{"invalid role", directory.Role("pilot"), nil, service.ErrInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			infos, err := svc.ListConnections(context.Background(), tt.role)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ListConnections failed: %v", err)
			}
			if len(infos) != len(tt.want) {
				t.Fatalf("Expected %d connections, got %d", len(tt.want), len(infos))
			}
			for i, info := range infos {
				if info.UserID != tt.want[i] {
					t.Errorf("Position %d: expected %s, got %s", i, tt.want[i], info.UserID)
				}
				if info.ID == "" || info.ConnectedAt.IsZero() {
					t.Errorf("Incomplete info %+v", info)
				}
			}
		})
	}

	infos, _ := svc.ListConnections(context.Background(), directory.RoleGuardian)
	if got := infos[0].StudentIDs; len(got) != 1 || got[0] != "101" {
		t.Errorf("Expected student links [101], got %v", got)
	}
}

func TestDisconnect_Registry(t *testing.T) {
	svc, reg, _ := setup(t, service.Options{})

	if err := svc.Disconnect(context.Background(), "parent-1"); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if _, ok := reg.Lookup("parent-1"); ok {
		t.Error("parent-1 should be gone")
	}
	if err := svc.Disconnect(context.Background(), "parent-1"); !errors.Is(err, service.ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
	if err := svc.Disconnect(context.Background(), "  "); !errors.Is(err, service.ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument, got %v", err)
	}
}

func TestDisconnect_Hub(t *testing.T) {
	var got string
	hub := &MockDisconnector{
		DisconnectFunc: func(ctx context.Context, userID string) error {
			got = userID
			if userID == "ghost" {
				return registry.ErrNotRegistered
			}
			return nil
		},
	}
	svc := service.NewTrackingService(registry.New(), store.NewMemory(), hub, service.Options{})

	if err := svc.Disconnect(context.Background(), "driver-1"); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if got != "driver-1" {
		t.Errorf("Expected hub to receive driver-1, got %q", got)
	}
	if err := svc.Disconnect(context.Background(), "ghost"); !errors.Is(err, service.ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
}

func TestLocationHistory(t *testing.T) {
	svc, _, events := setup(t, service.Options{})
	ctx := context.Background()

	for _, lat := range []float64{40.1, 40.2, 40.3} {
		if _, err := events.InsertLocationSample(ctx, store.LocationSample{BusID: 42, Latitude: lat, Longitude: -74}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	samples, err := svc.LocationHistory(ctx, 42, 2)
	if err != nil {
		t.Fatalf("LocationHistory failed: %v", err)
	}
	if len(samples) != 2 || samples[0].Latitude != 40.2 || samples[1].Latitude != 40.3 {
		t.Errorf("Expected the two newest samples oldest first, got %+v", samples)
	}

	latest, err := svc.LatestLocation(ctx, 42)
	if err != nil {
		t.Fatalf("LatestLocation failed: %v", err)
	}
	if latest.Latitude != 40.3 {
		t.Errorf("Expected latest latitude 40.3, got %v", latest.Latitude)
	}

	if _, err := svc.LatestLocation(ctx, 7); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if _, err := svc.LocationHistory(ctx, 0, 10); !errors.Is(err, service.ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument, got %v", err)
	}
}

func TestMessages(t *testing.T) {
	svc, _, events := setup(t, service.Options{})
	ctx := context.Background()

	msg, err := events.InsertMessage(ctx, store.Message{SenderID: "parent-1", RecipientID: "driver-1", Body: "hi"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	msgs, err := svc.Messages(ctx, "driver-1", 0)
	if err != nil {
		t.Fatalf("Messages failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Read {
		t.Fatalf("Expected one unread message, got %+v", msgs)
	}

	if err := svc.MarkMessageRead(ctx, msg.ID, "parent-1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Sender must not mark as read, got %v", err)
	}
	if err := svc.MarkMessageRead(ctx, msg.ID, "driver-1"); err != nil {
		t.Fatalf("MarkMessageRead failed: %v", err)
	}
	msgs, _ = svc.Messages(ctx, "parent-1", 0)
	if !msgs[0].Read {
		t.Error("Expected message to be read")
	}

	if _, err := svc.Messages(ctx, "", 0); !errors.Is(err, service.ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument, got %v", err)
	}
	if err := svc.MarkMessageRead(ctx, 0, "driver-1"); !errors.Is(err, service.ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument, got %v", err)
	}
}
