package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/wricardo/schoolbus-tracker/tracker/directory"
	"github.com/wricardo/schoolbus-tracker/tracker/service"
	"github.com/wricardo/schoolbus-tracker/tracker/store"
)

// MockTrackingService implements service.TrackingService for testing
type MockTrackingService struct {
	StatusFunc          func(ctx context.Context) (*service.Status, error)
	ListConnectionsFunc func(ctx context.Context, role directory.Role) ([]*service.ConnectionInfo, error)
	DisconnectFunc      func(ctx context.Context, userID string) error
	LocationHistoryFunc func(ctx context.Context, busID int64, limit int) ([]store.LocationSample, error)
	LatestLocationFunc  func(ctx context.Context, busID int64) (*store.LocationSample, error)
	MessagesFunc        func(ctx context.Context, userID string, limit int) ([]store.Message, error)
	MarkMessageReadFunc func(ctx context.Context, messageID int64, userID string) error
}

func (m *MockTrackingService) Status(ctx context.Context) (*service.Status, error) {
	if m.StatusFunc != nil {
		return m.StatusFunc(ctx)
	}
	return &service.Status{ByRole: map[directory.Role]int{}}, nil
}

func (m *MockTrackingService) ListConnections(ctx context.Context, role directory.Role) ([]*service.ConnectionInfo, error) {
	if m.ListConnectionsFunc != nil {
		return m.ListConnectionsFunc(ctx, role)
	}
	return []*service.ConnectionInfo{}, nil
}

func (m *MockTrackingService) Disconnect(ctx context.Context, userID string) error {
	if m.DisconnectFunc != nil {
		return m.DisconnectFunc(ctx, userID)
	}
	return nil
}

func (m *MockTrackingService) LocationHistory(ctx context.Context, busID int64, limit int) ([]store.LocationSample, error) {
	if m.LocationHistoryFunc != nil {
		return m.LocationHistoryFunc(ctx, busID, limit)
	}
	return nil, nil
}

func (m *MockTrackingService) LatestLocation(ctx context.Context, busID int64) (*store.LocationSample, error) {
	if m.LatestLocationFunc != nil {
		return m.LatestLocationFunc(ctx, busID)
	}
	return nil, store.ErrNotFound
}

func (m *MockTrackingService) Messages(ctx context.Context, userID string, limit int) ([]store.Message, error) {
	if m.MessagesFunc != nil {
		return m.MessagesFunc(ctx, userID, limit)
	}
	return nil, nil
}

func (m *MockTrackingService) MarkMessageRead(ctx context.Context, messageID int64, userID string) error {
	if m.MarkMessageReadFunc != nil {
		return m.MarkMessageReadFunc(ctx, messageID, userID)
	}
	return nil
}

func doRequest(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
}

func TestNewServer(t *testing.T) {
	s := NewServer(&MockTrackingService{}, nil, nil)
	if s == nil {
		t.Fatal("Expected server to be created")
	}
	if s.router == nil {
		t.Error("Expected router to be initialized")
	}
	if s.logger == nil {
		t.Error("Expected nop logger when none is given")
	}
}

func TestHandleHealth(t *testing.T) {
	s := NewServer(&MockTrackingService{}, nil, nil)
	w := doRequest(t, s, "GET", "/api/health", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if w.Header().Get("Content-Type") != "application/json" {
		t.Errorf("Expected JSON content type, got %s", w.Header().Get("Content-Type"))
	}
}

func TestHandleStatus(t *testing.T) {
	mock := &MockTrackingService{
		StatusFunc: func(ctx context.Context) (*service.Status, error) {
			return &service.Status{
				Connections: 3,
				ByRole:      map[directory.Role]int{directory.RoleGuardian: 2, directory.RoleOperator: 1},
				Fanout:      "scoped",
				Store:       "sqlite",
			}, nil
		},
	}
	s := NewServer(mock, nil, nil)
	w := doRequest(t, s, "GET", "/api/status", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var st service.Status
	decodeBody(t, w, &st)
	if st.Connections != 3 || st.ByRole[directory.RoleGuardian] != 2 || st.Store != "sqlite" {
		t.Errorf("Unexpected status %+v", st)
	}
}

func TestHandleStatus_Error(t *testing.T) {
	mock := &MockTrackingService{
		StatusFunc: func(ctx context.Context) (*service.Status, error) {
			return nil, errors.New("redis: connection refused")
		},
	}
	s := NewServer(mock, nil, nil)
	w := doRequest(t, s, "GET", "/api/status", nil)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("Expected status 500, got %d", w.Code)
	}
	var resp map[string]string
	decodeBody(t, w, &resp)
	if resp["error"] != "internal error" {
		t.Errorf("Internal details should not leak, got %q", resp["error"])
	}
}

func TestHandleListConnections(t *testing.T) {
	var gotRole directory.Role
	mock := &MockTrackingService{
		ListConnectionsFunc: func(ctx context.Context, role directory.Role) ([]*service.ConnectionInfo, error) {
			gotRole = role
			return []*service.ConnectionInfo{
				{ID: "c1", UserID: "parent-1", Role: directory.RoleGuardian, ConnectedAt: time.Now()},
			}, nil
		},
	}
	s := NewServer(mock, nil, nil)

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantRole   directory.Role
	}{
		{"all", "/api/connections", http.StatusOK, ""},
		{"role filter", "/api/connections?role=guardian", http.StatusOK, directory.RoleGuardian},
		{"role alias", "/api/connections?role=driver", http.StatusOK, directory.RoleOperator},
		{"bad role", "/api/connections?role=pilot", http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotRole = ""
			w := doRequest(t, s, "GET", tt.path, nil)
			if w.Code != tt.wantStatus {
				t.Fatalf("Expected status %d, got %d", tt.wantStatus, w.Code)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			if gotRole != tt.wantRole {
				t.Errorf("Expected role %q, got %q", tt.wantRole, gotRole)
			}
			var resp struct {
				Count       int                       `json:"count"`
				Connections []*service.ConnectionInfo `json:"connections"`
			}
			decodeBody(t, w, &resp)
			if resp.Count != 1 || resp.Connections[0].UserID != "parent-1" {
				t.Errorf("Unexpected response %+v", resp)
			}
		})
	}
}

func TestHandleDisconnect(t *testing.T) {
	mock := &MockTrackingService{
		DisconnectFunc: func(ctx context.Context, userID string) error {
			if userID == "parent-1" {
				return nil
			}
			return fmt.Errorf("%w: %s", service.ErrNotConnected, userID)
		},
	}
	s := NewServer(mock, nil, nil)

	if w := doRequest(t, s, "DELETE", "/api/connections/parent-1", nil); w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if w := doRequest(t, s, "DELETE", "/api/connections/ghost", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestHandleLocationHistory(t *testing.T) {
	var gotBus int64
	var gotLimit int
	mock := &MockTrackingService{
		LocationHistoryFunc: func(ctx context.Context, busID int64, limit int) ([]store.LocationSample, error) {
			gotBus, gotLimit = busID, limit
			return []store.LocationSample{
				{ID: 1, BusID: busID, Latitude: 40.1, Longitude: -74},
				{ID: 2, BusID: busID, Latitude: 40.2, Longitude: -74},
			}, nil
		},
	}
	s := NewServer(mock, nil, nil)

	w := doRequest(t, s, "GET", "/api/buses/42/locations?limit=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if gotBus != 42 || gotLimit != 2 {
		t.Errorf("Expected bus 42 limit 2, got bus %d limit %d", gotBus, gotLimit)
	}
	var resp struct {
		BusID     int64                  `json:"bus_id"`
		Count     int                    `json:"count"`
		Locations []store.LocationSample `json:"locations"`
	}
	decodeBody(t, w, &resp)
	if resp.Count != 2 || resp.Locations[1].Latitude != 40.2 {
		t.Errorf("Unexpected response %+v", resp)
	}

	if w := doRequest(t, s, "GET", "/api/buses/42/locations?limit=abc", nil); w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for bad limit, got %d", w.Code)
	}
	if w := doRequest(t, s, "GET", "/api/buses/abc/locations", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for non-numeric bus id, got %d", w.Code)
	}
}

func TestHandleLatestLocation(t *testing.T) {
	mock := &MockTrackingService{
		LatestLocationFunc: func(ctx context.Context, busID int64) (*store.LocationSample, error) {
			if busID != 42 {
				return nil, fmt.Errorf("latest location for bus %d: %w", busID, store.ErrNotFound)
			}
			return &store.LocationSample{ID: 9, BusID: 42, Latitude: 40.71, Longitude: -74.0, Status: "active"}, nil
		},
	}
	s := NewServer(mock, nil, nil)

	w := doRequest(t, s, "GET", "/api/buses/42/location", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var sample store.LocationSample
	decodeBody(t, w, &sample)
	if sample.ID != 9 || sample.Latitude != 40.71 {
		t.Errorf("Unexpected sample %+v", sample)
	}

	if w := doRequest(t, s, "GET", "/api/buses/7/location", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestHandleMessages(t *testing.T) {
	mock := &MockTrackingService{
		MessagesFunc: func(ctx context.Context, userID string, limit int) ([]store.Message, error) {
			if userID == "nobody" {
				return nil, nil
			}
			return []store.Message{{ID: 1, SenderID: "parent-1", RecipientID: userID, Body: "hello"}}, nil
		},
	}
	s := NewServer(mock, nil, nil)

	w := doRequest(t, s, "GET", "/api/users/driver-1/messages", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var resp struct {
		UserID   string          `json:"user_id"`
		Count    int             `json:"count"`
		Messages []store.Message `json:"messages"`
	}
	decodeBody(t, w, &resp)
	if resp.UserID != "driver-1" || resp.Count != 1 || resp.Messages[0].Body != "hello" {
		t.Errorf("Unexpected response %+v", resp)
	}

	w = doRequest(t, s, "GET", "/api/users/nobody/messages", nil)
	var empty map[string]json.RawMessage
	decodeBody(t, w, &empty)
	if string(empty["messages"]) != "[]" {
		t.Errorf("Expected empty list, got %s", empty["messages"])
	}
}

func TestHandleMarkRead(t *testing.T) {
	var gotID int64
	var gotUser string
	mock := &MockTrackingService{
		MarkMessageReadFunc: func(ctx context.Context, messageID int64, userID string) error {
			gotID, gotUser = messageID, userID
			if userID != "driver-1" {
				return store.ErrNotFound
			}
			return nil
		},
	}
	s := NewServer(mock, nil, nil)

	tests := []struct {
		name       string
		body       interface{}
		wantStatus int
	}{
		{"recipient", map[string]string{"userId": "driver-1"}, http.StatusOK},
		{"not recipient", map[string]string{"userId": "parent-1"}, http.StatusNotFound},
		{"missing user", map[string]string{}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, s, "POST", "/api/messages/5/read", tt.body)
			if w.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, w.Code)
			}
		})
	}
	if gotID != 5 || gotUser != "parent-1" {
		t.Errorf("Unexpected call id=%d user=%s", gotID, gotUser)
	}

	req := httptest.NewRequest("POST", "/api/messages/5/read", bytes.NewBufferString("{"))
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for malformed body, got %d", w.Code)
	}
}

func TestRecoverer(t *testing.T) {
	mock := &MockTrackingService{
		StatusFunc: func(ctx context.Context) (*service.Status, error) {
			panic("boom")
		},
	}
	s := NewServer(mock, nil, nil)
	w := doRequest(t, s, "GET", "/api/status", nil)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500 after panic, got %d", w.Code)
	}
}

func TestWebSocketRoute(t *testing.T) {
	called := false
	ws := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusSwitchingProtocols)
	})

	s := NewServer(&MockTrackingService{}, ws, nil)
	doRequest(t, s, "GET", "/ws", nil)
	if !called {
		t.Error("Expected /ws to reach the websocket handler")
	}

	s = NewServer(&MockTrackingService{}, nil, nil)
	if w := doRequest(t, s, "GET", "/ws", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 without a websocket handler, got %d", w.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s := NewServer(&MockTrackingService{}, nil, nil)
	w := doRequest(t, s, "POST", "/api/status", nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
}
