package protocol

import (
	"encoding/json"
	"time"
)

// Inbound frame types.
const (
	TypeAuth           = "auth"
	TypeLocationUpdate = "location_update"
	TypeChatMessage    = "chat_message"
	TypeStudentStatus  = "student_status"
	TypeEmergency      = "emergency"
)

// Outbound-only frame types.
const (
	TypeAuthSuccess = "auth_success"
	TypeError       = "error"
	TypeMessageSent = "message_sent"
)

// ErrorCode is the machine-readable reason carried by an error frame.
type ErrorCode string

const (
	CodeAuthenticationRequired ErrorCode = "authentication_required"
	CodeAuthenticationFailed   ErrorCode = "authentication_failed"
	CodePermissionDenied       ErrorCode = "permission_denied"
	CodeInvalidPayload         ErrorCode = "invalid_payload"
	CodeUnknownEventType       ErrorCode = "unknown_event_type"
	CodeInternal               ErrorCode = "internal_error"
)

// Inbound is a client frame. Data is decoded lazily by type.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Outbound is a server frame.
type Outbound struct {
	Type    string    `json:"type"`
	Data    any       `json:"data,omitempty"`
	Message string    `json:"message,omitempty"`
	Code    ErrorCode `json:"code,omitempty"`
}

// Envelope is an Outbound frame as seen by a client, with Data left raw.
type Envelope struct {
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
	Code    ErrorCode       `json:"code,omitempty"`
}

// AuthData is the payload of an auth frame.
type AuthData struct {
	UserID string `json:"userId"`
	Token  string `json:"token,omitempty"`
}

// LocationUpdateData is the payload of an inbound location_update frame.
// Required fields are pointers so that absence can be told apart from zero.
type LocationUpdateData struct {
	BusID     *int64   `json:"busId"`
	TripID    *int64   `json:"tripId,omitempty"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Speed     *float64 `json:"speed,omitempty"`
	Bearing   *float64 `json:"bearing,omitempty"`
	Status    string   `json:"status,omitempty"`
}

// ChatMessageData is the payload of an inbound chat_message frame.
type ChatMessageData struct {
	RecipientID string `json:"recipientId"`
	Content     string `json:"content"`
}

// StudentStatusData is the payload of an inbound student_status frame.
type StudentStatusData struct {
	StudentID *int64 `json:"studentId"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
}

// EmergencyData is the payload of an inbound emergency frame.
type EmergencyData struct {
	BusID              *int64          `json:"busId,omitempty"`
	TripID             *int64          `json:"tripId,omitempty"`
	EmergencyType      string          `json:"emergencyType"`
	Description        string          `json:"description"`
	Location           json.RawMessage `json:"location,omitempty"`
	AffectedStudentIDs []string        `json:"affectedStudentIds,omitempty"`
}

// AuthSuccess is sent to a connection after a successful auth frame.
type AuthSuccess struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

// LocationEvent is the outbound location_update payload.
type LocationEvent struct {
	ID        int64     `json:"id"`
	BusID     int64     `json:"busId"`
	TripID    *int64    `json:"tripId,omitempty"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Speed     *float64  `json:"speed,omitempty"`
	Bearing   *float64  `json:"bearing,omitempty"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatEvent is the outbound chat_message payload.
type ChatEvent struct {
	ID          int64     `json:"id"`
	SenderID    string    `json:"senderId"`
	RecipientID string    `json:"recipientId"`
	Content     string    `json:"content"`
	Read        bool      `json:"read"`
	Timestamp   time.Time `json:"timestamp"`
}

// MessageSent acknowledges a chat message to its sender.
type MessageSent struct {
	ID          int64     `json:"id"`
	RecipientID string    `json:"recipientId"`
	Delivered   bool      `json:"delivered"`
	Timestamp   time.Time `json:"timestamp"`
}

// StudentStatusEvent is the outbound student_status payload.
type StudentStatusEvent struct {
	StudentID int64     `json:"studentId"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	UpdatedBy string    `json:"updatedBy"`
	Timestamp time.Time `json:"timestamp"`
}

// EmergencyEvent is the outbound emergency payload.
type EmergencyEvent struct {
	BusID              *int64          `json:"busId,omitempty"`
	TripID             *int64          `json:"tripId,omitempty"`
	EmergencyType      string          `json:"emergencyType"`
	Description        string          `json:"description"`
	Location           json.RawMessage `json:"location,omitempty"`
	AffectedStudentIDs []string        `json:"affectedStudentIds,omitempty"`
	ReportedBy         string          `json:"reportedBy"`
	ReporterRole       string          `json:"reporterRole"`
	Timestamp          time.Time       `json:"timestamp"`
}
