package router

import (
	"errors"

	"github.com/wricardo/schoolbus-tracker/tracker/protocol"
)

// Rejections reported to the sending connection. None of them closes the
// connection or affects other connections.
var (
	ErrAuthenticationRequired = errors.New("authentication required")
	ErrAuthenticationFailed   = errors.New("authentication failed")
	ErrPermissionDenied       = errors.New("permission denied")
	ErrInvalidPayload         = errors.New("invalid payload")
	ErrUnknownEventType       = errors.New("unknown event type")
	ErrInternal               = errors.New("internal error")
)

// Code maps an error to the code carried by the error frame.
func Code(err error) protocol.ErrorCode {
	switch {
	case errors.Is(err, ErrAuthenticationRequired):
		return protocol.CodeAuthenticationRequired
	case errors.Is(err, ErrAuthenticationFailed):
		return protocol.CodeAuthenticationFailed
	case errors.Is(err, ErrPermissionDenied):
		return protocol.CodePermissionDenied
	case errors.Is(err, ErrInvalidPayload):
		return protocol.CodeInvalidPayload
	case errors.Is(err, ErrUnknownEventType):
		return protocol.CodeUnknownEventType
	}
	return protocol.CodeInternal
}

// errorReply builds the error frame for err. Internal failures are reported
// with a generic message.
func errorReply(err error) *protocol.Outbound {
	code := Code(err)
	msg := err.Error()
	if code == protocol.CodeInternal {
		msg = "internal error, please retry"
	}
	out := protocol.ErrorFrame(code, msg)
	return &out
}
