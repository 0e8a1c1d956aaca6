package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/wricardo/schoolbus-tracker/tracker/protocol"
)

// FrameError is an error frame received from the server.
type FrameError struct {
	Code    protocol.ErrorCode
	Message string
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Conn is a client connection to a tracker websocket endpoint. It is not
// safe for concurrent writers or concurrent readers.
type Conn struct {
	ws *websocket.Conn
}

// Dial connects to a ws:// or wss:// url.
func Dial(ctx context.Context, url string, header http.Header) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &Conn{ws: ws}, nil
}

// Send writes one client frame.
func (c *Conn) Send(typ string, data any) error {
	in, err := protocol.NewInbound(typ, data)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(in)
	if err != nil {
		return err
	}
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, raw)
}

// Next reads the next server frame, waiting at most timeout.
func (c *Conn) Next(timeout time.Duration) (protocol.Envelope, error) {
	c.ws.SetReadDeadline(time.Now().Add(timeout))
	_, raw, err := c.ws.ReadMessage()
	if err != nil {
		return protocol.Envelope{}, err
	}
	return protocol.DecodeEnvelope(raw)
}

// Authenticate sends an auth frame and waits for its answer. An error frame
// is returned as *FrameError.
func (c *Conn) Authenticate(userID, token string, timeout time.Duration) (protocol.AuthSuccess, error) {
	if err := c.Send(protocol.TypeAuth, protocol.AuthData{UserID: userID, Token: token}); err != nil {
		return protocol.AuthSuccess{}, err
	}
	env, err := c.Next(timeout)
	if err != nil {
		return protocol.AuthSuccess{}, err
	}
	if env.Type == protocol.TypeError {
		return protocol.AuthSuccess{}, &FrameError{Code: env.Code, Message: env.Message}
	}
	if env.Type != protocol.TypeAuthSuccess {
		return protocol.AuthSuccess{}, fmt.Errorf("unexpected %s frame during auth", env.Type)
	}
	var ack protocol.AuthSuccess
	if err := json.Unmarshal(env.Data, &ack); err != nil {
		return protocol.AuthSuccess{}, err
	}
	return ack, nil
}

// Close sends a close frame and closes the socket.
func (c *Conn) Close() error {
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.ws.Close()
}
