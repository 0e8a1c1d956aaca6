package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/wricardo/schoolbus-tracker/tracker/dispatch"
	"github.com/wricardo/schoolbus-tracker/tracker/presence"
	"github.com/wricardo/schoolbus-tracker/tracker/protocol"
	"github.com/wricardo/schoolbus-tracker/tracker/registry"
	"github.com/wricardo/schoolbus-tracker/tracker/router"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 8192

	// Outbound frames buffered per client before it is treated as stalled.
	sendBufferSize = 256

	// Upper bound for routing one inbound frame, store write included.
	frameTimeout = 10 * time.Second

	DefaultIdleTimeout   = 2 * time.Minute
	DefaultSweepInterval = 30 * time.Second
)

var (
	ErrClientClosed   = errors.New("client closed")
	ErrSendBufferFull = errors.New("client send buffer full")
)

// Client is one websocket transport. It implements registry.Handle.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

// Send queues frame without blocking. A client whose buffer is full is
// closed, matching how a stalled reader would be dropped anyway.
func (c *Client) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.send <- frame:
		return nil
	default:
		c.closeLocked()
		return ErrSendBufferFull
	}
}

// Close stops the writer, which sends a close frame and drops the socket.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	return nil
}

func (c *Client) closeLocked() {
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Hub accepts websocket connections and drives each one through the router
// and dispatcher.
type Hub struct {
	registry   *registry.Registry
	router     *router.Router
	dispatcher *dispatch.Dispatcher
	presence   presence.Tracker
	logger     *zap.Logger
	upgrader   websocket.Upgrader

	idleTimeout    time.Duration
	sweepInterval  time.Duration
	allowedOrigins map[string]bool

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	clients map[*Client]struct{}
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithDispatcher replaces the default dispatcher.
func WithDispatcher(d *dispatch.Dispatcher) Option {
	return func(h *Hub) { h.dispatcher = d }
}

// WithPresence mirrors registrations into t.
func WithPresence(t presence.Tracker) Option {
	return func(h *Hub) {
		if t != nil {
			h.presence = t
		}
	}
}

// WithIdleTimeout sets how long a registered connection may stay silent
// before the sweeper evicts it, and how often the sweeper runs. Zero values
// keep the defaults; a negative timeout disables eviction.
func WithIdleTimeout(timeout, sweep time.Duration) Option {
	return func(h *Hub) {
		if timeout != 0 {
			h.idleTimeout = timeout
		}
		if sweep > 0 {
			h.sweepInterval = sweep
		}
	}
}

// WithAllowedOrigins restricts browser origins. Requests without an Origin
// header are always accepted. An empty list accepts every origin.
func WithAllowedOrigins(origins ...string) Option {
	return func(h *Hub) {
		for _, o := range origins {
			if o = strings.TrimSpace(o); o != "" {
				h.allowedOrigins[strings.ToLower(o)] = true
			}
		}
	}
}

// NewHub creates a hub over the registry and router.
func NewHub(reg *registry.Registry, rt *router.Router, opts ...Option) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		registry:       reg,
		router:         rt,
		presence:       presence.Nop{},
		logger:         zap.NewNop(),
		idleTimeout:    DefaultIdleTimeout,
		sweepInterval:  DefaultSweepInterval,
		allowedOrigins: make(map[string]bool),
		ctx:            ctx,
		cancel:         cancel,
		clients:        make(map[*Client]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.dispatcher == nil {
		h.dispatcher = dispatch.New(h.logger)
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Run sweeps idle connections and refreshes presence until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Sweep(ctx)
		}
	}
}

// Sweep evicts connections idle for longer than the idle timeout and
// heartbeats the presence of the rest. It returns the number evicted.
func (h *Hub) Sweep(ctx context.Context) int {
	var evicted []*registry.Connection
	if h.idleTimeout > 0 {
		evicted = h.registry.EvictIdle(h.idleTimeout)
	}
	for _, c := range evicted {
		h.logger.Info("evicted idle connection",
			zap.String("user", c.UserID),
			zap.String("conn", c.ID.String()),
			zap.Time("last_seen", c.LastSeen()),
		)
		if err := c.Handle.Close(); err != nil {
			h.logger.Debug("close evicted connection", zap.Error(err))
		}
		h.offline(ctx, c)
	}
	for _, c := range h.registry.All() {
		if err := h.presence.Heartbeat(ctx, c.UserID); err != nil {
			h.logger.Debug("presence heartbeat failed", zap.String("user", c.UserID), zap.Error(err))
		}
	}
	return len(evicted)
}

// Disconnect unregisters a user and closes its transport.
func (h *Hub) Disconnect(ctx context.Context, userID string) error {
	c, err := h.registry.Unregister(userID)
	if err != nil {
		return err
	}
	h.logger.Info("disconnected user", zap.String("user", userID), zap.String("conn", c.ID.String()))
	h.offline(ctx, c)
	return c.Handle.Close()
}

// ClientCount returns the number of open transports, authenticated or not.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close closes every open transport and cancels in-flight routing.
func (h *Hub) Close() error {
	h.cancel()
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
	return nil
}

// ServeWS upgrades the request and starts the client's pumps.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	if h.ctx.Err() != nil {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	h.logger.Debug("websocket connected", zap.String("remote", r.RemoteAddr))

	go client.writePump()
	go client.readPump()
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.allowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if h.allowedOrigins[strings.ToLower(origin)] {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && h.allowedOrigins[strings.ToLower(u.Host)]
}

// process routes one inbound frame and performs its deliveries.
func (h *Hub) process(c *Client, peer *router.Peer, raw []byte) {
	ctx, cancel := context.WithTimeout(h.ctx, frameTimeout)
	defer cancel()

	out := h.router.HandleFrame(ctx, peer, raw)

	if out.Released != nil {
		h.offline(ctx, out.Released)
	}
	if prev := out.Replaced; prev != nil && prev.Handle != peer.Handle {
		h.logger.Info("connection superseded",
			zap.String("user", prev.UserID),
			zap.String("conn", prev.ID.String()),
		)
		prev.Handle.Close()
	}
	if reg := out.Registered; reg != nil {
		if err := h.presence.Online(ctx, reg.UserID, reg.Role); err != nil {
			h.logger.Warn("presence update failed", zap.String("user", reg.UserID), zap.Error(err))
		}
	}

	if out.Broadcast != nil {
		h.dispatcher.Dispatch(ctx, *out.Broadcast, out.Recipients)
	}
	if out.Reply != nil {
		frame, err := protocol.Encode(*out.Reply)
		if err != nil {
			h.logger.Error("encode reply", zap.Error(err))
			return
		}
		if err := c.Send(frame); err != nil {
			h.logger.Debug("reply dropped", zap.String("user", peer.UserID()), zap.Error(err))
		}
	}
}

// disconnect runs when a transport closes.
func (h *Hub) disconnect(c *Client, peer *router.Peer) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()

	conn := peer.Connection()
	if conn == nil {
		return
	}
	if h.registry.Release(conn) {
		h.logger.Info("connection closed",
			zap.String("user", conn.UserID),
			zap.String("role", string(conn.Role)),
			zap.String("conn", conn.ID.String()),
		)
		h.offline(context.Background(), conn)
	}
}

func (h *Hub) offline(ctx context.Context, c *registry.Connection) {
	if err := h.presence.Offline(ctx, c.UserID, c.Role); err != nil {
		h.logger.Warn("presence update failed", zap.String("user", c.UserID), zap.Error(err))
	}
}

// readPump processes frames from the connection in arrival order.
func (c *Client) readPump() {
	peer := router.NewPeer(c)
	defer func() {
		c.hub.disconnect(c, peer)
		c.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if conn := peer.Connection(); conn != nil {
			c.hub.registry.Touch(conn)
		}
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("websocket read error", zap.String("user", peer.UserID()), zap.Error(err))
			}
			return
		}
		c.hub.process(c, peer, raw)
	}
}

// writePump writes queued frames, one websocket message each, and pings
// the peer.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.Close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}
