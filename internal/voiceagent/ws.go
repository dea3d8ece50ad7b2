package voiceagent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	DefaultEndpoint = "wss://api.vapi.ai/ws"

	defaultConnectTimeout = 15 * time.Second
	writeWait             = 2 * time.Second

	disconnectMessage = "voice session disconnected"
)

// WSClient talks to the hosted agent over a JSON WebSocket.
//
// Frames:
// - client -> agent: {"type":"start","assistantId":"..."} and {"type":"stop"}
// - agent -> client: {"type":"call-start"}, {"type":"call-end"}, {"type":"error","message":"..."}
//
// Any other frame type (transcripts, audio levels) is ignored at this boundary.
type WSClient struct {
	publicKey string
	endpoint  string
	dialer    *websocket.Dialer
	log       *slog.Logger

	mu       sync.Mutex
	handlers map[EventKind]Handler
	conn     *websocket.Conn

	writeMu sync.Mutex
}

type Option func(*WSClient)

func WithEndpoint(endpoint string) Option {
	return func(c *WSClient) {
		if strings.TrimSpace(endpoint) != "" {
			c.endpoint = endpoint
		}
	}
}

func WithDialer(d *websocket.Dialer) Option {
	return func(c *WSClient) {
		if d != nil {
			c.dialer = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *WSClient) {
		if l != nil {
			c.log = l
		}
	}
}

type controlFrame struct {
	Type        string `json:"type"`
	AssistantID string `json:"assistantId,omitempty"`
}

// NewClient validates the public key and returns an idle client.
// No network activity happens until Start.
func NewClient(publicKey string, opts ...Option) (*WSClient, error) {
	if err := validateKey(publicKey); err != nil {
		return nil, err
	}
	c := &WSClient{
		publicKey: publicKey,
		endpoint:  DefaultEndpoint,
		dialer:    websocket.DefaultDialer,
		log:       slog.Default(),
		handlers:  make(map[EventKind]Handler, 3),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dialer == nil {
		c.dialer = &websocket.Dialer{}
	}
	return c, nil
}

// NewFactory returns a Factory producing WSClients with the given options.
func NewFactory(opts ...Option) Factory {
	return func(publicKey string) (Client, error) {
		return NewClient(publicKey, opts...)
	}
}

func (c *WSClient) On(kind EventKind, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h == nil {
		delete(c.handlers, kind)
		return
	}
	c.handlers[kind] = h
}

func (c *WSClient) Start(ctx context.Context, assistantID string) error {
	if strings.TrimSpace(assistantID) == "" {
		return ErrInvalidAssistant
	}

	c.mu.Lock()
	running := c.conn != nil
	c.mu.Unlock()
	if running {
		return ErrAlreadyRunning
	}

	u, err := url.Parse(c.endpoint)
	if err != nil {
		return fmt.Errorf("voiceagent: invalid endpoint: %w", err)
	}
	q := u.Query()
	q.Set("assistantId", assistantID)
	u.RawQuery = q.Encode()

	headers := make(http.Header)
	headers.Set("Authorization", "Bearer "+c.publicKey)

	dialCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, defaultConnectTimeout)
		defer cancel()
	}

	conn, resp, err := c.dialer.DialContext(dialCtx, u.String(), headers)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("voiceagent: dial failed (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("voiceagent: dial failed: %w", err)
	}

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(controlFrame{Type: "start", AssistantID: assistantID}); err != nil {
		_ = conn.Close()
		return fmt.Errorf("voiceagent: send start: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Time{})

	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrAlreadyRunning
	}
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(conn)
	return nil
}

// Stop ends the current session without waiting for the agent.
// It never dispatches events.
func (c *WSClient) Stop() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return
	}

	c.writeMu.Lock()
	deadline := time.Now().Add(writeWait)
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.WriteJSON(controlFrame{Type: "stop"})
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	c.writeMu.Unlock()
	_ = conn.Close()
}

func (c *WSClient) readLoop(conn *websocket.Conn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if c.detach(conn) {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.dispatch(Event{Kind: EventCallEnd})
				return
			}
			c.log.Warn("voice agent connection lost", "err", err)
			c.dispatch(Event{Kind: EventError, Message: disconnectMessage})
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			c.log.Warn("voice agent frame decode failed", "err", err)
			continue
		}
		if !ev.Kind.Valid() {
			continue
		}
		c.dispatch(ev)
	}
}

// detach clears conn if it is still current. It reports true when Stop
// already took the connection away.
func (c *WSClient) detach(conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn {
		return true
	}
	c.conn = nil
	_ = conn.Close()
	return false
}

func (c *WSClient) dispatch(ev Event) {
	c.mu.Lock()
	h := c.handlers[ev.Kind]
	c.mu.Unlock()
	if h != nil {
		h(ev)
	}
}
