package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/nousos/nous/internal/auth"
	"github.com/nousos/nous/internal/logging"
)

const writeTimeout = 10 * time.Second

// Client is an authenticated WebSocket connection bound to one user.
type Client struct {
	ConnID      string
	Info        ClientInfo
	Claims      auth.Claims
	Socket      *websocket.Conn
	ConnectedAt time.Time

	mu     sync.Mutex
	closed bool
	log    *logging.Logger
}

// NewClient creates a Client for a newly authenticated WebSocket connection.
func NewClient(conn *websocket.Conn, info ClientInfo, claims auth.Claims, log *logging.Logger) *Client {
	return &Client{
		ConnID:      uuid.New().String(),
		Info:        info,
		Claims:      claims,
		Socket:      conn,
		ConnectedAt: time.Now(),
		log:         log,
	}
}

// UserID returns the id of the signed-in user.
func (c *Client) UserID() string { return c.Claims.UserID }

// Send sends a frame to the client. Thread-safe.
func (c *Client) Send(frame Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}

	c.Socket.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.Socket.WriteJSON(frame)
}

// SendEvent sends a named event with payload.
func (c *Client) SendEvent(event string, payload any, seq int64) error {
	f, err := NewEvent(event, payload, seq)
	if err != nil {
		return err
	}
	return c.Send(f)
}

// Respond sends a success response for the given request ID.
func (c *Client) Respond(reqID string, payload any) error {
	f, err := NewResponse(reqID, payload)
	if err != nil {
		return err
	}
	return c.Send(f)
}

// RespondError sends an error response for the given request ID.
func (c *Client) RespondError(reqID string, errShape ErrorShape) error {
	return c.Send(NewErrorResponse(reqID, errShape))
}

// ReadFrame reads the next frame from the WebSocket.
func (c *Client) ReadFrame() (Frame, error) {
	_, msg, err := c.Socket.ReadMessage()
	if err != nil {
		return Frame{}, err
	}
	var f Frame
	if err := json.Unmarshal(msg, &f); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// Close closes the WebSocket connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.Socket.Close()
}

// ClientRegistry tracks open connections, indexed by user so chat events
// reach every tab of the same account.
type ClientRegistry struct {
	mu     sync.RWMutex
	conns  map[string]*Client            // connID -> client
	byUser map[string]map[string]*Client // userID -> connID -> client
	log    *logging.Logger
}

// NewClientRegistry creates an empty client registry.
func NewClientRegistry(log *logging.Logger) *ClientRegistry {
	return &ClientRegistry{
		conns:  make(map[string]*Client),
		byUser: make(map[string]map[string]*Client),
		log:    log,
	}
}

// Add registers a connected client.
func (r *ClientRegistry) Add(c *Client) {
	r.mu.Lock()
	r.conns[c.ConnID] = c
	tabs := r.byUser[c.UserID()]
	if tabs == nil {
		tabs = make(map[string]*Client)
		r.byUser[c.UserID()] = tabs
	}
	tabs[c.ConnID] = c
	n := len(tabs)
	r.mu.Unlock()

	r.log.Info().Str("connId", c.ConnID).Str("user", c.UserID()).Int("userConnections", n).Msg("client connected")
}

// Remove unregisters a client by connection ID.
func (r *ClientRegistry) Remove(connID string) {
	r.mu.Lock()
	_, ok := r.drop(connID)
	r.mu.Unlock()
	if ok {
		r.log.Info().Str("connId", connID).Msg("client disconnected")
	}
}

// drop removes connID from both indexes. Callers hold mu.
func (r *ClientRegistry) drop(connID string) (*Client, bool) {
	c, ok := r.conns[connID]
	if !ok {
		return nil, false
	}
	delete(r.conns, connID)
	if tabs := r.byUser[c.UserID()]; tabs != nil {
		delete(tabs, connID)
		if len(tabs) == 0 {
			delete(r.byUser, c.UserID())
		}
	}
	return c, true
}

// Get returns a client by connection ID.
func (r *ClientRegistry) Get(connID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[connID]
	return c, ok
}

// Count returns the number of connected clients.
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Users returns the number of distinct users with an open connection.
func (r *ClientRegistry) Users() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

// SendToUser sends an event frame to every connection of one user.
func (r *ClientRegistry) SendToUser(userID, event string, payload any, seq int64) {
	r.mu.RLock()
	tabs := make([]*Client, 0, len(r.byUser[userID]))
	for _, c := range r.byUser[userID] {
		tabs = append(tabs, c)
	}
	r.mu.RUnlock()

	for _, c := range tabs {
		if err := c.SendEvent(event, payload, seq); err != nil {
			r.log.Warn().Err(err).Str("connId", c.ConnID).Str("event", event).Msg("event send failed")
		}
	}
}

// CloseSession closes every connection opened with the given token id
// and returns how many were closed.
func (r *ClientRegistry) CloseSession(tokenID string) int {
	if tokenID == "" {
		return 0
	}
	r.mu.Lock()
	var closing []*Client
	for id, c := range r.conns {
		if c.Claims.TokenID == tokenID {
			r.drop(id)
			closing = append(closing, c)
		}
	}
	r.mu.Unlock()

	for _, c := range closing {
		c.Close()
	}
	return len(closing)
}

// CloseAll closes all connected clients.
func (r *ClientRegistry) CloseAll() {
	r.mu.Lock()
	all := r.conns
	r.conns = make(map[string]*Client)
	r.byUser = make(map[string]map[string]*Client)
	r.mu.Unlock()

	for _, c := range all {
		c.Close()
	}
}
