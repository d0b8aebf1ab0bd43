// Package gateway serves the NOUS HTTP API and the realtime WebSocket
// channel used by the chat panel.
package gateway

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/nousos/nous/internal/agent"
	"github.com/nousos/nous/internal/auth"
	"github.com/nousos/nous/internal/catalog"
	"github.com/nousos/nous/internal/chat"
	"github.com/nousos/nous/internal/config"
	"github.com/nousos/nous/internal/hooks"
	"github.com/nousos/nous/internal/logging"
	"github.com/nousos/nous/internal/metrics"
	"github.com/nousos/nous/internal/ratelimit"
	"github.com/nousos/nous/internal/version"
	"github.com/nousos/nous/internal/vfs"
	"golang.org/x/sync/errgroup"
)

var ErrClientClosed = errors.New("client connection closed")

const (
	maxPayload       = 4 * 1024 * 1024
	handshakeTimeout = 10 * time.Second
	cleanupInterval  = time.Minute
)

// Server is the NOUS HTTP + WebSocket server.
type Server struct {
	cfg      config.Config
	log      *logging.Logger
	clients  *ClientRegistry
	handlers map[string]RequestHandler
	version  string
	eventSeq atomic.Int64

	core    *agent.Core
	auth    *auth.Service
	chat    *chat.Service
	vfs     *vfs.Mounter
	catalog *catalog.Catalog
	limiter *ratelimit.Limiter
	metrics *metrics.Metrics
	hooks   *hooks.Manager

	startedAt   time.Time
	httpServer  *http.Server
	upgrader    websocket.Upgrader
	unsubscribe func()
}

// ServerOption configures the gateway server.
type ServerOption func(*Server)

// WithAuth sets the account service. Without it protected routes answer 503.
func WithAuth(a *auth.Service) ServerOption {
	return func(s *Server) { s.auth = a }
}

// WithChat sets the chat service and forwards its events to clients.
func WithChat(c *chat.Service) ServerOption {
	return func(s *Server) { s.chat = c }
}

// WithVFS sets the per-user VFS mounter.
func WithVFS(m *vfs.Mounter) ServerOption {
	return func(s *Server) { s.vfs = m }
}

// WithCatalog sets the catalog served under /api/domains and friends.
func WithCatalog(c *catalog.Catalog) ServerOption {
	return func(s *Server) { s.catalog = c }
}

// WithLimiter enables rate limits. The server runs its cleanup loop.
func WithLimiter(l *ratelimit.Limiter) ServerOption {
	return func(s *Server) { s.limiter = l }
}

// WithMetrics records request metrics and exposes them on the configured path.
func WithMetrics(m *metrics.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithHooks sets the hook manager for lifecycle events.
func WithHooks(hm *hooks.Manager) ServerOption {
	return func(s *Server) { s.hooks = hm }
}

// New creates a new gateway server.
func New(cfg config.Config, log *logging.Logger, opts ...ServerOption) *Server {
	s := &Server{
		cfg:      cfg,
		log:      log.Sub("gateway"),
		clients:  NewClientRegistry(log.Sub("clients")),
		handlers: make(map[string]RequestHandler),
		version:  version.Version,
		core:     agent.NewCore(log),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkWebSocketOrigin(cfg.Server.AllowedOrigins),
		},
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.chat != nil {
		s.unsubscribe = s.chat.Subscribe(s.forwardChatEvent)
	}
	s.hooks.On(hooks.EventUserLogout, "gateway.sessions", func(_ context.Context, p hooks.Payload) error {
		if n := s.clients.CloseSession(p.Str("tokenId")); n > 0 {
			s.log.Debug().Int("connections", n).Msg("closed connections of revoked session")
		}
		return nil
	})
	if s.metrics != nil {
		s.metrics.GaugeFunc("nous_ws_clients", "Connected WebSocket clients.", func() float64 {
			return float64(s.clients.Count())
		})
	}

	s.registerRPCHandlers()
	return s
}

// forwardChatEvent pushes chat events to the user's open connections.
func (s *Server) forwardChatEvent(ev chat.Event) {
	name := EventChatMessage
	if ev.Type == chat.EventTyping {
		name = EventChatTyping
	}
	s.clients.SendToUser(ev.UserID, name, ev, s.eventSeq.Add(1))
}

// checkWebSocketOrigin returns a function that validates WebSocket Origin headers.
// If no origins are configured, only same-origin (no Origin header) or non-browser
// clients are allowed. If origins are configured, the Origin must match one of them.
func checkWebSocketOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Same-origin or non-browser clients
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}

// Handle registers an RPC method handler.
func (s *Server) Handle(method string, handler RequestHandler) {
	s.handlers[method] = handler
}

// Methods returns the sorted registered RPC method names.
func (s *Server) Methods() []string {
	methods := make([]string, 0, len(s.handlers))
	for m := range s.handlers {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}

// resolveBindAddr computes the listen address from config.
func resolveBindAddr(cfg config.ServerConfig) string {
	switch cfg.Bind {
	case "loopback":
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	case "lan", "auto":
		return fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	case "custom":
		host := cfg.CustomBindHost
		if host == "" {
			host = "0.0.0.0"
		}
		return net.JoinHostPort(host, fmt.Sprint(cfg.Port))
	default:
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	}
}

// Handler returns the complete HTTP handler: routes plus middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerHTTPRoutes(mux)

	var h http.Handler = mux
	if s.metrics != nil {
		h = s.metrics.Middleware(h)
	}
	return withMiddleware(h, s.log, s.cfg.Server.AllowedOrigins, coreAgentPath)
}

// Start begins listening for HTTP and WebSocket connections.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	addr := resolveBindAddr(s.cfg.Server)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	if s.cfg.Server.TLS.Enabled {
		cert, err := tls.LoadX509KeyPair(s.cfg.Server.TLS.CertPath, s.cfg.Server.TLS.KeyPath)
		if err != nil {
			ln.Close()
			return fmt.Errorf("loading TLS certificate: %w", err)
		}
		ln = tls.NewListener(ln, &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		})
		s.log.Info().Msg("TLS enabled")
	} else if s.cfg.Server.Bind != "loopback" {
		s.log.Warn().Msg("TLS is not enabled, session tokens travel in cleartext")
	}

	return s.Serve(ctx, ln)
}

// Serve runs the server on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.startedAt = time.Now()

	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("bind", s.cfg.Server.Bind).
		Int("methods", len(s.handlers)).
		Msg("gateway server starting")

	s.hooks.Emit(ctx, hooks.EventGatewayStart, map[string]any{
		"addr": ln.Addr().String(),
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if s.limiter != nil {
		g.Go(func() error {
			s.limiter.Run(gctx, cleanupInterval)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		s.log.Info().Msg("shutting down gateway server")
		s.hooks.Emit(context.Background(), hooks.EventGatewayStop, nil)
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.clients.CloseAll()
		return s.httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Addr returns the server's listen address, or empty string if not started.
func (s *Server) Addr() string {
	if s.httpServer != nil {
		return s.httpServer.Addr
	}
	return ""
}

// handleWebSocket upgrades HTTP to WebSocket and runs the connection loop.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ip := ratelimit.ClientIP(r.RemoteAddr)
	if s.limiter != nil {
		if res := s.limiter.Peek(ratelimit.ScopeAuthFailures, ip); !res.Allowed {
			s.log.Warn().Str("remote", r.RemoteAddr).Msg("rate limited, too many failed auth attempts")
			writeRateLimited(w, res.RetryAfter, "too many failed sign-in attempts")
			return
		}
	}
	if s.auth == nil {
		writeError(w, http.StatusServiceUnavailable, "Service unavailable", "authentication is not configured")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn.SetReadLimit(maxPayload)

	s.log.Debug().Str("remote", r.RemoteAddr).Msg("new websocket connection")

	client, err := s.handshake(r.Context(), conn)
	if err != nil {
		s.log.Warn().Err(err).Msg("handshake failed")
		if s.limiter != nil {
			s.limiter.Record(ratelimit.ScopeAuthFailures, ip)
		}
		conn.Close()
		return
	}

	s.clients.Add(client)
	defer func() {
		s.clients.Remove(client.ConnID)
		client.Close()
	}()

	s.readLoop(r.Context(), client)
}

// handshake performs the WebSocket authentication handshake.
// Flow: server sends challenge → client sends connect with its session
// token → server verifies → sends hello-ok.
func (s *Server) handshake(ctx context.Context, conn *websocket.Conn) (*Client, error) {
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))

	nonce := uuid.New().String()
	challenge, err := NewEvent(EventConnectChallenge, map[string]any{
		"nonce": nonce,
		"ts":    time.Now().UnixMilli(),
	}, 0)
	if err != nil {
		return nil, fmt.Errorf("creating challenge: %w", err)
	}
	if err := conn.WriteJSON(challenge); err != nil {
		return nil, fmt.Errorf("sending challenge: %w", err)
	}

	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("reading connect: %w", err)
	}

	var frame Frame
	if err := json.Unmarshal(msg, &frame); err != nil {
		return nil, fmt.Errorf("parsing connect frame: %w", err)
	}

	if frame.Type != FrameTypeRequest || frame.Method != MethodConnect {
		sendErrorAndClose(conn, frame.ID, CodeProtocol, "expected connect request")
		return nil, fmt.Errorf("expected connect request, got type=%s method=%s", frame.Type, frame.Method)
	}

	var params ConnectParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		sendErrorAndClose(conn, frame.ID, CodeInvalidParams, "invalid connect params")
		return nil, fmt.Errorf("parsing connect params: %w", err)
	}

	if params.MaxProtocol != 0 && params.MaxProtocol < ProtocolVersion ||
		params.MinProtocol > ProtocolVersion {
		sendErrorAndClose(conn, frame.ID, CodeProtocol, "unsupported protocol version")
		return nil, fmt.Errorf("protocol mismatch: client %d-%d", params.MinProtocol, params.MaxProtocol)
	}

	if params.Auth == nil || params.Auth.Token == "" {
		sendErrorAndClose(conn, frame.ID, CodeUnauthorized, "no credentials provided")
		return nil, errors.New("auth failed: no token")
	}
	claims, err := s.auth.Verify(ctx, params.Auth.Token)
	if err != nil {
		sendErrorAndClose(conn, frame.ID, CodeUnauthorized, "invalid session token")
		return nil, fmt.Errorf("auth failed: %w", err)
	}

	conn.SetReadDeadline(time.Time{})

	client := NewClient(conn, params.Client, claims, s.log.Sub("ws"))

	hello := HelloOK{
		Protocol: ProtocolVersion,
		Server: ServerInfo{
			Version: s.version,
			Commit:  version.Commit,
			ConnID:  client.ConnID,
		},
		User: HelloUser{ID: claims.UserID, Email: claims.Email, Name: claims.Name},
		Features: Features{
			Methods: s.Methods(),
			Events:  []string{EventConnectChallenge, EventChatTyping, EventChatMessage},
		},
		Policy: ServerPolicy{
			MaxPayload:       maxPayload,
			MaxBufferedBytes: 16 * 1024 * 1024,
			TickIntervalMs:   30000,
		},
	}

	resp, err := NewResponse(frame.ID, hello)
	if err != nil {
		return nil, fmt.Errorf("creating hello response: %w", err)
	}
	if err := conn.WriteJSON(resp); err != nil {
		return nil, fmt.Errorf("sending hello: %w", err)
	}

	s.log.Info().
		Str("connId", client.ConnID).
		Str("user", claims.UserID).
		Str("clientId", params.Client.ID).
		Str("clientVersion", params.Client.Version).
		Msg("client authenticated")

	return client, nil
}

// readLoop processes incoming frames from an authenticated client.
func (s *Server) readLoop(ctx context.Context, client *Client) {
	for {
		frame, err := client.ReadFrame()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Str("connId", client.ConnID).Msg("client closed connection")
			} else {
				s.log.Debug().Err(err).Str("connId", client.ConnID).Msg("read error")
			}
			return
		}

		if frame.Type != FrameTypeRequest {
			s.log.Debug().Str("type", frame.Type).Msg("ignoring non-request frame")
			continue
		}

		s.dispatch(ctx, client, frame)
	}
}

// dispatch routes a request frame to the appropriate handler.
func (s *Server) dispatch(ctx context.Context, client *Client, frame Frame) {
	handler, ok := s.handlers[frame.Method]
	if !ok {
		client.RespondError(frame.ID, ErrorShape{
			Code:    CodeMethodNotFound,
			Message: "unknown method: " + frame.Method,
		})
		return
	}

	if exp := client.Claims.ExpiresAt; !exp.IsZero() && time.Now().After(exp) {
		client.RespondError(frame.ID, ErrorShape{Code: CodeUnauthorized, Message: "session expired"})
		return
	}

	rc := &RequestContext{
		Ctx:    ctx,
		Client: client,
		Frame:  frame,
		Server: s,
	}
	if s.rateLimited(rc) {
		return
	}
	handler(rc)
}

// sendErrorAndClose sends an error response and closes the connection.
func sendErrorAndClose(conn *websocket.Conn, reqID, code, message string) {
	errFrame := NewErrorResponse(reqID, ErrorShape{
		Code:    code,
		Message: message,
	})
	conn.WriteJSON(errFrame)
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, message))
}
