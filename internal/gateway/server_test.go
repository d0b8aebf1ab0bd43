package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

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
	"github.com/nousos/nous/internal/store"
	"github.com/nousos/nous/internal/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testSecret = "0123456789abcdef0123456789abcdef"

func testLog() *logging.Logger {
	return logging.New(nil, "silent")
}

type testEnv struct {
	srv   *Server
	ts    *httptest.Server
	hooks *hooks.Manager
}

type envConfig struct {
	cfg     config.Config
	limiter *ratelimit.Limiter
	metrics *metrics.Metrics
}

type envOption func(*envConfig)

func withLimits(l config.LimitsConfig) envOption {
	return func(ec *envConfig) {
		ec.cfg.Limits = l
		ec.limiter = ratelimit.New(ratelimit.RulesFromConfig(l))
	}
}

func withMetrics() envOption {
	return func(ec *envConfig) {
		ec.cfg.Metrics.Enabled = true
		ec.metrics = metrics.New()
	}
}

// newTestEnv wires a gateway over an in-memory database the way the
// serve command does.
func newTestEnv(t *testing.T, extra ...envOption) *testEnv {
	t.Helper()
	log := testLog()
	ec := envConfig{cfg: config.Defaults()}
	for _, o := range extra {
		o(&ec)
	}

	db, err := store.Open(":memory:", log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	hm := hooks.NewManager(log)
	signer, err := auth.NewSigner(testSecret, "nous", time.Hour)
	require.NoError(t, err)
	authSvc, err := auth.NewService(auth.ModeLocal, store.NewUserStore(db), store.NewTokenStore(db), signer, hm, log)
	require.NoError(t, err)

	cat, err := catalog.Default()
	require.NoError(t, err)

	chatSvc := chat.New(store.NewChatStore(db),
		agent.NewCannedResponderWithPicker(func(int) int { return 0 }),
		chat.Options{Limiter: ec.limiter, Hooks: hm}, log)

	opts := []ServerOption{
		WithAuth(authSvc),
		WithCatalog(cat),
		WithHooks(hm),
		WithChat(chatSvc),
		WithVFS(vfs.NewDocumentMounter(store.NewDocStore(db), vfs.Options{Hooks: hm, Log: log})),
	}
	if ec.limiter != nil {
		opts = append(opts, WithLimiter(ec.limiter))
	}
	if ec.metrics != nil {
		opts = append(opts, WithMetrics(ec.metrics))
	}

	srv := New(ec.cfg, log, opts...)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.unsubscribe()
	})
	return &testEnv{srv: srv, ts: ts, hooks: hm}
}

// do sends a JSON request and returns the response with its body read.
func (e *testEnv) do(t *testing.T, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (e *testEnv) signup(t *testing.T, email string) *auth.Session {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"name": "Ada", "email": email, "password": "correct horse",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var sess auth.Session
	require.NoError(t, json.Unmarshal(body, &sess))
	return &sess
}

func (e *testEnv) wsURL() string {
	return "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/ws"
}

// dial performs the handshake and returns the open connection and the
// hello payload.
func (e *testEnv) dial(t *testing.T, token string) (*websocket.Conn, HelloOK) {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(e.wsURL(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var challenge Frame
	require.NoError(t, conn.ReadJSON(&challenge))
	require.Equal(t, EventConnectChallenge, challenge.Event)

	req, err := NewRequest("c1", MethodConnect, ConnectParams{
		MinProtocol: ProtocolVersion,
		MaxProtocol: ProtocolVersion,
		Client:      ClientInfo{ID: "test", Version: "1.0.0", Platform: "linux"},
		Auth:        &ConnectAuth{Token: token},
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(req))

	var res Frame
	require.NoError(t, conn.ReadJSON(&res))
	require.NotNil(t, res.OK)
	require.True(t, *res.OK, "handshake rejected: %+v", res.Error)

	var hello HelloOK
	require.NoError(t, json.Unmarshal(res.Payload, &hello))
	return conn, hello
}

// call sends an RPC and returns the matching response, skipping events.
func call(t *testing.T, conn *websocket.Conn, id, method string, params any) Frame {
	t.Helper()
	req, err := NewRequest(id, method, params)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(req))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	defer conn.SetReadDeadline(time.Time{})
	for {
		var f Frame
		require.NoError(t, conn.ReadJSON(&f))
		if f.Type == FrameTypeResponse && f.ID == id {
			return f
		}
	}
}

func TestWebSocketHandshake(t *testing.T) {
	env := newTestEnv(t)
	sess := env.signup(t, "ada@example.com")

	_, hello := env.dial(t, sess.Token)
	assert.Equal(t, ProtocolVersion, hello.Protocol)
	assert.NotEmpty(t, hello.Server.ConnID)
	assert.Equal(t, sess.User.ID, hello.User.ID)
	assert.Equal(t, "ada@example.com", hello.User.Email)
	assert.Contains(t, hello.Features.Methods, MethodChatSend)
	assert.Contains(t, hello.Features.Methods, MethodVFSRead)
	assert.Greater(t, hello.Policy.MaxPayload, 0)

	assert.Eventually(t, func() bool { return env.srv.clients.Count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestWebSocketHandshake_BadToken(t *testing.T) {
	env := newTestEnv(t)

	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL(), nil)
	require.NoError(t, err)
	defer conn.Close()

	var challenge Frame
	require.NoError(t, conn.ReadJSON(&challenge))

	req, err := NewRequest("c1", MethodConnect, ConnectParams{
		MinProtocol: 1, MaxProtocol: 1,
		Auth: &ConnectAuth{Token: "not-a-token"},
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(req))

	var res Frame
	require.NoError(t, conn.ReadJSON(&res))
	require.NotNil(t, res.OK)
	assert.False(t, *res.OK)
	require.NotNil(t, res.Error)
	assert.Equal(t, CodeUnauthorized, res.Error.Code)
}

func TestWebSocketHandshake_WrongFirstFrame(t *testing.T) {
	env := newTestEnv(t)

	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL(), nil)
	require.NoError(t, err)
	defer conn.Close()

	var challenge Frame
	require.NoError(t, conn.ReadJSON(&challenge))

	req, err := NewRequest("x", MethodHealth, nil)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(req))

	var res Frame
	require.NoError(t, conn.ReadJSON(&res))
	require.NotNil(t, res.Error)
	assert.Equal(t, CodeProtocol, res.Error.Code)
}

func TestWebSocketHandshake_AuthFailuresLimited(t *testing.T) {
	env := newTestEnv(t, withLimits(config.LimitsConfig{}))
	for i := 0; i < 10; i++ {
		env.srv.limiter.Record(ratelimit.ScopeAuthFailures, "127.0.0.1")
	}

	_, resp, err := websocket.DefaultDialer.Dial(env.wsURL(), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
}

func TestWebSocketRPC_Health(t *testing.T) {
	env := newTestEnv(t)
	conn, _ := env.dial(t, env.signup(t, "ada@example.com").Token)

	res := call(t, conn, "h1", MethodHealth, nil)
	require.True(t, *res.OK)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(res.Payload, &payload))
	assert.Equal(t, "ok", payload["status"])
	assert.EqualValues(t, 1, payload["clients"])
}

func TestWebSocketRPC_UnknownMethod(t *testing.T) {
	env := newTestEnv(t)
	conn, _ := env.dial(t, env.signup(t, "ada@example.com").Token)

	res := call(t, conn, "u1", "config.get", nil)
	require.NotNil(t, res.Error)
	assert.Equal(t, CodeMethodNotFound, res.Error.Code)
}

func TestWebSocketRPC_ChatSendPushesEvents(t *testing.T) {
	env := newTestEnv(t)
	conn, _ := env.dial(t, env.signup(t, "ada@example.com").Token)

	req, err := NewRequest("s1", MethodChatSend, map[string]any{"content": "hello"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(req))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var events []string
	var res Frame
	for res.ID != "s1" {
		var f Frame
		require.NoError(t, conn.ReadJSON(&f))
		switch f.Type {
		case FrameTypeEvent:
			events = append(events, f.Event)
		case FrameTypeResponse:
			res = f
		}
	}
	require.True(t, *res.OK)

	var ex chat.Exchange
	require.NoError(t, json.Unmarshal(res.Payload, &ex))
	assert.Equal(t, "hello", ex.Message.Content)
	assert.Equal(t, "I can help you with that! Let me find the information.", ex.Reply.Content)

	// user message, typing on, reply; typing off may arrive after the response
	require.GreaterOrEqual(t, len(events), 3)
	assert.Equal(t, []string{EventChatMessage, EventChatTyping, EventChatMessage}, events[:3])
}

func TestWebSocketRPC_ChatEmptyMessage(t *testing.T) {
	env := newTestEnv(t)
	conn, _ := env.dial(t, env.signup(t, "ada@example.com").Token)

	res := call(t, conn, "e1", MethodChatSend, map[string]any{"content": "   "})
	require.NotNil(t, res.Error)
	assert.Equal(t, CodeInvalidParams, res.Error.Code)
}

func TestWebSocketRPC_ChatHistoryAndContext(t *testing.T) {
	env := newTestEnv(t)
	conn, _ := env.dial(t, env.signup(t, "ada@example.com").Token)

	res := call(t, conn, "x1", MethodChatContext, map[string]any{"context": "/financial/"})
	require.True(t, *res.OK)
	var c map[string]string
	require.NoError(t, json.Unmarshal(res.Payload, &c))
	assert.Equal(t, "financial", c["context"])

	res = call(t, conn, "x2", MethodChatHistory, nil)
	require.True(t, *res.OK)
	var history struct {
		Messages []map[string]any `json:"messages"`
		Context  string           `json:"context"`
	}
	require.NoError(t, json.Unmarshal(res.Payload, &history))
	assert.Len(t, history.Messages, 1, "greeting is seeded")
	assert.Equal(t, "financial", history.Context)

	res = call(t, conn, "x3", MethodChatClear, nil)
	require.True(t, *res.OK)
}

func TestWebSocketRPC_VFS(t *testing.T) {
	env := newTestEnv(t)
	conn, _ := env.dial(t, env.signup(t, "ada@example.com").Token)

	res := call(t, conn, "v1", MethodVFSWrite, map[string]any{
		"path": "identity:persona",
		"data": map[string]any{"name": "Nous", "tone": map[string]any{"formality": 3}},
	})
	require.True(t, *res.OK, "%+v", res.Error)

	res = call(t, conn, "v2", MethodVFSRead, map[string]any{"path": "identity:persona.tone.formality"})
	require.True(t, *res.OK, "%+v", res.Error)
	var read map[string]any
	require.NoError(t, json.Unmarshal(res.Payload, &read))
	assert.EqualValues(t, 3, read["value"])

	res = call(t, conn, "v3", MethodVFSList, map[string]any{"path": "identity"})
	require.True(t, *res.OK)
	var list struct {
		IDs []string `json:"ids"`
	}
	require.NoError(t, json.Unmarshal(res.Payload, &list))
	assert.Equal(t, []string{"persona"}, list.IDs)

	res = call(t, conn, "v4", MethodVFSDelete, map[string]any{"path": "identity:persona"})
	require.True(t, *res.OK)

	res = call(t, conn, "v5", MethodVFSExists, map[string]any{"path": "identity:persona"})
	require.True(t, *res.OK)
	var exists map[string]any
	require.NoError(t, json.Unmarshal(res.Payload, &exists))
	assert.Equal(t, false, exists["exists"])

	res = call(t, conn, "v6", MethodVFSRead, map[string]any{"path": "identity:persona"})
	require.NotNil(t, res.Error)
	assert.Equal(t, CodeNotFound, res.Error.Code)

	res = call(t, conn, "v7", MethodVFSRead, map[string]any{})
	require.NotNil(t, res.Error)
	assert.Equal(t, CodeInvalidParams, res.Error.Code)
}

func TestWebSocketRPC_VFSNullFieldWrite(t *testing.T) {
	env := newTestEnv(t)
	conn, _ := env.dial(t, env.signup(t, "ada@example.com").Token)

	res := call(t, conn, "v1", MethodVFSWrite, map[string]any{
		"path": "identity:persona",
		"data": map[string]any{"name": "Nous", "tone": "warm"},
	})
	require.True(t, *res.OK, "%+v", res.Error)

	res = call(t, conn, "v2", MethodVFSWrite, map[string]any{"path": "identity:persona.tone", "data": nil})
	require.True(t, *res.OK, "%+v", res.Error)

	res = call(t, conn, "v3", MethodVFSRead, map[string]any{"path": "identity:persona"})
	require.True(t, *res.OK, "%+v", res.Error)
	var read map[string]any
	require.NoError(t, json.Unmarshal(res.Payload, &read))
	assert.Equal(t, map[string]any{"name": "Nous", "tone": nil}, read["value"])

	// a whole document still has to be an object
	res = call(t, conn, "v4", MethodVFSWrite, map[string]any{"path": "identity:persona", "data": nil})
	require.NotNil(t, res.Error)
	assert.Equal(t, CodeInvalidParams, res.Error.Code)

	res = call(t, conn, "v5", MethodVFSList, map[string]any{"path": "logs"})
	require.True(t, *res.OK)
	assert.Contains(t, string(res.Payload), `"ids":[]`)
}

func TestWebSocketRPC_APILimit(t *testing.T) {
	env := newTestEnv(t, withLimits(config.LimitsConfig{APIPerMinute: 1}))
	conn, _ := env.dial(t, env.signup(t, "ada@example.com").Token)

	res := call(t, conn, "a1", MethodChatHistory, nil)
	require.True(t, *res.OK)

	res = call(t, conn, "a2", MethodChatHistory, nil)
	require.NotNil(t, res.Error)
	assert.Equal(t, CodeRateLimited, res.Error.Code)
	assert.True(t, res.Error.Retryable)
	assert.Greater(t, res.Error.RetryAfter, 0)

	// health is never limited
	res = call(t, conn, "a3", MethodHealth, nil)
	assert.True(t, *res.OK)
}

func TestLogoutClosesSocket(t *testing.T) {
	env := newTestEnv(t)
	sess := env.signup(t, "ada@example.com")
	conn, _ := env.dial(t, sess.Token)
	require.Eventually(t, func() bool { return env.srv.clients.Count() == 1 }, time.Second, 10*time.Millisecond)

	resp, _ := env.do(t, http.MethodPost, "/api/auth/logout", sess.Token, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	assert.Eventually(t, func() bool { return env.srv.clients.Count() == 0 }, time.Second, 10*time.Millisecond)
}

func TestServe_Shutdown(t *testing.T) {
	log := testLog()
	hm := hooks.NewManager(log)
	var events []string
	hm.On(hooks.AnyEvent, "test", func(_ context.Context, p hooks.Payload) error {
		events = append(events, p.Event)
		return nil
	})

	srv := New(config.Defaults(), log, WithHooks(hm), WithLimiter(ratelimit.New(nil)))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
	http.DefaultClient.CloseIdleConnections()
	assert.Equal(t, []string{hooks.EventGatewayStart, hooks.EventGatewayStop}, events)
}

func TestResolveBindAddr(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.ServerConfig
		want string
	}{
		{"loopback", config.ServerConfig{Bind: "loopback", Port: 8080}, "127.0.0.1:8080"},
		{"lan", config.ServerConfig{Bind: "lan", Port: 9000}, "0.0.0.0:9000"},
		{"auto", config.ServerConfig{Bind: "auto", Port: 3000}, "0.0.0.0:3000"},
		{"custom", config.ServerConfig{Bind: "custom", CustomBindHost: "10.0.0.5", Port: 80}, "10.0.0.5:80"},
		{"custom without host", config.ServerConfig{Bind: "custom", Port: 80}, "0.0.0.0:80"},
		{"custom ipv6", config.ServerConfig{Bind: "custom", CustomBindHost: "::1", Port: 80}, "[::1]:80"},
		{"unknown", config.ServerConfig{Bind: "", Port: 1234}, "127.0.0.1:1234"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resolveBindAddr(tt.cfg))
		})
	}
}

func TestCheckWebSocketOrigin(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, checkWebSocketOrigin(nil)(r), "no Origin header")

	r.Header.Set("Origin", "https://evil.example")
	assert.False(t, checkWebSocketOrigin(nil)(r))
	assert.False(t, checkWebSocketOrigin([]string{"https://app.example"})(r))
	assert.True(t, checkWebSocketOrigin([]string{"*"})(r))

	r.Header.Set("Origin", "https://app.example")
	assert.True(t, checkWebSocketOrigin([]string{"https://app.example"})(r))
}
