package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nousos/nous/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// socketPair returns the server side and the client side of one
// WebSocket connection.
func socketPair(t *testing.T) (*websocket.Conn, *websocket.Conn) {
	t.Helper()
	serverSide := make(chan *websocket.Conn, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverSide <- conn
	}))
	t.Cleanup(ts.Close)

	peer, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { peer.Close() })

	select {
	case conn := <-serverSide:
		t.Cleanup(func() { conn.Close() })
		return conn, peer
	case <-time.After(5 * time.Second):
		t.Fatal("upgrade did not complete")
		return nil, nil
	}
}

func testClient(t *testing.T, userID, tokenID string) (*Client, *websocket.Conn) {
	t.Helper()
	conn, peer := socketPair(t)
	c := NewClient(conn, ClientInfo{ID: "test"}, auth.Claims{UserID: userID, TokenID: tokenID}, testLog())
	return c, peer
}

func TestClientRegistry_AddGetRemove(t *testing.T) {
	r := NewClientRegistry(testLog())
	c, _ := testClient(t, "u1", "t1")

	r.Add(c)
	assert.Equal(t, 1, r.Count())
	got, ok := r.Get(c.ConnID)
	require.True(t, ok)
	assert.Same(t, c, got)
	assert.Equal(t, "u1", got.UserID())

	r.Remove(c.ConnID)
	assert.Equal(t, 0, r.Count())
	_, ok = r.Get(c.ConnID)
	assert.False(t, ok)

	r.Remove("nonexistent")
	assert.Equal(t, 0, r.Count())
}

func TestClientRegistry_SendToUser(t *testing.T) {
	r := NewClientRegistry(testLog())
	ada1, peer1 := testClient(t, "ada", "t1")
	ada2, peer2 := testClient(t, "ada", "t2")
	bob, peer3 := testClient(t, "bob", "t3")
	r.Add(ada1)
	r.Add(ada2)
	r.Add(bob)
	assert.Equal(t, 3, r.Count())
	assert.Equal(t, 2, r.Users())

	r.SendToUser("ada", EventChatTyping, map[string]bool{"typing": true}, 7)

	for _, peer := range []*websocket.Conn{peer1, peer2} {
		peer.SetReadDeadline(time.Now().Add(5 * time.Second))
		var f Frame
		require.NoError(t, peer.ReadJSON(&f))
		assert.Equal(t, EventChatTyping, f.Event)
		assert.Equal(t, int64(7), f.Seq)
		assert.JSONEq(t, `{"typing":true}`, string(f.Payload))
	}

	peer3.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err := peer3.ReadMessage()
	assert.Error(t, err, "bob receives nothing")
}

func TestClientRegistry_CloseSession(t *testing.T) {
	r := NewClientRegistry(testLog())
	a, peer := testClient(t, "ada", "t1")
	b, _ := testClient(t, "ada", "t2")
	r.Add(a)
	r.Add(b)

	assert.Equal(t, 0, r.CloseSession(""))
	assert.Equal(t, 1, r.CloseSession("t1"))
	assert.Equal(t, 1, r.Count())
	assert.Equal(t, 1, r.Users())
	_, ok := r.Get(b.ConnID)
	assert.True(t, ok)

	assert.ErrorIs(t, a.SendEvent(EventChatMessage, nil, 1), ErrClientClosed)
	peer.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := peer.ReadMessage()
	assert.Error(t, err)
}

func TestClientRegistry_CloseAll(t *testing.T) {
	r := NewClientRegistry(testLog())
	a, _ := testClient(t, "ada", "t1")
	b, _ := testClient(t, "bob", "t2")
	r.Add(a)
	r.Add(b)

	r.CloseAll()
	assert.Equal(t, 0, r.Count())
	assert.Equal(t, 0, r.Users())
	assert.NoError(t, a.Close(), "closing twice is fine")
}

func TestClient_RespondAndReadFrame(t *testing.T) {
	c, peer := testClient(t, "ada", "t1")

	require.NoError(t, c.Respond("r1", map[string]int{"n": 1}))
	var f Frame
	require.NoError(t, peer.ReadJSON(&f))
	assert.Equal(t, FrameTypeResponse, f.Type)
	assert.Equal(t, "r1", f.ID)
	require.NotNil(t, f.OK)
	assert.True(t, *f.OK)

	require.NoError(t, c.RespondError("r2", ErrorShape{Code: CodeNotFound, Message: "gone"}))
	require.NoError(t, peer.ReadJSON(&f))
	assert.False(t, *f.OK)
	assert.Equal(t, CodeNotFound, f.Error.Code)

	req, err := NewRequest("q1", MethodHealth, nil)
	require.NoError(t, err)
	require.NoError(t, peer.WriteJSON(req))
	got, err := c.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, MethodHealth, got.Method)

	require.NoError(t, peer.WriteMessage(websocket.TextMessage, []byte("{not json")))
	_, err = c.ReadFrame()
	var syntax *json.SyntaxError
	assert.ErrorAs(t, err, &syntax)
}
