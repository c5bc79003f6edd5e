package eventsub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func frame(id, typ string, ts time.Time, payload any) []byte {
	md := map[string]string{
		"message_id":        id,
		"message_type":      typ,
		"message_timestamp": ts.Format(time.RFC3339Nano),
	}
	b, _ := json.Marshal(map[string]any{"metadata": md, "payload": payload})
	return b
}

func welcomeFrame(id, session string, ts time.Time) []byte {
	return frame(id, MessageWelcome, ts, map[string]any{
		"session": map[string]any{"id": session, "status": "connected", "keepalive_timeout_seconds": 10},
	})
}

func notificationFrame(id, subType string, ts time.Time, event any) []byte {
	b, _ := json.Marshal(map[string]any{
		"metadata": map[string]string{
			"message_id":           id,
			"message_type":         MessageNotification,
			"message_timestamp":    ts.Format(time.RFC3339Nano),
			"subscription_type":    subType,
			"subscription_version": "1",
		},
		"payload": map[string]any{
			"subscription": map[string]any{"id": "sub-" + id, "type": subType, "condition": map[string]string{"broadcaster_user_id": "1"}},
			"event":        event,
		},
	})
	return b
}

// newServer starts a websocket server running handler for every connection
// and returns its ws:// URL.
func newServer(t *testing.T, handler func(ws *websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer ws.Close()
		handler(ws)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// drain reads until the client goes away.
func drain(ws *websocket.Conn) {
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func nextEvent(t *testing.T, c *Conn) Event {
	t.Helper()
	select {
	case ev := <-c.Events():
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func newConn(url string) *Conn {
	c := New(url)
	c.Clock = clockwork.NewFakeClockAt(baseTime)
	return c
}

func connectWelcomed(t *testing.T, c *Conn) {
	t.Helper()
	require.NoError(t, c.Connect(context.Background()))
	require.IsType(t, Connected{}, nextEvent(t, c))
	require.IsType(t, Welcome{}, nextEvent(t, c))
}

func TestConnectWelcome(t *testing.T) {
	url := newServer(t, func(ws *websocket.Conn) {
		_ = ws.WriteMessage(websocket.TextMessage, welcomeFrame("m1", "sess-1", baseTime))
		drain(ws)
	})
	c := newConn(url)
	assert.Equal(t, StateDisconnected, c.State())

	require.NoError(t, c.Connect(context.Background()))
	assert.IsType(t, Connected{}, nextEvent(t, c))
	ev := nextEvent(t, c)
	welcome, ok := ev.(Welcome)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, "sess-1", welcome.SessionID)
	assert.Equal(t, 10*time.Second, welcome.KeepAlive)
	assert.Equal(t, StateWelcomed, c.State())
	assert.Equal(t, "sess-1", c.SessionID())

	err := c.Connect(context.Background())
	assert.True(t, errors.Is(err, ErrInvalidState), "err = %v", err)

	c.Disconnect()
	ev = nextEvent(t, c)
	dis, ok := ev.(Disconnected)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, websocket.CloseNormalClosure, dis.Code)
	assert.True(t, dis.WasClean)
	assert.Equal(t, StateClosed, c.State())
	assert.Empty(t, c.SessionID())
}

func TestStaleAndDuplicateMessagesDropped(t *testing.T) {
	chat := map[string]string{"broadcaster_user_id": "1", "message_id": "x"}
	url := newServer(t, func(ws *websocket.Conn) {
		_ = ws.WriteMessage(websocket.TextMessage, welcomeFrame("m1", "sess-1", baseTime))
		_ = ws.WriteMessage(websocket.TextMessage, notificationFrame("n1", TypeChatMessage, baseTime, chat))
		// redelivery of n1
		_ = ws.WriteMessage(websocket.TextMessage, notificationFrame("n1", TypeChatMessage, baseTime, chat))
		// 601 seconds old
		_ = ws.WriteMessage(websocket.TextMessage, notificationFrame("n2", TypeChatMessage, baseTime.Add(-601*time.Second), chat))
		// exactly at the threshold is still accepted
		_ = ws.WriteMessage(websocket.TextMessage, notificationFrame("n3", TypeChatClear, baseTime.Add(-600*time.Second), chat))
		drain(ws)
	})
	c := newConn(url)
	connectWelcomed(t, c)
	defer c.Disconnect()

	ev := nextEvent(t, c)
	n, ok := ev.(Notification)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, "n1", n.MessageID)
	assert.Equal(t, TypeChatMessage, n.Type)
	assert.Equal(t, "1", n.Condition["broadcaster_user_id"])
	var decoded ChatMessageEvent
	require.NoError(t, n.Decode(&decoded))
	assert.Equal(t, "x", decoded.MessageID)

	ev = nextEvent(t, c)
	n, ok = ev.(Notification)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, "n3", n.MessageID, "duplicate and stale messages must be skipped")
}

func TestRevocationEvent(t *testing.T) {
	url := newServer(t, func(ws *websocket.Conn) {
		_ = ws.WriteMessage(websocket.TextMessage, welcomeFrame("m1", "sess-1", baseTime))
		_ = ws.WriteMessage(websocket.TextMessage, frame("r1", MessageRevocation, baseTime, map[string]any{
			"subscription": map[string]any{
				"id": "sub-9", "status": "authorization_revoked", "type": TypeChatMessage,
				"condition": map[string]string{"broadcaster_user_id": "42", "user_id": "99"},
			},
		}))
		drain(ws)
	})
	c := newConn(url)
	connectWelcomed(t, c)
	defer c.Disconnect()

	ev := nextEvent(t, c)
	rev, ok := ev.(Revocation)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, Revocation{
		Type: TypeChatMessage, ID: "sub-9", Status: "authorization_revoked",
		Condition: map[string]string{"broadcaster_user_id": "42", "user_id": "99"},
	}, rev)
}

func TestAbnormalCloseEmitsErrorThenDisconnected(t *testing.T) {
	url := newServer(t, func(ws *websocket.Conn) {
		_ = ws.WriteMessage(websocket.TextMessage, welcomeFrame("m1", "sess-1", baseTime))
		// drop the TCP connection without a close frame
		_ = ws.UnderlyingConn().Close()
	})
	c := newConn(url)
	connectWelcomed(t, c)

	assert.IsType(t, Error{}, nextEvent(t, c))
	ev := nextEvent(t, c)
	dis, ok := ev.(Disconnected)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, websocket.CloseAbnormalClosure, dis.Code)
	assert.False(t, dis.WasClean)
	assert.Equal(t, StateClosed, c.State())

	// a closed connection may be opened again
	require.NoError(t, c.Connect(context.Background()))
	c.Disconnect()
}

func TestServerCloseFrameIsClean(t *testing.T) {
	url := newServer(t, func(ws *websocket.Conn) {
		_ = ws.WriteMessage(websocket.TextMessage, welcomeFrame("m1", "sess-1", baseTime))
		_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(4003, "connection unused"))
		drain(ws)
	})
	c := newConn(url)
	connectWelcomed(t, c)

	ev := nextEvent(t, c)
	dis, ok := ev.(Disconnected)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, 4003, dis.Code)
	assert.True(t, dis.WasClean)
	assert.Equal(t, "connection unused", dis.Reason)
}

func TestReconnectHandoff(t *testing.T) {
	oldClosed := make(chan struct{})
	newURL := newServer(t, func(ws *websocket.Conn) {
		_ = ws.WriteMessage(websocket.TextMessage, welcomeFrame("m10", "sess-1", baseTime))
		_ = ws.WriteMessage(websocket.TextMessage, notificationFrame("n10", TypeChatClear, baseTime, map[string]string{}))
		drain(ws)
	})
	oldURL := newServer(t, func(ws *websocket.Conn) {
		_ = ws.WriteMessage(websocket.TextMessage, welcomeFrame("m1", "sess-1", baseTime))
		_ = ws.WriteMessage(websocket.TextMessage, frame("m2", MessageReconnect, baseTime, map[string]any{
			"session": map[string]any{"id": "sess-1", "status": "reconnecting", "reconnect_url": newURL},
		}))
		drain(ws)
		close(oldClosed)
	})
	c := newConn(oldURL)
	connectWelcomed(t, c)
	defer c.Disconnect()

	ev := nextEvent(t, c)
	n, ok := ev.(Notification)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, "n10", n.MessageID)
	assert.Equal(t, StateWelcomed, c.State())
	assert.Equal(t, "sess-1", c.SessionID())

	select {
	case <-oldClosed:
	case <-time.After(3 * time.Second):
		t.Fatal("old socket was not closed after handoff")
	}
	select {
	case ev := <-c.Events():
		t.Fatalf("unexpected event after handoff: %T %+v", ev, ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestReconnectSessionMismatchDisconnects(t *testing.T) {
	newURL := newServer(t, func(ws *websocket.Conn) {
		_ = ws.WriteMessage(websocket.TextMessage, welcomeFrame("m10", "sess-2", baseTime))
		drain(ws)
	})
	oldURL := newServer(t, func(ws *websocket.Conn) {
		_ = ws.WriteMessage(websocket.TextMessage, welcomeFrame("m1", "sess-1", baseTime))
		_ = ws.WriteMessage(websocket.TextMessage, frame("m2", MessageReconnect, baseTime, map[string]any{
			"session": map[string]any{"id": "sess-1", "reconnect_url": newURL},
		}))
		drain(ws)
	})
	c := newConn(oldURL)
	connectWelcomed(t, c)

	assert.IsType(t, Error{}, nextEvent(t, c))
	ev := nextEvent(t, c)
	dis, ok := ev.(Disconnected)
	require.True(t, ok, "got %T", ev)
	assert.False(t, dis.WasClean)
	assert.Equal(t, "reconnect session mismatch", dis.Reason)
	assert.Equal(t, StateClosed, c.State())
}

func TestReconnectUnexpectedFirstMessageDisconnects(t *testing.T) {
	newURL := newServer(t, func(ws *websocket.Conn) {
		_ = ws.WriteMessage(websocket.TextMessage, frame("k1", MessageKeepalive, baseTime, map[string]any{}))
		drain(ws)
	})
	oldURL := newServer(t, func(ws *websocket.Conn) {
		_ = ws.WriteMessage(websocket.TextMessage, welcomeFrame("m1", "sess-1", baseTime))
		_ = ws.WriteMessage(websocket.TextMessage, frame("m2", MessageReconnect, baseTime, map[string]any{
			"session": map[string]any{"id": "sess-1", "reconnect_url": newURL},
		}))
		drain(ws)
	})
	c := newConn(oldURL)
	connectWelcomed(t, c)

	assert.IsType(t, Error{}, nextEvent(t, c))
	ev := nextEvent(t, c)
	dis, ok := ev.(Disconnected)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, "unexpected first message on reconnect socket", dis.Reason)
}

func TestConnectDialFailure(t *testing.T) {
	c := newConn("ws://127.0.0.1:1/ws")
	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateClosed, c.State())
}

func TestContextCancelDisconnects(t *testing.T) {
	url := newServer(t, func(ws *websocket.Conn) {
		_ = ws.WriteMessage(websocket.TextMessage, welcomeFrame("m1", "sess-1", baseTime))
		drain(ws)
	})
	c := newConn(url)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Connect(ctx))
	require.IsType(t, Connected{}, nextEvent(t, c))
	require.IsType(t, Welcome{}, nextEvent(t, c))
	cancel()

	ev := nextEvent(t, c)
	require.IsType(t, Disconnected{}, ev)
	assert.Equal(t, websocket.CloseNormalClosure, ev.(Disconnected).Code)
	assert.True(t, ev.(Disconnected).WasClean)
	assert.Equal(t, StateClosed, c.State())
}

func TestContextCancelAlwaysDeliversDisconnected(t *testing.T) {
	url := newServer(t, func(ws *websocket.Conn) {
		_ = ws.WriteMessage(websocket.TextMessage, welcomeFrame("m1", "sess-1", baseTime))
		drain(ws)
	})
	for i := 0; i < 20; i++ {
		c := newConn(url)
		ctx, cancel := context.WithCancel(context.Background())
		require.NoError(t, c.Connect(ctx))
		require.IsType(t, Connected{}, nextEvent(t, c))
		require.IsType(t, Welcome{}, nextEvent(t, c))
		cancel()
		require.IsType(t, Disconnected{}, nextEvent(t, c), "session %d", i)
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "welcomed", StateWelcomed.String())
	assert.True(t, StateReconnecting.Established())
	assert.False(t, StateConnecting.Established())
	assert.True(t, StateConnecting.Active())
	assert.False(t, StateClosed.Active())
}
