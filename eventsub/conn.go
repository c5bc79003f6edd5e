// Package eventsub maintains the Twitch EventSub websocket session: connect,
// welcome, keepalive, the reconnect handoff and revocations. Everything the
// connection observes is published, in order, on a single Events channel.
package eventsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jellydator/ttlcache/v3"
	"github.com/jonboulle/clockwork"

	"github.com/onnwee/chatweave/telemetry"
)

// DefaultURL is the production EventSub websocket endpoint.
const DefaultURL = "wss://eventsub.wss.twitch.tv/ws?keepalive_timeout_seconds=30"

// DefaultMaxAge is the staleness threshold; older messages are dropped.
const DefaultMaxAge = 600 * time.Second

const (
	eventBuffer    = 256
	welcomeTimeout = 30 * time.Second
	writeTimeout   = 5 * time.Second
)

var (
	// ErrInvalidState is returned by Connect while a connection is active.
	ErrInvalidState = errors.New("eventsub: invalid connection state")
	// ErrSessionMismatch means the reconnect socket welcomed a different session.
	ErrSessionMismatch = errors.New("eventsub: reconnect session mismatch")
	// ErrClosed is returned by Connect when Disconnect raced the dial.
	ErrClosed = errors.New("eventsub: connection closed")
)

// Conn is a single EventSub websocket session. Configure the exported fields
// before calling Connect.
type Conn struct {
	Dialer *websocket.Dialer
	Clock  clockwork.Clock
	MaxAge time.Duration

	url    string
	events chan Event

	mu          sync.Mutex
	state       State
	ws          *websocket.Conn
	sessionID   string
	keepalive   time.Duration
	closing     bool
	closeCode   int
	closeClean  bool
	closeReason string
	oldClosed   bool
	stop        chan struct{}
	seen        *ttlcache.Cache[string, struct{}]
}

// New returns a disconnected Conn for url.
func New(url string) *Conn {
	if url == "" {
		url = DefaultURL
	}
	return &Conn{
		Dialer: websocket.DefaultDialer,
		Clock:  clockwork.NewRealClock(),
		MaxAge: DefaultMaxAge,
		url:    url,
		events: make(chan Event, eventBuffer),
	}
}

// Events returns the channel every lifecycle and notification event is sent on.
func (c *Conn) Events() <-chan Event { return c.events }

// State returns the current connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the welcomed session id, or "" before the welcome.
func (c *Conn) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// setState updates the state. Callers hold c.mu.
func (c *Conn) setState(s State) {
	c.state = s
	telemetry.SetConnectionState(int(s))
}

// Connect opens the websocket. ctx bounds the whole connection: cancelling it
// closes the socket. A failed dial is returned and leaves the Conn Closed
// without emitting events.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state.Active() {
		s := c.state
		c.mu.Unlock()
		return fmt.Errorf("connect while %s: %w", s, ErrInvalidState)
	}
	c.setState(StateConnecting)
	c.closing = false
	c.mu.Unlock()

	ws, _, err := c.Dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		c.mu.Lock()
		c.setState(StateClosed)
		c.mu.Unlock()
		return fmt.Errorf("dial eventsub: %w", err)
	}

	c.mu.Lock()
	if c.closing {
		c.setState(StateClosed)
		c.mu.Unlock()
		_ = ws.Close()
		return ErrClosed
	}
	c.ws = ws
	c.stop = make(chan struct{})
	c.seen = ttlcache.New[string, struct{}](
		ttlcache.WithTTL[string, struct{}](c.MaxAge),
		ttlcache.WithDisableTouchOnHit[string, struct{}](),
	)
	stop, seen := c.stop, c.seen
	c.mu.Unlock()

	go seen.Start()
	go func() {
		select {
		case <-ctx.Done():
			c.Disconnect()
		case <-stop:
		}
	}()

	_ = ws.SetReadDeadline(time.Now().Add(welcomeTimeout))
	slog.Info("eventsub connected", slog.String("component", "eventsub"), slog.String("url", c.url))
	c.emit(ctx, Connected{})
	go c.readLoop(ctx, ws)
	return nil
}

// Disconnect closes the connection. The resulting Disconnected event reports
// code 1000 and a clean close.
func (c *Conn) Disconnect() {
	c.shutdown(websocket.CloseNormalClosure, true, "")
}

// abort tears the connection down after a protocol failure.
func (c *Conn) abort(reason string) {
	c.shutdown(websocket.CloseAbnormalClosure, false, reason)
}

func (c *Conn) shutdown(code int, clean bool, reason string) {
	c.mu.Lock()
	if c.closing || !c.state.Active() {
		c.mu.Unlock()
		return
	}
	c.closing = true
	c.closeCode, c.closeClean, c.closeReason = code, clean, reason
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		// still dialing; Connect observes closing
		return
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
	_ = ws.Close()
}

// emit queues ev. A cancelled ctx only gives up once the buffer is full, so
// the terminal events of a cancelled session are still delivered.
func (c *Conn) emit(ctx context.Context, ev Event) {
	select {
	case c.events <- ev:
		return
	default:
	}
	select {
	case c.events <- ev:
	case <-ctx.Done():
		slog.Warn("eventsub event dropped", slog.String("component", "eventsub"), slog.String("event", fmt.Sprintf("%T", ev)))
	}
}

func (c *Conn) readLoop(ctx context.Context, ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.closed(ctx, ws, err)
			return
		}
		c.handle(ctx, ws, data)
	}
}

// closed finalizes a terminated socket. Sockets replaced by a handoff exit silently.
func (c *Conn) closed(ctx context.Context, ws *websocket.Conn, err error) {
	c.mu.Lock()
	if ws != c.ws {
		c.mu.Unlock()
		return
	}
	if c.state == StateReconnecting && !c.closing {
		// Twitch may drop the old socket as soon as the new one is welcomed;
		// handoff decides what happens next.
		c.oldClosed = true
		c.mu.Unlock()
		return
	}
	ev := Disconnected{Code: websocket.CloseAbnormalClosure, Reason: err.Error()}
	var ce *websocket.CloseError
	switch {
	case c.closing:
		ev = Disconnected{Code: c.closeCode, WasClean: c.closeClean, Reason: c.closeReason}
	case errors.As(err, &ce):
		ev = Disconnected{Code: ce.Code, WasClean: true, Reason: ce.Text}
	}
	c.ws = nil
	c.sessionID = ""
	c.keepalive = 0
	c.oldClosed = false
	c.setState(StateClosed)
	stop, seen := c.stop, c.seen
	c.stop, c.seen = nil, nil
	c.mu.Unlock()

	close(stop)
	seen.Stop()

	slog.Info("eventsub disconnected", slog.String("component", "eventsub"),
		slog.Int("code", ev.Code), slog.Bool("clean", ev.WasClean), slog.String("reason", ev.Reason))
	if !ev.WasClean {
		c.emit(ctx, Error{Err: err})
	}
	c.emit(ctx, ev)
}

func (c *Conn) handle(ctx context.Context, ws *websocket.Conn, data []byte) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Warn("eventsub undecodable frame", slog.String("component", "eventsub"), slog.Any("err", err))
		return
	}
	c.mu.Lock()
	keepalive, seen := c.keepalive, c.seen
	c.mu.Unlock()
	if keepalive > 0 {
		_ = ws.SetReadDeadline(time.Now().Add(keepalive * 3 / 2))
	}

	md := msg.Metadata
	ts, tsErr := time.Parse(time.RFC3339Nano, md.MessageTimestamp)
	if tsErr == nil && c.Clock.Since(ts) > c.MaxAge {
		telemetry.IncStale()
		slog.Warn("eventsub stale message dropped", slog.String("component", "eventsub"),
			slog.String("type", md.MessageType), slog.String("message_id", md.MessageID),
			slog.Duration("age", c.Clock.Since(ts)))
		return
	}
	if md.MessageID != "" && seen != nil {
		if seen.Has(md.MessageID) {
			telemetry.IncDuplicate()
			slog.Debug("eventsub duplicate message dropped", slog.String("component", "eventsub"), slog.String("message_id", md.MessageID))
			return
		}
		seen.Set(md.MessageID, struct{}{}, ttlcache.DefaultTTL)
	}

	switch md.MessageType {
	case MessageWelcome:
		if msg.Payload.Session == nil {
			return
		}
		s := msg.Payload.Session
		ka := time.Duration(s.KeepaliveTimeoutSeconds) * time.Second
		c.mu.Lock()
		if c.state != StateConnecting {
			// only the reconnect socket may welcome again, and that one is read by handoff
			c.mu.Unlock()
			slog.Warn("eventsub unexpected welcome", slog.String("component", "eventsub"), slog.String("state", c.State().String()))
			return
		}
		c.sessionID = s.ID
		c.keepalive = ka
		c.setState(StateWelcomed)
		c.mu.Unlock()
		if ka > 0 {
			_ = ws.SetReadDeadline(time.Now().Add(ka * 3 / 2))
		}
		slog.Info("eventsub welcomed", slog.String("component", "eventsub"), slog.String("session_id", s.ID), slog.Duration("keepalive", ka))
		c.emit(ctx, Welcome{SessionID: s.ID, KeepAlive: ka})

	case MessageKeepalive:
		// the read deadline was refreshed above

	case MessageReconnect:
		if msg.Payload.Session == nil || msg.Payload.Session.ReconnectURL == "" {
			return
		}
		go c.handoff(ctx, ws, msg.Payload.Session.ReconnectURL)

	case MessageNotification:
		sub := msg.Payload.Subscription
		n := Notification{
			MessageID: md.MessageID,
			Type:      md.SubscriptionType,
			Version:   md.SubscriptionVersion,
			Timestamp: ts,
			Event:     msg.Payload.Event,
		}
		if sub != nil {
			n.SubscriptionID = sub.ID
			n.Condition = sub.Condition
		}
		telemetry.IncNotification(n.Type)
		c.emit(ctx, n)

	case MessageRevocation:
		sub := msg.Payload.Subscription
		if sub == nil {
			return
		}
		slog.Warn("eventsub subscription revoked", slog.String("component", "eventsub"),
			slog.String("type", sub.Type), slog.String("id", sub.ID), slog.String("status", sub.Status))
		c.emit(ctx, Revocation{Type: sub.Type, ID: sub.ID, Status: sub.Status, Condition: sub.Condition})

	default:
		slog.Warn("eventsub unknown message type", slog.String("component", "eventsub"), slog.String("type", md.MessageType))
	}
}

// handoff opens the reconnect socket next to the current one and switches over
// once it welcomes the same session. Any other outcome closes everything.
func (c *Conn) handoff(ctx context.Context, old *websocket.Conn, url string) {
	log := slog.With(slog.String("component", "eventsub"), slog.String("reconnect_url", url))

	c.mu.Lock()
	if c.state != StateWelcomed || c.ws != old {
		c.mu.Unlock()
		return
	}
	sessionID := c.sessionID
	c.setState(StateReconnecting)
	c.mu.Unlock()

	fail := func(reason string, err error) {
		telemetry.IncReconnect("failed")
		log.Error("eventsub reconnect failed", slog.String("reason", reason), slog.Any("err", err))
		c.abort(reason)
		c.finishRetired(ctx, old, err)
	}

	ws, _, err := c.Dialer.DialContext(ctx, url, nil)
	if err != nil {
		fail("reconnect dial failed", err)
		return
	}
	_ = ws.SetReadDeadline(time.Now().Add(welcomeTimeout))
	_, data, err := ws.ReadMessage()
	if err != nil {
		_ = ws.Close()
		fail("reconnect socket closed before welcome", err)
		return
	}
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil || msg.Metadata.MessageType != MessageWelcome || msg.Payload.Session == nil {
		_ = ws.Close()
		fail("unexpected first message on reconnect socket", err)
		return
	}
	if msg.Payload.Session.ID != sessionID {
		_ = ws.Close()
		fail("reconnect session mismatch", fmt.Errorf("%w: got %s want %s", ErrSessionMismatch, msg.Payload.Session.ID, sessionID))
		return
	}
	ka := time.Duration(msg.Payload.Session.KeepaliveTimeoutSeconds) * time.Second

	c.mu.Lock()
	if c.state != StateReconnecting || c.ws != old || c.closing {
		c.mu.Unlock()
		_ = ws.Close()
		c.finishRetired(ctx, old, ErrClosed)
		return
	}
	c.ws = ws
	c.oldClosed = false
	if ka > 0 {
		c.keepalive = ka
	}
	keepalive := c.keepalive
	c.setState(StateWelcomed)
	c.mu.Unlock()

	if keepalive > 0 {
		_ = ws.SetReadDeadline(time.Now().Add(keepalive * 3 / 2))
	}
	_ = old.Close()
	telemetry.IncReconnect("switched")
	log.Info("eventsub reconnected", slog.String("session_id", sessionID))
	go c.readLoop(ctx, ws)
}

// finishRetired emits the disconnect for an old socket whose reader already
// exited during a handoff that did not complete.
func (c *Conn) finishRetired(ctx context.Context, old *websocket.Conn, err error) {
	c.mu.Lock()
	gone := c.oldClosed && c.ws == old
	c.mu.Unlock()
	if gone {
		if err == nil {
			err = ErrClosed
		}
		c.closed(ctx, old, err)
	}
}
