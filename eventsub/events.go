package eventsub

import (
	"encoding/json"
	"time"
)

// Event is emitted by a Conn on its Events channel. The concrete types are
// Connected, Disconnected, Error, Welcome, Notification and Revocation.
type Event interface {
	eventName() string
}

// Connected is emitted once the websocket is open, before the welcome.
type Connected struct{}

// Disconnected is emitted exactly once when the connection terminates.
type Disconnected struct {
	Code     int
	WasClean bool
	Reason   string
}

// Error reports a transport failure. It is followed by Disconnected.
type Error struct {
	Err error
}

// Welcome carries the session id that subscriptions must be bound to.
type Welcome struct {
	SessionID string
	KeepAlive time.Duration
}

// Notification is a subscribed event. Event holds the raw event object; see
// the payload types in this package for decoding.
type Notification struct {
	MessageID      string
	Type           string
	Version        string
	Timestamp      time.Time
	SubscriptionID string
	Condition      map[string]string
	Event          json.RawMessage
}

// Decode unmarshals the event object into v.
func (n Notification) Decode(v any) error {
	return json.Unmarshal(n.Event, v)
}

// Revocation reports a subscription Twitch terminated on its own.
type Revocation struct {
	Type      string
	ID        string
	Status    string
	Condition map[string]string
}

func (Connected) eventName() string    { return "connected" }
func (Disconnected) eventName() string { return "disconnected" }
func (Error) eventName() string        { return "error" }
func (Welcome) eventName() string      { return "welcome" }
func (Notification) eventName() string { return "notification" }
func (Revocation) eventName() string   { return "revocation" }
