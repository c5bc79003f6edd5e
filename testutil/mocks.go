// Package testutil provides fake Twitch endpoints for tests that wire the real
// clients together.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// MockTwitchServer mocks the Helix and identity endpoints. Handlers are keyed
// by path; unknown paths answer 404.
type MockTwitchServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc

	// Subscribed receives the type of every created subscription.
	Subscribed chan string

	mu      sync.Mutex
	nextSub int
	created []string
	deleted []string
	sent    []string
}

// NewMockTwitchServer creates a new mock Twitch API server
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
		Handlers:   make(map[string]http.HandlerFunc),
		Subscribed: make(chan string, 64),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		handler, ok := m.Handlers[r.URL.Path]
		m.mu.Unlock()
		if ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// HelixURL is the Helix base URL of the mock.
func (m *MockTwitchServer) HelixURL() string { return m.URL + "/helix" }

// OAuthURL is the identity base URL of the mock.
func (m *MockTwitchServer) OAuthURL() string { return m.URL + "/oauth2" }

func (m *MockTwitchServer) handle(path string, h http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Handlers[path] = h
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}

// MockUsers serves /helix/users for the given login to id pairs. Unknown
// logins are omitted like Helix does.
func (m *MockTwitchServer) MockUsers(ids map[string]string) {
	m.handle("/helix/users", func(w http.ResponseWriter, r *http.Request) {
		data := []map[string]string{}
		for _, login := range r.URL.Query()["login"] {
			if id, ok := ids[login]; ok {
				data = append(data, map[string]string{
					"id":                id,
					"login":             login,
					"display_name":      strings.ToUpper(login[:1]) + login[1:],
					"profile_image_url": "https://static-cdn.example/" + login + "-profile_image-300x300.png",
				})
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": data})
	})
}

// MockSubscriptions serves /helix/eventsub/subscriptions: creates are enabled
// with ids sub-1, sub-2, ... and deletes answer 204.
func (m *MockTwitchServer) MockSubscriptions() {
	m.handle("/helix/eventsub/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var req struct {
				Type      string            `json:"type"`
				Version   string            `json:"version"`
				Condition map[string]string `json:"condition"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			m.mu.Lock()
			m.nextSub++
			id := fmt.Sprintf("sub-%d", m.nextSub)
			m.created = append(m.created, req.Type)
			m.mu.Unlock()
			writeJSON(w, http.StatusAccepted, map[string]any{"data": []map[string]any{{
				"id":         id,
				"status":     "enabled",
				"type":       req.Type,
				"version":    req.Version,
				"condition":  req.Condition,
				"created_at": time.Now().UTC().Format(time.RFC3339),
			}}})
			select {
			case m.Subscribed <- req.Type:
			default:
			}
		case http.MethodDelete:
			m.mu.Lock()
			m.deleted = append(m.deleted, r.URL.Query().Get("id"))
			m.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
}

// Created returns the types of the created subscriptions in order.
func (m *MockTwitchServer) Created() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.created...)
}

// Deleted returns the ids of the deleted subscriptions in order.
func (m *MockTwitchServer) Deleted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deleted...)
}

// MockCheermotes serves an empty /helix/bits/cheermotes list.
func (m *MockTwitchServer) MockCheermotes() {
	m.handle("/helix/bits/cheermotes", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"data": []any{}})
	})
}

// MockSendChat serves /helix/chat/messages. A non-empty dropReason rejects
// every message with that reason.
func (m *MockTwitchServer) MockSendChat(dropReason string) {
	m.handle("/helix/chat/messages", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req) //nolint:errcheck // test mock request
		m.mu.Lock()
		m.sent = append(m.sent, req.Message)
		m.mu.Unlock()
		result := map[string]any{"message_id": "m-1", "is_sent": true}
		if dropReason != "" {
			result = map[string]any{"message_id": "", "is_sent": false, "drop_reason": map[string]string{"code": "msg_rejected", "message": dropReason}}
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": []any{result}})
	})
}

// Sent returns the texts posted to /helix/chat/messages.
func (m *MockTwitchServer) Sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent...)
}

// MockValidate serves /oauth2/validate for the given identity.
func (m *MockTwitchServer) MockValidate(clientID, login, userID string, scopes []string, expiresIn int) {
	m.handle("/oauth2/validate", func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "OAuth ") {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"status": 401, "message": "invalid access token"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"client_id":  clientID,
			"login":      login,
			"user_id":    userID,
			"scopes":     scopes,
			"expires_in": expiresIn,
		})
	})
}

// EventSubFrame builds an EventSub websocket message.
func EventSubFrame(id, messageType string, ts time.Time, payload any) []byte {
	b, _ := json.Marshal(map[string]any{ //nolint:errcheck // test frame
		"metadata": map[string]string{
			"message_id":        id,
			"message_type":      messageType,
			"message_timestamp": ts.UTC().Format(time.RFC3339Nano),
		},
		"payload": payload,
	})
	return b
}

// WelcomeFrame builds a session_welcome message.
func WelcomeFrame(id, session string, ts time.Time) []byte {
	return EventSubFrame(id, "session_welcome", ts, map[string]any{
		"session": map[string]any{"id": session, "status": "connected", "keepalive_timeout_seconds": 10},
	})
}

// NotificationFrame builds a notification for subType carrying event.
func NotificationFrame(id, subID, subType string, ts time.Time, event any) []byte {
	b, _ := json.Marshal(map[string]any{ //nolint:errcheck // test frame
		"metadata": map[string]string{
			"message_id":           id,
			"message_type":         "notification",
			"message_timestamp":    ts.UTC().Format(time.RFC3339Nano),
			"subscription_type":    subType,
			"subscription_version": "1",
		},
		"payload": map[string]any{
			"subscription": map[string]any{"id": subID, "type": subType},
			"event":        event,
		},
	})
	return b
}

// NewMockEventSubServer starts a websocket server running handler for every
// connection and returns its ws:// URL.
func NewMockEventSubServer(t *testing.T, handler func(ws *websocket.Conn)) string {
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
