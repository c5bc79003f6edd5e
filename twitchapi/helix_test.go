package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/oauth2"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HelixClient {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Client-Id") != "test-client-id" {
			t.Errorf("missing or wrong Client-Id header")
		}
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Errorf("Authorization header = %q, want bearer token", r.Header.Get("Authorization"))
		}
		handler(w, r)
	}))
	t.Cleanup(server.Close)
	return &HelixClient{
		ClientID: "test-client-id",
		BaseURL:  server.URL,
		Tokens:   oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-token", TokenType: "Bearer"}),
	}
}

func TestHelixClient_GetUsers(t *testing.T) {
	tests := []struct {
		response    interface{}
		name        string
		logins      []string
		wantLogins  []string
		errContains string
		statusCode  int
		wantErr     bool
	}{
		{
			name:   "resolves logins",
			logins: []string{"alpha", "beta"},
			response: map[string]interface{}{
				"data": []map[string]string{
					{"id": "1", "login": "alpha", "display_name": "Alpha", "profile_image_url": "https://cdn/alpha-profile_image-300x300.png"},
					{"id": "2", "login": "beta", "display_name": "Beta"},
				},
			},
			statusCode: http.StatusOK,
			wantLogins: []string{"alpha", "beta"},
		},
		{
			name:       "unknown logins are omitted",
			logins:     []string{"ghost"},
			response:   map[string]interface{}{"data": []map[string]string{}},
			statusCode: http.StatusOK,
		},
		{
			name:        "bad request",
			logins:      []string{"x"},
			response:    map[string]interface{}{"error": "Bad Request", "status": 400, "message": "Invalid login names"},
			statusCode:  http.StatusBadRequest,
			wantErr:     true,
			errContains: "Invalid login names",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/users" {
					t.Errorf("path = %s, want /users", r.URL.Path)
				}
				if got := r.URL.Query()["login"]; strings.Join(got, ",") != strings.Join(tt.logins, ",") {
					t.Errorf("login params = %v, want %v", got, tt.logins)
				}
				w.WriteHeader(tt.statusCode)
				_ = json.NewEncoder(w).Encode(tt.response)
			})

			users, err := client.GetUsers(context.Background(), tt.logins)
			if tt.wantErr {
				if err == nil || !strings.Contains(err.Error(), tt.errContains) {
					t.Fatalf("GetUsers() error = %v, want error containing %q", err, tt.errContains)
				}
				return
			}
			if err != nil {
				t.Fatalf("GetUsers() unexpected error = %v", err)
			}
			if len(users) != len(tt.wantLogins) {
				t.Fatalf("GetUsers() returned %d users, want %d", len(users), len(tt.wantLogins))
			}
			for i, u := range users {
				if u.Login != tt.wantLogins[i] {
					t.Errorf("users[%d].Login = %s, want %s", i, u.Login, tt.wantLogins[i])
				}
			}
		})
	}
}

func TestHelixClient_GetUsersBatches(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		logins := r.URL.Query()["login"]
		if len(logins) > maxUsersPerRequest {
			t.Errorf("request carried %d logins", len(logins))
		}
		data := make([]map[string]string, 0, len(logins))
		for _, l := range logins {
			data = append(data, map[string]string{"id": "id-" + l, "login": l})
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
	})

	logins := make([]string, 150)
	for i := range logins {
		logins[i] = fmt.Sprintf("user%03d", i)
	}
	users, err := client.GetUsers(context.Background(), logins)
	if err != nil {
		t.Fatalf("GetUsers() unexpected error = %v", err)
	}
	if calls != 2 || len(users) != 150 {
		t.Errorf("calls = %d users = %d, want 2 and 150", calls, len(users))
	}
}

func TestHelixClient_CreateEventSubSubscription(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/eventsub/subscriptions" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req CreateSubscriptionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if req.Transport.Method != "websocket" || req.Transport.SessionID != "sess-1" {
			t.Errorf("transport = %+v", req.Transport)
		}
		if req.Condition["broadcaster_user_id"] != "1" || req.Condition["user_id"] != "99" {
			t.Errorf("condition = %v", req.Condition)
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{
				{"id": "sub-1", "status": "enabled", "type": req.Type, "version": req.Version, "condition": req.Condition},
			},
			"total": 1,
		})
	})

	sub, err := client.CreateEventSubSubscription(context.Background(), CreateSubscriptionRequest{
		Type:      "channel.chat.message",
		Version:   "1",
		Condition: map[string]string{"broadcaster_user_id": "1", "user_id": "99"},
		Transport: WebsocketTransport("sess-1"),
	})
	if err != nil {
		t.Fatalf("CreateEventSubSubscription() unexpected error = %v", err)
	}
	if sub.ID != "sub-1" || sub.Status != "enabled" {
		t.Errorf("subscription = %+v", sub)
	}
}

func TestHelixClient_CreateEventSubSubscriptionConflict(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"Conflict","status":409,"message":"subscription already exists"}`))
	})
	_, err := client.CreateEventSubSubscription(context.Background(), CreateSubscriptionRequest{Type: "channel.chat.clear", Version: "1"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusConflict || apiErr.Message != "subscription already exists" {
		t.Errorf("APIError = %+v", apiErr)
	}
	if ClassifyError(err) != ErrorClassFatal {
		t.Errorf("ClassifyError() = %v, want fatal", ClassifyError(err))
	}
}

func TestHelixClient_DeleteEventSubSubscription(t *testing.T) {
	deleted := map[string]bool{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %s", r.Method)
		}
		id := r.URL.Query().Get("id")
		if deleted[id] {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		deleted[id] = true
		w.WriteHeader(http.StatusNoContent)
	})

	ctx := context.Background()
	if err := client.DeleteEventSubSubscription(ctx, "sub-1"); err != nil {
		t.Fatalf("first delete error = %v", err)
	}
	err := client.DeleteEventSubSubscription(ctx, "sub-1")
	if !IsNotFound(err) {
		t.Errorf("second delete error = %v, want not found", err)
	}
	if err := client.DeleteEventSubSubscription(ctx, ""); err == nil {
		t.Error("empty id should be rejected")
	}
}

func TestHelixClient_SendChatMessage(t *testing.T) {
	tests := []struct {
		name       string
		response   string
		wantSent   bool
		wantReason string
	}{
		{
			name:     "sent",
			response: `{"data":[{"message_id":"m1","is_sent":true}]}`,
			wantSent: true,
		},
		{
			name:       "dropped",
			response:   `{"data":[{"message_id":"","is_sent":false,"drop_reason":{"code":"msg_duplicate","message":"Your message is identical to the previous one"}}]}`,
			wantReason: "Your message is identical to the previous one",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				var body map[string]string
				_ = json.NewDecoder(r.Body).Decode(&body)
				if body["broadcaster_id"] != "1" || body["sender_id"] != "99" || body["message"] != "hello" {
					t.Errorf("body = %v", body)
				}
				_, _ = w.Write([]byte(tt.response))
			})
			res, err := client.SendChatMessage(context.Background(), "1", "99", "hello")
			if err != nil {
				t.Fatalf("SendChatMessage() unexpected error = %v", err)
			}
			if res.IsSent != tt.wantSent {
				t.Errorf("IsSent = %v, want %v", res.IsSent, tt.wantSent)
			}
			if tt.wantReason != "" && (res.DropReason == nil || res.DropReason.Message != tt.wantReason) {
				t.Errorf("DropReason = %+v, want %q", res.DropReason, tt.wantReason)
			}
		})
	}
}

func TestHelixClient_FetchCheermotes(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bits/cheermotes" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"data":[{"prefix":"Cheer","tiers":[{"min_bits":100,"id":"100","color":"#9c3ee8","images":{"dark":{"animated":{"1":"a1","2":"a2"},"static":{"1":"s1","2":"s2"}}}}]}]}`))
	})
	list, err := client.FetchCheermotes(context.Background())
	if err != nil {
		t.Fatalf("FetchCheermotes() unexpected error = %v", err)
	}
	if len(list) != 1 || len(list[0].Tiers) != 1 {
		t.Fatalf("FetchCheermotes() = %+v", list)
	}
	tier := list[0].Tiers[0]
	if tier.MinBits != 100 || tier.URL != "a2" || tier.StaticURL != "s2" || tier.Prefix != "Cheer" {
		t.Errorf("tier = %+v", tier)
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err  error
		name string
		want ErrorClass
	}{
		{name: "nil", err: nil, want: ErrorClassUnknown},
		{name: "rate limited", err: &APIError{StatusCode: 429}, want: ErrorClassRetryable},
		{name: "server error", err: &APIError{StatusCode: 503}, want: ErrorClassRetryable},
		{name: "forbidden", err: &APIError{StatusCode: 403}, want: ErrorClassFatal},
		{name: "wrapped", err: fmt.Errorf("join: %w", &APIError{StatusCode: 500}), want: ErrorClassRetryable},
		{name: "deadline", err: context.DeadlineExceeded, want: ErrorClassRetryable},
		{name: "canceled", err: context.Canceled, want: ErrorClassFatal},
		{name: "opaque", err: errors.New("boom"), want: ErrorClassUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.want {
				t.Errorf("ClassifyError() = %v, want %v", got, tt.want)
			}
		})
	}
}

// rewriteTransport rewrites all requests to use the test server
type rewriteTransport struct {
	Transport http.RoundTripper
	host      string
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = "http"
	if t.host != "" {
		host := t.host
		host = strings.TrimPrefix(host, "http://")
		host = strings.TrimPrefix(host, "https://")
		req.URL.Host = host
	}
	return t.Transport.RoundTrip(req)
}
