package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestValidateToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth2/validate" {
			t.Errorf("path = %s, want /oauth2/validate", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "OAuth good-token" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"status":401,"message":"invalid access token"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"client_id":  "cid",
			"login":      "me",
			"user_id":    "99",
			"scopes":     []string{"user:read:chat", "user:write:chat"},
			"expires_in": 3600,
		})
	}))
	defer server.Close()

	// Default base URL routed to the test server.
	oc := &OAuthClient{HTTPClient: &http.Client{Transport: &rewriteTransport{Transport: http.DefaultTransport, host: server.URL}}}

	info, err := oc.ValidateToken(context.Background(), "good-token")
	if err != nil {
		t.Fatalf("ValidateToken() unexpected error = %v", err)
	}
	if info.UserID != "99" || info.Login != "me" || !info.HasScope("user:write:chat") || info.HasScope("chat:edit") {
		t.Errorf("ValidateToken() = %+v", info)
	}

	if _, err := oc.ValidateToken(context.Background(), "bad-token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("ValidateToken(bad) error = %v, want ErrInvalidToken", err)
	}
	if _, err := oc.ValidateToken(context.Background(), ""); err == nil {
		t.Error("ValidateToken(\"\") error = nil")
	}
}

func TestRevokeToken(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		wantErr    bool
	}{
		{"revoked", http.StatusOK, false},
		{"already invalid", http.StatusBadRequest, false},
		{"server error", http.StatusInternalServerError, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if err := r.ParseForm(); err != nil {
					t.Fatalf("parse form: %v", err)
				}
				if r.Form.Get("client_id") != "cid" || r.Form.Get("token") != "tok" {
					t.Errorf("form = %v", r.Form)
				}
				w.WriteHeader(tt.statusCode)
			}))
			defer server.Close()

			oc := &OAuthClient{BaseURL: server.URL}
			err := oc.RevokeToken(context.Background(), "cid", "tok")
			if (err != nil) != tt.wantErr {
				t.Errorf("RevokeToken() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestComputeExpiry(t *testing.T) {
	if d := time.Until(ComputeExpiry(0)); d < 59*time.Minute || d > 61*time.Minute {
		t.Errorf("ComputeExpiry(0) = now+%v, want ~60m", d)
	}
	if d := time.Until(ComputeExpiry(120)); d < 110*time.Second || d > 130*time.Second {
		t.Errorf("ComputeExpiry(120) = now+%v, want ~2m", d)
	}
}
