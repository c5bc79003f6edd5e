package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultOAuthURL is the Twitch identity endpoint.
const DefaultOAuthURL = "https://id.twitch.tv/oauth2"

// ErrInvalidToken is returned when Twitch rejects the access token.
var ErrInvalidToken = errors.New("twitch access token invalid or expired")

// TokenInfo is the result of validating a user access token.
type TokenInfo struct {
	ClientID  string   `json:"client_id"`
	Login     string   `json:"login"`
	UserID    string   `json:"user_id"`
	Scopes    []string `json:"scopes"`
	ExpiresIn int      `json:"expires_in"`
}

// HasScope reports whether the token was granted scope.
func (ti *TokenInfo) HasScope(scope string) bool {
	for _, s := range ti.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// OAuthClient talks to the Twitch identity service.
type OAuthClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

func (oc *OAuthClient) http() *http.Client {
	if oc.HTTPClient != nil {
		return oc.HTTPClient
	}
	return http.DefaultClient
}

func (oc *OAuthClient) url(path string) string {
	if oc.BaseURL != "" {
		return oc.BaseURL + path
	}
	return DefaultOAuthURL + path
}

// ValidateToken returns the identity behind accessToken.
func (oc *OAuthClient) ValidateToken(ctx context.Context, accessToken string) (*TokenInfo, error) {
	if accessToken == "" {
		return nil, errors.New("access token empty")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, oc.url("/validate"), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "OAuth "+accessToken)
	resp, err := oc.http().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrInvalidToken
	}
	if resp.StatusCode != http.StatusOK {
		return nil, newAPIError("GET /validate", resp)
	}
	var info TokenInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, err
	}
	return &info, nil
}

// RevokeToken invalidates accessToken. Revoking an already invalid token is not an error.
func (oc *OAuthClient) RevokeToken(ctx context.Context, clientID, accessToken string) error {
	if clientID == "" || accessToken == "" {
		return errors.New("missing clientID or access token")
	}
	form := url.Values{}
	form.Set("client_id", clientID)
	form.Set("token", accessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, oc.url("/revoke"), strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := oc.http().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusBadRequest {
		// 400 "Invalid token" means there is nothing left to revoke.
		return nil
	}
	return newAPIError("POST /revoke", resp)
}

// ComputeExpiry returns absolute expiry time from seconds, defaulting to +60m when unknown.
func ComputeExpiry(seconds int) time.Time {
	if seconds <= 0 {
		return time.Now().Add(60 * time.Minute)
	}
	return time.Now().Add(time.Duration(seconds) * time.Second)
}
