package twitchapi

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// ErrNoToken is returned by UserToken once the token was revoked or never set.
var ErrNoToken = errors.New("no twitch access token")

// UserToken holds the user access token shared by the EventSub session and
// Helix requests. EventSub websocket subscriptions require a user token, so
// unlike an app token it cannot be refreshed here; an expired token has to be
// replaced through the external auth flow. It implements oauth2.TokenSource.
type UserToken struct {
	mu          sync.RWMutex
	accessToken string
	expiresAt   time.Time
	info        *TokenInfo
}

// NewUserToken wraps accessToken. A leading "oauth:" prefix is stripped.
func NewUserToken(accessToken string) *UserToken {
	return &UserToken{accessToken: strings.TrimPrefix(strings.TrimSpace(accessToken), "oauth:")}
}

// Token implements oauth2.TokenSource.
func (t *UserToken) Token() (*oauth2.Token, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.accessToken == "" {
		return nil, ErrNoToken
	}
	if !t.expiresAt.IsZero() && time.Now().After(t.expiresAt) {
		return nil, ErrInvalidToken
	}
	return &oauth2.Token{AccessToken: t.accessToken, TokenType: "Bearer", Expiry: t.expiresAt}, nil
}

// Validate checks the token against the identity service and records the
// identity and expiry it reports.
func (t *UserToken) Validate(ctx context.Context, oc *OAuthClient) (*TokenInfo, error) {
	t.mu.RLock()
	tok := t.accessToken
	t.mu.RUnlock()
	if tok == "" {
		return nil, ErrNoToken
	}
	info, err := oc.ValidateToken(ctx, tok)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.info = info
	t.expiresAt = ComputeExpiry(info.ExpiresIn)
	return info, nil
}

// Info returns the identity from the last successful Validate, or nil.
func (t *UserToken) Info() *TokenInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.info
}

// Revoke invalidates the token remotely and forgets it locally.
func (t *UserToken) Revoke(ctx context.Context, oc *OAuthClient, clientID string) error {
	t.mu.RLock()
	tok := t.accessToken
	t.mu.RUnlock()
	if tok == "" {
		return nil
	}
	if err := oc.RevokeToken(ctx, clientID, tok); err != nil {
		return err
	}
	t.mu.Lock()
	t.accessToken = ""
	t.info = nil
	t.expiresAt = time.Time{}
	t.mu.Unlock()
	return nil
}
