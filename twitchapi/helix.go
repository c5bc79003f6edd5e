// Package twitchapi contains minimal helpers to interact with the Twitch Helix
// API on behalf of the local user: EventSub subscription management, user
// lookups, cheermotes and chat messages.
package twitchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/onnwee/chatweave/telemetry"
)

// DefaultHelixURL is the production Helix endpoint.
const DefaultHelixURL = "https://api.twitch.tv/helix"

// maxUsersPerRequest is the Helix limit on login filters per /users call.
const maxUsersPerRequest = 100

// HelixClient issues Helix requests with the user access token supplied by Tokens.
type HelixClient struct {
	ClientID   string
	BaseURL    string
	Tokens     oauth2.TokenSource
	HTTPClient *http.Client
}

// NewHelixClient returns a client for the production API.
func NewHelixClient(clientID string, tokens oauth2.TokenSource) *HelixClient {
	return &HelixClient{ClientID: clientID, BaseURL: DefaultHelixURL, Tokens: tokens}
}

// http returns the configured client wrapped with a bearer transport.
func (hc *HelixClient) http() *http.Client {
	base := http.DefaultClient
	if hc.HTTPClient != nil {
		base = hc.HTTPClient
	}
	if hc.Tokens == nil {
		return base
	}
	return &http.Client{
		Transport: &oauth2.Transport{Source: hc.Tokens, Base: base.Transport},
		Timeout:   base.Timeout,
	}
}

func (hc *HelixClient) baseURL() string {
	if hc.BaseURL != "" {
		return hc.BaseURL
	}
	return DefaultHelixURL
}

// do sends a Helix request and decodes the JSON response into out (if non-nil).
// Non-2xx responses are returned as *APIError.
func (hc *HelixClient) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	ctx, span := telemetry.StartSpan(ctx, "twitchapi", "helix "+method+" "+path)
	defer span.End()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	u := hc.baseURL() + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Client-Id", hc.ClientID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	start := time.Now()
	resp, err := hc.http().Do(req)
	if err != nil {
		telemetry.ObserveHelix(path, "error_"+ClassifyError(err).String(), time.Since(start))
		telemetry.RecordError(span, err)
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	telemetry.ObserveHelix(path, fmt.Sprintf("%d", resp.StatusCode), time.Since(start))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := newAPIError(method+" "+path, resp)
		telemetry.RecordError(span, apiErr)
		return apiErr
	}
	telemetry.SetSpanSuccess(span)
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// User is a Helix user record.
type User struct {
	ID              string `json:"id"`
	Login           string `json:"login"`
	DisplayName     string `json:"display_name"`
	ProfileImageURL string `json:"profile_image_url"`
}

// GetUsers resolves login names to users. Unknown logins are omitted from the
// result rather than reported as errors.
func (hc *HelixClient) GetUsers(ctx context.Context, logins []string) ([]User, error) {
	var out []User
	for start := 0; start < len(logins); start += maxUsersPerRequest {
		end := min(start+maxUsersPerRequest, len(logins))
		q := url.Values{}
		for _, l := range logins[start:end] {
			q.Add("login", l)
		}
		var body struct {
			Data []User `json:"data"`
		}
		if err := hc.do(ctx, http.MethodGet, "/users", q, nil, &body); err != nil {
			return nil, err
		}
		out = append(out, body.Data...)
	}
	return out, nil
}

// SubscriptionTransport is the EventSub delivery transport of a subscription.
type SubscriptionTransport struct {
	Method    string `json:"method"`
	SessionID string `json:"session_id,omitempty"`
}

// Subscription is an EventSub subscription as reported by Helix.
type Subscription struct {
	ID        string                `json:"id"`
	Status    string                `json:"status"`
	Type      string                `json:"type"`
	Version   string                `json:"version"`
	Condition map[string]string     `json:"condition"`
	Transport SubscriptionTransport `json:"transport"`
	CreatedAt time.Time             `json:"created_at"`
	Cost      int                   `json:"cost"`
}

// CreateSubscriptionRequest is the body of POST /eventsub/subscriptions.
type CreateSubscriptionRequest struct {
	Type      string                `json:"type"`
	Version   string                `json:"version"`
	Condition map[string]string     `json:"condition"`
	Transport SubscriptionTransport `json:"transport"`
}

// WebsocketTransport returns the transport that binds a subscription to an
// EventSub websocket session.
func WebsocketTransport(sessionID string) SubscriptionTransport {
	return SubscriptionTransport{Method: "websocket", SessionID: sessionID}
}

// CreateEventSubSubscription creates a subscription and returns the record
// Helix accepted.
func (hc *HelixClient) CreateEventSubSubscription(ctx context.Context, sub CreateSubscriptionRequest) (*Subscription, error) {
	if sub.Type == "" || sub.Version == "" {
		return nil, fmt.Errorf("subscription type/version empty")
	}
	var body struct {
		Data []Subscription `json:"data"`
	}
	if err := hc.do(ctx, http.MethodPost, "/eventsub/subscriptions", nil, sub, &body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, fmt.Errorf("create subscription %s: empty response", sub.Type)
	}
	return &body.Data[0], nil
}

// DeleteEventSubSubscription deletes a subscription by id.
func (hc *HelixClient) DeleteEventSubSubscription(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("subscription id empty")
	}
	return hc.do(ctx, http.MethodDelete, "/eventsub/subscriptions", url.Values{"id": {id}}, nil, nil)
}

// DropReason explains why Twitch did not deliver a chat message.
type DropReason struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SendChatMessageResult is the outcome of POST /chat/messages.
type SendChatMessageResult struct {
	MessageID  string      `json:"message_id"`
	IsSent     bool        `json:"is_sent"`
	DropReason *DropReason `json:"drop_reason"`
}

// SendChatMessage posts message to broadcasterID's chat as senderID.
func (hc *HelixClient) SendChatMessage(ctx context.Context, broadcasterID, senderID, message string) (*SendChatMessageResult, error) {
	if broadcasterID == "" || senderID == "" {
		return nil, fmt.Errorf("broadcaster/sender id empty")
	}
	req := map[string]string{
		"broadcaster_id": broadcasterID,
		"sender_id":      senderID,
		"message":        message,
	}
	var body struct {
		Data []SendChatMessageResult `json:"data"`
	}
	if err := hc.do(ctx, http.MethodPost, "/chat/messages", nil, req, &body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, fmt.Errorf("send chat message: empty response")
	}
	return &body.Data[0], nil
}
