// Package emoteapi fetches third-party (7TV, BTTV, FFZ) emote sets from the
// aggregating emote API.
package emoteapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/onnwee/chatweave/metadata"
)

// DefaultBaseURL is the public emote aggregation service.
const DefaultBaseURL = "https://emotes.adamcy.pl"

const providers = "7tv.bttv.ffz"

// RequestsPerMinute is the documented request budget of the emote API.
const RequestsPerMinute = 60

// Client is a rate limited emote API client. It implements metadata.EmoteSource.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	limiter *rate.Limiter
}

// New returns a Client throttled to RequestsPerMinute.
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseURL: baseURL,
		limiter: rate.NewLimiter(rate.Every(time.Minute/RequestsPerMinute), 10),
	}
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// FetchEmotes returns the emotes of scope, which is metadata.GlobalScope or a
// channel login. A channel unknown to the API has no emotes.
func (c *Client) FetchEmotes(ctx context.Context, scope string) ([]metadata.ProviderEmote, error) {
	if scope == "" {
		return nil, fmt.Errorf("scope empty")
	}
	var path string
	if scope == metadata.GlobalScope {
		path = "/v1/global/emotes/" + providers
	} else {
		path = "/v1/channel/" + url.PathEscape(scope) + "/emotes/" + providers
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("emote api %s: %s: %s", scope, resp.Status, string(b))
	}
	var out []metadata.ProviderEmote
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode emotes: %w", err)
	}
	return out, nil
}
