// Package config loads environment variables and provides a typed Config used across the client.
// It applies sensible defaults so the binary can run locally with only a client id and token.
// For required credentials, use ValidateReady.
//
// The helpers in this package (ParseChannels, CleanName, IsValidLogin, NormalizeHexColor)
// are the validation boundary for user input: anything they reject never reaches the
// session core.
package config

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultEventSubURL is the production EventSub websocket endpoint.
	DefaultEventSubURL = "wss://eventsub.wss.twitch.tv/ws?keepalive_timeout_seconds=30"
	// MaxChannelLimit is Twitch's limit on chat subscriptions per user token.
	MaxChannelLimit = 100
)

var (
	loginPattern = regexp.MustCompile(`^[a-zA-Z0-9_]{4,25}$`)
	hexPattern   = regexp.MustCompile(`^#?([a-fA-F0-9]{8}|[a-fA-F0-9]{6}|[a-fA-F0-9]{3})$`)
	listSplit    = regexp.MustCompile(`[ ,]+`)
)

// Channel is a channel to join with an optional background color.
type Channel struct {
	Name  string
	Color string
}

type Config struct {
	// Twitch
	TwitchClientID    string
	TwitchAccessToken string
	EventSubURL       string
	HelixBaseURL      string
	EmotesBaseURL     string

	// Channels and filters
	Channels    []Channel
	Ignore      []string
	MaxChannels int

	// Display settings
	BotCommands      bool
	StaticEmotes     bool
	ThirdPartyEmotes bool
	NoDelete         bool
	StreamNotices    bool
	ReadOnly         bool

	// Retention and delivery
	History int
	Prune   time.Duration
	Fresh   time.Duration
	Delay   time.Duration

	// Surfaces
	HTTPAddr     string
	OTLPEndpoint string
}

// Load reads environment variables and applies defaults. It doesn't fail if Twitch creds are missing;
// use ValidateReady() before connecting. Malformed numeric or boolean settings are rejected.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.TwitchClientID = os.Getenv("TWITCH_CLIENT_ID")
	cfg.TwitchAccessToken = os.Getenv("TWITCH_ACCESS_TOKEN")
	cfg.EventSubURL = os.Getenv("EVENTSUB_URL")
	if cfg.EventSubURL == "" {
		cfg.EventSubURL = DefaultEventSubURL
	}
	cfg.HelixBaseURL = os.Getenv("HELIX_BASE_URL")
	cfg.EmotesBaseURL = os.Getenv("EMOTES_BASE_URL")

	cfg.Channels = ParseChannels(os.Getenv("CHANNELS"))
	cfg.Ignore = ParseLogins(os.Getenv("IGNORE"))

	var err error
	if cfg.MaxChannels, err = envInt("MAX_CHANNELS", MaxChannelLimit); err != nil {
		return nil, err
	}
	if cfg.MaxChannels < 1 || cfg.MaxChannels > MaxChannelLimit {
		return nil, fmt.Errorf("invalid MAX_CHANNELS %d: must be between 1 and %d", cfg.MaxChannels, MaxChannelLimit)
	}

	bools := []struct {
		key string
		def bool
		dst *bool
	}{
		{"BOT_COMMANDS", true, &cfg.BotCommands},
		{"STATIC_EMOTES", false, &cfg.StaticEmotes},
		{"THIRD_PARTY_EMOTES", false, &cfg.ThirdPartyEmotes},
		{"NO_DELETE", false, &cfg.NoDelete},
		{"STREAM_NOTICES", false, &cfg.StreamNotices},
		{"READONLY", false, &cfg.ReadOnly},
	}
	for _, b := range bools {
		if *b.dst, err = envBool(b.key, b.def); err != nil {
			return nil, err
		}
	}

	if cfg.History, err = envInt("HISTORY", 150); err != nil {
		return nil, err
	}
	prune, err := envInt("PRUNE", 0)
	if err != nil {
		return nil, err
	}
	cfg.Prune = time.Duration(prune) * time.Second
	fresh, err := envInt("FRESH", 0)
	if err != nil {
		return nil, err
	}
	cfg.Fresh = time.Duration(fresh) * time.Second
	delay, err := envInt("DELAY", 50)
	if err != nil {
		return nil, err
	}
	cfg.Delay = time.Duration(delay) * time.Millisecond

	cfg.HTTPAddr = os.Getenv("HTTP_ADDR")
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}
	cfg.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")

	return cfg, nil
}

// ValidateReady checks the credentials required to connect.
func (c *Config) ValidateReady() error {
	if c.TwitchClientID == "" || c.TwitchAccessToken == "" {
		return fmt.Errorf("missing twitch env: require TWITCH_CLIENT_ID, TWITCH_ACCESS_TOKEN")
	}
	return nil
}

// envInt parses a non-negative integer setting.
func envInt(key string, def int) (int, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	n, err := ParseSetting(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func envBool(key string, def bool) (bool, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return b, nil
}

// ParseSetting parses a non-negative numeric setting such as history or delay.
func ParseSetting(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	if n < 0 {
		return 0, fmt.Errorf("out of range: %d", n)
	}
	return n, nil
}

// CleanName trims a user or channel name, strips one leading @ or # and lowercases it.
func CleanName(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "@") || strings.HasPrefix(s, "#") {
		s = s[1:]
	}
	return strings.ToLower(s)
}

// IsValidLogin reports whether s is a well-formed Twitch login.
func IsValidLogin(s string) bool {
	return loginPattern.MatchString(s)
}

// NormalizeHexColor returns "#rrggbb" style lowercase color, or "" if s is not a hex color.
func NormalizeHexColor(s string) string {
	s = strings.TrimSpace(s)
	if !hexPattern.MatchString(s) {
		return ""
	}
	return "#" + strings.ToLower(strings.TrimPrefix(s, "#"))
}

// ParseChannels parses "name1:color1,name2 name3" into channels. Invalid names are
// dropped, invalid colors are ignored, and at most MaxChannelLimit entries are read.
func ParseChannels(s string) []Channel {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var out []Channel
	seen := make(map[string]bool)
	for i, part := range listSplit.Split(s, -1) {
		if i >= MaxChannelLimit {
			break
		}
		name, color, _ := strings.Cut(part, ":")
		name = CleanName(name)
		if !IsValidLogin(name) || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, Channel{Name: name, Color: NormalizeHexColor(color)})
	}
	return out
}

// FormatChannels is the inverse of ParseChannels, sorted by name.
func FormatChannels(channels []Channel) string {
	sorted := append([]Channel(nil), channels...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	parts := make([]string, 0, len(sorted))
	for _, c := range sorted {
		if c.Color != "" {
			parts = append(parts, c.Name+":"+strings.TrimPrefix(c.Color, "#"))
		} else {
			parts = append(parts, c.Name)
		}
	}
	return strings.Join(parts, ",")
}

// ParseLogins splits a comma or space separated list of logins, dropping invalid ones.
func ParseLogins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range listSplit.Split(s, -1) {
		if name := CleanName(part); IsValidLogin(name) {
			out = append(out, name)
		}
	}
	return out
}
