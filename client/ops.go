package client

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/chatweave/chat"
	"github.com/onnwee/chatweave/config"
)

var (
	// ErrUnknownSetting is returned by Set for names it does not recognize.
	ErrUnknownSetting = errors.New("unknown setting")
	// ErrInvalidInput is returned for malformed channel names, colors and setting values.
	ErrInvalidInput = errors.New("invalid input")
)

// Settings are the runtime-adjustable display settings.
type Settings struct {
	BotCommands      bool `json:"bot_commands"`
	StaticEmotes     bool `json:"static_emotes"`
	ThirdPartyEmotes bool `json:"third_party_emotes"`
	NoDelete         bool `json:"no_delete"`
	ReadOnly         bool `json:"readonly"`
	History          int  `json:"history"`
	PruneSeconds     int  `json:"prune"`
	FreshSeconds     int  `json:"fresh"`
	DelayMillis      int  `json:"delay"`
}

// Status is a snapshot of the client published after every loop iteration.
// ChannelsEnv is the CHANNELS value that rejoins the current channels.
type Status struct {
	State       string             `json:"state"`
	SessionID   string             `json:"session_id,omitempty"`
	Login       string             `json:"login"`
	Channels    []chat.SessionInfo `json:"channels"`
	ChannelsEnv string             `json:"channels_env"`
	Ignored     []string           `json:"ignored"`
	Buffered    int                `json:"buffered"`
	Delivered   int                `json:"delivered"`
	Marker      int                `json:"marker"`
	LiveEdge    bool               `json:"live_edge"`
	Settings    Settings           `json:"settings"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// Status returns the latest snapshot. It is safe to call from any goroutine.
func (c *Client) Status() Status {
	return *c.status.Load()
}

func (c *Client) publish() {
	opts := c.Manager.Options
	r := c.Feed.Retention
	state := "disconnected"
	if c.conn != nil {
		state = c.conn.State().String()
	}
	sessions := c.Manager.Sessions()
	channels := make([]config.Channel, len(sessions))
	for i, s := range sessions {
		channels[i] = config.Channel{Name: s.Login, Color: s.Background}
	}
	c.status.Store(&Status{
		State:       state,
		SessionID:   c.Manager.Registry.SessionID,
		Login:       c.Manager.Self().Login,
		Channels:    sessions,
		ChannelsEnv: config.FormatChannels(channels),
		Ignored:     c.Manager.Ignored.List(),
		Buffered:    c.Feed.Buffer.Len(),
		Delivered:   c.Feed.Timeline.Len(),
		Marker:      c.Feed.Timeline.Marker(),
		LiveEdge:    c.Feed.Timeline.AtLiveEdge(),
		Settings: Settings{
			BotCommands:      opts.BotCommands,
			StaticEmotes:     opts.StaticEmotes,
			ThirdPartyEmotes: opts.ThirdPartyEmotes,
			NoDelete:         opts.NoDelete,
			ReadOnly:         opts.ReadOnly,
			History:          r.History,
			PruneSeconds:     int(r.Prune / time.Second),
			FreshSeconds:     int(r.Fresh / time.Second),
			DelayMillis:      int(c.Feed.Buffer.Delay / time.Millisecond),
		},
		UpdatedAt: c.clock.Now(),
	})
}

// Join joins channels given as name or name:color.
func (c *Client) Join(ctx context.Context, channels []config.Channel) ([]chat.SessionInfo, error) {
	specs := make([]chat.ChannelSpec, 0, len(channels))
	for _, ch := range channels {
		name := config.CleanName(ch.Name)
		if !config.IsValidLogin(name) {
			return nil, fmt.Errorf("%w: channel name %q", ErrInvalidInput, ch.Name)
		}
		specs = append(specs, chat.ChannelSpec{Login: name, Background: ch.Color})
	}
	var (
		joined []*chat.Session
		err    error
	)
	if derr := c.do(ctx, func(ctx context.Context) {
		joined, err = c.Manager.Join(ctx, specs)
	}); derr != nil {
		return nil, derr
	}
	out := make([]chat.SessionInfo, len(joined))
	for i, s := range joined {
		out[i] = s.Info()
	}
	return out, err
}

// Part leaves channels and returns how many were joined.
func (c *Client) Part(ctx context.Context, logins []string) (int, error) {
	var n int
	err := c.do(ctx, func(ctx context.Context) { n = c.Manager.Part(ctx, logins) })
	return n, err
}

// Mute mutes or unmutes a channel. Muting purges its messages.
func (c *Client) Mute(ctx context.Context, login string, muted bool) (bool, error) {
	var changed bool
	err := c.do(ctx, func(context.Context) { changed = c.Manager.SetMuted(login, muted) })
	return changed, err
}

// Solo mutes every channel except logins.
func (c *Client) Solo(ctx context.Context, logins []string) error {
	return c.do(ctx, func(context.Context) { c.Manager.Solo(logins) })
}

// UnmuteAll unmutes every channel.
func (c *Client) UnmuteAll(ctx context.Context) error {
	return c.do(ctx, func(context.Context) { c.Manager.UnmuteAll() })
}

// SetBackground sets a channel's background color; an empty color clears it.
func (c *Client) SetBackground(ctx context.Context, login, color string) error {
	if color != "" {
		color = config.NormalizeHexColor(color)
		if color == "" {
			return fmt.Errorf("%w: color for #%s", ErrInvalidInput, login)
		}
	}
	var err error
	if derr := c.do(ctx, func(context.Context) { err = c.Manager.SetBackground(login, color) }); derr != nil {
		return derr
	}
	return err
}

// Ignore ignores users and purges their messages.
func (c *Client) Ignore(ctx context.Context, users []string) ([]string, error) {
	var added []string
	err := c.do(ctx, func(context.Context) { added = c.Manager.Ignore(users) })
	return added, err
}

// Unignore removes users from the ignore list.
func (c *Client) Unignore(ctx context.Context, users []string) ([]string, error) {
	var removed []string
	err := c.do(ctx, func(context.Context) { removed = c.Manager.Unignore(users) })
	return removed, err
}

// Purge removes the messages of the given channels, or of all channels when
// logins is empty.
func (c *Client) Purge(ctx context.Context, logins []string) (int, error) {
	var n int
	err := c.do(ctx, func(context.Context) {
		if len(logins) == 0 {
			n = c.Manager.PurgeAll()
			return
		}
		n = c.Manager.Purge(logins)
	})
	return n, err
}

// Send posts a chat message to a joined channel.
func (c *Client) Send(ctx context.Context, login, text string) error {
	var err error
	if derr := c.do(ctx, func(ctx context.Context) { err = c.Manager.SendMessage(ctx, login, text) }); derr != nil {
		return derr
	}
	return err
}

// SetLiveEdge records whether the presenter shows the newest messages.
func (c *Client) SetLiveEdge(ctx context.Context, live bool) error {
	return c.do(ctx, func(context.Context) { c.Feed.Timeline.SetLiveEdge(live) })
}

// StaticFailed reports a static emote asset the presenter could not load.
func (c *Client) StaticFailed(ctx context.Context, url string) error {
	return c.do(ctx, func(context.Context) { c.Feed.StaticFailed(c.Manager.Resolver, url) })
}

// Set changes a runtime setting. Numeric settings take a non-negative
// integer: history (messages), prune and fresh (seconds), delay (ms).
func (c *Client) Set(ctx context.Context, name, value string) error {
	name = strings.ToLower(strings.TrimSpace(name))
	var apply func(ctx context.Context)

	switch name {
	case "history", "prune", "fresh", "delay":
		n, err := config.ParseSetting(value)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidInput, name, err)
		}
		apply = func(context.Context) {
			switch name {
			case "history":
				c.Feed.Retention.History = n
			case "prune":
				c.Feed.Retention.Prune = time.Duration(n) * time.Second
			case "fresh":
				c.Feed.Retention.Fresh = time.Duration(n) * time.Second
			case "delay":
				c.Feed.SetDelay(time.Duration(n) * time.Millisecond)
			}
		}

	case "bot_commands", "static_emotes", "third_party_emotes", "no_delete":
		on, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%w: %s: not a boolean: %q", ErrInvalidInput, name, value)
		}
		apply = func(ctx context.Context) {
			switch name {
			case "bot_commands":
				c.Manager.Options.BotCommands = on
			case "static_emotes":
				c.Manager.Options.StaticEmotes = on
			case "third_party_emotes":
				c.Manager.SetThirdPartyEmotes(ctx, on)
			case "no_delete":
				c.Manager.SetNoDelete(on)
			}
		}

	default:
		return fmt.Errorf("%w: %q", ErrUnknownSetting, name)
	}
	return c.do(ctx, apply)
}
