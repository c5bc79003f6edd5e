// Package client runs the event loop that ties an EventSub connection to the
// chat manager, the ingress pipeline and the render feed.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/onnwee/chatweave/chat"
	"github.com/onnwee/chatweave/config"
	"github.com/onnwee/chatweave/eventsub"
	"github.com/onnwee/chatweave/metadata"
	"github.com/onnwee/chatweave/render"
	"github.com/onnwee/chatweave/twitchapi"
)

// maxValidationInterval bounds the time between token validations.
const maxValidationInterval = time.Hour

var (
	// ErrStopped is returned by operations submitted after Run returned.
	ErrStopped = errors.New("client stopped")
	// ErrConnectionLost is returned by Run when the connection terminated abnormally.
	ErrConnectionLost = errors.New("connection lost")
)

// Conn is the EventSub connection driven by the client.
type Conn interface {
	Connect(ctx context.Context) error
	Disconnect()
	Events() <-chan eventsub.Event
	State() eventsub.State
}

// Validator revalidates the access token while connected.
type Validator interface {
	Validate(ctx context.Context) (*twitchapi.TokenInfo, error)
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(ctx context.Context) (*twitchapi.TokenInfo, error)

// Validate calls f.
func (f ValidatorFunc) Validate(ctx context.Context) (*twitchapi.TokenInfo, error) { return f(ctx) }

// Params are the collaborators of a Client.
type Params struct {
	Config   *config.Config
	Conn     Conn
	API      chat.API
	Resolver *metadata.Resolver
	Self     chat.Identity
	// ExpiresIn is the remaining token lifetime reported at startup.
	ExpiresIn time.Duration
	Validator Validator
	Presenter render.Presenter
	Sink      chat.Sink
	Clock     clockwork.Clock
}

type op struct {
	ctx  context.Context
	fn   func(ctx context.Context)
	done chan struct{}
}

// Client owns all chat state. Every mutation happens on the goroutine running
// Run; other goroutines submit operations through the exported methods.
type Client struct {
	Manager  *chat.Manager
	Pipeline *chat.Pipeline
	Feed     *render.Feed

	conn      Conn
	clock     clockwork.Clock
	channels  []chat.ChannelSpec
	expiresIn time.Duration
	validator Validator
	authFail  bool

	ops     chan op
	stopped chan struct{}
	status  atomic.Pointer[Status]
}

// New wires a client from p. Configured channels are joined on every welcome;
// with none configured the local user's own channel is joined.
func New(p Params) *Client {
	cfg := p.Config
	if cfg == nil {
		cfg = &config.Config{History: 150, Delay: render.DefaultDelay, MaxChannels: config.MaxChannelLimit}
	}
	clock := p.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	opts := &chat.Options{
		BotCommands:      cfg.BotCommands,
		StaticEmotes:     cfg.StaticEmotes,
		ThirdPartyEmotes: cfg.ThirdPartyEmotes,
		NoDelete:         cfg.NoDelete,
		StreamNotices:    cfg.StreamNotices,
		ReadOnly:         cfg.ReadOnly,
	}
	feed := render.NewFeed(clock, cfg.Delay, render.Retention{
		History: cfg.History,
		Prune:   cfg.Prune,
		Fresh:   cfg.Fresh,
	}, p.Presenter)

	m := chat.NewManager(p.API, p.Resolver, opts, p.Self, feed)
	m.Clock = clock
	m.Store.MaxChannels = cfg.MaxChannels
	if p.Sink != nil {
		m.Sink = p.Sink
	}
	m.Ignored = chat.NewIgnoreSet(cfg.Ignore...)

	pl := chat.NewPipeline(m.Store, m.Ignored, p.Resolver, opts, p.Self)
	pl.Clock = clock

	channels := make([]chat.ChannelSpec, 0, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		channels = append(channels, chat.ChannelSpec{Login: ch.Name, Background: ch.Color})
	}
	if len(channels) == 0 && p.Self.Login != "" {
		channels = append(channels, chat.ChannelSpec{Login: p.Self.Login})
	}

	c := &Client{
		Manager:   m,
		Pipeline:  pl,
		Feed:      feed,
		conn:      p.Conn,
		clock:     clock,
		channels:  channels,
		expiresIn: p.ExpiresIn,
		validator: p.Validator,
		ops:       make(chan op),
		stopped:   make(chan struct{}),
	}
	c.publish()
	return c
}

// Run connects and processes events until the connection terminates or ctx
// is cancelled. A clean close returns nil.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.stopped)
	log := slog.With(slog.String("component", "client"))

	if err := c.conn.Connect(ctx); err != nil {
		log.Error("connect failed", slog.Any("err", err))
		c.Manager.ErrorNotice("connection failed")
		c.Feed.Flush()
		c.publish()
		return fmt.Errorf("connect: %w", err)
	}

	sweep := c.clock.NewTicker(render.SweepInterval)
	defer sweep.Stop()
	var validate clockwork.Timer
	defer func() {
		if validate != nil {
			validate.Stop()
		}
	}()

	for {
		var validateDue <-chan time.Time
		if validate != nil {
			validateDue = validate.Chan()
		}

		select {
		case <-ctx.Done():
			c.Feed.Flush()
			c.publish()
			return ctx.Err()

		case ev := <-c.conn.Events():
			switch ev := ev.(type) {
			case eventsub.Welcome:
				c.onWelcome(ctx, ev)
				if c.validator != nil && validate == nil {
					validate = c.clock.NewTimer(c.validationInterval())
				}
			case eventsub.Disconnected:
				err := c.onDisconnected(ev)
				c.publish()
				return err
			default:
				c.handle(ctx, ev)
			}

		case <-c.Feed.Due():
			c.Feed.Flush()

		case <-sweep.Chan():
			c.Feed.Sweep(c.clock.Now())

		case <-validateDue:
			if c.revalidate(ctx) {
				validate.Reset(c.validationInterval())
			} else {
				validate = nil
			}

		case o := <-c.ops:
			o.fn(o.ctx)
			c.publish()
			close(o.done)
		}
		c.publish()
	}
}

func (c *Client) handle(ctx context.Context, ev eventsub.Event) {
	switch ev := ev.(type) {
	case eventsub.Connected:
		if c.expiresIn > 0 {
			expires := c.clock.Now().Add(c.expiresIn).Format(time.DateTime)
			c.Manager.Notice(fmt.Sprintf("connection established (access_token expires %s)", expires))
		} else {
			c.Manager.Notice("connection established")
		}
	case eventsub.Error:
		slog.Warn("eventsub error", slog.String("component", "client"), slog.Any("err", ev.Err))
		c.Manager.ErrorNotice("unknown connection error")
	case eventsub.Notification:
		c.dispatch(ev)
	case eventsub.Revocation:
		c.Manager.HandleRevocation(ctx, ev)
	}
}

func (c *Client) onWelcome(ctx context.Context, ev eventsub.Welcome) {
	c.Manager.Welcome(ev.SessionID)
	if err := c.Manager.Resolver.LoadCheermotes(ctx); err != nil {
		slog.Warn("cheermotes unavailable", slog.String("component", "client"), slog.Any("err", err))
	}
	if c.Manager.Options.ThirdPartyEmotes {
		if err := c.Manager.Resolver.LoadGlobal(ctx); err != nil {
			slog.Warn("global emotes unavailable", slog.String("component", "client"), slog.Any("err", err))
		}
	}
	if _, err := c.Manager.Join(ctx, c.channels); err != nil {
		slog.Error("initial join failed", slog.String("component", "client"), slog.Any("err", err))
	}
}

// onDisconnected drops every piece of session state and reports how the
// connection ended.
func (c *Client) onDisconnected(ev eventsub.Disconnected) error {
	c.Manager.Reset()
	c.Feed.Reset()
	slog.Info("eventsub disconnected",
		slog.String("component", "client"),
		slog.Int("code", ev.Code),
		slog.Bool("clean", ev.WasClean),
		slog.String("reason", ev.Reason))

	if c.authFail {
		c.Manager.ErrorNotice("access_token failed validation (refresh)")
	}
	var err error
	if ev.WasClean {
		c.Manager.Notice(fmt.Sprintf("disconnected (%d)", ev.Code))
	} else {
		c.Manager.ErrorNotice(fmt.Sprintf("connection terminated (%d)", ev.Code))
		err = fmt.Errorf("%w: code %d %s", ErrConnectionLost, ev.Code, ev.Reason)
	}
	c.Feed.Flush()
	return err
}

func (c *Client) validationInterval() time.Duration {
	if c.expiresIn > 0 && c.expiresIn < maxValidationInterval {
		return c.expiresIn
	}
	return maxValidationInterval
}

// revalidate checks the token. A rejected token disconnects the session.
func (c *Client) revalidate(ctx context.Context) bool {
	info, err := c.validator.Validate(ctx)
	if err != nil {
		if errors.Is(err, twitchapi.ErrInvalidToken) || errors.Is(err, twitchapi.ErrNoToken) {
			slog.Error("access token rejected", slog.String("component", "client"), slog.Any("err", err))
			c.authFail = true
			c.conn.Disconnect()
			return false
		}
		// transient failures are retried at the next interval
		slog.Warn("token validation failed", slog.String("component", "client"), slog.Any("err", err))
		return true
	}
	c.expiresIn = time.Duration(info.ExpiresIn) * time.Second
	return true
}

// dispatch routes a notification by subscription type.
func (c *Client) dispatch(n eventsub.Notification) {
	log := slog.With(slog.String("component", "client"), slog.String("type", n.Type))
	var err error
	switch n.Type {
	case eventsub.TypeChatMessage:
		var ev eventsub.ChatMessageEvent
		if err = n.Decode(&ev); err == nil {
			if rec, ok := c.Pipeline.Process(ev); ok {
				c.Feed.Append(rec)
			}
		}
	case eventsub.TypeChatMessageDelete:
		var ev eventsub.MessageDeleteEvent
		if err = n.Decode(&ev); err == nil {
			c.Manager.HandleMessageDelete(ev)
		}
	case eventsub.TypeChatClear:
		var ev eventsub.ClearEvent
		if err = n.Decode(&ev); err == nil {
			c.Manager.HandleClear(ev)
		}
	case eventsub.TypeChatClearUserMessages:
		var ev eventsub.ClearUserMessagesEvent
		if err = n.Decode(&ev); err == nil {
			c.Manager.HandleClearUserMessages(ev)
		}
	case eventsub.TypeRaid:
		var ev eventsub.RaidEvent
		if err = n.Decode(&ev); err == nil {
			if rec, ok := c.Pipeline.Raid(ev); ok {
				c.Feed.Append(rec)
			}
		}
	case eventsub.TypeStreamOnline, eventsub.TypeStreamOffline:
		var ev eventsub.StreamEvent
		if err = n.Decode(&ev); err == nil {
			if rec, ok := c.Pipeline.Stream(ev, n.Type == eventsub.TypeStreamOnline); ok {
				c.Feed.Append(rec)
			}
		}
	default:
		log.Debug("unhandled notification")
	}
	if err != nil {
		log.Warn("decode notification failed", slog.String("message_id", n.MessageID), slog.Any("err", err))
	}
}

// do runs fn on the event loop and waits for it to finish.
func (c *Client) do(ctx context.Context, fn func(ctx context.Context)) error {
	o := op{ctx: ctx, fn: fn, done: make(chan struct{})}
	select {
	case c.ops <- o:
	case <-c.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-o.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
