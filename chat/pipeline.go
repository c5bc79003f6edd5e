package chat

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/jonboulle/clockwork"

	"github.com/onnwee/chatweave/config"
	"github.com/onnwee/chatweave/eventsub"
	"github.com/onnwee/chatweave/metadata"
	"github.com/onnwee/chatweave/telemetry"
)

const (
	actionPrefix   = "\x01ACTION "
	twitchEmoteURL = "https://static-cdn.jtvnw.net/emoticons/v2/%s/%s/dark/3.0"
)

var (
	botCommand = regexp.MustCompile(`^!\w+`)
	urlToken   = regexp.MustCompile("^((\\w+://)[-a-zA-Z0-9:@;?&=/%+.*!'(),$_{}^~\\[\\]`#|]+)$")
)

// Options are the runtime display settings shared by Manager and Pipeline.
type Options struct {
	// BotCommands shows messages starting with !command; false suppresses them.
	BotCommands      bool
	StaticEmotes     bool
	ThirdPartyEmotes bool
	// NoDelete marks remotely deleted messages instead of removing them.
	NoDelete bool
	// StreamNotices subscribes to stream.online and stream.offline on join.
	StreamNotices bool
	ReadOnly      bool
}

// Pipeline converts chat notifications into records.
type Pipeline struct {
	Store    *Store
	Ignore   *IgnoreSet
	Resolver *metadata.Resolver
	Options  *Options
	Clock    clockwork.Clock

	self Identity
	ping *regexp.Regexp
}

// NewPipeline returns a pipeline that flags messages mentioning self.
func NewPipeline(store *Store, ignore *IgnoreSet, resolver *metadata.Resolver, opts *Options, self Identity) *Pipeline {
	p := &Pipeline{
		Store:    store,
		Ignore:   ignore,
		Resolver: resolver,
		Options:  opts,
		Clock:    clockwork.NewRealClock(),
		self:     self,
	}
	if self.Login != "" {
		p.ping = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(self.Login) + `\b`)
	}
	return p
}

// Process filters ev and resolves it into a record. The second result is
// false when the message is suppressed.
func (p *Pipeline) Process(ev eventsub.ChatMessageEvent) (MessageRecord, bool) {
	if p.Ignore.Has(ev.ChatterUserLogin) {
		telemetry.IncFiltered("ignored")
		return MessageRecord{}, false
	}
	if !p.Options.BotCommands && botCommand.MatchString(ev.Message.Text) {
		telemetry.IncFiltered("bot_command")
		return MessageRecord{}, false
	}
	s := p.Store.Get(ev.BroadcasterUserLogin)
	if s == nil || !s.Joined || s.Muted {
		telemetry.IncFiltered("channel")
		return MessageRecord{}, false
	}

	var frags []Fragment
	for _, f := range ev.Message.Fragments {
		frags = p.fragment(f, s, frags)
	}

	setIDs := make([]string, 0, len(ev.Badges))
	for _, b := range ev.Badges {
		setIDs = append(setIDs, b.SetID)
	}
	badge, _ := metadata.SelectBadge(setIDs)

	rec := MessageRecord{
		MessageID:   ev.MessageID,
		UserID:      ev.ChatterUserID,
		UserLogin:   ev.ChatterUserLogin,
		DisplayName: ev.ChatterUserName,
		Color:       p.Resolver.UserColor(ev.Color),
		BadgeURL:    badge.URL,
		Text:        ev.Message.Text,
		Fragments:   frags,
		Timestamp:   p.Clock.Now(),
		Flags: Flags{
			Action: strings.HasPrefix(ev.Message.Text, actionPrefix),
			Ping:   p.ping != nil && p.ping.MatchString(ev.Message.Text),
		},
	}.In(s)
	return rec, true
}

func (p *Pipeline) fragment(f eventsub.ChatFragment, s *Session, out []Fragment) []Fragment {
	switch f.Type {
	case eventsub.FragmentText:
		return p.textFragments(f.Text, s, out)

	case eventsub.FragmentMention:
		return append(out, Fragment{Kind: KindMention, Text: escapeHTML(f.Text), User: config.CleanName(f.Text)})

	case eventsub.FragmentEmote:
		if f.Emote == nil {
			break
		}
		variant := "default"
		if p.Options.StaticEmotes {
			variant = "static"
		}
		return append(out, Fragment{
			Kind:   KindEmote,
			Text:   escapeHTML(f.Text),
			URL:    fmt.Sprintf(twitchEmoteURL, f.Emote.ID, variant),
			Source: "TTV",
		})

	case eventsub.FragmentCheermote:
		if f.Cheermote == nil {
			break
		}
		tier := p.Resolver.ResolveCheermote(f.Cheermote.Prefix, f.Cheermote.Tier)
		url := tier.URL
		if p.Options.StaticEmotes && tier.StaticURL != "" {
			url = tier.StaticURL
		}
		return append(out, Fragment{
			Kind:  KindCheermote,
			Text:  escapeHTML(f.Cheermote.Prefix),
			URL:   url,
			Color: tier.Color,
			Bits:  f.Cheermote.Bits,
		})

	default:
		slog.Warn("unknown message fragment type", slog.String("component", "chat"), slog.String("type", f.Type))
	}
	return append(out, Fragment{Kind: KindText, Text: escapeHTML(f.Text)})
}

// textFragments splits text on spaces. Links and third-party emotes become their
// own fragments; runs of literal words (with the separating spaces) stay together.
func (p *Pipeline) textFragments(text string, s *Session, out []Fragment) []Fragment {
	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			out = append(out, Fragment{Kind: KindText, Text: lit.String()})
			lit.Reset()
		}
	}
	for i, tok := range strings.Split(text, " ") {
		if i > 0 {
			lit.WriteByte(' ')
		}
		if f, ok := p.token(tok, s); ok {
			flush()
			out = append(out, f)
			continue
		}
		lit.WriteString(escapeHTML(tok))
	}
	flush()
	return out
}

func (p *Pipeline) token(tok string, s *Session) (Fragment, bool) {
	if tok == "" {
		return Fragment{}, false
	}
	if urlToken.MatchString(tok) {
		return Fragment{Kind: KindLink, Text: escapeHTML(tok), URL: tok}, true
	}
	if !p.Options.ThirdPartyEmotes {
		return Fragment{}, false
	}
	e, ok := p.Resolver.Lookup(s.Login, tok)
	if !ok {
		return Fragment{}, false
	}
	f := Fragment{Kind: KindEmote, Text: escapeHTML(tok), URL: e.URL, Source: string(e.Source)}
	if p.Options.StaticEmotes {
		f.StaticURL = e.StaticURL
	}
	return f, true
}

// Raid builds the notice for a channel.raid event targeting a joined channel.
func (p *Pipeline) Raid(ev eventsub.RaidEvent) (MessageRecord, bool) {
	s := p.Store.Get(ev.ToBroadcasterUserLogin)
	if s == nil || s.Muted {
		return MessageRecord{}, false
	}
	text := fmt.Sprintf("%s is raiding %s with a party of %s!",
		ev.FromBroadcasterUserLogin, ev.ToBroadcasterUserLogin, formatCount(ev.Viewers))
	rec := Notice(text, p.Clock.Now()).In(s)
	rec.Flags.Event = true
	rec.Flags.Action = true
	rec.Flags.Ping = ev.ToBroadcasterUserID == p.self.UserID
	return rec, true
}

// Stream builds the notice for stream.online (online=true) or stream.offline.
func (p *Pipeline) Stream(ev eventsub.StreamEvent, online bool) (MessageRecord, bool) {
	s := p.Store.Get(ev.BroadcasterUserLogin)
	if s == nil || s.Muted {
		return MessageRecord{}, false
	}
	state := "offline"
	if online {
		state = "live"
	}
	rec := Notice(fmt.Sprintf("%s has gone %s!", ev.BroadcasterUserLogin, state), p.Clock.Now()).In(s)
	rec.Flags.Event = true
	rec.Flags.Action = true
	return rec, true
}

// formatCount renders n with thousands separators.
func formatCount(n int) string {
	s := strconv.Itoa(n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
