package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/jonboulle/clockwork"

	"github.com/onnwee/chatweave/eventsub"
	"github.com/onnwee/chatweave/metadata"
	"github.com/onnwee/chatweave/telemetry"
	"github.com/onnwee/chatweave/twitchapi"
)

// MaxMessageLength is the longest chat message Twitch accepts.
const MaxMessageLength = 500

var (
	// ErrInvalidMessage is an empty or over-long outgoing message.
	ErrInvalidMessage = errors.New("chat: invalid message")
	// ErrUnknownChannel is an operation on a channel that is not joined.
	ErrUnknownChannel = errors.New("chat: unknown channel")
	// ErrReadOnly is returned by SendMessage in read-only mode.
	ErrReadOnly = errors.New("chat: read-only session")
	// ErrMessageDropped means Twitch accepted the request but did not deliver the message.
	ErrMessageDropped = errors.New("chat: message dropped")

	excessSpace = regexp.MustCompile(`\s\s+`)
)

// secondary subscriptions created after the primary, in order.
var secondaryTypes = []string{
	eventsub.TypeChatMessageDelete,
	eventsub.TypeChatClear,
	eventsub.TypeChatClearUserMessages,
}

// Directory resolves logins to users.
type Directory interface {
	GetUsers(ctx context.Context, logins []string) ([]twitchapi.User, error)
}

// Sender posts chat messages.
type Sender interface {
	SendChatMessage(ctx context.Context, broadcasterID, senderID, message string) (*twitchapi.SendChatMessageResult, error)
}

// API is the Helix surface the manager needs; *twitchapi.HelixClient implements it.
type API interface {
	Directory
	Subscriber
	Sender
}

// Sink is notified of channel membership changes.
type Sink interface {
	OnChannelJoined(s SessionInfo)
	OnChannelParted(channelID string)
	OnChannelMuteChanged(channelID string, muted bool)
}

type nopSink struct{}

func (nopSink) OnChannelJoined(SessionInfo)       {}
func (nopSink) OnChannelParted(string)            {}
func (nopSink) OnChannelMuteChanged(string, bool) {}

// Manager performs the channel operations of a session.
type Manager struct {
	Store    *Store
	Registry *Registry
	Ignored  *IgnoreSet
	Options  *Options
	Resolver *metadata.Resolver
	Out      Output
	Sink     Sink
	Clock    clockwork.Clock

	api  API
	self Identity
}

// NewManager wires a manager around api. out receives every notice and deletion.
func NewManager(api API, resolver *metadata.Resolver, opts *Options, self Identity, out Output) *Manager {
	return &Manager{
		Store:    NewStore(DefaultMaxChannels),
		Registry: &Registry{API: api},
		Ignored:  NewIgnoreSet(),
		Options:  opts,
		Resolver: resolver,
		Out:      out,
		Sink:     nopSink{},
		Clock:    clockwork.NewRealClock(),
		api:      api,
		self:     self,
	}
}

// Self returns the local user.
func (m *Manager) Self() Identity { return m.self }

// Welcome binds future subscriptions to the EventSub session id.
func (m *Manager) Welcome(sessionID string) { m.Registry.SessionID = sessionID }

func (m *Manager) notice(text string, s *Session) {
	rec := Notice(text, m.Clock.Now())
	if s != nil {
		rec = rec.In(s)
	}
	m.Out.Append(rec)
}

// Notice appends a system notice not attributed to a channel.
func (m *Manager) Notice(text string) { m.notice(text, nil) }

// ErrorNotice appends a red system notice.
func (m *Manager) ErrorNotice(text string) { m.Out.Append(ErrorNotice(text, m.Clock.Now())) }

// Join joins the requested channels. Channels already in the store are
// skipped and the rest is truncated to the remaining channel budget before
// the directory lookup. Resolved channels are processed in login order; the
// returned sessions are the ones that completed the join.
func (m *Manager) Join(ctx context.Context, specs []ChannelSpec) ([]*Session, error) {
	if m.Registry.SessionID == "" {
		return nil, ErrNotConnected
	}
	var pending []ChannelSpec
	requested := make(map[string]ChannelSpec)
	for _, spec := range specs {
		// Helix answers with lower-case logins
		spec.Login = strings.ToLower(spec.Login)
		if spec.Login == "" || m.Store.Get(spec.Login) != nil {
			continue
		}
		if _, dup := requested[spec.Login]; dup {
			continue
		}
		requested[spec.Login] = spec
		pending = append(pending, spec)
	}
	if n := m.Store.Remaining(); len(pending) > n {
		pending = pending[:n]
	}
	if len(pending) == 0 {
		return nil, nil
	}

	ctx = telemetry.NewCorrelation(ctx)
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "chat"))
	ctx, span := telemetry.StartSpan(ctx, "chat", "join")
	defer span.End()

	logins := make([]string, len(pending))
	for i, spec := range pending {
		logins[i] = spec.Login
	}
	users, err := m.api.GetUsers(ctx, logins)
	if err != nil {
		telemetry.RecordError(span, err)
		log.Error("join lookup failed", slog.Any("channels", logins), slog.Any("err", err))
		m.ErrorNotice(fmt.Sprintf("failed to look up %s", strings.Join(logins, " ")))
		return nil, fmt.Errorf("resolve channels: %w", err)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Login < users[j].Login })

	var joined []*Session
	for _, u := range users {
		spec, ok := requested[u.Login]
		if !ok || m.Store.Get(u.Login) != nil {
			continue
		}
		s := &Session{
			ID:          u.ID,
			Login:       u.Login,
			DisplayName: u.DisplayName,
			AvatarURL:   strings.Replace(u.ProfileImageURL, "profile_image-300x300", "profile_image-50x50", 1),
			Background:  spec.Background,
			Muted:       true,
		}
		if m.joinOne(ctx, log, s) {
			joined = append(joined, s)
		}
	}
	telemetry.SetJoinedChannels(len(m.Store.Joined()))
	telemetry.SetSpanSuccess(span)
	return joined, nil
}

func (m *Manager) joinOne(ctx context.Context, log *slog.Logger, s *Session) bool {
	m.Store.add(s)
	cond := map[string]string{"broadcaster_user_id": s.ID, "user_id": m.self.UserID}

	if err := m.Registry.Subscribe(ctx, s, eventsub.TypeChatMessage, cond); err != nil {
		m.rollback(ctx, s)
		telemetry.IncJoin("failed")
		log.Warn("join failed", slog.String("channel", s.Login),
			slog.String("class", twitchapi.ClassifyError(err).String()), slog.Any("err", err))
		m.notice(fmt.Sprintf("failed to join #%s (%s)", s.Login, describe(err)), s)
		return false
	}
	m.notice("joined #"+s.Login, s)

	for _, typ := range secondaryTypes {
		if err := m.Registry.Subscribe(ctx, s, typ, cond); err != nil {
			log.Warn("secondary subscription failed", slog.String("channel", s.Login), slog.String("type", typ),
				slog.String("class", twitchapi.ClassifyError(err).String()), slog.Any("err", err))
		}
	}

	m.setMuted(s, false)
	if m.Options.ThirdPartyEmotes {
		m.loadChannelEmotes(ctx, s)
	}

	if s.ID == m.self.UserID {
		if err := m.Registry.Subscribe(ctx, s, eventsub.TypeRaid, map[string]string{"to_broadcaster_user_id": s.ID}); err != nil {
			log.Warn("raid subscription failed", slog.String("channel", s.Login), slog.Any("err", err))
		}
	}
	if m.Options.StreamNotices {
		for _, typ := range []string{eventsub.TypeStreamOnline, eventsub.TypeStreamOffline} {
			if err := m.Registry.Subscribe(ctx, s, typ, map[string]string{"broadcaster_user_id": s.ID}); err != nil {
				log.Warn("stream subscription failed", slog.String("channel", s.Login), slog.String("type", typ), slog.Any("err", err))
			}
		}
	}

	s.Joined = true
	telemetry.IncJoin("joined")
	log.Info("joined channel", slog.String("channel", s.Login), slog.Int("subscriptions", len(s.Subscriptions)))
	m.Sink.OnChannelJoined(s.Info())
	return true
}

// rollback removes every trace of a join that did not complete.
func (m *Manager) rollback(ctx context.Context, s *Session) {
	_ = m.Registry.UnsubscribeAll(ctx, s)
	if s.EmotesLoaded {
		m.Resolver.EvictChannel(s.Login)
	}
	m.Store.remove(s.Login)
}

func describe(err error) string {
	var apiErr *twitchapi.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status + " - " + apiErr.Message
	}
	var subErr *SubscriptionError
	if errors.As(err, &subErr) {
		return subErr.Err.Error()
	}
	return err.Error()
}

// Part leaves the joined channels among logins. Every subscription is deleted
// before the session is removed.
func (m *Manager) Part(ctx context.Context, logins []string) int {
	n := 0
	for _, login := range logins {
		s := m.Store.Get(login)
		if s == nil || !s.Joined {
			continue
		}
		m.part(ctx, s)
		n++
	}
	if n > 0 {
		telemetry.SetJoinedChannels(len(m.Store.Joined()))
	}
	return n
}

func (m *Manager) part(ctx context.Context, s *Session) {
	m.setMuted(s, true)
	if err := m.Registry.UnsubscribeAll(ctx, s); err != nil {
		slog.Warn("part left remote subscriptions behind", slog.String("component", "chat"),
			slog.String("channel", s.Login), slog.Any("err", err))
	}
	if s.EmotesLoaded {
		m.Resolver.EvictChannel(s.Login)
		s.EmotesLoaded = false
	}
	rec := Notice("left #"+s.Login, m.Clock.Now())
	rec.ChannelLogin, rec.Background, rec.Avatar = s.Login, s.Background, s.AvatarURL
	m.Out.Append(rec)

	s.Joined = false
	m.Store.remove(s.Login)
	slog.Info("parted channel", slog.String("component", "chat"), slog.String("channel", s.Login))
	m.Sink.OnChannelParted(s.ID)
}

// HandleRevocation reacts to a subscription Twitch terminated. Losing the
// primary subscription parts the channel; other types are dropped locally.
func (m *Manager) HandleRevocation(ctx context.Context, rev eventsub.Revocation) {
	broadcaster := rev.Condition["broadcaster_user_id"]
	if broadcaster == "" {
		broadcaster = rev.Condition["to_broadcaster_user_id"]
	}
	s := m.Store.ByID(broadcaster)
	if s == nil {
		slog.Warn("revocation for unknown channel", slog.String("component", "chat"), slog.String("broadcaster_user_id", broadcaster))
		return
	}
	if id := s.Subscriptions[rev.Type]; id == "" || id != rev.ID {
		slog.Warn("revocation subscription mismatch", slog.String("component", "chat"),
			slog.String("type", rev.Type), slog.String("id", rev.ID), slog.String("registered", id))
		return
	}
	telemetry.IncRevocation(rev.Type)

	if rev.Type == eventsub.TypeChatMessage {
		m.part(ctx, s)
		telemetry.SetJoinedChannels(len(m.Store.Joined()))
		m.notice(fmt.Sprintf("kicked from #%s (%s)", s.Login, rev.Status), s)
		return
	}
	if err := m.Registry.Unsubscribe(ctx, s, rev.Type); err != nil {
		slog.Warn("delete revoked subscription failed", slog.String("component", "chat"), slog.Any("err", err))
	}
}

// SetMuted mutes or unmutes login. It reports whether the state changed.
func (m *Manager) SetMuted(login string, muted bool) bool {
	s := m.Store.Get(login)
	if s == nil {
		return false
	}
	return m.setMuted(s, muted)
}

func (m *Manager) setMuted(s *Session, muted bool) bool {
	if s.Muted == muted {
		return false
	}
	s.Muted = muted
	if muted {
		m.Out.Delete(MatchChannel(s.ID))
	}
	m.Sink.OnChannelMuteChanged(s.ID, muted)
	return true
}

// Solo unmutes the given channels and mutes all others.
func (m *Manager) Solo(logins []string) {
	keep := make(map[string]bool, len(logins))
	for _, l := range logins {
		keep[strings.ToLower(l)] = true
	}
	for _, s := range m.Store.Sessions() {
		m.setMuted(s, !keep[s.Login])
	}
}

// UnmuteAll unmutes every channel.
func (m *Manager) UnmuteAll() {
	for _, s := range m.Store.Sessions() {
		m.setMuted(s, false)
	}
}

// SetBackground sets the background color of login; "" clears it. New records
// carry the color; existing ones keep theirs.
func (m *Manager) SetBackground(login, color string) error {
	s := m.Store.Get(login)
	if s == nil {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, login)
	}
	s.Background = color
	return nil
}

// Ignore adds users to the ignore set and purges their messages. It returns
// the logins that were newly ignored.
func (m *Manager) Ignore(users []string) []string {
	var added []string
	for _, u := range users {
		if u == "" || m.Ignored.Has(u) {
			continue
		}
		m.Ignored.add(u)
		m.Out.Delete(MatchUser(u))
		added = append(added, u)
	}
	sort.Strings(added)
	if len(added) > 0 {
		m.Notice("added ignore: " + strings.Join(added, " "))
	}
	return added
}

// Unignore removes users from the ignore set.
func (m *Manager) Unignore(users []string) []string {
	var removed []string
	for _, u := range users {
		if !m.Ignored.Has(u) {
			continue
		}
		m.Ignored.remove(u)
		removed = append(removed, u)
	}
	sort.Strings(removed)
	if len(removed) > 0 {
		m.Notice("removed ignore: " + strings.Join(removed, " "))
	}
	return removed
}

// Purge removes every record of the given channels.
func (m *Manager) Purge(logins []string) int {
	n := 0
	for _, l := range logins {
		if s := m.Store.Get(l); s != nil {
			n += m.Out.Delete(MatchChannel(s.ID))
		}
	}
	return n
}

// PurgeAll removes every record.
func (m *Manager) PurgeAll() int { return m.Out.Delete(MatchAll) }

// SetNoDelete toggles marking instead of removing remote deletions. Turning it
// off removes the records that were marked meanwhile.
func (m *Manager) SetNoDelete(on bool) {
	m.Options.NoDelete = on
	if !on {
		m.Out.RemoveDeleted()
	}
}

// SetThirdPartyEmotes toggles third-party emotes, loading the global and
// per-channel sets when enabled.
func (m *Manager) SetThirdPartyEmotes(ctx context.Context, on bool) {
	m.Options.ThirdPartyEmotes = on
	if !on {
		return
	}
	if err := m.Resolver.LoadGlobal(ctx); err != nil {
		slog.Warn("global emotes unavailable", slog.String("component", "chat"), slog.Any("err", err))
	}
	for _, s := range m.Store.Joined() {
		m.loadChannelEmotes(ctx, s)
	}
}

func (m *Manager) loadChannelEmotes(ctx context.Context, s *Session) {
	if s.EmotesLoaded {
		return
	}
	if err := m.Resolver.LoadChannel(ctx, s.Login); err != nil {
		slog.Warn("channel emotes unavailable", slog.String("component", "chat"), slog.String("channel", s.Login), slog.Any("err", err))
		return
	}
	s.EmotesLoaded = true
}

// remoteDelete applies a moderation deletion, honoring NoDelete.
func (m *Manager) remoteDelete(match Match) int {
	if m.Options.NoDelete {
		return m.Out.MarkDeleted(match)
	}
	return m.Out.Delete(match)
}

// HandleMessageDelete applies channel.chat.message_delete.
func (m *Manager) HandleMessageDelete(ev eventsub.MessageDeleteEvent) int {
	return m.remoteDelete(MatchMessage(ev.BroadcasterUserID, ev.MessageID))
}

// HandleClear applies channel.chat.clear.
func (m *Manager) HandleClear(ev eventsub.ClearEvent) int {
	return m.remoteDelete(MatchChannel(ev.BroadcasterUserID))
}

// HandleClearUserMessages applies channel.chat.clear_user_messages.
func (m *Manager) HandleClearUserMessages(ev eventsub.ClearUserMessagesEvent) int {
	return m.remoteDelete(MatchChannelUser(ev.BroadcasterUserID, ev.TargetUserID))
}

// SendMessage posts text to login as the local user. Excess whitespace is
// collapsed first. A message Twitch drops is reported as a notice and ErrMessageDropped.
func (m *Manager) SendMessage(ctx context.Context, login, text string) error {
	if m.Options.ReadOnly {
		return ErrReadOnly
	}
	content := strings.TrimRightFunc(excessSpace.ReplaceAllString(text, " "), func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	if content == "" || len([]rune(content)) > MaxMessageLength {
		return ErrInvalidMessage
	}
	s := m.Store.Get(login)
	if s == nil || !s.Joined {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, login)
	}
	if s.Muted {
		return fmt.Errorf("%w: #%s is muted", ErrInvalidMessage, login)
	}
	if m.Registry.SessionID == "" {
		m.ErrorNotice("failed to send message (invalid connection state)")
		return ErrNotConnected
	}

	res, err := m.api.SendChatMessage(ctx, s.ID, m.self.UserID, content)
	if err != nil {
		m.sendFailed(s, describe(err))
		return fmt.Errorf("send message: %w", err)
	}
	if !res.IsSent || res.DropReason != nil {
		reason := "message not sent"
		if res.DropReason != nil {
			reason = res.DropReason.Message
		}
		m.sendFailed(s, reason)
		return fmt.Errorf("%w: %s", ErrMessageDropped, reason)
	}
	return nil
}

func (m *Manager) sendFailed(s *Session, reason string) {
	rec := Notice(reason, m.Clock.Now())
	rec.ChannelLogin, rec.Background, rec.Avatar = s.Login, s.Background, s.AvatarURL
	m.Out.Append(rec)
}

// Reset forgets every channel after the transport failed. Remote
// subscriptions died with the websocket session, so nothing is deleted.
func (m *Manager) Reset() {
	for _, s := range m.Store.Sessions() {
		m.Sink.OnChannelParted(s.ID)
	}
	m.Store.clear()
	m.Registry.SessionID = ""
	m.Resolver.Clear()
	telemetry.SetJoinedChannels(0)
}

// Sessions snapshots every session, sorted by login.
func (m *Manager) Sessions() []SessionInfo {
	all := m.Store.Sessions()
	out := make([]SessionInfo, len(all))
	for i, s := range all {
		out[i] = s.Info()
	}
	return out
}
