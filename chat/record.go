package chat

import (
	"strings"
	"time"
)

// FragmentKind is the rendering class of a message fragment.
type FragmentKind string

const (
	KindText      FragmentKind = "text"
	KindLink      FragmentKind = "link"
	KindMention   FragmentKind = "mention"
	KindEmote     FragmentKind = "emote"
	KindCheermote FragmentKind = "cheermote"
)

// Fragment is one rendered piece of a message body. Text is HTML-escaped.
type Fragment struct {
	Kind FragmentKind
	Text string
	// URL is the link target or the image asset.
	URL string
	// StaticURL is a third-party static variant preferred over URL. It may
	// fail to load; report failures to metadata.Resolver.StaticFailed and fall
	// back to URL.
	StaticURL string
	Source    string
	// User is the cleaned login of a mention.
	User  string
	Color string
	Bits  int
}

// Asset is the image the presenter should load first.
func (f Fragment) Asset() string {
	if f.StaticURL != "" {
		return f.StaticURL
	}
	return f.URL
}

// Flags classify a record for presentation.
type Flags struct {
	System bool
	Event  bool
	Action bool
	Ping   bool
}

// MessageRecord is an immutable, fully resolved message ready for delivery.
type MessageRecord struct {
	ChannelID    string
	ChannelLogin string
	Background   string
	Avatar       string

	MessageID   string
	UserID      string
	UserLogin   string
	DisplayName string
	Color       string
	BadgeURL    string

	// Text is the raw message text as received.
	Text      string
	Fragments []Fragment
	Timestamp time.Time
	Flags     Flags
}

const noticeName = "NOTICE>"

// Notice builds a system record with a single text fragment.
func Notice(text string, ts time.Time) MessageRecord {
	return MessageRecord{
		DisplayName: noticeName,
		Text:        text,
		Fragments:   []Fragment{{Kind: KindText, Text: escapeHTML(text)}},
		Timestamp:   ts,
		Flags:       Flags{System: true},
	}
}

// ErrorNotice is a Notice shaded red.
func ErrorNotice(text string, ts time.Time) MessageRecord {
	rec := Notice(text, ts)
	rec.Background = "red"
	return rec
}

// In attributes the record to channel s.
func (r MessageRecord) In(s *Session) MessageRecord {
	r.ChannelID = s.ID
	r.ChannelLogin = s.Login
	r.Background = s.Background
	r.Avatar = s.AvatarURL
	return r
}

// Body concatenates the fragment texts.
func (r MessageRecord) Body() string {
	var b strings.Builder
	for _, f := range r.Fragments {
		b.WriteString(f.Text)
	}
	return b.String()
}

// Match selects records for deletion.
type Match func(MessageRecord) bool

// MatchAll selects every record.
func MatchAll(MessageRecord) bool { return true }

// MatchChannel selects the records attributed to a channel id.
func MatchChannel(channelID string) Match {
	return func(r MessageRecord) bool { return r.ChannelID == channelID }
}

// MatchUser selects chat messages sent by login in any channel.
func MatchUser(login string) Match {
	return func(r MessageRecord) bool { return !r.Flags.System && r.UserLogin == login }
}

// MatchChannelUser selects messages from one user id in one channel.
func MatchChannelUser(channelID, userID string) Match {
	return func(r MessageRecord) bool { return r.ChannelID == channelID && r.UserID == userID }
}

// MatchMessage selects a single message.
func MatchMessage(channelID, messageID string) Match {
	return func(r MessageRecord) bool { return r.ChannelID == channelID && r.MessageID == messageID }
}

// Output receives records and deletion requests. render.Feed is the production implementation.
type Output interface {
	Append(rec MessageRecord)
	// Delete removes matching records that are buffered or delivered.
	Delete(match Match) int
	// MarkDeleted keeps matching records but flags them as deleted.
	MarkDeleted(match Match) int
	// RemoveDeleted drops every record previously marked deleted.
	RemoveDeleted() int
}

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#039;",
)

func escapeHTML(s string) string { return htmlEscaper.Replace(s) }
