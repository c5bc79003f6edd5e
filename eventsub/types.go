package eventsub

import (
	"encoding/json"
	"time"
)

// Subscription types handled by this module.
const (
	TypeChatMessage           = "channel.chat.message"
	TypeChatMessageDelete     = "channel.chat.message_delete"
	TypeChatClear             = "channel.chat.clear"
	TypeChatClearUserMessages = "channel.chat.clear_user_messages"
	TypeRaid                  = "channel.raid"
	TypeStreamOnline          = "stream.online"
	TypeStreamOffline         = "stream.offline"
)

// Streaming message types.
const (
	MessageWelcome      = "session_welcome"
	MessageKeepalive    = "session_keepalive"
	MessageReconnect    = "session_reconnect"
	MessageNotification = "notification"
	MessageRevocation   = "revocation"
)

// ChatMessageEvent is the channel.chat.message event.
type ChatMessageEvent struct {
	BroadcasterUserID    string      `json:"broadcaster_user_id"`
	BroadcasterUserLogin string      `json:"broadcaster_user_login"`
	BroadcasterUserName  string      `json:"broadcaster_user_name"`
	ChatterUserID        string      `json:"chatter_user_id"`
	ChatterUserLogin     string      `json:"chatter_user_login"`
	ChatterUserName      string      `json:"chatter_user_name"`
	MessageID            string      `json:"message_id"`
	Message              ChatMessage `json:"message"`
	MessageType          string      `json:"message_type"`
	Color                string      `json:"color"`
	Badges               []ChatBadge `json:"badges"`
}

// ChatMessage is the body of a chat message.
type ChatMessage struct {
	Text      string         `json:"text"`
	Fragments []ChatFragment `json:"fragments"`
}

// ChatFragment is one typed piece of a chat message body.
type ChatFragment struct {
	Type      string         `json:"type"`
	Text      string         `json:"text"`
	Cheermote *CheermoteInfo `json:"cheermote"`
	Emote     *EmoteInfo     `json:"emote"`
	Mention   *MentionInfo   `json:"mention"`
}

// Fragment types.
const (
	FragmentText      = "text"
	FragmentCheermote = "cheermote"
	FragmentEmote     = "emote"
	FragmentMention   = "mention"
)

// CheermoteInfo describes a cheermote fragment.
type CheermoteInfo struct {
	Prefix string `json:"prefix"`
	Bits   int    `json:"bits"`
	Tier   int    `json:"tier"`
}

// EmoteInfo describes a Twitch emote fragment.
type EmoteInfo struct {
	ID         string   `json:"id"`
	EmoteSetID string   `json:"emote_set_id"`
	OwnerID    string   `json:"owner_id"`
	Format     []string `json:"format"`
}

// MentionInfo describes a mention fragment.
type MentionInfo struct {
	UserID    string `json:"user_id"`
	UserLogin string `json:"user_login"`
	UserName  string `json:"user_name"`
}

// ChatBadge is a badge displayed next to the chatter.
type ChatBadge struct {
	SetID string `json:"set_id"`
	ID    string `json:"id"`
	Info  string `json:"info"`
}

// MessageDeleteEvent is the channel.chat.message_delete event.
type MessageDeleteEvent struct {
	BroadcasterUserID    string `json:"broadcaster_user_id"`
	BroadcasterUserLogin string `json:"broadcaster_user_login"`
	TargetUserID         string `json:"target_user_id"`
	TargetUserLogin      string `json:"target_user_login"`
	MessageID            string `json:"message_id"`
}

// ClearEvent is the channel.chat.clear event.
type ClearEvent struct {
	BroadcasterUserID    string `json:"broadcaster_user_id"`
	BroadcasterUserLogin string `json:"broadcaster_user_login"`
}

// ClearUserMessagesEvent is the channel.chat.clear_user_messages event.
type ClearUserMessagesEvent struct {
	BroadcasterUserID    string `json:"broadcaster_user_id"`
	BroadcasterUserLogin string `json:"broadcaster_user_login"`
	TargetUserID         string `json:"target_user_id"`
	TargetUserLogin      string `json:"target_user_login"`
}

// RaidEvent is the channel.raid event.
type RaidEvent struct {
	FromBroadcasterUserID    string `json:"from_broadcaster_user_id"`
	FromBroadcasterUserLogin string `json:"from_broadcaster_user_login"`
	FromBroadcasterUserName  string `json:"from_broadcaster_user_name"`
	ToBroadcasterUserID      string `json:"to_broadcaster_user_id"`
	ToBroadcasterUserLogin   string `json:"to_broadcaster_user_login"`
	ToBroadcasterUserName    string `json:"to_broadcaster_user_name"`
	Viewers                  int    `json:"viewers"`
}

// StreamEvent is the stream.online and stream.offline event.
type StreamEvent struct {
	ID                   string    `json:"id"`
	BroadcasterUserID    string    `json:"broadcaster_user_id"`
	BroadcasterUserLogin string    `json:"broadcaster_user_login"`
	BroadcasterUserName  string    `json:"broadcaster_user_name"`
	Type                 string    `json:"type"`
	StartedAt            time.Time `json:"started_at"`
}

// wire envelope ---------------------------------------------------------------

type message struct {
	Metadata struct {
		MessageID           string `json:"message_id"`
		MessageType         string `json:"message_type"`
		MessageTimestamp    string `json:"message_timestamp"`
		SubscriptionType    string `json:"subscription_type"`
		SubscriptionVersion string `json:"subscription_version"`
	} `json:"metadata"`
	Payload struct {
		Session *struct {
			ID                      string `json:"id"`
			Status                  string `json:"status"`
			KeepaliveTimeoutSeconds int    `json:"keepalive_timeout_seconds"`
			ReconnectURL            string `json:"reconnect_url"`
		} `json:"session"`
		Subscription *struct {
			ID        string            `json:"id"`
			Status    string            `json:"status"`
			Type      string            `json:"type"`
			Version   string            `json:"version"`
			Condition map[string]string `json:"condition"`
		} `json:"subscription"`
		Event json.RawMessage `json:"event"`
	} `json:"payload"`
}
