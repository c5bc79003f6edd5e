package chat

import (
	"sort"
	"strings"
)

// DefaultMaxChannels is Twitch's per-token limit on chat subscriptions.
const DefaultMaxChannels = 100

// Identity is the local user the access token belongs to.
type Identity struct {
	UserID string
	Login  string
}

// ChannelSpec is a join request for one channel.
type ChannelSpec struct {
	Login      string
	Background string
}

// Session is the state of one joined (or joining) channel.
type Session struct {
	ID           string
	Login        string
	DisplayName  string
	AvatarURL    string
	Background   string
	Joined       bool
	Muted        bool
	EmotesLoaded bool
	// Subscriptions maps EventSub type to subscription id.
	Subscriptions map[string]string
}

// SessionInfo is a read-only copy of a Session for status reporting and sinks.
type SessionInfo struct {
	ID            string   `json:"id"`
	Login         string   `json:"login"`
	DisplayName   string   `json:"display_name"`
	Background    string   `json:"background,omitempty"`
	Joined        bool     `json:"joined"`
	Muted         bool     `json:"muted"`
	Subscriptions []string `json:"subscriptions"`
}

// Info snapshots the session.
func (s *Session) Info() SessionInfo {
	types := make([]string, 0, len(s.Subscriptions))
	for typ := range s.Subscriptions {
		types = append(types, typ)
	}
	sort.Strings(types)
	return SessionInfo{
		ID:            s.ID,
		Login:         s.Login,
		DisplayName:   s.DisplayName,
		Background:    s.Background,
		Joined:        s.Joined,
		Muted:         s.Muted,
		Subscriptions: types,
	}
}

// Store holds the sessions keyed by login. A session exists from the moment a
// join is attempted until the part (or rollback) completes.
type Store struct {
	MaxChannels int
	sessions    map[string]*Session
}

// NewStore returns an empty store limited to max channels (DefaultMaxChannels if max <= 0).
func NewStore(max int) *Store {
	if max <= 0 || max > DefaultMaxChannels {
		max = DefaultMaxChannels
	}
	return &Store{MaxChannels: max, sessions: make(map[string]*Session)}
}

// Get returns the session for login, or nil. Logins compare case-insensitively.
func (st *Store) Get(login string) *Session { return st.sessions[strings.ToLower(login)] }

// ByID returns the session whose broadcaster id is id, or nil.
func (st *Store) ByID(id string) *Session {
	if id == "" {
		return nil
	}
	for _, s := range st.sessions {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// Len is the number of sessions, joined or not.
func (st *Store) Len() int { return len(st.sessions) }

// Remaining is how many more channels may be joined.
func (st *Store) Remaining() int {
	if n := st.MaxChannels - len(st.sessions); n > 0 {
		return n
	}
	return 0
}

// Sessions returns all sessions sorted by login.
func (st *Store) Sessions() []*Session {
	out := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Login < out[j].Login })
	return out
}

// Joined returns the joined sessions sorted by login.
func (st *Store) Joined() []*Session {
	var out []*Session
	for _, s := range st.Sessions() {
		if s.Joined {
			out = append(out, s)
		}
	}
	return out
}

// Find resolves a channel argument: an exact login, else the first login
// (alphabetically) containing arg.
func (st *Store) Find(arg string) *Session {
	if arg == "" {
		return nil
	}
	if s := st.sessions[arg]; s != nil {
		return s
	}
	for _, s := range st.Sessions() {
		if strings.Contains(s.Login, arg) {
			return s
		}
	}
	return nil
}

func (st *Store) add(s *Session) {
	if s.Subscriptions == nil {
		s.Subscriptions = make(map[string]string)
	}
	st.sessions[s.Login] = s
}

func (st *Store) remove(login string) { delete(st.sessions, login) }

func (st *Store) clear() { st.sessions = make(map[string]*Session) }

// IgnoreSet is the set of logins whose messages are dropped.
type IgnoreSet struct {
	users map[string]struct{}
}

// NewIgnoreSet returns a set holding logins.
func NewIgnoreSet(logins ...string) *IgnoreSet {
	is := &IgnoreSet{users: make(map[string]struct{})}
	for _, l := range logins {
		is.users[l] = struct{}{}
	}
	return is
}

// Has reports whether login is ignored.
func (is *IgnoreSet) Has(login string) bool {
	_, ok := is.users[login]
	return ok
}

func (is *IgnoreSet) add(login string)    { is.users[login] = struct{}{} }
func (is *IgnoreSet) remove(login string) { delete(is.users, login) }

// List returns the ignored logins sorted.
func (is *IgnoreSet) List() []string {
	out := make([]string, 0, len(is.users))
	for u := range is.users {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}
