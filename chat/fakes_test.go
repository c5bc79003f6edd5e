package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/onnwee/chatweave/metadata"
	"github.com/onnwee/chatweave/twitchapi"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// fakeAPI is an in-memory Helix.
type fakeAPI struct {
	users      map[string]twitchapi.User
	createErrs map[string]error // "login type"
	deleteErrs map[string]error // subscription id
	lookupErr  error

	lookups [][]string
	created []twitchapi.CreateSubscriptionRequest
	deleted []string
	nextID  int

	sent       []string
	sendResult *twitchapi.SendChatMessageResult
	sendErr    error
}

func newFakeAPI(logins ...string) *fakeAPI {
	f := &fakeAPI{
		users:      make(map[string]twitchapi.User),
		createErrs: make(map[string]error),
		deleteErrs: make(map[string]error),
		sendResult: &twitchapi.SendChatMessageResult{MessageID: "m", IsSent: true},
	}
	for i, l := range logins {
		f.users[l] = twitchapi.User{
			ID:              fmt.Sprintf("%d", 100+i),
			Login:           l,
			DisplayName:     l,
			ProfileImageURL: "https://cdn/" + l + "-profile_image-300x300.png",
		}
	}
	return f
}

func (f *fakeAPI) loginByID(id string) string {
	for l, u := range f.users {
		if u.ID == id {
			return l
		}
	}
	return ""
}

func (f *fakeAPI) GetUsers(_ context.Context, logins []string) ([]twitchapi.User, error) {
	f.lookups = append(f.lookups, logins)
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	var out []twitchapi.User
	// reverse so callers cannot rely on the directory's order
	for i := len(logins) - 1; i >= 0; i-- {
		if u, ok := f.users[logins[i]]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *fakeAPI) CreateEventSubSubscription(_ context.Context, req twitchapi.CreateSubscriptionRequest) (*twitchapi.Subscription, error) {
	id := req.Condition["broadcaster_user_id"]
	if id == "" {
		id = req.Condition["to_broadcaster_user_id"]
	}
	if err := f.createErrs[f.loginByID(id)+" "+req.Type]; err != nil {
		return nil, err
	}
	f.created = append(f.created, req)
	f.nextID++
	return &twitchapi.Subscription{ID: fmt.Sprintf("sub-%d", f.nextID), Status: "enabled", Type: req.Type, Condition: req.Condition}, nil
}

func (f *fakeAPI) DeleteEventSubSubscription(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return f.deleteErrs[id]
}

func (f *fakeAPI) SendChatMessage(_ context.Context, _, _, message string) (*twitchapi.SendChatMessageResult, error) {
	f.sent = append(f.sent, message)
	return f.sendResult, f.sendErr
}

func (f *fakeAPI) createdTypes(login string) []string {
	var out []string
	id := f.users[login].ID
	for _, c := range f.created {
		if c.Condition["broadcaster_user_id"] == id || c.Condition["to_broadcaster_user_id"] == id {
			out = append(out, c.Type)
		}
	}
	return out
}

type entry struct {
	rec     MessageRecord
	deleted bool
}

// fakeOutput keeps records in a slice and applies deletions to it.
type fakeOutput struct {
	entries []entry
}

func (o *fakeOutput) Append(rec MessageRecord) { o.entries = append(o.entries, entry{rec: rec}) }

func (o *fakeOutput) Delete(match Match) int {
	kept := o.entries[:0]
	n := 0
	for _, e := range o.entries {
		if match(e.rec) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	o.entries = kept
	return n
}

func (o *fakeOutput) MarkDeleted(match Match) int {
	n := 0
	for i := range o.entries {
		if !o.entries[i].deleted && match(o.entries[i].rec) {
			o.entries[i].deleted = true
			n++
		}
	}
	return n
}

func (o *fakeOutput) RemoveDeleted() int {
	kept := o.entries[:0]
	n := 0
	for _, e := range o.entries {
		if e.deleted {
			n++
			continue
		}
		kept = append(kept, e)
	}
	o.entries = kept
	return n
}

func (o *fakeOutput) texts() []string {
	out := make([]string, len(o.entries))
	for i, e := range o.entries {
		out[i] = e.rec.Text
	}
	return out
}

func (o *fakeOutput) last() MessageRecord {
	if len(o.entries) == 0 {
		return MessageRecord{}
	}
	return o.entries[len(o.entries)-1].rec
}

type sinkEvent struct {
	kind string
	id   string
	on   bool
}

type recordingSink struct {
	events []sinkEvent
}

func (s *recordingSink) OnChannelJoined(info SessionInfo) {
	s.events = append(s.events, sinkEvent{kind: "joined", id: info.ID})
}
func (s *recordingSink) OnChannelParted(id string) {
	s.events = append(s.events, sinkEvent{kind: "parted", id: id})
}
func (s *recordingSink) OnChannelMuteChanged(id string, muted bool) {
	s.events = append(s.events, sinkEvent{kind: "mute", id: id, on: muted})
}

type staticEmotes map[string][]metadata.ProviderEmote

func (s staticEmotes) FetchEmotes(_ context.Context, scope string) ([]metadata.ProviderEmote, error) {
	return s[scope], nil
}

type staticCheermotes []metadata.Cheermote

func (s staticCheermotes) FetchCheermotes(context.Context) ([]metadata.Cheermote, error) {
	return s, nil
}

type harness struct {
	api  *fakeAPI
	out  *fakeOutput
	sink *recordingSink
	m    *Manager
	p    *Pipeline
	opts *Options
}

// newHarness builds a welcomed manager and pipeline. The first login is the local user.
func newHarness(logins ...string) *harness {
	api := newFakeAPI(logins...)
	out := &fakeOutput{}
	sink := &recordingSink{}
	opts := &Options{BotCommands: true}
	resolver := metadata.NewResolver(staticEmotes{
		metadata.GlobalScope: {
			{Code: "KEKW", Provider: metadata.ProviderBTTV, URLs: []metadata.EmoteURL{{Size: "2x", URL: "https://cdn.betterttv.net/emote/g1/2x"}}},
			{Code: "Pog", Provider: metadata.ProviderBTTV, URLs: []metadata.EmoteURL{{Size: "2x", URL: "https://cdn.betterttv.net/emote/g2/2x"}}},
		},
		"alpha": {
			{Code: "KEKW", Provider: metadata.Provider7TV, URLs: []metadata.EmoteURL{{Size: "2x", URL: "https://cdn.7tv.app/emote/c1/2x"}}},
		},
	}, staticCheermotes{{Prefix: "Cheer", Tiers: []metadata.CheermoteTier{
		{Prefix: "Cheer", MinBits: 100, Color: "#9c3ee8", URL: "https://cheer/100/animated", StaticURL: "https://cheer/100/static"},
	}}})
	self := Identity{}
	if len(logins) > 0 {
		self = Identity{UserID: api.users[logins[0]].ID, Login: logins[0]}
	}
	clock := clockwork.NewFakeClockAt(testNow)
	m := NewManager(api, resolver, opts, self, out)
	m.Sink = sink
	m.Clock = clock
	m.Welcome("session-1")
	p := NewPipeline(m.Store, m.Ignored, resolver, opts, self)
	p.Clock = clock
	return &harness{api: api, out: out, sink: sink, m: m, p: p, opts: opts}
}

func specs(logins ...string) []ChannelSpec {
	out := make([]ChannelSpec, len(logins))
	for i, l := range logins {
		out[i] = ChannelSpec{Login: l}
	}
	return out
}
