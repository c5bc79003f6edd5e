package metadata

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// Source identifies the provider an emote came from.
type Source string

const (
	SourceTwitch Source = "TTV"
	Source7TV    Source = "7TV"
	SourceBTTV   Source = "BTTV"
	SourceFFZ    Source = "FFZ"
)

// Provider ids as reported by the emote API.
const (
	ProviderTwitch = 0
	Provider7TV    = 1
	ProviderBTTV   = 2
	ProviderFFZ    = 3
)

// Emote is a cached third-party emote. Entries resolving to the same asset
// share one *Emote, so clearing a static URL affects all of them at once.
type Emote struct {
	Code      string
	Source    Source
	URL       string
	StaticURL string
}

// ProviderEmote is one emote as returned by the emote API.
type ProviderEmote struct {
	Code     string     `json:"code"`
	Provider int        `json:"provider"`
	URLs     []EmoteURL `json:"urls"`
}

// EmoteURL is a single sized asset of a ProviderEmote.
type EmoteURL struct {
	Size string `json:"size"`
	URL  string `json:"url"`
}

// 7TV and BTTV both serve sized assets under /emote/{id}/2x.
var emoteAsset = regexp.MustCompile(`/emote/(.*)/2x`)

func emoteKey(scope, code string) string { return scope + ":" + code }

// Emote returns a copy of the cached emote for code in scope.
func (r *Resolver) Emote(scope, code string) (Emote, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.emotes[emoteKey(scope, code)]; ok {
		return *e, true
	}
	return Emote{}, false
}

// Lookup resolves a code against the channel scope first, then the global one.
func (r *Resolver) Lookup(channel, code string) (Emote, bool) {
	if e, ok := r.Emote(channel, code); ok {
		return e, true
	}
	return r.Emote(GlobalScope, code)
}

// EmotesLoaded reports whether scope has been loaded successfully.
func (r *Resolver) EmotesLoaded(scope string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaded[scope]
}

// LoadGlobal loads the global emote set unless it is already cached.
func (r *Resolver) LoadGlobal(ctx context.Context) error {
	return r.load(ctx, GlobalScope)
}

// LoadChannel loads the emotes of a channel login unless already cached.
func (r *Resolver) LoadChannel(ctx context.Context, login string) error {
	if login == "" || login == GlobalScope {
		return fmt.Errorf("invalid channel scope %q", login)
	}
	return r.load(ctx, login)
}

func (r *Resolver) load(ctx context.Context, scope string) error {
	if r.emoteSrc == nil || r.EmotesLoaded(scope) {
		return nil
	}
	_, err, _ := r.group.Do(scope, func() (any, error) {
		if r.EmotesLoaded(scope) {
			return nil, nil
		}
		list, err := r.emoteSrc.FetchEmotes(ctx, scope)
		if err != nil {
			return nil, err
		}
		added := r.merge(scope, list)
		slog.Debug("emotes loaded", slog.String("component", "metadata"), slog.String("scope", scope), slog.Int("count", added))
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("load %s emotes: %w", scope, err)
	}
	return nil
}

func (r *Resolver) merge(scope string, list []ProviderEmote) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	byURL := make(map[string]*Emote, len(r.emotes))
	for _, e := range r.emotes {
		byURL[e.URL] = e
	}
	added := 0
	for _, pe := range list {
		key := emoteKey(scope, pe.Code)
		if _, exists := r.emotes[key]; exists {
			continue
		}
		e := r.parseEmote(pe, byURL)
		if e == nil {
			continue
		}
		r.emotes[key] = e
		byURL[e.URL] = e
		added++
	}
	r.loaded[scope] = true
	return added
}

// parseEmote converts an API entry. Callers hold r.mu.
func (r *Resolver) parseEmote(pe ProviderEmote, byURL map[string]*Emote) *Emote {
	var src Source
	switch pe.Provider {
	case Provider7TV:
		src = Source7TV
	case ProviderBTTV:
		src = SourceBTTV
	case ProviderFFZ:
		src = SourceFFZ
	default:
		// Twitch emotes arrive as fragments on the message itself.
		return nil
	}
	var url string
	for _, u := range pe.URLs {
		if u.Size == "2x" {
			url = u.URL
			break
		}
	}
	if url == "" {
		return nil
	}
	if e, ok := byURL[url]; ok {
		return e
	}
	static := staticVariant(src, url)
	if _, bad := r.failed[static]; bad || static == url {
		static = ""
	}
	return &Emote{Code: pe.Code, Source: src, URL: url, StaticURL: static}
}

func staticVariant(src Source, url string) string {
	switch src {
	case Source7TV:
		return emoteAsset.ReplaceAllString(url, "/emote/$1/2x_static")
	case SourceBTTV:
		return emoteAsset.ReplaceAllString(url, "/emote/$1/static/2x")
	case SourceFFZ:
		return strings.Replace(url, "/animated/", "/", 1)
	}
	return ""
}

// EvictChannel drops every emote cached for a channel login.
func (r *Resolver) EvictChannel(login string) {
	prefix := emoteKey(login, "")
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.emotes {
		if strings.HasPrefix(k, prefix) {
			delete(r.emotes, k)
		}
	}
	delete(r.loaded, login)
}

// StaticFailed records that a static asset could not be loaded. Every entry
// carrying that URL loses its static variant and the URL is never offered again.
// It returns the number of entries changed.
func (r *Resolver) StaticFailed(url string) int {
	if url == "" {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed[url] = struct{}{}
	n := 0
	for _, e := range r.emotes {
		if e.StaticURL == url {
			e.StaticURL = ""
			n++
		}
	}
	return n
}
