// Package metadata caches the auxiliary data chat messages are rendered with:
// third-party emotes (7TV, BTTV, FFZ), cheermote tiers, chat badges and
// normalized user colors.
//
// A Resolver is populated at session start and cleared when the connection
// goes away. All methods are safe for concurrent use.
package metadata

import (
	"context"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// GlobalScope is the emote scope used for emotes available in every channel.
const GlobalScope = "*"

// EmoteSource fetches the third-party emotes of a scope (GlobalScope or a channel login).
type EmoteSource interface {
	FetchEmotes(ctx context.Context, scope string) ([]ProviderEmote, error)
}

// CheermoteSource fetches the global cheermote list.
type CheermoteSource interface {
	FetchCheermotes(ctx context.Context) ([]Cheermote, error)
}

// Resolver owns the emote, cheermote and color caches.
type Resolver struct {
	emoteSrc EmoteSource
	cheerSrc CheermoteSource

	mu          sync.RWMutex
	emotes      map[string]*Emote
	loaded      map[string]bool
	failed      map[string]struct{}
	cheermotes  map[string][]CheermoteTier
	cheerLoaded bool

	colors *lru.Cache[string, string]
	group  singleflight.Group
}

// NewResolver creates a Resolver. Either source may be nil, in which case the
// matching loads are no-ops.
func NewResolver(emotes EmoteSource, cheermotes CheermoteSource) *Resolver {
	colors, err := lru.New[string, string](colorCacheSize)
	if err != nil {
		// only fails for a non-positive size
		panic(err)
	}
	return &Resolver{
		emoteSrc:   emotes,
		cheerSrc:   cheermotes,
		emotes:     make(map[string]*Emote),
		loaded:     make(map[string]bool),
		failed:     make(map[string]struct{}),
		cheermotes: make(map[string][]CheermoteTier),
		colors:     colors,
	}
}

// Clear drops every cached entry. Static URLs proven unreachable stay
// blacklisted since the assets behind them do not come back between sessions.
func (r *Resolver) Clear() {
	r.mu.Lock()
	r.emotes = make(map[string]*Emote)
	r.loaded = make(map[string]bool)
	r.cheermotes = make(map[string][]CheermoteTier)
	r.cheerLoaded = false
	r.mu.Unlock()
	r.colors.Purge()
	slog.Debug("metadata caches cleared", slog.String("component", "metadata"))
}
