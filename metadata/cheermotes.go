package metadata

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Cheermote is one cheermote prefix with its tiers.
type Cheermote struct {
	Prefix string
	Tiers  []CheermoteTier
}

// CheermoteTier is the rendering data for one bits threshold of a cheermote.
type CheermoteTier struct {
	Prefix    string
	MinBits   int
	Color     string
	URL       string
	StaticURL string
}

type bitsBucket struct {
	min   int
	name  string
	color string
}

// Generic buckets used when a cheermote is not in the cache, highest first.
var bitsBuckets = []bitsBucket{
	{10000, "red", "#f43021"},
	{5000, "blue", "#0099fe"},
	{1000, "green", "#1db2a5"},
	{100, "purple", "#9c3ee8"},
	{0, "gray", "#979797"},
}

const bitsAssetURL = "https://static-cdn.jtvnw.net/bits/dark/%s/%s/2"

// LoadCheermotes fetches the cheermote list once per session.
func (r *Resolver) LoadCheermotes(ctx context.Context) error {
	if r.cheerSrc == nil {
		return nil
	}
	r.mu.RLock()
	done := r.cheerLoaded
	r.mu.RUnlock()
	if done {
		return nil
	}
	_, err, _ := r.group.Do("cheermotes", func() (any, error) {
		list, err := r.cheerSrc.FetchCheermotes(ctx)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		for _, c := range list {
			prefix := strings.ToLower(c.Prefix)
			tiers := make([]CheermoteTier, 0, len(c.Tiers))
			for _, t := range c.Tiers {
				t.Prefix = c.Prefix
				tiers = append(tiers, t)
			}
			r.cheermotes[prefix] = tiers
		}
		r.cheerLoaded = true
		slog.Debug("cheermotes loaded", slog.String("component", "metadata"), slog.Int("count", len(list)))
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("load cheermotes: %w", err)
	}
	return nil
}

// Cheermote looks up the tier of prefix whose threshold equals tier. The
// prefix match is case-insensitive.
func (r *Resolver) Cheermote(prefix string, tier int) (CheermoteTier, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.cheermotes[strings.ToLower(prefix)] {
		if t.MinBits == tier {
			return t, true
		}
	}
	return CheermoteTier{}, false
}

// FallbackCheermote returns the generic bits asset for a tier that is not cached.
func FallbackCheermote(prefix string, tier int) CheermoteTier {
	b := bitsBuckets[len(bitsBuckets)-1]
	for _, candidate := range bitsBuckets {
		if tier >= candidate.min {
			b = candidate
			break
		}
	}
	return CheermoteTier{
		Prefix:    prefix,
		MinBits:   b.min,
		Color:     b.color,
		URL:       fmt.Sprintf(bitsAssetURL, "animated", b.name),
		StaticURL: fmt.Sprintf(bitsAssetURL, "static", b.name),
	}
}

// ResolveCheermote returns the cached tier or the generic fallback.
func (r *Resolver) ResolveCheermote(prefix string, tier int) CheermoteTier {
	if t, ok := r.Cheermote(prefix, tier); ok {
		return t
	}
	return FallbackCheermote(prefix, tier)
}
