package twitchapi

import (
	"context"
	"net/http"

	"github.com/onnwee/chatweave/metadata"
)

type cheermoteImages struct {
	Animated map[string]string `json:"animated"`
	Static   map[string]string `json:"static"`
}

type cheermote struct {
	Prefix string `json:"prefix"`
	Tiers  []struct {
		MinBits int    `json:"min_bits"`
		ID      string `json:"id"`
		Color   string `json:"color"`
		Images  struct {
			Dark  cheermoteImages `json:"dark"`
			Light cheermoteImages `json:"light"`
		} `json:"images"`
	} `json:"tiers"`
}

// FetchCheermotes lists the global cheermotes with dark theme assets at
// scale 2. It implements metadata.CheermoteSource.
func (hc *HelixClient) FetchCheermotes(ctx context.Context) ([]metadata.Cheermote, error) {
	var body struct {
		Data []cheermote `json:"data"`
	}
	if err := hc.do(ctx, http.MethodGet, "/bits/cheermotes", nil, nil, &body); err != nil {
		return nil, err
	}
	out := make([]metadata.Cheermote, 0, len(body.Data))
	for _, c := range body.Data {
		m := metadata.Cheermote{Prefix: c.Prefix}
		for _, t := range c.Tiers {
			m.Tiers = append(m.Tiers, metadata.CheermoteTier{
				Prefix:    c.Prefix,
				MinBits:   t.MinBits,
				Color:     t.Color,
				URL:       t.Images.Dark.Animated["2"],
				StaticURL: t.Images.Dark.Static["2"],
			})
		}
		out = append(out, m)
	}
	return out, nil
}
