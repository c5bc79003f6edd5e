package metadata

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const colorCacheSize = 1024

const (
	maxSaturation = 0.80
	minLightness  = 0.60
)

// UserColor adjusts a chat color so it stays readable on a dark background:
// saturation is capped at 80% and lightness raised to at least 60%. Invalid or
// empty input yields "".
func (r *Resolver) UserColor(hex string) string {
	if hex == "" {
		return ""
	}
	if c, ok := r.colors.Get(hex); ok {
		return c
	}
	c := readableColor(hex)
	r.colors.Add(hex, c)
	return c
}

func readableColor(hex string) string {
	rgb, ok := parseHex(hex)
	if !ok {
		return ""
	}
	h, s, l := rgbToHSL(rgb[0], rgb[1], rgb[2])
	s = math.Min(s, maxSaturation)
	l = math.Max(l, minLightness)
	red, green, blue := hslToRGB(h, s, l)
	return fmt.Sprintf("#%02x%02x%02x", red, green, blue)
}

func parseHex(hex string) ([3]float64, bool) {
	var out [3]float64
	hex = strings.TrimPrefix(hex, "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return out, false
	}
	for i := 0; i < 3; i++ {
		v, err := strconv.ParseUint(hex[i*2:i*2+2], 16, 8)
		if err != nil {
			return out, false
		}
		out[i] = float64(v) / 255
	}
	return out, true
}

func rgbToHSL(r, g, b float64) (h, s, l float64) {
	max := math.Max(r, math.Max(g, b))
	min := math.Min(r, math.Min(g, b))
	l = (max + min) / 2
	if max == min {
		return 0, 0, l
	}
	d := max - min
	if l > 0.5 {
		s = d / (2 - max - min)
	} else {
		s = d / (max + min)
	}
	switch max {
	case r:
		h = (g - b) / d
		if g < b {
			h += 6
		}
	case g:
		h = (b-r)/d + 2
	default:
		h = (r-g)/d + 4
	}
	return h / 6, s, l
}

func hslToRGB(h, s, l float64) (uint8, uint8, uint8) {
	if s == 0 {
		v := uint8(math.Round(l * 255))
		return v, v, v
	}
	var q float64
	if l < 0.5 {
		q = l * (1 + s)
	} else {
		q = l + s - l*s
	}
	p := 2*l - q
	conv := func(t float64) uint8 {
		if t < 0 {
			t++
		}
		if t > 1 {
			t--
		}
		var v float64
		switch {
		case t < 1.0/6:
			v = p + (q-p)*6*t
		case t < 0.5:
			v = q
		case t < 2.0/3:
			v = p + (q-p)*(2.0/3-t)*6
		default:
			v = p
		}
		return uint8(math.Round(v * 255))
	}
	return conv(h + 1.0/3), conv(h), conv(h - 1.0/3)
}
