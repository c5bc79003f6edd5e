// Package console prints delivered chat entries to a terminal.
package console

import (
	"fmt"
	"html"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/onnwee/chatweave/chat"
	"github.com/onnwee/chatweave/render"
)

// TimeFormat is the timestamp layout of each line.
const TimeFormat = "15:04:05"

// Presenter writes one line per entry:
//
//	15:04:05 #channel Name: message
type Presenter struct {
	// NoColor disables escape sequences regardless of the terminal.
	NoColor bool

	mu  sync.Mutex
	out io.Writer
}

// New returns a presenter writing to out.
func New(out io.Writer) *Presenter {
	return &Presenter{out: out}
}

var _ render.Presenter = (*Presenter)(nil)

func (p *Presenter) paint(attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	if p.NoColor {
		c.DisableColor()
	} else {
		c.EnableColor()
	}
	return c
}

// hexColor paints a "#rrggbb" color, falling back to attrs when s is not one.
func (p *Presenter) hexColor(s string, attrs ...color.Attribute) *color.Color {
	if len(s) == 7 && s[0] == '#' {
		if v, err := strconv.ParseUint(s[1:], 16, 32); err == nil {
			c := color.RGB(int(v>>16&0xff), int(v>>8&0xff), int(v&0xff))
			for _, a := range attrs {
				c.Add(a)
			}
			if p.NoColor {
				c.DisableColor()
			} else {
				c.EnableColor()
			}
			return c
		}
	}
	return p.paint(attrs...)
}

// OnMessage prints e.
func (p *Presenter) OnMessage(e render.Entry) {
	line := p.Format(e)
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintln(p.out, line)
}

// Format renders e as a single line.
func (p *Presenter) Format(e render.Entry) string {
	r := e.Record
	var b strings.Builder

	b.WriteString(p.paint(color.Faint).Sprint(r.Timestamp.Local().Format(TimeFormat)))
	b.WriteByte(' ')
	if r.ChannelLogin != "" {
		b.WriteString(p.hexColor(r.Background, color.FgHiBlack).Sprint("#" + r.ChannelLogin))
		b.WriteByte(' ')
	}

	switch {
	case r.Flags.System && r.Background == "red":
		b.WriteString(p.paint(color.FgRed, color.Bold).Sprint(r.DisplayName))
	case r.Flags.System:
		b.WriteString(p.paint(color.FgYellow, color.Bold).Sprint(r.DisplayName))
	default:
		b.WriteString(p.hexColor(r.Color, color.Bold).Sprint(r.DisplayName + ":"))
	}
	b.WriteByte(' ')

	body := p.body(r)
	var attrs []color.Attribute
	if r.Flags.Action {
		attrs = append(attrs, color.Italic)
	}
	if r.Flags.Event {
		attrs = append(attrs, color.FgCyan)
	}
	if r.Flags.Ping {
		attrs = append(attrs, color.BgHiBlack)
	}
	if e.Deleted {
		attrs = append(attrs, color.CrossedOut, color.Faint)
	}
	if len(attrs) > 0 {
		body = p.paint(attrs...).Sprint(body)
	}
	b.WriteString(body)
	return b.String()
}

func (p *Presenter) body(r chat.MessageRecord) string {
	var b strings.Builder
	for _, f := range r.Fragments {
		text := html.UnescapeString(f.Text)
		switch f.Kind {
		case chat.KindEmote:
			b.WriteString(p.paint(color.FgMagenta).Sprint(text))
		case chat.KindCheermote:
			b.WriteString(p.hexColor(f.Color, color.Bold).Sprint(text))
		case chat.KindMention:
			b.WriteString(p.paint(color.Bold).Sprint(text))
		case chat.KindLink:
			b.WriteString(p.paint(color.Underline).Sprint(text))
		default:
			b.WriteString(text)
		}
	}
	return b.String()
}
