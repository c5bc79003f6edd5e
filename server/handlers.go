package server

import (
	"context"

	"github.com/onnwee/chatweave/chat"
	"github.com/onnwee/chatweave/client"
	"github.com/onnwee/chatweave/config"
)

// Controller is the chat client as seen by the HTTP handlers. *client.Client
// implements it.
type Controller interface {
	Status() client.Status
	Join(ctx context.Context, channels []config.Channel) ([]chat.SessionInfo, error)
	Part(ctx context.Context, logins []string) (int, error)
	Mute(ctx context.Context, login string, muted bool) (bool, error)
	Solo(ctx context.Context, logins []string) error
	UnmuteAll(ctx context.Context) error
	SetBackground(ctx context.Context, login, color string) error
	Ignore(ctx context.Context, users []string) ([]string, error)
	Unignore(ctx context.Context, users []string) ([]string, error)
	Purge(ctx context.Context, logins []string) (int, error)
	Send(ctx context.Context, login, text string) error
	Set(ctx context.Context, name, value string) error
	SetLiveEdge(ctx context.Context, live bool) error
	StaticFailed(ctx context.Context, url string) error
}

var _ Controller = (*client.Client)(nil)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	c Controller
}

// NewHandlers creates a new Handlers instance backed by c.
func NewHandlers(c Controller) *Handlers {
	return &Handlers{c: c}
}
