package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/onnwee/chatweave/chat"
	"github.com/onnwee/chatweave/client"
	"github.com/onnwee/chatweave/config"
)

// maxBodyBytes bounds control request bodies.
const maxBodyBytes = 64 << 10

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads a single JSON object from the request body into dst.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

// statusFor maps client and chat errors onto HTTP status codes.
func statusFor(err error) int {
	var subErr *chat.SubscriptionError
	switch {
	case errors.Is(err, client.ErrInvalidInput), errors.Is(err, client.ErrUnknownSetting), errors.Is(err, chat.ErrInvalidMessage):
		return http.StatusBadRequest
	case errors.Is(err, chat.ErrReadOnly):
		return http.StatusForbidden
	case errors.Is(err, chat.ErrUnknownChannel):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrNotConnected):
		return http.StatusConflict
	case errors.Is(err, chat.ErrMessageDropped):
		return http.StatusUnprocessableEntity
	case errors.As(err, &subErr):
		return http.StatusBadGateway
	case errors.Is(err, client.ErrStopped), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

// parseChannelArgs parses "name" or "name:color" arguments. Unlike
// config.ParseChannels it rejects malformed entries instead of dropping them.
func parseChannelArgs(args []string) ([]config.Channel, error) {
	out := make([]config.Channel, 0, len(args))
	for _, arg := range args {
		name, color, hasColor := strings.Cut(arg, ":")
		name = config.CleanName(name)
		if !config.IsValidLogin(name) {
			return nil, fmt.Errorf("%w: channel name %q", client.ErrInvalidInput, name)
		}
		ch := config.Channel{Name: name}
		if hasColor && color != "" {
			if ch.Color = config.NormalizeHexColor(color); ch.Color == "" {
				return nil, fmt.Errorf("%w: color %q", client.ErrInvalidInput, color)
			}
		}
		out = append(out, ch)
	}
	return out, nil
}

func cleanNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n = config.CleanName(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}
