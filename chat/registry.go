package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/onnwee/chatweave/eventsub"
	"github.com/onnwee/chatweave/telemetry"
	"github.com/onnwee/chatweave/twitchapi"
)

const statusEnabled = "enabled"

// ErrNotConnected is returned when an operation needs a welcomed EventSub session.
var ErrNotConnected = errors.New("chat: eventsub session not established")

// SubscriptionError is a failed create or delete of one subscription.
type SubscriptionError struct {
	Type    string
	Channel string
	Primary bool
	Err     error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscription %s for #%s: %v", e.Type, e.Channel, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

// Subscriber creates and deletes EventSub subscriptions.
type Subscriber interface {
	CreateEventSubSubscription(ctx context.Context, sub twitchapi.CreateSubscriptionRequest) (*twitchapi.Subscription, error)
	DeleteEventSubSubscription(ctx context.Context, id string) error
}

// Registry is the only writer of Session.Subscriptions.
type Registry struct {
	API Subscriber
	// SessionID is the welcomed EventSub session new subscriptions bind to.
	SessionID string
}

// Subscribe registers typ for s unless it already is. Only an "enabled"
// subscription is recorded; any other status is reported as an error.
func (r *Registry) Subscribe(ctx context.Context, s *Session, typ string, condition map[string]string) error {
	if _, ok := s.Subscriptions[typ]; ok {
		return nil
	}
	if r.SessionID == "" {
		return &SubscriptionError{Type: typ, Channel: s.Login, Primary: typ == eventsub.TypeChatMessage, Err: ErrNotConnected}
	}
	ctx, span := telemetry.StartSpan(ctx, "chat", "subscribe", telemetry.ChannelAttr(s.Login), telemetry.SubscriptionTypeAttr(typ))
	defer span.End()

	sub, err := r.API.CreateEventSubSubscription(ctx, twitchapi.CreateSubscriptionRequest{
		Type:      typ,
		Version:   "1",
		Condition: condition,
		Transport: twitchapi.WebsocketTransport(r.SessionID),
	})
	if err == nil && sub.Status != statusEnabled {
		err = fmt.Errorf("status %q", sub.Status)
	}
	if err != nil {
		telemetry.IncSubscription(typ, "failed_"+twitchapi.ClassifyError(err).String())
		telemetry.RecordError(span, err)
		return &SubscriptionError{Type: typ, Channel: s.Login, Primary: typ == eventsub.TypeChatMessage, Err: err}
	}
	s.Subscriptions[typ] = sub.ID
	telemetry.IncSubscription(typ, "created")
	telemetry.SetSpanSuccess(span)
	return nil
}

// Unsubscribe drops typ from s and deletes it remotely. A subscription that
// no longer exists remotely counts as deleted.
func (r *Registry) Unsubscribe(ctx context.Context, s *Session, typ string) error {
	id, ok := s.Subscriptions[typ]
	if !ok {
		return nil
	}
	delete(s.Subscriptions, typ)
	if err := r.API.DeleteEventSubSubscription(ctx, id); err != nil && !twitchapi.IsNotFound(err) {
		telemetry.IncSubscription(typ, "delete_failed_"+twitchapi.ClassifyError(err).String())
		return &SubscriptionError{Type: typ, Channel: s.Login, Primary: typ == eventsub.TypeChatMessage, Err: err}
	}
	telemetry.IncSubscription(typ, "deleted")
	return nil
}

// UnsubscribeAll removes every subscription of s, primary first. The map is
// always empty afterwards; remote failures are logged and joined into the result.
func (r *Registry) UnsubscribeAll(ctx context.Context, s *Session) error {
	types := make([]string, 0, len(s.Subscriptions))
	for typ := range s.Subscriptions {
		types = append(types, typ)
	}
	sort.Slice(types, func(i, j int) bool {
		if (types[i] == eventsub.TypeChatMessage) != (types[j] == eventsub.TypeChatMessage) {
			return types[i] == eventsub.TypeChatMessage
		}
		return types[i] < types[j]
	})
	var errs []error
	for _, typ := range types {
		if err := r.Unsubscribe(ctx, s, typ); err != nil {
			slog.Warn("unsubscribe failed", slog.String("component", "chat"), slog.String("channel", s.Login),
				slog.String("type", typ), slog.String("class", twitchapi.ClassifyError(err).String()), slog.Any("err", err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
