// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	NotificationsReceived *prometheus.CounterVec // by subscription type
	StaleMessagesDropped  prometheus.Counter
	DuplicateMessages     prometheus.Counter
	MessagesFiltered      *prometheus.CounterVec // by reason
	MessagesDelivered     prometheus.Counter
	JoinsTotal            *prometheus.CounterVec // by result
	SubscriptionRequests  *prometheus.CounterVec // by type, result
	RevocationsTotal      *prometheus.CounterVec // by type
	ReconnectsTotal       *prometheus.CounterVec // by result
	RetentionRemoved      *prometheus.CounterVec // by reason

	// Histograms (seconds unless noted)
	HelixRequestDuration *prometheus.HistogramVec
	FlushBatchSize       prometheus.Observer // records per flush

	// Gauges
	ConnectionStateGauge prometheus.Gauge
	JoinedChannelsGauge  prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		NotificationsReceived = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chatweave_notifications_total", Help: "EventSub notifications received"}, []string{"type"})
		StaleMessagesDropped = promauto.NewCounter(prometheus.CounterOpts{Name: "chatweave_stale_messages_dropped_total", Help: "EventSub messages dropped for exceeding the staleness threshold"})
		DuplicateMessages = promauto.NewCounter(prometheus.CounterOpts{Name: "chatweave_duplicate_messages_dropped_total", Help: "EventSub messages dropped as redeliveries of a seen message id"})
		MessagesFiltered = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chatweave_messages_filtered_total", Help: "Chat messages suppressed by the ingress filters"}, []string{"reason"})
		MessagesDelivered = promauto.NewCounter(prometheus.CounterOpts{Name: "chatweave_messages_delivered_total", Help: "Message records delivered to the presentation sink"})
		JoinsTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chatweave_joins_total", Help: "Channel join attempts"}, []string{"result"})
		SubscriptionRequests = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chatweave_subscription_requests_total", Help: "EventSub subscription create/delete requests"}, []string{"type", "result"})
		RevocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chatweave_revocations_total", Help: "EventSub subscriptions revoked by Twitch"}, []string{"type"})
		ReconnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chatweave_reconnects_total", Help: "EventSub reconnect handoffs"}, []string{"result"})
		RetentionRemoved = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chatweave_retention_removed_total", Help: "Delivered messages removed by the retention sweep"}, []string{"reason"})
		HelixRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{Name: "chatweave_helix_request_duration_seconds", Help: "Helix request duration seconds", Buckets: prometheus.DefBuckets}, []string{"endpoint", "code"})
		FlushBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{Name: "chatweave_flush_batch_size", Help: "Message records delivered per render flush", Buckets: prometheus.ExponentialBuckets(1, 2, 10)})
		ConnectionStateGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "chatweave_connection_state", Help: "EventSub connection state (0=disconnected,1=connecting,2=welcomed,3=reconnecting,4=closed)"})
		JoinedChannelsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "chatweave_joined_channels", Help: "Channels currently joined"})
	})
}

// IncNotification counts a received notification of subscription type typ.
func IncNotification(typ string) {
	if NotificationsReceived != nil {
		NotificationsReceived.WithLabelValues(typ).Inc()
	}
}

// IncStale counts a message dropped for staleness.
func IncStale() {
	if StaleMessagesDropped != nil {
		StaleMessagesDropped.Inc()
	}
}

// IncDuplicate counts a redelivered message id.
func IncDuplicate() {
	if DuplicateMessages != nil {
		DuplicateMessages.Inc()
	}
}

// IncFiltered counts a chat message suppressed for reason.
func IncFiltered(reason string) {
	if MessagesFiltered != nil {
		MessagesFiltered.WithLabelValues(reason).Inc()
	}
}

// IncJoin counts a join attempt by result (joined|failed).
func IncJoin(result string) {
	if JoinsTotal != nil {
		JoinsTotal.WithLabelValues(result).Inc()
	}
}

// IncSubscription counts a subscription request by type and result.
func IncSubscription(typ, result string) {
	if SubscriptionRequests != nil {
		SubscriptionRequests.WithLabelValues(typ, result).Inc()
	}
}

// IncRevocation counts a revoked subscription.
func IncRevocation(typ string) {
	if RevocationsTotal != nil {
		RevocationsTotal.WithLabelValues(typ).Inc()
	}
}

// IncReconnect counts a reconnect handoff by result (switched|failed).
func IncReconnect(result string) {
	if ReconnectsTotal != nil {
		ReconnectsTotal.WithLabelValues(result).Inc()
	}
}

// AddRetentionRemoved counts n messages removed by reason (history|prune).
func AddRetentionRemoved(reason string, n int) {
	if RetentionRemoved != nil && n > 0 {
		RetentionRemoved.WithLabelValues(reason).Add(float64(n))
	}
}

// ObserveFlush records a render flush of n records.
func ObserveFlush(n int) {
	if FlushBatchSize != nil {
		FlushBatchSize.Observe(float64(n))
	}
	if MessagesDelivered != nil {
		MessagesDelivered.Add(float64(n))
	}
}

// ObserveHelix records the duration of a Helix request.
func ObserveHelix(endpoint, code string, d time.Duration) {
	if HelixRequestDuration != nil {
		HelixRequestDuration.WithLabelValues(endpoint, code).Observe(d.Seconds())
	}
}

// SetConnectionState records the numeric connection state.
func SetConnectionState(state int) {
	if ConnectionStateGauge != nil {
		ConnectionStateGauge.Set(float64(state))
	}
}

// SetJoinedChannels records the number of joined channels.
func SetJoinedChannels(n int) {
	if JoinedChannelsGauge != nil {
		JoinedChannelsGauge.Set(float64(n))
	}
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// NewCorrelation returns ctx with a freshly generated correlation id.
func NewCorrelation(ctx context.Context) context.Context {
	return WithCorrelation(ctx, uuid.NewString())
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
