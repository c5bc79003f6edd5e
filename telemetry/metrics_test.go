package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestMetricsInitialized(t *testing.T) {
	Init()
	Init() // idempotent

	if NotificationsReceived == nil || JoinsTotal == nil || HelixRequestDuration == nil {
		t.Fatal("vector metrics not initialized")
	}
	if FlushBatchSize == nil || ConnectionStateGauge == nil || JoinedChannelsGauge == nil {
		t.Fatal("gauges/histograms not initialized")
	}
}

func TestCounterHelpers(t *testing.T) {
	Init()

	tests := []struct {
		name    string
		counter prometheus.Collector
		inc     func()
		want    float64
	}{
		{"notification", NotificationsReceived.WithLabelValues("channel.chat.message"), func() { IncNotification("channel.chat.message") }, 1},
		{"stale", StaleMessagesDropped, IncStale, 1},
		{"duplicate", DuplicateMessages, IncDuplicate, 1},
		{"filtered", MessagesFiltered.WithLabelValues("ignored"), func() { IncFiltered("ignored") }, 1},
		{"join", JoinsTotal.WithLabelValues("failed"), func() { IncJoin("failed") }, 1},
		{"subscription", SubscriptionRequests.WithLabelValues("channel.raid", "created"), func() { IncSubscription("channel.raid", "created") }, 1},
		{"revocation", RevocationsTotal.WithLabelValues("channel.chat.clear"), func() { IncRevocation("channel.chat.clear") }, 1},
		{"reconnect", ReconnectsTotal.WithLabelValues("switched"), func() { IncReconnect("switched") }, 1},
		{"retention", RetentionRemoved.WithLabelValues("prune"), func() { AddRetentionRemoved("prune", 3); AddRetentionRemoved("prune", 0) }, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := testutil.ToFloat64(tt.counter)
			tt.inc()
			if got := testutil.ToFloat64(tt.counter) - before; got != tt.want {
				t.Errorf("delta = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGaugeHelpers(t *testing.T) {
	Init()

	SetConnectionState(2)
	if got := testutil.ToFloat64(ConnectionStateGauge); got != 2 {
		t.Errorf("connection state = %v, want 2", got)
	}
	SetJoinedChannels(7)
	if got := testutil.ToFloat64(JoinedChannelsGauge); got != 7 {
		t.Errorf("joined channels = %v, want 7", got)
	}
}

func TestObserveFlush(t *testing.T) {
	Init()

	before := testutil.ToFloat64(MessagesDelivered)
	ObserveFlush(5)
	if got := testutil.ToFloat64(MessagesDelivered) - before; got != 5 {
		t.Errorf("delivered delta = %v, want 5", got)
	}
	ObserveHelix("/users", "200", 20*time.Millisecond)
	var m dto.Metric
	if err := HelixRequestDuration.WithLabelValues("/users", "200").(prometheus.Metric).Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	if m.GetHistogram().GetSampleCount() == 0 {
		t.Error("helix histogram recorded no observation")
	}
}

func TestCorrelation(t *testing.T) {
	ctx := context.Background()
	if GetCorrelation(ctx) != "" {
		t.Fatal("empty context should carry no correlation id")
	}
	ctx = WithCorrelation(ctx, "abc")
	if GetCorrelation(ctx) != "abc" {
		t.Errorf("GetCorrelation() = %q, want abc", GetCorrelation(ctx))
	}
	if id := GetCorrelation(NewCorrelation(context.Background())); len(id) != 36 {
		t.Errorf("NewCorrelation id = %q, want uuid", id)
	}
	if LoggerWithCorr(ctx) == nil {
		t.Error("LoggerWithCorr returned nil")
	}
}
