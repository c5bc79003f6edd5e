package render

import (
	"log/slog"
	"time"

	"github.com/onnwee/chatweave/telemetry"
)

const (
	// MaxHistory caps the timeline when no history limit is configured.
	MaxHistory = 1000
	// SweepInterval is how often the client runs a retention sweep.
	SweepInterval = time.Second
)

// Retention defines which delivered records are kept.
type Retention struct {
	// History is the number of records kept (0 = MaxHistory).
	History int
	// Prune removes records older than this (0 = disabled).
	Prune time.Duration
	// Fresh places the freshness marker before records younger than this (0 = disabled).
	Fresh time.Duration
}

// SweepResult reports what a sweep removed.
type SweepResult struct {
	Skipped bool
	Trimmed int
	Pruned  int
}

// Sweep applies the policy to t at time now. Nothing changes while the
// presenter is scrolled away from the live edge.
func (r Retention) Sweep(t *Timeline, now time.Time) SweepResult {
	if !t.AtLiveEdge() {
		return SweepResult{Skipped: true}
	}

	ceiling := r.History
	if ceiling <= 0 {
		ceiling = MaxHistory
	}
	res := SweepResult{Trimmed: t.trim(ceiling)}

	if r.Prune > 0 {
		res.Pruned = t.pruneBefore(now.Add(-r.Prune))
	}

	if r.Fresh > 0 {
		t.moveMarker(now.Add(-r.Fresh))
	}

	if res.Trimmed > 0 {
		telemetry.AddRetentionRemoved("history", res.Trimmed)
	}
	if res.Pruned > 0 {
		telemetry.AddRetentionRemoved("prune", res.Pruned)
	}
	if res.Trimmed+res.Pruned > 0 {
		slog.Debug("retention sweep",
			slog.String("component", "render"),
			slog.Int("trimmed", res.Trimmed),
			slog.Int("pruned", res.Pruned),
			slog.Int("remaining", t.Len()))
	}
	return res
}
