package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/onnwee/chatweave/client"
	"github.com/onnwee/chatweave/eventsub"
)

// HandleHealthz responds to liveness probe requests. The process is alive as
// long as it can answer.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// readinessCheck inspects one aspect of a status snapshot.
type readinessCheck struct {
	name string
	fn   func(client.Status) error
}

// readinessChecks pass while an EventSub session is usable, including during a
// reconnect handoff where the old session still delivers events.
var readinessChecks = []readinessCheck{
	{"connection", func(st client.Status) error {
		switch st.State {
		case eventsub.StateWelcomed.String(), eventsub.StateReconnecting.String():
			return nil
		}
		return fmt.Errorf("eventsub %s", st.State)
	}},
	{"session", func(st client.Status) error {
		if st.SessionID == "" {
			return errors.New("no eventsub session id")
		}
		return nil
	}},
}

// HandleReadyz runs the readiness checks against the current status and
// reports the first failure.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	st := h.c.Status()
	for _, check := range readinessChecks {
		if err := check.fn(st); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":     "ready",
		"state":      st.State,
		"session_id": st.SessionID,
	})
}

// HandleStatus returns the latest client snapshot.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.c.Status())
}
