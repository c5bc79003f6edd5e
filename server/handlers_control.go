package server

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	"github.com/onnwee/chatweave/client"
	"github.com/onnwee/chatweave/config"
)

type channelsRequest struct {
	Channels []string `json:"channels"`
}

type usersRequest struct {
	Users []string `json:"users"`
}

func allowMethods(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	return false
}

// HandleJoin joins channels given as "name" or "name:color".
func (h *Handlers) HandleJoin(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	var req channelsRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	channels, err := parseChannelArgs(req.Channels)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(channels) == 0 {
		http.Error(w, "no channels", http.StatusBadRequest)
		return
	}
	joined, err := h.c.Join(r.Context(), channels)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"joined": joined})
}

// HandlePart leaves channels.
func (h *Handlers) HandlePart(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	var req channelsRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	n, err := h.c.Part(r.Context(), cleanNames(req.Channels))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"parted": n})
}

// HandleMute mutes or unmutes a channel. An empty channel with muted=false
// unmutes every channel.
func (h *Handlers) HandleMute(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	var req struct {
		Channel string `json:"channel"`
		Muted   bool   `json:"muted"`
	}
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	login := config.CleanName(req.Channel)
	if login == "" {
		if req.Muted {
			http.Error(w, "channel required", http.StatusBadRequest)
			return
		}
		if err := h.c.UnmuteAll(r.Context()); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	changed, err := h.c.Mute(r.Context(), login, req.Muted)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"changed": changed})
}

// HandleSolo mutes every channel except the given ones.
func (h *Handlers) HandleSolo(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	var req channelsRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.c.Solo(r.Context(), cleanNames(req.Channels)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleBackground sets or clears a channel's background color.
func (h *Handlers) HandleBackground(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	var req struct {
		Channel string `json:"channel"`
		Color   string `json:"color"`
	}
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.c.SetBackground(r.Context(), config.CleanName(req.Channel), req.Color); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleIgnore adds users to the ignore list on POST and removes them on DELETE.
func (h *Handlers) HandleIgnore(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost, http.MethodDelete) {
		return
	}
	var req usersRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	users := cleanNames(req.Users)
	if r.Method == http.MethodDelete {
		removed, err := h.c.Unignore(r.Context(), users)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string][]string{"removed": removed})
		return
	}
	added, err := h.c.Ignore(r.Context(), users)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"added": added})
}

// HandlePurge removes the messages of the given channels, or of every channel
// when none are given.
func (h *Handlers) HandlePurge(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	var req channelsRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	n, err := h.c.Purge(r.Context(), cleanNames(req.Channels))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

// HandleSend posts a chat message as the local user.
func (h *Handlers) HandleSend(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	var req struct {
		Channel string `json:"channel"`
		Text    string `json:"text"`
	}
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.c.Send(r.Context(), config.CleanName(req.Channel), req.Text); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

// HandleSettings returns the runtime settings on GET and applies a
// {"name": value} object on POST. Settings are applied in name order and the
// first failure stops the update.
func (h *Handlers) HandleSettings(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet, http.MethodPost) {
		return
	}
	if r.Method == http.MethodPost {
		var req map[string]json.RawMessage
		if err := decodeJSON(r, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		names := make([]string, 0, len(req))
		for name := range req {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if err := h.c.Set(r.Context(), name, settingValue(req[name])); err != nil {
				writeError(w, err)
				return
			}
		}
	}
	writeJSON(w, http.StatusOK, h.c.Status().Settings)
}

// settingValue accepts both JSON strings and bare numbers or booleans.
func settingValue(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

// HandleLiveEdge records whether the presenter is scrolled to the newest messages.
func (h *Handlers) HandleLiveEdge(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	var req struct {
		Live bool `json:"live"`
	}
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.c.SetLiveEdge(r.Context(), req.Live); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"live": req.Live})
}

// HandleStaticFailed reports a static emote asset that failed to load.
func (h *Handlers) HandleStaticFailed(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	var req struct {
		URL string `json:"url"`
	}
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.URL == "" {
		writeError(w, client.ErrInvalidInput)
		return
	}
	if err := h.c.StaticFailed(r.Context(), req.URL); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
