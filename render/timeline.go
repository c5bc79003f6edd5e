package render

import (
	"time"

	"github.com/onnwee/chatweave/chat"
)

// Timeline is the delivered message history as seen by the presenter.
//
// The freshness marker is an index into the entries: it sits immediately
// before entries[Marker()]. A marker equal to Len() sits after the newest entry.
type Timeline struct {
	entries []Entry
	marker  int
	live    bool
}

// NewTimeline returns an empty timeline at the live edge.
func NewTimeline() *Timeline {
	return &Timeline{live: true}
}

// Deliver appends flushed entries.
func (t *Timeline) Deliver(batch []Entry) {
	t.entries = append(t.entries, batch...)
}

// Entries returns a copy of the delivered entries, oldest first.
func (t *Timeline) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len is the number of delivered entries.
func (t *Timeline) Len() int { return len(t.entries) }

// Marker is the freshness marker position.
func (t *Timeline) Marker() int { return t.marker }

// AtLiveEdge reports whether the presenter is showing the newest entries.
func (t *Timeline) AtLiveEdge() bool { return t.live }

// SetLiveEdge records whether the presenter is scrolled to the newest entries.
func (t *Timeline) SetLiveEdge(live bool) { t.live = live }

// StaticFailed drops a broken static asset from delivered records.
func (t *Timeline) StaticFailed(url string) int {
	n := 0
	for i := range t.entries {
		n += dropStatic(&t.entries[i].Record, url)
	}
	return n
}

// Clear drops every entry and resets the marker.
func (t *Timeline) Clear() {
	t.entries = nil
	t.marker = 0
}

// Delete drops entries selected by match.
func (t *Timeline) Delete(match chat.Match) int {
	return t.drop(func(_ int, e Entry) bool { return match(e.Record) })
}

// Mark flags entries selected by match as deleted.
func (t *Timeline) Mark(match chat.Match) int {
	n := 0
	for i := range t.entries {
		if !t.entries[i].Deleted && match(t.entries[i].Record) {
			t.entries[i].Deleted = true
			n++
		}
	}
	return n
}

// RemoveDeleted drops entries previously marked deleted.
func (t *Timeline) RemoveDeleted() int {
	return t.drop(func(_ int, e Entry) bool { return e.Deleted })
}

// trim drops the oldest entries so at most ceiling remain.
func (t *Timeline) trim(ceiling int) int {
	excess := len(t.entries) - ceiling
	if excess <= 0 {
		return 0
	}
	return t.drop(func(i int, _ Entry) bool { return i < excess })
}

// pruneBefore drops the leading run of entries older than cutoff.
func (t *Timeline) pruneBefore(cutoff time.Time) int {
	n := 0
	for n < len(t.entries) && t.entries[n].Record.Timestamp.Before(cutoff) {
		n++
	}
	if n == 0 {
		return 0
	}
	return t.drop(func(i int, _ Entry) bool { return i < n })
}

// moveMarker places the marker immediately before the oldest entry newer
// than cutoff, walking back first and then forward from its current spot.
func (t *Timeline) moveMarker(cutoff time.Time) {
	for t.marker > 0 && t.entries[t.marker-1].Record.Timestamp.After(cutoff) {
		t.marker--
	}
	for t.marker < len(t.entries) && t.entries[t.marker].Record.Timestamp.Before(cutoff) {
		t.marker++
	}
}

// drop removes entries for which remove returns true, keeping the marker in
// front of the same surviving entry.
func (t *Timeline) drop(remove func(int, Entry) bool) int {
	kept := t.entries[:0]
	n, before := 0, 0
	for i, e := range t.entries {
		if remove(i, e) {
			n++
			if i < t.marker {
				before++
			}
			continue
		}
		kept = append(kept, e)
	}
	// clear the tail so dropped records can be collected
	for i := len(kept); i < len(t.entries); i++ {
		t.entries[i] = Entry{}
	}
	t.entries = kept
	t.marker -= before
	return n
}
