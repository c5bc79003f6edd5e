package render

import (
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/chatweave/chat"
	"github.com/onnwee/chatweave/metadata"
)

var baseTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func rec(channel, id string, ts time.Time) chat.MessageRecord {
	return chat.MessageRecord{ChannelID: channel, MessageID: id, UserLogin: "u" + id, Text: id, Timestamp: ts}
}

func ids(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Record.MessageID
	}
	return out
}

func fired(ch <-chan time.Time) bool {
	select {
	case <-ch:
		return true
	case <-time.After(100 * time.Millisecond):
		return false
	}
}

func TestBufferFlushTimer(t *testing.T) {
	clock := clockwork.NewFakeClockAt(baseTime)
	b := NewBuffer(clock, 50*time.Millisecond)

	assert.Nil(t, b.Due(), "no flush pending before the first append")

	b.Append(rec("c", "1", baseTime))
	b.Append(rec("c", "2", baseTime))
	require.True(t, b.Pending())
	due := b.Due()

	clock.Advance(49 * time.Millisecond)
	assert.False(t, fired(due))

	b.Append(rec("c", "3", baseTime))
	clock.Advance(time.Millisecond)
	assert.True(t, fired(due), "timer armed by the first append, not re-armed by later ones")

	assert.Equal(t, []string{"1", "2", "3"}, ids(b.Flush()))
	assert.False(t, b.Pending())
	assert.Nil(t, b.Due())
	assert.Empty(t, b.Flush())
}

func TestBufferPreservesOrderAcrossBursts(t *testing.T) {
	for _, burst := range []int{1, 7, 250} {
		t.Run(fmt.Sprintf("burst_%d", burst), func(t *testing.T) {
			clock := clockwork.NewFakeClockAt(baseTime)
			feed := NewFeed(clock, 10*time.Millisecond, Retention{}, nil)
			var want []string
			for round := 0; round < 3; round++ {
				for i := 0; i < burst; i++ {
					id := fmt.Sprintf("%d-%d", round, i)
					want = append(want, id)
					feed.Append(rec("c", id, baseTime))
				}
				feed.Flush()
			}
			assert.Equal(t, want, ids(feed.Timeline.Entries()))
		})
	}
}

func TestBufferClearDiscards(t *testing.T) {
	clock := clockwork.NewFakeClockAt(baseTime)
	b := NewBuffer(clock, time.Second)
	b.Append(rec("c", "1", baseTime))
	b.Clear()
	assert.Zero(t, b.Len())
	assert.False(t, b.Pending())
	assert.Empty(t, b.Flush())
}

func TestBufferStaticFailed(t *testing.T) {
	b := NewBuffer(clockwork.NewFakeClockAt(baseTime), time.Second)
	shared := []chat.Fragment{
		{Kind: chat.KindEmote, Text: "Pog", URL: "https://a/2x", StaticURL: "https://a/static"},
		{Kind: chat.KindText, Text: " "},
		{Kind: chat.KindEmote, Text: "Pog", URL: "https://a/2x", StaticURL: "https://a/static"},
	}
	r := rec("c", "1", baseTime)
	r.Fragments = shared
	b.Append(r)
	b.Append(r)

	assert.Equal(t, 4, b.StaticFailed("https://a/static"))
	for _, e := range b.Flush() {
		assert.Equal(t, "https://a/2x", e.Record.Fragments[0].Asset())
		assert.Equal(t, "https://a/2x", e.Record.Fragments[2].Asset())
	}
	assert.Equal(t, "https://a/static", shared[0].StaticURL, "records handed out earlier are not mutated")
}

func TestFeedStaticFailedFixesDeliveredEntries(t *testing.T) {
	feed := NewFeed(clockwork.NewFakeClockAt(baseTime), time.Second, Retention{}, nil)
	emote := chat.Fragment{Kind: chat.KindEmote, Text: "Pog", URL: "https://a/2x", StaticURL: "https://a/static"}
	delivered := rec("c", "1", baseTime)
	delivered.Fragments = []chat.Fragment{emote}
	feed.Append(delivered)
	feed.Flush()
	queued := rec("c", "2", baseTime)
	queued.Fragments = []chat.Fragment{emote}
	feed.Append(queued)

	feed.StaticFailed(metadata.NewResolver(nil, nil), "https://a/static")

	entries := feed.Timeline.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "https://a/2x", entries[0].Record.Fragments[0].Asset())
	for _, e := range feed.Buffer.Flush() {
		assert.Equal(t, "https://a/2x", e.Record.Fragments[0].Asset())
	}
	assert.Equal(t, 0, feed.Timeline.StaticFailed("https://a/static"), "nothing left to fix")
}

func TestFeedDeleteAndMark(t *testing.T) {
	feed := NewFeed(clockwork.NewFakeClockAt(baseTime), time.Second, Retention{}, nil)
	feed.Append(rec("a", "1", baseTime))
	feed.Append(rec("b", "2", baseTime))
	feed.Flush()
	feed.Append(rec("a", "3", baseTime))
	feed.Append(rec("b", "4", baseTime))

	assert.Equal(t, 2, feed.MarkDeleted(chat.MatchChannel("a")))
	assert.Equal(t, 0, feed.MarkDeleted(chat.MatchChannel("a")), "already marked")
	feed.Flush()

	var marked []string
	for _, e := range feed.Timeline.Entries() {
		if e.Deleted {
			marked = append(marked, e.Record.MessageID)
		}
	}
	assert.Equal(t, []string{"1", "3"}, marked)

	assert.Equal(t, 2, feed.RemoveDeleted())
	assert.Equal(t, []string{"2", "4"}, ids(feed.Timeline.Entries()))

	feed.Append(rec("b", "5", baseTime))
	assert.Equal(t, 3, feed.Delete(chat.MatchChannel("b")))
	feed.Flush()
	assert.Empty(t, feed.Timeline.Entries())
}

type recordingPresenter struct{ got []string }

func (p *recordingPresenter) OnMessage(e Entry) { p.got = append(p.got, e.Record.MessageID) }

func TestFeedPresenterAndDelay(t *testing.T) {
	p := &recordingPresenter{}
	feed := NewFeed(clockwork.NewFakeClockAt(baseTime), time.Second, Retention{}, p)
	feed.Append(rec("a", "1", baseTime))
	feed.Append(rec("a", "2", baseTime))

	feed.SetDelay(10 * time.Millisecond)
	assert.Equal(t, []string{"1", "2"}, p.got, "changing the delay flushes")
	assert.Equal(t, 10*time.Millisecond, feed.Buffer.Delay)

	feed.Append(rec("a", "3", baseTime))
	feed.Reset()
	assert.Zero(t, feed.Flush())
	assert.Zero(t, feed.Timeline.Len())
}

func fill(t *Timeline, n int, start time.Time, step time.Duration) {
	batch := make([]Entry, n)
	for i := range batch {
		batch[i] = Entry{Record: rec("c", fmt.Sprint(i), start.Add(time.Duration(i)*step))}
	}
	t.Deliver(batch)
}

func TestSweepHistoryCeiling(t *testing.T) {
	tests := []struct {
		name    string
		history int
		n       int
		want    int
	}{
		{"under ceiling", 10, 5, 5},
		{"trim to history", 10, 25, 10},
		{"zero history uses max", 0, MaxHistory + 20, MaxHistory},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tl := NewTimeline()
			fill(tl, tt.n, baseTime, time.Second)
			res := Retention{History: tt.history}.Sweep(tl, baseTime)
			assert.Equal(t, tt.want, tl.Len())
			assert.Equal(t, tt.n-tt.want, res.Trimmed)
			// the newest entries survive
			entries := tl.Entries()
			assert.Equal(t, fmt.Sprint(tt.n-1), entries[len(entries)-1].Record.MessageID)
		})
	}
}

func TestSweepPrune(t *testing.T) {
	tl := NewTimeline()
	fill(tl, 10, baseTime, time.Minute) // 12:00 .. 12:09
	now := baseTime.Add(10 * time.Minute)

	res := Retention{History: 100, Prune: 5 * time.Minute}.Sweep(tl, now)
	assert.Equal(t, 5, res.Pruned)
	assert.Equal(t, []string{"5", "6", "7", "8", "9"}, ids(tl.Entries()))
}

func TestSweepSkippedOffLiveEdge(t *testing.T) {
	tl := NewTimeline()
	fill(tl, 30, baseTime, time.Minute)
	tl.SetLiveEdge(false)
	now := baseTime.Add(time.Hour)

	res := Retention{History: 5, Prune: time.Minute, Fresh: 10 * time.Minute}.Sweep(tl, now)
	assert.True(t, res.Skipped)
	assert.Equal(t, 30, tl.Len())
	assert.Zero(t, tl.Marker())

	tl.SetLiveEdge(true)
	res = Retention{History: 5}.Sweep(tl, now)
	assert.False(t, res.Skipped)
	assert.Equal(t, 5, tl.Len())
}

func TestSweepMovesMarkerBothWays(t *testing.T) {
	tl := NewTimeline()
	fill(tl, 10, baseTime, time.Minute) // 12:00 .. 12:09
	now := baseTime.Add(10*time.Minute + 30*time.Second)
	r := Retention{History: 100, Fresh: 3 * time.Minute}

	r.Sweep(tl, now)
	assert.Equal(t, 8, tl.Marker(), "marker sits before the first entry newer than 12:07:30")

	r.Fresh = 6 * time.Minute
	r.Sweep(tl, now)
	assert.Equal(t, 5, tl.Marker(), "a longer freshness age moves the marker back")

	r.Fresh = 2 * time.Minute
	r.Sweep(tl, now)
	assert.Equal(t, 9, tl.Marker())

	r.Fresh = 0
	r.Sweep(tl, now.Add(time.Hour))
	assert.Equal(t, 9, tl.Marker(), "disabled freshness leaves the marker alone")
}

func TestRemovalsKeepMarkerOnSameEntry(t *testing.T) {
	tl := NewTimeline()
	fill(tl, 10, baseTime, time.Minute)
	now := baseTime.Add(10*time.Minute + 30*time.Second)
	r := Retention{History: 100, Fresh: 3 * time.Minute}
	r.Sweep(tl, now)
	require.Equal(t, 8, tl.Marker())

	tl.Delete(func(m chat.MessageRecord) bool { return m.MessageID == "1" || m.MessageID == "9" })
	assert.Equal(t, 7, tl.Marker())
	assert.Equal(t, "8", tl.Entries()[tl.Marker()].Record.MessageID)

	r.History = 3
	r.Sweep(tl, now)
	assert.Equal(t, []string{"6", "7", "8"}, ids(tl.Entries()))
	assert.Equal(t, 2, tl.Marker())
}
