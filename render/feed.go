package render

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/onnwee/chatweave/chat"
	"github.com/onnwee/chatweave/metadata"
)

// Presenter receives delivered entries in order.
type Presenter interface {
	OnMessage(e Entry)
}

type nopPresenter struct{}

func (nopPresenter) OnMessage(Entry) {}

// Feed is the chat.Output of a client: records are queued in the Buffer and
// moved to the Timeline and Presenter on Flush. Deletions apply to both.
type Feed struct {
	Buffer    *Buffer
	Timeline  *Timeline
	Retention Retention
	Presenter Presenter
}

// NewFeed returns a feed with an empty buffer and timeline.
func NewFeed(clock clockwork.Clock, delay time.Duration, retention Retention, p Presenter) *Feed {
	if p == nil {
		p = nopPresenter{}
	}
	return &Feed{
		Buffer:    NewBuffer(clock, delay),
		Timeline:  NewTimeline(),
		Retention: retention,
		Presenter: p,
	}
}

var _ chat.Output = (*Feed)(nil)

// Append queues rec for the next flush.
func (f *Feed) Append(rec chat.MessageRecord) { f.Buffer.Append(rec) }

// Delete removes matching records from the buffer and the timeline.
func (f *Feed) Delete(match chat.Match) int {
	return f.Buffer.Delete(match) + f.Timeline.Delete(match)
}

// MarkDeleted flags matching records in the buffer and the timeline.
func (f *Feed) MarkDeleted(match chat.Match) int {
	return f.Buffer.Mark(match) + f.Timeline.Mark(match)
}

// RemoveDeleted removes every flagged record.
func (f *Feed) RemoveDeleted() int {
	return f.Buffer.RemoveDeleted() + f.Timeline.RemoveDeleted()
}

// Due fires when a flush is pending.
func (f *Feed) Due() <-chan time.Time { return f.Buffer.Due() }

// Flush delivers the queued entries to the timeline and the presenter.
func (f *Feed) Flush() int {
	batch := f.Buffer.Flush()
	f.Timeline.Deliver(batch)
	for _, e := range batch {
		f.Presenter.OnMessage(e)
	}
	return len(batch)
}

// Sweep applies the retention policy.
func (f *Feed) Sweep(now time.Time) SweepResult {
	return f.Retention.Sweep(f.Timeline, now)
}

// SetDelay flushes what is queued and uses d for later flushes.
func (f *Feed) SetDelay(d time.Duration) {
	f.Flush()
	f.Buffer.Delay = d
}

// StaticFailed reports a broken static emote asset to the resolver and fixes
// both queued and delivered records.
func (f *Feed) StaticFailed(r *metadata.Resolver, url string) {
	r.StaticFailed(url)
	f.Buffer.StaticFailed(url)
	f.Timeline.StaticFailed(url)
}

// Reset discards the queue and the delivered history.
func (f *Feed) Reset() {
	f.Buffer.Clear()
	f.Timeline.Clear()
}
