package render

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/onnwee/chatweave/chat"
	"github.com/onnwee/chatweave/telemetry"
)

// DefaultDelay is the flush delay used when none is configured.
const DefaultDelay = 50 * time.Millisecond

// Entry is a record together with its deletion mark.
type Entry struct {
	Record  chat.MessageRecord
	Deleted bool
}

// Buffer queues records until its flush timer fires.
type Buffer struct {
	Delay time.Duration
	Clock clockwork.Clock

	queue []Entry
	timer clockwork.Timer
}

// NewBuffer returns an empty buffer flushing delay after the first append.
func NewBuffer(clock clockwork.Clock, delay time.Duration) *Buffer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Buffer{Delay: delay, Clock: clock}
}

// Append queues rec and arms the flush timer if it is not already pending.
func (b *Buffer) Append(rec chat.MessageRecord) {
	b.queue = append(b.queue, Entry{Record: rec})
	if b.timer == nil {
		b.timer = b.Clock.NewTimer(b.Delay)
	}
}

// Due fires when the pending flush should run. It is nil while no flush is
// pending, so selecting on it blocks.
func (b *Buffer) Due() <-chan time.Time {
	if b.timer == nil {
		return nil
	}
	return b.timer.Chan()
}

// Pending reports whether a flush is armed.
func (b *Buffer) Pending() bool { return b.timer != nil }

// Len is the number of queued entries.
func (b *Buffer) Len() int { return len(b.queue) }

// Flush returns the queued entries in append order and disarms the timer.
func (b *Buffer) Flush() []Entry {
	b.disarm()
	out := b.queue
	b.queue = nil
	if len(out) > 0 {
		telemetry.ObserveFlush(len(out))
	}
	return out
}

// Clear discards the queue without delivering it.
func (b *Buffer) Clear() {
	b.disarm()
	b.queue = nil
}

func (b *Buffer) disarm() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

// Delete drops queued records selected by match.
func (b *Buffer) Delete(match chat.Match) int {
	return b.drop(func(e Entry) bool { return match(e.Record) })
}

// Mark flags queued records selected by match as deleted.
func (b *Buffer) Mark(match chat.Match) int {
	n := 0
	for i := range b.queue {
		if !b.queue[i].Deleted && match(b.queue[i].Record) {
			b.queue[i].Deleted = true
			n++
		}
	}
	return n
}

// RemoveDeleted drops queued records previously marked deleted.
func (b *Buffer) RemoveDeleted() int {
	return b.drop(func(e Entry) bool { return e.Deleted })
}

func (b *Buffer) drop(remove func(Entry) bool) int {
	kept := b.queue[:0]
	n := 0
	for _, e := range b.queue {
		if remove(e) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	b.queue = kept
	return n
}

// StaticFailed drops a broken static asset from queued records so the
// presenter loads the fallback URL instead.
func (b *Buffer) StaticFailed(url string) int {
	n := 0
	for i := range b.queue {
		n += dropStatic(&b.queue[i].Record, url)
	}
	return n
}

// dropStatic clears url from the record's fragments. The fragment slice may be
// shared with records already handed out, so it is copied before the first change.
func dropStatic(rec *chat.MessageRecord, url string) int {
	var fixed []chat.Fragment
	n := 0
	for j, f := range rec.Fragments {
		if f.StaticURL != url {
			continue
		}
		if fixed == nil {
			fixed = make([]chat.Fragment, len(rec.Fragments))
			copy(fixed, rec.Fragments)
		}
		fixed[j].StaticURL = ""
		n++
	}
	if fixed != nil {
		rec.Fragments = fixed
	}
	return n
}
