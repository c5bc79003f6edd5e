// Package render batches chat records on their way to a presenter and keeps
// the delivered history within the configured retention policy.
//
// Records are appended to a Buffer, which arms a flush timer on the first
// append after a flush so bursts are delivered together and in order. Flushed
// records move onto the Timeline. A Retention sweep trims the Timeline to the
// history ceiling, prunes old records and moves the freshness marker, but only
// while the presenter sits at the live edge.
package render
