// Package outbox holds publish requests that could not be delivered yet.
//
// The queue is a fixed-capacity ring. Enqueue never fails: when the ring is
// full the oldest entry is evicted to make room. Delivery is serialised on
// the head entry, so a message that keeps failing is retried in place until
// it has failed MaxAttempts times, and only then does the queue advance.
//
// The queue is memory-resident and is lost on power cycle.
//
// # Thread Safety
//
// A Queue is owned by the connectivity manager and is not safe for
// concurrent use.
package outbox
