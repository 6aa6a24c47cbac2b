package outbox

import (
	"time"
	"unicode/utf8"
)

const (
	// DefaultCapacity is the queue size used when none is configured.
	DefaultCapacity = 10

	// MaxTopicLen is the maximum stored topic length in bytes.
	MaxTopicLen = 127

	// MaxPayloadLen is the maximum stored payload length in bytes.
	MaxPayloadLen = 511

	// MaxAttempts is the number of failed deliveries after which an entry is dropped.
	MaxAttempts = 3
)

// Entry is a publish request awaiting delivery.
type Entry struct {
	Topic      string
	Payload    []byte
	Retained   bool
	QoS        byte
	EnqueuedAt time.Time
	Attempts   int
}

// DrainResult reports what DrainOne did with the head entry.
type DrainResult int

const (
	// DrainEmpty means there was nothing to deliver.
	DrainEmpty DrainResult = iota
	// DrainDelivered means the head entry was delivered and removed.
	DrainDelivered
	// DrainRetry means delivery failed and the entry stays at the head.
	DrainRetry
	// DrainDropped means delivery failed for the last allowed time and the entry was removed.
	DrainDropped
)

// String returns a short name for the result.
func (r DrainResult) String() string {
	switch r {
	case DrainEmpty:
		return "empty"
	case DrainDelivered:
		return "delivered"
	case DrainRetry:
		return "retry"
	case DrainDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Queue is a bounded FIFO of pending publish requests.
type Queue struct {
	buf   []Entry
	head  int
	count int
}

// New creates a queue with the given capacity.
// A non-positive capacity means DefaultCapacity.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{buf: make([]Entry, capacity)}
}

// Len returns the number of queued entries.
func (q *Queue) Len() int { return q.count }

// Cap returns the fixed capacity.
func (q *Queue) Cap() int { return len(q.buf) }

// Full reports whether the next Enqueue will evict.
func (q *Queue) Full() bool { return q.count == len(q.buf) }

// Enqueue appends e, truncating topic and payload to their bounds and
// resetting its attempt count. If the queue is full the oldest entry is
// evicted and returned with evicted set to true.
func (q *Queue) Enqueue(e Entry) (evicted Entry, wasEvicted bool) {
	e.Topic = truncate(e.Topic, MaxTopicLen)
	e.Payload = truncateBytes(e.Payload, MaxPayloadLen)
	e.Attempts = 0

	if q.Full() {
		evicted = q.buf[q.head]
		wasEvicted = true
		q.buf[q.head] = Entry{}
		q.head = (q.head + 1) % len(q.buf)
		q.count--
	}

	tail := (q.head + q.count) % len(q.buf)
	q.buf[tail] = e
	q.count++

	return evicted, wasEvicted
}

// DrainOne attempts delivery of the head entry.
//
// deliver must report whether the entry was accepted by the transport.
// On failure the entry's attempt count is incremented; once it reaches
// MaxAttempts the entry is dropped, otherwise it stays at the head.
func (q *Queue) DrainOne(deliver func(Entry) bool) (Entry, DrainResult) {
	if q.count == 0 {
		return Entry{}, DrainEmpty
	}

	e := &q.buf[q.head]
	if deliver(*e) {
		delivered := q.pop()
		return delivered, DrainDelivered
	}

	e.Attempts++
	if e.Attempts >= MaxAttempts {
		dropped := q.pop()
		return dropped, DrainDropped
	}
	return *e, DrainRetry
}

// Entries returns a copy of the queued entries in FIFO order.
func (q *Queue) Entries() []Entry {
	out := make([]Entry, 0, q.count)
	for i := 0; i < q.count; i++ {
		out = append(out, q.buf[(q.head+i)%len(q.buf)])
	}
	return out
}

// Clear removes every entry.
func (q *Queue) Clear() {
	clear(q.buf)
	q.head = 0
	q.count = 0
}

func (q *Queue) pop() Entry {
	e := q.buf[q.head]
	q.buf[q.head] = Entry{}
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	return e
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// truncateBytes copies p, cut to at most n bytes. Payloads are opaque so no
// rune boundary is respected.
func truncateBytes(p []byte, n int) []byte {
	if len(p) > n {
		p = p[:n]
	}
	out := make([]byte, len(p))
	copy(out, p)
	return out
}
