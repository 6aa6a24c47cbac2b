package journal

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/linkkeeper/internal/diagnostics"
)

const (
	// DefaultBufferSize is used when the configured size is not positive.
	DefaultBufferSize = 256

	// writeTimeout bounds a single insert.
	writeTimeout = 5 * time.Second
)

// Logger is the logging surface used by Writer.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// record is one queued write; exactly one field is set.
type record struct {
	transition *Transition
	snapshot   *Snapshot
}

// Writer stores journal records from a background goroutine.
//
// Thread Safety:
//   - Transition and Snapshot never block and are safe for concurrent use.
type Writer struct {
	repo     Repository
	deviceID string
	log      Logger

	queue     chan record
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	written atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// NewWriter starts a writer with a queue of bufferSize records.
// A nil log discards messages.
func NewWriter(repo Repository, deviceID string, bufferSize int, log Logger) *Writer {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if log == nil {
		log = noopLogger{}
	}

	w := &Writer{
		repo:     repo,
		deviceID: deviceID,
		log:      log,
		queue:    make(chan record, bufferSize),
		done:     make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

// Transition queues a state change. It returns false if the record was dropped.
func (w *Writer) Transition(layer, from, to, errCode string, retries int, at time.Time) bool {
	return w.enqueue(record{transition: &Transition{
		DeviceID:   w.deviceID,
		Layer:      layer,
		From:       from,
		To:         to,
		Error:      errCode,
		Retries:    retries,
		OccurredAt: at,
	}})
}

// Snapshot queues a diagnostics snapshot. It returns false if the record was dropped.
func (w *Writer) Snapshot(stats diagnostics.Stats, at time.Time) bool {
	return w.enqueue(record{snapshot: &Snapshot{
		DeviceID: w.deviceID,
		TakenAt:  at,
		Stats:    stats,
	}})
}

func (w *Writer) enqueue(r record) bool {
	select {
	case <-w.done:
		w.dropped.Add(1)
		return false
	default:
	}

	// Non-blocking with drop on overflow
	select {
	case w.queue <- r:
		return true
	default:
		w.dropped.Add(1)
		w.log.Warn("journal queue full, dropping record")
		return false
	}
}

func (w *Writer) run() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			w.drain()
			return
		case r := <-w.queue:
			w.store(r)
		}
	}
}

// drain stores whatever is still queued at shutdown.
func (w *Writer) drain() {
	for {
		select {
		case r := <-w.queue:
			w.store(r)
		default:
			return
		}
	}
}

func (w *Writer) store(r record) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	var err error
	switch {
	case r.transition != nil:
		err = w.repo.RecordTransition(ctx, r.transition)
	case r.snapshot != nil:
		err = w.repo.RecordSnapshot(ctx, r.snapshot)
	default:
		return
	}

	if err != nil {
		w.failed.Add(1)
		w.log.Error("journal write failed", "error", err)
		return
	}
	w.written.Add(1)
}

// Close stops accepting records, stores those already queued and waits
// for the background goroutine. Safe to call more than once.
func (w *Writer) Close() {
	w.closeOnce.Do(func() {
		close(w.done)
	})
	w.wg.Wait()
}

// WriterStats reports writer throughput.
type WriterStats struct {
	Written uint64
	Dropped uint64
	Failed  uint64
}

// Stats returns the writer counters.
func (w *Writer) Stats() WriterStats {
	return WriterStats{
		Written: w.written.Load(),
		Dropped: w.dropped.Load(),
		Failed:  w.failed.Load(),
	}
}
