package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/crewflow/internal/model"
)

// DefaultCapacity bounds the entries an AsyncSink holds before dropping.
const DefaultCapacity = 4096

// DropReason says why an entry was not persisted.
type DropReason string

const (
	DropFull   DropReason = "queue_full"
	DropClosed DropReason = "closed"
	DropWrite  DropReason = "write_failed"
)

// entryQueue is a thread-safe bounded FIFO of audit entries.
//
// The queue uses a channel for signaling so the worker can wait on
// both new entries and context cancellation.
type entryQueue struct {
	mu       sync.Mutex
	entries  []model.AuditLogEntry
	capacity int
	closed   bool
	signal   chan struct{} // buffered, size 1
}

func newEntryQueue(capacity int) *entryQueue {
	return &entryQueue{
		entries:  make([]model.AuditLogEntry, 0, 64),
		capacity: capacity,
		signal:   make(chan struct{}, 1),
	}
}

// Enqueue adds an entry to the back of the queue.
func (q *entryQueue) Enqueue(e model.AuditLogEntry) (bool, DropReason) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false, DropClosed
	}
	if len(q.entries) >= q.capacity {
		return false, DropFull
	}
	q.entries = append(q.entries, e)

	// Non-blocking: a buffer of 1 coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true, ""
}

// TryDequeue removes the front entry without blocking.
func (q *entryQueue) TryDequeue() (model.AuditLogEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return model.AuditLogEntry{}, false
	}
	e := q.entries[0]
	// Clear the slot so the backing array does not pin record maps.
	q.entries[0] = model.AuditLogEntry{}
	if len(q.entries) == 1 {
		q.entries = q.entries[:0]
	} else {
		q.entries = q.entries[1:]
	}
	return e, true
}

// Wait signals that entries may be available. The channel is closed
// once the queue is closed.
func (q *entryQueue) Wait() <-chan struct{} {
	return q.signal
}

func (q *entryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func (q *entryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// AsyncOptions configures an AsyncSink.
type AsyncOptions struct {
	Capacity int
	// WriteTimeout bounds each write to the wrapped sink.
	WriteTimeout time.Duration
	// OnDrop is called once per entry that is not persisted.
	OnDrop func(DropReason)
}

// AsyncSink queues entries and writes them from a single worker, so an
// evaluation never waits on the audit store.
type AsyncSink struct {
	next    Sink
	queue   *entryQueue
	timeout time.Duration
	onDrop  func(DropReason)
	done    chan struct{}
}

// NewAsyncSink starts the worker. Close flushes and stops it.
func NewAsyncSink(next Sink, opts AsyncOptions) *AsyncSink {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.OnDrop == nil {
		opts.OnDrop = func(DropReason) {}
	}
	s := &AsyncSink{
		next:    next,
		queue:   newEntryQueue(opts.Capacity),
		timeout: opts.WriteTimeout,
		onDrop:  opts.OnDrop,
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// Append enqueues e and returns immediately. It never fails: entries the
// queue cannot take are dropped, logged and counted.
func (s *AsyncSink) Append(_ context.Context, e model.AuditLogEntry) error {
	if ok, reason := s.queue.Enqueue(e); !ok {
		slog.Warn("audit entry dropped",
			"reason", string(reason),
			"table", e.TableName,
			"record_id", e.RecordID,
			"action", e.Action,
		)
		s.onDrop(reason)
	}
	return nil
}

// Pending counts queued entries not yet written.
func (s *AsyncSink) Pending() int {
	return s.queue.Len()
}

// Close stops accepting entries and waits for the queue to drain or ctx
// to end, whichever is first.
func (s *AsyncSink) Close(ctx context.Context) error {
	s.queue.Close()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *AsyncSink) run() {
	defer close(s.done)
	for {
		for {
			e, ok := s.queue.TryDequeue()
			if !ok {
				break
			}
			s.write(e)
		}
		if _, open := <-s.queue.Wait(); !open {
			// Closed: drain whatever raced in before the close.
			for {
				e, ok := s.queue.TryDequeue()
				if !ok {
					return
				}
				s.write(e)
			}
		}
	}
}

func (s *AsyncSink) write(e model.AuditLogEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.next.Append(ctx, e); err != nil {
		slog.Warn("audit write failed",
			"error", err,
			"table", e.TableName,
			"record_id", e.RecordID,
			"action", e.Action,
		)
		s.onDrop(DropWrite)
	}
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e model.AuditLogEntry) error

// Append implements Sink.
func (f SinkFunc) Append(ctx context.Context, e model.AuditLogEntry) error {
	return f(ctx, e)
}
