package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/agentkernel/gateway/pkg/config"
	"github.com/agentkernel/gateway/pkg/store"
)

// Writer is the durable backing store a Log flushes batches to. Satisfied
// by *store.AuditLogRepo.
type Writer interface {
	AppendBatch(ctx context.Context, entries []*store.AuditEntry) error
}

// EntryMasker redacts secrets from a single audit field value before it is
// persisted (§4.3, §7). Implemented by *masking.MaskingService.
type EntryMasker interface {
	MaskAuditEntry(data string) string
}

// Log is the audit event stream: a bounded in-memory buffer batched to a
// durable Writer, backed by a ring buffer for hot-path queries (§4.3).
type Log struct {
	cfg    config.AuditConfig
	nodeID string
	writer Writer
	ring   *ring
	now    func() time.Time

	mu      sync.Mutex
	pending []Entry
	flush   chan struct{}

	masker EntryMasker

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates a Log. nodeID tags every entry for multi-node deployments
// (§4.9); writer is the durable store the periodic flush writes to.
func New(cfg config.AuditConfig, nodeID string, writer Writer) *Log {
	return &Log{
		cfg:    cfg,
		nodeID: nodeID,
		writer: writer,
		ring:   newRing(cfg.RingSize),
		now:    time.Now,
		flush:  make(chan struct{}, 1),
		stopCh: make(chan struct{}),
	}
}

// Run starts the periodic flush loop. It blocks until ctx is done or Close
// is called, so callers should invoke it in its own goroutine.
func (l *Log) Run(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.flushNow(context.Background())
			return
		case <-l.stopCh:
			l.flushNow(context.Background())
			return
		case <-ticker.C:
			l.flushNow(ctx)
		case <-l.flush:
			l.flushNow(ctx)
		}
	}
}

// Close stops the flush loop after a final flush. Safe to call multiple
// times and without Run ever having started.
func (l *Log) Close() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// SetMasker wires secret redaction for every entry appended from this point
// on. Optional — a nil masker (the default) leaves entries untouched.
func (l *Log) SetMasker(m EntryMasker) {
	l.masker = m
}

// Append enqueues entry for the next flush and makes it immediately visible
// to Query/Stats via the ring (§4.3 "append(entry) enqueues into a bounded
// buffer").
func (l *Log) Append(ctx context.Context, e Entry) {
	if l.masker != nil {
		e = maskEntry(l.masker, e)
	}
	e = newEntry(l.now(), e)
	l.ring.Push(e)

	l.mu.Lock()
	l.pending = append(l.pending, e)
	over := len(l.pending) - l.cfg.HighWaterMark
	var dropped []Entry
	if over > 0 {
		dropped = append([]Entry(nil), l.pending[:over]...)
		l.pending = l.pending[over:]
	}
	trigger := len(l.pending) >= l.cfg.BufferSize
	l.mu.Unlock()

	for range dropped {
		l.recordDrop(ctx, "buffer high-water mark exceeded")
	}

	if trigger {
		select {
		case l.flush <- struct{}{}:
		default:
		}
	}
}

// maskEntry redacts ResourceID and every string Detail value before the
// entry reaches the ring or durable store.
func maskEntry(m EntryMasker, e Entry) Entry {
	e.ResourceID = m.MaskAuditEntry(e.ResourceID)
	if e.Details == nil {
		return e
	}
	masked := make(map[string]any, len(e.Details))
	for k, v := range e.Details {
		if s, ok := v.(string); ok {
			masked[k] = m.MaskAuditEntry(s)
		} else {
			masked[k] = v
		}
	}
	e.Details = masked
	return e
}

// recordDrop appends a synthetic audit.drop event directly to the ring
// without re-entering the pending buffer, since the buffer is precisely
// what's overflowing.
func (l *Log) recordDrop(_ context.Context, reason string) {
	l.ring.Push(newEntry(l.now(), Entry{
		Action:  "audit.drop",
		Outcome: OutcomeError,
		Details: map[string]any{"reason": reason},
	}))
}

func (l *Log) flushNow(ctx context.Context) {
	l.mu.Lock()
	if len(l.pending) == 0 {
		l.mu.Unlock()
		return
	}
	batch := l.pending
	l.pending = nil
	l.mu.Unlock()

	storeBatch := make([]*store.AuditEntry, len(batch))
	for i, e := range batch {
		storeBatch[i] = toStoreEntry(l.nodeID, e)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(l.cfg.MaxFlushRetries)), ctx)
	err := backoff.Retry(func() error {
		return l.writer.AppendBatch(ctx, storeBatch)
	}, b)
	if err != nil {
		slog.Error("audit flush failed, dropping batch", "count", len(batch), "error", err)
		for range batch {
			l.recordDrop(ctx, "flush failed after retries: "+err.Error())
		}
	}
}

// Query answers a hot-path read against the in-memory ring (§4.3).
func (l *Log) Query(f Filter) []Entry {
	return l.ring.Query(f)
}

// Stats answers the §4.3 aggregate counters over the ring's current window.
func (l *Log) Stats() Stats {
	return l.ring.Stats()
}
