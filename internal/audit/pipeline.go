package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ocx/wsgateway/internal/metrics"
)

// Pipeline is the bounded-queue, batch-writing audit log pipeline
// described in spec.md §4.4. Enqueue is safe to call from many
// goroutines; exactly one background worker drains the queue.
type Pipeline struct {
	entries chan Entry
	writer  Writer
	metrics *metrics.Metrics

	batchSize      int
	batchTimeout   time.Duration
	enqueueTimeout time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config carries the tunables read from AuditConfig.
type Config struct {
	QueueMaxSize   int
	BatchSize      int
	BatchTimeout   time.Duration
	EnqueueTimeout time.Duration
}

// New builds a Pipeline. Start must be called before any entries are
// persisted; Enqueue works (and may drop on a full queue) even before
// Start runs.
func New(writer Writer, m *metrics.Metrics, cfg Config) *Pipeline {
	return &Pipeline{
		entries:        make(chan Entry, cfg.QueueMaxSize),
		writer:         writer,
		metrics:        m,
		batchSize:      cfg.BatchSize,
		batchTimeout:   cfg.BatchTimeout,
		enqueueTimeout: cfg.EnqueueTimeout,
	}
}

// Start launches the single background batch worker.
func (p *Pipeline) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.wg.Add(1)
	go p.run(runCtx)
}

// Stop signals the worker to exit and waits for it. Call Drain
// afterward to persist whatever is still queued.
func (p *Pipeline) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// Enqueue sanitizes and queues an entry. If the queue is full, it
// waits up to enqueueTimeout for room before dropping the entry and
// incrementing the dropped counter — the request itself is never
// blocked beyond that bound.
func (p *Pipeline) Enqueue(ctx context.Context, e Entry) {
	e.RequestData = Sanitize(e.RequestData)

	select {
	case p.entries <- e:
		p.observeQueueSize()
		return
	default:
	}

	timer := time.NewTimer(p.enqueueTimeout)
	defer timer.Stop()

	select {
	case p.entries <- e:
		p.observeQueueSize()
	case <-timer.C:
		p.metrics.AuditLogsDroppedTotal.Inc()
		slog.Warn("audit: queue full, dropping entry", "username", e.Username, "action_type", e.ActionType)
	case <-ctx.Done():
		p.metrics.AuditLogsDroppedTotal.Inc()
	}
}

func (p *Pipeline) observeQueueSize() {
	p.metrics.AuditQueueSize.Set(float64(len(p.entries)))
}

func (p *Pipeline) run(ctx context.Context) {
	defer p.wg.Done()
	for {
		batch := p.collectBatch(ctx)
		if len(batch) > 0 {
			p.writeBatch(batch)
		}
		p.observeQueueSize()
		if ctx.Err() != nil {
			return
		}
	}
}

// collectBatch waits up to batchTimeout to accumulate up to batchSize
// entries off the queue, per the single-overall-timer batching policy.
func (p *Pipeline) collectBatch(ctx context.Context) []Entry {
	batch := make([]Entry, 0, p.batchSize)
	timer := time.NewTimer(p.batchTimeout)
	defer timer.Stop()

	for len(batch) < p.batchSize {
		select {
		case e := <-p.entries:
			batch = append(batch, e)
		case <-timer.C:
			return batch
		case <-ctx.Done():
			return batch
		}
	}
	return batch
}

func (p *Pipeline) writeBatch(batch []Entry) {
	start := time.Now()
	writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := p.writer.WriteBatch(writeCtx, batch); err != nil {
		p.metrics.AuditLogErrorsTotal.WithLabelValues(errorTypeLabel(err)).Inc()
		slog.Error("audit: failed to write batch", "error", err, "batch_size", len(batch))
		time.Sleep(time.Second)
		return
	}

	duration := time.Since(start)
	p.metrics.AuditBatchSize.Observe(float64(len(batch)))
	p.metrics.AuditLogsWrittenTotal.Add(float64(len(batch)))
	p.metrics.AuditLogCreationDuration.Observe(duration.Seconds())
	for _, e := range batch {
		p.metrics.AuditLogsTotal.WithLabelValues(string(e.Outcome)).Inc()
	}
}

// Drain persists whatever remains queued with no batch timeout,
// called once after Stop during graceful shutdown. Returns the number
// of entries flushed.
func (p *Pipeline) Drain() int {
	drained := 0
	for {
		batch := make([]Entry, 0, p.batchSize)
		for len(batch) < p.batchSize {
			select {
			case e := <-p.entries:
				batch = append(batch, e)
			default:
				goto collected
			}
		}
	collected:
		if len(batch) == 0 {
			return drained
		}
		p.writeBatch(batch)
		drained += len(batch)
	}
}

// QueueLen reports the current queue depth, used by diagnostics.
func (p *Pipeline) QueueLen() int {
	return len(p.entries)
}

func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	return "database_error"
}
