package msgqueue

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wireq/wireq/frame"
)

// pollInterval bounds how long a newly enqueued frame can wait before being
// flushed even if the wake signal is somehow missed (e.g. a burst of
// Enqueue calls collapsing into one pending wake). Correctness never
// depends on this value; it only bounds staleness.
const pollInterval = 20 * time.Millisecond

// Processor owns the single worker goroutine that drains every registered
// Queue and flushes each with one framed write per wake, preserving FIFO
// order end-to-end (spec §4.2, §5).
type Processor struct {
	writer *frame.Writer
	log    *logrus.Entry

	mu     sync.Mutex
	queues map[*Queue]struct{}

	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

// NewProcessor builds a processor using writer to flush batches. A nil
// writer allocates a private frame.Writer with a default buffer pool.
func NewProcessor(writer *frame.Writer) *Processor {
	if writer == nil {
		writer = frame.NewWriter(nil)
	}
	return &Processor{
		writer: writer,
		log:    logrus.WithField("component", "msgqueue.processor"),
		queues: make(map[*Queue]struct{}),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Start launches the worker loop. It returns once ctx is done or Stop is
// called; callers typically run it in its own goroutine.
func (p *Processor) Start(ctx context.Context) {
	p.wg.Add(1)
	defer p.wg.Done()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case <-p.wake:
			p.flushAll()
		case <-ticker.C:
			p.flushAll()
		}
	}
}

// Stop requests the worker loop to exit and blocks until it has. Idempotent.
func (p *Processor) Stop() {
	select {
	case <-p.done:
	default:
		close(p.done)
	}
	p.wg.Wait()
}

// Register enrolls q with this processor, thread-safe and idempotent.
func (p *Processor) Register(q *Queue) {
	p.mu.Lock()
	p.queues[q] = struct{}{}
	p.mu.Unlock()
	q.setWake(&p.wake)
}

// Unregister removes q from this processor, thread-safe and idempotent.
func (p *Processor) Unregister(q *Queue) {
	p.mu.Lock()
	delete(p.queues, q)
	p.mu.Unlock()
	q.setWake(nil)
}

// flushAll drains every registered queue with pending frames and writes
// each as a single batch. A write failure unregisters the queue and
// disconnects its socket; the frames already drained for that batch are
// dropped per spec §4.2 ("no redelivery by design").
func (p *Processor) flushAll() {
	p.mu.Lock()
	snapshot := make([]*Queue, 0, len(p.queues))
	for q := range p.queues {
		snapshot = append(snapshot, q)
	}
	p.mu.Unlock()

	for _, q := range snapshot {
		batch := q.drain()
		if len(batch) == 0 {
			continue
		}
		if err := p.writer.WriteBatch(q.Socket(), batch); err != nil {
			p.log.WithError(err).WithField("endpoint", q.Socket().Endpoint()).
				Warn("queue write failed, disconnecting socket")
			p.Unregister(q)
			_ = q.Socket().Disconnect()
		}
	}
}
