// Package msgqueue implements the outbound message queue and its queue
// processor (spec §4.2): an unbounded per-socket FIFO of frames, and a
// worker that drains pending queues and flushes each with a single framed
// write.
//
// The FIFO itself is backed by github.com/eapache/queue, already a teacher
// dependency (used for the lock-free task queue in
// internal/concurrency/executor.go); the processor's registration/wakeup
// shape is grounded on that same executor's worker-registration loop.
package msgqueue

import (
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"

	"github.com/wireq/wireq/frame"
	"github.com/wireq/wireq/socket"
)

// Queue is an unbounded FIFO of frames bound to exactly one outbound
// socket for the duration of its registration with a Processor.
type Queue struct {
	sock socket.Socket

	mu sync.Mutex
	q  *queue.Queue

	wake atomic.Pointer[chan struct{}]
}

// NewQueue returns a queue that will write to sock once registered with a
// Processor.
func NewQueue(sock socket.Socket) *Queue {
	return &Queue{sock: sock, q: queue.New()}
}

// Socket returns the queue's associated outbound socket.
func (q *Queue) Socket() socket.Socket {
	return q.sock
}

// Enqueue appends f to the tail of the FIFO. Safe to call from any thread.
// If the queue is registered with a processor, the processor is woken so
// the frame is flushed promptly rather than waiting on the next poll tick.
func (q *Queue) Enqueue(f frame.Frame) {
	q.mu.Lock()
	q.q.Add(f)
	q.mu.Unlock()

	if wp := q.wake.Load(); wp != nil {
		select {
		case *wp <- struct{}{}:
		default:
		}
	}
}

// Len reports the number of frames currently pending.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.q.Length()
}

// drain atomically removes and returns every currently pending frame, in
// FIFO order.
func (q *Queue) drain() []frame.Frame {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.q.Length()
	if n == 0 {
		return nil
	}
	batch := make([]frame.Frame, 0, n)
	for i := 0; i < n; i++ {
		batch = append(batch, q.q.Remove().(frame.Frame))
	}
	return batch
}

// setWake installs (or clears, with nil) the channel the processor wants
// signaled on every Enqueue.
func (q *Queue) setWake(ch *chan struct{}) {
	q.wake.Store(ch)
}
