// Package servicequeue implements the work-dispatching broker (spec §4.3):
// a single inbound FIFO of frames fanned out to a dynamic set of connected
// worker sockets under a pluggable rotation policy.
//
// Grounded on the teacher's internal/concurrency/executor.go worker-set
// bookkeeping (a mutex-guarded slice plus a condition variable gating a
// dedicated dispatch goroutine) and pool/ring-buffer's drain-then-write
// batching discipline, generalized from "tasks over local workers" to
// "frames over remote worker sockets".
package servicequeue

import (
	"context"
	"sync"

	"github.com/eapache/queue"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/wireq/wireq/endpoint"
	"github.com/wireq/wireq/frame"
	"github.com/wireq/wireq/socket"
	"github.com/wireq/wireq/transport"
)

// Rotation selects how the dispatcher picks the next worker for a frame.
type Rotation int

const (
	// FirstIdle selects any worker with zero frames in flight, tie-broken
	// by earliest connection. If no worker is idle, dispatch of the head
	// frame blocks until one becomes idle or a new worker joins (spec §9
	// open question, resolved to BLOCK).
	FirstIdle Rotation = iota
	// LoadBalance selects the worker with the fewest frames in flight,
	// tie-broken by earliest connection, among workers below
	// maxInFlightPerWorker. When every worker is at that cap, dispatch of
	// the head frame blocks until a worker completes a write or a new
	// worker joins; with the cap at 1 it picks the same worker FirstIdle
	// would.
	LoadBalance
)

func (r Rotation) String() string {
	switch r {
	case FirstIdle:
		return "first-idle"
	case LoadBalance:
		return "load-balance"
	default:
		return "unknown"
	}
}

// ErrUnboundEndpoint is returned by Unbind when ep has no active acceptor.
var ErrUnboundEndpoint = errors.New("servicequeue: endpoint not bound")

// workerBinding is the service queue's record of one connected worker
// socket: its private outbound FIFO, in-flight count, and a dedicated
// flush goroutine.
type workerBinding struct {
	id       uint64
	logID    string
	sock     socket.Socket
	outbound *queue.Queue
	inFlight int64

	wake chan struct{}
	done chan struct{}
	once sync.Once
}

// ServiceQueue is the central work router described in spec §4.3.
type ServiceQueue struct {
	rotation Rotation
	writer   *frame.Writer
	log      *logrus.Entry

	mu      sync.Mutex
	cond    *sync.Cond
	pending *queue.Queue
	workers []*workerBinding
	nextID  uint64

	acceptors map[endpoint.Endpoint]acceptorHandle

	ctx          context.Context
	cancel       context.CancelFunc
	dispatchDone chan struct{}
}

type acceptorHandle struct {
	listener transport.Listener
	cancel   context.CancelFunc
}

// New constructs a ServiceQueue using the given rotation policy. The
// dispatch loop starts immediately and runs until Close.
func New(rotation Rotation) *ServiceQueue {
	ctx, cancel := context.WithCancel(context.Background())
	sq := &ServiceQueue{
		rotation:     rotation,
		writer:       frame.NewWriter(nil),
		log:          logrus.WithField("component", "servicequeue"),
		pending:      queue.New(),
		acceptors:    make(map[endpoint.Endpoint]acceptorHandle),
		ctx:          ctx,
		cancel:       cancel,
		dispatchDone: make(chan struct{}),
	}
	sq.cond = sync.NewCond(&sq.mu)

	go func() {
		<-ctx.Done()
		sq.mu.Lock()
		sq.cond.Broadcast()
		sq.mu.Unlock()
	}()
	go sq.dispatchLoop()

	return sq
}

// Bind installs an acceptor on ep. Workers connecting to any bound
// endpoint join the same worker set.
func (sq *ServiceQueue) Bind(ep endpoint.Endpoint) error {
	l, err := transport.Bind(ep)
	if err != nil {
		return errors.Wrapf(err, "servicequeue: bind %s", ep)
	}
	acceptCtx, cancel := context.WithCancel(sq.ctx)

	sq.mu.Lock()
	sq.acceptors[ep.Key()] = acceptorHandle{listener: l, cancel: cancel}
	sq.mu.Unlock()

	go sq.acceptLoop(acceptCtx, l, ep)
	return nil
}

// Unbind removes the acceptor for ep. Workers already connected remain in
// the worker set until their sockets disconnect (spec §4.3).
func (sq *ServiceQueue) Unbind(ep endpoint.Endpoint) error {
	sq.mu.Lock()
	h, ok := sq.acceptors[ep.Key()]
	if ok {
		delete(sq.acceptors, ep.Key())
	}
	sq.mu.Unlock()
	if !ok {
		return errors.Wrapf(ErrUnboundEndpoint, "%s", ep)
	}
	h.cancel()
	return h.listener.Unbind()
}

// AddMessageFrame enqueues f into the inbound FIFO and wakes the
// dispatcher. Safe to call from any goroutine.
func (sq *ServiceQueue) AddMessageFrame(f frame.Frame) {
	sq.mu.Lock()
	sq.pending.Add(f)
	sq.cond.Broadcast()
	sq.mu.Unlock()
}

// Close tears down every acceptor, disconnects every worker, and stops the
// dispatch loop. Idempotent.
func (sq *ServiceQueue) Close() {
	sq.cancel()

	sq.mu.Lock()
	acceptors := sq.acceptors
	sq.acceptors = make(map[endpoint.Endpoint]acceptorHandle)
	workers := append([]*workerBinding(nil), sq.workers...)
	sq.mu.Unlock()

	var g errgroup.Group
	for _, h := range acceptors {
		h := h
		g.Go(func() error {
			h.cancel()
			return h.listener.Unbind()
		})
	}
	for _, w := range workers {
		w := w
		g.Go(func() error { return w.sock.Disconnect() })
	}
	if err := g.Wait(); err != nil {
		sq.log.WithError(err).Warn("error tearing down service queue")
	}

	<-sq.dispatchDone
}

func (sq *ServiceQueue) acceptLoop(ctx context.Context, l transport.Listener, ep endpoint.Endpoint) {
	for {
		sock, err := l.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			sq.log.WithError(err).WithField("endpoint", ep).Warn("accept failed")
			return
		}
		sq.addWorker(sock)
	}
}

func (sq *ServiceQueue) addWorker(sock socket.Socket) {
	wb := &workerBinding{
		outbound: queue.New(),
		logID:    uuid.NewString(),
		sock:     sock,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	sq.mu.Lock()
	wb.id = sq.nextID
	sq.nextID++
	sq.workers = append(sq.workers, wb)
	sq.cond.Broadcast()
	sq.mu.Unlock()

	sock.OnDisconnect(func() { sq.removeWorker(wb) })
	go sq.flushWorker(wb)

	// Workers never send to the service queue, so a read only returns once
	// the remote reader has gone away; disconnecting then removes the worker.
	go func() {
		buf := make([]byte, 1)
		for {
			if _, err := sock.Read(buf); err != nil {
				_ = sock.Disconnect()
				return
			}
		}
	}()
}

func (sq *ServiceQueue) removeWorker(wb *workerBinding) {
	sq.mu.Lock()
	for i, w := range sq.workers {
		if w == wb {
			sq.workers = append(sq.workers[:i], sq.workers[i+1:]...)
			break
		}
	}
	sq.cond.Broadcast()
	sq.mu.Unlock()

	wb.once.Do(func() { close(wb.done) })
}

func (sq *ServiceQueue) flushWorker(wb *workerBinding) {
	for {
		select {
		case <-wb.wake:
		case <-wb.done:
			return
		}

		sq.mu.Lock()
		n := wb.outbound.Length()
		if n == 0 {
			sq.mu.Unlock()
			continue
		}
		batch := make([]frame.Frame, 0, n)
		for i := 0; i < n; i++ {
			batch = append(batch, wb.outbound.Remove().(frame.Frame))
		}
		sq.mu.Unlock()

		err := sq.writer.WriteBatch(wb.sock, batch)

		sq.mu.Lock()
		if err != nil {
			// Frames in flight to a disconnecting worker are discarded,
			// matching the observed source behavior (spec §4.3, §9).
			wb.inFlight = 0
			sq.mu.Unlock()
			sq.log.WithError(err).WithField("worker_id", wb.logID).Warn("worker write failed, disconnecting")
			_ = wb.sock.Disconnect()
			return
		}
		wb.inFlight -= int64(len(batch))
		sq.cond.Broadcast()
		sq.mu.Unlock()
	}
}

// dispatchLoop pops pending frames and hands each to a worker selected by
// rotation, honoring FIFO order across AddMessageFrame calls and blocking
// (without skipping the head frame) whenever selectWorker finds no worker
// under maxInFlightPerWorker -- under FirstIdle that means no idle worker at
// all; under LoadBalance it means every worker is already at the cap.
func (sq *ServiceQueue) dispatchLoop() {
	defer close(sq.dispatchDone)

	sq.mu.Lock()
	defer sq.mu.Unlock()
	for {
		for sq.pending.Length() == 0 || len(sq.workers) == 0 {
			if sq.ctx.Err() != nil {
				return
			}
			sq.cond.Wait()
		}
		if sq.ctx.Err() != nil {
			return
		}

		wb := sq.selectWorker()
		if wb == nil {
			sq.cond.Wait()
			continue
		}

		f := sq.pending.Remove().(frame.Frame)
		wb.outbound.Add(f)
		wb.inFlight++
		select {
		case wb.wake <- struct{}{}:
		default:
		}
	}
}

// maxInFlightPerWorker bounds how many frames the dispatcher will hand to a
// single worker ahead of write completion. Without this bound, a backlog
// dispatched under LoadBalance to the only currently connected worker is
// assigned in one uninterrupted burst -- sq.mu is held for the whole burst,
// so a second worker racing to connect cannot register until it finishes,
// and receives none of the backlog. Capping at 1 forces dispatchLoop to
// cond.Wait() for that worker's flush to complete before assigning it more,
// which releases sq.mu and gives a concurrently connecting worker a chance
// to join the rotation before the backlog is exhausted.
const maxInFlightPerWorker = 1

// selectWorker must be called with sq.mu held.
func (sq *ServiceQueue) selectWorker() *workerBinding {
	var best *workerBinding
	switch sq.rotation {
	case FirstIdle:
		for _, w := range sq.workers {
			if w.inFlight >= maxInFlightPerWorker {
				continue
			}
			if best == nil || w.id < best.id {
				best = w
			}
		}
	case LoadBalance:
		for _, w := range sq.workers {
			if w.inFlight >= maxInFlightPerWorker {
				continue
			}
			if best == nil || w.inFlight < best.inFlight || (w.inFlight == best.inFlight && w.id < best.id) {
				best = w
			}
		}
	}
	return best
}

// WorkerCount reports the number of currently connected workers.
func (sq *ServiceQueue) WorkerCount() int {
	sq.mu.Lock()
	defer sq.mu.Unlock()
	return len(sq.workers)
}

// PendingCount reports the number of frames waiting to be dispatched.
func (sq *ServiceQueue) PendingCount() int {
	sq.mu.Lock()
	defer sq.mu.Unlock()
	return sq.pending.Length()
}
