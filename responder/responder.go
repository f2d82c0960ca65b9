// Package responder implements the request/response server side (spec
// §4.4): for each connected client it wires a receive loop, an outbound
// message queue, and a work-unit factory that turns each decoded request
// into a response funneled back through that client's queue.
//
// Grounded on the teacher's facade/hioload.go connection-lifecycle wiring
// (accept -> register triple -> deregister on disconnect, all-or-nothing)
// generalized from one fixed WebSocket session handler to an injected
// per-request work-unit factory executed on a bounded scheduler.Pool.
package responder

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/wireq/wireq/endpoint"
	"github.com/wireq/wireq/frame"
	"github.com/wireq/wireq/message"
	"github.com/wireq/wireq/msgqueue"
	"github.com/wireq/wireq/recvloop"
	"github.com/wireq/wireq/scheduler"
	"github.com/wireq/wireq/socket"
	"github.com/wireq/wireq/sync2"
	"github.com/wireq/wireq/transport"
)

// defaultShutdownTimeout bounds how long Close waits for in-flight work
// units to finish before giving up on a graceful drain.
const defaultShutdownTimeout = 30 * time.Second

// WorkUnitFactory turns a decoded request message into a work unit that
// returns the response message, or an error if the request cannot be
// answered (in which case no response frame is sent).
type WorkUnitFactory func(request message.Message) (response message.Message, err error)

// Encoder turns a response message into wire bytes for frame.Frame.
type Encoder func(response message.Message) (typeID uint16, raw []byte, err error)

// ErrUnboundEndpoint is returned by Unbind when ep has no active acceptor.
var ErrUnboundEndpoint = errors.New("responder: endpoint not bound")

// Responder is the server side of the request/response pattern.
type Responder struct {
	registry *message.Registry
	factory  WorkUnitFactory
	encode   Encoder
	pool     *scheduler.Pool
	proc     *msgqueue.Processor
	log      *logrus.Entry

	onConnected    func(endpoint.Endpoint)
	onDisconnected func(endpoint.Endpoint)

	mu        sync.Mutex
	acceptors map[endpoint.Endpoint]acceptorHandle
	clients   map[*recvloop.Loop]*msgqueue.Queue

	shutdownTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

type acceptorHandle struct {
	listener transport.Listener
	cancel   context.CancelFunc
}

// Options configures a Responder beyond its mandatory factory.
type Options struct {
	MinThreads     int
	MaxThreads     int
	OnConnected    func(endpoint.Endpoint)
	OnDisconnected func(endpoint.Endpoint)

	// ShutdownTimeout bounds how long Close waits for already-submitted work
	// units to finish before giving up. Defaults to defaultShutdownTimeout.
	ShutdownTimeout time.Duration
}

// New constructs a Responder. registry decodes inbound requests; factory
// produces the response for each; encode serializes the response back onto
// the wire.
func New(registry *message.Registry, factory WorkUnitFactory, encode Encoder, opts Options) *Responder {
	minThreads, maxThreads := opts.MinThreads, opts.MaxThreads
	if minThreads <= 0 {
		minThreads = 1
	}
	if maxThreads < minThreads {
		maxThreads = minThreads * 4
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	proc := msgqueue.NewProcessor(nil)
	go proc.Start(ctx)

	r := &Responder{
		registry:        registry,
		factory:         factory,
		encode:          encode,
		pool:            scheduler.NewPool(minThreads, maxThreads),
		proc:            proc,
		log:             logrus.WithField("component", "responder"),
		onConnected:     opts.OnConnected,
		onDisconnected:  opts.OnDisconnected,
		acceptors:       make(map[endpoint.Endpoint]acceptorHandle),
		clients:         make(map[*recvloop.Loop]*msgqueue.Queue),
		shutdownTimeout: shutdownTimeout,
		ctx:             ctx,
		cancel:          cancel,
	}
	return r
}

// Bind installs an acceptor on ep.
func (r *Responder) Bind(ep endpoint.Endpoint) error {
	l, err := transport.Bind(ep)
	if err != nil {
		return errors.Wrapf(err, "responder: bind %s", ep)
	}
	acceptCtx, cancel := context.WithCancel(r.ctx)

	r.mu.Lock()
	r.acceptors[ep.Key()] = acceptorHandle{listener: l, cancel: cancel}
	r.mu.Unlock()

	go r.acceptLoop(acceptCtx, l, ep)
	return nil
}

// Unbind removes the acceptor for ep. Already-connected clients are
// unaffected.
func (r *Responder) Unbind(ep endpoint.Endpoint) error {
	r.mu.Lock()
	h, ok := r.acceptors[ep.Key()]
	if ok {
		delete(r.acceptors, ep.Key())
	}
	r.mu.Unlock()
	if !ok {
		return errors.Wrapf(ErrUnboundEndpoint, "%s", ep)
	}
	h.cancel()
	return h.listener.Unbind()
}

// Close tears down every acceptor, disconnects every client, stops the
// scheduler and the queue processor. Idempotent.
func (r *Responder) Close() {
	r.cancel()

	r.mu.Lock()
	acceptors := r.acceptors
	r.acceptors = make(map[endpoint.Endpoint]acceptorHandle)
	clients := make([]*msgqueue.Queue, 0, len(r.clients))
	for _, q := range r.clients {
		clients = append(clients, q)
	}
	r.mu.Unlock()

	var g errgroup.Group
	for _, h := range acceptors {
		h := h
		g.Go(func() error {
			h.cancel()
			return h.listener.Unbind()
		})
	}
	for _, q := range clients {
		q := q
		g.Go(func() error { return q.Socket().Disconnect() })
	}
	if err := g.Wait(); err != nil {
		r.log.WithError(err).Warn("error unbinding responder acceptors")
	}

	// pool.Close() blocks until every already-submitted work unit finishes,
	// which is unbounded if a WorkUnitFactory never returns. Race it against
	// shutdownTimeout using a CounterSignal as the completion latch.
	drained := sync2.NewCounterSignal(1)
	go func() {
		r.pool.Close()
		r.proc.Stop()
		drained.Add(1)
	}()

	select {
	case <-drained.Done():
	case <-time.After(r.shutdownTimeout):
		r.log.Warn("responder shutdown timed out waiting for in-flight work units")
	}
}

func (r *Responder) acceptLoop(ctx context.Context, l transport.Listener, ep endpoint.Endpoint) {
	for {
		sock, err := l.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.log.WithError(err).WithField("endpoint", ep).Warn("accept failed")
			return
		}
		r.registerClient(sock)
	}
}

// registerClient builds the (receiveLoop, messageQueue, frameSender)
// triple atomically (spec §3): if the socket is already disconnected by
// the time registration would complete, the triple is torn down instead.
func (r *Responder) registerClient(sock socket.Socket) {
	if sock.IsDisconnected() {
		return
	}

	q := msgqueue.NewQueue(sock)
	var loop *recvloop.Loop
	loop = recvloop.New(sock, r.registry, recvloop.Callbacks{
		MessageReceived:             func(m message.Message) { r.handleRequest(sock, q, m) },
		MessageDeserializationError: func(error) {},
		SocketError:                 func(error) {},
	})

	r.mu.Lock()
	if sock.IsDisconnected() {
		r.mu.Unlock()
		return
	}
	r.clients[loop] = q
	r.mu.Unlock()

	r.proc.Register(q)
	sock.OnDisconnect(func() { r.deregisterClient(loop, q, sock) })

	loop.Start(r.ctx)

	if r.onConnected != nil {
		r.onConnected(sock.Endpoint())
	}
}

func (r *Responder) deregisterClient(loop *recvloop.Loop, q *msgqueue.Queue, sock socket.Socket) {
	r.mu.Lock()
	_, existed := r.clients[loop]
	delete(r.clients, loop)
	r.mu.Unlock()
	if !existed {
		return
	}

	r.proc.Unregister(q)
	if r.onDisconnected != nil {
		r.onDisconnected(sock.Endpoint())
	}
}

// handleRequest turns one decoded request into a work unit and submits it
// to the scheduler. The response is funneled back through q, preserving
// completion order rather than submission order (spec §4.4, §5).
func (r *Responder) handleRequest(sock socket.Socket, q *msgqueue.Queue, request message.Message) {
	requestID := uuid.NewString()
	log := r.log.WithField("endpoint", sock.Endpoint()).WithField("request_id", requestID)
	err := r.pool.Submit(func() {
		response, err := r.factory(request)
		if err != nil {
			log.WithError(err).Warn("work unit failed")
			return
		}
		typeID, raw, err := r.encode(response)
		if err != nil {
			log.WithError(err).Warn("response encode failed")
			return
		}
		q.Enqueue(frame.New(typeID, raw))
	})
	if err != nil {
		log.WithError(err).Warn("scheduler rejected work unit")
	}
}

// ClientCount reports the number of currently registered clients.
func (r *Responder) ClientCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}
