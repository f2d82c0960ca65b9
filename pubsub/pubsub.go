// Package pubsub implements the publish/subscribe pattern (spec §6): a
// Publisher broadcasts each message to every currently connected
// subscriber's outbound queue; a Subscriber connects, decodes, and
// delivers each message through a callback. No flow control is applied to
// a slow subscriber's queue (spec §1 Non-goals).
//
// Grounded on the teacher's facade broadcast helper (iterate connected
// sessions, enqueue the same encoded frame on each), thinned to the glue
// the spec calls for: Publisher and Subscriber own no dispatch policy of
// their own, only binding of reader/writer machinery to sockets.
package pubsub

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/wireq/wireq/endpoint"
	"github.com/wireq/wireq/frame"
	"github.com/wireq/wireq/message"
	"github.com/wireq/wireq/msgqueue"
	"github.com/wireq/wireq/socket"
	"github.com/wireq/wireq/transport"
)

// Encoder turns a published message into wire bytes.
type Encoder func(m message.Message) (typeID uint16, raw []byte, err error)

// ErrUnboundEndpoint is returned by Unbind when ep has no active acceptor.
var ErrUnboundEndpoint = errors.New("pubsub: endpoint not bound")

// Publisher accepts subscriber connections on one or more bound endpoints
// and broadcasts messages to all of them.
type Publisher struct {
	encode Encoder
	proc   *msgqueue.Processor

	mu        sync.Mutex
	acceptors map[endpoint.Endpoint]acceptorHandle
	queues    map[*msgqueue.Queue]struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

type acceptorHandle struct {
	listener transport.Listener
	cancel   context.CancelFunc
}

// NewPublisher builds a Publisher that encodes outgoing messages via encode.
func NewPublisher(encode Encoder) *Publisher {
	ctx, cancel := context.WithCancel(context.Background())
	proc := msgqueue.NewProcessor(nil)
	go proc.Start(ctx)
	return &Publisher{
		encode:    encode,
		proc:      proc,
		acceptors: make(map[endpoint.Endpoint]acceptorHandle),
		queues:    make(map[*msgqueue.Queue]struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Bind installs an acceptor on ep; every connecting subscriber joins the
// broadcast set.
func (p *Publisher) Bind(ep endpoint.Endpoint) error {
	l, err := transport.Bind(ep)
	if err != nil {
		return errors.Wrapf(err, "pubsub: bind %s", ep)
	}
	acceptCtx, cancel := context.WithCancel(p.ctx)

	p.mu.Lock()
	p.acceptors[ep.Key()] = acceptorHandle{listener: l, cancel: cancel}
	p.mu.Unlock()

	go p.acceptLoop(acceptCtx, l, ep)
	return nil
}

// Unbind removes the acceptor for ep. Already-connected subscribers keep
// receiving broadcasts.
func (p *Publisher) Unbind(ep endpoint.Endpoint) error {
	p.mu.Lock()
	h, ok := p.acceptors[ep.Key()]
	if ok {
		delete(p.acceptors, ep.Key())
	}
	p.mu.Unlock()
	if !ok {
		return errors.Wrapf(ErrUnboundEndpoint, "%s", ep)
	}
	h.cancel()
	return h.listener.Unbind()
}

// Broadcast enqueues m onto every currently connected subscriber's
// outbound queue.
func (p *Publisher) Broadcast(m message.Message) error {
	typeID, raw, err := p.encode(m)
	if err != nil {
		return errors.Wrap(err, "pubsub: encode broadcast")
	}
	f := frame.New(typeID, raw)

	p.mu.Lock()
	queues := make([]*msgqueue.Queue, 0, len(p.queues))
	for q := range p.queues {
		queues = append(queues, q)
	}
	p.mu.Unlock()

	for _, q := range queues {
		q.Enqueue(f)
	}
	return nil
}

// Close tears down every acceptor and stops the queue processor.
func (p *Publisher) Close() {
	p.cancel()

	p.mu.Lock()
	acceptors := p.acceptors
	p.acceptors = make(map[endpoint.Endpoint]acceptorHandle)
	p.mu.Unlock()

	var g errgroup.Group
	for _, h := range acceptors {
		h := h
		g.Go(func() error {
			h.cancel()
			return h.listener.Unbind()
		})
	}
	_ = g.Wait()
	p.proc.Stop()
}

// SubscriberCount reports the number of currently connected subscribers.
func (p *Publisher) SubscriberCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queues)
}

func (p *Publisher) acceptLoop(ctx context.Context, l transport.Listener, ep endpoint.Endpoint) {
	for {
		sock, err := l.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			return
		}
		p.addSubscriberSocket(sock)
	}
}

func (p *Publisher) addSubscriberSocket(sock socket.Socket) {
	if sock.IsDisconnected() {
		return
	}
	q := msgqueue.NewQueue(sock)

	p.mu.Lock()
	if sock.IsDisconnected() {
		p.mu.Unlock()
		return
	}
	p.queues[q] = struct{}{}
	p.mu.Unlock()

	p.proc.Register(q)
	sock.OnDisconnect(func() {
		p.mu.Lock()
		delete(p.queues, q)
		p.mu.Unlock()
		p.proc.Unregister(q)
	})

	// Subscribers never send to the publisher, so a read only returns once
	// the remote subscriber has gone away; disconnecting then deregisters it.
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
