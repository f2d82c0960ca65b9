package inproc

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/wireq/wireq/endpoint"
	"github.com/wireq/wireq/socket"
)

// ErrAlreadyBound is returned by Bind when the endpoint already has a
// listener registered.
var ErrAlreadyBound = errors.New("inproc: endpoint already bound")

// ErrNotBound is returned by Connect when no listener is registered for the
// target endpoint.
var ErrNotBound = errors.New("inproc: endpoint not bound")

// ErrListenerClosed is returned by Accept once the listener has been
// unbound.
var ErrListenerClosed = errors.New("inproc: listener closed")

// registry is the process-wide set of bound in-process endpoints. Modeled
// as a concurrent map keyed by immutable endpoint identity, per spec §9's
// "shared mutable registries" design note.
var registry = struct {
	mu        sync.Mutex
	listeners map[endpoint.Endpoint]*Listener
}{listeners: make(map[endpoint.Endpoint]*Listener)}

// Listener is the acceptor side of a bound in-process endpoint.
type Listener struct {
	ep       endpoint.Endpoint
	incoming chan socket.Socket
	closed   chan struct{}
	once     sync.Once
}

// Bind installs an acceptor for ep. Multiple connects to the same endpoint
// each produce a fresh socket pair; the pair shares a dedicated byte-queue
// stream per direction.
func Bind(ep endpoint.Endpoint) (*Listener, error) {
	key := ep.Key()
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if _, exists := registry.listeners[key]; exists {
		return nil, errors.Wrapf(ErrAlreadyBound, "%s", ep)
	}
	l := &Listener{
		ep:       ep,
		incoming: make(chan socket.Socket),
		closed:   make(chan struct{}),
	}
	registry.listeners[key] = l
	return l, nil
}

// Unbind removes the acceptor. Sockets already accepted are unaffected;
// they remain connected until individually disconnected, per spec §4.3.
func (l *Listener) Unbind() {
	registry.mu.Lock()
	delete(registry.listeners, l.ep.Key())
	registry.mu.Unlock()
	l.once.Do(func() { close(l.closed) })
}

// Addr returns the endpoint this listener is bound to.
func (l *Listener) Addr() endpoint.Endpoint { return l.ep }

// Accept blocks until a peer connects or the listener is unbound.
func (l *Listener) Accept(ctx context.Context) (socket.Socket, error) {
	select {
	case s := <-l.incoming:
		return s, nil
	case <-l.closed:
		return nil, ErrListenerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Connect dials ep, which must have an active Listener. It blocks until
// the listener accepts (or the context is done), which in this transport
// is effectively immediate since Accept has no handshake to perform.
func Connect(ctx context.Context, ep endpoint.Endpoint) (socket.Socket, error) {
	registry.mu.Lock()
	l, ok := registry.listeners[ep.Key()]
	registry.mu.Unlock()
	if !ok {
		return nil, errors.Wrapf(ErrNotBound, "%s", ep)
	}

	toServer := newByteQueueStream()
	toClient := newByteQueueStream()

	clientSock := newSocket(ep, toClient, toServer)
	serverSock := newSocket(ep, toServer, toClient)

	select {
	case l.incoming <- serverSock:
		return clientSock, nil
	case <-l.closed:
		return nil, ErrListenerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
