package servicequeue

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/wireq/wireq/endpoint"
	"github.com/wireq/wireq/message"
	"github.com/wireq/wireq/recvloop"
	"github.com/wireq/wireq/socket"
	"github.com/wireq/wireq/transport"
)

// ErrAlreadyConnected is returned by Connect when the reader already holds
// an active connection.
var ErrAlreadyConnected = errors.New("servicequeue: reader already connected")

// Reader is the worker side of a service queue: it connects to a bound
// endpoint, decodes each delivered frame, and forwards it to onMessage.
// Disconnect followed by Connect resumes receiving newly dispatched frames
// (spec testable property 9).
type Reader struct {
	registry  *message.Registry
	onMessage func(message.Message)

	mu   sync.Mutex
	sock socket.Socket
	loop *recvloop.Loop
}

// NewReader builds a Reader decoding frames through registry and delivering
// each successfully decoded message to onMessage.
func NewReader(registry *message.Registry, onMessage func(message.Message)) *Reader {
	return &Reader{registry: registry, onMessage: onMessage}
}

// Connect dials ep and starts receiving. Fails if already connected.
func (r *Reader) Connect(ctx context.Context, ep endpoint.Endpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sock != nil {
		return ErrAlreadyConnected
	}

	sock, err := transport.Connect(ctx, ep)
	if err != nil {
		return errors.Wrapf(err, "servicequeue reader: connect %s", ep)
	}

	loop := recvloop.New(sock, r.registry, recvloop.Callbacks{
		MessageReceived: r.onMessage,
	})
	loop.Start(context.Background())

	r.sock = sock
	r.loop = loop
	return nil
}

// Disconnect stops receiving and closes the connection. Idempotent; safe
// to call when not connected. A subsequent Connect to the same or a
// different endpoint is always valid afterward.
func (r *Reader) Disconnect() error {
	r.mu.Lock()
	sock, loop := r.sock, r.loop
	r.sock, r.loop = nil, nil
	r.mu.Unlock()

	if sock == nil {
		return nil
	}
	loop.Stop()
	return sock.Disconnect()
}

// IsConnected reports whether the reader currently holds a connection.
func (r *Reader) IsConnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sock != nil
}
