package pubsub

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

// ErrAlreadyConnected is returned by Connect when already connected.
var ErrAlreadyConnected = errors.New("pubsub: subscriber already connected")

// Subscriber connects to a Publisher's bound endpoint and delivers each
// broadcast message through onMessage.
type Subscriber struct {
	registry  *message.Registry
	onMessage func(message.Message)

	mu   sync.Mutex
	sock socket.Socket
	loop *recvloop.Loop
}

// NewSubscriber builds a Subscriber decoding frames through registry.
func NewSubscriber(registry *message.Registry, onMessage func(message.Message)) *Subscriber {
	return &Subscriber{registry: registry, onMessage: onMessage}
}

// Connect dials ep and starts receiving broadcasts.
func (s *Subscriber) Connect(ctx context.Context, ep endpoint.Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sock != nil {
		return ErrAlreadyConnected
	}

	sock, err := transport.Connect(ctx, ep)
	if err != nil {
		return errors.Wrapf(err, "pubsub: connect %s", ep)
	}

	loop := recvloop.New(sock, s.registry, recvloop.Callbacks{
		MessageReceived: s.onMessage,
	})
	loop.Start(context.Background())

	s.sock = sock
	s.loop = loop
	return nil
}

// Disconnect stops receiving and closes the connection. Idempotent.
func (s *Subscriber) Disconnect() error {
	s.mu.Lock()
	sock, loop := s.sock, s.loop
	s.sock, s.loop = nil, nil
	s.mu.Unlock()

	if sock == nil {
		return nil
	}
	loop.Stop()
	return sock.Disconnect()
}

// IsConnected reports whether the subscriber currently holds a connection.
func (s *Subscriber) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sock != nil
}
