// Package transport unifies the in-process and TCP transports behind one
// Bind/Connect surface keyed on endpoint.Transport, so higher-level actors
// (service queue, responder, pub/sub, req/rep) dial without a transport
// switch of their own (spec §1 point 4: "endpoint/transport abstraction
// unifying an in-process transport ... with a stream socket transport").
//
// Grounded on the teacher's api/transport.go factory pattern, which
// resolves a concrete transport implementation from a declared kind before
// handing back the uniform connection contract.
package transport

import (
	"context"

	"github.com/pkg/errors"

	"github.com/wireq/wireq/endpoint"
	"github.com/wireq/wireq/socket"
	"github.com/wireq/wireq/transport/inproc"
	"github.com/wireq/wireq/transport/tcp"
)

// ErrUnsupportedTransport is returned when an endpoint names a transport
// this package does not implement.
var ErrUnsupportedTransport = errors.New("transport: unsupported transport")

// Listener is the transport-agnostic acceptor side of a bound endpoint.
type Listener interface {
	Accept(ctx context.Context) (socket.Socket, error)
	Unbind() error
	Addr() endpoint.Endpoint
}

// Bind installs an acceptor for ep, dispatching to the concrete transport
// named by ep.Transport.
func Bind(ep endpoint.Endpoint) (Listener, error) {
	switch ep.Transport {
	case endpoint.Inproc:
		l, err := inproc.Bind(ep)
		if err != nil {
			return nil, err
		}
		return inprocListener{l}, nil
	case endpoint.Tcp:
		l, err := tcp.Bind(ep)
		if err != nil {
			return nil, err
		}
		return l, nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedTransport, "%s", ep.Transport)
	}
}

// Connect dials ep, dispatching to the concrete transport named by
// ep.Transport.
func Connect(ctx context.Context, ep endpoint.Endpoint) (socket.Socket, error) {
	switch ep.Transport {
	case endpoint.Inproc:
		return inproc.Connect(ctx, ep)
	case endpoint.Tcp:
		return tcp.Connect(ctx, ep)
	default:
		return nil, errors.Wrapf(ErrUnsupportedTransport, "%s", ep.Transport)
	}
}

// inprocListener adapts *inproc.Listener (whose Unbind takes no error) to
// the Listener interface.
type inprocListener struct {
	l *inproc.Listener
}

func (a inprocListener) Accept(ctx context.Context) (socket.Socket, error) { return a.l.Accept(ctx) }
func (a inprocListener) Unbind() error                                     { a.l.Unbind(); return nil }
func (a inprocListener) Addr() endpoint.Endpoint                           { return a.l.Addr() }
