// Package tcp implements the stream-socket transport over net.TCPConn.
//
// Grounded on the teacher's transport/tcp/listener.go accept-loop shape and
// transport/netconn.go's thin net.Conn wrapper, stripped of the
// WebSocket-specific HTTP upgrade handshake (spec's wire protocol has none
// -- spec §6) and of CPU-affinity pinning (no NUMA concept in wireq's core).
package tcp

import (
	"context"
	"net"
	"strconv"

	"github.com/pkg/errors"

	"github.com/wireq/wireq/endpoint"
	"github.com/wireq/wireq/socket"
)

// Listener accepts TCP connections for a bound endpoint.
type Listener struct {
	ep endpoint.Endpoint
	ln net.Listener
}

// Bind opens a TCP listen socket on ep.Host:ep.Port.
func Bind(ep endpoint.Endpoint) (*Listener, error) {
	addr := net.JoinHostPort(ep.Host, portString(ep.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "tcp bind %s", ep)
	}
	return &Listener{ep: ep, ln: ln}, nil
}

// Unbind closes the listen socket. Already-accepted sockets are unaffected.
func (l *Listener) Unbind() error {
	return l.ln.Close()
}

// Addr returns the endpoint actually bound, with Port resolved to the OS-
// assigned value when the caller bound port 0.
func (l *Listener) Addr() endpoint.Endpoint {
	tcpAddr := l.ln.Addr().(*net.TCPAddr)
	return endpoint.New(endpoint.Tcp, tcpAddr.IP.String(), uint16(tcpAddr.Port), l.ep.Path)
}

// Accept blocks for the next inbound connection.
func (l *Listener) Accept(ctx context.Context) (socket.Socket, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := l.ln.Accept()
		done <- result{conn, err}
	}()
	select {
	case r := <-done:
		if r.err != nil {
			return nil, errors.Wrap(r.err, "tcp accept")
		}
		return newSocket(l.ep, r.conn), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Connect dials ep.
func Connect(ctx context.Context, ep endpoint.Endpoint) (socket.Socket, error) {
	var d net.Dialer
	addr := net.JoinHostPort(ep.Host, portString(ep.Port))
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "tcp connect %s", ep)
	}
	return newSocket(ep, conn), nil
}

func portString(p uint16) string {
	return strconv.Itoa(int(p))
}
