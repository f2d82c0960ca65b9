package tcp

import (
	"context"
	"net"
	"time"

	"github.com/wireq/wireq/endpoint"
	"github.com/wireq/wireq/socket"
)

// tcpSocket wraps a net.Conn, translating context cancellation into read
// deadlines since net.Conn has no native context-aware Read.
type tcpSocket struct {
	socket.Lifecycle
	ep   endpoint.Endpoint
	conn net.Conn
}

func newSocket(ep endpoint.Endpoint, conn net.Conn) *tcpSocket {
	return &tcpSocket{ep: ep, conn: conn}
}

var _ socket.Socket = (*tcpSocket)(nil)

// Endpoint implements socket.Socket.
func (s *tcpSocket) Endpoint() endpoint.Endpoint { return s.ep }

// Read implements io.Reader.
func (s *tcpSocket) Read(p []byte) (int, error) {
	return s.conn.Read(p)
}

// ReadContext implements socket.Socket by installing a deadline from ctx
// (if any) before reading, and clearing it afterward.
func (s *tcpSocket) ReadContext(ctx context.Context, p []byte) (int, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = s.conn.SetReadDeadline(deadline)
		defer s.conn.SetReadDeadline(time.Time{})
	}

	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := s.conn.Read(p)
		done <- result{n, err}
	}()
	select {
	case r := <-done:
		return r.n, r.err
	case <-ctx.Done():
		// Force the in-flight Read to return by closing the read side's
		// deadline into the past; correctness relies only on the socket
		// eventually unblocking, not on reclaiming this goroutine early.
		_ = s.conn.SetReadDeadline(time.Now())
		return 0, ctx.Err()
	}
}

// Write implements io.Writer.
func (s *tcpSocket) Write(p []byte) (int, error) {
	return s.conn.Write(p)
}

// Disconnect implements socket.Socket: idempotent close of the underlying
// net.Conn.
func (s *tcpSocket) Disconnect() error {
	if s.MarkDisconnected() {
		return s.conn.Close()
	}
	return nil
}
