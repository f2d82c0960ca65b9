package inproc

import (
	"context"

	"github.com/wireq/wireq/endpoint"
	"github.com/wireq/wireq/socket"
)

// inprocSocket is one end of a connected byte-queue pipe.
type inprocSocket struct {
	socket.Lifecycle
	ep    endpoint.Endpoint
	read  *byteQueueStream
	write *byteQueueStream
}

func newSocket(ep endpoint.Endpoint, read, write *byteQueueStream) *inprocSocket {
	return &inprocSocket{ep: ep, read: read, write: write}
}

var _ socket.Socket = (*inprocSocket)(nil)

// Endpoint implements socket.Socket.
func (s *inprocSocket) Endpoint() endpoint.Endpoint { return s.ep }

// Read implements io.Reader: blocks until >=1 byte is available, io.EOF
// once the peer has disconnected and the buffer has drained.
func (s *inprocSocket) Read(p []byte) (int, error) {
	return s.read.read(p)
}

// ReadContext implements socket.Socket.
func (s *inprocSocket) ReadContext(ctx context.Context, p []byte) (int, error) {
	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := s.read.read(p)
		done <- result{n, err}
	}()
	select {
	case r := <-done:
		return r.n, r.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Write implements io.Writer.
func (s *inprocSocket) Write(p []byte) (int, error) {
	return s.write.write(p)
}

// Disconnect implements socket.Socket: idempotent, closes both directions
// of the pipe so the peer's blocked Read unblocks with io.EOF.
func (s *inprocSocket) Disconnect() error {
	if s.MarkDisconnected() {
		s.read.close()
		s.write.close()
	}
	return nil
}
