// Package reqrep implements the client side of the request/response
// pattern (spec §6): Connect, Disconnect(waitForExit), and a blocking
// Request that writes one frame and waits for exactly one reply frame on
// the same connection.
//
// Grounded on the teacher's client-session request/reply helpers (a single
// in-flight call serialized per connection, a cancellation token threaded
// through the blocking read), adapted to the spec's explicit
// Disconnect(waitForExit) latch semantics.
package reqrep

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/wireq/wireq/endpoint"
	"github.com/wireq/wireq/frame"
	"github.com/wireq/wireq/message"
	"github.com/wireq/wireq/socket"
	"github.com/wireq/wireq/transport"
)

// Encoder turns an outgoing request message into wire bytes.
type Encoder func(request message.Message) (typeID uint16, raw []byte, err error)

// ErrNotConnected is returned by Request when no connection is established.
// Disconnect on an unconnected Requester returns nil.
var ErrNotConnected = errors.New("reqrep: not connected")

// ErrAlreadyConnected is returned by Connect when already connected.
var ErrAlreadyConnected = errors.New("reqrep: already connected")

// ErrRequestInFlight is returned by Request when a previous call on the
// same Requester has not yet returned; requests are not pipelined.
var ErrRequestInFlight = errors.New("reqrep: request already in flight")

// Requester is the client side of the request/response pattern. One
// Requester has at most one Request in flight; a concurrent call is
// rejected with ErrRequestInFlight rather than queued. Use multiple
// Requesters for concurrent outstanding requests.
type Requester struct {
	registry *message.Registry
	encode   Encoder

	reqMu sync.Mutex

	mu       sync.Mutex
	sock     socket.Socket
	reader   *frame.Reader
	writer   *frame.Writer
	cr       *ctxReader
	cancel   context.CancelFunc
	done     chan struct{}
}

// New builds a Requester decoding replies through registry and encoding
// requests through encode.
func New(registry *message.Registry, encode Encoder) *Requester {
	return &Requester{registry: registry, encode: encode}
}

// Connect dials ep. Fails if already connected.
func (q *Requester) Connect(ctx context.Context, ep endpoint.Endpoint) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.sock != nil {
		return ErrAlreadyConnected
	}

	sock, err := transport.Connect(ctx, ep)
	if err != nil {
		return errors.Wrapf(err, "reqrep: connect %s", ep)
	}

	q.sock = sock
	q.cr = &ctxReader{sock: sock, ctx: context.Background()}
	q.reader = frame.NewReader(q.cr)
	q.writer = frame.NewWriter(nil)
	return nil
}

// Request writes request and blocks until the corresponding reply arrives,
// ctx is done, or the connection fails. Calls are not pipelined: a second
// call while one is in flight returns ErrRequestInFlight immediately.
func (q *Requester) Request(ctx context.Context, request message.Message) (message.Message, error) {
	if !q.reqMu.TryLock() {
		return nil, ErrRequestInFlight
	}
	defer q.reqMu.Unlock()

	q.mu.Lock()
	sock, reader, writer, cr := q.sock, q.reader, q.writer, q.cr
	if sock == nil {
		q.mu.Unlock()
		return nil, ErrNotConnected
	}
	reqCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.done = make(chan struct{})
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.cancel = nil
		close(q.done)
		q.done = nil
		q.mu.Unlock()
		cancel()
	}()

	typeID, raw, err := q.encode(request)
	if err != nil {
		return nil, errors.Wrap(err, "reqrep: encode request")
	}
	if err := writer.WriteBatchContext(reqCtx, sock, []frame.Frame{frame.New(typeID, raw)}); err != nil {
		return nil, errors.Wrap(err, "reqrep: send request")
	}

	cr.setContext(reqCtx)
	f, err := reader.ReadFrameContext(reqCtx)
	if err != nil {
		return nil, errors.Wrap(err, "reqrep: receive reply")
	}

	reply, err := q.registry.Decode(f.TypeID, f.RawMessage)
	if err != nil {
		return nil, errors.Wrap(err, "reqrep: decode reply")
	}
	return reply, nil
}

// Disconnect closes the connection. If waitForExit is true and a request is
// in flight, its send/receive is canceled first and Disconnect waits for
// Request to return before closing the socket; otherwise Disconnect
// proceeds immediately (spec §5).
func (q *Requester) Disconnect(waitForExit bool) error {
	q.mu.Lock()
	sock := q.sock
	cancel := q.cancel
	done := q.done
	q.mu.Unlock()
	if sock == nil {
		return nil
	}

	if waitForExit && cancel != nil {
		cancel()
		if done != nil {
			<-done
		}
	}

	q.mu.Lock()
	q.sock, q.reader, q.writer, q.cr = nil, nil, nil, nil
	q.mu.Unlock()

	return sock.Disconnect()
}

// IsConnected reports whether the requester currently holds a connection.
func (q *Requester) IsConnected() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sock != nil
}

// ctxReader adapts socket.Socket.ReadContext to io.Reader, with the active
// context swappable between calls so one frame.Reader can be reused across
// requests (only one Request is ever in flight at a time).
type ctxReader struct {
	mu   sync.Mutex
	sock socket.Socket
	ctx  context.Context
}

func (c *ctxReader) setContext(ctx context.Context) {
	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()
}

func (c *ctxReader) Read(p []byte) (int, error) {
	c.mu.Lock()
	ctx := c.ctx
	c.mu.Unlock()
	return c.sock.ReadContext(ctx, p)
}
