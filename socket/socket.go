// Package socket defines the bidirectional channel abstraction every
// transport (in-process or TCP) implements, plus the shared idempotent
// disconnect/notify machinery spec §3 requires: exactly one Disconnected
// event per socket, across its entire lifetime.
//
// Grounded on the teacher's api.NetConn contract (api/transport.go) for the
// Read/Write/Close shape, and protocol/connection.go's
// atomic.CompareAndSwapInt32-guarded Close for idempotent teardown.
package socket

import (
	"context"
	"io"
	"sync"

	"github.com/wireq/wireq/endpoint"
	"github.com/wireq/wireq/sync2"
)

// Socket is a stateful, full-duplex byte channel bound to one endpoint.
type Socket interface {
	io.Reader
	io.Writer

	// Endpoint names the address this socket is connected to or accepted on.
	Endpoint() endpoint.Endpoint

	// Disconnect closes the socket. Idempotent: a second call is a no-op
	// that returns nil.
	Disconnect() error

	// IsDisconnected reports whether Disconnect has completed.
	IsDisconnected() bool

	// OnDisconnect registers fn to run exactly once, the first time this
	// socket transitions into the disconnected state. If the socket is
	// already disconnected, fn runs immediately (synchronously) so callers
	// never miss the event by registering late.
	OnDisconnect(fn func())

	// ReadContext reads like Read but returns ctx.Err() if ctx is done
	// before the read can be attempted. True mid-read cancellation depends
	// on the concrete transport (TCP sockets translate ctx deadlines into
	// SetReadDeadline; in-process sockets unblock directly).
	ReadContext(ctx context.Context, p []byte) (int, error)
}

// Lifecycle is embedded by every Socket implementation to provide the
// idempotent-disconnect, single-fire notification behavior uniformly.
// Events-as-callbacks fan out without holding the lock (spec §9 design
// note), so a slow or reentrant subscriber can never deadlock a disconnect.
type Lifecycle struct {
	disconnected sync2.InterlockedBoolean

	mu        sync.Mutex
	listeners []func()
	fired     bool
}

// OnDisconnect implements the registration rule described on Socket.
func (l *Lifecycle) OnDisconnect(fn func()) {
	l.mu.Lock()
	if l.fired {
		l.mu.Unlock()
		fn()
		return
	}
	l.listeners = append(l.listeners, fn)
	l.mu.Unlock()
}

// MarkDisconnected performs the test-and-set and, on the winning
// transition only, fans the registered callbacks out. Returns true if this
// call performed the transition (i.e. the caller should also close the
// underlying transport).
func (l *Lifecycle) MarkDisconnected() bool {
	if l.disconnected.TestAndSet() {
		return false
	}
	l.mu.Lock()
	l.fired = true
	listeners := l.listeners
	l.listeners = nil
	l.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
	return true
}

// IsDisconnected implements Socket.
func (l *Lifecycle) IsDisconnected() bool {
	return l.disconnected.Get()
}
