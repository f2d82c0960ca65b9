package frame

import (
	"context"
	"io"

	"github.com/pkg/errors"
)

// Writer serializes one or more frames into a single pooled buffer and
// issues exactly one socket write per call, so a multi-frame batch is
// always delivered contiguously and in order with no interleaving on that
// socket (spec §4.1 atomicity guarantee).
type Writer struct {
	pool *BufferPool
}

// NewWriter builds a Writer backed by pool. A nil pool allocates a private
// one sized to defaultPoolCap.
func NewWriter(pool *BufferPool) *Writer {
	if pool == nil {
		pool = NewBufferPool(0)
	}
	return &Writer{pool: pool}
}

// Write encodes a single frame and writes it to w in one call.
func (fw *Writer) Write(w io.Writer, f Frame) error {
	return fw.WriteBatch(w, []Frame{f})
}

// WriteBatch encodes frames into one contiguous buffer and issues a single
// w.Write call, guaranteeing in-order, non-interleaved delivery of the
// whole batch relative to that socket.
func (fw *Writer) WriteBatch(w io.Writer, frames []Frame) error {
	if len(frames) == 0 {
		return nil
	}

	size := 0
	for _, f := range frames {
		size += f.EncodedLen()
	}

	buf := fw.pool.Acquire(size)
	defer fw.pool.Release(buf)

	for _, f := range frames {
		buf = Encode(buf, f)
	}

	if _, err := w.Write(buf); err != nil {
		return errors.Wrap(err, "frame writer: socket write")
	}
	return nil
}

// WriteBatchContext behaves like WriteBatch but honors ctx: if ctx is
// already done before the write is attempted, it returns ctx.Err() instead
// of touching the socket. The underlying write itself is a single
// synchronous call and is not preemptible mid-flight -- matching the
// teacher's connection.go sendLoop, which likewise commits to one
// transport.Send per frame once started.
func (fw *Writer) WriteBatchContext(ctx context.Context, w io.Writer, frames []Frame) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return fw.WriteBatch(w, frames)
}
