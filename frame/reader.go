package frame

import (
	"context"
	"io"

	"github.com/pkg/errors"
)

// Reader reads frames one at a time from a socket, retrying short reads
// transparently (frame.ReadOne uses io.ReadFull). A zero-byte read or any
// I/O failure terminates the caller's receive loop with a socketError per
// spec §4.1 -- Reader itself just returns the error for the loop to
// classify.
type Reader struct {
	r io.Reader
}

// NewReader wraps r for framed reads.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// ReadFrame blocks until one full frame has been read, or the socket
// fails. It tolerates arbitrary fragmentation: header and payload may each
// arrive in any number of partial reads.
func (fr *Reader) ReadFrame() (Frame, error) {
	f, err := ReadOne(fr.r)
	if err != nil {
		return Frame{}, errors.Wrap(err, "frame reader: read")
	}
	return f, nil
}

// ReadFrameContext behaves like ReadFrame but checks ctx before blocking on
// the read. Cancellation between read calls is cheap to honor exactly;
// cancellation of a read already in flight depends on the underlying
// io.Reader unblocking on context cancellation (net.Conn callers install a
// deadline from ctx for this reason -- see socket package).
func (fr *Reader) ReadFrameContext(ctx context.Context) (Frame, error) {
	select {
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	default:
	}
	return fr.ReadFrame()
}
