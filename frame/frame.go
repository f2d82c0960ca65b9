// Package frame implements the wire frame format and the framed reader and
// writer built on top of it (spec §4.1). The wire format is fixed and
// unversioned: a 6-byte little-endian header followed by the payload.
//
// Grounded on the teacher's protocol/frame.go encode/decode discipline
// (momentics-hioload-ws), adapted from WebSocket's big-endian variable
// header to wireq's fixed 6-byte little-endian header, and on
// api/buffer.go's Buffer/Releaser pooling contract.
package frame

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"
)

// HeaderSize is the fixed size, in bytes, of a frame header: 2 bytes for
// the type id, 4 bytes for the payload length.
const HeaderSize = 6

// MaxPayloadLen bounds a single frame's payload so a corrupted length field
// cannot trigger an unbounded allocation. Set to the largest value the
// length field (read as a signed int32) can represent, so every payload
// length in the valid range [0, 2^31) round-trips rather than being
// rejected as corruption.
const MaxPayloadLen = math.MaxInt32

// ErrNegativeLength signals a frame header whose length field, read as
// signed, came back negative -- a corruption indicator per spec §4.1.
var ErrNegativeLength = errors.New("frame: negative length in header")

// ErrPayloadTooLarge signals a frame header whose length exceeds MaxPayloadLen.
var ErrPayloadTooLarge = errors.New("frame: payload exceeds maximum length")

// Frame is one (messageTypeId, rawMessage) unit on the wire.
type Frame struct {
	TypeID     uint16
	RawMessage []byte
}

// New constructs a Frame, asserting the spec invariant that RawMessage is
// never nil for a valid frame.
func New(typeID uint16, raw []byte) Frame {
	if raw == nil {
		raw = []byte{}
	}
	return Frame{TypeID: typeID, RawMessage: raw}
}

// EncodedLen returns the number of bytes Encode will write for f.
func (f Frame) EncodedLen() int {
	return HeaderSize + len(f.RawMessage)
}

// Encode appends f's wire image to dst and returns the result. dst's
// existing contents are preserved; this is the single-frame building block
// the framed writer uses to assemble a multi-frame batch into one buffer.
func Encode(dst []byte, f Frame) []byte {
	start := len(dst)
	dst = append(dst, make([]byte, HeaderSize)...)
	binary.LittleEndian.PutUint16(dst[start:], f.TypeID)
	binary.LittleEndian.PutUint32(dst[start+2:], uint32(len(f.RawMessage)))
	dst = append(dst, f.RawMessage...)
	return dst
}

// ReadOne reads exactly one frame from r: HeaderSize header bytes, then
// exactly length payload bytes. Short reads are retried transparently by
// io.ReadFull. A zero-byte read or I/O failure is returned as-is so the
// caller (recvloop) can classify it as a socketError.
func ReadOne(r io.Reader) (Frame, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, err
	}

	typeID := binary.LittleEndian.Uint16(hdr[0:2])
	length := int32(binary.LittleEndian.Uint32(hdr[2:6]))
	if length < 0 {
		return Frame{}, ErrNegativeLength
	}
	if int64(length) > MaxPayloadLen {
		return Frame{}, ErrPayloadTooLarge
	}

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, err
		}
	}
	return Frame{TypeID: typeID, RawMessage: payload}, nil
}
