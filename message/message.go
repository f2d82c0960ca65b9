// Package message defines the polymorphic payload contract the core frame
// layer delegates to. Serialization itself is out of scope for wireq's core
// (spec §1); this package only fixes the small interface the receive loop
// and work units need.
package message

import (
	"github.com/pkg/errors"
)

// Message is any payload recognized by a Registry's type-id space.
type Message interface {
	// TypeID returns the wire type id this message decodes/encodes under.
	TypeID() uint16
}

// Decoder turns a frame's raw payload into a Message.
type Decoder func(raw []byte) (Message, error)

// Registry maps message type ids to decoders, looked up by the receive
// loop for every incoming frame (frame.Frame.TypeID).
type Registry struct {
	decoders map[uint16]Decoder
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{decoders: make(map[uint16]Decoder)}
}

// Register installs the decoder for a type id, overwriting any previous one.
func (r *Registry) Register(typeID uint16, dec Decoder) {
	r.decoders[typeID] = dec
}

// Decode looks up the decoder for typeID and invokes it. ErrUnknownType is
// returned when no decoder is registered; the caller (recvloop) surfaces
// this as messageDeserializationError per spec §4.1.
func (r *Registry) Decode(typeID uint16, raw []byte) (Message, error) {
	dec, ok := r.decoders[typeID]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownType, "type id %d", typeID)
	}
	msg, err := dec(raw)
	if err != nil {
		return nil, errors.Wrap(err, "decode message")
	}
	return msg, nil
}

// ErrUnknownType is returned by Decode when no decoder is registered for a
// type id.
var ErrUnknownType = errors.New("message: unknown type id")
