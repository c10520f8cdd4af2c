// Package codec provides the Encode/Decode boundary between a validated
// message.Message and its wire representation. Two shapes exist per the
// protocol: text codecs (string wire form, canonically JSON) and binary
// codecs (byte wire form — MessagePack, CBOR). Decoding always validates
// the decoded value against message.Message's union shape and fails on
// structural mismatch, regardless of which concrete codec is used.
package codec

import (
	"fmt"

	"peerrpc/message"
)

// Kind distinguishes text codecs (operate on strings, e.g. JSON) from
// binary codecs (operate on byte slices, e.g. MessagePack, CBOR). The
// protocol layer uses Kind to decide how to normalize an inbound frame
// before handing it to a codec.
type Kind int

const (
	KindText   Kind = 0
	KindBinary Kind = 1
)

// Name identifies a codec implementation by configuration string, carried
// by config.Defaults and resolved through a Registry to select a codec
// without importing a concrete implementation package.
type Name string

const (
	NameJSON    Name = "json"
	NameMsgPack Name = "msgpack"
	NameCBOR    Name = "cbor"
)

// Codec encodes and decodes a single message.Message to and from its wire
// representation. Implementations must be safe for concurrent use; a
// Protocol may call Encode/Decode from multiple goroutines on the same
// Peer if the host dispatches handlers concurrently.
type Codec interface {
	EncodeMessage(m *message.Message) ([]byte, error)
	DecodeMessage(data []byte) (*message.Message, error)
	Kind() Kind
}

// Registry resolves a Codec by configured Name, mirroring the teacher's
// GetCodec factory generalized from a two-way byte switch to an open set
// of named codecs.
type Registry struct {
	codecs map[Name]Codec
}

// NewRegistry returns a Registry pre-populated with the three codecs this
// module ships: JSON, MessagePack, and CBOR.
func NewRegistry() *Registry {
	return &Registry{codecs: map[Name]Codec{
		NameJSON:    &JSONCodec{},
		NameMsgPack: &MsgPackCodec{},
		NameCBOR:    &CBORCodec{},
	}}
}

// Get returns the codec registered under name.
func (r *Registry) Get(name Name) (Codec, error) {
	c, ok := r.codecs[name]
	if !ok {
		return nil, fmt.Errorf("codec: unknown codec %q", name)
	}
	return c, nil
}

// Register adds or replaces a codec under name, allowing a host to swap in
// a custom implementation without forking the registry.
func (r *Registry) Register(name Name, c Codec) {
	r.codecs[name] = c
}
