// Package protocol wraps a single codec.Codec and exposes typed message
// constructors plus inbound frame normalization, per spec §4.B.
//
// Frame normalization handles the three shapes an inbound message can
// arrive in: plain text, a single binary buffer, or a sequence of binary
// chunks (a fragmented frame). Normalization reduces all three to the byte
// or string form the configured codec expects before decoding, regardless
// of whether the codec itself is text- or binary-shaped.
package protocol

import (
	"bytes"
	"fmt"

	"peerrpc/codec"
	"peerrpc/message"
)

// Frame represents one inbound wire frame in whichever shape the
// transport delivered it. Exactly one field is populated.
type Frame struct {
	Text   string
	Binary []byte
	Chunks [][]byte
}

// IsText reports whether the frame arrived as text rather than bytes.
func (f Frame) IsText() bool {
	return f.Text != "" && f.Binary == nil && f.Chunks == nil
}

// Protocol constructs and parses wire messages through a single codec.
// There is no package-level default instance — codec selection is always
// an explicit constructor argument, per spec §9's "global singletons"
// design note.
type Protocol struct {
	codec codec.Codec
}

// New returns a Protocol bound to c.
func New(c codec.Codec) *Protocol {
	return &Protocol{codec: c}
}

// Codec returns the underlying codec, e.g. so a Peer can report its
// negotiated wire format.
func (p *Protocol) Codec() codec.Codec {
	return p.codec
}

func (p *Protocol) CreateRequest(id, method string, params any) ([]byte, error) {
	return p.codec.EncodeMessage(message.NewRequest(id, method, params))
}

func (p *Protocol) CreateResponse(id string, result any) ([]byte, error) {
	return p.codec.EncodeMessage(message.NewResponse(id, result))
}

func (p *Protocol) CreateError(id string, code int32, msg string, data any) ([]byte, error) {
	return p.codec.EncodeMessage(message.NewError(id, code, msg, data))
}

func (p *Protocol) CreateEvent(event string, data any) ([]byte, error) {
	return p.codec.EncodeMessage(message.NewEvent(event, data))
}

// DecodeMessage normalizes frame per the three rules in spec §4.B, then
// decodes it through the bound codec. It returns an error on any
// structural or shape mismatch — callers that want warn-and-drop semantics
// should use SafeDecodeMessage instead.
func (p *Protocol) DecodeMessage(frame Frame) (*message.Message, error) {
	normalized, err := p.normalize(frame)
	if err != nil {
		return nil, fmt.Errorf("protocol: normalize frame: %w", err)
	}
	m, err := p.codec.DecodeMessage(normalized)
	if err != nil {
		return nil, fmt.Errorf("protocol: decode message: %w", err)
	}
	return m, nil
}

// SafeDecodeMessage is DecodeMessage without the error return: callers
// that only want "did we get a usable message" (inbound dispatch, which
// drops silently on parse failure per spec §4.C) use this form.
func (p *Protocol) SafeDecodeMessage(frame Frame) (*message.Message, bool) {
	m, err := p.DecodeMessage(frame)
	if err != nil {
		return nil, false
	}
	return m, true
}

// normalize implements the three frame-normalization rules from spec
// §4.B:
//  1. A chunk sequence is concatenated into one buffer, preserving order.
//  2. A text codec receiving a binary frame decodes it as UTF-8.
//  3. A binary codec receiving a text frame re-encodes it as UTF-8 bytes.
func (p *Protocol) normalize(frame Frame) ([]byte, error) {
	var raw []byte
	switch {
	case frame.Chunks != nil:
		raw = bytes.Join(frame.Chunks, nil)
	case frame.Binary != nil:
		raw = frame.Binary
	default:
		raw = []byte(frame.Text)
	}

	switch p.codec.Kind() {
	case codec.KindText, codec.KindBinary:
		// Go strings and []byte share the same UTF-8 byte representation,
		// so the text<->binary transcoding rules in spec §4.B collapse to
		// "use raw as-is" once chunks are joined — there is no separate
		// decode step needed here the way there would be in a language
		// with distinct UTF-16 string internals.
		return raw, nil
	default:
		return nil, fmt.Errorf("protocol: codec reports unknown kind %v", p.codec.Kind())
	}
}
