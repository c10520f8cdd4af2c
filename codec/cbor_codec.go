package codec

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"peerrpc/message"
)

// CBORCodec is a binary codec using github.com/fxamacker/cbor/v2, the
// second binary codec choice named explicitly in spec §4.A.
type CBORCodec struct{}

func (c *CBORCodec) EncodeMessage(m *message.Message) ([]byte, error) {
	data, err := cbor.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("cbor codec: encode: %w", err)
	}
	return data, nil
}

func (c *CBORCodec) DecodeMessage(data []byte) (*message.Message, error) {
	var m message.Message
	if err := cbor.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("cbor codec: decode: %w", err)
	}
	if !m.Valid() {
		return nil, fmt.Errorf("cbor codec: decoded message fails union shape check (type=%q)", m.Type)
	}
	return &m, nil
}

func (c *CBORCodec) Kind() Kind {
	return KindBinary
}
