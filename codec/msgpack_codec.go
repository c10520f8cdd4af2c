package codec

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"peerrpc/message"
)

// MsgPackCodec is a binary codec using github.com/vmihailenco/msgpack/v5.
// Struct-tag-driven binary encoding of the same logical message shape the
// JSON codec produces, per spec §6 ("binary codecs encode the same logical
// object shape"). The msgpack struct tag convention is grounded on
// other_examples/cloudapex-river__core.go's RPCInfo/ResultInfo types.
type MsgPackCodec struct{}

func (c *MsgPackCodec) EncodeMessage(m *message.Message) ([]byte, error) {
	data, err := msgpack.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("msgpack codec: encode: %w", err)
	}
	return data, nil
}

func (c *MsgPackCodec) DecodeMessage(data []byte) (*message.Message, error) {
	var m message.Message
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("msgpack codec: decode: %w", err)
	}
	if !m.Valid() {
		return nil, fmt.Errorf("msgpack codec: decoded message fails union shape check (type=%q)", m.Type)
	}
	return &m, nil
}

func (c *MsgPackCodec) Kind() Kind {
	return KindBinary
}
