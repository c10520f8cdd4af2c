package codec

import (
	"encoding/json"
	"fmt"

	"peerrpc/message"
)

// JSONCodec uses Go's standard library encoding/json. Canonical text codec
// for the wire format in spec §6: human-readable, cross-language, easy to
// debug. The teacher's JSON codec already reached for stdlib json rather
// than a third-party encoder — the idiomatic choice for JSON in this
// corpus — so this implementation keeps that choice.
type JSONCodec struct{}

func (c *JSONCodec) EncodeMessage(m *message.Message) ([]byte, error) {
	return json.Marshal(m)
}

func (c *JSONCodec) DecodeMessage(data []byte) (*message.Message, error) {
	var m message.Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("json codec: decode: %w", err)
	}
	if !m.Valid() {
		return nil, fmt.Errorf("json codec: decoded message fails union shape check (type=%q)", m.Type)
	}
	return &m, nil
}

func (c *JSONCodec) Kind() Kind {
	return KindText
}
