package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"

	"peerrpc/codec"
)

func TestCreateRequestDecodeRoundTrip(t *testing.T) {
	p := New(&codec.JSONCodec{})

	wire, err := p.CreateRequest("1", "getUser", map[string]any{"id": "123"})
	require.NoError(t, err)

	m, err := p.DecodeMessage(Frame{Binary: wire})
	require.NoError(t, err)
	require.Equal(t, "1", m.ID)
	require.Equal(t, "getUser", m.Method)
}

func TestDecodeMessageFromChunks(t *testing.T) {
	p := New(&codec.JSONCodec{})
	wire, err := p.CreateEvent("userUpdated", map[string]any{"id": "123"})
	require.NoError(t, err)

	mid := len(wire) / 2
	m, err := p.DecodeMessage(Frame{Chunks: [][]byte{wire[:mid], wire[mid:]}})
	require.NoError(t, err)
	require.Equal(t, "userUpdated", m.Event)
}

func TestDecodeMessageFromText(t *testing.T) {
	p := New(&codec.JSONCodec{})
	wire, err := p.CreateResponse("7", map[string]any{"ok": true})
	require.NoError(t, err)

	m, err := p.DecodeMessage(Frame{Text: string(wire)})
	require.NoError(t, err)
	require.Equal(t, "7", m.ID)
}

func TestSafeDecodeMessageDropsMalformed(t *testing.T) {
	p := New(&codec.JSONCodec{})
	m, ok := p.SafeDecodeMessage(Frame{Text: "not json"})
	require.False(t, ok)
	require.Nil(t, m)
}

func TestBinaryCodecAcceptsTextFrame(t *testing.T) {
	p := New(&codec.MsgPackCodec{})
	wire, err := p.CreateRequest("1", "ping", nil)
	require.NoError(t, err)

	// Simulate the transport delivering what was actually a binary frame
	// as text — rule 3 in spec §4.B — to confirm normalize doesn't panic
	// or corrupt multi-byte sequences.
	m, err := p.DecodeMessage(Frame{Text: string(wire)})
	require.NoError(t, err)
	require.Equal(t, "ping", m.Method)
}
