package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"peerrpc/protocol"
)

// WebSocketDuplex adapts a *websocket.Conn to the Duplex interface. This
// is the nominal transport named in spec §1 ("nominally WebSocket") — the
// core protocol/peer/durable/multipeer packages never import this file
// directly, only the transport.Duplex interface, so swapping transports
// never touches core logic.
//
// Grounded on transport/client_transport.go's recvLoop + single sending
// mutex pattern, generalized from a custom TCP frame to gorilla's
// text/binary WebSocket frame types.
type WebSocketDuplex struct {
	conn *websocket.Conn

	sendMu sync.Mutex
	state  atomic.Int32 // ReadyState

	onMessage func(protocol.Frame)
	onClose   func()
	readOnce  sync.Once
}

// NewWebSocketDuplex wraps conn and immediately starts the background read
// loop that delivers inbound frames to the OnMessage callback.
func NewWebSocketDuplex(conn *websocket.Conn) *WebSocketDuplex {
	d := &WebSocketDuplex{conn: conn}
	d.state.Store(int32(Open))
	d.readOnce.Do(func() { go d.readLoop() })
	return d
}

func (d *WebSocketDuplex) readLoop() {
	defer d.markClosed()
	for {
		msgType, data, err := d.conn.ReadMessage()
		if err != nil {
			return
		}

		var frame protocol.Frame
		if msgType == websocket.TextMessage {
			frame = protocol.Frame{Text: string(data)}
		} else {
			frame = protocol.Frame{Binary: data}
		}

		if cb := d.getOnMessage(); cb != nil {
			cb(frame)
		}
	}
}

func (d *WebSocketDuplex) getOnMessage() func(protocol.Frame) {
	d.sendMu.Lock()
	defer d.sendMu.Unlock()
	return d.onMessage
}

// Send writes frame to the underlying connection. Writes are serialized by
// sendMu — gorilla/websocket connections support at most one concurrent
// writer, same constraint the teacher's ClientTransport documents for its
// own sending mutex.
func (d *WebSocketDuplex) Send(ctx context.Context, frame protocol.Frame) error {
	if ReadyState(d.state.Load()) != Open {
		return fmt.Errorf("transport: websocket is not open")
	}

	d.sendMu.Lock()
	defer d.sendMu.Unlock()

	if frame.Chunks != nil {
		// Gorilla exposes frame-at-a-time writes through NextWriter for
		// true fragmentation; for the common case here we reassemble and
		// send as one binary message, since spec §4.B only requires that
		// fragmented inbound frames be handled, not that outbound frames
		// be artificially split.
		joined := make([]byte, 0)
		for _, c := range frame.Chunks {
			joined = append(joined, c...)
		}
		return d.conn.WriteMessage(websocket.BinaryMessage, joined)
	}
	if frame.Binary != nil {
		return d.conn.WriteMessage(websocket.BinaryMessage, frame.Binary)
	}
	return d.conn.WriteMessage(websocket.TextMessage, []byte(frame.Text))
}

func (d *WebSocketDuplex) Close(code int, reason string) error {
	defer d.markClosed()
	d.sendMu.Lock()
	defer d.sendMu.Unlock()
	msg := websocket.FormatCloseMessage(code, reason)
	_ = d.conn.WriteMessage(websocket.CloseMessage, msg)
	return d.conn.Close()
}

func (d *WebSocketDuplex) markClosed() {
	if ReadyState(d.state.Swap(int32(Closed))) == Closed {
		return
	}
	d.sendMu.Lock()
	cb := d.onClose
	d.sendMu.Unlock()
	if cb != nil {
		cb()
	}
}

func (d *WebSocketDuplex) ReadyState() ReadyState {
	return ReadyState(d.state.Load())
}

func (d *WebSocketDuplex) SetOnMessage(fn func(protocol.Frame)) {
	d.sendMu.Lock()
	defer d.sendMu.Unlock()
	d.onMessage = fn
}

func (d *WebSocketDuplex) SetOnClose(fn func()) {
	d.sendMu.Lock()
	defer d.sendMu.Unlock()
	d.onClose = fn
}
