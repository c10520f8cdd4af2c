package transport

import (
	"context"
	"fmt"
	"sync"

	"peerrpc/protocol"
)

// Pipe is an in-process Duplex backed by a pair of channels, used to
// exercise peer/durable/multipeer tests without a real socket. Grounded on
// the teacher's preference for testing client and server against an
// in-process listener (server_test.go, client_test.go) but adapted so no
// real TCP port is needed per test.
type Pipe struct {
	mu         sync.Mutex
	out        chan protocol.Frame
	state      ReadyState
	onMessage  func(protocol.Frame)
	onClose    func()
	closeOnce  sync.Once
	peerClosed func()
}

// NewPipe returns two Pipes wired to each other: frames sent on a are
// delivered to b's onMessage callback, and vice versa.
func NewPipe() (a, b *Pipe) {
	ab := make(chan protocol.Frame, 64)
	ba := make(chan protocol.Frame, 64)

	a = &Pipe{out: ab, state: Open}
	b = &Pipe{out: ba, state: Open}

	go a.pump(ba)
	go b.pump(ab)

	a.peerClosed = func() { b.markClosed() }
	b.peerClosed = func() { a.markClosed() }

	return a, b
}

func (p *Pipe) pump(in <-chan protocol.Frame) {
	for frame := range in {
		p.mu.Lock()
		cb := p.onMessage
		p.mu.Unlock()
		if cb != nil {
			cb(frame)
		}
	}
}

func (p *Pipe) Send(ctx context.Context, frame protocol.Frame) error {
	p.mu.Lock()
	state := p.state
	p.mu.Unlock()
	if state != Open {
		return fmt.Errorf("transport: pipe is not open (state=%s)", state)
	}
	select {
	case p.out <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipe) Close(code int, reason string) error {
	p.markClosed()
	if p.peerClosed != nil {
		p.peerClosed()
	}
	return nil
}

func (p *Pipe) markClosed() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.state = Closed
		close(p.out)
		cb := p.onClose
		p.mu.Unlock()
		if cb != nil {
			cb()
		}
	})
}

func (p *Pipe) ReadyState() ReadyState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pipe) SetOnMessage(fn func(protocol.Frame)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onMessage = fn
}

func (p *Pipe) SetOnClose(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onClose = fn
}
