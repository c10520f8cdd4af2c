package multipeer

import "peerrpc/peer"

// Hooks are the lifecycle callbacks a host can observe on a MultiPeer.
// Any hook left nil is simply not invoked — none are required.
type Hooks struct {
	OnConnect       func(p *peer.Peer)
	OnDisconnect    func(p *peer.Peer)
	OnEvent         func(p *peer.Peer, event string, data any)
	OnError         func(p *peer.Peer, err error)
	OnClose         func()
	OnPeerRecreated func(p *peer.Peer)
}

func (h Hooks) fireConnect(p *peer.Peer) {
	if h.OnConnect != nil {
		h.OnConnect(p)
	}
}

func (h Hooks) fireDisconnect(p *peer.Peer) {
	if h.OnDisconnect != nil {
		h.OnDisconnect(p)
	}
}

func (h Hooks) fireEvent(p *peer.Peer, event string, data any) {
	if h.OnEvent != nil {
		h.OnEvent(p, event, data)
	}
}

func (h Hooks) fireError(p *peer.Peer, err error) {
	if h.OnError != nil {
		h.OnError(p, err)
	}
}

func (h Hooks) fireClose() {
	if h.OnClose != nil {
		h.OnClose()
	}
}

func (h Hooks) firePeerRecreated(p *peer.Peer) {
	if h.OnPeerRecreated != nil {
		h.OnPeerRecreated(p)
	}
}
