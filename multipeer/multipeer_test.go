package multipeer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"peerrpc/codec"
	"peerrpc/peer"
	"peerrpc/protocol"
	"peerrpc/schema"
	"peerrpc/transport"
)

func newProto() *protocol.Protocol { return protocol.New(&codec.JSONCodec{}) }

// attachPeer wires up a plain peer.Peer on the "remote" end of a pipe,
// standing in for an independent process the MultiPeer fans out to.
func attachPeer(t *testing.T, id string, tr transport.Duplex, provider peer.MethodProvider) *peer.Peer {
	t.Helper()
	s := schema.New().WithMethod("ping", schema.Permissive, nil)
	return peer.New(id, tr, newProto(), s, schema.New(), peer.WithProvider(provider))
}

func newMultiPeer(t *testing.T) *MultiPeer {
	t.Helper()
	remoteSchema := schema.New().WithMethod("ping", schema.Permissive, nil)
	mp, err := New(schema.New(), remoteSchema, newProto, 8)
	require.NoError(t, err)
	return mp
}

func TestFanoutCallReturnsResultsInTargetOrder(t *testing.T) {
	mp := newMultiPeer(t)
	defer mp.Close()

	pingProvider := peer.ProviderMap{
		"ping": func(ctx context.Context, params any) (any, error) { return "pong", nil },
	}.Provider()

	var servers []*peer.Peer
	for _, id := range []string{"a", "b", "c"} {
		client, server := transport.NewPipe()
		mp.Connect(id, client)
		servers = append(servers, attachPeer(t, id, server, pingProvider))
	}
	defer func() {
		for _, s := range servers {
			s.Close()
		}
	}()

	results := mp.Call(context.Background(), "ping", nil, WithTargetIDs("c", "a", "b"))
	require.Len(t, results, 3)
	require.Equal(t, []string{"c", "a", "b"}, []string{results[0].ID, results[1].ID, results[2].ID})
	for _, r := range results {
		require.True(t, r.Result.OK)
		require.Equal(t, "pong", r.Result.Value)
	}
}

func TestFanoutCallPartialResultsExcludeMissingTargets(t *testing.T) {
	mp := newMultiPeer(t)
	defer mp.Close()

	pingProvider := peer.ProviderMap{
		"ping": func(ctx context.Context, params any) (any, error) { return "pong", nil },
	}.Provider()

	var servers []*peer.Peer
	for _, id := range []string{"a", "b"} {
		client, server := transport.NewPipe()
		mp.Connect(id, client)
		servers = append(servers, attachPeer(t, id, server, pingProvider))
	}
	defer func() {
		for _, s := range servers {
			s.Close()
		}
	}()

	// "x" was never connected — spec §4.E: an id not resolved to an open
	// peer simply contributes no entry.
	results := mp.Call(context.Background(), "ping", nil, WithTargetIDs("a", "b", "x"))
	require.Len(t, results, 2)
}

func TestFanoutCallTimesOutSlowPeerIndependently(t *testing.T) {
	mp := newMultiPeer(t)
	defer mp.Close()

	fast := peer.ProviderMap{"ping": func(ctx context.Context, params any) (any, error) { return "pong", nil }}.Provider()
	blockCh := make(chan struct{})
	slow := peer.ProviderMap{"ping": func(ctx context.Context, params any) (any, error) {
		<-blockCh
		return "too-late", nil
	}}.Provider()
	defer close(blockCh)

	clientFast, serverFast := transport.NewPipe()
	clientSlow, serverSlow := transport.NewPipe()
	mp.Connect("fast", clientFast)
	mp.Connect("slow", clientSlow)
	sf := attachPeer(t, "fast", serverFast, fast)
	ss := attachPeer(t, "slow", serverSlow, slow)
	defer sf.Close()
	defer ss.Close()

	results := mp.Call(context.Background(), "ping", nil, WithTargetIDs("fast", "slow"), WithFanoutTimeout(50*time.Millisecond))
	require.Len(t, results, 2)
	require.True(t, results[0].Result.OK)
	require.False(t, results[1].Result.OK)
	var te *peer.TimeoutError
	require.ErrorAs(t, results[1].Result.Err, &te)
}

func TestDispatchLazilyRecreatesPeerAndFiresHook(t *testing.T) {
	var recreated *peer.Peer
	remoteSchema := schema.New().WithMethod("ping", schema.Permissive, nil)
	mp, err := New(schema.New(), remoteSchema, newProto, 4, WithHooks(Hooks{
		OnPeerRecreated: func(p *peer.Peer) { recreated = p },
	}))
	require.NoError(t, err)
	defer mp.Close()

	require.Equal(t, 0, mp.GetConnectionCount())

	client, server := transport.NewPipe()
	defer server.Close(1000, "")

	frame := protocol.Frame{Text: `{"type":"rpc:response","id":"1","result":"hi"}`}
	mp.Dispatch("hibernated-conn", client, frame)

	require.Equal(t, 1, mp.GetConnectionCount())
	require.NotNil(t, recreated)
	require.Equal(t, "hibernated-conn", recreated.ID())
}

func TestClosePeerRemovesFromMapAndFiresOnDisconnect(t *testing.T) {
	disconnected := make(chan string, 1)
	remoteSchema := schema.New().WithMethod("ping", schema.Permissive, nil)
	mp, err := New(schema.New(), remoteSchema, newProto, 4, WithHooks(Hooks{
		OnDisconnect: func(p *peer.Peer) { disconnected <- p.ID() },
	}))
	require.NoError(t, err)
	defer mp.Close()

	client, server := transport.NewPipe()
	defer server.Close(1000, "")
	mp.Connect("a", client)
	require.Equal(t, 1, mp.GetConnectionCount())

	require.NoError(t, mp.ClosePeer("a"))
	require.Equal(t, 0, mp.GetConnectionCount())

	select {
	case id := <-disconnected:
		require.Equal(t, "a", id)
	case <-time.After(time.Second):
		t.Fatal("onDisconnect was not fired")
	}
}

func TestBroadcastDeliversToAllOpenPeers(t *testing.T) {
	eventSchema := schema.New().WithEvent("tick", schema.Permissive)
	mp, err := New(eventSchema, schema.New(), newProto, 4)
	require.NoError(t, err)
	defer mp.Close()

	received := make(chan string, 2)

	for _, id := range []string{"a", "b"} {
		client, server := transport.NewPipe()
		mp.Connect(id, client)
		s := peer.New(id, server, newProto(), schema.New(), eventSchema,
			peer.WithEventHandler(func(event string, data any) { received <- event }))
		defer s.Close()
	}

	mp.Broadcast(context.Background(), "tick", map[string]any{"n": 1})

	for i := 0; i < 2; i++ {
		select {
		case ev := <-received:
			require.Equal(t, "tick", ev)
		case <-time.After(time.Second):
			t.Fatal("broadcast did not reach all peers")
		}
	}
}
