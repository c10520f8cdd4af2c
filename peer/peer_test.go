package peer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"peerrpc/codec"
	"peerrpc/protocol"
	"peerrpc/schema"
	"peerrpc/transport"
)

type getUserArgs struct {
	ID string `json:"id"`
}

type getUserReply struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

func newLinkedPeers(t *testing.T, serverProvider MethodProvider) (*Peer, *Peer) {
	t.Helper()
	a, b := transport.NewPipe()
	proto := func() *protocol.Protocol { return protocol.New(&codec.JSONCodec{}) }

	clientSchema := schema.New().WithMethod("getUser", schema.Required(), nil)
	serverSchema := schema.New().WithMethod("getUser", schema.Required(), nil)

	client := New("client", a, proto(), schema.New(), clientSchema)
	server := New("server", b, proto(), serverSchema, schema.New(), WithProvider(serverProvider))

	return client, server
}

func TestHappyPathCall(t *testing.T) {
	provider := ProviderMap{
		"getUser": func(ctx context.Context, params any) (any, error) {
			return map[string]any{"name": "J", "email": "j@x"}, nil
		},
	}.Provider()

	client, server := newLinkedPeers(t, provider)
	defer client.Close()
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result, err := client.Call(ctx, "getUser", map[string]any{"id": "123"})
	require.NoError(t, err)
	m := result.(map[string]any)
	require.Equal(t, "J", m["name"])
}

func TestValidationErrorOutboundBlocksSend(t *testing.T) {
	client, server := newLinkedPeers(t, ProviderMap{}.Provider())
	defer client.Close()
	defer server.Close()

	_, err := client.Call(context.Background(), "getUser", nil)
	require.Error(t, err)

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	require.Equal(t, 0, client.PendingCount())
}

func TestMethodNotFoundOnOutboundCall(t *testing.T) {
	client, server := newLinkedPeers(t, ProviderMap{}.Provider())
	defer client.Close()
	defer server.Close()

	_, err := client.Call(context.Background(), "noSuchMethod", map[string]any{})
	require.Error(t, err)
	var mnf *MethodNotFoundError
	require.ErrorAs(t, err, &mnf)
}

func TestUnknownMethodOnServerRespondsWithRemoteError(t *testing.T) {
	a, b := transport.NewPipe()
	proto := func() *protocol.Protocol { return protocol.New(&codec.JSONCodec{}) }

	clientSchema := schema.New().WithMethod("noSuch", schema.Permissive, nil)
	client := New("client", a, proto(), schema.New(), clientSchema)
	server := New("server", b, proto(), schema.New(), schema.New(), WithProvider(ProviderMap{}.Provider()))
	defer client.Close()
	defer server.Close()

	_, err := client.Call(context.Background(), "noSuch", map[string]any{})
	require.Error(t, err)
	var re *RemoteError
	require.ErrorAs(t, err, &re)
	require.Equal(t, int32(-32601), re.Code)
}

func TestTimeoutRejectsAfterDeadline(t *testing.T) {
	a, b := transport.NewPipe()
	proto := func() *protocol.Protocol { return protocol.New(&codec.JSONCodec{}) }

	clientSchema := schema.New().WithMethod("slow", schema.Permissive, nil)
	client := New("client", a, proto(), schema.New(), clientSchema)
	defer client.Close()
	defer b.Close(1000, "")
	_, err := client.Call(context.Background(), "slow", map[string]any{}, WithTimeout(50*time.Millisecond))
	require.Error(t, err)
	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	require.Equal(t, "slow", te.Method)
	require.Eventually(t, func() bool { return client.PendingCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestCloseRejectsAllPendingWithConnectionClosed(t *testing.T) {
	a, b := transport.NewPipe()
	proto := func() *protocol.Protocol { return protocol.New(&codec.JSONCodec{}) }

	clientSchema := schema.New().WithMethod("slow", schema.Permissive, nil)
	client := New("client", a, proto(), schema.New(), clientSchema)
	defer b.Close(1000, "")

	errCh := make(chan error, 1)
	go func() {
		_, err := client.Call(context.Background(), "slow", map[string]any{}, WithTimeout(5*time.Second))
		errCh <- err
	}()

	require.Eventually(t, func() bool { return client.PendingCount() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, client.Close())

	select {
	case err := <-errCh:
		var cce *ConnectionClosedError
		require.ErrorAs(t, err, &cce)
	case <-time.After(time.Second):
		t.Fatal("pending call was not rejected on close")
	}
	require.Equal(t, 0, client.PendingCount())
}

func TestEmitDeliversValidatedEventToHandler(t *testing.T) {
	a, b := transport.NewPipe()
	proto := func() *protocol.Protocol { return protocol.New(&codec.JSONCodec{}) }

	senderSchema := schema.New().WithEvent("userUpdated", schema.Permissive)
	receiverSchema := schema.New().WithEvent("userUpdated", schema.Permissive)

	received := make(chan any, 1)
	sender := New("sender", a, proto(), senderSchema, schema.New())
	receiver := New("receiver", b, proto(), schema.New(), receiverSchema,
		WithEventHandler(func(event string, data any) { received <- data }))
	defer sender.Close()
	defer receiver.Close()

	sender.Emit(context.Background(), "userUpdated", map[string]any{"id": "123"})

	select {
	case data := <-received:
		m := data.(map[string]any)
		require.Equal(t, "123", m["id"])
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestEmitOnUnknownEventIsDroppedNotSent(t *testing.T) {
	a, _ := transport.NewPipe()
	proto := protocol.New(&codec.JSONCodec{})
	sender := New("sender", a, proto, schema.New(), schema.New())
	defer sender.Close()

	// No event registered in localSchema — Emit should log-and-drop, not
	// panic or send anything.
	sender.Emit(context.Background(), "unregistered", map[string]any{})
}

func TestDriverConcurrentCallsAreIndependentlyCorrelated(t *testing.T) {
	provider := ProviderMap{
		"echo": func(ctx context.Context, params any) (any, error) {
			return params, nil
		},
	}.Provider()

	a, b := transport.NewPipe()
	proto := func() *protocol.Protocol { return protocol.New(&codec.JSONCodec{}) }
	clientSchema := schema.New().WithMethod("echo", schema.Permissive, nil)
	serverSchema := schema.New().WithMethod("echo", schema.Permissive, nil)
	client := New("client", a, proto(), schema.New(), clientSchema)
	server := New("server", b, proto(), serverSchema, schema.New(), WithProvider(provider))
	defer client.Close()
	defer server.Close()

	const n = 20
	results := make(chan any, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			v, err := client.Call(context.Background(), "echo", map[string]any{"i": i})
			require.NoError(t, err)
			results <- v
		}(i)
	}

	seen := map[float64]bool{}
	for i := 0; i < n; i++ {
		select {
		case v := <-results:
			m := v.(map[string]any)
			seen[m["i"].(float64)] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for concurrent calls")
		}
	}
	require.Len(t, seen, n)
}
