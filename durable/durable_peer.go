package durable

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"peerrpc/codec"
	"peerrpc/message"
	"peerrpc/peer"
	"peerrpc/protocol"
	"peerrpc/registry"
	"peerrpc/schema"
	"peerrpc/transport"
)

// DurablePeer wraps a *peer.Peer so that outgoing calls made through
// CallWithCallback survive a process hibernation cycle: the call's state
// is persisted to SyncPendingCallStorage before the request is sent, and
// completion is routed to a registry.Callback resolved by name rather
// than to an in-memory channel a suspended process would lose.
//
// Inbound requests, events, and any call made through the embedded
// Peer's own Call/Emit are untouched — they follow the ordinary in-memory
// Peer lifecycle described in peer/peer.go.
type DurablePeer struct {
	*peer.Peer

	tr           transport.Duplex
	proto        *protocol.Protocol
	remoteSchema schema.Schema

	storage        SyncPendingCallStorage
	callbacks      registry.CallbackRegistry
	clock          func() int64
	durableTimeout time.Duration
	logger         zerolog.Logger
}

// DurableOption configures a DurablePeer at construction time.
type DurableOption func(*DurablePeer)

// WithDurableTimeout overrides the default timeout applied to durable
// calls that don't specify one via WithDurableCallTimeout.
func WithDurableTimeout(d time.Duration) DurableOption {
	return func(dp *DurablePeer) { dp.durableTimeout = d }
}

// WithClock overrides the wall-clock source used to stamp PendingCall
// SentAtMs/TimeoutAtMs, so tests can control expiry deterministically
// instead of racing real time.
func WithClock(clock func() int64) DurableOption {
	return func(dp *DurablePeer) { dp.clock = clock }
}

// WithDurableLogger overrides the zerolog.Logger used for durable-path
// warnings (storage errors, unresolvable callbacks on recovery).
func WithDurableLogger(l zerolog.Logger) DurableOption {
	return func(dp *DurablePeer) { dp.logger = l }
}

// NewDurablePeer constructs a DurablePeer bound to tr, with storage as its
// durable call ledger and callbacks as the host's named continuations.
// peerOpts are forwarded to the embedded peer.New verbatim, so a host can
// still set WithProvider/WithEventHandler/WithInterceptors on the
// underlying Peer for its ordinary (non-durable) traffic.
func NewDurablePeer(id string, tr transport.Duplex, proto *protocol.Protocol, localSchema, remoteSchema schema.Schema, storage SyncPendingCallStorage, callbacks registry.CallbackRegistry, opts []DurableOption, peerOpts ...peer.Option) *DurablePeer {
	dp := &DurablePeer{
		tr:             tr,
		proto:          proto,
		remoteSchema:   remoteSchema,
		storage:        storage,
		callbacks:      callbacks,
		clock:          func() int64 { return time.Now().UnixMilli() },
		durableTimeout: 30 * time.Second,
		logger:         zerolog.Nop(),
	}
	for _, o := range opts {
		o(dp)
	}
	dp.Peer = peer.New(id, tr, proto, localSchema, remoteSchema, peerOpts...)
	// peer.New already wired tr's OnMessage to the embedded Peer; dp.HandleMessage
	// intercepts every inbound frame first and falls through to the embedded
	// Peer for anything that isn't a durable call's response or error.
	tr.SetOnMessage(dp.HandleMessage)
	return dp
}

// nextID generates a durable call id via a UUID rather than a monotonic
// counter. A counter reset to zero on every process restart would collide
// with ids still recorded in storage from before the restart; a UUID
// stays unique across that boundary without coordinating with storage.
func (dp *DurablePeer) nextID() string {
	return "d-" + uuid.NewString()
}

// durableCallOptions carries CallWithCallback's per-call overrides.
type durableCallOptions struct {
	timeout time.Duration
}

// DurableCallOption configures one CallWithCallback invocation.
type DurableCallOption func(*durableCallOptions)

// WithDurableCallTimeout overrides the DurablePeer's default durable
// timeout for one call.
func WithDurableCallTimeout(d time.Duration) DurableCallOption {
	return func(o *durableCallOptions) { o.timeout = d }
}

// CallWithCallback issues a durable outbound call: method/params are
// validated and persisted to storage before anything goes on the wire,
// and the result is delivered later to the callback registered under
// callbackName rather than through a blocking channel. It implements the
// five-step sequence: resolve the callback (fail fast if unregistered),
// validate against the remote schema, persist the pending call, send,
// and return the durable call ID immediately. If the transport is not
// open, the call is logged and left persisted without being sent, and its
// ID is returned; RecoverOnReconnect sends it later.
//
// The caller does not block for the remote response — that arrival is
// handled by HandleMessage, possibly in a different process lifetime than
// the one that called CallWithCallback.
func (dp *DurablePeer) CallWithCallback(ctx context.Context, method string, params any, callbackName string, opts ...DurableCallOption) (string, error) {
	if _, err := registry.MustLookup(dp.callbacks, callbackName); err != nil {
		return "", err
	}

	ms, err := dp.remoteSchema.LookupMethod(method)
	if err != nil {
		return "", &peer.MethodNotFoundError{Method: method}
	}

	validated := params
	if ms.Input != nil {
		v, issues, ok := ms.Input(params)
		if !ok {
			return "", &peer.ValidationError{Method: method, Issues: issues}
		}
		validated = v
	}

	cfg := durableCallOptions{timeout: dp.durableTimeout}
	for _, o := range opts {
		o(&cfg)
	}

	id := dp.nextID()
	wire, err := dp.proto.CreateRequest(id, method, validated)
	if err != nil {
		return "", fmt.Errorf("durable: encode request: %w", err)
	}

	now := dp.clock()
	call := PendingCall{
		ID:          id,
		Method:      method,
		Params:      wire,
		Callback:    callbackName,
		SentAtMs:    now,
		TimeoutAtMs: now + cfg.timeout.Milliseconds(),
	}
	if err := dp.storage.Save(call); err != nil {
		return "", fmt.Errorf("durable: persist pending call: %w", err)
	}

	if !dp.IsOpen() {
		dp.logger.Warn().Str("id", id).Str("method", method).Msg("durable: transport not open, call left persisted unsent")
		return id, nil
	}

	if err := dp.tr.Send(ctx, frameFor(dp.proto, wire)); err != nil {
		_, _ = dp.storage.Delete(id)
		return "", fmt.Errorf("durable: send request: %w", err)
	}

	return id, nil
}

// HandleMessage intercepts every inbound frame. If it is a Response or
// ErrorMsg whose ID matches a durably pending call, it resolves that call
// through the registered callback and removes it from storage — this path
// survives a hibernation cycle since storage, not an in-memory channel,
// is what remembers the call exists. Anything else (inbound requests,
// events, or a response/error for a non-durable call) falls through to
// the embedded Peer's own HandleMessage.
func (dp *DurablePeer) HandleMessage(frame protocol.Frame) {
	m, ok := dp.proto.SafeDecodeMessage(frame)
	if !ok {
		dp.Peer.HandleMessage(frame)
		return
	}

	if m.Type != message.TypeResponse && m.Type != message.TypeError {
		dp.Peer.HandleMessage(frame)
		return
	}

	call, found, err := dp.storage.Get(m.ID)
	if err != nil {
		dp.logger.Warn().Err(err).Str("id", m.ID).Msg("durable: storage lookup failed, falling through")
		dp.Peer.HandleMessage(frame)
		return
	}
	if !found {
		dp.Peer.HandleMessage(frame)
		return
	}

	dp.settle(call, m)
}

// settle resolves call with the inbound message m: the registered
// callback runs with (payload, ctx), where payload is the result on
// success or the constructed error value on failure, and ctx.Err carries
// that same error per spec's single-entrypoint routing (Open Question 3).
func (dp *DurablePeer) settle(call PendingCall, m *message.Message) {
	if _, err := dp.storage.Delete(call.ID); err != nil {
		dp.logger.Warn().Err(err).Str("id", call.ID).Msg("durable: failed to delete settled call from storage")
	}

	cb, ok := dp.callbacks.Lookup(call.Callback)
	if !ok {
		dp.logger.Warn().Str("id", call.ID).Str("callback", call.Callback).Msg("durable: settled call's callback is no longer registered")
		return
	}

	latency := dp.clock() - call.SentAtMs
	ctx := registry.CallContext{CallID: call.ID, Method: call.Method, LatencyMs: latency}

	if m.Type == message.TypeError {
		remoteErr := &peer.RemoteError{Method: call.Method, Code: m.Code, Message: m.ErrMessage, Data: m.ErrData}
		ctx.Err = remoteErr
		cb(remoteErr, ctx)
		return
	}
	cb(m.Result, ctx)
}

// RecoverOnReconnect re-sends every pending call still in storage,
// reusing its originally persisted wire bytes and ID — the continuation
// it resumes after a hibernation/reconnect cycle, per spec §8 scenario 4.
// Calls already past their deadline are timed out immediately instead of
// resent, so a callback doesn't wait again on a deadline that has already
// elapsed.
func (dp *DurablePeer) RecoverOnReconnect(ctx context.Context) error {
	calls, err := dp.storage.ListAll()
	if err != nil {
		return fmt.Errorf("durable: list pending calls: %w", err)
	}

	now := dp.clock()
	for _, call := range calls {
		if call.TimeoutAtMs <= now {
			dp.expire(call)
			continue
		}
		if err := dp.tr.Send(ctx, frameFor(dp.proto, call.Params)); err != nil {
			dp.logger.Warn().Err(err).Str("id", call.ID).Msg("durable: failed to resend pending call on recovery")
		}
	}
	return nil
}

// expire settles call as a timeout failure without a wire round trip,
// used by RecoverOnReconnect. CleanupExpired does not call this — per
// spec §4.D, cleanup removes expired rows and leaves the decision to
// synthesize timeout callbacks to the caller.
func (dp *DurablePeer) expire(call PendingCall) {
	if _, err := dp.storage.Delete(call.ID); err != nil {
		dp.logger.Warn().Err(err).Str("id", call.ID).Msg("durable: failed to delete expired call from storage")
	}
	cb, ok := dp.callbacks.Lookup(call.Callback)
	if !ok {
		return
	}
	timeout := call.TimeoutAtMs - call.SentAtMs
	timeoutErr := &peer.TimeoutError{Method: call.Method, TimeoutMs: timeout}
	ctx := registry.CallContext{
		CallID:    call.ID,
		Method:    call.Method,
		LatencyMs: dp.clock() - call.SentAtMs,
		Err:       timeoutErr,
	}
	cb(timeoutErr, ctx)
}

// GetPendingCalls returns every durable call awaiting a response.
func (dp *DurablePeer) GetPendingCalls() ([]PendingCall, error) {
	return dp.storage.ListAll()
}

// GetExpiredCalls returns every durable call past its deadline as of now.
func (dp *DurablePeer) GetExpiredCalls() ([]PendingCall, error) {
	return dp.storage.ListExpired(dp.clock())
}

// ClearPendingCalls discards every durable call from storage without
// settling any of them, per spec §4.D's `clearPendingCalls()` maintenance
// operation. Unlike CleanupExpired, this drops unexpired calls too.
func (dp *DurablePeer) ClearPendingCalls() error {
	return dp.storage.Clear()
}

// CleanupExpired removes every durable call past its deadline and
// returns the removed rows. It does not itself invoke any callback —
// per spec §4.D, cleanup "removes and returns expired rows; the caller
// decides whether to synthesize timeout callbacks." A caller that wants
// the timeout semantics RecoverOnReconnect applies automatically can
// pass each returned call to its own settlement logic.
func (dp *DurablePeer) CleanupExpired() ([]PendingCall, error) {
	expired, err := dp.storage.ListExpired(dp.clock())
	if err != nil {
		return nil, err
	}
	for _, call := range expired {
		if _, err := dp.storage.Delete(call.ID); err != nil {
			dp.logger.Warn().Err(err).Str("id", call.ID).Msg("durable: failed to delete expired call from storage")
		}
	}
	return expired, nil
}

// Close closes the embedded Peer. It deliberately does NOT clear durable
// storage — pending calls must remain recoverable by a future
// RecoverOnReconnect even after this process's Peer is gone, per spec
// §4.D's durability contract.
func (dp *DurablePeer) Close() error {
	return dp.Peer.Close()
}

func frameFor(p *protocol.Protocol, wire []byte) protocol.Frame {
	if p.Codec().Kind() == codec.KindText {
		return protocol.Frame{Text: string(wire)}
	}
	return protocol.Frame{Binary: wire}
}
