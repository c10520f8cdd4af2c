// Package peer implements one RPC endpoint: outbound calls, inbound
// dispatch, event emit/receive, timeouts, and close — the state machine
// described in spec §4.C. Every Peer is symmetric: it can simultaneously
// call the remote side's methods and serve its own.
//
// Grounded on transport/client_transport.go (pending-map-keyed-by-id,
// single sending mutex, recvLoop routing responses to waiting callers is
// the direct ancestor of the outbound call path here) and
// server/server.go (businessHandler dispatch is the direct ancestor of
// the inbound Request path), generalized from a one-directional
// client/server split into one symmetric type.
package peer

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"peerrpc/codec"
	"peerrpc/message"
	"peerrpc/protocol"
	"peerrpc/schema"
	"peerrpc/transport"
)

// Handler implements one local RPC method.
type Handler func(ctx context.Context, params any) (any, error)

// MethodProvider resolves a method name to its Handler. Per spec §9's
// "no reflective method lookup" steer, hosts populate this explicitly
// (e.g. with a ProviderMap) instead of the teacher's reflect-based service
// scan in server/service.go.
type MethodProvider func(method string) (Handler, bool)

// ProviderMap is the simplest MethodProvider: a plain map literal.
type ProviderMap map[string]Handler

// Provider adapts m into a MethodProvider.
func (m ProviderMap) Provider() MethodProvider {
	return func(method string) (Handler, bool) {
		h, ok := m[method]
		return h, ok
	}
}

// EventHandler receives validated inbound events. A nil EventHandler means
// inbound events are dropped unconditionally (spec §4.C: "if no user
// handler, drop").
type EventHandler func(event string, data any)

// Interceptor wraps a Handler, the onion-composition pattern the teacher
// used for server-side middleware (middleware/middleware.go), generalized
// here to wrap inbound-request handler invocation on a Peer.
type Interceptor func(next Handler) Handler

// Chain composes interceptors into one, applied in the order given:
// Chain(A, B)(h) calls A first, then B, then h.
func Chain(interceptors ...Interceptor) Interceptor {
	return func(next Handler) Handler {
		for i := len(interceptors) - 1; i >= 0; i-- {
			next = interceptors[i](next)
		}
		return next
	}
}

type pendingRequest struct {
	id       string
	method   string
	resolve  func(any)
	reject   func(error)
	timer    *time.Timer
	deadline time.Time
}

// Peer is one endpoint of a symmetric RPC connection, per spec §3/§4.C.
type Peer struct {
	id             string
	tr             transport.Duplex
	proto          *protocol.Protocol
	localSchema    schema.Schema
	remoteSchema   schema.Schema
	provider       MethodProvider
	eventHandler   EventHandler
	handler        Handler // provider dispatch wrapped by interceptors
	defaultTimeout time.Duration
	logger         zerolog.Logger

	mu      sync.Mutex
	pending map[string]*pendingRequest
	closed  bool

	idCounter atomic.Uint64
}

// Option configures a Peer at construction time.
type Option func(*Peer)

func WithProvider(p MethodProvider) Option {
	return func(pr *Peer) { pr.provider = p }
}

func WithEventHandler(h EventHandler) Option {
	return func(pr *Peer) { pr.eventHandler = h }
}

func WithDefaultTimeout(d time.Duration) Option {
	return func(pr *Peer) { pr.defaultTimeout = d }
}

func WithLogger(l zerolog.Logger) Option {
	return func(pr *Peer) { pr.logger = l }
}

func WithInterceptors(interceptors ...Interceptor) Option {
	return func(pr *Peer) { pr.installInterceptors(interceptors...) }
}

// New constructs a Peer bound to tr using proto for wire encoding, with
// localSchema describing the methods/events this Peer serves and
// remoteSchema describing what it may call on the other side. There is no
// default Protocol instance — per spec §9, protocol is purely a
// constructor parameter.
func New(id string, tr transport.Duplex, proto *protocol.Protocol, localSchema, remoteSchema schema.Schema, opts ...Option) *Peer {
	p := &Peer{
		id:             id,
		tr:             tr,
		proto:          proto,
		localSchema:    localSchema,
		remoteSchema:   remoteSchema,
		defaultTimeout: 30 * time.Second,
		logger:         zerolog.Nop(),
		pending:        make(map[string]*pendingRequest),
	}
	p.handler = p.dispatchToProvider
	for _, opt := range opts {
		opt(p)
	}
	tr.SetOnMessage(p.HandleMessage)
	tr.SetOnClose(func() { _ = p.Close() })
	return p
}

func (p *Peer) installInterceptors(interceptors ...Interceptor) {
	p.handler = Chain(interceptors...)(p.dispatchToProvider)
}

// ID returns the Peer's identifier.
func (p *Peer) ID() string { return p.id }

// IsOpen reports whether the Peer is usable for new outbound calls.
func (p *Peer) IsOpen() bool {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	return !closed && p.tr.ReadyState() == transport.Open
}

// PendingCount returns the number of outbound calls awaiting a response.
func (p *Peer) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

func (p *Peer) nextID() string {
	return strconv.FormatUint(p.idCounter.Add(1), 10)
}

// callOptions carries the per-call overrides accepted by Call.
type callOptions struct {
	timeout time.Duration
}

// CallOption configures one outbound Call.
type CallOption func(*callOptions)

// WithTimeout overrides the Peer's default timeout for one call.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) { o.timeout = d }
}

// Call invokes method on the remote peer with input, following the seven
// steps in spec §4.C:
//  1. Fail fast with ConnectionClosedError if not open.
//  2. Resolve method in remoteSchema; MethodNotFoundError if absent.
//  3. Validate input; ValidationError if rejected.
//  4. Register a PendingRequest with a deadline timer.
//  5. Encode and send.
//  6/7. Settle on matching Response/ErrorMsg.
//
// Per Open Question 1, Call deliberately does NOT validate the remote's
// result against the method's output validator on the caller side — the
// source's observed behavior (trust-the-peer) is preserved rather than
// silently "fixed", since whether the omission was intentional is
// explicitly left open by the spec.
func (p *Peer) Call(ctx context.Context, method string, input any, opts ...CallOption) (any, error) {
	if !p.IsOpen() {
		return nil, &ConnectionClosedError{PeerID: p.id}
	}

	ms, err := p.remoteSchema.LookupMethod(method)
	if err != nil {
		return nil, &MethodNotFoundError{Method: method}
	}

	validated := input
	if ms.Input != nil {
		v, issues, ok := ms.Input(input)
		if !ok {
			return nil, &ValidationError{Method: method, Issues: issues}
		}
		validated = v
	}

	cfg := callOptions{timeout: p.defaultTimeout}
	for _, o := range opts {
		o(&cfg)
	}

	id := p.nextID()
	resultCh := make(chan any, 1)
	errCh := make(chan error, 1)

	pr := &pendingRequest{
		id:     id,
		method: method,
		resolve: func(v any) {
			select {
			case resultCh <- v:
			default:
			}
		},
		reject: func(e error) {
			select {
			case errCh <- e:
			default:
			}
		},
		deadline: time.Now().Add(cfg.timeout),
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, &ConnectionClosedError{PeerID: p.id}
	}
	pr.timer = time.AfterFunc(cfg.timeout, func() {
		p.timeoutPending(id, method, cfg.timeout)
	})
	p.pending[id] = pr
	p.mu.Unlock()

	wire, err := p.proto.CreateRequest(id, method, validated)
	if err != nil {
		p.removePending(id)
		return nil, fmt.Errorf("peer: encode request: %w", err)
	}

	if err := p.tr.Send(ctx, protocolFrameFor(p.proto, wire)); err != nil {
		p.removePending(id)
		return nil, fmt.Errorf("peer: send request: %w", err)
	}

	select {
	case v := <-resultCh:
		return v, nil
	case e := <-errCh:
		return nil, e
	case <-ctx.Done():
		p.removePending(id)
		return nil, ctx.Err()
	}
}

// CallTyped is Call with a typed result, for call sites that know the
// expected Go type of the result and want to avoid an `any` downcast.
func CallTyped[Out any](ctx context.Context, p *Peer, method string, input any, opts ...CallOption) (Out, error) {
	var zero Out
	v, err := p.Call(ctx, method, input, opts...)
	if err != nil {
		return zero, err
	}
	out, ok := v.(Out)
	if !ok {
		return zero, fmt.Errorf("peer: result for %q has unexpected type %T", method, v)
	}
	return out, nil
}

// timeoutPending fires when a pending request's deadline elapses. It
// removes the entry (if still present — a response may have raced the
// timer) and rejects with TimeoutError.
func (p *Peer) timeoutPending(id, method string, timeout time.Duration) {
	pr := p.removePending(id)
	if pr == nil {
		return
	}
	pr.reject(&TimeoutError{Method: method, TimeoutMs: timeout.Milliseconds()})
}

// removePending removes and returns the pending entry for id, cancelling
// its timer. Returns nil if no such entry exists (already settled).
func (p *Peer) removePending(id string) *pendingRequest {
	p.mu.Lock()
	pr, ok := p.pending[id]
	if ok {
		delete(p.pending, id)
	}
	p.mu.Unlock()
	if !ok {
		return nil
	}
	if pr.timer != nil {
		pr.timer.Stop()
	}
	return pr
}

// Emit sends a fire-and-forget event: no id, no ack, no timer, per spec
// §4.C. Emits on a closed transport are dropped with a warning rather than
// failing, and an unknown or invalid event is logged and dropped rather
// than returned as an error, since the spec treats events as best-effort.
func (p *Peer) Emit(ctx context.Context, event string, data any) {
	if !p.IsOpen() {
		p.logger.Warn().Str("event", event).Msg("peer: emit on closed transport dropped")
		return
	}

	v, err := p.localSchema.LookupEvent(event)
	if err != nil {
		p.logger.Warn().Str("event", event).Msg("peer: emit of unknown event dropped")
		return
	}

	validated := data
	if v != nil {
		normalized, issues, ok := v(data)
		if !ok {
			p.logger.Warn().Str("event", event).Strs("issues", issues).Msg("peer: emit of invalid event data dropped")
			return
		}
		validated = normalized
	}

	wire, err := p.proto.CreateEvent(event, validated)
	if err != nil {
		p.logger.Warn().Err(err).Str("event", event).Msg("peer: failed to encode event")
		return
	}
	if err := p.tr.Send(ctx, protocolFrameFor(p.proto, wire)); err != nil {
		p.logger.Warn().Err(err).Str("event", event).Msg("peer: failed to send event")
	}
}

// HandleMessage decodes one inbound frame and dispatches it per spec
// §4.C. Parse failures are dropped silently — they never propagate and
// never close the transport.
func (p *Peer) HandleMessage(frame protocol.Frame) {
	m, ok := p.proto.SafeDecodeMessage(frame)
	if !ok {
		p.logger.Debug().Msg("peer: dropping unparseable inbound frame")
		return
	}

	switch m.Type {
	case message.TypeRequest:
		p.handleRequest(m)
	case message.TypeResponse:
		p.handleResponse(m)
	case message.TypeError:
		p.handleError(m)
	case message.TypeEvent:
		p.handleEvent(m)
	}
}

func (p *Peer) handleRequest(m *message.Message) {
	ms, err := p.localSchema.LookupMethod(m.Method)
	if err != nil {
		p.sendError(m.ID, message.CodeMethodNotFound, fmt.Sprintf("Method %q not found", m.Method), nil)
		return
	}

	params := m.Params
	if ms.Input != nil {
		v, issues, ok := ms.Input(m.Params)
		if !ok {
			p.sendError(m.ID, message.CodeInvalidParams, "invalid params", issues)
			return
		}
		params = v
	}

	if p.provider == nil {
		p.sendError(m.ID, message.CodeMethodNotFound, fmt.Sprintf("Method %q not implemented", m.Method), nil)
		return
	}
	if _, ok := p.provider(m.Method); !ok {
		p.sendError(m.ID, message.CodeMethodNotFound, fmt.Sprintf("Method %q not implemented", m.Method), nil)
		return
	}

	ctx := contextWithMethod(context.Background(), m.Method)
	result, err := p.handler(ctx, params)
	if err != nil {
		p.sendError(m.ID, message.CodeInternalError, errMessageOr(err, "Unknown error"), nil)
		return
	}

	if ms.Output != nil {
		v, issues, ok := ms.Output(result)
		if !ok {
			p.sendError(m.ID, message.CodeInternalError, fmt.Sprintf("Invalid output from %q", m.Method), issues)
			return
		}
		result = v
	}

	p.sendResponse(m.ID, result)
}

type methodContextKey struct{}

// contextWithMethod attaches the method name being dispatched so
// interceptors can read it via MethodFromContext without changing the
// Handler signature (which only carries params, mirroring spec §4.C's
// Handler contract).
func contextWithMethod(ctx context.Context, method string) context.Context {
	return context.WithValue(ctx, methodContextKey{}, method)
}

// MethodFromContext returns the method name being dispatched, for use by
// Interceptors (e.g. a logging interceptor reporting which method ran).
func MethodFromContext(ctx context.Context) string {
	method, _ := ctx.Value(methodContextKey{}).(string)
	return method
}

func (p *Peer) dispatchToProvider(ctx context.Context, params any) (any, error) {
	method := MethodFromContext(ctx)
	h, ok := p.provider(method)
	if !ok {
		return nil, &MethodNotFoundError{Method: method}
	}
	return h(ctx, params)
}

func (p *Peer) handleResponse(m *message.Message) {
	pr := p.removePending(m.ID)
	if pr == nil {
		p.logger.Warn().Str("id", m.ID).Msg("peer: response for unknown or already-settled id dropped")
		return
	}
	pr.resolve(m.Result)
}

func (p *Peer) handleError(m *message.Message) {
	pr := p.removePending(m.ID)
	if pr == nil {
		p.logger.Warn().Str("id", m.ID).Msg("peer: error for unknown or already-settled id dropped")
		return
	}
	pr.reject(&RemoteError{Method: pr.method, Code: m.Code, Message: m.ErrMessage, Data: m.ErrData})
}

func (p *Peer) handleEvent(m *message.Message) {
	if p.eventHandler == nil {
		return
	}
	v, err := p.remoteSchema.LookupEvent(m.Event)
	if err != nil {
		p.logger.Warn().Str("event", m.Event).Msg("peer: inbound unknown event dropped")
		return
	}

	data := m.Data
	if v != nil {
		normalized, issues, ok := v(m.Data)
		if !ok {
			p.logger.Warn().Str("event", m.Event).Strs("issues", issues).Msg("peer: inbound invalid event data dropped")
			return
		}
		data = normalized
	}
	p.eventHandler(m.Event, data)
}

func (p *Peer) sendResponse(id string, result any) {
	wire, err := p.proto.CreateResponse(id, result)
	if err != nil {
		p.logger.Warn().Err(err).Str("id", id).Msg("peer: failed to encode response")
		return
	}
	if err := p.tr.Send(context.Background(), protocolFrameFor(p.proto, wire)); err != nil {
		p.logger.Warn().Err(err).Str("id", id).Msg("peer: failed to send response")
	}
}

func (p *Peer) sendError(id string, code int32, msg string, data any) {
	wire, err := p.proto.CreateError(id, code, msg, data)
	if err != nil {
		p.logger.Warn().Err(err).Str("id", id).Msg("peer: failed to encode error")
		return
	}
	if err := p.tr.Send(context.Background(), protocolFrameFor(p.proto, wire)); err != nil {
		p.logger.Warn().Err(err).Str("id", id).Msg("peer: failed to send error")
	}
}

// Close marks the Peer closed and rejects every pending call with
// ConnectionClosedError, per spec §4.C. Idempotent.
func (p *Peer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	pending := p.pending
	p.pending = make(map[string]*pendingRequest)
	p.mu.Unlock()

	for _, pr := range pending {
		if pr.timer != nil {
			pr.timer.Stop()
		}
		pr.reject(&ConnectionClosedError{PeerID: p.id})
	}

	// The Peer doesn't own the transport (spec §5: "Transports are not
	// owned"), but it does call Close on it — closed is already set above,
	// so the OnClose callback this triggers re-enters here and returns
	// immediately instead of looping.
	_ = p.tr.Close(1000, "peer closed")
	return nil
}

func errMessageOr(err error, fallback string) string {
	if err == nil || err.Error() == "" {
		return fallback
	}
	return err.Error()
}

// protocolFrameFor wraps encoded wire bytes in the Frame shape matching
// the protocol's codec kind, so a transport that picks its opcode from the
// populated field (WebSocketDuplex sends Binary as a binary message and
// Text as a text message) sees the right shape.
func protocolFrameFor(p *protocol.Protocol, wire []byte) protocol.Frame {
	if p.Codec().Kind() == codec.KindText {
		return protocol.Frame{Text: string(wire)}
	}
	return protocol.Frame{Binary: wire}
}
