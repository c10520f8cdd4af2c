// Package multipeer supervises a set of peer.Peer instances behind one
// call surface, per spec §4.E: a single driver-style fan-out call,
// targeted/broadcast emit, and lifecycle hooks, with lazy peer recreation
// on a message from a connection handle the supervisor hasn't seen yet
// (the mechanism behind durable-call recovery after hibernation).
//
// Grounded on loadbalance/balancer.go's target-selection idea (a Balancer
// resolves "which instance should this call go to"; MultiPeer generalizes
// that to "which subset of peers should this call go to") and
// server/server.go's per-connection goroutine dispatch, generalized here
// to bounded-concurrency per-peer dispatch via an ants.Pool instead of an
// unbounded goroutine per call.
package multipeer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"

	"peerrpc/peer"
	"peerrpc/protocol"
	"peerrpc/schema"
	"peerrpc/transport"
)

// PeerCallOutcome is one peer's result from a fan-out call.
type PeerCallOutcome struct {
	OK    bool
	Value any
	Err   error
}

// FanoutResult pairs a target peer's id with its PeerCallOutcome. The
// result slice from Call preserves target-resolution order, not
// completion order, per spec §4.E.
type FanoutResult struct {
	ID     string
	Result PeerCallOutcome
}

// MethodProviderFor resolves the MethodProvider a newly connected or
// recreated peer should serve, keyed by its connection id — e.g. so a
// host can scope handlers per-connection (session state, auth context).
type MethodProviderFor func(connectionID string) peer.MethodProvider

// MultiPeer is the fan-out supervisor described in spec §4.E.
type MultiPeer struct {
	mu    sync.RWMutex
	peers map[string]*peer.Peer

	localSchema  schema.Schema
	remoteSchema schema.Schema
	protocolFn   func() *protocol.Protocol
	providerFn   MethodProviderFor
	hooks        Hooks

	defaultTimeout time.Duration
	pool           *ants.Pool
	logger         zerolog.Logger
}

// Option configures a MultiPeer at construction time.
type Option func(*MultiPeer)

func WithHooks(h Hooks) Option { return func(mp *MultiPeer) { mp.hooks = h } }

func WithMethodProviderFor(f MethodProviderFor) Option {
	return func(mp *MultiPeer) { mp.providerFn = f }
}

func WithFanoutDefaultTimeout(d time.Duration) Option {
	return func(mp *MultiPeer) { mp.defaultTimeout = d }
}

func WithMultiPeerLogger(l zerolog.Logger) Option {
	return func(mp *MultiPeer) { mp.logger = l }
}

// New constructs a MultiPeer. protocolFn produces a fresh *protocol.Protocol
// per connected peer (a Protocol is not safe to share state across peers
// with different codecs, so each peer gets its own instance from the same
// factory). poolSize bounds fan-out concurrency; a size of 0 or less falls
// back to a pool of 4096 workers rather than failing.
func New(localSchema, remoteSchema schema.Schema, protocolFn func() *protocol.Protocol, poolSize int, opts ...Option) (*MultiPeer, error) {
	if poolSize <= 0 {
		poolSize = 4096
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, fmt.Errorf("multipeer: create worker pool: %w", err)
	}

	mp := &MultiPeer{
		peers:          make(map[string]*peer.Peer),
		localSchema:    localSchema,
		remoteSchema:   remoteSchema,
		protocolFn:     protocolFn,
		defaultTimeout: 30 * time.Second,
		pool:           pool,
		logger:         zerolog.Nop(),
	}
	for _, o := range opts {
		o(mp)
	}
	return mp, nil
}

// Connect registers a new peer for connectionID over tr and fires
// onConnect. Use this for a connection the host knows about proactively;
// for a connection handle that might only ever be seen again after
// hibernation, Dispatch's lazy recreation is the relevant path instead.
func (mp *MultiPeer) Connect(connectionID string, tr transport.Duplex) *peer.Peer {
	p, created := mp.ensurePeer(connectionID, tr)
	if created {
		mp.hooks.fireConnect(p)
	}
	return p
}

// Dispatch routes one inbound frame for connectionID. If no peer is
// currently registered for connectionID, one is created lazily — the
// hibernation recovery path from spec §4.E: "when the transport reports a
// message on a connection handle not currently in the peer map,
// Multi-Peer creates a new Peer for that handle... and dispatches the
// message to it." onPeerRecreated fires instead of onConnect in that case.
func (mp *MultiPeer) Dispatch(connectionID string, tr transport.Duplex, frame protocol.Frame) {
	p, created := mp.ensurePeer(connectionID, tr)
	if created {
		mp.hooks.firePeerRecreated(p)
	}
	p.HandleMessage(frame)
}

// ensurePeer returns the peer registered for connectionID, constructing
// and registering one bound to tr if absent.
func (mp *MultiPeer) ensurePeer(connectionID string, tr transport.Duplex) (*peer.Peer, bool) {
	mp.mu.RLock()
	p, ok := mp.peers[connectionID]
	mp.mu.RUnlock()
	if ok {
		return p, false
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()
	if p, ok := mp.peers[connectionID]; ok {
		return p, false
	}

	var provider peer.MethodProvider
	if mp.providerFn != nil {
		provider = mp.providerFn(connectionID)
	}

	var created *peer.Peer
	opts := []peer.Option{
		peer.WithLogger(mp.logger),
		peer.WithEventHandler(func(event string, data any) {
			mp.hooks.fireEvent(created, event, data)
		}),
	}
	if provider != nil {
		opts = append(opts, peer.WithProvider(provider))
	}

	created = peer.New(connectionID, tr, mp.protocolFn(), mp.localSchema, mp.remoteSchema, opts...)
	tr.SetOnClose(func() {
		_ = created.Close()
		mp.removePeer(connectionID, created)
	})

	mp.peers[connectionID] = created
	return created, true
}

func (mp *MultiPeer) removePeer(connectionID string, p *peer.Peer) {
	mp.mu.Lock()
	if current, ok := mp.peers[connectionID]; ok && current == p {
		delete(mp.peers, connectionID)
	}
	mp.mu.Unlock()
	mp.hooks.fireDisconnect(p)
}

// GetConnectionCount returns the number of currently registered peers.
func (mp *MultiPeer) GetConnectionCount() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()
	return len(mp.peers)
}

// GetConnectionIds returns every currently registered peer's connection
// id, sorted for deterministic iteration.
func (mp *MultiPeer) GetConnectionIds() []string {
	mp.mu.RLock()
	defer mp.mu.RUnlock()
	ids := make([]string, 0, len(mp.peers))
	for id := range mp.peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GetPeer returns the peer registered for id, if any.
func (mp *MultiPeer) GetPeer(id string) (*peer.Peer, bool) {
	mp.mu.RLock()
	defer mp.mu.RUnlock()
	p, ok := mp.peers[id]
	return p, ok
}

// ClosePeer closes and deregisters the peer for id, firing onDisconnect.
// A no-op if id isn't registered.
func (mp *MultiPeer) ClosePeer(id string) error {
	mp.mu.RLock()
	p, ok := mp.peers[id]
	mp.mu.RUnlock()
	if !ok {
		return nil
	}
	return p.Close()
}

// openTargets resolves the target set for a fan-out Call or Emit, per
// spec §4.E's resolution rule: ids omitted (nil) -> all open peers; a
// non-empty ids list -> the open peers among those ids, in the order
// given (a closed or unknown id is simply absent from the result, which
// is also the correct behavior for the single-string case the spec
// describes separately).
func (mp *MultiPeer) openTargets(ids []string) []*peer.Peer {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	if ids == nil {
		all := make([]*peer.Peer, 0, len(mp.peers))
		connIDs := make([]string, 0, len(mp.peers))
		for id := range mp.peers {
			connIDs = append(connIDs, id)
		}
		sort.Strings(connIDs)
		for _, id := range connIDs {
			if p := mp.peers[id]; p.IsOpen() {
				all = append(all, p)
			}
		}
		return all
	}

	out := make([]*peer.Peer, 0, len(ids))
	for _, id := range ids {
		if p, ok := mp.peers[id]; ok && p.IsOpen() {
			out = append(out, p)
		}
	}
	return out
}

// fanoutOptions carries Call's per-invocation overrides.
type fanoutOptions struct {
	ids     []string
	timeout time.Duration
}

// CallOption configures one fan-out Call.
type CallOption func(*fanoutOptions)

// WithTargetIDs restricts Call/Emit to the given connection ids,
// preserving their order in the result. Passing a single id models the
// spec's "string" target form; passing several models its "array" form —
// both resolve through the same open-peer filter.
func WithTargetIDs(ids ...string) CallOption {
	return func(o *fanoutOptions) { o.ids = ids }
}

// WithFanoutTimeout overrides the MultiPeer's default per-call timeout.
func WithFanoutTimeout(d time.Duration) CallOption {
	return func(o *fanoutOptions) { o.timeout = d }
}

// Call is the driver: it invokes method on every target peer in
// parallel, each raced against its own timeout, and returns one
// FanoutResult per target in target-resolution order — not completion
// order, per spec §4.E.
func (mp *MultiPeer) Call(ctx context.Context, method string, input any, opts ...CallOption) []FanoutResult {
	cfg := fanoutOptions{timeout: mp.defaultTimeout}
	for _, o := range opts {
		o(&cfg)
	}

	targets := mp.openTargets(cfg.ids)
	results := make([]FanoutResult, len(targets))
	var wg sync.WaitGroup
	wg.Add(len(targets))

	for i, p := range targets {
		i, p := i, p
		err := mp.pool.Submit(func() {
			defer wg.Done()
			value, err := p.Call(ctx, method, input, peer.WithTimeout(cfg.timeout))
			results[i] = FanoutResult{ID: p.ID(), Result: PeerCallOutcome{OK: err == nil, Value: value, Err: err}}
			if err != nil {
				mp.hooks.fireError(p, err)
			}
		})
		if err != nil {
			results[i] = FanoutResult{ID: p.ID(), Result: PeerCallOutcome{OK: false, Err: fmt.Errorf("multipeer: submit to pool: %w", err)}}
			wg.Done()
		}
	}

	wg.Wait()
	return results
}

// Emit dispatches data to every target peer that is currently open
// through that peer's own Emit, so data is validated against localSchema
// once per target peer, not once per Emit call. ids follows the same
// resolution rule as Call; nil means "all open peers". Per-peer send
// failures are logged by each Peer and not reported to OnError.
func (mp *MultiPeer) Emit(ctx context.Context, event string, data any, ids []string) {
	for _, p := range mp.openTargets(ids) {
		p.Emit(ctx, event, data)
	}
}

// Broadcast is sugar over Emit(event, data, nil) — the common case of
// notifying every connected peer.
func (mp *MultiPeer) Broadcast(ctx context.Context, event string, data any) {
	mp.Emit(ctx, event, data, nil)
}

// Close closes and drops every registered peer, releases the fan-out
// pool, and fires onClose once. The MultiPeer owns its peer map and peer
// instances, per spec §5's resource policy: dropping it closes each peer.
func (mp *MultiPeer) Close() error {
	mp.mu.Lock()
	peers := mp.peers
	mp.peers = make(map[string]*peer.Peer)
	mp.mu.Unlock()

	for _, p := range peers {
		_ = p.Close()
	}
	mp.pool.Release()
	mp.hooks.fireClose()
	return nil
}
