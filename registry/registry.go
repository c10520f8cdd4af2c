// Package registry holds the callback registry abstraction named in spec
// §9's design notes: "Host callbacks by string name... express this
// abstractly as a callback registry: a mapping name -> (payload, context)
// -> void." The Durable Peer consumes this interface to resolve a
// continuation by the string name persisted alongside a PendingCall,
// without ever doing reflective method lookup on a host struct.
//
// This package is the teacher's service-discovery registry
// (registry/registry.go, registry/etcd_registry.go) repurposed: the
// original Registry interface mapped a service name to network addresses
// via etcd; that concern has no home in a symmetric peer-to-peer RPC model
// where peers are already-open transport handles rather than addresses to
// discover (see DESIGN.md's dropped-dependency entry for etcd). What
// survives is the shape — "resolve a string name to the thing it
// designates" — now pointed at host callbacks instead of service
// instances.
package registry

import "fmt"

// Callback is a continuation invoked when a durable call completes.
// payload is the raw result on success, or an error value on failure —
// spec §4.D deliberately routes both through the same callback rather
// than a distinct error entrypoint (Open Question 3).
type Callback func(payload any, ctx CallContext)

// CallContext accompanies a Callback invocation with metadata about the
// call that just completed.
type CallContext struct {
	CallID    string
	Method    string
	LatencyMs int64
	Err       error // non-nil if payload represents a failure
}

// CallbackRegistry resolves a callback by its persisted string name.
type CallbackRegistry interface {
	Lookup(name string) (Callback, bool)
}

// MapCallbackRegistry is the simplest CallbackRegistry: a host populates
// it explicitly with named callbacks rather than this package reflecting
// over a host struct's methods.
type MapCallbackRegistry map[string]Callback

func (m MapCallbackRegistry) Lookup(name string) (Callback, bool) {
	cb, ok := m[name]
	return cb, ok
}

// MustLookup resolves name or returns a descriptive error — used at
// callWithCallback time to fail synchronously per spec §4.D step 1 ("fail
// synchronously with a descriptive error if it is not callable").
func MustLookup(r CallbackRegistry, name string) (Callback, error) {
	cb, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("registry: callback %q is not registered", name)
	}
	return cb, nil
}
