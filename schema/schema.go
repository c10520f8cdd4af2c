// Package schema defines the validator contract a Peer consults at each
// call boundary, per spec §3. The schema DSL itself is out of scope (spec
// §1 treats it as an opaque external collaborator); this package only
// defines the small interface Peer needs and a couple of permissive
// reference implementations for hosts that don't need real validation.
package schema

import "fmt"

// Validator normalizes and validates a value, returning the normalized
// form on success or a list of issues on failure. This mirrors the
// source contract `validate(value) -> Ok(normalized) | Err(issues)`
// directly — issues is a plain string slice rather than a richer type
// because the spec never asks anything of an issue beyond "carry it as
// error data".
type Validator func(value any) (normalized any, issues []string, ok bool)

// MethodSchema pairs the input and output validators for one RPC method.
// Output is optional: a nil Output validator means "no sanity check is
// performed on the callee's return value" — used on the caller side,
// which never validates output per Open Question 1 (see peer.Call's doc
// comment for the preserved trust-the-peer behavior).
type MethodSchema struct {
	Input  Validator
	Output Validator
}

// Schema groups the method and event validators one side of a connection
// declares, per spec §3: "methods: name -> (inputValidator,
// outputValidator)" and "events: name -> dataValidator".
type Schema struct {
	Methods map[string]MethodSchema
	Events  map[string]Validator
}

// New returns an empty Schema ready for registration via WithMethod /
// WithEvent.
func New() Schema {
	return Schema{Methods: map[string]MethodSchema{}, Events: map[string]Validator{}}
}

// WithMethod registers (or replaces) a method's validators and returns s
// for chaining.
func (s Schema) WithMethod(name string, input, output Validator) Schema {
	s.Methods[name] = MethodSchema{Input: input, Output: output}
	return s
}

// WithEvent registers (or replaces) an event's validator and returns s for
// chaining.
func (s Schema) WithEvent(name string, v Validator) Schema {
	s.Events[name] = v
	return s
}

// Permissive is a Validator that accepts any value unchanged. Useful for
// methods/events whose payload shape genuinely doesn't need checking, or
// for tests that don't want schema noise.
func Permissive(value any) (any, []string, bool) {
	return value, nil, true
}

// Required builds a Validator that rejects a nil value and otherwise
// passes it through unchanged — the smallest validator that is still
// doing real work, useful as a building block or a test double.
func Required() Validator {
	return func(value any) (any, []string, bool) {
		if value == nil {
			return nil, []string{"value is required"}, false
		}
		return value, nil, true
	}
}

// Func adapts a plain predicate into a Validator, for hosts that just want
// to assert a boolean condition without distinguishing between multiple
// issue strings.
func Func(check func(value any) bool, issue string) Validator {
	return func(value any) (any, []string, bool) {
		if !check(value) {
			return nil, []string{issue}, false
		}
		return value, nil, true
	}
}

// LookupMethod resolves name's MethodSchema, returning a descriptive error
// if it's absent — used by Peer to surface MethodNotFound.
func (s Schema) LookupMethod(name string) (MethodSchema, error) {
	ms, ok := s.Methods[name]
	if !ok {
		return MethodSchema{}, fmt.Errorf("schema: method %q not found", name)
	}
	return ms, nil
}

// LookupEvent resolves name's Validator, returning a descriptive error if
// it's absent — used by Peer to warn-and-drop on unknown events.
func (s Schema) LookupEvent(name string) (Validator, error) {
	v, ok := s.Events[name]
	if !ok {
		return nil, fmt.Errorf("schema: event %q not found", name)
	}
	return v, nil
}
