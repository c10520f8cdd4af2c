package registry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMapCallbackRegistryLookup(t *testing.T) {
	called := false
	reg := MapCallbackRegistry{
		"onDone": func(payload any, ctx CallContext) { called = true },
	}

	cb, ok := reg.Lookup("onDone")
	require.True(t, ok)
	cb(nil, CallContext{})
	require.True(t, called)
}

func TestMustLookupMissingReturnsDescriptiveError(t *testing.T) {
	reg := MapCallbackRegistry{}
	_, err := MustLookup(reg, "onDone")
	require.Error(t, err)
	require.Contains(t, err.Error(), "onDone")
}

func TestMustLookupPresent(t *testing.T) {
	reg := MapCallbackRegistry{"onDone": func(payload any, ctx CallContext) {}}
	cb, err := MustLookup(reg, "onDone")
	require.NoError(t, err)
	require.NotNil(t, cb)
}
