package schema

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPermissiveAcceptsAnything(t *testing.T) {
	v, issues, ok := Permissive(42)
	require.True(t, ok)
	require.Nil(t, issues)
	require.Equal(t, 42, v)
}

func TestRequiredRejectsNil(t *testing.T) {
	_, issues, ok := Required()(nil)
	require.False(t, ok)
	require.NotEmpty(t, issues)
}

func TestSchemaLookupMethodMissing(t *testing.T) {
	s := New()
	_, err := s.LookupMethod("getUser")
	require.Error(t, err)
}

func TestSchemaLookupMethodPresent(t *testing.T) {
	s := New().WithMethod("getUser", Required(), Permissive)
	ms, err := s.LookupMethod("getUser")
	require.NoError(t, err)
	require.NotNil(t, ms.Input)
	require.NotNil(t, ms.Output)
}

func TestSchemaLookupEvent(t *testing.T) {
	s := New().WithEvent("userUpdated", Permissive)
	_, err := s.LookupEvent("userUpdated")
	require.NoError(t, err)

	_, err = s.LookupEvent("unknown")
	require.Error(t, err)
}
