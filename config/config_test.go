package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"peerrpc/codec"
)

func TestLoadWithoutOptionsReturnsDefaults(t *testing.T) {
	d, err := Load()
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, d.DefaultTimeout)
	require.Equal(t, codec.NameJSON, d.DefaultCodec)
	require.Equal(t, 256, d.FanoutPoolSize)
	require.Equal(t, 30*time.Second, d.DurableTimeout)
}

func TestLoadWithEnvPrefixOverridesDefault(t *testing.T) {
	t.Setenv("PEERRPC_FANOUT_POOL_SIZE", "16")
	t.Setenv("PEERRPC_DEFAULT_CODEC", "cbor")

	d, err := Load(WithEnvPrefix("PEERRPC"))
	require.NoError(t, err)
	require.Equal(t, 16, d.FanoutPoolSize)
	require.Equal(t, codec.NameCBOR, d.DefaultCodec)
}

func TestLoadMissingConfigFileIsNotAnError(t *testing.T) {
	_, err := Load(WithConfigFile(filepath.Join(t.TempDir(), "missing.yaml")))
	require.NoError(t, err)
}
