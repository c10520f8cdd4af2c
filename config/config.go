// Package config loads the small set of tunables shared across peer,
// durable, and multipeer construction: default call timeout, default
// wire codec, fan-out pool size, and durable call timeout.
//
// This deliberately does not follow the teacher's config package
// (pkg/common/config/config.go), which reads/writes a package-level
// global *Config via the top-level viper singleton. A library consumed by
// multiple independent Peer/DurablePeer/MultiPeer instances in the same
// process can't share one global config safely, so this package builds
// its own *viper.Viper instance per call to Load and returns a plain
// Defaults value — the viper stack is kept, the global-singleton pattern
// is not.
package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"

	"peerrpc/codec"
)

// Defaults are the tunables a host passes into peer.New /
// durable.NewDurablePeer / multipeer.New (through their options and
// poolSize argument) rather than each package reading configuration itself.
type Defaults struct {
	DefaultTimeout time.Duration
	DefaultCodec   codec.Name
	FanoutPoolSize int
	DurableTimeout time.Duration
}

// defaultDefaults is what Load falls back to when neither a config file
// nor an environment variable sets a value.
func defaultDefaults() Defaults {
	return Defaults{
		DefaultTimeout: 30 * time.Second,
		DefaultCodec:   codec.NameJSON,
		FanoutPoolSize: 256,
		DurableTimeout: 30 * time.Second,
	}
}

// Option configures a Load call.
type Option func(*viper.Viper)

// WithConfigFile points Load at an explicit config file path, in any
// format viper supports (json, yaml, toml, ...).
func WithConfigFile(path string) Option {
	return func(v *viper.Viper) { v.SetConfigFile(path) }
}

// WithEnvPrefix binds environment variables under prefix (e.g. "PEERRPC")
// to the Defaults fields, so PEERRPC_DEFAULT_TIMEOUT_MS overrides
// DefaultTimeout without a config file.
func WithEnvPrefix(prefix string) Option {
	return func(v *viper.Viper) {
		v.SetEnvPrefix(prefix)
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()
	}
}

// Load builds Defaults from an optional config file and environment,
// falling back to defaultDefaults() for anything unset. A missing config
// file is not an error — Load only fails on a malformed one.
func Load(opts ...Option) (Defaults, error) {
	v := viper.New()
	fallback := defaultDefaults()

	v.SetDefault("default_timeout_ms", fallback.DefaultTimeout.Milliseconds())
	v.SetDefault("default_codec", string(fallback.DefaultCodec))
	v.SetDefault("fanout_pool_size", fallback.FanoutPoolSize)
	v.SetDefault("durable_timeout_ms", fallback.DurableTimeout.Milliseconds())

	for _, o := range opts {
		o(v)
	}

	if v.ConfigFileUsed() != "" {
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Defaults{}, err
		}
	}

	return Defaults{
		DefaultTimeout: time.Duration(v.GetInt64("default_timeout_ms")) * time.Millisecond,
		DefaultCodec:   codec.Name(v.GetString("default_codec")),
		FanoutPoolSize: v.GetInt("fanout_pool_size"),
		DurableTimeout: time.Duration(v.GetInt64("durable_timeout_ms")) * time.Millisecond,
	}, nil
}
