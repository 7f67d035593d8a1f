// Package config loads the daemon's optional mediagraph.toml: the core's own
// CLI surface has no required flags (§6), but a deployment may still want to
// override the socket name, idle-suspend timeout, or per-link buffer cap
// without touching the environment.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// defaultIdleTimeout and defaultMaxBuffers mirror internal/graph's own
// zero-config defaults (§5, §4.2 Stage A), so a Config loaded with no file
// present behaves identically to a bare graph.NewCore.
const (
	defaultIdleTimeout = 3 * time.Second
	defaultMaxBuffers  = 16
)

// Config holds the subset of daemon behavior a deployment may override.
// Every field has a zero-config default; decoding a file only overrides the
// fields present in it.
type Config struct {
	// SocketName overrides the Unix socket name under XDG_RUNTIME_DIR. Empty
	// means "defer to PIPEWIRE_CORE, then the built-in default" (§6).
	SocketName string `toml:"socket_name"`
	// IdleTimeout is how long an idle node waits with no attached links
	// before it is suspended (§5, §8 property 6).
	IdleTimeout time.Duration `toml:"idle_timeout"`
	// MaxBuffers caps the number of buffers a link allocates for a pool it
	// owns (§4.2 Stage A).
	MaxBuffers int `toml:"max_buffers"`
	// LogLevel sets the initial slog level, one of debug/info/warn/error.
	LogLevel string `toml:"log_level"`
	// MetricsAddr, if non-empty, is the address the optional /metrics HTTP
	// listener binds to (e.g. "127.0.0.1:9090"). Empty disables it.
	MetricsAddr string `toml:"metrics_addr"`
}

// tomlConfig mirrors Config's field set using string-friendly durations,
// since BurntSushi/toml decodes `idle_timeout = "5s"` as a string, not a
// time.Duration, without a custom UnmarshalText hook.
type tomlConfig struct {
	SocketName  string `toml:"socket_name"`
	IdleTimeout string `toml:"idle_timeout"`
	MaxBuffers  int    `toml:"max_buffers"`
	LogLevel    string `toml:"log_level"`
	MetricsAddr string `toml:"metrics_addr"`
}

// Default returns the zero-config Config.
func Default() Config {
	return Config{
		IdleTimeout: defaultIdleTimeout,
		MaxBuffers:  defaultMaxBuffers,
		LogLevel:    "info",
	}
}

// Load returns Default() if path is empty; otherwise it decodes path as TOML
// over the defaults, so an omitted field keeps its zero-config value.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	var raw tomlConfig
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}

	if raw.SocketName != "" {
		cfg.SocketName = raw.SocketName
	}
	if raw.IdleTimeout != "" {
		d, err := time.ParseDuration(raw.IdleTimeout)
		if err != nil {
			return Config{}, fmt.Errorf("config: idle_timeout %q: %w", raw.IdleTimeout, err)
		}
		cfg.IdleTimeout = d
	}
	if raw.MaxBuffers > 0 {
		cfg.MaxBuffers = raw.MaxBuffers
	}
	if raw.LogLevel != "" {
		cfg.LogLevel = raw.LogLevel
	}
	if raw.MetricsAddr != "" {
		cfg.MetricsAddr = raw.MetricsAddr
	}
	return cfg, nil
}
