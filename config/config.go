// Package config defines the tracking subsystem's configuration: the
// knobs spec.md §6 names ("Configuration (with effects)"), loaded from a
// YAML file and validated at construction so a misconfigured threshold
// fails fast rather than surfacing as a confusing runtime error later.
//
// Grounded on the teacher's cli/config.Config: a YAML struct-of-structs
// with a custom Duration type for human-readable durations, loaded via a
// Load function that rejects unknown keys.
package config

import (
	"fmt"
	"time"

	"go.uber.org/zap/zapcore"
)

// Defaults per spec.md §6.
const (
	DefaultMinSizeForBroadcast     = 512 * 1024
	DefaultMaxRPCMessageSize       = 128 * 1024 * 1024
	DefaultDispatcherNumThreads    = 8
	DefaultDispatcherQueueCapacity = 4096
	DefaultShuffleLocalityEnabled  = true
	DefaultLoggingLevel            = "info"
)

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Config is the tracking subsystem's full configuration, per spec.md §6.
type Config struct {
	// MinSizeForBroadcast is the serialized-catalog size threshold above
	// which replies switch to broadcast delivery. Must be <=
	// MaxRPCMessageSize.
	MinSizeForBroadcast int `yaml:"min_size_for_broadcast"`
	// MaxRPCMessageSize is the RPC message cap MinSizeForBroadcast is
	// validated against. It is used only by Validate; reply sizes are not
	// checked against it.
	MaxRPCMessageSize int `yaml:"max_rpc_message_size"`
	// ShuffleLocalityEnabled is loaded and defaulted but not read by any
	// component: GetPreferredLocationsForShuffle runs regardless of it.
	ShuffleLocalityEnabled bool `yaml:"shuffle_locality_enabled"`
	// ParallelAggThreshold is numMaps*numReducers above which
	// GetStatistics parallelizes its aggregation.
	ParallelAggThreshold int `yaml:"parallel_agg_threshold"`
	// DispatcherNumThreads sizes the authority's dispatcher pool.
	DispatcherNumThreads int `yaml:"dispatcher_num_threads"`
	// DispatcherQueueCapacity sizes the channel backing the dispatcher's
	// PendingRequest queue. The spec's "unbounded FIFO blocking queue" is
	// implemented as a chan sized generously (default 4096) rather than a
	// literal unbounded slice-backed queue.
	DispatcherQueueCapacity int `yaml:"dispatcher_queue_capacity"`
	// RPCTimeout is loaded and defaulted (30s) but not applied by any
	// component; Ask calls are bounded only by their caller's context.
	RPCTimeout Duration `yaml:"rpc_timeout"`
	// Redis, if non-nil, switches the broadcast manager from in-memory to
	// Redis-backed.
	Redis *RedisConfig `yaml:"redis,omitempty"`
	// Logging configures the ambient structured-logging stack.
	Logging LoggingConfig `yaml:"logging"`
}

// RedisConfig configures broadcast.RedisManager from a single connection
// URL, per spec.md §6's external-interface table.
type RedisConfig struct {
	URL string   `yaml:"url"`
	TTL Duration `yaml:"ttl"`
}

// LoggingConfig configures tlog's output level.
type LoggingConfig struct {
	// Level is a zapcore.Level name ("debug", "info", "warn", "error").
	// Empty defaults to "info".
	Level string `yaml:"level"`
}

// Default returns a Config populated with spec.md §6's stated defaults.
func Default() Config {
	return Config{
		MinSizeForBroadcast:     DefaultMinSizeForBroadcast,
		MaxRPCMessageSize:       DefaultMaxRPCMessageSize,
		ShuffleLocalityEnabled:  DefaultShuffleLocalityEnabled,
		DispatcherNumThreads:    DefaultDispatcherNumThreads,
		DispatcherQueueCapacity: DefaultDispatcherQueueCapacity,
		RPCTimeout:              Duration{30 * time.Second},
		Logging:                 LoggingConfig{Level: DefaultLoggingLevel},
	}
}

// InvalidConfigurationError reports a Config that failed validation at
// construction, per spec.md §7's InvalidConfiguration taxonomy entry.
type InvalidConfigurationError struct {
	Reason string
}

func (e *InvalidConfigurationError) Error() string {
	return fmt.Sprintf("config: invalid configuration: %s", e.Reason)
}

// Validate enforces spec.md §6's InvalidConfiguration rule: the broadcast
// threshold must not exceed the RPC message cap.
func (c Config) Validate() error {
	if c.MinSizeForBroadcast > c.MaxRPCMessageSize {
		return &InvalidConfigurationError{
			Reason: fmt.Sprintf("min_size_for_broadcast (%d) exceeds max_rpc_message_size (%d)", c.MinSizeForBroadcast, c.MaxRPCMessageSize),
		}
	}
	if c.DispatcherNumThreads < 1 {
		return &InvalidConfigurationError{Reason: "dispatcher_num_threads must be >= 1"}
	}
	if c.Logging.Level != "" {
		if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
			return &InvalidConfigurationError{Reason: fmt.Sprintf("logging.level %q: %s", c.Logging.Level, err)}
		}
	}
	return nil
}

// New validates cfg and returns it, or an *InvalidConfigurationError.
// Construction through New (rather than using a Config literal directly)
// is how spec.md §7's "fatal at construction" requirement is enforced in
// Go: an invalid Config never silently reaches the authority.
func New(cfg Config) (Config, error) {
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
