package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap/zapcore"
)

// Config represents the global ~/.courier/config.toml.
type Config struct {
	DefaultProfile string `toml:"default_profile"`

	User     UserConfig     `toml:"user"`
	Sync     SyncConfig     `toml:"sync"`
	Presence PresenceConfig `toml:"presence"`
	Network  NetworkConfig  `toml:"network"`
	Remote   RemoteConfig   `toml:"remote"`
	Breaker  BreakerConfig  `toml:"breaker"`
	Realtime RealtimeConfig `toml:"realtime"`
	Blob     BlobConfig     `toml:"blob"`
	Kafka    KafkaConfig    `toml:"kafka"`
	Log      LogConfig      `toml:"log"`
}

// UserConfig identifies the signed-in user of this profile.
type UserConfig struct {
	ID   string `toml:"id"`
	Name string `toml:"name"`
}

// SyncConfig tunes the background sync engine.
type SyncConfig struct {
	Interval     Duration `toml:"interval"`
	MaxRetries   int      `toml:"max_retries"`
	ConfirmDelay Duration `toml:"confirm_delay"`
}

// PresenceConfig tunes heartbeat and freshness timing.
type PresenceConfig struct {
	HeartbeatInterval Duration `toml:"heartbeat_interval"`
	GraceWindow       Duration `toml:"grace_window"`
	FreshnessTick     Duration `toml:"freshness_tick"`
	TypingTimeout     Duration `toml:"typing_timeout"`
}

// NetworkConfig configures the connectivity prober.
type NetworkConfig struct {
	ProbeAddr     string   `toml:"probe_addr"`
	ProbeInterval Duration `toml:"probe_interval"`
	ProbeTimeout  Duration `toml:"probe_timeout"`
}

// RemoteConfig selects the remote durable store.
type RemoteConfig struct {
	Driver   string   `toml:"driver"` // mongo | memory
	URI      string   `toml:"uri"`
	Database string   `toml:"database"`
	Timeout  Duration `toml:"timeout"`
}

// BreakerConfig configures the circuit breaker wrapping remote writes.
type BreakerConfig struct {
	MaxFailures int      `toml:"max_failures"`
	Interval    Duration `toml:"interval"`
	Timeout     Duration `toml:"timeout"`
}

// RealtimeConfig selects the presence channel backend.
type RealtimeConfig struct {
	Driver   string   `toml:"driver"` // redis | memory
	Addr     string   `toml:"addr"`
	Password string   `toml:"password"`
	DB       int      `toml:"db"`
	LeaseTTL Duration `toml:"lease_ttl"`
}

// BlobConfig selects the media blob store.
type BlobConfig struct {
	Driver        string `toml:"driver"` // s3 | dir
	Bucket        string `toml:"bucket"`
	Region        string `toml:"region"`
	PublicBaseURL string `toml:"public_base_url"`
	Dir           string `toml:"dir"`
}

// KafkaConfig enables delivery event export when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
}

// LogConfig controls the daemon logger.
type LogConfig struct {
	Level string `toml:"level"` // debug | info | warn | error
	Quiet bool   `toml:"quiet"` // file only, no stderr
}

// Duration is a time.Duration written as a string such as "30s" in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// D is shorthand for building a Duration.
func D(v time.Duration) Duration {
	return Duration{Duration: v}
}

// Default returns the configuration used when no file exists. The timing
// constants are empirical and meant to be tuned.
func Default() *Config {
	return &Config{
		DefaultProfile: "main",
		Sync: SyncConfig{
			Interval:     D(30 * time.Second),
			MaxRetries:   3,
			ConfirmDelay: D(time.Second),
		},
		Presence: PresenceConfig{
			HeartbeatInterval: D(3 * time.Second),
			GraceWindow:       D(9 * time.Second),
			FreshnessTick:     D(time.Second),
			TypingTimeout:     D(3 * time.Second),
		},
		Network: NetworkConfig{
			ProbeAddr:     "1.1.1.1:443",
			ProbeInterval: D(5 * time.Second),
			ProbeTimeout:  D(2 * time.Second),
		},
		Remote: RemoteConfig{
			Driver:   "memory",
			Database: "courier",
			Timeout:  D(10 * time.Second),
		},
		Breaker: BreakerConfig{
			MaxFailures: 5,
			Interval:    D(time.Minute),
			Timeout:     D(15 * time.Second),
		},
		Realtime: RealtimeConfig{
			Driver:   "memory",
			Addr:     "localhost:6379",
			LeaseTTL: D(10 * time.Second),
		},
		Blob: BlobConfig{
			Driver: "dir",
		},
		Kafka: KafkaConfig{
			Topic: "courier.delivery",
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads config from the given path on top of Default. Returns error if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Validate checks values the daemon cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if c.Sync.Interval.Duration <= 0 {
		errs = append(errs, errors.New("sync.interval must be positive"))
	}
	if c.Sync.MaxRetries < 1 {
		errs = append(errs, errors.New("sync.max_retries must be at least 1"))
	}
	if c.Presence.HeartbeatInterval.Duration <= 0 {
		errs = append(errs, errors.New("presence.heartbeat_interval must be positive"))
	}
	if c.Presence.GraceWindow.Duration < c.Presence.HeartbeatInterval.Duration {
		errs = append(errs, errors.New("presence.grace_window must not be shorter than the heartbeat interval"))
	}
	if c.Presence.FreshnessTick.Duration <= 0 || c.Presence.TypingTimeout.Duration <= 0 {
		errs = append(errs, errors.New("presence.freshness_tick and presence.typing_timeout must be positive"))
	}
	switch c.Remote.Driver {
	case "memory":
	case "mongo":
		if c.Remote.URI == "" {
			errs = append(errs, errors.New("remote.uri is required for the mongo driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown remote.driver %q", c.Remote.Driver))
	}
	switch c.Realtime.Driver {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("unknown realtime.driver %q", c.Realtime.Driver))
	}
	switch c.Blob.Driver {
	case "dir":
	case "s3":
		if c.Blob.Bucket == "" {
			errs = append(errs, errors.New("blob.bucket is required for the s3 driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown blob.driver %q", c.Blob.Driver))
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka.topic is required when brokers are set"))
	}
	return errors.Join(errs...)
}
