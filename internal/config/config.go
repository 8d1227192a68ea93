// Package config loads the bridged daemon's settings from flags, the
// environment (prefix BRIDGE_) and an optional config file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/xraph/bridge"
	"github.com/xraph/bridge/backend"
)

// Store drivers.
const (
	DriverMemory      = "memory"
	DriverPostgres    = "postgres"
	DriverSQLite      = "sqlite"
	DriverBunPostgres = "bun-postgres"
	DriverRedis       = "redis"
	DriverMongo       = "mongo"
)

var drivers = []string{DriverMemory, DriverPostgres, DriverSQLite, DriverBunPostgres, DriverRedis, DriverMongo}

// Config holds the daemon configuration.
type Config struct {
	HTTPAddr  string
	LogLevel  slog.Level
	LogFormat string

	StoreDriver   string
	StoreDSN      string
	MongoDatabase string

	BackendEndpoint string
	BackendStub     bool
	BackendCodec    string
	BackendToken    string
	RateLimit       float64
	RateBurst       int

	Watchdog bool
	Audit    bool
	Bridge   bridge.Config
}

// SetDefaults registers every key with its default so environment
// variables bind even without a config file.
func SetDefaults(v *viper.Viper) {
	d := bridge.DefaultConfig()

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("store.driver", DriverMemory)
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.database", "bridge")

	v.SetDefault("backend.endpoint", "")
	v.SetDefault("backend.stub", false)
	v.SetDefault("backend.codec", backend.CodecNameJSON)
	v.SetDefault("backend.token", "")
	v.SetDefault("backend.rate_limit", 0.0)
	v.SetDefault("backend.burst", 1)

	v.SetDefault("watchdog.enabled", true)
	v.SetDefault("audit.enabled", false)

	v.SetDefault("bridge.consumer", d.Consumer)
	v.SetDefault("bridge.concurrency", d.Concurrency)
	v.SetDefault("bridge.submit_timeout", d.SubmitTimeout)
	v.SetDefault("bridge.max_attempts", d.MaxAttempts)
	v.SetDefault("bridge.backoff_initial", d.BackoffInitial)
	v.SetDefault("bridge.backoff_max", d.BackoffMax)
	v.SetDefault("bridge.claim_timeout", d.ClaimTimeout)
	v.SetDefault("bridge.watchdog_interval", d.WatchdogInterval)
	v.SetDefault("bridge.checkpoint_interval", d.CheckpointInterval)
	v.SetDefault("bridge.shutdown_timeout", d.ShutdownTimeout)
}

// BindEnv makes every key readable from BRIDGE_<SECTION>_<KEY>.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix("BRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

// ReadFile reads path into v. An empty path is a no-op.
func ReadFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("%w: read config %s: %w", bridge.ErrInvalidConfig, path, err)
	}
	return nil
}

// Load builds a validated Config from v.
func Load(v *viper.Viper) (*Config, error) {
	level, err := ParseLevel(v.GetString("log.level"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:        v.GetString("http.addr"),
		LogLevel:        level,
		LogFormat:       strings.ToLower(v.GetString("log.format")),
		StoreDriver:     strings.ToLower(v.GetString("store.driver")),
		StoreDSN:        v.GetString("store.dsn"),
		MongoDatabase:   v.GetString("store.database"),
		BackendEndpoint: v.GetString("backend.endpoint"),
		BackendStub:     v.GetBool("backend.stub"),
		BackendCodec:    strings.ToLower(v.GetString("backend.codec")),
		BackendToken:    v.GetString("backend.token"),
		RateLimit:       v.GetFloat64("backend.rate_limit"),
		RateBurst:       v.GetInt("backend.burst"),
		Watchdog:        v.GetBool("watchdog.enabled"),
		Audit:           v.GetBool("audit.enabled"),
		Bridge: bridge.Config{
			Consumer:           v.GetString("bridge.consumer"),
			Concurrency:        v.GetInt("bridge.concurrency"),
			SubmitTimeout:      v.GetDuration("bridge.submit_timeout"),
			MaxAttempts:        v.GetInt("bridge.max_attempts"),
			BackoffInitial:     v.GetDuration("bridge.backoff_initial"),
			BackoffMax:         v.GetDuration("bridge.backoff_max"),
			ClaimTimeout:       v.GetDuration("bridge.claim_timeout"),
			WatchdogInterval:   v.GetDuration("bridge.watchdog_interval"),
			CheckpointInterval: v.GetDuration("bridge.checkpoint_interval"),
			ShutdownTimeout:    durationOr(v.GetDuration("bridge.shutdown_timeout"), 30*time.Second),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the daemon settings and the embedded bridge.Config.
func (c *Config) Validate() error {
	var errs []error
	if !contains(drivers, c.StoreDriver) {
		errs = append(errs, fmt.Errorf("unknown store driver %q (want one of %s)", c.StoreDriver, strings.Join(drivers, ", ")))
	}
	if c.StoreDriver != DriverMemory && c.StoreDSN == "" {
		errs = append(errs, fmt.Errorf("store.dsn is required for driver %q", c.StoreDriver))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.LogFormat))
	}
	if c.BackendCodec != backend.CodecNameJSON && c.BackendCodec != backend.CodecNameMsgpack {
		errs = append(errs, fmt.Errorf("backend.codec must be %s or %s, got %q",
			backend.CodecNameJSON, backend.CodecNameMsgpack, c.BackendCodec))
	}
	if c.BackendEndpoint == "" && !c.BackendStub {
		errs = append(errs, errors.New("backend.endpoint is required unless backend.stub is set"))
	}
	if c.RateLimit < 0 {
		errs = append(errs, errors.New("backend.rate_limit must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", bridge.ErrInvalidConfig, errors.Join(errs...))
	}
	return c.Bridge.Validate()
}

// ParseLevel parses a slog level name.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("%w: log level %q", bridge.ErrInvalidConfig, s)
	}
	return level, nil
}

func durationOr(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
