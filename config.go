package bridge

import (
	"fmt"
	"time"
)

// Config holds the tunables shared by the coordinator, runner and watchdog.
type Config struct {
	// Consumer names the feed checkpoint. Instances sharing a consumer
	// name resume from the same cursor.
	Consumer string

	// Concurrency is the number of feed events handled at once.
	Concurrency int

	// SubmitTimeout bounds a single backend call.
	SubmitTimeout time.Duration

	// MaxAttempts bounds backend calls per claim, first call included.
	MaxAttempts int

	// BackoffInitial and BackoffMax shape the exponential delay between
	// backend attempts.
	BackoffInitial time.Duration
	BackoffMax     time.Duration

	// ClaimTimeout is how long a request may stay "dispatching" before
	// the watchdog returns it to "pending".
	ClaimTimeout time.Duration

	// WatchdogInterval is how often the watchdog sweeps.
	WatchdogInterval time.Duration

	// CheckpointInterval is how often the runner persists its cursor.
	CheckpointInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for in-flight events.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Consumer:           "bridge",
		Concurrency:        8,
		SubmitTimeout:      30 * time.Second,
		MaxAttempts:        3,
		BackoffInitial:     500 * time.Millisecond,
		BackoffMax:         10 * time.Second,
		ClaimTimeout:       5 * time.Minute,
		WatchdogInterval:   time.Minute,
		CheckpointInterval: 5 * time.Second,
		ShutdownTimeout:    30 * time.Second,
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	switch {
	case c.Consumer == "":
		return fmt.Errorf("%w: consumer name is empty", ErrInvalidConfig)
	case c.Concurrency < 1:
		return fmt.Errorf("%w: concurrency must be at least 1, got %d", ErrInvalidConfig, c.Concurrency)
	case c.MaxAttempts < 1:
		return fmt.Errorf("%w: max attempts must be at least 1, got %d", ErrInvalidConfig, c.MaxAttempts)
	case c.SubmitTimeout <= 0:
		return fmt.Errorf("%w: submit timeout must be positive", ErrInvalidConfig)
	case c.BackoffMax > 0 && c.BackoffMax < c.BackoffInitial:
		return fmt.Errorf("%w: backoff max %s is below initial %s", ErrInvalidConfig, c.BackoffMax, c.BackoffInitial)
	case c.ClaimTimeout <= c.MaxDispatchLatency():
		return fmt.Errorf("%w: claim timeout %s must exceed worst-case dispatch latency %s",
			ErrInvalidConfig, c.ClaimTimeout, c.MaxDispatchLatency())
	case c.WatchdogInterval <= 0:
		return fmt.Errorf("%w: watchdog interval must be positive", ErrInvalidConfig)
	case c.CheckpointInterval <= 0:
		return fmt.Errorf("%w: checkpoint interval must be positive", ErrInvalidConfig)
	}
	return nil
}

// MaxDispatchLatency is the longest a single claim can spend submitting:
// every attempt timing out plus the longest pause between attempts.
func (c Config) MaxDispatchLatency() time.Duration {
	n := time.Duration(c.MaxAttempts)
	if n < 1 {
		n = 1
	}
	return n*c.SubmitTimeout + (n-1)*c.BackoffMax
}
