package queue

import "time"

// Config holds configuration for the queue system.
type Config struct {
	// Type selects the queue backend: "redis" (default) or "memory".
	Type          string `mapstructure:"type" validate:"omitempty,oneof=redis memory"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	// Prefix namespaces every Redis key.
	Prefix string `mapstructure:"prefix"`

	WorkerCount     int           `mapstructure:"worker_count" validate:"min=1"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	ProcessTimeout  time.Duration `mapstructure:"process_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// StalledTimeout is how long a job may stay active before the scheduler
	// assumes its worker died and requeues it. Zero means twice
	// ProcessTimeout; a negative value disables recovery.
	StalledTimeout time.Duration `mapstructure:"stalled_timeout"`

	// DefaultAttempts applies to jobs added without AddOptions.Attempts.
	DefaultAttempts int `mapstructure:"default_attempts" validate:"min=1"`
	// KeepCompleted and KeepFailed bound the finished jobs retained for
	// inspection. Zero drops a job as soon as it finishes; a negative value
	// keeps everything.
	KeepCompleted int `mapstructure:"keep_completed"`
	KeepFailed    int `mapstructure:"keep_failed"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Type:            "redis",
		RedisAddr:       "localhost:6379",
		RedisDB:         0,
		Prefix:          "mail-dispatch",
		WorkerCount:     10,
		PollInterval:    time.Second,
		ProcessTimeout:  30 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		StalledTimeout:  time.Minute,
		DefaultAttempts: 3,
		KeepCompleted:   1000,
		KeepFailed:      5000,
	}
}
