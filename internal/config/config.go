package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/sungwon/mail-dispatch/internal/dispatch"
	"github.com/sungwon/mail-dispatch/internal/msgstore"
	"github.com/sungwon/mail-dispatch/internal/queue"
	"github.com/sungwon/mail-dispatch/internal/telemetry"
	"github.com/sungwon/mail-dispatch/internal/transport"
)

// Config holds all application configuration.
type Config struct {
	API       APIConfig        `mapstructure:"api"`
	Database  DatabaseConfig   `mapstructure:"database"`
	Queue     queue.Config     `mapstructure:"queue"`
	Store     msgstore.Config  `mapstructure:"store"`
	Transport transport.Config `mapstructure:"transport"`
	Dispatch  dispatch.Config  `mapstructure:"dispatch"`
	Worker    WorkerConfig     `mapstructure:"worker"`
	Auth      AuthConfig       `mapstructure:"auth"`
	Logging   LoggingConfig    `mapstructure:"logging"`
	Telemetry telemetry.Config `mapstructure:"telemetry"`
}

// APIConfig holds REST API server configuration.
type APIConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the listen address.
func (c APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	URL            string        `mapstructure:"url" validate:"required"`
	PoolMin        int32         `mapstructure:"pool_min" validate:"gte=0"`
	PoolMax        int32         `mapstructure:"pool_max" validate:"gtefield=PoolMin"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// WorkerConfig holds queue consumer options.
type WorkerConfig struct {
	// MarkProcessing records PROCESSING before every send attempt. With send
	// errors swallowed, a failed send then leaves the record at PROCESSING.
	MarkProcessing bool `mapstructure:"mark_processing"`
}

// AuthConfig holds API authentication and send quota configuration.
type AuthConfig struct {
	SigningKey  string        `mapstructure:"signing_key" validate:"required,min=32"`
	Issuer      string        `mapstructure:"issuer"`
	Audience    string        `mapstructure:"audience"`
	TokenExpiry time.Duration `mapstructure:"token_expiry"`
	// MonthlySendLimit caps accepted messages per client per calendar
	// month. Zero disables the limit.
	MonthlySendLimit int `mapstructure:"monthly_send_limit" validate:"gte=0"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `mapstructure:"level" validate:"omitempty,oneof=trace debug info warn error fatal panic disabled"`
	Output    string `mapstructure:"output" validate:"omitempty,oneof=stdout file"`
	FilePath  string `mapstructure:"file_path" validate:"required_if=Output file"`
	MaxSizeMB int    `mapstructure:"max_size_mb"`
	MaxFiles  int    `mapstructure:"max_files"`
}

// Validate checks the struct tags of every section.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	q := queue.DefaultConfig()

	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.read_timeout", 10*time.Second)
	v.SetDefault("api.write_timeout", 10*time.Second)
	v.SetDefault("api.shutdown_timeout", 15*time.Second)

	v.SetDefault("database.pool_min", 2)
	v.SetDefault("database.pool_max", 10)
	v.SetDefault("database.connect_timeout", 5*time.Second)

	v.SetDefault("queue.type", q.Type)
	v.SetDefault("queue.redis_addr", q.RedisAddr)
	v.SetDefault("queue.redis_db", q.RedisDB)
	v.SetDefault("queue.prefix", q.Prefix)
	v.SetDefault("queue.worker_count", q.WorkerCount)
	v.SetDefault("queue.poll_interval", q.PollInterval)
	v.SetDefault("queue.process_timeout", q.ProcessTimeout)
	v.SetDefault("queue.shutdown_timeout", q.ShutdownTimeout)
	v.SetDefault("queue.stalled_timeout", q.StalledTimeout)
	v.SetDefault("queue.default_attempts", q.DefaultAttempts)
	v.SetDefault("queue.keep_completed", q.KeepCompleted)
	v.SetDefault("queue.keep_failed", q.KeepFailed)

	v.SetDefault("store.type", "local")
	v.SetDefault("store.path", "/data/messages")
	v.SetDefault("store.s3_region", "us-east-1")

	v.SetDefault("transport.type", "smtp")
	v.SetDefault("transport.port", 587)
	v.SetDefault("transport.tls", "starttls")
	v.SetDefault("transport.timeout", 30*time.Second)

	v.SetDefault("dispatch.propagate_send_errors", false)
	v.SetDefault("dispatch.background_timeout", 30*time.Second)

	v.SetDefault("worker.mark_processing", false)

	v.SetDefault("auth.issuer", "mail-dispatch")
	v.SetDefault("auth.audience", "mail-dispatch-api")
	v.SetDefault("auth.token_expiry", 24*time.Hour)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_files", 5)

	v.SetDefault("telemetry.service_name", "mail-dispatch")
	v.SetDefault("telemetry.endpoint", "localhost:4318")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Load reads configuration from the given config directory path.
// It looks for a file named "config.yaml" in that directory. A ".env" file
// in the working directory, when present, is loaded into the environment
// first. Environment variables with prefix MAIL_DISPATCH_ override file
// values. For example, MAIL_DISPATCH_DATABASE_URL overrides database.url.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)

	v.SetEnvPrefix("MAIL_DISPATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
