package transport

import (
	"errors"
	"time"
)

// Config holds configuration for the mail transport.
type Config struct {
	// Type identifies the transport: "smtp", "stdout" or "file".
	Type string `mapstructure:"type" validate:"omitempty,oneof=smtp stdout file"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	// TLS selects "none", "starttls" (default) or "tls" (implicit).
	TLS                string        `mapstructure:"tls" validate:"omitempty,oneof=none starttls tls"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
	LocalName          string        `mapstructure:"local_name"`
	Timeout            time.Duration `mapstructure:"timeout"`

	// OutputDir is where the file transport writes .eml files.
	OutputDir string `mapstructure:"output_dir"`

	DKIM DKIMConfig `mapstructure:"dkim"`
}

// DKIMConfig enables DKIM signing when Selector is set.
type DKIMConfig struct {
	Selector       string `mapstructure:"selector"`
	Domain         string `mapstructure:"domain"`
	PrivateKeyPath string `mapstructure:"private_key_path"`
	PrivateKey     string `mapstructure:"private_key"`
}

const defaultTimeout = 30 * time.Second

// Validate checks that required fields are set for the transport type and
// fills in defaults.
func (c *Config) Validate() error {
	if c.Type == "" {
		c.Type = "smtp"
	}
	if c.Timeout == 0 {
		c.Timeout = defaultTimeout
	}

	switch c.Type {
	case "smtp":
		if c.Host == "" {
			return errors.New("smtp: host is required")
		}
		if c.TLS == "" {
			c.TLS = "starttls"
		}
		if c.Port == 0 {
			switch c.TLS {
			case "tls":
				c.Port = 465
			default:
				c.Port = 587
			}
		}
		if c.Password != "" && c.Username == "" {
			return errors.New("smtp: username is required when password is set")
		}
	case "stdout":
		// No configuration required.
	case "file":
		// OutputDir is optional (defaults to ./mail_output).
	default:
		return errors.New("unknown transport type: " + c.Type)
	}

	return nil
}
