// Package config provides configuration loading for ward.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ServerConfig configures the backend HTTP server.
type ServerConfig struct {
	// Addr is the listen address.
	Addr string `mapstructure:"addr" validate:"required,hostname_port"`
	// LogLevel is the minimum slog level: debug, info, warn, error.
	LogLevel string `mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// PolicyConfig locates the policy document.
type PolicyConfig struct {
	// File is the YAML policy document path. Empty uses the built-in policy.
	File string `mapstructure:"file"`
}

// AuditConfig configures the action log database.
type AuditConfig struct {
	// Path is the SQLite database path; ":memory:" keeps the log ephemeral.
	Path string `mapstructure:"path" validate:"required"`
}

// APIKeyConfig is one configured API key.
type APIKeyConfig struct {
	// Name labels the key in logs.
	Name string `mapstructure:"name" validate:"required"`
	// Hash is the Argon2id hash, produced by `ward hash-key`.
	Hash string `mapstructure:"hash" validate:"required,startswith=$argon2id$"`
}

// AuthConfig configures request authentication. No keys means auth is off.
type AuthConfig struct {
	APIKeys []APIKeyConfig `mapstructure:"api_keys" validate:"dive"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	// Enabled turns on trace and metric export to stdout.
	Enabled bool `mapstructure:"enabled"`
}

// ClientConfig tunes the console's synchronization behavior.
type ClientConfig struct {
	// ServerAddr is the backend base URL for console commands.
	ServerAddr string `mapstructure:"server_addr" validate:"omitempty,url"`
	// Timeout bounds each backend request.
	Timeout time.Duration `mapstructure:"timeout" validate:"omitempty,min=100ms"`
	// InfraRefreshInterval is the recurring infrastructure refresh period.
	InfraRefreshInterval time.Duration `mapstructure:"infra_refresh_interval" validate:"omitempty,min=1s"`
	// ChatPollInterval is the transcript poll period while a turn processes.
	ChatPollInterval time.Duration `mapstructure:"chat_poll_interval" validate:"omitempty,min=100ms"`
}

// Config is the full ward configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Policy    PolicyConfig    `mapstructure:"policy"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Client    ClientConfig    `mapstructure:"client"`
}

// SetDefaults fills optional fields that were left empty.
func (c *Config) SetDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = "localhost:8400"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Audit.Path == "" {
		c.Audit.Path = "ward-audit.db"
	}
	if c.Client.ServerAddr == "" {
		c.Client.ServerAddr = "http://" + c.Server.Addr
	}
	if c.Client.Timeout == 0 {
		c.Client.Timeout = 10 * time.Second
	}
	if c.Client.InfraRefreshInterval == 0 {
		c.Client.InfraRefreshInterval = 10 * time.Second
	}
	if c.Client.ChatPollInterval == 0 {
		c.Client.ChatPollInterval = time.Second
	}
}

// Validate checks struct tags plus the cross-field rules.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	// Duplicate key names would make log attribution ambiguous.
	seen := make(map[string]struct{}, len(c.Auth.APIKeys))
	for i, key := range c.Auth.APIKeys {
		if _, dup := seen[key.Name]; dup {
			return fmt.Errorf("auth.api_keys[%d]: duplicate key name %q", i, key.Name)
		}
		seen[key.Name] = struct{}{}
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to actionable messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "startswith":
		return fmt.Sprintf("%s must start with %q", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, e.Tag())
	}
}
