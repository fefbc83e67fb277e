// Package config handles configuration management with validation
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"rebuybot/internal/core"
)

// Config represents the complete configuration structure
type Config struct {
	App         AppConfig         `yaml:"app"`
	Store       StoreConfig       `yaml:"store"`
	Exchange    ExchangeConfig    `yaml:"exchange"`
	Runner      RunnerConfig      `yaml:"runner"`
	Supervisor  SupervisorConfig  `yaml:"supervisor"`
	Credentials CredentialsConfig `yaml:"credentials"`
	API         APIConfig         `yaml:"api"`
	Alerts      AlertConfig       `yaml:"alerts"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name          string `yaml:"name"`
	LogLevel      string `yaml:"log_level" validate:"required,oneof=DEBUG INFO WARN ERROR FATAL"`
	LogFormat     string `yaml:"log_format" validate:"oneof=console json"`
	RecoverOnBoot bool   `yaml:"recover_on_boot"`
}

// StoreConfig selects the persistence backend
type StoreConfig struct {
	Driver       string      `yaml:"driver" validate:"required,oneof=sqlite postgres memory"`
	DSN          core.Secret `yaml:"dsn" validate:"required_unless=Driver memory"`
	MaxOpenConns int         `yaml:"max_open_conns" validate:"min=0,max=100"`
	Migrate      bool        `yaml:"migrate"`
}

// ExchangeConfig contains exchange client settings shared by every account
type ExchangeConfig struct {
	Name       string        `yaml:"name" validate:"required,oneof=bybit mock"`
	BaseURL    string        `yaml:"base_url" validate:"omitempty,url"` // Optional override for API URL
	Testnet    bool          `yaml:"testnet"`
	Timeout    time.Duration `yaml:"timeout"`
	RecvWindow time.Duration `yaml:"recv_window"`
	RateLimit  float64       `yaml:"rate_limit" validate:"min=0"` // requests per second per account
	RateBurst  int           `yaml:"rate_burst" validate:"min=0"`
}

// RunnerConfig contains runner loop timing
type RunnerConfig struct {
	PollInterval       time.Duration `yaml:"poll_interval"`
	StopCheckInterval  time.Duration `yaml:"stop_check_interval"`
	EntrySettleDelay   time.Duration `yaml:"entry_settle_delay"`
	PositionRetryDelay time.Duration `yaml:"position_retry_delay"`
	MaxBackoff         time.Duration `yaml:"max_backoff"`
	BatchSize          int           `yaml:"batch_size" validate:"min=0,max=10"`
	BatchPacing        time.Duration `yaml:"batch_pacing"`
}

// SupervisorConfig contains crash-restart settings
type SupervisorConfig struct {
	RestartCooldown time.Duration `yaml:"restart_cooldown"`
	MaxRestarts     int           `yaml:"max_restarts" validate:"min=0"`
	RestartWindow   time.Duration `yaml:"restart_window"`
	PoolSize        int           `yaml:"pool_size" validate:"min=0,max=100"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// CredentialsConfig contains credential cache settings
type CredentialsConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// APIConfig contains control API settings
type APIConfig struct {
	Enabled        bool     `yaml:"enabled"`
	ListenAddr     string   `yaml:"listen_addr" validate:"required_if=Enabled true"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// AlertConfig contains operator notification settings; empty credentials disable a channel
type AlertConfig struct {
	MinLevel         string      `yaml:"min_level" validate:"omitempty,oneof=INFO WARNING ERROR CRITICAL"`
	SlackWebhookURL  core.Secret `yaml:"slack_webhook_url"`
	TelegramBotToken core.Secret `yaml:"telegram_bot_token"`
	TelegramChatID   string      `yaml:"telegram_chat_id" validate:"required_with=TelegramBotToken"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	ServiceName  string `yaml:"service_name"`
	StdoutTraces bool   `yaml:"stdout_traces"`
	StdoutLogs   bool   `yaml:"stdout_logs"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

var validate = validator.New()

// LoadConfig loads configuration from a YAML file with environment variable expansion.
// A .env file next to the working directory is loaded first when present; variables
// already set in the environment win.
func LoadConfig(filename string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes raw YAML, expands ${ENV} references, applies defaults and validates
func Parse(data []byte) (*Config, error) {
	expandedData := expandEnvVars(string(data))

	config := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expandedData), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// ApplyDefaults fills zero values left by a partial YAML document
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()

	if c.App.Name == "" {
		c.App.Name = d.App.Name
	}
	c.App.LogLevel = strings.ToUpper(c.App.LogLevel)
	if c.App.LogLevel == "" {
		c.App.LogLevel = d.App.LogLevel
	}
	if c.App.LogFormat == "" {
		c.App.LogFormat = d.App.LogFormat
	}

	if c.Exchange.Timeout == 0 {
		c.Exchange.Timeout = d.Exchange.Timeout
	}
	if c.Exchange.RecvWindow == 0 {
		c.Exchange.RecvWindow = d.Exchange.RecvWindow
	}
	if c.Exchange.RateLimit == 0 {
		c.Exchange.RateLimit = d.Exchange.RateLimit
	}
	if c.Exchange.RateBurst == 0 {
		c.Exchange.RateBurst = d.Exchange.RateBurst
	}

	setDuration(&c.Runner.PollInterval, d.Runner.PollInterval)
	setDuration(&c.Runner.StopCheckInterval, d.Runner.StopCheckInterval)
	setDuration(&c.Runner.EntrySettleDelay, d.Runner.EntrySettleDelay)
	setDuration(&c.Runner.PositionRetryDelay, d.Runner.PositionRetryDelay)
	setDuration(&c.Runner.MaxBackoff, d.Runner.MaxBackoff)
	setDuration(&c.Runner.BatchPacing, d.Runner.BatchPacing)
	if c.Runner.BatchSize == 0 {
		c.Runner.BatchSize = d.Runner.BatchSize
	}

	setDuration(&c.Supervisor.RestartCooldown, d.Supervisor.RestartCooldown)
	setDuration(&c.Supervisor.RestartWindow, d.Supervisor.RestartWindow)
	setDuration(&c.Supervisor.ShutdownTimeout, d.Supervisor.ShutdownTimeout)
	if c.Supervisor.PoolSize == 0 {
		c.Supervisor.PoolSize = d.Supervisor.PoolSize
	}

	setDuration(&c.Credentials.TTL, d.Credentials.TTL)

	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = c.App.Name
	}
}

func setDuration(dst *time.Duration, def time.Duration) {
	if *dst == 0 {
		*dst = def
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errs []string

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, ValidationError{
					Field:   fe.Namespace(),
					Value:   fe.Value(),
					Message: fmt.Sprintf("failed '%s' constraint", fe.Tag()),
				}.Error())
			}
		} else {
			errs = append(errs, err.Error())
		}
	}

	if err := c.validateRunnerConfig(); err != nil {
		errs = append(errs, err.Error())
	}

	if err := c.validateSupervisorConfig(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errs, "\n"))
	}

	return nil
}

func (c *Config) validateRunnerConfig() error {
	if c.Runner.PollInterval <= 0 {
		return ValidationError{
			Field:   "runner.poll_interval",
			Value:   c.Runner.PollInterval,
			Message: "poll interval must be positive",
		}
	}
	if c.Runner.StopCheckInterval < c.Runner.PollInterval {
		return ValidationError{
			Field:   "runner.stop_check_interval",
			Value:   c.Runner.StopCheckInterval,
			Message: "stop check interval must not be shorter than the poll interval",
		}
	}
	if c.Runner.MaxBackoff < time.Second {
		return ValidationError{
			Field:   "runner.max_backoff",
			Value:   c.Runner.MaxBackoff,
			Message: "max backoff must be at least 1s",
		}
	}
	return nil
}

func (c *Config) validateSupervisorConfig() error {
	if c.Supervisor.MaxRestarts > 0 && c.Supervisor.RestartWindow <= 0 {
		return ValidationError{
			Field:   "supervisor.restart_window",
			Value:   c.Supervisor.RestartWindow,
			Message: "restart window must be positive when max_restarts is set",
		}
	}
	return nil
}

// String returns a string representation of the configuration (with sensitive data masked)
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

// Helper functions

func expandEnvVars(s string) string {
	return os.Expand(s, func(key string) string {
		return os.Getenv(key)
	})
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:          "rebuybot",
			LogLevel:      "INFO",
			LogFormat:     "console",
			RecoverOnBoot: true,
		},
		Store: StoreConfig{
			Driver:       "sqlite",
			DSN:          "rebuybot.db",
			MaxOpenConns: 10,
			Migrate:      true,
		},
		Exchange: ExchangeConfig{
			Name:       "bybit",
			Timeout:    10 * time.Second,
			RecvWindow: 5 * time.Second,
			RateLimit:  10,
			RateBurst:  5,
		},
		Runner: RunnerConfig{
			PollInterval:       5 * time.Second,
			StopCheckInterval:  15 * time.Second,
			EntrySettleDelay:   2 * time.Second,
			PositionRetryDelay: time.Second,
			MaxBackoff:         60 * time.Second,
			BatchSize:          10,
			BatchPacing:        time.Second,
		},
		Supervisor: SupervisorConfig{
			RestartCooldown: 5 * time.Second,
			MaxRestarts:     5,
			RestartWindow:   10 * time.Minute,
			PoolSize:        4,
			ShutdownTimeout: 30 * time.Second,
		},
		Credentials: CredentialsConfig{
			TTL: 300 * time.Second,
		},
		API: APIConfig{
			Enabled:        true,
			ListenAddr:     ":8080",
			AllowedOrigins: []string{"*"},
		},
		Alerts: AlertConfig{
			MinLevel: "WARNING",
		},
		Telemetry: TelemetryConfig{
			Enabled:     true,
			ServiceName: "rebuybot",
		},
	}
}
