package internal

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	EnvironmentSandbox    = "sandbox"
	EnvironmentProduction = "production"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"http_server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Security  SecurityConfig  `mapstructure:"security"`
	Mpesa     MpesaConfig     `mapstructure:"mpesa"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	BaseURL           string        `mapstructure:"base_url"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	Source          string        `mapstructure:"source"`
}

type SecurityConfig struct {
	// MasterKey is the base64-encoded 32-byte key used to seal tenant
	// provider credentials at rest.
	MasterKey        string        `mapstructure:"master_key"`
	OperatorJWTKey   string        `mapstructure:"operator_jwt_key"`
	OperatorTokenTTL time.Duration `mapstructure:"operator_token_ttl"`
}

type MpesaConfig struct {
	// Environment selects the provider base URL: sandbox or production.
	Environment     string        `mapstructure:"environment"`
	CallbackBaseURL string        `mapstructure:"callback_base_url"`
	CallbackToken   string        `mapstructure:"callback_token"`
	PushTimeout     time.Duration `mapstructure:"push_timeout"`
	AuthTimeout     time.Duration `mapstructure:"auth_timeout"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	CallbackTimeout time.Duration `mapstructure:"callback_timeout"`
}

type RateLimitConfig struct {
	CustomerPerMinute int `mapstructure:"customer_per_minute"`
	CustomerPerHour   int `mapstructure:"customer_per_hour"`
	PhonePerMinute    int `mapstructure:"phone_per_minute"`
	PhonePerHour      int `mapstructure:"phone_per_hour"`
	IPPerMinute       int `mapstructure:"ip_per_minute"`
	IPPerHour         int `mapstructure:"ip_per_hour"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfigFromEnv builds the configuration from environment variables for
// container deployments. Missing required values surface through Validate as
// a startup-time fatal, never as a per-request error.
func LoadConfigFromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              getEnvAsInt("SERVER_PORT", 8080),
			BaseURL:           getEnv("SERVER_BASE_URL", ""),
			ReadHeaderTimeout: getEnvAsDuration("SERVER_READ_HEADER_TIMEOUT", 5*time.Second),
			ReadTimeout:       getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			IdleTimeout:       getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			WriteTimeout:      getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			Source:          getEnv("DATABASE_URL", ""),
		},
		Security: SecurityConfig{
			MasterKey:        getEnv("MASTER_ENCRYPTION_KEY", ""),
			OperatorJWTKey:   getEnv("OPERATOR_JWT_KEY", ""),
			OperatorTokenTTL: getEnvAsDuration("OPERATOR_TOKEN_TTL", time.Hour),
		},
		Mpesa: MpesaConfig{
			Environment:     getEnv("MPESA_ENVIRONMENT", EnvironmentSandbox),
			CallbackBaseURL: getEnv("MPESA_CALLBACK_BASE_URL", ""),
			CallbackToken:   getEnv("MPESA_CALLBACK_TOKEN", ""),
			PushTimeout:     getEnvAsDuration("MPESA_PUSH_TIMEOUT", 30*time.Second),
			AuthTimeout:     getEnvAsDuration("MPESA_AUTH_TIMEOUT", 10*time.Second),
			SweepInterval:   getEnvAsDuration("MPESA_SWEEP_INTERVAL", 30*time.Second),
			CallbackTimeout: getEnvAsDuration("MPESA_CALLBACK_TIMEOUT", 5*time.Minute),
		},
		RateLimit: RateLimitConfig{
			CustomerPerMinute: getEnvAsInt("RATE_LIMIT_CUSTOMER_PER_MINUTE", 3),
			CustomerPerHour:   getEnvAsInt("RATE_LIMIT_CUSTOMER_PER_HOUR", 10),
			PhonePerMinute:    getEnvAsInt("RATE_LIMIT_PHONE_PER_MINUTE", 3),
			PhonePerHour:      getEnvAsInt("RATE_LIMIT_PHONE_PER_HOUR", 10),
			IPPerMinute:       getEnvAsInt("RATE_LIMIT_IP_PER_MINUTE", 10),
			IPPerHour:         getEnvAsInt("RATE_LIMIT_IP_PER_HOUR", 60),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}
}

// ----------------- HELPERS -----------------

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}

// ----------------- VALIDATION -----------------

func (c *Config) Validate() error {
	var errs []string

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	if err := c.Security.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("security config: %v", err))
	}

	if err := c.Mpesa.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("mpesa config: %v", err))
	}

	if err := c.RateLimit.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("rate limit config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *DatabaseConfig) Validate() error {
	if c.Source == "" {
		return errors.New("source (DATABASE_URL) is required")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return c.Source
}

func (c *SecurityConfig) Validate() error {
	if _, err := c.GetMasterKey(); err != nil {
		return fmt.Errorf("invalid master encryption key: %w", err)
	}
	if c.OperatorJWTKey == "" {
		return errors.New("operator_jwt_key is required")
	}
	return nil
}

// GetMasterKey decodes and length-checks the credential encryption key.
func (c *SecurityConfig) GetMasterKey() ([]byte, error) {
	if c.MasterKey == "" {
		return nil, errors.New("master key is empty")
	}
	key, err := base64.StdEncoding.DecodeString(c.MasterKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode master key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("master key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

func (c *MpesaConfig) Validate() error {
	if c.Environment != EnvironmentSandbox && c.Environment != EnvironmentProduction {
		return fmt.Errorf("environment must be %q or %q, got %q", EnvironmentSandbox, EnvironmentProduction, c.Environment)
	}
	if c.CallbackBaseURL == "" {
		return errors.New("callback_base_url is required")
	}
	if _, err := url.ParseRequestURI(c.CallbackBaseURL); err != nil {
		return fmt.Errorf("invalid callback_base_url: %w", err)
	}
	if c.CallbackToken == "" {
		return errors.New("callback_token is required")
	}
	return nil
}

func (c *RateLimitConfig) Validate() error {
	if c.CustomerPerMinute <= 0 || c.PhonePerMinute <= 0 || c.IPPerMinute <= 0 {
		return errors.New("per-minute thresholds must be positive")
	}
	if c.CustomerPerHour < c.CustomerPerMinute || c.PhonePerHour < c.PhonePerMinute || c.IPPerHour < c.IPPerMinute {
		return errors.New("per-hour thresholds must be at least the per-minute thresholds")
	}
	return nil
}
