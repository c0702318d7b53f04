package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the complete gateway configuration.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Classifier ClassifierConfig
	Health     HealthConfig
	Gateway    GatewayConfig
	LogLevel   string
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds the embedded store configuration.
type DatabaseConfig struct {
	Path string
}

// ClassifierConfig holds the tier-2 classifier endpoint configuration.
type ClassifierConfig struct {
	Endpoint string
	Model    string
	Timeout  time.Duration
}

// HealthConfig holds health monitor configuration.
type HealthConfig struct {
	Interval     time.Duration
	ProbeTimeout time.Duration
}

// GatewayConfig holds request-facing gateway settings.
type GatewayConfig struct {
	// APIKey, when set, is required as a bearer token on every
	// endpoint except the liveness check.
	APIKey string
	// AnthropicVersion is sent as the anthropic-version header by the
	// Anthropic-shaped adapter.
	AnthropicVersion string
}

// New creates a Config by loading environment variables, with an
// optional .env file.
func New() (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvAsInt("PORT", 3000),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			Path: ExpandHome(getEnv("ROUTER_DB_PATH", defaultDBPath())),
		},
		Classifier: ClassifierConfig{
			Endpoint: getEnv("CLASSIFIER_ENDPOINT", "http://127.0.0.1:11434"),
			Model:    getEnv("CLASSIFIER_MODEL", "qwen2.5:1.5b"),
			Timeout:  getEnvAsDuration("CLASSIFIER_TIMEOUT", 5*time.Second),
		},
		Health: HealthConfig{
			Interval:     time.Duration(getEnvAsInt("HEALTH_CHECK_INTERVAL_MS", 60000)) * time.Millisecond,
			ProbeTimeout: getEnvAsDuration("HEALTH_PROBE_TIMEOUT", 5*time.Second),
		},
		Gateway: GatewayConfig{
			APIKey:           getEnv("GATEWAY_API_KEY", ""),
			AnthropicVersion: getEnv("ANTHROPIC_VERSION", "2023-06-01"),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that all configuration values are in range.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("port must be in 1..65535, got %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Classifier.Endpoint == "" {
		return fmt.Errorf("classifier endpoint is required")
	}
	if c.Health.Interval < time.Second {
		return fmt.Errorf("health check interval must be at least 1000ms, got %s", c.Health.Interval)
	}
	return nil
}

// Address returns the HTTP server listen address.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// defaultDBPath returns the default store location under the user's
// home directory.
func defaultDBPath() string {
	return "~/.llmrouter/router/router.db"
}

// ExpandHome expands a leading ~ to the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, path[2:])
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
