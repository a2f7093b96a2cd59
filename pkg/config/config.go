// Package config handles application configuration.
//
// It provides:
//   - Flag registration on a pflag.FlagSet (shared with the cobra commands)
//   - Environment variable support (with CLI override)
//   - Optional .env file loading via godotenv
//   - Configuration validation
//   - Precedence: CLI flags > environment variables > .env file > defaults
//
// Supported environment variables:
//   - BEARER_CONFIG_DIR: Directory holding one file per registered client
//   - BEARER_CALLBACK_PORT: Local port of the OAuth2 callback listener
//   - BEARER_LOG_LEVEL: Logging level (debug, info, warn, error)
//   - BEARER_LOG_FORMAT: Log format (text, json)
//   - BEARER_HTTP_TIMEOUT: Timeout for token endpoint requests (seconds)
//   - BEARER_OPEN_BROWSER: Open the callback URL in a browser (true/false)
//   - BEARER_METRICS_TEXTFILE: Write Prometheus metrics to this file on exit
//
// Example usage:
//
//	cfg := config.RegisterFlags(cmd.PersistentFlags())
//	// after the flags are parsed
//	if err := cfg.Validate(); err != nil {
//		return err
//	}
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

// Defaults
const (
	DefaultConfigDir    = "~/.config/bearer"
	DefaultCallbackPort = 6750
	DefaultLogLevel     = "warn"
	DefaultLogFormat    = "text"
	DefaultHTTPTimeout  = 30
)

// Config holds the application configuration
type Config struct {
	// Client store
	ConfigDir string

	// Callback listener
	CallbackPort int
	OpenBrowser  bool

	// Token endpoint
	HTTPTimeout int

	// Logging
	LogLevel  string
	LogFormat string

	// Metrics
	MetricsTextfile string
}

// LoadDotEnv loads KEY=value pairs from the given files (".env" when none
// are given) into the environment. Variables already set are left alone and
// missing files are ignored.
func LoadDotEnv(filenames ...string) {
	if len(filenames) == 0 {
		filenames = []string{".env"}
	}
	for _, f := range filenames {
		_ = godotenv.Load(f)
	}
}

// RegisterFlags binds all configuration flags on fs, with defaults taken
// from the environment, and returns the Config they parse into
func RegisterFlags(fs *pflag.FlagSet) *Config {
	cfg := &Config{}

	// Read environment variables
	envConfigDir := os.Getenv("BEARER_CONFIG_DIR")
	envCallbackPort := os.Getenv("BEARER_CALLBACK_PORT")
	envLogLevel := os.Getenv("BEARER_LOG_LEVEL")
	envLogFormat := os.Getenv("BEARER_LOG_FORMAT")
	envHTTPTimeout := os.Getenv("BEARER_HTTP_TIMEOUT")
	envOpenBrowser := os.Getenv("BEARER_OPEN_BROWSER")
	envMetricsTextfile := os.Getenv("BEARER_METRICS_TEXTFILE")

	// Use env var if set, otherwise use default
	if envConfigDir == "" {
		envConfigDir = DefaultConfigDir
	}
	if envLogLevel == "" {
		envLogLevel = DefaultLogLevel
	}
	if envLogFormat == "" {
		envLogFormat = DefaultLogFormat
	}

	fs.StringVarP(&cfg.ConfigDir, "config-dir", "c", envConfigDir, "Directory containing one file per registered client (env: BEARER_CONFIG_DIR)")
	fs.IntVar(&cfg.CallbackPort, "port", parseEnvInt(envCallbackPort, DefaultCallbackPort), "Local port of the OAuth2 callback listener (env: BEARER_CALLBACK_PORT)")
	fs.BoolVar(&cfg.OpenBrowser, "open-browser", parseEnvBool(envOpenBrowser, true), "Open the authorization URL in a browser (env: BEARER_OPEN_BROWSER)")
	fs.IntVar(&cfg.HTTPTimeout, "http-timeout", parseEnvInt(envHTTPTimeout, DefaultHTTPTimeout), "Maximum time in seconds to wait for the token endpoint (env: BEARER_HTTP_TIMEOUT)")
	fs.StringVar(&cfg.LogLevel, "log-level", envLogLevel, "Logging verbosity: debug, info, warn, error (env: BEARER_LOG_LEVEL)")
	fs.StringVar(&cfg.LogFormat, "log-format", envLogFormat, "Log format: text, json (env: BEARER_LOG_FORMAT)")
	fs.StringVar(&cfg.MetricsTextfile, "metrics-textfile", envMetricsTextfile, "Write Prometheus metrics to this file on exit (env: BEARER_METRICS_TEXTFILE)")

	return cfg
}

// parseEnvInt parses an environment variable as an integer, returning default if invalid
func parseEnvInt(envValue string, defaultValue int) int {
	if envValue == "" {
		return defaultValue
	}
	result, err := strconv.Atoi(envValue)
	if err != nil {
		return defaultValue
	}
	return result
}

// parseEnvBool parses an environment variable as a boolean, returning default if invalid
func parseEnvBool(envValue string, defaultValue bool) bool {
	if envValue == "" {
		return defaultValue
	}
	result, err := strconv.ParseBool(envValue)
	if err != nil {
		return defaultValue
	}
	return result
}

// Timeout returns the token endpoint timeout as a duration
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.HTTPTimeout) * time.Second
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.ConfigDir == "" {
		return fmt.Errorf("config-dir is required (use --config-dir flag or BEARER_CONFIG_DIR env var)")
	}

	// 0 binds an ephemeral port
	if c.CallbackPort < 0 || c.CallbackPort > 65535 {
		return fmt.Errorf("invalid port: %d (must be between 0 and 65535)", c.CallbackPort)
	}

	if c.HTTPTimeout < 1 {
		return fmt.Errorf("invalid http-timeout: %d (must be at least 1 second)", c.HTTPTimeout)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log-level: %s (must be one of: debug, info, warn, error)", c.LogLevel)
	}

	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("invalid log-format: %s (must be one of: text, json)", c.LogFormat)
	}

	return nil
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{ConfigDir: %s, CallbackPort: %d, OpenBrowser: %t, HTTPTimeout: %ds, LogLevel: %s, LogFormat: %s, MetricsTextfile: %s}",
		c.ConfigDir, c.CallbackPort, c.OpenBrowser, c.HTTPTimeout, c.LogLevel, c.LogFormat, c.MetricsTextfile)
}
