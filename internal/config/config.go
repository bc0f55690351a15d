// ABOUTME: Configuration loading and parsing for the console service
// ABOUTME: YAML files with environment variable expansion and validation

package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Config represents the complete console service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Security SecurityConfig `yaml:"security"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server address configuration.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	// BasePath is the API mount point; defaults to /api.
	BasePath string `yaml:"base_path"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds session authentication configuration.
type AuthConfig struct {
	// SessionSecret signs session tokens; must be at least 32 bytes.
	SessionSecret string `yaml:"session_secret"`
	// AdminPasswordHash is the bcrypt hash accepted at login.
	AdminPasswordHash string `yaml:"admin_password_hash"`
}

// SecurityConfig holds cookie naming for CSRF and sessions.
type SecurityConfig struct {
	CSRFCookieName    string `yaml:"csrf_cookie_name"`
	SessionCookieName string `yaml:"session_cookie_name"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults applied by Load.
const (
	DefaultHTTPAddr          = ":8080"
	DefaultBasePath          = "/api"
	DefaultCSRFCookieName    = "sanctum_csrf"
	DefaultSessionCookieName = "sanctum_session"
)

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Server.BasePath == "" {
		c.Server.BasePath = DefaultBasePath
	}
	if c.Security.CSRFCookieName == "" {
		c.Security.CSRFCookieName = DefaultCSRFCookieName
	}
	if c.Security.SessionCookieName == "" {
		c.Security.SessionCookieName = DefaultSessionCookieName
	}
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and
// valid. Returns an error describing the first validation failure.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if len(c.Auth.SessionSecret) < 32 {
		return fmt.Errorf("auth.session_secret must be at least 32 characters")
	}
	if c.Auth.AdminPasswordHash == "" {
		return fmt.Errorf("auth.admin_password_hash is required")
	}
	return nil
}
