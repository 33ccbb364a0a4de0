// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/storefront-edge/config.toml",
	"configs/config.toml",
}

// reservedRoutes are served by the edge itself and cannot host the metrics endpoint.
var reservedRoutes = []string{"/api", "/docs", "/redoc", "/openapi.json", "/openapi", "/healthz", "/proxy/status"}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config       string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host         string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port         int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	BackendURL   string `kong:"help='Backend API base URL (overrides config).',env='BACKEND_URL'"`
	VisionAPIKey string `kong:"help='Vision API key (overrides config).',env='VISION_API_KEY'"`
	LogLevel     string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Backend BackendConfig `toml:"backend"`
	Vision  VisionConfig  `toml:"vision"`
	Geo     GeoConfig     `toml:"geo"`
	Log     LogConfig     `toml:"log"`
	Metrics MetricsConfig `toml:"metrics"`
	Tracing TracingConfig `toml:"tracing"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (3000)
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// BackendConfig holds the backend API origin and connection settings.
type BackendConfig struct {
	BaseURL         string `toml:"base_url"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	IdleConnections int    `toml:"idle_connections"`
}

// VisionConfig holds the external vision API settings.
type VisionConfig struct {
	APIKey         string  `toml:"api_key"`
	BaseURL        string  `toml:"base_url"`
	Model          string  `toml:"model"`
	MaxImages      int     `toml:"max_images"`
	MinSimilarity  float64 `toml:"min_similarity"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
	MaxTokens      int     `toml:"max_tokens"`
}

// GeoConfig controls the country access filter.
type GeoConfig struct {
	Enabled          bool     `toml:"enabled"`
	AllowedCountries []string `toml:"allowed_countries"`
	CountryHeaders   []string `toml:"country_headers"`
	BlockedPath      string   `toml:"blocked_path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `toml:"enabled"`
	ServiceName string `toml:"service_name"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/storefront-edge/config.toml then configs/config.toml.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file found (searched %v)", configSearchPaths)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Config{
		// Geo filtering is on unless the file turns it off explicitly.
		Geo: GeoConfig{Enabled: true},
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.filePath = path
	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.BackendURL != "" {
		c.Backend.BaseURL = cli.BackendURL
	}
	if cli.VisionAPIKey != "" {
		c.Vision.APIKey = cli.VisionAPIKey
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	if c.Vision.APIKey == "YOUR_API_KEY_HERE" {
		return fmt.Errorf("vision.api_key contains placeholder value; set a real key or leave it empty to disable vision analysis")
	}

	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	if err := validateHTTPURL("backend.base_url", c.Backend.BaseURL); err != nil {
		return err
	}
	if c.Vision.BaseURL != "" {
		if err := validateHTTPURL("vision.base_url", c.Vision.BaseURL); err != nil {
			return err
		}
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Backend.TimeoutSeconds < 0 {
		return fmt.Errorf("backend.timeout_seconds must be non-negative; got %d", c.Backend.TimeoutSeconds)
	}
	if c.Backend.IdleConnections < 0 {
		return fmt.Errorf("backend.idle_connections must be non-negative; got %d", c.Backend.IdleConnections)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}
	if c.Vision.MaxImages < 0 {
		return fmt.Errorf("vision.max_images must be non-negative; got %d", c.Vision.MaxImages)
	}
	if c.Vision.MinSimilarity < 0 || c.Vision.MinSimilarity > 100 {
		return fmt.Errorf("vision.min_similarity must be 0–100; got %v", c.Vision.MinSimilarity)
	}
	if c.Vision.TimeoutSeconds < 0 {
		return fmt.Errorf("vision.timeout_seconds must be non-negative; got %d", c.Vision.TimeoutSeconds)
	}

	// Geo filter.
	for _, cc := range c.Geo.AllowedCountries {
		if len(strings.TrimSpace(cc)) != 2 {
			return fmt.Errorf("geo.allowed_countries entries must be two-letter codes; got %q", cc)
		}
	}
	if p := c.Geo.BlockedPath; p != "" && p[0] != '/' {
		return fmt.Errorf("geo.blocked_path must start with '/'; got %q", p)
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range reservedRoutes {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

func validateHTTPURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https; got %q", field, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%s has no host; got %q", field, raw)
	}
	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields, zero means "unset" because TOML cannot distinguish
// between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 25 * 1024 * 1024 // 25 MB, room for client import files and inline images
	}
	c.Backend.BaseURL = strings.TrimRight(c.Backend.BaseURL, "/")
	if c.Backend.TimeoutSeconds == 0 {
		c.Backend.TimeoutSeconds = 120
	}
	if c.Backend.IdleConnections == 0 {
		c.Backend.IdleConnections = 100
	}
	if c.Vision.BaseURL == "" {
		c.Vision.BaseURL = "https://api.openai.com/v1"
	}
	if c.Vision.Model == "" {
		c.Vision.Model = "gpt-4o-mini"
	}
	if c.Vision.MaxImages == 0 {
		c.Vision.MaxImages = 5
	}
	if c.Vision.MinSimilarity == 0 {
		c.Vision.MinSimilarity = 60
	}
	if c.Vision.TimeoutSeconds == 0 {
		c.Vision.TimeoutSeconds = 60
	}
	if c.Vision.MaxTokens == 0 {
		c.Vision.MaxTokens = 1500
	}
	if len(c.Geo.AllowedCountries) == 0 {
		c.Geo.AllowedCountries = []string{"UY"}
	}
	for i, cc := range c.Geo.AllowedCountries {
		c.Geo.AllowedCountries[i] = strings.ToUpper(strings.TrimSpace(cc))
	}
	if len(c.Geo.CountryHeaders) == 0 {
		c.Geo.CountryHeaders = []string{"X-Vercel-IP-Country", "CF-IPCountry"}
	}
	if c.Geo.BlockedPath == "" {
		c.Geo.BlockedPath = "/geo-blocked"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "storefront-edge"
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarnPermissions logs a warning if the config file is readable by group or others.
// The file may hold the vision API key.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 && c.Vision.APIKey != "" {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}

// WarnMissingCredentials logs configuration gaps that only surface per request.
func (c *Config) WarnMissingCredentials(logger *slog.Logger) {
	if c.Vision.APIKey == "" {
		logger.Warn("vision.api_key is not set; vision endpoints will answer with a configuration error")
	}
}
