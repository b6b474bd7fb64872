package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// AppName is used for config, data and keyring locations
	AppName = "bsky-archiver"

	DefaultServiceURL = "https://bsky.social/xrpc"
	DefaultPageSize   = 100
)

// Config holds all configuration options for the archiver
type Config struct {
	Bluesky   BlueskyConfig   `yaml:"bluesky" json:"bluesky"`
	Fetch     FetchConfig     `yaml:"fetch" json:"fetch"`
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
	Output    OutputConfig    `yaml:"output" json:"output"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
}

// BlueskyConfig holds account and service settings
type BlueskyConfig struct {
	Handle         string        `yaml:"handle" json:"handle"`
	AppPassword    string        `yaml:"app_password" json:"app_password"`
	ServiceURL     string        `yaml:"service_url" json:"service_url"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
}

// FetchConfig controls pagination
type FetchConfig struct {
	// Limit of 0 means fetch everything
	Limit    int           `yaml:"limit" json:"limit"`
	PageSize int           `yaml:"page_size" json:"page_size"`
	Delay    time.Duration `yaml:"delay" json:"delay"`
	Resume   bool          `yaml:"resume" json:"resume"`
	// ArchiveUser switches from liked posts to this actor's own media posts
	ArchiveUser string `yaml:"archive_user" json:"archive_user"`
}

// RateLimitConfig holds 429 backoff and download throttling settings
type RateLimitConfig struct {
	MaxRetries         int           `yaml:"max_retries" json:"max_retries"`
	BaseDelay          time.Duration `yaml:"base_delay" json:"base_delay"`
	MaxDelay           time.Duration `yaml:"max_delay" json:"max_delay"`
	DownloadsPerMinute int           `yaml:"downloads_per_minute" json:"downloads_per_minute"`
}

// OutputConfig holds archive destination settings
type OutputConfig struct {
	Directory string `yaml:"directory" json:"directory"`
	NSFWOnly  bool   `yaml:"nsfw_only" json:"nsfw_only"`
	Database  string `yaml:"database" json:"database"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Bluesky: BlueskyConfig{
			ServiceURL:     DefaultServiceURL,
			RequestTimeout: 60 * time.Second,
		},
		Fetch: FetchConfig{
			Limit:    100,
			PageSize: DefaultPageSize,
		},
		RateLimit: RateLimitConfig{
			MaxRetries: 5,
			BaseDelay:  time.Second,
			MaxDelay:   2 * time.Minute,
		},
		Output: OutputConfig{
			Directory: "./archive",
			Database:  "archive.db",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DatabasePath returns the SQLite file inside the output directory
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Output.Directory, c.Output.Database)
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	if handle := os.Getenv("BSKY_ARCHIVER_HANDLE"); handle != "" {
		c.Bluesky.Handle = handle
	}
	if password := os.Getenv("BLUESKY_APP_PASSWORD"); password != "" {
		c.Bluesky.AppPassword = password
	}
	if service := os.Getenv("BSKY_ARCHIVER_SERVICE_URL"); service != "" {
		c.Bluesky.ServiceURL = service
	}
	if outputDir := os.Getenv("BSKY_ARCHIVER_OUTPUT_DIR"); outputDir != "" {
		c.Output.Directory = outputDir
	}
	if limit := os.Getenv("BSKY_ARCHIVER_LIMIT"); limit != "" {
		val, err := strconv.Atoi(limit)
		if err != nil {
			errs = append(errs, fmt.Errorf("BSKY_ARCHIVER_LIMIT: %w", err))
		} else {
			c.Fetch.Limit = val
		}
	}
	if delay := os.Getenv("BSKY_ARCHIVER_DELAY_MS"); delay != "" {
		val, err := strconv.Atoi(delay)
		if err != nil {
			errs = append(errs, fmt.Errorf("BSKY_ARCHIVER_DELAY_MS: %w", err))
		} else {
			c.Fetch.Delay = time.Duration(val) * time.Millisecond
		}
	}
	if nsfw := os.Getenv("BSKY_ARCHIVER_NSFW_ONLY"); nsfw != "" {
		c.Output.NSFWOnly = strings.ToLower(nsfw) == "true"
	}
	if logLevel := os.Getenv("BSKY_ARCHIVER_LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}

	return errors.Join(errs...)
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = findConfigFile()
		if path == "" {
			return nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// DefaultPath is where `config init` writes and the first XDG location searched
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, AppName, "config.yaml")
}

// findConfigFile searches for config file in standard locations
func findConfigFile() string {
	locations := []string{
		".bsky-archiver.yaml",
		".bsky-archiver.yml",
		DefaultPath(),
		filepath.Join(xdg.ConfigHome, AppName, "config.yml"),
	}
	for _, dir := range xdg.ConfigDirs {
		locations = append(locations, filepath.Join(dir, AppName, "config.yaml"))
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Bluesky.ServiceURL == "" {
		errs = append(errs, errors.New("service URL is required"))
	}
	if c.Bluesky.RequestTimeout < 0 {
		errs = append(errs, errors.New("request timeout cannot be negative"))
	}

	if c.Fetch.Limit < 0 {
		errs = append(errs, errors.New("limit cannot be negative"))
	}
	if c.Fetch.PageSize <= 0 || c.Fetch.PageSize > DefaultPageSize {
		errs = append(errs, fmt.Errorf("page size must be between 1 and %d", DefaultPageSize))
	}
	if c.Fetch.Delay < 0 {
		errs = append(errs, errors.New("delay cannot be negative"))
	}

	if c.RateLimit.MaxRetries < 0 {
		errs = append(errs, errors.New("max retries cannot be negative"))
	}
	if c.RateLimit.BaseDelay <= 0 {
		errs = append(errs, errors.New("base delay must be positive"))
	}
	if c.RateLimit.MaxDelay < c.RateLimit.BaseDelay {
		errs = append(errs, errors.New("max delay must not be smaller than base delay"))
	}
	if c.RateLimit.DownloadsPerMinute < 0 {
		errs = append(errs, errors.New("downloads per minute cannot be negative"))
	}

	if c.Output.Directory == "" {
		errs = append(errs, errors.New("output directory is required"))
	}
	if c.Output.Database == "" {
		errs = append(errs, errors.New("database file name is required"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	return errors.Join(errs...)
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges explicitly set command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if handle, ok := flags["username"].(string); ok && handle != "" {
		c.Bluesky.Handle = handle
	}
	if password, ok := flags["password"].(string); ok && password != "" {
		c.Bluesky.AppPassword = password
	}
	if service, ok := flags["service"].(string); ok && service != "" {
		c.Bluesky.ServiceURL = service
	}
	if outputDir, ok := flags["output"].(string); ok && outputDir != "" {
		c.Output.Directory = outputDir
	}
	if limit, ok := flags["limit"].(int); ok {
		c.Fetch.Limit = limit
	}
	if delay, ok := flags["delay"].(int); ok {
		c.Fetch.Delay = time.Duration(delay) * time.Millisecond
	}
	if resume, ok := flags["resume"].(bool); ok {
		c.Fetch.Resume = resume
	}
	if target, ok := flags["archive-user"].(string); ok && target != "" {
		c.Fetch.ArchiveUser = target
	}
	if nsfw, ok := flags["nsfw-only"].(bool); ok {
		c.Output.NSFWOnly = nsfw
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
	if logFile, ok := flags["log-file"].(string); ok && logFile != "" {
		c.Logging.File = logFile
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(xdg.ConfigHome, AppName, ".env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
