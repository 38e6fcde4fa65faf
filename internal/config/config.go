// Package config provides configuration management for the crawler.
// It defines configuration structures and default values for crawling,
// rendering, sitemap output and logging.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
)

// BasicAuth contains HTTP Basic Authentication credentials
type BasicAuth struct {
	Username    string `mapstructure:"username" yaml:"username"`         // Username for basic auth
	Password    string `mapstructure:"password" yaml:"password"`         // Password for basic auth
	UsernameEnv string `mapstructure:"username_env" yaml:"username_env"` // Environment variable for username
	PasswordEnv string `mapstructure:"password_env" yaml:"password_env"` // Environment variable for password
}

// Auth contains authentication configuration
type Auth struct {
	Basic *BasicAuth `mapstructure:"basic" yaml:"basic"` // Basic authentication settings
}

// RenderConfig controls the headless browser pass
type RenderConfig struct {
	Enabled           bool          `mapstructure:"enabled" yaml:"enabled"`                       // Render every page before extraction
	Headless          bool          `mapstructure:"headless" yaml:"headless"`                     // Run the browser without a window
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"` // Bound on navigation and load
	SettleDelay       time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`             // Wait after load for late scripts
	BrowserBin        string        `mapstructure:"browser_bin" yaml:"browser_bin"`               // Browser executable, empty to auto-detect
}

// SitemapConfig controls the sitemap output
type SitemapConfig struct {
	OutputPath string `mapstructure:"output_path" yaml:"output_path"` // Final sitemap location
	ChangeFreq string `mapstructure:"changefreq" yaml:"changefreq"`   // changefreq written on every entry
	TempDir    string `mapstructure:"temp_dir" yaml:"temp_dir"`       // Directory for the streamed file
}

// LoggingConfig controls log output
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`             // debug, info, warn, error
	File       string `mapstructure:"file" yaml:"file"`               // Log file, empty for console only
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"`       // Megabytes before rotation
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"` // Rotated files to keep
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"`         // Days to keep rotated files (0=forever)
	Compress   bool   `mapstructure:"compress" yaml:"compress"`       // Gzip rotated files
}

// CrawlConfig holds crawler configuration
type CrawlConfig struct {
	// Basic crawling parameters
	SeedURLs            []string      `mapstructure:"seed_urls" yaml:"seed_urls"`                         // Starting URLs for crawling
	Concurrency         int           `mapstructure:"concurrency" yaml:"concurrency"`                     // Number of concurrent workers
	RequestDelay        time.Duration `mapstructure:"request_delay" yaml:"request_delay"`                 // Delay between requests to one host
	RequestTimeout      time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`             // HTTP request timeout
	UserAgent           string        `mapstructure:"user_agent" yaml:"user_agent"`                       // HTTP User-Agent header
	IgnoreRobots        bool          `mapstructure:"ignore_robots" yaml:"ignore_robots"`                 // Skip robots.txt checks
	FollowExternalHosts bool          `mapstructure:"follow_external_hosts" yaml:"follow_external_hosts"` // Leave the seed hosts
	Limit               int           `mapstructure:"limit" yaml:"limit"`                                 // Stop after N pages (0=unlimited)
	MaxDepth            int           `mapstructure:"max_depth" yaml:"max_depth"`                         // Depth ceiling, seeds are 1 (0=unlimited)
	StripWWW            bool          `mapstructure:"strip_www" yaml:"strip_www"`                         // Treat www.host and host as the same site
	Headers             []string      `mapstructure:"headers" yaml:"headers"`                             // Extra request headers, "Name: value"

	// Authentication
	Auth *Auth `mapstructure:"auth" yaml:"auth"` // Authentication configuration

	// URL filtering
	IncludePatterns []string `mapstructure:"include_patterns" yaml:"include_patterns"` // Regex patterns for URLs to include
	ExcludePatterns []string `mapstructure:"exclude_patterns" yaml:"exclude_patterns"` // Regex patterns for URLs to exclude

	// Database configuration
	DatabasePath string `mapstructure:"database_path" yaml:"database_path"` // Path to SQLite database file

	Render  RenderConfig  `mapstructure:"render" yaml:"render"`
	Sitemap SitemapConfig `mapstructure:"sitemap" yaml:"sitemap"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

var changeFreqs = map[string]bool{
	"always": true, "hourly": true, "daily": true, "weekly": true,
	"monthly": true, "yearly": true, "never": true,
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *CrawlConfig {
	return &CrawlConfig{
		Concurrency:    4,
		RequestDelay:   1 * time.Second,
		RequestTimeout: 30 * time.Second,
		UserAgent:      "LinkMapper/1.0",
		Limit:          0, // unlimited
		MaxDepth:       0, // unlimited
		StripWWW:       true,
		DatabasePath:   "./linkmapper.db",
		Render: RenderConfig{
			Headless:          true,
			NavigationTimeout: 30 * time.Second,
			SettleDelay:       15 * time.Second,
		},
		Sitemap: SitemapConfig{
			OutputPath: "./sitemap.xml",
			ChangeFreq: "weekly",
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSize:    100,
			MaxBackups: 5,
		},
	}
}

// Validate checks if the configuration is valid
func (c *CrawlConfig) Validate() error {
	// Note: SeedURLs are optional - crawler can resume from existing queue

	if c.Concurrency <= 0 {
		return ErrInvalidConcurrency
	}

	if c.RequestTimeout <= 0 {
		return ErrInvalidTimeout
	}

	// Enforce minimum delay of 100ms per host
	if c.RequestDelay < 100*time.Millisecond {
		c.RequestDelay = 100 * time.Millisecond
	}

	if c.DatabasePath == "" {
		return ErrEmptyDatabasePath
	}

	if c.MaxDepth < 0 {
		return ErrInvalidMaxDepth
	}

	if c.Limit < 0 {
		return ErrInvalidLimit
	}

	for _, pattern := range append(append([]string{}, c.IncludePatterns...), c.ExcludePatterns...) {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("%w %q: %v", ErrInvalidPattern, pattern, err)
		}
	}

	if c.Sitemap.ChangeFreq != "" && !changeFreqs[strings.ToLower(c.Sitemap.ChangeFreq)] {
		return fmt.Errorf("%w: %q", ErrInvalidChangeFreq, c.Sitemap.ChangeFreq)
	}

	for _, header := range c.Headers {
		if _, _, ok := ParseHeader(header); !ok {
			return fmt.Errorf("%w: %q", ErrInvalidHeader, header)
		}
	}

	if c.Render.Enabled && c.Render.NavigationTimeout <= 0 {
		return ErrInvalidRenderTimeout
	}

	return nil
}

// ParseHeader splits a "Name: value" header definition.
func ParseHeader(header string) (name, value string, ok bool) {
	name, value, found := strings.Cut(header, ":")
	if !found {
		return "", "", false
	}
	name = strings.TrimSpace(name)
	value = strings.TrimSpace(value)
	if name == "" || value == "" {
		return "", "", false
	}
	return name, value, true
}

// GetBasicAuthCredentials returns the basic auth username and password,
// resolving environment variables if specified
func (c *CrawlConfig) GetBasicAuthCredentials() (username, password string) {
	if c.Auth == nil || c.Auth.Basic == nil {
		return "", ""
	}

	basic := c.Auth.Basic

	// Get username
	if basic.UsernameEnv != "" {
		username = os.Getenv(basic.UsernameEnv)
	} else {
		username = basic.Username
	}

	// Get password
	if basic.PasswordEnv != "" {
		password = os.Getenv(basic.PasswordEnv)
	} else {
		password = basic.Password
	}

	return username, password
}
