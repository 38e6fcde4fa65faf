// Package cmd provides the command-line interface for LinkMapper.
// It handles command parsing, configuration loading, and crawler execution.
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/masahif/linkmapper/internal/config"
	"github.com/masahif/linkmapper/internal/crawler"
	"github.com/masahif/linkmapper/internal/lang"
	"github.com/masahif/linkmapper/internal/logging"
	"github.com/masahif/linkmapper/internal/render"
	"github.com/masahif/linkmapper/internal/sitemap"
	"github.com/masahif/linkmapper/internal/storage"
)

const (
	configName      = "linkmapper"
	envPrefix       = "LM"
	defaultAgentTag = "LinkMapper/1.0"
)

var (
	cfgFile   string
	version   string
	buildTime string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "linkmapper [URLs...]",
	Short: "A crawler that builds multilingual XML sitemaps",
	Long: `LinkMapper crawls websites and builds an XML sitemap of the pages it finds.

It follows links within the seed hosts, optionally renders pages in a
headless browser, resolves page languages and writes hreflang alternates
into the sitemap. The crawl queue lives in SQLite, so an interrupted crawl
resumes when started again without URLs.`,
	Args: cobra.ArbitraryArgs,
	RunE: runCrawler,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// SIGINT and SIGTERM cancel the crawl, which still writes the sitemap.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

// SetVersionInfo sets version information for the CLI
func SetVersionInfo(v, bt string) {
	version = v
	buildTime = bt
	rootCmd.Version = fmt.Sprintf("%s (built %s)", version, buildTime)
}

func init() {
	cobra.OnInitialize(initConfig)

	// Configuration file flag
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./linkmapper.yml)")

	addFlags(rootCmd)
	bindFlags(rootCmd)
}

// addFlags defines the crawl flags on cmd, defaulting to config.DefaultConfig
func addFlags(cmd *cobra.Command) {
	defaults := config.DefaultConfig()
	flags := cmd.Flags()

	// Configuration management flags
	flags.Bool("show-config", false, "Display current configuration in YAML format and exit")

	// Basic crawling flags
	flags.IntP("concurrency", "c", defaults.Concurrency, "Number of concurrent fetches")
	flags.DurationP("delay", "r", defaults.RequestDelay, "Delay between requests to one host")
	flags.DurationP("timeout", "t", defaults.RequestTimeout, "HTTP request timeout")
	flags.StringP("user-agent", "u", defaults.UserAgent, "HTTP User-Agent header")
	flags.Bool("ignore-robots", defaults.IgnoreRobots, "Ignore robots.txt rules")
	flags.Bool("follow-external-hosts", defaults.FollowExternalHosts, "Allow crawling external hosts")
	flags.IntP("limit", "l", defaults.Limit, "Stop after N pages (0=unlimited)")
	flags.Int("max-depth", defaults.MaxDepth, "Maximum link depth, seeds are depth 1 (0=unlimited)")
	flags.Bool("strip-www", defaults.StripWWW, "Treat www.host and host as the same site")

	// Basic authentication flags
	flags.String("auth-username", "", "Username for basic authentication")
	flags.String("auth-password", "", "Password for basic authentication")

	// HTTP Headers flags
	flags.StringSliceP("header", "H", []string{}, "Custom HTTP headers in 'Name: Value' format (use multiple times for multiple headers)")

	// URL filtering flags
	flags.StringSlice("include-patterns", []string{}, "Regex patterns for URLs to include")
	flags.StringSlice("exclude-patterns", []string{}, "Regex patterns for URLs to exclude")

	// Database flags
	flags.StringP("database", "d", defaults.DatabasePath, "Path to SQLite database file")

	// Render flags
	flags.Bool("render", defaults.Render.Enabled, "Render pages in a headless browser before extracting links")
	flags.Bool("render-headless", defaults.Render.Headless, "Run the browser without a window")
	flags.Duration("render-timeout", defaults.Render.NavigationTimeout, "Navigation timeout for rendered pages")
	flags.Duration("render-settle", defaults.Render.SettleDelay, "Wait after page load for late scripts")
	flags.String("browser-bin", defaults.Render.BrowserBin, "Browser executable (default: auto-detect)")

	// Sitemap flags
	flags.StringP("output", "o", defaults.Sitemap.OutputPath, "Sitemap output path")
	flags.String("changefreq", defaults.Sitemap.ChangeFreq, "changefreq written on every sitemap entry")
	flags.String("sitemap-temp-dir", defaults.Sitemap.TempDir, "Directory for the sitemap while it is written")

	// Logging flags
	flags.String("log-level", defaults.Logging.Level, "Log level: debug, info, warn, error")
	flags.String("log-file", defaults.Logging.File, "Log file path (default: console only)")
	flags.Int("log-max-size", defaults.Logging.MaxSize, "Log file size in MB before rotation")
	flags.Int("log-max-backups", defaults.Logging.MaxBackups, "Rotated log files to keep")
	flags.Int("log-max-age", defaults.Logging.MaxAge, "Days to keep rotated log files (0=forever)")
	flags.Bool("log-compress", defaults.Logging.Compress, "Compress rotated log files")
}

// flagBindings maps viper keys to flag names
var flagBindings = []struct {
	viperKey string
	flagName string
}{
	{"concurrency", "concurrency"},
	{"request_delay", "delay"},
	{"request_timeout", "timeout"},
	{"user_agent", "user-agent"},
	{"ignore_robots", "ignore-robots"},
	{"follow_external_hosts", "follow-external-hosts"},
	{"limit", "limit"},
	{"max_depth", "max-depth"},
	{"strip_www", "strip-www"},
	{"include_patterns", "include-patterns"},
	{"exclude_patterns", "exclude-patterns"},
	{"database_path", "database"},
	{"headers", "header"},
	{"auth.basic.username", "auth-username"},
	{"auth.basic.password", "auth-password"},
	{"render.enabled", "render"},
	{"render.headless", "render-headless"},
	{"render.navigation_timeout", "render-timeout"},
	{"render.settle_delay", "render-settle"},
	{"render.browser_bin", "browser-bin"},
	{"sitemap.output_path", "output"},
	{"sitemap.changefreq", "changefreq"},
	{"sitemap.temp_dir", "sitemap-temp-dir"},
	{"logging.level", "log-level"},
	{"logging.file", "log-file"},
	{"logging.max_size", "log-max-size"},
	{"logging.max_backups", "log-max-backups"},
	{"logging.max_age", "log-max-age"},
	{"logging.compress", "log-compress"},
}

func bindFlags(cmd *cobra.Command) {
	for _, bind := range flagBindings {
		flag := cmd.Flags().Lookup(bind.flagName)
		if flag == nil {
			continue
		}
		if err := viper.BindPFlag(bind.viperKey, flag); err != nil {
			// Log the error but continue - non-critical for operation
			fmt.Fprintf(os.Stderr, "Warning: failed to bind flag %s: %v\n", bind.flagName, err)
		}
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Search for config in current directory
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(configName)
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

func generateUserAgent() string {
	if version != "" && version != "dev" {
		return fmt.Sprintf("LinkMapper/%s", version)
	}
	return "LinkMapper/dev"
}

// loadConfig merges defaults, viper sources and positional URLs
func loadConfig(cmd *cobra.Command, args []string) (*config.CrawlConfig, error) {
	cfg := config.DefaultConfig()

	// Override with viper values
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Positional URLs win over configured seeds
	if len(args) > 0 {
		cfg.SeedURLs = args
	}

	// Update User-Agent with dynamic version if not explicitly set
	if !cmd.Flags().Changed("user-agent") && cfg.UserAgent == defaultAgentTag {
		cfg.UserAgent = generateUserAgent()
	}

	return cfg, nil
}

func showCurrentConfig(w io.Writer, cfg *config.CrawlConfig) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	// Validate configuration before showing it
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Configuration validation failed: %v\n", err)
		fmt.Fprintf(os.Stderr, "Displaying configuration anyway...\n\n")
	}

	yamlData, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration to YAML: %w", err)
	}

	fmt.Fprintf(w, "# Current LinkMapper Configuration\n")
	fmt.Fprintf(w, "# Generated at: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(w, "# Configuration file search paths: ./%s.yml\n", configName)
	fmt.Fprintf(w, "# Environment variables prefix: %s_\n\n", envPrefix)

	fmt.Fprint(w, string(yamlData))

	fmt.Fprintf(w, "\n# Configuration source priority:\n")
	fmt.Fprintf(w, "# 1. Command-line arguments (highest priority)\n")
	fmt.Fprintf(w, "# 2. Environment variables (%s_ prefix)\n", envPrefix)
	fmt.Fprintf(w, "# 3. Configuration file (%s.yml)\n", configName)
	fmt.Fprintf(w, "# 4. Default values (lowest priority)\n")

	return nil
}

func runCrawler(cmd *cobra.Command, args []string) error {
	// Handle --show-config flag first
	showConfig, _ := cmd.Flags().GetBool("show-config")

	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}

	// Handle --show-config: display current configuration and exit
	if showConfig {
		return showCurrentConfig(cmd.OutOrStdout(), cfg)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Validate startup conditions: prevent running without URLs and without existing database
	if len(cfg.SeedURLs) == 0 {
		hasWork, err := hasResumableQueue(cfg.DatabasePath)
		if err != nil {
			return err
		}
		if !hasWork {
			fmt.Printf("No URLs provided and no queued items found in database %s\n", cfg.DatabasePath)
			fmt.Printf("Nothing to crawl. Exiting.\n")
			return nil
		}

		fmt.Printf("Resuming crawl from existing database: %s\n", cfg.DatabasePath)
	}

	logCloser, err := logging.SetDefault(logging.Config{
		Level:      logging.ParseLevel(cfg.Logging.Level),
		FilePath:   cfg.Logging.File,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
		Console:    true,
	})
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer func() { _ = logCloser.Close() }()

	// Create database directory if it doesn't exist
	dbDir := filepath.Dir(cfg.DatabasePath)
	if err := os.MkdirAll(dbDir, 0750); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	fmt.Printf("Starting crawler with configuration:\n")
	if len(cfg.SeedURLs) > 0 {
		fmt.Printf("  Seed URLs: %v\n", cfg.SeedURLs)
	} else {
		fmt.Printf("  Seed URLs: (none - resuming from existing queue)\n")
	}
	fmt.Printf("  Limit: %d\n", cfg.Limit)
	fmt.Printf("  Max Depth: %d\n", cfg.MaxDepth)
	fmt.Printf("  Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("  Request Delay: %v\n", cfg.RequestDelay)
	fmt.Printf("  Database: %s\n", cfg.DatabasePath)
	fmt.Printf("  Sitemap: %s\n", cfg.Sitemap.OutputPath)
	fmt.Printf("  Render: %t\n", cfg.Render.Enabled)
	fmt.Printf("  Ignore Robots: %t\n", cfg.IgnoreRobots)

	// Display auth status without exposing credentials
	if username, password := cfg.GetBasicAuthCredentials(); username != "" && password != "" {
		fmt.Printf("  Authentication: Basic (username: %s)\n", username)
	} else {
		fmt.Printf("  Authentication: None\n")
	}

	c, cleanup, err := initializeCrawler(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize crawler: %w", err)
	}
	defer cleanup()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if err := c.Start(ctx, cfg.SeedURLs); err != nil {
		return err
	}

	stats := c.GetStats()
	fmt.Printf("Crawled %d pages, %d errors, %d sitemap entries in %v\n",
		stats.PagesCrawled, stats.ErrorCount, stats.SitemapEntries, stats.Duration.Round(time.Millisecond))
	return nil
}

// hasResumableQueue reports whether the database holds queued work
func hasResumableQueue(dbPath string) (bool, error) {
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return false, fmt.Errorf("no URLs provided and no existing database found at %s\nUsage: %s [URLs...] or ensure database exists for resume operation",
			dbPath, os.Args[0])
	}

	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return false, fmt.Errorf("failed to open database %s: %w", dbPath, err)
	}
	defer func() { _ = store.Close() }()

	hasWork, err := store.HasQueuedItems()
	if err != nil {
		return false, fmt.Errorf("failed to check queue status: %w", err)
	}
	return hasWork, nil
}

// initializeCrawler creates and configures a crawler instance together with
// its storage, sitemap and optional renderer. The returned cleanup releases
// all of them.
func initializeCrawler(cfg *config.CrawlConfig) (*crawler.DefaultCrawler, func(), error) {
	var closers []func() error
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				slog.Warn("Cleanup failed", "error", err)
			}
		}
	}

	store, err := storage.NewSQLiteStorage(cfg.DatabasePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	closers = append(closers, store.Close)

	sm, err := sitemap.New(sitemap.Options{
		TempDir:    cfg.Sitemap.TempDir,
		ChangeFreq: cfg.Sitemap.ChangeFreq,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to create sitemap: %w", err)
	}
	if cfg.Sitemap.OutputPath != "" {
		closers = append(closers, func() error {
			return os.Remove(sm.Path())
		})
	}

	opts := []crawler.Option{
		crawler.WithSitemap(sm),
		crawler.WithDetector(lang.WhatlangDetector{}),
	}

	if cfg.Render.Enabled {
		renderOpts := render.DefaultOptions()
		renderOpts.Headless = cfg.Render.Headless
		renderOpts.BrowserBin = cfg.Render.BrowserBin
		renderOpts.NavigationTimeout = cfg.Render.NavigationTimeout
		renderOpts.SettleDelay = cfg.Render.SettleDelay

		renderer, err := render.NewRodRenderer(renderOpts)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("failed to start browser: %w", err)
		}
		closers = append(closers, renderer.Close)
		opts = append(opts, crawler.WithRenderer(renderer))
	}

	c, err := crawler.NewCrawler(cfg, store, opts...)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	closers = append(closers, c.Stop)

	return c, cleanup, nil
}
