// Package config loads sitegraph configuration from a YAML file with
// environment variable overrides. Missing files fall back to defaults so a
// bare `sitegraph serve` works out of the box.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"sitegraph/internal/completion"
	"sitegraph/internal/crawl"
	"sitegraph/internal/logging"
	"sitegraph/internal/worker"
)

// Config holds all sitegraph configuration.
type Config struct {
	// Data directory for the database, artifacts, and log files
	DataDir string `yaml:"data_dir"`

	// Control-plane HTTP server
	Server ServerConfig `yaml:"server"`

	// Job transport
	Queue QueueConfig `yaml:"queue"`

	// Browser settings
	Browser BrowserConfig `yaml:"browser"`

	// Exploration workers
	Explore ExploreConfig `yaml:"explore"`

	// Gemini labeling and evaluation
	Gemini GeminiConfig `yaml:"gemini"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the HTTP control plane.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// QueueConfig selects the job transport. Backend "memory" keeps everything
// in-process; "redis" lets workers run in separate processes.
type QueueConfig struct {
	Backend       string `yaml:"backend"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

// BrowserConfig configures the Chrome driver.
type BrowserConfig struct {
	DebuggerURL         string   `yaml:"debugger_url"`
	Launch              []string `yaml:"launch"`
	Headless            *bool    `yaml:"headless"`
	ViewportWidth       int      `yaml:"viewport_width"`
	ViewportHeight      int      `yaml:"viewport_height"`
	NavigationTimeoutMs int      `yaml:"navigation_timeout_ms"`
	ActionTimeoutMs     int      `yaml:"action_timeout_ms"`
	SettleDelayMs       int      `yaml:"settle_delay_ms"`
	CaptureScreenshots  *bool    `yaml:"capture_screenshots"`
	CaptureCSS          bool     `yaml:"capture_css"`
}

// ExploreConfig tunes the exploration workers.
type ExploreConfig struct {
	Workers         int    `yaml:"workers"`
	RetryCap        int    `yaml:"retry_cap"`
	CompletionDelay string `yaml:"completion_delay"`
	EdgeBudget      int    `yaml:"edge_budget"`
}

// GeminiConfig configures the LLM used for intent labels and run evaluation.
// An empty API key disables Gemini; the heuristic labeler and static
// evaluator take over.
type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// LoggingConfig configures the category loggers.
type LoggingConfig struct {
	Level      string          `yaml:"level"` // debug, info, warn, error
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		DataDir: "data",
		Server: ServerConfig{
			ListenAddr: ":8090",
		},
		Queue: QueueConfig{
			Backend:   "memory",
			RedisAddr: "localhost:6379",
		},
		Explore: ExploreConfig{
			Workers:         4,
			RetryCap:        3,
			CompletionDelay: "10s",
			EdgeBudget:      300,
		},
		Gemini: GeminiConfig{
			Model: "gemini-2.0-flash",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file. A missing file returns the
// defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SITEGRAPH_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("SITEGRAPH_LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("SITEGRAPH_QUEUE_BACKEND"); v != "" {
		c.Queue.Backend = v
	}
	if v := os.Getenv("SITEGRAPH_REDIS_ADDR"); v != "" {
		c.Queue.RedisAddr = v
		if c.Queue.Backend == "" {
			c.Queue.Backend = "redis"
		}
	}
	if v := os.Getenv("SITEGRAPH_REDIS_PASSWORD"); v != "" {
		c.Queue.RedisPassword = v
	}
	if v := os.Getenv("SITEGRAPH_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Explore.Workers = n
		}
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.Gemini.APIKey = v
	}
	if v := os.Getenv("SITEGRAPH_GEMINI_MODEL"); v != "" {
		c.Gemini.Model = v
	}
	if v := os.Getenv("SITEGRAPH_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("SITEGRAPH_DEBUG"); v == "1" || v == "true" {
		c.Logging.DebugMode = true
	}
	if v := os.Getenv("SITEGRAPH_BROWSER_URL"); v != "" {
		c.Browser.DebuggerURL = v
	}
}

// Validate checks that the configuration is runnable.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	switch c.Queue.Backend {
	case "", "memory":
	case "redis":
		if c.Queue.RedisAddr == "" {
			return fmt.Errorf("queue backend redis requires redis_addr")
		}
	default:
		return fmt.Errorf("unknown queue backend: %s (valid: memory, redis)", c.Queue.Backend)
	}
	if c.Explore.CompletionDelay != "" {
		if _, err := time.ParseDuration(c.Explore.CompletionDelay); err != nil {
			return fmt.Errorf("invalid completion_delay: %w", err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite file path under the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "sitegraph.db")
}

// ArtifactsDir returns the artifact storage directory.
func (c *Config) ArtifactsDir() string {
	return filepath.Join(c.DataDir, "artifacts")
}

// CompletionDelay returns the delay before completion checks as a duration.
func (c *Config) CompletionDelay() time.Duration {
	d, err := time.ParseDuration(c.Explore.CompletionDelay)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}

// CrawlConfig maps the browser section onto the driver's config.
func (c *Config) CrawlConfig() crawl.Config {
	bc := c.Browser
	out := crawl.Config{
		DebuggerURL:         bc.DebuggerURL,
		Launch:              bc.Launch,
		Headless:            true,
		ViewportWidth:       bc.ViewportWidth,
		ViewportHeight:      bc.ViewportHeight,
		NavigationTimeoutMs: bc.NavigationTimeoutMs,
		ActionTimeoutMs:     bc.ActionTimeoutMs,
		SettleDelayMs:       bc.SettleDelayMs,
		CaptureScreenshots:  true,
		CaptureCSS:          bc.CaptureCSS,
	}
	if bc.Headless != nil {
		out.Headless = *bc.Headless
	}
	if bc.CaptureScreenshots != nil {
		out.CaptureScreenshots = *bc.CaptureScreenshots
	}
	return out
}

// WorkerConfig maps the explore section onto the orchestrator's config.
func (c *Config) WorkerConfig() worker.Config {
	return worker.Config{
		Workers:         c.Explore.Workers,
		RetryCap:        c.Explore.RetryCap,
		CompletionDelay: c.CompletionDelay(),
	}
}

// CompletionPolicy builds the run completion policy, replacing the default
// edge budget when one is configured.
func (c *Config) CompletionPolicy() completion.Policy {
	budget := c.Explore.EdgeBudget
	if budget <= 0 {
		return completion.Default()
	}
	return completion.Any{
		completion.EdgeThreshold{Max: budget},
		completion.IdleWindow{Window: 5 * time.Minute, MinEdges: 1, MaxRecent: 0},
		completion.IdleWindow{Window: time.Minute, MinEdges: 10, MaxRecent: 0},
	}
}

// LoggingConfig maps the logging section onto the category logger config.
func (c *Config) LoggingConfig() logging.Config {
	return logging.Config{
		DebugMode:  c.Logging.DebugMode,
		Categories: c.Logging.Categories,
		Level:      c.Logging.Level,
	}
}
