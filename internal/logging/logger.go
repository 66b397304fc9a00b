// Package logging provides config-driven categorized file-based logging for sitegraph.
// Logs are written to <data-dir>/logs/ with separate files per category.
// Logging is controlled by debug_mode in the sitegraph config - when false, no logs are written.
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot        Category = "boot"        // Startup/initialization
	CategoryStore       Category = "store"       // SQLite store operations
	CategoryCrawl       Category = "crawl"       // Browser automation, page capture
	CategoryAction      Category = "action"      // Action extraction and execution
	CategoryWorker      Category = "worker"      // Job orchestration
	CategoryCompletion  Category = "completion"  // Completion detection
	CategoryIntent      Category = "intent"      // Intent labeling calls
	CategoryQueue       Category = "queue"       // Task queue operations
	CategoryAPI         Category = "api"         // Control-plane HTTP
	CategoryPerformance Category = "performance" // Slow operation timers
)

// Config controls logging behavior. Mirrors the logging section of the
// sitegraph config file to avoid a circular import on internal/config.
type Config struct {
	DebugMode  bool            `json:"debug_mode"`
	Categories map[string]bool `json:"categories"`
	Level      string          `json:"level"`
}

// Logger wraps a standard logger with category and file output
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	logsDir   string
	cfg       Config
	cfgMu     sync.RWMutex
	logLevel  int
)

// Log levels
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Initialize sets up the logging directory from the data directory and config.
// Should be called once at startup.
func Initialize(dataDir string, c Config) error {
	if dataDir == "" {
		return fmt.Errorf("data directory required")
	}

	cfgMu.Lock()
	cfg = c
	switch c.Level {
	case "debug":
		logLevel = LevelDebug
	case "warn", "warning":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}
	cfgMu.Unlock()

	if !c.DebugMode {
		return nil // Silent no-op in production mode
	}

	loggersMu.Lock()
	logsDir = filepath.Join(dataDir, "logs")
	loggersMu.Unlock()
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	boot := Get(CategoryBoot)
	boot.Info("=== sitegraph logging initialized ===")
	boot.Info("Logs directory: %s", logsDir)
	boot.Info("Log level: %s", c.Level)
	return nil
}

// Get returns (or creates) the logger for a category.
func Get(category Category) *Logger {
	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}

	l := &Logger{category: category}
	if enabled(category) && logsDir != "" {
		path := filepath.Join(logsDir, string(category)+".log")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err == nil {
			l.file = f
			l.logger = log.New(f, "", 0)
		}
	}
	loggers[category] = l
	return l
}

func enabled(category Category) bool {
	cfgMu.RLock()
	defer cfgMu.RUnlock()
	if !cfg.DebugMode {
		return false
	}
	if len(cfg.Categories) == 0 {
		return true
	}
	on, ok := cfg.Categories[string(category)]
	return !ok || on
}

func (l *Logger) write(level int, levelName, format string, args ...interface{}) {
	if l == nil || l.logger == nil {
		return
	}
	cfgMu.RLock()
	min := logLevel
	cfgMu.RUnlock()
	if level < min {
		return
	}
	ts := time.Now().Format("2006-01-02 15:04:05.000")
	msg := fmt.Sprintf(format, args...)
	l.logger.Printf("[%s] [%s] %s", ts, levelName, msg)
}

// Debug logs a debug-level message.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.write(LevelDebug, "DEBUG", format, args...)
}

// Info logs an info-level message.
func (l *Logger) Info(format string, args ...interface{}) {
	l.write(LevelInfo, "INFO", format, args...)
}

// Warn logs a warning-level message.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.write(LevelWarn, "WARN", format, args...)
}

// Error logs an error-level message.
func (l *Logger) Error(format string, args ...interface{}) {
	l.write(LevelError, "ERROR", format, args...)
}

// Close flushes and closes all category log files.
func Close() {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	for _, l := range loggers {
		if l.file != nil {
			_ = l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

// Convenience helpers for the hot categories.

// Store logs an info message to the store category.
func Store(format string, args ...interface{}) { Get(CategoryStore).Info(format, args...) }

// StoreDebug logs a debug message to the store category.
func StoreDebug(format string, args ...interface{}) { Get(CategoryStore).Debug(format, args...) }

// Worker logs an info message to the worker category.
func Worker(format string, args ...interface{}) { Get(CategoryWorker).Info(format, args...) }

// WorkerDebug logs a debug message to the worker category.
func WorkerDebug(format string, args ...interface{}) { Get(CategoryWorker).Debug(format, args...) }

// Crawl logs an info message to the crawl category.
func Crawl(format string, args ...interface{}) { Get(CategoryCrawl).Info(format, args...) }

// CrawlDebug logs a debug message to the crawl category.
func CrawlDebug(format string, args ...interface{}) { Get(CategoryCrawl).Debug(format, args...) }

// Timer measures a named operation and logs to the performance category when slow.
type Timer struct {
	category  Category
	operation string
	start     time.Time
}

// StartTimer begins timing an operation.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, operation: operation, start: time.Now()}
}

// SlowThreshold is the duration past which an operation is logged as slow.
const SlowThreshold = 500 * time.Millisecond

// Stop ends the timer and logs the duration.
func (t *Timer) Stop() {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s took %v", t.operation, elapsed)
	if elapsed >= SlowThreshold {
		Get(CategoryPerformance).Warn("[%s] slow operation %s: %v", t.category, t.operation, elapsed)
	}
}
