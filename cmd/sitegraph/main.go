package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"sitegraph/internal/analysis"
	"sitegraph/internal/config"
	"sitegraph/internal/crawl"
	"sitegraph/internal/intent"
	"sitegraph/internal/logging"
	"sitegraph/internal/queue"
	"sitegraph/internal/store"
	"sitegraph/internal/worker"
)

var (
	// Global flags
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "sitegraph",
	Short: "sitegraph - incremental state-graph exploration of web applications",
	Long: `sitegraph discovers the reachable state graph of an interactive web
application. It drives a real browser through every actionable element it can
find, fingerprints each rendered state, and records states as nodes and
attempted actions as edges, failed attempts included.

Run "sitegraph serve" for the HTTP control plane, "sitegraph explore <url>"
for a one-shot crawl, or "sitegraph worker" to attach extra workers to a
Redis-backed deployment.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Logging.DebugMode = true
			cfg.Logging.Level = "debug"
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
		if err := logging.Initialize(cfg.DataDir, cfg.LoggingConfig()); err != nil {
			return err
		}

		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.Close()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "sitegraph.yaml", "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(exploreCmd)
	rootCmd.AddCommand(workerCmd)
}

// cmdTimeout returns a short-lived context for final bookkeeping calls that
// must survive the cancelled run context.
func cmdTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()
	return ctx, cancel
}

// stack is the assembled runtime: everything a serve or worker process needs.
type stack struct {
	store   *store.Store
	queue   queue.Queue
	browser *crawl.Browser
	orch    *worker.Orchestrator
	closers []func()
}

func (s *stack) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func buildStack(ctx context.Context) (*stack, error) {
	s := &stack{}

	st, err := store.Open(cfg.DatabasePath(), cfg.ArtifactsDir())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	s.store = st
	s.closers = append(s.closers, func() { st.Close() })

	q, err := buildQueue(ctx)
	if err != nil {
		s.close()
		return nil, err
	}
	s.queue = q
	s.closers = append(s.closers, func() { q.Close() })

	s.browser = crawl.NewBrowser(cfg.CrawlConfig())
	s.closers = append(s.closers, func() {
		shutCtx, shutCancel := cmdTimeout()
		defer shutCancel()
		if err := s.browser.Shutdown(shutCtx); err != nil {
			logger.Warn("browser shutdown", zap.Error(err))
		}
	})

	deps := worker.Deps{
		Store:  st,
		Queue:  q,
		Driver: s.browser,
		Policy: cfg.CompletionPolicy(),
	}
	if cfg.Gemini.APIKey != "" {
		labeler, err := intent.NewGemini(cfg.Gemini.APIKey, cfg.Gemini.Model)
		if err != nil {
			logger.Warn("gemini labeler unavailable, using heuristics", zap.Error(err))
		} else {
			deps.Labeler = labeler
			s.closers = append(s.closers, func() { labeler.Close() })
		}
		analyzer, err := analysis.NewGemini(cfg.Gemini.APIKey, cfg.Gemini.Model)
		if err != nil {
			logger.Warn("gemini analyzer unavailable, using static evaluation", zap.Error(err))
		} else {
			deps.Analyzer = analyzer
			s.closers = append(s.closers, func() { analyzer.Close() })
		}
	}

	s.orch = worker.New(deps, cfg.WorkerConfig())
	return s, nil
}

func buildQueue(ctx context.Context) (queue.Queue, error) {
	switch cfg.Queue.Backend {
	case "redis":
		q, err := queue.NewRedis(ctx, cfg.Queue.RedisAddr, cfg.Queue.RedisPassword, cfg.Queue.RedisDB)
		if err != nil {
			return nil, fmt.Errorf("connect redis queue: %w", err)
		}
		return q, nil
	default:
		return queue.NewMemory(), nil
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
