package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "no-such.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ":8090", cfg.Server.ListenAddr)
	assert.Equal(t, "memory", cfg.Queue.Backend)
	assert.Equal(t, 4, cfg.Explore.Workers)
	assert.Equal(t, 300, cfg.Explore.EdgeBudget)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
data_dir: /var/lib/sitegraph
server:
  listen_addr: ":9000"
queue:
  backend: redis
  redis_addr: redis.internal:6379
explore:
  workers: 8
  completion_delay: 30s
  edge_budget: 150
browser:
  headless: false
  viewport_width: 1280
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/sitegraph", cfg.DataDir)
	assert.Equal(t, ":9000", cfg.Server.ListenAddr)
	assert.Equal(t, "redis", cfg.Queue.Backend)
	assert.Equal(t, "redis.internal:6379", cfg.Queue.RedisAddr)
	assert.Equal(t, 8, cfg.Explore.Workers)
	assert.Equal(t, 30*time.Second, cfg.CompletionDelay())

	cc := cfg.CrawlConfig()
	assert.False(t, cc.Headless, "explicit headless false must survive mapping")
	assert.Equal(t, 1280, cc.ViewportWidth)
	assert.True(t, cc.CaptureScreenshots, "unset capture_screenshots defaults true")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SITEGRAPH_LISTEN_ADDR", ":7070")
	t.Setenv("SITEGRAPH_REDIS_ADDR", "cache:6379")
	t.Setenv("SITEGRAPH_WORKERS", "12")
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("SITEGRAPH_DEBUG", "1")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.ListenAddr)
	assert.Equal(t, "cache:6379", cfg.Queue.RedisAddr)
	assert.Equal(t, 12, cfg.Explore.Workers)
	assert.Equal(t, "test-key", cfg.Gemini.APIKey)
	assert.True(t, cfg.Logging.DebugMode)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Default().Validate())

	cfg := Default()
	cfg.Queue.Backend = "kafka"
	assert.Error(t, cfg.Validate(), "unknown queue backend")

	cfg = Default()
	cfg.Queue.Backend = "redis"
	cfg.Queue.RedisAddr = ""
	assert.Error(t, cfg.Validate(), "redis backend without addr")

	cfg = Default()
	cfg.Explore.CompletionDelay = "soon"
	assert.Error(t, cfg.Validate(), "unparseable completion_delay")
}

func TestDerivedPaths(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/tmp/sg"
	assert.Equal(t, "/tmp/sg/sitegraph.db", cfg.DatabasePath())
	assert.Equal(t, "/tmp/sg/artifacts", cfg.ArtifactsDir())
}

type budgetStats struct{ edges int }

func (s budgetStats) CountEdges(ctx context.Context, runID string) (int, error) {
	return s.edges, nil
}

func (s budgetStats) CountSuccessEdgesSince(ctx context.Context, runID string, window time.Duration) (int, error) {
	// Recent progress, so only the edge budget can finalize.
	return 1, nil
}

func (s budgetStats) CountPendingActions(ctx context.Context, runID string) (int, error) {
	return 0, nil
}

func TestCompletionPolicyUsesBudget(t *testing.T) {
	cfg := Default()
	cfg.Explore.EdgeBudget = 25
	policy := cfg.CompletionPolicy()

	d, err := policy.Evaluate(context.Background(), budgetStats{edges: 24}, "r")
	require.NoError(t, err)
	assert.False(t, d.Done)

	d, err = policy.Evaluate(context.Background(), budgetStats{edges: 25}, "r")
	require.NoError(t, err)
	assert.True(t, d.Done)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.Explore.EdgeBudget = 42
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 42, loaded.Explore.EdgeBudget)
}
