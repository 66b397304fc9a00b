package crawl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"

	"sitegraph/internal/logging"
)

// Config holds browser configuration.
type Config struct {
	DebuggerURL         string   `json:"debugger_url"`
	Launch              []string `json:"launch"`
	Headless            bool     `json:"headless"`
	ViewportWidth       int      `json:"viewport_width"`
	ViewportHeight      int      `json:"viewport_height"`
	NavigationTimeoutMs int      `json:"navigation_timeout_ms"`
	ActionTimeoutMs     int      `json:"action_timeout_ms"`
	SettleDelayMs       int      `json:"settle_delay_ms"`
	CaptureScreenshots  bool     `json:"capture_screenshots"`
	CaptureCSS          bool     `json:"capture_css"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Headless:            true,
		ViewportWidth:       1920,
		ViewportHeight:      1080,
		NavigationTimeoutMs: 30000,
		ActionTimeoutMs:     10000,
		SettleDelayMs:       500,
		CaptureScreenshots:  true,
	}
}

// GetViewportWidth returns viewport width.
func (c Config) GetViewportWidth() int {
	if c.ViewportWidth == 0 {
		return 1920
	}
	return c.ViewportWidth
}

// GetViewportHeight returns viewport height.
func (c Config) GetViewportHeight() int {
	if c.ViewportHeight == 0 {
		return 1080
	}
	return c.ViewportHeight
}

// NavigationTimeout returns the navigation timeout.
func (c Config) NavigationTimeout() time.Duration {
	if c.NavigationTimeoutMs == 0 {
		return 30 * time.Second
	}
	return time.Duration(c.NavigationTimeoutMs) * time.Millisecond
}

// ActionTimeout returns the per-action timeout.
func (c Config) ActionTimeout() time.Duration {
	if c.ActionTimeoutMs == 0 {
		return 10 * time.Second
	}
	return time.Duration(c.ActionTimeoutMs) * time.Millisecond
}

// SettleDelay returns how long to wait after an action before capturing.
func (c Config) SettleDelay() time.Duration {
	if c.SettleDelayMs == 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.SettleDelayMs) * time.Millisecond
}

// Browser owns the detached Chrome instance and tracks one session per run.
type Browser struct {
	cfg      Config
	mu       sync.RWMutex
	browser  *rod.Browser
	sessions map[string]*browserSession
}

// NewBrowser creates an unconnected browser driver. The Chrome process is
// launched lazily on the first Session call.
func NewBrowser(cfg Config) *Browser {
	return &Browser{
		cfg:      cfg,
		sessions: make(map[string]*browserSession),
	}
}

// Start connects to an existing Chrome or launches a new one.
func (b *Browser) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browser != nil {
		if _, err := b.browser.Version(); err == nil {
			return nil
		}
		logging.Crawl("Stale browser connection detected, reconnecting")
		_ = b.browser.Close()
		b.browser = nil
		b.sessions = make(map[string]*browserSession)
	}

	controlURL := b.cfg.DebuggerURL
	if controlURL == "" && len(b.cfg.Launch) > 0 {
		bin := b.cfg.Launch[0]
		launch := launcher.New().Bin(bin).Headless(b.cfg.Headless)
		for _, rawFlag := range b.cfg.Launch[1:] {
			flagStr := strings.TrimLeft(rawFlag, "-")
			name, val, hasVal := strings.Cut(flagStr, "=")
			if hasVal {
				launch = launch.Set(flags.Flag(name), val)
			} else {
				launch = launch.Set(flags.Flag(name))
			}
		}
		url, err := launch.Launch()
		if err != nil {
			fallback := launcher.New().Bin(bin).Headless(b.cfg.Headless)
			alt, altErr := fallback.Launch()
			if altErr != nil {
				return fmt.Errorf("launch chrome: %w (fallback: %v)", err, altErr)
			}
			url = alt
		}
		controlURL = url
	}

	if controlURL == "" {
		url, err := launcher.New().Headless(b.cfg.Headless).Launch()
		if err != nil {
			return fmt.Errorf("no debugger_url and failed to launch: %w", err)
		}
		controlURL = url
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}

	b.browser = browser
	logging.Crawl("Browser connected at %s", controlURL)
	return nil
}

func (b *Browser) ensureStarted(ctx context.Context) error {
	b.mu.RLock()
	if b.browser != nil {
		b.mu.RUnlock()
		return nil
	}
	b.mu.RUnlock()
	return b.Start(ctx)
}

// Session returns the browser context for a run, creating it on first use.
// Each run gets its own incognito context so storage never bleeds between
// runs.
func (b *Browser) Session(ctx context.Context, runID string) (Session, error) {
	if err := b.ensureStarted(ctx); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.sessions[runID]; ok {
		return s, nil
	}
	if b.browser == nil {
		return nil, errors.New("browser not connected")
	}

	incognito, err := b.browser.Incognito()
	if err != nil {
		return nil, fmt.Errorf("incognito context: %w", err)
	}
	page, err := incognito.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             b.cfg.GetViewportWidth(),
		Height:            b.cfg.GetViewportHeight(),
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		logging.Crawl("warning: failed to set viewport for run %s: %v", runID, err)
	}

	s := &browserSession{cfg: b.cfg, runID: runID, page: page, owner: b}
	b.sessions[runID] = s
	return s, nil
}

func (b *Browser) dropSession(runID string) {
	b.mu.Lock()
	delete(b.sessions, runID)
	b.mu.Unlock()
}

// Shutdown closes tracked pages and the browser.
func (b *Browser) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, s := range b.sessions {
		if s.page != nil {
			_ = s.page.Close()
		}
		delete(b.sessions, id)
	}

	var err error
	if b.browser != nil {
		err = b.browser.Close()
		b.browser = nil
	}
	return err
}

type browserSession struct {
	cfg   Config
	runID string
	page  *rod.Page
	owner *Browser
}

// Navigate loads a URL and waits for the page to become idle.
func (s *browserSession) Navigate(ctx context.Context, url string) error {
	page := s.page.Context(ctx).Timeout(s.cfg.NavigationTimeout())
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("wait load %s: %w", url, err)
	}
	time.Sleep(s.cfg.SettleDelay())
	return nil
}

func (s *browserSession) Close() error {
	s.owner.dropSession(s.runID)
	if s.page != nil {
		return s.page.Close()
	}
	return nil
}
