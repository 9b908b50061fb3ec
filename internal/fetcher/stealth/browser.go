// Package stealth implements webpage.Browser on go-rod, with every tab
// patched by go-rod/stealth to hide common automation fingerprints.
package stealth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"go.uber.org/zap"

	"github.com/JakeFAU/webcrawl-engine/internal/webpage"
)

const defaultNavigationTimeout = 45 * time.Second

// ErrNotInitialized is returned when a page is requested before Init.
var ErrNotInitialized = errors.New("browser not initialized")

// Config controls the rod browser.
type Config struct {
	// RemoteURL connects to an existing Chrome instead of launching one.
	RemoteURL         string
	ExecPath          string
	Headful           bool
	NavigationTimeout time.Duration
	// DisableStealth opens plain tabs.
	DisableStealth bool
}

// Browser implements webpage.Browser with go-rod.
type Browser struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	browser  *rod.Browser
	launcher *launcher.Launcher
}

var _ webpage.Browser = (*Browser)(nil)

// New returns an uninitialized Browser.
func New(cfg Config, logger *zap.Logger) *Browser {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Browser{cfg: cfg, logger: logger.Named("rod")}
}

func (b *Browser) newLauncher() *launcher.Launcher {
	l := launcher.New().
		Headless(!b.cfg.Headful).
		Set("disable-blink-features", "AutomationControlled")
	if b.cfg.ExecPath != "" {
		l = l.Bin(b.cfg.ExecPath)
	}
	return l
}

// Init launches or connects to Chrome. Calling Init on an active browser is a no-op.
func (b *Browser) Init(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser != nil {
		return nil
	}
	controlURL := b.cfg.RemoteURL
	var l *launcher.Launcher
	if controlURL == "" {
		l = b.newLauncher().Context(ctx)
		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = u
	}
	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		if l != nil {
			l.Cleanup()
		}
		return fmt.Errorf("connect chrome: %w", err)
	}
	b.browser = browser
	b.launcher = l
	b.logger.Info("browser started", zap.Bool("remote", b.cfg.RemoteURL != ""))
	return nil
}

// NewPage opens a tab.
func (b *Browser) NewPage(ctx context.Context) (webpage.Page, error) {
	b.mu.Lock()
	browser := b.browser
	b.mu.Unlock()
	if browser == nil {
		return nil, ErrNotInitialized
	}
	var (
		page *rod.Page
		err  error
	)
	if b.cfg.DisableStealth {
		page, err = browser.Context(ctx).Page(proto.TargetCreateTarget{URL: ""})
	} else {
		page, err = stealth.Page(browser.Context(ctx))
	}
	if err != nil {
		return nil, fmt.Errorf("create tab: %w", err)
	}
	// Detach the tab from the creation context.
	return newPage(page.Context(context.Background()), browser, b.cfg.NavigationTimeout), nil
}

// Close shuts Chrome down.
func (b *Browser) Close(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser == nil {
		return nil
	}
	err := b.browser.Close()
	if b.launcher != nil {
		b.launcher.Cleanup()
	}
	b.browser = nil
	b.launcher = nil
	b.logger.Info("browser closed")
	if err != nil {
		return fmt.Errorf("close chrome: %w", err)
	}
	return nil
}

// IsActive reports whether Init succeeded and Close has not run.
func (b *Browser) IsActive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.browser != nil
}
