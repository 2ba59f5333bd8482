package rodpage

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/list91/SocketClicker/internal/config"
	"github.com/list91/SocketClicker/internal/page"
)

// Browser launches or attaches to Chrome through rod and keeps one working page.
type Browser struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	mu       sync.Mutex
	launcher *launcher.Launcher
	browser  *rod.Browser
	current  *Page
}

var _ page.Provider = (*Browser)(nil)

// NewBrowser returns a provider; Chrome starts on the first ActivePage call.
func NewBrowser(cfg config.BrowserConfig, logger *zap.Logger) *Browser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Browser{cfg: cfg, logger: logger.Named("rod_browser")}
}

// Launcher builds the rod launcher for cfg.
func Launcher(cfg config.BrowserConfig) *launcher.Launcher {
	l := launcher.New().
		Headless(cfg.Headless).
		NoSandbox(true).
		Set("disable-gpu").
		Set("disable-dev-shm-usage")
	if cfg.ExecPath != "" {
		l = l.Bin(cfg.ExecPath)
	}
	if w, h := cfg.Viewport["width"], cfg.Viewport["height"]; w > 0 && h > 0 {
		l = l.Set("window-size", fmt.Sprintf("%d,%d", w, h))
	}
	for _, arg := range cfg.Args {
		key, value, found := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if found {
			l = l.Set(flags.Flag(key), value)
		} else {
			l = l.Set(flags.Flag(key))
		}
	}
	return l
}

func (b *Browser) connect(ctx context.Context) error {
	controlURL := b.cfg.RemoteURL
	if controlURL == "" {
		b.launcher = Launcher(b.cfg).Context(ctx)
		u, err := b.launcher.Launch()
		if err != nil {
			return fmt.Errorf("launching browser: %w", err)
		}
		controlURL = u
	}
	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connecting to browser at %s: %w", controlURL, err)
	}
	if b.cfg.IgnoreTLSErrors {
		if err := browser.IgnoreCertErrors(true); err != nil {
			b.logger.Warn("Failed to ignore certificate errors", zap.Error(err))
		}
	}
	b.browser = browser
	b.logger.Info("Connected to browser", zap.String("control_url", controlURL))
	return nil
}

func (b *Browser) alive(p *Page) bool {
	_, err := proto.TargetGetTargetInfo{TargetID: p.page.TargetID}.Call(b.browser)
	return err == nil
}

// ActivePage returns the working page, opening one when needed.
func (b *Browser) ActivePage(ctx context.Context) (page.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browser == nil {
		if err := b.connect(context.WithoutCancel(ctx)); err != nil {
			return nil, fmt.Errorf("%w: %v", page.ErrNoActivePage, err)
		}
	}
	if b.current != nil && b.alive(b.current) {
		return b.current, nil
	}

	startURL := b.cfg.StartURL
	if startURL == "" {
		startURL = "about:blank"
	}
	rp, err := b.browser.Page(proto.TargetCreateTarget{URL: startURL})
	if err != nil {
		return nil, fmt.Errorf("%w: opening page: %v", page.ErrNoActivePage, err)
	}
	if w, h := b.cfg.Viewport["width"], b.cfg.Viewport["height"]; w > 0 && h > 0 {
		if err := rp.SetViewport(&proto.EmulationSetDeviceMetricsOverride{Width: w, Height: h, DeviceScaleFactor: 1}); err != nil {
			b.logger.Warn("Failed to set viewport", zap.Error(err))
		}
	}
	p, err := NewPage(rp, b.logger)
	if err != nil {
		return nil, err
	}
	b.current = p
	return p, nil
}

// Close closes the browser, or only disconnects from a remote one.
func (b *Browser) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser == nil {
		return
	}
	if b.launcher != nil {
		if err := b.browser.Close(); err != nil {
			b.logger.Debug("Browser close failed", zap.Error(err))
		}
		b.launcher.Cleanup()
		b.launcher = nil
	} else if b.current != nil {
		_ = b.current.page.Close()
	}
	b.browser, b.current = nil, nil
}
