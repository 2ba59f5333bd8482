package cdp

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/list91/SocketClicker/internal/config"
	"github.com/list91/SocketClicker/internal/page"
)

// Browser owns a Chrome instance, launched locally or attached over the
// DevTools websocket, and hands out its single working tab.
type Browser struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	allocCtx    context.Context
	allocCancel context.CancelFunc

	mu        sync.Mutex
	current   *Page
	tabCancel context.CancelFunc
}

var _ page.Provider = (*Browser)(nil)

// AllocatorOptions builds the exec allocator options for cfg.
func AllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
	}
	if cfg.Headless {
		opts = append(opts, chromedp.Headless)
	}
	if cfg.IgnoreTLSErrors {
		opts = append(opts, chromedp.IgnoreCertErrors)
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if w, h := cfg.Viewport["width"], cfg.Viewport["height"]; w > 0 && h > 0 {
		opts = append(opts, chromedp.WindowSize(w, h))
	}
	for _, arg := range cfg.Args {
		key, value, found := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if found {
			opts = append(opts, chromedp.Flag(key, value))
		} else {
			opts = append(opts, chromedp.Flag(key, true))
		}
	}
	return opts
}

// NewBrowser prepares the allocator. Chrome itself starts with the first tab.
func NewBrowser(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) *Browser {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Browser{cfg: cfg, logger: logger.Named("cdp_browser")}
	if cfg.RemoteURL != "" {
		b.allocCtx, b.allocCancel = chromedp.NewRemoteAllocator(ctx, cfg.RemoteURL)
	} else {
		b.allocCtx, b.allocCancel = chromedp.NewExecAllocator(ctx, AllocatorOptions(cfg)...)
	}
	return b
}

// ActivePage returns the working tab, opening a new one when the previous
// tab was closed.
func (b *Browser) ActivePage(ctx context.Context) (page.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.allocCtx.Err() != nil {
		return nil, page.ErrNoActivePage
	}
	if b.current != nil && b.current.tabCtx.Err() == nil {
		return b.current, nil
	}

	opts := []chromedp.ContextOption{
		chromedp.WithLogf(b.logger.Sugar().Debugf),
		chromedp.WithErrorf(b.logger.Sugar().Errorf),
	}
	if b.cfg.Debug {
		opts = append(opts, chromedp.WithDebugf(b.logger.Sugar().Debugf))
	}
	tabCtx, cancel := chromedp.NewContext(b.allocCtx, opts...)
	startURL := b.cfg.StartURL
	if startURL == "" {
		startURL = "about:blank"
	}
	if err := chromedp.Run(tabCtx, chromedp.Navigate(startURL)); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: opening tab: %v", page.ErrNoActivePage, err)
	}
	p, err := NewPage(tabCtx, b.logger)
	if err != nil {
		cancel()
		return nil, err
	}
	b.logger.Info("Browser tab opened", zap.String("url", startURL), zap.Bool("remote", b.cfg.RemoteURL != ""))
	b.current, b.tabCancel = p, cancel
	return p, nil
}

// Close closes the tab and stops or detaches from the browser.
func (b *Browser) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tabCancel != nil {
		b.tabCancel()
		b.tabCancel = nil
	}
	b.current = nil
	b.allocCancel()
}
