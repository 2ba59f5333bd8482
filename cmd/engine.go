package cmd

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/list91/SocketClicker/internal/config"
	"github.com/list91/SocketClicker/internal/interpreter"
	"github.com/list91/SocketClicker/internal/locator"
	"github.com/list91/SocketClicker/internal/page"
	"github.com/list91/SocketClicker/internal/page/cdp"
	"github.com/list91/SocketClicker/internal/page/rodpage"
	"github.com/list91/SocketClicker/internal/page/static"
	"github.com/list91/SocketClicker/internal/runner"
	"github.com/list91/SocketClicker/internal/synth"
)

// newRunner assembles the execution engine from the engine settings.
func newRunner(cfg config.EngineConfig, logger *zap.Logger) (*runner.Runner, error) {
	interp, err := interpreter.New(
		locator.NewResolver(cfg.PollInterval, logger),
		synth.New(synth.Options{NativeClickFallback: cfg.NativeClickFallback}, logger),
		interpreter.Options{
			ElementTimeout:  cfg.ElementTimeout,
			PageLoadTimeout: cfg.PageLoadTimeout,
			ScriptTimeout:   cfg.ScriptTimeout,
			WaitInteractive: cfg.WaitInteractive,
		},
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build interpreter: %w", err)
	}
	return runner.New(interp, runner.Options{Pacing: cfg.Pacing}, logger)
}

// openPages returns the page provider for the configured driver and a func
// that releases it.
func openPages(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (page.Provider, func(), error) {
	switch cfg.Driver {
	case config.DriverRod:
		b := rodpage.NewBrowser(cfg, logger)
		return b, b.Close, nil
	case config.DriverStatic:
		p, err := openStaticPage(ctx, cfg, logger)
		if err != nil {
			return nil, func() {}, err
		}
		return page.Fixed(p), p.Close, nil
	case config.DriverCDP, "":
		b := cdp.NewBrowser(context.WithoutCancel(ctx), cfg, logger)
		return b, b.Close, nil
	default:
		return nil, func() {}, fmt.Errorf("unknown browser driver %q", cfg.Driver)
	}
}

func openStaticPage(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*static.Page, error) {
	opts := static.Options{AllowFileURLs: true}
	if w, h := cfg.Viewport["width"], cfg.Viewport["height"]; w > 0 && h > 0 {
		opts.Viewport = static.Viewport{Width: float64(w), Height: float64(h)}
	}
	p := static.New(opts, logger)
	if cfg.StartURL != "" && cfg.StartURL != static.BlankURL {
		navCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := p.Navigate(navCtx, cfg.StartURL); err != nil {
			p.Close()
			return nil, fmt.Errorf("opening %s: %w", cfg.StartURL, err)
		}
	}
	return p, nil
}
