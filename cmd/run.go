package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/list91/SocketClicker/internal/config"
	"github.com/list91/SocketClicker/internal/control"
	"github.com/list91/SocketClicker/internal/dispatcher"
	"github.com/list91/SocketClicker/internal/queue"
	"github.com/list91/SocketClicker/internal/store"
)

func newRunCmd(a *app) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Poll the command queue and execute commands against the active page",
		Long: `Starts the dispatcher. Every poll interval it fetches at most one command,
runs its actions on the active page and reports the result to history. The
control server exposes status, pause/resume and a live event stream.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context(), a.cfg, a.logger, once)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "process at most one command and exit")
	return cmd
}

func runWorker(ctx context.Context, cfg config.Interface, logger *zap.Logger, once bool) error {
	q, err := queue.New(ctx, cfg.Queue(), logger)
	if err != nil {
		return fmt.Errorf("failed to open command queue: %w", err)
	}
	defer func() {
		if err := q.Close(); err != nil {
			logger.Warn("Failed to close command queue", zap.Error(err))
		}
	}()

	var (
		options []dispatcher.Option
		history control.HistoryReader
	)
	if dbURL := cfg.Database().URL; dbURL != "" {
		journal, closeDB, err := store.Connect(ctx, dbURL, logger)
		if err != nil {
			return fmt.Errorf("failed to open result journal: %w", err)
		}
		defer closeDB()
		options = append(options, dispatcher.WithJournal(journal))
		history = journal
	}

	pages, closePages, err := openPages(ctx, cfg.Browser(), logger)
	if err != nil {
		return err
	}
	defer closePages()

	r, err := newRunner(cfg.Engine(), logger)
	if err != nil {
		return err
	}

	hub := control.NewHub(logger)
	defer hub.Close()
	options = append(options, dispatcher.WithListener(hub.CommandListener()))

	dcfg := cfg.Dispatcher()
	d, err := dispatcher.New(q, r, pages, dispatcher.Options{
		PollInterval:  dcfg.PollInterval,
		StartPaused:   !dcfg.Enabled,
		ReportTimeout: dcfg.ReportTimeout,
	}, logger, options...)
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}

	if once {
		if !d.ProcessOnce(ctx) {
			logger.Info("No command processed")
		}
		return nil
	}

	var srv *control.Server
	if ccfg := cfg.Control(); ccfg.Enabled {
		if srv, err = control.NewServer(ccfg, d, history, hub, logger); err != nil {
			return fmt.Errorf("failed to create control server: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.Run(gctx) })
	if srv != nil {
		g.Go(func() error { return srv.Start(gctx) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Worker stopped")
	return nil
}
