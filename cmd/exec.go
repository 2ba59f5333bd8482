package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/list91/SocketClicker/api/schemas"
	"github.com/list91/SocketClicker/internal/page"
	"github.com/list91/SocketClicker/internal/page/static"
)

type execOptions struct {
	htmlFile string
	baseURL  string
	events   bool
}

func newExecCmd(a *app) *cobra.Command {
	opts := execOptions{}
	cmd := &cobra.Command{
		Use:   "exec <file.json>",
		Short: "Execute commands from a file and print their results",
		Long: `Runs each command in the file against the configured browser, or against an
in-memory page built from --html. Results are printed as JSON; nothing is
fetched from or reported to the queue.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmds, err := readCommands(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			return execCommands(cmd, a, cmds, opts)
		},
	}
	cmd.Flags().StringVar(&opts.htmlFile, "html", "", "run against this HTML file in the in-memory page")
	cmd.Flags().StringVar(&opts.baseURL, "base-url", "https://localhost/", "document URL used with --html")
	cmd.Flags().BoolVar(&opts.events, "events", false, "include the dispatched DOM events (--html only)")
	return cmd
}

type execReport struct {
	Results []schemas.CommandResult `json:"results"`
	Events  []static.EventRecord    `json:"events,omitempty"`
}

func execCommands(cmd *cobra.Command, a *app, cmds []schemas.Command, opts execOptions) error {
	ctx := cmd.Context()
	r, err := newRunner(a.cfg.EngineCfg, a.logger)
	if err != nil {
		return err
	}

	var (
		p        page.Page
		inMemory *static.Page
	)
	if opts.htmlFile != "" {
		markup, err := os.ReadFile(opts.htmlFile)
		if err != nil {
			return err
		}
		inMemory = static.New(static.Options{}, a.logger)
		defer inMemory.Close()
		if err := inMemory.LoadHTML(ctx, opts.baseURL, string(markup)); err != nil {
			return fmt.Errorf("loading %s: %w", opts.htmlFile, err)
		}
		p = inMemory
	} else {
		pages, closePages, err := openPages(ctx, a.cfg.BrowserCfg, a.logger)
		if err != nil {
			return err
		}
		defer closePages()
		if p, err = pages.ActivePage(ctx); err != nil {
			return err
		}
	}

	report := execReport{}
	failed := 0
	for _, c := range cmds {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		result := r.Run(ctx, p, c)
		if !result.Success {
			failed++
		}
		a.logger.Info("Command executed", zap.String("command_id", c.ID), zap.Bool("success", result.Success))
		report.Results = append(report.Results, result)
	}
	if opts.events && inMemory != nil {
		report.Events = inMemory.Events()
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(cmd.OutOrStdout(), string(out)); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d command(s) failed", failed, len(cmds))
	}
	return nil
}
