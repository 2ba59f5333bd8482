// Package runner executes a Command's actions in order with stop-on-error,
// inter-action pacing and whole-command retry.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/list91/SocketClicker/api/schemas"
	"github.com/list91/SocketClicker/internal/page"
)

// DefaultPacing is the settle delay inserted between successive actions.
const DefaultPacing = 500 * time.Millisecond

// errAttemptFailed signals the retry loop that an attempt recorded a failure.
var errAttemptFailed = errors.New("command attempt failed")

// ActionExecutor runs a single action. *interpreter.Interpreter satisfies it.
type ActionExecutor interface {
	Execute(ctx context.Context, p page.Page, a schemas.Action) schemas.ActionResult
}

// Options configures a Runner.
type Options struct {
	// Pacing is slept between successive actions regardless of their outcome.
	// Zero disables pacing.
	Pacing time.Duration
}

// Runner executes whole commands.
type Runner struct {
	exec   ActionExecutor
	opts   Options
	logger *zap.Logger
}

// New creates a Runner.
func New(exec ActionExecutor, opts Options, logger *zap.Logger) (*Runner, error) {
	if exec == nil {
		return nil, errors.New("action executor cannot be nil")
	}
	if opts.Pacing < 0 {
		opts.Pacing = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{exec: exec, opts: opts, logger: logger.Named("runner")}, nil
}

// Run executes cmd against p and always returns a well-formed result. On
// failure the whole action list is retried up to the command's retry count;
// only the last attempt's results are returned.
func (r *Runner) Run(ctx context.Context, p page.Page, cmd schemas.Command) (result schemas.CommandResult) {
	cmd.StartedAt = time.Now().UTC()
	logger := r.logger.With(zap.String("command_id", cmd.ID))
	attempts := 0

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("Command runner panicked", zap.Any("panic", rec), zap.Stack("stack"))
			result = schemas.NewCommandResult(cmd.ID, []schemas.ActionResult{
				schemas.Failed("", schemas.ErrorKindExecution, fmt.Sprintf("runner panic: %v", rec)),
			})
		}
		if attempts == 0 {
			attempts = 1
		}
		result.Attempts = attempts
		result.StartedAt = cmd.StartedAt
		result.FinishedAt = time.Now().UTC()
		logger.Info("Command finished",
			zap.Bool("success", result.Success),
			zap.Int("action_results", len(result.ActionResults)),
			zap.Int("attempts", result.Attempts),
			zap.Duration("elapsed", result.FinishedAt.Sub(result.StartedAt)))
	}()

	actions, err := cmd.ActionList()
	if err != nil {
		return schemas.NewCommandResult(cmd.ID, []schemas.ActionResult{
			schemas.Failed("", schemas.ErrorKindValidation, err.Error()),
		})
	}

	if len(actions) == 0 {
		if msg, ok := schemas.EchoText(cmd.Text); ok {
			attempts = 1
			return schemas.NewCommandResult(cmd.ID, []schemas.ActionResult{
				schemas.Succeeded("echo", msg, map[string]any{"message": msg}),
			})
		}
	}

	stopOnError := cmd.ShouldStopOnError()
	retries, delay := cmd.RetryPolicy()
	logger.Info("Running command",
		zap.Int("actions", len(actions)),
		zap.Bool("stop_on_error", stopOnError),
		zap.Int("retry_count", retries),
		zap.Duration("retry_delay", delay))

	var last []schemas.ActionResult
	operation := func() error {
		attempts++
		last = r.runOnce(ctx, p, actions, stopOnError)
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		if _, failed := schemas.NewCommandResult(cmd.ID, last).FirstFailure(); failed {
			return errAttemptFailed
		}
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), uint64(retries)), ctx)
	notify := func(err error, wait time.Duration) {
		logger.Warn("Command attempt failed, retrying",
			zap.Int("attempt", attempts),
			zap.Int("max_attempts", retries+1),
			zap.Duration("wait", wait))
	}
	_ = backoff.RetryNotify(operation, policy, notify)

	return schemas.NewCommandResult(cmd.ID, last)
}

// runOnce executes the actions once, in order.
func (r *Runner) runOnce(ctx context.Context, p page.Page, actions []schemas.Action, stopOnError bool) []schemas.ActionResult {
	results := make([]schemas.ActionResult, 0, len(actions))
	for idx, a := range actions {
		if idx > 0 && r.opts.Pacing > 0 {
			if err := sleep(ctx, r.opts.Pacing); err != nil {
				results = append(results, schemas.Failed(a.Kind, schemas.ErrorKindExecution, fmt.Sprintf("command interrupted: %v", err)))
				return results
			}
		}
		if err := ctx.Err(); err != nil {
			results = append(results, schemas.Failed(a.Kind, schemas.ErrorKindExecution, fmt.Sprintf("command interrupted: %v", err)))
			return results
		}

		res := r.exec.Execute(ctx, p, a)
		results = append(results, res)
		if !res.Success && stopOnError {
			r.logger.Debug("Stopping command on first failure", zap.Int("index", idx), zap.String("action", string(a.Kind)))
			break
		}
	}
	return results
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
