// Package interpreter executes a single Action against a page and normalizes
// every outcome into an ActionResult.
package interpreter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/list91/SocketClicker/api/schemas"
	"github.com/list91/SocketClicker/internal/locator"
	"github.com/list91/SocketClicker/internal/page"
	"github.com/list91/SocketClicker/internal/synth"
)

// Default wait bounds.
const (
	DefaultElementTimeout  = 10 * time.Second
	DefaultPageLoadTimeout = 30 * time.Second
	DefaultScriptTimeout   = 10 * time.Second
)

var (
	// errNavigationTimeout marks a navigation call that did not return within the page-load bound.
	errNavigationTimeout = errors.New("navigation did not complete in time")
	// errScriptFailed wraps every ExecuteScript failure.
	errScriptFailed = errors.New("script failed")
)

// Options configures the interpreter's timeouts.
type Options struct {
	ElementTimeout  time.Duration
	PageLoadTimeout time.Duration
	ScriptTimeout   time.Duration
	// WaitInteractive makes mutating actions wait until the target is visible and enabled.
	WaitInteractive bool
}

func (o Options) withDefaults() Options {
	if o.ElementTimeout <= 0 {
		o.ElementTimeout = DefaultElementTimeout
	}
	if o.PageLoadTimeout <= 0 {
		o.PageLoadTimeout = DefaultPageLoadTimeout
	}
	if o.ScriptTimeout <= 0 {
		o.ScriptTimeout = DefaultScriptTimeout
	}
	return o
}

// Interpreter is the per-Action state machine: validate, pre-delay, resolve,
// dispatch, normalize.
type Interpreter struct {
	resolver *locator.Resolver
	synth    *synth.Synthesizer
	opts     Options
	logger   *zap.Logger
}

// New creates an Interpreter.
func New(resolver *locator.Resolver, synthesizer *synth.Synthesizer, opts Options, logger *zap.Logger) (*Interpreter, error) {
	if resolver == nil {
		return nil, errors.New("locator resolver cannot be nil")
	}
	if synthesizer == nil {
		return nil, errors.New("event synthesizer cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Interpreter{
		resolver: resolver,
		synth:    synthesizer,
		opts:     opts.withDefaults(),
		logger:   logger.Named("interpreter"),
	}, nil
}

// Execute runs one action. It never returns an error and never panics; every
// failure is reported through the result.
func (i *Interpreter) Execute(ctx context.Context, p page.Page, a schemas.Action) (result schemas.ActionResult) {
	start := time.Now()
	logger := i.logger.With(zap.String("action", string(a.Kind)), zap.Stringer("locator", a.Locator))

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Action panicked", zap.Any("panic", r), zap.Stack("stack"))
			result = schemas.Failed(a.Kind, schemas.ErrorKindExecution, fmt.Sprintf("panic during %s: %v", a.Kind, r))
		}
		result.Action = a.Kind
		result.DurationMs = time.Since(start).Milliseconds()
		if result.Success {
			logger.Info("Action succeeded", zap.Int64("duration_ms", result.DurationMs))
		} else {
			logger.Warn("Action failed",
				zap.String("error_kind", string(result.ErrorKind)),
				zap.String("message", result.Message),
				zap.Int64("duration_ms", result.DurationMs))
		}
	}()

	if err := Validate(a); err != nil {
		return schemas.Failed(a.Kind, schemas.ErrorKindValidation, err.Error())
	}
	if p == nil {
		return schemas.Failed(a.Kind, schemas.ErrorKindExecution, page.ErrNoActivePage.Error())
	}

	if d := a.StartDelay(); d > 0 {
		logger.Debug("Applying start delay", zap.Duration("delay", d))
		if err := sleep(ctx, d); err != nil {
			return schemas.Failed(a.Kind, schemas.ErrorKindExecution, fmt.Sprintf("interrupted during start delay: %v", err))
		}
	}

	message, data, err := i.dispatch(ctx, p, a)
	if err != nil {
		return schemas.Failed(a.Kind, Classify(err), err.Error())
	}
	return schemas.Succeeded(a.Kind, message, data)
}

// Classify maps an execution error onto the result taxonomy.
func Classify(err error) schemas.ErrorKind {
	switch {
	case errors.Is(err, ErrInvalidAction):
		return schemas.ErrorKindValidation
	case errors.Is(err, locator.ErrElementNotFound), errors.Is(err, locator.ErrNotInteractive):
		return schemas.ErrorKindElementNotFound
	case errors.Is(err, errScriptFailed):
		return schemas.ErrorKindExecution
	case errors.Is(err, locator.ErrReadyStateTimeout), errors.Is(err, errNavigationTimeout):
		return schemas.ErrorKindTimeout
	default:
		return schemas.ErrorKindExecution
	}
}

func (i *Interpreter) dispatch(ctx context.Context, p page.Page, a schemas.Action) (string, map[string]any, error) {
	switch a.Kind {
	case schemas.ActionNavigate:
		return i.navigate(ctx, p, a)
	case schemas.ActionWait:
		ms, _ := a.IntValue()
		if err := sleep(ctx, schemas.Millis(ms)); err != nil {
			return "", nil, fmt.Errorf("wait interrupted: %w", err)
		}
		return fmt.Sprintf("waited %dms", ms), nil, nil
	case schemas.ActionWaitForPageLoad:
		timeout := a.Timeout(i.opts.PageLoadTimeout)
		if err := i.resolver.WaitForReadyState(ctx, p, page.ReadyComplete, timeout); err != nil {
			return "", nil, err
		}
		return "page loaded", nil, nil
	case schemas.ActionExecuteScript:
		return i.executeScript(ctx, p, a)
	case schemas.ActionScroll:
		if a.Locator.IsZero() {
			target, err := ParseScrollValue(a)
			if err != nil {
				return "", nil, err
			}
			if err := i.synth.ScrollWindow(ctx, p, target.X, target.Y, target.Absolute); err != nil {
				return "", nil, err
			}
			if target.Absolute {
				return fmt.Sprintf("scrolled window to %.0f,%.0f", target.X, target.Y), nil, nil
			}
			return fmt.Sprintf("scrolled window by %.0f", target.Y), nil, nil
		}
	}

	// Element-targeted kinds.
	timeout := a.Timeout(i.opts.ElementTimeout)
	deadline := time.Now().Add(timeout)
	node, err := i.resolver.Resolve(ctx, p, a.Locator, timeout)
	if err != nil {
		return "", nil, err
	}

	switch a.Kind {
	case schemas.ActionWaitForElement:
		return fmt.Sprintf("element %s found", a.Locator), nil, nil
	case schemas.ActionGetText:
		v, err := p.ReadProperty(ctx, node, "textContent")
		if err != nil {
			return "", nil, fmt.Errorf("reading text of %s: %w", node, err)
		}
		text := ""
		if v != nil {
			text = strings.TrimSpace(fmt.Sprint(v))
		}
		return "text read", map[string]any{"text": text}, nil
	case schemas.ActionScroll:
		if err := i.synth.ScrollIntoView(ctx, p, node); err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("scrolled %s into view", node), nil, nil
	}

	if i.opts.WaitInteractive && a.Kind.Mutates() {
		if err := i.resolver.WaitUntilInteractive(ctx, p, node, time.Until(deadline)); err != nil {
			return "", nil, err
		}
	}

	switch a.Kind {
	case schemas.ActionClick:
		if err := i.synth.Click(ctx, p, node); err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("clicked %s", node), nil, nil
	case schemas.ActionInput:
		text, _ := a.StringValue()
		if err := i.synth.Input(ctx, p, node, text); err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("typed %d characters into %s", len([]rune(text)), node), nil, nil
	case schemas.ActionSelect:
		value, _ := a.StringValue()
		if err := i.synth.Select(ctx, p, node, value); err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("selected %q in %s", value, node), nil, nil
	case schemas.ActionSetCheckbox:
		desired, _ := a.BoolValue()
		clicked, err := i.synth.Checkbox(ctx, p, node, desired)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("checkbox %s set to %t", node, desired), map[string]any{"checked": desired, "changed": clicked}, nil
	}
	return "", nil, invalid("unhandled action kind %q", a.Kind)
}

func (i *Interpreter) navigate(ctx context.Context, p page.Page, a schemas.Action) (string, map[string]any, error) {
	target, _ := a.StringValue()
	timeout := a.Timeout(i.opts.PageLoadTimeout)
	deadline := time.Now().Add(timeout)

	navCtx, cancel := context.WithDeadline(ctx, deadline)
	err := p.Navigate(navCtx, target)
	cancel()
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return "", nil, fmt.Errorf("%w: %s after %s", errNavigationTimeout, target, timeout)
		}
		return "", nil, fmt.Errorf("navigating to %s: %w", target, err)
	}

	if err := i.resolver.WaitForReadyState(ctx, p, page.ReadyComplete, time.Until(deadline)); err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("navigated to %s", target), map[string]any{"url": target}, nil
}

func (i *Interpreter) executeScript(ctx context.Context, p page.Page, a schemas.Action) (string, map[string]any, error) {
	body, _ := a.StringValue()
	timeout := a.Timeout(i.opts.ScriptTimeout)

	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	res, err := p.RunScript(sctx, body)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return "", nil, fmt.Errorf("%w: timed out after %s", errScriptFailed, timeout)
		}
		return "", nil, fmt.Errorf("%w: %v", errScriptFailed, err)
	}
	return "script executed", map[string]any{"result": res}, nil
}

// sleep blocks for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
