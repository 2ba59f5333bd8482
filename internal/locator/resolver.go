// Package locator resolves element locators against a page with bounded polling.
package locator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/list91/SocketClicker/api/schemas"
	"github.com/list91/SocketClicker/internal/page"
)

// DefaultPollInterval is the cadence at which locators are re-evaluated.
const DefaultPollInterval = 100 * time.Millisecond

var (
	// ErrElementNotFound is returned when a locator does not resolve before the timeout.
	ErrElementNotFound = errors.New("element not found")
	// ErrNotInteractive is returned when a resolved node never becomes actionable.
	ErrNotInteractive = errors.New("element not interactive")
	// ErrReadyStateTimeout is returned when the document never reaches the wanted ready state.
	ErrReadyStateTimeout = errors.New("document did not reach ready state")
)

// errPollTimeout is the internal sentinel translated by each public wait.
var errPollTimeout = errors.New("poll timeout")

// Resolver polls a page until a condition holds or a timeout elapses.
type Resolver struct {
	interval time.Duration
	logger   *zap.Logger
}

// NewResolver creates a Resolver. A non-positive interval falls back to
// DefaultPollInterval.
func NewResolver(interval time.Duration, logger *zap.Logger) *Resolver {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{interval: interval, logger: logger.Named("locator")}
}

// Interval returns the poll cadence.
func (r *Resolver) Interval() time.Duration { return r.interval }

// Resolve evaluates loc immediately and then on every poll tick until it matches
// a node or timeout elapses. Evaluation errors count as "not found yet". A gone
// page or a canceled context aborts at once.
func (r *Resolver) Resolve(ctx context.Context, p page.Page, loc schemas.Locator, timeout time.Duration) (page.Node, error) {
	var found page.Node
	reported := false
	err := r.poll(ctx, timeout, func(pctx context.Context) (bool, error) {
		node, err := p.EvaluateLocator(pctx, loc)
		if err != nil {
			if page.IsGone(err) || ctx.Err() != nil {
				return false, err
			}
			// A broken expression will keep failing; say so once, then stay quiet.
			if !reported {
				r.logger.Warn("Locator evaluation failed, retrying", zap.Stringer("locator", loc), zap.Error(err))
				reported = true
			} else {
				r.logger.Debug("Locator evaluation failed", zap.Stringer("locator", loc), zap.Error(err))
			}
			return false, nil
		}
		if node == nil {
			return false, nil
		}
		found = node
		return true, nil
	})
	if errors.Is(err, errPollTimeout) {
		return nil, fmt.Errorf("%w: %s within %s", ErrElementNotFound, loc, timeout)
	}
	if err != nil {
		return nil, err
	}
	return found, nil
}

// WaitUntilInteractive polls the node's computed visibility until it is
// visible, enabled and has a non-empty box.
func (r *Resolver) WaitUntilInteractive(ctx context.Context, p page.Page, node page.Node, timeout time.Duration) error {
	var last page.Visibility
	err := r.poll(ctx, timeout, func(pctx context.Context) (bool, error) {
		vis, err := p.GetComputedVisibility(pctx, node)
		if err != nil {
			if page.IsGone(err) || errors.Is(err, page.ErrStaleNode) || ctx.Err() != nil {
				return false, err
			}
			r.logger.Debug("Visibility probe failed", zap.Stringer("node", node), zap.Error(err))
			return false, nil
		}
		last = vis
		return vis.Interactive(), nil
	})
	if errors.Is(err, errPollTimeout) {
		return fmt.Errorf("%w: %s (visible=%t disabled=%t size=%.0fx%.0f) after %s",
			ErrNotInteractive, node, last.Visible, last.Disabled, last.Width, last.Height, timeout)
	}
	return err
}

// WaitForReadyState polls document.readyState until it reaches want.
// "complete" also satisfies "interactive".
func (r *Resolver) WaitForReadyState(ctx context.Context, p page.Page, want page.ReadyState, timeout time.Duration) error {
	var last page.ReadyState
	err := r.poll(ctx, timeout, func(pctx context.Context) (bool, error) {
		state, err := p.ReadyState(pctx)
		if err != nil {
			if page.IsGone(err) || ctx.Err() != nil {
				return false, err
			}
			// Navigation in flight tears down the execution context; keep polling.
			r.logger.Debug("Ready state probe failed", zap.Error(err))
			return false, nil
		}
		last = state
		return readyStateReached(state, want), nil
	})
	if errors.Is(err, errPollTimeout) {
		return fmt.Errorf("%w: wanted %q, last %q after %s", ErrReadyStateTimeout, want, last, timeout)
	}
	return err
}

func readyStateReached(state, want page.ReadyState) bool {
	switch want {
	case page.ReadyInteractive:
		return state == page.ReadyInteractive || state == page.ReadyComplete
	default:
		return state == want
	}
}

// poll runs probe immediately and then once per interval. Each probe is bounded
// by the overall deadline so a hung host call cannot outlive the timeout.
func (r *Resolver) poll(ctx context.Context, timeout time.Duration, probe func(context.Context) (bool, error)) error {
	if timeout < 0 {
		timeout = 0
	}
	deadline := time.Now().Add(timeout)
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		pctx, cancel := context.WithDeadline(ctx, deadline)
		done, err := probe(pctx)
		cancel()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return errPollTimeout
			}
			return err
		}
		if done {
			return nil
		}
		if !time.Now().Before(deadline) {
			return errPollTimeout
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return errPollTimeout
		case <-ticker.C:
		}
	}
}
