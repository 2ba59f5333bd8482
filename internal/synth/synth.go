// Package synth produces the DOM event sequences that emulate user interaction
// on an already-resolved element. It never waits; waiting belongs to the
// locator package.
package synth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/list91/SocketClicker/internal/page"
)

// ErrOptionNotFound is returned when a select element rejects the requested value.
var ErrOptionNotFound = errors.New("select has no option with that value")

// clickSequence is dispatched in order for every synthesized click.
var clickSequence = []string{"mouseover", "mousedown", "mouseup", "click"}

// activatingTags already run their built-in activation behavior on a dispatched
// click, so the native click() fallback would activate them twice.
var activatingTags = map[string]bool{
	"a":        true,
	"button":   true,
	"input":    true,
	"label":    true,
	"option":   true,
	"select":   true,
	"summary":  true,
	"textarea": true,
}

// Options tunes the synthesizer.
type Options struct {
	// NativeClickFallback calls element.click() after the synthetic sequence for
	// elements without built-in activation.
	NativeClickFallback bool
}

// Synthesizer dispatches synthetic interaction events through a page.Page.
type Synthesizer struct {
	opts   Options
	logger *zap.Logger
}

// New creates a Synthesizer.
func New(opts Options, logger *zap.Logger) *Synthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synthesizer{opts: opts, logger: logger.Named("synth")}
}

// Click dispatches mouseover, mousedown, mouseup and click (each bubbling and
// cancelable), then falls back to the native click() when the click was not
// canceled and the element has no built-in activation.
func (s *Synthesizer) Click(ctx context.Context, p page.Page, node page.Node) error {
	notCanceled := true
	for _, typ := range clickSequence {
		ok, err := p.DispatchEvent(ctx, node, page.MouseEvent(typ))
		if err != nil {
			return fmt.Errorf("dispatching %s on %s: %w", typ, node, err)
		}
		if typ == "click" {
			notCanceled = ok
		}
	}

	if !s.opts.NativeClickFallback || !notCanceled {
		return nil
	}
	tag, err := TagName(ctx, p, node)
	if err != nil {
		return err
	}
	if activatingTags[tag] {
		return nil
	}
	s.logger.Debug("Invoking native click fallback", zap.Stringer("node", node), zap.String("tag", tag))
	if err := p.Invoke(ctx, node, "click"); err != nil {
		return fmt.Errorf("native click on %s: %w", node, err)
	}
	return nil
}

// Input focuses the element, clears it, sets text and dispatches input and
// change. An empty text just clears the field.
func (s *Synthesizer) Input(ctx context.Context, p page.Page, node page.Node, text string) error {
	if err := p.Invoke(ctx, node, "focus"); err != nil {
		return fmt.Errorf("focusing %s: %w", node, err)
	}
	if err := p.SetProperty(ctx, node, "value", ""); err != nil {
		return fmt.Errorf("clearing %s: %w", node, err)
	}
	if text != "" {
		if err := p.SetProperty(ctx, node, "value", text); err != nil {
			return fmt.Errorf("setting value of %s: %w", node, err)
		}
	}
	for _, typ := range []string{"input", "change"} {
		if _, err := p.DispatchEvent(ctx, node, page.BubblingEvent(typ)); err != nil {
			return fmt.Errorf("dispatching %s on %s: %w", typ, node, err)
		}
	}
	return nil
}

// Checkbox clicks the element only when its checked state differs from
// desired. It reports whether a click was synthesized.
func (s *Synthesizer) Checkbox(ctx context.Context, p page.Page, node page.Node, desired bool) (bool, error) {
	current, err := Checked(ctx, p, node)
	if err != nil {
		return false, err
	}
	if current == desired {
		s.logger.Debug("Checkbox already in desired state", zap.Stringer("node", node), zap.Bool("checked", current))
		return false, nil
	}
	if err := s.Click(ctx, p, node); err != nil {
		return false, err
	}
	return true, nil
}

// Select sets the element's value and dispatches change. The value is read
// back so a missing option is reported instead of silently clearing the select.
func (s *Synthesizer) Select(ctx context.Context, p page.Page, node page.Node, value string) error {
	if err := p.SetProperty(ctx, node, "value", value); err != nil {
		return fmt.Errorf("setting value of %s: %w", node, err)
	}
	got, err := p.ReadProperty(ctx, node, "value")
	if err != nil {
		return fmt.Errorf("reading value of %s: %w", node, err)
	}
	if fmt.Sprint(got) != value {
		return fmt.Errorf("%w: %q on %s", ErrOptionNotFound, value, node)
	}
	if _, err := p.DispatchEvent(ctx, node, page.BubblingEvent("change")); err != nil {
		return fmt.Errorf("dispatching change on %s: %w", node, err)
	}
	return nil
}

// ScrollIntoView smoothly centers the element in the viewport.
func (s *Synthesizer) ScrollIntoView(ctx context.Context, p page.Page, node page.Node) error {
	opts := map[string]any{"behavior": "smooth", "block": "center", "inline": "nearest"}
	if err := p.Invoke(ctx, node, "scrollIntoView", opts); err != nil {
		return fmt.Errorf("scrolling %s into view: %w", node, err)
	}
	return nil
}

// ScrollWindow scrolls the viewport to (x, y) when absolute, or by (x, y).
func (s *Synthesizer) ScrollWindow(ctx context.Context, p page.Page, x, y float64, absolute bool) error {
	if err := p.ScrollWindow(ctx, x, y, absolute); err != nil {
		return fmt.Errorf("scrolling window: %w", err)
	}
	return nil
}

// TagName returns the lower-cased tag of node.
func TagName(ctx context.Context, p page.Page, node page.Node) (string, error) {
	v, err := p.ReadProperty(ctx, node, "tagName")
	if err != nil {
		return "", fmt.Errorf("reading tag of %s: %w", node, err)
	}
	s, _ := v.(string)
	return strings.ToLower(s), nil
}

// Checked returns the boolean checked state of node.
func Checked(ctx context.Context, p page.Page, node page.Node) (bool, error) {
	v, err := p.ReadProperty(ctx, node, "checked")
	if err != nil {
		return false, fmt.Errorf("reading checked state of %s: %w", node, err)
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%s has no boolean checked property (got %T)", node, v)
	}
	return b, nil
}
