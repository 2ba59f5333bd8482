package static

import (
	"context"
	"fmt"

	"github.com/antchfx/htmlquery"
	"github.com/dop251/goja"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/list91/SocketClicker/internal/page"
)

// maxDispatchDepth bounds events dispatched from inside listeners.
const maxDispatchDepth = 16

// dispatch tracks one event while it travels the propagation path.
type dispatch struct {
	ev        page.Event
	target    *html.Node
	current   *html.Node
	prevented bool
	stopped   bool
	immediate bool
	// jsEvent is the object listeners receive, built on first use.
	jsEvent *goja.Object
}

func (d *dispatch) preventDefault() {
	if d.ev.Cancelable {
		d.prevented = true
	}
}

// DispatchEvent fires ev at node, runs listeners on the target and, for
// bubbling events, on every ancestor, then performs the default action unless
// a listener canceled it.
func (p *Page) DispatchEvent(ctx context.Context, node page.Node, ev page.Event) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := p.elementLocked(node)
	if err != nil {
		return false, err
	}
	return p.dispatchLocked(ctx, n, ev), nil
}

func (p *Page) dispatchLocked(ctx context.Context, target *html.Node, ev page.Event) bool {
	return p.runDispatchLocked(ctx, &dispatch{ev: ev, target: target})
}

func (p *Page) runDispatchLocked(ctx context.Context, d *dispatch) bool {
	ev, target := d.ev, d.target
	if p.dispatchDepth >= maxDispatchDepth {
		p.logger.Warn("Event dispatch nested too deeply, dropping", zap.String("type", ev.Type))
		return true
	}
	p.dispatchDepth++
	defer func() { p.dispatchDepth-- }()

	idx := len(p.events)
	p.events = append(p.events, EventRecord{Type: ev.Type, Target: describe(target), XPath: uniqueXPath(target)})

	path := []*html.Node{target}
	if ev.Bubbles {
		for c := target.Parent; c != nil; c = c.Parent {
			path = append(path, c)
		}
	}
	for _, n := range path {
		d.current = n
		p.js.runListeners(ctx, n, d)
		if d.stopped {
			break
		}
	}

	if idx < len(p.events) {
		p.events[idx].Canceled = d.prevented
	}
	if !d.prevented {
		p.defaultActionLocked(ctx, target, ev)
	}
	return !d.prevented
}

// defaultActionLocked performs the activation behavior of a click.
func (p *Page) defaultActionLocked(ctx context.Context, n *html.Node, ev page.Event) {
	if ev.Type != "click" || p.disabledLocked(n) {
		return
	}
	switch tagOf(n) {
	case "input":
		switch inputType(n) {
		case "checkbox":
			p.setCheckedLocked(n, !p.checkedLocked(n))
			p.fireChangeLocked(ctx, n)
		case "radio":
			if !p.checkedLocked(n) {
				p.setCheckedLocked(n, true)
				p.fireChangeLocked(ctx, n)
			}
		case "submit", "image":
			p.submitLocked(ctx, n)
		}
	case "button":
		if t := attr(n, "type"); t == "" || t == "submit" {
			p.submitLocked(ctx, n)
		}
	case "label":
		if control := p.labeledControlLocked(n); control != nil {
			p.dispatchLocked(ctx, control, page.MouseEvent("click"))
		}
	}
}

func (p *Page) fireChangeLocked(ctx context.Context, n *html.Node) {
	p.dispatchLocked(ctx, n, page.BubblingEvent("input"))
	p.dispatchLocked(ctx, n, page.BubblingEvent("change"))
}

// submitLocked fires submit at the owning form. The static host does not
// follow the form action.
func (p *Page) submitLocked(ctx context.Context, n *html.Node) {
	form := closest(n, "form")
	if form == nil {
		return
	}
	ev := page.BubblingEvent("submit")
	ev.Cancelable = true
	if p.dispatchLocked(ctx, form, ev) {
		p.logger.Debug("Form submitted", zap.String("form", describe(form)), zap.String("action", attr(form, "action")))
	}
}

// labeledControlLocked resolves the for attribute, else the first nested control.
func (p *Page) labeledControlLocked(label *html.Node) *html.Node {
	if id := attr(label, "for"); id != "" {
		for _, n := range htmlquery.Find(p.doc, "//*[@id]") {
			if attr(n, "id") == id {
				return labelable(n)
			}
		}
		return nil
	}
	var found *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil && found == nil; c = c.NextSibling {
			if labelable(c) != nil {
				found = c
				return
			}
			walk(c)
		}
	}
	walk(label)
	return found
}

func labelable(n *html.Node) *html.Node {
	switch tagOf(n) {
	case "button", "select", "textarea", "meter", "output", "progress":
		return n
	case "input":
		if inputType(n) != "hidden" {
			return n
		}
	}
	return nil
}

// Invoke calls an element method: click, focus, blur, scrollIntoView or submit.
func (p *Page) Invoke(ctx context.Context, node page.Node, method string, args ...any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := p.elementLocked(node)
	if err != nil {
		return err
	}
	return p.invokeLocked(ctx, n, method, args...)
}

func (p *Page) invokeLocked(ctx context.Context, n *html.Node, method string, args ...any) error {
	switch method {
	case "click":
		if disableable[tagOf(n)] && p.disabledLocked(n) {
			return nil
		}
		p.dispatchLocked(ctx, n, page.MouseEvent("click"))
	case "focus":
		p.focusLocked(ctx, n)
	case "blur":
		if p.focused == n {
			p.focused = nil
			p.dispatchLocked(ctx, n, page.FocusEvent("blur"))
		}
	case "scrollIntoView":
		p.scrollIntoViewLocked(n, args...)
	case "submit":
		if tagOf(n) != "form" {
			return fmt.Errorf("%w: submit on %s", page.ErrUnsupported, describe(n))
		}
		p.logger.Debug("Form submitted", zap.String("form", describe(n)), zap.String("action", attr(n, "action")))
	default:
		return fmt.Errorf("%w: method %q", page.ErrUnsupported, method)
	}
	return nil
}

func (p *Page) focusLocked(ctx context.Context, n *html.Node) {
	if p.focused == n || !focusable(n) || p.disabledLocked(n) {
		return
	}
	if prev := p.focused; prev != nil {
		p.focused = nil
		p.dispatchLocked(ctx, prev, page.FocusEvent("blur"))
	}
	p.focused = n
	p.dispatchLocked(ctx, n, page.FocusEvent("focus"))
}

func focusable(n *html.Node) bool {
	switch tagOf(n) {
	case "input", "select", "textarea", "button", "iframe", "summary":
		return inputType(n) != "hidden"
	case "a", "area":
		return hasAttr(n, "href")
	}
	return hasAttr(n, "tabindex") || hasAttr(n, "contenteditable")
}

// scrollIntoViewLocked places the element in the simulated layout, where each
// element occupies one row, and scrolls it to the requested block position.
func (p *Page) scrollIntoViewLocked(n *html.Node, args ...any) {
	top := float64(documentIndex(p.doc, n) * rowHeight)
	block := "start"
	if len(args) > 0 {
		switch opt := args[0].(type) {
		case map[string]any:
			if b, ok := opt["block"].(string); ok {
				block = b
			}
		case bool:
			if !opt {
				block = "end"
			}
		}
	}
	vh := p.opts.Viewport.Height
	switch block {
	case "center":
		top -= (vh - rowHeight) / 2
	case "end":
		top -= vh - rowHeight
	case "nearest":
		if top >= p.scrollY && top+rowHeight <= p.scrollY+vh {
			top = p.scrollY
		}
	}
	p.scrollWindowLocked(p.scrollX, top, true)
}
