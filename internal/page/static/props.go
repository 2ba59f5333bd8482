package static

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/list91/SocketClicker/internal/page"
)

// Default box of a rendered element without an explicit inline size.
const (
	defaultWidth  = 100
	defaultHeight = 20
	// rowHeight is the simulated vertical distance between consecutive elements.
	rowHeight = 20
)

// nonRendered elements never produce a box.
var nonRendered = map[string]bool{
	"head": true, "script": true, "style": true, "template": true,
	"title": true, "meta": true, "link": true, "noscript": true,
}

// disableable elements honor the disabled attribute.
var disableable = map[string]bool{
	"button": true, "input": true, "select": true, "textarea": true,
	"option": true, "optgroup": true, "fieldset": true,
}

// ReadProperty reads a DOM property. Unknown names fall back to expando
// properties set earlier, then to the attribute of the same name, then nil.
func (p *Page) ReadProperty(ctx context.Context, node page.Node, name string) (any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := p.elementLocked(node)
	if err != nil {
		return nil, err
	}
	return p.readPropertyLocked(n, name), nil
}

func (p *Page) readPropertyLocked(n *html.Node, name string) any {
	switch name {
	case "tagName", "nodeName":
		return strings.ToUpper(n.Data)
	case "id":
		return attr(n, "id")
	case "className":
		return attr(n, "class")
	case "textContent":
		return htmlquery.InnerText(n)
	case "innerText":
		if !p.renderedLocked(n) {
			return ""
		}
		return strings.TrimSpace(htmlquery.InnerText(n))
	case "innerHTML":
		var sb strings.Builder
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			html.Render(&sb, c)
		}
		return sb.String()
	case "outerHTML":
		return htmlquery.OutputHTML(n, true)
	case "isConnected":
		return p.attachedLocked(n)
	}

	tag := tagOf(n)
	switch name {
	case "value":
		if v, ok := p.valueLocked(n); ok {
			return v
		}
	case "checked":
		if tag == "input" {
			return p.checkedLocked(n)
		}
	case "disabled":
		if disableable[tag] {
			return hasAttr(n, "disabled")
		}
	case "selectedIndex":
		if tag == "select" {
			opt := p.selectedOptionLocked(n)
			for i, o := range options(n) {
				if o == opt {
					return float64(i)
				}
			}
			return float64(-1)
		}
	}

	if props, ok := p.expando[n]; ok {
		if v, ok := props[name]; ok {
			return v
		}
	}
	if hasAttr(n, name) {
		return attr(n, name)
	}
	return nil
}

// valueLocked implements the value property of form controls.
func (p *Page) valueLocked(n *html.Node) (string, bool) {
	switch tagOf(n) {
	case "input":
		if v, ok := p.values[n]; ok {
			return v, true
		}
		if !hasAttr(n, "value") && isCheckable(n) {
			return "on", true
		}
		return attr(n, "value"), true
	case "textarea":
		if v, ok := p.values[n]; ok {
			return v, true
		}
		return htmlquery.InnerText(n), true
	case "select":
		opt := p.selectedOptionLocked(n)
		if opt == nil {
			return "", true
		}
		return optionValue(opt), true
	case "option":
		return optionValue(n), true
	case "button", "output", "data", "li", "param", "meter", "progress":
		return attr(n, "value"), true
	}
	return "", false
}

func (p *Page) checkedLocked(n *html.Node) bool {
	if v, ok := p.checked[n]; ok {
		return v
	}
	return hasAttr(n, "checked")
}

func options(sel *html.Node) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			switch tagOf(c) {
			case "option":
				out = append(out, c)
			case "optgroup":
				walk(c)
			}
		}
	}
	walk(sel)
	return out
}

func optionValue(opt *html.Node) string {
	if hasAttr(opt, "value") {
		return attr(opt, "value")
	}
	return strings.Join(strings.Fields(htmlquery.InnerText(opt)), " ")
}

// selectedOptionLocked follows an explicit selection first, then the last
// option marked selected, then the first option.
func (p *Page) selectedOptionLocked(sel *html.Node) *html.Node {
	if opt, ok := p.selected[sel]; ok {
		return opt
	}
	opts := options(sel)
	var marked *html.Node
	for _, o := range opts {
		if hasAttr(o, "selected") {
			marked = o
		}
	}
	if marked != nil {
		return marked
	}
	if len(opts) > 0 && !hasAttr(sel, "multiple") {
		return opts[0]
	}
	return nil
}

// SetProperty writes a DOM property with browser semantics for form state.
func (p *Page) SetProperty(ctx context.Context, node page.Node, name string, value any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := p.elementLocked(node)
	if err != nil {
		return err
	}
	return p.setPropertyLocked(n, name, value)
}

func (p *Page) setPropertyLocked(n *html.Node, name string, value any) error {
	tag := tagOf(n)
	switch name {
	case "value":
		s := stringify(value)
		switch tag {
		case "input", "textarea":
			p.values[n] = s
			return nil
		case "select":
			p.selected[n] = nil
			for _, o := range options(n) {
				if optionValue(o) == s {
					p.selected[n] = o
					break
				}
			}
			return nil
		case "option", "button", "output", "data", "li", "param", "meter", "progress":
			setAttr(n, "value", s)
			return nil
		}
	case "checked":
		if tag == "input" {
			p.setCheckedLocked(n, truthy(value))
			return nil
		}
	case "disabled":
		if disableable[tag] {
			if truthy(value) {
				setAttr(n, "disabled", "")
			} else {
				removeAttr(n, "disabled")
			}
			return nil
		}
	case "selectedIndex":
		if tag == "select" {
			idx, err := strconv.Atoi(stringify(value))
			if err != nil {
				return fmt.Errorf("selectedIndex must be an integer: %w", err)
			}
			p.selected[n] = nil
			if opts := options(n); idx >= 0 && idx < len(opts) {
				p.selected[n] = opts[idx]
			}
			return nil
		}
	case "id":
		setAttr(n, "id", stringify(value))
		return nil
	case "className":
		setAttr(n, "class", stringify(value))
		return nil
	case "textContent", "innerText":
		removeChildren(n)
		if s := stringify(value); s != "" {
			n.AppendChild(&html.Node{Type: html.TextNode, Data: s})
		}
		return nil
	case "innerHTML":
		nodes, err := html.ParseFragment(strings.NewReader(stringify(value)), n)
		if err != nil {
			return fmt.Errorf("parsing innerHTML: %w", err)
		}
		removeChildren(n)
		for _, c := range nodes {
			n.AppendChild(c)
		}
		return nil
	case "tagName", "nodeName", "outerHTML", "isConnected":
		return fmt.Errorf("%w: %s is read-only", page.ErrUnsupported, name)
	}

	props := p.expando[n]
	if props == nil {
		props = make(map[string]any)
		p.expando[n] = props
	}
	props[name] = value
	return nil
}

// setCheckedLocked sets checkedness; checking a radio unchecks the rest of its group.
func (p *Page) setCheckedLocked(n *html.Node, on bool) {
	p.checked[n] = on
	if !on || inputType(n) != "radio" || attr(n, "name") == "" {
		return
	}
	scope := closest(n, "form")
	if scope == nil {
		scope = p.doc
	}
	for _, other := range htmlquery.Find(scope, "//input") {
		if other != n && inputType(other) == "radio" && attr(other, "name") == attr(n, "name") && closest(other, "form") == closest(n, "form") {
			p.checked[other] = false
		}
	}
}

// GetComputedVisibility approximates layout from the markup: display:none,
// visibility:hidden and the hidden attribute hide a subtree, inline width and
// height in px set the box, and every other rendered element gets a default box.
func (p *Page) GetComputedVisibility(ctx context.Context, node page.Node) (page.Visibility, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := p.elementLocked(node)
	if err != nil {
		return page.Visibility{}, err
	}
	v := page.Visibility{Disabled: p.disabledLocked(n)}
	if !p.renderedLocked(n) {
		return v, nil
	}
	style := inlineStyle(n)
	v.Visible = style["visibility"] != "hidden" && style["visibility"] != "collapse"
	for c := n.Parent; c != nil && v.Visible; c = c.Parent {
		if c.Type == html.ElementNode && inlineStyle(c)["visibility"] == "hidden" {
			v.Visible = false
		}
	}
	v.Width = cssPixels(style["width"], defaultWidth)
	v.Height = cssPixels(style["height"], defaultHeight)
	if !v.Visible {
		v.Width, v.Height = 0, 0
	}
	return v, nil
}

// renderedLocked reports whether n produces a layout box.
func (p *Page) renderedLocked(n *html.Node) bool {
	if inputType(n) == "hidden" {
		return false
	}
	for c := n; c != nil; c = c.Parent {
		if c.Type != html.ElementNode {
			continue
		}
		if nonRendered[tagOf(c)] || hasAttr(c, "hidden") || inlineStyle(c)["display"] == "none" {
			return false
		}
	}
	return true
}

// disabledLocked covers the disabled attribute and disabled fieldsets.
func (p *Page) disabledLocked(n *html.Node) bool {
	tag := tagOf(n)
	if !disableable[tag] {
		return strings.EqualFold(attr(n, "aria-disabled"), "true")
	}
	if hasAttr(n, "disabled") {
		return true
	}
	for c := n.Parent; c != nil; c = c.Parent {
		if tagOf(c) == "fieldset" && hasAttr(c, "disabled") {
			// Controls inside the first legend stay enabled.
			if legend := firstChildTag(c, "legend"); legend != nil && isAncestor(legend, n) {
				continue
			}
			return true
		}
	}
	return false
}

func firstChildTag(n *html.Node, tag string) *html.Node {
	for _, c := range elementChildren(n) {
		if tagOf(c) == tag {
			return c
		}
	}
	return nil
}

func isAncestor(anc, n *html.Node) bool {
	for c := n.Parent; c != nil; c = c.Parent {
		if c == anc {
			return true
		}
	}
	return false
}

func cssPixels(v string, fallback float64) float64 {
	v = strings.TrimSpace(v)
	if v == "" || v == "auto" {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSuffix(v, "px"), 64)
	if err != nil || f < 0 {
		return fallback
	}
	return f
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	default:
		return true
	}
}
