package static

import (
	"context"
	"fmt"
	"strings"

	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/list91/SocketClicker/api/schemas"
	"github.com/list91/SocketClicker/internal/page"
)

// Node is a handle to an element of one loaded document.
type Node struct {
	n   *html.Node
	gen uint64
}

var _ page.Node = (*Node)(nil)

// String describes the node as tag#id.class.
func (n *Node) String() string { return describe(n.n) }

// XPath returns an absolute path to the node, anchored at the nearest id.
func (n *Node) XPath() string { return uniqueXPath(n.n) }

func describe(n *html.Node) string {
	if n == nil {
		return "<nil>"
	}
	var sb strings.Builder
	sb.WriteString(strings.ToLower(n.Data))
	if id := attr(n, "id"); id != "" {
		sb.WriteString("#" + id)
	}
	for _, class := range strings.Fields(attr(n, "class")) {
		sb.WriteString("." + class)
	}
	return sb.String()
}

// uniqueXPath builds an XPath for node, stopping at the first ancestor with an id.
func uniqueXPath(node *html.Node) string {
	var path []string
	for n := node; n != nil && n.Type != html.DocumentNode; n = n.Parent {
		if n.Type != html.ElementNode {
			continue
		}
		tag := strings.ToLower(n.Data)
		if id := attr(n, "id"); id != "" && !strings.Contains(id, "'") {
			path = append(path, fmt.Sprintf(`//*[@id='%s']`, id))
			break
		}
		index := 1
		for prev := n.PrevSibling; prev != nil; prev = prev.PrevSibling {
			if prev.Type == html.ElementNode && strings.EqualFold(prev.Data, tag) {
				index++
			}
		}
		path = append(path, fmt.Sprintf("%s[%d]", tag, index))
	}
	if len(path) == 0 {
		return "/"
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	xpath := strings.Join(path, "/")
	if !strings.HasPrefix(xpath, "//") {
		xpath = "/" + xpath
	}
	return xpath
}

// EvaluateLocator returns the first element matching loc in document order,
// or nil when nothing matches.
func (p *Page) EvaluateLocator(ctx context.Context, loc schemas.Locator) (page.Node, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, page.ErrPageClosed
	}
	if p.loading {
		return nil, nil
	}
	n, err := p.queryLocked(p.doc, loc)
	if err != nil || n == nil {
		return nil, err
	}
	return &Node{n: n, gen: p.gen}, nil
}

func (p *Page) queryLocked(scope *html.Node, loc schemas.Locator) (*html.Node, error) {
	switch loc.Strategy {
	case schemas.LocatorXPath, "":
		nodes, err := htmlquery.QueryAll(scope, loc.Expression)
		if err != nil {
			return nil, fmt.Errorf("evaluating xpath %q: %w", loc.Expression, err)
		}
		for _, n := range nodes {
			if n.Type == html.ElementNode {
				return n, nil
			}
		}
		return nil, nil
	case schemas.LocatorCSS:
		sel, err := cascadia.Compile(loc.Expression)
		if err != nil {
			return nil, fmt.Errorf("compiling selector %q: %w", loc.Expression, err)
		}
		return sel.MatchFirst(scope), nil
	default:
		return nil, fmt.Errorf("%w: locator strategy %q", page.ErrUnsupported, loc.Strategy)
	}
}

// elementLocked unwraps a handle, rejecting handles from other pages, from an
// earlier document, or to elements since removed from the tree.
func (p *Page) elementLocked(node page.Node) (*html.Node, error) {
	if p.closed {
		return nil, page.ErrPageClosed
	}
	sn, ok := node.(*Node)
	if !ok || sn == nil || sn.n == nil {
		return nil, fmt.Errorf("%w: handle %T does not belong to this page", page.ErrStaleNode, node)
	}
	if sn.gen != p.gen || !p.attachedLocked(sn.n) {
		return nil, fmt.Errorf("%w: %s", page.ErrStaleNode, sn)
	}
	return sn.n, nil
}

func (p *Page) attachedLocked(n *html.Node) bool {
	for c := n; c != nil; c = c.Parent {
		if c == p.doc {
			return true
		}
	}
	return false
}

// -- Attribute and tree helpers --

func tagOf(n *html.Node) string {
	if n == nil || n.Type != html.ElementNode {
		return ""
	}
	return strings.ToLower(n.Data)
}

func attr(n *html.Node, key string) string {
	if n == nil {
		return ""
	}
	return htmlquery.SelectAttr(n, key)
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			return true
		}
	}
	return false
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: strings.ToLower(key), Val: val})
}

func removeAttr(n *html.Node, key string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			return
		}
	}
}

func inputType(n *html.Node) string {
	if tagOf(n) != "input" {
		return ""
	}
	t := strings.ToLower(strings.TrimSpace(attr(n, "type")))
	if t == "" {
		return "text"
	}
	return t
}

func isCheckable(n *html.Node) bool {
	t := inputType(n)
	return t == "checkbox" || t == "radio"
}

// inlineStyle parses the style attribute into lower-cased declarations.
func inlineStyle(n *html.Node) map[string]string {
	decls := map[string]string{}
	for _, decl := range strings.Split(attr(n, "style"), ";") {
		k, v, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		v = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(v), "!important"))
		decls[strings.ToLower(strings.TrimSpace(k))] = strings.ToLower(v)
	}
	return decls
}

func elementChildren(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			out = append(out, c)
		}
	}
	return out
}

func closest(n *html.Node, tag string) *html.Node {
	for c := n; c != nil; c = c.Parent {
		if tagOf(c) == tag {
			return c
		}
	}
	return nil
}

func removeChildren(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
}

// documentIndex is the position of n in a depth-first walk of the document.
func documentIndex(root, target *html.Node) int {
	i := 0
	found := -1
	var walk func(*html.Node) bool
	walk = func(n *html.Node) bool {
		if n == target {
			found = i
			return true
		}
		if n.Type == html.ElementNode {
			i++
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if walk(c) {
				return true
			}
		}
		return false
	}
	walk(root)
	return found
}
