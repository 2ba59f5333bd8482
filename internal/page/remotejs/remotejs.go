// Package remotejs holds the function declarations the browser-backed page
// hosts call on element handles, and the envelope they answer with. Each
// function runs with `this` bound to the element.
package remotejs

import (
	"fmt"
	"strings"

	json "github.com/json-iterator/go"

	"github.com/list91/SocketClicker/api/schemas"
	"github.com/list91/SocketClicker/internal/page"
)

// Reply is what every element function returns.
type Reply struct {
	Stale       bool            `json:"stale"`
	Unsupported bool            `json:"unsupported"`
	NotCanceled bool            `json:"notCanceled"`
	Value       json.RawMessage `json:"value"`
}

// Err converts the reply flags into the page package's errors.
func (r Reply) Err(node page.Node, op string) error {
	switch {
	case r.Stale:
		return fmt.Errorf("%w: %s", page.ErrStaleNode, node)
	case r.Unsupported:
		return fmt.Errorf("%w: %s on %s", page.ErrUnsupported, op, node)
	}
	return nil
}

// Classify maps DevTools protocol failures onto the page package's errors.
// Errors it does not recognize are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "Could not find object with given id"),
		strings.Contains(msg, "Cannot find context with specified id"),
		strings.Contains(msg, "Execution context was destroyed"):
		return fmt.Errorf("%w: %v", page.ErrStaleNode, err)
	case strings.Contains(msg, "Target closed"),
		strings.Contains(msg, "No target with given id"),
		strings.Contains(msg, "Session with given id not found"):
		return fmt.Errorf("%w: %v", page.ErrPageClosed, err)
	}
	return err
}

// Decode parses raw into a Reply.
func Decode(raw []byte) (Reply, error) {
	var r Reply
	if len(raw) == 0 {
		return r, fmt.Errorf("empty reply from page")
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		return r, fmt.Errorf("decoding page reply: %w", err)
	}
	return r, nil
}

// DecodeValue parses a JSON result into plain Go data. Empty input is nil.
func DecodeValue(raw []byte) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decoding script result: %w", err)
	}
	return v, nil
}

// LocatorExpression returns an expression evaluating to the first element
// matching loc, or null.
func LocatorExpression(loc schemas.Locator) (string, error) {
	expr, err := json.MarshalToString(loc.Expression)
	if err != nil {
		return "", err
	}
	switch loc.Strategy {
	case schemas.LocatorXPath, "":
		return fmt.Sprintf(`(function (expr) {
	const node = document.evaluate(expr, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
	return node && node.nodeType === Node.ELEMENT_NODE ? node : null;
})(%s)`, expr), nil
	case schemas.LocatorCSS:
		return fmt.Sprintf(`document.querySelector(%s)`, expr), nil
	default:
		return "", fmt.Errorf("%w: locator strategy %q", page.ErrUnsupported, loc.Strategy)
	}
}

// ScriptExpression wraps a function body so that evaluating it yields the
// body's return value.
func ScriptExpression(body string) string {
	return "(function () {\n" + body + "\n})()"
}

// ScrollExpression scrolls the window to or by (x, y).
func ScrollExpression(x, y float64, absolute bool) string {
	fn := "scrollBy"
	if absolute {
		fn = "scrollTo"
	}
	return fmt.Sprintf("window.%s(%g, %g)", fn, x, y)
}

// DescribeFunc returns tag#id.class for the element.
const DescribeFunc = `function () {
	let s = this.tagName ? this.tagName.toLowerCase() : String(this.nodeName).toLowerCase();
	if (this.id) s += "#" + this.id;
	if (this.classList) for (const c of this.classList) s += "." + c;
	return s;
}`

// DispatchEventFunc fires an event built with the named constructor.
const DispatchEventFunc = `function (type, iface, bubbles, cancelable) {
	if (!this.isConnected) return {stale: true};
	const Ctor = (typeof window[iface] === "function") ? window[iface] : Event;
	const init = {bubbles: bubbles, cancelable: cancelable, composed: true};
	if (Ctor !== Event) init.view = window;
	return {notCanceled: this.dispatchEvent(new Ctor(type, init))};
}`

// VisibilityFunc computes the actionability of the element.
const VisibilityFunc = `function () {
	if (!this.isConnected) return {stale: true};
	const style = window.getComputedStyle(this);
	const rect = this.getBoundingClientRect();
	const visible = style.display !== "none" && style.visibility !== "hidden" &&
		style.visibility !== "collapse" && this.getClientRects().length > 0;
	const disabled = (typeof this.matches === "function" && this.matches(":disabled")) ||
		this.getAttribute("aria-disabled") === "true";
	return {value: {visible: visible, disabled: disabled, width: rect.width, height: rect.height}};
}`

// ReadPropertyFunc reads this[name]. Non-serializable values become strings.
const ReadPropertyFunc = `function (name) {
	if (!this.isConnected) return {stale: true};
	const v = this[name];
	if (v === undefined || v === null) return {value: null};
	if (typeof v === "object" || typeof v === "function") return {value: String(v)};
	return {value: v};
}`

// SetPropertyFunc assigns this[name].
const SetPropertyFunc = `function (name, value) {
	if (!this.isConnected) return {stale: true};
	this[name] = value;
	return {};
}`

// InvokeFunc calls this[method](...args).
const InvokeFunc = `function (method, args) {
	if (!this.isConnected) return {stale: true};
	if (typeof this[method] !== "function") return {unsupported: true};
	this[method].apply(this, args || []);
	return {};
}`

// Visibility decodes the value of a VisibilityFunc reply.
func Visibility(r Reply) (page.Visibility, error) {
	var v page.Visibility
	if err := json.Unmarshal(r.Value, &v); err != nil {
		return v, fmt.Errorf("decoding visibility: %w", err)
	}
	return v, nil
}
