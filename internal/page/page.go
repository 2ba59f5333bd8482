// Package page defines the capability surface the execution engine uses to talk
// to a live document. Hosts (chromedp, rod, the in-memory DOM) implement Page;
// the engine never reaches past it.
package page

import (
	"context"
	"errors"

	"github.com/list91/SocketClicker/api/schemas"
)

var (
	// ErrPageClosed is returned when the target page or tab went away mid-call.
	ErrPageClosed = errors.New("page closed")
	// ErrNoActivePage is returned by a Provider that has no page to hand out.
	ErrNoActivePage = errors.New("no active page")
	// ErrStaleNode is returned when a node handle no longer belongs to the current document.
	ErrStaleNode = errors.New("node is no longer attached to the document")
	// ErrUnsupported is returned for operations a host cannot perform.
	ErrUnsupported = errors.New("operation not supported by page host")
)

// Node is an opaque handle to a DOM element owned by a Page host.
type Node interface {
	// String describes the node for logs, e.g. "button#submit".
	String() string
}

// ReadyState mirrors document.readyState.
type ReadyState string

const (
	ReadyLoading     ReadyState = "loading"
	ReadyInteractive ReadyState = "interactive"
	ReadyComplete    ReadyState = "complete"
)

// Visibility is the computed actionability of a node.
type Visibility struct {
	Visible  bool    `json:"visible"`
	Disabled bool    `json:"disabled"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
}

// Interactive reports whether a user could act on the node right now.
func (v Visibility) Interactive() bool {
	return v.Visible && !v.Disabled && v.Width > 0 && v.Height > 0
}

// EventInterface names the DOM event constructor used to build an Event.
type EventInterface string

const (
	InterfaceEvent      EventInterface = "Event"
	InterfaceMouseEvent EventInterface = "MouseEvent"
	InterfaceFocusEvent EventInterface = "FocusEvent"
)

// Event describes a synthetic DOM event.
type Event struct {
	Type       string         `json:"type"`
	Interface  EventInterface `json:"interface"`
	Bubbles    bool           `json:"bubbles"`
	Cancelable bool           `json:"cancelable"`
}

// MouseEvent builds a bubbling, cancelable mouse event.
func MouseEvent(typ string) Event {
	return Event{Type: typ, Interface: InterfaceMouseEvent, Bubbles: true, Cancelable: true}
}

// BubblingEvent builds a plain bubbling event such as input or change.
func BubblingEvent(typ string) Event {
	return Event{Type: typ, Interface: InterfaceEvent, Bubbles: true}
}

// FocusEvent builds a non-bubbling focus event.
func FocusEvent(typ string) Event {
	return Event{Type: typ, Interface: InterfaceFocusEvent}
}

// Page is the capability surface of one live document.
//
// EvaluateLocator returns (nil, nil) when the locator matches nothing; an error
// means the expression itself could not be evaluated. Every method returns
// ErrPageClosed once the underlying target is gone.
type Page interface {
	EvaluateLocator(ctx context.Context, loc schemas.Locator) (Node, error)
	// DispatchEvent fires ev at node and reports whether it was not canceled.
	DispatchEvent(ctx context.Context, node Node, ev Event) (bool, error)
	GetComputedVisibility(ctx context.Context, node Node) (Visibility, error)
	ReadProperty(ctx context.Context, node Node, name string) (any, error)
	SetProperty(ctx context.Context, node Node, name string, value any) error
	// Invoke calls a method on the element, e.g. click, focus or scrollIntoView.
	Invoke(ctx context.Context, node Node, method string, args ...any) error
	Navigate(ctx context.Context, url string) error
	ReadyState(ctx context.Context) (ReadyState, error)
	// RunScript evaluates body as a function body in the page and returns its
	// (awaited) result.
	RunScript(ctx context.Context, body string) (any, error)
	// ScrollWindow scrolls the viewport to (x, y) when absolute, or by (x, y) otherwise.
	ScrollWindow(ctx context.Context, x, y float64, absolute bool) error
}

// Provider hands out the page commands should run against.
type Provider interface {
	ActivePage(ctx context.Context) (Page, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context) (Page, error)

// ActivePage calls f.
func (f ProviderFunc) ActivePage(ctx context.Context) (Page, error) { return f(ctx) }

// Fixed returns a Provider that always yields p.
func Fixed(p Page) Provider {
	return ProviderFunc(func(context.Context) (Page, error) {
		if p == nil {
			return nil, ErrNoActivePage
		}
		return p, nil
	})
}

// IsGone reports whether err means the page can no longer be driven.
func IsGone(err error) bool {
	return errors.Is(err, ErrPageClosed) || errors.Is(err, ErrNoActivePage)
}
