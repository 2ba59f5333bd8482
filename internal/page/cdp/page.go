// Package cdp hosts pages in Chrome through chromedp.
package cdp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/list91/SocketClicker/api/schemas"
	"github.com/list91/SocketClicker/internal/page"
	"github.com/list91/SocketClicker/internal/page/remotejs"
)

// terminateTimeout bounds the call that stops a runaway script.
const terminateTimeout = 2 * time.Second

// Node is a remote object handle to an element.
type Node struct {
	id   runtime.RemoteObjectID
	desc string
}

func (n *Node) String() string { return n.desc }

// Page drives one Chrome tab. tabCtx is the chromedp context of the tab; every
// call runs on a child of it bounded by the caller's context.
type Page struct {
	tabCtx context.Context
	logger *zap.Logger
}

var _ page.Page = (*Page)(nil)

// NewPage wraps a chromedp tab context.
func NewPage(tabCtx context.Context, logger *zap.Logger) (*Page, error) {
	if tabCtx == nil || chromedp.FromContext(tabCtx) == nil {
		return nil, errors.New("tab context must come from chromedp.NewContext")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Page{tabCtx: tabCtx, logger: logger.Named("cdp_page")}, nil
}

// run executes actions in the tab, canceled by either ctx or the tab.
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	if p.tabCtx.Err() != nil {
		return page.ErrPageClosed
	}
	runCtx, cancel := context.WithCancel(p.tabCtx)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var dcancel context.CancelFunc
		runCtx, dcancel = context.WithDeadline(runCtx, deadline)
		defer dcancel()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return p.translate(ctx, chromedp.Run(runCtx, actions...))
}

// translate maps protocol failures onto the page package's errors.
func (p *Page) translate(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if p.tabCtx.Err() != nil {
		return fmt.Errorf("%w: %v", page.ErrPageClosed, err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return remotejs.Classify(err)
}

func (p *Page) node(n page.Node) (*Node, error) {
	cn, ok := n.(*Node)
	if !ok || cn == nil || cn.id == "" {
		return nil, fmt.Errorf("%w: handle %T does not belong to this page", page.ErrStaleNode, n)
	}
	return cn, nil
}

// call runs fn on the element and decodes its reply envelope.
func (p *Page) call(ctx context.Context, n page.Node, op, fn string, args ...any) (remotejs.Reply, error) {
	cn, err := p.node(n)
	if err != nil {
		return remotejs.Reply{}, err
	}
	var raw []byte
	err = p.run(ctx, chromedp.CallFunctionOn(fn, &raw, func(params *runtime.CallFunctionOnParams) *runtime.CallFunctionOnParams {
		return params.WithObjectID(cn.id).WithReturnByValue(true).WithSilent(true)
	}, args...))
	if err != nil {
		return remotejs.Reply{}, fmt.Errorf("%s on %s: %w", op, cn, err)
	}
	reply, err := remotejs.Decode(raw)
	if err != nil {
		return reply, err
	}
	return reply, reply.Err(cn, op)
}

// EvaluateLocator resolves loc to a remote element handle.
func (p *Page) EvaluateLocator(ctx context.Context, loc schemas.Locator) (page.Node, error) {
	expr, err := remotejs.LocatorExpression(loc)
	if err != nil {
		return nil, err
	}
	var obj *runtime.RemoteObject
	if err := p.run(ctx, chromedp.Evaluate(expr, &obj)); err != nil {
		if errors.Is(err, page.ErrStaleNode) {
			// The document was replaced mid-evaluation; the next poll retries.
			return nil, nil
		}
		return nil, fmt.Errorf("evaluating %s: %w", loc, err)
	}
	if obj == nil || obj.ObjectID == "" || obj.Subtype == "null" {
		return nil, nil
	}
	n := &Node{id: obj.ObjectID, desc: obj.Description}
	var desc string
	if err := p.run(ctx, chromedp.CallFunctionOn(remotejs.DescribeFunc, &desc, func(params *runtime.CallFunctionOnParams) *runtime.CallFunctionOnParams {
		return params.WithObjectID(obj.ObjectID)
	})); err == nil && desc != "" {
		n.desc = desc
	}
	return n, nil
}

func (p *Page) DispatchEvent(ctx context.Context, n page.Node, ev page.Event) (bool, error) {
	reply, err := p.call(ctx, n, "dispatch "+ev.Type, remotejs.DispatchEventFunc, ev.Type, string(ev.Interface), ev.Bubbles, ev.Cancelable)
	if err != nil {
		return false, err
	}
	return reply.NotCanceled, nil
}

func (p *Page) GetComputedVisibility(ctx context.Context, n page.Node) (page.Visibility, error) {
	reply, err := p.call(ctx, n, "visibility", remotejs.VisibilityFunc)
	if err != nil {
		return page.Visibility{}, err
	}
	return remotejs.Visibility(reply)
}

func (p *Page) ReadProperty(ctx context.Context, n page.Node, name string) (any, error) {
	reply, err := p.call(ctx, n, "read "+name, remotejs.ReadPropertyFunc, name)
	if err != nil {
		return nil, err
	}
	return remotejs.DecodeValue(reply.Value)
}

func (p *Page) SetProperty(ctx context.Context, n page.Node, name string, value any) error {
	_, err := p.call(ctx, n, "set "+name, remotejs.SetPropertyFunc, name, value)
	return err
}

func (p *Page) Invoke(ctx context.Context, n page.Node, method string, args ...any) error {
	if args == nil {
		args = []any{}
	}
	_, err := p.call(ctx, n, method, remotejs.InvokeFunc, method, args)
	return err
}

// Navigate loads url in the tab and returns once the load event fired.
func (p *Page) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, chromedp.Navigate(url))
}

func (p *Page) ReadyState(ctx context.Context) (page.ReadyState, error) {
	var state string
	if err := p.run(ctx, chromedp.Evaluate("document.readyState", &state)); err != nil {
		if errors.Is(err, page.ErrStaleNode) {
			return page.ReadyLoading, nil
		}
		return "", err
	}
	return page.ReadyState(state), nil
}

// RunScript evaluates body as a function body and awaits a returned promise.
// A script still running at the deadline is terminated.
func (p *Page) RunScript(ctx context.Context, body string) (any, error) {
	var raw []byte
	err := p.run(ctx, chromedp.Evaluate(remotejs.ScriptExpression(body), &raw, func(params *runtime.EvaluateParams) *runtime.EvaluateParams {
		return params.WithAwaitPromise(true).WithUserGesture(true)
	}))
	if err != nil {
		if ctx.Err() != nil {
			p.terminate()
		}
		return nil, err
	}
	return remotejs.DecodeValue(raw)
}

func (p *Page) terminate() {
	tctx, cancel := context.WithTimeout(p.tabCtx, terminateTimeout)
	defer cancel()
	if err := chromedp.Run(tctx, runtime.TerminateExecution()); err != nil {
		p.logger.Debug("Failed to terminate script", zap.Error(err))
	}
}

func (p *Page) ScrollWindow(ctx context.Context, x, y float64, absolute bool) error {
	return p.run(ctx, chromedp.Evaluate(remotejs.ScrollExpression(x, y, absolute), nil))
}
