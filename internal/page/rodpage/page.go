// Package rodpage hosts pages in Chrome through go-rod.
package rodpage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/list91/SocketClicker/api/schemas"
	"github.com/list91/SocketClicker/internal/page"
	"github.com/list91/SocketClicker/internal/page/remotejs"
)

const terminateTimeout = 2 * time.Second

// Node wraps a rod element handle.
type Node struct {
	el   *rod.Element
	desc string
}

func (n *Node) String() string { return n.desc }

// Page drives one rod page.
type Page struct {
	page   *rod.Page
	logger *zap.Logger
}

var _ page.Page = (*Page)(nil)

// NewPage wraps p.
func NewPage(p *rod.Page, logger *zap.Logger) (*Page, error) {
	if p == nil {
		return nil, errors.New("rod page cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Page{page: p, logger: logger.Named("rod_page")}, nil
}

func (p *Page) translate(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return remotejs.Classify(err)
}

// eval evaluates a function declaration in the page.
func (p *Page) eval(ctx context.Context, opts *rod.EvalOptions) (*proto.RuntimeRemoteObject, error) {
	obj, err := p.page.Context(ctx).Evaluate(opts)
	return obj, p.translate(ctx, err)
}

func (p *Page) node(n page.Node) (*Node, error) {
	rn, ok := n.(*Node)
	if !ok || rn == nil || rn.el == nil {
		return nil, fmt.Errorf("%w: handle %T does not belong to this page", page.ErrStaleNode, n)
	}
	return rn, nil
}

// call runs fn with this bound to the element and decodes its reply.
func (p *Page) call(ctx context.Context, n page.Node, op, fn string, args ...any) (remotejs.Reply, error) {
	rn, err := p.node(n)
	if err != nil {
		return remotejs.Reply{}, err
	}
	obj, err := rn.el.Context(ctx).Evaluate(rod.Eval(fn, args...))
	if err = p.translate(ctx, err); err != nil {
		return remotejs.Reply{}, fmt.Errorf("%s on %s: %w", op, rn, err)
	}
	raw, err := obj.Value.MarshalJSON()
	if err != nil {
		return remotejs.Reply{}, fmt.Errorf("%s on %s: %w", op, rn, err)
	}
	reply, err := remotejs.Decode(raw)
	if err != nil {
		return reply, err
	}
	return reply, reply.Err(rn, op)
}

func (p *Page) EvaluateLocator(ctx context.Context, loc schemas.Locator) (page.Node, error) {
	expr, err := remotejs.LocatorExpression(loc)
	if err != nil {
		return nil, err
	}
	obj, err := p.eval(ctx, rod.Eval("function () { return "+expr+"; }").ByObject())
	if err != nil {
		if errors.Is(err, page.ErrStaleNode) {
			return nil, nil
		}
		return nil, fmt.Errorf("evaluating %s: %w", loc, err)
	}
	if obj == nil || obj.ObjectID == "" || obj.Subtype == proto.RuntimeRemoteObjectSubtypeNull {
		return nil, nil
	}
	el, err := p.page.ElementFromObject(obj)
	if err != nil {
		return nil, fmt.Errorf("evaluating %s: %w", loc, p.translate(ctx, err))
	}
	n := &Node{el: el, desc: obj.Description}
	if d, err := el.Context(ctx).Eval(remotejs.DescribeFunc); err == nil && d.Value.Str() != "" {
		n.desc = d.Value.Str()
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

// Navigate loads url and waits for the load event.
func (p *Page) Navigate(ctx context.Context, url string) error {
	pg := p.page.Context(ctx)
	if err := pg.Navigate(url); err != nil {
		return p.translate(ctx, err)
	}
	return p.translate(ctx, pg.WaitLoad())
}

func (p *Page) ReadyState(ctx context.Context) (page.ReadyState, error) {
	obj, err := p.eval(ctx, rod.Eval("function () { return document.readyState; }"))
	if err != nil {
		if errors.Is(err, page.ErrStaleNode) {
			return page.ReadyLoading, nil
		}
		return "", err
	}
	return page.ReadyState(obj.Value.Str()), nil
}

// RunScript evaluates body as a function body and awaits a returned promise.
func (p *Page) RunScript(ctx context.Context, body string) (any, error) {
	obj, err := p.eval(ctx, rod.Eval("function () {\n"+body+"\n}").ByPromise().ByUser())
	if err != nil {
		if ctx.Err() != nil {
			p.terminate()
		}
		return nil, err
	}
	raw, err := obj.Value.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("decoding script result: %w", err)
	}
	return remotejs.DecodeValue(raw)
}

func (p *Page) terminate() {
	tctx, cancel := context.WithTimeout(context.Background(), terminateTimeout)
	defer cancel()
	if err := (proto.RuntimeTerminateExecution{}).Call(p.page.Context(tctx)); err != nil {
		p.logger.Debug("Failed to terminate script", zap.Error(err))
	}
}

func (p *Page) ScrollWindow(ctx context.Context, x, y float64, absolute bool) error {
	_, err := p.eval(ctx, rod.Eval("function () { "+remotejs.ScrollExpression(x, y, absolute)+"; }"))
	return err
}
