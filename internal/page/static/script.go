package static

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"github.com/dop251/goja"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/list91/SocketClicker/internal/page"
)

const (
	// defaultScriptTimeout bounds inline scripts when the caller set no deadline.
	defaultScriptTimeout = 30 * time.Second
	// maxTimerRuns bounds one drain of the timer queue.
	maxTimerRuns = 1000
)

// eventPrelude defines the event constructors scripts use with dispatchEvent.
const eventPrelude = `(function (g) {
	function Event(type, init) {
		init = init || {};
		this.type = String(type);
		this.bubbles = !!init.bubbles;
		this.cancelable = !!init.cancelable;
	}
	function derive(name) {
		var ctor = function (type, init) { Event.call(this, type, init); if (init && "detail" in init) { this.detail = init.detail; } };
		ctor.prototype = Object.create(Event.prototype);
		ctor.prototype.constructor = ctor;
		g[name] = ctor;
	}
	g.Event = Event;
	derive("CustomEvent");
	derive("MouseEvent");
	derive("FocusEvent");
	derive("KeyboardEvent");
	derive("InputEvent");
})(this);`

type timer struct {
	id    int64
	seq   int64
	delay int64
	fn    goja.Callable
	args  []goja.Value
}

// runtime is the goja VM bound to one document. It is only touched with the
// page mutex held, and bindings call the page's locked helpers directly.
type runtime struct {
	p      *Page
	vm     *goja.Runtime
	logger *zap.Logger

	// Identity map so the same element always yields the same JS object.
	wrappers map[*html.Node]*goja.Object
	nodes    map[*goja.Object]*html.Node
	handlers map[string]goja.Callable

	timers    []timer
	timerSeq  int64
	cleared   map[int64]bool
	intervals int64

	depth int
	ctx   context.Context
}

func newRuntime(p *Page) *runtime {
	r := &runtime{
		p:        p,
		vm:       goja.New(),
		logger:   p.logger.Named("js"),
		wrappers: make(map[*html.Node]*goja.Object),
		nodes:    make(map[*goja.Object]*html.Node),
		handlers: make(map[string]goja.Callable),
		cleared:  make(map[int64]bool),
	}
	if _, err := r.vm.RunString(eventPrelude); err != nil {
		r.logger.Error("Failed to install event constructors", zap.Error(err))
	}
	r.initWindow()
	r.initDocument()
	r.initConsole()
	r.initTimers()
	return r
}

// enter marks the start of a call into the VM. The outermost call binds ctx
// to the VM so that cancellation interrupts running code.
func (r *runtime) enter(ctx context.Context) func() {
	if r.depth > 0 {
		r.depth++
		return func() { r.depth-- }
	}
	if ctx == nil {
		ctx = context.Background()
	}
	r.depth = 1
	r.ctx = ctx
	stop := context.AfterFunc(ctx, func() { r.vm.Interrupt(ctx.Err()) })
	return func() {
		stop()
		r.vm.ClearInterrupt()
		r.depth = 0
		r.ctx = nil
	}
}

func (r *runtime) context() context.Context {
	if r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// RunScript evaluates body as the body of a function and returns its result.
// Promises are awaited as far as the queued timers and microtasks settle them.
// Elements are returned as their description, other objects as decoded JSON.
func (p *Page) RunScript(ctx context.Context, body string) (any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.js == nil {
		return nil, page.ErrPageClosed
	}
	return p.js.evaluate(ctx, body)
}

func (r *runtime) evaluate(ctx context.Context, body string) (any, error) {
	prog, err := goja.Compile("script", "(function () {\n"+body+"\n})", false)
	if err != nil {
		return nil, fmt.Errorf("compiling script: %w", err)
	}

	leave := r.enter(ctx)
	defer leave()

	val, err := r.vm.RunProgram(prog)
	if err != nil {
		return nil, r.scriptError(ctx, err)
	}
	fn, ok := goja.AssertFunction(val)
	if !ok {
		return nil, errors.New("script did not evaluate to a function")
	}
	res, err := fn(goja.Undefined())
	if err != nil {
		return nil, r.scriptError(ctx, err)
	}
	r.drainTimers()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("script interrupted: %w", err)
	}

	if promise, ok := res.Export().(*goja.Promise); ok {
		switch promise.State() {
		case goja.PromiseStateFulfilled:
			return r.export(promise.Result())
		case goja.PromiseStateRejected:
			return nil, fmt.Errorf("promise rejected: %s", promise.Result().String())
		default:
			return nil, errors.New("promise did not settle")
		}
	}
	return r.export(res)
}

func (r *runtime) scriptError(ctx context.Context, err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if cerr := ctx.Err(); cerr != nil {
			return fmt.Errorf("script interrupted: %w", cerr)
		}
		return fmt.Errorf("script interrupted: %v", interrupted.Value())
	}
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return fmt.Errorf("uncaught exception: %s", ex.Value().String())
	}
	return fmt.Errorf("script error: %w", err)
}

// export converts a script value into plain Go data.
func (r *runtime) export(v goja.Value) (any, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	if obj, ok := v.(*goja.Object); ok {
		if n, ok := r.nodes[obj]; ok {
			return describe(n), nil
		}
		if _, ok := goja.AssertFunction(v); ok {
			return nil, nil
		}
		s, err := r.stringify(v)
		if err != nil || s == "" {
			return nil, err
		}
		var out any
		if err := json.UnmarshalFromString(s, &out); err != nil {
			return nil, fmt.Errorf("decoding script result: %w", err)
		}
		return out, nil
	}
	switch t := v.Export().(type) {
	case int64:
		return float64(t), nil
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil, nil
		}
		return t, nil
	default:
		return t, nil
	}
}

func (r *runtime) stringify(v goja.Value) (string, error) {
	stringify, ok := goja.AssertFunction(r.vm.Get("JSON").ToObject(r.vm).Get("stringify"))
	if !ok {
		return "", errors.New("JSON.stringify is unavailable")
	}
	res, err := stringify(goja.Undefined(), v)
	if err != nil {
		return "", fmt.Errorf("serializing script result: %w", err)
	}
	if goja.IsUndefined(res) {
		return "", nil
	}
	return res.String(), nil
}

// runInlineScriptsLocked runs the document's inline classic scripts in order,
// then DOMContentLoaded listeners. External scripts are not fetched.
func (p *Page) runInlineScriptsLocked(ctx context.Context) {
	r := p.js
	if r == nil {
		return
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultScriptTimeout)
		defer cancel()
	}
	leave := r.enter(ctx)
	defer leave()

	for i, s := range htmlquery.Find(p.doc, "//script") {
		if hasAttr(s, "src") {
			r.logger.Debug("Skipping external script", zap.String("src", attr(s, "src")))
			continue
		}
		switch strings.ToLower(strings.TrimSpace(attr(s, "type"))) {
		case "", "text/javascript", "application/javascript":
		default:
			continue
		}
		if _, err := r.vm.RunScript(fmt.Sprintf("inline-script-%d", i), htmlquery.InnerText(s)); err != nil {
			r.reportError("inline script", err)
			if ctx.Err() != nil {
				return
			}
		}
	}
	r.drainTimers()

	d := &dispatch{ev: page.BubblingEvent("DOMContentLoaded"), target: p.doc, current: p.doc}
	r.runListeners(ctx, p.doc, d)
	r.drainTimers()
}

// reportError logs an exception the page would print to its console.
func (r *runtime) reportError(where string, err error) {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		r.logger.Debug("Script interrupted", zap.String("where", where))
		return
	}
	msg := err.Error()
	var ex *goja.Exception
	if errors.As(err, &ex) {
		msg = ex.Value().String()
	}
	r.logger.Warn("Uncaught exception", zap.String("where", where), zap.String("error", msg))
}

// -- Events --

// runListeners calls the inline on<type> handler and the registered listeners
// of n for d.
func (r *runtime) runListeners(ctx context.Context, n *html.Node, d *dispatch) {
	if r == nil {
		return
	}
	var fns []goja.Value
	for _, l := range r.p.listeners[n][d.ev.Type] {
		fns = append(fns, l.fn)
	}
	inline := ""
	if n.Type == html.ElementNode {
		inline = attr(n, "on"+strings.ToLower(d.ev.Type))
	}
	if len(fns) == 0 && inline == "" {
		return
	}

	leave := r.enter(ctx)
	defer leave()

	this := r.wrap(n)
	ev := r.eventObject(d)
	if inline != "" {
		if fn, err := r.inlineHandler(inline); err != nil {
			r.reportError("on"+d.ev.Type+" attribute", err)
		} else if res, err := fn(this, ev); err != nil {
			r.reportError("on"+d.ev.Type+" handler", err)
		} else if res != nil && res.StrictEquals(r.vm.ToValue(false)) {
			d.preventDefault()
		}
	}
	for _, v := range fns {
		if d.immediate {
			return
		}
		fn, ok := goja.AssertFunction(v)
		if !ok {
			continue
		}
		if _, err := fn(this, ev); err != nil {
			r.reportError(d.ev.Type+" listener", err)
		}
	}
}

func (r *runtime) inlineHandler(body string) (goja.Callable, error) {
	if fn, ok := r.handlers[body]; ok {
		return fn, nil
	}
	v, err := r.vm.RunString("(function (event) {\n" + body + "\n})")
	if err != nil {
		return nil, err
	}
	fn, ok := goja.AssertFunction(v)
	if !ok {
		return nil, errors.New("handler is not a function")
	}
	r.handlers[body] = fn
	return fn, nil
}

// eventObject returns the object listeners of d receive, decorating the
// object passed to dispatchEvent when there was one.
func (r *runtime) eventObject(d *dispatch) *goja.Object {
	if d.jsEvent == nil {
		d.jsEvent = r.vm.NewObject()
		_ = d.jsEvent.Set("type", d.ev.Type)
		_ = d.jsEvent.Set("bubbles", d.ev.Bubbles)
		_ = d.jsEvent.Set("cancelable", d.ev.Cancelable)
	}
	e := d.jsEvent
	_ = e.Set("isTrusted", false)
	_ = e.Set("timeStamp", float64(time.Now().UnixMilli()))
	_ = e.Set("target", r.wrap(d.target))
	r.getter(e, "currentTarget", func() goja.Value { return r.wrap(d.current) })
	r.getter(e, "defaultPrevented", func() goja.Value { return r.vm.ToValue(d.prevented) })
	r.method(e, "preventDefault", func(goja.FunctionCall) goja.Value {
		d.preventDefault()
		return goja.Undefined()
	})
	r.method(e, "stopPropagation", func(goja.FunctionCall) goja.Value {
		d.stopped = true
		return goja.Undefined()
	})
	r.method(e, "stopImmediatePropagation", func(goja.FunctionCall) goja.Value {
		d.stopped, d.immediate = true, true
		return goja.Undefined()
	})
	return e
}

func (r *runtime) addListener(n *html.Node, typ string, fn goja.Value) {
	if _, ok := goja.AssertFunction(fn); !ok {
		return
	}
	byType := r.p.listeners[n]
	if byType == nil {
		byType = make(map[string][]listener)
		r.p.listeners[n] = byType
	}
	for _, l := range byType[typ] {
		if l.fn.SameAs(fn) {
			return
		}
	}
	byType[typ] = append(byType[typ], listener{fn: fn})
}

func (r *runtime) removeListener(n *html.Node, typ string, fn goja.Value) {
	ls := r.p.listeners[n][typ]
	for i, l := range ls {
		if l.fn.SameAs(fn) {
			r.p.listeners[n][typ] = append(ls[:i:i], ls[i+1:]...)
			return
		}
	}
}

// dispatchFromScript handles target.dispatchEvent(event).
func (r *runtime) dispatchFromScript(n *html.Node, call goja.FunctionCall) goja.Value {
	obj, ok := call.Argument(0).(*goja.Object)
	if !ok || obj.Get("type") == nil {
		panic(r.vm.NewTypeError("dispatchEvent requires an Event"))
	}
	ev := page.Event{
		Type:       obj.Get("type").String(),
		Interface:  page.InterfaceEvent,
		Bubbles:    obj.Get("bubbles").ToBoolean(),
		Cancelable: obj.Get("cancelable").ToBoolean(),
	}
	return r.vm.ToValue(r.p.runDispatchLocked(r.context(), &dispatch{ev: ev, target: n, jsEvent: obj}))
}

// -- Timers --

func (r *runtime) initTimers() {
	global := r.vm.GlobalObject()
	_ = global.Set("setTimeout", func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			return r.vm.ToValue(0)
		}
		r.timerSeq++
		t := timer{id: r.timerSeq, seq: r.timerSeq, delay: call.Argument(1).ToInteger(), fn: fn}
		if len(call.Arguments) > 2 {
			t.args = append([]goja.Value(nil), call.Arguments[2:]...)
		}
		r.timers = append(r.timers, t)
		return r.vm.ToValue(t.id)
	})
	clearTimer := func(call goja.FunctionCall) goja.Value {
		r.cleared[call.Argument(0).ToInteger()] = true
		return goja.Undefined()
	}
	_ = global.Set("clearTimeout", clearTimer)
	_ = global.Set("clearInterval", clearTimer)
	// Intervals would never let the queue drain, so they are accepted but never fire.
	_ = global.Set("setInterval", func(call goja.FunctionCall) goja.Value {
		r.intervals++
		r.logger.Debug("setInterval is not scheduled by the static host")
		return r.vm.ToValue(-r.intervals)
	})
}

// drainTimers runs queued timeouts in order of delay, including timeouts
// scheduled by the callbacks themselves. Delays are not waited out.
func (r *runtime) drainTimers() {
	for runs := 0; len(r.timers) > 0; runs++ {
		if runs >= maxTimerRuns {
			r.logger.Warn("Timer queue did not drain, dropping remaining timers", zap.Int("pending", len(r.timers)))
			r.timers = nil
			return
		}
		if ctx := r.context(); ctx.Err() != nil {
			r.timers = nil
			return
		}
		sort.SliceStable(r.timers, func(i, j int) bool {
			if r.timers[i].delay != r.timers[j].delay {
				return r.timers[i].delay < r.timers[j].delay
			}
			return r.timers[i].seq < r.timers[j].seq
		})
		t := r.timers[0]
		r.timers = r.timers[1:]
		if r.cleared[t.id] {
			delete(r.cleared, t.id)
			continue
		}
		// Later timers fire relative to this one.
		for i := range r.timers {
			r.timers[i].delay = max(r.timers[i].delay-t.delay, 0)
		}
		if _, err := t.fn(goja.Undefined(), t.args...); err != nil {
			r.reportError("timer", err)
		}
	}
}

// -- Globals --

func (r *runtime) initConsole() {
	console := r.vm.NewObject()
	logFunc := func(level zapcore.Level) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			args := make([]string, len(call.Arguments))
			for i, arg := range call.Arguments {
				if _, ok := arg.(*goja.Object); ok {
					if s, err := r.stringify(arg); err == nil && s != "" {
						args[i] = s
						continue
					}
				}
				args[i] = arg.String()
			}
			r.logger.Log(level, "console", zap.String("message", strings.Join(args, " ")))
			return goja.Undefined()
		}
	}
	_ = console.Set("log", logFunc(zap.InfoLevel))
	_ = console.Set("info", logFunc(zap.InfoLevel))
	_ = console.Set("warn", logFunc(zap.WarnLevel))
	_ = console.Set("error", logFunc(zap.ErrorLevel))
	_ = console.Set("debug", logFunc(zap.DebugLevel))
	_ = r.vm.Set("console", console)
}

func (r *runtime) initWindow() {
	p := r.p
	window := r.vm.GlobalObject()
	_ = window.Set("window", window)
	_ = window.Set("self", window)

	location := r.vm.NewObject()
	urlPart := func(part func() string) func() goja.Value {
		return func() goja.Value { return r.vm.ToValue(part()) }
	}
	r.getter(location, "href", urlPart(func() string { return p.url.String() }))
	r.getter(location, "protocol", urlPart(func() string { return p.url.Scheme + ":" }))
	r.getter(location, "host", urlPart(func() string { return p.url.Host }))
	r.getter(location, "hostname", urlPart(func() string { return p.url.Hostname() }))
	r.getter(location, "pathname", urlPart(func() string { return p.url.EscapedPath() }))
	r.getter(location, "search", urlPart(func() string {
		if p.url.RawQuery == "" {
			return ""
		}
		return "?" + p.url.RawQuery
	}))
	r.getter(location, "hash", urlPart(func() string {
		if p.url.Fragment == "" {
			return ""
		}
		return "#" + p.url.Fragment
	}))
	r.method(location, "toString", func(goja.FunctionCall) goja.Value { return r.vm.ToValue(p.url.String()) })
	_ = window.Set("location", location)

	r.getter(window, "scrollX", func() goja.Value { return r.vm.ToValue(p.scrollX) })
	r.getter(window, "scrollY", func() goja.Value { return r.vm.ToValue(p.scrollY) })
	r.getter(window, "pageXOffset", func() goja.Value { return r.vm.ToValue(p.scrollX) })
	r.getter(window, "pageYOffset", func() goja.Value { return r.vm.ToValue(p.scrollY) })
	_ = window.Set("innerWidth", p.opts.Viewport.Width)
	_ = window.Set("innerHeight", p.opts.Viewport.Height)

	scroll := func(absolute bool) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			x, y := call.Argument(0).ToFloat(), call.Argument(1).ToFloat()
			if opts, ok := call.Argument(0).(*goja.Object); ok {
				x, y = 0, 0
				if absolute {
					x, y = p.scrollX, p.scrollY
				}
				if v := opts.Get("left"); v != nil && !goja.IsUndefined(v) {
					x = v.ToFloat()
				}
				if v := opts.Get("top"); v != nil && !goja.IsUndefined(v) {
					y = v.ToFloat()
				}
			}
			p.scrollWindowLocked(finite(x), finite(y), absolute)
			return goja.Undefined()
		}
	}
	_ = window.Set("scrollTo", scroll(true))
	_ = window.Set("scroll", scroll(true))
	_ = window.Set("scrollBy", scroll(false))

	_ = window.Set("alert", func(call goja.FunctionCall) goja.Value {
		r.logger.Info("alert", zap.String("message", call.Argument(0).String()))
		return goja.Undefined()
	})
	// Dialogs are accepted automatically.
	_ = window.Set("confirm", func(call goja.FunctionCall) goja.Value {
		r.logger.Info("confirm", zap.String("message", call.Argument(0).String()))
		return r.vm.ToValue(true)
	})
}

func finite(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func (r *runtime) initDocument() {
	p := r.p
	doc := r.wrap(p.doc).(*goja.Object)
	find := func(expr string) goja.Value { return r.wrap(htmlquery.FindOne(p.doc, expr)) }

	r.getter(doc, "documentElement", func() goja.Value { return find("/html") })
	r.getter(doc, "head", func() goja.Value { return find("/html/head") })
	r.getter(doc, "body", func() goja.Value { return find("/html/body") })
	r.getter(doc, "readyState", func() goja.Value { return r.vm.ToValue(string(p.readyStateLocked())) })
	r.getter(doc, "activeElement", func() goja.Value {
		if p.focused != nil && p.attachedLocked(p.focused) {
			return r.wrap(p.focused)
		}
		return find("/html/body")
	})
	r.getter(doc, "title", func() goja.Value {
		t := htmlquery.FindOne(p.doc, "//title")
		if t == nil {
			return r.vm.ToValue("")
		}
		return r.vm.ToValue(strings.Join(strings.Fields(htmlquery.InnerText(t)), " "))
	})
	r.getter(doc, "URL", func() goja.Value { return r.vm.ToValue(p.url.String()) })
	_ = doc.Set("location", r.vm.Get("location"))

	r.method(doc, "getElementById", func(call goja.FunctionCall) goja.Value {
		id := call.Argument(0).String()
		for _, n := range htmlquery.Find(p.doc, "//*[@id]") {
			if attr(n, "id") == id {
				return r.wrap(n)
			}
		}
		return goja.Null()
	})
	r.method(doc, "createElement", func(call goja.FunctionCall) goja.Value {
		tag := strings.ToLower(call.Argument(0).String())
		return r.wrap(&html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))})
	})
	r.method(doc, "createTextNode", func(call goja.FunctionCall) goja.Value {
		return r.wrap(&html.Node{Type: html.TextNode, Data: call.Argument(0).String()})
	})
	_ = r.vm.Set("document", doc)
}

// -- Element wrappers --

// elementProps are read and written through the page's property model.
var elementProps = []string{
	"id", "className", "tagName", "nodeName", "textContent", "innerText",
	"innerHTML", "outerHTML", "value", "checked", "disabled", "selectedIndex",
	"isConnected", "name", "type", "href", "placeholder",
}

// wrap returns the JS object for n, creating it on first use.
func (r *runtime) wrap(n *html.Node) goja.Value {
	if n == nil {
		return goja.Null()
	}
	if obj, ok := r.wrappers[n]; ok {
		return obj
	}
	p := r.p
	obj := r.vm.NewObject()
	r.wrappers[n] = obj
	r.nodes[obj] = n

	nodeType := 1
	switch n.Type {
	case html.DocumentNode:
		nodeType = 9
	case html.TextNode:
		nodeType = 3
	}
	_ = obj.DefineDataProperty("nodeType", r.vm.ToValue(nodeType), goja.FLAG_FALSE, goja.FLAG_TRUE, goja.FLAG_FALSE)

	r.getter(obj, "parentElement", func() goja.Value {
		if n.Parent == nil || n.Parent.Type != html.ElementNode {
			return goja.Null()
		}
		return r.wrap(n.Parent)
	})
	r.getter(obj, "parentNode", func() goja.Value { return r.wrap(n.Parent) })
	r.getter(obj, "children", func() goja.Value { return r.wrapAll(elementChildren(n)) })

	r.method(obj, "querySelector", func(call goja.FunctionCall) goja.Value {
		sel := r.compile(call.Argument(0).String())
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if m := cascadia.Query(c, sel); m != nil {
				return r.wrap(m)
			}
		}
		return goja.Null()
	})
	r.method(obj, "querySelectorAll", func(call goja.FunctionCall) goja.Value {
		sel := r.compile(call.Argument(0).String())
		var out []*html.Node
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			out = append(out, cascadia.QueryAll(c, sel)...)
		}
		return r.wrapAll(out)
	})
	r.method(obj, "addEventListener", func(call goja.FunctionCall) goja.Value {
		r.addListener(n, call.Argument(0).String(), call.Argument(1))
		return goja.Undefined()
	})
	r.method(obj, "removeEventListener", func(call goja.FunctionCall) goja.Value {
		r.removeListener(n, call.Argument(0).String(), call.Argument(1))
		return goja.Undefined()
	})
	r.method(obj, "dispatchEvent", func(call goja.FunctionCall) goja.Value { return r.dispatchFromScript(n, call) })
	r.method(obj, "appendChild", func(call goja.FunctionCall) goja.Value {
		child := r.unwrap(call.Argument(0))
		if child.Parent != nil {
			child.Parent.RemoveChild(child)
		}
		n.AppendChild(child)
		return call.Argument(0)
	})

	if n.Type != html.ElementNode {
		if n.Type == html.TextNode {
			r.accessor(obj, "textContent",
				func() goja.Value { return r.vm.ToValue(n.Data) },
				func(v goja.Value) { n.Data = v.String() })
		}
		return obj
	}

	for _, name := range elementProps {
		name := name
		r.accessor(obj, name,
			func() goja.Value { return r.vm.ToValue(p.readPropertyLocked(n, name)) },
			func(v goja.Value) {
				if err := p.setPropertyLocked(n, name, v.Export()); err != nil {
					panic(r.vm.NewTypeError("%s", err.Error()))
				}
			})
	}
	r.getter(obj, "style", func() goja.Value { return r.styleObject(n) })

	r.method(obj, "getAttribute", func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		if !hasAttr(n, name) {
			return goja.Null()
		}
		return r.vm.ToValue(attr(n, name))
	})
	r.method(obj, "setAttribute", func(call goja.FunctionCall) goja.Value {
		setAttr(n, call.Argument(0).String(), call.Argument(1).String())
		return goja.Undefined()
	})
	r.method(obj, "removeAttribute", func(call goja.FunctionCall) goja.Value {
		removeAttr(n, call.Argument(0).String())
		return goja.Undefined()
	})
	r.method(obj, "hasAttribute", func(call goja.FunctionCall) goja.Value {
		return r.vm.ToValue(hasAttr(n, call.Argument(0).String()))
	})
	r.method(obj, "closest", func(call goja.FunctionCall) goja.Value {
		sel := r.compile(call.Argument(0).String())
		for c := n; c != nil && c.Type == html.ElementNode; c = c.Parent {
			if sel.Match(c) {
				return r.wrap(c)
			}
		}
		return goja.Null()
	})
	r.method(obj, "matches", func(call goja.FunctionCall) goja.Value {
		return r.vm.ToValue(r.compile(call.Argument(0).String()).Match(n))
	})
	r.method(obj, "remove", func(goja.FunctionCall) goja.Value {
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
		return goja.Undefined()
	})

	invoke := func(method string) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			var args []any
			if len(call.Arguments) > 0 {
				args = append(args, call.Argument(0).Export())
			}
			if err := p.invokeLocked(r.context(), n, method, args...); err != nil {
				panic(r.vm.NewTypeError("%s", err.Error()))
			}
			return goja.Undefined()
		}
	}
	for _, m := range []string{"click", "focus", "blur", "scrollIntoView", "submit"} {
		r.method(obj, m, invoke(m))
	}
	return obj
}

func (r *runtime) wrapAll(nodes []*html.Node) goja.Value {
	items := make([]any, len(nodes))
	for i, n := range nodes {
		items[i] = r.wrap(n)
	}
	return r.vm.NewArray(items...)
}

func (r *runtime) unwrap(v goja.Value) *html.Node {
	if obj, ok := v.(*goja.Object); ok {
		if n, ok := r.nodes[obj]; ok {
			return n
		}
	}
	panic(r.vm.NewTypeError("argument is not a node"))
}

func (r *runtime) compile(selector string) cascadia.Sel {
	sel, err := cascadia.Parse(selector)
	if err != nil {
		panic(r.vm.NewTypeError("invalid selector %q: %s", selector, err.Error()))
	}
	return sel
}

// styleObject exposes the inline style declarations of n.
func (r *runtime) styleObject(n *html.Node) goja.Value {
	style := r.vm.NewObject()
	for _, prop := range []string{"display", "visibility", "width", "height"} {
		prop := prop
		r.accessor(style, prop,
			func() goja.Value { return r.vm.ToValue(inlineStyle(n)[prop]) },
			func(v goja.Value) { setInlineStyle(n, prop, v.String()) })
	}
	r.method(style, "getPropertyValue", func(call goja.FunctionCall) goja.Value {
		return r.vm.ToValue(inlineStyle(n)[strings.ToLower(call.Argument(0).String())])
	})
	r.method(style, "setProperty", func(call goja.FunctionCall) goja.Value {
		setInlineStyle(n, call.Argument(0).String(), call.Argument(1).String())
		return goja.Undefined()
	})
	return style
}

// setInlineStyle rewrites the style attribute with prop set to val, or
// removed when val is empty.
func setInlineStyle(n *html.Node, prop, val string) {
	decls := inlineStyle(n)
	prop = strings.ToLower(strings.TrimSpace(prop))
	if val = strings.TrimSpace(val); val == "" {
		delete(decls, prop)
	} else {
		decls[prop] = val
	}
	keys := make([]string, 0, len(decls))
	for k := range decls {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + decls[k]
	}
	if len(parts) == 0 {
		removeAttr(n, "style")
		return
	}
	setAttr(n, "style", strings.Join(parts, "; "))
}

// -- Property helpers --

func (r *runtime) getter(obj *goja.Object, name string, get func() goja.Value) {
	r.accessor(obj, name, get, nil)
}

func (r *runtime) accessor(obj *goja.Object, name string, get func() goja.Value, set func(goja.Value)) {
	getFn := r.vm.ToValue(func(goja.FunctionCall) goja.Value { return get() })
	setFn := goja.Undefined()
	if set != nil {
		setFn = r.vm.ToValue(func(call goja.FunctionCall) goja.Value {
			set(call.Argument(0))
			return goja.Undefined()
		})
	}
	if err := obj.DefineAccessorProperty(name, getFn, setFn, goja.FLAG_TRUE, goja.FLAG_FALSE); err != nil {
		r.logger.Error("Failed to define property", zap.String("property", name), zap.Error(err))
	}
}

func (r *runtime) method(obj *goja.Object, name string, fn func(goja.FunctionCall) goja.Value) {
	if err := obj.DefineDataProperty(name, r.vm.ToValue(fn), goja.FLAG_TRUE, goja.FLAG_TRUE, goja.FLAG_FALSE); err != nil {
		r.logger.Error("Failed to define method", zap.String("method", name), zap.Error(err))
	}
}
