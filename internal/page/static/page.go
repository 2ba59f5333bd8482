// Package static is an in-memory page host. Documents are parsed with
// golang.org/x/net/html, XPath locators run through htmlquery, CSS selectors
// through cascadia, and scripts and event listeners through a goja runtime
// bound to the document. It needs no browser, which makes it the host for
// tests, dry runs and server-rendered pages.
package static

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/antchfx/htmlquery"
	"github.com/dop251/goja"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/list91/SocketClicker/internal/page"
)

const (
	// BlankURL is the address of an empty document.
	BlankURL = "about:blank"

	defaultMaxBodyBytes = 8 << 20
	defaultUserAgent    = "SocketClicker/1.0 (static)"
)

// ErrFetch wraps failures to retrieve a document.
var ErrFetch = errors.New("failed to fetch document")

// Viewport is the simulated window size in CSS pixels.
type Viewport struct {
	Width  float64
	Height float64
}

// Options tunes a static page.
type Options struct {
	// LoadDelay keeps a freshly loaded document "interactive" for this long
	// before it turns "complete".
	LoadDelay time.Duration
	// HTTPClient fetches http and https documents. Defaults to a client with a 30s timeout.
	HTTPClient   *http.Client
	UserAgent    string
	Viewport     Viewport
	MaxBodyBytes int64
	// AllowFileURLs permits file:// navigation.
	AllowFileURLs bool
}

// EventRecord is one dispatched event, kept in dispatch order.
type EventRecord struct {
	Type     string `json:"type"`
	Target   string `json:"target"`
	XPath    string `json:"xpath,omitempty"`
	Canceled bool   `json:"canceled"`
}

type listener struct {
	fn goja.Value
}

// Page is an in-memory document that implements page.Page. All access is
// serialized; scripts and listeners run on the calling goroutine.
type Page struct {
	opts   Options
	client *http.Client
	logger *zap.Logger

	mu       sync.Mutex
	closed   bool
	url      *url.URL
	doc      *html.Node
	gen      uint64
	loading  bool
	loadedAt time.Time
	scrollX  float64
	scrollY  float64
	focused  *html.Node

	// Form state that diverges from the markup.
	values   map[*html.Node]string
	checked  map[*html.Node]bool
	selected map[*html.Node]*html.Node
	expando  map[*html.Node]map[string]any

	listeners     map[*html.Node]map[string][]listener
	events        []EventRecord
	dispatchDepth int

	js *runtime
}

var _ page.Page = (*Page)(nil)

// New creates a page showing about:blank.
func New(opts Options, logger *zap.Logger) *Page {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.Viewport.Width <= 0 || opts.Viewport.Height <= 0 {
		opts.Viewport = Viewport{Width: 1280, Height: 800}
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	p := &Page{opts: opts, client: client, logger: logger.Named("static_page")}
	blank, _ := url.Parse(BlankURL)
	p.mu.Lock()
	p.installLocked(context.Background(), blank, nil)
	p.mu.Unlock()
	return p
}

// LoadHTML replaces the document with markup as if it had been served from
// baseURL. An empty baseURL means about:blank.
func (p *Page) LoadHTML(ctx context.Context, baseURL, markup string) error {
	if baseURL == "" {
		baseURL = BlankURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("invalid base url %q: %w", baseURL, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return page.ErrPageClosed
	}
	return p.installLocked(ctx, u, []byte(markup))
}

// Navigate loads rawURL, resolved against the current address. The previous
// document stays in place, with readyState "loading", until the new one arrives.
func (p *Page) Navigate(ctx context.Context, rawURL string) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return page.ErrPageClosed
	}
	target, err := p.resolveLocked(rawURL)
	if err != nil {
		p.mu.Unlock()
		return err
	}
	p.loading = true
	p.mu.Unlock()

	body, final, err := p.fetch(ctx, target)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return page.ErrPageClosed
	}
	if err != nil {
		p.loading = false
		return err
	}
	p.logger.Debug("Document loaded", zap.String("url", final.String()), zap.Int("bytes", len(body)))
	return p.installLocked(ctx, final, body)
}

func (p *Page) resolveLocked(rawURL string) (*url.URL, error) {
	ref, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	if ref.IsAbs() || p.url == nil || p.url.Scheme == "about" || p.url.Scheme == "data" {
		if !ref.IsAbs() {
			return nil, fmt.Errorf("invalid url %q: relative to %s", rawURL, p.url)
		}
		return ref, nil
	}
	return p.url.ResolveReference(ref), nil
}

func (p *Page) fetch(ctx context.Context, u *url.URL) ([]byte, *url.URL, error) {
	switch u.Scheme {
	case "about":
		if u.Opaque != "blank" {
			return nil, nil, fmt.Errorf("%w: %s", page.ErrUnsupported, u)
		}
		return nil, u, nil
	case "data":
		body, err := decodeDataURL(u.String())
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrFetch, err)
		}
		return body, u, nil
	case "file":
		if !p.opts.AllowFileURLs {
			return nil, nil, fmt.Errorf("%w: file urls are disabled", page.ErrUnsupported)
		}
		body, err := os.ReadFile(u.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrFetch, err)
		}
		return body, u, nil
	case "http", "https":
		return p.fetchHTTP(ctx, u)
	default:
		return nil, nil, fmt.Errorf("%w: scheme %q", page.ErrUnsupported, u.Scheme)
	}
}

func (p *Page) fetchHTTP(ctx context.Context, u *url.URL) ([]byte, *url.URL, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	req.Header.Set("User-Agent", p.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		// A browser still renders error pages.
		p.logger.Warn("Document served with error status", zap.String("url", u.String()), zap.Int("status", resp.StatusCode))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, p.opts.MaxBodyBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: reading body: %v", ErrFetch, err)
	}
	return body, resp.Request.URL, nil
}

// decodeDataURL handles data:[<mediatype>][;base64],<data>.
func decodeDataURL(raw string) ([]byte, error) {
	rest, ok := strings.CutPrefix(raw, "data:")
	if !ok {
		return nil, fmt.Errorf("not a data url")
	}
	meta, data, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, fmt.Errorf("data url has no payload separator")
	}
	if strings.HasSuffix(meta, ";base64") {
		return base64.StdEncoding.DecodeString(data)
	}
	s, err := url.PathUnescape(data)
	if err != nil {
		return nil, err
	}
	return []byte(s), nil
}

// installLocked swaps in a new document, invalidating every node handle and
// all per-document state, then runs the document's inline scripts.
func (p *Page) installLocked(ctx context.Context, u *url.URL, body []byte) error {
	doc, err := htmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		p.loading = false
		return fmt.Errorf("parsing %s: %w", u, err)
	}
	p.url = u
	p.doc = doc
	p.gen++
	p.loading = false
	p.loadedAt = time.Now()
	p.scrollX, p.scrollY = 0, 0
	p.focused = nil
	p.values = make(map[*html.Node]string)
	p.checked = make(map[*html.Node]bool)
	p.selected = make(map[*html.Node]*html.Node)
	p.expando = make(map[*html.Node]map[string]any)
	p.listeners = make(map[*html.Node]map[string][]listener)
	p.events = nil
	p.js = newRuntime(p)

	p.runInlineScriptsLocked(ctx)
	return nil
}

// ReadyState reports loading while a navigation is in flight, then
// interactive until LoadDelay has passed, then complete.
func (p *Page) ReadyState(ctx context.Context) (page.ReadyState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return "", page.ErrPageClosed
	}
	return p.readyStateLocked(), nil
}

func (p *Page) readyStateLocked() page.ReadyState {
	switch {
	case p.loading:
		return page.ReadyLoading
	case time.Since(p.loadedAt) < p.opts.LoadDelay:
		return page.ReadyInteractive
	default:
		return page.ReadyComplete
	}
}

// ScrollWindow scrolls the viewport. Offsets never go negative.
func (p *Page) ScrollWindow(ctx context.Context, x, y float64, absolute bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return page.ErrPageClosed
	}
	p.scrollWindowLocked(x, y, absolute)
	return nil
}

func (p *Page) scrollWindowLocked(x, y float64, absolute bool) {
	if absolute {
		p.scrollX, p.scrollY = x, y
	} else {
		p.scrollX += x
		p.scrollY += y
	}
	p.scrollX = max(p.scrollX, 0)
	p.scrollY = max(p.scrollY, 0)
	p.events = append(p.events, EventRecord{Type: "scroll", Target: "window"})
}

// Close detaches the page; every later call fails with page.ErrPageClosed.
func (p *Page) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.js = nil
}

// URL returns the address of the current document.
func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url.String()
}

// HTML serializes the current document, including state set through
// properties that browsers do not reflect to attributes.
func (p *Page) HTML() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var sb strings.Builder
	if err := html.Render(&sb, p.doc); err != nil {
		return ""
	}
	return sb.String()
}

// Events returns a copy of the event log of the current document.
func (p *Page) Events() []EventRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]EventRecord(nil), p.events...)
}

// ScrollPosition returns the window scroll offsets.
func (p *Page) ScrollPosition() (x, y float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scrollX, p.scrollY
}
