package static

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/list91/SocketClicker/api/schemas"
	"github.com/list91/SocketClicker/internal/page"
)

const formHTML = `<!DOCTYPE html>
<html><head><title>Signup</title></head>
<body>
  <form id="signup" action="/submit">
    <label for="email">Email</label>
    <input id="email" name="email" type="text" value="initial">
    <label id="terms-label"><input id="terms" type="checkbox"> I agree</label>
    <input type="radio" name="plan" id="plan-free" value="free" checked>
    <input type="radio" name="plan" id="plan-pro" value="pro">
    <select id="country">
      <option value="us">United States</option>
      <option value="de" selected>Germany</option>
      <option>Other Place</option>
    </select>
    <textarea id="bio">hello</textarea>
    <fieldset disabled><input id="locked" type="text"></fieldset>
    <button id="go" type="submit">Go</button>
  </form>
  <div id="hidden" style="display: none"><span class="inner">secret</span></div>
  <div id="invisible" style="visibility:hidden">ghost</div>
  <div id="sized" style="width: 0px">flat</div>
  <p class="note">first</p><p class="note">second</p>
</body></html>`

func newLoadedPage(t *testing.T, markup string) *Page {
	t.Helper()
	p := New(Options{}, zaptest.NewLogger(t))
	require.NoError(t, p.LoadHTML(context.Background(), "https://example.test/signup", markup))
	return p
}

func mustFind(t *testing.T, p *Page, loc schemas.Locator) page.Node {
	t.Helper()
	n, err := p.EvaluateLocator(context.Background(), loc)
	require.NoError(t, err)
	require.NotNil(t, n, "locator %v matched nothing", loc)
	return n
}

func TestNew_StartsBlank(t *testing.T) {
	p := New(Options{}, nil)

	assert.Equal(t, BlankURL, p.URL())
	state, err := p.ReadyState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, page.ReadyComplete, state)
	n, err := p.EvaluateLocator(context.Background(), schemas.XPath("//button"))
	assert.NoError(t, err)
	assert.Nil(t, n)
}

func TestEvaluateLocator(t *testing.T) {
	ctx := context.Background()
	p := newLoadedPage(t, formHTML)

	t.Run("xpath returns the first match in document order", func(t *testing.T) {
		n := mustFind(t, p, schemas.XPath("//p[@class='note']"))
		text, err := p.ReadProperty(ctx, n, "textContent")
		require.NoError(t, err)
		assert.Equal(t, "first", text)
		assert.Equal(t, "p.note", n.(*Node).String())
	})

	t.Run("css selector", func(t *testing.T) {
		n := mustFind(t, p, schemas.CSS("form#signup button[type=submit]"))
		assert.Equal(t, "button#go", n.(*Node).String())
		assert.Equal(t, "//*[@id='go']", n.(*Node).XPath())
	})

	t.Run("no match is not an error", func(t *testing.T) {
		n, err := p.EvaluateLocator(ctx, schemas.XPath("//table"))
		assert.NoError(t, err)
		assert.Nil(t, n)
	})

	t.Run("text nodes are skipped", func(t *testing.T) {
		n, err := p.EvaluateLocator(ctx, schemas.XPath("//p/text()"))
		assert.NoError(t, err)
		assert.Nil(t, n)
	})

	t.Run("invalid expressions fail", func(t *testing.T) {
		_, err := p.EvaluateLocator(ctx, schemas.XPath("//*[@id='unterminated"))
		assert.Error(t, err)
		_, err = p.EvaluateLocator(ctx, schemas.CSS("div[["))
		assert.Error(t, err)
		_, err = p.EvaluateLocator(ctx, schemas.Locator{Strategy: "regex", Expression: "x"})
		assert.ErrorIs(t, err, page.ErrUnsupported)
	})
}

func TestUniqueXPath_WithoutIDs(t *testing.T) {
	p := newLoadedPage(t, `<html><body><ul><li>a</li><li>b</li></ul></body></html>`)
	n := mustFind(t, p, schemas.XPath("//li[2]"))

	xp := n.(*Node).XPath()
	assert.Equal(t, "/html[1]/body[1]/ul[1]/li[2]", xp)
	again := mustFind(t, p, schemas.XPath(xp))
	assert.Equal(t, n.(*Node).n, again.(*Node).n)
}

func TestStaleHandles(t *testing.T) {
	ctx := context.Background()
	p := newLoadedPage(t, formHTML)
	n := mustFind(t, p, schemas.XPath("//*[@id='go']"))

	require.NoError(t, p.LoadHTML(ctx, "", "<button id='go'>new</button>"))
	_, err := p.ReadProperty(ctx, n, "textContent")
	assert.ErrorIs(t, err, page.ErrStaleNode, "handles from an earlier document are stale")

	fresh := mustFind(t, p, schemas.XPath("//*[@id='go']"))
	_, err = p.RunScript(ctx, `document.getElementById("go").remove()`)
	require.NoError(t, err)
	_, err = p.DispatchEvent(ctx, fresh, page.MouseEvent("click"))
	assert.ErrorIs(t, err, page.ErrStaleNode, "detached elements are stale")

	other := New(Options{}, nil)
	_, err = other.ReadProperty(ctx, fresh, "id")
	assert.ErrorIs(t, err, page.ErrStaleNode)
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	p := newLoadedPage(t, formHTML)
	n := mustFind(t, p, schemas.XPath("//*[@id='go']"))
	p.Close()

	_, err := p.EvaluateLocator(ctx, schemas.XPath("//button"))
	assert.ErrorIs(t, err, page.ErrPageClosed)
	_, err = p.ReadProperty(ctx, n, "id")
	assert.ErrorIs(t, err, page.ErrPageClosed)
	_, err = p.RunScript(ctx, "return 1")
	assert.ErrorIs(t, err, page.ErrPageClosed)
	assert.ErrorIs(t, p.Navigate(ctx, "about:blank"), page.ErrPageClosed)
	assert.True(t, page.IsGone(p.ScrollWindow(ctx, 0, 10, true)))
}

func TestProperties(t *testing.T) {
	ctx := context.Background()
	p := newLoadedPage(t, formHTML)
	read := func(id, name string) any {
		t.Helper()
		v, err := p.ReadProperty(ctx, mustFind(t, p, schemas.XPath("//*[@id='"+id+"']")), name)
		require.NoError(t, err)
		return v
	}

	assert.Equal(t, "INPUT", read("email", "tagName"))
	assert.Equal(t, "initial", read("email", "value"))
	assert.Equal(t, "email", read("email", "name"), "unknown properties fall back to attributes")
	assert.Nil(t, read("email", "nonexistent"))
	assert.Equal(t, false, read("terms", "checked"))
	assert.Equal(t, "on", read("terms", "value"))
	assert.Equal(t, true, read("plan-free", "checked"))
	assert.Equal(t, "de", read("country", "value"))
	assert.Equal(t, float64(1), read("country", "selectedIndex"))
	assert.Equal(t, "hello", read("bio", "value"))
	assert.Equal(t, "", read("hidden", "innerText"), "innerText of an unrendered element is empty")
	assert.Equal(t, `<span class="inner">secret</span>`, read("hidden", "innerHTML"))

	email := mustFind(t, p, schemas.XPath("//*[@id='email']"))
	require.NoError(t, p.SetProperty(ctx, email, "value", "user@example.test"))
	assert.Equal(t, "user@example.test", read("email", "value"))
	assert.Contains(t, p.HTML(), `value="initial"`, "the value property does not reflect to the attribute")

	country := mustFind(t, p, schemas.XPath("//*[@id='country']"))
	require.NoError(t, p.SetProperty(ctx, country, "value", "Other Place"))
	assert.Equal(t, float64(2), read("country", "selectedIndex"))
	require.NoError(t, p.SetProperty(ctx, country, "value", "nowhere"))
	assert.Equal(t, "", read("country", "value"))

	pro := mustFind(t, p, schemas.XPath("//*[@id='plan-pro']"))
	require.NoError(t, p.SetProperty(ctx, pro, "checked", true))
	assert.Equal(t, false, read("plan-free", "checked"), "checking a radio unchecks its group")

	require.NoError(t, p.SetProperty(ctx, email, "dataTracked", 42.0))
	assert.Equal(t, 42.0, read("email", "dataTracked"))

	err := p.SetProperty(ctx, email, "tagName", "DIV")
	assert.ErrorIs(t, err, page.ErrUnsupported)
}

func TestGetComputedVisibility(t *testing.T) {
	ctx := context.Background()
	p := newLoadedPage(t, formHTML)
	vis := func(xpath string) page.Visibility {
		t.Helper()
		v, err := p.GetComputedVisibility(ctx, mustFind(t, p, schemas.XPath(xpath)))
		require.NoError(t, err)
		return v
	}

	assert.True(t, vis("//*[@id='go']").Interactive())
	assert.False(t, vis("//span[@class='inner']").Visible, "display:none on an ancestor hides the subtree")
	assert.False(t, vis("//*[@id='invisible']").Visible)
	assert.Zero(t, vis("//*[@id='sized']").Width)
	assert.False(t, vis("//*[@id='sized']").Interactive())

	locked := vis("//*[@id='locked']")
	assert.True(t, locked.Visible)
	assert.True(t, locked.Disabled, "controls inside a disabled fieldset are disabled")
}

func TestDispatchEvent_DefaultActions(t *testing.T) {
	ctx := context.Background()
	p := newLoadedPage(t, formHTML)

	t.Run("checkbox click toggles and fires input and change", func(t *testing.T) {
		box := mustFind(t, p, schemas.XPath("//*[@id='terms']"))
		notCanceled, err := p.DispatchEvent(ctx, box, page.MouseEvent("click"))
		require.NoError(t, err)
		assert.True(t, notCanceled)

		checked, err := p.ReadProperty(ctx, box, "checked")
		require.NoError(t, err)
		assert.Equal(t, true, checked)

		var types []string
		for _, e := range p.Events() {
			if e.Target == "input#terms" {
				types = append(types, e.Type)
			}
		}
		assert.Equal(t, []string{"click", "input", "change"}, types)
	})

	t.Run("label forwards the click to its control", func(t *testing.T) {
		label := mustFind(t, p, schemas.XPath("//*[@id='terms-label']"))
		_, err := p.DispatchEvent(ctx, label, page.MouseEvent("click"))
		require.NoError(t, err)

		box := mustFind(t, p, schemas.XPath("//*[@id='terms']"))
		checked, err := p.ReadProperty(ctx, box, "checked")
		require.NoError(t, err)
		assert.Equal(t, false, checked, "second toggle unchecks")
	})

	t.Run("submit button fires submit on its form", func(t *testing.T) {
		btn := mustFind(t, p, schemas.XPath("//*[@id='go']"))
		require.NoError(t, p.Invoke(ctx, btn, "click"))

		events := p.Events()
		last := events[len(events)-1]
		assert.Equal(t, "submit", last.Type)
		assert.Equal(t, "form#signup", last.Target)
	})

	t.Run("invoking click on a disabled control does nothing", func(t *testing.T) {
		before := len(p.Events())
		locked := mustFind(t, p, schemas.XPath("//*[@id='locked']"))
		require.NoError(t, p.Invoke(ctx, locked, "click"))
		assert.Len(t, p.Events(), before)
	})
}

func TestDispatchEvent_CanceledByListener(t *testing.T) {
	ctx := context.Background()
	p := newLoadedPage(t, `<html><body>
		<input id="box" type="checkbox" onclick="return false">
		<a id="link" href="/next">next</a>
		<script>
			document.getElementById("link").addEventListener("click", function (e) { e.preventDefault(); });
		</script>
	</body></html>`)

	box := mustFind(t, p, schemas.XPath("//*[@id='box']"))
	notCanceled, err := p.DispatchEvent(ctx, box, page.MouseEvent("click"))
	require.NoError(t, err)
	assert.False(t, notCanceled, "an inline handler returning false cancels the event")
	checked, err := p.ReadProperty(ctx, box, "checked")
	require.NoError(t, err)
	assert.Equal(t, false, checked, "a canceled click does not toggle")

	link := mustFind(t, p, schemas.XPath("//*[@id='link']"))
	notCanceled, err = p.DispatchEvent(ctx, link, page.MouseEvent("click"))
	require.NoError(t, err)
	assert.False(t, notCanceled)
	assert.Equal(t, "https://example.test/signup", p.URL(), "the static host never follows links")

	events := p.Events()
	assert.True(t, events[len(events)-1].Canceled)
}

func TestInvoke(t *testing.T) {
	ctx := context.Background()
	p := newLoadedPage(t, formHTML)
	email := mustFind(t, p, schemas.XPath("//*[@id='email']"))
	bio := mustFind(t, p, schemas.XPath("//*[@id='bio']"))

	require.NoError(t, p.Invoke(ctx, email, "focus"))
	require.NoError(t, p.Invoke(ctx, bio, "focus"))
	active, err := p.RunScript(ctx, "return document.activeElement.id")
	require.NoError(t, err)
	assert.Equal(t, "bio", active)

	var seq []string
	for _, e := range p.Events() {
		seq = append(seq, e.Type+"@"+e.Target)
	}
	assert.Equal(t, []string{"focus@input#email", "blur@input#email", "focus@textarea#bio"}, seq)

	notes := mustFind(t, p, schemas.XPath("(//p[@class='note'])[2]"))
	require.NoError(t, p.Invoke(ctx, notes, "scrollIntoView", map[string]any{"block": "start"}))
	_, y := p.ScrollPosition()
	assert.Greater(t, y, 0.0)

	err = p.Invoke(ctx, email, "explode")
	assert.ErrorIs(t, err, page.ErrUnsupported)
}

func TestScrollWindow(t *testing.T) {
	ctx := context.Background()
	p := newLoadedPage(t, formHTML)

	require.NoError(t, p.ScrollWindow(ctx, 0, 300, true))
	require.NoError(t, p.ScrollWindow(ctx, 10, -500, false))
	x, y := p.ScrollPosition()
	assert.Equal(t, 10.0, x)
	assert.Equal(t, 0.0, y, "offsets clamp at zero")
}

func TestNavigate(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/slow":
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		case "/other":
			w.Write([]byte(`<html><body><h1 id="title">other</h1></body></html>`))
		default:
			assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
			w.Write([]byte(`<html><body><a id="next" href="/other">next</a></body></html>`))
		}
	}))
	defer srv.Close()

	p := New(Options{UserAgent: "test-agent", LoadDelay: 50 * time.Millisecond}, zaptest.NewLogger(t))

	t.Run("loads over http and settles to complete", func(t *testing.T) {
		require.NoError(t, p.Navigate(ctx, srv.URL+"/"))
		state, err := p.ReadyState(ctx)
		require.NoError(t, err)
		assert.Equal(t, page.ReadyInteractive, state)
		assert.Eventually(t, func() bool {
			s, _ := p.ReadyState(ctx)
			return s == page.ReadyComplete
		}, time.Second, 10*time.Millisecond)
		mustFind(t, p, schemas.XPath("//*[@id='next']"))
	})

	t.Run("relative urls resolve against the current document", func(t *testing.T) {
		require.NoError(t, p.Navigate(ctx, "/other"))
		assert.Equal(t, srv.URL+"/other", p.URL())
		mustFind(t, p, schemas.XPath("//*[@id='title']"))
	})

	t.Run("deadline aborts a slow load and keeps the old document", func(t *testing.T) {
		tctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		err := p.Navigate(tctx, srv.URL+"/slow")
		assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
		assert.Equal(t, srv.URL+"/other", p.URL())
		state, err := p.ReadyState(ctx)
		require.NoError(t, err)
		assert.NotEqual(t, page.ReadyLoading, state)
	})

	t.Run("data and unsupported schemes", func(t *testing.T) {
		require.NoError(t, p.Navigate(ctx, "data:text/html,%3Cb%20id%3D%22x%22%3Ebold%3C%2Fb%3E"))
		mustFind(t, p, schemas.XPath("//*[@id='x']"))

		assert.ErrorIs(t, p.Navigate(ctx, "file:///etc/hosts"), page.ErrUnsupported)
		assert.ErrorIs(t, p.Navigate(ctx, "ftp://example.test/"), page.ErrUnsupported)
	})
}
