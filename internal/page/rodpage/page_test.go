package rodpage

import (
	"context"
	"os/exec"
	"testing"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/list91/SocketClicker/api/schemas"
	"github.com/list91/SocketClicker/internal/config"
	"github.com/list91/SocketClicker/internal/page"
)

func TestNewPage_RejectsNil(t *testing.T) {
	_, err := NewPage(nil, nil)
	assert.Error(t, err)
}

func TestLauncherFlags(t *testing.T) {
	l := Launcher(config.BrowserConfig{
		Headless: true,
		Viewport: map[string]int{"width": 800, "height": 600},
		Args:     []string{"--lang=de-DE", "mute-audio"},
	})

	assert.True(t, l.Has("headless"))
	assert.True(t, l.Has("mute-audio"))
	assert.Equal(t, "de-DE", l.Get("lang"))
	assert.Equal(t, "800,600", l.Get("window-size"))
}

func TestNodeHandleFromAnotherHost(t *testing.T) {
	p := &Page{}
	_, err := p.node(fakeNode{})
	assert.ErrorIs(t, err, page.ErrStaleNode)
}

type fakeNode struct{}

func (fakeNode) String() string { return "fake" }

func TestPageAgainstChrome(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping browser test in short mode")
	}
	if _, found := launcher.LookPath(); !found {
		if _, err := exec.LookPath("chromium"); err != nil {
			t.Skip("no Chrome or Chromium available")
		}
	}

	ctx := context.Background()
	b := NewBrowser(config.BrowserConfig{Headless: true}, zaptest.NewLogger(t))
	defer b.Close()

	p, err := b.ActivePage(ctx)
	require.NoError(t, err)
	require.NoError(t, p.Navigate(ctx, `data:text/html,<form onsubmit="event.preventDefault()"><button id="go">Go</button></form>`))

	state, err := p.ReadyState(ctx)
	require.NoError(t, err)
	assert.Equal(t, page.ReadyComplete, state)

	btn, err := p.EvaluateLocator(ctx, schemas.CSS("#go"))
	require.NoError(t, err)
	require.NotNil(t, btn)
	assert.Equal(t, "button#go", btn.String())

	missing, err := p.EvaluateLocator(ctx, schemas.XPath("//nav"))
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, p.Invoke(ctx, btn, "focus"))
	err = p.Invoke(ctx, btn, "noSuchMethod")
	assert.ErrorIs(t, err, page.ErrUnsupported)

	res, err := p.RunScript(ctx, "return document.activeElement.id")
	require.NoError(t, err)
	assert.Equal(t, "go", res)
}
