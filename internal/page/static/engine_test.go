package static_test

import (
	"context"
	"testing"
	"time"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/list91/SocketClicker/api/schemas"
	"github.com/list91/SocketClicker/internal/interpreter"
	"github.com/list91/SocketClicker/internal/locator"
	"github.com/list91/SocketClicker/internal/page/static"
	"github.com/list91/SocketClicker/internal/runner"
	"github.com/list91/SocketClicker/internal/synth"
)

const checkoutHTML = `<html><head><title>Checkout</title></head><body>
<form id="checkout" onsubmit="return false">
  <input id="email" type="email">
  <select id="shipping"><option value="std">Standard</option><option value="exp">Express</option></select>
  <input id="gift" type="checkbox">
  <button id="pay" type="submit">Pay</button>
</form>
<div id="status">idle</div>
<div id="late" style="display:none">ready</div>
<script>
  var form = document.getElementById("checkout");
  form.addEventListener("submit", function () {
    var email = document.getElementById("email").value;
    var ship = document.getElementById("shipping").value;
    var gift = document.getElementById("gift").checked;
    document.getElementById("status").textContent = [email, ship, gift].join("|");
  });
</script>
</body></html>`

func newEngine(t *testing.T) *runner.Runner {
	t.Helper()
	logger := zaptest.NewLogger(t)
	interp, err := interpreter.New(
		locator.NewResolver(10*time.Millisecond, logger),
		synth.New(synth.Options{NativeClickFallback: true}, logger),
		interpreter.Options{ElementTimeout: 300 * time.Millisecond, ScriptTimeout: time.Second},
		logger,
	)
	require.NoError(t, err)
	r, err := runner.New(interp, runner.Options{}, logger)
	require.NoError(t, err)
	return r
}

func decodeCommand(t *testing.T, raw string) schemas.Command {
	t.Helper()
	var cmd schemas.Command
	require.NoError(t, json.UnmarshalFromString(raw, &cmd))
	return cmd
}

func TestEngineAgainstStaticPage(t *testing.T) {
	// -- Setup --
	ctx := context.Background()
	p := static.New(static.Options{}, zaptest.NewLogger(t))
	require.NoError(t, p.LoadHTML(ctx, "https://shop.example.test/checkout", checkoutHTML))
	engine := newEngine(t)

	cmd := decodeCommand(t, `{
		"id": "cmd-1",
		"actions": [
			{"action": "input", "element_xpath": "//*[@id='email']", "value": "buyer@example.test"},
			{"action": "select", "selector": "#shipping", "value": "exp"},
			{"action": "check", "selector": "#gift", "value": "true"},
			{"action": "check", "selector": "#gift", "value": 1},
			{"action": "click", "selector": "#pay"},
			{"action": "getText", "selector": "#status"},
			{"action": "executeScript", "value": "return document.title"},
			{"action": "scroll", "selector": "#status"}
		]
	}`)

	// -- Execution --
	result := engine.Run(ctx, p, cmd)

	// -- Assertions --
	require.True(t, result.Success, "results: %+v", result.ActionResults)
	require.Len(t, result.ActionResults, 8)
	assert.Equal(t, false, result.ActionResults[3].Data["changed"], "an already checked box is left alone")
	assert.Equal(t, "buyer@example.test|exp|true", result.ActionResults[5].Data["text"])
	assert.Equal(t, "Checkout", result.ActionResults[6].Data["result"])
	assert.Equal(t, "https://shop.example.test/checkout", p.URL(), "the canceled submit keeps the page")
}

func TestEngineFailuresAgainstStaticPage(t *testing.T) {
	ctx := context.Background()
	p := static.New(static.Options{}, zaptest.NewLogger(t))
	require.NoError(t, p.LoadHTML(ctx, "", checkoutHTML))
	engine := newEngine(t)

	t.Run("missing element stops the command", func(t *testing.T) {
		result := engine.Run(ctx, p, decodeCommand(t, `{
			"id": "cmd-2",
			"actions": [
				{"action": "click", "selector": "#nope"},
				{"action": "click", "selector": "#pay"}
			]
		}`))

		assert.False(t, result.Success)
		require.Len(t, result.ActionResults, 1)
		assert.Equal(t, schemas.ErrorKindElementNotFound, result.ActionResults[0].ErrorKind)
	})

	t.Run("missing option is reported", func(t *testing.T) {
		result := engine.Run(ctx, p, decodeCommand(t, `{
			"id": "cmd-3",
			"actions": [{"action": "select", "selector": "#shipping", "value": "drone"}]
		}`))

		assert.False(t, result.Success)
		assert.Contains(t, result.ActionResults[0].Message, "drone")
	})

	t.Run("script errors are execution errors", func(t *testing.T) {
		result := engine.Run(ctx, p, decodeCommand(t, `{
			"id": "cmd-4",
			"actions": [{"action": "executeScript", "value": "while (true) {}", "timeout": 100}]
		}`))

		assert.False(t, result.Success)
		assert.Equal(t, schemas.ErrorKindExecution, result.ActionResults[0].ErrorKind)
	})

	t.Run("element that appears later is awaited", func(t *testing.T) {
		go func() {
			time.Sleep(50 * time.Millisecond)
			_, _ = p.RunScript(context.Background(), `document.getElementById("late").style.display = ""`)
		}()

		result := engine.Run(ctx, p, decodeCommand(t, `{
			"id": "cmd-5",
			"actions": [{"action": "waitForElement", "element_xpath": "//div[@id='late' and not(@style)]"}]
		}`))
		assert.True(t, result.Success, "results: %+v", result.ActionResults)
	})
}
