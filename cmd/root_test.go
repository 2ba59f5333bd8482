package cmd

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/list91/SocketClicker/internal/config"
	"github.com/list91/SocketClicker/internal/mocks"
	"github.com/list91/SocketClicker/internal/observability"
)

// executeCommand runs a fresh command tree with args and captures stdout.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	observability.ResetForTest()
	t.Cleanup(observability.ResetForTest)

	root := NewRootCommand()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append(args, "--env-file", ""))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestRootCmd_Version(t *testing.T) {
	out, err := executeCommand(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "socketclicker "+Version)

	out, err = executeCommand(t, "--version")
	require.NoError(t, err)
	assert.Equal(t, Version+"\n", out)
}

func TestRootCmd_InvalidConfig(t *testing.T) {
	cfg := writeFile(t, "config.yaml", "browser:\n  driver: firefox\n")
	_, err := executeCommand(t, "validate", "-c", cfg, "-")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "browser.driver")
}

func TestValidateCmd(t *testing.T) {
	good := writeFile(t, "good.json", `{"id": 7, "actions": [{"action": "click", "element_xpath": "//button"}]}`)
	bad := writeFile(t, "bad.json", `[
		{"id": "a", "actions": [{"action": "dance"}]},
		{"id": "b", "actions": [{"action": "input", "value": "x"}]},
		{"actions": [{"action": "wait", "value": 10}]}
	]`)

	t.Run("valid file", func(t *testing.T) {
		out, err := executeCommand(t, "validate", good)
		require.NoError(t, err)
		assert.Contains(t, out, "command 7 ok")
	})

	t.Run("problems are listed", func(t *testing.T) {
		out, err := executeCommand(t, "validate", bad)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "3 invalid")
		assert.Contains(t, out, `unknown action "dance"`)
		assert.Contains(t, out, "input needs an element locator")
		assert.Contains(t, out, "command has no id")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := executeCommand(t, "validate", filepath.Join(t.TempDir(), "nope.json"))
		assert.Error(t, err)
	})
}

const signupHTML = `<html><body>
<form id="f" onsubmit="return false">
  <input id="name">
  <label><input id="terms" type="checkbox"> I agree</label>
  <button id="send">Send</button>
</form>
<p id="out"></p>
<script>
  document.getElementById("f").addEventListener("submit", function () {
    document.getElementById("out").textContent = "hello " + document.getElementById("name").value;
  });
</script>
</body></html>`

func TestExecCmd_InMemoryPage(t *testing.T) {
	// -- Setup --
	markup := writeFile(t, "signup.html", signupHTML)
	commands := writeFile(t, "cmds.json", `{
		"id": "c1",
		"actions": [
			{"action": "input", "selector": "#name", "value": "Ada"},
			{"action": "check", "selector": "#terms", "value": true},
			{"action": "click", "selector": "#send"},
			{"action": "getText", "selector": "#out"}
		]
	}`)

	// -- Execution --
	out, err := executeCommand(t, "exec", commands, "--html", markup, "--events")

	// -- Assertions --
	require.NoError(t, err)
	var report execReport
	require.NoError(t, json.UnmarshalFromString(out, &report))
	require.Len(t, report.Results, 1)
	result := report.Results[0]
	require.True(t, result.Success, "%+v", result.ActionResults)
	assert.Equal(t, "hello Ada", result.ActionResults[3].Data["text"])
	assert.NotEmpty(t, report.Events)
}

func TestExecCmd_FailureIsAnError(t *testing.T) {
	markup := writeFile(t, "page.html", `<p>nothing here</p>`)
	commands := writeFile(t, "cmds.json", `{"id": "c2", "actions": [{"action": "click", "selector": "#missing", "timeout": 50}]}`)

	out, err := executeCommand(t, "exec", commands, "--html", markup)
	require.Error(t, err)
	assert.Contains(t, out, "ElementNotFound")
}

func TestExecCmd_AssignsMissingIDs(t *testing.T) {
	markup := writeFile(t, "page.html", `<p id="msg">hi</p>`)
	commands := writeFile(t, "cmds.json", `[{"actions": [{"action": "getText", "selector": "#msg"}]}]`)

	out, err := executeCommand(t, "exec", commands, "--html", markup)
	require.NoError(t, err)

	var report execReport
	require.NoError(t, json.UnmarshalFromString(out, &report))
	require.Len(t, report.Results, 1)
	assert.Len(t, report.Results[0].CommandID, 36)
}

// fakeQueue serves one command, then an empty queue, and records reports.
type fakeQueue struct {
	mu      sync.Mutex
	served  bool
	reports [][]byte
}

func (q *fakeQueue) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q.mu.Lock()
	defer q.mu.Unlock()
	switch r.Method {
	case http.MethodGet:
		if q.served {
			_, _ = io.WriteString(w, `[]`)
			return
		}
		q.served = true
		_, _ = io.WriteString(w, `[{"id": 42, "command": "", "params": {"data": [{"action": "executeScript", "value": "return 6 * 7"}]}, "time_created": "2026-01-02T03:04:05"}]`)
	case http.MethodPost:
		body, _ := io.ReadAll(r.Body)
		q.reports = append(q.reports, body)
		_, _ = io.WriteString(w, `{"status": "ok"}`)
	}
}

func TestRunCmd_Once(t *testing.T) {
	// -- Setup --
	q := &fakeQueue{}
	srv := httptest.NewServer(q)
	defer srv.Close()

	cfg := writeFile(t, "config.yaml", `
queue:
  base_url: `+srv.URL+`
  rate_limit: 0
browser:
  driver: static
control:
  enabled: false
engine:
  pacing: 0s
`)

	// -- Execution --
	_, err := executeCommand(t, "run", "--once", "-c", cfg)

	// -- Assertions --
	require.NoError(t, err)
	q.mu.Lock()
	defer q.mu.Unlock()
	require.Len(t, q.reports, 1)

	var report map[string]any
	require.NoError(t, json.Unmarshal(q.reports[0], &report))
	assert.EqualValues(t, "42", report["id"])
	assert.Contains(t, string(q.reports[0]), "42")
}

func TestRunWorker_QueueFailureStopsStartup(t *testing.T) {
	// -- Setup --
	cfg := new(mocks.MockConfig)
	cfg.On("Queue").Return(config.QueueConfig{Backend: "carrier-pigeon"})

	// -- Execution --
	err := runWorker(context.Background(), cfg, zaptest.NewLogger(t), true)

	// -- Assertions --
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open command queue")
	cfg.AssertExpectations(t)
	cfg.AssertNotCalled(t, "Browser")
}
