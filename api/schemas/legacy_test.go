package schemas_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/list91/SocketClicker/api/schemas"
)

func TestParseTextCommand(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name string
		in   string
		want []schemas.Action
	}{
		{"click", "click //button[@id='ok']", []schemas.Action{{Kind: schemas.ActionClick, Locator: schemas.XPath("//button[@id='ok']")}}},
		{"input keeps spaces", "input //input a b  c", []schemas.Action{{Kind: schemas.ActionInput, Locator: schemas.XPath("//input"), Value: "a b c"}}},
		{"input without text clears", "input //input", []schemas.Action{{Kind: schemas.ActionInput, Locator: schemas.XPath("//input"), Value: ""}}},
		{"navigate", "go https://example.org", []schemas.Action{{Kind: schemas.ActionNavigate, Value: "https://example.org"}}},
		{"wait", "wait 1500", []schemas.Action{{Kind: schemas.ActionWait, Value: float64(1500)}}},
		{"scroll down default", "scroll down", []schemas.Action{{Kind: schemas.ActionScroll, Value: "100"}}},
		{"scroll up amount", "scroll up 40", []schemas.Action{{Kind: schemas.ActionScroll, Value: "-40"}}},
		{"scroll top", "scroll top", []schemas.Action{{Kind: schemas.ActionScroll, Value: "0,0"}}},
		{"gettext", "gettext //h1", []schemas.Action{{Kind: schemas.ActionGetText, Locator: schemas.XPath("//h1")}}},
		{"ping", "ping", []schemas.Action{}},
		{"echo", "echo hi there", []schemas.Action{}},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			got, err := schemas.ParseTextCommand(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseTextCommandRejects(t *testing.T) {
	t.Parallel()
	for _, in := range []string{"fly away", "click", "wait soon", "scroll sideways", "go"} {
		_, err := schemas.ParseTextCommand(in)
		assert.Error(t, err, in)
	}
	_, err := schemas.ParseTextCommand("dance")
	assert.ErrorIs(t, err, schemas.ErrUnknownTextCommand)
}

func TestEchoText(t *testing.T) {
	t.Parallel()
	msg, ok := schemas.EchoText("echo hello   world")
	assert.True(t, ok)
	assert.Equal(t, "hello world", msg)

	msg, ok = schemas.EchoText("ping")
	assert.True(t, ok)
	assert.Equal(t, "pong", msg)

	_, ok = schemas.EchoText("click //a")
	assert.False(t, ok)
}
