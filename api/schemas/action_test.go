package schemas_test

import (
	"math"
	"testing"
	"time"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/list91/SocketClicker/api/schemas"
)

func TestParseActionKind(t *testing.T) {
	t.Parallel()
	testCases := map[string]schemas.ActionKind{
		"go":              schemas.ActionNavigate,
		"navigate":        schemas.ActionNavigate,
		"Click":           schemas.ActionClick,
		" input ":         schemas.ActionInput,
		"checkbox":        schemas.ActionSetCheckbox,
		"check":           schemas.ActionSetCheckbox,
		"get_text":        schemas.ActionGetText,
		"getText":         schemas.ActionGetText,
		"waitForElement":  schemas.ActionWaitForElement,
		"waitForPageLoad": schemas.ActionWaitForPageLoad,
		"executeScript":   schemas.ActionExecuteScript,
	}
	for in, want := range testCases {
		assert.Equal(t, want, schemas.ParseActionKind(in), "input %q", in)
		assert.True(t, want.Known())
	}

	unknown := schemas.ParseActionKind("teleport")
	assert.Equal(t, schemas.ActionKind("teleport"), unknown, "unknown names are kept verbatim")
	assert.False(t, unknown.Known())
}

func TestActionUnmarshalWireForm(t *testing.T) {
	t.Parallel()

	t.Run("full xpath action", func(t *testing.T) {
		var a schemas.Action
		err := json.Unmarshal([]byte(`{"on_start":250,"action":"input","element_xpath":"//input[@id='q']","value":"hello","timeout":1500}`), &a)
		require.NoError(t, err)

		assert.Equal(t, schemas.ActionInput, a.Kind)
		assert.Equal(t, schemas.XPath("//input[@id='q']"), a.Locator)
		assert.Equal(t, "hello", a.Value)
		assert.EqualValues(t, 250, a.StartDelayMs)
		assert.EqualValues(t, 1500, a.TimeoutMs)
	})

	t.Run("css selector and numeric strings", func(t *testing.T) {
		var a schemas.Action
		err := json.Unmarshal([]byte(`{"on_start":"100","action":"click","selector":"#go","timeout":"2000"}`), &a)
		require.NoError(t, err)

		assert.Equal(t, schemas.CSS("#go"), a.Locator)
		assert.EqualValues(t, 100, a.StartDelayMs)
		assert.EqualValues(t, 2000, a.TimeoutMs)
		assert.False(t, a.HasValue())
	})

	t.Run("xpath wins over selector", func(t *testing.T) {
		var a schemas.Action
		require.NoError(t, json.Unmarshal([]byte(`{"action":"click","element_xpath":"//a","selector":"a"}`), &a))
		assert.Equal(t, schemas.LocatorXPath, a.Locator.Strategy)
	})

	t.Run("empty string value is present", func(t *testing.T) {
		var a schemas.Action
		require.NoError(t, json.Unmarshal([]byte(`{"action":"input","element_xpath":"//input","value":""}`), &a))
		assert.True(t, a.HasValue())
	})

	t.Run("null value is absent", func(t *testing.T) {
		var a schemas.Action
		require.NoError(t, json.Unmarshal([]byte(`{"action":"input","element_xpath":"//input","value":null}`), &a))
		assert.False(t, a.HasValue())
	})

	t.Run("garbage on_start is rejected", func(t *testing.T) {
		var a schemas.Action
		assert.Error(t, json.Unmarshal([]byte(`{"action":"wait","on_start":"soon"}`), &a))
	})
}

func TestActionMarshalKeepsWireNames(t *testing.T) {
	t.Parallel()
	a := schemas.Action{Kind: schemas.ActionSelect, Locator: schemas.CSS("select#c"), Value: "de", StartDelayMs: 10}

	b, err := json.Marshal(a)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, "select", m["action"])
	assert.Equal(t, "select#c", m["selector"])
	assert.Equal(t, "de", m["value"])
	assert.EqualValues(t, 10, m["on_start"])
	assert.NotContains(t, m, "element_xpath")
	assert.NotContains(t, m, "timeout")
}

func TestActionValueCoercion(t *testing.T) {
	t.Parallel()

	t.Run("IntValue", func(t *testing.T) {
		cases := []struct {
			value any
			want  int64
			ok    bool
		}{
			{float64(500), 500, true},
			{"750", 750, true},
			{" 20 ", 20, true},
			{float64(1.5), 0, false},
			{float64(1e19), 0, false},
			{"abc", 0, false},
			{true, 0, false},
			{nil, 0, false},
		}
		for _, tc := range cases {
			got, ok := schemas.Action{Value: tc.value}.IntValue()
			assert.Equal(t, tc.ok, ok, "value %#v", tc.value)
			assert.Equal(t, tc.want, got, "value %#v", tc.value)
		}
	})

	t.Run("BoolValue", func(t *testing.T) {
		cases := []struct {
			value any
			want  bool
			ok    bool
		}{
			{true, true, true},
			{false, false, true},
			{"TRUE", true, true},
			{"false", false, true},
			{float64(1), true, true},
			{"0", false, true},
			{"yes", false, false},
			{float64(2), false, false},
			{nil, false, false},
		}
		for _, tc := range cases {
			got, ok := schemas.Action{Value: tc.value}.BoolValue()
			assert.Equal(t, tc.ok, ok, "value %#v", tc.value)
			assert.Equal(t, tc.want, got, "value %#v", tc.value)
		}
	})

	t.Run("StringValue", func(t *testing.T) {
		s, ok := schemas.Action{Value: float64(100)}.StringValue()
		assert.True(t, ok)
		assert.Equal(t, "100", s)

		s, ok = schemas.Action{Value: false}.StringValue()
		assert.True(t, ok)
		assert.Equal(t, "false", s)

		_, ok = schemas.Action{}.StringValue()
		assert.False(t, ok)
	})
}

func TestMillisSaturates(t *testing.T) {
	assert.Equal(t, 250*time.Millisecond, schemas.Millis(250))
	assert.Equal(t, time.Duration(schemas.MaxDurationMs)*time.Millisecond, schemas.Millis(schemas.MaxDurationMs))
	assert.Equal(t, time.Duration(math.MaxInt64), schemas.Millis(1e13))

	a := schemas.Action{StartDelayMs: 1e13, TimeoutMs: 1e13}
	assert.Positive(t, a.StartDelay(), "a huge delay must not wrap negative")
	assert.Positive(t, a.Timeout(time.Second))
}

func TestKindClassification(t *testing.T) {
	t.Parallel()
	for _, k := range []schemas.ActionKind{schemas.ActionClick, schemas.ActionInput, schemas.ActionSelect, schemas.ActionSetCheckbox, schemas.ActionGetText, schemas.ActionWaitForElement} {
		assert.True(t, k.TargetsElement(), "%s should require a locator", k)
	}
	for _, k := range []schemas.ActionKind{schemas.ActionNavigate, schemas.ActionScroll, schemas.ActionWait, schemas.ActionExecuteScript, schemas.ActionWaitForPageLoad} {
		assert.False(t, k.TargetsElement(), "%s should not require a locator", k)
	}
}
