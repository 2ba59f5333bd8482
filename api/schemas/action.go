package schemas

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	json "github.com/json-iterator/go"
)

// -- Action Schemas --

// ActionKind identifies the interaction an Action performs. The string value is
// the canonical wire name used in the `action` field.
type ActionKind string

const (
	ActionNavigate        ActionKind = "go"
	ActionClick           ActionKind = "click"
	ActionInput           ActionKind = "input"
	ActionSelect          ActionKind = "select"
	ActionSetCheckbox     ActionKind = "check"
	ActionScroll          ActionKind = "scroll"
	ActionGetText         ActionKind = "getText"
	ActionWait            ActionKind = "wait"
	ActionExecuteScript   ActionKind = "executeScript"
	ActionWaitForElement  ActionKind = "waitForElement"
	ActionWaitForPageLoad ActionKind = "waitForPageLoad"
)

// kindAliases maps lower-cased wire names (canonical and historical) onto kinds.
var kindAliases = map[string]ActionKind{
	"go":                 ActionNavigate,
	"navigate":           ActionNavigate,
	"click":              ActionClick,
	"input":              ActionInput,
	"type":               ActionInput,
	"select":             ActionSelect,
	"check":              ActionSetCheckbox,
	"checkbox":           ActionSetCheckbox,
	"scroll":             ActionScroll,
	"gettext":            ActionGetText,
	"get_text":           ActionGetText,
	"wait":               ActionWait,
	"executescript":      ActionExecuteScript,
	"execute_script":     ActionExecuteScript,
	"script":             ActionExecuteScript,
	"waitforelement":     ActionWaitForElement,
	"wait_for_element":   ActionWaitForElement,
	"waitforpageload":    ActionWaitForPageLoad,
	"wait_for_page_load": ActionWaitForPageLoad,
}

// ParseActionKind normalizes a wire name. Unknown names are returned verbatim so
// that validation can report them.
func ParseActionKind(s string) ActionKind {
	if k, ok := kindAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return k
	}
	return ActionKind(s)
}

// Known reports whether k is one of the supported kinds.
func (k ActionKind) Known() bool {
	switch k {
	case ActionNavigate, ActionClick, ActionInput, ActionSelect, ActionSetCheckbox,
		ActionScroll, ActionGetText, ActionWait, ActionExecuteScript,
		ActionWaitForElement, ActionWaitForPageLoad:
		return true
	}
	return false
}

// TargetsElement reports whether the kind always requires a locator. Scroll is
// excluded because it may run against the window instead.
func (k ActionKind) TargetsElement() bool {
	switch k {
	case ActionClick, ActionInput, ActionSelect, ActionSetCheckbox, ActionGetText, ActionWaitForElement:
		return true
	}
	return false
}

// Mutates reports whether the kind changes page state through the synthesizer.
func (k ActionKind) Mutates() bool {
	switch k {
	case ActionClick, ActionInput, ActionSelect, ActionSetCheckbox:
		return true
	}
	return false
}

func (k ActionKind) String() string { return string(k) }

// LocatorStrategy selects how a locator expression is evaluated.
type LocatorStrategy string

const (
	LocatorXPath LocatorStrategy = "xpath"
	LocatorCSS   LocatorStrategy = "css"
)

// Locator identifies zero or one element in the current document.
type Locator struct {
	Strategy   LocatorStrategy `json:"strategy"`
	Expression string          `json:"expression"`
}

// XPath builds an XPath locator.
func XPath(expr string) Locator { return Locator{Strategy: LocatorXPath, Expression: expr} }

// CSS builds a CSS selector locator.
func CSS(expr string) Locator { return Locator{Strategy: LocatorCSS, Expression: expr} }

// IsZero reports whether the locator carries no expression.
func (l Locator) IsZero() bool { return strings.TrimSpace(l.Expression) == "" }

func (l Locator) String() string {
	if l.IsZero() {
		return ""
	}
	return string(l.Strategy) + "=" + l.Expression
}

// Action is one atomic UI instruction.
type Action struct {
	Kind    ActionKind
	Locator Locator
	// Value is nil when the key was absent (or null) on the wire. An empty string
	// is a present value.
	Value        any
	StartDelayMs int64
	TimeoutMs    int64
}

// HasValue reports whether a value was supplied, regardless of its content.
func (a Action) HasValue() bool { return a.Value != nil }

// MaxDurationMs is the largest millisecond count a time.Duration can hold.
const MaxDurationMs = int64(math.MaxInt64 / time.Millisecond)

// Millis converts a millisecond count to a Duration, saturating instead of
// wrapping past MaxDurationMs.
func Millis(ms int64) time.Duration {
	if ms > MaxDurationMs {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(ms) * time.Millisecond
}

// StartDelay returns the pre-execution delay.
func (a Action) StartDelay() time.Duration {
	return Millis(a.StartDelayMs)
}

// Timeout returns the per-action wait override, or def when none is set.
func (a Action) Timeout(def time.Duration) time.Duration {
	if a.TimeoutMs > 0 {
		return Millis(a.TimeoutMs)
	}
	return def
}

// StringValue renders the value as a string. Numbers are rendered without
// exponent and booleans as "true"/"false".
func (a Action) StringValue() (string, bool) {
	switch v := a.Value.(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case bool:
		return strconv.FormatBool(v), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case json.Number:
		return v.String(), true
	default:
		return fmt.Sprint(v), true
	}
}

// IntValue interprets the value as an integer. Fractional numbers and
// non-numeric strings are rejected.
func (a Action) IntValue() (int64, bool) {
	switch v := a.Value.(type) {
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) || math.IsNaN(v) || v >= math.MaxInt64 || v < math.MinInt64 {
			return 0, false
		}
		return int64(v), true
	case int:
		return int64(v), true
	case int64:
		return v, true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n, err == nil
	}
	return 0, false
}

// BoolValue interprets the value as a checkbox state. Accepted forms are
// booleans, "true"/"false" (any case), and 1/0 as number or string.
func (a Action) BoolValue() (bool, bool) {
	switch v := a.Value.(type) {
	case bool:
		return v, true
	case float64:
		switch v {
		case 1:
			return true, true
		case 0:
			return false, true
		}
	case int:
		switch v {
		case 1:
			return true, true
		case 0:
			return false, true
		}
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1":
			return true, true
		case "false", "0":
			return false, true
		}
	}
	return false, false
}

// actionWire is the JSON form of an Action.
type actionWire struct {
	OnStart      flexInt `json:"on_start,omitempty"`
	Action       string  `json:"action"`
	ElementXPath string  `json:"element_xpath,omitempty"`
	Selector     string  `json:"selector,omitempty"`
	Value        any     `json:"value,omitempty"`
	Timeout      flexInt `json:"timeout,omitempty"`
}

// MarshalJSON encodes the action in its wire form.
func (a Action) MarshalJSON() ([]byte, error) {
	w := actionWire{
		OnStart: flexInt(a.StartDelayMs),
		Action:  string(a.Kind),
		Value:   a.Value,
		Timeout: flexInt(a.TimeoutMs),
	}
	switch a.Locator.Strategy {
	case LocatorCSS:
		w.Selector = a.Locator.Expression
	default:
		w.ElementXPath = a.Locator.Expression
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the wire form. When both element_xpath and selector are
// present, the XPath wins.
func (a *Action) UnmarshalJSON(data []byte) error {
	var w actionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decoding action: %w", err)
	}
	*a = Action{
		Kind:         ParseActionKind(w.Action),
		Value:        w.Value,
		StartDelayMs: int64(w.OnStart),
		TimeoutMs:    int64(w.Timeout),
	}
	switch {
	case strings.TrimSpace(w.ElementXPath) != "":
		a.Locator = XPath(w.ElementXPath)
	case strings.TrimSpace(w.Selector) != "":
		a.Locator = CSS(w.Selector)
	}
	return nil
}

// flexInt accepts a JSON number or a numeric string.
type flexInt int64

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*f = flexInt(n)
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid integer %q", s)
	}
	*f = flexInt(int64(n))
	return nil
}
