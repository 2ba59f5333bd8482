package interpreter

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/list91/SocketClicker/api/schemas"
)

// ErrInvalidAction wraps every validation failure.
var ErrInvalidAction = errors.New("invalid action")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidAction, fmt.Sprintf(format, args...))
}

// Validate checks the kind-specific required fields of a. It is pure: it never
// touches a page.
func Validate(a schemas.Action) error {
	if !a.Kind.Known() {
		if a.Kind == "" {
			return invalid("action kind is missing")
		}
		return invalid("unknown action kind %q", a.Kind)
	}
	if a.StartDelayMs < 0 {
		return invalid("%s: on_start must not be negative, got %d", a.Kind, a.StartDelayMs)
	}
	if a.StartDelayMs > schemas.MaxDurationMs {
		return invalid("%s: on_start %dms is out of range", a.Kind, a.StartDelayMs)
	}
	if a.TimeoutMs > schemas.MaxDurationMs {
		return invalid("%s: timeout %dms is out of range", a.Kind, a.TimeoutMs)
	}
	if a.Kind.TargetsElement() && a.Locator.IsZero() {
		return invalid("%s requires a locator", a.Kind)
	}

	switch a.Kind {
	case schemas.ActionNavigate:
		target, ok := nonEmptyString(a)
		if !ok {
			return invalid("go requires a url value")
		}
		if _, err := url.Parse(target); err != nil {
			return invalid("go: malformed url %q: %v", target, err)
		}
	case schemas.ActionInput:
		// Presence, not truthiness: an explicit "" clears the field.
		if !a.HasValue() {
			return invalid("input requires a value (use \"\" to clear)")
		}
		if _, ok := a.Value.(bool); ok {
			return invalid("input value must be text or a number")
		}
	case schemas.ActionSelect:
		if _, ok := nonEmptyString(a); !ok {
			return invalid("select requires an option value")
		}
	case schemas.ActionSetCheckbox:
		if _, ok := a.BoolValue(); !ok {
			return invalid("check requires a boolean value, got %#v", a.Value)
		}
	case schemas.ActionWait:
		ms, ok := a.IntValue()
		if !ok {
			return invalid("wait requires an integer number of milliseconds, got %#v", a.Value)
		}
		if ms < 0 {
			return invalid("wait duration must not be negative, got %d", ms)
		}
		if ms > schemas.MaxDurationMs {
			return invalid("wait duration %dms is out of range", ms)
		}
	case schemas.ActionExecuteScript:
		if _, ok := nonEmptyString(a); !ok {
			return invalid("executeScript requires a script body")
		}
	case schemas.ActionScroll:
		hasLocator, hasValue := !a.Locator.IsZero(), a.HasValue()
		if hasLocator == hasValue {
			return invalid("scroll requires exactly one of a locator or a value")
		}
		if hasValue {
			if _, err := ParseScrollValue(a); err != nil {
				return err
			}
		}
	}
	return nil
}

func nonEmptyString(a schemas.Action) (string, bool) {
	s, ok := a.StringValue()
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

// ScrollTarget is a parsed scroll value.
type ScrollTarget struct {
	X, Y     float64
	Absolute bool
}

// ParseScrollValue reads "x,y" as absolute coordinates and a single number as
// a vertical delta.
func ParseScrollValue(a schemas.Action) (ScrollTarget, error) {
	if f, ok := a.Value.(float64); ok {
		return ScrollTarget{Y: f}, nil
	}
	s, ok := nonEmptyString(a)
	if !ok {
		return ScrollTarget{}, invalid("scroll value must be a number or \"x,y\"")
	}
	if x, y, found := strings.Cut(s, ","); found {
		fx, errX := strconv.ParseFloat(strings.TrimSpace(x), 64)
		fy, errY := strconv.ParseFloat(strings.TrimSpace(y), 64)
		if errX != nil || errY != nil {
			return ScrollTarget{}, invalid("scroll coordinates %q are not numeric", s)
		}
		return ScrollTarget{X: fx, Y: fy, Absolute: true}, nil
	}
	dy, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return ScrollTarget{}, invalid("scroll delta %q is not numeric", s)
	}
	return ScrollTarget{Y: dy}, nil
}
