package schemas

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnknownTextCommand is returned for legacy command strings that have no
// action translation.
var ErrUnknownTextCommand = errors.New("unknown text command")

// defaultScrollStep is the pixel distance for "scroll up|down" without an amount.
const defaultScrollStep = 100

// ParseTextCommand translates a legacy free-form command string into actions.
//
//	click <xpath>
//	input <xpath> <text...>
//	go|navigate <url>
//	wait <ms>
//	scroll up|down [px]
//	scroll top|bottom
//	gettext <xpath>
//	ping
//	echo <text...>
//
// ping and echo yield zero actions: they succeed without touching the page.
func ParseTextCommand(text string) ([]Action, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return []Action{}, nil
	}
	verb := strings.ToLower(fields[0])
	args := fields[1:]

	switch verb {
	case "ping", "echo":
		return []Action{}, nil
	case "click", "gettext", "get_text":
		if len(args) != 1 {
			return nil, fmt.Errorf("%s expects exactly one locator, got %d arguments", verb, len(args))
		}
		return []Action{{Kind: ParseActionKind(verb), Locator: XPath(args[0])}}, nil
	case "input", "type":
		if len(args) < 1 {
			return nil, fmt.Errorf("%s expects a locator", verb)
		}
		return []Action{{Kind: ActionInput, Locator: XPath(args[0]), Value: strings.Join(args[1:], " ")}}, nil
	case "go", "navigate", "open":
		if len(args) != 1 {
			return nil, fmt.Errorf("%s expects exactly one url", verb)
		}
		return []Action{{Kind: ActionNavigate, Value: args[0]}}, nil
	case "wait", "sleep":
		if len(args) != 1 {
			return nil, fmt.Errorf("%s expects a duration in milliseconds", verb)
		}
		ms, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || ms < 0 {
			return nil, fmt.Errorf("%s: invalid duration %q", verb, args[0])
		}
		return []Action{{Kind: ActionWait, Value: float64(ms)}}, nil
	case "scroll":
		return parseScroll(args)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownTextCommand, verb)
}

// EchoText returns the payload of a legacy "echo" command, if text is one.
func EchoText(text string) (string, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", false
	}
	switch strings.ToLower(fields[0]) {
	case "echo":
		return strings.Join(fields[1:], " "), true
	case "ping":
		return "pong", true
	}
	return "", false
}

func parseScroll(args []string) ([]Action, error) {
	if len(args) == 0 {
		return nil, errors.New("scroll expects a direction")
	}
	step := defaultScrollStep
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 0 {
			return nil, fmt.Errorf("scroll: invalid amount %q", args[1])
		}
		step = n
	}
	var value string
	switch strings.ToLower(args[0]) {
	case "down":
		value = strconv.Itoa(step)
	case "up":
		value = strconv.Itoa(-step)
	case "top":
		value = "0,0"
	case "bottom":
		// The window clamps to the document height.
		value = "0,1000000000"
	default:
		return nil, fmt.Errorf("scroll: unknown direction %q", args[0])
	}
	return []Action{{Kind: ActionScroll, Value: value}}, nil
}
