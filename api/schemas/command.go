package schemas

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	json "github.com/json-iterator/go"
)

// -- Command Schemas --

// ErrMissingCommandID is returned when a queued command carries no id.
var ErrMissingCommandID = errors.New("command has no id")

// CommandParams is the `params` object of a queued command.
type CommandParams struct {
	Data         []Action `json:"data,omitempty"`
	RetryCount   *int     `json:"retry_count,omitempty"`
	RetryDelayMs *int64   `json:"retry_delay,omitempty"`
	StopOnError  *bool    `json:"stop_on_error,omitempty"`
}

// Command is an ordered batch of Actions plus execution policy, as delivered by
// the queue.
type Command struct {
	ID string `json:"id"`
	// Text is the legacy free-form command string (e.g. "click //button").
	Text         string         `json:"command,omitempty"`
	Actions      []Action       `json:"actions,omitempty"`
	Params       *CommandParams `json:"params,omitempty"`
	StopOnError  *bool          `json:"stop_on_error,omitempty"`
	RetryCount   *int           `json:"retry_count,omitempty"`
	RetryDelayMs *int64         `json:"retry_delay,omitempty"`
	// TimeCreated is kept verbatim so the history report echoes what the queue sent.
	TimeCreated json.RawMessage `json:"time_created,omitempty"`
	StartedAt   time.Time       `json:"started_at,omitempty"`

	rawParams json.RawMessage
	decodeErr error
}

// commandAlias breaks the UnmarshalJSON recursion.
type commandAlias struct {
	ID           flexID          `json:"id"`
	Text         string          `json:"command"`
	Actions      json.RawMessage `json:"actions"`
	Params       json.RawMessage `json:"params"`
	StopOnError  *bool           `json:"stop_on_error"`
	RetryCount   *flexInt        `json:"retry_count"`
	RetryDelayMs *flexInt        `json:"retry_delay"`
	TimeCreated  json.RawMessage `json:"time_created"`
}

// UnmarshalJSON decodes a queued command. Only a structurally invalid envelope
// is an error; malformed actions or params are recorded and surface later
// through Validate, so that the command can still be reported to history.
func (c *Command) UnmarshalJSON(data []byte) error {
	var a commandAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return fmt.Errorf("decoding command: %w", err)
	}
	*c = Command{
		ID:          string(a.ID),
		Text:        a.Text,
		StopOnError: a.StopOnError,
		TimeCreated: a.TimeCreated,
	}
	if a.RetryCount != nil {
		n := int(*a.RetryCount)
		c.RetryCount = &n
	}
	if a.RetryDelayMs != nil {
		n := int64(*a.RetryDelayMs)
		c.RetryDelayMs = &n
	}
	if isPresent(a.Actions) {
		if err := json.Unmarshal(a.Actions, &c.Actions); err != nil {
			c.decodeErr = fmt.Errorf("invalid actions: %w", err)
		}
	}
	if isPresent(a.Params) {
		c.rawParams = a.Params
		var p paramsWire
		if err := json.Unmarshal(a.Params, &p); err != nil {
			if c.decodeErr == nil {
				c.decodeErr = fmt.Errorf("invalid params: %w", err)
			}
		} else {
			c.Params = p.toParams()
		}
	}
	return nil
}

// paramsWire tolerates numeric strings in the retry fields.
type paramsWire struct {
	Data         []Action `json:"data"`
	RetryCount   *flexInt `json:"retry_count"`
	RetryDelayMs *flexInt `json:"retry_delay"`
	StopOnError  *bool    `json:"stop_on_error"`
}

func (p paramsWire) toParams() *CommandParams {
	out := &CommandParams{Data: p.Data, StopOnError: p.StopOnError}
	if p.RetryCount != nil {
		n := int(*p.RetryCount)
		out.RetryCount = &n
	}
	if p.RetryDelayMs != nil {
		n := int64(*p.RetryDelayMs)
		out.RetryDelayMs = &n
	}
	return out
}

func isPresent(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s != "" && s != "null"
}

// RawParams returns the params object exactly as received, or a re-encoding of
// Params for commands built in code.
func (c Command) RawParams() json.RawMessage {
	if len(c.rawParams) > 0 {
		return c.rawParams
	}
	if c.Params == nil {
		return nil
	}
	b, err := json.Marshal(c.Params)
	if err != nil {
		return nil
	}
	return b
}

// Validate reports envelope problems found while decoding.
func (c Command) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return ErrMissingCommandID
	}
	return c.decodeErr
}

// ActionList resolves the command's actions. Top-level actions take precedence
// over params.data, which takes precedence over a legacy text command. A
// command with none of them has zero actions.
func (c Command) ActionList() ([]Action, error) {
	if c.decodeErr != nil {
		return nil, c.decodeErr
	}
	switch {
	case len(c.Actions) > 0:
		return c.Actions, nil
	case c.Params != nil && len(c.Params.Data) > 0:
		return c.Params.Data, nil
	case strings.TrimSpace(c.Text) != "":
		return ParseTextCommand(c.Text)
	}
	return []Action{}, nil
}

// ShouldStopOnError defaults to true when neither the command nor its params
// say otherwise.
func (c Command) ShouldStopOnError() bool {
	if c.StopOnError != nil {
		return *c.StopOnError
	}
	if c.Params != nil && c.Params.StopOnError != nil {
		return *c.Params.StopOnError
	}
	return true
}

// RetryPolicy returns the whole-command retry count and delay. Top-level fields
// win over params; negative values are clamped to zero.
func (c Command) RetryPolicy() (int, time.Duration) {
	count, delay := 0, int64(0)
	if c.Params != nil {
		if c.Params.RetryCount != nil {
			count = *c.Params.RetryCount
		}
		if c.Params.RetryDelayMs != nil {
			delay = *c.Params.RetryDelayMs
		}
	}
	if c.RetryCount != nil {
		count = *c.RetryCount
	}
	if c.RetryDelayMs != nil {
		delay = *c.RetryDelayMs
	}
	if count < 0 {
		count = 0
	}
	if delay < 0 {
		delay = 0
	}
	return count, Millis(delay)
}

// CreatedAt parses time_created. RFC 3339, "2006-01-02 15:04:05[.frac]" and
// Unix seconds or milliseconds are understood.
func (c Command) CreatedAt() (time.Time, bool) {
	s := strings.Trim(strings.TrimSpace(string(c.TimeCreated)), `"`)
	if s == "" || s == "null" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999", "2006-01-02T15:04:05.999999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if f > 1e12 {
			return time.UnixMilli(int64(f)).UTC(), true
		}
		sec := int64(f)
		return time.Unix(sec, int64((f-float64(sec))*1e9)).UTC(), true
	}
	return time.Time{}, false
}

// flexID accepts a string or numeric id.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*f = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var out string
		if err := json.Unmarshal(data, &out); err != nil {
			return err
		}
		*f = flexID(out)
		return nil
	}
	if _, err := strconv.ParseFloat(s, 64); err != nil {
		return fmt.Errorf("invalid id %s", s)
	}
	*f = flexID(s)
	return nil
}

// HistoryRecord is the body of a "move to history" report.
type HistoryRecord struct {
	Command     string          `json:"command"`
	ID          string          `json:"id"`
	Params      json.RawMessage `json:"params,omitempty"`
	TimeCreated json.RawMessage `json:"time_created,omitempty"`
	Result      CommandResult   `json:"result"`
}

// NewHistoryRecord pairs a command with its outcome.
func NewHistoryRecord(cmd Command, res CommandResult) HistoryRecord {
	return HistoryRecord{
		Command:     cmd.Text,
		ID:          cmd.ID,
		Params:      cmd.RawParams(),
		TimeCreated: cmd.TimeCreated,
		Result:      res,
	}
}

// IDsReport is the compact form of a "move to history" report.
type IDsReport struct {
	IDs []string `json:"ids"`
}
