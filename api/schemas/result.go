package schemas

import (
	"time"
)

// -- Result Schemas --

// ErrorKind classifies a failed ActionResult.
type ErrorKind string

const (
	// ErrorKindValidation marks malformed or missing Action fields. The page is never touched.
	ErrorKindValidation ErrorKind = "ValidationError"
	// ErrorKindElementNotFound marks a locator that did not resolve within its timeout.
	ErrorKindElementNotFound ErrorKind = "ElementNotFound"
	// ErrorKindTimeout marks a non-locator wait (page load, script) that exceeded its bound.
	ErrorKindTimeout ErrorKind = "Timeout"
	// ErrorKindExecution marks a failure during page mutation, script execution or transport.
	ErrorKindExecution ErrorKind = "ExecutionError"
)

// ActionResult is the outcome of a single Action execution.
type ActionResult struct {
	Action     ActionKind     `json:"action,omitempty"`
	Success    bool           `json:"success"`
	ErrorKind  ErrorKind      `json:"error_kind,omitempty"`
	Message    string         `json:"message"`
	Data       map[string]any `json:"data,omitempty"`
	DurationMs int64          `json:"duration_ms"`
}

// Succeeded builds a successful result.
func Succeeded(kind ActionKind, message string, data map[string]any) ActionResult {
	return ActionResult{Action: kind, Success: true, Message: message, Data: data}
}

// Failed builds a failed result of the given error kind.
func Failed(kind ActionKind, errKind ErrorKind, message string) ActionResult {
	return ActionResult{Action: kind, Success: false, ErrorKind: errKind, Message: message}
}

// CommandResult aggregates the ActionResults of one Command attempt.
type CommandResult struct {
	CommandID     string         `json:"command_id"`
	Success       bool           `json:"success"`
	ActionResults []ActionResult `json:"action_results"`
	Attempts      int            `json:"attempts"`
	StartedAt     time.Time      `json:"started_at"`
	FinishedAt    time.Time      `json:"finished_at"`
}

// NewCommandResult folds action results into a CommandResult. Success is the
// conjunction of every recorded result, and vacuously true for none.
func NewCommandResult(commandID string, results []ActionResult) CommandResult {
	if results == nil {
		results = []ActionResult{}
	}
	success := true
	for _, r := range results {
		if !r.Success {
			success = false
			break
		}
	}
	return CommandResult{CommandID: commandID, Success: success, ActionResults: results}
}

// FirstFailure returns the first failed action result, if any.
func (r CommandResult) FirstFailure() (ActionResult, bool) {
	for _, ar := range r.ActionResults {
		if !ar.Success {
			return ar, true
		}
	}
	return ActionResult{}, false
}
