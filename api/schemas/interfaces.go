package schemas

import "context"

// -- Service Interfaces --

// CommandQueue is the external source of pending commands and sink for their
// outcomes.
type CommandQueue interface {
	// Fetch returns at most the configured number of pending commands. An empty
	// slice with a nil error means there is nothing to do.
	Fetch(ctx context.Context) ([]Command, error)
	// Report moves a processed command to history. It is safe to call once per
	// command id.
	Report(ctx context.Context, cmd Command, result CommandResult) error
}

// ResultJournal durably records processed commands.
type ResultJournal interface {
	Record(ctx context.Context, cmd Command, result CommandResult) error
}
