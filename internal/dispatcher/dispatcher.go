// Package dispatcher implements the poll loop that pulls commands from the
// queue, runs them one at a time and reports every outcome to history.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/list91/SocketClicker/api/schemas"
	"github.com/list91/SocketClicker/internal/page"
)

// DefaultPollInterval is the tick cadence of the poll loop.
const DefaultPollInterval = 3 * time.Second

// defaultReportTimeout bounds a history report issued after shutdown began.
const defaultReportTimeout = 10 * time.Second

// State is the dispatcher's position in its tick cycle.
type State string

const (
	StateIdle       State = "idle"
	StateFetching   State = "fetching"
	StateProcessing State = "processing"
	StateReporting  State = "reporting"
)

// CommandRunner executes a command. *runner.Runner satisfies it.
type CommandRunner interface {
	Run(ctx context.Context, p page.Page, cmd schemas.Command) schemas.CommandResult
}

// Options configures a Dispatcher.
type Options struct {
	PollInterval time.Duration
	// StartPaused leaves the loop ticking without fetching until Resume is called.
	StartPaused bool
	// ReportTimeout bounds each history report.
	ReportTimeout time.Duration
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithJournal records every processed command to j after reporting.
func WithJournal(j schemas.ResultJournal) Option {
	return func(d *Dispatcher) { d.journal = j }
}

// Listener observes every processed command after it has been reported.
type Listener func(cmd schemas.Command, result schemas.CommandResult)

// WithListener registers l. Listeners run on the tick goroutine and must not block.
func WithListener(l Listener) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.listeners = append(d.listeners, l)
		}
	}
}

// Status is a point-in-time view of the dispatcher.
type Status struct {
	State          State     `json:"state"`
	Paused         bool      `json:"paused"`
	InFlight       []string  `json:"in_flight"`
	Ticks          uint64    `json:"ticks"`
	Processed      uint64    `json:"processed"`
	Failed         uint64    `json:"failed"`
	Skipped        uint64    `json:"skipped"`
	FetchErrors    uint64    `json:"fetch_errors"`
	ReportErrors   uint64    `json:"report_errors"`
	LastCommandID  string    `json:"last_command_id,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
	LastFinishedAt time.Time `json:"last_finished_at,omitempty"`
}

// Dispatcher owns the poll schedule and the set of in-flight command ids.
type Dispatcher struct {
	queue     schemas.CommandQueue
	runner    CommandRunner
	pages     page.Provider
	journal   schemas.ResultJournal
	listeners []Listener
	opts      Options
	logger    *zap.Logger

	fetching atomic.Bool
	paused   atomic.Bool

	mu       sync.Mutex
	state    State
	inFlight map[string]struct{}
	// reported holds ids whose history report succeeded, keyed to the report
	// time. A queue that serves one of them again before the next tick has
	// passed is returning a stale read.
	reported map[string]time.Time
	status   Status

	wg sync.WaitGroup
}

// New creates a Dispatcher.
func New(queue schemas.CommandQueue, runner CommandRunner, pages page.Provider, opts Options, logger *zap.Logger, options ...Option) (*Dispatcher, error) {
	if queue == nil {
		return nil, errors.New("command queue cannot be nil")
	}
	if runner == nil {
		return nil, errors.New("command runner cannot be nil")
	}
	if pages == nil {
		return nil, errors.New("page provider cannot be nil")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.ReportTimeout <= 0 {
		opts.ReportTimeout = defaultReportTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		queue:    queue,
		runner:   runner,
		pages:    pages,
		opts:     opts,
		logger:   logger.Named("dispatcher"),
		state:    StateIdle,
		inFlight: make(map[string]struct{}),
		reported: make(map[string]time.Time),
	}
	for _, o := range options {
		o(d)
	}
	d.paused.Store(opts.StartPaused)
	return d, nil
}

// Run ticks until ctx is canceled, then waits for the tick in progress to
// finish reporting. Each tick runs in its own goroutine so a slow command never
// delays the schedule.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("Dispatcher started",
		zap.Duration("poll_interval", d.opts.PollInterval),
		zap.Bool("paused", d.paused.Load()))

	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()

	d.spawnTick(ctx)
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Dispatcher stopping, waiting for in-flight work")
			d.wg.Wait()
			d.logger.Info("Dispatcher stopped")
			return nil
		case <-ticker.C:
			d.spawnTick(ctx)
		}
	}
}

func (d *Dispatcher) spawnTick(ctx context.Context) {
	if d.fetching.Load() {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("Dispatcher tick panicked", zap.Any("panic", r), zap.Stack("stack"))
				d.noteError(fmt.Sprintf("tick panic: %v", r))
			}
		}()
		d.ProcessOnce(ctx)
	}()
}

// ProcessOnce runs a single tick synchronously. It reports whether a command
// was processed.
func (d *Dispatcher) ProcessOnce(ctx context.Context) bool {
	d.mu.Lock()
	d.status.Ticks++
	d.mu.Unlock()

	if d.paused.Load() {
		return false
	}
	if ctx.Err() != nil {
		return false
	}
	// Only one fetch may be pending at a time.
	if !d.fetching.CompareAndSwap(false, true) {
		return false
	}
	if d.busy() {
		d.fetching.Store(false)
		d.logger.Debug("A command is in flight; skipping tick")
		d.noteSkip()
		return false
	}

	cmd, ok := d.fetchAndClaim(ctx)
	d.fetching.Store(false)
	if !ok {
		return false
	}
	defer d.release(cmd.ID)

	d.process(ctx, cmd)
	return true
}

// fetchAndClaim pulls at most one command and adds its id to the in-flight set.
func (d *Dispatcher) fetchAndClaim(ctx context.Context) (schemas.Command, bool) {
	d.setIdleState(StateFetching)
	defer d.setIdleState(StateIdle)

	cmds, err := d.queue.Fetch(ctx)
	if err != nil {
		if ctx.Err() == nil {
			d.logger.Warn("Failed to fetch commands", zap.Error(err))
		}
		d.mu.Lock()
		d.status.FetchErrors++
		d.status.LastError = err.Error()
		d.mu.Unlock()
		return schemas.Command{}, false
	}
	if len(cmds) == 0 {
		return schemas.Command{}, false
	}
	if len(cmds) > 1 {
		d.logger.Debug("Queue returned more than one command; taking the first", zap.Int("count", len(cmds)))
	}
	cmd := cmds[0]
	if cmd.ID == "" {
		d.logger.Error("Fetched command has no id and cannot be reported; skipping", zap.String("command", cmd.Text))
		d.noteSkip()
		return schemas.Command{}, false
	}

	// Resolve the page before claiming: without one the command stays queued.
	if _, err := d.pages.ActivePage(ctx); err != nil {
		d.logger.Warn("No active page; leaving command queued", zap.String("command_id", cmd.ID), zap.Error(err))
		d.noteSkip()
		return schemas.Command{}, false
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, dup := d.inFlight[cmd.ID]; dup {
		d.logger.Debug("Command already in flight; skipping tick", zap.String("command_id", cmd.ID))
		d.status.Skipped++
		return schemas.Command{}, false
	}
	if len(d.inFlight) > 0 {
		d.logger.Debug("Another command is in flight; skipping tick", zap.String("command_id", cmd.ID))
		d.status.Skipped++
		return schemas.Command{}, false
	}
	if at, ok := d.reported[cmd.ID]; ok && time.Since(at) < d.reportedWindow() {
		d.logger.Warn("Queue served a command that was already reported; skipping", zap.String("command_id", cmd.ID))
		d.status.Skipped++
		return schemas.Command{}, false
	}
	d.inFlight[cmd.ID] = struct{}{}
	d.state = StateProcessing
	return cmd, true
}

func (d *Dispatcher) busy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inFlight) > 0
}

// reportedWindow covers the tick that follows a report.
func (d *Dispatcher) reportedWindow() time.Duration {
	return 2 * d.opts.PollInterval
}

// markReported remembers id and forgets ids that left the window.
// The caller holds d.mu.
func (d *Dispatcher) markReported(id string, at time.Time) {
	for old, t := range d.reported {
		if at.Sub(t) >= d.reportedWindow() {
			delete(d.reported, old)
		}
	}
	d.reported[id] = at
}

func (d *Dispatcher) release(id string) {
	d.mu.Lock()
	delete(d.inFlight, id)
	d.state = StateIdle
	d.mu.Unlock()
}

// process runs a claimed command and always reports its outcome.
func (d *Dispatcher) process(ctx context.Context, cmd schemas.Command) {
	logger := d.logger.With(zap.String("command_id", cmd.ID))
	logger.Info("Processing command")

	var result schemas.CommandResult
	p, err := d.pages.ActivePage(ctx)
	if err != nil {
		logger.Warn("Active page disappeared before execution", zap.Error(err))
		result = schemas.NewCommandResult(cmd.ID, []schemas.ActionResult{
			schemas.Failed("", schemas.ErrorKindExecution, fmt.Sprintf("no active page: %v", err)),
		})
		result.Attempts = 1
	} else {
		result = d.runSafely(ctx, p, cmd)
	}

	d.setOwnedState(StateReporting)
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.opts.ReportTimeout)
	defer cancel()
	reportErr := d.queue.Report(rctx, cmd, result)
	if reportErr != nil {
		logger.Error("Failed to report command to history", zap.Error(reportErr))
	}
	if d.journal != nil {
		if err := d.journal.Record(rctx, cmd, result); err != nil {
			logger.Warn("Failed to journal command result", zap.Error(err))
		}
	}

	d.mu.Lock()
	d.status.Processed++
	if !result.Success {
		d.status.Failed++
	}
	finished := time.Now().UTC()
	if reportErr != nil {
		d.status.ReportErrors++
		d.status.LastError = reportErr.Error()
	} else {
		d.markReported(cmd.ID, time.Now())
	}
	d.status.LastCommandID = cmd.ID
	d.status.LastFinishedAt = finished
	d.mu.Unlock()

	for _, l := range d.listeners {
		l(cmd, result)
	}
	logger.Info("Command processed", zap.Bool("success", result.Success), zap.Bool("reported", reportErr == nil))
}

// runSafely shields the loop from a panicking runner.
func (d *Dispatcher) runSafely(ctx context.Context, p page.Page, cmd schemas.Command) (result schemas.CommandResult) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Command runner panicked", zap.String("command_id", cmd.ID), zap.Any("panic", r))
			result = schemas.NewCommandResult(cmd.ID, []schemas.ActionResult{
				schemas.Failed("", schemas.ErrorKindExecution, fmt.Sprintf("runner panic: %v", r)),
			})
			result.Attempts = 1
		}
	}()
	return d.runner.Run(ctx, p, cmd)
}

// setIdleState moves between idle and fetching only while no command is owned.
func (d *Dispatcher) setIdleState(s State) {
	d.mu.Lock()
	if len(d.inFlight) == 0 {
		d.state = s
	}
	d.mu.Unlock()
}

func (d *Dispatcher) setOwnedState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

func (d *Dispatcher) noteSkip() {
	d.mu.Lock()
	d.status.Skipped++
	d.mu.Unlock()
}

func (d *Dispatcher) noteError(msg string) {
	d.mu.Lock()
	d.status.LastError = msg
	d.mu.Unlock()
}

// Pause stops fetching new commands. A command already running finishes.
func (d *Dispatcher) Pause() {
	if !d.paused.Swap(true) {
		d.logger.Info("Dispatcher paused")
	}
}

// Resume re-enables fetching.
func (d *Dispatcher) Resume() {
	if d.paused.Swap(false) {
		d.logger.Info("Dispatcher resumed")
	}
}

// Paused reports whether fetching is disabled.
func (d *Dispatcher) Paused() bool { return d.paused.Load() }

// Status returns a snapshot of the dispatcher.
func (d *Dispatcher) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.status
	s.State = d.state
	s.Paused = d.paused.Load()
	s.InFlight = make([]string, 0, len(d.inFlight))
	for id := range d.inFlight {
		s.InFlight = append(s.InFlight, id)
	}
	sort.Strings(s.InFlight)
	return s
}
