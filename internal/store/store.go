package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/list91/SocketClicker/api/schemas"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS command_results (
    id          BIGSERIAL PRIMARY KEY,
    command_id  TEXT        NOT NULL,
    command     TEXT        NOT NULL DEFAULT '',
    params      JSONB,
    success     BOOLEAN     NOT NULL,
    attempts    INTEGER     NOT NULL,
    started_at  TIMESTAMPTZ,
    finished_at TIMESTAMPTZ NOT NULL,
    result      JSONB       NOT NULL
);
CREATE INDEX IF NOT EXISTS command_results_command_id_idx ON command_results (command_id);
CREATE TABLE IF NOT EXISTS command_action_results (
    result_id   BIGINT  NOT NULL REFERENCES command_results (id) ON DELETE CASCADE,
    idx         INTEGER NOT NULL,
    action      TEXT    NOT NULL,
    success     BOOLEAN NOT NULL,
    error_kind  TEXT    NOT NULL DEFAULT '',
    message     TEXT    NOT NULL DEFAULT '',
    duration_ms BIGINT  NOT NULL DEFAULT 0,
    PRIMARY KEY (result_id, idx)
);`

const insertResultSQL = `
        INSERT INTO command_results (command_id, command, params, success, attempts, started_at, finished_at, result)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING id;
    `

const recentResultsSQL = `
        SELECT command_id, command, success, attempts, finished_at, result
        FROM command_results
        ORDER BY finished_at DESC, id DESC
        LIMIT $1;
    `

const resultsByCommandSQL = `
        SELECT command_id, command, success, attempts, finished_at, result
        FROM command_results
        WHERE command_id = $1
        ORDER BY finished_at ASC, id ASC;
    `

var actionResultColumns = []string{"result_id", "idx", "action", "success", "error_kind", "message", "duration_ms"}

// Entry is one journaled command outcome.
type Entry struct {
	CommandID  string                `json:"command_id"`
	Command    string                `json:"command,omitempty"`
	Success    bool                  `json:"success"`
	Attempts   int                   `json:"attempts"`
	FinishedAt time.Time             `json:"finished_at"`
	Result     schemas.CommandResult `json:"result"`
}

// Journal is a PostgreSQL log of every processed command. It implements
// schemas.ResultJournal.
type Journal struct {
	pool DBPool
	log  *zap.Logger
}

var _ schemas.ResultJournal = (*Journal)(nil)

// New creates a journal and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Journal, error) {
	if pool == nil {
		return nil, errors.New("database pool cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Journal{pool: pool, log: logger.Named("store")}, nil
}

// Connect opens a pgx pool for url, prepares the schema and returns the
// journal with a function that closes the pool.
func Connect(ctx context.Context, url string, logger *zap.Logger) (*Journal, func(), error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	j, err := New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	if err := j.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return j, pool.Close, nil
}

// EnsureSchema creates the journal tables if they do not exist.
func (j *Journal) EnsureSchema(ctx context.Context) error {
	if _, err := j.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create journal schema: %w", err)
	}
	return nil
}

// Record stores a command outcome and its per-action rows in one transaction.
func (j *Journal) Record(ctx context.Context, cmd schemas.Command, result schemas.CommandResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	var params []byte
	if raw := cmd.RawParams(); len(raw) > 0 && string(raw) != "null" {
		params = raw
	}
	var startedAt *time.Time
	if !result.StartedAt.IsZero() {
		t := result.StartedAt.UTC()
		startedAt = &t
	}
	finishedAt := result.FinishedAt.UTC()
	if result.FinishedAt.IsZero() {
		finishedAt = time.Now().UTC()
	}

	tx, err := j.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			j.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	var resultID int64
	err = tx.QueryRow(ctx, insertResultSQL,
		cmd.ID, cmd.Text, params, result.Success, result.Attempts, startedAt, finishedAt, resultJSON,
	).Scan(&resultID)
	if err != nil {
		return fmt.Errorf("failed to insert command result: %w", err)
	}

	if len(result.ActionResults) > 0 {
		rows := make([][]any, len(result.ActionResults))
		for i, ar := range result.ActionResults {
			rows[i] = []any{resultID, i, string(ar.Action), ar.Success, string(ar.ErrorKind), ar.Message, ar.DurationMs}
		}
		n, err := tx.CopyFrom(ctx, pgx.Identifier{"command_action_results"}, actionResultColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("failed to copy action results: %w", err)
		}
		if int(n) != len(rows) {
			return fmt.Errorf("mismatch in copied action results: expected %d, got %d", len(rows), n)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	j.log.Debug("Journaled command result", zap.String("command_id", cmd.ID), zap.Int64("result_id", resultID))
	return nil
}

// Recent returns the latest journaled outcomes, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.pool.Query(ctx, recentResultsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent results: %w", err)
	}
	return scanEntries(rows)
}

// ByCommand returns every journaled outcome of one command id, oldest first.
func (j *Journal) ByCommand(ctx context.Context, commandID string) ([]Entry, error) {
	rows, err := j.pool.Query(ctx, resultsByCommandSQL, commandID)
	if err != nil {
		return nil, fmt.Errorf("failed to query results for %s: %w", commandID, err)
	}
	return scanEntries(rows)
}

func scanEntries(rows pgx.Rows) ([]Entry, error) {
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var raw []byte
		if err := rows.Scan(&e.CommandID, &e.Command, &e.Success, &e.Attempts, &e.FinishedAt, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan result row: %w", err)
		}
		if err := json.Unmarshal(raw, &e.Result); err != nil {
			return nil, fmt.Errorf("failed to decode stored result for %s: %w", e.CommandID, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return entries, nil
}
