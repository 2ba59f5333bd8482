package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	json "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/list91/SocketClicker/api/schemas"
	"github.com/list91/SocketClicker/internal/config"
)

// Default Redis keys.
const (
	DefaultPendingKey = "socketclicker:pending"
	DefaultHistoryKey = "socketclicker:history"
)

// ErrUnknownCommand is returned when reporting a command this queue never handed out.
var ErrUnknownCommand = errors.New("command was not fetched from this queue")

// quarantineRecord is pushed to history for a pending entry that cannot be decoded.
type quarantineRecord struct {
	Raw    string                `json:"raw"`
	Error  string                `json:"error"`
	Result schemas.CommandResult `json:"result"`
}

// RedisQueue keeps pending commands in a Redis list. Fetch peeks at the head;
// an entry only leaves the pending list when it is reported.
type RedisQueue struct {
	rdb        *redis.Client
	pendingKey string
	historyKey string
	mode       config.ReportMode
	logger     *zap.Logger

	mu  sync.Mutex
	raw map[string]string // command id -> raw pending entry
}

// DialRedis connects to the server named by a redis:// URL and pings it.
func DialRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}

// NewRedisQueue wraps a connected client.
func NewRedisQueue(rdb *redis.Client, cfg config.QueueConfig, logger *zap.Logger) (*RedisQueue, error) {
	if rdb == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	pending, history := cfg.PendingKey, cfg.HistoryKey
	if pending == "" {
		pending = DefaultPendingKey
	}
	if history == "" {
		history = DefaultHistoryKey
	}
	return &RedisQueue{
		rdb:        rdb,
		pendingKey: pending,
		historyKey: history,
		mode:       cfg.ReportMode,
		logger:     logger.Named("queue.redis"),
		raw:        make(map[string]string),
	}, nil
}

// Push appends a raw command to the pending list.
func (q *RedisQueue) Push(ctx context.Context, cmd schemas.Command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encoding command %s: %w", cmd.ID, err)
	}
	return q.rdb.RPush(ctx, q.pendingKey, data).Err()
}

// Fetch returns the head of the pending list without removing it.
func (q *RedisQueue) Fetch(ctx context.Context) ([]schemas.Command, error) {
	raw, err := q.rdb.LIndex(ctx, q.pendingKey, 0).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading pending head: %w", err)
	}

	var cmd schemas.Command
	if err := json.UnmarshalFromString(raw, &cmd); err != nil {
		return nil, q.quarantine(ctx, raw, err)
	}
	if cmd.ID == "" {
		return nil, q.quarantine(ctx, raw, schemas.ErrMissingCommandID)
	}

	q.mu.Lock()
	q.raw[cmd.ID] = raw
	q.mu.Unlock()
	return []schemas.Command{cmd}, nil
}

// Report atomically removes the command from pending and appends its history
// record.
func (q *RedisQueue) Report(ctx context.Context, cmd schemas.Command, result schemas.CommandResult) error {
	q.mu.Lock()
	raw, ok := q.raw[cmd.ID]
	q.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.ID)
	}

	payload, err := encodeReport(q.mode, cmd, result)
	if err != nil {
		return err
	}
	if err := q.move(ctx, raw, payload); err != nil {
		return fmt.Errorf("moving command %s to history: %w", cmd.ID, err)
	}

	q.mu.Lock()
	delete(q.raw, cmd.ID)
	q.mu.Unlock()
	return nil
}

// quarantine moves an undecodable head entry straight to history so it cannot
// block the list.
func (q *RedisQueue) quarantine(ctx context.Context, raw string, cause error) error {
	q.logger.Error("Quarantining undecodable pending entry", zap.Error(cause), zap.Int("bytes", len(raw)))
	result := schemas.NewCommandResult("", []schemas.ActionResult{
		schemas.Failed("", schemas.ErrorKindValidation, cause.Error()),
	})
	result.FinishedAt = time.Now().UTC()
	payload, err := json.Marshal(quarantineRecord{Raw: raw, Error: cause.Error(), Result: result})
	if err != nil {
		return fmt.Errorf("encoding quarantine record: %w", err)
	}
	if err := q.move(ctx, raw, payload); err != nil {
		return fmt.Errorf("quarantining pending entry: %w", err)
	}
	return nil
}

func (q *RedisQueue) move(ctx context.Context, raw string, record []byte) error {
	pipe := q.rdb.TxPipeline()
	pipe.LRem(ctx, q.pendingKey, 1, raw)
	pipe.RPush(ctx, q.historyKey, record)
	_, err := pipe.Exec(ctx)
	return err
}

// Close closes the Redis client.
func (q *RedisQueue) Close() error {
	return q.rdb.Close()
}
