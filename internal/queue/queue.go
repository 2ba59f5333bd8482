// Package queue implements the command queue backends: the HTTP API client and
// a Redis list.
package queue

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/list91/SocketClicker/api/schemas"
	"github.com/list91/SocketClicker/internal/config"
)

// Backend is a command queue that holds resources.
type Backend interface {
	schemas.CommandQueue
	Close() error
}

var (
	_ Backend = (*HTTPClient)(nil)
	_ Backend = (*RedisQueue)(nil)
)

// New opens the backend selected by cfg.Backend.
func New(ctx context.Context, cfg config.QueueConfig, logger *zap.Logger) (Backend, error) {
	switch cfg.Backend {
	case config.QueueBackendHTTP, "":
		return NewHTTPClient(cfg, logger)
	case config.QueueBackendRedis:
		rdb, err := DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return NewRedisQueue(rdb, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Backend)
	}
}
