package queue

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/list91/SocketClicker/api/schemas"
	"github.com/list91/SocketClicker/internal/config"
)

// WorkerIDHeader identifies this worker on every queue request.
const WorkerIDHeader = "X-Worker-ID"

// maxResponseBytes caps how much of a queue response is read.
const maxResponseBytes = 4 << 20

// ErrUnexpectedStatus is returned for non-2xx queue responses.
var ErrUnexpectedStatus = errors.New("unexpected queue response status")

// HTTPClient talks to the command queue's HTTP API.
type HTTPClient struct {
	fetchURL  string
	reportURL string
	mode      config.ReportMode
	client    *http.Client
	limiter   *rate.Limiter
	workerID  string
	logger    *zap.Logger
}

// NewHTTPClient builds a queue client from cfg.
func NewHTTPClient(cfg config.QueueConfig, logger *zap.Logger) (*HTTPClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid queue base url %q", cfg.BaseURL)
	}
	fetchURL, err := base.Parse(joinPath(base.Path, cfg.FetchPath))
	if err != nil {
		return nil, fmt.Errorf("invalid fetch path %q: %w", cfg.FetchPath, err)
	}
	reportURL, err := base.Parse(joinPath(base.Path, cfg.ReportPath))
	if err != nil {
		return nil, fmt.Errorf("invalid report path %q: %w", cfg.ReportPath, err)
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}

	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = uuid.NewString()
	}
	logger = logger.Named("queue").With(zap.String("worker_id", workerID))

	return &HTTPClient{
		fetchURL:  fetchURL.String(),
		reportURL: reportURL.String(),
		mode:      cfg.ReportMode,
		client: newHTTPClient(transportConfig{
			RequestTimeout:  cfg.RequestTimeout,
			IgnoreTLSErrors: cfg.IgnoreTLSErrors,
			Logger:          logger,
		}),
		limiter:  rate.NewLimiter(limit, burst),
		workerID: workerID,
		logger:   logger,
	}, nil
}

// joinPath appends p (which may carry a query string) to the base path.
func joinPath(basePath, p string) string {
	if p == "" {
		return basePath + "/"
	}
	return basePath + "/" + strings.TrimLeft(p, "/")
}

// WorkerID returns the id sent in the X-Worker-ID header.
func (c *HTTPClient) WorkerID() string { return c.workerID }

// Fetch asks the queue for the next pending command. A 2xx response may be a
// JSON array, a single command object or a {"data": [...]} envelope.
func (c *HTTPClient) Fetch(ctx context.Context) ([]schemas.Command, error) {
	body, err := c.do(ctx, http.MethodGet, c.fetchURL, nil)
	if err != nil {
		return nil, err
	}
	cmds, err := DecodeCommands(body)
	if err != nil {
		return nil, fmt.Errorf("decoding queue response: %w", err)
	}
	if len(cmds) > 0 {
		c.logger.Debug("Fetched commands", zap.Int("count", len(cmds)), zap.String("first_id", cmds[0].ID))
	}
	return cmds, nil
}

// Report moves cmd to the queue's history.
func (c *HTTPClient) Report(ctx context.Context, cmd schemas.Command, result schemas.CommandResult) error {
	payload, err := encodeReport(c.mode, cmd, result)
	if err != nil {
		return err
	}
	if _, err := c.do(ctx, http.MethodPost, c.reportURL, payload); err != nil {
		return fmt.Errorf("reporting command %s: %w", cmd.ID, err)
	}
	c.logger.Debug("Reported command to history", zap.String("command_id", cmd.ID), zap.String("mode", string(c.mode)))
	return nil
}

// Close releases idle connections.
func (c *HTTPClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

func (c *HTTPClient) do(ctx context.Context, method, target string, body []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(WorkerIDHeader, c.workerID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s %s returned %d", ErrUnexpectedStatus, method, target, resp.StatusCode)
	}
	return data, nil
}

// envelope is the {"data": [...]} response shape.
type envelope struct {
	Data json.RawMessage `json:"data"`
}

// DecodeCommands parses a queue response body.
func DecodeCommands(body []byte) ([]schemas.Command, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil, nil
	}

	switch trimmed[0] {
	case '[':
		var cmds []schemas.Command
		if err := json.Unmarshal(trimmed, &cmds); err != nil {
			return nil, err
		}
		return cmds, nil
	case '{':
		var env envelope
		if err := json.Unmarshal(trimmed, &env); err == nil {
			if data := bytes.TrimSpace(env.Data); len(data) > 0 && (data[0] == '[' || string(data) == "null") {
				return DecodeCommands(data)
			}
		}
		var cmd schemas.Command
		if err := json.Unmarshal(trimmed, &cmd); err != nil {
			return nil, err
		}
		return []schemas.Command{cmd}, nil
	default:
		return nil, fmt.Errorf("unexpected JSON value starting with %q", trimmed[0])
	}
}

func encodeReport(mode config.ReportMode, cmd schemas.Command, result schemas.CommandResult) ([]byte, error) {
	var payload any
	switch mode {
	case config.ReportIDs:
		payload = schemas.IDsReport{IDs: []string{cmd.ID}}
	default:
		payload = schemas.NewHistoryRecord(cmd, result)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding report for %s: %w", cmd.ID, err)
	}
	return data, nil
}
