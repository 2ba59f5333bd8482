// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Queue() QueueConfig
	Dispatcher() DispatcherConfig
	Engine() EngineConfig
	Browser() BrowserConfig
	Control() ControlConfig
	Database() DatabaseConfig
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	QueueCfg      QueueConfig      `mapstructure:"queue" yaml:"queue"`
	DispatcherCfg DispatcherConfig `mapstructure:"dispatcher" yaml:"dispatcher"`
	EngineCfg     EngineConfig     `mapstructure:"engine" yaml:"engine"`
	BrowserCfg    BrowserConfig    `mapstructure:"browser" yaml:"browser"`
	ControlCfg    ControlConfig    `mapstructure:"control" yaml:"control"`
	DatabaseCfg   DatabaseConfig   `mapstructure:"database" yaml:"database"`
}

var _ Interface = (*Config)(nil)

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig         { return c.LoggerCfg }
func (c *Config) Queue() QueueConfig           { return c.QueueCfg }
func (c *Config) Dispatcher() DispatcherConfig { return c.DispatcherCfg }
func (c *Config) Engine() EngineConfig         { return c.EngineCfg }
func (c *Config) Browser() BrowserConfig       { return c.BrowserCfg }
func (c *Config) Control() ControlConfig       { return c.ControlCfg }
func (c *Config) Database() DatabaseConfig     { return c.DatabaseCfg }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// QueueBackend selects where commands come from.
type QueueBackend string

const (
	QueueBackendHTTP  QueueBackend = "http"
	QueueBackendRedis QueueBackend = "redis"
)

// ReportMode selects the shape of the "move to history" report.
type ReportMode string

const (
	// ReportFull posts {command, id, params, time_created, result}.
	ReportFull ReportMode = "full"
	// ReportIDs posts {ids: [id]}.
	ReportIDs ReportMode = "ids"
)

// QueueConfig configures the command queue backend.
type QueueConfig struct {
	Backend         QueueBackend  `mapstructure:"backend" yaml:"backend"`
	BaseURL         string        `mapstructure:"base_url" yaml:"base_url"`
	FetchPath       string        `mapstructure:"fetch_path" yaml:"fetch_path"`
	ReportPath      string        `mapstructure:"report_path" yaml:"report_path"`
	ReportMode      ReportMode    `mapstructure:"report_mode" yaml:"report_mode"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	RateLimit       float64       `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateBurst       int           `mapstructure:"rate_burst" yaml:"rate_burst"`
	IgnoreTLSErrors bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	// WorkerID overrides the generated X-Worker-ID.
	WorkerID   string `mapstructure:"worker_id" yaml:"worker_id"`
	RedisURL   string `mapstructure:"redis_url" yaml:"redis_url"`
	PendingKey string `mapstructure:"pending_key" yaml:"pending_key"`
	HistoryKey string `mapstructure:"history_key" yaml:"history_key"`
}

// DispatcherConfig configures the poll loop.
type DispatcherConfig struct {
	PollInterval  time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled"`
	ReportTimeout time.Duration `mapstructure:"report_timeout" yaml:"report_timeout"`
}

// EngineConfig configures action execution.
type EngineConfig struct {
	ElementTimeout      time.Duration `mapstructure:"element_timeout" yaml:"element_timeout"`
	PageLoadTimeout     time.Duration `mapstructure:"page_load_timeout" yaml:"page_load_timeout"`
	ScriptTimeout       time.Duration `mapstructure:"script_timeout" yaml:"script_timeout"`
	PollInterval        time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	Pacing              time.Duration `mapstructure:"pacing" yaml:"pacing"`
	WaitInteractive     bool          `mapstructure:"wait_interactive" yaml:"wait_interactive"`
	NativeClickFallback bool          `mapstructure:"native_click_fallback" yaml:"native_click_fallback"`
}

// BrowserDriver selects the page host.
type BrowserDriver string

const (
	DriverCDP    BrowserDriver = "cdp"
	DriverRod    BrowserDriver = "rod"
	DriverStatic BrowserDriver = "static"
)

// BrowserConfig holds settings for the browser the worker drives.
type BrowserConfig struct {
	Driver          BrowserDriver  `mapstructure:"driver" yaml:"driver"`
	Headless        bool           `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Debug           bool           `mapstructure:"debug" yaml:"debug"`
	Args            []string       `mapstructure:"args" yaml:"args"`
	Viewport        map[string]int `mapstructure:"viewport" yaml:"viewport"`
	// RemoteURL attaches to an already running browser (ws:// debugger URL).
	RemoteURL string `mapstructure:"remote_url" yaml:"remote_url"`
	// StartURL is opened when the worker launches its own browser.
	StartURL string `mapstructure:"start_url" yaml:"start_url"`
	ExecPath string `mapstructure:"exec_path" yaml:"exec_path"`
}

// ControlConfig configures the local control HTTP surface.
type ControlConfig struct {
	Enabled        bool          `mapstructure:"enabled" yaml:"enabled"`
	Addr           string        `mapstructure:"addr" yaml:"addr"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// DatabaseConfig holds the database connection details. An empty URL disables
// the result journal.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "socketclicker")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Queue --
	v.SetDefault("queue.backend", string(QueueBackendHTTP))
	v.SetDefault("queue.base_url", "http://localhost:5000")
	v.SetDefault("queue.fetch_path", "/read_first?count=1")
	v.SetDefault("queue.report_path", "/move_to_history")
	v.SetDefault("queue.report_mode", string(ReportFull))
	v.SetDefault("queue.request_timeout", "15s")
	v.SetDefault("queue.rate_limit", 5.0)
	v.SetDefault("queue.rate_burst", 2)
	v.SetDefault("queue.redis_url", "redis://localhost:6379/0")
	v.SetDefault("queue.pending_key", "socketclicker:pending")
	v.SetDefault("queue.history_key", "socketclicker:history")

	// -- Dispatcher --
	v.SetDefault("dispatcher.poll_interval", "3s")
	v.SetDefault("dispatcher.enabled", true)
	v.SetDefault("dispatcher.report_timeout", "10s")

	// -- Engine --
	v.SetDefault("engine.element_timeout", "10s")
	v.SetDefault("engine.page_load_timeout", "30s")
	v.SetDefault("engine.script_timeout", "10s")
	v.SetDefault("engine.poll_interval", "100ms")
	v.SetDefault("engine.pacing", "500ms")
	v.SetDefault("engine.wait_interactive", false)
	v.SetDefault("engine.native_click_fallback", true)

	// -- Browser --
	v.SetDefault("browser.driver", string(DriverCDP))
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.debug", false)
	v.SetDefault("browser.start_url", "about:blank")

	// -- Control --
	v.SetDefault("control.enabled", true)
	v.SetDefault("control.addr", "127.0.0.1:8765")
	v.SetDefault("control.request_timeout", "10s")

	// -- Database --
	v.SetDefault("database.url", "")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for connection secrets.
	_ = v.BindEnv("database.url", "SOCKETCLICKER_DATABASE_URL")
	_ = v.BindEnv("queue.redis_url", "SOCKETCLICKER_REDIS_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.QueueCfg.Validate(); err != nil {
		return fmt.Errorf("queue configuration invalid: %w", err)
	}
	if c.DispatcherCfg.PollInterval <= 0 {
		return fmt.Errorf("dispatcher.poll_interval must be a positive duration")
	}
	if err := c.EngineCfg.Validate(); err != nil {
		return fmt.Errorf("engine configuration invalid: %w", err)
	}
	switch c.BrowserCfg.Driver {
	case DriverCDP, DriverRod, DriverStatic:
	default:
		return fmt.Errorf("browser.driver must be one of cdp, rod, static (got %q)", c.BrowserCfg.Driver)
	}
	if c.ControlCfg.Enabled && c.ControlCfg.Addr == "" {
		return fmt.Errorf("control.addr is required when the control server is enabled")
	}
	return nil
}

// Validate checks the queue settings for the selected backend.
func (q *QueueConfig) Validate() error {
	switch q.Backend {
	case QueueBackendHTTP:
		u, err := url.Parse(q.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("base_url must be an absolute URL (got %q)", q.BaseURL)
		}
	case QueueBackendRedis:
		if q.RedisURL == "" {
			return fmt.Errorf("redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("backend must be http or redis (got %q)", q.Backend)
	}
	switch q.ReportMode {
	case ReportFull, ReportIDs:
	default:
		return fmt.Errorf("report_mode must be full or ids (got %q)", q.ReportMode)
	}
	if q.RateLimit < 0 {
		return fmt.Errorf("rate_limit must not be negative")
	}
	return nil
}

// Validate checks the execution timeouts.
func (e *EngineConfig) Validate() error {
	if e.ElementTimeout <= 0 || e.PageLoadTimeout <= 0 || e.ScriptTimeout <= 0 {
		return fmt.Errorf("element, page load and script timeouts must be positive durations")
	}
	if e.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be a positive duration")
	}
	if e.Pacing < 0 {
		return fmt.Errorf("pacing must not be negative")
	}
	return nil
}
