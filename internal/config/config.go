// Package config loads watchd settings: built-in defaults, then a TOML file,
// then WATCHD_* environment variables, then explicit key=value overrides.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"

	"github.com/kavymi/meepo-sub001/internal/logging"
	"github.com/kavymi/meepo-sub001/internal/store"
)

const (
	EnvPrefix      = "WATCHD_"
	DefaultAddr    = "127.0.0.1:8765"
	DefaultDBPath  = "watchd.db"
	DefaultFile    = "watchd.toml"
	envConfigPath  = EnvPrefix + "CONFIG"
	defaultHistory = 256
)

type Source string

const (
	SourceDefault  Source = "default"
	SourceFile     Source = "file"
	SourceEnv      Source = "env"
	SourceOverride Source = "override"
)

type Config struct {
	Server    ServerConfig    `toml:"server" envPrefix:"SERVER_"`
	Store     StoreConfig     `toml:"store" envPrefix:"STORE_"`
	Scheduler SchedulerConfig `toml:"scheduler" envPrefix:"SCHEDULER_"`
	Log       LogConfig       `toml:"log" envPrefix:"LOG_"`
	Webhook   WebhookConfig   `toml:"webhook" envPrefix:"WEBHOOK_"`
	GitHub    GitHubConfig    `toml:"github" envPrefix:"GITHUB_"`
	Files     FilesConfig     `toml:"files" envPrefix:"FILES_"`
	Mail      MailConfig      `toml:"mail" envPrefix:"MAIL_"`
	Calendar  CalendarConfig  `toml:"calendar" envPrefix:"CALENDAR_"`
	Messages  MessagesConfig  `toml:"messages" envPrefix:"MESSAGES_"`
	OTel      OTelConfig      `toml:"otel" envPrefix:"OTEL_"`

	// Path is the file the config was read from, empty when none was found.
	Path string `toml:"-"`
	// Sources records where each overridden key came from.
	Sources map[string]Source `toml:"-"`
}

type ServerConfig struct {
	Addr            string        `toml:"addr" env:"ADDR"`
	AuthToken       string        `toml:"auth_token" env:"AUTH_TOKEN"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	EventHistory    int           `toml:"event_history" env:"EVENT_HISTORY"`
}

type StoreConfig struct {
	Driver      string        `toml:"driver" env:"DRIVER"`
	Path        string        `toml:"path" env:"PATH"`
	BusyTimeout time.Duration `toml:"busy_timeout" env:"BUSY_TIMEOUT"`
}

type SchedulerConfig struct {
	CheckTimeout           time.Duration `toml:"check_timeout" env:"CHECK_TIMEOUT"`
	PublishTimeout         time.Duration `toml:"publish_timeout" env:"PUBLISH_TIMEOUT"`
	DrainTimeout           time.Duration `toml:"drain_timeout" env:"DRAIN_TIMEOUT"`
	BackoffBase            time.Duration `toml:"backoff_base" env:"BACKOFF_BASE"`
	BackoffMax             time.Duration `toml:"backoff_max" env:"BACKOFF_MAX"`
	MaxConsecutiveFailures int           `toml:"max_consecutive_failures" env:"MAX_CONSECUTIVE_FAILURES"`
	Jitter                 float64       `toml:"jitter" env:"JITTER"`
	CommandBuffer          int           `toml:"command_buffer" env:"COMMAND_BUFFER"`
}

type LogConfig struct {
	Level      string `toml:"level" env:"LEVEL"`
	Format     string `toml:"format" env:"FORMAT"`
	BufferSize int    `toml:"buffer_size" env:"BUFFER_SIZE"`
}

type WebhookConfig struct {
	URL     string        `toml:"url" env:"URL"`
	Token   string        `toml:"token" env:"TOKEN"`
	Timeout time.Duration `toml:"timeout" env:"TIMEOUT"`
}

type GitHubConfig struct {
	APIURL        string  `toml:"api_url" env:"API_URL"`
	Token         string  `toml:"token" env:"TOKEN"`
	RatePerMinute float64 `toml:"rate_per_minute" env:"RATE_PER_MINUTE"`
	Burst         int     `toml:"burst" env:"BURST"`
}

type FilesConfig struct {
	Debounce   time.Duration `toml:"debounce" env:"DEBOUNCE"`
	MaxWatches int           `toml:"max_watches" env:"MAX_WATCHES"`
}

type MailConfig struct {
	Maildir string `toml:"maildir" env:"MAILDIR"`
}

type CalendarConfig struct {
	File string `toml:"file" env:"FILE"`
}

type MessagesConfig struct {
	HistorySize int `toml:"history_size" env:"HISTORY_SIZE"`
}

type OTelConfig struct {
	Enabled            bool              `toml:"enabled" env:"ENABLED"`
	Endpoint           string            `toml:"endpoint" env:"ENDPOINT"`
	ServiceName        string            `toml:"service_name" env:"SERVICE_NAME"`
	ResourceAttributes map[string]string `toml:"resource_attributes" env:"RESOURCE_ATTRIBUTES"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            DefaultAddr,
			ShutdownTimeout: 10 * time.Second,
			EventHistory:    defaultHistory,
		},
		Store: StoreConfig{
			Driver:      store.DriverSQLite,
			Path:        DefaultDBPath,
			BusyTimeout: 5 * time.Second,
		},
		Scheduler: SchedulerConfig{
			CheckTimeout:           30 * time.Second,
			PublishTimeout:         10 * time.Second,
			DrainTimeout:           5 * time.Second,
			BackoffBase:            time.Second,
			BackoffMax:             5 * time.Minute,
			MaxConsecutiveFailures: 5,
			Jitter:                 0.2,
			CommandBuffer:          64,
		},
		Log: LogConfig{
			Level:      string(logging.LevelInfo),
			Format:     string(logging.FormatText),
			BufferSize: 1000,
		},
		Webhook: WebhookConfig{Timeout: 10 * time.Second},
		GitHub: GitHubConfig{
			APIURL:        "https://api.github.com",
			RatePerMinute: 60,
			Burst:         5,
		},
		Files:    FilesConfig{Debounce: 250 * time.Millisecond, MaxWatches: 1024},
		Messages: MessagesConfig{HistorySize: defaultHistory},
		OTel:     OTelConfig{Endpoint: "127.0.0.1:4318", ServiceName: "watchd"},
		Sources:  map[string]Source{},
	}
}

// LoadOptions controls Load. Path empty means WATCHD_CONFIG or, failing
// that, ./watchd.toml when it exists.
type LoadOptions struct {
	Path      string
	Overrides []string
	// Environ replaces os.Environ when set.
	Environ map[string]string
}

func Load(options LoadOptions) (Config, error) {
	cfg := Default()
	path, explicit := resolvePath(options)
	if path != "" {
		if err := cfg.loadFile(path, explicit); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.loadEnv(options.Environ); err != nil {
		return Config{}, err
	}
	if err := cfg.ApplyOverrides(options.Overrides); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func resolvePath(options LoadOptions) (string, bool) {
	if path := strings.TrimSpace(options.Path); path != "" {
		return path, true
	}
	lookup := os.Getenv
	if options.Environ != nil {
		lookup = func(key string) string { return options.Environ[key] }
	}
	if path := strings.TrimSpace(lookup(envConfigPath)); path != "" {
		return path, true
	}
	return DefaultFile, false
}

func (c *Config) loadFile(path string, explicit bool) error {
	meta, err := toml.DecodeFile(path, c)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("config %s: unknown key %q", path, undecoded[0].String())
	}
	c.Path = path
	c.markKeys(meta, SourceFile)
	return nil
}

func (c *Config) loadEnv(environ map[string]string) error {
	options := env.Options{
		Prefix: EnvPrefix,
		// called for every tagged field, set or not
		OnSet: func(tag string, value any, isDefault bool) {
			if raw, ok := value.(string); isDefault || (ok && raw == "") {
				return
			}
			c.Sources[envKey(tag)] = SourceEnv
		},
	}
	if environ != nil {
		options.Environment = environ
	}
	if err := env.ParseWithOptions(c, options); err != nil {
		return fmt.Errorf("read environment: %w", err)
	}
	return nil
}

func (c *Config) markKeys(meta toml.MetaData, source Source) {
	if c.Sources == nil {
		c.Sources = map[string]Source{}
	}
	for _, key := range meta.Keys() {
		if len(key) < 2 {
			continue
		}
		c.Sources[key.String()] = source
	}
}

// envKey maps WATCHD_SCHEDULER_CHECK_TIMEOUT to scheduler.check_timeout.
func envKey(tag string) string {
	trimmed := strings.ToLower(strings.TrimPrefix(tag, EnvPrefix))
	section, rest, ok := strings.Cut(trimmed, "_")
	if !ok {
		return trimmed
	}
	return section + "." + rest
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server.Addr) == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	switch strings.ToLower(c.Store.Driver) {
	case store.DriverSQLite:
		if strings.TrimSpace(c.Store.Path) == "" {
			errs = append(errs, errors.New("store.path is required for the sqlite driver"))
		}
	case store.DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("store.driver must be sqlite or memory, got %q", c.Store.Driver))
	}
	scheduler := c.Scheduler
	for name, value := range map[string]time.Duration{
		"scheduler.check_timeout":   scheduler.CheckTimeout,
		"scheduler.publish_timeout": scheduler.PublishTimeout,
		"scheduler.drain_timeout":   scheduler.DrainTimeout,
		"scheduler.backoff_base":    scheduler.BackoffBase,
		"scheduler.backoff_max":     scheduler.BackoffMax,
	} {
		if value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, value))
		}
	}
	if scheduler.BackoffMax < scheduler.BackoffBase {
		errs = append(errs, errors.New("scheduler.backoff_max must not be below scheduler.backoff_base"))
	}
	if scheduler.MaxConsecutiveFailures <= 0 {
		errs = append(errs, errors.New("scheduler.max_consecutive_failures must be positive"))
	}
	if scheduler.Jitter < 0 || scheduler.Jitter > 1 {
		errs = append(errs, fmt.Errorf("scheduler.jitter must be within [0, 1], got %g", scheduler.Jitter))
	}
	if _, ok := logging.ParseLevel(c.Log.Level); !ok {
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warning, error", c.Log.Level))
	}
	if _, ok := logging.ParseFormat(c.Log.Format); !ok {
		errs = append(errs, fmt.Errorf("log.format %q is not text or json", c.Log.Format))
	}
	if raw := strings.TrimSpace(c.Webhook.URL); raw != "" {
		parsed, err := url.Parse(raw)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			errs = append(errs, fmt.Errorf("webhook.url %q must be an http(s) URL", raw))
		}
	}
	if c.GitHub.RatePerMinute < 0 {
		errs = append(errs, errors.New("github.rate_per_minute must not be negative"))
	}
	return errors.Join(errs...)
}

// LoggingOptions builds logger options from the log section.
func (c Config) LoggingOptions() logging.Options {
	level, _ := logging.ParseLevel(c.Log.Level)
	format, _ := logging.ParseFormat(c.Log.Format)
	return logging.Options{Level: level, Format: format, BufferSize: c.Log.BufferSize}
}

// SourceOf returns where key was last set.
func (c Config) SourceOf(key string) Source {
	if source, ok := c.Sources[normalizeKey(key)]; ok {
		return source
	}
	return SourceDefault
}
