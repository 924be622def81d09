package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the full configuration required to run the harvester.
type Config struct {
	DB         SQLConfig        `yaml:"db"`
	Worker     WorkerConfig     `yaml:"worker"`
	Politeness PolitenessConfig `yaml:"politeness"`
	HTTP       HTTPConfig       `yaml:"http"`
	Output     OutputConfig     `yaml:"output"`
	Sources    []SourceConfig   `yaml:"sources"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// SQLConfig describes an optional relational sink for harvested listings.
type SQLConfig struct {
	Driver          string   `yaml:"driver"`
	DSN             string   `yaml:"dsn"`
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
	CreateIfMissing bool     `yaml:"create_if_missing"`
	AutoMigrate     bool     `yaml:"auto_migrate"`
}

// WorkerConfig bounds how many sources are harvested at the same time.
// Within one source execution stays strictly sequential.
type WorkerConfig struct {
	Concurrency int `yaml:"concurrency"`
	QueueSize   int `yaml:"queue_size"`
}

// PolitenessConfig controls request pacing and retry behaviour.
type PolitenessConfig struct {
	BaseDelay  Duration        `yaml:"base_delay"`
	MaxJitter  Duration        `yaml:"max_jitter"`
	MaxRetries int             `yaml:"max_retries"`
	MaxBackoff Duration        `yaml:"max_backoff"`
	RateLimit  RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig applies a global token bucket on top of per-call delays.
type RateLimitConfig struct {
	Requests int      `yaml:"requests"`
	Window   Duration `yaml:"window"`
}

// Enabled reports whether token-bucket rate limiting is active.
func (r RateLimitConfig) Enabled() bool {
	return r.Requests > 0 && !r.Window.IsZero()
}

// HTTPConfig controls the shared HTTP client.
type HTTPConfig struct {
	UserAgent      string            `yaml:"user_agent"`
	Headers        map[string]string `yaml:"headers"`
	RequestTimeout Duration          `yaml:"request_timeout"`
	MaxBodyBytes   int64             `yaml:"max_body_bytes"`
	ProxyURL       string            `yaml:"proxy_url"`
}

// OutputConfig controls where harvested documents are written.
type OutputConfig struct {
	Directory string `yaml:"directory"`
	Indent    bool   `yaml:"indent"`
}

// SourceConfig is the per-source harvesting profile: one entry per employer
// site, mapping it to the patterns its pagination widget and teasers use.
type SourceConfig struct {
	Name              string            `yaml:"name"`
	StartURL          string            `yaml:"start_url"`
	PaginationPattern string            `yaml:"pagination_pattern"`
	TotalPattern      string            `yaml:"total_pattern"`
	DetailPathPattern string            `yaml:"detail_path_pattern"`
	OffsetField       string            `yaml:"offset_field"`
	StepHint          int               `yaml:"step_hint"`
	Headers           map[string]string `yaml:"headers"`
	Locations         []string          `yaml:"locations"`
	Categories        []string          `yaml:"categories"`
	Contracts         []string          `yaml:"contracts"`
}

// LoggingConfig selects log verbosity and format.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Structured bool   `yaml:"structured"`
}

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		Worker: WorkerConfig{
			Concurrency: 4,
			QueueSize:   64,
		},
		Politeness: PolitenessConfig{
			BaseDelay:  DurationFrom(700 * time.Millisecond),
			MaxJitter:  DurationFrom(250 * time.Millisecond),
			MaxRetries: 6,
			MaxBackoff: DurationFrom(10 * time.Second),
		},
		HTTP: HTTPConfig{
			UserAgent:      "jobboard-harvester/1.0 (+https://github.com/zeka-hazinesi/jobboard-data)",
			Headers:        map[string]string{},
			RequestTimeout: DurationFrom(30 * time.Second),
			MaxBodyBytes:   6 * 1024 * 1024,
		},
		Output: OutputConfig{
			Directory: "out",
			Indent:    true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Structured: true,
		},
		DB: SQLConfig{
			AutoMigrate: true,
		},
	}
}

// Load reads, merges, and validates configuration from a YAML file.
func Load(path string) (*Config, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer fh.Close()
	return LoadFromReader(fh)
}

// LoadFromReader decodes configuration from an arbitrary reader.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decodeYAML(r, &cfg); err != nil {
		return nil, err
	}
	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// Validate enforces required invariants for the harvester configuration.
func (c Config) Validate() error {
	if len(c.Sources) == 0 {
		return errors.New("at least one source must be configured")
	}
	seen := make(map[string]struct{}, len(c.Sources))
	for i, src := range c.Sources {
		if src.Name == "" {
			return fmt.Errorf("source %d has empty name", i)
		}
		if _, dup := seen[src.Name]; dup {
			return fmt.Errorf("duplicate source name %q", src.Name)
		}
		seen[src.Name] = struct{}{}
		if src.StartURL == "" {
			return fmt.Errorf("source %q has empty start_url", src.Name)
		}
		if src.StepHint < 0 {
			return fmt.Errorf("source %q has invalid step_hint %d", src.Name, src.StepHint)
		}
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0 (got %d)", c.Worker.Concurrency)
	}
	if c.Worker.QueueSize <= 0 {
		return fmt.Errorf("worker.queue_size must be > 0 (got %d)", c.Worker.QueueSize)
	}
	if c.Politeness.MaxRetries <= 0 {
		return fmt.Errorf("politeness.max_retries must be > 0 (got %d)", c.Politeness.MaxRetries)
	}
	if c.Politeness.BaseDelay.Duration < 0 {
		return errors.New("politeness.base_delay must be >= 0")
	}
	if c.Politeness.MaxBackoff.Duration <= 0 {
		return errors.New("politeness.max_backoff must be > 0")
	}
	if rl := c.Politeness.RateLimit; rl.Requests < 0 {
		return fmt.Errorf("politeness.rate_limit.requests must be >= 0 (got %d)", rl.Requests)
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		return fmt.Errorf("http.max_body_bytes must be > 0 (got %d)", c.HTTP.MaxBodyBytes)
	}
	if strings.TrimSpace(c.HTTP.UserAgent) == "" {
		return errors.New("http.user_agent must be set")
	}
	if strings.TrimSpace(c.Output.Directory) == "" {
		return errors.New("output.directory must be set")
	}
	return nil
}

func (c *Config) normalise() {
	c.HTTP.UserAgent = strings.TrimSpace(c.HTTP.UserAgent)
	c.Output.Directory = strings.TrimSpace(c.Output.Directory)

	for i := range c.Sources {
		src := &c.Sources[i]
		src.Name = strings.TrimSpace(src.Name)
		src.StartURL = strings.TrimSpace(src.StartURL)
		src.OffsetField = strings.TrimSpace(src.OffsetField)
		src.Locations = dedupeTrim(src.Locations)
		src.Categories = dedupeTrim(src.Categories)
		src.Contracts = dedupeTrim(src.Contracts)
	}

	// DSN may come from the environment to keep credentials out of YAML.
	if env := os.Getenv("JOBHARVEST_DB_DSN"); env != "" {
		c.DB.DSN = env
	}
	if env := os.Getenv("JOBHARVEST_DB_DRIVER"); env != "" {
		c.DB.Driver = env
	}
}

func dedupeTrim(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	unique := make(map[string]struct{}, len(values))
	cleaned := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := unique[v]; ok {
			continue
		}
		unique[v] = struct{}{}
		cleaned = append(cleaned, v)
	}
	sort.Strings(cleaned)
	return cleaned
}
