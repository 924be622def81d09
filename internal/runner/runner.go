package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/zeka-hazinesi/jobboard-data/internal/config"
	"github.com/zeka-hazinesi/jobboard-data/internal/fetcher"
	"github.com/zeka-hazinesi/jobboard-data/internal/harvest"
	"github.com/zeka-hazinesi/jobboard-data/internal/storage"
)

// Runner harvests every configured source. Sources run concurrently up to
// the worker bound; each source itself is harvested strictly sequentially,
// one in-flight request at a time.
type Runner struct {
	cfg      config.Config
	logger   *slog.Logger
	profiles []*harvest.Profile
	limiter  *rate.Limiter
	sinks    *storage.Pipeline

	closers   []func() error
	closeOnce sync.Once
}

// New builds a runner from configuration.
func New(cfg config.Config) (*Runner, error) {
	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	profiles := make([]*harvest.Profile, 0, len(cfg.Sources))
	for _, src := range cfg.Sources {
		profile, err := harvest.CompileProfile(src)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, profile)
	}

	var limiter *rate.Limiter
	if rl := cfg.Politeness.RateLimit; rl.Enabled() {
		interval := rl.Window.Duration / time.Duration(rl.Requests)
		if interval <= 0 {
			interval = time.Millisecond
		}
		limiter = rate.NewLimiter(rate.Every(interval), rl.Requests)
	}

	documents, err := storage.NewJSONWriter(cfg.Output)
	if err != nil {
		return nil, err
	}

	var relational storage.RelationalStore
	var closers []func() error
	if cfg.DB.Driver != "" && cfg.DB.DSN != "" {
		sqlWriter, err := storage.NewSQLWriter(cfg.DB)
		if err != nil {
			return nil, err
		}
		relational = sqlWriter
		closers = append(closers, sqlWriter.Close)
	}

	return &Runner{
		cfg:      cfg,
		logger:   logger,
		profiles: profiles,
		limiter:  limiter,
		sinks:    storage.NewPipeline(documents, relational),
		closers:  closers,
	}, nil
}

// Run harvests all sources until completion. Cancellation never strands a
// queued source: the remaining sources still run against the cancelled
// context, abort their harvest immediately, and flush partial results before
// Run returns.
func (r *Runner) Run(ctx context.Context) error {
	defer r.Close()

	failures := runSources(ctx, r.cfg.Worker.Concurrency, r.cfg.Worker.QueueSize, r.profiles, r.harvestSource)

	if err := ctx.Err(); err != nil {
		r.logger.Warn("shutdown requested, partial results flushed", "failed_sources", len(failures))
		failures = append(failures, err)
	}
	return errors.Join(failures...)
}

// Close releases resources owned by the runner.
func (r *Runner) Close() error {
	var err error
	r.closeOnce.Do(func() {
		for _, closer := range r.closers {
			if cerr := closer(); cerr != nil {
				err = errors.Join(err, cerr)
			}
		}
	})
	return err
}

func (r *Runner) harvestSource(ctx context.Context, profile *harvest.Profile) error {
	runID := uuid.NewString()

	headers := make(map[string]string, len(r.cfg.HTTP.Headers)+len(profile.Headers))
	for k, v := range r.cfg.HTTP.Headers {
		headers[k] = v
	}
	for k, v := range profile.Headers {
		headers[k] = v
	}

	exec, err := fetcher.NewClient(fetcher.Options{
		UserAgent:    r.cfg.HTTP.UserAgent,
		Headers:      headers,
		Timeout:      r.cfg.HTTP.RequestTimeout.Duration,
		MaxBodyBytes: r.cfg.HTTP.MaxBodyBytes,
		ProxyURL:     r.cfg.HTTP.ProxyURL,
		BaseDelay:    r.cfg.Politeness.BaseDelay.Duration,
		MaxJitter:    r.cfg.Politeness.MaxJitter.Duration,
		MaxRetries:   r.cfg.Politeness.MaxRetries,
		MaxBackoff:   r.cfg.Politeness.MaxBackoff.Duration,
		Limiter:      r.limiter,
		Logger:       r.logger.With("source", profile.Name),
	})
	if err != nil {
		return fmt.Errorf("source %q: build executor: %w", profile.Name, err)
	}

	report := harvest.New(profile, exec, r.logger, runID).Run(ctx)

	// Flush even when the run was aborted or the context is gone; partial
	// results must reach the output.
	if err := r.sinks.Persist(context.WithoutCancel(ctx), report); err != nil {
		return fmt.Errorf("source %q: persist: %w", profile.Name, err)
	}
	r.logger.Info("source finished",
		"source", profile.Name,
		"phase", report.Phase,
		"pages", report.PagesVisited,
		"records", len(report.Records),
	)
	if report.Err != "" {
		return fmt.Errorf("source %q: %s", profile.Name, report.Err)
	}
	return nil
}

func buildLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("unsupported log level %q", cfg.Level)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Structured {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler), nil
}
