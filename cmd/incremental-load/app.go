package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/The-Ronin-Project/infx-condition-incremental-load/internal/config"
	"github.com/The-Ronin-Project/infx-condition-incremental-load/internal/domain/incrementalload"
	"github.com/The-Ronin-Project/infx-condition-incremental-load/internal/domain/normalization"
	"github.com/The-Ronin-Project/infx-condition-incremental-load/internal/platform/db"
	"github.com/The-Ronin-Project/infx-condition-incremental-load/internal/platform/metrics"
	"github.com/The-Ronin-Project/infx-condition-incremental-load/internal/platform/reportsink"
	"github.com/The-Ronin-Project/infx-condition-incremental-load/internal/platform/terminologyapi"
)

const appName = "infx-condition-incremental-load"

// app holds everything a command needs, built from one Config.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	metrics *metrics.Recorder
	client  *terminologyapi.Client
	source  normalization.Source
	checks  []db.Check
	sink    *reportsink.S3Sink
	closers []func()
}

func newLogger(cfg *config.Config, w io.Writer) zerolog.Logger {
	logger := zerolog.New(w).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: w}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newApp wires the terminology API client and, when withSource is set, the
// configured error source and report sink.
func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger, withSource, withRuntimeMetrics bool) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.NewRecorder(withRuntimeMetrics),
	}
	a.client = terminologyapi.NewClient(terminologyapi.Config{
		BaseURL:     cfg.TerminologyAPIBaseURL,
		Timeout:     cfg.TerminologyAPITimeout,
		ReadRetries: cfg.TerminologyAPIReadRetries,
	}, logger,
		terminologyapi.WithTokenSource(terminologyapi.NewTokenSource(cfg.ServiceAuthSigningKey, cfg.ServiceAuthIssuer, cfg.ServiceAuthAudience)),
		terminologyapi.WithCallObserver(a.metrics.ObserveCall),
	)
	if !withSource {
		return a, nil
	}

	if err := a.openSource(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if cfg.ReportS3Bucket != "" {
		sink, err := reportsink.NewS3Sink(ctx, reportsink.S3Config{
			Bucket:    cfg.ReportS3Bucket,
			Region:    cfg.ReportS3Region,
			Endpoint:  cfg.ReportS3Endpoint,
			PathStyle: cfg.ReportS3PathStyle,
			Prefix:    cfg.ReportS3Prefix,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.sink = sink
	}
	return a, nil
}

func (a *app) openSource(ctx context.Context) error {
	switch a.cfg.ErrorSource {
	case config.SourcePostgres:
		pool, err := db.NewPool(ctx, db.PoolConfig{
			URL:      a.cfg.DatabaseURL,
			MaxConns: a.cfg.DBMaxConns,
			MinConns: a.cfg.DBMinConns,
			AppName:  appName,
		})
		if err != nil {
			return err
		}
		a.closers = append(a.closers, pool.Close)
		a.checks = append(a.checks, db.PoolCheck(pool))
		a.source = normalization.NewPostgresSource(pool)
		a.logger.Info().Msg("connected to database")

	case config.SourceRedis:
		opt, err := redis.ParseURL(a.cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opt)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return fmt.Errorf("ping redis: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		a.checks = append(a.checks, db.Check{
			Name: "redis",
			Ping: func(ctx context.Context) error { return client.Ping(ctx).Err() },
		})
		a.source = normalization.NewRedisStreamSource(client, a.cfg.ErrorStream)
		a.logger.Info().Str("stream", a.cfg.ErrorStream).Msg("connected to redis")

	case config.SourceFile:
		a.source = normalization.NewFileSource(a.cfg.ErrorFile)
		a.checks = append(a.checks, db.Check{
			Name: "error_file",
			Ping: func(context.Context) error {
				_, err := os.Stat(a.cfg.ErrorFile)
				return err
			},
		})
	}
	return nil
}

func (a *app) orchestrator() *incrementalload.Orchestrator {
	return incrementalload.NewOrchestrator(a.source,
		incrementalload.NewServices(a.client, a.logger),
		incrementalload.Options{
			Concurrency:                  a.cfg.WorkerConcurrency,
			ValueSetVersionDescription:   a.cfg.ValueSetVersionDescription,
			ConceptMapVersionDescription: a.cfg.ConceptMapVersionDescription,
		},
		a.logger,
		incrementalload.WithBatchObserver(a.metrics),
	)
}

// archive uploads the report to S3 when a bucket is configured. Failures are
// logged; the run outcome does not depend on the archive.
func (a *app) archive(ctx context.Context, r *incrementalload.Report) {
	if a.sink == nil {
		return
	}
	for _, store := range []func(context.Context, *incrementalload.Report) (string, error){a.sink.Store, a.sink.StoreWorkbook} {
		key, err := store(ctx, r)
		if err != nil {
			a.logger.Error().Err(err).Str("run_id", r.RunID.String()).Msg("archive report")
			continue
		}
		a.logger.Info().Str("bucket", a.cfg.ReportS3Bucket).Str("key", key).Msg("report archived")
	}
}

// pushMetrics sends run metrics to the Pushgateway when one is configured.
func (a *app) pushMetrics(ctx context.Context) {
	if a.cfg.PushgatewayURL == "" {
		return
	}
	instance, _ := os.Hostname()
	if err := a.metrics.Push(ctx, a.cfg.PushgatewayURL, metrics.DefaultJob, instance); err != nil {
		a.logger.Warn().Err(err).Msg("push metrics")
	}
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
