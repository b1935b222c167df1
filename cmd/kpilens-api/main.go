package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/kpilens/kpilens/internal/api"
	auditpostgres "github.com/kpilens/kpilens/internal/audit/postgres"
	"github.com/kpilens/kpilens/internal/config"
	"github.com/kpilens/kpilens/internal/insight"
	"github.com/kpilens/kpilens/internal/nl2sql"
	"github.com/kpilens/kpilens/internal/observability"
	"github.com/kpilens/kpilens/internal/query"
	duckdbengine "github.com/kpilens/kpilens/internal/query/duckdb"
	"github.com/kpilens/kpilens/internal/ratelimit"
	"github.com/kpilens/kpilens/internal/schema"
	"github.com/kpilens/kpilens/internal/sqlguard"
	s3store "github.com/kpilens/kpilens/internal/storage/s3"
)

type martEngine interface {
	query.Engine
	HealthCheck(ctx context.Context) error
}

func main() {
	cfg, err := config.LoadFromEnv("kpilens-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stdout)

	descriptor, err := schema.Load(cfg.Mart.SchemaFile)
	if err != nil {
		logger.Error("failed to load schema", slog.Any("error", err))
		os.Exit(1)
	}
	validator, err := sqlguard.New(descriptor.Table(), nil)
	if err != nil {
		logger.Error("failed to build validator", slog.Any("error", err))
		os.Exit(1)
	}

	engine, closeEngine, err := openEngine(cfg, descriptor)
	if err != nil {
		logger.Error("failed to open mart", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeEngine()

	readiness := []api.ReadinessCheck{api.CheckMartConfig(cfg), engine.HealthCheck}
	deps := api.Dependencies{
		Logger:            logger,
		DependencyTimeout: time.Second,
	}

	if cfg.AI.Enabled {
		generator, err := openGenerator(cfg, logger)
		if err != nil {
			logger.Error("failed to initialize generator", slog.Any("error", err))
			os.Exit(1)
		}
		synthesizer, err := nl2sql.NewSynthesizer(generator, cfg.AI.Model)
		if err != nil {
			logger.Error("failed to initialize synthesizer", slog.Any("error", err))
			os.Exit(1)
		}
		translator, err := nl2sql.NewTranslator(nl2sql.Config{
			Schema:      descriptor,
			Validator:   validator,
			Synthesizer: synthesizer,
			Engine:      engine,
			RowLimit:    cfg.Mart.RowLimit,
			Logger:      logger,
		})
		if err != nil {
			logger.Error("failed to initialize translator", slog.Any("error", err))
			os.Exit(1)
		}
		insightService, err := insight.NewService(insight.Config{
			Schema:      descriptor,
			Validator:   validator,
			Engine:      engine,
			Generator:   generator,
			Model:       cfg.AI.Model,
			Temperature: cfg.AI.InsightTemperature,
			Logger:      logger,
		})
		if err != nil {
			logger.Error("failed to initialize insight service", slog.Any("error", err))
			os.Exit(1)
		}
		deps.Translator = translator
		deps.Insight = insightService
	} else {
		logger.Warn("ai is disabled; ask and insight endpoints answer 501")
	}

	if cfg.Audit.Enabled {
		auditDB, err := auditpostgres.Open(context.Background(), auditpostgres.DBConfig{
			DSN:             cfg.Audit.DSN,
			MaxOpenConns:    cfg.Audit.MaxOpenConns,
			MaxIdleConns:    cfg.Audit.MaxIdleConns,
			ConnMaxIdleTime: cfg.Audit.ConnMaxIdleTime,
			ConnMaxLifetime: cfg.Audit.ConnMaxLifetime,
		})
		if err != nil {
			logger.Error("failed to open audit db", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = auditDB.Close() }()
		deps.Audit = auditpostgres.New(auditDB)
		readiness = append(readiness, auditDB.PingContext)
	}

	if cfg.RateLimitEnabled() {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = redisClient.Close() }()
		limiter, err := ratelimit.New(redisClient, ratelimit.Config{
			Requests: cfg.RateLimit.RequestsPerWindow,
			Window:   cfg.RateLimit.Window,
		})
		if err != nil {
			logger.Error("failed to initialize rate limiter", slog.Any("error", err))
			os.Exit(1)
		}
		deps.RateLimiter = limiter
		readiness = append(readiness, limiter.Ping)
	}
	deps.Readiness = api.CombineReadinessChecks(readiness...)

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("mart_source", string(cfg.Mart.Source)),
			slog.String("table", descriptor.Table()),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}

func openEngine(cfg config.Config, descriptor schema.Descriptor) (martEngine, func(), error) {
	switch cfg.Mart.Source {
	case config.MartSourceObjectStore:
		store, err := s3store.New(context.Background(), s3store.Config{
			Endpoint:         cfg.ObjectStore.Endpoint,
			Region:           cfg.ObjectStore.Region,
			Bucket:           cfg.ObjectStore.Bucket,
			AccessKeyID:      cfg.ObjectStore.AccessKeyID,
			SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
			UseSSL:           cfg.ObjectStore.UseSSL,
			Prefix:           cfg.ObjectStore.Prefix,
			AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
		})
		if err != nil {
			return nil, nil, err
		}
		return duckdbengine.NewSnapshotEngine(store, descriptor), func() {}, nil
	default:
		engine, err := duckdbengine.OpenFile(context.Background(), duckdbengine.FileConfig{
			Path:         cfg.Mart.DuckDBPath,
			MaxOpenConns: cfg.Mart.MaxOpenConns,
			Threads:      cfg.Mart.Threads,
		})
		if err != nil {
			return nil, nil, err
		}
		return engine, func() { _ = engine.Close() }, nil
	}
}

func openGenerator(cfg config.Config, logger *slog.Logger) (nl2sql.Generator, error) {
	client, err := nl2sql.NewOpenAIGenerator(nl2sql.OpenAIConfig{
		BaseURL: cfg.AI.BaseURL,
		APIKey:  cfg.AI.APIKey,
		Model:   cfg.AI.Model,
		Timeout: cfg.AI.Timeout,
	})
	if err != nil {
		return nil, err
	}
	breaker, err := nl2sql.NewBreakerGenerator(client, nl2sql.BreakerConfig{
		Name:             "openai",
		MaxFailures:      cfg.AI.BreakerMaxFailures,
		OpenTimeout:      cfg.AI.BreakerOpenTimeout,
		HalfOpenRequests: cfg.AI.BreakerHalfOpenRequests,
		Logger:           logger,
	})
	if err != nil {
		return nil, err
	}
	return breaker, nil
}
