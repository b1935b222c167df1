package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kpilens/kpilens/internal/config"
	"github.com/kpilens/kpilens/internal/mart"
	"github.com/kpilens/kpilens/internal/observability"
	"github.com/kpilens/kpilens/internal/schema"
	s3store "github.com/kpilens/kpilens/internal/storage/s3"
)

func main() {
	publish := flag.Bool("publish", false, "upload a parquet snapshot to the object store after building")
	flag.Parse()

	cfg, err := config.LoadFromEnv("kpilens-mart")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, *publish || cfg.Mart.Source == config.MartSourceObjectStore); err != nil {
		logger.Error("mart build failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger, publish bool) error {
	descriptor, err := schema.Load(cfg.Mart.SchemaFile)
	if err != nil {
		return err
	}
	builder, err := mart.Open(ctx, cfg.Mart.DuckDBPath, descriptor, logger)
	if err != nil {
		return err
	}
	defer func() { _ = builder.Close() }()

	result, err := builder.Build(ctx, mart.Sources{
		AdEventsCSV: cfg.Mart.AdEventsCSV,
		PaymentsCSV: cfg.Mart.PaymentsCSV,
	})
	if err != nil {
		return err
	}
	logger.Info("mart built",
		slog.String("table", result.Table),
		slog.Int64("rows", result.Rows),
		slog.String("path", cfg.Mart.DuckDBPath),
	)
	if !publish {
		return nil
	}

	rows, err := mart.ReadRows(ctx, builder.DB(), descriptor.Table())
	if err != nil {
		return err
	}
	encoded, err := mart.EncodeParquet(rows)
	if err != nil {
		return err
	}
	store, err := s3store.New(ctx, s3store.Config{
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
		return err
	}
	_, err = mart.NewPublisher(store, descriptor.Table(), logger).Publish(ctx, encoded)
	return err
}
