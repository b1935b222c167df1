package mart

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/kpilens/kpilens/internal/storage"
)

type PublishResult struct {
	SnapshotKey string
	Size        int64
	RowCount    int64
}

// Publisher uploads parquet snapshots and then moves the LATEST pointer.
// Readers follow the pointer, so a half-written upload is never visible.
type Publisher struct {
	store  storage.ObjectStore
	table  string
	now    func() time.Time
	logger *slog.Logger
}

func NewPublisher(store storage.ObjectStore, table string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Publisher{
		store:  store,
		table:  table,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

func (p *Publisher) Publish(ctx context.Context, encoded EncodeResult) (PublishResult, error) {
	if p.store == nil {
		return PublishResult{}, fmt.Errorf("object store is required")
	}
	if len(encoded.Data) == 0 {
		return PublishResult{}, fmt.Errorf("snapshot data is required")
	}
	snapshotKey, err := storage.BuildMartSnapshotPath(p.table, p.now())
	if err != nil {
		return PublishResult{}, err
	}
	pointerKey, err := storage.LatestPointerPath(p.table)
	if err != nil {
		return PublishResult{}, err
	}

	info, err := p.store.Put(ctx, snapshotKey, bytes.NewReader(encoded.Data), int64(len(encoded.Data)), storage.PutOptions{
		ContentType: "application/vnd.apache.parquet",
	})
	if err != nil {
		return PublishResult{}, fmt.Errorf("upload snapshot %q: %w", snapshotKey, err)
	}

	pointer := []byte(snapshotKey + "\n")
	if _, err := p.store.Put(ctx, pointerKey, bytes.NewReader(pointer), int64(len(pointer)), storage.PutOptions{
		ContentType: "text/plain",
	}); err != nil {
		return PublishResult{}, fmt.Errorf("update latest pointer: %w", err)
	}

	p.logger.InfoContext(ctx, "mart_snapshot_published",
		slog.String("key", snapshotKey),
		slog.Int64("rows", encoded.RowCount),
		slog.Int64("bytes", info.Size),
	)
	return PublishResult{SnapshotKey: snapshotKey, Size: info.Size, RowCount: encoded.RowCount}, nil
}
