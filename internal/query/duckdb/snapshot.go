package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kpilens/kpilens/internal/query"
	"github.com/kpilens/kpilens/internal/schema"
	"github.com/kpilens/kpilens/internal/storage"
)

const maxPointerBytes = 4096

// SnapshotEngine runs queries over the latest published parquet snapshot of
// the mart. Each call resolves the LATEST pointer, pulls the snapshot into a
// scratch directory and exposes it to an in-memory DuckDB as a view carrying
// the mart table name. When Columns is set the view casts each column to its
// declared type, since snapshots carry dates and timestamps as text.
type SnapshotEngine struct {
	Store   storage.ObjectStore
	Table   string
	Columns []schema.Column
}

func NewSnapshotEngine(store storage.ObjectStore, d schema.Descriptor) *SnapshotEngine {
	return &SnapshotEngine{Store: store, Table: d.Table(), Columns: d.Columns()}
}

func (e *SnapshotEngine) Execute(ctx context.Context, request query.Request) (query.Result, error) {
	if strings.TrimSpace(request.SQL) == "" {
		return query.Result{}, fmt.Errorf("sql is required")
	}
	if e.Store == nil {
		return query.Result{}, fmt.Errorf("object store is required")
	}

	snapshotKey, err := e.resolveLatest(ctx)
	if err != nil {
		return query.Result{}, err
	}

	workDir, err := os.MkdirTemp("", "kpilens-query-")
	if err != nil {
		return query.Result{}, fmt.Errorf("create query temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	localPath := filepath.Join(workDir, sanitizeFileComponent(e.Table)+".parquet")
	if err := e.download(ctx, snapshotKey, localPath); err != nil {
		return query.Result{}, err
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return query.Result{}, fmt.Errorf("open duckdb: %w", err)
	}
	defer func() { _ = db.Close() }()

	viewSQL := fmt.Sprintf(`CREATE OR REPLACE VIEW %s AS SELECT %s FROM read_parquet(%s)`, quoteIdent(e.Table), projection(e.Columns), quoteString(localPath))
	if _, err := db.ExecContext(ctx, viewSQL); err != nil {
		return query.Result{}, fmt.Errorf("create view for table %q: %w", e.Table, err)
	}
	return run(ctx, db, request)
}

// download copies one snapshot object to a local file DuckDB can scan.
func (e *SnapshotEngine) download(ctx context.Context, key, localPath string) (err error) {
	reader, err := e.Store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("fetch snapshot %s: %w", key, err)
	}
	defer func() {
		if closeErr := reader.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close snapshot %s: %w", key, closeErr)
		}
	}()

	file, err := os.OpenFile(localPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create local snapshot: %w", err)
	}
	written, err := io.Copy(file, reader)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("copy snapshot %s: %w", key, err)
	}
	if written == 0 {
		return fmt.Errorf("snapshot %s is empty", key)
	}
	return nil
}

// HealthCheck confirms a snapshot has been published.
func (e *SnapshotEngine) HealthCheck(ctx context.Context) error {
	_, err := e.resolveLatest(ctx)
	return err
}

func (e *SnapshotEngine) resolveLatest(ctx context.Context) (string, error) {
	pointerKey, err := storage.LatestPointerPath(e.Table)
	if err != nil {
		return "", err
	}
	reader, err := e.Store.Get(ctx, pointerKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return "", fmt.Errorf("no snapshot published for %s", e.Table)
		}
		return "", fmt.Errorf("get latest pointer: %w", err)
	}
	defer func() { _ = reader.Close() }()

	body, err := io.ReadAll(io.LimitReader(reader, maxPointerBytes))
	if err != nil {
		return "", fmt.Errorf("read latest pointer: %w", err)
	}
	return storage.ParseLatestPointer(e.Table, body)
}

func projection(columns []schema.Column) string {
	if len(columns) == 0 {
		return "*"
	}
	parts := make([]string, 0, len(columns))
	for _, column := range columns {
		ident := quoteIdent(column.Name)
		parts = append(parts, fmt.Sprintf("CAST(%s AS %s) AS %s", ident, column.Type, ident))
	}
	return strings.Join(parts, ", ")
}

func sanitizeFileComponent(value string) string {
	value = strings.ReplaceAll(value, "/", "_")
	value = strings.ReplaceAll(value, "..", "_")
	if value == "" {
		return "table"
	}
	return value
}
