package query

import (
	"context"
	"time"
)

type Request struct {
	SQL      string
	RowLimit int
}

type Result struct {
	Columns     []string
	ColumnTypes []string
	Rows        [][]any
	Duration    time.Duration
}

// Engine runs one read statement against the mart. Implementations own
// connection pooling and must honor ctx cancellation.
type Engine interface {
	Execute(ctx context.Context, request Request) (Result, error)
}
