// Package audit records the outcome of each translation request. Entries
// carry the question and outcome metadata only; generated queries are never
// stored.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/kpilens/kpilens/internal/nl2sql"
)

type Operation string

const (
	OperationAsk     Operation = "ask"
	OperationCorrect Operation = "correct"
	OperationMCPAsk  Operation = "mcp_ask"
)

type Entry struct {
	ID           string    `json:"id"`
	TraceID      string    `json:"trace_id,omitempty"`
	Operation    Operation `json:"operation"`
	Question     string    `json:"question"`
	OutcomeKind  string    `json:"outcome_kind"`
	RejectKind   string    `json:"reject_kind,omitempty"`
	Attempts     int       `json:"attempts"`
	RowCount     int       `json:"row_count"`
	GenerationMS int64     `json:"generation_ms"`
	ExecutionMS  int64     `json:"execution_ms"`
	DurationMS   int64     `json:"duration_ms"`
	CreatedAt    time.Time `json:"created_at"`
}

type Filter struct {
	OutcomeKind string
	Since       *time.Time
	Limit       int
}

type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

type Lister interface {
	List(ctx context.Context, filter Filter) ([]Entry, error)
}

type Store interface {
	Recorder
	Lister
}

// FromResult builds an entry for a finished request.
func FromResult(op Operation, traceID string, result nl2sql.Result, now time.Time) Entry {
	entry := Entry{
		ID:          uuid.NewString(),
		TraceID:     traceID,
		Operation:   op,
		Question:    result.Question,
		OutcomeKind: string(result.Kind),
		RejectKind:  string(result.RejectKind),
		Attempts:    len(result.Attempts),
		DurationMS:  result.Duration.Milliseconds(),
		CreatedAt:   now.UTC(),
	}
	if result.Succeeded() {
		entry.RowCount = len(result.Rows.Rows)
	}
	for _, attempt := range result.Attempts {
		entry.GenerationMS += attempt.GenerationDuration.Milliseconds()
		entry.ExecutionMS += attempt.ExecutionDuration.Milliseconds()
	}
	return entry
}

// Nop discards entries and lists nothing.
type Nop struct{}

func (Nop) Record(context.Context, Entry) error { return nil }

func (Nop) List(context.Context, Filter) ([]Entry, error) { return []Entry{}, nil }
