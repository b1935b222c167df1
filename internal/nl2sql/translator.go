package nl2sql

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/kpilens/kpilens/internal/observability"
	"github.com/kpilens/kpilens/internal/query"
	"github.com/kpilens/kpilens/internal/schema"
	"github.com/kpilens/kpilens/internal/sqlguard"
)

type OutcomeKind string

const (
	OutcomeSuccess                        OutcomeKind = "SUCCESS"
	OutcomeValidationRejected             OutcomeKind = "VALIDATION_REJECTED"
	OutcomeExecutionFailedAfterCorrection OutcomeKind = "EXECUTION_FAILED_AFTER_CORRECTION"
	OutcomeGenerationUnavailable          OutcomeKind = "GENERATION_UNAVAILABLE"
)

type Stage string

const (
	StageInitial    Stage = "initial"
	StageCorrective Stage = "corrective"
)

// Attempt records one generated candidate and what happened to it.
type Attempt struct {
	Stage              Stage            `json:"stage"`
	Query              string           `json:"query"`
	Verdict            sqlguard.Verdict `json:"-"`
	Executed           bool             `json:"executed"`
	ExecutionError     string           `json:"execution_error,omitempty"`
	RowCount           int              `json:"row_count"`
	GenerationDuration time.Duration    `json:"-"`
	ExecutionDuration  time.Duration    `json:"-"`
}

// Result is the discriminated outcome of one request. Every non-success
// result carries the last query that was tried (when one was generated)
// and a human-readable Reason.
type Result struct {
	Kind       OutcomeKind
	Question   string
	Query      string
	Rows       query.Result
	RejectKind sqlguard.ErrorKind
	Reason     string
	Attempts   []Attempt
	Duration   time.Duration
}

func (r Result) Succeeded() bool {
	return r.Kind == OutcomeSuccess
}

type Config struct {
	Schema      schema.Descriptor
	Validator   *sqlguard.Validator
	Synthesizer *Synthesizer
	Engine      query.Engine
	// RowLimit caps returned rows when > 0.
	RowLimit int
	Logger   *slog.Logger
}

// Translator runs question -> candidate -> validation -> execution, with at
// most one corrective regeneration after an execution failure. It keeps no
// per-request state and is safe for concurrent use.
type Translator struct {
	schema      schema.Descriptor
	validator   *sqlguard.Validator
	synthesizer *Synthesizer
	engine      query.Engine
	rowLimit    int
	logger      *slog.Logger
}

func NewTranslator(cfg Config) (*Translator, error) {
	if cfg.Validator == nil {
		return nil, fmt.Errorf("validator is required")
	}
	if cfg.Synthesizer == nil {
		return nil, fmt.Errorf("synthesizer is required")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("query engine is required")
	}
	if cfg.Schema.Table() == "" {
		return nil, fmt.Errorf("schema descriptor is required")
	}
	if !strings.EqualFold(cfg.Schema.Table(), cfg.Validator.Table()) {
		return nil, fmt.Errorf("validator table %q does not match schema table %q", cfg.Validator.Table(), cfg.Schema.Table())
	}
	if cfg.RowLimit < 0 {
		return nil, fmt.Errorf("row limit must be >= 0")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Translator{
		schema:      cfg.Schema,
		validator:   cfg.Validator,
		synthesizer: cfg.Synthesizer,
		engine:      cfg.Engine,
		rowLimit:    cfg.RowLimit,
		logger:      logger,
	}, nil
}

func (t *Translator) Schema() schema.Descriptor {
	return t.schema
}

// Ask answers question. A candidate that fails validation is returned as
// ValidationRejected without being executed. An execution failure triggers
// exactly one corrective regeneration.
func (t *Translator) Ask(ctx context.Context, question string) Result {
	start := time.Now()
	result := Result{Question: question}

	candidate, attempt, err := t.synthesize(ctx, StageInitial, BuildInitialPrompt(question, t.schema))
	if err != nil {
		return t.finish(ctx, start, generationUnavailable(result, "", err))
	}

	attempt.Verdict = t.validator.Validate(candidate)
	result.Query = candidate
	if !attempt.Verdict.Accepted {
		observability.ObserveValidationRejection(string(attempt.Verdict.Kind))
		result.Attempts = append(result.Attempts, attempt)
		result.Kind = OutcomeValidationRejected
		result.RejectKind = attempt.Verdict.Kind
		result.Reason = attempt.Verdict.Message
		return t.finish(ctx, start, result)
	}

	rows, execErr := t.execute(ctx, candidate, &attempt)
	result.Attempts = append(result.Attempts, attempt)
	if execErr == nil {
		result.Kind = OutcomeSuccess
		result.Rows = rows
		return t.finish(ctx, start, result)
	}

	t.logger.DebugContext(ctx, "ask_correcting",
		slog.String("trace_id", observability.TraceIDFromContext(ctx)),
		slog.String("error", execErr.Error()),
	)
	return t.finish(ctx, start, t.correct(ctx, result, candidate, execErr.Error()))
}

// Correct runs only the corrective leg: regenerate from previousQuery and the
// error it produced, validate, execute once.
func (t *Translator) Correct(ctx context.Context, question, previousQuery, errorMessage string) Result {
	start := time.Now()
	result := Result{Question: question, Query: previousQuery}
	return t.finish(ctx, start, t.correct(ctx, result, previousQuery, errorMessage))
}

func (t *Translator) correct(ctx context.Context, result Result, previousQuery, errorMessage string) Result {
	prompt := BuildCorrectivePrompt(result.Question, previousQuery, errorMessage, t.schema)
	candidate, attempt, err := t.synthesize(ctx, StageCorrective, prompt)
	if err != nil {
		return generationUnavailable(result, previousQuery, err)
	}

	attempt.Verdict = t.validator.Validate(candidate)
	result.Query = candidate
	if !attempt.Verdict.Accepted {
		observability.ObserveValidationRejection(string(attempt.Verdict.Kind))
		result.Attempts = append(result.Attempts, attempt)
		result.Kind = OutcomeExecutionFailedAfterCorrection
		result.RejectKind = attempt.Verdict.Kind
		result.Reason = attempt.Verdict.Err().Error()
		return result
	}

	rows, execErr := t.execute(ctx, candidate, &attempt)
	result.Attempts = append(result.Attempts, attempt)
	if execErr != nil {
		result.Kind = OutcomeExecutionFailedAfterCorrection
		result.Reason = execErr.Error()
		return result
	}
	result.Kind = OutcomeSuccess
	result.Rows = rows
	result.Reason = ""
	return result
}

func (t *Translator) synthesize(ctx context.Context, stage Stage, prompt Prompt) (string, Attempt, error) {
	attempt := Attempt{Stage: stage}
	start := time.Now()
	candidate, err := t.synthesizer.Synthesize(ctx, prompt)
	attempt.GenerationDuration = time.Since(start)
	if err != nil {
		t.logger.DebugContext(ctx, "ask_generation_failed",
			slog.String("trace_id", observability.TraceIDFromContext(ctx)),
			slog.String("stage", string(stage)),
			slog.String("error", err.Error()),
		)
		return "", attempt, err
	}
	observability.ObserveAskAttempt(string(stage))
	attempt.Query = candidate
	t.logger.DebugContext(ctx, "ask_candidate",
		slog.String("trace_id", observability.TraceIDFromContext(ctx)),
		slog.String("stage", string(stage)),
		slog.Duration("generation", attempt.GenerationDuration),
	)
	return candidate, attempt, nil
}

func (t *Translator) execute(ctx context.Context, candidate string, attempt *Attempt) (query.Result, error) {
	start := time.Now()
	rows, err := t.engine.Execute(ctx, query.Request{SQL: candidate, RowLimit: t.rowLimit})
	attempt.Executed = true
	attempt.ExecutionDuration = time.Since(start)
	observability.ObserveExecutionLatency(attempt.ExecutionDuration)
	if err != nil {
		attempt.ExecutionError = err.Error()
		return query.Result{}, err
	}
	attempt.RowCount = len(rows.Rows)
	return rows, nil
}

func (t *Translator) finish(ctx context.Context, start time.Time, result Result) Result {
	result.Duration = time.Since(start)
	observability.ObserveAskOutcome(string(result.Kind))
	attrs := []any{
		slog.String("trace_id", observability.TraceIDFromContext(ctx)),
		slog.String("kind", string(result.Kind)),
		slog.Int("attempts", len(result.Attempts)),
		slog.Duration("duration", result.Duration),
	}
	if result.Kind == OutcomeSuccess {
		attrs = append(attrs, slog.Int("rows", len(result.Rows.Rows)))
	} else {
		attrs = append(attrs, slog.String("reason", result.Reason))
	}
	t.logger.InfoContext(ctx, "ask_outcome", attrs...)
	return result
}

func generationUnavailable(result Result, lastQuery string, err error) Result {
	result.Kind = OutcomeGenerationUnavailable
	result.Query = lastQuery
	result.Reason = err.Error()
	return result
}
