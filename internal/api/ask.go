package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/kpilens/kpilens/internal/audit"
	"github.com/kpilens/kpilens/internal/nl2sql"
	"github.com/kpilens/kpilens/internal/observability"
)

const maxQuestionRunes = 2000

type askRequest struct {
	Question string `json:"question"`
}

type correctRequest struct {
	Question      string `json:"question"`
	PreviousQuery string `json:"previous_sql"`
	ErrorMessage  string `json:"error_message"`
}

type askResponse struct {
	Outcome     nl2sql.OutcomeKind `json:"outcome"`
	Question    string             `json:"question"`
	SQL         string             `json:"sql,omitempty"`
	Columns     []string           `json:"columns"`
	ColumnTypes []string           `json:"column_types,omitempty"`
	Rows        [][]any            `json:"rows"`
	RowCount    int                `json:"row_count"`
	RejectKind  string             `json:"reject_kind,omitempty"`
	Reason      string             `json:"reason,omitempty"`
	Retryable   bool               `json:"retryable"`
	Attempts    []nl2sql.Attempt   `json:"attempts"`
	DurationMS  int64              `json:"duration_ms"`
	TraceID     string             `json:"trace_id,omitempty"`
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Translator == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ASK_NOT_CONFIGURED", "question answering is not configured", false, nil)
		return
	}
	var request askRequest
	if err := decodeBody(w, r, &request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid ask request body", false, map[string]any{"details": err.Error()})
		return
	}
	question, ok := checkQuestion(w, r, request.Question)
	if !ok {
		return
	}

	result := deps.Translator.Ask(r.Context(), question)
	recordAudit(r.Context(), deps, audit.OperationAsk, result)
	writeJSON(w, statusForOutcome(result.Kind), newAskResponse(r.Context(), result))
}

func handleCorrect(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Translator == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ASK_NOT_CONFIGURED", "question answering is not configured", false, nil)
		return
	}
	var request correctRequest
	if err := decodeBody(w, r, &request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid correction request body", false, map[string]any{"details": err.Error()})
		return
	}
	question, ok := checkQuestion(w, r, request.Question)
	if !ok {
		return
	}
	if strings.TrimSpace(request.PreviousQuery) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "PREVIOUS_SQL_REQUIRED", "previous_sql is required", false, nil)
		return
	}
	if strings.TrimSpace(request.ErrorMessage) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "ERROR_MESSAGE_REQUIRED", "error_message is required", false, nil)
		return
	}

	result := deps.Translator.Correct(r.Context(), question, request.PreviousQuery, request.ErrorMessage)
	recordAudit(r.Context(), deps, audit.OperationCorrect, result)
	writeJSON(w, statusForOutcome(result.Kind), newAskResponse(r.Context(), result))
}

func checkQuestion(w http.ResponseWriter, r *http.Request, raw string) (string, bool) {
	question := strings.TrimSpace(raw)
	if question == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return "", false
	}
	if utf8.RuneCountInString(question) > maxQuestionRunes {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_TOO_LONG", "question is too long", false, map[string]any{"max_runes": maxQuestionRunes})
		return "", false
	}
	return question, true
}

func statusForOutcome(kind nl2sql.OutcomeKind) int {
	switch kind {
	case nl2sql.OutcomeSuccess:
		return http.StatusOK
	case nl2sql.OutcomeValidationRejected, nl2sql.OutcomeExecutionFailedAfterCorrection:
		return http.StatusUnprocessableEntity
	case nl2sql.OutcomeGenerationUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func newAskResponse(ctx context.Context, result nl2sql.Result) askResponse {
	response := askResponse{
		Outcome:    result.Kind,
		Question:   result.Question,
		SQL:        result.Query,
		RejectKind: string(result.RejectKind),
		Reason:     result.Reason,
		Retryable:  result.Kind == nl2sql.OutcomeGenerationUnavailable,
		Attempts:   result.Attempts,
		DurationMS: result.Duration.Milliseconds(),
		TraceID:    observability.TraceIDFromContext(ctx),
	}
	if response.Attempts == nil {
		response.Attempts = []nl2sql.Attempt{}
	}
	if result.Succeeded() {
		response.Columns = result.Rows.Columns
		response.ColumnTypes = result.Rows.ColumnTypes
		response.Rows = result.Rows.Rows
		if response.Columns == nil {
			response.Columns = []string{}
		}
		if response.Rows == nil {
			response.Rows = [][]any{}
		}
		response.RowCount = len(result.Rows.Rows)
	}
	return response
}

// recordAudit never fails the request; a lost audit entry is logged.
func recordAudit(ctx context.Context, deps Dependencies, op audit.Operation, result nl2sql.Result) {
	if deps.Audit == nil {
		return
	}
	entry := audit.FromResult(op, observability.TraceIDFromContext(ctx), result, deps.Now())
	if err := deps.Audit.Record(context.WithoutCancel(ctx), entry); err != nil && deps.Logger != nil {
		deps.Logger.WarnContext(ctx, "audit_record_failed",
			slog.String("operation", string(op)),
			slog.String("error", err.Error()),
		)
	}
}
