package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/kpilens/kpilens/internal/insight"
	"github.com/kpilens/kpilens/internal/nl2sql"
)

type insightResponse struct {
	Report      string          `json:"report"`
	Data        insight.Payload `json:"data"`
	Model       string          `json:"model"`
	GeneratedAt string          `json:"generated_at"`
	DurationMS  int64           `json:"duration_ms"`
}

func handleInsight(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Insight == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "INSIGHT_NOT_CONFIGURED", "insight reports are not configured", false, nil)
		return
	}
	var request insight.Request
	if err := decodeBody(w, r, &request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid insight request body", false, map[string]any{"details": err.Error()})
		return
	}

	report, err := deps.Insight.Generate(r.Context(), request)
	switch {
	case err == nil:
	case errors.Is(err, insight.ErrInvalidRequest):
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_INSIGHT_REQUEST", err.Error(), false, nil)
		return
	case errors.Is(err, insight.ErrNoData):
		writeError(r.Context(), w, http.StatusNotFound, "NO_DATA", err.Error(), false, nil)
		return
	case errors.Is(err, nl2sql.ErrGenerationUnavailable):
		writeError(r.Context(), w, http.StatusBadGateway, "GENERATION_UNAVAILABLE", err.Error(), true, nil)
		return
	default:
		writeError(r.Context(), w, http.StatusInternalServerError, "INSIGHT_FAILED", "insight report failed", true, map[string]any{"details": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, insightResponse{
		Report:      report.Text,
		Data:        report.Payload,
		Model:       report.Model,
		GeneratedAt: report.GeneratedAt.Format(time.RFC3339),
		DurationMS:  report.Duration.Milliseconds(),
	})
}
