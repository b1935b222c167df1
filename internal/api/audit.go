package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kpilens/kpilens/internal/audit"
)

func handleListAudit(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Audit == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "AUDIT_NOT_CONFIGURED", "audit log is not configured", false, nil)
		return
	}

	values := r.URL.Query()
	filter := audit.Filter{OutcomeKind: strings.ToUpper(strings.TrimSpace(values.Get("outcome")))}
	if raw := strings.TrimSpace(values.Get("since")); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_SINCE", "since must be an RFC3339 timestamp", false, map[string]any{"since": raw})
			return
		}
		filter.Since = &since
	}
	if raw := strings.TrimSpace(values.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer", false, map[string]any{"limit": raw})
			return
		}
		filter.Limit = limit
	}

	entries, err := deps.Audit.List(r.Context(), filter)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "AUDIT_LIST_FAILED", "failed to list audit entries", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}
