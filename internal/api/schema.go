package api

import "net/http"

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Translator == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema is not configured", false, nil)
		return
	}
	d := deps.Translator.Schema()
	writeJSON(w, http.StatusOK, map[string]any{
		"table":       d.Table(),
		"columns":     d.Columns(),
		"description": d.Describe(),
	})
}
