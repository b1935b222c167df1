package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kpilens/kpilens/internal/audit"
	"github.com/kpilens/kpilens/internal/config"
	"github.com/kpilens/kpilens/internal/insight"
	"github.com/kpilens/kpilens/internal/nl2sql"
	"github.com/kpilens/kpilens/internal/observability"
	"github.com/kpilens/kpilens/internal/ratelimit"
	"github.com/kpilens/kpilens/internal/schema"
)

const maxRequestBodyBytes = 1 << 20

type ReadinessCheck func(ctx context.Context) error

// Translator is the question-answering core. *nl2sql.Translator satisfies it.
type Translator interface {
	Ask(ctx context.Context, question string) nl2sql.Result
	Correct(ctx context.Context, question, previousQuery, errorMessage string) nl2sql.Result
	Schema() schema.Descriptor
}

type InsightGenerator interface {
	Generate(ctx context.Context, req insight.Request) (insight.Report, error)
}

type RateLimiter interface {
	Allow(ctx context.Context, clientID string) (ratelimit.Decision, error)
	Limit() int
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	DependencyTimeout time.Duration
	Translator        Translator
	Insight           InsightGenerator
	Audit             audit.Store
	RateLimiter       RateLimiter
	Now               func() time.Time
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	mux.HandleFunc("GET /v1/schema", func(w http.ResponseWriter, r *http.Request) {
		handleSchema(deps, w, r)
	})
	mux.HandleFunc("GET /v1/audit", func(w http.ResponseWriter, r *http.Request) {
		handleListAudit(deps, w, r)
	})

	limited := rateLimitMiddleware(deps.RateLimiter, deps.Logger)
	mux.Handle("POST /v1/ask", limited(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleAsk(deps, w, r)
	})))
	mux.Handle("POST /v1/ask/correct", limited(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleCorrect(deps, w, r)
	})))
	mux.Handle("POST /v1/insight", limited(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleInsight(deps, w, r)
	})))

	if deps.Translator != nil {
		mux.Handle("/mcp", limited(NewMCPHandler(cfg, deps)))
	}

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func CheckMartConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		switch cfg.Mart.Source {
		case config.MartSourceFile:
			if cfg.Mart.DuckDBPath == "" {
				return errors.New("mart duckdb path is not configured")
			}
		case config.MartSourceObjectStore:
			if cfg.ObjectStore.Endpoint == "" {
				return errors.New("object store endpoint is not configured")
			}
			if cfg.ObjectStore.Bucket == "" {
				return errors.New("object store bucket is not configured")
			}
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
