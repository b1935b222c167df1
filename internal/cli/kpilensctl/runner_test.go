package kpilensctl

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type capturedRequest struct {
	method string
	path   string
	query  string
	body   map[string]any
}

func newCaptureServer(t *testing.T, status int, response string) (*httptest.Server, *capturedRequest) {
	t.Helper()
	captured := &capturedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.method = r.Method
		captured.path = r.URL.Path
		captured.query = r.URL.RawQuery
		raw, _ := io.ReadAll(r.Body)
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &captured.body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	return srv, captured
}

func TestRunAskCommand(t *testing.T) {
	srv, got := newCaptureServer(t, http.StatusOK, `{"outcome":"SUCCESS","row_count":1}`)

	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), []string{"--base-url", srv.URL, "ask", "캠페인별", "ROAS"}, Options{
		Stdout:  &stdout,
		Stderr:  &stderr,
		Timeout: 2 * time.Second,
	})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	if got.method != http.MethodPost || got.path != "/v1/ask" {
		t.Fatalf("request = %s %s", got.method, got.path)
	}
	if got.body["question"] != "캠페인별 ROAS" {
		t.Fatalf("body = %v", got.body)
	}
	if !strings.Contains(stdout.String(), `"outcome": "SUCCESS"`) {
		t.Fatalf("stdout = %s", stdout.String())
	}
}

func TestRunCorrectCommand(t *testing.T) {
	srv, got := newCaptureServer(t, http.StatusOK, `{"outcome":"SUCCESS"}`)

	code := Run(context.Background(), []string{
		"--base-url", srv.URL,
		"correct", "--sql", "select x from mart_daily_campaign_kpi", "--error", "Binder Error", "q",
	}, Options{})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if got.path != "/v1/ask/correct" || got.body["previous_sql"] != "select x from mart_daily_campaign_kpi" || got.body["error_message"] != "Binder Error" {
		t.Fatalf("request = %s %v", got.path, got.body)
	}
}

func TestRunCorrectRequiresFlags(t *testing.T) {
	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"correct", "q"}, Options{Stderr: &stderr})
	if code != 2 {
		t.Fatalf("exit code = %d", code)
	}
}

func TestRunInsightCommand(t *testing.T) {
	srv, got := newCaptureServer(t, http.StatusOK, `{"report":"ok"}`)

	code := Run(context.Background(), []string{
		"--base-url", srv.URL,
		"insight", "--from", "2026-01-01", "--to", "2026-01-07", "--channel", "search", "--top", "3",
	}, Options{})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if got.path != "/v1/insight" || got.body["channel"] != "search" || got.body["top_n"] != float64(3) {
		t.Fatalf("request = %s %v", got.path, got.body)
	}
	if _, ok := got.body["country"]; ok {
		t.Fatalf("unset filter sent: %v", got.body)
	}
}

func TestRunAuditCommand(t *testing.T) {
	srv, got := newCaptureServer(t, http.StatusOK, `{"entries":[],"count":0}`)

	code := Run(context.Background(), []string{"--base-url", srv.URL, "audit", "--outcome", "SUCCESS", "--limit", "5"}, Options{})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if got.method != http.MethodGet || got.path != "/v1/audit" || got.query != "limit=5&outcome=SUCCESS" {
		t.Fatalf("request = %s %s?%s", got.method, got.path, got.query)
	}
}

func TestRunSchemaCommand(t *testing.T) {
	srv, got := newCaptureServer(t, http.StatusOK, `{"table":"mart_daily_campaign_kpi"}`)

	var stdout bytes.Buffer
	code := Run(context.Background(), []string{"--base-url", srv.URL, "schema"}, Options{Stdout: &stdout})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if got.method != http.MethodGet || got.path != "/v1/schema" || stdout.Len() == 0 {
		t.Fatalf("request = %s %s", got.method, got.path)
	}
}

func TestRunReturnsErrorOnHTTPFailure(t *testing.T) {
	srv, _ := newCaptureServer(t, http.StatusUnprocessableEntity, `{"outcome":"VALIDATION_REJECTED"}`)

	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"--base-url", srv.URL, "ask", "drop it"}, Options{Stderr: &stderr})
	if code != 1 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	if !strings.Contains(stderr.String(), "http 422") || !strings.Contains(stderr.String(), "VALIDATION_REJECTED") {
		t.Fatalf("stderr = %s", stderr.String())
	}
}

func TestRunUnknownCommand(t *testing.T) {
	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"unknown"}, Options{Stderr: &stderr})
	if code != 2 {
		t.Fatalf("exit code = %d", code)
	}
	if stderr.Len() == 0 {
		t.Fatal("expected usage output")
	}
}

func TestRunAskRequiresQuestion(t *testing.T) {
	code := Run(context.Background(), []string{"ask"}, Options{})
	if code != 2 {
		t.Fatalf("exit code = %d", code)
	}
}
