// Package kpilensctl is a thin HTTP client for the kpilens API.
package kpilensctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type Options struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

// exitError carries a process exit code through cobra's error return.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

type runner struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
	stdout  io.Writer
	stderr  io.Writer
}

// Run executes one command and returns the process exit code: 0 on success,
// 1 when the request failed or the API answered with an error status, 2 on
// usage errors.
func Run(ctx context.Context, args []string, defaults Options) int {
	r := &runner{
		baseURL: firstNonEmpty(defaults.BaseURL, "http://localhost:8080"),
		timeout: durationOr(defaults.Timeout, 60*time.Second),
		client:  defaults.HTTPClient,
		stdout:  defaults.Stdout,
		stderr:  defaults.Stderr,
	}
	if r.stdout == nil {
		r.stdout = io.Discard
	}
	if r.stderr == nil {
		r.stderr = io.Discard
	}

	root := r.rootCommand()
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var exit *exitError
	if errors.As(err, &exit) {
		_, _ = fmt.Fprintln(r.stderr, exit.err)
		return exit.code
	}
	_, _ = fmt.Fprintf(r.stderr, "%v\n\n", err)
	_ = root.Usage()
	return 2
}

func (r *runner) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "kpilensctl",
		Short:         "Ask the kpilens API about campaign KPIs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if r.client == nil {
				r.client = &http.Client{Timeout: r.timeout}
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&r.baseURL, "base-url", r.baseURL, "kpilens API base URL")
	root.PersistentFlags().DurationVar(&r.timeout, "timeout", r.timeout, "HTTP timeout (e.g. 60s)")

	root.AddCommand(
		r.getCommand("health", "Check liveness", "/v1/health"),
		r.getCommand("ready", "Check readiness", "/v1/ready"),
		r.getCommand("schema", "Show the queryable KPI table", "/v1/schema"),
		r.askCommand(),
		r.correctCommand(),
		r.insightCommand(),
		r.auditCommand(),
	)
	return root
}

func (r *runner) getCommand(use, short, path string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return r.call(cmd.Context(), http.MethodGet, path, nil)
		},
	}
}

func (r *runner) askCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question>",
		Short: "Translate a question into SQL and run it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.call(cmd.Context(), http.MethodPost, "/v1/ask", map[string]any{
				"question": strings.Join(args, " "),
			})
		},
	}
}

func (r *runner) correctCommand() *cobra.Command {
	var previousSQL, errorMessage string
	cmd := &cobra.Command{
		Use:   "correct <question>",
		Short: "Regenerate a failed query once from its error message",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.call(cmd.Context(), http.MethodPost, "/v1/ask/correct", map[string]any{
				"question":      strings.Join(args, " "),
				"previous_sql":  previousSQL,
				"error_message": errorMessage,
			})
		},
	}
	cmd.Flags().StringVar(&previousSQL, "sql", "", "SQL that failed")
	cmd.Flags().StringVar(&errorMessage, "error", "", "error message the SQL produced")
	_ = cmd.MarkFlagRequired("sql")
	_ = cmd.MarkFlagRequired("error")
	return cmd
}

func (r *runner) insightCommand() *cobra.Command {
	var from, to, campaign, channel, country string
	var top int
	cmd := &cobra.Command{
		Use:   "insight",
		Short: "Write a KPI report for a date range",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body := map[string]any{"from": from, "to": to}
			if campaign != "" {
				body["campaign_id"] = campaign
			}
			if channel != "" {
				body["channel"] = channel
			}
			if country != "" {
				body["country"] = country
			}
			if top > 0 {
				body["top_n"] = top
			}
			return r.call(cmd.Context(), http.MethodPost, "/v1/insight", body)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first day, YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to", "", "last day, YYYY-MM-DD")
	cmd.Flags().StringVar(&campaign, "campaign", "", "campaign_id filter")
	cmd.Flags().StringVar(&channel, "channel", "", "channel filter")
	cmd.Flags().StringVar(&country, "country", "", "country filter")
	cmd.Flags().IntVar(&top, "top", 0, "rows per breakdown")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func (r *runner) auditCommand() *cobra.Command {
	var outcome, since string
	var limit int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List recent ask outcomes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			params := url.Values{}
			if outcome != "" {
				params.Set("outcome", outcome)
			}
			if since != "" {
				params.Set("since", since)
			}
			if limit > 0 {
				params.Set("limit", strconv.Itoa(limit))
			}
			path := "/v1/audit"
			if encoded := params.Encode(); encoded != "" {
				path += "?" + encoded
			}
			return r.call(cmd.Context(), http.MethodGet, path, nil)
		},
	}
	cmd.Flags().StringVar(&outcome, "outcome", "", "outcome kind filter (e.g. SUCCESS)")
	cmd.Flags().StringVar(&since, "since", "", "RFC3339 lower bound on created_at")
	cmd.Flags().IntVar(&limit, "limit", 0, "max entries")
	return cmd
}

func (r *runner) call(ctx context.Context, method, path string, payload any) error {
	endpoint := strings.TrimRight(r.baseURL, "/") + path
	code, body, err := doRequest(ctx, r.client, method, endpoint, payload)
	if err != nil {
		return &exitError{code: 1, err: fmt.Errorf("request failed: %w", err)}
	}
	if code >= 400 {
		text := strings.TrimSpace(string(body))
		if pretty, ok := prettyJSON(body); ok {
			text = pretty
		}
		return &exitError{code: 1, err: fmt.Errorf("http %d: %s", code, text)}
	}
	if pretty, ok := prettyJSON(body); ok {
		_, _ = fmt.Fprintln(r.stdout, pretty)
		return nil
	}
	if len(body) > 0 {
		_, _ = fmt.Fprintln(r.stdout, string(body))
	}
	return nil
}

func doRequest(ctx context.Context, client *http.Client, method, endpoint string, payload any) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
