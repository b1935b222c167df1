// Package insight writes a short Korean KPI report for a date range. The
// figures come from fixed aggregation queries; only the narrative is
// generated.
package insight

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/kpilens/kpilens/internal/nl2sql"
	"github.com/kpilens/kpilens/internal/query"
	"github.com/kpilens/kpilens/internal/schema"
	"github.com/kpilens/kpilens/internal/sqlguard"
)

const (
	dateLayout         = "2006-01-02"
	defaultTopN        = 5
	maxTopN            = 20
	maxRange           = 366 * 24 * time.Hour
	defaultTemperature = 0.3
)

var (
	ErrInvalidRequest = errors.New("invalid insight request")
	ErrNoData         = errors.New("no mart rows match the request")
)

type Request struct {
	From       string `json:"from"`
	To         string `json:"to"`
	CampaignID string `json:"campaign_id,omitempty"`
	Channel    string `json:"channel,omitempty"`
	Country    string `json:"country,omitempty"`
	TopN       int    `json:"top_n,omitempty"`
}

// Metrics are summed figures with zero-guarded ratios.
type Metrics struct {
	Rows        int64   `json:"-"`
	Impressions int64   `json:"impressions"`
	Clicks      int64   `json:"clicks"`
	Conversions int64   `json:"conversions"`
	Revenue     float64 `json:"revenue"`
	Cost        float64 `json:"cost"`
	ROAS        float64 `json:"roas"`
	CTR         float64 `json:"ctr"`
	CVR         float64 `json:"cvr"`
}

type Breakdown struct {
	Key string `json:"key"`
	Metrics
}

type Daily struct {
	Date string `json:"date"`
	Metrics
}

// Payload is exactly what the generator sees after the data prefix.
type Payload struct {
	Period     Period                    `json:"period"`
	Filters    map[string]string         `json:"filters,omitempty"`
	Totals     Metrics                   `json:"totals"`
	Breakdowns map[Dimension][]Breakdown `json:"breakdowns"`
	Daily      []Daily                   `json:"daily"`
}

type Period struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type Report struct {
	Text        string        `json:"report"`
	Payload     Payload       `json:"data"`
	Model       string        `json:"model"`
	GeneratedAt time.Time     `json:"generated_at"`
	Duration    time.Duration `json:"-"`
}

type Config struct {
	Schema      schema.Descriptor
	Validator   *sqlguard.Validator
	Engine      query.Engine
	Generator   nl2sql.Generator
	Model       string
	Temperature float64
	Logger      *slog.Logger
}

type Service struct {
	table       string
	validator   *sqlguard.Validator
	engine      query.Engine
	generator   nl2sql.Generator
	model       string
	temperature float64
	logger      *slog.Logger
	now         func() time.Time
}

func NewService(cfg Config) (*Service, error) {
	if cfg.Validator == nil {
		return nil, fmt.Errorf("validator is required")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("query engine is required")
	}
	if cfg.Generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("model is required")
	}
	table := cfg.Schema.Table()
	if !strings.EqualFold(table, cfg.Validator.Table()) {
		return nil, fmt.Errorf("validator table %q does not match schema table %q", cfg.Validator.Table(), table)
	}
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		return nil, fmt.Errorf("temperature must be between 0 and 2")
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = defaultTemperature
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{
		table:       table,
		validator:   cfg.Validator,
		engine:      cfg.Engine,
		generator:   cfg.Generator,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *Service) Generate(ctx context.Context, req Request) (Report, error) {
	started := time.Now()
	req, err := normalizeRequest(req)
	if err != nil {
		return Report{}, err
	}

	payload, err := s.Collect(ctx, req)
	if err != nil {
		return Report{}, err
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return Report{}, fmt.Errorf("encode insight payload: %w", err)
	}
	text, err := s.generator.Generate(ctx, nl2sql.Prompt{
		System: systemPrompt,
		User:   userPrefix + string(encoded),
	}, nl2sql.GenerateOptions{Model: s.model, Temperature: s.temperature})
	if err != nil {
		return Report{}, &nl2sql.GenerationError{Err: err}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Report{}, &nl2sql.GenerationError{Err: errors.New("generator returned an empty report")}
	}

	report := Report{
		Text:        text,
		Payload:     payload,
		Model:       s.model,
		GeneratedAt: s.now(),
		Duration:    time.Since(started),
	}
	s.logger.InfoContext(ctx, "insight_generated",
		slog.String("from", req.From),
		slog.String("to", req.To),
		slog.Int64("rows", payload.Totals.Rows),
		slog.Int64("duration_ms", report.Duration.Milliseconds()),
	)
	return report, nil
}

// Collect runs the aggregation queries without calling the generator.
func (s *Service) Collect(ctx context.Context, req Request) (Payload, error) {
	req, err := normalizeRequest(req)
	if err != nil {
		return Payload{}, err
	}

	totalsResult, err := s.run(ctx, totalsQuery(s.table, req))
	if err != nil {
		return Payload{}, err
	}
	totals := Metrics{}
	if len(totalsResult.Rows) > 0 {
		totals = metricsFrom(totalsResult, totalsResult.Rows[0])
	}
	if totals.Rows == 0 {
		return Payload{}, ErrNoData
	}

	payload := Payload{
		Period:     Period{From: req.From, To: req.To},
		Filters:    filtersOf(req),
		Totals:     totals,
		Breakdowns: make(map[Dimension][]Breakdown, len(breakdownDimensions)),
	}
	for _, dim := range breakdownDimensions {
		result, err := s.run(ctx, breakdownQuery(s.table, dim, req))
		if err != nil {
			return Payload{}, err
		}
		items := make([]Breakdown, 0, len(result.Rows))
		for _, row := range result.Rows {
			items = append(items, Breakdown{Key: textValue(valueOf(result, row, string(dim))), Metrics: metricsFrom(result, row)})
		}
		payload.Breakdowns[dim] = items
	}

	daily, err := s.run(ctx, dailyQuery(s.table, req))
	if err != nil {
		return Payload{}, err
	}
	payload.Daily = make([]Daily, 0, len(daily.Rows))
	for _, row := range daily.Rows {
		payload.Daily = append(payload.Daily, Daily{Date: textValue(valueOf(daily, row, "day")), Metrics: metricsFrom(daily, row)})
	}
	return payload, nil
}

func (s *Service) run(ctx context.Context, sql string) (query.Result, error) {
	if err := s.validator.Validate(sql).Err(); err != nil {
		return query.Result{}, fmt.Errorf("insight query rejected: %w", err)
	}
	result, err := s.engine.Execute(ctx, query.Request{SQL: sql})
	if err != nil {
		return query.Result{}, fmt.Errorf("insight query failed: %w", err)
	}
	return result, nil
}

func normalizeRequest(req Request) (Request, error) {
	req.From = strings.TrimSpace(req.From)
	req.To = strings.TrimSpace(req.To)
	req.CampaignID = strings.TrimSpace(req.CampaignID)
	req.Channel = strings.TrimSpace(req.Channel)
	req.Country = strings.TrimSpace(req.Country)

	from, err := time.Parse(dateLayout, req.From)
	if err != nil {
		return Request{}, fmt.Errorf("%w: from must be YYYY-MM-DD", ErrInvalidRequest)
	}
	to, err := time.Parse(dateLayout, req.To)
	if err != nil {
		return Request{}, fmt.Errorf("%w: to must be YYYY-MM-DD", ErrInvalidRequest)
	}
	if to.Before(from) {
		return Request{}, fmt.Errorf("%w: to is before from", ErrInvalidRequest)
	}
	if to.Sub(from) > maxRange {
		return Request{}, fmt.Errorf("%w: range exceeds 366 days", ErrInvalidRequest)
	}
	switch {
	case req.TopN < 0:
		return Request{}, fmt.Errorf("%w: top_n must be >= 0", ErrInvalidRequest)
	case req.TopN == 0:
		req.TopN = defaultTopN
	case req.TopN > maxTopN:
		req.TopN = maxTopN
	}
	return req, nil
}

func filtersOf(req Request) map[string]string {
	filters := map[string]string{}
	if req.CampaignID != "" {
		filters["campaign_id"] = req.CampaignID
	}
	if req.Channel != "" {
		filters["channel"] = req.Channel
	}
	if req.Country != "" {
		filters["country"] = req.Country
	}
	if len(filters) == 0 {
		return nil
	}
	return filters
}

func metricsFrom(result query.Result, row []any) Metrics {
	return Metrics{
		Rows:        intValue(valueOf(result, row, "row_count")),
		Impressions: intValue(valueOf(result, row, "impressions")),
		Clicks:      intValue(valueOf(result, row, "clicks")),
		Conversions: intValue(valueOf(result, row, "conversions")),
		Revenue:     floatValue(valueOf(result, row, "revenue")),
		Cost:        floatValue(valueOf(result, row, "cost")),
		ROAS:        floatValue(valueOf(result, row, "roas")),
		CTR:         floatValue(valueOf(result, row, "ctr")),
		CVR:         floatValue(valueOf(result, row, "cvr")),
	}
}
