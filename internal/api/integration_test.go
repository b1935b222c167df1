//go:build integration

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	auditpostgres "github.com/kpilens/kpilens/internal/audit/postgres"
	"github.com/kpilens/kpilens/internal/mart"
	"github.com/kpilens/kpilens/internal/migrations"
	"github.com/kpilens/kpilens/internal/nl2sql"
	"github.com/kpilens/kpilens/internal/query/duckdb"
	"github.com/kpilens/kpilens/internal/schema"
	"github.com/kpilens/kpilens/internal/sqlguard"
)

const integrationAdEvents = `event_time,date,user_id,campaign_id,channel,country,event_type,cost,device
2026-01-01 09:00:00,2026-01-01,u1,c1,search,KR,impression,0.5,mobile
2026-01-01 09:00:01,2026-01-01,u1,c1,search,KR,click,1.5,mobile
2026-01-01 10:00:00,2026-01-01,u3,c2,social,US,impression,1,mobile
`

const integrationPayments = `payment_time,date,user_id,order_id,campaign_id,amount,success_yn,fail_reason
2026-01-01 09:05:00,2026-01-01,u1,o1,c1,30.00,Y,
`

func TestAskCorrectsOnceAndAuditsAgainstPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx, "postgres:15",
		postgres.WithDatabase("kpilens"),
		postgres.WithUsername("kpilens"),
		postgres.WithPassword("kpilens"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	defer func() { _ = pgContainer.Terminate(ctx) }()

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	db, err := auditpostgres.Open(ctx, auditpostgres.DBConfig{DSN: dsn})
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	_, err = migrations.NewRunner().Up(ctx, db, 0)
	require.NoError(t, err)

	engine := openIntegrationMart(t)

	// The first completion names a column that does not exist; the
	// corrective completion fixes it.
	var calls atomic.Int32
	completions := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		content := "select campaign_id, sum(revenu) as revenue from mart_daily_campaign_kpi group by campaign_id"
		if calls.Add(1) > 1 {
			content = "select campaign_id, sum(revenue) as revenue from mart_daily_campaign_kpi group by campaign_id order by revenue desc"
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"role": "assistant", "content": content}}},
		})
	}))
	defer completions.Close()

	generator, err := nl2sql.NewOpenAIGenerator(nl2sql.OpenAIConfig{BaseURL: completions.URL, APIKey: "test"})
	require.NoError(t, err)
	synthesizer, err := nl2sql.NewSynthesizer(generator, "gpt-4o-mini")
	require.NoError(t, err)
	validator, err := sqlguard.New(schema.DefaultTableName, nil)
	require.NoError(t, err)
	translator, err := nl2sql.NewTranslator(nl2sql.Config{
		Schema:      schema.Default(),
		Validator:   validator,
		Synthesizer: synthesizer,
		Engine:      engine,
		RowLimit:    100,
	})
	require.NoError(t, err)

	h := NewHandler(testConfig(t), Dependencies{Translator: translator, Audit: auditpostgres.New(db)})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader(`{"question":"캠페인별 매출"}`)))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var body askResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, nl2sql.OutcomeSuccess, body.Outcome)
	require.Len(t, body.Attempts, 2)
	require.Equal(t, "c1", body.Rows[0][0])
	require.EqualValues(t, 2, calls.Load())

	listed := httptest.NewRecorder()
	h.ServeHTTP(listed, httptest.NewRequest(http.MethodGet, "/v1/audit?outcome=SUCCESS", nil))
	require.Equal(t, http.StatusOK, listed.Code)
	var entries struct {
		Entries []struct {
			Operation string `json:"operation"`
			Attempts  int    `json:"attempts"`
			RowCount  int    `json:"row_count"`
		} `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(listed.Body.Bytes(), &entries))
	require.Len(t, entries.Entries, 1)
	require.Equal(t, "ask", entries.Entries[0].Operation)
	require.Equal(t, 2, entries.Entries[0].Attempts)
	require.Equal(t, 2, entries.Entries[0].RowCount)
}

func openIntegrationMart(t *testing.T) *duckdb.FileEngine {
	t.Helper()
	dir := t.TempDir()
	sources := mart.Sources{
		AdEventsCSV: filepath.Join(dir, "ad_event_log.csv"),
		PaymentsCSV: filepath.Join(dir, "payment_log.csv"),
	}
	require.NoError(t, os.WriteFile(sources.AdEventsCSV, []byte(integrationAdEvents), 0o644))
	require.NoError(t, os.WriteFile(sources.PaymentsCSV, []byte(integrationPayments), 0o644))

	path := filepath.Join(dir, "mart.duckdb")
	builder, err := mart.Open(context.Background(), path, schema.Default(), nil)
	require.NoError(t, err)
	_, err = builder.Build(context.Background(), sources)
	require.NoError(t, err)
	require.NoError(t, builder.Close())

	engine, err := duckdb.OpenFile(context.Background(), duckdb.FileConfig{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	return engine
}
