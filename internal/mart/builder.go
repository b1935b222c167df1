// Package mart builds the daily campaign KPI table from raw ad event and
// payment logs. It is the only writer of the mart and runs offline.
package mart

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/kpilens/kpilens/internal/observability"
	"github.com/kpilens/kpilens/internal/schema"
)

const createAdEventLogSQL = `
create table if not exists ad_event_log (
  event_time  varchar,
  date        date,
  user_id     varchar,
  campaign_id varchar,
  channel     varchar,
  country     varchar,
  event_type  varchar,
  cost        decimal(12,4),
  device      varchar
)`

const createPaymentLogSQL = `
create table if not exists payment_log (
  payment_time varchar,
  date         date,
  user_id      varchar,
  order_id     varchar,
  campaign_id  varchar,
  amount       decimal(12,2),
  success_yn   varchar,
  fail_reason  varchar
)`

const loadAdEventsSQL = `
insert into ad_event_log (event_time, date, user_id, campaign_id, channel, country, event_type, cost, device)
select event_time, date, user_id, campaign_id, channel, country, event_type, cost, device
from read_csv_auto(%s, header=true, types={
  'event_time':'VARCHAR',
  'date':'DATE',
  'user_id':'VARCHAR',
  'campaign_id':'VARCHAR',
  'channel':'VARCHAR',
  'country':'VARCHAR',
  'event_type':'VARCHAR',
  'cost':'DECIMAL(12,4)',
  'device':'VARCHAR'
})`

const loadPaymentsSQL = `
insert into payment_log (payment_time, date, user_id, order_id, campaign_id, amount, success_yn, fail_reason)
select payment_time, date, user_id, order_id, campaign_id, amount, success_yn, fail_reason
from read_csv_auto(%s, header=true, types={
  'payment_time':'VARCHAR',
  'date':'DATE',
  'user_id':'VARCHAR',
  'order_id':'VARCHAR',
  'campaign_id':'VARCHAR',
  'amount':'DECIMAL(12,2)',
  'success_yn':'VARCHAR',
  'fail_reason':'VARCHAR'
})`

// Payments carry no channel or country; they inherit them from the paying
// user's ad events for the same campaign and day.
const buildMartSQL = `
create or replace table %[1]s as
with ad as (
  select date, campaign_id, channel, country,
         count(*) filter (where lower(event_type) = 'impression') as impressions,
         count(*) filter (where lower(event_type) = 'click') as clicks,
         coalesce(sum(cost), 0) as cost
  from ad_event_log
  group by date, campaign_id, channel, country
),
touch as (
  select date, user_id, campaign_id, min(channel) as channel, min(country) as country
  from ad_event_log
  group by date, user_id, campaign_id
),
pay as (
  select p.date, p.campaign_id,
         coalesce(t.channel, 'unknown') as channel,
         coalesce(t.country, 'unknown') as country,
         count(*) as payment_attempts,
         count(*) filter (where upper(p.success_yn) = 'Y') as conversions,
         coalesce(sum(p.amount) filter (where upper(p.success_yn) = 'Y'), 0) as revenue
  from payment_log p
  left join touch t on t.date = p.date and t.user_id = p.user_id and t.campaign_id = p.campaign_id
  group by 1, 2, 3, 4
),
joined as (
  select date, campaign_id, channel, country,
         cast(coalesce(ad.impressions, 0) as bigint) as impressions,
         cast(coalesce(ad.clicks, 0) as bigint) as clicks,
         cast(coalesce(pay.payment_attempts, 0) as bigint) as payment_attempts,
         cast(coalesce(pay.conversions, 0) as bigint) as conversions,
         cast(coalesce(pay.revenue, 0) as double) as revenue,
         cast(coalesce(ad.cost, 0) as double) as cost
  from ad full outer join pay using (date, campaign_id, channel, country)
)
select date, campaign_id, channel, country,
       impressions,
       clicks,
       case when impressions = 0 then 0 else clicks / impressions end as ctr,
       payment_attempts,
       conversions,
       case when payment_attempts = 0 then 0 else conversions / payment_attempts end as payment_success_rate,
       revenue,
       cost,
       case when clicks = 0 then 0 else conversions / clicks end as conversion_rate,
       case when cost = 0 then 0 else revenue / cost end as roas,
       cast(now() as timestamp) as updated_at
from joined
order by date, campaign_id, channel, country`

type Sources struct {
	AdEventsCSV string
	PaymentsCSV string
}

type BuildResult struct {
	Table   string
	Rows    int64
	BuiltAt time.Time
}

// Builder owns a read-write DuckDB handle on the mart file.
type Builder struct {
	db     *sql.DB
	table  string
	logger *slog.Logger
}

func Open(ctx context.Context, path string, d schema.Descriptor, logger *slog.Logger) (*Builder, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("duckdb path is required")
	}
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}
	return NewBuilder(db, d, logger), nil
}

func NewBuilder(db *sql.DB, d schema.Descriptor, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Builder{db: db, table: d.Table(), logger: logger}
}

func (b *Builder) DB() *sql.DB {
	return b.db
}

func (b *Builder) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

// Build reloads both raw tables from CSV and rebuilds the mart in one
// transaction, so readers see either the old mart or the new one.
func (b *Builder) Build(ctx context.Context, sources Sources) (BuildResult, error) {
	if strings.TrimSpace(sources.AdEventsCSV) == "" || strings.TrimSpace(sources.PaymentsCSV) == "" {
		return BuildResult{}, fmt.Errorf("ad events and payments csv paths are required")
	}
	start := time.Now()

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return BuildResult{}, fmt.Errorf("begin mart build: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	steps := []struct {
		name string
		sql  string
	}{
		{name: "create ad_event_log", sql: createAdEventLogSQL},
		{name: "create payment_log", sql: createPaymentLogSQL},
		{name: "truncate ad_event_log", sql: "delete from ad_event_log"},
		{name: "truncate payment_log", sql: "delete from payment_log"},
		{name: "load ad events", sql: fmt.Sprintf(loadAdEventsSQL, quoteString(sources.AdEventsCSV))},
		{name: "load payments", sql: fmt.Sprintf(loadPaymentsSQL, quoteString(sources.PaymentsCSV))},
		{name: "build mart", sql: fmt.Sprintf(buildMartSQL, quoteIdent(b.table))},
	}
	for _, step := range steps {
		if _, err := tx.ExecContext(ctx, step.sql); err != nil {
			return BuildResult{}, fmt.Errorf("%s: %w", step.name, err)
		}
		b.logger.DebugContext(ctx, "mart_build_step", slog.String("step", step.name))
	}

	var rows int64
	if err := tx.QueryRowContext(ctx, fmt.Sprintf("select count(*) from %s", quoteIdent(b.table))).Scan(&rows); err != nil {
		return BuildResult{}, fmt.Errorf("count mart rows: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return BuildResult{}, fmt.Errorf("commit mart build: %w", err)
	}

	observability.SetMartSnapshotRows(rows)
	b.logger.InfoContext(ctx, "mart_built",
		slog.String("table", b.table),
		slog.Int64("rows", rows),
		slog.String("duration", time.Since(start).String()),
	)
	return BuildResult{Table: b.table, Rows: rows, BuiltAt: time.Now().UTC()}, nil
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteString(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}
