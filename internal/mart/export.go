package mart

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"

	"github.com/parquet-go/parquet-go"
)

// Row is one mart record as written to a parquet snapshot. Dates and
// timestamps are stored as text and cast back by the snapshot reader.
type Row struct {
	Date               string  `parquet:"date"`
	CampaignID         string  `parquet:"campaign_id"`
	Channel            string  `parquet:"channel"`
	Country            string  `parquet:"country"`
	Impressions        int64   `parquet:"impressions"`
	Clicks             int64   `parquet:"clicks"`
	CTR                float64 `parquet:"ctr"`
	PaymentAttempts    int64   `parquet:"payment_attempts"`
	Conversions        int64   `parquet:"conversions"`
	PaymentSuccessRate float64 `parquet:"payment_success_rate"`
	Revenue            float64 `parquet:"revenue"`
	Cost               float64 `parquet:"cost"`
	ConversionRate     float64 `parquet:"conversion_rate"`
	ROAS               float64 `parquet:"roas"`
	UpdatedAt          string  `parquet:"updated_at"`
}

const selectRowsSQL = `
select strftime(date, '%%Y-%%m-%%d'),
       coalesce(campaign_id, ''),
       coalesce(channel, ''),
       coalesce(country, ''),
       impressions, clicks, ctr,
       payment_attempts, conversions, payment_success_rate,
       revenue, cost, conversion_rate, roas,
       strftime(updated_at, '%%Y-%%m-%%d %%H:%%M:%%S.%%f')
from %s
order by date, campaign_id, channel, country`

// ReadRows loads the whole mart table. The mart is one row per campaign,
// channel and country per day, small enough to hold in memory.
func ReadRows(ctx context.Context, db *sql.DB, table string) ([]Row, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(selectRowsSQL, quoteIdent(table)))
	if err != nil {
		return nil, fmt.Errorf("query mart rows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]Row, 0)
	for rows.Next() {
		var row Row
		if err := rows.Scan(
			&row.Date, &row.CampaignID, &row.Channel, &row.Country,
			&row.Impressions, &row.Clicks, &row.CTR,
			&row.PaymentAttempts, &row.Conversions, &row.PaymentSuccessRate,
			&row.Revenue, &row.Cost, &row.ConversionRate, &row.ROAS,
			&row.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan mart row: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mart rows: %w", err)
	}
	return out, nil
}

type EncodeResult struct {
	Data     []byte
	RowCount int64
}

func EncodeParquet(rows []Row) (EncodeResult, error) {
	if len(rows) == 0 {
		return EncodeResult{}, fmt.Errorf("mart rows are required")
	}
	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[Row](buf)
	if _, err := writer.Write(rows); err != nil {
		return EncodeResult{}, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return EncodeResult{}, fmt.Errorf("close parquet writer: %w", err)
	}
	return EncodeResult{Data: buf.Bytes(), RowCount: int64(len(rows))}, nil
}
