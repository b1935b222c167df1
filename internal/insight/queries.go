package insight

import (
	"fmt"
	"strings"
)

// Dimension is a mart column a report breaks totals down by.
type Dimension string

const (
	DimensionCampaign Dimension = "campaign_id"
	DimensionChannel  Dimension = "channel"
	DimensionCountry  Dimension = "country"
)

var breakdownDimensions = []Dimension{DimensionCampaign, DimensionChannel, DimensionCountry}

const metricsSelect = `count(*) as row_count,
       cast(coalesce(sum(impressions), 0) as bigint) as impressions,
       cast(coalesce(sum(clicks), 0) as bigint) as clicks,
       cast(coalesce(sum(conversions), 0) as bigint) as conversions,
       cast(coalesce(sum(revenue), 0) as double) as revenue,
       cast(coalesce(sum(cost), 0) as double) as cost,
       case when coalesce(sum(cost), 0) = 0 then 0 else sum(revenue) / sum(cost) end as roas,
       case when coalesce(sum(impressions), 0) = 0 then 0 else sum(clicks) / sum(impressions) end as ctr,
       case when coalesce(sum(clicks), 0) = 0 then 0 else sum(conversions) / sum(clicks) end as cvr`

func totalsQuery(table string, req Request) string {
	return fmt.Sprintf("select %s\nfrom %s\n%s", metricsSelect, table, whereClause(req))
}

func breakdownQuery(table string, dim Dimension, req Request) string {
	return fmt.Sprintf("select %s,\n       %s\nfrom %s\n%s\ngroup by %s\norder by revenue desc, %s\nlimit %d",
		dim, metricsSelect, table, whereClause(req), dim, dim, req.TopN)
}

func dailyQuery(table string, req Request) string {
	return fmt.Sprintf("select strftime(date, '%%Y-%%m-%%d') as day,\n       %s\nfrom %s\n%s\ngroup by 1\norder by 1",
		metricsSelect, table, whereClause(req))
}

func whereClause(req Request) string {
	conds := []string{
		fmt.Sprintf("date between %s and %s", quoteLiteral(req.From), quoteLiteral(req.To)),
	}
	if req.CampaignID != "" {
		conds = append(conds, fmt.Sprintf("campaign_id = %s", quoteLiteral(req.CampaignID)))
	}
	if req.Channel != "" {
		conds = append(conds, fmt.Sprintf("channel = %s", quoteLiteral(req.Channel)))
	}
	if req.Country != "" {
		conds = append(conds, fmt.Sprintf("country = %s", quoteLiteral(req.Country)))
	}
	return "where " + strings.Join(conds, "\n  and ")
}

func quoteLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}
