package insight

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/kpilens/kpilens/internal/query"
)

func valueOf(result query.Result, row []any, column string) any {
	for i, name := range result.Columns {
		if strings.EqualFold(name, column) && i < len(row) {
			return row[i]
		}
	}
	return nil
}

func intValue(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	case uint64:
		return int64(n)
	case float64:
		return int64(n)
	case *big.Int:
		if n != nil && n.IsInt64() {
			return n.Int64()
		}
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		if err == nil {
			return parsed
		}
	}
	return 0
}

func floatValue(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int64:
		return float64(n)
	case int32:
		return float64(n)
	case int:
		return float64(n)
	case *big.Int:
		if n != nil {
			f, _ := new(big.Float).SetInt(n).Float64()
			return f
		}
	case string:
		parsed, err := strconv.ParseFloat(n, 64)
		if err == nil {
			return parsed
		}
	}
	return 0
}

func textValue(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}
