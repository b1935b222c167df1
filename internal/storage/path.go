package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

const latestPointerName = "LATEST"

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// BuildMartSnapshotPath returns the object key of a parquet snapshot of
// tableName built at builtAt, e.g.
// mart_daily_campaign_kpi/snapshot=20260101T093000Z.parquet.
func BuildMartSnapshotPath(tableName string, builtAt time.Time) (string, error) {
	if err := validatePathComponent(tableName, "table name"); err != nil {
		return "", err
	}
	return path.Join(
		tableName,
		fmt.Sprintf("snapshot=%s.parquet", builtAt.UTC().Format("20060102T150405Z")),
	), nil
}

// LatestPointerPath is the key of the small text object naming the current
// snapshot key of tableName.
func LatestPointerPath(tableName string) (string, error) {
	if err := validatePathComponent(tableName, "table name"); err != nil {
		return "", err
	}
	return path.Join(tableName, latestPointerName), nil
}

// ParseLatestPointer validates the body of a LATEST object.
func ParseLatestPointer(tableName string, body []byte) (string, error) {
	key := strings.TrimSpace(string(body))
	if key == "" {
		return "", fmt.Errorf("latest pointer for %q is empty", tableName)
	}
	if !strings.HasPrefix(key, tableName+"/") || !strings.HasSuffix(key, ".parquet") {
		return "", fmt.Errorf("latest pointer for %q names unexpected key %q", tableName, key)
	}
	return key, nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
