package migrations

import (
	"strings"
	"testing"
)

func TestAuditMigrationContainsRequiredTableAndIndexes(t *testing.T) {
	body, err := embeddedFS.ReadFile("sql/000001_ask_audit.up.sql")
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}

	sql := string(body)
	for _, snippet := range []string{
		"CREATE TABLE ask_audit",
		"outcome_kind TEXT NOT NULL",
		"CREATE INDEX idx_ask_audit_created_at",
		"CREATE INDEX idx_ask_audit_outcome_created_at",
	} {
		if !strings.Contains(sql, snippet) {
			t.Fatalf("migration missing required snippet: %s", snippet)
		}
	}
}

func TestAuditMigrationStoresNoQueryText(t *testing.T) {
	body, err := embeddedFS.ReadFile("sql/000001_ask_audit.up.sql")
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	lower := strings.ToLower(string(body))
	for _, column := range []string{" sql ", "query_text", "candidate"} {
		if strings.Contains(lower, column) {
			t.Fatalf("audit table must not keep generated queries, found %q", column)
		}
	}
}
