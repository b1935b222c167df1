package schema

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/kpilens/kpilens/internal/sqlguard"
)

func TestDefaultDescribesKPIMart(t *testing.T) {
	d := Default()
	if d.Table() != "mart_daily_campaign_kpi" {
		t.Fatalf("Table() = %q", d.Table())
	}
	if len(d.Columns()) != 15 {
		t.Fatalf("len(Columns()) = %d", len(d.Columns()))
	}
	if !d.HasColumn("ROAS") {
		t.Fatal("expected case-insensitive column lookup")
	}
	text := d.Describe()
	if !strings.Contains(text, "- updated_at (TIMESTAMP)") {
		t.Fatalf("Describe() = %q", text)
	}
}

func TestColumnsReturnsCopy(t *testing.T) {
	d := Default()
	cols := d.Columns()
	cols[0].Name = "mutated"
	if d.Columns()[0].Name != "date" {
		t.Fatal("descriptor was mutated through Columns()")
	}
}

func TestNewRejectsBadInput(t *testing.T) {
	cases := map[string]struct {
		table   string
		columns []Column
	}{
		"bad table":        {table: "mart;drop", columns: []Column{{Name: "a", Type: "INT"}}},
		"no columns":       {table: "t"},
		"duplicate column": {table: "t", columns: []Column{{Name: "a", Type: "INT"}, {Name: "A", Type: "INT"}}},
		"missing type":     {table: "t", columns: []Column{{Name: "a"}}},
		"injected type":    {table: "t", columns: []Column{{Name: "a", Type: "INT) AS a FROM x --"}}},
		"keyword column":   {table: "t", columns: []Column{{Name: "a", Type: "INT"}, {Name: "Set", Type: "INT"}}},
		"keyword table":    {table: "load", columns: []Column{{Name: "a", Type: "INT"}}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := New(tc.table, tc.columns); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadYAMLRoundTrip(t *testing.T) {
	raw, err := yaml.Marshal(Default())
	if err != nil {
		t.Fatalf("yaml.Marshal() error = %v", err)
	}
	path := filepath.Join(t.TempDir(), "schema.yaml")
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	d, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if d.Describe() != Default().Describe() {
		t.Fatalf("Describe() mismatch:\n%s", d.Describe())
	}
}

func TestLoadEmptyPathReturnsDefault(t *testing.T) {
	d, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if d.Table() != DefaultTableName {
		t.Fatalf("Table() = %q", d.Table())
	}
}

func TestLoadRejectsKeywordColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.yaml")
	raw := "table: kpi\ncolumns:\n  - name: date\n    type: DATE\n  - name: load\n    type: BIGINT\n"
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "reserved keyword") {
		t.Fatalf("Load() error = %v", err)
	}
}

func TestDefaultColumnsPassValidator(t *testing.T) {
	for _, column := range Default().Columns() {
		if sqlguard.IsDenylisted(column.Name) {
			t.Fatalf("column %q is denylisted", column.Name)
		}
	}
}
