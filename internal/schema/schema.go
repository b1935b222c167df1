package schema

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kpilens/kpilens/internal/sqlguard"
)

const DefaultTableName = "mart_daily_campaign_kpi"

var (
	identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,127}$`)
	typePattern  = regexp.MustCompile(`^[A-Z][A-Z0-9_ ]*(\([0-9, ]+\))?$`)
)

type Column struct {
	Name string `yaml:"name" json:"name"`
	Type string `yaml:"type" json:"type"`
}

// Descriptor describes the single queryable table. Values returned by New,
// Default and Load are never mutated; accessors hand out copies.
type Descriptor struct {
	table   string
	columns []Column
}

type fileFormat struct {
	Table   string   `yaml:"table"`
	Columns []Column `yaml:"columns"`
}

func New(table string, columns []Column) (Descriptor, error) {
	table = strings.TrimSpace(table)
	if !identPattern.MatchString(table) {
		return Descriptor{}, fmt.Errorf("invalid table name %q", table)
	}
	if sqlguard.IsDenylisted(table) {
		return Descriptor{}, fmt.Errorf("table name %q is a reserved keyword", table)
	}
	if len(columns) == 0 {
		return Descriptor{}, errors.New("at least one column is required")
	}
	seen := make(map[string]struct{}, len(columns))
	copied := make([]Column, 0, len(columns))
	for _, column := range columns {
		name := strings.TrimSpace(column.Name)
		if !identPattern.MatchString(name) {
			return Descriptor{}, fmt.Errorf("invalid column name %q", column.Name)
		}
		if sqlguard.IsDenylisted(name) {
			return Descriptor{}, fmt.Errorf("column name %q is a reserved keyword", name)
		}
		key := strings.ToLower(name)
		if _, ok := seen[key]; ok {
			return Descriptor{}, fmt.Errorf("duplicate column %q", name)
		}
		seen[key] = struct{}{}
		colType := strings.ToUpper(strings.TrimSpace(column.Type))
		if colType == "" {
			return Descriptor{}, fmt.Errorf("column %q has no type", name)
		}
		if !typePattern.MatchString(colType) {
			return Descriptor{}, fmt.Errorf("column %q has invalid type %q", name, column.Type)
		}
		copied = append(copied, Column{Name: name, Type: colType})
	}
	return Descriptor{table: table, columns: copied}, nil
}

// Default returns the descriptor of the daily campaign KPI mart.
func Default() Descriptor {
	d, err := New(DefaultTableName, []Column{
		{Name: "date", Type: "DATE"},
		{Name: "campaign_id", Type: "VARCHAR"},
		{Name: "channel", Type: "VARCHAR"},
		{Name: "country", Type: "VARCHAR"},
		{Name: "impressions", Type: "BIGINT"},
		{Name: "clicks", Type: "BIGINT"},
		{Name: "ctr", Type: "DOUBLE"},
		{Name: "payment_attempts", Type: "BIGINT"},
		{Name: "conversions", Type: "BIGINT"},
		{Name: "payment_success_rate", Type: "DOUBLE"},
		{Name: "revenue", Type: "DOUBLE"},
		{Name: "cost", Type: "DOUBLE"},
		{Name: "conversion_rate", Type: "DOUBLE"},
		{Name: "roas", Type: "DOUBLE"},
		{Name: "updated_at", Type: "TIMESTAMP"},
	})
	if err != nil {
		panic(err)
	}
	return d
}

// Load reads a YAML descriptor file. An empty path yields Default.
func Load(path string) (Descriptor, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Descriptor{}, fmt.Errorf("read schema file: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (Descriptor, error) {
	var parsed fileFormat
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return Descriptor{}, fmt.Errorf("decode schema file: %w", err)
	}
	return New(parsed.Table, parsed.Columns)
}

func (d Descriptor) Table() string {
	return d.table
}

func (d Descriptor) Columns() []Column {
	out := make([]Column, len(d.columns))
	copy(out, d.columns)
	return out
}

func (d Descriptor) HasColumn(name string) bool {
	for _, column := range d.columns {
		if strings.EqualFold(column.Name, name) {
			return true
		}
	}
	return false
}

// Describe renders the table and its columns as prompt text.
func (d Descriptor) Describe() string {
	var b strings.Builder
	b.WriteString("Table: ")
	b.WriteString(d.table)
	b.WriteString("\nColumns:\n")
	for _, column := range d.columns {
		b.WriteString("- ")
		b.WriteString(column.Name)
		b.WriteString(" (")
		b.WriteString(column.Type)
		b.WriteString(")\n")
	}
	return b.String()
}

func (d Descriptor) MarshalYAML() (any, error) {
	return fileFormat{Table: d.table, Columns: d.Columns()}, nil
}
