// Package migrations owns the audit database schema. Scripts are embedded
// as sql/<version>_<name>.{up,down}.sql pairs.
package migrations

import (
	"cmp"
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

//go:embed sql/*.sql
var embeddedFS embed.FS

const migrationTable = "kpilens_schema_migrations"

var (
	scriptName = regexp.MustCompile(`^([0-9]+)_.+\.(up|down)\.sql$`)
	psql       = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
)

// Runner applies the embedded migrations in version order. Each script runs
// in one transaction with its bookkeeping row, so a failed script leaves no
// trace in the version table.
type Runner struct {
	fsys fs.FS
}

func NewRunner() *Runner {
	return &Runner{fsys: embeddedFS}
}

type migration struct {
	Version int64
	UpSQL   string
	DownSQL string
}

type Status struct {
	Applied []int64
	Pending []int64
}

// state pairs the known scripts with the versions recorded in the database.
type state struct {
	known   []migration
	applied []int64
}

func (s state) pending() []migration {
	out := make([]migration, 0, len(s.known))
	for _, item := range s.known {
		if !slices.Contains(s.applied, item.Version) {
			out = append(out, item)
		}
	}
	return out
}

func (s state) script(version int64) (migration, bool) {
	i := slices.IndexFunc(s.known, func(item migration) bool { return item.Version == version })
	if i < 0 {
		return migration{}, false
	}
	return s.known[i], true
}

// Up applies pending migrations. steps <= 0 applies all of them.
func (r *Runner) Up(ctx context.Context, db *sql.DB, steps int) (int, error) {
	st, err := r.load(ctx, db)
	if err != nil {
		return 0, err
	}
	applied := 0
	for _, item := range st.pending() {
		if steps > 0 && applied == steps {
			break
		}
		mark := psql.Insert(migrationTable).Columns("version").Values(item.Version)
		if err := runScript(ctx, db, item.Version, "apply", item.UpSQL, mark); err != nil {
			return applied, err
		}
		applied++
	}
	return applied, nil
}

// Down rolls back the newest applied migrations. steps <= 0 rolls back one.
func (r *Runner) Down(ctx context.Context, db *sql.DB, steps int) (int, error) {
	steps = max(steps, 1)
	st, err := r.load(ctx, db)
	if err != nil {
		return 0, err
	}
	rolledBack := 0
	for i := len(st.applied) - 1; i >= 0 && rolledBack < steps; i-- {
		version := st.applied[i]
		item, ok := st.script(version)
		if !ok {
			return rolledBack, fmt.Errorf("applied migration %d has no script", version)
		}
		unmark := psql.Delete(migrationTable).Where(sq.Eq{"version": version})
		if err := runScript(ctx, db, version, "roll back", item.DownSQL, unmark); err != nil {
			return rolledBack, err
		}
		rolledBack++
	}
	return rolledBack, nil
}

func (r *Runner) Status(ctx context.Context, db *sql.DB) (Status, error) {
	st, err := r.load(ctx, db)
	if err != nil {
		return Status{}, err
	}
	status := Status{Applied: st.applied}
	for _, item := range st.pending() {
		status.Pending = append(status.Pending, item.Version)
	}
	return status, nil
}

func (r *Runner) load(ctx context.Context, db *sql.DB) (state, error) {
	known, err := loadMigrations(r.fsys)
	if err != nil {
		return state{}, err
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+migrationTable+` (
	version BIGINT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`); err != nil {
		return state{}, fmt.Errorf("create %s: %w", migrationTable, err)
	}
	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return state{}, err
	}
	return state{known: known, applied: applied}, nil
}

func runScript(ctx context.Context, db *sql.DB, version int64, verb, script string, bookkeeping sq.Sqlizer) error {
	query, args, err := bookkeeping.ToSql()
	if err != nil {
		return fmt.Errorf("build bookkeeping for migration %d: %w", version, err)
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s migration %d: %w", verb, version, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("%s migration %d: %w", verb, version, err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("record migration %d: %w", version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s migration %d: commit: %w", verb, version, err)
	}
	return nil
}

// appliedVersions returns recorded versions in ascending order.
func appliedVersions(ctx context.Context, db *sql.DB) ([]int64, error) {
	query, args, err := psql.Select("version").From(migrationTable).OrderBy("version ASC").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read applied migrations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var versions []int64
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("read applied migrations: %w", err)
		}
		versions = append(versions, version)
	}
	return versions, rows.Err()
}

func loadMigrations(fsys fs.FS) ([]migration, error) {
	names, err := fs.Glob(fsys, "sql/*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migration scripts: %w", err)
	}

	byVersion := map[int64]*migration{}
	for _, name := range names {
		parts := scriptName.FindStringSubmatch(path.Base(name))
		if parts == nil {
			continue
		}
		version, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("migration version in %s: %w", name, err)
		}
		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		item, ok := byVersion[version]
		if !ok {
			item = &migration{Version: version}
			byVersion[version] = item
		}
		if parts[2] == "up" {
			item.UpSQL = string(body)
		} else {
			item.DownSQL = string(body)
		}
	}

	out := make([]migration, 0, len(byVersion))
	for _, item := range byVersion {
		switch {
		case strings.TrimSpace(item.UpSQL) == "":
			return nil, fmt.Errorf("migration %d missing up SQL", item.Version)
		case strings.TrimSpace(item.DownSQL) == "":
			return nil, fmt.Errorf("migration %d missing down SQL", item.Version)
		}
		out = append(out, *item)
	}
	slices.SortFunc(out, func(a, b migration) int { return cmp.Compare(a.Version, b.Version) })
	return out, nil
}
