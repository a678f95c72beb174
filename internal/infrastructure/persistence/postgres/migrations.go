package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"maps"
	"path"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migration is one schema step, read from migrations/NNN_name.up.sql and
// the matching .down.sql.
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

// MigrationStatus is a Migration with its state in schema_migrations.
type MigrationStatus struct {
	Migration
	Applied   bool
	AppliedAt time.Time
}

// Migrations returns the embedded migrations ordered by version.
func Migrations() ([]Migration, error) {
	return parseMigrations(migrationFiles, "migrations")
}

func parseMigrations(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}

	byVersion := make(map[int]*Migration)
	for _, e := range entries {
		base, direction, ok := cutDirection(e.Name())
		if !ok {
			continue
		}
		num, name, _ := strings.Cut(base, "_")
		version, err := strconv.Atoi(num)
		if err != nil || version <= 0 {
			return nil, fmt.Errorf("%w: bad file name %q", ErrMigrationFailed, e.Name())
		}
		body, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}

		m := byVersion[version]
		if m == nil {
			m = &Migration{Version: version, Name: name}
			byVersion[version] = m
		}
		if direction == "up" {
			m.Up = string(body)
		} else {
			m.Down = string(body)
		}
	}

	out := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		out = append(out, *m)
	}
	sortByVersion(out)
	return out, nil
}

func cutDirection(file string) (base, direction string, ok bool) {
	for _, d := range []string{"up", "down"} {
		if base, ok := strings.CutSuffix(file, "."+d+".sql"); ok {
			return base, d, true
		}
	}
	return "", "", false
}

func sortByVersion(ms []Migration) {
	slices.SortFunc(ms, func(a, b Migration) int { return a.Version - b.Version })
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATOR
// ══════════════════════════════════════════════════════════════════════════════

const migrationsTable = "schema_migrations"

// Migrator applies migrations one transaction each and records them in
// schema_migrations.
type Migrator struct {
	conn       *Connection
	migrations []Migration
}

func NewMigrator(conn *Connection, migrations []Migration) *Migrator {
	ms := slices.Clone(migrations)
	sortByVersion(ms)
	return &Migrator{conn: conn, migrations: ms}
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	_, err := m.conn.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+migrationsTable+` (
		version    INTEGER PRIMARY KEY,
		name       TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrMigrationFailed, migrationsTable, err)
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context) (map[int]time.Time, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	rows, err := m.conn.Query(ctx, `SELECT version, applied_at FROM `+migrationsTable)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", migrationsTable, err)
	}
	out := make(map[int]time.Time)
	var (
		version int
		at      time.Time
	)
	_, err = pgx.ForEachRow(rows, []any{&version, &at}, func() error {
		out[version] = at
		return nil
	})
	return out, err
}

// pending returns the migrations missing from applied, lowest version first.
func (m *Migrator) pending(applied map[int]time.Time) []Migration {
	var out []Migration
	for _, mig := range m.migrations {
		if _, done := applied[mig.Version]; !done {
			out = append(out, mig)
		}
	}
	return out
}

// Migrate applies every pending migration and returns how many it applied.
// It stops at the first failure; earlier migrations stay applied.
func (m *Migrator) Migrate(ctx context.Context) (int, error) {
	applied, err := m.applied(ctx)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, mig := range m.pending(applied) {
		if strings.TrimSpace(mig.Up) == "" {
			return n, fmt.Errorf("%w: %d has no up script", ErrMigrationFailed, mig.Version)
		}
		err := m.conn.WithTx(ctx, ReadCommitted, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.Up); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO `+migrationsTable+` (version, name) VALUES ($1, $2)`, mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return n, fmt.Errorf("%w: %d_%s: %v", ErrMigrationFailed, mig.Version, mig.Name, err)
		}
		n++
	}
	return n, nil
}

// Rollback reverts the newest applied migration. It returns the reverted
// version, or 0 when nothing was applied.
func (m *Migrator) Rollback(ctx context.Context) (int, error) {
	applied, err := m.applied(ctx)
	if err != nil {
		return 0, err
	}
	if len(applied) == 0 {
		return 0, nil
	}
	last := slices.Max(slices.Collect(maps.Keys(applied)))

	i := slices.IndexFunc(m.migrations, func(mig Migration) bool { return mig.Version == last })
	if i < 0 || strings.TrimSpace(m.migrations[i].Down) == "" {
		return 0, fmt.Errorf("%w: %d has no down script", ErrMigrationFailed, last)
	}
	mig := m.migrations[i]

	err = m.conn.WithTx(ctx, ReadCommitted, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, mig.Down); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM `+migrationsTable+` WHERE version = $1`, mig.Version)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("%w: rollback %d_%s: %v", ErrMigrationFailed, mig.Version, mig.Name, err)
	}
	return mig.Version, nil
}

// Status lists every known migration with its applied state.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]MigrationStatus, len(m.migrations))
	for i, mig := range m.migrations {
		at, ok := applied[mig.Version]
		out[i] = MigrationStatus{Migration: mig, Applied: ok, AppliedAt: at}
	}
	return out, nil
}
