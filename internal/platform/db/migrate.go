package db

import (
	"cmp"
	"context"
	"fmt"
	"io/fs"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Migration is one versioned SQL file, e.g. 001_feature_snapshots.sql.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

type MigrationStatus struct {
	Version   int
	Name      string
	AppliedAt *time.Time
}

func (s MigrationStatus) Applied() bool { return s.AppliedAt != nil }

// SchemaReport is the state of one tenant schema: its migrations and, once
// the table exists, the number of feature snapshots stored per domain.
type SchemaReport struct {
	Schema     string
	Migrations []MigrationStatus
	Snapshots  map[string]int64
}

// Pending counts migrations not yet applied.
func (r *SchemaReport) Pending() int {
	n := 0
	for _, s := range r.Migrations {
		if !s.Applied() {
			n++
		}
	}
	return n
}

type Migrator struct {
	pool   *pgxpool.Pool
	files  fs.FS
	logger zerolog.Logger
}

// NewMigrator reads migrations from files, normally migrations.FS or an
// os.DirFS override.
func NewMigrator(pool *pgxpool.Pool, files fs.FS, logger zerolog.Logger) *Migrator {
	return &Migrator{pool: pool, files: files, logger: logger.With().Str("component", "migrator").Logger()}
}

// migrationVersion reads the numeric prefix of a NNN_name.sql file.
func migrationVersion(name string) (int, bool) {
	prefix, _, found := strings.Cut(name, "_")
	if !found || !strings.HasSuffix(name, ".sql") {
		return 0, false
	}
	v, err := strconv.Atoi(prefix)
	return v, err == nil
}

// Load returns the top-level migrations in version order. Two files sharing
// a version is an error.
func (m *Migrator) Load() ([]Migration, error) {
	names, err := fs.Glob(m.files, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	seen := make(map[int]string, len(names))
	out := make([]Migration, 0, len(names))
	for _, name := range names {
		v, ok := migrationVersion(name)
		if !ok {
			continue
		}
		if prev, dup := seen[v]; dup {
			return nil, fmt.Errorf("migrations %s and %s share version %d", prev, name, v)
		}
		seen[v] = name

		body, err := fs.ReadFile(m.files, name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		out = append(out, Migration{Version: v, Name: name, SQL: string(body)})
	}

	slices.SortFunc(out, func(a, b Migration) int { return cmp.Compare(a.Version, b.Version) })
	return out, nil
}

func (m *Migrator) ledger(schema string) string {
	return pgx.Identifier{schema, "_migrations"}.Sanitize()
}

// applied returns when each recorded version was applied, creating the
// ledger table on first use.
func (m *Migrator) applied(ctx context.Context, schema string) (map[int]time.Time, error) {
	if _, err := m.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+m.ledger(schema)+` (
    version    INTEGER PRIMARY KEY,
    name       VARCHAR(255) NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`); err != nil {
		return nil, fmt.Errorf("prepare migration ledger in %s: %w", schema, err)
	}

	rows, err := m.pool.Query(ctx, `SELECT version, applied_at FROM `+m.ledger(schema))
	if err != nil {
		return nil, fmt.Errorf("read migration ledger in %s: %w", schema, err)
	}
	done := make(map[int]time.Time)
	var (
		v  int
		at time.Time
	)
	_, err = pgx.ForEachRow(rows, []any{&v, &at}, func() error {
		done[v] = at
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan migration ledger in %s: %w", schema, err)
	}
	return done, nil
}

// Up applies every pending migration to schema, one transaction each, and
// returns the ones it applied. On failure the already applied prefix is
// still returned.
func (m *Migrator) Up(ctx context.Context, schema string) ([]Migration, error) {
	all, err := m.Load()
	if err != nil {
		return nil, err
	}
	done, err := m.applied(ctx, schema)
	if err != nil {
		return nil, err
	}

	var ran []Migration
	for _, mig := range all {
		if _, ok := done[mig.Version]; ok {
			continue
		}
		start := time.Now()
		if err := m.apply(ctx, schema, mig); err != nil {
			return ran, fmt.Errorf("migration %s: %w", mig.Name, err)
		}
		m.logger.Info().
			Str("schema", schema).
			Int("version", mig.Version).
			Str("name", mig.Name).
			Dur("took", time.Since(start)).
			Msg("migration applied")
		ran = append(ran, mig)
	}

	if len(ran) == 0 {
		m.logger.Debug().Str("schema", schema).Msg("schema up to date")
	}
	return ran, nil
}

func (m *Migrator) apply(ctx context.Context, schema string, mig Migration) error {
	return pgx.BeginFunc(ctx, m.pool, func(tx pgx.Tx) error {
		path := pgx.Identifier{schema}.Sanitize() + ", public"
		if _, err := tx.Exec(ctx, "SELECT set_config('search_path', $1, true)", path); err != nil {
			return fmt.Errorf("scope to %s: %w", schema, err)
		}
		if _, err := tx.Exec(ctx, mig.SQL); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `INSERT INTO `+m.ledger(schema)+` (version, name) VALUES ($1, $2)`, mig.Version, mig.Name)
		return err
	})
}

// Report lists every known migration for schema with its apply time and,
// when feature_snapshots exists, counts its rows by domain.
func (m *Migrator) Report(ctx context.Context, schema string) (*SchemaReport, error) {
	all, err := m.Load()
	if err != nil {
		return nil, err
	}
	done, err := m.applied(ctx, schema)
	if err != nil {
		return nil, err
	}

	r := &SchemaReport{Schema: schema, Migrations: make([]MigrationStatus, 0, len(all))}
	for _, mig := range all {
		st := MigrationStatus{Version: mig.Version, Name: mig.Name}
		if at, ok := done[mig.Version]; ok {
			st.AppliedAt = &at
		}
		r.Migrations = append(r.Migrations, st)
	}

	exists, err := snapshotTableExists(ctx, m.pool, schema)
	if err != nil {
		return nil, err
	}
	if !exists {
		return r, nil
	}
	if r.Snapshots, err = m.snapshotCounts(ctx, schema); err != nil {
		return nil, err
	}
	return r, nil
}

func (m *Migrator) snapshotCounts(ctx context.Context, schema string) (map[string]int64, error) {
	rows, err := m.pool.Query(ctx, `SELECT domain, COUNT(*) FROM `+
		pgx.Identifier{schema, provisionedTable}.Sanitize()+` GROUP BY domain`)
	if err != nil {
		return nil, fmt.Errorf("count %s in %s: %w", provisionedTable, schema, err)
	}
	counts := map[string]int64{}
	var (
		domain string
		n      int64
	)
	if _, err := pgx.ForEachRow(rows, []any{&domain, &n}, func() error {
		counts[domain] = n
		return nil
	}); err != nil {
		return nil, fmt.Errorf("count %s in %s: %w", provisionedTable, schema, err)
	}
	return counts, nil
}
