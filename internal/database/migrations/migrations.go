// Package migrations applies the embedded schema migrations.
package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"slices"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
)

// Files holds the schema migrations compiled into the binary.
//
//go:embed *.sql
var Files embed.FS

// Migration is one schema version, read from NNNN_name.up.sql and the
// optional NNNN_name.down.sql.
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

// parseFileName splits "0001_init.up.sql" into 1, "init", "up".
func parseFileName(file string) (version int, name, direction string, err error) {
	base, ok := strings.CutSuffix(file, ".sql")
	if !ok {
		return 0, "", "", fmt.Errorf("not an .sql file")
	}
	dot := strings.LastIndexByte(base, '.')
	if dot < 0 {
		return 0, "", "", fmt.Errorf("missing .up or .down")
	}
	base, direction = base[:dot], base[dot+1:]
	if direction != "up" && direction != "down" {
		return 0, "", "", fmt.Errorf("unknown direction %q", direction)
	}
	rawVersion, name, _ := strings.Cut(base, "_")
	version, err = strconv.Atoi(rawVersion)
	if err != nil || version <= 0 {
		return 0, "", "", fmt.Errorf("invalid version %q", rawVersion)
	}
	return version, name, direction, nil
}

// Load reads every migration in the root of fsys, ordered by version.
func Load(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	byVersion := make(map[int]*Migration)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version, name, direction, err := parseFileName(entry.Name())
		if err != nil {
			log.Warn().Err(err).Str("file", entry.Name()).Msg("Skipping invalid migration file")
			continue
		}
		content, err := fs.ReadFile(fsys, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read migration file %s: %w", entry.Name(), err)
		}

		m, ok := byVersion[version]
		if !ok {
			m = &Migration{Version: version, Name: name}
			byVersion[version] = m
		}
		if direction == "up" {
			m.Up = string(content)
		} else {
			m.Down = string(content)
		}
	}

	out := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.Up == "" {
			return nil, fmt.Errorf("migration %d (%s) has no up file", m.Version, m.Name)
		}
		out = append(out, *m)
	}
	slices.SortFunc(out, func(a, b Migration) int { return a.Version - b.Version })

	log.Debug().Int("count", len(out)).Msg("Loaded migrations")
	return out, nil
}

// Migrator applies and reverts migrations, tracking them in the migrations
// table.
type Migrator struct {
	db         *sqlx.DB
	migrations []Migration
}

// NewMigrator creates a migrator for the given migration set.
func NewMigrator(db *sqlx.DB, migrations []Migration) *Migrator {
	return &Migrator{db: db, migrations: migrations}
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

// Applied returns the applied versions in ascending order. It never writes,
// so it works on read-only connections.
func (m *Migrator) Applied(ctx context.Context) ([]int, error) {
	versions := []int{}
	var tables int
	err := m.db.GetContext(ctx, &tables,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'migrations'")
	if err != nil {
		return nil, fmt.Errorf("failed to look up migrations table: %w", err)
	}
	if tables == 0 {
		return versions, nil
	}
	if err := m.db.SelectContext(ctx, &versions, "SELECT version FROM migrations ORDER BY version"); err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	return versions, nil
}

// step runs one migration script and its bookkeeping in a transaction.
func (m *Migrator) step(ctx context.Context, script, bookkeeping string, args ...any) error {
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, args...); err != nil {
		return err
	}
	return tx.Commit()
}

// Up applies every pending migration and returns how many ran.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	if err := m.ensureTable(ctx); err != nil {
		return 0, err
	}
	applied, err := m.Applied(ctx)
	if err != nil {
		return 0, err
	}

	ran := 0
	for _, mig := range m.migrations {
		if slices.Contains(applied, mig.Version) {
			continue
		}
		log.Info().Int("version", mig.Version).Str("name", mig.Name).Msg("Applying migration")

		err := m.step(ctx, mig.Up,
			"INSERT INTO migrations (version, name) VALUES (?, ?)", mig.Version, mig.Name)
		if err != nil {
			return ran, fmt.Errorf("migration %d (%s) failed: %w", mig.Version, mig.Name, err)
		}
		ran++
	}
	return ran, nil
}

// Down reverts the last n applied migrations, newest first, and returns how
// many were reverted. A migration without a down file stops the rollback.
func (m *Migrator) Down(ctx context.Context, n int) (int, error) {
	applied, err := m.Applied(ctx)
	if err != nil {
		return 0, err
	}

	reverted := 0
	for i := len(applied) - 1; i >= 0 && reverted < n; i-- {
		version := applied[i]
		idx := slices.IndexFunc(m.migrations, func(mig Migration) bool { return mig.Version == version })
		if idx < 0 || m.migrations[idx].Down == "" {
			return reverted, fmt.Errorf("migration %d cannot be rolled back: no down file", version)
		}
		mig := m.migrations[idx]
		log.Info().Int("version", mig.Version).Str("name", mig.Name).Msg("Rolling back migration")

		if err := m.step(ctx, mig.Down, "DELETE FROM migrations WHERE version = ?", mig.Version); err != nil {
			return reverted, fmt.Errorf("rollback of migration %d (%s) failed: %w", mig.Version, mig.Name, err)
		}
		reverted++
	}
	return reverted, nil
}
