package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"reddot-watch/river/internal/database/migrations"
)

// DB represents the database connection
type DB struct {
	*sqlx.DB
}

// NewDB opens the SQLite database, applies connection settings and runs any
// pending migrations.
func NewDB(cfg *Config) (*DB, error) {
	c := cfg.withDefaults()

	if !c.ReadOnly {
		if dir := filepath.Dir(c.DBPath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create directory for database: %w", err)
			}
		}
	}

	log.Info().Str("path", c.DBPath).Bool("read_only", c.ReadOnly).Msg("Opening database")

	db, err := sqlx.Open("sqlite3", c.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(c.MaxOpenConns)
	db.SetMaxIdleConns(c.MaxIdleConns)
	db.SetConnMaxLifetime(c.ConnMaxLifetime)

	pragmas := []string{
		fmt.Sprintf("PRAGMA cache_size = %d;", c.CacheSizeKB),
		"PRAGMA temp_store = MEMORY;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			log.Warn().Err(err).Str("pragma", pragma).Msg("Failed to set PRAGMA")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	out := &DB{db}
	if !c.ReadOnly {
		if err := out.migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}

	log.Info().Msg("Database connection successful")
	return out, nil
}

func (db *DB) migrator() (*migrations.Migrator, error) {
	migs, err := migrations.Load(migrations.Files)
	if err != nil {
		return nil, fmt.Errorf("failed to load migrations: %w", err)
	}
	return migrations.NewMigrator(db.DB, migs), nil
}

func (db *DB) migrate(ctx context.Context) error {
	m, err := db.migrator()
	if err != nil {
		return err
	}
	n, err := m.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if n > 0 {
		log.Info().Int("applied", n).Msg("Database migrations completed successfully")
	}
	return nil
}

// Rollback undoes the last n applied migrations and returns how many were
// undone.
func (db *DB) Rollback(ctx context.Context, n int) (int, error) {
	m, err := db.migrator()
	if err != nil {
		return 0, err
	}
	return m.Down(ctx, n)
}

// SchemaVersions returns the applied migration versions.
func (db *DB) SchemaVersions(ctx context.Context) ([]int, error) {
	m, err := db.migrator()
	if err != nil {
		return nil, err
	}
	return m.Applied(ctx)
}

// DeleteDB removes the database file and its WAL side files if they exist
func DeleteDB(dbPath string) error {
	for _, path := range []string{dbPath, dbPath + "-wal", dbPath + "-shm"} {
		if _, err := os.Stat(path); err == nil {
			if err := os.Remove(path); err != nil {
				return err
			}
		}
	}
	return nil
}
