package db

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const migrationsLogPrefix = "db:migrations"

// Migration is one forward-only SQL file.
type Migration struct {
	Name string
	SQL  string
}

// MigrationState is a migration and whether schema_migrations records it.
type MigrationState struct {
	Name    string
	Applied bool
}

const createMigrationsTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
    name     TEXT PRIMARY KEY,
    applied  TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// LoadMigrations reads all .sql files from dir, sorted by file name.
func LoadMigrations(dir string) ([]Migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to read migration dir %s: %w", migrationsLogPrefix, dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".sql" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	out := make([]Migration, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%s - failed to read %s: %w", migrationsLogPrefix, path, err)
		}
		out = append(out, Migration{Name: name, SQL: string(data)})
	}
	slog.Info(fmt.Sprintf("%s - Loaded %d migration files from %s", migrationsLogPrefix, len(out), dir))
	return out, nil
}

// RunMigrations applies every migration not yet recorded in schema_migrations,
// each in its own transaction.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, migrations []Migration) error {
	if _, err := pool.Exec(ctx, createMigrationsTable); err != nil {
		return fmt.Errorf("%s - create schema_migrations: %w", migrationsLogPrefix, err)
	}
	applied, err := appliedMigrations(ctx, pool)
	if err != nil {
		return err
	}

	ran := 0
	for _, m := range migrations {
		if applied[m.Name] {
			continue
		}
		slog.Info(fmt.Sprintf("%s - Applying %s", migrationsLogPrefix, m.Name))
		err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.SQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, m.Name)
			return err
		})
		if err != nil {
			return fmt.Errorf("%s - migration %s failed: %w", migrationsLogPrefix, m.Name, err)
		}
		ran++
	}

	slog.Info(fmt.Sprintf("%s - Migrations complete, %d applied, %d already present", migrationsLogPrefix, ran, len(migrations)-ran))
	return nil
}

// MigrationStatus returns the state of each migration in order.
func MigrationStatus(ctx context.Context, pool *pgxpool.Pool, migrations []Migration) ([]MigrationState, error) {
	if _, err := pool.Exec(ctx, createMigrationsTable); err != nil {
		return nil, fmt.Errorf("%s - create schema_migrations: %w", migrationsLogPrefix, err)
	}
	applied, err := appliedMigrations(ctx, pool)
	if err != nil {
		return nil, err
	}
	return migrationStates(migrations, applied), nil
}

func migrationStates(migrations []Migration, applied map[string]bool) []MigrationState {
	out := make([]MigrationState, 0, len(migrations))
	for _, m := range migrations {
		out = append(out, MigrationState{Name: m.Name, Applied: applied[m.Name]})
	}
	return out
}

// PrintMigrationStatus writes one line per migration.
func PrintMigrationStatus(w io.Writer, states []MigrationState) {
	pending := 0
	for _, s := range states {
		mark := "applied"
		if !s.Applied {
			mark = "pending"
			pending++
		}
		fmt.Fprintf(w, "%-8s %s\n", mark, s.Name)
	}
	if pending > 0 {
		fmt.Fprintf(w, "%d pending; run 'rabby-ipcd migrate up'\n", pending)
	}
}

func appliedMigrations(ctx context.Context, pool *pgxpool.Pool) (map[string]bool, error) {
	rows, err := pool.Query(ctx, `SELECT name FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("%s - read schema_migrations: %w", migrationsLogPrefix, err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("%s - scan schema_migrations: %w", migrationsLogPrefix, err)
	}
	applied := make(map[string]bool, len(names))
	for _, n := range names {
		applied[n] = true
	}
	return applied, nil
}

// ErrMigrationDown is returned by MigrationDown: migrations only move forward.
var ErrMigrationDown = fmt.Errorf("%s - down migrations are not supported; restore a backup to roll back", migrationsLogPrefix)

// MigrationDown always fails with ErrMigrationDown.
func MigrationDown(_ context.Context, _ *pgxpool.Pool) error {
	return ErrMigrationDown
}
