package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
)

var migrationName = regexp.MustCompile(`^(\d+)_.*\.(up|down)\.sql$`)

type migration struct {
	version string
	name    string
	path    string
}

// listMigrations returns the migrations of one direction, oldest first.
func listMigrations(dir, direction string) ([]migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	var out []migration
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := migrationName.FindStringSubmatch(entry.Name())
		if match == nil || match[2] != direction {
			continue
		}
		out = append(out, migration{version: match[1], name: entry.Name(), path: filepath.Join(dir, entry.Name())})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

// ApplyMigrations runs every up migration not yet recorded in
// schema_migrations and returns the names it applied.
func ApplyMigrations(ctx context.Context, db *sql.DB, migrationsDir string) ([]string, error) {
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return nil, err
	}
	ups, err := listMigrations(migrationsDir, "up")
	if err != nil {
		return nil, err
	}

	var applied []string
	for _, m := range ups {
		if migrated, err := isMigrated(ctx, db, m.name); err != nil {
			return applied, err
		} else if migrated {
			continue
		}
		err := runMigration(ctx, db, m, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version) VALUES($1)`, m.name)
			return err
		})
		if err != nil {
			return applied, err
		}
		applied = append(applied, m.name)
	}
	return applied, nil
}

// RollbackMigration reverts the newest applied migration. It returns the
// name of the reverted up file, or "" when nothing was applied.
func RollbackMigration(ctx context.Context, db *sql.DB, migrationsDir string) (string, error) {
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return "", err
	}
	ups, err := listMigrations(migrationsDir, "up")
	if err != nil {
		return "", err
	}
	downs, err := listMigrations(migrationsDir, "down")
	if err != nil {
		return "", err
	}
	downByVersion := make(map[string]migration, len(downs))
	for _, d := range downs {
		downByVersion[d.version] = d
	}

	for i := len(ups) - 1; i >= 0; i-- {
		up := ups[i]
		migrated, err := isMigrated(ctx, db, up.name)
		if err != nil {
			return "", err
		}
		if !migrated {
			continue
		}
		down, ok := downByVersion[up.version]
		if !ok {
			return "", fmt.Errorf("migration %s has no down file", up.name)
		}
		err = runMigration(ctx, db, down, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version=$1`, up.name)
			return err
		})
		if err != nil {
			return "", err
		}
		return up.name, nil
	}
	return "", nil
}

func runMigration(ctx context.Context, db *sql.DB, m migration, record func(*sql.Tx) error) error {
	contents, err := os.ReadFile(m.path)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", m.name, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx %s: %w", m.name, err)
	}
	if _, err := tx.ExecContext(ctx, string(contents)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("execute migration %s: %w", m.name, err)
	}
	if err := record(tx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record migration %s: %w", m.name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", m.name, err)
	}
	return nil
}

func ensureMigrationsTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return nil
}

func isMigrated(ctx context.Context, db *sql.DB, version string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, version).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check migration %s: %w", version, err)
	}
	return exists, nil
}
