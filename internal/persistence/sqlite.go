package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/spec-kit/ticket-engine/internal/persistence/migrations"
)

const (
	sqliteMigrationsDir  = "sqlite"
	sqliteMigrationTable = "schema_migrations"
)

// OpenSQLite opens the embedded database at path and applies pending migrations.
// Write transactions begin IMMEDIATE so concurrent writers queue on busy_timeout.
func OpenSQLite(ctx context.Context, dbPath string, logger *zap.Logger) (*sql.DB, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := filepath.Clean(dbPath) +
		"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applySQLiteMigrations(ctx, db, logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("opened sqlite database", zap.String("path", dbPath))
	return db, nil
}

// applySQLiteMigrations runs each embedded migration at most once.
func applySQLiteMigrations(ctx context.Context, db *sql.DB, logger *zap.Logger) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+sqliteMigrationTable+` (
    name TEXT PRIMARY KEY,
    applied_at INTEGER NOT NULL
)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	filenames, err := migrationFiles(migrations.SQLite, sqliteMigrationsDir)
	if err != nil {
		return err
	}

	for _, name := range filenames {
		var applied int
		if err := db.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM `+sqliteMigrationTable+` WHERE name = ?`, name).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if applied > 0 {
			continue
		}

		content, err := fs.ReadFile(migrations.SQLite, path.Join(sqliteMigrationsDir, name))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		upSQL := extractUpMigration(string(content))
		if strings.TrimSpace(upSQL) == "" {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, upSQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO `+sqliteMigrationTable+` (name, applied_at) VALUES (?, ?)`,
			name, time.Now().UTC().UnixMilli()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", name, err)
		}
		logger.Info("applied sqlite migration", zap.String("file", name))
	}
	return nil
}

// extractUpMigration returns the SQL between the Up and Down markers.
func extractUpMigration(content string) string {
	const up, down = "-- +migrate Up", "-- +migrate Down"
	upIdx := strings.Index(content, up)
	if upIdx == -1 {
		return content
	}
	downIdx := strings.Index(content, down)
	if downIdx == -1 {
		return content[upIdx+len(up):]
	}
	return content[upIdx+len(up) : downIdx]
}
