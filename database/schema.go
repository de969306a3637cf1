package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// SchemaVersion represents the current database schema version
const SchemaVersion = 2

// Migration represents a database migration. Statements run one at a time
// and must stay portable across sqlite, postgres and mysql.
type Migration struct {
	Version     int
	Description string
	Up          []string
	Down        []string
}

// Schema contains all database migrations
var Schema = []Migration{
	{
		Version:     1,
		Description: "Tracks and play records",
		Up: []string{
			`CREATE TABLE tracks (
				id VARCHAR(64) PRIMARY KEY,
				title TEXT NOT NULL,
				artists TEXT NOT NULL,
				album TEXT,
				duration DOUBLE PRECISION NOT NULL,
				created_at DOUBLE PRECISION NOT NULL
			)`,
			`CREATE TABLE play_records (
				id VARCHAR(36) PRIMARY KEY,
				track_id VARCHAR(64) NOT NULL,
				started_at DOUBLE PRECISION NOT NULL,
				duration DOUBLE PRECISION NOT NULL,
				FOREIGN KEY (track_id) REFERENCES tracks(id)
			)`,
		},
		Down: []string{
			"DROP TABLE play_records",
			"DROP TABLE tracks",
		},
	},
	{
		Version:     2,
		Description: "Indexes for history queries",
		Up: []string{
			"CREATE INDEX idx_play_records_started_at ON play_records(started_at)",
			"CREATE INDEX idx_play_records_track_id ON play_records(track_id)",
		},
		Down: []string{
			"DROP INDEX idx_play_records_track_id ON play_records",
			"DROP INDEX idx_play_records_started_at ON play_records",
		},
	},
}

const createMigrationsTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	description VARCHAR(255) NOT NULL,
	applied_at DOUBLE PRECISION NOT NULL
)`

// statement adapts a migration statement to the dialect. Only mysql
// scopes DROP INDEX to a table.
func (dm *DatabaseManager) statement(stmt string) string {
	if dm.dialect != DialectMySQL && strings.HasPrefix(stmt, "DROP INDEX ") {
		if i := strings.Index(stmt, " ON "); i > 0 {
			return stmt[:i]
		}
	}
	return stmt
}

// GetSchemaVersion returns the current schema version
func (dm *DatabaseManager) GetSchemaVersion(ctx context.Context) (int, error) {
	if _, err := dm.DB.ExecContext(ctx, createMigrationsTable); err != nil {
		return 0, fmt.Errorf("failed to create schema_migrations: %w", err)
	}
	var version int
	err := dm.DB.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}

// MigrateUp applies all pending migrations
func (dm *DatabaseManager) MigrateUp(ctx context.Context) error {
	currentVersion, err := dm.GetSchemaVersion(ctx)
	if err != nil {
		return err
	}

	for _, migration := range Schema {
		if migration.Version <= currentVersion {
			continue
		}
		dm.logger.Info("Applying migration", zap.Int("version", migration.Version), zap.String("description", migration.Description))

		err := WithTx(ctx, dm.DB, func(tx *sql.Tx) error {
			for _, stmt := range migration.Up {
				if _, err := tx.ExecContext(ctx, dm.statement(stmt)); err != nil {
					return err
				}
			}
			_, err := tx.ExecContext(ctx,
				dm.rebind("INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)"),
				migration.Version, migration.Description, toUnix(time.Now()))
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", migration.Version, err)
		}

		dm.logger.Info("Successfully applied migration", zap.Int("version", migration.Version))
	}

	return nil
}

// MigrateDown rolls back to a specific version
func (dm *DatabaseManager) MigrateDown(ctx context.Context, targetVersion int) error {
	currentVersion, err := dm.GetSchemaVersion(ctx)
	if err != nil {
		return err
	}

	if targetVersion < 0 || targetVersion >= currentVersion {
		return fmt.Errorf("target version %d must be between 0 and current version %d", targetVersion, currentVersion)
	}

	for i := len(Schema) - 1; i >= 0; i-- {
		migration := Schema[i]
		if migration.Version <= targetVersion || migration.Version > currentVersion {
			continue
		}
		dm.logger.Info("Rolling back migration", zap.Int("version", migration.Version), zap.String("description", migration.Description))

		err := WithTx(ctx, dm.DB, func(tx *sql.Tx) error {
			for _, stmt := range migration.Down {
				if _, err := tx.ExecContext(ctx, dm.statement(stmt)); err != nil {
					return err
				}
			}
			_, err := tx.ExecContext(ctx, dm.rebind("DELETE FROM schema_migrations WHERE version = ?"), migration.Version)
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to rollback migration %d: %w", migration.Version, err)
		}

		dm.logger.Info("Successfully rolled back migration", zap.Int("version", migration.Version))
	}

	return nil
}

// Validate checks that the schema is current and the expected tables answer.
func (dm *DatabaseManager) Validate(ctx context.Context) []string {
	var problems []string

	version, err := dm.GetSchemaVersion(ctx)
	if err != nil {
		return append(problems, fmt.Sprintf("schema version unreadable: %v", err))
	}
	if version != SchemaVersion {
		problems = append(problems, fmt.Sprintf("schema version %d, expected %d", version, SchemaVersion))
	}

	for _, table := range []string{"tracks", "play_records"} {
		var n int64
		if err := dm.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			problems = append(problems, fmt.Sprintf("table %s: %v", table, err))
		}
	}

	var orphans int64
	err = dm.DB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM play_records p
		LEFT JOIN tracks t ON t.id = p.track_id
		WHERE t.id IS NULL
	`).Scan(&orphans)
	if err != nil {
		problems = append(problems, fmt.Sprintf("orphan check: %v", err))
	} else if orphans > 0 {
		problems = append(problems, fmt.Sprintf("%d play records reference missing tracks", orphans))
	}

	return problems
}
