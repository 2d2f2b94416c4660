package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	apperrors "statushub/internal/errors"

	"github.com/sirupsen/logrus"
)

//go:embed sql/*.sql
var migrationFS embed.FS

// Migration is one numbered schema step.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// Load returns the embedded migrations ordered by version.
func Load() ([]Migration, error) {
	entries, err := migrationFS.ReadDir("sql")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded migrations: %w", err)
	}

	migrations := make([]Migration, 0, len(entries))
	seen := make(map[int]string)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		prefix, _, found := strings.Cut(name, "_")
		if !found {
			return nil, fmt.Errorf("migration %s has no version prefix", name)
		}
		version, err := strconv.Atoi(prefix)
		if err != nil || version <= 0 {
			return nil, fmt.Errorf("migration %s has invalid version prefix", name)
		}
		if other, dup := seen[version]; dup {
			return nil, fmt.Errorf("migrations %s and %s share version %d", other, name, version)
		}
		seen[version] = name

		content, err := migrationFS.ReadFile(path.Join("sql", name))
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		migrations = append(migrations, Migration{
			Version: version,
			Name:    strings.TrimSuffix(name, ".sql"),
			SQL:     string(content),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// LatestVersion returns the highest embedded schema version.
func LatestVersion() (int, error) {
	migrations, err := Load()
	if err != nil {
		return 0, err
	}
	if len(migrations) == 0 {
		return 0, nil
	}
	return migrations[len(migrations)-1].Version, nil
}

// CurrentVersion reads the schema version recorded in the database file.
func CurrentVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

// Migrate applies every pending migration, each in its own transaction.
// When a step fails and allowDestructive is set, all tables are dropped and
// recreated at the latest version. That path loses every stored row.
func Migrate(ctx context.Context, db *sql.DB, logger *logrus.Logger, allowDestructive bool) error {
	migrations, err := Load()
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeDatabaseMigration, "failed to load migrations")
	}

	current, err := CurrentVersion(ctx, db)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeDatabaseMigration, "failed to read schema version")
	}

	latest := 0
	if len(migrations) > 0 {
		latest = migrations[len(migrations)-1].Version
	}
	if current > latest {
		return apperrors.New(apperrors.ErrCodeDatabaseMigration,
			fmt.Sprintf("database schema version %d is newer than supported version %d", current, latest))
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := apply(ctx, db, m); err != nil {
			if !allowDestructive {
				return apperrors.Wrap(err, apperrors.ErrCodeDatabaseMigration,
					fmt.Sprintf("migration %s failed", m.Name)).
					WithContext("from_version", current).
					WithContext("to_version", m.Version)
			}
			logger.WithError(err).WithFields(logrus.Fields{
				"migration":    m.Name,
				"from_version": current,
			}).Error("Migration failed; recreating schema, all stored messages and staged writes will be lost")
			return Recreate(ctx, db, logger)
		}
		logger.WithFields(logrus.Fields{
			"migration": m.Name,
			"version":   m.Version,
		}).Info("Applied schema migration")
		current = m.Version
	}
	return nil
}

// Recreate drops every table and applies all migrations from scratch.
// This is data-lossy and is only reached explicitly.
func Recreate(ctx context.Context, db *sql.DB, logger *logrus.Logger) error {
	migrations, err := Load()
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeDatabaseMigration, "failed to load migrations")
	}

	tables, err := userTables(ctx, db)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeDatabaseMigration, "failed to list tables")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeDatabaseMigration, "failed to begin recreate")
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range tables {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %q", table)); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeDatabaseMigration, "failed to drop table").
				WithContext("table", table)
		}
	}
	for _, m := range migrations {
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeDatabaseMigration,
				fmt.Sprintf("migration %s failed during recreate", m.Name))
		}
	}
	latest := 0
	if len(migrations) > 0 {
		latest = migrations[len(migrations)-1].Version
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", latest)); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeDatabaseMigration, "failed to set schema version")
	}
	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeDatabaseMigration, "failed to commit recreate")
	}

	logger.WithFields(logrus.Fields{
		"dropped_tables": tables,
		"version":        latest,
	}).Warn("Schema recreated from scratch; previous data was discarded")
	return nil
}

func apply(ctx context.Context, db *sql.DB, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", m.Version)); err != nil {
		return err
	}
	return tx.Commit()
}

func userTables(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}
