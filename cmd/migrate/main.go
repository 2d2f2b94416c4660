package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	"statushub/internal/migrations"
	"statushub/internal/security"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

func main() {
	dbPath := flag.String("db", "./statushub.db", "Path to the database file")
	statusOnly := flag.Bool("status", false, "Print the schema version and exit")
	recreate := flag.Bool("recreate", false, "Drop every table and rebuild the schema (destroys all data)")
	allowDestructive := flag.Bool("allow-destructive", false, "Recreate the schema when an upgrade step fails")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := run(*dbPath, *statusOnly, *recreate, *allowDestructive, logger); err != nil {
		logger.WithError(err).Fatal("Migration failed")
	}
}

func run(dbPath string, statusOnly, recreate, allowDestructive bool, logger *logrus.Logger) error {
	if err := security.ValidateFilePath(dbPath); err != nil {
		return fmt.Errorf("invalid database path: %w", err)
	}
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return fmt.Errorf("database file not found: %s", dbPath)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	current, err := migrations.CurrentVersion(ctx, db)
	if err != nil {
		return err
	}
	latest, err := migrations.LatestVersion()
	if err != nil {
		return err
	}

	fields := logrus.Fields{"db": dbPath, "current_version": current, "latest_version": latest}
	if statusOnly {
		logger.WithFields(fields).Info("Schema status")
		return nil
	}

	if recreate {
		logger.WithFields(fields).Warn("Recreating schema, all stored messages and staged writes will be lost")
		return migrations.Recreate(ctx, db, logger)
	}

	if current == latest {
		logger.WithFields(fields).Info("Schema already up to date")
		return nil
	}
	if err := migrations.Migrate(ctx, db, logger, allowDestructive); err != nil {
		return err
	}
	logger.WithFields(fields).Info("Schema upgraded, restart statushub to pick it up")
	return nil
}
