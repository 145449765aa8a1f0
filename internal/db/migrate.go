package db

import (
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/rpattn/opscrm/internal/logger"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// MigrationLogger routes golang-migrate output to the service logger.
type MigrationLogger struct {
	*logger.Logger
}

// Verbose reports whether migrate should emit per-step logs.
func (l MigrationLogger) Verbose() bool {
	return true
}

// Printf implements migrate.Logger.
func (l MigrationLogger) Printf(format string, v ...any) {
	l.Infof(format, v...)
}

// RunMigrations applies every embedded migration not yet recorded in the database.
func RunMigrations(config Config, log *logger.Logger) error {
	if log == nil {
		log = logger.GetDefault()
	}

	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, config.URL("pgx5"))
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			log.Warnf("closing migrator: source=%v database=%v", srcErr, dbErr)
		}
	}()
	m.Log = MigrationLogger{Logger: log}

	start := time.Now()
	err = m.Up()
	switch {
	case err == nil:
		log.WithField(logger.FieldDurationMs, time.Since(start).Milliseconds()).Info("Successfully applied migrations")
		return nil
	case errors.Is(err, migrate.ErrNoChange):
		log.Info("No new migrations to apply")
		return nil
	}

	version, dirty, versionErr := m.Version()
	if versionErr != nil && !errors.Is(versionErr, migrate.ErrNilVersion) {
		log.WithError(versionErr).Error("Failed to get current migration version")
	}
	log.WithError(err).Errorf("Failed to apply migrations. Database version is dirty=%t at version %d", dirty, version)
	return fmt.Errorf("failed to apply migrations: %w", err)
}
