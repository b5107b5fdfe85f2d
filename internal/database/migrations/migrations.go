package migrations

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"ms-booking/internal/logger"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed sql/*.sql
var files embed.FS

// SchemaVersion is the last migration that only changes structure. Later
// versions load demo data.
const SchemaVersion uint = 1

type Options struct {
	// SeedData also applies the demo catalog migrations.
	SeedData bool
}

// Runner applies the embedded migrations to a Postgres database.
type Runner struct {
	db       *sql.DB
	options  Options
	logger   *logger.Logger
	migrator *migrate.Migrate
}

func NewRunner(db *sql.DB, opts Options, log *logger.Logger) *Runner {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Runner{db: db, options: opts, logger: log}
}

func (r *Runner) init() error {
	if r.migrator != nil {
		return nil
	}

	source, err := iofs.New(files, "sql")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	// A dedicated connection keeps migrator.Close from closing the shared pool.
	conn, err := r.db.Conn(context.Background())
	if err != nil {
		return fmt.Errorf("failed to get migration connection: %w", err)
	}
	driver, err := postgres.WithConnection(context.Background(), conn, &postgres.Config{})
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to create postgres migration driver: %w", err)
	}
	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	r.migrator = migrator
	return nil
}

// Up migrates to the schema version, or to the latest version when seeding.
// A dirty schema left by a crashed migration is forced back and retried once.
func (r *Runner) Up() error {
	if err := r.init(); err != nil {
		return err
	}

	version, dirty, err := r.migrator.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to get migration version: %w", err)
	}
	if dirty {
		r.logger.Warn("DATABASE", fmt.Sprintf("Schema version %d is dirty, forcing and retrying", version))
		if err := r.migrator.Force(int(version)); err != nil {
			return fmt.Errorf("failed to fix dirty migration: %w", err)
		}
	}

	if r.options.SeedData {
		err = r.migrator.Up()
	} else if version < SchemaVersion {
		err = r.migrator.Migrate(SchemaVersion)
	} else {
		err = migrate.ErrNoChange
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if version, _, err := r.migrator.Version(); err == nil {
		r.logger.LogDatabase("MIGRATE", "schema_migrations", fmt.Sprintf("schema at version %d", version))
	}
	return nil
}

// Down rolls back every migration. Only bookingctl exposes it.
func (r *Runner) Down() error {
	if err := r.init(); err != nil {
		return err
	}
	if err := r.migrator.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}
	return nil
}

// Version reports the applied version; 0 means nothing is applied yet.
func (r *Runner) Version() (uint, bool, error) {
	if err := r.init(); err != nil {
		return 0, false, err
	}
	version, dirty, err := r.migrator.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

// Close releases the migration connection. The pool stays open.
func (r *Runner) Close() error {
	if r.migrator == nil {
		return nil
	}
	sourceErr, databaseErr := r.migrator.Close()
	if sourceErr != nil {
		return sourceErr
	}
	return databaseErr
}
