package commands

import (
	"fmt"
	"net/url"

	"github.com/golang-migrate/migrate/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gitlab.com/paramountdax-exchange/commission_engine/config"

	// postgres driver and file source for golang-migrate
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// MigrationsPath is where the schema files are read from
var MigrationsPath = "file://./db/migrations"

func databaseURI(db config.DatabaseConfig) string {
	sslmode := db.SSLmode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("postgres://%s@%s:%d/%s?sslmode=%s",
		url.UserPassword(db.Username, db.Password).String(), db.Host, db.Port, db.Name, sslmode)
}

// ApplyMigrations brings the writer database to the latest schema version
func ApplyMigrations(cfg config.Config) error {
	m, err := migrate.New(MigrationsPath, databaseURI(cfg.DatabaseCluster.Writer))
	if err != nil {
		return errors.Wrap(err, "connect to database [WRITER]")
	}
	defer func() { _, _ = m.Close() }()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		var dirty migrate.ErrDirty
		if errors.As(err, &dirty) {
			return errors.Wrapf(err, "database is dirty at version %d", dirty.Version)
		}
		return errors.Wrap(err, "apply migrations")
	}
	version, _, _ := m.Version()
	log.Info().Str("section", "migrate").Uint("version", version).Msg("Migrations executed successfully")
	return nil
}

// Migrate the current database schema to the new version, exiting on failure
func Migrate(cfg config.Config) {
	if err := ApplyMigrations(cfg); err != nil {
		log.Fatal().Err(err).Str("section", "migrate").Msg("Unable to execute migrations")
	}
}
