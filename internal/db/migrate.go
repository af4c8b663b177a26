package db

import (
	"context"
	"database/sql"
	"embed"
	"io/fs"
	"os"

	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// RunMigrations applies pending migrations from migrationsDir, falling back to
// the embedded files when the directory is empty or missing.
func RunMigrations(ctx context.Context, db *sql.DB, driver, migrationsDir string, log logrus.FieldLogger) error {
	fsys, err := migrationsFS(migrationsDir)
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(gooseDialect(driver), db, fsys)
	if err != nil {
		return errors.Wrap(err, "migration provider")
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return errors.Wrap(err, "apply migrations")
	}
	for _, r := range results {
		if log != nil && r.Source != nil {
			log.WithField("migration", r.Source.Path).WithField("duration", r.Duration).Info("migration applied")
		}
	}
	return nil
}

func migrationsFS(dir string) (fs.FS, error) {
	if dir != "" {
		if _, err := os.Stat(dir); err == nil {
			return os.DirFS(dir), nil
		} else if !os.IsNotExist(err) {
			return nil, errors.Wrap(err, "read migrations")
		}
	}
	sub, err := fs.Sub(embeddedMigrations, "migrations")
	if err != nil {
		return nil, errors.Wrap(err, "read embedded migrations")
	}
	return sub, nil
}

func gooseDialect(driver string) goose.Dialect {
	if driver == DriverPostgres {
		return goose.DialectPostgres
	}
	return goose.DialectSQLite3
}
