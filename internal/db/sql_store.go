package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/soaringjerry/goodenergy/internal/services"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

// SQLStore persists the domain in SQLite or PostgreSQL. Queries are written
// with ? placeholders and rebound for the active driver.
type SQLStore struct {
	db  *sqlx.DB
	log logrus.FieldLogger
}

var _ services.Store = (*SQLStore)(nil)

// Open connects to the database, waiting for it to accept connections.
func Open(ctx context.Context, driver, dsn string, log logrus.FieldLogger) (*SQLStore, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	conn, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	if err := ping(ctx, conn.DB); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return NewSQLStore(conn, log)
}

// NewSQLStore wraps an open connection. SQLite connections get their pragmas
// applied and are limited to one connection.
func NewSQLStore(conn *sqlx.DB, log logrus.FieldLogger) (*SQLStore, error) {
	if conn == nil {
		return nil, errors.New("nil db")
	}
	if conn.DriverName() == DriverSQLite {
		conn.SetMaxOpenConns(1)
		pragmas := []string{
			"PRAGMA foreign_keys = ON",
			"PRAGMA journal_mode = WAL",
			"PRAGMA synchronous = NORMAL",
			"PRAGMA busy_timeout = 5000",
		}
		for _, stmt := range pragmas {
			if _, err := conn.Exec(stmt); err != nil {
				return nil, errors.Wrapf(err, "apply sqlite pragma %q", stmt)
			}
		}
	}
	return &SQLStore{db: conn, log: log.WithField("component", "store")}, nil
}

// DB exposes the underlying handle for migrations.
func (s *SQLStore) DB() *sql.DB { return s.db.DB }

func (s *SQLStore) Driver() string { return s.db.DriverName() }

func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLStore) logErr(prefix string, err error) {
	if err != nil {
		s.log.WithError(err).Warn(prefix)
	}
}

// ping retries with exponential backoff until the database answers or 30s pass.
func ping(ctx context.Context, db *sql.DB) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxElapsedTime = 30 * time.Second
	err := backoff.Retry(func() error { return db.PingContext(ctx) }, backoff.WithContext(policy, ctx))
	return errors.Wrap(err, "database ping timeout")
}

// notFound maps sql.ErrNoRows onto services.ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return services.ErrNotFound
	}
	return err
}

func (s *SQLStore) rebind(q string) string { return s.db.Rebind(q) }

// inTx runs fn in a transaction, rolling back on error.
func (s *SQLStore) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	if err := fn(tx); err != nil {
		s.logErr("rollback", tx.Rollback())
		return err
	}
	return errors.Wrap(tx.Commit(), "commit tx")
}
