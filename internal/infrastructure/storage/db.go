package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"ArxivMind/internal/domain"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const sqlitePragmas = "_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(10000)&_pragma=foreign_keys(ON)"

//go:embed migrations
var migrationsFS embed.FS

// Open connects to the configured database and prepares the pool. SQLite gets
// WAL, a busy timeout and a single connection so concurrent workers queue
// instead of failing with SQLITE_BUSY.
func Open(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	switch driver {
	case DriverSQLite:
		dsn = withSQLitePragmas(dsn)
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping %s: %w", domain.ErrStoreUnavailable, driver, err)
	}
	return db, nil
}

func withSQLitePragmas(dsn string) string {
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + sqlitePragmas
}

// Migrate applies every embedded migration for the driver. It opens its own
// handle because the migrate drivers close the connection they are given.
func Migrate(ctx context.Context, driver, dsn string, log *slog.Logger) error {
	db, err := Open(ctx, driver, dsn)
	if err != nil {
		return err
	}

	var target database.Driver
	switch driver {
	case DriverSQLite:
		target, err = sqlite.WithInstance(db, &sqlite.Config{MigrationsTable: "schema_migrations"})
	case DriverPostgres:
		target, err = postgres.WithInstance(db, &postgres.Config{MigrationsTable: "schema_migrations"})
	}
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("create %s migration driver: %w", driver, err)
	}

	sub, err := fs.Sub(migrationsFS, "migrations/"+driver)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("locate %s migrations: %w", driver, err)
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("load %s migrations: %w", driver, err)
	}

	m, err := migrate.NewWithInstance("iofs", source, driver, target)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			if log != nil {
				log.Warn("close migrator", "source_error", srcErr, "database_error", dbErr)
			}
		}
	}()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			if log != nil {
				log.Debug("no migrations to apply", "driver", driver)
			}
			return nil
		}
		return fmt.Errorf("run migrations: %w", err)
	}

	if log != nil {
		version, dirty, _ := m.Version()
		log.Info("migrations applied", "driver", driver, "version", version, "dirty", dirty)
	}
	return nil
}

func statementBuilder(driver string) sq.StatementBuilderType {
	if driver == DriverPostgres {
		return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	}
	return sq.StatementBuilder.PlaceholderFormat(sq.Question)
}
