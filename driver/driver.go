package driver

import (
	"database/sql"
	"embed"

	_ "github.com/go-sql-driver/mysql"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"csr-volunteer/config"
)

//go:embed migrations
var migrationsFS embed.FS

// ConnectDB opens the configured database and applies pending migrations.
// MySQL DSNs need parseTime=true and multiStatements=true.
func ConnectDB(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db, cfg.Driver, 0); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Open opens and pings a database without migrating it.
func Open(driverName, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", driverName)
	}
	if driverName == "sqlite3" {
		// One connection serialises writers; SQLite would otherwise
		// report "database is locked" under concurrent handlers.
		db.SetMaxOpenConns(1)
		if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
			_ = db.Close()
			return nil, errors.Wrap(err, "set busy_timeout")
		}
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "ping %s", driverName)
	}
	return db, nil
}

// Migrate moves the schema. steps == 0 applies every pending migration,
// a positive value applies that many, a negative value rolls back.
func Migrate(db *sql.DB, driverName string, steps int) error {
	m, err := newMigrator(db, driverName)
	if err != nil {
		return err
	}
	// m.Close is not called: the sqlite3 driver would close db with it.
	if steps == 0 {
		err = m.Up()
	} else {
		err = m.Steps(steps)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "migrate")
	}
	return nil
}

// Version returns the current schema version and whether it is dirty.
func Version(db *sql.DB, driverName string) (uint, bool, error) {
	m, err := newMigrator(db, driverName)
	if err != nil {
		return 0, false, err
	}
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

func newMigrator(db *sql.DB, driverName string) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations/"+driverName)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s migrations", driverName)
	}

	var target database.Driver
	switch driverName {
	case "mysql":
		target, err = migratemysql.WithInstance(db, &migratemysql.Config{})
	case "sqlite3":
		target, err = migratesqlite.WithInstance(db, &migratesqlite.Config{})
	default:
		return nil, errors.Errorf("unsupported driver %q", driverName)
	}
	if err != nil {
		return nil, errors.Wrap(err, "migration driver")
	}
	return migrate.NewWithInstance("iofs", src, driverName, target)
}
