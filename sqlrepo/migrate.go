package sqlrepo

import (
	"embed"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/pkg/errors"
)

//MigrationsTable table recording the applied schema version of the batch tables
const MigrationsTable = "batch_schema_migrations"

//go:embed migrations
var migrations embed.FS

//Migrate install or upgrade the batch tables of the database at dsn to the latest version
func Migrate(dbType, dsn string) error {
	d, err := lookupDialect(dbType)
	if err != nil {
		return err
	}
	if d.name == MySQL {
		cfg, err := mysqldriver.ParseDSN(dsn)
		if err != nil {
			return errors.Wrap(err, "parse mysql dsn")
		}
		cfg.MultiStatements = true
		cfg.ParseTime = true
		dsn = cfg.FormatDSN()
	}
	db, err := Open(d.name, dsn)
	if err != nil {
		return errors.Wrapf(err, "open %v database", d.name)
	}
	src, err := iofs.New(migrations, "migrations/"+d.name)
	if err != nil {
		db.Close()
		return errors.Wrap(err, "load migrations")
	}
	var driver database.Driver
	switch d.name {
	case MySQL:
		driver, err = mysql.WithInstance(db, &mysql.Config{MigrationsTable: MigrationsTable})
	case Postgres:
		driver, err = postgres.WithInstance(db, &postgres.Config{MigrationsTable: MigrationsTable})
	case SQLite:
		driver, err = sqlite3.WithInstance(db, &sqlite3.Config{MigrationsTable: MigrationsTable})
	}
	if err != nil {
		src.Close()
		db.Close()
		return errors.Wrapf(err, "create %v migration driver", d.name)
	}
	m, err := migrate.NewWithInstance("iofs", src, d.name, driver)
	if err != nil {
		driver.Close()
		return errors.Wrap(err, "create migrate instance")
	}
	//closes the source, the driver and db
	defer m.Close()
	if err = m.Up(); err != nil && err != migrate.ErrNoChange {
		return errors.Wrap(err, "apply migrations")
	}
	version, dirty, err := m.Version()
	if err != nil {
		return errors.Wrap(err, "read schema version")
	}
	if dirty {
		return errors.Errorf("batch schema version %v is dirty", version)
	}
	return nil
}
