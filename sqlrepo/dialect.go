package sqlrepo

import (
	"database/sql"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

//database types supported by the repository, they are also the database/sql driver names
const (
	MySQL    = "mysql"
	Postgres = "postgres"
	SQLite   = "sqlite3"
)

type dialect struct {
	name string
	//returning generated ids are fetched with INSERT ... RETURNING instead of LastInsertId
	returning bool
	//numbered placeholders $1, $2 ... instead of ?
	numbered bool
}

var dialects = map[string]dialect{
	MySQL:    {name: MySQL},
	Postgres: {name: Postgres, returning: true, numbered: true},
	SQLite:   {name: SQLite},
}

//DriverName normalize a configured database type to its driver name
func DriverName(dbType string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(dbType)) {
	case "mysql":
		return MySQL, true
	case "postgres", "postgresql", "pg":
		return Postgres, true
	case "sqlite", "sqlite3":
		return SQLite, true
	}
	return "", false
}

func lookupDialect(dbType string) (dialect, error) {
	name, ok := DriverName(dbType)
	if !ok {
		return dialect{}, errors.New("unsupported database type: " + dbType)
	}
	return dialects[name], nil
}

//Rebind convert ? placeholders of query to the placeholder style of driverName
func Rebind(driverName, query string) string {
	d, err := lookupDialect(driverName)
	if err != nil {
		return query
	}
	return d.rebind(query)
}

func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	buf := strings.Builder{}
	buf.Grow(len(query) + 8)
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			buf.WriteByte('$')
			buf.WriteString(strconv.Itoa(n))
			continue
		}
		buf.WriteRune(c)
	}
	return buf.String()
}

//Open open a database of dbType.
//MySQL connections always parse DATETIME columns into time.Time.
func Open(dbType, dsn string) (*sql.DB, error) {
	d, err := lookupDialect(dbType)
	if err != nil {
		return nil, err
	}
	if d.name == MySQL {
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, err
		}
		cfg.ParseTime = true
		dsn = cfg.FormatDSN()
	}
	db, err := sql.Open(d.name, dsn)
	if err != nil {
		return nil, err
	}
	if d.name == SQLite {
		//sqlite allows a single writer
		db.SetMaxOpenConns(1)
	}
	return db, nil
}

//isUniqueViolation the error is raised by a unique constraint
func isUniqueViolation(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique || liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
