// Package dialect isolates the SQL differences between the supported
// databases.
package dialect

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ColumnTypes are the SQL types used by the schema.
type ColumnTypes struct {
	Serial    string // auto-increment primary key
	Timestamp string
	Float     string
	Text      string
}

// Dialect represents a SQL database dialect.
type Dialect interface {
	// Name returns "sqlite" or "postgres".
	Name() string
	// DriverName returns the database/sql driver name.
	DriverName() string
	// Rebind converts ? placeholders to the dialect's format.
	Rebind(query string) string
	Types() ColumnTypes
	// InitStatements run once per connection pool before the schema.
	InitStatements() []string
	// TxOptions returns the options for transactions that must be
	// serializable.
	TxOptions() *sql.TxOptions
	// MaxOpenConns limits the connection pool; 0 means unlimited.
	MaxOpenConns() int
	// IsSerializationFailure reports whether err aborted a transaction that
	// can be retried.
	IsSerializationFailure(err error) bool
	// IsUniqueViolation reports whether err is a primary key or unique
	// constraint violation.
	IsUniqueViolation(err error) bool
}

// DialectType names a supported database.
type DialectType string

const (
	SQLite   DialectType = "sqlite"
	Postgres DialectType = "postgres"
)

// New returns the dialect for dialectType.
func New(dialectType DialectType) (Dialect, error) {
	switch dialectType {
	case SQLite:
		return sqliteDialect{}, nil
	case Postgres:
		return postgresDialect{}, nil
	}
	return nil, fmt.Errorf("unsupported dialect: %s", dialectType)
}

// FromDriverName returns the dialect for a driver name or alias.
func FromDriverName(driverName string) (Dialect, error) {
	switch strings.ToLower(driverName) {
	case "sqlite", "sqlite3":
		return New(SQLite)
	case "postgres", "postgresql", "pq":
		return New(Postgres)
	}
	return nil, fmt.Errorf("unsupported driver: %s", driverName)
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string               { return string(SQLite) }
func (sqliteDialect) DriverName() string         { return "sqlite" }
func (sqliteDialect) Rebind(query string) string { return query }

func (sqliteDialect) Types() ColumnTypes {
	return ColumnTypes{
		Serial:    "INTEGER PRIMARY KEY AUTOINCREMENT",
		Timestamp: "TIMESTAMP",
		Float:     "REAL",
		Text:      "TEXT",
	}
}

func (sqliteDialect) InitStatements() []string {
	return []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
}

// SQLite transactions are already serializable. With a single connection
// concurrent materializations queue instead of failing with SQLITE_BUSY.
func (sqliteDialect) TxOptions() *sql.TxOptions { return nil }
func (sqliteDialect) MaxOpenConns() int         { return 1 }

func (sqliteDialect) IsSerializationFailure(err error) bool {
	code, ok := sqliteCode(err)
	if !ok {
		return false
	}
	code &= 0xff
	return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
}

func (sqliteDialect) IsUniqueViolation(err error) bool {
	code, ok := sqliteCode(err)
	return ok && (code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE)
}

func sqliteCode(err error) (int, bool) {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return 0, false
	}
	return se.Code(), true
}

type postgresDialect struct{}

func (postgresDialect) Name() string       { return string(Postgres) }
func (postgresDialect) DriverName() string { return "postgres" }

// Rebind numbers placeholders as $1, $2, ...
func (postgresDialect) Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] != '?' {
			b.WriteByte(query[i])
			continue
		}
		n++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}

func (postgresDialect) Types() ColumnTypes {
	return ColumnTypes{
		Serial:    "BIGSERIAL PRIMARY KEY",
		Timestamp: "TIMESTAMP WITH TIME ZONE",
		Float:     "DOUBLE PRECISION",
		Text:      "TEXT",
	}
}

func (postgresDialect) InitStatements() []string { return nil }

func (postgresDialect) TxOptions() *sql.TxOptions {
	return &sql.TxOptions{Isolation: sql.LevelSerializable}
}

func (postgresDialect) MaxOpenConns() int { return 0 }

const (
	pqSerializationFailure pq.ErrorCode = "40001"
	pqDeadlockDetected     pq.ErrorCode = "40P01"
	pqUniqueViolation      pq.ErrorCode = "23505"
)

func (postgresDialect) IsSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == pqSerializationFailure || pqErr.Code == pqDeadlockDetected
}

func (postgresDialect) IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}
