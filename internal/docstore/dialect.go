// Package docstore implements core.Backend on a SQL database used as a JSON
// document store. Every table holds (id, gen, doc); the installed mappings
// live in a _mappings catalog table. Two dialects are supported: SQLite
// (modernc.org/sqlite) and MySQL (go-sql-driver/mysql).
package docstore

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/rzpsarthak13/entity-dao/internal/core"
)

// Dialect isolates the SQL differences between the supported engines.
type Dialect interface {
	// Name is the backend type, e.g. "sqlite".
	Name() string

	// Quote quotes an identifier.
	Quote(ident string) string

	// DocTableDDL creates a document table.
	DocTableDDL(quoted string) string

	// CatalogDDL creates the mapping catalog.
	CatalogDDL(quoted string) string

	// UpsertSuffix turns an INSERT into an insert-or-replace that bumps gen.
	UpsertSuffix(quoted string) string

	// Extract reads a JSON path out of the doc column.
	Extract(path string) string

	// IndexDDL creates an index over a JSON path, or returns "" when the
	// engine has no expression indexes.
	IndexDDL(quotedTable, indexName, path string) string

	// Classify maps a driver error to an error kind and native code.
	Classify(err error) (core.ErrorKind, string)
}

// SQLite is the modernc.org/sqlite dialect.
var SQLite Dialect = sqliteDialect{}

// MySQL is the go-sql-driver/mysql dialect.
var MySQL Dialect = mysqlDialect{}

type sqliteDialect struct{}

func (sqliteDialect) Name() string { return "sqlite" }

func (sqliteDialect) Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (sqliteDialect) DocTableDDL(q string) string {
	return "CREATE TABLE IF NOT EXISTS " + q + " (id TEXT PRIMARY KEY, gen INTEGER NOT NULL, doc TEXT NOT NULL)"
}

func (sqliteDialect) CatalogDDL(q string) string {
	return "CREATE TABLE IF NOT EXISTS " + q + " (tbl TEXT NOT NULL, field TEXT NOT NULL, type TEXT NOT NULL, " +
		"indexed INTEGER NOT NULL, pk INTEGER NOT NULL, PRIMARY KEY (tbl, field))"
}

func (sqliteDialect) UpsertSuffix(q string) string {
	return "ON CONFLICT(id) DO UPDATE SET doc = excluded.doc, gen = " + q + ".gen + 1"
}

func (sqliteDialect) Extract(path string) string {
	return "json_extract(doc, '" + path + "')"
}

func (d sqliteDialect) IndexDDL(table, name, path string) string {
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", d.Quote(name), table, d.Extract(path))
}

func (sqliteDialect) Classify(err error) (core.ErrorKind, string) {
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		code := strconv.Itoa(serr.Code())
		switch {
		case serr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(serr.Error(), "UNIQUE constraint failed"):
			return core.KindRecordExists, code
		case strings.Contains(serr.Error(), "no such table"):
			return core.KindStoreNotFound, code
		}
		return core.KindBackendFailure, code
	}
	return core.KindBackendFailure, ""
}

type mysqlDialect struct{}

func (mysqlDialect) Name() string { return "mysql" }

func (mysqlDialect) Quote(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

func (mysqlDialect) DocTableDDL(q string) string {
	return "CREATE TABLE IF NOT EXISTS " + q + " (id VARCHAR(255) NOT NULL PRIMARY KEY, gen BIGINT NOT NULL, doc JSON NOT NULL)"
}

func (mysqlDialect) CatalogDDL(q string) string {
	return "CREATE TABLE IF NOT EXISTS " + q + " (tbl VARCHAR(255) NOT NULL, field VARCHAR(255) NOT NULL, " +
		"type VARCHAR(32) NOT NULL, indexed BOOLEAN NOT NULL, pk BOOLEAN NOT NULL, PRIMARY KEY (tbl, field))"
}

func (mysqlDialect) UpsertSuffix(string) string {
	return "ON DUPLICATE KEY UPDATE doc = VALUES(doc), gen = gen + 1"
}

func (mysqlDialect) Extract(path string) string {
	return "JSON_EXTRACT(doc, '" + path + "')"
}

func (mysqlDialect) IndexDDL(string, string, string) string { return "" }

// MySQL server error numbers.
const (
	mysqlDuplicateEntry = 1062
	mysqlNoSuchTable    = 1146
)

func (mysqlDialect) Classify(err error) (core.ErrorKind, string) {
	var merr *mysql.MySQLError
	if errors.As(err, &merr) {
		code := strconv.Itoa(int(merr.Number))
		switch merr.Number {
		case mysqlDuplicateEntry:
			return core.KindRecordExists, code
		case mysqlNoSuchTable:
			return core.KindStoreNotFound, code
		}
		return core.KindBackendFailure, code
	}
	return core.KindBackendFailure, ""
}
