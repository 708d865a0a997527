package db

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

// sqlitePragmas run on every connection unless the DSN already sets them.
var sqlitePragmas = []string{
	"busy_timeout(5000)",
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"foreign_keys(1)",
}

// openSQLite opens a single-connection SQLite database. Transactions take the write lock
// up front (_txlock=immediate) so postings from concurrent requests queue instead of failing
// on lock upgrade.
func openSQLite(dsn string) (*gorm.DB, error) {
	path, query := splitSQLiteDSN(dsn)
	if path != "" && path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if errMkdir := os.MkdirAll(dir, 0o755); errMkdir != nil {
				return nil, fmt.Errorf("db: create sqlite dir: %w", errMkdir)
			}
		}
	}

	conn, err := gorm.Open(sqlite.Open(ensureSQLiteParams("file:"+path+query)), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("db: open sqlite: %w", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("db: open sqlite: %w", err)
	}
	if errPool := poolLimits(sqlDB, 1); errPool != nil {
		_ = sqlDB.Close()
		return nil, errPool
	}
	return conn, nil
}

// splitSQLiteDSN strips the scheme and returns the file path and the raw "?query" suffix.
func splitSQLiteDSN(dsn string) (path, query string) {
	rest := strings.TrimSpace(dsn)
	lower := strings.ToLower(rest)
	for _, prefix := range []string{"sqlite3://", "sqlite://", "file:"} {
		if strings.HasPrefix(lower, prefix) {
			rest = rest[len(prefix):]
			break
		}
	}
	if i := strings.IndexByte(rest, '?'); i >= 0 {
		rest, query = rest[:i], rest[i:]
	}
	return strings.TrimPrefix(rest, "//"), query
}

// ensureSQLiteParams adds _txlock=immediate and the default pragmas to a file: DSN, keeping
// any value the DSN already sets.
func ensureSQLiteParams(dsn string) string {
	base, rawQuery, _ := strings.Cut(dsn, "?")
	params, err := url.ParseQuery(rawQuery)
	if err != nil {
		params = url.Values{}
	}
	if params.Get("_txlock") == "" {
		params.Set("_txlock", "immediate")
	}
	for _, pragma := range sqlitePragmas {
		name, _, _ := strings.Cut(pragma, "(")
		if !hasPragma(params, name) {
			params.Add("_pragma", pragma)
		}
	}
	return base + "?" + params.Encode()
}

func hasPragma(params url.Values, name string) bool {
	for _, existing := range params["_pragma"] {
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(existing)), name) {
			return true
		}
	}
	return false
}
