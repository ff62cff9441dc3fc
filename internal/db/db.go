package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

const (
	defaultDBName = "brigade.db"
	workspaceDir  = ".brigade"
)

// sqlOpen is swapped in tests that need to observe driver selection.
var sqlOpen = sql.Open

type Config struct {
	Driver    string
	DSN       string
	Workspace string
}

func dbPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, workspaceDir, defaultDBName)
}

// EnsureWorkspace creates workspace directory if missing.
func EnsureWorkspace(workspace string) (string, error) {
	if workspace == "" {
		workspace = "."
	}
	path := filepath.Join(workspace, workspaceDir)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// Open opens the configured database and returns it together with its dialect.
//
// SQLite connections begin every transaction with BEGIN IMMEDIATE so writers
// serialize on the database lock instead of failing on upgrade.
func Open(cfg Config) (*sql.DB, Dialect, error) {
	switch cfg.Driver {
	case "", DialectSQLite.Name():
		dsn := cfg.DSN
		if dsn == "" {
			if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
				return nil, Dialect{}, err
			}
			dsn = SQLiteDSN(dbPath(cfg.Workspace))
		} else {
			dsn = withSQLiteParams(dsn)
		}
		conn, err := sqlOpen("sqlite", dsn)
		if err != nil {
			return nil, Dialect{}, err
		}
		return conn, DialectSQLite, nil
	case DialectPostgres.Name():
		conn, err := sqlOpen("pgx", cfg.DSN)
		if err != nil {
			return nil, Dialect{}, err
		}
		return conn, DialectPostgres, nil
	default:
		return nil, Dialect{}, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// sqliteParams are required on every connection: writers serialize through
// BEGIN IMMEDIATE, wait on the lock instead of failing, and foreign keys hold.
var sqliteParams = []struct{ key, param string }{
	{"_txlock=", "_txlock=immediate"},
	{"foreign_keys", "_pragma=foreign_keys(1)"},
	{"busy_timeout", "_pragma=busy_timeout(5000)"},
}

// SQLiteDSN builds a modernc sqlite DSN for the file at path.
func SQLiteDSN(path string) string {
	return withSQLiteParams("file:" + path + "?_pragma=journal_mode(WAL)")
}

// withSQLiteParams appends the required parameters a user DSN leaves out.
// Values the DSN already sets are kept.
func withSQLiteParams(dsn string) string {
	query := ""
	if i := strings.IndexByte(dsn, '?'); i >= 0 {
		query = dsn[i+1:]
	}
	var missing []string
	for _, p := range sqliteParams {
		if !strings.Contains(query, p.key) {
			missing = append(missing, p.param)
		}
	}
	if len(missing) == 0 {
		return dsn
	}
	sep := "?"
	switch {
	case strings.HasSuffix(dsn, "?") || strings.HasSuffix(dsn, "&"):
		sep = ""
	case query != "":
		sep = "&"
	}
	return dsn + sep + strings.Join(missing, "&")
}

// Path returns the db path for the workspace.
func Path(workspace string) string {
	return dbPath(workspace)
}
