package db

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	defaultDBName = "surveyflow.db"
	workspaceDir  = ".surveyflow"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

func init() {
	// modernc registers as "sqlite", which sqlx does not know by name.
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

type Config struct {
	Workspace string
	// Driver is sqlite (default) or postgres.
	Driver string
	// DSN overrides the workspace database file for sqlite; required for postgres.
	DSN string
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

// Open opens the configured database. SQLite runs with foreign keys on and a
// single connection so writers never see SQLITE_BUSY.
func Open(cfg Config) (*sqlx.DB, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", DriverSQLite:
		dsn := cfg.DSN
		if dsn == "" {
			if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
				return nil, err
			}
			dsn = fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", dbPath(cfg.Workspace))
		}
		conn, err := sqlx.Open(DriverSQLite, dsn)
		if err != nil {
			return nil, err
		}
		conn.SetMaxOpenConns(1)
		return conn, nil
	case DriverPostgres:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres dsn required")
		}
		conn, err := sqlx.Open(DriverPostgres, cfg.DSN)
		if err != nil {
			return nil, err
		}
		if err := conn.Ping(); err != nil {
			conn.Close()
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return conn, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// Path returns the db path for the workspace.
func Path(workspace string) string {
	return dbPath(workspace)
}
