package app

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jmoiron/sqlx"

	"surveyflow/internal/config"
	"surveyflow/internal/db"
	"surveyflow/internal/engine"
	"surveyflow/internal/migrate"
)

// Options select the workspace and may override the configured database.
type Options struct {
	Workspace string
	Driver    string
	DSN       string
	Logger    *slog.Logger
}

// Session is an opened workspace: its config, a migrated database and the
// engine bound to both.
type Session struct {
	Workspace string
	Config    *config.Config
	DB        *sqlx.DB
	Engine    engine.Engine
}

// Open loads surveyflow.yml (defaults when absent), opens and migrates the
// database and builds the engine.
func Open(opts Options) (*Session, error) {
	cfg, err := config.LoadOptional(opts.Workspace)
	if err != nil {
		return nil, err
	}
	dbCfg := db.Config{
		Workspace: opts.Workspace,
		Driver:    firstNonEmpty(opts.Driver, cfg.Database.Driver),
		DSN:       firstNonEmpty(opts.DSN, cfg.Database.DSN),
	}
	conn, err := db.Open(dbCfg)
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	cfg.Database.Driver = dbCfg.Driver
	cfg.Database.DSN = dbCfg.DSN
	return &Session{
		Workspace: opts.Workspace,
		Config:    cfg,
		DB:        conn,
		Engine:    engine.New(conn, cfg, opts.Logger),
	}, nil
}

func (s *Session) Close() error {
	return s.DB.Close()
}

// InitWorkspace writes the default surveyflow.yml unless one exists (or force
// is set) and creates the workspace directory. It returns the config path.
func InitWorkspace(workspace string, force bool) (string, error) {
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return "", err
	}
	path := config.Path(workspace)
	if _, err := os.Stat(path); err == nil && !force {
		return path, fmt.Errorf("%s already exists; use --force to overwrite", path)
	}
	if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
