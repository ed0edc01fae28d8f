package app

import (
	"context"
	"database/sql"
	"fmt"

	"leanflow/internal/config"
	"leanflow/internal/db"
	"leanflow/internal/engine"
	"leanflow/internal/migrate"
	"leanflow/internal/repo"
)

// Workspace bundles an opened engine with its backing store.
type Workspace struct {
	Engine *engine.Engine
	Repo   repo.Repo
	Config *config.Config
	DB     *sql.DB
}

// Open prepares a workspace: it ensures the data directory, migrates the
// database, loads the config (seeding the default when missing) and
// rebuilds the engine from the last stored snapshot.
func Open(ctx context.Context, workspace string) (*Workspace, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, fmt.Errorf("open workspace db: %w", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	r := repo.Repo{DB: conn}

	st, found, err := r.LoadSnapshot(ctx)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	var eng *engine.Engine
	if found {
		eng, err = engine.Restore(cfg, st)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("restore snapshot: %w", err)
		}
	} else {
		eng = engine.New(cfg)
	}
	return &Workspace{Engine: eng, Repo: r, Config: cfg, DB: conn}, nil
}

// Persist writes the engine's current snapshot back to the store.
func (w *Workspace) Persist(ctx context.Context) error {
	return w.Repo.SaveSnapshot(ctx, w.Engine.State())
}

// Close releases the database handle.
func (w *Workspace) Close() error {
	return w.DB.Close()
}
