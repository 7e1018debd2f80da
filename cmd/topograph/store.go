package main

import (
	"context"
	"fmt"

	"github.com/persistorai/topograph/internal/config"
	"github.com/persistorai/topograph/internal/db"
	"github.com/persistorai/topograph/internal/dbpool"
	"github.com/persistorai/topograph/internal/graph"
	"github.com/persistorai/topograph/internal/graph/memgraph"
	"github.com/persistorai/topograph/internal/schema"
	"github.com/persistorai/topograph/internal/service"
	"github.com/persistorai/topograph/internal/store"
	"github.com/persistorai/topograph/internal/store/sqlitestore"
)

// target names a graph store: a backend plus its database URL or file.
type target struct {
	Backend     string
	DatabaseURL string
	SQLitePath  string
	MaxConns    int32
}

func configuredTarget() target {
	return target{
		Backend:     cfg.StoreBackend,
		DatabaseURL: cfg.DatabaseURL.Value(),
		SQLitePath:  cfg.SQLitePath,
		MaxConns:    cfg.DBMaxConns,
	}
}

func (t target) String() string {
	switch t.Backend {
	case config.BackendSQLite:
		return "sqlite:" + t.SQLitePath
	case config.BackendPostgres:
		return "postgres"
	}

	return t.Backend
}

// openStore opens the graph store t names, applying pending migrations.
func openStore(ctx context.Context, t target) (graph.Store, error) {
	switch t.Backend {
	case config.BackendPostgres:
		if t.DatabaseURL == "" {
			return nil, fmt.Errorf("postgres backend needs a database URL")
		}

		pool, err := dbpool.NewPool(ctx, t.DatabaseURL, t.MaxConns)
		if err != nil {
			return nil, err
		}

		if err := db.RunMigrations(ctx, pool, log); err != nil {
			pool.Close()
			return nil, err
		}

		return store.New(pool, log), nil
	case config.BackendSQLite:
		if t.SQLitePath == "" {
			return nil, fmt.Errorf("sqlite backend needs a database file")
		}

		st, err := sqlitestore.Open(ctx, t.SQLitePath, log)
		if err != nil {
			return nil, err
		}

		return st, nil
	case config.BackendMemory:
		log.Warn("memory backend: the graph is discarded on exit")
		return memgraph.New(), nil
	}

	return nil, fmt.Errorf("unknown store backend %q", t.Backend)
}

// newService opens the configured store and schema. The caller closes the
// returned store.
func newService(ctx context.Context) (*service.TopologyService, graph.Store, error) {
	s, err := schema.LoadFile(cfg.SchemaPath)
	if err != nil {
		return nil, nil, err
	}

	st, err := openStore(ctx, configuredTarget())
	if err != nil {
		return nil, nil, err
	}

	return service.NewTopologyService(st, s, log), st, nil
}
