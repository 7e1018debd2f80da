// Package store is the PostgreSQL implementation of graph.Store.
//
// Nodes live in kg_nodes (labels as TEXT[], properties as JSONB) and
// relationships in kg_edges; both carry a sequence column that preserves
// creation order. Each graph transaction maps to one pgx transaction.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/persistorai/topograph/internal/dbpool"
	"github.com/persistorai/topograph/internal/graph"
	"github.com/persistorai/topograph/internal/graph/sqlgraph"
)

const defaultQueryTimeout = 30 * time.Second

// Store is a graph.Store backed by PostgreSQL.
type Store struct {
	Pool *dbpool.Pool
	Log  *logrus.Logger
}

var _ graph.Store = (*Store)(nil)

// New creates a Store over pool.
func New(pool *dbpool.Pool, log *logrus.Logger) *Store {
	return &Store{Pool: pool, Log: log}
}

// Begin starts a read-write transaction.
func (s *Store) Begin(ctx context.Context) (graph.Tx, error) {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}

	return sqlgraph.NewTx(&backend{tx: tx}, true), nil
}

// BeginRead starts a read-only transaction. Repeatable read gives the
// export engine a stable snapshot across its queries.
func (s *Store) BeginRead(ctx context.Context) (graph.Tx, error) {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly, IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return nil, fmt.Errorf("beginning read transaction: %w", err)
	}

	return sqlgraph.NewTx(&backend{tx: tx}, false), nil
}

// Close closes the pool.
func (s *Store) Close() error {
	s.Pool.Close()

	return nil
}

// withTimeout creates a context with the default query timeout.
func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, defaultQueryTimeout)
}

// backend runs sqlgraph row operations in one pgx transaction.
type backend struct {
	tx pgx.Tx
}

const nodeColumns = `id::text, labels, properties`

func (b *backend) InsertNode(ctx context.Context, id string, labels []string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := b.tx.Exec(ctx, `INSERT INTO kg_nodes (id, labels) VALUES ($1, $2)`, id, labels)

	return err
}

func (b *backend) UpdateProperties(ctx context.Context, id string, props []byte) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tag, err := b.tx.Exec(ctx, `UPDATE kg_nodes SET properties = $2::jsonb WHERE id = $1`, id, string(props))
	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		return graph.ErrNotFound
	}

	return nil
}

func (b *backend) DeleteNode(ctx context.Context, id string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	// kg_edges rows go with the node through ON DELETE CASCADE.
	tag, err := b.tx.Exec(ctx, `DELETE FROM kg_nodes WHERE id = $1`, id)
	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		return graph.ErrNotFound
	}

	return nil
}

func (b *backend) InsertEdge(ctx context.Context, e sqlgraph.EdgeRow) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := b.tx.Exec(ctx,
		`INSERT INTO kg_edges (id, type, source, target) VALUES ($1, $2, $3, $4)`,
		e.ID, e.Type, e.Source, e.Target)

	return err
}

func (b *backend) DeleteEdge(ctx context.Context, id string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tag, err := b.tx.Exec(ctx, `DELETE FROM kg_edges WHERE id = $1`, id)
	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		return graph.ErrNotFound
	}

	return nil
}

func (b *backend) LoadNodes(ctx context.Context, ids []string) ([]sqlgraph.NodeRow, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := b.tx.Query(ctx,
		`SELECT `+nodeColumns+` FROM kg_nodes WHERE id = ANY($1::uuid[]) ORDER BY seq`, ids)
	if err != nil {
		return nil, err
	}

	return collectNodes(rows)
}

func (b *backend) FindNodes(ctx context.Context, label, key string, value any, limit int) ([]sqlgraph.NodeRow, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + nodeColumns + ` FROM kg_nodes WHERE $1 = ANY(labels)`
	args := []any{label}

	if key != "" {
		data, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encoding %s value: %w", key, err)
		}

		// The key is inlined as a literal so the planner can match the
		// expression index on properties -> 'tag'.
		query += ` AND properties -> ` + quoteLiteral(key) + ` = $2::jsonb`
		args = append(args, string(data))
	}

	query += ` ORDER BY seq`

	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := b.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	return collectNodes(rows)
}

func (b *backend) Edges(ctx context.Context, id, relType string, dir graph.Direction) ([]sqlgraph.EdgeRow, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var where string

	switch dir {
	case graph.Outgoing:
		where = `source = $1`
	case graph.Incoming:
		where = `target = $1`
	case graph.Both:
		where = `(source = $1 OR target = $1)`
	default:
		return nil, fmt.Errorf("unknown direction %v", dir)
	}

	query := `SELECT id::text, type, source::text, target::text FROM kg_edges WHERE ` + where
	args := []any{id}

	if relType != "" {
		query += ` AND type = $2`
		args = append(args, relType)
	}

	rows, err := b.tx.Query(ctx, query+` ORDER BY seq`, args...)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (sqlgraph.EdgeRow, error) {
		var e sqlgraph.EdgeRow
		err := row.Scan(&e.ID, &e.Type, &e.Source, &e.Target)

		return e, err
	})
}

func (b *backend) Commit(ctx context.Context) error {
	return b.tx.Commit(ctx)
}

func (b *backend) Rollback(ctx context.Context) error {
	err := b.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return graph.ErrTxClosed
	}

	return err
}

func collectNodes(rows pgx.Rows) ([]sqlgraph.NodeRow, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (sqlgraph.NodeRow, error) {
		var n sqlgraph.NodeRow
		err := row.Scan(&n.ID, &n.Labels, &n.Properties)

		return n, err
	})
}

// quoteLiteral renders s as a standard-conforming SQL string literal.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
