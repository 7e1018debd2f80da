// Package sqlitestore is an embedded, single-file implementation of
// graph.Store over modernc.org/sqlite.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite" // register the sqlite database/sql driver

	"github.com/persistorai/topograph/internal/db"
	"github.com/persistorai/topograph/internal/graph"
	"github.com/persistorai/topograph/internal/graph/sqlgraph"
)

// Store is a graph.Store backed by one SQLite database file.
type Store struct {
	db *sql.DB
}

var _ graph.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and applies pending
// migrations.
func Open(ctx context.Context, path string, log *logrus.Logger) (*Store, error) {
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	// One writer at a time; WAL lets readers run alongside it.
	sqlDB.SetMaxOpenConns(4)

	if err := db.RunSQLiteMigrations(ctx, sqlDB, log); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	return &Store{db: sqlDB}, nil
}

// Begin starts a read-write transaction.
func (s *Store) Begin(ctx context.Context) (graph.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}

	return sqlgraph.NewTx(&backend{tx: tx}, true), nil
}

// BeginRead starts a transaction that rejects writes. WAL gives it a stable
// snapshot from its first read.
func (s *Store) BeginRead(ctx context.Context) (graph.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning read transaction: %w", err)
	}

	return sqlgraph.NewTx(&backend{tx: tx}, false), nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

type backend struct {
	tx *sql.Tx
}

const nodeColumns = `id, labels, properties`

func (b *backend) InsertNode(ctx context.Context, id string, labels []string) error {
	data, err := json.Marshal(labels)
	if err != nil {
		return fmt.Errorf("encoding labels: %w", err)
	}

	_, err = b.tx.ExecContext(ctx, `INSERT INTO kg_nodes (id, labels) VALUES (?, ?)`, id, string(data))

	return err
}

func (b *backend) UpdateProperties(ctx context.Context, id string, props []byte) error {
	res, err := b.tx.ExecContext(ctx, `UPDATE kg_nodes SET properties = ? WHERE id = ?`, string(props), id)

	return affected(res, err)
}

func (b *backend) DeleteNode(ctx context.Context, id string) error {
	if _, err := b.tx.ExecContext(ctx, `DELETE FROM kg_edges WHERE source = ? OR target = ?`, id, id); err != nil {
		return err
	}

	res, err := b.tx.ExecContext(ctx, `DELETE FROM kg_nodes WHERE id = ?`, id)

	return affected(res, err)
}

func (b *backend) InsertEdge(ctx context.Context, e sqlgraph.EdgeRow) error {
	_, err := b.tx.ExecContext(ctx,
		`INSERT INTO kg_edges (id, type, source, target) VALUES (?, ?, ?, ?)`,
		e.ID, e.Type, e.Source, e.Target)

	return err
}

func (b *backend) DeleteEdge(ctx context.Context, id string) error {
	res, err := b.tx.ExecContext(ctx, `DELETE FROM kg_edges WHERE id = ?`, id)

	return affected(res, err)
}

func (b *backend) LoadNodes(ctx context.Context, ids []string) ([]sqlgraph.NodeRow, error) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	query := `SELECT ` + nodeColumns + ` FROM kg_nodes WHERE id IN (` + placeholders(len(ids)) + `) ORDER BY seq`

	return b.queryNodes(ctx, query, args...)
}

func (b *backend) FindNodes(ctx context.Context, label, key string, value any, limit int) ([]sqlgraph.NodeRow, error) {
	query := `SELECT ` + nodeColumns + ` FROM kg_nodes
		WHERE EXISTS (SELECT 1 FROM json_each(kg_nodes.labels) WHERE json_each.value = ?)`
	args := []any{label}

	if key != "" {
		cond, arg, err := propertyEquals(key, value)
		if err != nil {
			return nil, err
		}

		query += ` AND ` + cond
		args = append(args, arg)
	}

	query += ` ORDER BY seq`

	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	return b.queryNodes(ctx, query, args...)
}

// propertyEquals renders a comparison of the property key with value.
// Scalars compare as SQL values; arrays compare as minified JSON text.
func propertyEquals(key string, value any) (string, any, error) {
	path := jsonPath(key)

	switch v := value.(type) {
	case string, float64:
		return `json_extract(properties, ` + path + `) = ?`, v, nil
	case bool:
		n := 0
		if v {
			n = 1
		}

		return `json_type(properties, ` + path + `) IN ('true', 'false') AND json_extract(properties, ` + path + `) = ?`, n, nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return "", nil, fmt.Errorf("encoding %s value: %w", key, err)
	}

	return `json(properties -> ` + path + `) = json(?)`, string(data), nil
}

func (b *backend) Edges(ctx context.Context, id, relType string, dir graph.Direction) ([]sqlgraph.EdgeRow, error) {
	var (
		where string
		args  []any
	)

	switch dir {
	case graph.Outgoing:
		where, args = `source = ?`, []any{id}
	case graph.Incoming:
		where, args = `target = ?`, []any{id}
	case graph.Both:
		where, args = `(source = ? OR target = ?)`, []any{id, id}
	default:
		return nil, fmt.Errorf("unknown direction %v", dir)
	}

	if relType != "" {
		where += ` AND type = ?`
		args = append(args, relType)
	}

	rows, err := b.tx.QueryContext(ctx, `SELECT id, type, source, target FROM kg_edges WHERE `+where+` ORDER BY seq`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []sqlgraph.EdgeRow

	for rows.Next() {
		var e sqlgraph.EdgeRow
		if err := rows.Scan(&e.ID, &e.Type, &e.Source, &e.Target); err != nil {
			return nil, err
		}

		out = append(out, e)
	}

	return out, rows.Err()
}

func (b *backend) Commit(_ context.Context) error {
	return b.tx.Commit()
}

func (b *backend) Rollback(_ context.Context) error {
	err := b.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return graph.ErrTxClosed
	}

	return err
}

func (b *backend) queryNodes(ctx context.Context, query string, args ...any) ([]sqlgraph.NodeRow, error) {
	rows, err := b.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []sqlgraph.NodeRow

	for rows.Next() {
		var (
			n      sqlgraph.NodeRow
			labels string
			props  string
		)

		if err := rows.Scan(&n.ID, &labels, &props); err != nil {
			return nil, err
		}

		if err := json.Unmarshal([]byte(labels), &n.Labels); err != nil {
			return nil, fmt.Errorf("decoding labels of %s: %w", n.ID, err)
		}

		n.Properties = []byte(props)
		out = append(out, n)
	}

	return out, rows.Err()
}

func affected(res sql.Result, err error) error {
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if n == 0 {
		return graph.ErrNotFound
	}

	return nil
}

var simpleKey = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// jsonPath renders the JSON path literal of a top-level key. Simple keys use
// the same form as the kg_nodes_tag_idx expression so lookups hit the index.
func jsonPath(key string) string {
	if simpleKey.MatchString(key) {
		return `'$.` + key + `'`
	}

	return `'$."` + strings.NewReplacer(`'`, `''`, `"`, `\"`).Replace(key) + `"'`
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
