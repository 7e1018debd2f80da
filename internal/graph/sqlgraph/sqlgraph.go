// Package sqlgraph implements graph.Tx on top of a relational backend.
//
// Backends store nodes and edges as rows (see internal/db/migrations) and
// only translate single-row operations to SQL. sqlgraph keeps an identity
// map per transaction so every handle to a node sees the same properties,
// and writes the whole property document back on each change.
package sqlgraph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/persistorai/topograph/internal/graph"
)

// NodeRow is a node as stored.
type NodeRow struct {
	ID         string
	Labels     []string
	Properties []byte
}

// EdgeRow is a relationship as stored.
type EdgeRow struct {
	ID     string
	Type   string
	Source string
	Target string
}

// Backend runs single-row operations inside one database transaction.
// Node and edge listings must be ordered by creation.
type Backend interface {
	InsertNode(ctx context.Context, id string, labels []string) error
	UpdateProperties(ctx context.Context, id string, props []byte) error
	// DeleteNode removes the node and every edge touching it.
	DeleteNode(ctx context.Context, id string) error
	InsertEdge(ctx context.Context, e EdgeRow) error
	DeleteEdge(ctx context.Context, id string) error
	LoadNodes(ctx context.Context, ids []string) ([]NodeRow, error)
	// FindNodes lists nodes carrying label; when key is set only those whose
	// property key equals value, at most limit rows when limit > 0.
	FindNodes(ctx context.Context, label, key string, value any, limit int) ([]NodeRow, error)
	// Edges lists the edges of id in direction dir, of relType unless empty.
	Edges(ctx context.Context, id, relType string, dir graph.Direction) ([]EdgeRow, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// ErrReadOnly is returned for writes in a read transaction.
var ErrReadOnly = errors.New("write in read-only transaction")

// Tx adapts a Backend to graph.Tx.
type Tx struct {
	backend  Backend
	writable bool
	closed   bool
	nodes    map[string]*Node
}

var _ graph.Tx = (*Tx)(nil)

// NewTx wraps backend. Read transactions reject writes before they reach
// the database.
func NewTx(backend Backend, writable bool) *Tx {
	return &Tx{backend: backend, writable: writable, nodes: make(map[string]*Node)}
}

func (t *Tx) check(write bool) error {
	if t.closed {
		return graph.ErrTxClosed
	}

	if write && !t.writable {
		return ErrReadOnly
	}

	return nil
}

func (t *Tx) track(row NodeRow) (*Node, error) {
	if n, ok := t.nodes[row.ID]; ok {
		return n, nil
	}

	props, err := DecodeProperties(row.Properties)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", row.ID, err)
	}

	n := &Node{tx: t, id: row.ID, labels: row.Labels, props: props}
	t.nodes[row.ID] = n

	return n, nil
}

func (t *Tx) trackAll(rows []NodeRow) ([]graph.Node, error) {
	out := make([]graph.Node, 0, len(rows))

	for _, row := range rows {
		n, err := t.track(row)
		if err != nil {
			return nil, err
		}

		out = append(out, n)
	}

	return out, nil
}

// preload makes sure every id is in the identity map.
func (t *Tx) preload(ctx context.Context, ids []string) error {
	var missing []string

	for _, id := range ids {
		if _, ok := t.nodes[id]; !ok && !slices.Contains(missing, id) {
			missing = append(missing, id)
		}
	}

	if len(missing) == 0 {
		return nil
	}

	rows, err := t.backend.LoadNodes(ctx, missing)
	if err != nil {
		return fmt.Errorf("loading nodes: %w", err)
	}

	_, err = t.trackAll(rows)

	return err
}

// FindNode returns the first node, by creation order, with label and key=value.
func (t *Tx) FindNode(ctx context.Context, label, key string, value any) (graph.Node, error) {
	if err := t.check(false); err != nil {
		return nil, err
	}

	rows, err := t.backend.FindNodes(ctx, label, key, value, 1)
	if err != nil {
		return nil, fmt.Errorf("finding %s node: %w", label, err)
	}

	if len(rows) == 0 {
		return nil, graph.ErrNotFound
	}

	return t.track(rows[0])
}

// FindNodes returns all nodes with label in creation order.
func (t *Tx) FindNodes(ctx context.Context, label string) ([]graph.Node, error) {
	if err := t.check(false); err != nil {
		return nil, err
	}

	rows, err := t.backend.FindNodes(ctx, label, "", nil, 0)
	if err != nil {
		return nil, fmt.Errorf("listing %s nodes: %w", label, err)
	}

	return t.trackAll(rows)
}

// CreateNode adds a node with the given labels.
func (t *Tx) CreateNode(ctx context.Context, labels ...string) (graph.Node, error) {
	if err := t.check(true); err != nil {
		return nil, err
	}

	id := uuid.New().String()

	if err := t.backend.InsertNode(ctx, id, labels); err != nil {
		return nil, fmt.Errorf("inserting node: %w", err)
	}

	n := &Node{tx: t, id: id, labels: slices.Clone(labels), props: make(map[string]any)}
	t.nodes[id] = n

	return n, nil
}

// CreateRelationship adds a relType relationship from -> to.
func (t *Tx) CreateRelationship(ctx context.Context, from, to graph.Node, relType string) (graph.Relationship, error) {
	if err := t.check(true); err != nil {
		return nil, err
	}

	row := EdgeRow{ID: uuid.New().String(), Type: relType, Source: from.ID(), Target: to.ID()}

	if err := t.preload(ctx, []string{row.Source, row.Target}); err != nil {
		return nil, err
	}

	for _, id := range []string{row.Source, row.Target} {
		if n, ok := t.nodes[id]; !ok || n.deleted {
			return nil, fmt.Errorf("relationship endpoint %s: %w", id, graph.ErrNotFound)
		}
	}

	if err := t.backend.InsertEdge(ctx, row); err != nil {
		return nil, fmt.Errorf("inserting relationship: %w", err)
	}

	return &Relationship{tx: t, row: row}, nil
}

// Commit commits the backend transaction.
func (t *Tx) Commit(ctx context.Context) error {
	if t.closed {
		return graph.ErrTxClosed
	}

	t.closed = true

	return t.backend.Commit(ctx)
}

// Rollback aborts the backend transaction.
func (t *Tx) Rollback(ctx context.Context) error {
	if t.closed {
		return graph.ErrTxClosed
	}

	t.closed = true

	return t.backend.Rollback(ctx)
}

// Node is a node handle shared by every lookup of the same id in a Tx.
type Node struct {
	tx      *Tx
	id      string
	labels  []string
	props   map[string]any
	deleted bool
}

var _ graph.Node = (*Node)(nil)

// ID returns the node identifier.
func (n *Node) ID() string { return n.id }

// Labels returns a copy of the node labels.
func (n *Node) Labels() []string { return slices.Clone(n.labels) }

// HasLabel reports whether the node carries label.
func (n *Node) HasLabel(label string) bool { return slices.Contains(n.labels, label) }

// Property returns a property value.
func (n *Node) Property(key string) (any, bool) {
	v, ok := n.props[key]
	return v, ok
}

// Properties returns a copy of all properties.
func (n *Node) Properties() map[string]any {
	out := make(map[string]any, len(n.props))
	for k, v := range n.props {
		out[k] = v
	}

	return out
}

// SetProperty sets key to value; a nil value removes the property.
func (n *Node) SetProperty(ctx context.Context, key string, value any) error {
	if err := n.tx.check(true); err != nil {
		return err
	}

	if n.deleted {
		return fmt.Errorf("node %s: %w", n.id, graph.ErrNotFound)
	}

	next := n.Properties()
	if value == nil {
		delete(next, key)
	} else {
		next[key] = value
	}

	data, err := EncodeProperties(next)
	if err != nil {
		return fmt.Errorf("node %s: %w", n.id, err)
	}

	if err := n.tx.backend.UpdateProperties(ctx, n.id, data); err != nil {
		return fmt.Errorf("updating node %s: %w", n.id, err)
	}

	// Keep the cached form identical to what a fresh load would return.
	decoded, err := DecodeProperties(data)
	if err != nil {
		return err
	}

	n.props = decoded

	return nil
}

// Relationships returns relationships of relType (all types when empty) in
// creation order.
func (n *Node) Relationships(ctx context.Context, relType string, dir graph.Direction) ([]graph.Relationship, error) {
	if err := n.tx.check(false); err != nil {
		return nil, err
	}

	rows, err := n.tx.backend.Edges(ctx, n.id, relType, dir)
	if err != nil {
		return nil, fmt.Errorf("reading relationships of %s: %w", n.id, err)
	}

	ids := make([]string, 0, 2*len(rows))
	for _, r := range rows {
		ids = append(ids, r.Source, r.Target)
	}

	if err := n.tx.preload(ctx, ids); err != nil {
		return nil, err
	}

	out := make([]graph.Relationship, 0, len(rows))
	for _, r := range rows {
		out = append(out, &Relationship{tx: n.tx, row: r})
	}

	return out, nil
}

// Delete removes the node together with all its relationships.
func (n *Node) Delete(ctx context.Context) error {
	if err := n.tx.check(true); err != nil {
		return err
	}

	if n.deleted {
		return fmt.Errorf("node %s: %w", n.id, graph.ErrNotFound)
	}

	if err := n.tx.backend.DeleteNode(ctx, n.id); err != nil {
		return fmt.Errorf("deleting node %s: %w", n.id, err)
	}

	n.deleted = true
	delete(n.tx.nodes, n.id)

	return nil
}

// Relationship is a relationship handle.
type Relationship struct {
	tx  *Tx
	row EdgeRow
}

var _ graph.Relationship = (*Relationship)(nil)

// ID returns the relationship identifier.
func (r *Relationship) ID() string { return r.row.ID }

// Type returns the relationship type.
func (r *Relationship) Type() string { return r.row.Type }

// Start returns the node the relationship leaves.
func (r *Relationship) Start() graph.Node { return r.tx.handle(r.row.Source) }

// End returns the node the relationship enters.
func (r *Relationship) End() graph.Node { return r.tx.handle(r.row.Target) }

// Other returns the endpoint opposite n.
func (r *Relationship) Other(n graph.Node) graph.Node {
	if r.row.Source == n.ID() {
		return r.End()
	}

	return r.Start()
}

// Delete removes the relationship.
func (r *Relationship) Delete(ctx context.Context) error {
	if err := r.tx.check(true); err != nil {
		return err
	}

	if err := r.tx.backend.DeleteEdge(ctx, r.row.ID); err != nil {
		return fmt.Errorf("deleting relationship %s: %w", r.row.ID, err)
	}

	return nil
}

// handle returns the tracked node for id. Endpoints are preloaded when a
// relationship is read, so the fallback only covers deleted nodes.
func (t *Tx) handle(id string) *Node {
	if n, ok := t.nodes[id]; ok {
		return n
	}

	return &Node{tx: t, id: id, props: map[string]any{}, deleted: true}
}

// EncodeProperties serialises a property document.
func EncodeProperties(props map[string]any) ([]byte, error) {
	data, err := json.Marshal(props)
	if err != nil {
		return nil, fmt.Errorf("encoding properties: %w", err)
	}

	return data, nil
}

// DecodeProperties parses a property document. Numbers decode as float64 and
// arrays as []any, matching the values the loader writes.
func DecodeProperties(data []byte) (map[string]any, error) {
	props := make(map[string]any)
	if len(data) == 0 {
		return props, nil
	}

	if err := json.Unmarshal(data, &props); err != nil {
		return nil, fmt.Errorf("decoding properties: %w", err)
	}

	return props, nil
}
