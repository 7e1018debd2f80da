// Package memgraph is an in-process implementation of graph.Store.
//
// Write transactions are serialised and work on a private copy of the graph
// that replaces the shared one on commit, so a rolled back transaction leaves
// no trace. Read transactions work on a copy taken at begin.
package memgraph

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/persistorai/topograph/internal/graph"
)

type nodeData struct {
	id     string
	seq    uint64
	labels []string
	props  map[string]any
}

type relData struct {
	id      string
	seq     uint64
	relType string
	start   string
	end     string
}

type state struct {
	seq   uint64
	nodes map[string]*nodeData
	rels  map[string]*relData
	out   map[string][]string
	in    map[string][]string
}

func newState() *state {
	return &state{
		nodes: make(map[string]*nodeData),
		rels:  make(map[string]*relData),
		out:   make(map[string][]string),
		in:    make(map[string][]string),
	}
}

func (s *state) clone() *state {
	c := &state{
		seq:   s.seq,
		nodes: make(map[string]*nodeData, len(s.nodes)),
		rels:  make(map[string]*relData, len(s.rels)),
		out:   make(map[string][]string, len(s.out)),
		in:    make(map[string][]string, len(s.in)),
	}

	for id, n := range s.nodes {
		props := make(map[string]any, len(n.props))
		for k, v := range n.props {
			props[k] = v
		}

		c.nodes[id] = &nodeData{id: n.id, seq: n.seq, labels: slices.Clone(n.labels), props: props}
	}

	for id, r := range s.rels {
		cp := *r
		c.rels[id] = &cp
	}

	for id, ids := range s.out {
		c.out[id] = slices.Clone(ids)
	}

	for id, ids := range s.in {
		c.in[id] = slices.Clone(ids)
	}

	return c
}

// Store is an in-memory graph.
type Store struct {
	writer sync.Mutex
	mu     sync.RWMutex
	state  *state
}

var _ graph.Store = (*Store)(nil)

// New creates an empty in-memory graph.
func New() *Store {
	return &Store{state: newState()}
}

// Begin starts a write transaction, blocking while another one is open.
func (s *Store) Begin(ctx context.Context) (graph.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.writer.Lock()

	s.mu.RLock()
	st := s.state.clone()
	s.mu.RUnlock()

	return &Tx{store: s, state: st, writable: true}, nil
}

// BeginRead starts a read-only transaction over a snapshot of the graph.
func (s *Store) BeginRead(ctx context.Context) (graph.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	st := s.state.clone()
	s.mu.RUnlock()

	return &Tx{store: s, state: st}, nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// Stats returns the committed node and relationship counts.
func (s *Store) Stats() (nodes, relationships int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.state.nodes), len(s.state.rels)
}

// Tx is a memgraph transaction.
type Tx struct {
	store    *Store
	state    *state
	writable bool
	closed   bool
}

var _ graph.Tx = (*Tx)(nil)

func (t *Tx) check(write bool) error {
	if t.closed {
		return graph.ErrTxClosed
	}

	if write && !t.writable {
		return fmt.Errorf("write in read-only transaction")
	}

	return nil
}

// FindNode returns the first node, by creation order, with label and key=value.
func (t *Tx) FindNode(_ context.Context, label, key string, value any) (graph.Node, error) {
	if err := t.check(false); err != nil {
		return nil, err
	}

	var first *nodeData

	for _, n := range t.state.nodes {
		if first != nil && n.seq > first.seq {
			continue
		}

		if !slices.Contains(n.labels, label) {
			continue
		}

		if v, ok := n.props[key]; ok && equalValues(v, value) {
			first = n
		}
	}

	if first == nil {
		return nil, graph.ErrNotFound
	}

	return &Node{tx: t, id: first.id}, nil
}

// FindNodes returns all nodes with label in creation order.
func (t *Tx) FindNodes(_ context.Context, label string) ([]graph.Node, error) {
	if err := t.check(false); err != nil {
		return nil, err
	}

	var out []graph.Node

	for _, n := range t.sortedNodes() {
		if slices.Contains(n.labels, label) {
			out = append(out, &Node{tx: t, id: n.id})
		}
	}

	return out, nil
}

// CreateNode adds a node with the given labels.
func (t *Tx) CreateNode(_ context.Context, labels ...string) (graph.Node, error) {
	if err := t.check(true); err != nil {
		return nil, err
	}

	t.state.seq++
	id := uuid.New().String()
	t.state.nodes[id] = &nodeData{
		id:     id,
		seq:    t.state.seq,
		labels: slices.Clone(labels),
		props:  make(map[string]any),
	}

	return &Node{tx: t, id: id}, nil
}

// CreateRelationship adds a relType relationship from -> to.
func (t *Tx) CreateRelationship(_ context.Context, from, to graph.Node, relType string) (graph.Relationship, error) {
	if err := t.check(true); err != nil {
		return nil, err
	}

	if _, ok := t.state.nodes[from.ID()]; !ok {
		return nil, fmt.Errorf("relationship start %s: %w", from.ID(), graph.ErrNotFound)
	}

	if _, ok := t.state.nodes[to.ID()]; !ok {
		return nil, fmt.Errorf("relationship end %s: %w", to.ID(), graph.ErrNotFound)
	}

	t.state.seq++
	id := uuid.New().String()
	t.state.rels[id] = &relData{id: id, seq: t.state.seq, relType: relType, start: from.ID(), end: to.ID()}
	t.state.out[from.ID()] = append(t.state.out[from.ID()], id)
	t.state.in[to.ID()] = append(t.state.in[to.ID()], id)

	return &Relationship{tx: t, id: id}, nil
}

// Commit publishes the transaction's graph.
func (t *Tx) Commit(_ context.Context) error {
	if t.closed {
		return graph.ErrTxClosed
	}

	t.closed = true

	if !t.writable {
		return nil
	}

	t.store.mu.Lock()
	t.store.state = t.state
	t.store.mu.Unlock()
	t.store.writer.Unlock()

	return nil
}

// Rollback discards the transaction's graph.
func (t *Tx) Rollback(_ context.Context) error {
	if t.closed {
		return graph.ErrTxClosed
	}

	t.closed = true

	if t.writable {
		t.store.writer.Unlock()
	}

	return nil
}

func (t *Tx) sortedNodes() []*nodeData {
	nodes := make([]*nodeData, 0, len(t.state.nodes))
	for _, n := range t.state.nodes {
		nodes = append(nodes, n)
	}

	slices.SortFunc(nodes, func(a, b *nodeData) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}

		return 0
	})

	return nodes
}

func (t *Tx) deleteRel(id string) {
	r, ok := t.state.rels[id]
	if !ok {
		return
	}

	delete(t.state.rels, id)
	t.state.out[r.start] = slices.DeleteFunc(t.state.out[r.start], func(s string) bool { return s == id })
	t.state.in[r.end] = slices.DeleteFunc(t.state.in[r.end], func(s string) bool { return s == id })
}

// Node is a memgraph node handle.
type Node struct {
	tx *Tx
	id string
}

var _ graph.Node = (*Node)(nil)

func (n *Node) data() *nodeData {
	d, ok := n.tx.state.nodes[n.id]
	if !ok {
		return &nodeData{id: n.id, props: map[string]any{}}
	}

	return d
}

// ID returns the node identifier.
func (n *Node) ID() string { return n.id }

// Labels returns a copy of the node labels.
func (n *Node) Labels() []string { return slices.Clone(n.data().labels) }

// HasLabel reports whether the node carries label.
func (n *Node) HasLabel(label string) bool { return slices.Contains(n.data().labels, label) }

// Property returns a property value.
func (n *Node) Property(key string) (any, bool) {
	v, ok := n.data().props[key]
	return v, ok
}

// Properties returns a copy of all properties.
func (n *Node) Properties() map[string]any {
	props := n.data().props
	out := make(map[string]any, len(props))

	for k, v := range props {
		out[k] = v
	}

	return out
}

// SetProperty sets key to value; a nil value removes the property.
func (n *Node) SetProperty(_ context.Context, key string, value any) error {
	if err := n.tx.check(true); err != nil {
		return err
	}

	d, ok := n.tx.state.nodes[n.id]
	if !ok {
		return fmt.Errorf("node %s: %w", n.id, graph.ErrNotFound)
	}

	if value == nil {
		delete(d.props, key)
		return nil
	}

	d.props[key] = value

	return nil
}

// Relationships returns relationships of relType (all types when empty) in
// creation order.
func (n *Node) Relationships(_ context.Context, relType string, dir graph.Direction) ([]graph.Relationship, error) {
	if err := n.tx.check(false); err != nil {
		return nil, err
	}

	var ids []string

	if dir == graph.Outgoing || dir == graph.Both {
		ids = append(ids, n.tx.state.out[n.id]...)
	}

	if dir == graph.Incoming || dir == graph.Both {
		ids = append(ids, n.tx.state.in[n.id]...)
	}

	rels := make([]*relData, 0, len(ids))
	seen := make(map[string]bool, len(ids))

	for _, id := range ids {
		r := n.tx.state.rels[id]
		if r == nil || seen[id] || (relType != "" && r.relType != relType) {
			continue
		}

		seen[id] = true
		rels = append(rels, r)
	}

	slices.SortFunc(rels, func(a, b *relData) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}

		return 0
	})

	out := make([]graph.Relationship, 0, len(rels))
	for _, r := range rels {
		out = append(out, &Relationship{tx: n.tx, id: r.id})
	}

	return out, nil
}

// Delete removes the node and its relationships.
func (n *Node) Delete(_ context.Context) error {
	if err := n.tx.check(true); err != nil {
		return err
	}

	if _, ok := n.tx.state.nodes[n.id]; !ok {
		return fmt.Errorf("node %s: %w", n.id, graph.ErrNotFound)
	}

	for _, id := range slices.Clone(n.tx.state.out[n.id]) {
		n.tx.deleteRel(id)
	}

	for _, id := range slices.Clone(n.tx.state.in[n.id]) {
		n.tx.deleteRel(id)
	}

	delete(n.tx.state.out, n.id)
	delete(n.tx.state.in, n.id)
	delete(n.tx.state.nodes, n.id)

	return nil
}

// Relationship is a memgraph relationship handle.
type Relationship struct {
	tx *Tx
	id string
}

var _ graph.Relationship = (*Relationship)(nil)

func (r *Relationship) data() *relData {
	d, ok := r.tx.state.rels[r.id]
	if !ok {
		return &relData{id: r.id}
	}

	return d
}

// ID returns the relationship identifier.
func (r *Relationship) ID() string { return r.id }

// Type returns the relationship type.
func (r *Relationship) Type() string { return r.data().relType }

// Start returns the node the relationship leaves.
func (r *Relationship) Start() graph.Node { return &Node{tx: r.tx, id: r.data().start} }

// End returns the node the relationship enters.
func (r *Relationship) End() graph.Node { return &Node{tx: r.tx, id: r.data().end} }

// Other returns the endpoint opposite n.
func (r *Relationship) Other(n graph.Node) graph.Node {
	d := r.data()
	if d.start == n.ID() {
		return &Node{tx: r.tx, id: d.end}
	}

	return &Node{tx: r.tx, id: d.start}
}

// Delete removes the relationship.
func (r *Relationship) Delete(_ context.Context) error {
	if err := r.tx.check(true); err != nil {
		return err
	}

	if _, ok := r.tx.state.rels[r.id]; !ok {
		return fmt.Errorf("relationship %s: %w", r.id, graph.ErrNotFound)
	}

	r.tx.deleteRel(r.id)

	return nil
}

func equalValues(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if reflect.TypeOf(a) == reflect.TypeOf(b) && reflect.TypeOf(a).Comparable() {
		return a == b
	}

	return reflect.DeepEqual(a, b)
}
