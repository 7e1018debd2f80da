// Package graph defines the contract the topology engine expects from the
// external graph store: labelled nodes with properties, typed directed
// relationships and transactions.
//
// Implementations live in memgraph (in-process), store (PostgreSQL) and
// store/sqlitestore (embedded SQLite).
package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned by lookups that match no node.
var ErrNotFound = errors.New("node not found")

// ErrTxClosed is returned when a committed or rolled back transaction is used.
var ErrTxClosed = errors.New("transaction already closed")

// Direction selects which relationships of a node are returned.
type Direction int

// Relationship directions relative to the node queried.
const (
	Outgoing Direction = iota
	Incoming
	Both
)

func (d Direction) String() string {
	switch d {
	case Outgoing:
		return "outgoing"
	case Incoming:
		return "incoming"
	case Both:
		return "both"
	}

	return fmt.Sprintf("Direction(%d)", int(d))
}

// Store opens transactions against a graph.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
	BeginRead(ctx context.Context) (Tx, error)
	Close() error
}

// Tx is a unit of work. Nodes and relationships obtained from a Tx are only
// valid until it is committed or rolled back.
type Tx interface {
	// FindNode returns the node carrying label whose property key equals value,
	// or ErrNotFound.
	FindNode(ctx context.Context, label, key string, value any) (Node, error)
	// FindNodes returns every node carrying label, ordered by creation.
	FindNodes(ctx context.Context, label string) ([]Node, error)
	CreateNode(ctx context.Context, labels ...string) (Node, error)
	CreateRelationship(ctx context.Context, from, to Node, relType string) (Relationship, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Node is a labelled property holder.
type Node interface {
	ID() string
	Labels() []string
	HasLabel(label string) bool
	Property(key string) (any, bool)
	// Properties returns a copy of all properties.
	Properties() map[string]any
	SetProperty(ctx context.Context, key string, value any) error
	Relationships(ctx context.Context, relType string, dir Direction) ([]Relationship, error)
	// Delete removes the node together with all its relationships.
	Delete(ctx context.Context) error
}

// Relationship is a typed directed edge between two nodes.
type Relationship interface {
	ID() string
	Type() string
	Start() Node
	End() Node
	// Other returns the endpoint that is not n.
	Other(n Node) Node
	Delete(ctx context.Context) error
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// StringProperty returns the property as a string when it is one.
func StringProperty(n Node, key string) string {
	v, ok := n.Property(key)
	if !ok {
		return ""
	}

	s, _ := v.(string)

	return s
}

// RunInTx runs fn inside a read-write transaction, committing on success and
// rolling back on error or panic.
func RunInTx(ctx context.Context, s Store, log *logrus.Logger, fn func(tx Tx) error) (err error) {
	tx, err := s.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			rollback(ctx, tx, log)
			panic(p)
		}

		if err != nil {
			rollback(ctx, tx, log)
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

// RunInReadTx runs fn inside a read-only transaction that is always rolled back.
func RunInReadTx(ctx context.Context, s Store, log *logrus.Logger, fn func(tx Tx) error) error {
	tx, err := s.BeginRead(ctx)
	if err != nil {
		return fmt.Errorf("beginning read transaction: %w", err)
	}

	defer rollback(ctx, tx, log)

	return fn(tx)
}

func rollback(ctx context.Context, tx Tx, log *logrus.Logger) {
	if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, ErrTxClosed) && log != nil {
		log.WithError(err).Warn("rollback failed")
	}
}
