package memgraph_test

import (
	"context"
	"errors"
	"testing"

	"github.com/persistorai/topograph/internal/graph"
	"github.com/persistorai/topograph/internal/graph/graphtest"
	"github.com/persistorai/topograph/internal/graph/memgraph"
)

func TestConformance(t *testing.T) {
	graphtest.Run(t, func(*testing.T) graph.Store { return memgraph.New() })
}

func TestTx_CommitPublishesNodes(t *testing.T) {
	ctx := context.Background()
	s := memgraph.New()

	err := graph.RunInTx(ctx, s, nil, func(tx graph.Tx) error {
		n, err := tx.CreateNode(ctx, "Element", "neType:cpe")
		if err != nil {
			return err
		}

		return n.SetProperty(ctx, "tag", "neType:cpe=a")
	})
	if err != nil {
		t.Fatalf("RunInTx: %v", err)
	}

	nodes, rels := s.Stats()
	if nodes != 1 || rels != 0 {
		t.Fatalf("Stats() = (%d, %d), want (1, 0)", nodes, rels)
	}

	tx, err := s.BeginRead(ctx)
	if err != nil {
		t.Fatalf("BeginRead: %v", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // read-only.

	n, err := tx.FindNode(ctx, "Element", "tag", "neType:cpe=a")
	if err != nil {
		t.Fatalf("FindNode: %v", err)
	}

	if !n.HasLabel("neType:cpe") {
		t.Errorf("labels = %v, want neType:cpe", n.Labels())
	}
}

func TestTx_RollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	s := memgraph.New()
	boom := errors.New("boom")

	err := graph.RunInTx(ctx, s, nil, func(tx graph.Tx) error {
		if _, err := tx.CreateNode(ctx, "Element"); err != nil {
			return err
		}

		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("RunInTx error = %v, want boom", err)
	}

	if nodes, _ := s.Stats(); nodes != 0 {
		t.Errorf("nodes after rollback = %d, want 0", nodes)
	}
}

func TestNode_DeleteRemovesRelationships(t *testing.T) {
	ctx := context.Background()
	s := memgraph.New()

	err := graph.RunInTx(ctx, s, nil, func(tx graph.Tx) error {
		a, _ := tx.CreateNode(ctx, "Element")
		b, _ := tx.CreateNode(ctx, "Element")

		if _, err := tx.CreateRelationship(ctx, a, b, "PARENT"); err != nil {
			return err
		}

		rels, err := b.Relationships(ctx, "PARENT", graph.Incoming)
		if err != nil {
			return err
		}

		if len(rels) != 1 || rels[0].Other(b).ID() != a.ID() {
			t.Errorf("incoming PARENT of b = %d rels, want 1 from a", len(rels))
		}

		return b.Delete(ctx)
	})
	if err != nil {
		t.Fatalf("RunInTx: %v", err)
	}

	nodes, rels := s.Stats()
	if nodes != 1 || rels != 0 {
		t.Errorf("Stats() = (%d, %d), want (1, 0)", nodes, rels)
	}
}

func TestTx_ReadOnlyRejectsWrites(t *testing.T) {
	ctx := context.Background()
	s := memgraph.New()

	tx, err := s.BeginRead(ctx)
	if err != nil {
		t.Fatalf("BeginRead: %v", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // read-only.

	if _, err := tx.CreateNode(ctx, "Element"); err == nil {
		t.Error("CreateNode in read transaction succeeded, want error")
	}

	if _, err := tx.FindNode(ctx, "Element", "tag", "x"); !errors.Is(err, graph.ErrNotFound) {
		t.Errorf("FindNode error = %v, want ErrNotFound", err)
	}
}

func TestTx_FindNodeReturnsEarliestMatch(t *testing.T) {
	ctx := context.Background()
	s := memgraph.New()

	err := graph.RunInTx(ctx, s, nil, func(tx graph.Tx) error {
		for i := range 50 {
			n, err := tx.CreateNode(ctx, "Element")
			if err != nil {
				return err
			}

			if err := n.SetProperty(ctx, "tag", "dup"); err != nil {
				return err
			}

			if err := n.SetProperty(ctx, "n", float64(i)); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		t.Fatalf("RunInTx: %v", err)
	}

	err = graph.RunInReadTx(ctx, s, nil, func(tx graph.Tx) error {
		n, err := tx.FindNode(ctx, "Element", "tag", "dup")
		if err != nil {
			return err
		}

		if v, _ := n.Property("n"); v != 0.0 {
			t.Errorf("FindNode returned node %v, want the first created", v)
		}

		if _, err := tx.FindNode(ctx, "Planet", "tag", "dup"); !graph.IsNotFound(err) {
			t.Errorf("label filter: got %v, want not found", err)
		}

		return nil
	})
	if err != nil {
		t.Fatalf("RunInReadTx: %v", err)
	}
}
