// Package graphtest checks that a graph.Store honours the contract the
// topology engine relies on. Store implementations call Run from their tests.
package graphtest

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/persistorai/topograph/internal/graph"
)

// Factory returns an empty store. It is called once per subtest.
type Factory func(t *testing.T) graph.Store

// Run runs the conformance checks against stores made by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s graph.Store)
	}{
		{"FindNodeByProperty", testFindNodeByProperty},
		{"FindNodesCreationOrder", testFindNodesCreationOrder},
		{"PropertyValuesSurviveCommit", testPropertyValues},
		{"SetNilRemovesProperty", testSetNilRemoves},
		{"HandlesShareState", testHandlesShareState},
		{"Relationships", testRelationships},
		{"DeleteNodeRemovesRelationships", testDeleteNode},
		{"RollbackDiscards", testRollback},
		{"ClosedTx", testClosedTx},
		{"ReadTxRejectsWrites", testReadTxRejectsWrites},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })

			tc.fn(t, s)
		})
	}
}

func write(t *testing.T, s graph.Store, fn func(ctx context.Context, tx graph.Tx) error) {
	t.Helper()

	ctx := context.Background()

	if err := graph.RunInTx(ctx, s, nil, func(tx graph.Tx) error { return fn(ctx, tx) }); err != nil {
		t.Fatalf("RunInTx: %v", err)
	}
}

func read(t *testing.T, s graph.Store, fn func(ctx context.Context, tx graph.Tx)) {
	t.Helper()

	ctx := context.Background()

	err := graph.RunInReadTx(ctx, s, nil, func(tx graph.Tx) error {
		fn(ctx, tx)
		return nil
	})
	if err != nil {
		t.Fatalf("RunInReadTx: %v", err)
	}
}

func node(ctx context.Context, tx graph.Tx, tag string, labels ...string) (graph.Node, error) {
	n, err := tx.CreateNode(ctx, labels...)
	if err != nil {
		return nil, err
	}

	return n, n.SetProperty(ctx, "tag", tag)
}

func testFindNodeByProperty(t *testing.T, s graph.Store) {
	write(t, s, func(ctx context.Context, tx graph.Tx) error {
		if _, err := node(ctx, tx, "a", "Element", "neType:cpe"); err != nil {
			return err
		}

		n, err := node(ctx, tx, "b", "Planet")
		if err != nil {
			return err
		}

		if err := n.SetProperty(ctx, "speed", 100.0); err != nil {
			return err
		}

		return n.SetProperty(ctx, "enabled", true)
	})

	read(t, s, func(ctx context.Context, tx graph.Tx) {
		n, err := tx.FindNode(ctx, "Element", "tag", "a")
		if err != nil {
			t.Fatalf("FindNode(tag=a): %v", err)
		}

		if !n.HasLabel("neType:cpe") || !n.HasLabel("Element") {
			t.Errorf("labels = %v", n.Labels())
		}

		if _, err := tx.FindNode(ctx, "Element", "tag", "b"); !errors.Is(err, graph.ErrNotFound) {
			t.Errorf("label filter ignored: %v", err)
		}

		if _, err := tx.FindNode(ctx, "Planet", "speed", 100.0); err != nil {
			t.Errorf("FindNode(speed=100): %v", err)
		}

		if _, err := tx.FindNode(ctx, "Planet", "enabled", true); err != nil {
			t.Errorf("FindNode(enabled=true): %v", err)
		}

		if _, err := tx.FindNode(ctx, "Planet", "enabled", false); !graph.IsNotFound(err) {
			t.Errorf("FindNode(enabled=false) = %v, want not found", err)
		}
	})
}

func testFindNodesCreationOrder(t *testing.T, s graph.Store) {
	tags := []string{"c", "a", "b", "e", "d"}

	write(t, s, func(ctx context.Context, tx graph.Tx) error {
		for _, tag := range tags {
			if _, err := node(ctx, tx, tag, "Element"); err != nil {
				return err
			}
		}

		_, err := node(ctx, tx, "p", "Planet")

		return err
	})

	read(t, s, func(ctx context.Context, tx graph.Tx) {
		nodes, err := tx.FindNodes(ctx, "Element")
		if err != nil {
			t.Fatalf("FindNodes: %v", err)
		}

		got := make([]string, 0, len(nodes))
		for _, n := range nodes {
			got = append(got, graph.StringProperty(n, "tag"))
		}

		if !reflect.DeepEqual(got, tags) {
			t.Errorf("order = %v, want %v", got, tags)
		}
	})
}

func testPropertyValues(t *testing.T, s graph.Store) {
	want := map[string]any{
		"tag":     "neType:interface=eth0",
		"speed":   1000.0,
		"ratio":   0.25,
		"enabled": false,
		"vlans":   []any{10.0, 20.0},
		"names":   []any{"a", "b"},
	}

	write(t, s, func(ctx context.Context, tx graph.Tx) error {
		n, err := tx.CreateNode(ctx, "Element")
		if err != nil {
			return err
		}

		for k, v := range want {
			if err := n.SetProperty(ctx, k, v); err != nil {
				return err
			}
		}

		return nil
	})

	read(t, s, func(ctx context.Context, tx graph.Tx) {
		n, err := tx.FindNode(ctx, "Element", "tag", "neType:interface=eth0")
		if err != nil {
			t.Fatalf("FindNode: %v", err)
		}

		if got := n.Properties(); !reflect.DeepEqual(got, want) {
			t.Errorf("properties = %#v, want %#v", got, want)
		}
	})
}

func testSetNilRemoves(t *testing.T, s graph.Store) {
	write(t, s, func(ctx context.Context, tx graph.Tx) error {
		n, err := node(ctx, tx, "a", "Element")
		if err != nil {
			return err
		}

		if err := n.SetProperty(ctx, "model", "x"); err != nil {
			return err
		}

		return n.SetProperty(ctx, "model", nil)
	})

	read(t, s, func(ctx context.Context, tx graph.Tx) {
		n, err := tx.FindNode(ctx, "Element", "tag", "a")
		if err != nil {
			t.Fatalf("FindNode: %v", err)
		}

		if _, ok := n.Property("model"); ok {
			t.Error("model should be removed")
		}
	})
}

func testHandlesShareState(t *testing.T, s graph.Store) {
	write(t, s, func(ctx context.Context, tx graph.Tx) error {
		a, err := node(ctx, tx, "a", "Element")
		if err != nil {
			return err
		}

		b, err := node(ctx, tx, "b", "Element")
		if err != nil {
			return err
		}

		if _, err := tx.CreateRelationship(ctx, a, b, "PARENT"); err != nil {
			return err
		}

		found, err := tx.FindNode(ctx, "Element", "tag", "b")
		if err != nil {
			return err
		}

		if err := found.SetProperty(ctx, "name", "B"); err != nil {
			return err
		}

		rels, err := a.Relationships(ctx, "PARENT", graph.Outgoing)
		if err != nil {
			return err
		}

		if got := graph.StringProperty(rels[0].End(), "name"); got != "B" {
			t.Errorf("relationship end sees name %q, want B", got)
		}

		if got := graph.StringProperty(b, "name"); got != "B" {
			t.Errorf("original handle sees name %q, want B", got)
		}

		return nil
	})
}

func testRelationships(t *testing.T, s graph.Store) {
	write(t, s, func(ctx context.Context, tx graph.Tx) error {
		child, err := node(ctx, tx, "child", "Element")
		if err != nil {
			return err
		}

		p1, err := node(ctx, tx, "p1", "Element")
		if err != nil {
			return err
		}

		p2, err := node(ctx, tx, "p2", "Element")
		if err != nil {
			return err
		}

		for _, step := range []struct {
			from, to graph.Node
			relType  string
		}{
			{child, p1, "PARENT"},
			{child, p2, "UPLINK"},
			{p2, child, "PARENT"},
		} {
			if _, err := tx.CreateRelationship(ctx, step.from, step.to, step.relType); err != nil {
				return err
			}
		}

		return nil
	})

	write(t, s, func(ctx context.Context, tx graph.Tx) error {
		child, err := tx.FindNode(ctx, "Element", "tag", "child")
		if err != nil {
			return err
		}

		tests := []struct {
			relType string
			dir     graph.Direction
			want    []string
		}{
			{"PARENT", graph.Outgoing, []string{"p1"}},
			{"", graph.Outgoing, []string{"p1", "p2"}},
			{"PARENT", graph.Incoming, []string{"p2"}},
			{"", graph.Both, []string{"p1", "p2", "p2"}},
			{"MISSING", graph.Both, nil},
		}

		for _, tc := range tests {
			rels, err := child.Relationships(ctx, tc.relType, tc.dir)
			if err != nil {
				return err
			}

			var got []string
			for _, r := range rels {
				got = append(got, graph.StringProperty(r.Other(child), "tag"))
			}

			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("Relationships(%q, %v) = %v, want %v", tc.relType, tc.dir, got, tc.want)
			}
		}

		rels, err := child.Relationships(ctx, "UPLINK", graph.Outgoing)
		if err != nil {
			return err
		}

		if rels[0].Type() != "UPLINK" || rels[0].Start().ID() != child.ID() {
			t.Errorf("UPLINK = %s from %s", rels[0].Type(), rels[0].Start().ID())
		}

		if err := rels[0].Delete(ctx); err != nil {
			return err
		}

		after, err := child.Relationships(ctx, "UPLINK", graph.Outgoing)
		if err != nil {
			return err
		}

		if len(after) != 0 {
			t.Errorf("%d UPLINK relationships after delete", len(after))
		}

		return nil
	})
}

func testDeleteNode(t *testing.T, s graph.Store) {
	write(t, s, func(ctx context.Context, tx graph.Tx) error {
		a, err := node(ctx, tx, "a", "Element")
		if err != nil {
			return err
		}

		b, err := node(ctx, tx, "b", "Element")
		if err != nil {
			return err
		}

		if _, err := tx.CreateRelationship(ctx, a, b, "PARENT"); err != nil {
			return err
		}

		return b.Delete(ctx)
	})

	read(t, s, func(ctx context.Context, tx graph.Tx) {
		a, err := tx.FindNode(ctx, "Element", "tag", "a")
		if err != nil {
			t.Fatalf("FindNode: %v", err)
		}

		rels, err := a.Relationships(ctx, "", graph.Both)
		if err != nil {
			t.Fatalf("Relationships: %v", err)
		}

		if len(rels) != 0 {
			t.Errorf("%d relationships survive the deleted node", len(rels))
		}

		if _, err := tx.FindNode(ctx, "Element", "tag", "b"); !graph.IsNotFound(err) {
			t.Errorf("deleted node still found: %v", err)
		}
	})
}

func testRollback(t *testing.T, s graph.Store) {
	ctx := context.Background()
	boom := errors.New("boom")

	err := graph.RunInTx(ctx, s, nil, func(tx graph.Tx) error {
		if _, err := node(ctx, tx, "a", "Element"); err != nil {
			return err
		}

		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("RunInTx = %v, want boom", err)
	}

	read(t, s, func(ctx context.Context, tx graph.Tx) {
		nodes, err := tx.FindNodes(ctx, "Element")
		if err != nil {
			t.Fatalf("FindNodes: %v", err)
		}

		if len(nodes) != 0 {
			t.Errorf("%d nodes after rollback", len(nodes))
		}
	})
}

func testClosedTx(t *testing.T, s graph.Store) {
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if _, err := tx.CreateNode(ctx, "Element"); !errors.Is(err, graph.ErrTxClosed) {
		t.Errorf("CreateNode after commit = %v, want ErrTxClosed", err)
	}

	if err := tx.Rollback(ctx); !errors.Is(err, graph.ErrTxClosed) {
		t.Errorf("Rollback after commit = %v, want ErrTxClosed", err)
	}
}

func testReadTxRejectsWrites(t *testing.T, s graph.Store) {
	ctx := context.Background()

	tx, err := s.BeginRead(ctx)
	if err != nil {
		t.Fatalf("BeginRead: %v", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // read-only.

	if _, err := tx.CreateNode(ctx, "Element"); err == nil {
		t.Error("CreateNode in a read transaction should fail")
	}
}
