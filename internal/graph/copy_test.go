package graph_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/persistorai/topograph/internal/graph"
	"github.com/persistorai/topograph/internal/graph/memgraph"
)

var copyLabels = []string{"Element", "Planet"}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)

	return log
}

func seedGraph(t *testing.T, s graph.Store) {
	t.Helper()

	ctx := context.Background()

	err := graph.RunInTx(ctx, s, nil, func(tx graph.Tx) error {
		site, err := tx.CreateNode(ctx, "Element", "cluster:site")
		if err != nil {
			return err
		}

		if err := site.SetProperty(ctx, "tag", "cluster:site=a"); err != nil {
			return err
		}

		cpe, err := tx.CreateNode(ctx, "Element", "neType:cpe")
		if err != nil {
			return err
		}

		if err := cpe.SetProperty(ctx, "tag", "neType:cpe=c1"); err != nil {
			return err
		}

		if err := cpe.SetProperty(ctx, "vlans", []any{10.0, 20.0}); err != nil {
			return err
		}

		planet, err := tx.CreateNode(ctx, "Planet")
		if err != nil {
			return err
		}

		if err := planet.SetProperty(ctx, "tag", "planet=tpl,scope=a"); err != nil {
			return err
		}

		orphan, err := tx.CreateNode(ctx, "Scratch")
		if err != nil {
			return err
		}

		for _, rel := range []struct {
			from, to graph.Node
			relType  string
		}{
			{cpe, site, "PARENT"},
			{cpe, planet, "PLANET"},
			{cpe, orphan, "UPLINK"},
		} {
			if _, err := tx.CreateRelationship(ctx, rel.from, rel.to, rel.relType); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestCopy(t *testing.T) {
	ctx := context.Background()
	src, dst := memgraph.New(), memgraph.New()
	seedGraph(t, src)

	r, err := graph.Copy(ctx, src, dst, copyLabels, false, quietLogger())
	if err != nil {
		t.Fatalf("Copy: %v", err)
	}

	if r.NodesCopied != 3 || r.NodesVerified != 3 || r.RelsCopied != 2 {
		t.Errorf("report = %+v", r)
	}

	if len(r.RelsSkipped) != 1 || r.RelsSkipped[0].Type != "UPLINK" {
		t.Errorf("skipped = %+v, want the UPLINK to the unlabelled node", r.RelsSkipped)
	}

	err = graph.RunInReadTx(ctx, dst, nil, func(tx graph.Tx) error {
		cpe, err := tx.FindNode(ctx, "neType:cpe", "tag", "neType:cpe=c1")
		if err != nil {
			return err
		}

		if _, err := tx.FindNode(ctx, "Element", "vlans", []any{10.0, 20.0}); err != nil {
			return err
		}

		rels, err := cpe.Relationships(ctx, "PARENT", graph.Outgoing)
		if err != nil {
			return err
		}

		if len(rels) != 1 || graph.StringProperty(rels[0].End(), "tag") != "cluster:site=a" {
			t.Errorf("PARENT relationship not copied: %d", len(rels))
		}

		return nil
	})
	if err != nil {
		t.Fatalf("reading copy: %v", err)
	}
}

func TestCopy_DryRun(t *testing.T) {
	src, dst := memgraph.New(), memgraph.New()
	seedGraph(t, src)

	r, err := graph.Copy(context.Background(), src, dst, copyLabels, true, quietLogger())
	if err != nil {
		t.Fatalf("Copy: %v", err)
	}

	if r.NodesRead != 3 || r.RelsRead != 3 {
		t.Errorf("read %d nodes, %d relationships", r.NodesRead, r.RelsRead)
	}

	if nodes, _ := dst.Stats(); nodes != 0 {
		t.Errorf("dry run wrote %d nodes", nodes)
	}
}

func TestCopy_RefusesNonEmptyTarget(t *testing.T) {
	src, dst := memgraph.New(), memgraph.New()
	seedGraph(t, src)
	seedGraph(t, dst)

	before, _ := dst.Stats()

	_, err := graph.Copy(context.Background(), src, dst, copyLabels, false, quietLogger())
	if !errors.Is(err, graph.ErrTargetNotEmpty) {
		t.Fatalf("expected ErrTargetNotEmpty, got %v", err)
	}

	if after, _ := dst.Stats(); after != before {
		t.Errorf("target changed from %d to %d nodes", before, after)
	}
}
