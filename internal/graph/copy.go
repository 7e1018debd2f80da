package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// ErrTargetNotEmpty is returned by Copy when the target already holds nodes.
var ErrTargetNotEmpty = errors.New("target graph is not empty")

// SkippedRelationship records a relationship Copy could not carry over.
type SkippedRelationship struct {
	Type   string
	Start  string
	End    string
	Reason string
}

// CopyReport summarises a Copy run.
type CopyReport struct {
	NodesRead     int
	NodesCopied   int
	NodesVerified int
	RelsRead      int
	RelsCopied    int
	RelsSkipped   []SkippedRelationship
	DryRun        bool
}

// Copy replicates every node carrying one of labels, with its properties and
// outgoing relationships, from src into the empty graph dst. The whole copy
// is one dst transaction. Relationships to nodes outside labels are skipped.
// With dryRun nothing is written.
func Copy(ctx context.Context, src, dst Store, labels []string, dryRun bool, log *logrus.Logger) (CopyReport, error) {
	r := CopyReport{DryRun: dryRun}

	var (
		nodes []Node
		rels  []Relationship
	)

	readErr := RunInReadTx(ctx, src, log, func(tx Tx) error {
		var err error

		nodes, err = collectNodes(ctx, tx, labels)
		if err != nil {
			return err
		}

		for _, n := range nodes {
			out, err := n.Relationships(ctx, "", Outgoing)
			if err != nil {
				return fmt.Errorf("reading relationships: %w", err)
			}

			rels = append(rels, out...)
		}

		r.NodesRead, r.RelsRead = len(nodes), len(rels)

		log.WithFields(logrus.Fields{"nodes": r.NodesRead, "relationships": r.RelsRead}).Info("read source graph")

		if dryRun {
			return nil
		}

		// Handles are only valid inside the source transaction, so the target
		// transaction runs nested in it.
		return RunInTx(ctx, dst, log, func(out Tx) error {
			return copyInto(ctx, out, nodes, rels, labels, &r)
		})
	})
	if readErr != nil {
		return r, fmt.Errorf("copying graph: %w", readErr)
	}

	if !dryRun {
		log.WithFields(logrus.Fields{
			"nodes":         r.NodesCopied,
			"relationships": r.RelsCopied,
			"skipped":       len(r.RelsSkipped),
		}).Info("graph copied")
	}

	return r, nil
}

func copyInto(ctx context.Context, tx Tx, nodes []Node, rels []Relationship, labels []string, r *CopyReport) error {
	existing, err := collectNodes(ctx, tx, labels)
	if err != nil {
		return err
	}

	if len(existing) > 0 {
		return fmt.Errorf("%w: %d nodes", ErrTargetNotEmpty, len(existing))
	}

	created := make(map[string]Node, len(nodes))

	for _, n := range nodes {
		c, err := tx.CreateNode(ctx, n.Labels()...)
		if err != nil {
			return fmt.Errorf("creating node: %w", err)
		}

		for k, v := range n.Properties() {
			if err := c.SetProperty(ctx, k, v); err != nil {
				return fmt.Errorf("setting %s: %w", k, err)
			}
		}

		created[n.ID()] = c
		r.NodesCopied++
	}

	for _, rel := range rels {
		from, okFrom := created[rel.Start().ID()]
		to, okTo := created[rel.End().ID()]

		if !okFrom || !okTo {
			r.RelsSkipped = append(r.RelsSkipped, SkippedRelationship{
				Type:   rel.Type(),
				Start:  StringProperty(rel.Start(), "tag"),
				End:    StringProperty(rel.End(), "tag"),
				Reason: "endpoint not copied",
			})

			continue
		}

		if _, err := tx.CreateRelationship(ctx, from, to, rel.Type()); err != nil {
			return fmt.Errorf("creating %s relationship: %w", rel.Type(), err)
		}

		r.RelsCopied++
	}

	copied, err := collectNodes(ctx, tx, labels)
	if err != nil {
		return err
	}

	r.NodesVerified = len(copied)
	if r.NodesVerified != r.NodesCopied {
		return fmt.Errorf("verification: %d nodes in target, %d copied", r.NodesVerified, r.NodesCopied)
	}

	return nil
}

// collectNodes lists the nodes carrying any of labels once each, in the
// order the labels are given.
func collectNodes(ctx context.Context, tx Tx, labels []string) ([]Node, error) {
	var out []Node

	seen := make(map[string]bool)

	for _, label := range labels {
		nodes, err := tx.FindNodes(ctx, label)
		if err != nil {
			return nil, fmt.Errorf("listing %s nodes: %w", label, err)
		}

		for _, n := range nodes {
			if !seen[n.ID()] {
				seen[n.ID()] = true
				out = append(out, n)
			}
		}
	}

	return out, nil
}
