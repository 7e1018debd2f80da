// Package service wires the topology engine to a graph store: it owns the
// current schema snapshot and runs load batches, export passes and schema
// updates against it.
package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/persistorai/topograph/internal/graph"
	"github.com/persistorai/topograph/internal/header"
	"github.com/persistorai/topograph/internal/lineage"
	"github.com/persistorai/topograph/internal/loader"
	"github.com/persistorai/topograph/internal/metrics"
	"github.com/persistorai/topograph/internal/schema"
)

// maxConcurrentExports bounds the read transactions ExportSnapshots holds open.
const maxConcurrentExports = 4

// TopologyService runs loads, exports and schema updates.
type TopologyService struct {
	store  graph.Store
	log    *logrus.Logger
	schema atomic.Pointer[schema.ManagedSchema]
	// updateMu serialises schema updates; readers never take it.
	updateMu sync.Mutex
}

// NewTopologyService creates a TopologyService publishing s as the current schema.
func NewTopologyService(store graph.Store, s *schema.ManagedSchema, log *logrus.Logger) *TopologyService {
	svc := &TopologyService{store: store, log: log}
	svc.publish(s)

	return svc
}

// Schema returns the current schema snapshot.
func (s *TopologyService) Schema() *schema.ManagedSchema {
	return s.schema.Load()
}

func (s *TopologyService) publish(ms *schema.ManagedSchema) {
	s.schema.Store(ms)
	metrics.SchemaVersion.Set(float64(ms.Version()))
}

// LoadBatch parses headerTokens and applies rows in one transaction. Row
// errors are reported in the result; the transaction is rolled back only
// when the batch itself fails.
func (s *TopologyService) LoadBatch(
	ctx context.Context, headerTokens []string, rows [][]string, opts loader.Options,
) (*loader.LoadResult, error) {
	headers, err := header.ParseHeaders(headerTokens)
	if err != nil {
		return nil, err
	}

	ld := loader.New(s.Schema(), s.log)

	if err := ld.ValidateHeaders(headers); err != nil {
		return nil, err
	}

	var result *loader.LoadResult

	err = graph.RunInTx(ctx, s.store, s.log, func(tx graph.Tx) error {
		var err error
		result, err = ld.Load(ctx, tx, headers, rows, opts)

		return err
	})
	if err != nil {
		return nil, fmt.Errorf("loading batch: %w", err)
	}

	return result, nil
}

// ExportSnapshot runs one export pass in a read transaction.
func (s *TopologyService) ExportSnapshot(
	ctx context.Context, ordering lineage.Ordering, leaf lineage.LeafPredicate,
) (*lineage.Snapshot, error) {
	var snap *lineage.Snapshot

	err := graph.RunInReadTx(ctx, s.store, s.log, func(tx graph.Tx) error {
		var err error
		snap, err = lineage.NewExporter(s.log).Export(ctx, tx, lineage.Request{Ordering: ordering, Leaf: leaf})

		return err
	})
	if err != nil {
		return nil, fmt.Errorf("exporting snapshot: %w", err)
	}

	return snap, nil
}

// ExportSnapshots runs the requested passes concurrently, each in its own
// read transaction. Results are returned in request order; the first failure
// cancels the remaining passes.
func (s *TopologyService) ExportSnapshots(ctx context.Context, reqs []lineage.Request) ([]*lineage.Snapshot, error) {
	snaps := make([]*lineage.Snapshot, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentExports)

	for i, req := range reqs {
		g.Go(func() error {
			snap, err := s.ExportSnapshot(gctx, req.Ordering, req.Leaf)
			if err != nil {
				return fmt.Errorf("export pass %d: %w", i, err)
			}

			snaps[i] = snap

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return snaps, nil
}

// ApplySchemaUpdate applies cmd to the current schema and publishes the
// result. On error the current schema stays in place.
func (s *TopologyService) ApplySchemaUpdate(ctx context.Context, cmd schema.SchemaUpdate) (*schema.ManagedSchema, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	current := s.schema.Load()

	next, err := schema.Apply(current, cmd)
	if err != nil {
		metrics.ErrorsTotal.WithLabelValues("schema_update").Inc()

		return nil, fmt.Errorf("applying %q: %w", schema.Describe(cmd), err)
	}

	if !s.schema.CompareAndSwap(current, next) {
		return nil, fmt.Errorf("schema changed while applying %q", schema.Describe(cmd))
	}

	metrics.SchemaVersion.Set(float64(next.Version()))

	s.log.WithFields(logrus.Fields{
		"update":  schema.Describe(cmd),
		"version": next.Version(),
	}).Info("schema update applied")

	return next, nil
}
