// Package loader applies batches of typed tabular rows to the topology
// graph: it upserts the elements each row identifies, maintains their
// PARENT and LINK relationships and planet membership, and deletes elements
// in dependency order.
package loader

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/persistorai/topograph/internal/graph"
	"github.com/persistorai/topograph/internal/header"
	"github.com/persistorai/topograph/internal/metrics"
	"github.com/persistorai/topograph/internal/models"
	"github.com/persistorai/topograph/internal/schema"
	"github.com/persistorai/topograph/internal/slider"
)

// FirstDataLine is the line number of the first data row; line 1 holds the
// header.
const FirstDataLine = 2

// Options controls a batch.
type Options struct {
	// Delete removes the elements rows identify instead of upserting them.
	Delete bool
	// AbortOnError fails the whole batch on the first row error.
	AbortOnError bool
	// Actor is recorded in the createdBy/updatedBy audit properties.
	Actor string
	// DefaultScope applies to elements without a cluster ancestor.
	DefaultScope schema.Scope
}

// LoadResult summarises a batch.
type LoadResult struct {
	// ImportedElementsByScope counts upserted elements per scope tag.
	ImportedElementsByScope map[string]int
	// ErrorLines maps the line of each failed row to the reason.
	ErrorLines map[int]string
	// Deleted counts elements removed in delete mode.
	Deleted int
}

func newResult() *LoadResult {
	return &LoadResult{
		ImportedElementsByScope: make(map[string]int),
		ErrorLines:              make(map[int]string),
	}
}

// Imported returns the total number of upserted elements.
func (r *LoadResult) Imported() int {
	n := 0
	for _, c := range r.ImportedElementsByScope {
		n += c
	}

	return n
}

// Loader applies batches against one schema snapshot.
type Loader struct {
	schema *schema.ManagedSchema
	slider *slider.Slider
	log    *logrus.Logger
	now    func() time.Time
}

// New creates a Loader for s.
func New(s *schema.ManagedSchema, log *logrus.Logger) *Loader {
	return &Loader{schema: s, slider: slider.New(s, log), log: log, now: time.Now}
}

// ValidateHeaders checks that every column names a declared element type and
// that every element type a column writes to has a tag column.
func (l *Loader) ValidateHeaders(headers []header.HeaderElement) error {
	tagged := make(map[models.ElementKey]bool)

	for _, h := range headers {
		if s, ok := h.(header.SimpleElementHeader); ok && s.Property == models.PropTag {
			tagged[s.Element] = true
		}
	}

	for _, h := range headers {
		prop := h.Spec().Property

		if _, multi := h.(header.MultiElementHeader); multi && prop == models.PropTag {
			return &models.HeaderParseError{Column: h.Index(), Token: h.String(), Reason: "tag columns name a single element type"}
		}

		if !models.IsExportedProperty(prop) {
			return &models.HeaderParseError{Column: h.Index(), Token: h.String(), Reason: fmt.Sprintf("property %s is maintained by the loader", prop)}
		}

		for _, k := range h.Keys() {
			if !l.schema.HasElementType(k) {
				return &models.HeaderParseError{Column: h.Index(), Token: h.String(), Reason: fmt.Sprintf("element type %s is not declared", k)}
			}
		}

		if m, ok := h.(header.MultiElementHeader); ok && !tagged[m.SourceElement()] {
			return &models.HeaderParseError{Column: h.Index(), Token: h.String(), Reason: fmt.Sprintf("no %s.%s column", m.SourceElement(), models.PropTag)}
		}

		if s, ok := h.(header.SimpleElementHeader); ok && !tagged[s.Element] {
			return &models.HeaderParseError{Column: h.Index(), Token: h.String(), Reason: fmt.Sprintf("no %s.%s column", s.Element, models.PropTag)}
		}
	}

	return nil
}

// Load applies rows inside tx. Row errors are collected in the result unless
// opts.AbortOnError is set, in which case the first one is returned and the
// caller must roll tx back. Graph errors are always returned.
func (l *Loader) Load(ctx context.Context, tx graph.Tx, headers []header.HeaderElement, rows [][]string, opts Options) (*LoadResult, error) {
	mode := "load"
	if opts.Delete {
		mode = "delete"
	}

	start := time.Now()
	defer func() { metrics.BatchDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds()) }()

	if err := l.ValidateHeaders(headers); err != nil {
		return nil, err
	}

	order, err := InsertionOrder(l.schema, HeaderKeys(headers))
	if err != nil {
		return nil, err
	}

	p := &planner{schema: l.schema, headers: headers, order: order, tx: tx, opts: opts}
	result := newResult()

	if opts.Delete {
		err = l.delete(ctx, p, rows, result)
	} else {
		err = l.upsert(ctx, p, rows, result)
	}

	if err != nil {
		return nil, err
	}

	l.log.WithFields(logrus.Fields{
		"mode":     mode,
		"rows":     len(rows),
		"failed":   len(result.ErrorLines),
		"imported": result.Imported(),
		"deleted":  result.Deleted,
	}).Info("batch applied")

	return result, nil
}

// rowFailed records err against its line. It returns err when the batch must
// stop: on graph errors, or on any row error with AbortOnError.
func (l *Loader) rowFailed(p *planner, result *LoadResult, mode string, line int, err error) error {
	var rowErr *models.RowLoadError
	if !errors.As(err, &rowErr) {
		return err
	}

	metrics.RowsTotal.WithLabelValues(mode, "failed").Inc()

	if p.opts.AbortOnError {
		return err
	}

	result.ErrorLines[line] = rowErr.Reason
	l.log.WithFields(logrus.Fields{"line": line, "reason": rowErr.Reason}).Debug("row rejected")

	return nil
}

func (l *Loader) upsert(ctx context.Context, p *planner, rows [][]string, result *LoadResult) error {
	for i, cells := range rows {
		line := FirstDataLine + i

		r, err := p.decode(line, cells)
		if err == nil {
			err = p.resolve(ctx, r, true)
		}

		if err == nil {
			err = p.scopes(r)
		}

		if err != nil {
			if err := l.rowFailed(p, result, "load", line, err); err != nil {
				return err
			}

			continue
		}

		if err := l.write(ctx, p.tx, r, p.opts); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}

		for _, e := range r.elements {
			result.ImportedElementsByScope[e.scope.Tag]++
		}

		metrics.RowsTotal.WithLabelValues("load", "ok").Inc()
	}

	return nil
}

// write applies a resolved row. Every check that can fail the row has
// already passed, so errors here come from the graph store.
func (l *Loader) write(ctx context.Context, tx graph.Tx, r *row, opts Options) error {
	now := l.now().UTC().Format(time.RFC3339Nano)

	for _, e := range r.elements {
		op := "update"

		if e.node == nil {
			op = "create"

			node, err := tx.CreateNode(ctx, models.LabelElement, string(e.key))
			if err != nil {
				return fmt.Errorf("creating %s: %w", e.tag, err)
			}

			e.node = node

			if err := setAll(ctx, node, map[string]any{
				models.PropTag:         e.tag,
				models.PropElementType: string(e.key),
				models.PropCreatedAt:   now,
				models.PropCreatedBy:   opts.Actor,
			}); err != nil {
				return err
			}
		}

		if err := setAll(ctx, e.node, e.props); err != nil {
			return err
		}

		if err := setAll(ctx, e.node, map[string]any{
			models.PropUpdatedAt: now,
			models.PropUpdatedBy: opts.Actor,
		}); err != nil {
			return err
		}

		for _, ref := range e.refs {
			if err := ensureSingle(ctx, tx, e.node, ref); err != nil {
				return err
			}
		}

		metrics.ElementsUpserted.WithLabelValues(string(e.key), op).Inc()
	}

	for _, e := range r.elements {
		previous := graph.StringProperty(e.node, models.PropScope)

		if _, _, err := l.slider.Slide(ctx, tx, e.node, e.scope); err != nil {
			return err
		}

		if previous != "" && previous != e.scope.Tag {
			if err := l.cascade(ctx, tx, e.node); err != nil {
				return err
			}
		}
	}

	return nil
}

func setAll(ctx context.Context, n graph.Node, props map[string]any) error {
	for k, v := range props {
		if err := n.SetProperty(ctx, k, v); err != nil {
			return fmt.Errorf("setting %s: %w", k, err)
		}
	}

	return nil
}

// ensureSingle leaves exactly one relationship of ref's type from n to a
// node of ref's target type, pointing at ref's target.
func ensureSingle(ctx context.Context, tx graph.Tx, n graph.Node, ref ref) error {
	target := ref.targetNode()

	rels, err := n.Relationships(ctx, ref.relType, graph.Outgoing)
	if err != nil {
		return fmt.Errorf("reading %s relationships: %w", ref.relType, err)
	}

	kept := false

	for _, rel := range rels {
		end := rel.End()
		if graph.StringProperty(end, models.PropElementType) != string(ref.target) {
			continue
		}

		if end.ID() == target.ID() && !kept {
			kept = true
			continue
		}

		if err := rel.Delete(ctx); err != nil {
			return fmt.Errorf("deleting %s relationship: %w", ref.relType, err)
		}
	}

	if kept {
		return nil
	}

	if _, err := tx.CreateRelationship(ctx, n, target, ref.relType); err != nil {
		return fmt.Errorf("creating %s relationship: %w", ref.relType, err)
	}

	return nil
}

// cascade re-slides the descendants of n whose scope is inherited from it.
func (l *Loader) cascade(ctx context.Context, tx graph.Tx, n graph.Node) error {
	queue := []graph.Node{n}
	seen := map[string]bool{n.ID(): true}

	for len(queue) > 0 {
		parent := queue[0]
		queue = queue[1:]

		rels, err := parent.Relationships(ctx, models.RelParent, graph.Incoming)
		if err != nil {
			return fmt.Errorf("reading children: %w", err)
		}

		for _, rel := range rels {
			child := rel.Start()
			if seen[child.ID()] {
				continue
			}

			seen[child.ID()] = true

			key := models.ElementKey(graph.StringProperty(child, models.PropElementType))
			if key.IsCluster() {
				continue
			}

			scope, ok, err := l.inheritedScope(ctx, child, key)
			if err != nil {
				return err
			}

			if !ok || scope.Tag == graph.StringProperty(child, models.PropScope) {
				continue
			}

			if _, _, err := l.slider.Slide(ctx, tx, child, scope); err != nil {
				return err
			}

			queue = append(queue, child)
		}
	}

	return nil
}

// inheritedScope returns the scope of n's first parent, in schema order,
// that has one.
func (l *Loader) inheritedScope(ctx context.Context, n graph.Node, key models.ElementKey) (schema.Scope, bool, error) {
	rels, err := n.Relationships(ctx, models.RelParent, graph.Outgoing)
	if err != nil {
		return schema.Scope{}, false, fmt.Errorf("reading parents: %w", err)
	}

	for _, decl := range l.schema.ParentsOf(key) {
		for _, rel := range rels {
			parent := rel.End()
			if graph.StringProperty(parent, models.PropElementType) != string(decl.Parent) {
				continue
			}

			if tag := graph.StringProperty(parent, models.PropScope); tag != "" {
				return schema.Scope{Tag: tag, Name: tag}, true, nil
			}
		}
	}

	return schema.Scope{}, false, nil
}

func (l *Loader) delete(ctx context.Context, p *planner, rows [][]string, result *LoadResult) error {
	var planned []*row

	for i, cells := range rows {
		line := FirstDataLine + i

		r, err := p.decode(line, cells)
		if err == nil {
			err = p.resolve(ctx, r, false)
		}

		if err == nil {
			err = missing(r)
		}

		if err != nil {
			if err := l.rowFailed(p, result, "delete", line, err); err != nil {
				return err
			}

			continue
		}

		planned = append(planned, r)
	}

	planned, err := l.pruneReferenced(ctx, p, planned, result)
	if err != nil {
		return err
	}

	deletion, err := DeletionOrder(l.schema, p.order)
	if err != nil {
		return err
	}

	deleted := make(map[string]bool)

	for _, key := range deletion {
		for _, r := range planned {
			e, ok := r.byKey[key]
			if !ok || deleted[e.node.ID()] {
				continue
			}

			deleted[e.node.ID()] = true

			if err := l.slider.Detach(ctx, e.node); err != nil {
				return fmt.Errorf("line %d: %w", r.line, err)
			}

			if err := e.node.Delete(ctx); err != nil {
				return fmt.Errorf("line %d: deleting %s: %w", r.line, e.tag, err)
			}

			result.Deleted++
			metrics.ElementsDeleted.WithLabelValues(string(key)).Inc()
		}
	}

	metrics.RowsTotal.WithLabelValues("delete", "ok").Add(float64(len(planned)))

	return nil
}

func missing(r *row) error {
	for _, e := range r.elements {
		if e.node == nil {
			return models.NewRowLoadError(r.line, "%s %q does not exist", e.key, e.value)
		}
	}

	return nil
}

// pruneReferenced drops rows whose elements are still parents or link
// targets of elements outside the deletion set. Dropping a row shrinks the set, so it repeats
// until nothing changes.
func (l *Loader) pruneReferenced(ctx context.Context, p *planner, planned []*row, result *LoadResult) ([]*row, error) {
	for {
		doomed := make(map[string]bool)

		for _, r := range planned {
			for _, e := range r.elements {
				doomed[e.node.ID()] = true
			}
		}

		kept := planned[:0]
		changed := false

		for _, r := range planned {
			err := referenced(ctx, l.schema, r, doomed)

			var rowErr *models.RowLoadError
			if err != nil && !errors.As(err, &rowErr) {
				return nil, err
			}

			if err == nil {
				kept = append(kept, r)
				continue
			}

			changed = true

			if err := l.rowFailed(p, result, "delete", r.line, err); err != nil {
				return nil, err
			}
		}

		planned = kept

		if !changed {
			return planned, nil
		}
	}
}

// referenced fails the row when one of its elements is the end of a PARENT
// relationship, or of a LINK relationship its schema declares, whose start
// survives the batch.
func referenced(ctx context.Context, s *schema.ManagedSchema, r *row, doomed map[string]bool) error {
	for _, e := range r.elements {
		relTypes := []string{models.RelParent}

		for _, rel := range s.Relationships() {
			if link, ok := rel.(schema.LinkRelationship); ok && link.Target == e.key && !slices.Contains(relTypes, link.RelType()) {
				relTypes = append(relTypes, link.RelType())
			}
		}

		for _, relType := range relTypes {
			rels, err := e.node.Relationships(ctx, relType, graph.Incoming)
			if err != nil {
				return fmt.Errorf("reading %s references to %s: %w", relType, e.tag, err)
			}

			for _, rel := range rels {
				start := rel.Start()
				if !doomed[start.ID()] {
					return models.NewRowLoadError(r.line, "%s %q is still referenced by %s",
						e.key, e.value, graph.StringProperty(start, models.PropTag))
				}
			}
		}
	}

	return nil
}
