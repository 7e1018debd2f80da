package lineage

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/persistorai/topograph/internal/graph"
	"github.com/persistorai/topograph/internal/header"
	"github.com/persistorai/topograph/internal/metrics"
	"github.com/persistorai/topograph/internal/models"
)

// LeafPredicate selects the elements lineages start from.
type LeafPredicate func(ctx context.Context, n graph.Node) (bool, error)

// IsLeaf selects elements no other element names as its parent.
func IsLeaf(ctx context.Context, n graph.Node) (bool, error) {
	rels, err := n.Relationships(ctx, models.RelParent, graph.Incoming)
	if err != nil {
		return false, err
	}

	return len(rels) == 0, nil
}

// OfType selects elements of key.
func OfType(key models.ElementKey) LeafPredicate {
	return func(_ context.Context, n graph.Node) (bool, error) {
		return graph.StringProperty(n, models.PropElementType) == string(key), nil
	}
}

// Request describes one export pass.
type Request struct {
	Ordering Ordering
	// Leaf selects leaves; nil means IsLeaf.
	Leaf LeafPredicate
}

// Snapshot is the tabular result of an export pass. Columns are header
// tokens the loader accepts, so a snapshot can be loaded back.
type Snapshot struct {
	Columns  []string
	Rows     [][]string
	Types    map[models.ElementKey]map[string]string
	Lineages []Lineage
}

// Exporter runs export passes.
type Exporter struct {
	log *logrus.Logger
}

// NewExporter creates an Exporter.
func NewExporter(log *logrus.Logger) *Exporter {
	return &Exporter{log: log}
}

// pass holds the state of one export run. It is never shared.
type pass struct {
	ctx context.Context
	// dejaVu caches the ancestor lineage of every node already walked, by tag.
	dejaVu map[string]Lineage
	types  map[models.ElementKey]map[string]string
}

// Export builds a snapshot from the elements visible in tx.
func (e *Exporter) Export(ctx context.Context, tx graph.Tx, req Request) (*Snapshot, error) {
	start := time.Now()
	defer func() { metrics.ExportDuration.Observe(time.Since(start).Seconds()) }()

	leaf := req.Leaf
	if leaf == nil {
		leaf = IsLeaf
	}

	nodes, err := tx.FindNodes(ctx, models.LabelElement)
	if err != nil {
		return nil, fmt.Errorf("listing elements: %w", err)
	}

	p := &pass{
		ctx:    ctx,
		dejaVu: make(map[string]Lineage),
		types:  make(map[models.ElementKey]map[string]string),
	}

	set := NewSet(req.Ordering)

	for _, n := range nodes {
		ok, err := leaf(ctx, n)
		if err != nil {
			return nil, fmt.Errorf("evaluating leaf predicate: %w", err)
		}

		if !ok {
			continue
		}

		l, err := p.walk(n)
		if err != nil {
			return nil, err
		}

		set.Add(l)
	}

	snap := p.snapshot(req.Ordering, set.Items())

	metrics.ExportLineages.Set(float64(len(snap.Lineages)))
	e.log.WithFields(logrus.Fields{
		"elements": len(nodes),
		"lineages": len(snap.Lineages),
		"columns":  len(snap.Columns),
	}).Debug("export pass complete")

	return snap, nil
}

// walk returns the lineage of n: n itself plus the first node of each type
// found going up PARENT relationships.
func (p *pass) walk(n graph.Node) (Lineage, error) {
	tag := graph.StringProperty(n, models.PropTag)
	if l, ok := p.dejaVu[tag]; ok {
		if l == nil {
			return nil, fmt.Errorf("parent cycle through %s", tag)
		}

		return l, nil
	}

	p.dejaVu[tag] = nil

	key := models.ElementKey(graph.StringProperty(n, models.PropElementType))
	p.collect(key, n)

	l := Lineage{key: n}

	rels, err := n.Relationships(p.ctx, models.RelParent, graph.Outgoing)
	if err != nil {
		return nil, fmt.Errorf("reading parents of %s: %w", tag, err)
	}

	for _, rel := range rels {
		up, err := p.walk(rel.End())
		if err != nil {
			return nil, err
		}

		for k, v := range up {
			if _, ok := l[k]; !ok {
				l[k] = v
			}
		}
	}

	p.dejaVu[tag] = l

	return l, nil
}

// collect records the inferred type of every exported property of n.
func (p *pass) collect(key models.ElementKey, n graph.Node) {
	types := p.types[key]
	if types == nil {
		types = map[string]string{models.PropTag: models.TypeString.String()}
		p.types[key] = types
	}

	for name, v := range n.Properties() {
		if name == models.PropTag || !models.IsExportedProperty(name) {
			continue
		}

		t := models.InferType(v)

		prev, seen := types[name]

		switch {
		case !seen:
			types[name] = t
		case prev != t:
			types[name] = widen(prev, t)
		}
	}
}

// widen resolves conflicting inferred types to STRING, keeping the array
// marker when both sides are arrays.
func widen(a, b string) string {
	if strings.HasSuffix(a, models.ArraySuffix) && strings.HasSuffix(b, models.ArraySuffix) {
		return models.TypeString.String() + models.ArraySuffix
	}

	return models.TypeString.String()
}

type column struct {
	key      models.ElementKey
	property string
}

func (p *pass) snapshot(o Ordering, lineages []Lineage) *Snapshot {
	keys := make([]models.ElementKey, 0, len(p.types))

	for _, k := range o {
		if _, ok := p.types[k]; ok {
			keys = append(keys, k)
		}
	}

	var rest []models.ElementKey

	for k := range p.types {
		if !slices.Contains(o, k) {
			rest = append(rest, k)
		}
	}

	slices.Sort(rest)
	keys = append(keys, rest...)

	snap := &Snapshot{Types: p.types, Lineages: lineages}

	var cols []column

	for _, k := range keys {
		props := make([]string, 0, len(p.types[k]))
		for name := range p.types[k] {
			props = append(props, name)
		}

		models.SortProperties(props)

		for _, name := range props {
			cols = append(cols, column{key: k, property: name})
			snap.Columns = append(snap.Columns, header.Token(k, name, p.types[k][name]))
		}
	}

	for _, l := range lineages {
		row := make([]string, len(cols))

		for i, c := range cols {
			n, ok := l[c.key]
			if !ok {
				continue
			}

			if c.property == models.PropTag {
				row[i] = identity(n, c.key)
				continue
			}

			if v, ok := n.Property(c.property); ok {
				row[i] = FormatValue(v)
			}
		}

		snap.Rows = append(snap.Rows, row)
	}

	return snap
}

// identity returns the value the element was loaded with: its own component
// of the tag.
func identity(n graph.Node, key models.ElementKey) string {
	raw := graph.StringProperty(n, models.PropTag)

	tag, err := models.ParseTag(raw)
	if err != nil {
		return raw
	}

	if v, ok := tag.Get(string(key)); ok {
		return v
	}

	return raw
}

// FormatValue renders a property value as a cell the header parser converts
// back to the same value.
func FormatValue(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case []any:
		items := make([]string, len(v))
		for i, item := range v {
			items[i] = FormatValue(item)
		}

		return strings.Join(items, header.ArraySeparator)
	case nil:
		return ""
	}

	return fmt.Sprint(v)
}
