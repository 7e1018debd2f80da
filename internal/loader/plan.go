package loader

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/persistorai/topograph/internal/graph"
	"github.com/persistorai/topograph/internal/header"
	"github.com/persistorai/topograph/internal/models"
	"github.com/persistorai/topograph/internal/schema"
)

// element is one element a row identifies, resolved against the graph.
type element struct {
	key   models.ElementKey
	value string
	tag   string
	props map[string]any
	node  graph.Node
	refs  []ref
	scope schema.Scope
}

// ref is a PARENT or LINK relationship the element must hold. Exactly one of
// inRow and node is set.
type ref struct {
	relType string
	target  models.ElementKey
	inRow   *element
	node    graph.Node
}

func (r ref) targetNode() graph.Node {
	if r.inRow != nil {
		return r.inRow.node
	}

	return r.node
}

// row is a data row resolved into elements, ordered parents first.
type row struct {
	line     int
	identity map[models.ElementKey]string
	props    map[models.ElementKey]map[string]any
	elements []*element
	byKey    map[models.ElementKey]*element
}

// planner resolves rows for one batch.
type planner struct {
	schema  *schema.ManagedSchema
	headers []header.HeaderElement
	order   []models.ElementKey
	tx      graph.Tx
	opts    Options
}

// decode converts the row's cells and sorts values per element. Nothing is
// read from the graph.
func (p *planner) decode(line int, cells []string) (*row, error) {
	if len(cells) > len(p.headers) {
		return nil, models.NewRowLoadError(line, "row has %d cells, header has %d columns", len(cells), len(p.headers))
	}

	r := &row{
		line:     line,
		identity: make(map[models.ElementKey]string),
		props:    make(map[models.ElementKey]map[string]any),
		byKey:    make(map[models.ElementKey]*element),
	}

	type fanOut struct {
		h header.MultiElementHeader
		v any
	}

	var multi []fanOut

	for i, h := range p.headers {
		if i >= len(cells) {
			break
		}

		v, ok, err := h.Spec().Convert(cells[i])
		if err != nil {
			return nil, models.NewRowLoadError(line, "column %d (%s): %v", i, h, err)
		}

		if !ok {
			continue
		}

		switch h := h.(type) {
		case header.SimpleElementHeader:
			if h.Property == models.PropTag {
				id, err := identityValue(v)
				if err != nil {
					return nil, models.NewRowLoadError(line, "column %d (%s): %v", i, h, err)
				}

				r.identity[h.Element] = id

				continue
			}

			r.set(h.Element, h.Property, v)
		case header.MultiElementHeader:
			multi = append(multi, fanOut{h: h, v: v})
		default:
			panic(fmt.Sprintf("loader: unhandled header %T", h))
		}
	}

	for _, m := range multi {
		if _, ok := r.identity[m.h.SourceElement()]; !ok {
			return nil, models.NewRowLoadError(line, "column %d (%s): source element %s is not in the row",
				m.h.Index(), m.h, m.h.SourceElement())
		}

		for _, k := range m.h.Elements {
			if _, ok := r.identity[k]; ok {
				r.set(k, m.h.Property, m.v)
			}
		}
	}

	for k := range r.props {
		if _, ok := r.identity[k]; !ok {
			return nil, models.NewRowLoadError(line, "values given for %s but the row has no %s.%s", k, k, models.PropTag)
		}
	}

	if len(r.identity) == 0 {
		return nil, models.NewRowLoadError(line, "row identifies no element")
	}

	return r, nil
}

func (r *row) set(k models.ElementKey, prop string, v any) {
	if r.props[k] == nil {
		r.props[k] = make(map[string]any)
	}

	r.props[k][prop] = v
}

// resolve computes tags and looks the row's elements up in the graph. With
// refs set it also resolves PARENT and LINK targets.
func (p *planner) resolve(ctx context.Context, r *row, refs bool) error {
	for _, key := range p.order {
		value, ok := r.identity[key]
		if !ok {
			continue
		}

		tag, err := p.tagOf(r, key, value, r.props[key])
		if err != nil {
			return models.NewRowLoadError(r.line, "%v", err)
		}

		node, err := p.find(ctx, tag)
		if err != nil {
			return err
		}

		e := &element{key: key, value: value, tag: tag, props: r.props[key], node: node}
		r.elements = append(r.elements, e)
		r.byKey[key] = e
	}

	if !refs {
		return nil
	}

	for _, e := range r.elements {
		if err := p.resolveRefs(ctx, r, e); err != nil {
			return err
		}
	}

	return nil
}

func (p *planner) resolveRefs(ctx context.Context, r *row, e *element) error {
	type target struct {
		relType string
		key     models.ElementKey
		via     string
	}

	var targets []target

	for _, rel := range p.schema.ParentsOf(e.key) {
		targets = append(targets, target{relType: models.RelParent, key: rel.Parent, via: rel.ViaProperty()})
	}

	for _, rel := range p.schema.LinksFrom(e.key) {
		targets = append(targets, target{relType: rel.RelType(), key: rel.Target, via: rel.ViaProperty()})
	}

	for _, t := range targets {
		value, ok, err := referencedValue(r, e.props, t.via, t.key)
		if err != nil {
			return models.NewRowLoadError(r.line, "%s.%s: %v", e.key, t.via, err)
		}

		if !ok {
			continue
		}

		props := map[string]any(nil)
		if r.identity[t.key] == value {
			props = r.props[t.key]
		}

		tag, err := p.tagOf(r, t.key, value, props)
		if err != nil {
			return models.NewRowLoadError(r.line, "%v", err)
		}

		if other, ok := r.byKey[t.key]; ok && other.tag == tag {
			e.refs = append(e.refs, ref{relType: t.relType, target: t.key, inRow: other})
			continue
		}

		node, err := p.find(ctx, tag)
		if err != nil {
			return err
		}

		if node == nil {
			return models.NewRowLoadError(r.line, "%s references %s %q which does not exist", e.key, t.key, value)
		}

		e.refs = append(e.refs, ref{relType: t.relType, target: t.key, node: node})
	}

	return nil
}

// tagOf builds the tag of an element of key identified by value. Identifying
// parents contribute their values, taken from props or from the row.
func (p *planner) tagOf(r *row, key models.ElementKey, value string, props map[string]any) (string, error) {
	values := make(map[string]string)
	if err := p.identify(r, key, value, props, values); err != nil {
		return "", err
	}

	return models.NewTag(values, p.schema.TagRank()).String(), nil
}

func (p *planner) identify(r *row, key models.ElementKey, value string, props map[string]any, values map[string]string) error {
	values[string(key)] = value

	for _, rel := range p.schema.ParentsOf(key) {
		if !rel.Identifying {
			continue
		}

		pv, ok, err := referencedValue(r, props, rel.ViaProperty(), rel.Parent)
		if err != nil {
			return fmt.Errorf("%s.%s: %w", key, rel.ViaProperty(), err)
		}

		if !ok {
			return fmt.Errorf("%s %q needs its identifying parent %s", key, value, rel.Parent)
		}

		var parentProps map[string]any
		if r.identity[rel.Parent] == pv {
			parentProps = r.props[rel.Parent]
		}

		if err := p.identify(r, rel.Parent, pv, parentProps, values); err != nil {
			return err
		}
	}

	return nil
}

// referencedValue finds the identity of a referenced element: the via
// property of the referencing element first, else the referenced element's
// own tag column.
func referencedValue(r *row, props map[string]any, via string, target models.ElementKey) (string, bool, error) {
	if v, ok := props[via]; ok {
		id, err := identityValue(v)
		if err != nil {
			return "", false, err
		}

		return id, true, nil
	}

	id, ok := r.identity[target]

	return id, ok, nil
}

func (p *planner) find(ctx context.Context, tag string) (graph.Node, error) {
	node, err := p.tx.FindNode(ctx, models.LabelElement, models.PropTag, tag)
	if errors.Is(err, graph.ErrNotFound) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("finding element %s: %w", tag, err)
	}

	return node, nil
}

// scopes assigns every element of the row its scope: clusters are their own
// scope, other elements inherit the scope of their first parent that has one.
func (p *planner) scopes(r *row) error {
	for _, e := range r.elements {
		scope, ok := p.scopeOf(e)
		if !ok {
			if p.opts.DefaultScope.Tag == "" {
				err := &models.ScopeResolutionError{ElementType: string(e.key), Reason: "no cluster ancestor and no default scope"}
				return models.NewRowLoadError(r.line, "%s %q: %v", e.key, e.value, err)
			}

			scope = p.opts.DefaultScope
		}

		if _, err := p.schema.PlanetFor(e.key, scope); err != nil {
			return models.NewRowLoadError(r.line, "%s %q: %v", e.key, e.value, err)
		}

		e.scope = scope
	}

	return nil
}

func (p *planner) scopeOf(e *element) (schema.Scope, bool) {
	if e.key.IsCluster() {
		name := e.value
		if n, ok := e.props[models.PropName].(string); ok && n != "" {
			name = n
		}

		return schema.Scope{Tag: e.value, Name: name}, true
	}

	for _, ref := range e.refs {
		if ref.relType != models.RelParent {
			continue
		}

		if ref.inRow != nil {
			if scope := ref.inRow.scope; scope.Tag != "" {
				return scope, true
			}

			continue
		}

		if tag := graph.StringProperty(ref.node, models.PropScope); tag != "" {
			return schema.Scope{Tag: tag, Name: tag}, true
		}
	}

	if e.node != nil {
		if tag := graph.StringProperty(e.node, models.PropScope); tag != "" {
			return schema.Scope{Tag: tag, Name: tag}, true
		}
	}

	return schema.Scope{}, false
}

// identityValue renders a converted cell as an element identity.
func identityValue(v any) (string, error) {
	var s string

	switch v := v.(type) {
	case string:
		s = v
	case float64:
		s = strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		s = strconv.FormatBool(v)
	default:
		return "", fmt.Errorf("identity must be a scalar, got %T", v)
	}

	if !models.ValidTagValue(s) {
		return "", fmt.Errorf("invalid identity %q", s)
	}

	return s, nil
}
