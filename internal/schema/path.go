package schema

import (
	"slices"
	"strings"

	"github.com/persistorai/topograph/internal/models"
)

// MemdexPath is one level of a realm's template tree. A node owns its
// children; trees are never mutated after construction.
type MemdexPath struct {
	segment    string
	template   string
	attributes []models.ElementKey
	counters   []string
	children   []*MemdexPath
}

// NewMemdexPath validates attributes and builds a path node. Exactly one
// attribute must be a network-element key.
func NewMemdexPath(segment, template string, attributes []string, counters []string, children []*MemdexPath) (*MemdexPath, error) {
	if segment == "" {
		return nil, models.NewSchemaTemplateError(template, "segment name is required")
	}

	if template == "" {
		return nil, models.NewSchemaTemplateError(segment, "template identifier is required")
	}

	keys := make([]models.ElementKey, 0, len(attributes))
	networkElements := 0

	for _, a := range attributes {
		k, err := models.ParseElementKey(a)
		if err != nil {
			return nil, models.NewSchemaTemplateError(segment, "%v", err)
		}

		if slices.Contains(keys, k) {
			return nil, models.NewSchemaTemplateError(segment, "duplicate attribute %s", k)
		}

		if k.IsNetworkElement() {
			networkElements++
		}

		keys = append(keys, k)
	}

	if networkElements != 1 {
		return nil, models.NewSchemaTemplateError(segment,
			"attributes %v must contain exactly one %s key, found %d",
			attributes, models.CategoryNetworkElement, networkElements)
	}

	seen := make(map[string]bool, len(children))
	for _, c := range children {
		if seen[c.segment] {
			return nil, models.NewSchemaTemplateError(segment, "duplicate child segment %q", c.segment)
		}

		seen[c.segment] = true
	}

	return &MemdexPath{
		segment:    segment,
		template:   template,
		attributes: keys,
		counters:   slices.Clone(counters),
		children:   slices.Clone(children),
	}, nil
}

// Segment returns the node's path segment name.
func (p *MemdexPath) Segment() string { return p.segment }

// Template returns the template identifier.
func (p *MemdexPath) Template() string { return p.template }

// Attributes returns a copy of the attribute keys in declaration order.
func (p *MemdexPath) Attributes() []models.ElementKey { return slices.Clone(p.attributes) }

// Counters returns a copy of the counter identifiers attached to the node.
func (p *MemdexPath) Counters() []string { return slices.Clone(p.counters) }

// Children returns the child nodes.
func (p *MemdexPath) Children() []*MemdexPath { return slices.Clone(p.children) }

// ElementType returns the single network-element attribute.
func (p *MemdexPath) ElementType() models.ElementKey {
	for _, a := range p.attributes {
		if a.IsNetworkElement() {
			return a
		}
	}

	return ""
}

// Child returns the child with segment name.
func (p *MemdexPath) Child(segment string) (*MemdexPath, bool) {
	for _, c := range p.children {
		if c.segment == segment {
			return c, true
		}
	}

	return nil, false
}

// HasCounter reports whether id is attached to this node.
func (p *MemdexPath) HasCounter(id string) bool {
	return slices.Contains(p.counters, id)
}

// withCounters returns a copy of p with a new counter list.
func (p *MemdexPath) withCounters(counters []string) *MemdexPath {
	cp := *p
	cp.counters = counters

	return &cp
}

// withChild returns a copy of p whose child named child.segment is replaced
// (or appended when absent).
func (p *MemdexPath) withChild(child *MemdexPath) *MemdexPath {
	cp := *p
	cp.children = slices.Clone(p.children)

	for i, c := range cp.children {
		if c.segment == child.segment {
			cp.children[i] = child
			return &cp
		}
	}

	cp.children = append(cp.children, child)

	return &cp
}

// walk visits p and its descendants depth-first with their segment paths.
func (p *MemdexPath) walk(prefix []string, fn func(path []string, node *MemdexPath)) {
	path := append(slices.Clone(prefix), p.segment)
	fn(path, p)

	for _, c := range p.children {
		c.walk(path, fn)
	}
}

// RealmNode is a named realm holding its template trees.
type RealmNode struct {
	name  string
	roots []*MemdexPath
}

// NewRealmNode builds a realm from root paths with unique segment names.
func NewRealmNode(name string, roots []*MemdexPath) (*RealmNode, error) {
	if name == "" {
		return nil, models.NewSchemaTemplateError("", "realm name is required")
	}

	seen := make(map[string]bool, len(roots))
	for _, r := range roots {
		if seen[r.segment] {
			return nil, models.NewSchemaTemplateError(name, "duplicate root segment %q", r.segment)
		}

		seen[r.segment] = true
	}

	return &RealmNode{name: name, roots: slices.Clone(roots)}, nil
}

// Name returns the realm name.
func (r *RealmNode) Name() string { return r.name }

// Roots returns the realm's root paths.
func (r *RealmNode) Roots() []*MemdexPath { return slices.Clone(r.roots) }

// Find returns the node at the segment path.
func (r *RealmNode) Find(path []string) (*MemdexPath, bool) {
	if len(path) == 0 {
		return nil, false
	}

	var node *MemdexPath

	for _, root := range r.roots {
		if root.segment == path[0] {
			node = root
			break
		}
	}

	if node == nil {
		return nil, false
	}

	for _, seg := range path[1:] {
		next, ok := node.Child(seg)
		if !ok {
			return nil, false
		}

		node = next
	}

	return node, true
}

// Walk visits every node of the realm depth-first.
func (r *RealmNode) Walk(fn func(path []string, node *MemdexPath)) {
	for _, root := range r.roots {
		root.walk(nil, fn)
	}
}

// replace returns a copy of the realm in which the node at path is
// replaced by node, copying every ancestor along the way. The parent of
// path must exist; the node itself may be new.
func (r *RealmNode) replace(path []string, node *MemdexPath) (*RealmNode, bool) {
	if len(path) == 1 {
		cp := &RealmNode{name: r.name, roots: slices.Clone(r.roots)}

		for i, root := range cp.roots {
			if root.segment == node.segment {
				cp.roots[i] = node
				return cp, true
			}
		}

		cp.roots = append(cp.roots, node)

		return cp, true
	}

	parent, ok := r.Find(path[:len(path)-1])
	if !ok {
		return nil, false
	}

	return r.replace(path[:len(path)-1], parent.withChild(node))
}

// FormatPath renders a segment path as "a/b/c".
func FormatPath(path []string) string {
	return strings.Join(path, "/")
}
