package schema

import (
	"fmt"
	"strings"

	"github.com/persistorai/topograph/internal/models"
)

// Relationship is the closed set of type-level relationship declarations.
// Every variant states that From references To: elements of From are
// inserted after and deleted before the elements of To they point at.
type Relationship interface {
	From() models.ElementKey
	To() models.ElementKey
	relationship()
}

// ParentRelationship hangs Child below Parent. Rows reference the parent
// either through its own tag column or through the child's Via property.
// An identifying parent contributes its value to the child's tag.
type ParentRelationship struct {
	Child       models.ElementKey
	Parent      models.ElementKey
	Via         string
	Identifying bool
}

// LinkRelationship is a named association between two element types.
type LinkRelationship struct {
	Source models.ElementKey
	Target models.ElementKey
	Name   string
}

func (r ParentRelationship) From() models.ElementKey { return r.Child }
func (r ParentRelationship) To() models.ElementKey   { return r.Parent }
func (r LinkRelationship) From() models.ElementKey   { return r.Source }
func (r LinkRelationship) To() models.ElementKey     { return r.Target }

func (ParentRelationship) relationship() {}
func (LinkRelationship) relationship()   {}

// ViaProperty returns the child property that carries the parent's value.
func (r ParentRelationship) ViaProperty() string {
	if r.Via != "" {
		return r.Via
	}

	return r.Parent.Name()
}

// ViaProperty returns the source property that names the link target.
func (r LinkRelationship) ViaProperty() string {
	if r.Name != "" {
		return r.Name
	}

	return r.Target.Name()
}

// RelType returns the graph relationship type written for the link.
func (r LinkRelationship) RelType() string {
	if r.Name != "" {
		return strings.ToUpper(r.Name)
	}

	return models.RelLink
}

// describe renders a relationship for error messages.
func describe(r Relationship) string {
	switch rel := r.(type) {
	case ParentRelationship:
		return fmt.Sprintf("%s -parent-> %s", rel.Child, rel.Parent)
	case LinkRelationship:
		return fmt.Sprintf("%s -%s-> %s", rel.Source, rel.RelType(), rel.Target)
	}

	panic(fmt.Sprintf("schema: unhandled relationship %T", r))
}

// DependencyGraph holds "references" edges between element types.
type DependencyGraph struct {
	edges map[models.ElementKey][]models.ElementKey
}

// NewDependencyGraph builds the graph from relationship declarations.
func NewDependencyGraph(rels []Relationship) *DependencyGraph {
	g := &DependencyGraph{edges: make(map[models.ElementKey][]models.ElementKey)}

	for _, r := range rels {
		g.edges[r.From()] = append(g.edges[r.From()], r.To())
	}

	return g
}

// References reports whether a reaches b through one or more edges.
func (g *DependencyGraph) References(a, b models.ElementKey) bool {
	seen := map[models.ElementKey]bool{a: true}
	stack := append([]models.ElementKey(nil), g.edges[a]...)

	for len(stack) > 0 {
		k := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if k == b {
			return true
		}

		if seen[k] {
			continue
		}

		seen[k] = true
		stack = append(stack, g.edges[k]...)
	}

	return false
}

// Sort orders keys so that every key precedes the keys it references,
// directly or through types outside keys. Ties keep input order. A cycle
// among keys is a SchemaTemplateError.
func (g *DependencyGraph) Sort(keys []models.ElementKey) ([]models.ElementKey, error) {
	n := len(keys)
	before := make([][]bool, n)

	for i := range keys {
		before[i] = make([]bool, n)

		for j := range keys {
			if i != j && g.References(keys[i], keys[j]) {
				before[i][j] = true
			}
		}
	}

	indegree := make([]int, n)

	for i := range keys {
		for j := range keys {
			if before[i][j] {
				indegree[j]++
			}
		}
	}

	done := make([]bool, n)
	order := make([]models.ElementKey, 0, n)

	for len(order) < n {
		next := -1

		for i := range keys {
			if !done[i] && indegree[i] == 0 {
				next = i
				break
			}
		}

		if next < 0 {
			var members []string

			for i, k := range keys {
				if !done[i] {
					members = append(members, string(k))
				}
			}

			return nil, models.CycleError(members)
		}

		done[next] = true
		order = append(order, keys[next])

		for j := range keys {
			if before[next][j] {
				indegree[j]--
			}
		}
	}

	return order, nil
}
