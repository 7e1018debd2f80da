package schema

import (
	"fmt"
	"slices"

	"github.com/persistorai/topograph/internal/models"
)

// Scope is the ownership context an element belongs to.
type Scope struct {
	Tag  string
	Name string
}

func (s Scope) String() string {
	if s.Name == "" || s.Name == s.Tag {
		return s.Tag
	}

	return fmt.Sprintf("%s (%s)", s.Tag, s.Name)
}

// PlanetTemplate declares which element types share a partition.
type PlanetTemplate struct {
	Name       string
	Attributes []models.ElementKey
}

// PlanetNode describes one partition: a template instantiated for a scope.
type PlanetNode struct {
	Type       string
	Name       string
	Attributes []models.ElementKey
}

// Tag returns the planet's unique key in the graph.
func (p PlanetNode) Tag() models.Tag {
	return models.NewTag(map[string]string{"planet": p.Type, "scope": p.Name}, planetTagRank)
}

var planetTagRank = map[string]int{"planet": 0, "scope": 1}

// Equal compares type, name and attribute set.
func (p PlanetNode) Equal(o PlanetNode) bool {
	return p.Type == o.Type && p.Name == o.Name && slices.Equal(p.Attributes, o.Attributes)
}

// Aggregates reports whether key is one of the planet's attributes.
func (p PlanetNode) Aggregates(key models.ElementKey) bool {
	return slices.Contains(p.Attributes, key)
}

// PlanetStatus classifies a PlanetUpdate.
type PlanetStatus int

// Planet update statuses.
const (
	PlanetCreated PlanetStatus = iota
	PlanetUpdated
	PlanetUnchanged
)

func (s PlanetStatus) String() string {
	switch s {
	case PlanetCreated:
		return "created"
	case PlanetUpdated:
		return "updated"
	case PlanetUnchanged:
		return "unchanged"
	}

	return fmt.Sprintf("PlanetStatus(%d)", int(s))
}

// PlanetUpdate records how an element's partition changes. Old is nil for
// elements that had no planet. New always holds the planet the element must
// attach to first, followed by any other planets superseding Old.
type PlanetUpdate struct {
	Old    *PlanetNode
	Status PlanetStatus
	New    []PlanetNode
}

// Target returns the planet the element attaches to.
func (u PlanetUpdate) Target() PlanetNode { return u.New[0] }

// planetTemplateFor returns the first template aggregating key.
func planetTemplateFor(templates []PlanetTemplate, key models.ElementKey) (PlanetTemplate, bool) {
	for _, t := range templates {
		if slices.Contains(t.Attributes, key) {
			return t, true
		}
	}

	return PlanetTemplate{}, false
}

func newPlanetNode(t PlanetTemplate, scope Scope) PlanetNode {
	attrs := slices.Clone(t.Attributes)
	slices.Sort(attrs)

	return PlanetNode{Type: t.Name, Name: scope.Tag, Attributes: attrs}
}

// PlanetFor returns the planet elements of key belong to within scope.
func (s *ManagedSchema) PlanetFor(key models.ElementKey, scope Scope) (PlanetNode, error) {
	if !models.ValidTagValue(scope.Tag) {
		return PlanetNode{}, &models.ScopeResolutionError{ElementType: string(key), Scope: scope.Tag, Reason: "invalid scope tag"}
	}

	t, ok := planetTemplateFor(s.planets, key)
	if !ok {
		return PlanetNode{}, &models.ScopeResolutionError{ElementType: string(key), Scope: scope.Tag, Reason: "no planet template aggregates this element type"}
	}

	return newPlanetNode(t, scope), nil
}

// ResolvePlanet computes the transition from old (nil when the element has
// no planet yet) to the planet for key in scope. When old belongs to the same
// scope but its template no longer matches the schema, every current planet
// sharing one of old's attributes supersedes it.
func (s *ManagedSchema) ResolvePlanet(old *PlanetNode, key models.ElementKey, scope Scope) (PlanetUpdate, error) {
	target, err := s.PlanetFor(key, scope)
	if err != nil {
		return PlanetUpdate{}, err
	}

	if old == nil {
		return PlanetUpdate{Status: PlanetCreated, New: []PlanetNode{target}}, nil
	}

	if old.Equal(target) {
		return PlanetUpdate{Old: old, Status: PlanetUnchanged, New: []PlanetNode{target}}, nil
	}

	update := PlanetUpdate{Old: old, Status: PlanetUpdated, New: []PlanetNode{target}}

	if old.Name != scope.Tag {
		return update, nil
	}

	for _, t := range s.planets {
		if t.Name == target.Type {
			continue
		}

		for _, a := range old.Attributes {
			if slices.Contains(t.Attributes, a) {
				update.New = append(update.New, newPlanetNode(t, scope))
				break
			}
		}
	}

	return update, nil
}
