// Package lineage reconstructs tabular snapshots from the topology graph.
//
// Every leaf element contributes one Lineage: the leaf plus one ancestor per
// element type, reached over PARENT relationships. Lineages are deduplicated
// and ordered by a caller supplied attribute sequence.
package lineage

import (
	"slices"
	"sort"
	"strings"

	"github.com/persistorai/topograph/internal/graph"
	"github.com/persistorai/topograph/internal/models"
)

// Lineage maps element types to the node of that type on one ancestor chain.
type Lineage map[models.ElementKey]graph.Node

// Tag returns the tag of the node at key, or false when the lineage has none.
func (l Lineage) Tag(key models.ElementKey) (string, bool) {
	n, ok := l[key]
	if !ok {
		return "", false
	}

	return graph.StringProperty(n, models.PropTag), true
}

// Keys returns the lineage's element types, sorted.
func (l Lineage) Keys() []models.ElementKey {
	keys := make([]models.ElementKey, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}

	slices.Sort(keys)

	return keys
}

// Ordering is the attribute precedence lineages are sorted by.
type Ordering []models.ElementKey

// Compare orders a and b attribute by attribute. At each attribute a lineage
// without a node sorts before one with a node; when both lack it the next
// attribute decides; otherwise tags are compared. Element types outside the
// ordering break remaining ties in lexicographic key order, so only lineages
// holding the same nodes compare equal.
func (o Ordering) Compare(a, b Lineage) int {
	for _, k := range o {
		if c := compareAt(a, b, k); c != 0 {
			return c
		}
	}

	for _, k := range o.residualKeys(a, b) {
		if c := compareAt(a, b, k); c != 0 {
			return c
		}
	}

	return 0
}

func compareAt(a, b Lineage, k models.ElementKey) int {
	ta, aok := a.Tag(k)
	tb, bok := b.Tag(k)

	switch {
	case !aok && !bok:
		return 0
	case !aok:
		return -1
	case !bok:
		return 1
	}

	return strings.Compare(ta, tb)
}

func (o Ordering) residualKeys(a, b Lineage) []models.ElementKey {
	seen := make(map[models.ElementKey]bool, len(a)+len(b))
	for _, k := range o {
		seen[k] = true
	}

	var keys []models.ElementKey

	for _, l := range []Lineage{a, b} {
		for k := range l {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}

	slices.Sort(keys)

	return keys
}

// Set is an ordered set of lineages.
type Set struct {
	ordering Ordering
	items    []Lineage
}

// NewSet creates an empty set ordered by o.
func NewSet(o Ordering) *Set {
	return &Set{ordering: o}
}

// Add inserts l in order. It returns false when an equal lineage is already
// present.
func (s *Set) Add(l Lineage) bool {
	i := sort.Search(len(s.items), func(i int) bool {
		return s.ordering.Compare(s.items[i], l) >= 0
	})

	if i < len(s.items) && s.ordering.Compare(s.items[i], l) == 0 {
		return false
	}

	s.items = slices.Insert(s.items, i, l)

	return true
}

// Len returns the number of lineages.
func (s *Set) Len() int { return len(s.items) }

// Items returns the lineages in order.
func (s *Set) Items() []Lineage { return slices.Clone(s.items) }
