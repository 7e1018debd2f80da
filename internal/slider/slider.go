// Package slider keeps each element attached to the planet (partition) of
// its current scope.
package slider

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/persistorai/topograph/internal/graph"
	"github.com/persistorai/topograph/internal/metrics"
	"github.com/persistorai/topograph/internal/models"
	"github.com/persistorai/topograph/internal/schema"
)

// Planet node properties.
const (
	PropPlanetType       = "type"
	PropPlanetName       = "name"
	PropPlanetAttributes = "attributes"
)

// Slider moves elements between planets.
type Slider struct {
	schema *schema.ManagedSchema
	log    *logrus.Logger
}

// New creates a Slider resolving planets against s.
func New(s *schema.ManagedSchema, log *logrus.Logger) *Slider {
	return &Slider{schema: s, log: log}
}

// Slide attaches element to the planet of its type in scope, creating the
// planet when needed and removing stale planet relationships. Planets left
// without members are deleted. Sliding an element that is already attached
// to the right planet changes nothing.
func (s *Slider) Slide(ctx context.Context, tx graph.Tx, element graph.Node, scope schema.Scope) (graph.Node, schema.PlanetUpdate, error) {
	key := models.ElementKey(graph.StringProperty(element, models.PropElementType))

	rels, err := element.Relationships(ctx, models.RelPlanet, graph.Outgoing)
	if err != nil {
		return nil, schema.PlanetUpdate{}, fmt.Errorf("reading planet relationships: %w", err)
	}

	var old *schema.PlanetNode

	if len(rels) > 0 {
		p := planetOf(rels[0].End())
		old = &p
	}

	update, err := s.schema.ResolvePlanet(old, key, scope)
	if err != nil {
		return nil, schema.PlanetUpdate{}, err
	}

	target, err := s.ensurePlanet(ctx, tx, update.Target())
	if err != nil {
		return nil, schema.PlanetUpdate{}, err
	}

	for _, p := range update.New[1:] {
		if _, err := s.ensurePlanet(ctx, tx, p); err != nil {
			return nil, schema.PlanetUpdate{}, err
		}
	}

	attached := false

	var stale []graph.Node

	for _, rel := range rels {
		end := rel.End()
		if end.ID() == target.ID() && !attached {
			attached = true
			continue
		}

		if err := rel.Delete(ctx); err != nil {
			return nil, schema.PlanetUpdate{}, fmt.Errorf("deleting planet relationship: %w", err)
		}

		if end.ID() != target.ID() {
			stale = append(stale, end)
		}
	}

	if !attached {
		if _, err := tx.CreateRelationship(ctx, element, target, models.RelPlanet); err != nil {
			return nil, schema.PlanetUpdate{}, fmt.Errorf("attaching planet: %w", err)
		}
	}

	if err := element.SetProperty(ctx, models.PropScope, scope.Tag); err != nil {
		return nil, schema.PlanetUpdate{}, fmt.Errorf("setting scope: %w", err)
	}

	if err := s.removeEmpty(ctx, stale); err != nil {
		return nil, schema.PlanetUpdate{}, err
	}

	metrics.PlanetSlides.WithLabelValues(update.Status.String()).Inc()

	if update.Status != schema.PlanetUnchanged {
		s.log.WithFields(logrus.Fields{
			"element": graph.StringProperty(element, models.PropTag),
			"planet":  update.Target().Tag().String(),
			"status":  update.Status.String(),
		}).Debug("planet assigned")
	}

	return target, update, nil
}

// Detach removes element from its planets, deleting planets left empty.
// It is called before an element is deleted.
func (s *Slider) Detach(ctx context.Context, element graph.Node) error {
	rels, err := element.Relationships(ctx, models.RelPlanet, graph.Outgoing)
	if err != nil {
		return fmt.Errorf("reading planet relationships: %w", err)
	}

	planets := make([]graph.Node, 0, len(rels))

	for _, rel := range rels {
		planets = append(planets, rel.End())

		if err := rel.Delete(ctx); err != nil {
			return fmt.Errorf("deleting planet relationship: %w", err)
		}
	}

	return s.removeEmpty(ctx, planets)
}

func (s *Slider) ensurePlanet(ctx context.Context, tx graph.Tx, p schema.PlanetNode) (graph.Node, error) {
	tag := p.Tag().String()

	node, err := tx.FindNode(ctx, models.LabelPlanet, models.PropTag, tag)

	switch {
	case err == nil:
		if planetOf(node).Equal(p) {
			return node, nil
		}
	case graph.IsNotFound(err):
		node, err = tx.CreateNode(ctx, models.LabelPlanet)
		if err != nil {
			return nil, fmt.Errorf("creating planet %s: %w", tag, err)
		}
	default:
		return nil, fmt.Errorf("finding planet %s: %w", tag, err)
	}

	attrs := make([]any, len(p.Attributes))
	for i, a := range p.Attributes {
		attrs[i] = string(a)
	}

	props := map[string]any{
		models.PropTag:       tag,
		PropPlanetType:       p.Type,
		PropPlanetName:       p.Name,
		PropPlanetAttributes: attrs,
	}

	for k, v := range props {
		if err := node.SetProperty(ctx, k, v); err != nil {
			return nil, fmt.Errorf("writing planet %s: %w", tag, err)
		}
	}

	return node, nil
}

func (s *Slider) removeEmpty(ctx context.Context, planets []graph.Node) error {
	seen := make(map[string]bool, len(planets))

	for _, p := range planets {
		if seen[p.ID()] {
			continue
		}

		seen[p.ID()] = true

		members, err := p.Relationships(ctx, models.RelPlanet, graph.Incoming)
		if err != nil {
			return fmt.Errorf("reading planet members: %w", err)
		}

		if len(members) > 0 {
			continue
		}

		tag := graph.StringProperty(p, models.PropTag)

		if err := p.Delete(ctx); err != nil {
			return fmt.Errorf("deleting empty planet %s: %w", tag, err)
		}

		metrics.PlanetsRemoved.Inc()
		s.log.WithField("planet", tag).Debug("empty planet removed")
	}

	return nil
}

// planetOf reads a planet node back into its descriptor.
func planetOf(n graph.Node) schema.PlanetNode {
	p := schema.PlanetNode{
		Type: graph.StringProperty(n, PropPlanetType),
		Name: graph.StringProperty(n, PropPlanetName),
	}

	v, _ := n.Property(PropPlanetAttributes)

	switch attrs := v.(type) {
	case []any:
		for _, a := range attrs {
			if s, ok := a.(string); ok {
				p.Attributes = append(p.Attributes, models.ElementKey(s))
			}
		}
	case []string:
		for _, a := range attrs {
			p.Attributes = append(p.Attributes, models.ElementKey(a))
		}
	}

	return p
}
