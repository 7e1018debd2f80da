// Package schema holds the topology schema: element types and the
// relationships between them, planet (partition) templates, realm template
// trees and counter definitions.
//
// A ManagedSchema is an immutable snapshot. Updates (see update.go) return a
// new snapshot with a higher version and leave the original untouched, so
// snapshots can be shared freely between concurrent readers.
package schema

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/persistorai/topograph/internal/models"
)

// Schema is the declarative form of a schema as read from YAML.
type Schema struct {
	Version       int64              `yaml:"version,omitempty"`
	ElementTypes  []string           `yaml:"elementTypes"`
	Relationships []RelationshipSpec `yaml:"relationships"`
	Planets       []PlanetSpec       `yaml:"planets"`
	Counters      []CounterSpec      `yaml:"counters"`
	Realms        []RealmSpec        `yaml:"realms"`
}

// RelationshipSpec declares a parent or link relationship.
type RelationshipSpec struct {
	Kind        string `yaml:"kind"`
	From        string `yaml:"from"`
	To          string `yaml:"to"`
	Via         string `yaml:"via,omitempty"`
	Name        string `yaml:"name,omitempty"`
	Identifying bool   `yaml:"identifying,omitempty"`
}

// PlanetSpec declares a planet template.
type PlanetSpec struct {
	Name       string   `yaml:"name"`
	Attributes []string `yaml:"attributes"`
}

// CounterSpec declares a counter.
type CounterSpec struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name,omitempty"`
	Type        string `yaml:"type"`
	SubType     string `yaml:"subType,omitempty"`
	Property    string `yaml:"property,omitempty"`
	Numerator   string `yaml:"numerator,omitempty"`
	Denominator string `yaml:"denominator,omitempty"`
	// Custom marks a user-owned counter; Restore keeps it deletable.
	Custom bool `yaml:"custom,omitempty"`
}

// RealmSpec declares a realm and its template trees.
type RealmSpec struct {
	Name  string     `yaml:"name"`
	Paths []PathSpec `yaml:"paths"`
}

// PathSpec declares one template tree node.
type PathSpec struct {
	Segment    string     `yaml:"segment"`
	Template   string     `yaml:"template"`
	Attributes []string   `yaml:"attributes"`
	Counters   []string   `yaml:"counters,omitempty"`
	Children   []PathSpec `yaml:"children,omitempty"`
}

// Parse decodes a YAML schema document.
func Parse(data []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding schema: %w", err)
	}

	return &s, nil
}

// LoadFile reads a schema file and restores the snapshot it holds.
func LoadFile(path string) (*ManagedSchema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading schema file: %w", err)
	}

	raw, err := Parse(data)
	if err != nil {
		return nil, err
	}

	return Restore(raw)
}

// ToCounterNode converts the declarative form into a CounterNode.
func (c CounterSpec) ToCounterNode() (CounterNode, error) {
	node := CounterNode{ID: c.ID, Name: c.Name}
	if node.Name == "" {
		node.Name = c.ID
	}

	switch c.Type {
	case "count":
		node.Type = CountCounter{SubType: c.SubType}
	case "sum":
		node.Type = SumCounter{Property: c.Property}
	case "ratio":
		node.Type = RatioCounter{Numerator: c.Numerator, Denominator: c.Denominator}
	default:
		return CounterNode{}, &models.CounterManagementError{CounterID: c.ID, Reason: fmt.Sprintf("unknown counter type %q", c.Type)}
	}

	return node, nil
}

// CounterSpecOf converts a CounterNode back to its declarative form.
func CounterSpecOf(c CounterNode) CounterSpec {
	spec := CounterSpec{ID: c.ID, Name: c.Name}

	switch t := c.Type.(type) {
	case CountCounter:
		spec.Type, spec.SubType = t.Kind(), t.SubType
	case SumCounter:
		spec.Type, spec.Property = t.Kind(), t.Property
	case RatioCounter:
		spec.Type, spec.Numerator, spec.Denominator = t.Kind(), t.Numerator, t.Denominator
	default:
		panic(fmt.Sprintf("schema: unhandled counter type %T", c.Type))
	}

	return spec
}

// ManagedSchema is an immutable, validated schema snapshot.
type ManagedSchema struct {
	version       int64
	elementTypes  []models.ElementKey
	rank          map[string]int
	relationships []Relationship
	deps          *DependencyGraph
	planets       []PlanetTemplate
	realms        map[string]*RealmNode
	realmOrder    []string
	counters      *CountersDefinition
}

// FullyManaged builds a schema in which every declared counter is
// system-owned.
func FullyManaged(raw *Schema) (*ManagedSchema, error) {
	b := NewCountersDefinitionBuilder()

	for _, spec := range raw.Counters {
		c, err := spec.ToCounterNode()
		if err != nil {
			return nil, err
		}

		if err := b.Add(c, true); err != nil {
			return nil, err
		}
	}

	return build(raw, b.Build())
}

// Restore rebuilds a snapshot written by Spec: counters marked custom stay
// custom and the version is carried over.
func Restore(raw *Schema) (*ManagedSchema, error) {
	b := NewCountersDefinitionBuilder()

	for _, spec := range raw.Counters {
		c, err := spec.ToCounterNode()
		if err != nil {
			return nil, err
		}

		if err := b.Add(c, !spec.Custom); err != nil {
			return nil, err
		}
	}

	s, err := build(raw, b.Build())
	if err != nil {
		return nil, err
	}

	if raw.Version > 0 {
		s.version = raw.Version
	}

	return s, nil
}

func build(raw *Schema, counters *CountersDefinition) (*ManagedSchema, error) {
	s := &ManagedSchema{
		version:  1,
		rank:     make(map[string]int, len(raw.ElementTypes)),
		realms:   make(map[string]*RealmNode, len(raw.Realms)),
		counters: counters,
	}

	if err := s.buildElementTypes(raw.ElementTypes); err != nil {
		return nil, err
	}

	if err := s.buildRelationships(raw.Relationships); err != nil {
		return nil, err
	}

	if err := s.buildPlanets(raw.Planets); err != nil {
		return nil, err
	}

	for _, rs := range raw.Realms {
		realm, err := s.buildRealm(rs)
		if err != nil {
			return nil, err
		}

		if _, dup := s.realms[realm.name]; dup {
			return nil, models.NewSchemaTemplateError(realm.name, "duplicate realm")
		}

		s.realms[realm.name] = realm
		s.realmOrder = append(s.realmOrder, realm.name)
	}

	return s, nil
}

func (s *ManagedSchema) buildElementTypes(types []string) error {
	for i, t := range types {
		k, err := models.ParseElementKey(t)
		if err != nil {
			return models.NewSchemaTemplateError("elementTypes", "%v", err)
		}

		if _, dup := s.rank[t]; dup {
			return models.NewSchemaTemplateError("elementTypes", "duplicate element type %s", t)
		}

		s.rank[t] = i
		s.elementTypes = append(s.elementTypes, k)
	}

	return nil
}

func (s *ManagedSchema) buildRelationships(specs []RelationshipSpec) error {
	for _, spec := range specs {
		from, to := models.ElementKey(spec.From), models.ElementKey(spec.To)

		if !s.HasElementType(from) || !s.HasElementType(to) {
			return models.NewSchemaTemplateError("relationships", "%s -> %s references an undeclared element type", spec.From, spec.To)
		}

		if from == to {
			return models.CycleError([]string{spec.From})
		}

		var rel Relationship

		switch spec.Kind {
		case "parent":
			for _, existing := range s.relationships {
				if p, ok := existing.(ParentRelationship); ok && p.Child == from && p.Parent == to {
					return models.NewSchemaTemplateError("relationships", "duplicate parent %s -> %s", from, to)
				}
			}

			rel = ParentRelationship{Child: from, Parent: to, Via: spec.Via, Identifying: spec.Identifying}
		case "link":
			rel = LinkRelationship{Source: from, Target: to, Name: spec.Name}
		default:
			return models.NewSchemaTemplateError("relationships", "unknown relationship kind %q", spec.Kind)
		}

		s.relationships = append(s.relationships, rel)
	}

	s.deps = NewDependencyGraph(s.relationships)

	if _, err := s.deps.Sort(s.elementTypes); err != nil {
		return err
	}

	return nil
}

func (s *ManagedSchema) buildPlanets(specs []PlanetSpec) error {
	seen := make(map[string]bool, len(specs))

	for _, spec := range specs {
		if !models.ValidTagValue(spec.Name) {
			return models.NewSchemaTemplateError("planets", "invalid planet name %q", spec.Name)
		}

		if seen[spec.Name] {
			return models.NewSchemaTemplateError("planets", "duplicate planet %q", spec.Name)
		}

		seen[spec.Name] = true
		t := PlanetTemplate{Name: spec.Name}

		for _, a := range spec.Attributes {
			k := models.ElementKey(a)
			if !s.HasElementType(k) {
				return models.NewSchemaTemplateError("planets", "planet %q aggregates undeclared element type %s", spec.Name, a)
			}

			t.Attributes = append(t.Attributes, k)
		}

		s.planets = append(s.planets, t)
	}

	return nil
}

func (s *ManagedSchema) buildRealm(spec RealmSpec) (*RealmNode, error) {
	roots := make([]*MemdexPath, 0, len(spec.Paths))

	for _, ps := range spec.Paths {
		p, err := s.buildPath(ps)
		if err != nil {
			return nil, err
		}

		roots = append(roots, p)
	}

	return NewRealmNode(spec.Name, roots)
}

func (s *ManagedSchema) buildPath(spec PathSpec) (*MemdexPath, error) {
	children := make([]*MemdexPath, 0, len(spec.Children))

	for _, cs := range spec.Children {
		c, err := s.buildPath(cs)
		if err != nil {
			return nil, err
		}

		children = append(children, c)
	}

	for _, id := range spec.Counters {
		if _, ok := s.counters.Get(id); !ok {
			return nil, models.NewSchemaTemplateError(spec.Segment, "unknown counter %q", id)
		}
	}

	return NewMemdexPath(spec.Segment, spec.Template, spec.Attributes, spec.Counters, children)
}

// Version increases by one with every applied update.
func (s *ManagedSchema) Version() int64 { return s.version }

// ElementTypes returns the declared element types in declaration order.
func (s *ManagedSchema) ElementTypes() []models.ElementKey { return slices.Clone(s.elementTypes) }

// HasElementType reports whether k is declared.
func (s *ManagedSchema) HasElementType(k models.ElementKey) bool {
	_, ok := s.rank[string(k)]
	return ok
}

// TagRank returns the fixed key ordering used to build element tags.
func (s *ManagedSchema) TagRank() map[string]int { return s.rank }

// Relationships returns all relationship declarations.
func (s *ManagedSchema) Relationships() []Relationship { return slices.Clone(s.relationships) }

// Dependencies returns the type dependency graph.
func (s *ManagedSchema) Dependencies() *DependencyGraph { return s.deps }

// ParentsOf returns the parent declarations whose child is k.
func (s *ManagedSchema) ParentsOf(k models.ElementKey) []ParentRelationship {
	var out []ParentRelationship

	for _, r := range s.relationships {
		if p, ok := r.(ParentRelationship); ok && p.Child == k {
			out = append(out, p)
		}
	}

	return out
}

// ChildrenOf returns the parent declarations whose parent is k.
func (s *ManagedSchema) ChildrenOf(k models.ElementKey) []ParentRelationship {
	var out []ParentRelationship

	for _, r := range s.relationships {
		if p, ok := r.(ParentRelationship); ok && p.Parent == k {
			out = append(out, p)
		}
	}

	return out
}

// LinksFrom returns the link declarations whose source is k.
func (s *ManagedSchema) LinksFrom(k models.ElementKey) []LinkRelationship {
	var out []LinkRelationship

	for _, r := range s.relationships {
		if l, ok := r.(LinkRelationship); ok && l.Source == k {
			out = append(out, l)
		}
	}

	return out
}

// Planets returns the planet templates.
func (s *ManagedSchema) Planets() []PlanetTemplate { return slices.Clone(s.planets) }

// Realm returns the realm called name.
func (s *ManagedSchema) Realm(name string) (*RealmNode, bool) {
	r, ok := s.realms[name]
	return r, ok
}

// RealmNames returns realm names in declaration order.
func (s *ManagedSchema) RealmNames() []string { return slices.Clone(s.realmOrder) }

// Counters returns the counters definition.
func (s *ManagedSchema) Counters() *CountersDefinition { return s.counters }

// withRealm returns a copy of s, one version up, with realm replaced and
// counters swapped for def.
func (s *ManagedSchema) withRealm(realm *RealmNode, def *CountersDefinition) *ManagedSchema {
	cp := *s
	cp.version = s.version + 1
	cp.counters = def
	cp.realms = make(map[string]*RealmNode, len(s.realms))

	for name, r := range s.realms {
		cp.realms[name] = r
	}

	cp.realms[realm.name] = realm

	return &cp
}

// Describe renders the realm trees for display, one node per line.
func (s *ManagedSchema) Describe() []string {
	var lines []string

	for _, name := range s.realmOrder {
		lines = append(lines, "realm "+name)

		s.realms[name].Walk(func(path []string, node *MemdexPath) {
			line := fmt.Sprintf("%s%s [%s] %v", strings.Repeat("  ", len(path)), node.Segment(), node.Template(), node.Attributes())

			for _, id := range node.Counters() {
				c, _ := s.counters.Get(id)

				mark := "custom"
				if s.counters.IsManaged(id) {
					mark = "managed"
				}

				line += fmt.Sprintf(" %s=%s(%s)", id, c.Describe(), mark)
			}

			lines = append(lines, line)
		})
	}

	for _, r := range s.relationships {
		lines = append(lines, "relationship "+describe(r))
	}

	return lines
}

// Spec returns the declarative form of s. Restore(s.Spec()) yields an
// equivalent snapshot.
func (s *ManagedSchema) Spec() *Schema {
	raw := &Schema{Version: s.version}

	for _, k := range s.elementTypes {
		raw.ElementTypes = append(raw.ElementTypes, string(k))
	}

	for _, r := range s.relationships {
		switch r := r.(type) {
		case ParentRelationship:
			raw.Relationships = append(raw.Relationships, RelationshipSpec{
				Kind: "parent", From: string(r.Child), To: string(r.Parent), Via: r.Via, Identifying: r.Identifying,
			})
		case LinkRelationship:
			raw.Relationships = append(raw.Relationships, RelationshipSpec{
				Kind: "link", From: string(r.Source), To: string(r.Target), Name: r.Name,
			})
		default:
			panic(fmt.Sprintf("schema: unhandled relationship %T", r))
		}
	}

	for _, p := range s.planets {
		spec := PlanetSpec{Name: p.Name}
		for _, a := range p.Attributes {
			spec.Attributes = append(spec.Attributes, string(a))
		}

		raw.Planets = append(raw.Planets, spec)
	}

	for _, id := range s.counters.IDs() {
		c, _ := s.counters.Get(id)
		spec := CounterSpecOf(c)
		spec.Custom = !s.counters.IsManaged(id)
		raw.Counters = append(raw.Counters, spec)
	}

	for _, name := range s.realmOrder {
		rs := RealmSpec{Name: name}
		for _, root := range s.realms[name].Roots() {
			rs.Paths = append(rs.Paths, pathSpecOf(root))
		}

		raw.Realms = append(raw.Realms, rs)
	}

	return raw
}

func pathSpecOf(p *MemdexPath) PathSpec {
	spec := PathSpec{Segment: p.Segment(), Template: p.Template(), Counters: p.Counters()}

	for _, a := range p.Attributes() {
		spec.Attributes = append(spec.Attributes, string(a))
	}

	for _, c := range p.Children() {
		spec.Children = append(spec.Children, pathSpecOf(c))
	}

	return spec
}

// WriteFile stores the declarative form of s at path.
func (s *ManagedSchema) WriteFile(path string) error {
	data, err := yaml.Marshal(s.Spec())
	if err != nil {
		return fmt.Errorf("encoding schema: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing schema file: %w", err)
	}

	return nil
}
