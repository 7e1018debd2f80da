package schema

import (
	"fmt"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/persistorai/topograph/internal/models"
)

// SchemaUpdate is a command that mutates a schema. Commands carry data only;
// what happens to them is decided by the UpdateVisitor they are given.
type SchemaUpdate interface {
	Accept(v UpdateVisitor) error
}

// UpdateVisitor handles every SchemaUpdate variant.
type UpdateVisitor interface {
	VisitAppendCounter(cmd AppendCounter) error
	VisitDeleteCounter(cmd DeleteCounter) error
}

// AppendCounter adds a custom counter to the template node at Path in Realm.
// A missing final path segment is created with Template and Attributes.
type AppendCounter struct {
	Realm      string
	Template   string
	Attributes []string
	Path       []string
	Counter    CounterNode
}

// DeleteCounter removes a custom counter from the template node at Path.
type DeleteCounter struct {
	Realm     string
	Template  string
	Path      []string
	CounterID string
}

// Accept dispatches to VisitAppendCounter.
func (c AppendCounter) Accept(v UpdateVisitor) error { return v.VisitAppendCounter(c) }

// Accept dispatches to VisitDeleteCounter.
func (c DeleteCounter) Accept(v UpdateVisitor) error { return v.VisitDeleteCounter(c) }

// Apply runs u against s and returns the resulting snapshot. s is not
// modified; on error the caller keeps using s.
func Apply(s *ManagedSchema, u SchemaUpdate) (*ManagedSchema, error) {
	a := &applier{schema: s}
	if err := u.Accept(a); err != nil {
		return nil, err
	}

	return a.result, nil
}

// Describe returns a one-line human readable summary of u.
func Describe(u SchemaUpdate) string {
	d := &describer{}
	_ = u.Accept(d) //nolint:errcheck // describer never fails.

	return d.text
}

type applier struct {
	schema *ManagedSchema
	result *ManagedSchema
}

func (a *applier) VisitAppendCounter(cmd AppendCounter) error {
	realm, err := a.realm(cmd.Realm, cmd.Path)
	if err != nil {
		return err
	}

	if _, exists := a.schema.counters.Get(cmd.Counter.ID); exists {
		return &models.CounterManagementError{CounterID: cmd.Counter.ID, Reason: "identifier already defined"}
	}

	b := a.schema.counters.ToBuilder()
	if err := b.Add(cmd.Counter, false); err != nil {
		return err
	}

	node, found := realm.Find(cmd.Path)

	switch {
	case found:
		if err := checkTemplate(node, cmd.Template, cmd.Attributes, cmd.Counter.ID); err != nil {
			return err
		}
	case len(cmd.Path) > 1:
		if _, ok := realm.Find(cmd.Path[:len(cmd.Path)-1]); !ok {
			return models.NewSchemaTemplateError(FormatPath(cmd.Path), "parent path not found in realm %q", cmd.Realm)
		}

		fallthrough
	default:
		node, err = NewMemdexPath(cmd.Path[len(cmd.Path)-1], cmd.Template, cmd.Attributes, nil, nil)
		if err != nil {
			return err
		}
	}

	updated, ok := realm.replace(cmd.Path, node.withCounters(append(node.Counters(), cmd.Counter.ID)))
	if !ok {
		return models.NewSchemaTemplateError(FormatPath(cmd.Path), "path not found in realm %q", cmd.Realm)
	}

	a.result = a.schema.withRealm(updated, b.Build())

	return nil
}

func (a *applier) VisitDeleteCounter(cmd DeleteCounter) error {
	realm, err := a.realm(cmd.Realm, cmd.Path)
	if err != nil {
		return err
	}

	node, ok := realm.Find(cmd.Path)
	if !ok {
		return models.NewSchemaTemplateError(FormatPath(cmd.Path), "path not found in realm %q", cmd.Realm)
	}

	if err := checkTemplate(node, cmd.Template, nil, cmd.CounterID); err != nil {
		return err
	}

	if !node.HasCounter(cmd.CounterID) {
		return &models.CounterManagementError{CounterID: cmd.CounterID, Reason: "not attached to " + FormatPath(cmd.Path)}
	}

	if a.schema.counters.IsManaged(cmd.CounterID) {
		return &models.CounterManagementError{CounterID: cmd.CounterID, Reason: "managed counters cannot be deleted"}
	}

	counters := slices.DeleteFunc(node.Counters(), func(id string) bool { return id == cmd.CounterID })

	updated, ok := realm.replace(cmd.Path, node.withCounters(counters))
	if !ok {
		return models.NewSchemaTemplateError(FormatPath(cmd.Path), "path not found in realm %q", cmd.Realm)
	}

	next := a.schema.withRealm(updated, a.schema.counters)

	b := a.schema.counters.ToBuilder()
	if !next.counterReferenced(cmd.CounterID) {
		b.Remove(cmd.CounterID)
	}

	next.counters = b.Build()
	a.result = next

	return nil
}

func (a *applier) realm(name string, path []string) (*RealmNode, error) {
	realm, ok := a.schema.Realm(name)
	if !ok {
		return nil, models.NewSchemaTemplateError(name, "unknown realm")
	}

	if len(path) == 0 {
		return nil, models.NewSchemaTemplateError(name, "empty template path")
	}

	return realm, nil
}

func checkTemplate(node *MemdexPath, template string, attributes []string, counterID string) error {
	if node.Template() != template {
		return &models.CounterManagementError{
			CounterID: counterID,
			Reason:    fmt.Sprintf("template mismatch: path uses %q, command names %q", node.Template(), template),
		}
	}

	if len(attributes) == 0 {
		return nil
	}

	have := make([]string, 0, len(node.attributes))
	for _, k := range node.attributes {
		have = append(have, string(k))
	}

	want := slices.Clone(attributes)
	slices.Sort(have)
	slices.Sort(want)

	if !slices.Equal(have, want) {
		return &models.CounterManagementError{
			CounterID: counterID,
			Reason:    fmt.Sprintf("attribute mismatch: path declares %v, command names %v", node.Attributes(), attributes),
		}
	}

	return nil
}

func (s *ManagedSchema) counterReferenced(id string) bool {
	found := false

	for _, r := range s.realms {
		r.Walk(func(_ []string, node *MemdexPath) {
			if node.HasCounter(id) {
				found = true
			}
		})
	}

	return found
}

type describer struct {
	text string
}

func (d *describer) VisitAppendCounter(cmd AppendCounter) error {
	d.text = fmt.Sprintf("append counter %s (%s) to %s:%s [%s]",
		cmd.Counter.ID, cmd.Counter.Describe(), cmd.Realm, FormatPath(cmd.Path), cmd.Template)

	return nil
}

func (d *describer) VisitDeleteCounter(cmd DeleteCounter) error {
	d.text = fmt.Sprintf("delete counter %s from %s:%s [%s]",
		cmd.CounterID, cmd.Realm, FormatPath(cmd.Path), cmd.Template)

	return nil
}

// UpdateSpec is the declarative form of a SchemaUpdate.
type UpdateSpec struct {
	Op         string      `yaml:"op"`
	Realm      string      `yaml:"realm"`
	Template   string      `yaml:"template"`
	Attributes []string    `yaml:"attributes,omitempty"`
	Path       []string    `yaml:"path"`
	Counter    CounterSpec `yaml:"counter,omitempty"`
	CounterID  string      `yaml:"counterId,omitempty"`
}

// ToUpdate converts the declarative form to a command.
func (u UpdateSpec) ToUpdate() (SchemaUpdate, error) {
	switch u.Op {
	case "append":
		c, err := u.Counter.ToCounterNode()
		if err != nil {
			return nil, err
		}

		return AppendCounter{Realm: u.Realm, Template: u.Template, Attributes: u.Attributes, Path: u.Path, Counter: c}, nil
	case "delete":
		return DeleteCounter{Realm: u.Realm, Template: u.Template, Path: u.Path, CounterID: u.CounterID}, nil
	}

	return nil, fmt.Errorf("unknown schema update op %q (want append or delete)", u.Op)
}

// ParseUpdates decodes a YAML list of update commands.
func ParseUpdates(data []byte) ([]SchemaUpdate, error) {
	var specs []UpdateSpec
	if err := yaml.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("decoding schema updates: %w", err)
	}

	updates := make([]SchemaUpdate, 0, len(specs))

	for i, spec := range specs {
		u, err := spec.ToUpdate()
		if err != nil {
			return nil, fmt.Errorf("update %d: %w", i, err)
		}

		updates = append(updates, u)
	}

	return updates, nil
}
