package schema

import (
	"fmt"
	"sort"

	"github.com/persistorai/topograph/internal/models"
)

// CounterType is the closed set of counter kinds.
type CounterType interface {
	// Kind returns the YAML name of the variant.
	Kind() string
	counterType()
}

// CountCounter counts elements of a sub-type below the template node.
type CountCounter struct {
	SubType string
}

// SumCounter sums a numeric element property.
type SumCounter struct {
	Property string
}

// RatioCounter divides one counter by another.
type RatioCounter struct {
	Numerator   string
	Denominator string
}

func (CountCounter) Kind() string { return "count" }
func (SumCounter) Kind() string   { return "sum" }
func (RatioCounter) Kind() string { return "ratio" }

func (CountCounter) counterType() {}
func (SumCounter) counterType()   {}
func (RatioCounter) counterType() {}

// CounterNode is a named counter definition.
type CounterNode struct {
	ID   string
	Name string
	Type CounterType
}

// Describe renders the counter type with its parameters.
func (c CounterNode) Describe() string {
	switch t := c.Type.(type) {
	case CountCounter:
		return fmt.Sprintf("count(%s)", t.SubType)
	case SumCounter:
		return fmt.Sprintf("sum(%s)", t.Property)
	case RatioCounter:
		return fmt.Sprintf("ratio(%s/%s)", t.Numerator, t.Denominator)
	case nil:
		return "untyped"
	}

	panic(fmt.Sprintf("schema: unhandled counter type %T", c.Type))
}

// validate checks the variant's required parameters.
func (c CounterNode) validate() error {
	if c.ID == "" {
		return &models.CounterManagementError{Reason: "counter id is required"}
	}

	switch t := c.Type.(type) {
	case CountCounter:
		if t.SubType == "" {
			return &models.CounterManagementError{CounterID: c.ID, Reason: "count counter needs a sub-type"}
		}
	case SumCounter:
		if t.Property == "" {
			return &models.CounterManagementError{CounterID: c.ID, Reason: "sum counter needs a property"}
		}
	case RatioCounter:
		if t.Numerator == "" || t.Denominator == "" {
			return &models.CounterManagementError{CounterID: c.ID, Reason: "ratio counter needs numerator and denominator"}
		}
	case nil:
		return &models.CounterManagementError{CounterID: c.ID, Reason: "counter type is required"}
	default:
		panic(fmt.Sprintf("schema: unhandled counter type %T", c.Type))
	}

	return nil
}

// CountersDefinition maps counter identifiers to definitions and records
// which of them are fully managed by the system. It is immutable.
type CountersDefinition struct {
	counters map[string]CounterNode
	managed  map[string]struct{}
}

// Get returns the counter with id.
func (d *CountersDefinition) Get(id string) (CounterNode, bool) {
	c, ok := d.counters[id]
	return c, ok
}

// IsManaged reports whether id is a system-owned counter.
func (d *CountersDefinition) IsManaged(id string) bool {
	_, ok := d.managed[id]
	return ok
}

// IDs returns all counter identifiers, sorted.
func (d *CountersDefinition) IDs() []string {
	ids := make([]string, 0, len(d.counters))
	for id := range d.counters {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

// Len returns the number of counters.
func (d *CountersDefinition) Len() int { return len(d.counters) }

// ToBuilder returns a builder seeded with this definition.
func (d *CountersDefinition) ToBuilder() *CountersDefinitionBuilder {
	b := NewCountersDefinitionBuilder()
	for id, c := range d.counters {
		b.counters[id] = c
	}

	for id := range d.managed {
		b.managed[id] = struct{}{}
	}

	return b
}

// CountersDefinitionBuilder accumulates counters before Build.
type CountersDefinitionBuilder struct {
	counters map[string]CounterNode
	managed  map[string]struct{}
}

// NewCountersDefinitionBuilder returns an empty builder.
func NewCountersDefinitionBuilder() *CountersDefinitionBuilder {
	return &CountersDefinitionBuilder{
		counters: make(map[string]CounterNode),
		managed:  make(map[string]struct{}),
	}
}

// Add registers a counter. Identifiers must be unique.
func (b *CountersDefinitionBuilder) Add(c CounterNode, managed bool) error {
	if err := c.validate(); err != nil {
		return err
	}

	if _, exists := b.counters[c.ID]; exists {
		return &models.CounterManagementError{CounterID: c.ID, Reason: "identifier already defined"}
	}

	b.counters[c.ID] = c
	if managed {
		b.managed[c.ID] = struct{}{}
	}

	return nil
}

// Remove drops a counter and its managed mark.
func (b *CountersDefinitionBuilder) Remove(id string) {
	delete(b.counters, id)
	delete(b.managed, id)
}

// Build snapshots the builder. Later builder changes do not affect the result.
func (b *CountersDefinitionBuilder) Build() *CountersDefinition {
	d := &CountersDefinition{
		counters: make(map[string]CounterNode, len(b.counters)),
		managed:  make(map[string]struct{}, len(b.managed)),
	}

	for id, c := range b.counters {
		d.counters[id] = c
	}

	for id := range b.managed {
		if _, ok := d.counters[id]; ok {
			d.managed[id] = struct{}{}
		}
	}

	return d
}
