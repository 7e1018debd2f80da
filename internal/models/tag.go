package models

import (
	"fmt"
	"sort"
	"strings"
)

// TagPair is one key=value component of a Tag.
type TagPair struct {
	Key   string
	Value string
}

// Tag is the canonical unique key of a graph node, rendered "k1=v1,k2=v2".
type Tag []TagPair

// NewTag builds a tag from values, ordering keys by rank. Keys missing from
// rank sort after ranked keys, lexicographically.
func NewTag(values map[string]string, rank map[string]int) Tag {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}

	sort.Slice(keys, func(i, j int) bool {
		ri, iok := rank[keys[i]]
		rj, jok := rank[keys[j]]

		switch {
		case iok && jok && ri != rj:
			return ri < rj
		case iok != jok:
			return iok
		default:
			return keys[i] < keys[j]
		}
	})

	tag := make(Tag, 0, len(keys))
	for _, k := range keys {
		tag = append(tag, TagPair{Key: k, Value: values[k]})
	}

	return tag
}

func (t Tag) String() string {
	var b strings.Builder

	for i, p := range t {
		if i > 0 {
			b.WriteByte(',')
		}

		b.WriteString(p.Key)
		b.WriteByte('=')
		b.WriteString(p.Value)
	}

	return b.String()
}

// Get returns the value for key.
func (t Tag) Get(key string) (string, bool) {
	for _, p := range t {
		if p.Key == key {
			return p.Value, true
		}
	}

	return "", false
}

// ParseTag parses the "k1=v1,k2=v2" form back into pairs.
func ParseTag(s string) (Tag, error) {
	if s == "" {
		return nil, fmt.Errorf("empty tag")
	}

	parts := strings.Split(s, ",")
	tag := make(Tag, 0, len(parts))

	for _, part := range parts {
		k, v, ok := strings.Cut(part, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("tag %q: malformed pair %q", s, part)
		}

		tag = append(tag, TagPair{Key: k, Value: v})
	}

	return tag, nil
}

// ValidTagValue reports whether v can be embedded in a tag without
// breaking its key=value,... form.
func ValidTagValue(v string) bool {
	return v != "" && !strings.ContainsAny(v, ",=")
}
