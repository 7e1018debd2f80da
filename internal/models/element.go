// Package models defines the value, key and error types shared by the
// topology engine.
package models

import (
	"fmt"
	"strings"
)

// Element-type categories.
const (
	CategoryNetworkElement = "neType"
	CategoryCluster        = "cluster"
)

// Graph labels and relationship types written by the engine.
const (
	LabelElement = "Element"
	LabelPlanet  = "Planet"

	RelParent = "PARENT"
	RelLink   = "LINK"
	RelPlanet = "PLANET"
)

// ElementKey identifies an element type as "category:name", e.g. "neType:cpe".
type ElementKey string

// ParseElementKey validates s and returns it as an ElementKey.
func ParseElementKey(s string) (ElementKey, error) {
	k := ElementKey(s)
	if err := k.Validate(); err != nil {
		return "", err
	}

	return k, nil
}

// Validate checks the category:name shape and the category.
func (k ElementKey) Validate() error {
	category, name, ok := strings.Cut(string(k), ":")
	if !ok || name == "" || category == "" {
		return fmt.Errorf("element type %q: want category:name", string(k))
	}

	if strings.ContainsAny(name, ":.()|=,[] ") {
		return fmt.Errorf("element type %q: invalid character in name", string(k))
	}

	if category != CategoryNetworkElement && category != CategoryCluster {
		return fmt.Errorf("element type %q: unknown category %q", string(k), category)
	}

	return nil
}

// Category returns the part before the colon.
func (k ElementKey) Category() string {
	category, _, _ := strings.Cut(string(k), ":")
	return category
}

// Name returns the part after the colon.
func (k ElementKey) Name() string {
	_, name, _ := strings.Cut(string(k), ":")
	return name
}

// IsNetworkElement reports whether the key is in the network-element category.
func (k ElementKey) IsNetworkElement() bool {
	return k.Category() == CategoryNetworkElement
}

// IsCluster reports whether the key is in the cluster category.
func (k ElementKey) IsCluster() bool {
	return k.Category() == CategoryCluster
}

func (k ElementKey) String() string { return string(k) }
