package loader

import (
	"slices"

	"github.com/persistorai/topograph/internal/header"
	"github.com/persistorai/topograph/internal/models"
	"github.com/persistorai/topograph/internal/schema"
)

// DeletionOrder orders keys so that every type comes before the types it
// references: referencing elements are deleted before what they reference.
// Unrelated types keep their input order. A relationship cycle is a
// SchemaTemplateError.
func DeletionOrder(s *schema.ManagedSchema, keys []models.ElementKey) ([]models.ElementKey, error) {
	return s.Dependencies().Sort(keys)
}

// InsertionOrder is the reverse of DeletionOrder: referenced types first.
func InsertionOrder(s *schema.ManagedSchema, keys []models.ElementKey) ([]models.ElementKey, error) {
	order, err := DeletionOrder(s, keys)
	if err != nil {
		return nil, err
	}

	slices.Reverse(order)

	return order, nil
}

// HeaderKeys returns the distinct element types named by headers, in column
// order.
func HeaderKeys(headers []header.HeaderElement) []models.ElementKey {
	var keys []models.ElementKey

	for _, h := range headers {
		for _, k := range h.Keys() {
			if !slices.Contains(keys, k) {
				keys = append(keys, k)
			}
		}
	}

	return keys
}
