package models

import "strings"

// Audit properties stamped on elements by the loader.
const (
	PropCreatedAt = "createdAt"
	PropCreatedBy = "createdBy"
	PropUpdatedAt = "updatedAt"
	PropUpdatedBy = "updatedBy"
)

// InternalPrefix marks engine-private properties.
const InternalPrefix = "_"

// Internal properties.
const (
	PropElementType = "_type"
	PropScope       = "_scope"
)

// IsAuditProperty reports whether name is one of the synthetic audit properties.
func IsAuditProperty(name string) bool {
	switch name {
	case PropCreatedAt, PropCreatedBy, PropUpdatedAt, PropUpdatedBy:
		return true
	}

	return false
}

// IsExportedProperty reports whether name belongs in an exported schema.
func IsExportedProperty(name string) bool {
	return !IsAuditProperty(name) && !strings.HasPrefix(name, InternalPrefix)
}
