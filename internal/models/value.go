package models

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// ValueType is the declared type of a tabular column.
type ValueType int

// Recognised value types.
const (
	TypeString ValueType = iota
	TypeNumber
	TypeBoolean
)

// ArraySuffix marks an array-valued type in header tokens and inferred schemas.
const ArraySuffix = "[]"

func (t ValueType) String() string {
	switch t {
	case TypeString:
		return "STRING"
	case TypeNumber:
		return "NUMBER"
	case TypeBoolean:
		return "BOOLEAN"
	}

	return fmt.Sprintf("ValueType(%d)", int(t))
}

// ParseValueType maps an enumerator name to its ValueType.
func ParseValueType(name string) (ValueType, error) {
	switch name {
	case "STRING":
		return TypeString, nil
	case "NUMBER":
		return TypeNumber, nil
	case "BOOLEAN":
		return TypeBoolean, nil
	}

	return TypeString, fmt.Errorf("unknown value type %q (want STRING, NUMBER or BOOLEAN)", name)
}

// InferValueType returns the type of a scalar runtime value.
// Anything that is neither numeric nor boolean is a string.
func InferValueType(v any) ValueType {
	switch v.(type) {
	case bool:
		return TypeBoolean
	case json.Number:
		return TypeNumber
	}

	switch reflect.ValueOf(v).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return TypeNumber
	default:
		return TypeString
	}
}

// InferType returns the type name used in exported schemas, e.g. "NUMBER"
// or "STRING[]". Array component types come from the first element; an
// empty array is a string array.
func InferType(v any) string {
	if v == nil {
		return TypeString.String()
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		component := TypeString
		if rv.Len() > 0 {
			component = InferValueType(rv.Index(0).Interface())
		}

		return component.String() + ArraySuffix
	}

	return InferValueType(v).String()
}

// Property names with a fixed export precedence.
const (
	PropTag  = "tag"
	PropID   = "id"
	PropName = "name"
)

func propertyRank(name string) int {
	switch name {
	case PropTag:
		return 0
	case PropID:
		return 1
	case PropName:
		return 2
	}

	return 3
}

// CompareProperties orders property names: tag, id, name, then lexicographic.
func CompareProperties(a, b string) int {
	ra, rb := propertyRank(a), propertyRank(b)
	if ra != rb {
		return ra - rb
	}

	return strings.Compare(a, b)
}

// SortProperties sorts names in place by CompareProperties.
func SortProperties(names []string) {
	sort.SliceStable(names, func(i, j int) bool {
		return CompareProperties(names[i], names[j]) < 0
	})
}
