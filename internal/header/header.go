// Package header parses typed column headers of tabular topology input.
//
// A header token names the element type(s) a column belongs to, the property
// it carries and the property's value type:
//
//	neType:interface.id:NUMBER[]
//	(neType:interface|neType:cos).id:NUMBER
//
// The type defaults to STRING. A trailing "[]" marks an array column whose
// cells hold ";"-separated values.
package header

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/persistorai/topograph/internal/models"
)

// ArraySeparator splits array cells into items.
const ArraySeparator = ";"

// HeaderElement is a parsed column header. It is either a
// SimpleElementHeader or a MultiElementHeader.
type HeaderElement interface {
	// Index returns the zero-based column the header was read from.
	Index() int
	// Keys returns the element types the column applies to.
	Keys() []models.ElementKey
	// Spec returns the property, type and array flag of the column.
	Spec() Field
	// String renders the header back to its token form.
	String() string

	headerElement()
}

// Field is the property part of a header: name, value type and array flag.
type Field struct {
	Property string
	Type     models.ValueType
	Array    bool
}

// TypeName renders the field type as it appears in tokens, e.g. "NUMBER[]".
func (f Field) TypeName() string {
	if f.Array {
		return f.Type.String() + models.ArraySuffix
	}

	return f.Type.String()
}

// SimpleElementHeader is a column belonging to one element type.
type SimpleElementHeader struct {
	Element models.ElementKey
	Field
	Column int
}

// MultiElementHeader is a column shared by several element types. The first
// listed element is the source, the last the target.
type MultiElementHeader struct {
	Elements []models.ElementKey
	Field
	Column int
}

func (h SimpleElementHeader) headerElement() {}
func (h MultiElementHeader) headerElement()  {}

// Index returns the column index.
func (h SimpleElementHeader) Index() int { return h.Column }

// Index returns the column index.
func (h MultiElementHeader) Index() int { return h.Column }

// Keys returns the single element type.
func (h SimpleElementHeader) Keys() []models.ElementKey { return []models.ElementKey{h.Element} }

// Keys returns a copy of the listed element types.
func (h MultiElementHeader) Keys() []models.ElementKey {
	return append([]models.ElementKey(nil), h.Elements...)
}

// Spec returns the field part.
func (h SimpleElementHeader) Spec() Field { return h.Field }

// Spec returns the field part.
func (h MultiElementHeader) Spec() Field { return h.Field }

func (h SimpleElementHeader) String() string {
	return Token(h.Element, h.Property, h.TypeName())
}

func (h MultiElementHeader) String() string {
	names := make([]string, len(h.Elements))
	for i, e := range h.Elements {
		names[i] = string(e)
	}

	return "(" + strings.Join(names, "|") + ")." + h.Property + ":" + h.TypeName()
}

// SourceElement returns the first listed element type.
func (h MultiElementHeader) SourceElement() models.ElementKey { return h.Elements[0] }

// TargetElementName returns the last listed element type.
func (h MultiElementHeader) TargetElementName() models.ElementKey {
	return h.Elements[len(h.Elements)-1]
}

// Token renders a single-element header token.
func Token(element models.ElementKey, property, typeName string) string {
	return string(element) + "." + property + ":" + typeName
}

// Parse parses one header token read from column.
func Parse(column int, token string) (HeaderElement, error) {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return nil, parseErr(column, token, "empty header")
	}

	var (
		keys []models.ElementKey
		rest string
		err  error
	)

	if strings.HasPrefix(tok, "(") {
		keys, rest, err = parseGroup(tok)
	} else {
		keys, rest, err = parseTerm(tok)
	}

	if err != nil {
		return nil, parseErr(column, token, err.Error())
	}

	field, err := parseField(rest)
	if err != nil {
		return nil, parseErr(column, token, err.Error())
	}

	if len(keys) == 1 {
		return SimpleElementHeader{Element: keys[0], Field: field, Column: column}, nil
	}

	return MultiElementHeader{Elements: keys, Field: field, Column: column}, nil
}

// ParseHeaders parses a header row, stopping at the first bad token.
// A column repeating an element type and property already seen is rejected.
func ParseHeaders(tokens []string) ([]HeaderElement, error) {
	headers := make([]HeaderElement, 0, len(tokens))
	seen := make(map[string]int, len(tokens))

	for i, tok := range tokens {
		h, err := Parse(i, tok)
		if err != nil {
			return nil, err
		}

		for _, k := range h.Keys() {
			id := string(k) + "." + h.Spec().Property
			if prev, dup := seen[id]; dup {
				return nil, parseErr(i, tok, fmt.Sprintf("%s already set by column %d", id, prev))
			}

			seen[id] = i
		}

		headers = append(headers, h)
	}

	return headers, nil
}

func parseErr(column int, token, reason string) error {
	return &models.HeaderParseError{Column: column, Token: token, Reason: reason}
}

// parseTerm splits "category:name.rest".
func parseTerm(tok string) ([]models.ElementKey, string, error) {
	term, rest, ok := strings.Cut(tok, ".")
	if !ok {
		return nil, "", fmt.Errorf("missing \".\" between element type and property")
	}

	k, err := models.ParseElementKey(term)
	if err != nil {
		return nil, "", err
	}

	return []models.ElementKey{k}, rest, nil
}

// parseGroup splits "(a|b|...).rest".
func parseGroup(tok string) ([]models.ElementKey, string, error) {
	end := strings.IndexByte(tok, ')')
	if end < 0 {
		return nil, "", fmt.Errorf("unclosed \"(\"")
	}

	inner, rest := tok[1:end], tok[end+1:]

	if !strings.HasPrefix(rest, ".") {
		return nil, "", fmt.Errorf("missing \".\" after element group")
	}

	parts := strings.Split(inner, "|")
	if len(parts) < 2 {
		return nil, "", fmt.Errorf("element group needs at least two element types")
	}

	keys := make([]models.ElementKey, 0, len(parts))

	for _, p := range parts {
		k, err := models.ParseElementKey(strings.TrimSpace(p))
		if err != nil {
			return nil, "", err
		}

		for _, prev := range keys {
			if prev == k {
				return nil, "", fmt.Errorf("element type %s listed twice", k)
			}
		}

		keys = append(keys, k)
	}

	return keys, rest[1:], nil
}

// parseField parses "property[:TYPE][[]]".
func parseField(s string) (Field, error) {
	var f Field

	if trimmed, ok := strings.CutSuffix(s, models.ArraySuffix); ok {
		f.Array = true
		s = trimmed
	}

	property, typeName, typed := strings.Cut(s, ":")
	if err := validProperty(property); err != nil {
		return Field{}, err
	}

	f.Property = property

	if typed {
		vt, err := models.ParseValueType(typeName)
		if err != nil {
			return Field{}, err
		}

		f.Type = vt
	}

	return f, nil
}

func validProperty(p string) error {
	if p == "" {
		return fmt.Errorf("missing property name")
	}

	if strings.ContainsAny(p, ".:()|[]=, \t") {
		return fmt.Errorf("invalid character in property %q", p)
	}

	return nil
}

// Convert turns a raw cell into a typed value. The second result is false
// when the cell is empty, meaning the column carries no value for the row.
func (f Field) Convert(raw string) (any, bool, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, false, nil
	}

	if !f.Array {
		v, err := f.scalar(raw)
		if err != nil {
			return nil, false, err
		}

		return v, true, nil
	}

	items := strings.Split(raw, ArraySeparator)
	out := make([]any, 0, len(items))

	for i, item := range items {
		v, err := f.scalar(item)
		if err != nil {
			return nil, false, fmt.Errorf("item %d: %w", i, err)
		}

		out = append(out, v)
	}

	return out, true, nil
}

func (f Field) scalar(raw string) (any, error) {
	switch f.Type {
	case models.TypeNumber:
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%q is not a NUMBER", raw)
		}

		return v, nil
	case models.TypeBoolean:
		v, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("%q is not a BOOLEAN", raw)
		}

		return v, nil
	case models.TypeString:
		return raw, nil
	}

	panic(fmt.Sprintf("header: unhandled value type %v", f.Type))
}
