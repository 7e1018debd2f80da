package models

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors matched by the typed errors below via errors.Is.
var (
	ErrSchemaTemplate    = errors.New("schema template error")
	ErrHeaderParse       = errors.New("header parse error")
	ErrRowLoad           = errors.New("row load error")
	ErrScopeResolution   = errors.New("scope resolution error")
	ErrCounterManagement = errors.New("counter management error")
)

// SchemaTemplateError reports a malformed or unsatisfiable schema template.
type SchemaTemplateError struct {
	Path   string
	Reason string
}

func (e *SchemaTemplateError) Error() string {
	if e.Path == "" {
		return "schema template: " + e.Reason
	}

	return fmt.Sprintf("schema template %s: %s", e.Path, e.Reason)
}

// Is reports whether target is ErrSchemaTemplate.
func (e *SchemaTemplateError) Is(target error) bool { return target == ErrSchemaTemplate }

// NewSchemaTemplateError builds a SchemaTemplateError with a formatted reason.
func NewSchemaTemplateError(path, format string, args ...any) error {
	return &SchemaTemplateError{Path: path, Reason: fmt.Sprintf(format, args...)}
}

// HeaderParseError reports an unparseable column header token.
type HeaderParseError struct {
	Column int
	Token  string
	Reason string
}

func (e *HeaderParseError) Error() string {
	return fmt.Sprintf("header column %d %q: %s", e.Column, e.Token, e.Reason)
}

// Is reports whether target is ErrHeaderParse.
func (e *HeaderParseError) Is(target error) bool { return target == ErrHeaderParse }

// RowLoadError reports why a single data row could not be applied.
type RowLoadError struct {
	Line   int
	Reason string
}

func (e *RowLoadError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

// Is reports whether target is ErrRowLoad.
func (e *RowLoadError) Is(target error) bool { return target == ErrRowLoad }

// NewRowLoadError builds a RowLoadError with a formatted reason.
func NewRowLoadError(line int, format string, args ...any) error {
	return &RowLoadError{Line: line, Reason: fmt.Sprintf(format, args...)}
}

// ScopeResolutionError reports that no planet could be resolved for an element.
type ScopeResolutionError struct {
	ElementType string
	Scope       string
	Reason      string
}

func (e *ScopeResolutionError) Error() string {
	return fmt.Sprintf("resolving planet for %s in scope %q: %s", e.ElementType, e.Scope, e.Reason)
}

// Is reports whether target is ErrScopeResolution.
func (e *ScopeResolutionError) Is(target error) bool { return target == ErrScopeResolution }

// CounterManagementError reports a rejected counter mutation.
type CounterManagementError struct {
	CounterID string
	Reason    string
}

func (e *CounterManagementError) Error() string {
	return fmt.Sprintf("counter %q: %s", e.CounterID, e.Reason)
}

// Is reports whether target is ErrCounterManagement.
func (e *CounterManagementError) Is(target error) bool { return target == ErrCounterManagement }

// CycleError builds the SchemaTemplateError reported for a dependency cycle.
func CycleError(members []string) error {
	return &SchemaTemplateError{Reason: "relationship cycle between " + strings.Join(members, ", ")}
}
