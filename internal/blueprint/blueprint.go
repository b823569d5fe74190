// Package blueprint holds the static execution plan read from the merged service
// schemas: field instructions, type renames and field ownership.
package blueprint

import (
	"sort"

	"github.com/hanpama/fedgate/internal/schema"
	"github.com/vektah/gqlparser/v2/ast"
)

// Blueprint is built once and shared read-only by every execution.
type Blueprint struct {
	// Schema is the validated overall schema including the directive prelude.
	Schema *ast.Schema
	// Model is the client-facing schema with the prelude removed.
	Model    *schema.Schema
	Services map[string]*Service

	instructions map[FieldCoordinates][]FieldInstruction
	owners       map[FieldCoordinates]string
}

// Service is one underlying service.
type Service struct {
	Name       string
	Underlying *ast.Schema

	toUnderlying map[string]string
	toOverall    map[string]string
}

// NewService describes a service whose underlying schema uses overall type names.
func NewService(name string, underlying *ast.Schema, renames ...TypeRename) *Service {
	s := &Service{
		Name:         name,
		Underlying:   underlying,
		toUnderlying: make(map[string]string),
		toOverall:    make(map[string]string),
	}
	for _, r := range renames {
		s.toUnderlying[r.OverallName] = r.UnderlyingName
		s.toOverall[r.UnderlyingName] = r.OverallName
	}
	return s
}

func (s *Service) UnderlyingTypeName(overall string) string {
	if name, ok := s.toUnderlying[overall]; ok {
		return name
	}
	return overall
}

func (s *Service) UnderlyingTypeNames(overall []string) []string {
	out := make([]string, len(overall))
	for i, name := range overall {
		out[i] = s.UnderlyingTypeName(name)
	}
	return out
}

func (s *Service) OverallTypeName(underlying string) string {
	if name, ok := s.toOverall[underlying]; ok {
		return name
	}
	return underlying
}

// Owns reports whether the service can answer for the overall type.
func (s *Service) Owns(overall string) bool {
	return s.Underlying != nil && s.Underlying.Types[s.UnderlyingTypeName(overall)] != nil
}

// HasTypeRenames reports whether any of the overall types is renamed in the service.
func (s *Service) HasTypeRenames(overall []string) bool {
	for _, name := range overall {
		if _, ok := s.toUnderlying[name]; ok {
			return true
		}
	}
	return false
}

func (s *Service) TypeRenames() []TypeRename {
	out := make([]TypeRename, 0, len(s.toUnderlying))
	for overall, underlying := range s.toUnderlying {
		out = append(out, TypeRename{Service: s.Name, OverallName: overall, UnderlyingName: underlying})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OverallName < out[j].OverallName })
	return out
}

// UnderlyingField looks up the underlying definition for overall coordinates.
func (s *Service) UnderlyingField(overallType, fieldName string) *ast.FieldDefinition {
	if s.Underlying == nil {
		return nil
	}
	def := s.Underlying.Types[s.UnderlyingTypeName(overallType)]
	if def == nil {
		return nil
	}
	return def.Fields.ForName(fieldName)
}

func (b *Blueprint) FieldInstructions(coords FieldCoordinates) []FieldInstruction {
	return b.instructions[coords]
}

// InstructionsOf returns the instructions of type T declared on (typeName, fieldName).
func InstructionsOf[T FieldInstruction](b *Blueprint, typeName, fieldName string) []T {
	var out []T
	for _, ins := range b.instructions[FieldCoordinates{TypeName: typeName, FieldName: fieldName}] {
		if t, ok := ins.(T); ok {
			out = append(out, t)
		}
	}
	return out
}

// Owner returns the service owning a root field or a field of a namespace type.
func (b *Blueprint) Owner(typeName, fieldName string) (string, bool) {
	svc, ok := b.owners[FieldCoordinates{TypeName: typeName, FieldName: fieldName}]
	return svc, ok
}

// Field returns the overall definition of a field.
func (b *Blueprint) Field(typeName, fieldName string) *ast.FieldDefinition {
	def := b.Schema.Types[typeName]
	if def == nil {
		return nil
	}
	return def.Fields.ForName(fieldName)
}

// IsNamespaced reports whether a root field groups fields of several services.
func (b *Blueprint) IsNamespaced(typeName, fieldName string) bool {
	fd := b.Field(typeName, fieldName)
	return fd != nil && fd.Directives.ForName(directiveNamespaced) != nil
}

func (b *Blueprint) ServiceNames() []string {
	out := make([]string, 0, len(b.Services))
	for name := range b.Services {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
