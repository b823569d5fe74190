// Package introspection answers __schema and __type selections as if it were one
// more underlying service.
package introspection

import (
	"context"
	"fmt"

	"github.com/hanpama/fedgate/internal/normalized"
	"github.com/hanpama/fedgate/internal/schema"
	"github.com/hanpama/fedgate/internal/service"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

// ServiceName is the name the engine routes introspection fields to.
const ServiceName = "__introspection"

// Service resolves introspection documents against a schema model.
type Service struct {
	schema *schema.Schema
}

func NewService(sch *schema.Schema) *Service {
	return &Service{schema: sch}
}

// IsIntrospectionField reports whether a root field is served here.
func IsIntrospectionField(name string) bool {
	return name == "__schema" || name == "__type"
}

func (s *Service) Execute(ctx context.Context, params *service.Parameters) (*service.Result, error) {
	if params.Query == nil {
		return nil, fmt.Errorf("introspection needs a parsed document")
	}
	op, err := normalized.SelectOperation(params.Query, params.OperationName)
	if err != nil {
		return nil, err
	}
	r := &resolver{schema: s.schema, vars: params.Variables}
	data := map[string]any{}
	for _, f := range r.collect(op.SelectionSet, s.schema.QueryType) {
		key := resultKey(f)
		switch f.Name {
		case "__schema":
			data[key] = r.complete(s.schema, f.SelectionSet)
		case "__type":
			data[key] = r.complete(resolveTypeQuery(s.schema, r.arguments(f)), f.SelectionSet)
		case normalized.TypeNameField:
			data[key] = s.schema.QueryType
		default:
			r.errors = append(r.errors, &gqlerror.Error{
				Message: fmt.Sprintf("field %q is not an introspection field", f.Name),
				Path:    ast.Path{ast.PathName(key)},
			})
			data[key] = nil
		}
	}
	return &service.Result{Data: data, Errors: service.ErrorMaps(r.errors)}, nil
}

type resolver struct {
	schema *schema.Schema
	vars   map[string]any
	errors gqlerror.List
}

func resultKey(f *ast.Field) string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.Name
}

// collect flattens inline fragments that apply to typeName.
func (r *resolver) collect(set ast.SelectionSet, typeName string) []*ast.Field {
	var out []*ast.Field
	for _, sel := range set {
		switch s := sel.(type) {
		case *ast.Field:
			out = append(out, s)
		case *ast.InlineFragment:
			if s.TypeCondition == "" || s.TypeCondition == typeName {
				out = append(out, r.collect(s.SelectionSet, typeName)...)
			}
		}
	}
	return out
}

func (r *resolver) arguments(f *ast.Field) map[string]any {
	out := make(map[string]any, len(f.Arguments))
	for _, arg := range f.Arguments {
		v, err := arg.Value.Value(r.vars)
		if err != nil {
			continue
		}
		out[arg.Name] = v
	}
	return out
}

func typeNameOf(source any) string {
	switch source.(type) {
	case *schema.Schema:
		return "__Schema"
	case *schema.Type, *schema.TypeRef:
		return "__Type"
	case *schema.Field:
		return "__Field"
	case *schema.InputValue:
		return "__InputValue"
	case *schema.EnumValue:
		return "__EnumValue"
	case *schema.Directive:
		return "__Directive"
	}
	return ""
}

func (r *resolver) field(source any, name string, args map[string]any) (any, bool) {
	switch src := source.(type) {
	case *schema.Schema:
		return resolveSchemaField(src, name)
	case *schema.Type:
		return resolveTypeField(r.schema, src, name, args)
	case *schema.TypeRef:
		return resolveTypeRefField(r.schema, src, name, args)
	case *schema.Field:
		return resolveFieldField(src, name, args)
	case *schema.InputValue:
		return resolveInputValueField(src, name)
	case *schema.EnumValue:
		return resolveEnumValueField(src, name)
	case *schema.Directive:
		return resolveDirectiveField(src, name, args)
	}
	return nil, false
}

// object resolves a selection set on one introspection value.
func (r *resolver) object(source any, set ast.SelectionSet) map[string]any {
	typeName := typeNameOf(source)
	out := map[string]any{}
	for _, f := range r.collect(set, typeName) {
		key := resultKey(f)
		if f.Name == normalized.TypeNameField {
			out[key] = typeName
			continue
		}
		v, ok := r.field(source, f.Name, r.arguments(f))
		if !ok {
			r.errors = append(r.errors, &gqlerror.Error{Message: fmt.Sprintf("unknown field %s.%s", typeName, f.Name)})
			out[key] = nil
			continue
		}
		out[key] = r.complete(v, f.SelectionSet)
	}
	return out
}

// complete turns a resolved value into JSON-shaped data.
func (r *resolver) complete(v any, set ast.SelectionSet) any {
	switch x := v.(type) {
	case nil:
		return nil
	case *schema.Schema:
		if x == nil {
			return nil
		}
		return r.object(x, set)
	case *schema.Type:
		if x == nil {
			return nil
		}
		return r.object(x, set)
	case *schema.TypeRef:
		if x == nil {
			return nil
		}
		return r.object(x, set)
	case *string:
		if x == nil {
			return nil
		}
		return *x
	case []*schema.Type:
		return list(x, func(item *schema.Type) any { return r.object(item, set) })
	case []*schema.Field:
		return list(x, func(item *schema.Field) any { return r.object(item, set) })
	case []*schema.InputValue:
		return list(x, func(item *schema.InputValue) any { return r.object(item, set) })
	case []*schema.EnumValue:
		return list(x, func(item *schema.EnumValue) any { return r.object(item, set) })
	case []*schema.Directive:
		return list(x, func(item *schema.Directive) any { return r.object(item, set) })
	case []string:
		return list(x, func(item string) any { return item })
	case *schema.Field, *schema.InputValue, *schema.EnumValue, *schema.Directive:
		return r.object(x, set)
	case schema.TypeKind:
		return string(x)
	}
	return v
}

// list completes items, keeping a nil slice as null.
func list[T any](items []T, fn func(T) any) any {
	if items == nil {
		return nil
	}
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = fn(item)
	}
	return out
}
