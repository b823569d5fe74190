// Package compile turns a transformed field tree into a GraphQL document for one service.
package compile

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/hanpama/fedgate/internal/language"
	"github.com/hanpama/fedgate/internal/normalized"
	"github.com/hanpama/fedgate/internal/schema"
	"github.com/vektah/gqlparser/v2/ast"
)

// Document is a compiled operation ready to send.
type Document struct {
	AST       *ast.QueryDocument
	Text      string
	Variables map[string]any
}

// VariablePredicate decides whether an argument value is sent as a variable
// instead of an inline literal.
type VariablePredicate func(sch *ast.Schema, value *normalized.Value) bool

// CustomScalarVariables sends values of custom scalar types as variables. Those
// values can be arbitrary JSON that has no literal form.
func CustomScalarVariables(sch *ast.Schema, value *normalized.Value) bool {
	if value == nil || value.Type == nil {
		return false
	}
	def := sch.Types[value.Type.Name()]
	return def != nil && def.Kind == ast.Scalar && !schema.IsBuiltinScalar(def.Name)
}

// AllVariables sends every typed argument as a variable.
func AllVariables(_ *ast.Schema, value *normalized.Value) bool {
	return value != nil && value.Type != nil
}

// Compile builds an operation of the given kind selecting fields from the root
// type. Variables are named v0, v1, ... in depth-first order of the fields, with
// each field's arguments visited by name.
func Compile(sch *ast.Schema, kind ast.Operation, name string, fields []*normalized.Field, variables VariablePredicate) (*Document, error) {
	if variables == nil {
		variables = CustomScalarVariables
	}
	root := normalized.RootType(sch, kind)
	if root == nil {
		return nil, fmt.Errorf("schema does not support %s operations", kind)
	}
	c := &compiler{schema: sch, predicate: variables, values: map[string]any{}}
	selections, err := c.selectionSet(fields, root.Name, []string{root.Name})
	if err != nil {
		return nil, err
	}
	op := &ast.OperationDefinition{
		Operation:           kind,
		Name:                name,
		VariableDefinitions: c.definitions,
		SelectionSet:        selections,
	}
	doc := &ast.QueryDocument{Operations: ast.OperationList{op}}
	return &Document{AST: doc, Text: language.Format(doc), Variables: c.values}, nil
}

type compiler struct {
	schema      *ast.Schema
	predicate   VariablePredicate
	definitions ast.VariableDefinitionList
	values      map[string]any
}

// selectionSet prints fields under a parent of static type parent whose
// possible object types are parentTypes. Fields that cannot be selected on the
// parent directly are wrapped in inline fragments, and deferred fields are
// grouped by label.
func (c *compiler) selectionSet(fields []*normalized.Field, parent string, parentTypes []string) (ast.SelectionSet, error) {
	var out ast.SelectionSet
	var labels []string
	deferred := map[string][]*normalized.Field{}
	var immediate []*normalized.Field
	for _, f := range fields {
		if f.Defer == nil {
			immediate = append(immediate, f)
			continue
		}
		if _, ok := deferred[f.Defer.Label]; !ok {
			labels = append(labels, f.Defer.Label)
		}
		deferred[f.Defer.Label] = append(deferred[f.Defer.Label], f)
	}

	sel, err := c.typed(immediate, parent, parentTypes)
	if err != nil {
		return nil, err
	}
	out = append(out, sel...)

	for _, label := range labels {
		inner, err := c.typed(deferred[label], parent, parentTypes)
		if err != nil {
			return nil, err
		}
		d := &ast.Directive{Name: "defer"}
		if label != "" {
			d.Arguments = ast.ArgumentList{{Name: "label", Value: &ast.Value{Kind: ast.StringValue, Raw: label}}}
		}
		out = append(out, &ast.InlineFragment{Directives: ast.DirectiveList{d}, SelectionSet: inner})
	}
	return out, nil
}

func (c *compiler) typed(fields []*normalized.Field, parent string, parentTypes []string) (ast.SelectionSet, error) {
	var out ast.SelectionSet
	var conditions []string
	byType := map[string]ast.SelectionSet{}
	for _, f := range fields {
		plain := f.IsTypeName() || (c.declares(parent, f.Name) && coversAll(f.ObjectTypeNames, parentTypes))
		if plain {
			sel, err := c.field(f)
			if err != nil {
				return nil, err
			}
			out = append(out, sel)
			continue
		}
		for _, t := range f.ObjectTypeNames {
			sel, err := c.field(f)
			if err != nil {
				return nil, err
			}
			if _, ok := byType[t]; !ok {
				conditions = append(conditions, t)
			}
			byType[t] = append(byType[t], sel)
		}
	}
	sort.Strings(conditions)
	for _, t := range conditions {
		out = append(out, &ast.InlineFragment{TypeCondition: t, SelectionSet: byType[t]})
	}
	return out, nil
}

// declares reports whether name can be selected on the static type parent.
// Unions declare no fields. An unknown parent is trusted.
func (c *compiler) declares(parent, name string) bool {
	def := c.schema.Types[parent]
	if def == nil {
		return true
	}
	switch def.Kind {
	case ast.Object:
		return true
	case ast.Interface:
		return def.Fields.ForName(name) != nil
	}
	return false
}

func coversAll(types, parentTypes []string) bool {
	if len(parentTypes) == 0 {
		return true
	}
	for _, p := range parentTypes {
		found := false
		for _, t := range types {
			if t == p {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (c *compiler) field(f *normalized.Field) (*ast.Field, error) {
	out := &ast.Field{Name: f.Name, Alias: f.Alias}
	if f.Alias == f.Name {
		out.Alias = ""
	}
	names := make([]string, 0, len(f.Arguments))
	for name := range f.Arguments {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v, err := c.argument(f.Arguments[name])
		if err != nil {
			return nil, fmt.Errorf("argument %q of %s: %w", name, f.Name, err)
		}
		out.Arguments = append(out.Arguments, &ast.Argument{Name: name, Value: v})
	}
	if len(f.Children) > 0 {
		named, possible := c.childTypes(f)
		sel, err := c.selectionSet(f.Children, named, possible)
		if err != nil {
			return nil, err
		}
		out.SelectionSet = sel
	}
	return out, nil
}

// childTypes returns the named return type of the field and its possible
// object types.
func (c *compiler) childTypes(f *normalized.Field) (string, []string) {
	for _, t := range f.ObjectTypeNames {
		def := c.schema.Types[t]
		if def == nil {
			continue
		}
		if fd := def.Fields.ForName(f.Name); fd != nil {
			return fd.Type.Name(), normalized.PossibleObjectTypes(c.schema, fd.Type.Name())
		}
	}
	return "", nil
}

func (c *compiler) argument(v *normalized.Value) (*ast.Value, error) {
	if v == nil {
		return nullValue(), nil
	}
	if c.predicate(c.schema, v) {
		name := "v" + strconv.Itoa(len(c.definitions))
		c.definitions = append(c.definitions, &ast.VariableDefinition{Variable: name, Type: v.Type})
		c.values[name] = v.Value
		return &ast.Value{Kind: ast.Variable, Raw: name}, nil
	}
	return c.literal(v.Type, v.Value)
}

func nullValue() *ast.Value {
	return &ast.Value{Kind: ast.NullValue, Raw: "null"}
}

// literal renders a Go value as a GraphQL literal of type t. Enum and input
// object types come from the schema; a nil type infers the literal from the value.
func (c *compiler) literal(t *ast.Type, value any) (*ast.Value, error) {
	if value == nil {
		return nullValue(), nil
	}
	if t != nil && t.Elem != nil {
		list, ok := value.([]any)
		if !ok {
			return c.literal(t.Elem, value)
		}
		out := &ast.Value{Kind: ast.ListValue}
		for _, item := range list {
			v, err := c.literal(t.Elem, item)
			if err != nil {
				return nil, err
			}
			out.Children = append(out.Children, &ast.ChildValue{Value: v})
		}
		return out, nil
	}

	var def *ast.Definition
	if t != nil {
		def = c.schema.Types[t.NamedType]
	}
	if def != nil && def.Kind == ast.Enum {
		return &ast.Value{Kind: ast.EnumValue, Raw: fmt.Sprint(value)}, nil
	}

	switch v := value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := &ast.Value{Kind: ast.ObjectValue}
		for _, k := range keys {
			var ft *ast.Type
			if def != nil && def.Kind == ast.InputObject {
				fd := def.Fields.ForName(k)
				if fd == nil {
					return nil, fmt.Errorf("input %s has no field %q", def.Name, k)
				}
				ft = fd.Type
			}
			child, err := c.literal(ft, v[k])
			if err != nil {
				return nil, err
			}
			out.Children = append(out.Children, &ast.ChildValue{Name: k, Value: child})
		}
		return out, nil
	case []any:
		out := &ast.Value{Kind: ast.ListValue}
		for _, item := range v {
			child, err := c.literal(nil, item)
			if err != nil {
				return nil, err
			}
			out.Children = append(out.Children, &ast.ChildValue{Value: child})
		}
		return out, nil
	case string:
		return &ast.Value{Kind: ast.StringValue, Raw: v}, nil
	case bool:
		return &ast.Value{Kind: ast.BooleanValue, Raw: strconv.FormatBool(v)}, nil
	case int:
		return &ast.Value{Kind: ast.IntValue, Raw: strconv.Itoa(v)}, nil
	case int32:
		return &ast.Value{Kind: ast.IntValue, Raw: strconv.FormatInt(int64(v), 10)}, nil
	case int64:
		return &ast.Value{Kind: ast.IntValue, Raw: strconv.FormatInt(v, 10)}, nil
	case float64:
		if v == math.Trunc(v) && (t == nil || t.NamedType != "Float") && math.Abs(v) < 1<<53 {
			return &ast.Value{Kind: ast.IntValue, Raw: strconv.FormatInt(int64(v), 10)}, nil
		}
		return &ast.Value{Kind: ast.FloatValue, Raw: strconv.FormatFloat(v, 'g', -1, 64)}, nil
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return &ast.Value{Kind: ast.IntValue, Raw: strconv.FormatInt(i, 10)}, nil
		}
		return &ast.Value{Kind: ast.FloatValue, Raw: v.String()}, nil
	case fmt.Stringer:
		return &ast.Value{Kind: ast.StringValue, Raw: v.String()}, nil
	}
	return nil, fmt.Errorf("unsupported value %T", value)
}
