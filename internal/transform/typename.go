package transform

import (
	"context"

	"github.com/hanpama/fedgate/internal/normalized"
	"github.com/hanpama/fedgate/internal/result"
	"github.com/vektah/gqlparser/v2/ast"
)

// TypeRename translates __typename values of renamed types back to overall names.
type TypeRename struct{}

func (TypeRename) Name() string { return "TypeRename" }

func (TypeRename) IsApplicable(ctx context.Context, tc *Context, field *normalized.Field) (struct{}, bool, error) {
	return struct{}{}, field.IsTypeName() && tc.Service.HasTypeRenames(field.ObjectTypeNames), nil
}

func (TypeRename) TransformField(ctx context.Context, tc *Context, next Continuation, field *normalized.Field, state struct{}) (*FieldRewrite, error) {
	return &FieldRewrite{NewField: field}, nil
}

func (TypeRename) ResultInstructions(ctx context.Context, tc *Context, field, parent *normalized.Field, data map[string]any, state struct{}) ([]result.Instruction, error) {
	var out []result.Instruction
	for _, node := range parentNodes(data, parent) {
		obj := node.Value.(map[string]any)
		name, ok := obj[field.ResultKey()].(string)
		if !ok {
			continue
		}
		if overall := tc.Service.OverallTypeName(name); overall != name {
			out = append(out, result.Set{Path: node.Path.Plus(field.ResultKey()), Value: overall})
		}
	}
	return out, nil
}

// AddTypeName selects __typename under every field of abstract type so the
// concrete type of each result object is known.
type AddTypeName struct{}

func (AddTypeName) Name() string { return "AddTypeName" }

// IsApplicable returns the alias of the added selection.
func (AddTypeName) IsApplicable(ctx context.Context, tc *Context, field *normalized.Field) (string, bool, error) {
	if len(field.Children) == 0 || len(field.ObjectTypeNames) == 0 {
		return "", false, nil
	}
	fd := tc.Blueprint.Field(field.ObjectTypeNames[0], field.Name)
	if fd == nil {
		return "", false, nil
	}
	def := tc.Blueprint.Schema.Types[fd.Type.Name()]
	if def == nil || (def.Kind != ast.Interface && def.Kind != ast.Union) {
		return "", false, nil
	}
	return typeNameAlias(tagTypeName, field.ResultKey()), true, nil
}

func (AddTypeName) TransformField(ctx context.Context, tc *Context, next Continuation, field *normalized.Field, alias string) (*FieldRewrite, error) {
	fd := tc.Blueprint.Field(field.ObjectTypeNames[0], field.Name)
	var types []string
	for _, t := range normalized.PossibleObjectTypes(tc.Blueprint.Schema, fd.Type.Name()) {
		if tc.Service.Owns(t) {
			types = append(types, tc.Service.UnderlyingTypeName(t))
		}
	}
	return &FieldRewrite{
		NewField:           field,
		ArtificialChildren: []*normalized.Field{newTypeNameField(alias, types, nil)},
	}, nil
}

func (AddTypeName) ResultInstructions(ctx context.Context, tc *Context, field, parent *normalized.Field, data map[string]any, alias string) ([]result.Instruction, error) {
	var out []result.Instruction
	for _, node := range parentNodes(data, parent) {
		obj := node.Value.(map[string]any)
		value, ok := obj[field.ResultKey()]
		if !ok {
			continue
		}
		for _, child := range collectObjects(node.Path.Plus(field.ResultKey()), value) {
			out = append(out, removeIfPresent(child, alias)...)
		}
	}
	return out, nil
}
