package transform

import (
	"context"

	"github.com/hanpama/fedgate/internal/blueprint"
	"github.com/hanpama/fedgate/internal/normalized"
	"github.com/hanpama/fedgate/internal/result"
	"github.com/hanpama/fedgate/internal/schema"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

type coerceState struct {
	scalar string
}

// Coerce converts leaf values whose underlying scalar differs from the overall
// builtin scalar. Fields read through a rename or hydration are left alone.
type Coerce struct{}

func (Coerce) Name() string { return "Coerce" }

func (Coerce) IsApplicable(ctx context.Context, tc *Context, field *normalized.Field) (*coerceState, bool, error) {
	if len(field.Children) > 0 || field.IsTypeName() || len(field.ObjectTypeNames) == 0 {
		return nil, false, nil
	}
	fd := tc.Blueprint.Field(field.ObjectTypeNames[0], field.Name)
	if fd == nil || !schema.IsBuiltinScalar(fd.Type.Name()) {
		return nil, false, nil
	}
	overall := fd.Type.Name()

	underlying := map[string]bool{}
	for _, t := range field.ObjectTypeNames {
		if len(tc.Blueprint.FieldInstructions(blueprint.FieldCoordinates{TypeName: t, FieldName: field.Name})) > 0 {
			return nil, false, nil
		}
		ufd := tc.Service.UnderlyingField(t, field.Name)
		if ufd == nil {
			continue
		}
		underlying[ufd.Type.Name()] = true
	}
	if len(underlying) != 1 || underlying[overall] {
		return nil, false, nil
	}
	return &coerceState{scalar: overall}, true, nil
}

func (Coerce) TransformField(ctx context.Context, tc *Context, next Continuation, field *normalized.Field, state *coerceState) (*FieldRewrite, error) {
	return &FieldRewrite{NewField: field}, nil
}

func (Coerce) ResultInstructions(ctx context.Context, tc *Context, field, parent *normalized.Field, data map[string]any, state *coerceState) ([]result.Instruction, error) {
	var out []result.Instruction
	for _, node := range parentNodes(data, parent) {
		obj := node.Value.(map[string]any)
		raw, ok := obj[field.ResultKey()]
		if !ok || raw == nil {
			continue
		}
		path := node.Path.Plus(field.ResultKey())
		value, err := schema.ParseValue(state.scalar, raw)
		if err != nil {
			out = append(out,
				result.Set{Path: path, Value: nil},
				result.AddError{Error: &gqlerror.Error{Message: err.Error(), Path: gqlPath(path)}},
			)
			continue
		}
		out = append(out, result.Set{Path: path, Value: value})
	}
	return out, nil
}
