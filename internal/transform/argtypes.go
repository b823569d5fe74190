package transform

import (
	"context"

	"github.com/hanpama/fedgate/internal/blueprint"
	"github.com/hanpama/fedgate/internal/normalized"
	"github.com/hanpama/fedgate/internal/result"
	"github.com/vektah/gqlparser/v2/ast"
)

type argumentTypesState struct {
	names []string
}

// RenameArgumentInputTypes rewrites the declared types of argument values to the
// names the service uses, so variable definitions reference underlying types.
type RenameArgumentInputTypes struct{}

func (RenameArgumentInputTypes) Name() string { return "RenameArgumentInputTypes" }

func (RenameArgumentInputTypes) IsApplicable(ctx context.Context, tc *Context, field *normalized.Field) (*argumentTypesState, bool, error) {
	var names []string
	for name, v := range field.Arguments {
		if v != nil && v.Type != nil && tc.Service.UnderlyingTypeName(v.Type.Name()) != v.Type.Name() {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil, false, nil
	}
	return &argumentTypesState{names: names}, true, nil
}

func (RenameArgumentInputTypes) TransformField(ctx context.Context, tc *Context, next Continuation, field *normalized.Field, state *argumentTypesState) (*FieldRewrite, error) {
	nf := field.Clone()
	for _, name := range state.names {
		v := nf.Arguments[name]
		nf.Arguments[name] = &normalized.Value{Type: renameType(tc.Service, v.Type), Value: v.Value}
	}
	return &FieldRewrite{NewField: nf}, nil
}

func (RenameArgumentInputTypes) ResultInstructions(ctx context.Context, tc *Context, field, parent *normalized.Field, data map[string]any, state *argumentTypesState) ([]result.Instruction, error) {
	return nil, nil
}

func renameType(svc *blueprint.Service, t *ast.Type) *ast.Type {
	if t == nil {
		return nil
	}
	out := &ast.Type{NonNull: t.NonNull, Position: t.Position}
	if t.Elem != nil {
		out.Elem = renameType(svc, t.Elem)
	} else {
		out.NamedType = svc.UnderlyingTypeName(t.NamedType)
	}
	return out
}
