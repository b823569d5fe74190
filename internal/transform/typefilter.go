package transform

import (
	"context"

	"github.com/hanpama/fedgate/internal/normalized"
	"github.com/hanpama/fedgate/internal/result"
)

type typeFilterState struct {
	owned       []string
	placeholder string
}

// ServiceTypeFilter drops object types the service cannot answer for. Filtered
// branches contribute nothing to the result. When a filtered field would leave
// its parent's selection set empty, the first such field is replaced by a
// __typename placeholder so the selection stays valid.
type ServiceTypeFilter struct{}

func (ServiceTypeFilter) Name() string { return "ServiceTypeFilter" }

func (ServiceTypeFilter) IsApplicable(ctx context.Context, tc *Context, field *normalized.Field) (*typeFilterState, bool, error) {
	var owned []string
	for _, t := range field.ObjectTypeNames {
		if tc.Service.Owns(t) {
			owned = append(owned, t)
		}
	}
	if len(owned) == len(field.ObjectTypeNames) {
		return nil, false, nil
	}
	state := &typeFilterState{owned: owned}
	if len(owned) == 0 && needsPlaceholder(tc, field) {
		state.placeholder = typeNameAlias(tagTypeFilter, field.ResultKey())
	}
	return state, true, nil
}

// needsPlaceholder reports whether field is the first of its siblings and none
// of them keeps a type the service owns. Root selections never need one since
// an empty root skips the call.
func needsPlaceholder(tc *Context, field *normalized.Field) bool {
	if field.Parent == nil {
		return false
	}
	siblings := field.Parent.Children
	if len(siblings) == 0 || siblings[0] != field {
		return false
	}
	for _, s := range siblings {
		if len(s.ObjectTypeNames) == 0 {
			return false
		}
		for _, t := range s.ObjectTypeNames {
			if tc.Service.Owns(t) {
				return false
			}
		}
	}
	return true
}

func (ServiceTypeFilter) TransformField(ctx context.Context, tc *Context, next Continuation, field *normalized.Field, state *typeFilterState) (*FieldRewrite, error) {
	kept := intersect(field.ObjectTypeNames, state.owned)
	if len(kept) == 0 {
		if state.placeholder == "" {
			return &FieldRewrite{}, nil
		}
		return &FieldRewrite{
			ArtificialFields: []*normalized.Field{newTypeNameField(state.placeholder, nil, field.Defer)},
		}, nil
	}
	nf := field.Clone()
	nf.ObjectTypeNames = kept
	return &FieldRewrite{NewField: nf}, nil
}

func (ServiceTypeFilter) ResultInstructions(ctx context.Context, tc *Context, field, parent *normalized.Field, data map[string]any, state *typeFilterState) ([]result.Instruction, error) {
	var out []result.Instruction
	for _, node := range parentNodes(data, parent) {
		out = append(out, removeIfPresent(node, state.placeholder)...)
	}
	return out, nil
}
