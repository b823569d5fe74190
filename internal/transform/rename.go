package transform

import (
	"context"
	"slices"

	"github.com/hanpama/fedgate/internal/blueprint"
	"github.com/hanpama/fedgate/internal/normalized"
	"github.com/hanpama/fedgate/internal/result"
)

// renameState groups the field's object types by the underlying path they read from.
type renameState struct {
	groups []*renameGroup
	// kept are the object types selected under the overall name.
	kept          []string
	discriminator string
}

type renameGroup struct {
	path  normalized.QueryPath
	alias string
	types []string
}

func (s *renameState) group(typeName string) *renameGroup {
	for _, g := range s.groups {
		if slices.Contains(g.types, typeName) {
			return g
		}
	}
	return nil
}

func newRenameState(tag string, field *normalized.Field, target func(typeName string) normalized.QueryPath) (*renameState, bool) {
	s := &renameState{}
	byPath := map[string]*renameGroup{}
	for _, t := range field.ObjectTypeNames {
		path := target(t)
		if path == nil {
			s.kept = append(s.kept, t)
			continue
		}
		key := path.String()
		g := byPath[key]
		if g == nil {
			g = &renameGroup{path: path, alias: makeAlias(tag, field.ResultKey(), path...)}
			byPath[key] = g
			s.groups = append(s.groups, g)
		}
		g.types = append(g.types, t)
	}
	if len(s.groups) == 0 {
		return nil, false
	}
	if field.Parent != nil && (len(s.groups) > 1 || len(s.kept) > 0) {
		s.discriminator = typeNameAlias(tag, field.ResultKey())
	}
	return s, true
}

// rewrite keeps unrenamed types on the field and adds one artificial selection per group.
func (s *renameState) rewrite(ctx context.Context, tc *Context, next Continuation, field *normalized.Field) (*FieldRewrite, error) {
	rw := &FieldRewrite{}
	if kept := intersect(field.ObjectTypeNames, s.kept); len(kept) > 0 {
		nf := field.Clone()
		nf.ObjectTypeNames = kept
		rw.NewField = nf
	}
	for _, g := range s.groups {
		types := intersect(g.types, field.ObjectTypeNames)
		if len(types) == 0 {
			continue
		}
		artificial, err := pathField(tc.Service.Underlying, tc.Service.UnderlyingTypeNames(types), g.path, g.alias, field.Defer,
			func([]string) ([]*normalized.Field, error) {
				if len(field.Children) == 0 {
					return nil, nil
				}
				return next(ctx, field.Children)
			})
		if err != nil {
			return nil, err
		}
		leaf := artificial
		for range g.path[1:] {
			leaf = leaf.Children[0]
		}
		leaf.Arguments = field.Arguments
		rw.ArtificialFields = append(rw.ArtificialFields, artificial)
	}
	if s.discriminator != "" {
		rw.ArtificialFields = append(rw.ArtificialFields,
			newTypeNameField(s.discriminator, tc.Service.UnderlyingTypeNames(field.ObjectTypeNames), field.Defer))
	}
	return rw, nil
}

// instructions moves every renamed value to the overall result key.
func (s *renameState) instructions(tc *Context, field, parent *normalized.Field, data map[string]any) []result.Instruction {
	var out []result.Instruction
	for _, node := range parentNodes(data, parent) {
		obj := node.Value.(map[string]any)
		out = append(out, removeIfPresent(node, s.discriminator)...)

		typeName, known := resolveTypeName(tc, obj, s.discriminator, nil)
		for _, g := range s.groups {
			raw, ok := obj[g.alias]
			if !ok {
				continue
			}
			if known && !slices.Contains(g.types, typeName) {
				continue
			}
			dest := node.Path.Plus(field.ResultKey())
			if len(g.path) == 1 {
				out = append(out, result.Copy{Subject: node.Path.Plus(g.alias), Destination: dest})
			} else {
				out = append(out, result.Set{Path: dest, Value: readPath(raw, g.path[1:])})
			}
			out = append(out, result.Remove{Path: node.Path.Plus(g.alias)})
		}
	}
	return out
}

// Rename selects fields renamed with @renamed(from:) under their underlying name.
type Rename struct{}

func (Rename) Name() string { return "Rename" }

func (Rename) IsApplicable(ctx context.Context, tc *Context, field *normalized.Field) (*renameState, bool, error) {
	s, ok := newRenameState(tagRename, field, func(typeName string) normalized.QueryPath {
		ins := blueprint.InstructionsOf[*blueprint.Rename](tc.Blueprint, typeName, field.Name)
		if len(ins) == 0 {
			return nil
		}
		return normalized.NewQueryPath(ins[0].UnderlyingName)
	})
	return s, ok, nil
}

func (Rename) TransformField(ctx context.Context, tc *Context, next Continuation, field *normalized.Field, state *renameState) (*FieldRewrite, error) {
	return state.rewrite(ctx, tc, next, field)
}

func (Rename) ResultInstructions(ctx context.Context, tc *Context, field, parent *normalized.Field, data map[string]any, state *renameState) ([]result.Instruction, error) {
	return state.instructions(tc, field, parent, data), nil
}

// DeepRename selects fields that live further down the underlying parent and
// lifts their values to the overall position.
type DeepRename struct{}

func (DeepRename) Name() string { return "DeepRename" }

func (DeepRename) IsApplicable(ctx context.Context, tc *Context, field *normalized.Field) (*renameState, bool, error) {
	s, ok := newRenameState(tagDeepRename, field, func(typeName string) normalized.QueryPath {
		ins := blueprint.InstructionsOf[*blueprint.DeepRename](tc.Blueprint, typeName, field.Name)
		if len(ins) == 0 {
			return nil
		}
		return ins[0].QueryPathToField
	})
	return s, ok, nil
}

func (DeepRename) TransformField(ctx context.Context, tc *Context, next Continuation, field *normalized.Field, state *renameState) (*FieldRewrite, error) {
	return state.rewrite(ctx, tc, next, field)
}

func (DeepRename) ResultInstructions(ctx context.Context, tc *Context, field, parent *normalized.Field, data map[string]any, state *renameState) ([]result.Instruction, error) {
	return state.instructions(tc, field, parent, data), nil
}
