package transform

import (
	"fmt"
	"slices"
	"strings"

	"github.com/hanpama/fedgate/internal/jsonnode"
	"github.com/hanpama/fedgate/internal/normalized"
	"github.com/hanpama/fedgate/internal/result"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

// Alias tags. Each transform owns one so artificial keys never collide.
const (
	tagRename         = "rename"
	tagDeepRename     = "deep_rename"
	tagHydration      = "hydration"
	tagBatchHydration = "batch_hydration"
	tagTypeFilter     = "type_filter"
	tagTypeName       = "type_name"
)

// makeAlias builds tag__key__p1__p2. Underscores inside key and parts are
// written as "_1", so "__" only ever separates parts and distinct inputs never
// share an alias.
func makeAlias(tag, resultKey string, parts ...string) string {
	out := tag + aliasSeparator + escapeAliasPart(resultKey)
	for _, p := range parts {
		out += aliasSeparator + escapeAliasPart(p)
	}
	return out
}

func typeNameAlias(tag, resultKey string) string {
	return normalized.TypeNameField + aliasSeparator + tag + aliasSeparator + escapeAliasPart(resultKey)
}

const aliasSeparator = "__"

func escapeAliasPart(s string) string {
	return strings.ReplaceAll(s, "_", "_1")
}

func newTypeNameField(alias string, objectTypes []string, d *normalized.Defer) *normalized.Field {
	return &normalized.Field{
		Name:            normalized.TypeNameField,
		Alias:           alias,
		ObjectTypeNames: slices.Clone(objectTypes),
		Defer:           d,
	}
}

// pathField builds the underlying selection alias: a { b { c } } starting from
// the given underlying object types. leaf supplies the children of the last field
// from its possible types; a composite leaf without children selects __typename.
func pathField(sch *ast.Schema, typeNames []string, path normalized.QueryPath, alias string, d *normalized.Defer, leaf func(types []string) ([]*normalized.Field, error)) (*normalized.Field, error) {
	var top, prev *normalized.Field
	types := typeNames
	for i, segment := range path {
		var owning []string
		var named string
		for _, t := range types {
			def := sch.Types[t]
			if def == nil {
				continue
			}
			if fd := def.Fields.ForName(segment); fd != nil {
				owning = append(owning, t)
				named = fd.Type.Name()
			}
		}
		if len(owning) == 0 {
			return nil, fmt.Errorf("field %q not found on %s", segment, strings.Join(types, ", "))
		}
		f := &normalized.Field{Name: segment, ObjectTypeNames: owning}
		if prev == nil {
			f.Alias = alias
			f.Defer = d
			top = f
		} else {
			prev.Children = []*normalized.Field{f}
		}
		types = normalized.PossibleObjectTypes(sch, named)
		if i == len(path)-1 {
			if leaf != nil {
				children, err := leaf(types)
				if err != nil {
					return nil, err
				}
				f.Children = children
			}
			if len(f.Children) == 0 && isComposite(sch, named) {
				f.Children = []*normalized.Field{newTypeNameField("", types, nil)}
			}
		}
		prev = f
	}
	return top, nil
}

func isComposite(sch *ast.Schema, typeName string) bool {
	def := sch.Types[typeName]
	return def != nil && (def.Kind == ast.Object || def.Kind == ast.Interface || def.Kind == ast.Union)
}

// readPath follows path below value, mapping over lists and stopping at nulls.
func readPath(value any, path normalized.QueryPath) any {
	if len(path) == 0 || value == nil {
		return value
	}
	switch v := value.(type) {
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = readPath(item, path)
		}
		return out
	case map[string]any:
		return readPath(v[path[0]], path[1:])
	}
	return nil
}

// resolveTypeName returns the overall type of a result object, read from the
// discriminator when one was selected or taken from the only candidate.
func resolveTypeName(tc *Context, obj map[string]any, discriminator string, candidates []string) (string, bool) {
	if discriminator != "" {
		if v, ok := obj[discriminator].(string); ok {
			return tc.Service.OverallTypeName(v), true
		}
	}
	if len(candidates) == 1 {
		return candidates[0], true
	}
	return "", false
}

func intersect(a, b []string) []string {
	var out []string
	for _, s := range a {
		if slices.Contains(b, s) {
			out = append(out, s)
		}
	}
	return out
}

func without(a, b []string) []string {
	var out []string
	for _, s := range a {
		if !slices.Contains(b, s) {
			out = append(out, s)
		}
	}
	return out
}

// collectObjects returns the objects in value, descending into lists.
func collectObjects(path jsonnode.Path, value any) []jsonnode.Node {
	switch v := value.(type) {
	case map[string]any:
		return []jsonnode.Node{{Path: path, Value: v}}
	case []any:
		var out []jsonnode.Node
		for i, item := range v {
			out = append(out, collectObjects(path.Plus(i), item)...)
		}
		return out
	}
	return nil
}

// removeIfPresent emits Remove for the keys found on obj.
func removeIfPresent(node jsonnode.Node, keys ...string) []result.Instruction {
	obj, _ := node.Value.(map[string]any)
	var out []result.Instruction
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := obj[k]; ok {
			out = append(out, result.Remove{Path: node.Path.Plus(k)})
		}
	}
	return out
}

func gqlPath(p jsonnode.Path) ast.Path {
	out := make(ast.Path, 0, len(p))
	for _, seg := range p {
		switch s := seg.(type) {
		case string:
			out = append(out, ast.PathName(s))
		case int:
			out = append(out, ast.PathIndex(s))
		}
	}
	return out
}

// errorFromMap converts a raw GraphQL error object.
func errorFromMap(m map[string]any) *gqlerror.Error {
	msg, _ := m["message"].(string)
	err := &gqlerror.Error{Message: msg}
	if raw, ok := m["path"].([]any); ok {
		err.Path = gqlPath(jsonnode.FromAny(raw))
	}
	if ext, ok := m["extensions"].(map[string]any); ok {
		err.Extensions = ext
	}
	return err
}
