// Package merge combines per-field service results into one response.
package merge

import (
	"context"
	"maps"

	"github.com/hanpama/fedgate/internal/jsonnode"
	"github.com/hanpama/fedgate/internal/normalized"
	"github.com/hanpama/fedgate/internal/service"
	"github.com/vektah/gqlparser/v2/ast"
)

// FieldResult is what one task produced for a top-level field.
type FieldResult struct {
	Field   *normalized.Field
	Service string
	// Namespaced is set when the field is a container shared by several services.
	Namespaced bool
	Result     *service.Result
}

// Merge folds results in order. Top-level objects contributed by several results
// are unioned one level deep. Nulls never overwrite values. Missing top-level
// fields become null unless deferred, and non-null violations bubble up to the
// top-level field or to data itself.
func Merge(sch *ast.Schema, kind ast.Operation, fields []*normalized.Field, results []*FieldResult) *service.Result {
	data := map[string]any{}
	var errs []map[string]any
	var extensions map[string]any
	namespaced := map[string]bool{}

	for _, r := range results {
		if r.Namespaced {
			namespaced[r.Field.ResultKey()] = true
		}
		if r.Result == nil {
			continue
		}
		errs = append(errs, r.Result.Errors...)
		if len(r.Result.Extensions) > 0 {
			if extensions == nil {
				extensions = map[string]any{}
			}
			maps.Copy(extensions, r.Result.Extensions)
		}
		for k, v := range r.Result.Data {
			data[k] = mergeValue(data[k], v)
		}
	}

	root := normalized.RootType(sch, kind)
	for _, f := range fields {
		if f.Defer != nil {
			continue
		}
		key := f.ResultKey()
		if _, ok := data[key]; !ok {
			data[key] = nil
		}
		var fd *ast.FieldDefinition
		if root != nil {
			fd = root.Fields.ForName(f.Name)
		}
		if obj, ok := data[key].(map[string]any); ok {
			if namespaced[key] && onlyTypeNames(f, obj) {
				data[key] = nil
			} else if fd != nil && nonNullChildMissing(sch, fd, f, obj) {
				data[key] = nil
			}
		}
		if data[key] == nil && fd != nil && fd.Type.NonNull {
			return &service.Result{Data: nil, Errors: errs, Extensions: extensions}
		}
	}
	return &service.Result{Data: data, Errors: errs, Extensions: extensions}
}

// mergeValue unions two objects one level deep and otherwise prefers non-null.
func mergeValue(existing, incoming any) any {
	if incoming == nil {
		return existing
	}
	a, aok := existing.(map[string]any)
	b, bok := incoming.(map[string]any)
	if !aok || !bok {
		return incoming
	}
	out := maps.Clone(a)
	for k, v := range b {
		if v != nil || out[k] == nil {
			out[k] = v
		}
	}
	return out
}

// onlyTypeNames reports whether a namespace object carries no real data: the
// query asked for something besides __typename and none of it arrived.
func onlyTypeNames(f *normalized.Field, obj map[string]any) bool {
	asked := false
	for _, c := range f.Children {
		if c.IsTypeName() || c.Defer != nil {
			continue
		}
		asked = true
		if _, ok := obj[c.ResultKey()]; ok {
			return false
		}
	}
	return asked
}

func nonNullChildMissing(sch *ast.Schema, fd *ast.FieldDefinition, f *normalized.Field, obj map[string]any) bool {
	def := sch.Types[fd.Type.Name()]
	if def == nil || def.Kind != ast.Object {
		return false
	}
	for _, c := range f.Children {
		if c.Defer != nil || c.IsTypeName() {
			continue
		}
		cd := def.Fields.ForName(c.Name)
		if cd == nil || !cd.Type.NonNull {
			continue
		}
		if obj[c.ResultKey()] == nil {
			return true
		}
	}
	return false
}

// FoldIncremental drains res.Incremental into the initial payload for clients
// that cannot receive incremental delivery.
func FoldIncremental(ctx context.Context, res *service.Result) (*service.Result, error) {
	if res.Incremental == nil {
		return res, nil
	}
	out := &service.Result{
		Data:       res.Data,
		Errors:     res.Errors,
		Extensions: res.Extensions,
	}
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case inc, ok := <-res.Incremental:
			if !ok {
				return out, nil
			}
			Apply(out, inc)
			if !inc.HasNext {
				return out, nil
			}
		}
	}
}

// Apply merges one incremental payload into a result at its path.
func Apply(res *service.Result, inc *service.Incremental) {
	res.Errors = append(res.Errors, inc.Errors...)
	if len(inc.Extensions) > 0 {
		if res.Extensions == nil {
			res.Extensions = map[string]any{}
		}
		maps.Copy(res.Extensions, inc.Extensions)
	}
	if res.Data == nil || inc.Data == nil {
		return
	}
	node, ok := jsonnode.GetNodeAt(res.Data, jsonnode.FromAny(inc.Path))
	if !ok {
		return
	}
	target, ok := node.Value.(map[string]any)
	if !ok {
		return
	}
	for k, v := range inc.Data {
		target[k] = mergeValue(target[k], v)
	}
}
