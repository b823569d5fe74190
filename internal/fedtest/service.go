package fedtest

import (
	"context"
	"sync"

	"github.com/hanpama/fedgate/internal/normalized"
	"github.com/hanpama/fedgate/internal/service"
	"github.com/vektah/gqlparser/v2/ast"
)

// Resolver answers one root field.
type Resolver func(args map[string]any) any

// Service executes compiled documents against in-memory objects. Objects carry
// their underlying type in "__typename" so inline fragments can be matched.
// Deferred fragments are answered inline.
type Service struct {
	Root map[string]Resolver
	// Err fails every call when set.
	Err error

	mu    sync.Mutex
	calls []*service.Parameters
}

func (s *Service) Execute(ctx context.Context, params *service.Parameters) (*service.Result, error) {
	s.mu.Lock()
	s.calls = append(s.calls, params)
	s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	op, err := normalized.SelectOperation(params.Query, params.OperationName)
	if err != nil {
		return nil, err
	}
	data := map[string]any{}
	for _, f := range fieldsOf(op.SelectionSet) {
		key := resultKey(f)
		resolve, ok := s.Root[f.Name]
		if !ok {
			data[key] = nil
			continue
		}
		args := map[string]any{}
		for _, arg := range f.Arguments {
			v, err := arg.Value.Value(params.Variables)
			if err != nil {
				return nil, err
			}
			args[arg.Name] = v
		}
		data[key] = complete(resolve(args), f.SelectionSet)
	}
	return &service.Result{Data: data}, nil
}

// Calls returns the parameters received so far.
func (s *Service) Calls() []*service.Parameters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*service.Parameters(nil), s.calls...)
}

func fieldsOf(set ast.SelectionSet) []*ast.Field {
	var out []*ast.Field
	for _, sel := range set {
		switch s := sel.(type) {
		case *ast.Field:
			out = append(out, s)
		case *ast.InlineFragment:
			out = append(out, fieldsOf(s.SelectionSet)...)
		}
	}
	return out
}

func resultKey(f *ast.Field) string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.Name
}

func complete(v any, set ast.SelectionSet) any {
	switch x := v.(type) {
	case map[string]any:
		if len(set) == 0 {
			return x
		}
		return object(x, set)
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = complete(item, set)
		}
		return out
	default:
		return v
	}
}

func object(obj map[string]any, set ast.SelectionSet) map[string]any {
	out := map[string]any{}
	for _, sel := range set {
		switch s := sel.(type) {
		case *ast.Field:
			key := resultKey(s)
			var v any
			if s.Name == normalized.TypeNameField {
				v = obj[normalized.TypeNameField]
			} else {
				v = complete(obj[s.Name], s.SelectionSet)
			}
			out[key] = mergeObjects(out[key], v)
		case *ast.InlineFragment:
			if t, ok := obj[normalized.TypeNameField]; ok && s.TypeCondition != "" && t != s.TypeCondition {
				continue
			}
			for k, v := range object(obj, s.SelectionSet) {
				out[k] = mergeObjects(out[k], v)
			}
		}
	}
	return out
}

func mergeObjects(existing, incoming any) any {
	a, aok := existing.(map[string]any)
	b, bok := incoming.(map[string]any)
	if !aok || !bok {
		return incoming
	}
	for k, v := range b {
		a[k] = mergeObjects(a[k], v)
	}
	return a
}
