package merge

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/hanpama/fedgate/internal/language"
	"github.com/hanpama/fedgate/internal/normalized"
	"github.com/hanpama/fedgate/internal/service"
	"github.com/stretchr/testify/require"
	"github.com/vektah/gqlparser/v2/ast"
)

const storeSDL = `
type Query {
  ns: Namespace
  required: Item!
  optional: Item
  other: String
}
type Namespace { a: Int b: Int strict: Int! }
type Item { id: ID! name: String }
`

func operation(t *testing.T, query string) (*ast.Schema, *normalized.Operation) {
	t.Helper()
	sch, err := language.LoadSchema(&language.Source{Name: "store.graphql", Input: storeSDL})
	require.NoError(t, err)
	doc, errs := language.LoadQuery(sch, query)
	require.Empty(t, errs)
	op, err := normalized.Normalize(sch, doc, "", nil)
	require.NoError(t, err)
	return sch, op
}

func fieldResult(op *normalized.Operation, key, svc string, namespaced bool, res *service.Result) *FieldResult {
	for _, f := range op.Fields {
		if f.ResultKey() == key {
			return &FieldResult{Field: f, Service: svc, Namespaced: namespaced, Result: res}
		}
	}
	return nil
}

func TestMergeNamespacedParent(t *testing.T) {
	sch, op := operation(t, `{ ns { a b } }`)
	got := Merge(sch, op.Kind, op.Fields, []*FieldResult{
		fieldResult(op, "ns", "A", true, &service.Result{
			Data:       map[string]any{"ns": map[string]any{"a": 1}},
			Extensions: map[string]any{"cost": 1},
		}),
		fieldResult(op, "ns", "B", true, &service.Result{
			Data:       map[string]any{"ns": map[string]any{"b": 2}},
			Errors:     []map[string]any{{"message": "partial"}},
			Extensions: map[string]any{"trace": "x"},
		}),
	})

	want := &service.Result{
		Data:       map[string]any{"ns": map[string]any{"a": 1, "b": 2}},
		Errors:     []map[string]any{{"message": "partial"}},
		Extensions: map[string]any{"cost": 1, "trace": "x"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("merged result mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeNullDoesNotOverwrite(t *testing.T) {
	sch, op := operation(t, `{ ns { a b } }`)
	got := Merge(sch, op.Kind, op.Fields, []*FieldResult{
		fieldResult(op, "ns", "A", true, &service.Result{Data: map[string]any{"ns": map[string]any{"a": 1, "b": nil}}}),
		fieldResult(op, "ns", "B", true, &service.Result{Data: map[string]any{"ns": map[string]any{"b": 2}}}),
		fieldResult(op, "ns", "C", true, &service.Result{Data: map[string]any{"ns": nil}}),
	})
	require.Equal(t, map[string]any{"ns": map[string]any{"a": 1, "b": 2}}, got.Data)
}

func TestMergeNullsTypeNameOnlyNamespace(t *testing.T) {
	sch, op := operation(t, `{ ns { __typename a } }`)
	got := Merge(sch, op.Kind, op.Fields, []*FieldResult{
		fieldResult(op, "ns", "A", true, &service.Result{Data: map[string]any{"ns": map[string]any{"__typename": "Namespace"}}}),
	})
	require.Equal(t, map[string]any{"ns": nil}, got.Data)
}

func TestMergeNullBubbling(t *testing.T) {
	t.Run("nullable top-level field", func(t *testing.T) {
		sch, op := operation(t, `{ optional { id } other }`)
		got := Merge(sch, op.Kind, op.Fields, []*FieldResult{
			fieldResult(op, "other", "A", false, &service.Result{Data: map[string]any{"other": "kept"}}),
		})
		require.Equal(t, map[string]any{"optional": nil, "other": "kept"}, got.Data)
	})

	t.Run("non-null top-level field", func(t *testing.T) {
		sch, op := operation(t, `{ required { id } other }`)
		got := Merge(sch, op.Kind, op.Fields, []*FieldResult{
			fieldResult(op, "required", "A", false, &service.Result{
				Data:   map[string]any{"required": nil},
				Errors: []map[string]any{{"message": "boom"}},
			}),
			fieldResult(op, "other", "B", false, &service.Result{Data: map[string]any{"other": "kept"}}),
		})
		require.Nil(t, got.Data)
		require.Equal(t, []map[string]any{{"message": "boom"}}, got.Errors)
	})

	t.Run("non-null child nulls the parent", func(t *testing.T) {
		sch, op := operation(t, `{ ns { a strict } }`)
		got := Merge(sch, op.Kind, op.Fields, []*FieldResult{
			fieldResult(op, "ns", "A", true, &service.Result{Data: map[string]any{"ns": map[string]any{"a": 1, "strict": nil}}}),
		})
		require.Equal(t, map[string]any{"ns": nil}, got.Data)
	})
}

func TestMergeSkipsDeferredFields(t *testing.T) {
	sch, op := operation(t, `{ other ... @defer(label: "late") { optional { id } } }`)
	got := Merge(sch, op.Kind, op.Fields, []*FieldResult{
		fieldResult(op, "other", "A", false, &service.Result{Data: map[string]any{"other": "now"}}),
	})
	require.Equal(t, map[string]any{"other": "now"}, got.Data)
}

func TestFoldIncremental(t *testing.T) {
	ch := make(chan *service.Incremental, 2)
	ch <- &service.Incremental{
		Path:    []any{"ns"},
		Data:    map[string]any{"b": 2},
		HasNext: true,
	}
	ch <- &service.Incremental{
		Path:    []any{},
		Label:   "late",
		Data:    map[string]any{"other": "later"},
		Errors:  []map[string]any{{"message": "slow"}},
		HasNext: false,
	}
	close(ch)

	got, err := FoldIncremental(context.Background(), &service.Result{
		Data:        map[string]any{"ns": map[string]any{"a": 1}},
		Incremental: ch,
	})
	require.NoError(t, err)

	want := &service.Result{
		Data:   map[string]any{"ns": map[string]any{"a": 1, "b": 2}, "other": "later"},
		Errors: []map[string]any{{"message": "slow"}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("folded result mismatch (-want +got):\n%s", diff)
	}
}
