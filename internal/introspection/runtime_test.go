package introspection

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/hanpama/fedgate/internal/language"
	"github.com/hanpama/fedgate/internal/schema"
	"github.com/hanpama/fedgate/internal/service"
	"github.com/stretchr/testify/require"
)

const helloSDL = `
type Query { hello(name: String = "world"): String! pets: [Pet] }
interface Pet { name: String }
type Dog implements Pet { name: String }
enum Mood { HAPPY SAD @deprecated(reason: "cheer up") }
`

func execute(t *testing.T, query string, vars map[string]any) *service.Result {
	t.Helper()
	ast, err := language.LoadSchema(&language.Source{Name: "hello.graphql", Input: helloSDL})
	require.NoError(t, err)
	doc, errs := language.LoadQuery(ast, query)
	require.Empty(t, errs)

	svc := NewService(schema.BuildFromAST(ast))
	res, err := svc.Execute(context.Background(), &service.Parameters{Service: ServiceName, Query: doc, Variables: vars})
	require.NoError(t, err)
	require.Empty(t, res.Errors)
	return res
}

func TestIntrospectionSchema(t *testing.T) {
	res := execute(t, `{ __schema { queryType { name kind } mutationType { name } } }`, nil)

	want := map[string]any{
		"__schema": map[string]any{
			"queryType":    map[string]any{"name": "Query", "kind": "OBJECT"},
			"mutationType": nil,
		},
	}
	if diff := cmp.Diff(want, res.Data); diff != "" {
		t.Errorf("introspection mismatch (-want +got):\n%s", diff)
	}
}

func TestIntrospectionType(t *testing.T) {
	res := execute(t, `query ($n: String!) {
  t: __type(name: $n) {
    __typename
    name
    fields { name type { kind name ofType { kind name } } args { name defaultValue } }
    possibleTypes { name }
  }
}`, map[string]any{"n": "Query"})

	want := map[string]any{
		"t": map[string]any{
			"__typename":    "__Type",
			"name":          "Query",
			"possibleTypes": nil,
			"fields": []any{
				map[string]any{
					"name": "hello",
					"type": map[string]any{"kind": "NON_NULL", "name": nil, "ofType": map[string]any{"kind": "SCALAR", "name": "String"}},
					"args": []any{map[string]any{"name": "name", "defaultValue": "world"}},
				},
				map[string]any{
					"name": "pets",
					"type": map[string]any{"kind": "LIST", "name": nil, "ofType": map[string]any{"kind": "INTERFACE", "name": "Pet"}},
					"args": []any{},
				},
			},
		},
	}
	if diff := cmp.Diff(want, res.Data); diff != "" {
		t.Errorf("introspection mismatch (-want +got):\n%s", diff)
	}
}

func TestIntrospectionEnumDeprecation(t *testing.T) {
	res := execute(t, `{
  all: __type(name: "Mood") { enumValues(includeDeprecated: true) { name isDeprecated deprecationReason } }
  live: __type(name: "Mood") { enumValues { name } }
  missing: __type(name: "Nope") { name }
}`, nil)

	want := map[string]any{
		"all": map[string]any{"enumValues": []any{
			map[string]any{"name": "HAPPY", "isDeprecated": false, "deprecationReason": nil},
			map[string]any{"name": "SAD", "isDeprecated": true, "deprecationReason": "cheer up"},
		}},
		"live":    map[string]any{"enumValues": []any{map[string]any{"name": "HAPPY"}}},
		"missing": nil,
	}
	if diff := cmp.Diff(want, res.Data); diff != "" {
		t.Errorf("introspection mismatch (-want +got):\n%s", diff)
	}
}

func TestIntrospectionRejectsOtherFields(t *testing.T) {
	ast, err := language.LoadSchema(&language.Source{Name: "hello.graphql", Input: helloSDL})
	require.NoError(t, err)
	doc, errs := language.LoadQuery(ast, `{ hello }`)
	require.Empty(t, errs)

	res, err := NewService(schema.BuildFromAST(ast)).Execute(context.Background(), &service.Parameters{Query: doc})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"hello": nil}, res.Data)
	require.Len(t, res.Errors, 1)
}

func TestIntrospectionTypeLists(t *testing.T) {
	res := execute(t, `{
  pet: __type(name: "Pet") { possibleTypes { name } interfaces { name } }
  dog: __type(name: "Dog") { possibleTypes { name } interfaces { name } }
  mood: __type(name: "Mood") { interfaces { name } }
}`, nil)

	want := map[string]any{
		"pet":  map[string]any{"possibleTypes": []any{map[string]any{"name": "Dog"}}, "interfaces": []any{}},
		"dog":  map[string]any{"possibleTypes": nil, "interfaces": []any{map[string]any{"name": "Pet"}}},
		"mood": map[string]any{"interfaces": nil},
	}
	if diff := cmp.Diff(want, res.Data); diff != "" {
		t.Errorf("introspection mismatch (-want +got):\n%s", diff)
	}
}
