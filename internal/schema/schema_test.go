package schema

import (
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/hanpama/fedgate/internal/language"
	"github.com/stretchr/testify/require"
)

const zooSDL = `
schema { query: Root }
"Entry point"
type Root {
  animal(id: ID!): Animal
  search(term: String = "dog"): [SearchResult!]!
  animals(size: Size = LARGE, filter: Filter = {size: SMALL, sizes: [LARGE]}): [Animal]
}
interface Animal { id: ID! name: String }
type Dog implements Animal { id: ID! name: String barks: Boolean @deprecated(reason: "quiet now") }
type Cat implements Animal { id: ID! name: String }
union SearchResult = Dog | Cat
enum Size { SMALL LARGE }
input Filter { size: Size = SMALL sizes: [Size!] = [SMALL, LARGE] }
scalar JSON
directive @internal on FIELD_DEFINITION
`

func buildZoo(t *testing.T) *Schema {
	t.Helper()
	sch, err := language.LoadSchema(&language.Source{Name: "zoo.graphql", Input: zooSDL})
	require.NoError(t, err)
	return BuildFromAST(sch, "internal")
}

func TestBuildFromAST(t *testing.T) {
	s := buildZoo(t)

	require.Equal(t, "Root", s.QueryType)
	require.Empty(t, s.MutationType)
	require.Nil(t, s.Types["__Schema"])
	require.Nil(t, s.Directives["internal"])
	require.NotNil(t, s.Directives["defer"])

	animal := s.Types["Animal"]
	require.True(t, animal.IsAbstract())
	require.Equal(t, []string{"Cat", "Dog"}, animal.PossibleTypes)

	barks := s.Types["Dog"].Field("barks")
	require.True(t, barks.IsDeprecated)
	require.Equal(t, "quiet now", barks.DeprecationReason)

	search := s.Types["Root"].Field("search")
	require.True(t, IsNonNull(search.Type))
	require.True(t, IsList(search.Type))
	require.Equal(t, "SearchResult", GetNamedType(search.Type))
	require.Equal(t, "dog", search.Arguments[0].DefaultValue)
}

func TestRender(t *testing.T) {
	out := Render(buildZoo(t))

	for _, want := range []string{
		"schema {\n  query: Root\n}",
		"type Dog implements Animal {",
		`barks: Boolean @deprecated(reason: "quiet now")`,
		"union SearchResult = Cat | Dog",
		`search(term: String = "dog"): [SearchResult!]!`,
		"input Filter {\n  size: Size = SMALL\n  sizes: [Size!] = [SMALL, LARGE]\n}",
		"animals(size: Size = LARGE, filter: Filter = {size: SMALL, sizes: [LARGE]}): [Animal]",
		"scalar JSON",
	} {
		require.True(t, strings.Contains(out, want), "missing %q in:\n%s", want, out)
	}
	require.False(t, strings.Contains(out, "scalar String"))
	require.False(t, strings.Contains(out, "directive @skip"))
}

func TestParseValue(t *testing.T) {
	cases := []struct {
		scalar string
		in     any
		want   any
	}{
		{"Int", "10", 10},
		{"Int", float64(3), 3},
		{"Float", "1.5", 1.5},
		{"String", 10, "10"},
		{"String", float64(2.5), "2.5"},
		{"Boolean", "true", true},
		{"ID", float64(42), "42"},
		{"JSON", map[string]any{"a": 1}, map[string]any{"a": 1}},
		{"Int", []any{"1", "2"}, []any{1, 2}},
		{"Int", nil, nil},
	}
	for _, c := range cases {
		got, err := ParseValue(c.scalar, c.in)
		require.NoError(t, err, "%s %v", c.scalar, c.in)
		if diff := cmp.Diff(c.want, got); diff != "" {
			t.Errorf("ParseValue(%s, %v) mismatch (-want +got):\n%s", c.scalar, c.in, diff)
		}
	}

	_, err := ParseValue("Int", "ten")
	require.Error(t, err)
	_, err = ParseValue("Int", 1.5)
	require.Error(t, err)
}

func TestParseValueIntRange(t *testing.T) {
	for _, in := range []any{
		int64(math.MaxInt32) + 1,
		int64(math.MinInt32) - 1,
		math.MaxInt32 + 1,
		"2147483648",
		"-2147483649",
		float64(1 << 40),
		float32(1 << 40),
	} {
		_, err := ParseValue("Int", in)
		require.Error(t, err, "%v (%T)", in, in)
	}

	got, err := ParseValue("Int", int64(math.MaxInt32))
	require.NoError(t, err)
	require.Equal(t, math.MaxInt32, got)
	got, err = ParseValue("Int", "-2147483648")
	require.NoError(t, err)
	require.Equal(t, math.MinInt32, got)
}
