package language

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildSchemaDeclaresDefer(t *testing.T) {
	sch, err := LoadSchema(&Source{Name: "a.graphql", Input: `type Query { a: String }`})
	require.NoError(t, err)
	require.NotNil(t, sch.Directives["defer"])
	require.NotNil(t, sch.Types["__Schema"])

	doc, errs := LoadQuery(sch, `{ ... @defer(label: "x") { a } }`)
	require.Empty(t, errs)
	require.Len(t, doc.Operations, 1)
}

func TestFormatRoundTrip(t *testing.T) {
	doc, err := ParseQuery(`query Q($v0: Int) { dog(id: $v0) { renamed: name } }`)
	require.NoError(t, err)

	out := Format(doc)
	for _, want := range []string{"query Q", "$v0: Int", "renamed: name"} {
		require.True(t, strings.Contains(out, want), "missing %q in %q", want, out)
	}
	_, err = ParseQuery(out)
	require.NoError(t, err)
}
