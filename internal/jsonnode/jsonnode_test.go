package jsonnode

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/hanpama/fedgate/internal/normalized"
	"github.com/stretchr/testify/require"
)

func TestGetNodesAtFlattensLists(t *testing.T) {
	data := map[string]any{
		"dogs": []any{
			map[string]any{"owner": map[string]any{"name": "a"}},
			map[string]any{"owner": nil},
			map[string]any{"owner": []any{
				map[string]any{"name": "b"},
				map[string]any{"name": "c"},
			}},
		},
	}

	got := GetNodesAt(data, normalized.NewQueryPath("dogs", "owner"), true)
	want := []Node{
		{Path: Path{"dogs", 0, "owner"}, Value: map[string]any{"name": "a"}},
		{Path: Path{"dogs", 1, "owner"}, Value: nil},
		{Path: Path{"dogs", 2, "owner", 0}, Value: map[string]any{"name": "b"}},
		{Path: Path{"dogs", 2, "owner", 1}, Value: map[string]any{"name": "c"}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("nodes mismatch (-want +got):\n%s", diff)
	}

	names := GetNodesAt(data, normalized.NewQueryPath("dogs", "owner", "name"), true)
	require.Len(t, names, 3)
	require.Equal(t, Path{"dogs", 2, "owner", 1, "name"}, names[2].Path)
	require.Equal(t, "c", names[2].Value)
}

func TestGetNodesAtWithoutFlatten(t *testing.T) {
	data := map[string]any{"dogs": []any{map[string]any{"name": "x"}}}
	require.Empty(t, GetNodesAt(data, normalized.NewQueryPath("dogs", "name"), false))

	got := GetNodesAt(data, normalized.NewQueryPath("dogs"), false)
	require.Len(t, got, 1)
	require.Equal(t, Path{"dogs"}, got[0].Path)
}

func TestGetNodesAtMissing(t *testing.T) {
	data := map[string]any{"dog": map[string]any{"name": "x"}}
	require.Empty(t, GetNodesAt(data, normalized.NewQueryPath("cat"), true))
	require.Empty(t, GetNodesAt(data, normalized.NewQueryPath("dog", "name", "first"), true))

	root := GetNodesAt(data, nil, true)
	require.Len(t, root, 1)
	require.Empty(t, root[0].Path)
}

func TestGetNodesAtRoundTrip(t *testing.T) {
	paths := []normalized.QueryPath{
		normalized.NewQueryPath("a"),
		normalized.NewQueryPath("a", "b", "c"),
		normalized.NewQueryPath("x", "y"),
	}
	for _, p := range paths {
		var tree any = "leaf"
		for i := len(p) - 1; i >= 0; i-- {
			tree = map[string]any{p[i]: tree}
		}
		nodes := GetNodesAt(tree, p, true)
		require.Len(t, nodes, 1, p.String())
		require.Equal(t, "leaf", nodes[0].Value)
		require.Len(t, nodes[0].Path, len(p))
	}
}

func TestGetNodeAt(t *testing.T) {
	data := map[string]any{"dogs": []any{map[string]any{"name": "x"}}}

	n, ok := GetNodeAt(data, Path{"dogs", 0, "name"})
	require.True(t, ok)
	require.Equal(t, "x", n.Value)

	_, ok = GetNodeAt(data, Path{"dogs", 3})
	require.False(t, ok)
	_, ok = GetNodeAt(data, Path{"dogs", "name"})
	require.False(t, ok)

	require.Equal(t, Path{"a", 1, "b"}, FromAny([]any{"a", float64(1), "b"}))
	require.Equal(t, "a/1/b", Path{"a", 1, "b"}.String())
}
