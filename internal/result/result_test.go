package result

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/hanpama/fedgate/internal/jsonnode"
	"github.com/stretchr/testify/require"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

func TestApplyRenameShape(t *testing.T) {
	data := map[string]any{
		"dog": map[string]any{"rename__age__years": float64(10)},
	}
	errs := Apply(data, []Instruction{
		Remove{Path: jsonnode.Path{"dog", "rename__age__years"}},
		Copy{Subject: jsonnode.Path{"dog", "rename__age__years"}, Destination: jsonnode.Path{"dog", "age"}},
	})
	require.Empty(t, errs)

	want := map[string]any{"dog": map[string]any{"age": float64(10)}}
	if diff := cmp.Diff(want, data); diff != "" {
		t.Fatalf("data mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyOrderIndependent(t *testing.T) {
	build := func() map[string]any {
		return map[string]any{
			"a": map[string]any{"x": "one", "y": "two"},
		}
	}
	ins := []Instruction{
		Copy{Subject: jsonnode.Path{"a", "x"}, Destination: jsonnode.Path{"a", "y"}},
		Copy{Subject: jsonnode.Path{"a", "y"}, Destination: jsonnode.Path{"a", "x"}},
		Set{Path: jsonnode.Path{"a", "z"}, Value: true},
	}
	reversed := []Instruction{ins[2], ins[1], ins[0]}

	first, second := build(), build()
	Apply(first, ins)
	Apply(second, reversed)

	want := map[string]any{"a": map[string]any{"x": "two", "y": "one", "z": true}}
	if diff := cmp.Diff(want, first); diff != "" {
		t.Fatalf("forward mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, second); diff != "" {
		t.Fatalf("reverse mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyMissingAndLists(t *testing.T) {
	data := map[string]any{
		"dogs": []any{"a", "b"},
		"cat":  nil,
	}
	errs := Apply(data, []Instruction{
		Copy{Subject: jsonnode.Path{"nothing"}, Destination: jsonnode.Path{"copied"}},
		Set{Path: jsonnode.Path{"dogs", 1}, Value: "c"},
		Set{Path: jsonnode.Path{"cat", "name"}, Value: "ignored"},
		Remove{Path: jsonnode.Path{"absent", "key"}},
		AddError{Error: gqlerror.Errorf("boom")},
	})
	require.Len(t, errs, 1)
	require.Equal(t, "boom", errs[0].Message)

	want := map[string]any{
		"dogs":   []any{"a", "c"},
		"cat":    nil,
		"copied": nil,
	}
	if diff := cmp.Diff(want, data); diff != "" {
		t.Fatalf("data mismatch (-want +got):\n%s", diff)
	}
}
